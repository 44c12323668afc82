package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// Validation accepts both uppercase and lowercase log levels; normalization
// happens in ApplyDefaults.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if !cfg.Adapters.HTTP.Enabled {
		return fmt.Errorf("adapters: at least one adapter must be enabled")
	}

	if cfg.Server.Metrics.Enabled && cfg.Server.Metrics.Port == cfg.Adapters.HTTP.Port {
		return fmt.Errorf("server.metrics.port: %d is already used by the HTTP adapter", cfg.Server.Metrics.Port)
	}

	if cfg.Eviction.ResubscribeMaxBackoff < cfg.Eviction.ResubscribeMinBackoff {
		return fmt.Errorf("eviction: resubscribe_max_backoff (%v) is below resubscribe_min_backoff (%v)",
			cfg.Eviction.ResubscribeMaxBackoff, cfg.Eviction.ResubscribeMinBackoff)
	}

	if cfg.GC.Enabled && cfg.GC.Interval < cfg.GC.Timeout {
		return fmt.Errorf("gc: interval (%v) must not be shorter than timeout (%v)", cfg.GC.Interval, cfg.GC.Timeout)
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
