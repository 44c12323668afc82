package e2e

import (
	"testing"
	"time"
)

// runOnAllConfigs is a helper that runs a test on all configurations.
// S3 configurations run only when Localstack answers; Redis configurations
// only when DITTODROP_TEST_REDIS_ADDR is set.
func runOnAllConfigs(t *testing.T, testFunc func(t *testing.T, tc *TestContext), opts ...Option) {
	t.Helper()

	configs := AllConfigurations()
	configs = append(configs, RedisConfigurations()...)

	if !testing.Short() && CheckLocalstackAvailable(t) {
		helper := NewLocalstackHelper(t)
		t.Cleanup(helper.Cleanup)
		for _, config := range S3Configurations() {
			SetupS3Config(t, config, helper)
			configs = append(configs, config)
		}
	}

	for _, config := range configs {
		t.Run(config.Name, func(t *testing.T) {
			tc := NewTestContext(t, config, opts...)
			defer tc.Cleanup()

			testFunc(t, tc)
		})
	}
}

// eventually polls cond until it holds or timeout elapses.
func eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}
