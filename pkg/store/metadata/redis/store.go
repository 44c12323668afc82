// Package redis implements the metadata store on Redis.
//
// Records are stored as JSON strings under <key_prefix><id>. Liveness keys
// are stored under <key_prefix><id>:exp with the sentinel value and a native
// Redis TTL. Expiry and deletion events come from Redis keyspace
// notifications on the __keyevent@<db>__:expired and __keyevent@<db>__:del
// channels of the configured database.
//
// Force-expiring a liveness key sets its expiry to a timestamp in the past.
// Redis removes such a key immediately and reports it on the del channel,
// not the expired one; both kinds lead to the same cleanup.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/dittodrop/internal/logger"
	"github.com/marmos91/dittodrop/pkg/store/metadata"
	"github.com/redis/go-redis/v9"
)

const (
	defaultNotifyEvents = "Exg"
	scanBatch           = 512
	pingTimeout         = 5 * time.Second
)

// RedisMetadataStore implements metadata.Store using Redis.
//
// Thread Safety:
// The go-redis client is safe for concurrent use. Conditional updates use
// SET XX so they are atomic on the server.
type RedisMetadataStore struct {
	client    *redis.Client
	db        int
	keyPrefix string

	configureNotifications bool
	notifyEvents           string
}

// RedisMetadataStoreConfig contains configuration for the Redis store.
type RedisMetadataStoreConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string `mapstructure:"addr"`

	// Password for AUTH. Empty disables authentication.
	Password string `mapstructure:"password"`

	// DB is the logical database. Notifications are scoped to it.
	DB int `mapstructure:"db"`

	// KeyPrefix namespaces every key written by the store.
	// With an empty prefix the store assumes it owns the whole database.
	KeyPrefix string `mapstructure:"key_prefix"`

	// ConfigureNotifications runs CONFIG SET notify-keyspace-events on every
	// subscribe. Disable it for managed Redis where CONFIG is not allowed and
	// notifications are configured out of band.
	ConfigureNotifications bool `mapstructure:"configure_notifications"`

	// NotifyKeyspaceEvents is the value written by CONFIG SET (default "Exg":
	// keyevent channel, expired and generic events).
	NotifyKeyspaceEvents string `mapstructure:"notify_keyspace_events"`

	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// NewRedisMetadataStore connects to Redis and verifies the connection.
//
// Parameters:
//   - ctx: Context for the initial PING
//   - config: Connection and namespace settings
//
// Returns:
//   - *RedisMetadataStore: Connected store
//   - error: If the address is empty or Redis is unreachable
func NewRedisMetadataStore(ctx context.Context, config RedisMetadataStoreConfig) (*RedisMetadataStore, error) {
	if config.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	opts := &redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
	}
	if config.DialTimeout > 0 {
		opts.DialTimeout = config.DialTimeout
	}
	if config.ReadTimeout > 0 {
		opts.ReadTimeout = config.ReadTimeout
	}
	if config.WriteTimeout > 0 {
		opts.WriteTimeout = config.WriteTimeout
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", config.Addr, err)
	}

	return NewRedisMetadataStoreFromClient(client, config), nil
}

// NewRedisMetadataStoreFromClient wraps an existing client. The client's
// database must match config.DB so notifications are read from the right
// channels.
func NewRedisMetadataStoreFromClient(client *redis.Client, config RedisMetadataStoreConfig) *RedisMetadataStore {
	events := config.NotifyKeyspaceEvents
	if events == "" {
		events = defaultNotifyEvents
	}
	return &RedisMetadataStore{
		client:                 client,
		db:                     config.DB,
		keyPrefix:              config.KeyPrefix,
		configureNotifications: config.ConfigureNotifications,
		notifyEvents:           events,
	}
}

func (s *RedisMetadataStore) recordKey(id string) string {
	return s.keyPrefix + id
}

func (s *RedisMetadataStore) livenessKey(id string) string {
	return s.keyPrefix + metadata.LivenessKey(id)
}

// ============================================================================
// Records
// ============================================================================

func (s *RedisMetadataStore) GetRecord(ctx context.Context, id string) (*metadata.FileRecord, error) {
	data, err := s.client.Get(ctx, s.recordKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("record %s: %w", id, metadata.ErrRecordNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s: %w", id, err)
	}

	var rec metadata.FileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode record %s: %w", id, err)
	}
	return &rec, nil
}

func (s *RedisMetadataStore) PutRecord(ctx context.Context, rec *metadata.FileRecord) error {
	if err := metadata.ValidateID(rec.ID); err != nil {
		return err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record %s: %w", rec.ID, err)
	}
	if err := s.client.Set(ctx, s.recordKey(rec.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to put record %s: %w", rec.ID, err)
	}
	return nil
}

func (s *RedisMetadataStore) UpdateRecord(ctx context.Context, rec *metadata.FileRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record %s: %w", rec.ID, err)
	}

	ok, err := s.client.SetXX(ctx, s.recordKey(rec.ID), data, 0).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to update record %s: %w", rec.ID, err)
	}
	if !ok {
		return fmt.Errorf("record %s: %w", rec.ID, metadata.ErrRecordNotFound)
	}
	return nil
}

func (s *RedisMetadataStore) DeleteRecord(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.recordKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete record %s: %w", id, err)
	}
	return nil
}

// ListRecordIDs scans the database for record keys under the prefix.
func (s *RedisMetadataStore) ListRecordIDs(ctx context.Context) ([]string, error) {
	var ids []string
	iter := s.client.Scan(ctx, 0, s.keyPrefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		key := strings.TrimPrefix(iter.Val(), s.keyPrefix)
		if _, isLiveness := metadata.IDFromLivenessKey(key); isLiveness || key == "" {
			continue
		}
		ids = append(ids, key)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan records: %w", err)
	}
	return ids, nil
}

// ============================================================================
// Liveness keys
// ============================================================================

func (s *RedisMetadataStore) ArmLiveness(ctx context.Context, id string, ttl time.Duration) error {
	if err := metadata.ValidateID(id); err != nil {
		return err
	}
	if ttl <= 0 {
		return fmt.Errorf("liveness ttl must be positive, got %s", ttl)
	}

	if err := s.client.Set(ctx, s.livenessKey(id), metadata.LivenessValue, ttl).Err(); err != nil {
		return fmt.Errorf("failed to arm liveness for %s: %w", id, err)
	}
	return nil
}

// ExpireLiveness sets the key's expiry to the Unix epoch plus one second.
// Redis deletes it at once and emits a del event.
func (s *RedisMetadataStore) ExpireLiveness(ctx context.Context, id string) error {
	if err := s.client.ExpireAt(ctx, s.livenessKey(id), time.Unix(1, 0)).Err(); err != nil {
		return fmt.Errorf("failed to expire liveness for %s: %w", id, err)
	}
	return nil
}

func (s *RedisMetadataStore) DeleteLiveness(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.livenessKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete liveness for %s: %w", id, err)
	}
	return nil
}

func (s *RedisMetadataStore) LivenessExists(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Exists(ctx, s.livenessKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check liveness for %s: %w", id, err)
	}
	return n > 0, nil
}

// ============================================================================
// Notifications
// ============================================================================

func (s *RedisMetadataStore) expiredChannel() string {
	return fmt.Sprintf("__keyevent@%d__:expired", s.db)
}

func (s *RedisMetadataStore) deletedChannel() string {
	return fmt.Sprintf("__keyevent@%d__:del", s.db)
}

// Subscribe enables keyspace notifications if configured and subscribes to
// the expired and del channels of the store's database.
func (s *RedisMetadataStore) Subscribe(ctx context.Context) (metadata.Subscription, error) {
	if s.configureNotifications {
		if err := s.client.ConfigSet(ctx, "notify-keyspace-events", s.notifyEvents).Err(); err != nil {
			return nil, fmt.Errorf("failed to enable keyspace notifications: %w", wrapClosed(err))
		}
	}

	pubsub := s.client.Subscribe(ctx, s.expiredChannel(), s.deletedChannel())

	// Wait for the subscription confirmation so events published after
	// Subscribe returns are not missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to keyspace events: %w", wrapClosed(err))
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		store:  s,
		pubsub: pubsub,
		cancel: cancel,
		events: make(chan metadata.Event),
	}
	go sub.run(subCtx)

	logger.Debug("Subscribed to %s and %s", s.expiredChannel(), s.deletedChannel())
	return sub, nil
}

// wrapClosed maps the client's closed error to metadata.ErrClosed.
func wrapClosed(err error) error {
	if errors.Is(err, redis.ErrClosed) {
		return metadata.ErrClosed
	}
	return err
}

// eventFromMessage converts a keyspace notification into an Event.
// Keys outside the store's prefix are rejected.
func (s *RedisMetadataStore) eventFromMessage(channel, payload string) (metadata.Event, bool) {
	var kind metadata.EventKind
	switch channel {
	case s.expiredChannel():
		kind = metadata.EventExpired
	case s.deletedChannel():
		kind = metadata.EventDeleted
	default:
		return metadata.Event{}, false
	}

	key, ok := strings.CutPrefix(payload, s.keyPrefix)
	if !ok {
		return metadata.Event{}, false
	}
	return metadata.Event{Kind: kind, Key: key}, true
}

type subscription struct {
	store  *RedisMetadataStore
	pubsub *redis.PubSub
	cancel context.CancelFunc
	events chan metadata.Event

	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

// run reads messages until the context ends or the connection fails. A
// failure is recorded in err and ends the subscription; the caller is
// expected to resubscribe.
func (sub *subscription) run(ctx context.Context) {
	defer close(sub.events)

	// ReceiveMessage does not observe cancellation; closing the PubSub
	// unblocks it.
	stop := context.AfterFunc(ctx, func() { _ = sub.pubsub.Close() })
	defer func() {
		if stop() {
			_ = sub.pubsub.Close()
		}
	}()

	for {
		msg, err := sub.pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				sub.mu.Lock()
				sub.err = fmt.Errorf("keyspace notification channel failed: %w", err)
				sub.mu.Unlock()
			}
			return
		}

		ev, ok := sub.store.eventFromMessage(msg.Channel, msg.Payload)
		if !ok {
			continue
		}

		select {
		case sub.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func (sub *subscription) Events() <-chan metadata.Event {
	return sub.events
}

func (sub *subscription) Err() error {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.err
}

func (sub *subscription) Close() error {
	sub.closeOnce.Do(sub.cancel)
	return nil
}

// ============================================================================
// Lifecycle
// ============================================================================

func (s *RedisMetadataStore) Healthcheck(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close closes the client. Open subscriptions fail and end.
func (s *RedisMetadataStore) Close() error {
	return s.client.Close()
}

var _ metadata.Store = (*RedisMetadataStore)(nil)
