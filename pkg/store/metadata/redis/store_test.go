package redis

import (
	"testing"

	"github.com/marmos91/dittodrop/pkg/store/metadata"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

// newOfflineStore builds a store whose client never dials; only pure
// helpers are exercised.
func newOfflineStore(t *testing.T, cfg RedisMetadataStoreConfig) *RedisMetadataStore {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DB: cfg.DB})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisMetadataStoreFromClient(client, cfg)
}

func TestRedisMetadataStore_Channels(t *testing.T) {
	store := newOfflineStore(t, RedisMetadataStoreConfig{DB: 3})

	assert.Equal(t, "__keyevent@3__:expired", store.expiredChannel())
	assert.Equal(t, "__keyevent@3__:del", store.deletedChannel())
	assert.Equal(t, defaultNotifyEvents, store.notifyEvents)
}

func TestRedisMetadataStore_Keys(t *testing.T) {
	store := newOfflineStore(t, RedisMetadataStoreConfig{KeyPrefix: "dd:"})

	assert.Equal(t, "dd:abc", store.recordKey("abc"))
	assert.Equal(t, "dd:abc:exp", store.livenessKey("abc"))
}

func TestRedisMetadataStore_EventFromMessage(t *testing.T) {
	store := newOfflineStore(t, RedisMetadataStoreConfig{KeyPrefix: "dd:"})

	tests := []struct {
		name    string
		channel string
		payload string
		want    metadata.Event
		ok      bool
	}{
		{
			name:    "expired",
			channel: "__keyevent@0__:expired",
			payload: "dd:abc:exp",
			want:    metadata.Event{Kind: metadata.EventExpired, Key: "abc:exp"},
			ok:      true,
		},
		{
			name:    "deleted",
			channel: "__keyevent@0__:del",
			payload: "dd:abc:exp",
			want:    metadata.Event{Kind: metadata.EventDeleted, Key: "abc:exp"},
			ok:      true,
		},
		{
			name:    "record key",
			channel: "__keyevent@0__:del",
			payload: "dd:abc",
			want:    metadata.Event{Kind: metadata.EventDeleted, Key: "abc"},
			ok:      true,
		},
		{
			name:    "foreign prefix",
			channel: "__keyevent@0__:expired",
			payload: "other:abc:exp",
		},
		{
			name:    "other database",
			channel: "__keyevent@1__:expired",
			payload: "dd:abc:exp",
		},
		{
			name:    "other event",
			channel: "__keyevent@0__:set",
			payload: "dd:abc:exp",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := store.eventFromMessage(tt.channel, tt.payload)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}
