package natsclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

const (
	kvTimeout      = 5 * time.Second
	kvMaxValueSize = 1 << 20
)

// ErrKVValueTooLarge is returned for values over the 1 MiB bucket limit
var ErrKVValueTooLarge = errors.New("kv: value too large")

// KVStore writes to one bucket with a bounded timeout per operation
type KVStore struct {
	bucket       jetstream.KeyValue
	timeout      time.Duration
	maxValueSize int
	logger       *slog.Logger
}

func newKVStore(bucket jetstream.KeyValue, logger *slog.Logger) *KVStore {
	return &KVStore{
		bucket:       bucket,
		timeout:      kvTimeout,
		maxValueSize: kvMaxValueSize,
		logger:       logger,
	}
}

// Put replaces the value under key and returns the new revision. Snapshots
// are last-writer-wins, so no revision check is made.
func (kv *KVStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	if kv.maxValueSize > 0 && len(value) > kv.maxValueSize {
		return 0, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrKVValueTooLarge, key, len(value), kv.maxValueSize)
	}

	if kv.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, kv.timeout)
		defer cancel()
	}

	rev, err := kv.bucket.Put(ctx, key, value)
	if err != nil {
		return 0, fmt.Errorf("kv put %s: %w", key, err)
	}

	kv.logger.Debug("KV put", "key", key, "revision", rev)
	return rev, nil
}
