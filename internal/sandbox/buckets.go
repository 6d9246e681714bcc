package sandbox

import (
	"fmt"
	"hash"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"
)

// Buckets assigns identifiers to consistent hash buckets for rate-limit keys,
// so a hot identifier cannot blow up the redis keyspace.
type Buckets struct {
	eventBuckets int
	hasherPool   sync.Pool
}

func NewBuckets(eventBuckets int) *Buckets {
	if eventBuckets <= 0 {
		eventBuckets = 1024
	}
	return &Buckets{
		eventBuckets: eventBuckets,
		hasherPool: sync.Pool{
			New: func() interface{} {
				return murmur3.New64()
			},
		},
	}
}

// EventBucket returns a consistent bucket for identifier (0 to eventBuckets-1).
func (b *Buckets) EventBucket(identifier string) int {
	hasher := b.hasherPool.Get().(hash.Hash64)
	defer b.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(identifier))
	return int(hasher.Sum64() % uint64(b.eventBuckets))
}

// TimeBucket returns the start of the current window in unix seconds.
func (b *Buckets) TimeBucket(window time.Duration) int64 {
	seconds := int64(window.Seconds())
	if seconds <= 0 {
		seconds = 1
	}
	return time.Now().Unix() / seconds * seconds
}

// RateKey builds a windowed rate-limit key for identifier.
func (b *Buckets) RateKey(prefix, identifier string, window time.Duration) string {
	return fmt.Sprintf("%s:%d:%d", prefix, b.EventBucket(identifier), b.TimeBucket(window))
}
