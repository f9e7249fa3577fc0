// Package distlock serializes publish runs across operator machines with a
// Redis lease. The lock is advisory: a pipeline with no Redis configured
// runs unlocked.
package distlock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lock is a single-use lease on a named resource. A Lock value belongs to
// one goroutine; concurrent holders need their own instances.
type Lock interface {
	// Acquire tries to take the lease without blocking. Returns true when
	// this instance now holds it.
	Acquire(ctx context.Context) (bool, error)
	// Release drops the lease if this instance still owns it.
	Release(ctx context.Context) error
}

// releaseScript deletes the key only for the owner, so a holder whose lease
// expired cannot drop a lease someone else took over.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

var extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end
`)

// RedisLock leases a key with SET NX and a TTL. The TTL bounds how long a
// crashed holder can block everyone else.
type RedisLock struct {
	client *redis.Client
	key    string
	value  string
	ttl    time.Duration
}

// NewRedisLock builds a lease on key. The ownership value is random per
// instance.
func NewRedisLock(client *redis.Client, key string, ttl time.Duration) *RedisLock {
	b := make([]byte, 16)
	rand.Read(b)
	return &RedisLock{
		client: client,
		key:    "lock:" + key,
		value:  hex.EncodeToString(b),
		ttl:    ttl,
	}
}

// Acquire tries to take the lease. false with a nil error means another
// holder has it.
func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquiring lock %s: %w", l.key, err)
	}
	return ok, nil
}

// Release drops the lease if this instance still owns it. Releasing after
// expiry is a no-op rather than an error.
func (l *RedisLock) Release(ctx context.Context) error {
	_, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.value).Result()
	if err != nil {
		return fmt.Errorf("releasing lock %s: %w", l.key, err)
	}
	return nil
}

// Extend pushes the expiry out for a long-running holder. Returns an error
// when the lease is no longer owned.
func (l *RedisLock) Extend(ctx context.Context, ttl time.Duration) error {
	res, err := extendScript.Run(ctx, l.client, []string{l.key}, l.value, ttl.Milliseconds()).Result()
	if err != nil {
		return fmt.Errorf("extending lock %s: %w", l.key, err)
	}
	if n, ok := res.(int64); ok && n == 0 {
		return fmt.Errorf("lock %s is no longer held", l.key)
	}
	return nil
}
