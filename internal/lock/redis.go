package lock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// acquireScript sets the lease unless a different run holds it. It returns the
// holder's run id on contention and an empty string on success.
var acquireScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'run_id')
if cur and cur ~= ARGV[1] then
	return cur
end
redis.call('HSET', KEYS[1], 'run_id', ARGV[1], 'holder', ARGV[2], 'acquired_at', ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return ''
`)

// releaseScript deletes the lease only when it still belongs to ARGV[1].
var releaseScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'run_id') == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// Redis is a lease-based lock shared by every process that points at the same
// Redis. Expiry is enforced by the key's PX TTL instead of a sweep. It does not
// issue fencing tokens; a holder that outlives its lease can overlap with the next.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	now    func() time.Time
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, ttl time.Duration, prefix string) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if prefix == "" {
		prefix = "orchestrator:lock"
	}
	return &Redis{client: client, ttl: ttl, prefix: prefix, now: time.Now}
}

// DialRedis parses a redis:// URL, connects and pings.
func DialRedis(ctx context.Context, url string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return NewRedis(client, ttl, ""), nil
}

func (r *Redis) key(k Key) string {
	return r.prefix + ":" + k.TenantID + ":" + k.PipelineID
}

// Acquire implements Manager.
func (r *Redis) Acquire(ctx context.Context, key Key, runID, holder string) (bool, string, error) {
	acquiredAt := strconv.FormatInt(r.now().UnixMilli(), 10)
	existing, err := acquireScript.Run(ctx, r.client, []string{r.key(key)},
		runID, holder, acquiredAt, r.ttl.Milliseconds()).Text()
	if err != nil {
		return false, "", fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if existing != "" {
		return false, existing, nil
	}
	return true, "", nil
}

// Release implements Manager.
func (r *Redis) Release(ctx context.Context, key Key, runID string) (bool, error) {
	n, err := releaseScript.Run(ctx, r.client, []string{r.key(key)}, runID).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to release lock %s: %w", key, err)
	}
	return n == 1, nil
}

// Get returns the current holder of key, if any.
func (r *Redis) Get(ctx context.Context, key Key) (Lock, bool, error) {
	vals, err := r.client.HGetAll(ctx, r.key(key)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Lock{}, false, fmt.Errorf("failed to read lock %s: %w", key, err)
	}
	if len(vals) == 0 {
		return Lock{}, false, nil
	}
	ms, _ := strconv.ParseInt(vals["acquired_at"], 10, 64)
	return Lock{RunID: vals["run_id"], Holder: vals["holder"], AcquiredAt: time.UnixMilli(ms)}, true, nil
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
