package ratelimit

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	DefaultLockoutThreshold = 5
	DefaultLockoutWindow    = 15 * time.Minute
)

const recordFailureScript = `
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
if count >= tonumber(ARGV[1]) then
  redis.call("SET", KEYS[2], "1", "PX", ARGV[2])
  redis.call("DEL", KEYS[1])
  return 1
end
return 0
`

// Lockout blocks a key for Window after Threshold failures inside the same window.
type Lockout struct {
	client    *redis.Client
	script    *redis.Script
	Threshold int
	Window    time.Duration
}

func NewLockout(client *redis.Client) *Lockout {
	if client == nil {
		return nil
	}
	return &Lockout{
		client:    client,
		script:    redis.NewScript(recordFailureScript),
		Threshold: DefaultLockoutThreshold,
		Window:    DefaultLockoutWindow,
	}
}

func failureKey(key string) string { return "leakradar:lockout:failures:" + key }
func lockedKey(key string) string  { return "leakradar:lockout:locked:" + key }

// Locked returns the remaining lock time, or zero when key may proceed.
func (l *Lockout) Locked(ctx context.Context, key string) (time.Duration, error) {
	if l == nil || l.client == nil {
		return 0, nil
	}
	ttl, err := l.client.PTTL(ctx, lockedKey(key)).Result()
	if err != nil {
		return 0, err
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// RecordFailure counts one failure and reports whether key is now locked.
func (l *Lockout) RecordFailure(ctx context.Context, key string) (bool, error) {
	if l == nil || l.client == nil {
		return false, nil
	}
	if key == "" {
		return false, errors.New("lockout key is empty")
	}
	locked, err := l.script.Run(ctx, l.client, []string{failureKey(key), lockedKey(key)}, l.Threshold, l.Window.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return locked == 1, nil
}

func (l *Lockout) Reset(ctx context.Context, key string) error {
	if l == nil || l.client == nil {
		return nil
	}
	return l.client.Del(ctx, failureKey(key), lockedKey(key)).Err()
}
