package ratelimit

import (
	"context"
	"fmt"
	"strings"

	"github.com/smallbiznis/leakradar/internal/config"
)

const keyCronTrigger = "leakradar:ratelimit:cron:%s"

// CronLimiter throttles the externally triggered scan endpoint per caller.
type CronLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewCronLimiter(bucket *TokenBucket, cfg config.Config) *CronLimiter {
	if bucket == nil || cfg.Redis.CronRate <= 0 || cfg.Redis.CronBurst <= 0 {
		return nil
	}
	return &CronLimiter{bucket: bucket, rate: cfg.Redis.CronRate, burst: cfg.Redis.CronBurst}
}

func (l *CronLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *CronLimiter) Allow(ctx context.Context, caller string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	caller = strings.TrimSpace(caller)
	if caller == "" {
		caller = "anonymous"
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyCronTrigger, caller), l.rate, l.burst)
}
