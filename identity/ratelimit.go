package identity

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultMaxFailures   = 5
	defaultFailureWindow = 15 * time.Minute
)

// loginLimiter counts failed logins per email in a fixed Redis window.
type loginLimiter struct {
	redis  *redis.Client
	max    int64
	window time.Duration
}

func failureKey(email string) string { return "login:failures:" + email }

// Blocked reports whether the email used up its failed attempts.
func (l *loginLimiter) Blocked(ctx context.Context, email string) (bool, error) {
	if l == nil || l.redis == nil {
		return false, nil
	}
	n, err := l.redis.Get(ctx, failureKey(email)).Int64()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return n >= l.max, nil
}

// Fail records a failed attempt. The window starts with the first failure.
func (l *loginLimiter) Fail(ctx context.Context, email string) error {
	if l == nil || l.redis == nil {
		return nil
	}
	key := failureKey(email)
	_, err := l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, key, 0, l.window)
		pipe.Incr(ctx, key)
		return nil
	})
	return err
}

// Reset clears the counter after a successful login.
func (l *loginLimiter) Reset(ctx context.Context, email string) {
	if l == nil || l.redis == nil {
		return
	}
	_ = l.redis.Del(ctx, failureKey(email)).Err()
}
