package extraction

import (
	"context"
	"math/rand"
	"time"

	applog "docgate/internal/platform/log"
)

// Policy 外部调用重试策略：指数退避加随机抖动，
// 仅对 IsRetryable 的瞬时错误重试。
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Do 以策略执行 fn。op 仅用于日志。
// 不可重试的错误、ctx 取消、重试耗尽均立即返回最后一次的错误。
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			delay := p.backoff(i)
			applog.Warn("[Extraction/Retry] Retrying after transient failure",
				"op", op, "attempt", i+1, "delay", delay.String(), "error", lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
		if ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}

// backoff 第 n 次重试前的等待：base * 2^(n-1)，上限 MaxDelay，附加 ±25% 抖动
func (p Policy) backoff(n int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	d := base << (n - 1)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(d)/2+1)) - d/4
	return d + jitter
}
