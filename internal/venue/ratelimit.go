package venue

import (
	"context"
	"sync"
	"time"
)

// RateLimiter 为滑动窗口限流器：任意长度为 window 的时间窗内最多放行 limit 次调用。
// 窗口已满时调用方休眠到最早一条记录过期后重新检查，不丢弃也不排队。
type RateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	calls  []time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRateLimiter 创建限流器，limit 或 window 非正时不限流。
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:  limit,
		window: window,
		calls:  make([]time.Time, 0, max(limit, 0)),
		now:    time.Now,
		sleep:  sleepContext,
	}
}

// Wait 阻塞直到获得一个调用名额，返回累计等待时长。
func (l *RateLimiter) Wait(ctx context.Context) (time.Duration, error) {
	if l == nil || l.limit <= 0 || l.window <= 0 {
		return 0, nil
	}

	var waited time.Duration
	for {
		l.mu.Lock()
		now := l.now()
		l.evict(now)
		if len(l.calls) < l.limit {
			l.calls = append(l.calls, now)
			l.mu.Unlock()
			return waited, nil
		}
		wait := l.calls[0].Add(l.window).Sub(now)
		l.mu.Unlock()

		if err := l.sleep(ctx, wait); err != nil {
			return waited, err
		}
		waited += wait
	}
}

// InFlight 返回当前窗口内已放行的调用数。
func (l *RateLimiter) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evict(l.now())
	return len(l.calls)
}

func (l *RateLimiter) evict(now time.Time) {
	drop := 0
	for drop < len(l.calls) && now.Sub(l.calls[drop]) >= l.window {
		drop++
	}
	if drop > 0 {
		l.calls = append(l.calls[:0], l.calls[drop:]...)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
