package venue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"trade-router/internal/config"
)

// Observer 接收场所调用指标，nil 时忽略。
type Observer interface {
	ObserveRequest(venue, outcome string, elapsed time.Duration)
	ObserveRetry(venue string)
	ObserveRateLimitWait(venue string, waited time.Duration)
}

// RequestBuilder 每次尝试都会被调用一次，以便签名参数（时间戳）随重试刷新。
type RequestBuilder func(ctx context.Context) (*http.Request, error)

// Transport 负责限流、重试与错误归类，所有场所客户端共用。
type Transport struct {
	venue    string
	client   *http.Client
	limiter  *RateLimiter
	retry    config.RetryConfig
	logger   *zap.Logger
	observer Observer
	sleep    func(ctx context.Context, d time.Duration) error
}

// TransportOption 调整 Transport。
type TransportOption func(*Transport)

// WithHTTPClient 替换底层 http.Client。
func WithHTTPClient(client *http.Client) TransportOption {
	return func(t *Transport) {
		if client != nil {
			t.client = client
		}
	}
}

// WithObserver 注入指标回调。
func WithObserver(obs Observer) TransportOption {
	return func(t *Transport) {
		t.observer = obs
	}
}

// NewTransport 创建场所传输层。
func NewTransport(venue string, timeout time.Duration, retry config.RetryConfig, limit config.RateLimitConfig, logger *zap.Logger, opts ...TransportOption) *Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 1
	}

	t := &Transport{
		venue:   venue,
		client:  &http.Client{Timeout: timeout},
		limiter: NewRateLimiter(limit.Requests, limit.Window),
		retry:   retry,
		logger:  logger.With(zap.String("venue", venue)),
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Venue 返回场所名。
func (t *Transport) Venue() string {
	return t.venue
}

// Do 执行请求，2xx 返回响应体；5xx 与网络错误按指数退避重试，4xx 立即失败。
func (t *Transport) Do(ctx context.Context, op string, build RequestBuilder) ([]byte, error) {
	var lastErr *Error
	for attempt := 1; attempt <= t.retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := t.backoff(attempt - 1)
			t.logger.Warn("场所请求失败，准备重试",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if t.observer != nil {
				t.observer.ObserveRetry(t.venue)
			}
			if err := t.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		waited, err := t.limiter.Wait(ctx)
		if err != nil {
			return nil, err
		}
		if waited > 0 && t.observer != nil {
			t.observer.ObserveRateLimitWait(t.venue, waited)
		}

		body, err := t.once(ctx, op, build)
		if err == nil {
			return body, nil
		}

		var vErr *Error
		if !errors.As(err, &vErr) {
			return nil, err
		}
		lastErr = vErr
		if !vErr.Retryable() || ctx.Err() != nil {
			break
		}
	}

	t.logger.Error("场所请求最终失败", zap.String("op", op), zap.Error(lastErr))
	return nil, lastErr
}

func (t *Transport) once(ctx context.Context, op string, build RequestBuilder) ([]byte, error) {
	req, err := build(ctx)
	if err != nil {
		return nil, fmt.Errorf("venue %s: 构建请求失败: %w", t.venue, err)
	}

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		t.observe("network_error", start)
		return nil, &Error{Venue: t.venue, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.observe("network_error", start)
		return nil, &Error{Venue: t.venue, Status: 0, Err: fmt.Errorf("读取响应失败: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		t.observe(fmt.Sprintf("http_%dxx", resp.StatusCode/100), start)
		t.logger.Debug("场所返回非 2xx",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode),
		)
		return nil, &Error{Venue: t.venue, Status: resp.StatusCode, Body: string(body)}
	}

	t.observe("ok", start)
	return body, nil
}

func (t *Transport) observe(outcome string, start time.Time) {
	if t.observer != nil {
		t.observer.ObserveRequest(t.venue, outcome, time.Since(start))
	}
}

// backoff 返回第 n 次重试前的等待时间：MinDelay * 2^(n-1)，上限 MaxDelay。
func (t *Transport) backoff(n int) time.Duration {
	delay := t.retry.MinDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	for i := 1; i < n; i++ {
		delay *= 2
		if t.retry.MaxDelay > 0 && delay >= t.retry.MaxDelay {
			return t.retry.MaxDelay
		}
	}
	if t.retry.MaxDelay > 0 && delay > t.retry.MaxDelay {
		return t.retry.MaxDelay
	}
	return delay
}
