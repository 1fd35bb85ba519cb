package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"trade-router/internal/config"
)

// Sink 将信封投递到下游。
type Sink interface {
	Name() string
	Send(ctx context.Context, env Envelope) error
}

// StatusError 为下游返回的非 2xx 状态。
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("publisher: 下游返回 %d: %s", e.Code, e.Body)
}

// Retryable 4xx 不重试。
func (e *StatusError) Retryable() bool {
	return e.Code >= 500
}

func retryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	return !errors.Is(err, errEncode)
}

var errEncode = errors.New("publisher: 序列化失败")

// HTTPSink 以 JSON POST 推送到接入端点，附带服务间 bearer 凭证。
type HTTPSink struct {
	endpoint string
	token    string
	client   *http.Client
}

// NewHTTPSink 创建 HTTP 投递端。
func NewHTTPSink(endpoint, token string, timeout time.Duration) *HTTPSink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSink{
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSink) Name() string { return "http" }

func (s *HTTPSink) Send(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("%w: %v", errEncode, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: 构造请求: %v", errEncode, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("publisher: 发送失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(payload))}
	}
	return nil
}

type streamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisStreamSink 将信封 XADD 到 Redis Stream，字段 resource 与 data。
type RedisStreamSink struct {
	client streamAdder
	stream string
	maxLen int64
}

// NewRedisStreamSink 创建 Redis Stream 投递端。
func NewRedisStreamSink(client streamAdder, stream string, maxLen int64) *RedisStreamSink {
	if maxLen <= 0 {
		maxLen = 100_000
	}
	return &RedisStreamSink{client: client, stream: stream, maxLen: maxLen}
}

func (s *RedisStreamSink) Name() string { return "redis" }

func (s *RedisStreamSink) Send(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("%w: %v", errEncode, err)
	}
	if err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"resource": string(env.Resource),
			"data":     data,
		},
	}).Err(); err != nil {
		return fmt.Errorf("publisher: XADD %s 失败: %w", s.stream, err)
	}
	return nil
}

// NewSink 按 publisher.transport 选择投递端，返回的 closer 在退出时调用。
func NewSink(cfg config.PublisherConfig) (Sink, func() error, error) {
	switch strings.ToLower(cfg.Transport) {
	case "", "http":
		return NewHTTPSink(cfg.Endpoint, cfg.Token, cfg.Timeout), func() error { return nil }, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return NewRedisStreamSink(client, cfg.RedisStream, 0), client.Close, nil
	}
	return nil, nil, fmt.Errorf("publisher: 未知的 transport %q", cfg.Transport)
}
