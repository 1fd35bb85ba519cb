package venue

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnauthorized 表示重新登录后依旧被拒绝。
var ErrUnauthorized = errors.New("venue: unauthorized")

// Error 为场所调用的最终失败，携带 HTTP 状态码与响应体；Status 为 0 表示网络层失败。
type Error struct {
	Venue  string
	Status int
	Body   string
	Err    error
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("venue %s: request failed: %v", e.Venue, e.Err)
	}
	body := e.Body
	if len(body) > 256 {
		body = body[:256] + "..."
	}
	return fmt.Sprintf("venue %s: http %d: %s", e.Venue, e.Status, body)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable 表示 5xx 或网络错误。
func (e *Error) Retryable() bool {
	return e.Status == 0 || e.Status >= http.StatusInternalServerError
}

// IsUnauthorized 判断错误是否为 401。
func IsUnauthorized(err error) bool {
	var vErr *Error
	if errors.As(err, &vErr) {
		return vErr.Status == http.StatusUnauthorized
	}
	return errors.Is(err, ErrUnauthorized)
}

// StatusCode 返回场所错误的 HTTP 状态码，非场所错误返回 0。
func StatusCode(err error) int {
	var vErr *Error
	if errors.As(err, &vErr) {
		return vErr.Status
	}
	return 0
}
