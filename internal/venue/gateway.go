package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"

	"trade-router/internal/config"
)

const (
	gatewayLoginPath  = "/rest/auth/angelbroking/user/v1/loginByPassword"
	gatewayPlacePath  = "/rest/secure/angelbroking/order/v1/placeOrder"
	gatewayCancelPath = "/rest/secure/angelbroking/order/v1/cancelOrder"
)

// GatewayOrderRequest 为会话型券商网关的下单参数。
type GatewayOrderRequest struct {
	Variety         string `json:"variety"`
	TradingSymbol   string `json:"tradingsymbol"`
	SymbolToken     string `json:"symboltoken,omitempty"`
	TransactionType string `json:"transactiontype"`
	Exchange        string `json:"exchange"`
	OrderType       string `json:"ordertype"`
	ProductType     string `json:"producttype"`
	Duration        string `json:"duration"`
	Price           string `json:"price"`
	Quantity        string `json:"quantity"`
	OrderTag        string `json:"ordertag,omitempty"`
}

// GatewayOrder 为网关返回的订单状态，成交只给聚合数量与均价。
type GatewayOrder struct {
	OrderID       string `json:"orderid"`
	UniqueOrderID string `json:"uniqueorderid"`
	Status        string `json:"orderstatus"`
	Text          string `json:"text"`
	Quantity      string `json:"quantity"`
	FilledShares  string `json:"filledshares"`
	AveragePrice  string `json:"averageprice"`
	Price         string `json:"price"`
	UpdateTime    string `json:"updatetime"`
}

type gatewayEnvelope struct {
	Status    bool            `json:"status"`
	Message   string          `json:"message"`
	ErrorCode string          `json:"errorcode"`
	Data      json.RawMessage `json:"data"`
}

type gatewaySession struct {
	JWTToken     string `json:"jwtToken"`
	RefreshToken string `json:"refreshToken"`
	FeedToken    string `json:"feedToken"`
}

// RejectedError 表示网关以 status=false 拒绝了请求。
type RejectedError struct {
	Code    string
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("gateway rejected: %s %s", e.Code, e.Message)
}

// GatewayClient 为需要登录会话的券商网关客户端，令牌失效时自动重新登录一次。
type GatewayClient struct {
	baseURL    string
	apiKey     string
	clientCode string
	password   string
	totpSecret string
	transport  *Transport
	logger     *zap.Logger
	now        func() time.Time

	mu    sync.RWMutex
	token string
	// loginMu 串行化登录，避免并发 401 触发多次登录。
	loginMu sync.Mutex
}

// NewGatewayClient 创建网关客户端。
func NewGatewayClient(cfg config.GatewayVenueConfig, baseURL string, logger *zap.Logger, opts ...TransportOption) *GatewayClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	name := cfg.Name
	if name == "" {
		name = "gateway"
	}
	return &GatewayClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     cfg.APIKey,
		clientCode: cfg.ClientCode,
		password:   cfg.Password,
		totpSecret: cfg.TOTPSecret,
		transport:  NewTransport(name, cfg.Timeout, cfg.Retry, cfg.RateLimit, logger, opts...),
		logger:     logger.With(zap.String("venue", name)),
		now:        time.Now,
	}
}

// Login 使用客户号、密码与 TOTP 建立会话。
func (c *GatewayClient) Login(ctx context.Context) error {
	c.loginMu.Lock()
	defer c.loginMu.Unlock()
	return c.login(ctx)
}

func (c *GatewayClient) login(ctx context.Context) error {
	payload := map[string]string{
		"clientcode": c.clientCode,
		"password":   c.password,
	}
	if c.totpSecret != "" {
		code, err := totp.GenerateCode(c.totpSecret, c.now())
		if err != nil {
			return fmt.Errorf("venue %s: 生成 TOTP 失败: %w", c.transport.Venue(), err)
		}
		payload["totp"] = code
	}

	var session gatewaySession
	if err := c.exchange(ctx, "login", http.MethodPost, gatewayLoginPath, payload, "", &session); err != nil {
		return fmt.Errorf("venue %s: 登录失败: %w", c.transport.Venue(), err)
	}
	if session.JWTToken == "" {
		return fmt.Errorf("venue %s: 登录响应缺少 jwtToken", c.transport.Venue())
	}

	c.mu.Lock()
	c.token = strings.TrimPrefix(session.JWTToken, "Bearer ")
	c.mu.Unlock()
	c.logger.Info("网关登录成功")
	return nil
}

// PlaceOrder 下单并返回网关订单状态。
func (c *GatewayClient) PlaceOrder(ctx context.Context, req GatewayOrderRequest) (GatewayOrder, error) {
	var out GatewayOrder
	if err := c.authorized(ctx, "place_order", gatewayPlacePath, req, &out); err != nil {
		return GatewayOrder{}, err
	}
	return out, nil
}

// CancelOrder 撤单。
func (c *GatewayClient) CancelOrder(ctx context.Context, variety, orderID string) (GatewayOrder, error) {
	payload := map[string]string{"variety": variety, "orderid": orderID}
	var out GatewayOrder
	if err := c.authorized(ctx, "cancel_order", gatewayCancelPath, payload, &out); err != nil {
		return GatewayOrder{}, err
	}
	if out.OrderID == "" {
		out.OrderID = orderID
	}
	return out, nil
}

func (c *GatewayClient) currentToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// authorized 在会话内调用；401 时重新登录并只重放一次，再次 401 返回 ErrUnauthorized。
func (c *GatewayClient) authorized(ctx context.Context, op, path string, payload, out any) error {
	token := c.currentToken()
	if token == "" {
		if err := c.relogin(ctx, ""); err != nil {
			return err
		}
		token = c.currentToken()
	}

	err := c.exchange(ctx, op, http.MethodPost, path, payload, token, out)
	if !IsUnauthorized(err) {
		return err
	}

	c.logger.Warn("网关会话失效，重新登录", zap.String("op", op))
	if err := c.relogin(ctx, token); err != nil {
		return err
	}
	err = c.exchange(ctx, op, http.MethodPost, path, payload, c.currentToken(), out)
	if IsUnauthorized(err) {
		return fmt.Errorf("%w: %s", ErrUnauthorized, err)
	}
	return err
}

// relogin 仅当令牌仍为 stale 时登录，其他协程已刷新则直接复用。
func (c *GatewayClient) relogin(ctx context.Context, stale string) error {
	c.loginMu.Lock()
	defer c.loginMu.Unlock()
	if current := c.currentToken(); current != "" && current != stale {
		return nil
	}
	return c.login(ctx)
}

func (c *GatewayClient) exchange(ctx context.Context, op, method, path string, payload any, token string, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("venue %s: 序列化请求失败: %w", c.transport.Venue(), err)
	}

	body, err := c.transport.Do(ctx, op, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-UserType", "USER")
		req.Header.Set("X-SourceID", "WEB")
		req.Header.Set("X-PrivateKey", c.apiKey)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		return req, nil
	})
	if err != nil {
		return err
	}

	var env gatewayEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("venue %s: 解析响应失败: %w", c.transport.Venue(), err)
	}
	if !env.Status {
		return &RejectedError{Code: env.ErrorCode, Message: env.Message}
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("venue %s: 解析 data 失败: %w", c.transport.Venue(), err)
	}
	return nil
}

// IsRejected 判断错误是否为网关业务拒绝。
func IsRejected(err error) bool {
	var rej *RejectedError
	return errors.As(err, &rej)
}
