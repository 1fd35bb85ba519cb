package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"trade-router/internal/config"
	"trade-router/internal/venue"
)

type orderAPI interface {
	CreateMarketOrder(symbol string, side string, amount float64, options ...ccxt.CreateMarketOrderOptions) (ccxt.Order, error)
	CreateLimitOrder(symbol string, side string, amount float64, price float64, options ...ccxt.CreateLimitOrderOptions) (ccxt.Order, error)
	CancelOrder(id string, options ...ccxt.CancelOrderOptions) (ccxt.Order, error)
}

// Client 负责通过 ccxt 下单撤单，并实现限流与重试。
type Client struct {
	name     string
	api      orderAPI
	retry    config.RetryConfig
	limiter  *venue.RateLimiter
	logger   *zap.Logger
	observer venue.Observer
}

// NewClient 按配置构造 ccxt 交易所客户端，sandbox 为真时切换测试网。
func NewClient(cfg config.CCXTVenueConfig, sandbox bool, logger *zap.Logger, observer venue.Observer) (*Client, error) {
	userConfig := map[string]interface{}{
		"enableRateLimit": true,
	}
	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}
	if cfg.APIPass != "" {
		userConfig["password"] = cfg.APIPass
	}

	var api orderAPI
	switch strings.ToLower(cfg.Exchange) {
	case ExchangeBinanceUSDM, "":
		userConfig["options"] = map[string]interface{}{
			"adjustForTimeDifference": true,
			"defaultType":             "future",
		}
		ex := ccxt.NewBinanceusdm(userConfig)
		if sandbox {
			ex.SetSandboxMode(true)
		}
		api = ex
	case ExchangeHyperliquid:
		if cfg.Wallet != "" {
			userConfig["walletAddress"] = cfg.Wallet
		}
		if cfg.PrivateKey != "" {
			userConfig["privateKey"] = cfg.PrivateKey
		}
		ex := ccxt.NewHyperliquid(userConfig)
		if sandbox {
			ex.SetSandboxMode(true)
		}
		api = ex
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedExchange, cfg.Exchange)
	}

	name := cfg.Name
	if name == "" {
		name = strings.ToLower(cfg.Exchange)
	}
	return newClient(name, api, cfg.Retry, cfg.RateLimit, logger, observer), nil
}

func newClient(name string, api orderAPI, retry config.RetryConfig, limit config.RateLimitConfig, logger *zap.Logger, observer venue.Observer) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 1
	}
	return &Client{
		name:     name,
		api:      api,
		retry:    retry,
		limiter:  venue.NewRateLimiter(limit.Requests, limit.Window),
		logger:   logger.With(zap.String("venue", name)),
		observer: observer,
	}
}

// Name 返回交易所名。
func (c *Client) Name() string {
	return c.name
}

// PlaceOrder 提交市价或限价单。
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (ccxt.Order, error) {
	var order ccxt.Order
	err := c.callWithRetry(ctx, "create_order", func() error {
		var err error
		switch strings.ToLower(req.Type) {
		case "market":
			var opts []ccxt.CreateMarketOrderOptions
			if len(req.Params) > 0 {
				opts = append(opts, ccxt.WithCreateMarketOrderParams(req.Params))
			}
			order, err = c.api.CreateMarketOrder(req.Symbol, strings.ToLower(req.Side), req.Amount, opts...)
		case "limit":
			var opts []ccxt.CreateLimitOrderOptions
			if len(req.Params) > 0 {
				opts = append(opts, ccxt.WithCreateLimitOrderParams(req.Params))
			}
			order, err = c.api.CreateLimitOrder(req.Symbol, strings.ToLower(req.Side), req.Amount, req.Price, opts...)
		default:
			return fmt.Errorf("exchange: 不支持的订单类型 %s", req.Type)
		}
		return err
	})
	return order, err
}

// CancelOrder 撤销订单。
func (c *Client) CancelOrder(ctx context.Context, id, symbol string) (ccxt.Order, error) {
	var order ccxt.Order
	err := c.callWithRetry(ctx, "cancel_order", func() error {
		var err error
		order, err = c.api.CancelOrder(id, ccxt.WithCancelOrderSymbol(symbol))
		return err
	})
	return order, err
}

func (c *Client) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	attempt := 0
	delay := c.retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := c.retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		waited, err := c.limiter.Wait(ctx)
		if err != nil {
			return err
		}
		if waited > 0 && c.observer != nil {
			c.observer.ObserveRateLimitWait(c.name, waited)
		}

		attempt++
		start := time.Now()
		err = fn()
		duration := time.Since(start)
		if err == nil {
			c.observe("ok", duration)
			if attempt > 1 {
				c.logger.Info("交易所调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", duration),
				)
			}
			return nil
		}

		normalizedErr, retry := classifyError(err)
		c.observe("error", duration)

		if errors.Is(normalizedErr, ErrMaintenance) {
			c.logger.Warn("交易所维护中",
				zap.String("operation", operation),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		if !retry || attempt >= c.retry.MaxAttempts {
			c.logger.Error("交易所调用失败",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Duration("latency", duration),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		wait := delay
		if wait > maxDelay {
			wait = maxDelay
		}

		c.logger.Warn("交易所调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(normalizedErr),
		)
		if c.observer != nil {
			c.observer.ObserveRetry(c.name)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func (c *Client) observe(outcome string, elapsed time.Duration) {
	if c.observer != nil {
		c.observer.ObserveRequest(c.name, outcome, elapsed)
	}
}
