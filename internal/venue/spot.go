package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"trade-router/internal/config"
)

const (
	spotOrderPath = "/api/v3/order"
	spotKeyHeader = "X-MBX-APIKEY"
)

// SpotOrderRequest 为签名现货场所的下单参数。
type SpotOrderRequest struct {
	Symbol        string
	Side          string
	Type          string
	Quantity      float64
	Price         *float64
	TimeInForce   string
	ClientOrderID string
}

// SpotFill 为现货场所返回的逐笔成交。
type SpotFill struct {
	Price           string `json:"price"`
	Qty             string `json:"qty"`
	Commission      string `json:"commission"`
	CommissionAsset string `json:"commissionAsset"`
	TradeID         int64  `json:"tradeId"`
}

// SpotOrderResponse 为现货场所的订单响应原文。
type SpotOrderResponse struct {
	Symbol              string     `json:"symbol"`
	OrderID             int64      `json:"orderId"`
	ClientOrderID       string     `json:"clientOrderId"`
	TransactTime        int64      `json:"transactTime"`
	Price               string     `json:"price"`
	OrigQty             string     `json:"origQty"`
	ExecutedQty         string     `json:"executedQty"`
	CummulativeQuoteQty string     `json:"cummulativeQuoteQty"`
	Status              string     `json:"status"`
	TimeInForce         string     `json:"timeInForce"`
	Type                string     `json:"type"`
	Side                string     `json:"side"`
	Fills               []SpotFill `json:"fills"`
}

// SpotClient 为 HMAC 签名的现货场所客户端。
type SpotClient struct {
	baseURL   string
	apiKey    string
	signer    *Signer
	transport *Transport
}

// NewSpotClient 基于给定 baseURL 创建客户端；沙箱与实盘各自创建一个实例。
func NewSpotClient(cfg config.SpotVenueConfig, baseURL string, logger *zap.Logger, opts ...TransportOption) *SpotClient {
	name := cfg.Name
	if name == "" {
		name = "spot"
	}
	return &SpotClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    cfg.APIKey,
		signer:    NewSigner(cfg.APISecret, cfg.RecvWindow),
		transport: NewTransport(name, cfg.Timeout, cfg.Retry, cfg.RateLimit, logger, opts...),
	}
}

// PlaceOrder 提交订单并返回场所原始响应。
func (c *SpotClient) PlaceOrder(ctx context.Context, req SpotOrderRequest) (SpotOrderResponse, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(req.Symbol))
	params.Set("side", strings.ToUpper(req.Side))
	params.Set("type", strings.ToUpper(req.Type))
	params.Set("quantity", formatFloat(req.Quantity))
	params.Set("newOrderRespType", "FULL")
	if req.Price != nil {
		params.Set("price", formatFloat(*req.Price))
	}
	if req.TimeInForce != "" {
		params.Set("timeInForce", strings.ToUpper(req.TimeInForce))
	}
	if req.ClientOrderID != "" {
		params.Set("newClientOrderId", req.ClientOrderID)
	}

	var out SpotOrderResponse
	if err := c.signed(ctx, "place_order", http.MethodPost, params, &out); err != nil {
		return SpotOrderResponse{}, err
	}
	return out, nil
}

// CancelOrder 撤销订单。
func (c *SpotClient) CancelOrder(ctx context.Context, symbol, orderID string) (SpotOrderResponse, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	params.Set("orderId", orderID)

	var out SpotOrderResponse
	if err := c.signed(ctx, "cancel_order", http.MethodDelete, params, &out); err != nil {
		return SpotOrderResponse{}, err
	}
	return out, nil
}

func (c *SpotClient) signed(ctx context.Context, op, method string, params url.Values, out any) error {
	body, err := c.transport.Do(ctx, op, func(ctx context.Context) (*http.Request, error) {
		query := c.signer.Sign(params)
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+spotOrderPath+"?"+query, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set(spotKeyHeader, c.apiKey)
		return req, nil
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("venue %s: 解析响应失败: %w", c.transport.Venue(), err)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
