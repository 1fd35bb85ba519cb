package execution

import (
	"context"
	"errors"
	"math"
	"testing"

	ccxt "github.com/ccxt/ccxt/go/v4"

	"trade-router/internal/exchange"
	"trade-router/internal/venue"
)

type mockSpotClient struct {
	resp    venue.SpotOrderResponse
	err     error
	lastReq venue.SpotOrderRequest
}

func (m *mockSpotClient) PlaceOrder(_ context.Context, req venue.SpotOrderRequest) (venue.SpotOrderResponse, error) {
	m.lastReq = req
	return m.resp, m.err
}

func (m *mockSpotClient) CancelOrder(_ context.Context, symbol, orderID string) (venue.SpotOrderResponse, error) {
	return m.resp, m.err
}

type mockGatewayClient struct {
	order   venue.GatewayOrder
	err     error
	lastReq venue.GatewayOrderRequest
}

func (m *mockGatewayClient) PlaceOrder(_ context.Context, req venue.GatewayOrderRequest) (venue.GatewayOrder, error) {
	m.lastReq = req
	return m.order, m.err
}

func (m *mockGatewayClient) CancelOrder(_ context.Context, variety, orderID string) (venue.GatewayOrder, error) {
	return m.order, m.err
}

type mockOrderClient struct {
	calls   []string
	order   ccxt.Order
	lastReq exchange.OrderRequest
}

func (m *mockOrderClient) PlaceOrder(_ context.Context, req exchange.OrderRequest) (ccxt.Order, error) {
	m.calls = append(m.calls, "PlaceOrder")
	m.lastReq = req
	return m.order, nil
}

func (m *mockOrderClient) CancelOrder(_ context.Context, id, symbol string) (ccxt.Order, error) {
	m.calls = append(m.calls, "CancelOrder")
	return m.order, nil
}

func marketIntent(qty float64) OrderIntent {
	return OrderIntent{
		Broker:    "spot",
		AccountID: "acc-1",
		Symbol:    "BTCUSDT",
		Side:      SideBuy,
		Quantity:  qty,
		OrderType: OrderTypeMarket,
		Tags:      []string{"manual"},
	}
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestSpotAdapterUsesVenueFills(t *testing.T) {
	client := &mockSpotClient{resp: venue.SpotOrderResponse{
		Symbol:      "BTCUSDT",
		OrderID:     7,
		Status:      "FILLED",
		Side:        "BUY",
		Type:        "MARKET",
		OrigQty:     "0.5",
		ExecutedQty: "0.5",
		Fills: []venue.SpotFill{
			{Price: "100", Qty: "0.2"},
			{Price: "110", Qty: "0.3"},
		},
	}}
	adapter := NewSpotAdapter("spot", "binance", client)

	report, err := adapter.PlaceOrder(context.Background(), marketIntent(0.5), 95)
	if err != nil {
		t.Fatalf("PlaceOrder returned error: %v", err)
	}
	if report.Status != StatusFilled {
		t.Errorf("expected filled, got %s", report.Status)
	}
	if report.VenueOrderID != "7" {
		t.Errorf("unexpected venue order id %s", report.VenueOrderID)
	}
	if len(report.Fills) != 2 {
		t.Fatalf("expected 2 fills, got %d", len(report.Fills))
	}
	// (0.2*100 + 0.3*110) / 0.5 = 106
	if report.AveragePrice == nil || !approx(*report.AveragePrice, 106) {
		t.Errorf("unexpected average price %v", report.AveragePrice)
	}
	if !approx(report.Notional(), 53) {
		t.Errorf("unexpected notional %f", report.Notional())
	}
	if client.lastReq.Price != nil {
		t.Errorf("market order must not carry a price")
	}
}

func TestSpotAdapterSynthesizesFillFromQuoteQty(t *testing.T) {
	client := &mockSpotClient{resp: venue.SpotOrderResponse{
		OrderID:             8,
		Status:              "PARTIALLY_FILLED",
		OrigQty:             "1",
		ExecutedQty:         "0.4",
		CummulativeQuoteQty: "40.8",
	}}
	adapter := NewSpotAdapter("spot", "binance", client)

	report, err := adapter.PlaceOrder(context.Background(), marketIntent(1), 100)
	if err != nil {
		t.Fatalf("PlaceOrder returned error: %v", err)
	}
	if report.Status != StatusPartiallyFilled {
		t.Errorf("expected partially filled, got %s", report.Status)
	}
	if len(report.Fills) != 1 || !approx(report.Fills[0].Quantity, 0.4) || !approx(report.Fills[0].Price, 102) {
		t.Fatalf("unexpected synthetic fill %+v", report.Fills)
	}
	if report.Symbol != "BTCUSDT" || report.Side != SideBuy {
		t.Errorf("intent fields should fill gaps: %+v", report)
	}
}

func TestSpotAdapterAcceptedHasNoAverage(t *testing.T) {
	client := &mockSpotClient{resp: venue.SpotOrderResponse{OrderID: 9, Status: "NEW", OrigQty: "1", ExecutedQty: "0"}}
	adapter := NewSpotAdapter("spot", "binance", client)

	price := 90.0
	intent := marketIntent(1)
	intent.OrderType = OrderTypeLimit
	intent.LimitPrice = &price

	report, err := adapter.PlaceOrder(context.Background(), intent, price)
	if err != nil {
		t.Fatalf("PlaceOrder returned error: %v", err)
	}
	if report.Status != StatusAccepted || report.AveragePrice != nil || len(report.Fills) != 0 {
		t.Fatalf("accepted order must have no fills and nil average: %+v", report)
	}
	if client.lastReq.TimeInForce != "GTC" {
		t.Errorf("expected default GTC, got %s", client.lastReq.TimeInForce)
	}
}

func TestSpotAdapterWrapsVenueError(t *testing.T) {
	venueErr := &venue.Error{Venue: "binance", Status: 400, Body: "bad"}
	adapter := NewSpotAdapter("spot", "binance", &mockSpotClient{err: venueErr})

	_, err := adapter.PlaceOrder(context.Background(), marketIntent(1), 100)
	var got *venue.Error
	if !errors.As(err, &got) || got.Status != 400 {
		t.Fatalf("expected wrapped venue error, got %v", err)
	}
}

func TestGatewayAdapterFallsBackToReferencePrice(t *testing.T) {
	client := &mockGatewayClient{order: venue.GatewayOrder{OrderID: "G1", Status: "complete", FilledShares: "10"}}
	adapter := NewGatewayAdapter("gateway", "nse", client)

	intent := marketIntent(10)
	intent.Symbol = "NSE:SBIN-EQ:3045"
	report, err := adapter.PlaceOrder(context.Background(), intent, 612.5)
	if err != nil {
		t.Fatalf("PlaceOrder returned error: %v", err)
	}
	if report.AveragePrice == nil || *report.AveragePrice != 612.5 {
		t.Fatalf("expected reference price fallback, got %v", report.AveragePrice)
	}
	if len(report.Fills) != 1 || report.Fills[0].Quantity != 10 {
		t.Fatalf("expected one synthetic fill, got %+v", report.Fills)
	}
	if client.lastReq.Exchange != "NSE" || client.lastReq.TradingSymbol != "SBIN-EQ" || client.lastReq.SymbolToken != "3045" {
		t.Errorf("symbol not split: %+v", client.lastReq)
	}
	if client.lastReq.Duration != "DAY" {
		t.Errorf("expected DAY duration, got %s", client.lastReq.Duration)
	}
}

func TestGatewayAdapterRejection(t *testing.T) {
	client := &mockGatewayClient{err: &venue.RejectedError{Code: "AB1", Message: "insufficient funds"}}
	adapter := NewGatewayAdapter("gateway", "nse", client)

	report, err := adapter.PlaceOrder(context.Background(), marketIntent(1), 100)
	if err != nil {
		t.Fatalf("rejection should be a report, got error %v", err)
	}
	if report.Status != StatusRejected || report.Message == "" {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestCCXTAdapterNormalizesOrder(t *testing.T) {
	id, status, symbol := "c-1", "closed", "BTC/USDT:USDT"
	amount, filled, average := 2.0, 2.0, 50000.0
	ts := int64(1700000000000)
	client := &mockOrderClient{order: ccxt.Order{
		Id:        &id,
		Status:    &status,
		Symbol:    &symbol,
		Amount:    &amount,
		Filled:    &filled,
		Average:   &average,
		Timestamp: &ts,
	}}
	adapter := NewCCXTAdapter("ccxt", "binanceusdm", client)

	intent := marketIntent(2)
	intent.Symbol = symbol
	intent.TimeInForce = "IOC"
	report, err := adapter.PlaceOrder(context.Background(), intent, 1)
	if err != nil {
		t.Fatalf("PlaceOrder returned error: %v", err)
	}
	if report.Status != StatusFilled || report.VenueOrderID != "c-1" {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.AveragePrice == nil || *report.AveragePrice != average {
		t.Errorf("unexpected average %v", report.AveragePrice)
	}
	if report.SubmittedAt.UnixMilli() != ts {
		t.Errorf("timestamp not carried over")
	}
	if client.lastReq.Params["timeInForce"] != "ioc" {
		t.Errorf("expected lower-cased tif param, got %v", client.lastReq.Params)
	}

	if _, err := adapter.CancelOrder(context.Background(), "c-1", symbol); err != nil {
		t.Fatalf("CancelOrder returned error: %v", err)
	}
	expected := []string{"PlaceOrder", "CancelOrder"}
	for i, call := range expected {
		if client.calls[i] != call {
			t.Errorf("call %d mismatch: got %s want %s", i, client.calls[i], call)
		}
	}
}

func TestPaperAdapterFillsAtReference(t *testing.T) {
	adapter := NewPaperAdapter("")
	report, err := adapter.PlaceOrder(context.Background(), marketIntent(3), 42)
	if err != nil {
		t.Fatalf("PlaceOrder returned error: %v", err)
	}
	if report.Status != StatusFilled || report.FilledQuantity != 3 || *report.AveragePrice != 42 {
		t.Fatalf("unexpected paper report %+v", report)
	}

	cancelled, err := adapter.CancelOrder(context.Background(), report.VenueOrderID, "BTCUSDT")
	if err != nil || cancelled.Status != StatusFilled {
		t.Fatalf("cancel of filled paper order should return terminal report: %+v %v", cancelled, err)
	}
	if _, err := adapter.CancelOrder(context.Background(), "nope", ""); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
	if _, err := adapter.PlaceOrder(context.Background(), marketIntent(1), 0); err == nil {
		t.Fatalf("expected error for zero reference price")
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	paper := NewPaperAdapter("paper")
	if err := reg.Register(EnvSandbox, paper); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if err := reg.Register(EnvLive, paper); err != nil {
		t.Fatalf("Register live returned error: %v", err)
	}
	if err := reg.Register(EnvLive, paper); err == nil {
		t.Fatalf("expected duplicate registration error")
	}

	if _, err := reg.Lookup("paper", EnvSandbox); err != nil {
		t.Fatalf("Lookup returned error: %v", err)
	}
	if _, err := reg.Lookup("missing", EnvLive); !errors.Is(err, ErrUnknownBroker) {
		t.Fatalf("expected ErrUnknownBroker, got %v", err)
	}
	if names := reg.Brokers(); len(names) != 1 || names[0] != "paper" {
		t.Fatalf("unexpected brokers %v", names)
	}
}

func TestStatusMachine(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusAccepted, StatusPartiallyFilled, true},
		{StatusAccepted, StatusRejected, true},
		{StatusPartiallyFilled, StatusFilled, true},
		{StatusPartiallyFilled, StatusCancelled, true},
		{StatusPartiallyFilled, StatusAccepted, false},
		{StatusFilled, StatusCancelled, false},
		{StatusCancelled, StatusFilled, false},
		{StatusRejected, StatusAccepted, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.ok {
			t.Errorf("%s -> %s: got %v want %v", tc.from, tc.to, got, tc.ok)
		}
	}
	if !StatusFilled.IsTerminal() || StatusPartiallyFilled.IsTerminal() {
		t.Errorf("terminal classification wrong")
	}
}

func TestIntentValidate(t *testing.T) {
	price := -1.0
	cases := []struct {
		name   string
		mutate func(*OrderIntent)
		ok     bool
	}{
		{name: "valid", mutate: func(*OrderIntent) {}, ok: true},
		{name: "zero quantity", mutate: func(i *OrderIntent) { i.Quantity = 0 }},
		{name: "bad side", mutate: func(i *OrderIntent) { i.Side = "hold" }},
		{name: "limit without price", mutate: func(i *OrderIntent) { i.OrderType = OrderTypeLimit }},
		{name: "negative price", mutate: func(i *OrderIntent) { i.LimitPrice = &price }},
		{name: "missing symbol", mutate: func(i *OrderIntent) { i.Symbol = "" }},
	}
	for _, tc := range cases {
		intent := marketIntent(1)
		tc.mutate(&intent)
		if err := intent.Validate(); (err == nil) != tc.ok {
			t.Errorf("%s: unexpected validation result %v", tc.name, err)
		}
	}
}
