package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"

	"trade-router/internal/config"
)

type mockOrderAPI struct {
	calls    []string
	failures []error
	order    ccxt.Order
}

func (m *mockOrderAPI) next(call string) error {
	m.calls = append(m.calls, call)
	if len(m.failures) == 0 {
		return nil
	}
	err := m.failures[0]
	m.failures = m.failures[1:]
	return err
}

func (m *mockOrderAPI) CreateMarketOrder(symbol string, side string, amount float64, options ...ccxt.CreateMarketOrderOptions) (ccxt.Order, error) {
	if err := m.next("CreateMarketOrder"); err != nil {
		return ccxt.Order{}, err
	}
	return m.order, nil
}

func (m *mockOrderAPI) CreateLimitOrder(symbol string, side string, amount float64, price float64, options ...ccxt.CreateLimitOrderOptions) (ccxt.Order, error) {
	if err := m.next("CreateLimitOrder"); err != nil {
		return ccxt.Order{}, err
	}
	return m.order, nil
}

func (m *mockOrderAPI) CancelOrder(id string, options ...ccxt.CancelOrderOptions) (ccxt.Order, error) {
	if err := m.next("CancelOrder"); err != nil {
		return ccxt.Order{}, err
	}
	return m.order, nil
}

func fastRetry() config.RetryConfig {
	return config.RetryConfig{MaxAttempts: 3, MinDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestClientPlaceOrderRoutesByType(t *testing.T) {
	id := "ex-1"
	api := &mockOrderAPI{order: ccxt.Order{Id: &id}}
	client := newClient("ccxt", api, fastRetry(), config.RateLimitConfig{}, nil, nil)

	if _, err := client.PlaceOrder(context.Background(), OrderRequest{Symbol: "BTC/USDT:USDT", Side: "BUY", Type: "market", Amount: 1}); err != nil {
		t.Fatalf("PlaceOrder market returned error: %v", err)
	}
	order, err := client.PlaceOrder(context.Background(), OrderRequest{Symbol: "BTC/USDT:USDT", Side: "sell", Type: "LIMIT", Amount: 1, Price: 100})
	if err != nil {
		t.Fatalf("PlaceOrder limit returned error: %v", err)
	}
	if order.Id == nil || *order.Id != "ex-1" {
		t.Fatalf("unexpected order id %v", order.Id)
	}

	expected := []string{"CreateMarketOrder", "CreateLimitOrder"}
	if len(api.calls) != len(expected) {
		t.Fatalf("unexpected call count: got %d want %d", len(api.calls), len(expected))
	}
	for i, call := range expected {
		if api.calls[i] != call {
			t.Errorf("call %d mismatch: got %s want %s", i, api.calls[i], call)
		}
	}

	if _, err := client.PlaceOrder(context.Background(), OrderRequest{Type: "stop"}); err == nil {
		t.Fatalf("expected unsupported order type error")
	}
}

func TestClientRetriesNetworkErrors(t *testing.T) {
	api := &mockOrderAPI{failures: []error{
		&ccxt.Error{Type: ccxt.NetworkErrorErrType, Message: "reset"},
		&ccxt.Error{Type: ccxt.RequestTimeoutErrType, Message: "timeout"},
	}}
	client := newClient("ccxt", api, fastRetry(), config.RateLimitConfig{}, nil, nil)

	if _, err := client.CancelOrder(context.Background(), "1", "BTC/USDT:USDT"); err != nil {
		t.Fatalf("CancelOrder returned error: %v", err)
	}
	if len(api.calls) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(api.calls))
	}
}

func TestClientDoesNotRetryRejections(t *testing.T) {
	rejection := errors.New("insufficient margin")
	api := &mockOrderAPI{failures: []error{rejection}}
	client := newClient("ccxt", api, fastRetry(), config.RateLimitConfig{}, nil, nil)

	_, err := client.PlaceOrder(context.Background(), OrderRequest{Type: "market", Amount: 1})
	if !errors.Is(err, rejection) {
		t.Fatalf("expected rejection error, got %v", err)
	}
	if len(api.calls) != 1 {
		t.Fatalf("rejection must not be retried, got %d calls", len(api.calls))
	}
}

func TestClientMaintenanceStopsImmediately(t *testing.T) {
	api := &mockOrderAPI{failures: []error{&ccxt.Error{Type: ccxt.OnMaintenanceErrType}}}
	client := newClient("ccxt", api, fastRetry(), config.RateLimitConfig{}, nil, nil)

	_, err := client.PlaceOrder(context.Background(), OrderRequest{Type: "market", Amount: 1})
	if !errors.Is(err, ErrMaintenance) {
		t.Fatalf("expected ErrMaintenance, got %v", err)
	}
	if IsRetryable(err) {
		t.Fatalf("maintenance must not be retryable")
	}
}

func TestNewClientRejectsUnknownExchange(t *testing.T) {
	if _, err := NewClient(config.CCXTVenueConfig{Exchange: "kraken"}, false, nil, nil); !errors.Is(err, ErrUnsupportedExchange) {
		t.Fatalf("expected ErrUnsupportedExchange, got %v", err)
	}
}
