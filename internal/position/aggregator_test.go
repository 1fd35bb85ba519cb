package position

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"trade-router/internal/store"
)

func fill(account, symbol, side string, qty, price float64, ts time.Time) store.LedgerFill {
	return store.LedgerFill{AccountID: account, Symbol: symbol, Side: side, Quantity: qty, Price: price, ExecutedAt: ts}
}

func TestApplyFillIgnoresNonPositive(t *testing.T) {
	agg := NewAggregator()
	if agg.ApplyFill(Fill{AccountID: "a", Symbol: "BTC", Side: "buy", Quantity: 0, Price: 10}) {
		t.Fatalf("zero quantity must be ignored")
	}
	if agg.ApplyFill(Fill{AccountID: "a", Symbol: "BTC", Side: "buy", Quantity: 1, Price: -1}) {
		t.Fatalf("negative price must be ignored")
	}
	if len(agg.Snapshot()) != 0 {
		t.Fatalf("ignored fills must not create positions")
	}
}

func TestRebuildAggregates(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	agg := NewAggregator()
	agg.Rebuild([]store.LedgerFill{
		fill("acc", "BTCUSDT", "buy", 1, 100, t0),
		fill("acc", "BTCUSDT", "buy", 3, 200, t0.Add(time.Minute)),
		fill("acc", "BTCUSDT", "sell", 1, 300, t0.Add(2*time.Minute)),
		fill("acc", "ETHUSDT", "sell", 2, 10, t0),
	})

	snap := agg.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 positions, got %+v", snap)
	}

	btc := snap[0]
	if btc.ID != "acc:BTCUSDT" || btc.Quantity != 3 {
		t.Fatalf("unexpected btc position %+v", btc)
	}
	if btc.AveragePrice != 175 {
		t.Fatalf("long average uses buy fills only: got %f", btc.AveragePrice)
	}
	if btc.TradedQuantity != 5 || btc.TradedNotional != 1000 {
		t.Fatalf("unexpected traded totals %+v", btc)
	}
	if btc.LastPrice != 300 || btc.MarketValue != 900 {
		t.Fatalf("last price should be last write, got %f (value %f)", btc.LastPrice, btc.MarketValue)
	}

	eth := snap[1]
	if eth.Quantity != -2 || eth.AveragePrice != 10 || eth.Side() != "short" {
		t.Fatalf("unexpected eth position %+v", eth)
	}
}

func TestRebuildOrdersByExecutionTime(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	agg := NewAggregator()
	agg.Rebuild([]store.LedgerFill{
		fill("acc", "BTCUSDT", "buy", 1, 300, t0.Add(time.Hour)),
		fill("acc", "BTCUSDT", "buy", 1, 100, t0),
	})
	pos, ok := agg.Get("acc", "BTCUSDT")
	if !ok {
		t.Fatalf("position missing")
	}
	if pos.LastPrice != 300 {
		t.Fatalf("replay must follow execution time, last price got %f", pos.LastPrice)
	}
}

func TestRebuildTiesAreOrderIndependent(t *testing.T) {
	ts := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	fills := []store.LedgerFill{
		fill("acc", "BTCUSDT", "buy", 0.1, 30_000.1, ts),
		fill("acc", "BTCUSDT", "buy", 0.2, 30_000.2, ts),
		fill("acc", "BTCUSDT", "sell", 0.05, 31_000, ts),
		fill("acc", "BTCUSDT", "buy", 0.3, 29_999.7, ts),
	}

	permutations := [][]int{{0, 1, 2, 3}, {3, 2, 1, 0}, {2, 0, 3, 1}, {1, 3, 0, 2}}
	var first Position
	for i, perm := range permutations {
		ordered := make([]store.LedgerFill, len(perm))
		for j, idx := range perm {
			ordered[j] = fills[idx]
		}
		agg := NewAggregator()
		agg.Rebuild(ordered)
		pos, ok := agg.Get("acc", "BTCUSDT")
		if !ok {
			t.Fatalf("permutation %d: position missing", i)
		}
		if i == 0 {
			first = pos
			continue
		}
		if pos.Quantity != first.Quantity || pos.AveragePrice != first.AveragePrice {
			t.Fatalf("permutation %d differs: %+v vs %+v", i, pos, first)
		}
	}

	if math.Abs(first.Quantity-0.55) > 1e-12 {
		t.Fatalf("net quantity should be Σ signed quantity, got %v", first.Quantity)
	}
	wantAvg := (0.1*30_000.1 + 0.2*30_000.2 + 0.3*29_999.7) / 0.6
	if math.Abs(first.AveragePrice-wantAvg) > 1e-6 {
		t.Fatalf("average price got %v want %v", first.AveragePrice, wantAvg)
	}
}

func TestFlatPositionsDropped(t *testing.T) {
	ts := time.Now().UTC()
	agg := NewAggregator()
	agg.Rebuild([]store.LedgerFill{
		fill("acc", "BTCUSDT", "buy", 0.3, 100, ts),
		fill("acc", "BTCUSDT", "sell", 0.1, 100, ts.Add(time.Second)),
		fill("acc", "BTCUSDT", "sell", 0.2, 100, ts.Add(2*time.Second)),
	})
	if snap := agg.Snapshot(); len(snap) != 0 {
		t.Fatalf("0.3 - 0.1 - 0.2 should be flat, got %+v", snap)
	}
	if _, ok := agg.Get("acc", "BTCUSDT"); ok {
		t.Fatalf("flat position should not be returned")
	}
}

func TestParseID(t *testing.T) {
	cases := []struct {
		id      string
		account string
		symbol  string
		ok      bool
	}{
		{id: "acc-1:BTCUSDT", account: "acc-1", symbol: "BTCUSDT", ok: true},
		{id: "acc-1:NSE:SBIN-EQ", account: "acc-1", symbol: "NSE:SBIN-EQ", ok: true},
		{id: ":BTCUSDT", account: "", symbol: "BTCUSDT", ok: true},
		{id: "BTCUSDT", ok: false},
		{id: "acc-1:", ok: false},
	}
	for _, tc := range cases {
		account, symbol, ok := ParseID(tc.id)
		if ok != tc.ok || account != tc.account || symbol != tc.symbol {
			t.Errorf("ParseID(%q) = %q %q %v", tc.id, account, symbol, ok)
		}
	}
}

type stubLedger struct {
	durable   []store.LedgerFill
	simulated []store.LedgerFill
	err       error
}

func (s stubLedger) LedgerFills(context.Context) ([]store.LedgerFill, error) {
	return s.durable, s.err
}

func (s stubLedger) SimulatedFills(context.Context) ([]store.LedgerFill, error) {
	return s.simulated, s.err
}

func TestReplaySelectsLedger(t *testing.T) {
	ts := time.Now().UTC()
	src := stubLedger{
		durable:   []store.LedgerFill{fill("acc", "BTCUSDT", "buy", 1, 100, ts)},
		simulated: []store.LedgerFill{fill("acc", "ETHUSDT", "buy", 2, 10, ts)},
	}

	durable, err := Replay(context.Background(), src, LedgerDurable)
	if err != nil {
		t.Fatalf("Replay returned error: %v", err)
	}
	if snap := durable.Snapshot(); len(snap) != 1 || snap[0].Symbol != "BTCUSDT" {
		t.Fatalf("durable replay got %+v", snap)
	}

	simulated, err := Replay(context.Background(), src, LedgerSimulated)
	if err != nil {
		t.Fatalf("Replay returned error: %v", err)
	}
	if snap := simulated.Snapshot(); len(snap) != 1 || snap[0].Symbol != "ETHUSDT" {
		t.Fatalf("simulated replay got %+v", snap)
	}

	if _, err := Replay(context.Background(), stubLedger{err: errors.New("boom")}, LedgerDurable); err == nil {
		t.Fatalf("expected ledger error to propagate")
	}
}
