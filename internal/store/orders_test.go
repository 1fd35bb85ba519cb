package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"trade-router/internal/config"
)

func newTestRepositories(t *testing.T) map[string]OrderRepository {
	t.Helper()

	sqliteStore, err := NewInMemory()
	if err != nil {
		t.Fatalf("NewInMemory returned error: %v", err)
	}
	t.Cleanup(func() { _ = sqliteStore.Close() })

	sqliteRepo, err := NewOrderRepository(sqliteStore, nil)
	if err != nil {
		t.Fatalf("NewOrderRepository returned error: %v", err)
	}

	return map[string]OrderRepository{
		"sqlite": sqliteRepo,
		"memory": NewMemoryRepository(),
	}
}

func sampleOrder(venueID string, submitted time.Time, fills ...Execution) *Order {
	avg := 100.0
	return &Order{
		CorrelationID:  "corr-" + venueID,
		AccountID:      "acc-1",
		Broker:         "spot",
		Venue:          "binance",
		VenueOrderID:   venueID,
		Symbol:         "BTCUSDT",
		Side:           "buy",
		OrderType:      "market",
		Quantity:       1,
		Status:         "filled",
		FilledQuantity: 1,
		AveragePrice:   &avg,
		Mode:           "live",
		Tags:           []string{"manual", StrategyTag("grid")},
		SubmittedAt:    submitted,
		Executions:     fills,
	}
}

func TestCreateAndLoadOrder(t *testing.T) {
	for name, repo := range newTestRepositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
			order := sampleOrder("v-1", ts,
				Execution{Quantity: 0.4, Price: 99, ExecutedAt: ts},
				Execution{Quantity: 0.6, Price: 100.5, ExecutedAt: ts.Add(time.Second)},
			)

			if err := repo.CreateOrder(ctx, order); err != nil {
				t.Fatalf("CreateOrder returned error: %v", err)
			}
			if order.ID == 0 {
				t.Fatalf("expected order ID to be assigned")
			}

			loaded, err := repo.LoadOrder(ctx, "spot", "v-1")
			if err != nil {
				t.Fatalf("LoadOrder returned error: %v", err)
			}
			if len(loaded.Executions) != 2 {
				t.Fatalf("expected 2 executions, got %d", len(loaded.Executions))
			}
			if loaded.AveragePrice == nil || *loaded.AveragePrice != 100 {
				t.Errorf("unexpected average price: %v", loaded.AveragePrice)
			}
			if loaded.LimitPrice != nil {
				t.Errorf("expected nil limit price, got %v", *loaded.LimitPrice)
			}
			if !loaded.SubmittedAt.Equal(ts) {
				t.Errorf("submitted_at mismatch: got %v want %v", loaded.SubmittedAt, ts)
			}
			if len(loaded.Tags) != 2 {
				t.Errorf("expected tags to round-trip, got %v", loaded.Tags)
			}

			if _, err := repo.LoadOrder(ctx, "spot", "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestRecordCancellationIsIdempotent(t *testing.T) {
	for name, repo := range newTestRepositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			order := sampleOrder("v-2", time.Now().UTC())
			order.Status = "accepted"
			order.FilledQuantity = 0
			order.AveragePrice = nil
			if err := repo.CreateOrder(ctx, order); err != nil {
				t.Fatalf("CreateOrder returned error: %v", err)
			}

			recorded, err := repo.RecordCancellation(ctx, order.ID, Cancellation{Status: "cancelled", Audit: Execution{Notes: "cancel"}})
			if err != nil || !recorded {
				t.Fatalf("first cancellation: recorded=%v err=%v", recorded, err)
			}
			recorded, err = repo.RecordCancellation(ctx, order.ID, Cancellation{Status: "cancelled", Audit: Execution{Notes: "cancel"}})
			if err != nil || recorded {
				t.Fatalf("second cancellation should be a no-op: recorded=%v err=%v", recorded, err)
			}

			loaded, err := repo.LoadOrder(ctx, "spot", "v-2")
			if err != nil {
				t.Fatalf("LoadOrder returned error: %v", err)
			}
			if loaded.Status != "cancelled" {
				t.Errorf("expected cancelled status, got %s", loaded.Status)
			}
			cancels := 0
			for _, e := range loaded.Executions {
				if e.Kind == ExecutionKindCancel {
					cancels++
					if e.Quantity != 0 {
						t.Errorf("cancellation fill must have zero quantity, got %f", e.Quantity)
					}
				}
			}
			if cancels != 1 {
				t.Fatalf("expected exactly one cancellation record, got %d", cancels)
			}
		})
	}
}

func TestRecordCancellationAppliesLateFills(t *testing.T) {
	for name, repo := range newTestRepositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ts := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
			order := sampleOrder("v-3", ts)
			order.Status = "accepted"
			order.FilledQuantity = 0
			order.AveragePrice = nil
			if err := repo.CreateOrder(ctx, order); err != nil {
				t.Fatalf("CreateOrder returned error: %v", err)
			}

			avg := 40_000.0
			recorded, err := repo.RecordCancellation(ctx, order.ID, Cancellation{
				Status:         "cancelled",
				FilledQuantity: 0.3,
				AveragePrice:   &avg,
				Fills:          []Execution{{Quantity: 0.3, Price: 40_000, ExecutedAt: ts.Add(time.Minute)}},
				Audit:          Execution{ExecutedAt: ts.Add(2 * time.Minute)},
			})
			if err != nil || !recorded {
				t.Fatalf("RecordCancellation: recorded=%v err=%v", recorded, err)
			}

			loaded, err := repo.LoadOrder(ctx, "spot", "v-3")
			if err != nil {
				t.Fatalf("LoadOrder returned error: %v", err)
			}
			if loaded.FilledQuantity != 0.3 || loaded.AveragePrice == nil || *loaded.AveragePrice != 40_000 {
				t.Fatalf("late fill not merged into order: filled=%f avg=%v", loaded.FilledQuantity, loaded.AveragePrice)
			}
			if len(loaded.Executions) != 2 || loaded.Executions[0].Kind != ExecutionKindFill {
				t.Fatalf("expected fill then cancel record, got %+v", loaded.Executions)
			}

			fills, err := repo.LedgerFills(ctx)
			if err != nil {
				t.Fatalf("LedgerFills returned error: %v", err)
			}
			if len(fills) != 1 || fills[0].Quantity != 0.3 {
				t.Fatalf("late fill missing from ledger: %+v", fills)
			}
		})
	}
}

func TestLedgerFillsAreChronological(t *testing.T) {
	for name, repo := range newTestRepositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

			late := sampleOrder("late", base.Add(time.Hour), Execution{Quantity: 1, Price: 110, ExecutedAt: base.Add(time.Hour)})
			early := sampleOrder("early", base, Execution{Quantity: 2, Price: 100, ExecutedAt: base})
			for _, o := range []*Order{late, early} {
				if err := repo.CreateOrder(ctx, o); err != nil {
					t.Fatalf("CreateOrder returned error: %v", err)
				}
			}
			if _, err := repo.RecordCancellation(ctx, late.ID, Cancellation{Status: "cancelled", FilledQuantity: late.FilledQuantity}); err != nil {
				t.Fatalf("RecordCancellation returned error: %v", err)
			}

			fills, err := repo.LedgerFills(ctx)
			if err != nil {
				t.Fatalf("LedgerFills returned error: %v", err)
			}
			if len(fills) != 2 {
				t.Fatalf("expected cancellation record to be excluded, got %d fills", len(fills))
			}
			if fills[0].Price != 100 || fills[1].Price != 110 {
				t.Errorf("fills not in chronological order: %+v", fills)
			}
		})
	}
}

func TestListOrdersFilters(t *testing.T) {
	for name, repo := range newTestRepositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

			a := sampleOrder("a", base)
			a.Tags = []string{"manual", "desk_1"}
			b := sampleOrder("b", base.Add(time.Hour))
			b.AccountID = "acc-2"
			b.Tags = []string{StrategyTag("momentum")}
			c := sampleOrder("c", base.Add(2*time.Hour))
			c.Symbol = "ETHUSDT"
			c.Tags = []string{"manual", "deskx1"}
			for _, o := range []*Order{a, b, c} {
				if err := repo.CreateOrder(ctx, o); err != nil {
					t.Fatalf("CreateOrder returned error: %v", err)
				}
			}

			cases := []struct {
				name   string
				filter Filter
				want   []string
			}{
				{name: "all newest first", filter: Filter{}, want: []string{"c", "b", "a"}},
				{name: "account", filter: Filter{AccountID: "acc-2"}, want: []string{"b"}},
				{name: "symbol", filter: Filter{Symbol: "ethusdt"}, want: []string{"c"}},
				{name: "tag", filter: Filter{Tag: "manual"}, want: []string{"c", "a"}},
				{name: "tag underscore is literal", filter: Filter{Tag: "desk_1"}, want: []string{"a"}},
				{name: "tag percent is literal", filter: Filter{Tag: "%"}, want: []string{}},
				{name: "strategy", filter: Filter{Strategy: "momentum"}, want: []string{"b"}},
				{name: "time range", filter: Filter{From: base.Add(30 * time.Minute), To: base.Add(90 * time.Minute)}, want: []string{"b"}},
				{name: "pagination", filter: Filter{Limit: 1, Offset: 1}, want: []string{"b"}},
			}

			for _, tc := range cases {
				orders, err := repo.ListOrders(ctx, tc.filter)
				if err != nil {
					t.Fatalf("%s: ListOrders returned error: %v", tc.name, err)
				}
				if len(orders) != len(tc.want) {
					t.Fatalf("%s: expected %d orders, got %d", tc.name, len(tc.want), len(orders))
				}
				for i, id := range tc.want {
					if orders[i].VenueOrderID != id {
						t.Errorf("%s: position %d got %s want %s", tc.name, i, orders[i].VenueOrderID, id)
					}
				}
			}
		})
	}
}

func TestSimulatedLedger(t *testing.T) {
	for name, repo := range newTestRepositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

			for i, price := range []float64{105, 100} {
				exec := &SimulatedExecution{
					ID:            []string{"sim-b", "sim-a"}[i],
					CorrelationID: "corr",
					Broker:        "paper",
					Venue:         "paper",
					Symbol:        "BTCUSDT",
					Side:          "buy",
					OrderType:     "market",
					Quantity:      1,
					Price:         price,
					ExecutedAt:    base.Add(time.Duration(1-i) * time.Minute),
				}
				if err := repo.CreateSimulated(ctx, exec); err != nil {
					t.Fatalf("CreateSimulated returned error: %v", err)
				}
			}

			fills, err := repo.SimulatedFills(ctx)
			if err != nil {
				t.Fatalf("SimulatedFills returned error: %v", err)
			}
			if len(fills) != 2 || fills[0].Price != 100 {
				t.Fatalf("unexpected simulated fills: %+v", fills)
			}

			loaded, err := repo.LoadSimulated(ctx, "sim-a")
			if err != nil {
				t.Fatalf("LoadSimulated returned error: %v", err)
			}
			if loaded.Price != 100 {
				t.Errorf("unexpected simulated price %f", loaded.Price)
			}
			if _, err := repo.LoadSimulated(ctx, "nope"); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestNewSQLiteAppliesPragmas(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "router.db")
	s, err := NewSQLite(config.DatabaseConfig{Path: path, MaxOpenConns: 2, MaxIdleConns: 1})
	if err != nil {
		t.Fatalf("NewSQLite returned error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	var mode string
	if err := s.DB().QueryRow("PRAGMA journal_mode;").Scan(&mode); err != nil {
		t.Fatalf("read journal_mode: %v", err)
	}
	if !strings.EqualFold(mode, "wal") {
		t.Errorf("expected WAL journal, got %q", mode)
	}
	var fk int
	if err := s.DB().QueryRow("PRAGMA foreign_keys;").Scan(&fk); err != nil {
		t.Fatalf("read foreign_keys: %v", err)
	}
	if fk != 1 {
		t.Errorf("expected foreign keys on, got %d", fk)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got %v", err)
	}
}
