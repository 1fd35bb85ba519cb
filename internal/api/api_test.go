package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"trade-router/internal/config"
	"trade-router/internal/execution"
	"trade-router/internal/monitor"
	"trade-router/internal/risk"
	"trade-router/internal/router"
	"trade-router/internal/store"
)

type testServer struct {
	handler    http.Handler
	repo       *store.MemoryRepository
	router     *router.Router
	thresholds *risk.MemoryThresholdStore
	alerts     *risk.AlertLog
}

func newTestServer(t *testing.T, limit float64) *testServer {
	t.Helper()

	registry := execution.NewRegistry()
	for _, env := range []execution.Environment{execution.EnvSandbox, execution.EnvLive} {
		if err := registry.Register(env, execution.NewPaperAdapter("paper")); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	riskCfg := config.RiskConfig{
		AlertRatio:         0.8,
		DefaultMaxNotional: 50_000,
		SymbolLimits: []config.SymbolLimitConfig{
			{Venue: "paper", Symbol: "ETHUSDT", MaxNotional: 10_000},
		},
	}
	thresholds := risk.NewMemoryThresholdStore()
	alerts := risk.NewAlertLog(16)
	engine := risk.NewEngine(nil, alerts,
		risk.NewDynamicLimitRule(riskCfg),
		risk.NewStopLossRule(thresholds, 0, riskCfg.AlertRatio),
		risk.NewNotionalRule(riskCfg),
	)

	db, err := store.NewInMemory()
	if err != nil {
		t.Fatalf("NewInMemory: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	events, err := monitor.NewService(db, nil)
	if err != nil {
		t.Fatalf("monitor: %v", err)
	}

	repo := store.NewMemoryRepository()
	r, err := router.New(router.Config{
		Mode:               router.ModeSandbox,
		DailyNotionalLimit: limit,
		FallbackPrice:      100,
		MinPrice:           0.01,
	}, registry, engine, repo, nil, router.WithJournal(events))
	if err != nil {
		t.Fatalf("router.New: %v", err)
	}

	srv, err := NewServer(Dependencies{
		Router:     r,
		Repo:       repo,
		Alerts:     alerts,
		Thresholds: thresholds,
		Events:     events,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("router_orders_total 1\n"))
		}),
	}, nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return &testServer{handler: srv.Handler(), repo: repo, router: r, thresholds: thresholds, alerts: alerts}
}

func (ts *testServer) do(t *testing.T, method, path, caps string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if caps != "" {
		req.Header.Set(CapabilityHeader, caps)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func order(symbol, side string, qty, price float64) map[string]interface{} {
	return map[string]interface{}{
		"broker":     "paper",
		"account_id": "acc-1",
		"symbol":     symbol,
		"side":       side,
		"quantity":   qty,
		"last_price": price,
	}
}

func TestPlaceOrderStatusCodes(t *testing.T) {
	ts := newTestServer(t, 20_000)

	cases := []struct {
		name   string
		caps   string
		body   map[string]interface{}
		status int
	}{
		{name: "filled", caps: "trade", body: order("BTCUSDT", "buy", 1, 100), status: http.StatusCreated},
		{name: "venue alias", caps: "admin", body: map[string]interface{}{
			"venue": "paper", "symbol": "BTCUSDT", "side": "SELL", "quantity": 0.5, "last_price": 100,
		}, status: http.StatusCreated},
		{name: "missing capability", caps: "mode", body: order("BTCUSDT", "buy", 1, 100), status: http.StatusForbidden},
		{name: "zero quantity", caps: "trade", body: order("BTCUSDT", "buy", 0, 100), status: http.StatusBadRequest},
		{name: "bad side", caps: "trade", body: order("BTCUSDT", "hold", 1, 100), status: http.StatusBadRequest},
		{name: "no broker", caps: "trade", body: map[string]interface{}{
			"symbol": "BTCUSDT", "side": "buy", "quantity": 1,
		}, status: http.StatusBadRequest},
		{name: "unknown broker", caps: "trade", body: map[string]interface{}{
			"broker": "nope", "symbol": "BTCUSDT", "side": "buy", "quantity": 1,
		}, status: http.StatusNotFound},
		{name: "position limit lock", caps: "trade", body: order("ETHUSDT", "buy", 11, 1_000), status: http.StatusBadRequest},
		{name: "daily limit", caps: "trade", body: order("BTCUSDT", "buy", 40, 1_000), status: http.StatusForbidden},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/orders", tc.caps, tc.body)
			if rec.Code != tc.status {
				t.Fatalf("status got %d want %d: %s", rec.Code, tc.status, rec.Body.String())
			}
		})
	}

	if got := ts.repo.OrderCount(); got != 2 {
		t.Fatalf("only accepted orders should persist, got %d", got)
	}
}

func TestPlaceOrderRiskLockBody(t *testing.T) {
	ts := newTestServer(t, 1e9)
	rec := ts.do(t, http.MethodPost, "/orders", "trade", order("ETHUSDT", "buy", 11, 1_000))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status got %d", rec.Code)
	}
	var body struct {
		Rule string `json:"rule"`
	}
	decode(t, rec, &body)
	if body.Rule != risk.RuleDynamicLimit {
		t.Fatalf("rule got %q", body.Rule)
	}
}

func TestPlaceOrderPersistenceFailure(t *testing.T) {
	ts := newTestServer(t, 1e9)
	ts.repo.FailCreate = errors.New("disk full")

	rec := ts.do(t, http.MethodPost, "/orders", "trade", order("BTCUSDT", "buy", 1, 100))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Reconciliation bool                      `json:"reconciliation"`
		Report         execution.ExecutionReport `json:"report"`
	}
	decode(t, rec, &body)
	if !body.Reconciliation || body.Report.VenueOrderID == "" {
		t.Fatalf("persistence failure must carry the venue report: %+v", body)
	}

	events := ts.do(t, http.MethodGet, "/events?type=persistence_failed", "", nil)
	var list struct {
		Items []monitor.Event `json:"items"`
	}
	decode(t, events, &list)
	if len(list.Items) != 1 {
		t.Fatalf("expected one persistence event, got %d", len(list.Items))
	}
}

func TestCancelOrder(t *testing.T) {
	ts := newTestServer(t, 1e9)

	rec := ts.do(t, http.MethodPost, "/orders", "trade", order("BTCUSDT", "buy", 1, 100))
	if rec.Code != http.StatusCreated {
		t.Fatalf("place: %d %s", rec.Code, rec.Body.String())
	}
	var placed execution.ExecutionReport
	decode(t, rec, &placed)

	for i := 0; i < 2; i++ {
		rec = ts.do(t, http.MethodPost, "/orders/paper/cancel", "trade", map[string]string{"order_id": placed.VenueOrderID})
		if rec.Code != http.StatusOK {
			t.Fatalf("cancel #%d: %d %s", i, rec.Code, rec.Body.String())
		}
	}

	rec = ts.do(t, http.MethodPost, "/orders/paper/cancel", "trade", map[string]string{"order_id": "missing"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown order status got %d", rec.Code)
	}
	rec = ts.do(t, http.MethodPost, "/orders/paper/cancel", "trade", map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing order_id status got %d", rec.Code)
	}
}

func TestHistoryFilters(t *testing.T) {
	ts := newTestServer(t, 1e9)
	first := order("BTCUSDT", "buy", 1, 100)
	first["strategy"] = "grid"
	ts.do(t, http.MethodPost, "/orders", "trade", first)
	ts.do(t, http.MethodPost, "/orders", "trade", order("SOLUSDT", "buy", 2, 20))

	var orders struct {
		Items []OrderView `json:"items"`
	}
	rec := ts.do(t, http.MethodGet, "/orders/log?strategy=grid", "", nil)
	decode(t, rec, &orders)
	if len(orders.Items) != 1 || orders.Items[0].Report.Symbol != "BTCUSDT" {
		t.Fatalf("strategy filter got %+v", orders.Items)
	}

	var execs struct {
		Items []ExecutionView `json:"items"`
	}
	rec = ts.do(t, http.MethodGet, "/executions?symbol=SOLUSDT&limit=10", "", nil)
	decode(t, rec, &execs)
	if len(execs.Items) != 1 || execs.Items[0].Quantity != 2 {
		t.Fatalf("executions got %+v", execs.Items)
	}

	for _, path := range []string{"/orders/log?from=yesterday", "/executions?limit=abc", "/executions?limit=0"} {
		if rec := ts.do(t, http.MethodGet, path, "", nil); rec.Code != http.StatusBadRequest {
			t.Errorf("%s status got %d", path, rec.Code)
		}
	}
}

func TestPositionsAndClose(t *testing.T) {
	ts := newTestServer(t, 1e9)
	ts.do(t, http.MethodPost, "/orders", "trade", order("BTCUSDT", "buy", 3, 100))

	var snap struct {
		Positions []struct {
			ID          string  `json:"id"`
			Quantity    float64 `json:"quantity"`
			MarketValue float64 `json:"market_value"`
		} `json:"positions"`
	}
	decode(t, ts.do(t, http.MethodGet, "/positions", "", nil), &snap)
	if len(snap.Positions) != 1 || snap.Positions[0].ID != "acc-1:BTCUSDT" || snap.Positions[0].MarketValue != 300 {
		t.Fatalf("positions got %+v", snap.Positions)
	}

	rec := ts.do(t, http.MethodPost, "/positions/acc-1:BTCUSDT/close", "trade", map[string]interface{}{
		"broker": "paper", "target_quantity": 1,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("resize: %d %s", rec.Code, rec.Body.String())
	}
	var report execution.ExecutionReport
	decode(t, rec, &report)
	if report.Side != execution.SideSell || report.FilledQuantity != 2 {
		t.Fatalf("resize should sell 2, got %+v", report)
	}

	rec = ts.do(t, http.MethodPost, "/positions/acc-1:ETHUSDT/close", "trade", map[string]interface{}{"broker": "paper"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("closing a missing position got %d", rec.Code)
	}
	rec = ts.do(t, http.MethodPost, "/positions/acc-1:BTCUSDT/close", "trade", map[string]interface{}{
		"broker": "paper", "target_quantity": 1,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("no-op resize got %d", rec.Code)
	}
}

func TestModeEndpoints(t *testing.T) {
	ts := newTestServer(t, 1e9)

	rec := ts.do(t, http.MethodPost, "/mode", "mode", map[string]string{"mode": "live"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("live via /mode must be rejected, got %d", rec.Code)
	}
	rec = ts.do(t, http.MethodPost, "/mode", "trade", map[string]string{"mode": "dry_run"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("mode capability required, got %d", rec.Code)
	}
	rec = ts.do(t, http.MethodPost, "/mode", "mode", map[string]string{"mode": "dry_run"})
	if rec.Code != http.StatusOK {
		t.Fatalf("dry_run switch got %d", rec.Code)
	}
	if ts.router.Mode() != router.ModeDryRun {
		t.Fatalf("mode got %s", ts.router.Mode())
	}

	rec = ts.do(t, http.MethodPost, "/orders", "trade", order("BTCUSDT", "buy", 1, 100))
	if rec.Code != http.StatusCreated {
		t.Fatalf("dry run order got %d", rec.Code)
	}
	var sims struct {
		Items []SimulatedView `json:"items"`
	}
	decode(t, ts.do(t, http.MethodGet, "/orders/log?simulated=true", "", nil), &sims)
	if len(sims.Items) != 1 || ts.repo.OrderCount() != 0 {
		t.Fatalf("dry run should only write the simulated ledger: %+v", sims.Items)
	}
}

func TestStateEndpoint(t *testing.T) {
	ts := newTestServer(t, 1_000)

	rec := ts.do(t, http.MethodPut, "/state", "mode", map[string]interface{}{"mode": "live"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("state requires admin, got %d", rec.Code)
	}

	rec = ts.do(t, http.MethodPut, "/state", "admin", map[string]interface{}{
		"mode": "live", "daily_notional_limit": 5_000,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("put state got %d %s", rec.Code, rec.Body.String())
	}
	var snap router.Snapshot
	decode(t, ts.do(t, http.MethodGet, "/state", "", nil), &snap)
	if snap.Mode != router.ModeLive || snap.DailyNotionalLimit != 5_000 {
		t.Fatalf("state got %+v", snap)
	}

	ts.do(t, http.MethodPost, "/orders", "trade", order("BTCUSDT", "buy", 10, 100))
	decode(t, ts.do(t, http.MethodGet, "/state", "", nil), &snap)
	if snap.DailyNotional != 1_000 {
		t.Fatalf("daily notional got %v", snap.DailyNotional)
	}

	rec = ts.do(t, http.MethodPut, "/state", "admin", map[string]interface{}{"reset_daily_notional": true})
	decode(t, rec, &snap)
	if snap.DailyNotional != 0 {
		t.Fatalf("reset should zero the counter, got %+v", snap)
	}

	rec = ts.do(t, http.MethodPut, "/state", "admin", map[string]interface{}{"daily_notional_limit": -1})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("negative limit got %d", rec.Code)
	}
}

func TestRiskEndpoints(t *testing.T) {
	ts := newTestServer(t, 1e9)

	rec := ts.do(t, http.MethodPut, "/risk/thresholds/acc-1", "admin", map[string]float64{"threshold": 500})
	if rec.Code != http.StatusOK {
		t.Fatalf("threshold got %d", rec.Code)
	}
	if v, ok, _ := ts.thresholds.Threshold(t.Context(), "acc-1"); !ok || v != 500 {
		t.Fatalf("threshold stored %v %v", v, ok)
	}

	// 8_500 落在 ETHUSDT 上限 10_000 的预警区间
	rec = ts.do(t, http.MethodPost, "/orders", "trade", order("ETHUSDT", "buy", 8.5, 1_000))
	if rec.Code != http.StatusCreated {
		t.Fatalf("alerted order should still route, got %d %s", rec.Code, rec.Body.String())
	}
	var alerts struct {
		Items []risk.AlertEntry `json:"items"`
	}
	decode(t, ts.do(t, http.MethodGet, "/risk/alerts", "", nil), &alerts)
	if len(alerts.Items) == 0 || alerts.Items[0].RuleID != risk.RuleDynamicLimit {
		t.Fatalf("alerts got %+v", alerts.Items)
	}

	losing := order("BTCUSDT", "buy", 1, 100)
	losing["risk"] = map[string]float64{"realized_pnl": -600}
	rec = ts.do(t, http.MethodPost, "/orders", "trade", losing)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("account threshold should lock, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, 1e9)
	if rec := ts.do(t, http.MethodGet, "/healthz", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("healthz got %d", rec.Code)
	}
	rec := ts.do(t, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK || !bytes.Contains(rec.Body.Bytes(), []byte("router_orders_total")) {
		t.Fatalf("metrics got %d %q", rec.Code, rec.Body.String())
	}
}

func TestHeaderAuthorizer(t *testing.T) {
	cases := []struct {
		header string
		want   Capability
		ok     bool
	}{
		{header: "trade", want: CapabilityTrade, ok: true},
		{header: " Trade , mode", want: CapabilityMode, ok: true},
		{header: "admin", want: CapabilityTrade, ok: true},
		{header: "", want: CapabilityTrade, ok: false},
		{header: "trade", want: CapabilityAdmin, ok: false},
	}
	for _, tc := range cases {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		c.Request.Header.Set(CapabilityHeader, tc.header)
		if got := (HeaderAuthorizer{}).Allowed(c, tc.want); got != tc.ok {
			t.Errorf("header %q want %s: got %v", tc.header, tc.want, got)
		}
	}
}
