package router

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"trade-router/internal/execution"
	"trade-router/internal/position"
	"trade-router/internal/risk"
	"trade-router/internal/store"
)

// unassignedOrderPrefix 标记场所未回填订单号的本地占位号。
const unassignedOrderPrefix = "unassigned-"

// RiskEngine 为路由器依赖的风控能力。
type RiskEngine interface {
	Evaluate(ctx context.Context, order execution.OrderIntent, rc risk.Context) (risk.Decision, error)
	RegisterExecution(ctx context.Context, order execution.OrderIntent, report execution.ExecutionReport) error
}

// Notifier 接收下游推送，实现方必须立即返回。
type Notifier interface {
	PublishTransaction(report execution.ExecutionReport)
	PublishLog(level, message string, fields map[string]interface{})
}

// Journal 记录路由事件，写入失败由实现方自行记录日志。
type Journal interface {
	RecordRouted(ctx context.Context, correlationID string, report execution.ExecutionReport, alerts []risk.Signal)
	RecordRiskRejected(ctx context.Context, intent execution.OrderIntent, lock risk.Signal)
	RecordCancelled(ctx context.Context, report execution.ExecutionReport)
	RecordPersistenceFailure(ctx context.Context, report execution.ExecutionReport, err error)
	RecordModeChange(ctx context.Context, from, to string, dailyLimit float64)
}

// Recorder 记录路由指标。
type Recorder interface {
	ObserveRoute(broker, mode, outcome string)
	SetDailyNotional(used, limit float64)
}

// Config 为路由器参数。
type Config struct {
	Mode               Mode
	DailyNotionalLimit float64
	FallbackPrice      float64
	MinPrice           float64
	SandboxMaxQuantity float64
}

// RouteContext 为单次路由的调用方上下文。
type RouteContext struct {
	CorrelationID string
	// DailyLoss 调用方已知的当日亏损，为空时由风控自行读取。
	DailyLoss *float64
}

// ClosePositionRequest 将持仓调整到目标数量，TargetQuantity 为 0 表示全部平仓。
type ClosePositionRequest struct {
	Broker         string
	TargetQuantity float64
	LastPrice      *float64
	Tags           []string
	Notes          string
	Risk           execution.RiskOverrides
}

// Option 配置可选依赖。
type Option func(*Router)

// WithNotifier 设置下游推送。
func WithNotifier(n Notifier) Option {
	return func(r *Router) {
		if n != nil {
			r.notifier = n
		}
	}
}

// WithJournal 设置事件日志。
func WithJournal(j Journal) Option {
	return func(r *Router) {
		if j != nil {
			r.journal = j
		}
	}
}

// WithRecorder 设置指标采集。
func WithRecorder(rec Recorder) Option {
	return func(r *Router) {
		if rec != nil {
			r.recorder = rec
		}
	}
}

// WithClock 替换时钟，测试用。
func WithClock(now func() time.Time) Option {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

// Router 串联风控、场所适配器与持久化。
type Router struct {
	cfg      Config
	registry *execution.Registry
	engine   RiskEngine
	repo     store.OrderRepository
	logger   *zap.Logger

	notifier Notifier
	journal  Journal
	recorder Recorder
	now      func() time.Time

	state *state
}

// New 创建路由器。
func New(cfg Config, registry *execution.Registry, engine RiskEngine, repo store.OrderRepository, logger *zap.Logger, opts ...Option) (*Router, error) {
	if registry == nil {
		return nil, errors.New("router: registry 不能为空")
	}
	if engine == nil {
		return nil, errors.New("router: 风控引擎不能为空")
	}
	if repo == nil {
		return nil, errors.New("router: 订单仓储不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeSandbox
	}
	if _, err := ParseMode(string(cfg.Mode)); err != nil {
		return nil, err
	}
	if cfg.MinPrice <= 0 {
		cfg.MinPrice = 1e-8
	}
	if cfg.FallbackPrice < cfg.MinPrice {
		cfg.FallbackPrice = cfg.MinPrice
	}

	r := &Router{
		cfg:      cfg,
		registry: registry,
		engine:   engine,
		repo:     repo,
		logger:   logger,
		notifier: nopNotifier{},
		journal:  nopJournal{},
		recorder: nopRecorder{},
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	r.state = newState(cfg.Mode, cfg.DailyNotionalLimit)
	return r, nil
}

// State 返回当前模式与当日名义价值。
func (r *Router) State() Snapshot {
	return r.state.snapshot()
}

// Mode 返回当前模式。
func (r *Router) Mode() Mode {
	return r.state.currentMode()
}

// SetMode 切换执行模式。
func (r *Router) SetMode(ctx context.Context, mode Mode) (Snapshot, error) {
	return r.SetState(ctx, StateUpdate{Mode: &mode})
}

// SetState 更新模式、当日名义价值上限，或清零当日计数。
func (r *Router) SetState(ctx context.Context, update StateUpdate) (Snapshot, error) {
	if update.Mode != nil {
		if _, err := ParseMode(string(*update.Mode)); err != nil {
			return Snapshot{}, &ValidationError{Reason: "mode", Err: err}
		}
	}
	if update.DailyNotionalLimit != nil && !(*update.DailyNotionalLimit > 0) {
		return Snapshot{}, &ValidationError{Reason: "daily_notional_limit 必须大于 0"}
	}

	before, after := r.state.apply(update)
	if update.ResetDailyNotional {
		r.logger.Info("当日名义价值已清零", zap.Float64("previous", before.DailyNotional))
	}
	if before.Mode != after.Mode || before.DailyNotionalLimit != after.DailyNotionalLimit || update.ResetDailyNotional {
		r.logger.Info("路由器状态变更",
			zap.String("from_mode", string(before.Mode)),
			zap.String("to_mode", string(after.Mode)),
			zap.Float64("daily_notional_limit", after.DailyNotionalLimit),
		)
		r.journal.RecordModeChange(ctx, string(before.Mode), string(after.Mode), after.DailyNotionalLimit)
		r.recorder.SetDailyNotional(after.DailyNotional, after.DailyNotionalLimit)
	}
	return after, nil
}

// ReferencePrice 依次取限价、调用方最新价、兜底价，结果不低于最小正价。
func (r *Router) ReferencePrice(intent execution.OrderIntent) float64 {
	price := r.cfg.FallbackPrice
	switch {
	case intent.LimitPrice != nil && *intent.LimitPrice > 0:
		price = *intent.LimitPrice
	case intent.LastPrice != nil && *intent.LastPrice > 0:
		price = *intent.LastPrice
	}
	return math.Max(price, r.cfg.MinPrice)
}

// RouteOrder 风控通过后按当前模式下单并落库。
func (r *Router) RouteOrder(ctx context.Context, intent execution.OrderIntent, rc RouteContext) (execution.ExecutionReport, error) {
	if rc.CorrelationID == "" {
		rc.CorrelationID = uuid.NewString()
	}
	mode := r.state.currentMode()

	if err := intent.Validate(); err != nil {
		r.recorder.ObserveRoute(intent.Broker, string(mode), "invalid")
		return execution.ExecutionReport{}, &ValidationError{Reason: "订单意图非法", Err: err}
	}

	adapter, err := r.registry.Lookup(intent.Broker, mode.Environment())
	if err != nil {
		r.recorder.ObserveRoute(intent.Broker, string(mode), "unknown_broker")
		return execution.ExecutionReport{}, &NotFoundError{Kind: "broker", Key: intent.Broker, Err: err}
	}

	if mode == ModeSandbox && r.cfg.SandboxMaxQuantity > 0 && intent.Quantity > r.cfg.SandboxMaxQuantity {
		r.recorder.ObserveRoute(intent.Broker, string(mode), "invalid")
		return execution.ExecutionReport{}, &ValidationError{
			Reason: fmt.Sprintf("数量 %v 超过沙盒上限 %v", intent.Quantity, r.cfg.SandboxMaxQuantity),
		}
	}

	now := r.now()
	refPrice := r.ReferencePrice(intent)

	riskCtx := risk.ContextFromIntent(intent, refPrice, now)
	riskCtx.Venue = adapter.Venue()
	riskCtx.DailyLoss = rc.DailyLoss

	decision, err := r.engine.Evaluate(ctx, intent, riskCtx)
	if err != nil {
		r.recorder.ObserveRoute(intent.Broker, string(mode), "risk_error")
		return execution.ExecutionReport{}, fmt.Errorf("router: 风控评估失败: %w", err)
	}
	if decision.Locked() {
		r.recorder.ObserveRoute(intent.Broker, string(mode), "risk_locked")
		r.journal.RecordRiskRejected(ctx, intent, *decision.Lock)
		r.notifier.PublishLog("warn", decision.Lock.Message, map[string]interface{}{
			"rule":       decision.Lock.RuleID,
			"account_id": intent.AccountID,
			"broker":     intent.Broker,
			"symbol":     intent.Symbol,
		})
		return execution.ExecutionReport{}, &RiskLockedError{Lock: *decision.Lock, Signals: decision.Signals}
	}

	if mode == ModeDryRun {
		return r.simulate(ctx, intent, adapter, refPrice, rc, decision.Alerts())
	}
	return r.execute(ctx, intent, adapter, refPrice, mode, rc, decision.Alerts())
}

// simulate 本地按参考价全部成交，不调用场所，不占用当日额度。
func (r *Router) simulate(ctx context.Context, intent execution.OrderIntent, adapter execution.Adapter, refPrice float64, rc RouteContext, alerts []risk.Signal) (execution.ExecutionReport, error) {
	ts := r.now()
	price := refPrice
	report := execution.ExecutionReport{
		VenueOrderID:      "dry-" + uuid.NewString(),
		ClientOrderID:     intent.ClientOrderID,
		Status:            execution.StatusFilled,
		Broker:            intent.Broker,
		Venue:             adapter.Venue(),
		AccountID:         intent.AccountID,
		Symbol:            intent.Symbol,
		Side:              intent.Side,
		OrderType:         intent.OrderType,
		RequestedQuantity: intent.Quantity,
		FilledQuantity:    intent.Quantity,
		AveragePrice:      &price,
		SubmittedAt:       ts,
		Fills:             []execution.Fill{{Quantity: intent.Quantity, Price: price, Timestamp: ts}},
		Tags:              intent.Tags,
		Mode:              string(ModeDryRun),
		Simulated:         true,
	}

	sim := &store.SimulatedExecution{
		ID:            report.VenueOrderID,
		CorrelationID: rc.CorrelationID,
		AccountID:     intent.AccountID,
		Broker:        intent.Broker,
		Venue:         report.Venue,
		Symbol:        intent.Symbol,
		Side:          string(intent.Side),
		OrderType:     string(intent.OrderType),
		Quantity:      intent.Quantity,
		Price:         price,
		Tags:          intent.Tags,
		ExecutedAt:    ts,
	}
	if err := r.repo.CreateSimulated(ctx, sim); err != nil {
		r.logger.Error("模拟成交落库失败",
			zap.String("correlation_id", rc.CorrelationID),
			zap.String("order_id", report.VenueOrderID),
			zap.Error(err),
		)
		r.recorder.ObserveRoute(intent.Broker, string(ModeDryRun), "persistence_error")
		return report, &PersistenceError{Report: report, Err: err}
	}

	r.logger.Info("模拟成交",
		zap.String("correlation_id", rc.CorrelationID),
		zap.String("broker", intent.Broker),
		zap.String("symbol", intent.Symbol),
		zap.Float64("quantity", intent.Quantity),
		zap.Float64("price", price),
	)
	r.recorder.ObserveRoute(intent.Broker, string(ModeDryRun), "filled")
	r.journal.RecordRouted(ctx, rc.CorrelationID, report, alerts)
	r.notifier.PublishTransaction(report)
	return report, nil
}

func (r *Router) execute(ctx context.Context, intent execution.OrderIntent, adapter execution.Adapter, refPrice float64, mode Mode, rc RouteContext, alerts []risk.Signal) (execution.ExecutionReport, error) {
	res, err := r.state.reserve(intent.Quantity * refPrice)
	if err != nil {
		r.recorder.ObserveRoute(intent.Broker, string(mode), "daily_limit")
		r.logger.Warn("超过当日名义价值上限",
			zap.String("correlation_id", rc.CorrelationID),
			zap.String("broker", intent.Broker),
			zap.Error(err),
		)
		return execution.ExecutionReport{}, err
	}

	report, err := adapter.PlaceOrder(ctx, intent, refPrice)
	if err != nil {
		r.state.release(res)
		r.recorder.ObserveRoute(intent.Broker, string(mode), "venue_error")
		r.logger.Warn("场所下单失败",
			zap.String("correlation_id", rc.CorrelationID),
			zap.String("broker", intent.Broker),
			zap.String("symbol", intent.Symbol),
			zap.Error(err),
		)
		return execution.ExecutionReport{}, &VenueError{Broker: intent.Broker, Err: err}
	}
	if report.Status == execution.StatusRejected {
		r.state.release(res)
		r.recorder.ObserveRoute(intent.Broker, string(mode), "venue_rejected")
		r.logger.Warn("场所拒单",
			zap.String("correlation_id", rc.CorrelationID),
			zap.String("broker", intent.Broker),
			zap.String("message", report.Message),
		)
		return execution.ExecutionReport{}, &VenueError{Broker: intent.Broker, Report: &report}
	}

	// 场所受理但未回填订单号时生成本地占位号，订单仍需落库以便对账
	if strings.TrimSpace(report.VenueOrderID) == "" {
		report.VenueOrderID = unassignedOrderPrefix + uuid.NewString()
		r.logger.Warn("场所未返回订单号，使用本地占位号",
			zap.String("correlation_id", rc.CorrelationID),
			zap.String("broker", intent.Broker),
			zap.String("client_order_id", intent.ClientOrderID),
			zap.String("order_id", report.VenueOrderID),
		)
	}

	// 未终结的挂单保留按参考价预占的额度，撤单时再按实际成交结算
	if report.Status.IsTerminal() {
		r.state.settle(res, report.Notional())
	} else {
		broker := report.Broker
		if broker == "" {
			broker = intent.Broker
		}
		r.state.hold(holdKey(broker, report.VenueOrderID), res)
	}

	report.Mode = string(mode)
	if report.AccountID == "" {
		report.AccountID = intent.AccountID
	}
	if report.ClientOrderID == "" {
		report.ClientOrderID = intent.ClientOrderID
	}
	if len(report.Tags) == 0 {
		report.Tags = intent.Tags
	}

	order := orderFromReport(intent, report, rc.CorrelationID)
	persistErr := r.repo.CreateOrder(ctx, order)

	// 订单已在场所生效，无论落库成败都要更新敞口
	if err := r.engine.RegisterExecution(ctx, intent, report); err != nil {
		r.logger.Warn("登记成交到风控失败",
			zap.String("correlation_id", rc.CorrelationID),
			zap.String("order_id", report.VenueOrderID),
			zap.Error(err),
		)
	}
	snap := r.state.snapshot()
	r.recorder.SetDailyNotional(snap.DailyNotional, snap.DailyNotionalLimit)

	if persistErr != nil {
		r.logger.Error("订单已在场所生效但落库失败，需要人工对账",
			zap.String("correlation_id", rc.CorrelationID),
			zap.String("broker", report.Broker),
			zap.String("venue", report.Venue),
			zap.String("order_id", report.VenueOrderID),
			zap.String("status", string(report.Status)),
			zap.Float64("filled", report.FilledQuantity),
			zap.Error(persistErr),
		)
		r.recorder.ObserveRoute(intent.Broker, string(mode), "persistence_error")
		r.journal.RecordPersistenceFailure(ctx, report, persistErr)
		r.notifier.PublishLog("error", "订单落库失败，需要对账", map[string]interface{}{
			"broker":   report.Broker,
			"order_id": report.VenueOrderID,
			"error":    persistErr.Error(),
		})
		return report, &PersistenceError{Report: report, Err: persistErr}
	}

	r.logger.Info("订单已路由",
		zap.String("correlation_id", rc.CorrelationID),
		zap.String("broker", report.Broker),
		zap.String("order_id", report.VenueOrderID),
		zap.String("status", string(report.Status)),
		zap.Float64("filled", report.FilledQuantity),
		zap.Float64("daily_notional", snap.DailyNotional),
	)
	r.recorder.ObserveRoute(intent.Broker, string(mode), string(report.Status))
	r.journal.RecordRouted(ctx, rc.CorrelationID, report, alerts)
	r.notifier.PublishTransaction(report)
	return report, nil
}

// Cancel 撤销订单，对已终结的订单幂等返回当前状态。
func (r *Router) Cancel(ctx context.Context, broker, venueOrderID string) (execution.ExecutionReport, error) {
	order, err := r.repo.LoadOrder(ctx, broker, venueOrderID)
	if errors.Is(err, store.ErrNotFound) {
		return r.cancelSimulated(ctx, broker, venueOrderID)
	}
	if err != nil {
		return execution.ExecutionReport{}, fmt.Errorf("router: 查询订单失败: %w", err)
	}

	if execution.Status(order.Status).IsTerminal() {
		r.logger.Info("订单已终结，撤单为空操作",
			zap.String("broker", broker),
			zap.String("order_id", venueOrderID),
			zap.String("status", order.Status),
		)
		return ReportFromOrder(order), nil
	}

	env := Mode(order.Mode).Environment()
	adapter, err := r.registry.Lookup(broker, env)
	if err != nil {
		return execution.ExecutionReport{}, &NotFoundError{Kind: "broker", Key: broker, Err: err}
	}

	venueReport, err := adapter.CancelOrder(ctx, venueOrderID, order.Symbol)
	if err != nil {
		if errors.Is(err, execution.ErrOrderNotFound) {
			return execution.ExecutionReport{}, &NotFoundError{Kind: "order", Key: venueOrderID, Err: err}
		}
		r.logger.Warn("场所撤单失败",
			zap.String("broker", broker),
			zap.String("order_id", venueOrderID),
			zap.Error(err),
		)
		return execution.ExecutionReport{}, &VenueError{Broker: broker, Err: err}
	}

	cancel, extra := mergeCancel(order, venueReport, r.now())
	created, err := r.repo.RecordCancellation(ctx, order.ID, cancel)
	if err != nil {
		// 撤单已在场所生效，额度与敞口照常结算
		r.settleCancelled(ctx, order, cancel, extra)
		report := ReportFromOrder(applyCancel(order, cancel))
		r.logger.Error("撤单已在场所生效但落库失败，需要人工对账",
			zap.String("broker", broker),
			zap.String("order_id", venueOrderID),
			zap.String("status", string(report.Status)),
			zap.Float64("filled", report.FilledQuantity),
			zap.Error(err),
		)
		r.journal.RecordPersistenceFailure(ctx, report, err)
		return report, &PersistenceError{Report: report, Err: err}
	}

	if created {
		r.settleCancelled(ctx, order, cancel, extra)
	}

	reloaded, err := r.repo.LoadOrder(ctx, broker, venueOrderID)
	if err != nil {
		return execution.ExecutionReport{}, fmt.Errorf("router: 重新读取订单失败: %w", err)
	}
	report := ReportFromOrder(reloaded)
	if !created {
		return report, nil
	}

	r.logger.Info("订单已撤销",
		zap.String("broker", broker),
		zap.String("order_id", venueOrderID),
		zap.String("status", string(report.Status)),
		zap.Float64("filled", report.FilledQuantity),
	)
	r.journal.RecordCancelled(ctx, report)
	r.notifier.PublishTransaction(report)
	return report, nil
}

// settleCancelled 结算挂单预占，并把撤单前新增的成交登记到风控敞口。
func (r *Router) settleCancelled(ctx context.Context, order store.Order, cancel store.Cancellation, extra float64) {
	final := 0.0
	if cancel.AveragePrice != nil {
		final = cancel.FilledQuantity * *cancel.AveragePrice
	}
	if res, ok := r.state.take(holdKey(order.Broker, order.VenueOrderID)); ok {
		r.state.settle(res, final)
	} else if extra > 0 && len(cancel.Fills) > 0 {
		r.state.consume(extra * cancel.Fills[0].Price)
	}
	snap := r.state.snapshot()
	r.recorder.SetDailyNotional(snap.DailyNotional, snap.DailyNotionalLimit)

	if extra <= 0 || len(cancel.Fills) == 0 {
		return
	}
	price := cancel.Fills[0].Price
	intent := execution.OrderIntent{
		Broker:    order.Broker,
		AccountID: order.AccountID,
		Symbol:    order.Symbol,
		Side:      execution.Side(order.Side),
		Quantity:  order.Quantity,
		OrderType: execution.OrderType(order.OrderType),
	}
	fill := execution.ExecutionReport{
		VenueOrderID:      order.VenueOrderID,
		Status:            execution.Status(cancel.Status),
		Broker:            order.Broker,
		Venue:             order.Venue,
		AccountID:         order.AccountID,
		Symbol:            order.Symbol,
		Side:              execution.Side(order.Side),
		RequestedQuantity: order.Quantity,
		FilledQuantity:    extra,
		AveragePrice:      &price,
		SubmittedAt:       cancel.Fills[0].ExecutedAt,
	}
	if err := r.engine.RegisterExecution(ctx, intent, fill); err != nil {
		r.logger.Warn("登记撤单前成交到风控失败",
			zap.String("broker", order.Broker),
			zap.String("order_id", order.VenueOrderID),
			zap.Error(err),
		)
	}
}

// cancelSimulated 模拟成交都是终态，找到即原样返回。
func (r *Router) cancelSimulated(ctx context.Context, broker, id string) (execution.ExecutionReport, error) {
	sim, err := r.repo.LoadSimulated(ctx, id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && sim.Broker != broker) {
		return execution.ExecutionReport{}, &NotFoundError{Kind: "order", Key: id, Err: store.ErrNotFound}
	}
	if err != nil {
		return execution.ExecutionReport{}, fmt.Errorf("router: 查询模拟成交失败: %w", err)
	}
	return reportFromSimulated(sim), nil
}

// Positions 按当前模式回放对应流水，返回持仓快照。
func (r *Router) Positions(ctx context.Context) ([]position.Position, error) {
	agg, err := position.Replay(ctx, r.repo, r.ledger())
	if err != nil {
		return nil, err
	}
	return agg.Snapshot(), nil
}

func (r *Router) ledger() position.Ledger {
	if r.state.currentMode() == ModeDryRun {
		return position.LedgerSimulated
	}
	return position.LedgerDurable
}

// ClosePosition 按当前持仓与目标数量的差额下市价单，走与 RouteOrder 相同的路径。
func (r *Router) ClosePosition(ctx context.Context, positionID string, req ClosePositionRequest) (execution.ExecutionReport, error) {
	accountID, symbol, ok := position.ParseID(positionID)
	if !ok {
		return execution.ExecutionReport{}, &ValidationError{Reason: fmt.Sprintf("持仓 ID 非法: %q", positionID)}
	}
	if strings.TrimSpace(req.Broker) == "" {
		return execution.ExecutionReport{}, &ValidationError{Reason: "broker 不能为空"}
	}

	agg, err := position.Replay(ctx, r.repo, r.ledger())
	if err != nil {
		return execution.ExecutionReport{}, fmt.Errorf("router: 读取持仓失败: %w", err)
	}
	current, found := agg.Get(accountID, symbol)
	if !found && req.TargetQuantity == 0 {
		return execution.ExecutionReport{}, &NotFoundError{Kind: "position", Key: positionID}
	}

	delta := req.TargetQuantity - current.Quantity
	if math.Abs(delta) < 1e-9 {
		return execution.ExecutionReport{}, &ValidationError{Reason: "持仓已等于目标数量"}
	}

	side := execution.SideBuy
	if delta < 0 {
		side = execution.SideSell
	}
	lastPrice := req.LastPrice
	if lastPrice == nil && current.LastPrice > 0 {
		p := current.LastPrice
		lastPrice = &p
	}

	tags := append([]string{"close_position"}, req.Tags...)
	intent := execution.OrderIntent{
		Broker:    req.Broker,
		AccountID: accountID,
		Symbol:    symbol,
		Side:      side,
		Quantity:  math.Abs(delta),
		OrderType: execution.OrderTypeMarket,
		LastPrice: lastPrice,
		Tags:      tags,
		Notes:     req.Notes,
		Risk:      req.Risk,
	}
	return r.RouteOrder(ctx, intent, RouteContext{})
}

type nopNotifier struct{}

func (nopNotifier) PublishTransaction(execution.ExecutionReport) {}
func (nopNotifier) PublishLog(string, string, map[string]interface{}) {}

type nopJournal struct{}

func (nopJournal) RecordRouted(context.Context, string, execution.ExecutionReport, []risk.Signal) {}
func (nopJournal) RecordRiskRejected(context.Context, execution.OrderIntent, risk.Signal) {}
func (nopJournal) RecordCancelled(context.Context, execution.ExecutionReport) {}
func (nopJournal) RecordPersistenceFailure(context.Context, execution.ExecutionReport, error) {}
func (nopJournal) RecordModeChange(context.Context, string, string, float64) {}

type nopRecorder struct{}

func (nopRecorder) ObserveRoute(string, string, string) {}
func (nopRecorder) SetDailyNotional(float64, float64) {}
