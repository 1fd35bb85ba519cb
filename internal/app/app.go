package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"trade-router/internal/api"
	"trade-router/internal/config"
	"trade-router/internal/execution"
	"trade-router/internal/log"
	"trade-router/internal/metrics"
	"trade-router/internal/monitor"
	"trade-router/internal/position"
	"trade-router/internal/publisher"
	"trade-router/internal/risk"
	"trade-router/internal/router"
	"trade-router/internal/store"
	"trade-router/internal/venue"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// components 为装配完成的运行期组件。
type components struct {
	repo      store.OrderRepository
	registry  *execution.Registry
	limits    *risk.DynamicLimitRule
	router    *router.Router
	publisher *publisher.Publisher
	server    *api.Server
	closers   []func() error
}

func (a *App) build() (*components, error) {
	c := &components{}

	var (
		stats    *metrics.Metrics
		observer venue.Observer
	)
	if a.cfg.Metrics.Enabled {
		stats = metrics.New()
		observer = stats
	}

	repo, err := store.NewOrderRepository(a.store, log.Component(a.logger, "store"))
	if err != nil {
		return nil, fmt.Errorf("初始化订单仓储失败: %w", err)
	}
	c.repo = repo

	registry, err := buildRegistry(a.cfg.Venues, observer, log.Component(a.logger, "venue"))
	if err != nil {
		return nil, fmt.Errorf("初始化执行场所失败: %w", err)
	}
	c.registry = registry

	thresholds, err := risk.NewSQLiteThresholdStore(a.store.DB())
	if err != nil {
		return nil, fmt.Errorf("初始化止损阈值存储失败: %w", err)
	}
	riskLogger := log.Component(a.logger, "risk")
	tracker, err := risk.NewDailyTracker(a.store.DB(), a.cfg.Risk, riskLogger)
	if err != nil {
		return nil, fmt.Errorf("初始化日度亏损监控失败: %w", err)
	}
	c.limits = risk.NewDynamicLimitRule(a.cfg.Risk)
	alerts := risk.NewAlertLog(a.cfg.Router.AlertBuffer)
	engine := risk.NewEngine(riskLogger, alerts,
		c.limits,
		risk.NewStopLossRule(thresholds, a.cfg.Risk.DefaultStopLoss, a.cfg.Risk.AlertRatio),
		risk.NewDailyLossRule(tracker, a.cfg.Risk.MaxDailyLoss),
		risk.NewNotionalRule(a.cfg.Risk),
	)

	events, err := monitor.NewService(a.store, log.Component(a.logger, "monitor"))
	if err != nil {
		return nil, fmt.Errorf("初始化事件日志失败: %w", err)
	}

	opts := []router.Option{router.WithJournal(events)}
	if stats != nil {
		opts = append(opts, router.WithRecorder(stats))
	}
	if a.cfg.Publisher.Enabled {
		sink, closeSink, err := publisher.NewSink(a.cfg.Publisher)
		if err != nil {
			return nil, fmt.Errorf("初始化推送通道失败: %w", err)
		}
		c.closers = append(c.closers, closeSink)
		c.publisher = publisher.New(a.cfg.Publisher, sink, log.Component(a.logger, "publisher"))
		opts = append(opts, router.WithNotifier(c.publisher))
	}

	mode, err := router.ParseMode(a.cfg.Router.Mode)
	if err != nil {
		return nil, err
	}
	c.router, err = router.New(router.Config{
		Mode:               mode,
		DailyNotionalLimit: a.cfg.Router.DailyNotionalLimit,
		FallbackPrice:      a.cfg.Router.FallbackPrice,
		MinPrice:           a.cfg.Router.MinPrice,
		SandboxMaxQuantity: a.cfg.Router.SandboxMaxQuantity,
	}, registry, engine, repo, log.Component(a.logger, "router"), opts...)
	if err != nil {
		return nil, fmt.Errorf("初始化路由器失败: %w", err)
	}

	deps := api.Dependencies{
		Router:     c.router,
		Repo:       repo,
		Alerts:     alerts,
		Thresholds: thresholds,
		Events:     events,
	}
	if stats != nil {
		deps.Metrics = stats.Handler()
		deps.MetricsPath = a.cfg.Metrics.Path
		stats.SetDailyNotional(0, a.cfg.Router.DailyNotionalLimit)
	}
	c.server, err = api.NewServer(deps, log.Component(a.logger, "api"))
	if err != nil {
		return nil, err
	}
	return c, nil
}

// warmUp 用持久化流水恢复敞口，并按需向下游重发持仓快照。
func (a *App) warmUp(ctx context.Context, c *components) error {
	agg, err := position.Replay(ctx, c.repo, position.LedgerDurable)
	if err != nil {
		return fmt.Errorf("回放成交流水失败: %w", err)
	}
	snapshot := agg.Snapshot()
	seeds := make([]risk.SeedPosition, 0, len(snapshot))
	for _, p := range snapshot {
		seeds = append(seeds, risk.SeedPosition{AccountID: p.AccountID, Symbol: p.Symbol, Quantity: p.Quantity})
	}
	c.limits.Seed(seeds)
	a.logger.Info("敞口已从成交流水恢复", zap.Int("positions", len(seeds)))

	if c.publisher != nil && a.cfg.Publisher.ReplayOnStart {
		if err := c.publisher.ReplaySnapshot(ctx, c.router.Positions); err != nil {
			a.logger.Warn("重发持仓快照失败", zap.Error(err))
		}
	}
	return nil
}

// Run 启动 HTTP 接口与推送协程，直到收到退出信号。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("路由服务初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("mode", a.cfg.Router.Mode),
		zap.String("addr", a.cfg.HTTP.Addr),
	)

	c, err := a.build()
	if err != nil {
		return err
	}
	defer func() {
		for _, closeFn := range c.closers {
			if err := closeFn(); err != nil {
				a.logger.Warn("释放资源失败", zap.Error(err))
			}
		}
	}()

	// 快照只入队，推送协程启动后再投递
	if err := a.warmUp(ctx, c); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if c.publisher != nil {
		g.Go(func() error { return c.publisher.Run(gctx) })
	}
	g.Go(func() error { return serveHTTP(gctx, c.server.Handler(), a.cfg.HTTP, log.Component(a.logger, "http")) })

	a.logger.Info("路由服务已启动", zap.Strings("brokers", c.registry.Brokers()))
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("系统异常退出: %w", err)
	}
	a.logger.Info("系统收到退出信号，正在停止")
	return nil
}
