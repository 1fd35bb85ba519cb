package publisher

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"trade-router/internal/config"
	"trade-router/internal/execution"
	"trade-router/internal/position"
)

// Resource 为下游信封的资源类型。
type Resource string

const (
	ResourceTransactions Resource = "transactions"
	ResourceLogs         Resource = "logs"
	ResourcePortfolios   Resource = "portfolios"
)

// Envelope 为推送到下游的统一信封。
type Envelope struct {
	Resource Resource      `json:"resource"`
	Items    []interface{} `json:"items"`
	SentAt   time.Time     `json:"sent_at"`
}

// LogItem 为 logs 资源的单条记录。
type LogItem struct {
	Level   string                 `json:"level"`
	Message string                 `json:"message"`
	Fields  map[string]interface{} `json:"fields,omitempty"`
	At      time.Time              `json:"at"`
}

// Publisher 异步推送事件，失败只记日志，入队从不阻塞调用方。
type Publisher struct {
	sink        Sink
	queue       chan Envelope
	workers     int
	maxAttempts int
	backoff     time.Duration
	logger      *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New 创建推送器，需要调用 Run 才会开始投递。
func New(cfg config.PublisherConfig, sink Sink, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1024
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 2
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}

	return &Publisher{
		sink:        sink,
		queue:       make(chan Envelope, queueSize),
		workers:     workers,
		maxAttempts: attempts,
		backoff:     backoff,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		sleep:       sleepContext,
	}
}

// Run 启动投递协程，ctx 结束后返回。
func (p *Publisher) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case env := <-p.queue:
					p.deliver(gctx, env)
				}
			}
		})
	}
	return g.Wait()
}

// PublishTransaction 推送执行回报。
func (p *Publisher) PublishTransaction(report execution.ExecutionReport) {
	p.enqueue(Envelope{Resource: ResourceTransactions, Items: []interface{}{report}})
}

// PublishLog 推送一条运行日志。
func (p *Publisher) PublishLog(level, message string, fields map[string]interface{}) {
	p.enqueue(Envelope{Resource: ResourceLogs, Items: []interface{}{LogItem{
		Level:   level,
		Message: message,
		Fields:  fields,
		At:      p.now(),
	}}})
}

// PublishPortfolio 推送完整持仓快照。
func (p *Publisher) PublishPortfolio(positions []position.Position) {
	items := make([]interface{}, 0, len(positions))
	for _, pos := range positions {
		items = append(items, pos)
	}
	p.enqueue(Envelope{Resource: ResourcePortfolios, Items: items})
}

// ReplaySnapshot 启动时重发完整持仓，避免新接入的下游缺失历史状态。
func (p *Publisher) ReplaySnapshot(ctx context.Context, load func(ctx context.Context) ([]position.Position, error)) error {
	positions, err := load(ctx)
	if err != nil {
		return err
	}
	p.logger.Info("重发持仓快照", zap.Int("positions", len(positions)))
	p.PublishPortfolio(positions)
	return nil
}

func (p *Publisher) enqueue(env Envelope) {
	if env.SentAt.IsZero() {
		env.SentAt = p.now()
	}
	select {
	case p.queue <- env:
	default:
		p.logger.Warn("推送队列已满，丢弃事件",
			zap.String("resource", string(env.Resource)),
			zap.Int("items", len(env.Items)),
		)
	}
}

// deliver 5xx/网络错误线性退避重试，4xx 直接丢弃。
func (p *Publisher) deliver(ctx context.Context, env Envelope) {
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		err := p.sink.Send(ctx, env)
		if err == nil {
			return
		}
		if !retryable(err) {
			p.logger.Warn("下游拒绝事件，已丢弃",
				zap.String("sink", p.sink.Name()),
				zap.String("resource", string(env.Resource)),
				zap.Error(err),
			)
			return
		}
		if attempt == p.maxAttempts {
			p.logger.Warn("推送重试耗尽，已丢弃",
				zap.String("sink", p.sink.Name()),
				zap.String("resource", string(env.Resource)),
				zap.Int("attempts", attempt),
				zap.Error(err),
			)
			return
		}
		p.logger.Warn("推送失败，准备重试",
			zap.String("sink", p.sink.Name()),
			zap.String("resource", string(env.Resource)),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if sleepErr := p.sleep(ctx, time.Duration(attempt)*p.backoff); sleepErr != nil {
			return
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
