package risk

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"trade-router/internal/config"
	"trade-router/internal/execution"
)

// RuleDynamicLimit 为动态仓位/名义价值限额规则 ID。
const RuleDynamicLimit = "dynamic_limit"

// Limit 为单个交易对的仓位与名义价值上限，0 表示不限制。
type Limit struct {
	MaxPosition float64
	MaxNotional float64
}

type limitKey struct {
	venue   string
	symbol  string
	account string
}

type exposureKey struct {
	account string
	symbol  string
}

// SeedPosition 为启动时由组合回放得到的持仓。
type SeedPosition struct {
	AccountID string
	Symbol    string
	Quantity  float64
}

// DynamicLimitRule 预测成交后的 (账户, 交易对) 持仓并与上限比较，是唯一跟踪成交后敞口的规则。
type DynamicLimitRule struct {
	alertRatio float64

	mu        sync.Mutex
	limits    map[limitKey]Limit
	exposures map[exposureKey]float64
}

// NewDynamicLimitRule 按配置创建规则。
func NewDynamicLimitRule(cfg config.RiskConfig) *DynamicLimitRule {
	r := &DynamicLimitRule{
		alertRatio: cfg.AlertRatio,
		limits:     make(map[limitKey]Limit),
		exposures:  make(map[exposureKey]float64),
	}
	if r.alertRatio <= 0 || r.alertRatio > 1 {
		r.alertRatio = 0.8
	}
	for _, l := range cfg.SymbolLimits {
		r.SetLimit(l.Venue, l.Symbol, l.Account, Limit{MaxPosition: l.MaxPosition, MaxNotional: l.MaxNotional})
	}
	return r
}

func (r *DynamicLimitRule) ID() string { return RuleDynamicLimit }

// SetLimit 设置上限，venue 取场所名或券商名，account 为空表示该交易对的默认值。
func (r *DynamicLimitRule) SetLimit(venue, symbol, account string, limit Limit) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limits[limitKey{venue: strings.ToLower(strings.TrimSpace(venue)), symbol: normalizeSymbol(symbol), account: account}] = limit
}

// Seed 以回放结果替换当前敞口。
func (r *DynamicLimitRule) Seed(positions []SeedPosition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exposures = make(map[exposureKey]float64, len(positions))
	for _, p := range positions {
		r.exposures[exposureKey{account: p.AccountID, symbol: normalizeSymbol(p.Symbol)}] = p.Quantity
	}
}

// Exposure 返回当前跟踪的净持仓。
func (r *DynamicLimitRule) Exposure(account, symbol string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exposures[exposureKey{account: account, symbol: normalizeSymbol(symbol)}]
}

// lookup 先按场所名再按券商名查找，同名下账户级上限优先于默认值。
func (r *DynamicLimitRule) lookup(venue, broker, symbol, account string) (Limit, bool) {
	symbol = normalizeSymbol(symbol)
	for _, name := range []string{venue, broker} {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if account != "" {
			if l, ok := r.limits[limitKey{venue: name, symbol: symbol, account: account}]; ok {
				return l, true
			}
		}
		if l, ok := r.limits[limitKey{venue: name, symbol: symbol}]; ok {
			return l, true
		}
	}
	return Limit{}, false
}

func (r *DynamicLimitRule) Evaluate(_ context.Context, order execution.OrderIntent, rc Context) ([]Signal, error) {
	r.mu.Lock()
	limit, ok := r.lookup(rc.Venue, order.Broker, order.Symbol, rc.AccountID)
	current := r.exposures[exposureKey{account: rc.AccountID, symbol: normalizeSymbol(order.Symbol)}]
	r.mu.Unlock()
	if !ok {
		return nil, nil
	}

	projected := current + order.Side.Sign()*order.Quantity
	notional := math.Abs(projected) * rc.ReferencePrice
	meta := map[string]interface{}{
		"current_position":   current,
		"projected_position": projected,
		"projected_notional": notional,
		"max_position":       limit.MaxPosition,
		"max_notional":       limit.MaxNotional,
	}

	var signals []Signal
	if limit.MaxPosition > 0 && math.Abs(projected) > limit.MaxPosition {
		signals = append(signals, lock(RuleDynamicLimit,
			fmt.Sprintf("预计持仓 %.8g 超过上限 %.8g", math.Abs(projected), limit.MaxPosition), meta))
	}
	if limit.MaxNotional > 0 {
		switch {
		case notional > limit.MaxNotional:
			signals = append(signals, lock(RuleDynamicLimit,
				fmt.Sprintf("预计名义价值 %.2f 超过上限 %.2f", notional, limit.MaxNotional), meta))
		case notional >= limit.MaxNotional*r.alertRatio:
			signals = append(signals, alert(RuleDynamicLimit,
				fmt.Sprintf("预计名义价值 %.2f 已达上限 %.0f%%", notional, r.alertRatio*100), meta))
		}
	}
	return signals, nil
}

// RegisterExecution 按成交数量更新敞口。
func (r *DynamicLimitRule) RegisterExecution(_ context.Context, order execution.OrderIntent, report execution.ExecutionReport) error {
	if report.FilledQuantity <= 0 {
		return nil
	}
	side := report.Side
	if side == "" {
		side = order.Side
	}
	key := exposureKey{account: order.AccountID, symbol: normalizeSymbol(order.Symbol)}

	r.mu.Lock()
	r.exposures[key] += side.Sign() * report.FilledQuantity
	r.mu.Unlock()
	return nil
}

// RuleMaxNotional 为静态名义价值上限规则 ID。
const RuleMaxNotional = "max_notional"

// NotionalRule 为与账户无关的静态名义价值检查。
type NotionalRule struct {
	defaultMax float64
	perSymbol  map[string]float64
}

// NewNotionalRule 创建规则，交易对键大小写不敏感。
func NewNotionalRule(cfg config.RiskConfig) *NotionalRule {
	perSymbol := make(map[string]float64, len(cfg.SymbolNotional))
	for symbol, ceiling := range cfg.SymbolNotional {
		perSymbol[normalizeSymbol(symbol)] = ceiling
	}
	return &NotionalRule{defaultMax: cfg.DefaultMaxNotional, perSymbol: perSymbol}
}

func (r *NotionalRule) ID() string { return RuleMaxNotional }

func (r *NotionalRule) Evaluate(_ context.Context, order execution.OrderIntent, rc Context) ([]Signal, error) {
	ceiling, ok := r.perSymbol[normalizeSymbol(order.Symbol)]
	if !ok {
		ceiling = r.defaultMax
	}
	if ceiling <= 0 {
		return nil, nil
	}

	notional := order.Quantity * rc.ReferencePrice
	if notional <= ceiling {
		return nil, nil
	}
	return []Signal{lock(RuleMaxNotional,
		fmt.Sprintf("订单名义价值 %.2f 超过 %s 上限 %.2f", notional, order.Symbol, ceiling),
		map[string]interface{}{"notional": notional, "max_notional": ceiling},
	)}, nil
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
