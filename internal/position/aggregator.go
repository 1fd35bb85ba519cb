package position

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"trade-router/internal/store"
)

// flatEpsilon 以内的净持仓视为已平仓。
var flatEpsilon = decimal.New(1, -9)

// Position 为 (账户, 交易对) 的持仓快照。
type Position struct {
	ID             string    `json:"id"`
	AccountID      string    `json:"account_id"`
	Symbol         string    `json:"symbol"`
	Quantity       float64   `json:"quantity"`
	AveragePrice   float64   `json:"average_price"`
	TradedQuantity float64   `json:"traded_quantity"`
	TradedNotional float64   `json:"traded_notional"`
	LastPrice      float64   `json:"last_price"`
	MarketValue    float64   `json:"market_value"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Side 返回持仓方向，多头 long，空头 short。
func (p Position) Side() string {
	if p.Quantity < 0 {
		return "short"
	}
	return "long"
}

// ID 生成持仓 ID。
func ID(accountID, symbol string) string {
	return accountID + ":" + symbol
}

// ParseID 拆分持仓 ID，交易对本身可能包含冒号。
func ParseID(id string) (accountID, symbol string, ok bool) {
	accountID, symbol, ok = strings.Cut(id, ":")
	if !ok || symbol == "" {
		return "", "", false
	}
	return accountID, symbol, true
}

type key struct {
	account string
	symbol  string
}

type book struct {
	net          decimal.Decimal
	buyQty       decimal.Decimal
	buyNotional  decimal.Decimal
	sellQty      decimal.Decimal
	sellNotional decimal.Decimal
	lastPrice    decimal.Decimal
	updatedAt    time.Time
}

// Aggregator 按成交回放累计持仓，使用十进制运算保证同一批成交的回放结果与顺序无关。
type Aggregator struct {
	mu    sync.Mutex
	books map[key]*book
}

// NewAggregator 创建空的聚合器。
func NewAggregator() *Aggregator {
	return &Aggregator{books: make(map[key]*book)}
}

// Fill 为一笔待累计的成交。
type Fill struct {
	AccountID  string
	Symbol     string
	Side       string
	Quantity   float64
	Price      float64
	ExecutedAt time.Time
}

// ApplyFill 累计一笔成交，数量或价格非正时忽略并返回 false。
func (a *Aggregator) ApplyFill(f Fill) bool {
	if !(f.Quantity > 0) || !(f.Price > 0) {
		return false
	}
	qty := decimal.NewFromFloat(f.Quantity)
	price := decimal.NewFromFloat(f.Price)
	notional := qty.Mul(price)

	a.mu.Lock()
	defer a.mu.Unlock()

	k := key{account: f.AccountID, symbol: f.Symbol}
	b, ok := a.books[k]
	if !ok {
		b = &book{}
		a.books[k] = b
	}

	if strings.EqualFold(f.Side, "sell") {
		b.net = b.net.Sub(qty)
		b.sellQty = b.sellQty.Add(qty)
		b.sellNotional = b.sellNotional.Add(notional)
	} else {
		b.net = b.net.Add(qty)
		b.buyQty = b.buyQty.Add(qty)
		b.buyNotional = b.buyNotional.Add(notional)
	}
	b.lastPrice = price
	if f.ExecutedAt.After(b.updatedAt) {
		b.updatedAt = f.ExecutedAt
	}
	return true
}

// Rebuild 清空后按执行时间升序回放，时间相同的成交保持传入顺序。
func (a *Aggregator) Rebuild(fills []store.LedgerFill) {
	ordered := append([]store.LedgerFill(nil), fills...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ExecutedAt.Before(ordered[j].ExecutedAt)
	})

	a.mu.Lock()
	a.books = make(map[key]*book)
	a.mu.Unlock()

	for _, f := range ordered {
		a.ApplyFill(Fill{
			AccountID:  f.AccountID,
			Symbol:     f.Symbol,
			Side:       f.Side,
			Quantity:   f.Quantity,
			Price:      f.Price,
			ExecutedAt: f.ExecutedAt,
		})
	}
}

// Snapshot 返回非零持仓，按 ID 排序。
func (a *Aggregator) Snapshot() []Position {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Position, 0, len(a.books))
	for k, b := range a.books {
		if b.net.Abs().LessThan(flatEpsilon) {
			continue
		}
		out = append(out, b.position(k))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get 返回单个持仓，平仓或不存在时 ok 为 false。
func (a *Aggregator) Get(accountID, symbol string) (Position, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	k := key{account: accountID, symbol: symbol}
	b, ok := a.books[k]
	if !ok || b.net.Abs().LessThan(flatEpsilon) {
		return Position{}, false
	}
	return b.position(k), true
}

func (b *book) position(k key) Position {
	// 均价取与净持仓同向的成交
	avg := decimal.Zero
	switch {
	case b.net.IsPositive() && b.buyQty.IsPositive():
		avg = b.buyNotional.Div(b.buyQty)
	case b.net.IsNegative() && b.sellQty.IsPositive():
		avg = b.sellNotional.Div(b.sellQty)
	}

	return Position{
		ID:             ID(k.account, k.symbol),
		AccountID:      k.account,
		Symbol:         k.symbol,
		Quantity:       b.net.InexactFloat64(),
		AveragePrice:   avg.InexactFloat64(),
		TradedQuantity: b.buyQty.Add(b.sellQty).InexactFloat64(),
		TradedNotional: b.buyNotional.Add(b.sellNotional).InexactFloat64(),
		LastPrice:      b.lastPrice.InexactFloat64(),
		MarketValue:    b.net.Mul(b.lastPrice).InexactFloat64(),
		UpdatedAt:      b.updatedAt,
	}
}
