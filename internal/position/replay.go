package position

import (
	"context"
	"fmt"

	"trade-router/internal/store"
)

// Ledger 指定回放数据来源。
type Ledger string

const (
	// LedgerDurable 为落库的真实成交，live/sandbox 模式使用。
	LedgerDurable Ledger = "durable"
	// LedgerSimulated 为 dry_run 模拟成交流水。
	LedgerSimulated Ledger = "simulated"
)

// LedgerSource 提供按执行时间升序的成交流水。
type LedgerSource interface {
	LedgerFills(ctx context.Context) ([]store.LedgerFill, error)
	SimulatedFills(ctx context.Context) ([]store.LedgerFill, error)
}

// Replay 从头回放指定流水，返回新的聚合器。
func Replay(ctx context.Context, src LedgerSource, ledger Ledger) (*Aggregator, error) {
	var (
		fills []store.LedgerFill
		err   error
	)
	switch ledger {
	case LedgerSimulated:
		fills, err = src.SimulatedFills(ctx)
	default:
		fills, err = src.LedgerFills(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("position: 读取 %s 成交流水失败: %w", ledger, err)
	}

	agg := NewAggregator()
	agg.Rebuild(fills)
	return agg, nil
}
