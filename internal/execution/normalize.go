package execution

import (
	"strconv"
	"strings"
	"time"
)

const quantityEpsilon = 1e-12

// statusTable 将场所状态字符串映射到统一状态。
type statusTable map[string]Status

func (t statusTable) lookup(raw string, fallback Status) Status {
	if s, ok := t[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return s
	}
	return fallback
}

// reconcileStatus 以成交数量修正场所状态：未终结订单按成交比例推导。
func reconcileStatus(mapped Status, filled, requested float64) Status {
	if mapped == StatusCancelled || mapped == StatusRejected {
		return mapped
	}
	switch {
	case requested > 0 && filled >= requested-quantityEpsilon:
		return StatusFilled
	case filled > quantityEpsilon:
		return StatusPartiallyFilled
	case mapped == StatusFilled:
		// 场所报 filled 但无数量，按请求数量视为全部成交
		return StatusFilled
	}
	return StatusAccepted
}

// buildFills 场所未返回逐笔成交时，用聚合成交数量和均价合成一笔。
func buildFills(fills []Fill, filledQty float64, avg *float64, ts time.Time) []Fill {
	out := make([]Fill, 0, len(fills))
	for _, f := range fills {
		if f.Quantity <= 0 || f.Price <= 0 {
			continue
		}
		if f.Timestamp.IsZero() {
			f.Timestamp = ts
		}
		out = append(out, f)
	}
	if len(out) > 0 {
		return out
	}
	if filledQty > 0 && avg != nil && *avg > 0 {
		out = append(out, Fill{Quantity: filledQty, Price: *avg, Timestamp: ts})
	}
	return out
}

// averagePrice 优先用逐笔成交计算 Σ(q·p)/Σq，其次场所均价，最后参考价；无成交时为 nil。
func averagePrice(fills []Fill, filledQty float64, venueAvg *float64, refPrice float64) *float64 {
	var qty, notional float64
	for _, f := range fills {
		qty += f.Quantity
		notional += f.Quantity * f.Price
	}
	if qty > 0 {
		v := notional / qty
		return &v
	}
	if filledQty <= 0 {
		return nil
	}
	if venueAvg != nil && *venueAvg > 0 {
		v := *venueAvg
		return &v
	}
	if refPrice > 0 {
		v := refPrice
		return &v
	}
	return nil
}

// finalize 统一补齐均价与成交明细。
func finalize(report ExecutionReport, rawFills []Fill, venueAvg *float64, refPrice float64) ExecutionReport {
	avg := averagePrice(rawFills, report.FilledQuantity, venueAvg, refPrice)
	fills := buildFills(rawFills, report.FilledQuantity, avg, report.SubmittedAt)
	if report.FilledQuantity == 0 {
		for _, f := range fills {
			report.FilledQuantity += f.Quantity
		}
	}
	report.Fills = fills
	report.AveragePrice = averagePrice(fills, report.FilledQuantity, avg, refPrice)
	report.Status = reconcileStatus(report.Status, report.FilledQuantity, report.RequestedQuantity)
	return report
}

func parseNumeric(value interface{}) float64 {
	switch v := value.(type) {
	case nil:
		return 0
	case float64:
		return v
	case *float64:
		if v != nil {
			return *v
		}
	case int64:
		return float64(v)
	case int:
		return float64(v)
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	case *string:
		if v != nil {
			return parseNumeric(*v)
		}
	}
	return 0
}

func optionalPositive(v float64) *float64 {
	if v <= 0 {
		return nil
	}
	return &v
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
