package router

import (
	"time"

	"trade-router/internal/execution"
	"trade-router/internal/store"
)

func orderFromReport(intent execution.OrderIntent, report execution.ExecutionReport, correlationID string) *store.Order {
	order := &store.Order{
		ClientOrderID:  report.ClientOrderID,
		CorrelationID:  correlationID,
		AccountID:      report.AccountID,
		Broker:         report.Broker,
		Venue:          report.Venue,
		VenueOrderID:   report.VenueOrderID,
		Symbol:         intent.Symbol,
		Side:           string(intent.Side),
		OrderType:      string(intent.OrderType),
		TimeInForce:    intent.TimeInForce,
		Quantity:       intent.Quantity,
		LimitPrice:     intent.LimitPrice,
		Status:         string(report.Status),
		FilledQuantity: report.FilledQuantity,
		AveragePrice:   report.AveragePrice,
		Mode:           report.Mode,
		Tags:           report.Tags,
		Notes:          intent.Notes,
		SubmittedAt:    report.SubmittedAt,
	}
	if order.Broker == "" {
		order.Broker = intent.Broker
	}
	for _, f := range report.Fills {
		order.Executions = append(order.Executions, store.Execution{
			Kind:       store.ExecutionKindFill,
			Quantity:   f.Quantity,
			Price:      f.Price,
			ExecutedAt: f.Timestamp,
		})
	}
	return order
}

// ReportFromOrder 由落库订单还原执行回报，撤单审计记录以零数量成交出现在 Fills 中。
func ReportFromOrder(order store.Order) execution.ExecutionReport {
	report := execution.ExecutionReport{
		VenueOrderID:      order.VenueOrderID,
		ClientOrderID:     order.ClientOrderID,
		Status:            execution.Status(order.Status),
		Broker:            order.Broker,
		Venue:             order.Venue,
		AccountID:         order.AccountID,
		Symbol:            order.Symbol,
		Side:              execution.Side(order.Side),
		OrderType:         execution.OrderType(order.OrderType),
		RequestedQuantity: order.Quantity,
		FilledQuantity:    order.FilledQuantity,
		AveragePrice:      order.AveragePrice,
		SubmittedAt:       order.SubmittedAt,
		Fills:             make([]execution.Fill, 0, len(order.Executions)),
		Tags:              order.Tags,
		Mode:              order.Mode,
	}
	for _, e := range order.Executions {
		report.Fills = append(report.Fills, execution.Fill{
			Quantity:  e.Quantity,
			Price:     e.Price,
			Timestamp: e.ExecutedAt,
		})
	}
	return report
}

func reportFromSimulated(sim store.SimulatedExecution) execution.ExecutionReport {
	price := sim.Price
	return execution.ExecutionReport{
		VenueOrderID:      sim.ID,
		Status:            execution.StatusFilled,
		Broker:            sim.Broker,
		Venue:             sim.Venue,
		AccountID:         sim.AccountID,
		Symbol:            sim.Symbol,
		Side:              execution.Side(sim.Side),
		OrderType:         execution.OrderType(sim.OrderType),
		RequestedQuantity: sim.Quantity,
		FilledQuantity:    sim.Quantity,
		AveragePrice:      &price,
		SubmittedAt:       sim.ExecutedAt,
		Fills:             []execution.Fill{{Quantity: sim.Quantity, Price: sim.Price, Timestamp: sim.ExecutedAt}},
		Tags:              sim.Tags,
		Mode:              string(ModeDryRun),
		Simulated:         true,
	}
}

const fillEpsilon = 1e-12

// mergeCancel 把场所撤单回报并入已落库订单，场所报告的成交量为准，返回新增成交数量。
func mergeCancel(order store.Order, venue execution.ExecutionReport, at time.Time) (store.Cancellation, float64) {
	c := store.Cancellation{
		Status:         string(execution.StatusCancelled),
		FilledQuantity: order.FilledQuantity,
		AveragePrice:   order.AveragePrice,
		Audit:          store.Execution{Kind: store.ExecutionKindCancel, ExecutedAt: at, Notes: "cancel requested"},
	}

	extra := venue.FilledQuantity - order.FilledQuantity
	if extra > fillEpsilon {
		prior := 0.0
		if order.AveragePrice != nil {
			prior = order.FilledQuantity * *order.AveragePrice
		}
		price := incrementalPrice(order, venue, prior, extra)
		ts := at
		if n := len(venue.Fills); n > 0 && !venue.Fills[n-1].Timestamp.IsZero() {
			ts = venue.Fills[n-1].Timestamp
		}
		c.Fills = []store.Execution{{Kind: store.ExecutionKindFill, Quantity: extra, Price: price, ExecutedAt: ts}}
		c.FilledQuantity = venue.FilledQuantity
		avg := (prior + extra*price) / venue.FilledQuantity
		c.AveragePrice = &avg
	} else {
		extra = 0
	}

	if venue.Status == execution.StatusFilled || (order.Quantity > 0 && c.FilledQuantity >= order.Quantity-fillEpsilon) {
		c.Status = string(execution.StatusFilled)
		c.Audit.Notes = "cancel requested, venue reported filled"
	}
	return c, extra
}

// incrementalPrice 由累计均价反推新增部分的成交价，取不到时依次退回最后一笔成交价、订单均价、限价。
func incrementalPrice(order store.Order, venue execution.ExecutionReport, prior, extra float64) float64 {
	if venue.AveragePrice != nil && *venue.AveragePrice > 0 {
		if p := (venue.FilledQuantity*(*venue.AveragePrice) - prior) / extra; p > 0 {
			return p
		}
		return *venue.AveragePrice
	}
	if n := len(venue.Fills); n > 0 && venue.Fills[n-1].Price > 0 {
		return venue.Fills[n-1].Price
	}
	if order.AveragePrice != nil {
		return *order.AveragePrice
	}
	if order.LimitPrice != nil {
		return *order.LimitPrice
	}
	return 0
}

// applyCancel 返回合并撤单结果后的订单副本，用于落库失败时回报。
func applyCancel(order store.Order, c store.Cancellation) store.Order {
	order.Status = c.Status
	order.FilledQuantity = c.FilledQuantity
	if c.AveragePrice != nil {
		order.AveragePrice = c.AveragePrice
	}
	execs := make([]store.Execution, 0, len(order.Executions)+len(c.Fills)+1)
	execs = append(execs, order.Executions...)
	execs = append(execs, c.Fills...)
	order.Executions = append(execs, c.Audit)
	return order
}
