package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"trade-router/internal/monitor"
	"trade-router/internal/router"
	"trade-router/internal/store"
)

// POST /orders
func (s *Server) placeOrder(c *gin.Context) {
	var req PlaceOrderRequest
	if !s.bind(c, &req) {
		return
	}

	rc := router.RouteContext{CorrelationID: req.CorrelationID, DailyLoss: req.DailyLoss}
	if rc.CorrelationID == "" {
		rc.CorrelationID = c.GetHeader("X-Correlation-ID")
	}
	report, err := s.deps.Router.RouteOrder(c.Request.Context(), req.intent(), rc)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, report)
}

// POST /orders/:broker/cancel
func (s *Server) cancelOrder(c *gin.Context) {
	var req CancelOrderRequest
	if !s.bind(c, &req) {
		return
	}
	report, err := s.deps.Router.Cancel(c.Request.Context(), c.Param("broker"), req.OrderID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// GET /orders/log?simulated=true 返回 dry_run 模拟成交流水
func (s *Server) listOrders(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if simulated, _ := strconv.ParseBool(c.Query("simulated")); simulated {
		rows, err := s.deps.Repo.ListSimulated(c.Request.Context(), filter)
		if err != nil {
			s.writeError(c, err)
			return
		}
		items := make([]SimulatedView, 0, len(rows))
		for _, row := range rows {
			items = append(items, simulatedView(row))
		}
		c.JSON(http.StatusOK, gin.H{"items": items, "limit": filter.Limit, "offset": filter.Offset})
		return
	}

	orders, err := s.deps.Repo.ListOrders(c.Request.Context(), filter)
	if err != nil {
		s.writeError(c, err)
		return
	}
	items := make([]OrderView, 0, len(orders))
	for _, o := range orders {
		items = append(items, orderView(o))
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "limit": filter.Limit, "offset": filter.Offset})
}

// GET /executions
func (s *Server) listExecutions(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rows, err := s.deps.Repo.ListExecutions(c.Request.Context(), filter)
	if err != nil {
		s.writeError(c, err)
		return
	}
	items := make([]ExecutionView, 0, len(rows))
	for _, row := range rows {
		items = append(items, executionView(row))
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "limit": filter.Limit, "offset": filter.Offset})
}

// GET /positions
func (s *Server) listPositions(c *gin.Context) {
	positions, err := s.deps.Router.Positions(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"mode": s.deps.Router.Mode(), "positions": positions})
}

// POST /positions/:id/close
func (s *Server) closePosition(c *gin.Context) {
	var req ClosePositionRequest
	if !s.bind(c, &req) {
		return
	}
	report, err := s.deps.Router.ClosePosition(c.Request.Context(), c.Param("id"), router.ClosePositionRequest{
		Broker:         req.Broker,
		TargetQuantity: req.TargetQuantity,
		LastPrice:      req.LastPrice,
		Tags:           req.Tags,
		Notes:          req.Notes,
		Risk:           req.Risk.overrides(),
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, report)
}

// GET /mode
func (s *Server) getMode(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"mode": s.deps.Router.Mode()})
}

// POST /mode 不能切到 live，实盘切换走 PUT /state
func (s *Server) setMode(c *gin.Context) {
	var req ModeRequest
	if !s.bind(c, &req) {
		return
	}
	snap, err := s.deps.Router.SetMode(c.Request.Context(), router.Mode(req.Mode))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"mode": snap.Mode})
}

// GET /state
func (s *Server) getState(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Router.State())
}

// PUT /state
func (s *Server) putState(c *gin.Context) {
	var req StateRequest
	if !s.bind(c, &req) {
		return
	}
	snap, err := s.deps.Router.SetState(c.Request.Context(), req.update())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// GET /risk/alerts
func (s *Server) listAlerts(c *gin.Context) {
	limit, err := queryInt(c, "limit", 100)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": s.deps.Alerts.List(limit)})
}

// PUT /risk/thresholds/:account_id
func (s *Server) putThreshold(c *gin.Context) {
	if s.deps.Thresholds == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "未启用止损阈值存储"})
		return
	}
	var req ThresholdRequest
	if !s.bind(c, &req) {
		return
	}
	accountID := c.Param("account_id")
	if err := s.deps.Thresholds.SetThreshold(c.Request.Context(), accountID, req.Threshold); err != nil {
		s.logger.Error("写入止损阈值失败", zap.String("account_id", accountID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"account_id": accountID, "threshold": req.Threshold})
}

// GET /events?type=routed&limit=200
func (s *Server) listEvents(c *gin.Context) {
	if s.deps.Events == nil {
		c.JSON(http.StatusOK, gin.H{"items": []monitor.Event{}})
		return
	}
	limit, err := queryInt(c, "limit", 200)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if limit > 1000 {
		limit = 1000
	}
	eventType := monitor.EventType(strings.ToLower(strings.TrimSpace(c.Query("type"))))
	events, err := s.deps.Events.ListEvents(c.Request.Context(), eventType, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": events})
}

func parseFilter(c *gin.Context) (store.Filter, error) {
	filter := store.Filter{
		AccountID: c.Query("account"),
		Symbol:    c.Query("symbol"),
		Broker:    c.Query("broker"),
		Tag:       c.Query("tag"),
		Strategy:  c.Query("strategy"),
	}
	var err error
	if filter.From, err = queryTime(c, "from"); err != nil {
		return store.Filter{}, err
	}
	if filter.To, err = queryTime(c, "to"); err != nil {
		return store.Filter{}, err
	}
	if filter.Limit, err = queryInt(c, "limit", 100); err != nil {
		return store.Filter{}, err
	}
	if filter.Offset, err = queryInt(c, "offset", 0); err != nil {
		return store.Filter{}, err
	}
	if filter.Limit <= 0 || filter.Offset < 0 {
		return store.Filter{}, errors.New("limit 必须为正且 offset 不能为负")
	}
	return filter, nil
}

func queryInt(c *gin.Context, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s 不是整数: %q", key, raw)
	}
	return v, nil
}

func queryTime(c *gin.Context, key string) (time.Time, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s 需要 RFC3339 时间: %q", key, raw)
	}
	return ts.UTC(), nil
}
