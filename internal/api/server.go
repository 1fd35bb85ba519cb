package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"trade-router/internal/monitor"
	"trade-router/internal/risk"
	"trade-router/internal/router"
	"trade-router/internal/store"
)

// ThresholdSetter 写入账户止损阈值。
type ThresholdSetter interface {
	SetThreshold(ctx context.Context, accountID string, threshold float64) error
}

// EventLister 查询路由事件日志。
type EventLister interface {
	ListEvents(ctx context.Context, eventType monitor.EventType, limit int) ([]monitor.Event, error)
}

// Dependencies 为 HTTP 层依赖，除 Router 与 Repo 外均可为空。
type Dependencies struct {
	Router     *router.Router
	Repo       store.OrderRepository
	Alerts     *risk.AlertLog
	Thresholds ThresholdSetter
	Events     EventLister
	Metrics    http.Handler
	// MetricsPath 默认 /metrics。
	MetricsPath string
	Auth        Authorizer
}

// Server 为路由服务的 HTTP 接口。
type Server struct {
	deps      Dependencies
	validator *validator.Validate
	logger    *zap.Logger
}

// NewServer 创建 HTTP 接口。
func NewServer(deps Dependencies, logger *zap.Logger) (*Server, error) {
	if deps.Router == nil {
		return nil, errors.New("api: router 不能为空")
	}
	if deps.Repo == nil {
		return nil, errors.New("api: 订单仓储不能为空")
	}
	if deps.Auth == nil {
		deps.Auth = HeaderAuthorizer{}
	}
	if deps.MetricsPath == "" {
		deps.MetricsPath = "/metrics"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{deps: deps, validator: validator.New(), logger: logger}, nil
}

// Handler 构建 gin 路由。
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLogger())

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "mode": s.deps.Router.Mode()})
	})
	if s.deps.Metrics != nil {
		engine.GET(s.deps.MetricsPath, gin.WrapH(s.deps.Metrics))
	}

	engine.POST("/orders", s.require(CapabilityTrade), s.placeOrder)
	engine.POST("/orders/:broker/cancel", s.require(CapabilityTrade), s.cancelOrder)
	engine.GET("/orders/log", s.listOrders)
	engine.GET("/executions", s.listExecutions)

	engine.GET("/positions", s.listPositions)
	engine.POST("/positions/:id/close", s.require(CapabilityTrade), s.closePosition)

	engine.GET("/mode", s.getMode)
	engine.POST("/mode", s.require(CapabilityMode), s.setMode)
	engine.GET("/state", s.getState)
	engine.PUT("/state", s.require(CapabilityAdmin), s.putState)

	engine.GET("/risk/alerts", s.listAlerts)
	engine.PUT("/risk/thresholds/:account_id", s.require(CapabilityAdmin), s.putThreshold)
	engine.GET("/events", s.listEvents)

	return engine
}

func (s *Server) require(capability Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.deps.Auth.Allowed(c, capability) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "缺少权限: " + string(capability)})
			return
		}
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Duration("elapsed", time.Since(start)),
		}
		switch {
		case status >= http.StatusInternalServerError:
			s.logger.Error("请求失败", fields...)
		case status >= http.StatusBadRequest:
			s.logger.Warn("请求被拒绝", fields...)
		default:
			s.logger.Debug("请求完成", fields...)
		}
	}
}

// bind 解析并校验请求体，失败时已写出 400。
func (s *Server) bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求体无法解析: " + err.Error()})
		return false
	}
	if err := s.validator.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"validation_errors": formatValidationError(err)})
		return false
	}
	return true
}

func formatValidationError(err error) map[string]string {
	out := make(map[string]string)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		out["_"] = err.Error()
		return out
	}
	for _, e := range verrs {
		out[e.Field()] = "failed on tag '" + e.Tag() + "'"
	}
	return out
}

// writeError 将路由错误映射为 HTTP 状态码。
func (s *Server) writeError(c *gin.Context, err error) {
	var (
		validationErr  *router.ValidationError
		lockedErr      *router.RiskLockedError
		notFoundErr    *router.NotFoundError
		dailyLimitErr  *router.DailyLimitError
		venueErr       *router.VenueError
		persistenceErr *router.PersistenceError
	)

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &lockedErr):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   err.Error(),
			"rule":    lockedErr.Lock.RuleID,
			"signals": lockedErr.Signals,
		})
	case errors.As(err, &dailyLimitErr):
		c.JSON(http.StatusForbidden, gin.H{
			"error":     err.Error(),
			"limit":     dailyLimitErr.Limit,
			"used":      dailyLimitErr.Used,
			"requested": dailyLimitErr.Requested,
		})
	case errors.As(err, &notFoundErr):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &venueErr):
		body := gin.H{"error": err.Error()}
		if venueErr.Report != nil {
			body["report"] = venueErr.Report
		}
		c.JSON(http.StatusBadGateway, body)
	case errors.As(err, &persistenceErr):
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":          err.Error(),
			"reconciliation": true,
			"report":         persistenceErr.Report,
		})
	default:
		s.logger.Error("未分类的路由错误", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
