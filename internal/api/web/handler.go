package web

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/JrMarcco/jremind/internal/errs"
	"github.com/JrMarcco/jremind/internal/pkg/registry"
	"github.com/JrMarcco/jremind/internal/service/breaker"
	"github.com/JrMarcco/jremind/internal/service/job"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler 任务与熔断器的控制接口
type Handler struct {
	engine   job.Engine
	breaker  breaker.Breaker
	registry registry.Registry

	serviceName string
	logger      *zap.Logger
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	jobs := r.Group("/jobs")
	{
		jobs.POST("", h.CreateJob)
		jobs.GET("", h.ListJobs)
		jobs.GET("/:id", h.GetJob)
		jobs.POST("/:id/pause", h.PauseJob)
		jobs.POST("/:id/resume", h.ResumeJob)
		jobs.POST("/:id/cancel", h.CancelJob)
	}

	r.GET("/events", h.ListEvents)

	brk := r.Group("/breaker")
	{
		brk.GET("", h.BreakerStatus)
		brk.POST("/reset", h.ResetBreaker)
		brk.POST("/queue/process", h.ProcessQueue)
		brk.DELETE("/queue", h.ClearQueue)
	}

	r.GET("/instances", h.ListInstances)
}

// abort 按错误类型写出响应，5xx 记录日志
func (h *Handler) abort(c *gin.Context, err error) {
	code := statusOf(err)
	if code >= http.StatusInternalServerError {
		h.logger.Error(
			"[jremind] request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	c.JSON(code, NewErrorResponse(err.Error()))
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, errs.ErrInvalidParam), errors.Is(err, errs.ErrInvalidAddress):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrJobConflict),
		errors.Is(err, errs.ErrJobTerminated),
		errors.Is(err, errs.ErrCursorMoved),
		errors.Is(err, errs.ErrLocked):
		return http.StatusConflict
	case errors.Is(err, errs.ErrBreakerOpen):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// queryLimit 解析 limit 参数，缺省时返回 0
func queryLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, NewErrorResponse("limit should be a non-negative integer"))
		return 0, false
	}
	return limit, true
}

func NewHandler(
	engine job.Engine,
	breaker breaker.Breaker,
	registry registry.Registry,
	serviceName string,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		engine:      engine,
		breaker:     breaker,
		registry:    registry,
		serviceName: serviceName,
		logger:      logger,
	}
}
