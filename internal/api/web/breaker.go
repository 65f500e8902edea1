package web

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (h *Handler) BreakerStatus(c *gin.Context) {
	snapshot, err := h.breaker.Status(c.Request.Context())
	if err != nil {
		h.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, NewSuccessResponse(snapshot))
}

func (h *Handler) ResetBreaker(c *gin.Context) {
	if err := h.breaker.Reset(c.Request.Context()); err != nil {
		h.abort(c, err)
		return
	}
	h.BreakerStatus(c)
}

func (h *Handler) ProcessQueue(c *gin.Context) {
	report, err := h.breaker.ProcessQueue(c.Request.Context())
	if err != nil {
		h.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, NewSuccessResponse(report))
}

// ClearQueue 丢弃队列是破坏性操作，必须显式带上 confirm=true
func (h *Handler) ClearQueue(c *gin.Context) {
	if c.Query("confirm") != "true" {
		c.JSON(http.StatusBadRequest, NewErrorResponse("clearing the queue requires confirm=true"))
		return
	}

	cleared, err := h.breaker.ClearQueue(c.Request.Context())
	if err != nil {
		h.abort(c, err)
		return
	}
	h.logger.Warn("[jremind] breaker queue cleared by operator", zap.Int64("cleared", cleared), zap.String("client_ip", c.ClientIP()))
	c.JSON(http.StatusOK, NewSuccessResponse(gin.H{"cleared": cleared}))
}
