package web

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (h *Handler) ListInstances(c *gin.Context) {
	instances, err := h.registry.ListService(c.Request.Context(), h.serviceName)
	if err != nil {
		h.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, NewSuccessResponse(instances))
}

// Health 以熔断器状态读取作为存储连通性检查
func (h *Handler) Health(c *gin.Context) {
	snapshot, err := h.breaker.Status(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, NewSuccessResponse(gin.H{
		"status":  "healthy",
		"breaker": snapshot.State.Status,
	}))
}

func MetricsHandler(gatherer prometheus.Gatherer) gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}
