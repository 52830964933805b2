package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rl-arena/randomcall-backend/pkg/logger"
)

const serviceName = "randomcall-backend"

// Pinger 데이터베이스 연결 확인 (*database.DB 가 구현)
type Pinger interface {
	PingContext(ctx context.Context) error
}

// ConnectionCounter 현재 웹소켓 연결 수 (*websocket.Hub 가 구현)
type ConnectionCounter interface {
	ClientCount() int
}

type HealthHandler struct {
	db  Pinger
	hub ConnectionCounter
}

func NewHealthHandler(db Pinger, hub ConnectionCounter) *HealthHandler {
	return &HealthHandler{
		db:  db,
		hub: hub,
	}
}

// HealthCheck godoc
// @Summary Health check
// @Description Check if the API server and database are reachable
// @Tags system
// @Produce json
// @Success 200 {object} map[string]interface{} "Server is healthy"
// @Failure 503 {object} map[string]interface{} "Database unreachable"
// @Router /health [get]
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	resp := gin.H{
		"status":  "ok",
		"service": serviceName,
	}
	if h.hub != nil {
		resp["websocketClients"] = h.hub.ClientCount()
	}

	if h.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := h.db.PingContext(ctx); err != nil {
			logger.Error("Health check database ping failed", "error", err)
			resp["status"] = "degraded"
			resp["database"] = "unreachable"
			c.JSON(http.StatusServiceUnavailable, resp)
			return
		}
		resp["database"] = "ok"
	}

	c.JSON(http.StatusOK, resp)
}
