package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rl-arena/randomcall-backend/internal/models"
	"github.com/rl-arena/randomcall-backend/internal/service"
)

type CallHandler struct {
	callService *service.CallService
}

func NewCallHandler(callService *service.CallService) *CallHandler {
	return &CallHandler{
		callService: callService,
	}
}

// Initiate 직접 통화 발신
func (h *CallHandler) Initiate(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req models.InitiateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	session, err := h.callService.Initiate(c.Request.Context(), userID, req)
	if err != nil {
		respondError(c, err, "Failed to initiate call")
		return
	}

	c.JSON(http.StatusCreated, session)
}

// History 최근 통화 기록
func (h *CallHandler) History(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	sessions, err := h.callService.History(c.Request.Context(), userID, limit)
	if err != nil {
		respondError(c, err, "Failed to get call history")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"calls": sessions,
		"count": len(sessions),
	})
}

// Get 통화 세션 조회
func (h *CallHandler) Get(c *gin.Context) {
	h.run(c, "Failed to get call", h.callService.Get)
}

func (h *CallHandler) Ring(c *gin.Context) {
	h.run(c, "Failed to ring call", h.callService.Ring)
}

func (h *CallHandler) Answer(c *gin.Context) {
	h.run(c, "Failed to answer call", h.callService.Answer)
}

func (h *CallHandler) Cancel(c *gin.Context) {
	h.run(c, "Failed to cancel call", h.callService.Cancel)
}

func (h *CallHandler) Miss(c *gin.Context) {
	h.run(c, "Failed to mark call as missed", h.callService.Miss)
}

// Decline 수신자 거절 (reason 선택)
func (h *CallHandler) Decline(c *gin.Context) {
	var req models.DeclineMatchRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	h.run(c, "Failed to decline call", func(ctx context.Context, sessionID, userID string) (*models.CallSession, error) {
		return h.callService.Decline(ctx, sessionID, userID, req.Reason)
	})
}

// End 통화 종료 (품질 정보 선택)
func (h *CallHandler) End(c *gin.Context) {
	var req models.EndCallRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	h.run(c, "Failed to end call", func(ctx context.Context, sessionID, userID string) (*models.CallSession, error) {
		return h.callService.End(ctx, sessionID, userID, req)
	})
}

func (h *CallHandler) run(
	c *gin.Context,
	fallback string,
	op func(ctx context.Context, sessionID, userID string) (*models.CallSession, error),
) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	session, err := op(c.Request.Context(), c.Param("sessionId"), userID)
	if err != nil {
		respondError(c, err, fallback)
		return
	}

	c.JSON(http.StatusOK, session)
}
