package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rl-arena/randomcall-backend/internal/models"
	"github.com/rl-arena/randomcall-backend/internal/service"
)

type QueueHandler struct {
	queueService *service.QueueService
}

func NewQueueHandler(queueService *service.QueueService) *QueueHandler {
	return &QueueHandler{
		queueService: queueService,
	}
}

// Join 랜덤 통화 큐 참여
func (h *QueueHandler) Join(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req models.JoinQueueRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	entry, err := h.queueService.Join(c.Request.Context(), userID, req)
	if err != nil {
		respondError(c, err, "Failed to join queue")
		return
	}

	c.JSON(http.StatusCreated, entry)
}

// Status 요청 상태 조회 (waiting 이면 순번/예상 대기시간 포함)
func (h *QueueHandler) Status(c *gin.Context) {
	entry, err := h.queueService.Status(c.Request.Context(), c.Param("requestId"))
	if err != nil {
		respondError(c, err, "Failed to get queue status")
		return
	}

	c.JSON(http.StatusOK, entry)
}

// Cancel 대기/매칭 취소
func (h *QueueHandler) Cancel(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	entry, err := h.queueService.Cancel(c.Request.Context(), c.Param("requestId"), userID)
	if err != nil {
		respondError(c, err, "Failed to cancel request")
		return
	}

	c.JSON(http.StatusOK, entry)
}

// Accept 매칭 수락
func (h *QueueHandler) Accept(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	entry, err := h.queueService.AcceptMatch(c.Request.Context(), c.Param("requestId"), userID)
	if err != nil {
		respondError(c, err, "Failed to accept match")
		return
	}

	c.JSON(http.StatusOK, entry)
}

// Decline 매칭 거절
func (h *QueueHandler) Decline(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req models.DeclineMatchRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	entry, err := h.queueService.DeclineMatch(c.Request.Context(), c.Param("requestId"), userID, req.Reason)
	if err != nil {
		respondError(c, err, "Failed to decline match")
		return
	}

	c.JSON(http.StatusOK, entry)
}

// End 랜덤 통화 종료
func (h *QueueHandler) End(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	entry, err := h.queueService.EndCall(c.Request.Context(), c.Param("requestId"), userID)
	if err != nil {
		respondError(c, err, "Failed to end call")
		return
	}

	c.JSON(http.StatusOK, entry)
}

// UpdatePreferences 대기 중 선호 조건 변경
func (h *QueueHandler) UpdatePreferences(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req models.UpdatePreferencesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	entry, err := h.queueService.UpdatePreferences(c.Request.Context(), c.Param("requestId"), userID, req.Preferences)
	if err != nil {
		respondError(c, err, "Failed to update preferences")
		return
	}

	c.JSON(http.StatusOK, entry)
}
