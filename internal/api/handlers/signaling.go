package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rl-arena/randomcall-backend/internal/models"
	"github.com/rl-arena/randomcall-backend/internal/service"
)

// SignalingHandler 통화 참여자만 접근 가능한 WebRTC 시그널링 엔드포인트
type SignalingHandler struct {
	signalingService *service.SignalingService
}

func NewSignalingHandler(signalingService *service.SignalingService) *SignalingHandler {
	return &SignalingHandler{
		signalingService: signalingService,
	}
}

// authorize 세션 참여자 확인 후 (sessionID, userID) 반환
func (h *SignalingHandler) authorize(c *gin.Context) (string, string, bool) {
	userID, ok := currentUserID(c)
	if !ok {
		return "", "", false
	}

	sessionID := c.Param("sessionId")
	if err := h.signalingService.CheckParticipant(c.Request.Context(), sessionID, userID); err != nil {
		respondError(c, err, "Failed to verify call participant")
		return "", "", false
	}
	return sessionID, userID, true
}

// Open 시그널링 세션 생성 (ICE 서버 설정과 코덱 기본값 반환)
func (h *SignalingHandler) Open(c *gin.Context) {
	sessionID, _, ok := h.authorize(c)
	if !ok {
		return
	}

	record, err := h.signalingService.Open(c.Request.Context(), sessionID)
	if err != nil {
		respondError(c, err, "Failed to open signaling session")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessionId":     record.SessionID,
		"configuration": record.Configuration(),
		"media":         record.Media,
		"createdAt":     record.CreatedAt,
	})
}

// Offer 서버 기본값으로 offer 생성
func (h *SignalingHandler) Offer(c *gin.Context) {
	sessionID, _, ok := h.authorize(c)
	if !ok {
		return
	}

	desc, err := h.signalingService.GenerateOffer(c.Request.Context(), sessionID)
	if err != nil {
		respondError(c, err, "Failed to generate offer")
		return
	}

	c.JSON(http.StatusOK, desc)
}

// Answer answer 생성 (offerSdp 는 선택)
func (h *SignalingHandler) Answer(c *gin.Context) {
	sessionID, _, ok := h.authorize(c)
	if !ok {
		return
	}

	var req models.GenerateAnswerRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	desc, err := h.signalingService.GenerateAnswer(c.Request.Context(), sessionID, req.OfferSDP)
	if err != nil {
		respondError(c, err, "Failed to generate answer")
		return
	}

	c.JSON(http.StatusOK, desc)
}

// SubmitDescription 클라이언트가 만든 offer/answer 저장
func (h *SignalingHandler) SubmitDescription(c *gin.Context) {
	sessionID, _, ok := h.authorize(c)
	if !ok {
		return
	}

	var req models.SubmitDescriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	desc, err := h.signalingService.SubmitDescription(c.Request.Context(), sessionID, req.Type, req.SDP)
	if err != nil {
		respondError(c, err, "Failed to store session description")
		return
	}

	c.JSON(http.StatusCreated, desc)
}

// GetDescription answer 우선, 없으면 offer (둘 다 없으면 null)
func (h *SignalingHandler) GetDescription(c *gin.Context) {
	sessionID, _, ok := h.authorize(c)
	if !ok {
		return
	}

	desc, err := h.signalingService.GetSessionDescription(c.Request.Context(), sessionID)
	if err != nil {
		respondError(c, err, "Failed to get session description")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"description": desc,
	})
}

// AddCandidate ICE 후보 추가 (제출자를 fromPeer 로 기록)
func (h *SignalingHandler) AddCandidate(c *gin.Context) {
	sessionID, userID, ok := h.authorize(c)
	if !ok {
		return
	}

	var req models.AddIceCandidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}
	if req.Candidate.Candidate == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "candidate is required",
		})
		return
	}

	if err := h.signalingService.AddIceCandidate(c.Request.Context(), sessionID, userID, req.Candidate); err != nil {
		respondError(c, err, "Failed to add ICE candidate")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Candidate added",
	})
}

// GetCandidates 도착 순서대로 전체 후보
func (h *SignalingHandler) GetCandidates(c *gin.Context) {
	sessionID, _, ok := h.authorize(c)
	if !ok {
		return
	}

	candidates, err := h.signalingService.GetIceCandidates(c.Request.Context(), sessionID)
	if err != nil {
		respondError(c, err, "Failed to get ICE candidates")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"candidates": candidates,
		"count":      len(candidates),
	})
}

func (h *SignalingHandler) Active(c *gin.Context) {
	sessionID, _, ok := h.authorize(c)
	if !ok {
		return
	}

	active, err := h.signalingService.IsActive(c.Request.Context(), sessionID)
	if err != nil {
		respondError(c, err, "Failed to check signaling session")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"active": active,
	})
}

// Close 시그널링 상태 폐기
func (h *SignalingHandler) Close(c *gin.Context) {
	sessionID, _, ok := h.authorize(c)
	if !ok {
		return
	}

	if err := h.signalingService.Close(c.Request.Context(), sessionID); err != nil {
		respondError(c, err, "Failed to close signaling session")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Signaling session closed",
	})
}
