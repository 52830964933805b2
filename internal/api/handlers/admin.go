package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rl-arena/randomcall-backend/internal/api/middleware"
	"github.com/rl-arena/randomcall-backend/internal/models"
	"github.com/rl-arena/randomcall-backend/internal/service"
	"github.com/rl-arena/randomcall-backend/pkg/logger"
)

type AdminHandler struct {
	adminService *service.AdminService
}

func NewAdminHandler(adminService *service.AdminService) *AdminHandler {
	return &AdminHandler{
		adminService: adminService,
	}
}

// EnableMatching 매칭 재개
func (h *AdminHandler) EnableMatching(c *gin.Context) {
	h.adminService.EnableMatching()
	logger.Info("Matching enabled by admin", "adminId", c.GetString(middleware.ContextUserID))

	c.JSON(http.StatusOK, gin.H{
		"enabled": true,
	})
}

// DisableMatching 매칭 중단
func (h *AdminHandler) DisableMatching(c *gin.Context) {
	h.adminService.DisableMatching()
	logger.Info("Matching disabled by admin", "adminId", c.GetString(middleware.ContextUserID))

	c.JSON(http.StatusOK, gin.H{
		"enabled": false,
	})
}

// Status 매칭 시스템 상태
func (h *AdminHandler) Status(c *gin.Context) {
	status, err := h.adminService.Status(c.Request.Context())
	if err != nil {
		respondError(c, err, "Failed to get matching status")
		return
	}

	c.JSON(http.StatusOK, status)
}

// SetRandomCallBlock 사용자 랜덤 통화 차단/해제
func (h *AdminHandler) SetRandomCallBlock(c *gin.Context) {
	var req models.RandomCallBlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	userID := c.Param("id")
	if err := h.adminService.SetRandomCallBlock(c.Request.Context(), userID, req.Blocked); err != nil {
		respondError(c, err, "Failed to update random call block")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"userId":  userID,
		"blocked": req.Blocked,
	})
}
