package api

import (
	"github.com/gin-gonic/gin"
	"github.com/rl-arena/randomcall-backend/internal/api/handlers"
	"github.com/rl-arena/randomcall-backend/internal/api/middleware"
	"github.com/rl-arena/randomcall-backend/internal/config"
	"github.com/rl-arena/randomcall-backend/internal/service"
	"github.com/rl-arena/randomcall-backend/internal/websocket"
	"github.com/rl-arena/randomcall-backend/pkg/ratelimit"
)

// Dependencies 라우터가 사용하는 서비스와 인프라
type Dependencies struct {
	Queue     *service.QueueService
	Calls     *service.CallService
	Signaling *service.SignalingService
	Admin     *service.AdminService
	Users     *service.UserService
	Hub       *websocket.Hub
	Limiter   ratelimit.Limiter
	DB        handlers.Pinger
}

// SetupRouter API 라우터 설정
func SetupRouter(cfg *config.Config, deps Dependencies) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// 전역 미들웨어 (CORS 는 cmd/server 에서 rs/cors 로 감싼다)
	router.Use(gin.Recovery())
	router.Use(middleware.Logger())

	if deps.Limiter == nil {
		deps.Limiter = ratelimit.NewRateLimiter()
	}

	// Handler 초기화
	var counter handlers.ConnectionCounter
	if deps.Hub != nil {
		counter = deps.Hub
	}
	healthHandler := handlers.NewHealthHandler(deps.DB, counter)
	queueHandler := handlers.NewQueueHandler(deps.Queue)
	callHandler := handlers.NewCallHandler(deps.Calls)
	signalingHandler := handlers.NewSignalingHandler(deps.Signaling)
	adminHandler := handlers.NewAdminHandler(deps.Admin)
	userHandler := handlers.NewUserHandler(deps.Users)

	auth := middleware.Auth(cfg)

	// Health check
	router.GET("/health", healthHandler.HealthCheck)

	// API v1
	v1 := router.Group("/api/v1")
	{
		// WebSocket endpoint (푸시는 선택, 폴링이 기본)
		if deps.Hub != nil {
			wsHandler := handlers.NewWebSocketHandler(deps.Hub)
			v1.GET("/ws", auth, wsHandler.HandleWebSocket)
		}

		authed := v1.Group("")
		authed.Use(auth, middleware.GeneralAPIRateLimit(deps.Limiter))

		// Random call queue routes
		queue := authed.Group("/random-calls/queue")
		{
			queue.POST("", middleware.QueueJoinRateLimit(deps.Limiter), queueHandler.Join)
			queue.GET("/:requestId", queueHandler.Status)
			queue.DELETE("/:requestId", queueHandler.Cancel)
			queue.POST("/:requestId/accept", queueHandler.Accept)
			queue.POST("/:requestId/decline", queueHandler.Decline)
			queue.POST("/:requestId/end", queueHandler.End)
			queue.PUT("/:requestId/preferences", queueHandler.UpdatePreferences)
		}

		// Direct call routes
		calls := authed.Group("/calls")
		{
			calls.POST("", middleware.CallInitiateRateLimit(deps.Limiter), callHandler.Initiate)
			calls.GET("", callHandler.History)
			calls.GET("/:sessionId", callHandler.Get)
			calls.POST("/:sessionId/ring", callHandler.Ring)
			calls.POST("/:sessionId/answer", callHandler.Answer)
			calls.POST("/:sessionId/decline", callHandler.Decline)
			calls.POST("/:sessionId/cancel", callHandler.Cancel)
			calls.POST("/:sessionId/miss", callHandler.Miss)
			calls.POST("/:sessionId/end", callHandler.End)
		}

		// Signaling routes (통화 참여자만)
		signaling := authed.Group("/signaling/:sessionId")
		{
			signaling.POST("/open", signalingHandler.Open)
			signaling.POST("/offer", signalingHandler.Offer)
			signaling.POST("/answer", signalingHandler.Answer)
			signaling.POST("/description", signalingHandler.SubmitDescription)
			signaling.GET("/description", signalingHandler.GetDescription)
			signaling.POST("/candidates", middleware.IceCandidateRateLimit(deps.Limiter), signalingHandler.AddCandidate)
			signaling.GET("/candidates", signalingHandler.GetCandidates)
			signaling.GET("/active", signalingHandler.Active)
			signaling.DELETE("", signalingHandler.Close)
		}

		// User routes
		users := authed.Group("/users")
		{
			users.GET("/me", userHandler.GetCurrentUser)
			users.PUT("/me", userHandler.UpdateCurrentUser)
		}

		// Admin routes
		admin := authed.Group("/admin")
		admin.Use(middleware.RequireAdmin())
		{
			admin.POST("/matching/enable", adminHandler.EnableMatching)
			admin.POST("/matching/disable", adminHandler.DisableMatching)
			admin.GET("/matching/status", adminHandler.Status)
			admin.POST("/users/:id/random-call-block", adminHandler.SetRandomCallBlock)
		}
	}

	return router
}
