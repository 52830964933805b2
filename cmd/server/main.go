package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rl-arena/randomcall-backend/internal/api"
	"github.com/rl-arena/randomcall-backend/internal/config"
	"github.com/rl-arena/randomcall-backend/internal/models"
	"github.com/rl-arena/randomcall-backend/internal/repository"
	"github.com/rl-arena/randomcall-backend/internal/service"
	"github.com/rl-arena/randomcall-backend/internal/signaling"
	"github.com/rl-arena/randomcall-backend/internal/websocket"
	"github.com/rl-arena/randomcall-backend/pkg/database"
	"github.com/rl-arena/randomcall-backend/pkg/distributed"
	"github.com/rl-arena/randomcall-backend/pkg/logger"
	"github.com/rl-arena/randomcall-backend/pkg/ratelimit"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"
)

func main() {
	// 설정 로드
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 로거 초기화
	logger.Init(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("Starting RandomCall Backend",
		"port", cfg.Port,
		"env", cfg.Env,
		"matchingMode", cfg.MatchingMode,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 데이터베이스 연결
	db, err := database.Connect(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", "error", err)
	}
	defer db.Close()

	// Redis (선택)
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal("Invalid REDIS_URL", "error", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Fatal("Failed to connect to Redis", "error", err)
		}
		logger.Info("Redis connection established")
	}

	// Repository 초기화
	queueRepo := repository.NewQueueRepository(db)
	sessionRepo := repository.NewCallSessionRepository(db)
	userRepo := repository.NewUserRepository(db)

	// 시그널링 저장소
	var signalingStore signaling.Store = signaling.NewMemoryStore()
	if cfg.SignalingBackend == config.SignalingBackendRedis {
		signalingStore = signaling.NewRedisStore(redisClient, "", cfg.SignalingTTL)
	}

	// Service 초기화
	control := service.NewMatchingControl()
	signalingService := service.NewSignalingService(
		signalingStore,
		sessionRepo,
		service.ICEServersFromConfig(cfg.ICEServerURLs, cfg.ICEUsername, cfg.ICECredential),
		models.DefaultMediaDefaults(),
		logger.Named("signaling"),
	)
	queueService := service.NewQueueService(queueRepo, sessionRepo, userRepo, signalingService, service.QueueConfig{
		DefaultMaxWait:  cfg.DefaultMaxWait,
		MatchingTimeout: cfg.MatchingTimeout,
	}, logger.Named("queue"))
	callService := service.NewCallService(sessionRepo, signalingService, logger.Named("calls"))
	adminService := service.NewAdminService(control, queueRepo, userRepo, logger.Named("admin"))
	userService := service.NewUserService(userRepo, logger.Named("users"))

	engine := service.NewMatchingEngine(queueRepo, sessionRepo, userRepo, signalingService, control, service.MatchingConfig{
		Interval:         cfg.MatchingInterval,
		Timeout:          cfg.MatchingTimeout,
		AcceptTimeout:    cfg.MatchingAcceptTimeout,
		MinDwell:         cfg.MatchingMinDwell,
		CrossTier:        cfg.MatchingCrossTier,
		Mode:             cfg.MatchingMode,
		Retention:        cfg.QueueRetention,
		DefaultAvatarURL: cfg.DefaultAvatarURL,
	}, logger.Named("matching"))

	// WebSocket Hub (상태 변경 푸시)
	hub := websocket.NewHub(logger.Named("ws"), cfg.CORSAllowedOrigins)
	queueService.SetNotifier(hub)
	engine.SetNotifier(hub)
	callService.SetNotifier(hub)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	var limiter ratelimit.Limiter
	if redisClient != nil {
		limiter = ratelimit.NewRedisRateLimiter(redisClient, "")

		// 여러 인스턴스 중 하나만 매칭 패스 실행
		engine.SetPassLocker(distributed.NewPassGuard(redisClient, "", cfg.MatchingInterval*2, logger.Named("pass-lock")))

		relay := distributed.NewNotificationRelay(redisClient, "", logger.Named("relay"))
		hub.SetRelay(relay)
		g.Go(func() error {
			if err := relay.Start(gctx, hub.Deliver); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("notification relay: %w", err)
			}
			return nil
		})
	} else {
		memoryLimiter := ratelimit.NewRateLimiter()
		limiter = memoryLimiter
		g.Go(func() error {
			memoryLimiter.Start(gctx)
			return nil
		})
	}

	// 매칭 엔진 시작
	engine.Start()
	defer engine.Stop()

	// 라우터 설정
	router := api.SetupRouter(cfg, api.Dependencies{
		Queue:     queueService,
		Calls:     callService,
		Signaling: signalingService,
		Admin:     adminService,
		Users:     userService,
		Hub:       hub,
		Limiter:   limiter,
		DB:        db,
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Authorization"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
	}).Handler(router)

	// 서버 설정
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      corsHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g.Go(func() error {
		logger.Info("Server listening", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})

	// Graceful shutdown (시그널 또는 구성 요소 오류)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server stopped with error", "error", err)
	}

	logger.Info("Server exited")
}
