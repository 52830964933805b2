package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rl-arena/randomcall-backend/pkg/logger"
	"github.com/rl-arena/randomcall-backend/pkg/ratelimit"
)

// RateLimitConfig Rate Limit 설정
type RateLimitConfig struct {
	Limiter ratelimit.Limiter         // 메모리 또는 Redis Limiter
	Name    string                    // 키 접두사 (엔드포인트 그룹별로 버킷 분리)
	Limit   int                       // 윈도우 내 최대 요청 수
	Window  time.Duration             // 윈도우 크기
	KeyFunc func(*gin.Context) string // 키 추출 함수
}

// DefaultKeyFunc uses user ID if authenticated, otherwise IP address
func DefaultKeyFunc(c *gin.Context) string {
	if userID := c.GetString(ContextUserID); userID != "" {
		return "user:" + userID
	}
	return "ip:" + c.ClientIP()
}

// IPKeyFunc uses only IP address (for public endpoints)
func IPKeyFunc(c *gin.Context) string {
	return "ip:" + c.ClientIP()
}

// UserKeyFunc uses only user ID (requires authentication)
func UserKeyFunc(c *gin.Context) string {
	if userID := c.GetString(ContextUserID); userID != "" {
		return "user:" + userID
	}
	return ""
}

// RateLimit Rate Limiting 미들웨어 (Limiter 오류 시 요청 허용)
func RateLimit(config RateLimitConfig) gin.HandlerFunc {
	if config.KeyFunc == nil {
		config.KeyFunc = DefaultKeyFunc
	}
	if config.Limit <= 0 {
		config.Limit = 60
	}
	if config.Window <= 0 {
		config.Window = time.Minute
	}

	return func(c *gin.Context) {
		key := config.KeyFunc(c)
		if key == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required for rate limiting",
			})
			c.Abort()
			return
		}
		if config.Name != "" {
			key = config.Name + ":" + key
		}

		allowed, info, err := config.Limiter.AllowWithInfo(c.Request.Context(), key, config.Limit, config.Window)
		if err != nil {
			// Fail-open
			logger.Warn("Rate limit check failed", "key", key, "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(info.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(info.ResetTime.Unix(), 10))

		if !allowed {
			retryAfter := int(time.Until(info.ResetTime).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))

			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"message":     fmt.Sprintf("Too many requests. Limit: %d per %v", config.Limit, config.Window),
				"retry_after": retryAfter,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// QueueJoinRateLimit 큐 참여 (10회/분, 사용자별)
func QueueJoinRateLimit(limiter ratelimit.Limiter) gin.HandlerFunc {
	return RateLimit(RateLimitConfig{
		Limiter: limiter,
		Name:    "queue_join",
		Limit:   10,
		Window:  time.Minute,
		KeyFunc: UserKeyFunc,
	})
}

// IceCandidateRateLimit ICE candidate 제출 (120회/분, 사용자별)
func IceCandidateRateLimit(limiter ratelimit.Limiter) gin.HandlerFunc {
	return RateLimit(RateLimitConfig{
		Limiter: limiter,
		Name:    "ice_candidate",
		Limit:   120,
		Window:  time.Minute,
		KeyFunc: UserKeyFunc,
	})
}

// CallInitiateRateLimit 직접 통화 발신 (20회/분, 사용자별)
func CallInitiateRateLimit(limiter ratelimit.Limiter) gin.HandlerFunc {
	return RateLimit(RateLimitConfig{
		Limiter: limiter,
		Name:    "call_initiate",
		Limit:   20,
		Window:  time.Minute,
		KeyFunc: UserKeyFunc,
	})
}

// GeneralAPIRateLimit 전체 API (600회/분, 사용자 또는 IP)
func GeneralAPIRateLimit(limiter ratelimit.Limiter) gin.HandlerFunc {
	return RateLimit(RateLimitConfig{
		Limiter: limiter,
		Name:    "api",
		Limit:   600,
		Window:  time.Minute,
		KeyFunc: DefaultKeyFunc,
	})
}
