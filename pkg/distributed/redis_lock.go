package distributed

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	ErrLockNotAcquired = errors.New("lock not acquired")
	ErrLockNotHeld     = errors.New("lock not held")
)

// releaseScript 자신이 획득한 락만 해제
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// extendScript 자신이 획득한 락만 TTL 연장
var extendScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("PEXPIRE", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// RedisLock Redis 기반 분산 락
type RedisLock struct {
	client *redis.Client
	key    string
	value  string
	ttl    time.Duration
}

// RedisLockManager Redis 분산 락 관리자
type RedisLockManager struct {
	client *redis.Client
}

// NewRedisLockManager Redis Lock Manager 생성
func NewRedisLockManager(client *redis.Client) *RedisLockManager {
	return &RedisLockManager{
		client: client,
	}
}

// AcquireLock 분산 락 획득 시도 (SET NX)
func (m *RedisLockManager) AcquireLock(ctx context.Context, key, value string, ttl time.Duration) (*RedisLock, error) {
	success, err := m.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return nil, err
	}

	if !success {
		return nil, ErrLockNotAcquired
	}

	return &RedisLock{
		client: m.client,
		key:    key,
		value:  value,
		ttl:    ttl,
	}, nil
}

// Release 락 해제
func (l *RedisLock) Release(ctx context.Context) error {
	result, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.value).Int()
	if err != nil {
		return err
	}

	if result == 0 {
		return ErrLockNotHeld
	}

	return nil
}

// Extend 락 TTL 연장
func (l *RedisLock) Extend(ctx context.Context, extension time.Duration) error {
	result, err := extendScript.Run(ctx, l.client, []string{l.key}, l.value, extension.Milliseconds()).Int()
	if err != nil {
		return err
	}

	if result == 0 {
		return ErrLockNotHeld
	}

	l.ttl = extension
	return nil
}

// IsHeld 락이 현재 유효한지 확인
func (l *RedisLock) IsHeld(ctx context.Context) (bool, error) {
	value, err := l.client.Get(ctx, l.key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return value == l.value, nil
}

// PassGuard 여러 서버 인스턴스 중 하나만 매칭 패스를 실행하도록 하는 락
type PassGuard struct {
	manager    *RedisLockManager
	key        string
	instanceID string
	ttl        time.Duration
	logger     *zap.Logger
}

// NewPassGuard key 기본값은 "matching:pass:lock"
func NewPassGuard(client *redis.Client, key string, ttl time.Duration, logger *zap.Logger) *PassGuard {
	if key == "" {
		key = "matching:pass:lock"
	}

	return &PassGuard{
		manager:    NewRedisLockManager(client),
		key:        key,
		instanceID: uuid.New().String(),
		ttl:        ttl,
		logger:     logger,
	}
}

// InstanceID 이 인스턴스의 락 소유자 값
func (g *PassGuard) InstanceID() string {
	return g.instanceID
}

// TryAcquire 재시도 없이 한 번만 시도 (다른 인스턴스가 보유 중이면 acquired=false)
func (g *PassGuard) TryAcquire(ctx context.Context) (func(), bool, error) {
	lock, err := g.manager.AcquireLock(ctx, g.key, g.instanceID, g.ttl)
	if err == ErrLockNotAcquired {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := lock.Release(ctx); err != nil && err != ErrLockNotHeld {
			g.logger.Warn("Failed to release matching pass lock", zap.Error(err))
		}
	}
	return release, true, nil
}
