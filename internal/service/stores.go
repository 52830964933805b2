package service

import (
	"context"
	"time"

	"github.com/rl-arena/randomcall-backend/internal/models"
	"github.com/rl-arena/randomcall-backend/internal/repository"
)

// QueueStore 큐 엔트리 영속 저장소 (repository.QueueRepository 가 구현)
type QueueStore interface {
	Create(ctx context.Context, entry *models.QueueEntry) error
	FindByRequestID(ctx context.Context, requestID string) (*models.QueueEntry, error)
	FindActiveByUser(ctx context.Context, userID string) (*models.QueueEntry, error)
	FindPartner(ctx context.Context, sessionID, requestID string) (*models.QueueEntry, error)
	ListWaiting(ctx context.Context, createdBefore time.Time) ([]*models.QueueEntry, error)
	ListMatchedBefore(ctx context.Context, matchedBefore time.Time) ([]*models.QueueEntry, error)
	CountWaiting(ctx context.Context, queueType models.QueueType) (int, error)
	CountWaitingPriority(ctx context.Context) (int, error)
	CountWaitingAhead(ctx context.Context, createdAt time.Time, requestID string) (int, error)
	TransitionStatus(ctx context.Context, requestID string, from []models.QueueStatus, to models.QueueStatus, update repository.QueueUpdate) error
	UpdatePreferences(ctx context.Context, requestID string, prefs models.Preferences, at time.Time) error
	ApplyMatch(ctx context.Context, a, b models.MatchAssignment, session *models.CallSession) error
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SessionStore 통화 세션 영속 저장소 (repository.CallSessionRepository 가 구현)
type SessionStore interface {
	Create(ctx context.Context, session *models.CallSession) error
	FindByID(ctx context.Context, id string) (*models.CallSession, error)
	FindByUser(ctx context.Context, userID string, limit int) ([]*models.CallSession, error)
	ListPendingBefore(ctx context.Context, kind models.CallKind, cutoff time.Time) ([]*models.CallSession, error)
	Transition(ctx context.Context, id string, t models.CallTransition) error
}

// Identity 외부 인증 서비스가 관리하는 사용자 정보
type Identity interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	IsBlockedFromRandomCalls(ctx context.Context, id string) (bool, error)
	BlockedAmong(ctx context.Context, ids []string) (map[string]bool, error)
	SetRandomCallBlock(ctx context.Context, id string, blocked bool) error
}

// PassLocker 여러 인스턴스가 동시에 매칭 패스를 실행하지 않도록 보장
type PassLocker interface {
	TryAcquire(ctx context.Context) (release func(), acquired bool, err error)
}
