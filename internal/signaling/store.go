package signaling

import (
	"context"
	"errors"

	"github.com/rl-arena/randomcall-backend/internal/models"
)

// ErrSessionNotFound 시그널링 세션이 열려 있지 않음
var ErrSessionNotFound = errors.New("signaling session not found")

// Store 세션 단위 시그널링 상태 저장소 (프로세스 재시작 시 유실 허용)
type Store interface {
	// Create 레코드가 없으면 저장하고, 있으면 기존 레코드를 그대로 반환
	Create(ctx context.Context, record *models.SignalingRecord) (*models.SignalingRecord, error)
	// Get 후보/디스크립션 포함 전체 레코드 (없으면 nil, nil)
	Get(ctx context.Context, sessionID string) (*models.SignalingRecord, error)
	AppendCandidate(ctx context.Context, sessionID string, candidate models.IceCandidate) error
	Candidates(ctx context.Context, sessionID string) ([]models.IceCandidate, error)
	SetDescription(ctx context.Context, sessionID string, desc *models.SessionDescription) error
	Delete(ctx context.Context, sessionID string) error
	Exists(ctx context.Context, sessionID string) (bool, error)
}
