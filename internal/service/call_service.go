package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rl-arena/randomcall-backend/internal/models"
	"github.com/rl-arena/randomcall-backend/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// callRole 전이를 요청할 수 있는 참여자
type callRole int

const (
	roleAny callRole = iota
	roleCaller
	roleReceiver
)

// CallService 직접 발신 통화의 상태 기계 (initiated → ringing → answered → connected → ended)
type CallService struct {
	sessions  SessionStore
	signaling *SignalingService
	notifier  Notifier
	logger    *zap.Logger
	now       func() time.Time
}

func NewCallService(sessions SessionStore, signaling *SignalingService, logger *zap.Logger) *CallService {
	return &CallService{
		sessions:  sessions,
		signaling: signaling,
		notifier:  NopNotifier{},
		logger:    logger,
		now:       time.Now,
	}
}

// SetNotifier 상대방에게 상태 변경 푸시
func (s *CallService) SetNotifier(n Notifier) {
	if n == nil {
		n = NopNotifier{}
	}
	s.notifier = n
}

// Initiate 직접 통화 발신
func (s *CallService) Initiate(ctx context.Context, callerID string, req models.InitiateCallRequest) (*models.CallSession, error) {
	if req.ReceiverID == "" {
		return nil, validationError(fmt.Errorf("receiverId is required"))
	}
	if req.ReceiverID == callerID {
		return nil, ErrSelfCall
	}

	mediaType := req.MediaType
	switch mediaType {
	case "":
		mediaType = models.MediaTypeVideo
	case models.MediaTypeVideo, models.MediaTypeAudio:
	default:
		return nil, validationError(fmt.Errorf("invalid media type %q", mediaType))
	}

	now := s.now()
	session := &models.CallSession{
		ID:             uuid.New().String(),
		Kind:           models.CallKindDirect,
		MediaType:      mediaType,
		CallerID:       callerID,
		ReceiverID:     req.ReceiverID,
		Status:         models.CallStatusInitiated,
		CreatedAt:      now,
		LastActivityAt: now,
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to initiate call: %w", err)
	}

	s.notifier.CallSessionUpdated(session.ReceiverID, session)

	s.logger.Info("Direct call initiated",
		zap.String("sessionId", session.ID),
		zap.String("callerId", callerID),
		zap.String("receiverId", req.ReceiverID))

	return session, nil
}

// Ring 수신자 단말이 벨을 울림
func (s *CallService) Ring(ctx context.Context, sessionID, userID string) (*models.CallSession, error) {
	return s.apply(ctx, sessionID, userID, roleReceiver, "ring", func(c *models.CallSession, now time.Time) (models.CallTransition, error) {
		return models.CallTransition{To: models.CallStatusRinging}, nil
	})
}

// Answer 수신자가 응답 (answered 를 거쳐 connected, 통화 시작 시각 기록)
func (s *CallService) Answer(ctx context.Context, sessionID, userID string) (*models.CallSession, error) {
	session, err := s.apply(ctx, sessionID, userID, roleReceiver, "answer", func(c *models.CallSession, now time.Time) (models.CallTransition, error) {
		if c.Status == models.CallStatusInitiated {
			return models.CallTransition{To: models.CallStatusConnected, CallStartedAt: &now}, nil
		}
		return models.CallTransition{To: models.CallStatusAnswered, CallStartedAt: &now}, nil
	})
	if err != nil {
		return nil, err
	}
	if session.Status == models.CallStatusConnected {
		return session, nil
	}

	return s.apply(ctx, sessionID, userID, roleReceiver, "connect", func(c *models.CallSession, now time.Time) (models.CallTransition, error) {
		return models.CallTransition{To: models.CallStatusConnected}, nil
	})
}

// Decline 수신자가 거절
func (s *CallService) Decline(ctx context.Context, sessionID, userID, reason string) (*models.CallSession, error) {
	if reason == "" {
		reason = "declined"
	}
	return s.finish(ctx, sessionID, userID, roleReceiver, "decline", models.CallStatusDeclined, reason)
}

// Cancel 발신자가 연결 전 취소
func (s *CallService) Cancel(ctx context.Context, sessionID, userID string) (*models.CallSession, error) {
	return s.finish(ctx, sessionID, userID, roleCaller, "cancel", models.CallStatusCancelled, "cancelled")
}

// Miss 응답 없이 종료
func (s *CallService) Miss(ctx context.Context, sessionID, userID string) (*models.CallSession, error) {
	return s.finish(ctx, sessionID, userID, roleAny, "miss", models.CallStatusMissed, "no answer")
}

// End 통화 종료 (통화 시간 계산)
func (s *CallService) End(ctx context.Context, sessionID, userID string, req models.EndCallRequest) (*models.CallSession, error) {
	reason := req.Reason
	if reason == "" {
		reason = "hangup"
	}

	session, err := s.apply(ctx, sessionID, userID, roleAny, "end", func(c *models.CallSession, now time.Time) (models.CallTransition, error) {
		t := models.CallTransition{
			To:              models.CallStatusEnded,
			CallEndedAt:     &now,
			DurationSeconds: models.DurationBetween(c.CallStartedAt, now),
			EndReason:       &reason,
		}
		if req.VideoQuality != "" {
			t.VideoQuality = &req.VideoQuality
		}
		if req.AudioQuality != "" {
			t.AudioQuality = &req.AudioQuality
		}
		return t, nil
	})
	if err != nil {
		return nil, err
	}

	s.closeSignaling(ctx, sessionID)
	return session, nil
}

// Get 참여자만 조회 가능
func (s *CallService) Get(ctx context.Context, sessionID, userID string) (*models.CallSession, error) {
	session, err := s.find(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.IsParticipant(userID) {
		return nil, ErrNotParticipant
	}
	return session, nil
}

// History 사용자의 최근 통화 기록
func (s *CallService) History(ctx context.Context, userID string, limit int) ([]*models.CallSession, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	sessions, err := s.sessions.FindByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get call history: %w", err)
	}
	if sessions == nil {
		sessions = []*models.CallSession{}
	}
	return sessions, nil
}

func (s *CallService) finish(
	ctx context.Context,
	sessionID, userID string,
	role callRole,
	op string,
	to models.CallStatus,
	reason string,
) (*models.CallSession, error) {
	session, err := s.apply(ctx, sessionID, userID, role, op, func(c *models.CallSession, now time.Time) (models.CallTransition, error) {
		return models.CallTransition{To: to, EndReason: &reason}, nil
	})
	if err != nil {
		return nil, err
	}

	s.closeSignaling(ctx, sessionID)
	return session, nil
}

// apply 권한/전이표 확인 후 compare-and-set 전이
func (s *CallService) apply(
	ctx context.Context,
	sessionID, userID string,
	role callRole,
	op string,
	build func(c *models.CallSession, now time.Time) (models.CallTransition, error),
) (*models.CallSession, error) {
	session, err := s.find(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if err := checkRole(session, userID, role); err != nil {
		return nil, err
	}
	if session.Kind == models.CallKindRandom {
		return nil, ErrRandomCallManaged
	}

	now := s.now()
	t, err := build(session, now)
	if err != nil {
		return nil, err
	}
	if !session.Status.CanTransitionTo(t.To) {
		return nil, invalidState(op, session.Status)
	}
	t.From = []models.CallStatus{session.Status}
	t.At = now

	if err := s.sessions.Transition(ctx, sessionID, t); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			current, findErr := s.find(ctx, sessionID)
			if findErr != nil {
				return nil, findErr
			}
			return nil, invalidState(op, current.Status)
		}
		return nil, fmt.Errorf("failed to %s call: %w", op, err)
	}

	updated, err := s.find(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	s.notifier.CallSessionUpdated(updated.PeerOf(userID), updated)

	s.logger.Debug("Call session transitioned",
		zap.String("sessionId", sessionID),
		zap.String("from", string(session.Status)),
		zap.String("to", string(updated.Status)))

	return updated, nil
}

func checkRole(session *models.CallSession, userID string, role callRole) error {
	switch role {
	case roleCaller:
		if session.CallerID != userID {
			return ErrNotParticipant
		}
	case roleReceiver:
		if session.ReceiverID != userID {
			return ErrNotParticipant
		}
	default:
		if !session.IsParticipant(userID) {
			return ErrNotParticipant
		}
	}
	return nil
}

func (s *CallService) find(ctx context.Context, sessionID string) (*models.CallSession, error) {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get call session: %w", err)
	}
	if session == nil {
		return nil, ErrCallSessionNotFound
	}
	return session, nil
}

func (s *CallService) closeSignaling(ctx context.Context, sessionID string) {
	if err := s.signaling.Close(ctx, sessionID); err != nil {
		s.logger.Warn("Failed to close signaling session", zap.String("sessionId", sessionID), zap.Error(err))
	}
}
