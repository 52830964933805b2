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

// QueueConfig 큐 서비스 설정
type QueueConfig struct {
	DefaultMaxWait  time.Duration
	MatchingTimeout time.Duration
}

// QueueService 랜덤 통화 큐 참여/조회/취소와 매칭 이후 상태 전이
type QueueService struct {
	queue     QueueStore
	sessions  SessionStore
	identity  Identity
	signaling *SignalingService
	notifier  Notifier
	cfg       QueueConfig
	logger    *zap.Logger
	now       func() time.Time
}

func NewQueueService(
	queue QueueStore,
	sessions SessionStore,
	identity Identity,
	signaling *SignalingService,
	cfg QueueConfig,
	logger *zap.Logger,
) *QueueService {
	return &QueueService{
		queue:     queue,
		sessions:  sessions,
		identity:  identity,
		signaling: signaling,
		notifier:  NopNotifier{},
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// SetNotifier 상대방 상태 변경 푸시 대상 설정
func (s *QueueService) SetNotifier(n Notifier) {
	if n == nil {
		n = NopNotifier{}
	}
	s.notifier = n
}

// Join 큐 참여
func (s *QueueService) Join(ctx context.Context, userID string, req models.JoinQueueRequest) (*models.QueueEntry, error) {
	prefs := req.Preferences.Normalize()
	if err := prefs.Validate(); err != nil {
		return nil, validationError(err)
	}
	if err := req.Settings.Validate(); err != nil {
		return nil, validationError(err)
	}

	blocked, err := s.identity.IsBlockedFromRandomCalls(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to check random call block: %w", err)
	}
	if blocked {
		return nil, ErrBlockedFromRandomCalls
	}

	existing, err := s.queue.FindActiveByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to check active entry: %w", err)
	}
	if existing != nil {
		return nil, ErrActiveEntryExists
	}

	waiting, err := s.queue.CountWaiting(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to count waiting entries: %w", err)
	}

	queueType := req.Settings.QueueType
	if queueType == "" {
		queueType = models.QueueTypeRandom
	}
	maxWait := req.Settings.MaxWaitSeconds
	if maxWait == 0 {
		maxWait = int(s.cfg.DefaultMaxWait.Seconds())
	}

	now := s.now()
	entry := &models.QueueEntry{
		RequestID:      uuid.New().String(),
		UserID:         userID,
		Status:         models.QueueStatusWaiting,
		QueueType:      queueType,
		IsPriority:     req.Settings.Priority,
		Preferences:    prefs,
		MaxWaitSeconds: maxWait,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	setPosition(entry, waiting+1)

	if err := s.queue.Create(ctx, entry); err != nil {
		if errors.Is(err, repository.ErrDuplicateActiveEntry) {
			return nil, ErrActiveEntryExists
		}
		return nil, fmt.Errorf("failed to join queue: %w", err)
	}

	s.logger.Info("User joined random call queue",
		zap.String("requestId", entry.RequestID),
		zap.String("userId", userID),
		zap.String("queueType", string(queueType)),
		zap.Bool("priority", entry.IsPriority),
		zap.Int("position", entry.QueuePosition))

	return entry, nil
}

// Status 현재 상태 (waiting 이면 순번/예상 대기시간 재계산)
func (s *QueueService) Status(ctx context.Context, requestID string) (*models.QueueEntry, error) {
	entry, err := s.find(ctx, requestID)
	if err != nil {
		return nil, err
	}

	if entry.Status != models.QueueStatusWaiting {
		return entry, nil
	}

	now := s.now()
	if entry.IsExpired(now, s.cfg.MatchingTimeout) {
		msg := timeoutMessage(entry, s.cfg.MatchingTimeout)
		err := s.queue.TransitionStatus(ctx, requestID,
			[]models.QueueStatus{models.QueueStatusWaiting},
			models.QueueStatusTimeout,
			repository.QueueUpdate{At: now, StatusMessage: &msg})
		if err != nil && !errors.Is(err, repository.ErrStatusConflict) {
			return nil, fmt.Errorf("failed to time out entry: %w", err)
		}
		return s.find(ctx, requestID)
	}

	ahead, err := s.queue.CountWaitingAhead(ctx, entry.CreatedAt, entry.RequestID)
	if err != nil {
		return nil, fmt.Errorf("failed to compute queue position: %w", err)
	}
	setPosition(entry, ahead+1)

	return entry, nil
}

// Cancel waiting/matched → cancelled
func (s *QueueService) Cancel(ctx context.Context, requestID, userID string) (*models.QueueEntry, error) {
	entry, err := s.findOwned(ctx, requestID, userID)
	if err != nil {
		return nil, err
	}

	from := []models.QueueStatus{models.QueueStatusWaiting, models.QueueStatusMatched}
	if !entry.Status.IsActive() {
		return nil, invalidState("cancel", entry.Status)
	}

	now := s.now()
	msg := "Cancelled by user"
	if err := s.transition(ctx, entry, "cancel", from, models.QueueStatusCancelled, repository.QueueUpdate{
		At:            now,
		StatusMessage: &msg,
	}); err != nil {
		return nil, err
	}

	// 조회 이후 매칭되었을 수 있으므로 다시 읽어서 세션 확인
	cancelled, err := s.find(ctx, requestID)
	if err != nil {
		return nil, err
	}
	s.finishLinkedCall(ctx, cancelled, "cancelled", now)

	s.logger.Info("Queue entry cancelled",
		zap.String("requestId", requestID),
		zap.String("userId", userID))

	return cancelled, nil
}

// AcceptMatch matched → connected (explicit_accept 모드)
func (s *QueueService) AcceptMatch(ctx context.Context, requestID, userID string) (*models.QueueEntry, error) {
	entry, err := s.findOwned(ctx, requestID, userID)
	if err != nil {
		return nil, err
	}
	if entry.Status != models.QueueStatusMatched {
		return nil, invalidState("accept", entry.Status)
	}

	now := s.now()
	if err := s.transition(ctx, entry, "accept",
		[]models.QueueStatus{models.QueueStatusMatched},
		models.QueueStatusConnected,
		repository.QueueUpdate{At: now, CallStartedAt: &now},
	); err != nil {
		return nil, err
	}

	// 양쪽 모두 수락했으면 통화 세션 연결
	if entry.SessionID != nil {
		partner, err := s.queue.FindPartner(ctx, *entry.SessionID, entry.RequestID)
		if err != nil {
			s.logger.Warn("Failed to load partner entry", zap.String("requestId", requestID), zap.Error(err))
		} else if partner != nil && partner.Status == models.QueueStatusConnected {
			err := s.sessions.Transition(ctx, *entry.SessionID, models.CallTransition{
				From:          []models.CallStatus{models.CallStatusInitiated},
				To:            models.CallStatusConnected,
				At:            now,
				CallStartedAt: &now,
			})
			if err != nil && !errors.Is(err, repository.ErrStatusConflict) {
				s.logger.Warn("Failed to connect call session", zap.String("sessionId", *entry.SessionID), zap.Error(err))
			}
			s.notifier.QueueEntryUpdated(partner.UserID, partner)
		}
	}

	return s.find(ctx, requestID)
}

// DeclineMatch matched/connected → declined
func (s *QueueService) DeclineMatch(ctx context.Context, requestID, userID, reason string) (*models.QueueEntry, error) {
	entry, err := s.findOwned(ctx, requestID, userID)
	if err != nil {
		return nil, err
	}

	from := []models.QueueStatus{models.QueueStatusMatched, models.QueueStatusConnected}
	if entry.Status != models.QueueStatusMatched && entry.Status != models.QueueStatusConnected {
		return nil, invalidState("decline", entry.Status)
	}

	if reason == "" {
		reason = "declined"
	}
	now := s.now()
	if err := s.transition(ctx, entry, "decline", from, models.QueueStatusDeclined, repository.QueueUpdate{
		At:            now,
		DeclineReason: &reason,
	}); err != nil {
		return nil, err
	}

	s.finishLinkedCall(ctx, entry, reason, now)

	s.logger.Info("Match declined",
		zap.String("requestId", requestID),
		zap.String("reason", reason))

	return s.find(ctx, requestID)
}

// EndCall matched/connected → ended (통화 시간 계산)
func (s *QueueService) EndCall(ctx context.Context, requestID, userID string) (*models.QueueEntry, error) {
	entry, err := s.findOwned(ctx, requestID, userID)
	if err != nil {
		return nil, err
	}

	from := []models.QueueStatus{models.QueueStatusMatched, models.QueueStatusConnected}
	if entry.Status != models.QueueStatusMatched && entry.Status != models.QueueStatusConnected {
		return nil, invalidState("end call", entry.Status)
	}

	now := s.now()
	if err := s.transition(ctx, entry, "end call", from, models.QueueStatusEnded, repository.QueueUpdate{
		At:                  now,
		CallEndedAt:         &now,
		CallDurationSeconds: models.DurationBetween(entry.CallStartedAt, now),
	}); err != nil {
		return nil, err
	}

	s.finishLinkedCall(ctx, entry, "hangup", now)

	s.logger.Info("Random call ended",
		zap.String("requestId", requestID),
		zap.String("userId", userID))

	return s.find(ctx, requestID)
}

// UpdatePreferences waiting 상태에서만 선호 조건 변경 (다음 패스부터 반영)
func (s *QueueService) UpdatePreferences(ctx context.Context, requestID, userID string, prefs models.Preferences) (*models.QueueEntry, error) {
	prefs = prefs.Normalize()
	if err := prefs.Validate(); err != nil {
		return nil, validationError(err)
	}

	entry, err := s.findOwned(ctx, requestID, userID)
	if err != nil {
		return nil, err
	}
	if entry.Status != models.QueueStatusWaiting {
		return nil, invalidState("update preferences", entry.Status)
	}

	if err := s.queue.UpdatePreferences(ctx, requestID, prefs, s.now()); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			return nil, s.conflict(ctx, requestID, "update preferences")
		}
		return nil, fmt.Errorf("failed to update preferences: %w", err)
	}

	return s.Status(ctx, requestID)
}

func (s *QueueService) find(ctx context.Context, requestID string) (*models.QueueEntry, error) {
	entry, err := s.queue.FindByRequestID(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue entry: %w", err)
	}
	if entry == nil {
		return nil, ErrQueueEntryNotFound
	}
	return entry, nil
}

func (s *QueueService) findOwned(ctx context.Context, requestID, userID string) (*models.QueueEntry, error) {
	entry, err := s.find(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if entry.UserID != userID {
		return nil, ErrNotOwner
	}
	return entry, nil
}

// transition compare-and-set 상태 전이 (경합에서 지면 InvalidState)
func (s *QueueService) transition(
	ctx context.Context,
	entry *models.QueueEntry,
	op string,
	from []models.QueueStatus,
	to models.QueueStatus,
	update repository.QueueUpdate,
) error {
	err := s.queue.TransitionStatus(ctx, entry.RequestID, from, to, update)
	if err == nil {
		return nil
	}
	if errors.Is(err, repository.ErrStatusConflict) {
		return s.conflict(ctx, entry.RequestID, op)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func (s *QueueService) conflict(ctx context.Context, requestID, op string) error {
	current, err := s.find(ctx, requestID)
	if err != nil {
		return err
	}
	return invalidState(op, current.Status)
}

// finishLinkedCall 연결된 통화 세션과 상대 엔트리 종료, 시그널링 정리
func (s *QueueService) finishLinkedCall(ctx context.Context, entry *models.QueueEntry, reason string, now time.Time) {
	if entry.SessionID == nil {
		return
	}
	sessionID := *entry.SessionID

	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		s.logger.Warn("Failed to load call session", zap.String("sessionId", sessionID), zap.Error(err))
	} else if session != nil && !session.Status.IsTerminal() {
		t := models.CallTransition{At: now, EndReason: &reason}
		switch session.Status {
		case models.CallStatusInitiated, models.CallStatusRinging:
			t.From = []models.CallStatus{session.Status}
			t.To = models.CallStatusCancelled
		default:
			t.From = []models.CallStatus{models.CallStatusAnswered, models.CallStatusConnected}
			t.To = models.CallStatusEnded
			t.CallEndedAt = &now
			t.DurationSeconds = models.DurationBetween(session.CallStartedAt, now)
		}
		if err := s.sessions.Transition(ctx, sessionID, t); err != nil && !errors.Is(err, repository.ErrStatusConflict) {
			s.logger.Warn("Failed to close call session", zap.String("sessionId", sessionID), zap.Error(err))
		}
	}

	s.releasePartner(ctx, entry, sessionID, now)

	if err := s.signaling.Close(ctx, sessionID); err != nil {
		s.logger.Warn("Failed to close signaling session", zap.String("sessionId", sessionID), zap.Error(err))
	}
}

// releasePartner 상대 엔트리도 종료시켜 다시 큐에 참여할 수 있게 함
func (s *QueueService) releasePartner(ctx context.Context, entry *models.QueueEntry, sessionID string, now time.Time) {
	partner, err := s.queue.FindPartner(ctx, sessionID, entry.RequestID)
	if err != nil {
		s.logger.Warn("Failed to load partner entry", zap.String("sessionId", sessionID), zap.Error(err))
		return
	}
	if partner == nil {
		return
	}

	var (
		to     models.QueueStatus
		update = repository.QueueUpdate{At: now}
	)
	switch partner.Status {
	case models.QueueStatusMatched:
		msg := "Partner left before the call started"
		to = models.QueueStatusDeclined
		update.StatusMessage = &msg
	case models.QueueStatusConnected:
		msg := "Partner ended the call"
		to = models.QueueStatusEnded
		update.StatusMessage = &msg
		update.CallEndedAt = &now
		update.CallDurationSeconds = models.DurationBetween(partner.CallStartedAt, now)
	default:
		return
	}

	err = s.queue.TransitionStatus(ctx, partner.RequestID, []models.QueueStatus{partner.Status}, to, update)
	if err != nil {
		if !errors.Is(err, repository.ErrStatusConflict) {
			s.logger.Warn("Failed to release partner entry", zap.String("requestId", partner.RequestID), zap.Error(err))
		}
		return
	}

	partner.Status = to
	partner.StatusMessage = update.StatusMessage
	partner.LastActivityAt = now
	s.notifier.QueueEntryUpdated(partner.UserID, partner)
}

// setPosition 순번 기반 예상 대기시간
func setPosition(entry *models.QueueEntry, position int) {
	entry.QueuePosition = position
	entry.EstimatedWaitSeconds = int((time.Duration(position) * models.EstimatedWaitPerPosition).Seconds())
}
