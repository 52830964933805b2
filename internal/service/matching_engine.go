package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rl-arena/randomcall-backend/internal/config"
	"github.com/rl-arena/randomcall-backend/internal/models"
	"github.com/rl-arena/randomcall-backend/internal/repository"
	"go.uber.org/zap"
)

const anonymousDisplayName = "Stranger"

// MatchingConfig 매칭 엔진 설정
type MatchingConfig struct {
	Interval         time.Duration
	Timeout          time.Duration
	MinDwell         time.Duration
	CrossTier        bool
	Mode             string
	// AcceptTimeout matched 엔트리의 수락 대기와 직접 통화의 응답 대기 한도 (0이면 Timeout)
	AcceptTimeout    time.Duration
	Retention        time.Duration
	DefaultAvatarURL string
}

// PassResult 한 번의 매칭 패스 결과
type PassResult struct {
	Waiting    int
	Paired     int
	TimedOut   int
	Unanswered int
	Skipped    int
	Purged     int64
}

// MatchingEngine 주기적으로 대기 엔트리를 짝지어 통화로 연결
type MatchingEngine struct {
	queue     QueueStore
	sessions  SessionStore
	identity  Identity
	signaling *SignalingService
	notifier  Notifier
	locker    PassLocker
	control   *MatchingControl
	cfg       MatchingConfig
	logger    *zap.Logger
	now       func() time.Time
	stopChan  chan struct{}
	wg        sync.WaitGroup
	running   bool
	mu        sync.Mutex
}

func NewMatchingEngine(
	queue QueueStore,
	sessions SessionStore,
	identity Identity,
	signaling *SignalingService,
	control *MatchingControl,
	cfg MatchingConfig,
	logger *zap.Logger,
) *MatchingEngine {
	if cfg.Mode == "" {
		cfg.Mode = config.MatchModeAutoConnect
	}

	return &MatchingEngine{
		queue:     queue,
		sessions:  sessions,
		identity:  identity,
		signaling: signaling,
		notifier:  NopNotifier{},
		control:   control,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// SetNotifier 매칭/타임아웃 푸시 대상 설정
func (e *MatchingEngine) SetNotifier(n Notifier) {
	if n == nil {
		n = NopNotifier{}
	}
	e.notifier = n
}

// SetPassLocker 다중 인스턴스 환경의 패스 잠금 설정
func (e *MatchingEngine) SetPassLocker(l PassLocker) {
	e.locker = l
}

// Start 매칭 루프 시작
func (e *MatchingEngine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	// Stop 후 재시작할 수 있도록 매번 새 채널
	stop := make(chan struct{})
	e.stopChan = stop
	e.mu.Unlock()

	e.logger.Info("Starting MatchingEngine",
		zap.Duration("interval", e.cfg.Interval),
		zap.String("mode", e.cfg.Mode),
		zap.Bool("crossTier", e.cfg.CrossTier))

	e.wg.Add(1)
	go e.matchingLoop(stop)
}

// Stop 매칭 루프 중지 (진행 중인 패스는 끝까지 실행)
func (e *MatchingEngine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	stop := e.stopChan
	e.mu.Unlock()

	e.logger.Info("Stopping MatchingEngine")
	close(stop)
	e.wg.Wait()
	e.logger.Info("MatchingEngine stopped")
}

func (e *MatchingEngine) matchingLoop(stop <-chan struct{}) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), e.cfg.Interval)
			if _, err := e.RunPass(ctx, e.control); err != nil {
				e.logger.Error("Matching pass failed", zap.Error(err))
			}
			cancel()
		case <-stop:
			return
		}
	}
}

// RunPass 매칭 패스 1회 실행
// 비활성화 상태면 저장소를 전혀 건드리지 않고 0을 반환한다
func (e *MatchingEngine) RunPass(ctx context.Context, control *MatchingControl) (PassResult, error) {
	var result PassResult

	if !control.Enabled() {
		return result, nil
	}

	if e.locker != nil {
		release, acquired, err := e.locker.TryAcquire(ctx)
		if err != nil {
			return result, fmt.Errorf("failed to acquire matching lock: %w", err)
		}
		if !acquired {
			e.logger.Debug("Matching pass skipped, another instance holds the lock")
			return result, nil
		}
		defer release()
	}

	now := e.now()

	// 1. 보존 기간이 지난 종료 엔트리 정리
	if e.cfg.Retention > 0 {
		purged, err := e.queue.DeleteTerminalBefore(ctx, now.Add(-e.cfg.Retention))
		if err != nil {
			e.logger.Warn("Failed to purge expired queue entries", zap.Error(err))
		}
		result.Purged = purged
	}

	// 2. 수락/응답 한도를 넘은 매칭과 직접 통화 정리
	result.Unanswered = e.sweepUnanswered(ctx, now)

	waiting, err := e.queue.ListWaiting(ctx, now)
	if err != nil {
		return result, fmt.Errorf("failed to list waiting entries: %w", err)
	}
	result.Waiting = len(waiting)

	// 3. 대기 한도를 넘은 엔트리 타임아웃 (매칭 여부와 무관)
	candidates := make([]*models.QueueEntry, 0, len(waiting))
	dwellCutoff := now.Add(-e.cfg.MinDwell)
	for _, entry := range waiting {
		if entry.IsExpired(now, e.cfg.Timeout) {
			if e.expire(ctx, entry, now) {
				result.TimedOut++
			}
			continue
		}
		if entry.CreatedAt.After(dwellCutoff) {
			continue
		}
		candidates = append(candidates, entry)
	}

	if len(candidates) < 2 {
		e.logPass(result)
		return result, nil
	}

	userIDs := make([]string, len(candidates))
	for i, c := range candidates {
		userIDs[i] = c.UserID
	}
	blocked, err := e.identity.BlockedAmong(ctx, userIDs)
	if err != nil {
		return result, fmt.Errorf("failed to load blocked users: %w", err)
	}

	// 4. 우선순위 → 일반 순서로 각 목록 안에서 greedy 매칭
	processed := make(map[string]bool)
	for _, tier := range e.tiers(candidates) {
		paired, skipped := e.matchTier(ctx, tier, blocked, processed, now)
		result.Paired += paired
		result.Skipped += skipped
	}

	if result.Paired > 0 {
		control.RecordMatches(result.Paired, now)
	}

	e.logPass(result)
	return result, nil
}

func (e *MatchingEngine) logPass(result PassResult) {
	if result.Waiting == 0 && result.Purged == 0 && result.Unanswered == 0 {
		return
	}
	e.logger.Info("Matching pass completed",
		zap.Int("waiting", result.Waiting),
		zap.Int("paired", result.Paired),
		zap.Int("timedOut", result.TimedOut),
		zap.Int("unanswered", result.Unanswered),
		zap.Int("skipped", result.Skipped),
		zap.Int64("purged", result.Purged))
}

// tiers 우선순위/일반 목록 분리 (cross-tier 설정 시 우선순위를 앞에 둔 단일 목록)
func (e *MatchingEngine) tiers(entries []*models.QueueEntry) [][]*models.QueueEntry {
	var priority, regular []*models.QueueEntry
	for _, entry := range entries {
		if entry.IsPriority {
			priority = append(priority, entry)
		} else {
			regular = append(regular, entry)
		}
	}

	if e.cfg.CrossTier {
		return [][]*models.QueueEntry{append(priority, regular...)}
	}
	return [][]*models.QueueEntry{priority, regular}
}

// matchTier 오래된 순으로 첫 번째 호환 상대와 매칭
func (e *MatchingEngine) matchTier(
	ctx context.Context,
	entries []*models.QueueEntry,
	blocked map[string]bool,
	processed map[string]bool,
	now time.Time,
) (paired, skipped int) {
	for i, a := range entries {
		if processed[a.RequestID] {
			continue
		}

		for _, b := range entries[i+1:] {
			if processed[b.RequestID] || !Compatible(a, b, blocked) {
				continue
			}

			// 성공/실패와 관계없이 이번 패스에서는 다시 고려하지 않음
			processed[a.RequestID] = true
			processed[b.RequestID] = true

			if err := e.pair(ctx, a, b, now); err != nil {
				e.logger.Warn("Failed to pair queue entries",
					zap.String("requestA", a.RequestID),
					zap.String("requestB", b.RequestID),
					zap.Error(err))
				skipped++
			} else {
				paired++
			}
			break
		}
	}
	return paired, skipped
}

// pair 두 엔트리와 통화 세션을 하나의 트랜잭션으로 기록
func (e *MatchingEngine) pair(ctx context.Context, a, b *models.QueueEntry, now time.Time) error {
	roomSuffix, err := gonanoid.New(12)
	if err != nil {
		return fmt.Errorf("failed to generate room id: %w", err)
	}
	peerSuffix, err := gonanoid.New(12)
	if err != nil {
		return fmt.Errorf("failed to generate peer id: %w", err)
	}

	sessionID := uuid.New().String()
	roomID := "room_" + roomSuffix
	peerID := "peer_" + peerSuffix

	score := MatchScore(a.Preferences, b.Preferences)
	reason := MatchReason(a.Preferences, b.Preferences)

	status := models.QueueStatusConnected
	sessionStatus := models.CallStatusConnected
	var startedAt *time.Time
	if e.cfg.Mode == config.MatchModeExplicitAccept {
		status = models.QueueStatusMatched
		sessionStatus = models.CallStatusInitiated
	} else {
		startedAt = &now
	}

	nameA, avatarA := e.partnerView(ctx, a.UserID)
	nameB, avatarB := e.partnerView(ctx, b.UserID)

	assignA := models.MatchAssignment{
		RequestID:          a.RequestID,
		Status:             status,
		PartnerUserID:      b.UserID,
		PartnerDisplayName: nameB,
		PartnerAvatarURL:   avatarB,
		MatchScore:         score,
		MatchReason:        reason,
		SessionID:          sessionID,
		RoomID:             roomID,
		PeerID:             peerID,
		MatchedAt:          now,
		CallStartedAt:      startedAt,
	}
	assignB := assignA
	assignB.RequestID = b.RequestID
	assignB.PartnerUserID = a.UserID
	assignB.PartnerDisplayName = nameA
	assignB.PartnerAvatarURL = avatarA

	matchRef := a.RequestID
	session := &models.CallSession{
		ID:             sessionID,
		Kind:           models.CallKindRandom,
		MediaType:      models.MediaTypeVideo,
		CallerID:       a.UserID,
		ReceiverID:     b.UserID,
		Status:         sessionStatus,
		MatchRef:       &matchRef,
		RoomID:         &roomID,
		CreatedAt:      now,
		LastActivityAt: now,
		CallStartedAt:  startedAt,
	}

	if err := e.queue.ApplyMatch(ctx, assignA, assignB, session); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			return fmt.Errorf("entry left the waiting state: %w", err)
		}
		return err
	}

	if _, err := e.signaling.Open(ctx, sessionID); err != nil {
		// 클라이언트가 직접 열 수 있으므로 매칭은 유지
		e.logger.Warn("Failed to open signaling session",
			zap.String("sessionId", sessionID),
			zap.Error(err))
	}

	e.notifier.QueueEntryUpdated(a.UserID, withAssignment(a, assignA))
	e.notifier.QueueEntryUpdated(b.UserID, withAssignment(b, assignB))

	e.logger.Info("Random call matched",
		zap.String("sessionId", sessionID),
		zap.String("requestA", a.RequestID),
		zap.String("requestB", b.RequestID),
		zap.Float64("score", score))

	return nil
}

// partnerView 상대방에게 보여줄 이름/아바타 (프로필이 없으면 기본값)
func (e *MatchingEngine) partnerView(ctx context.Context, userID string) (string, string) {
	name, avatar := anonymousDisplayName, e.cfg.DefaultAvatarURL

	user, err := e.identity.FindByID(ctx, userID)
	if err != nil {
		e.logger.Debug("Failed to load partner profile", zap.String("userId", userID), zap.Error(err))
		return name, avatar
	}
	if user == nil {
		return name, avatar
	}

	if n := user.PublicName(); n != "" {
		name = n
	}
	if user.AvatarURL != nil && *user.AvatarURL != "" {
		avatar = *user.AvatarURL
	}
	return name, avatar
}

// expire waiting → timeout (실패 시 다음 패스에서 재시도)
func (e *MatchingEngine) expire(ctx context.Context, entry *models.QueueEntry, now time.Time) bool {
	msg := timeoutMessage(entry, e.cfg.Timeout)
	return e.timeoutEntry(ctx, entry, []models.QueueStatus{models.QueueStatusWaiting}, msg, now)
}

func (e *MatchingEngine) acceptWindow() time.Duration {
	if e.cfg.AcceptTimeout > 0 {
		return e.cfg.AcceptTimeout
	}
	return e.cfg.Timeout
}

// sweepUnanswered 수락 한도가 지난 matched 엔트리와 응답 없는 직접 통화를 timeout 처리
// 실패한 항목은 다음 패스에서 다시 시도한다
func (e *MatchingEngine) sweepUnanswered(ctx context.Context, now time.Time) int {
	cutoff := now.Add(-e.acceptWindow())
	count := 0

	stale, err := e.queue.ListMatchedBefore(ctx, cutoff)
	if err != nil {
		e.logger.Warn("Failed to list unaccepted matches", zap.Error(err))
	}
	for _, entry := range stale {
		if e.expireMatch(ctx, entry, now) {
			count++
		}
	}

	pending, err := e.sessions.ListPendingBefore(ctx, models.CallKindDirect, cutoff)
	if err != nil {
		e.logger.Warn("Failed to list unanswered calls", zap.Error(err))
	}
	for _, session := range pending {
		if e.expireCall(ctx, session, now) {
			count++
		}
	}

	return count
}

// expireMatch matched → timeout, 상대 엔트리와 통화 세션도 함께 종료
func (e *MatchingEngine) expireMatch(ctx context.Context, entry *models.QueueEntry, now time.Time) bool {
	msg := fmt.Sprintf("Match was not accepted within %d seconds", int(e.acceptWindow().Seconds()))
	if !e.timeoutEntry(ctx, entry, []models.QueueStatus{models.QueueStatusMatched}, msg, now) {
		return false
	}
	if entry.SessionID == nil {
		return true
	}
	sessionID := *entry.SessionID

	partner, err := e.queue.FindPartner(ctx, sessionID, entry.RequestID)
	if err != nil {
		e.logger.Warn("Failed to load partner entry", zap.String("sessionId", sessionID), zap.Error(err))
	} else if partner != nil {
		partnerMsg := msg
		if partner.Status == models.QueueStatusConnected {
			partnerMsg = "Partner did not accept the match"
		}
		// 상대가 먼저 수락했어도 통화는 시작되지 않았으므로 함께 timeout
		e.timeoutEntry(ctx, partner,
			[]models.QueueStatus{models.QueueStatusMatched, models.QueueStatusConnected},
			partnerMsg, now)
	}

	reason := "accept timeout"
	err = e.sessions.Transition(ctx, sessionID, models.CallTransition{
		From:      []models.CallStatus{models.CallStatusInitiated},
		To:        models.CallStatusTimeout,
		At:        now,
		EndReason: &reason,
	})
	if err != nil && !errors.Is(err, repository.ErrStatusConflict) {
		e.logger.Warn("Failed to time out call session", zap.String("sessionId", sessionID), zap.Error(err))
	}

	e.closeSignaling(ctx, sessionID)

	e.logger.Info("Unaccepted match timed out",
		zap.String("sessionId", sessionID),
		zap.String("requestId", entry.RequestID))
	return true
}

// timeoutEntry from 상태일 때만 timeout 으로 전이하고 소유자에게 알림
func (e *MatchingEngine) timeoutEntry(ctx context.Context, entry *models.QueueEntry, from []models.QueueStatus, msg string, now time.Time) bool {
	err := e.queue.TransitionStatus(ctx, entry.RequestID, from, models.QueueStatusTimeout,
		repository.QueueUpdate{At: now, StatusMessage: &msg})
	if err != nil {
		if !errors.Is(err, repository.ErrStatusConflict) {
			e.logger.Warn("Failed to time out queue entry",
				zap.String("requestId", entry.RequestID),
				zap.Error(err))
		}
		return false
	}

	expired := *entry
	expired.Status = models.QueueStatusTimeout
	expired.StatusMessage = &msg
	expired.LastActivityAt = now
	e.notifier.QueueEntryUpdated(entry.UserID, &expired)
	return true
}

// expireCall 응답 없는 initiated/ringing 직접 통화 → timeout
func (e *MatchingEngine) expireCall(ctx context.Context, session *models.CallSession, now time.Time) bool {
	reason := "no answer"
	err := e.sessions.Transition(ctx, session.ID, models.CallTransition{
		From:      []models.CallStatus{session.Status},
		To:        models.CallStatusTimeout,
		At:        now,
		EndReason: &reason,
	})
	if err != nil {
		if !errors.Is(err, repository.ErrStatusConflict) {
			e.logger.Warn("Failed to time out call session",
				zap.String("sessionId", session.ID),
				zap.Error(err))
		}
		return false
	}

	e.closeSignaling(ctx, session.ID)

	expired := *session
	expired.Status = models.CallStatusTimeout
	expired.EndReason = &reason
	expired.LastActivityAt = now
	e.notifier.CallSessionUpdated(session.CallerID, &expired)
	e.notifier.CallSessionUpdated(session.ReceiverID, &expired)
	return true
}

func (e *MatchingEngine) closeSignaling(ctx context.Context, sessionID string) {
	if err := e.signaling.Close(ctx, sessionID); err != nil {
		e.logger.Warn("Failed to close signaling session", zap.String("sessionId", sessionID), zap.Error(err))
	}
}

func timeoutMessage(entry *models.QueueEntry, globalTimeout time.Duration) string {
	limit := entry.WaitDeadline(globalTimeout).Sub(entry.CreatedAt)
	return fmt.Sprintf("No match found within %d seconds", int(limit.Seconds()))
}

// withAssignment 매칭 결과가 반영된 엔트리 사본
func withAssignment(entry *models.QueueEntry, m models.MatchAssignment) *models.QueueEntry {
	out := *entry
	out.Status = m.Status
	out.MatchedAt = &m.MatchedAt
	out.LastActivityAt = m.MatchedAt
	out.CallStartedAt = m.CallStartedAt
	out.PartnerUserID = &m.PartnerUserID
	out.PartnerDisplayName = &m.PartnerDisplayName
	out.PartnerAvatarURL = &m.PartnerAvatarURL
	out.MatchScore = &m.MatchScore
	out.MatchReason = &m.MatchReason
	out.SessionID = &m.SessionID
	out.RoomID = &m.RoomID
	out.PeerID = &m.PeerID
	return &out
}
