package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rl-arena/randomcall-backend/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// MatchingControl 매칭 엔진 on/off 플래그와 카운터
// AdminService 만 변경하고, 엔진은 매 패스마다 전달받아 읽는다
type MatchingControl struct {
	mu            sync.RWMutex
	enabled       bool
	lastMatchTime *time.Time
	matchesToday  int
	day           string
}

// NewMatchingControl 활성화 상태로 시작
func NewMatchingControl() *MatchingControl {
	return &MatchingControl{enabled: true}
}

func (c *MatchingControl) Enable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = true
}

func (c *MatchingControl) Disable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = false
}

func (c *MatchingControl) Enabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

// RecordMatches 성사된 매칭 수 반영 (날짜가 바뀌면 matchesToday 초기화)
func (c *MatchingControl) RecordMatches(n int, at time.Time) {
	if n <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	day := at.UTC().Format("2006-01-02")
	if c.day != day {
		c.day = day
		c.matchesToday = 0
	}
	c.matchesToday += n

	t := at
	c.lastMatchTime = &t
}

// ControlSnapshot 특정 시점의 제어 상태
type ControlSnapshot struct {
	Enabled       bool
	LastMatchTime *time.Time
	MatchesToday  int
}

func (c *MatchingControl) Snapshot(now time.Time) ControlSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	today := c.matchesToday
	if c.day != now.UTC().Format("2006-01-02") {
		today = 0
	}

	var last *time.Time
	if c.lastMatchTime != nil {
		t := *c.lastMatchTime
		last = &t
	}

	return ControlSnapshot{
		Enabled:       c.enabled,
		LastMatchTime: last,
		MatchesToday:  today,
	}
}

// MatchingStatus 관리자용 매칭 시스템 상태
type MatchingStatus struct {
	Enabled            bool       `json:"enabled"`
	TotalWaiting       int        `json:"totalWaiting"`
	PriorityWaiting    int        `json:"priorityWaiting"`
	AverageWaitSeconds float64    `json:"averageWaitSeconds"`
	LastMatchTime      *time.Time `json:"lastMatchTime,omitempty"`
	MatchesToday       int        `json:"matchesToday"`
}

type AdminService struct {
	control  *MatchingControl
	queue    QueueStore
	identity Identity
	logger   *zap.Logger
	now      func() time.Time
}

func NewAdminService(control *MatchingControl, queue QueueStore, identity Identity, logger *zap.Logger) *AdminService {
	return &AdminService{
		control:  control,
		queue:    queue,
		identity: identity,
		logger:   logger,
		now:      time.Now,
	}
}

// EnableMatching 다음 패스부터 매칭 재개
func (s *AdminService) EnableMatching() {
	s.control.Enable()
	s.logger.Info("Random call matching enabled")
}

// DisableMatching 다음 패스부터 매칭 중단 (진행 중인 통화는 영향 없음)
func (s *AdminService) DisableMatching() {
	s.control.Disable()
	s.logger.Info("Random call matching disabled")
}

// Status 큐 집계와 제어 상태 스냅샷
func (s *AdminService) Status(ctx context.Context) (*MatchingStatus, error) {
	now := s.now()

	var (
		total, priority int
		waiting         []*models.QueueEntry
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		total, err = s.queue.CountWaiting(gctx, "")
		return err
	})
	g.Go(func() error {
		var err error
		priority, err = s.queue.CountWaitingPriority(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		waiting, err = s.queue.ListWaiting(gctx, now)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to collect matching status: %w", err)
	}

	var avg float64
	if len(waiting) > 0 {
		var sum time.Duration
		for _, e := range waiting {
			sum += now.Sub(e.CreatedAt)
		}
		avg = (sum / time.Duration(len(waiting))).Seconds()
	}

	snap := s.control.Snapshot(now)
	return &MatchingStatus{
		Enabled:            snap.Enabled,
		TotalWaiting:       total,
		PriorityWaiting:    priority,
		AverageWaitSeconds: avg,
		LastMatchTime:      snap.LastMatchTime,
		MatchesToday:       snap.MatchesToday,
	}, nil
}

// SetRandomCallBlock 사용자의 랜덤 통화 차단 여부 변경
func (s *AdminService) SetRandomCallBlock(ctx context.Context, userID string, blocked bool) error {
	if userID == "" {
		return validationError(fmt.Errorf("user id is required"))
	}

	if err := s.identity.SetRandomCallBlock(ctx, userID, blocked); err != nil {
		return fmt.Errorf("failed to set random call block: %w", err)
	}

	s.logger.Info("Random call block updated",
		zap.String("userId", userID),
		zap.Bool("blocked", blocked))
	return nil
}
