package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rl-arena/randomcall-backend/internal/config"
	"github.com/rl-arena/randomcall-backend/internal/models"
	"github.com/rl-arena/randomcall-backend/internal/repository"
	"github.com/rl-arena/randomcall-backend/internal/signaling"
	"github.com/rl-arena/randomcall-backend/pkg/database"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu       sync.Mutex
	entries  map[string][]*models.QueueEntry
	sessions map[string][]*models.CallSession
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{
		entries:  make(map[string][]*models.QueueEntry),
		sessions: make(map[string][]*models.CallSession),
	}
}

func (n *recordingNotifier) QueueEntryUpdated(userID string, entry *models.QueueEntry) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.entries[userID] = append(n.entries[userID], entry)
}

func (n *recordingNotifier) CallSessionUpdated(userID string, session *models.CallSession) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sessions[userID] = append(n.sessions[userID], session)
}

func (n *recordingNotifier) lastEntry(userID string) *models.QueueEntry {
	n.mu.Lock()
	defer n.mu.Unlock()
	list := n.entries[userID]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

type testEnv struct {
	clock     *fakeClock
	queueRepo *repository.QueueRepository
	sessions  *repository.CallSessionRepository
	users     *repository.UserRepository
	control   *MatchingControl
	signaling *SignalingService
	queue     *QueueService
	engine    *MatchingEngine
	calls     *CallService
	admin     *AdminService
	notifier  *recordingNotifier
}

func defaultMatchingConfig() MatchingConfig {
	return MatchingConfig{
		Interval:         time.Second,
		Timeout:          5 * time.Minute,
		MinDwell:         0,
		Mode:             config.MatchModeAutoConnect,
		Retention:        24 * time.Hour,
		DefaultAvatarURL: "/static/avatars/anonymous.png",
	}
}

func newTestEnv(t *testing.T, configure ...func(*MatchingConfig)) *testEnv {
	t.Helper()

	db, err := database.Connect(database.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := defaultMatchingConfig()
	for _, fn := range configure {
		fn(&cfg)
	}

	logger := zap.NewNop()
	clock := newFakeClock()
	notifier := newRecordingNotifier()

	env := &testEnv{
		clock:     clock,
		queueRepo: repository.NewQueueRepository(db),
		sessions:  repository.NewCallSessionRepository(db),
		users:     repository.NewUserRepository(db),
		control:   NewMatchingControl(),
		notifier:  notifier,
	}

	env.signaling = NewSignalingService(
		signaling.NewMemoryStore(),
		env.sessions,
		ICEServersFromConfig([]string{"stun:stun.l.google.com:19302"}, "", ""),
		models.DefaultMediaDefaults(),
		logger,
	)
	env.signaling.now = clock.Now

	env.queue = NewQueueService(env.queueRepo, env.sessions, env.users, env.signaling, QueueConfig{
		DefaultMaxWait:  300 * time.Second,
		MatchingTimeout: cfg.Timeout,
	}, logger)
	env.queue.now = clock.Now
	env.queue.SetNotifier(notifier)

	env.engine = NewMatchingEngine(env.queueRepo, env.sessions, env.users, env.signaling, env.control, cfg, logger)
	env.engine.now = clock.Now
	env.engine.SetNotifier(notifier)

	env.calls = NewCallService(env.sessions, env.signaling, logger)
	env.calls.now = clock.Now
	env.calls.SetNotifier(notifier)

	env.admin = NewAdminService(env.control, env.queueRepo, env.users, logger)
	env.admin.now = clock.Now

	return env
}

// join 선호 조건과 함께 큐 참여 후 시계를 1초 진행 (생성 순서 보장)
func (e *testEnv) join(t *testing.T, userID string, prefs models.Preferences, settings models.QueueSettings) *models.QueueEntry {
	t.Helper()

	entry, err := e.queue.Join(context.Background(), userID, models.JoinQueueRequest{
		Preferences: prefs,
		Settings:    settings,
	})
	require.NoError(t, err)
	e.clock.Advance(time.Second)
	return entry
}

func (e *testEnv) joinAny(t *testing.T, userID string) *models.QueueEntry {
	return e.join(t, userID, models.DefaultPreferences(), models.QueueSettings{})
}

func (e *testEnv) runPass(t *testing.T) PassResult {
	t.Helper()

	result, err := e.engine.RunPass(context.Background(), e.control)
	require.NoError(t, err)
	return result
}

func (e *testEnv) entry(t *testing.T, requestID string) *models.QueueEntry {
	t.Helper()

	entry, err := e.queueRepo.FindByRequestID(context.Background(), requestID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	return entry
}

func (e *testEnv) session(t *testing.T, id string) *models.CallSession {
	t.Helper()

	session, err := e.sessions.FindByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, session)
	return session
}

func prefs(gender, ageRange, language string) models.Preferences {
	p := models.DefaultPreferences()
	p.Gender = gender
	p.AgeRange = ageRange
	p.Language = language
	return p
}
