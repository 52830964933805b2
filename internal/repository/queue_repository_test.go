package repository

import (
	"context"
	"testing"
	"time"

	"github.com/rl-arena/randomcall-backend/internal/models"
	"github.com/rl-arena/randomcall-backend/pkg/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *database.DB {
	db, err := database.Connect(database.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newWaitingEntry(requestID, userID string, createdAt time.Time) *models.QueueEntry {
	return &models.QueueEntry{
		RequestID:      requestID,
		UserID:         userID,
		Status:         models.QueueStatusWaiting,
		QueueType:      models.QueueTypeRandom,
		Preferences:    models.DefaultPreferences(),
		MaxWaitSeconds: 300,
		CreatedAt:      createdAt,
		LastActivityAt: createdAt,
	}
}

func TestQueueRepository_CreateAndFind(t *testing.T) {
	db := setupTestDB(t)
	repo := NewQueueRepository(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	entry := newWaitingEntry("req-1", "user-1", now)
	entry.Preferences.Interests = []string{"music", "travel"}
	entry.Preferences.Language = "en"
	require.NoError(t, repo.Create(ctx, entry))

	found, err := repo.FindByRequestID(ctx, "req-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "user-1", found.UserID)
	assert.Equal(t, models.QueueStatusWaiting, found.Status)
	assert.Equal(t, []string{"music", "travel"}, found.Preferences.Interests)
	assert.Equal(t, "en", found.Preferences.Language)
	assert.True(t, now.Equal(found.CreatedAt))
	assert.Nil(t, found.MatchedAt)
	assert.Nil(t, found.PartnerUserID)

	missing, err := repo.FindByRequestID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestQueueRepository_DuplicateActiveEntry(t *testing.T) {
	db := setupTestDB(t)
	repo := NewQueueRepository(db)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, repo.Create(ctx, newWaitingEntry("req-1", "user-1", now)))

	err := repo.Create(ctx, newWaitingEntry("req-2", "user-1", now))
	assert.Equal(t, ErrDuplicateActiveEntry, err)

	// 종료된 엔트리는 새 참여를 막지 않음
	require.NoError(t, repo.TransitionStatus(ctx, "req-1",
		[]models.QueueStatus{models.QueueStatusWaiting}, models.QueueStatusCancelled, QueueUpdate{At: now}))
	assert.NoError(t, repo.Create(ctx, newWaitingEntry("req-3", "user-1", now)))

	active, err := repo.FindActiveByUser(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "req-3", active.RequestID)
}

func TestQueueRepository_TransitionStatusConflict(t *testing.T) {
	db := setupTestDB(t)
	repo := NewQueueRepository(db)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, repo.Create(ctx, newWaitingEntry("req-1", "user-1", now)))

	msg := "cancelled by user"
	err := repo.TransitionStatus(ctx, "req-1",
		[]models.QueueStatus{models.QueueStatusWaiting}, models.QueueStatusCancelled,
		QueueUpdate{At: now, StatusMessage: &msg})
	require.NoError(t, err)

	// 이미 cancelled 이므로 두 번째 전이는 실패
	err = repo.TransitionStatus(ctx, "req-1",
		[]models.QueueStatus{models.QueueStatusWaiting}, models.QueueStatusTimeout, QueueUpdate{At: now})
	assert.Equal(t, ErrStatusConflict, err)

	found, err := repo.FindByRequestID(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusCancelled, found.Status)
	require.NotNil(t, found.StatusMessage)
	assert.Equal(t, msg, *found.StatusMessage)
}

func TestQueueRepository_ListWaitingOrder(t *testing.T) {
	db := setupTestDB(t)
	repo := NewQueueRepository(db)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Create(ctx, newWaitingEntry("req-c", "user-c", base.Add(2*time.Second))))
	require.NoError(t, repo.Create(ctx, newWaitingEntry("req-a", "user-a", base)))
	require.NoError(t, repo.Create(ctx, newWaitingEntry("req-b", "user-b", base.Add(1500*time.Millisecond))))

	entries, err := repo.ListWaiting(ctx, base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "req-a", entries[0].RequestID)
	assert.Equal(t, "req-b", entries[1].RequestID)
	assert.Equal(t, "req-c", entries[2].RequestID)

	// 최소 대기 시간 이전 엔트리만
	entries, err = repo.ListWaiting(ctx, base.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "req-a", entries[0].RequestID)

	ahead, err := repo.CountWaitingAhead(ctx, base.Add(2*time.Second), "req-c")
	require.NoError(t, err)
	assert.Equal(t, 2, ahead)

	total, err := repo.CountWaiting(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 3, total)
}

func TestQueueRepository_ApplyMatch(t *testing.T) {
	db := setupTestDB(t)
	repo := NewQueueRepository(db)
	sessions := NewCallSessionRepository(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Create(ctx, newWaitingEntry("req-a", "user-a", now)))
	require.NoError(t, repo.Create(ctx, newWaitingEntry("req-b", "user-b", now)))

	matchedAt := now.Add(5 * time.Second)
	a := models.MatchAssignment{
		RequestID: "req-a", Status: models.QueueStatusConnected,
		PartnerUserID: "user-b", PartnerDisplayName: "Stranger",
		MatchScore: 0.5, MatchReason: "Random match",
		SessionID: "sess-1", RoomID: "room-1", PeerID: "peer-a",
		MatchedAt: matchedAt, CallStartedAt: &matchedAt,
	}
	b := a
	b.RequestID = "req-b"
	b.PartnerUserID = "user-a"
	b.PeerID = "peer-b"

	roomID := "room-1"
	matchRef := "req-a"
	session := &models.CallSession{
		ID: "sess-1", Kind: models.CallKindRandom, MediaType: models.MediaTypeVideo,
		CallerID: "user-a", ReceiverID: "user-b", Status: models.CallStatusConnected,
		MatchRef: &matchRef, RoomID: &roomID,
		CreatedAt: matchedAt, LastActivityAt: matchedAt, CallStartedAt: &matchedAt,
	}
	require.NoError(t, repo.ApplyMatch(ctx, a, b, session))

	foundA, err := repo.FindByRequestID(ctx, "req-a")
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusConnected, foundA.Status)
	require.NotNil(t, foundA.PartnerUserID)
	assert.Equal(t, "user-b", *foundA.PartnerUserID)
	require.NotNil(t, foundA.MatchScore)
	assert.Equal(t, 0.5, *foundA.MatchScore)
	require.NotNil(t, foundA.SessionID)
	assert.Equal(t, "sess-1", *foundA.SessionID)

	stored, err := sessions.FindByID(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.CallStatusConnected, stored.Status)

	partner, err := repo.FindPartner(ctx, "sess-1", "req-a")
	require.NoError(t, err)
	require.NotNil(t, partner)
	assert.Equal(t, "req-b", partner.RequestID)

	history, err := repo.FindByUser(ctx, "user-a", 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestQueueRepository_ApplyMatchRollsBack(t *testing.T) {
	db := setupTestDB(t)
	repo := NewQueueRepository(db)
	sessions := NewCallSessionRepository(db)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, repo.Create(ctx, newWaitingEntry("req-a", "user-a", now)))
	require.NoError(t, repo.Create(ctx, newWaitingEntry("req-b", "user-b", now)))

	// b 가 먼저 취소됨
	require.NoError(t, repo.TransitionStatus(ctx, "req-b",
		[]models.QueueStatus{models.QueueStatusWaiting}, models.QueueStatusCancelled, QueueUpdate{At: now}))

	a := models.MatchAssignment{RequestID: "req-a", Status: models.QueueStatusMatched, PartnerUserID: "user-b", SessionID: "sess-1", MatchedAt: now}
	b := models.MatchAssignment{RequestID: "req-b", Status: models.QueueStatusMatched, PartnerUserID: "user-a", SessionID: "sess-1", MatchedAt: now}
	session := &models.CallSession{
		ID: "sess-1", Kind: models.CallKindRandom, MediaType: models.MediaTypeVideo,
		CallerID: "user-a", ReceiverID: "user-b", Status: models.CallStatusInitiated,
		CreatedAt: now, LastActivityAt: now,
	}

	err := repo.ApplyMatch(ctx, a, b, session)
	assert.Equal(t, ErrStatusConflict, err)

	foundA, err := repo.FindByRequestID(ctx, "req-a")
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusWaiting, foundA.Status)
	assert.Nil(t, foundA.PartnerUserID)

	foundB, err := repo.FindByRequestID(ctx, "req-b")
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusCancelled, foundB.Status)

	stored, err := sessions.FindByID(ctx, "sess-1")
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestQueueRepository_UpdatePreferences(t *testing.T) {
	db := setupTestDB(t)
	repo := NewQueueRepository(db)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, repo.Create(ctx, newWaitingEntry("req-1", "user-1", now)))

	prefs := models.DefaultPreferences()
	prefs.Gender = "female"
	prefs.Interests = []string{"chess"}
	require.NoError(t, repo.UpdatePreferences(ctx, "req-1", prefs, now))

	found, err := repo.FindByRequestID(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, "female", found.Preferences.Gender)
	assert.Equal(t, []string{"chess"}, found.Preferences.Interests)

	require.NoError(t, repo.TransitionStatus(ctx, "req-1",
		[]models.QueueStatus{models.QueueStatusWaiting}, models.QueueStatusTimeout, QueueUpdate{At: now}))
	assert.Equal(t, ErrStatusConflict, repo.UpdatePreferences(ctx, "req-1", prefs, now))
}

func TestQueueRepository_DeleteTerminalBefore(t *testing.T) {
	db := setupTestDB(t)
	repo := NewQueueRepository(db)
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)
	recent := time.Now()

	require.NoError(t, repo.Create(ctx, newWaitingEntry("req-old", "user-1", old)))
	require.NoError(t, repo.TransitionStatus(ctx, "req-old",
		[]models.QueueStatus{models.QueueStatusWaiting}, models.QueueStatusEnded, QueueUpdate{At: old}))
	require.NoError(t, repo.Create(ctx, newWaitingEntry("req-waiting", "user-2", old)))
	require.NoError(t, repo.Create(ctx, newWaitingEntry("req-new", "user-3", recent)))
	require.NoError(t, repo.TransitionStatus(ctx, "req-new",
		[]models.QueueStatus{models.QueueStatusWaiting}, models.QueueStatusCancelled, QueueUpdate{At: recent}))

	deleted, err := repo.DeleteTerminalBefore(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	gone, err := repo.FindByRequestID(ctx, "req-old")
	require.NoError(t, err)
	assert.Nil(t, gone)

	// 오래되었어도 waiting 엔트리는 유지
	kept, err := repo.FindByRequestID(ctx, "req-waiting")
	require.NoError(t, err)
	assert.NotNil(t, kept)
}

func TestQueueRepository_ListMatchedBefore(t *testing.T) {
	db := setupTestDB(t)
	repo := NewQueueRepository(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, repo.Create(ctx, newWaitingEntry("req-"+id, "user-"+id, now)))
	}

	match := func(x, y, sessionID string, status models.QueueStatus, at time.Time) {
		a := models.MatchAssignment{
			RequestID: "req-" + x, Status: status,
			PartnerUserID: "user-" + y, PartnerDisplayName: "Stranger",
			MatchScore: 0.5, MatchReason: "Random match",
			SessionID: sessionID, RoomID: "room-" + sessionID, PeerID: "peer-" + sessionID,
			MatchedAt: at,
		}
		b := a
		b.RequestID = "req-" + y
		b.PartnerUserID = "user-" + x
		session := &models.CallSession{
			ID: sessionID, Kind: models.CallKindRandom, MediaType: models.MediaTypeVideo,
			CallerID: "user-" + x, ReceiverID: "user-" + y, Status: models.CallStatusInitiated,
			CreatedAt: at, LastActivityAt: at,
		}
		require.NoError(t, repo.ApplyMatch(ctx, a, b, session))
	}
	match("a", "b", "sess-1", models.QueueStatusMatched, now.Add(10*time.Second))
	match("c", "d", "sess-2", models.QueueStatusMatched, now.Add(2*time.Minute))

	// 한 쪽이 수락한 엔트리는 제외
	require.NoError(t, repo.TransitionStatus(ctx, "req-b",
		[]models.QueueStatus{models.QueueStatusMatched}, models.QueueStatusConnected,
		QueueUpdate{At: now.Add(20 * time.Second)}))

	stale, err := repo.ListMatchedBefore(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "req-a", stale[0].RequestID)

	stale, err = repo.ListMatchedBefore(ctx, now.Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 3)
	assert.Equal(t, "req-a", stale[0].RequestID)

	none, err := repo.ListMatchedBefore(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, none)
}
