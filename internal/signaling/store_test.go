package signaling

import (
	"context"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rl-arena/randomcall-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisClient(t *testing.T) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // 테스트용 DB
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available:", err)
	}

	// 테스트 전 DB 초기화
	client.FlushDB(ctx)

	return client
}

func newRecord(sessionID string) *models.SignalingRecord {
	return &models.SignalingRecord{
		SessionID: sessionID,
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
		BundlePolicy:  webrtc.BundlePolicyMaxBundle,
		RTCPMuxPolicy: webrtc.RTCPMuxPolicyRequire,
		Media:         models.DefaultMediaDefaults(),
		CreatedAt:     time.Now().UTC(),
	}
}

func candidate(value string) models.IceCandidate {
	return models.IceCandidate{
		Candidate: webrtc.ICECandidateInit{Candidate: value},
		AddedAt:   time.Now().UTC(),
	}
}

// runStoreContract 두 구현이 공유하는 동작 검증
func runStoreContract(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("create is idempotent", func(t *testing.T) {
		_, err := store.Create(ctx, newRecord("s-create"))
		require.NoError(t, err)
		require.NoError(t, store.AppendCandidate(ctx, "s-create", candidate("candidate:1")))

		again, err := store.Create(ctx, newRecord("s-create"))
		require.NoError(t, err)
		assert.Len(t, again.Candidates, 1)
	})

	t.Run("candidates keep arrival order", func(t *testing.T) {
		_, err := store.Create(ctx, newRecord("s-order"))
		require.NoError(t, err)

		for _, c := range []string{"candidate:a", "candidate:b", "candidate:c"} {
			require.NoError(t, store.AppendCandidate(ctx, "s-order", candidate(c)))
		}

		list, err := store.Candidates(ctx, "s-order")
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, "candidate:a", list[0].Candidate.Candidate)
		assert.Equal(t, "candidate:c", list[2].Candidate.Candidate)
	})

	t.Run("sessions are isolated", func(t *testing.T) {
		_, err := store.Create(ctx, newRecord("s-a"))
		require.NoError(t, err)
		_, err = store.Create(ctx, newRecord("s-b"))
		require.NoError(t, err)

		require.NoError(t, store.AppendCandidate(ctx, "s-a", candidate("candidate:only-a")))
		require.NoError(t, store.SetDescription(ctx, "s-a", &models.SessionDescription{
			SessionID: "s-a", Type: webrtc.SDPTypeOffer, SDP: "v=0",
		}))

		listB, err := store.Candidates(ctx, "s-b")
		require.NoError(t, err)
		assert.Empty(t, listB)

		recordB, err := store.Get(ctx, "s-b")
		require.NoError(t, err)
		require.NotNil(t, recordB)
		assert.Nil(t, recordB.Offer)
	})

	t.Run("answer and offer stored separately", func(t *testing.T) {
		_, err := store.Create(ctx, newRecord("s-desc"))
		require.NoError(t, err)

		require.NoError(t, store.SetDescription(ctx, "s-desc", &models.SessionDescription{
			SessionID: "s-desc", Type: webrtc.SDPTypeOffer, SDP: "offer-sdp",
		}))
		require.NoError(t, store.SetDescription(ctx, "s-desc", &models.SessionDescription{
			SessionID: "s-desc", Type: webrtc.SDPTypeAnswer, SDP: "answer-sdp",
		}))

		record, err := store.Get(ctx, "s-desc")
		require.NoError(t, err)
		require.NotNil(t, record.Offer)
		require.NotNil(t, record.Answer)
		assert.Equal(t, "offer-sdp", record.Offer.SDP)
		assert.Equal(t, "answer-sdp", record.BestDescription().SDP)
		assert.Equal(t, webrtc.BundlePolicyMaxBundle, record.BundlePolicy)
	})

	t.Run("missing session", func(t *testing.T) {
		assert.Equal(t, ErrSessionNotFound, store.AppendCandidate(ctx, "nope", candidate("candidate:x")))
		assert.Equal(t, ErrSessionNotFound, store.SetDescription(ctx, "nope", &models.SessionDescription{Type: webrtc.SDPTypeOffer}))

		_, err := store.Candidates(ctx, "nope")
		assert.Equal(t, ErrSessionNotFound, err)

		record, err := store.Get(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, record)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		_, err := store.Create(ctx, newRecord("s-del"))
		require.NoError(t, err)
		require.NoError(t, store.AppendCandidate(ctx, "s-del", candidate("candidate:1")))

		require.NoError(t, store.Delete(ctx, "s-del"))
		require.NoError(t, store.Delete(ctx, "s-del"))

		exists, err := store.Exists(ctx, "s-del")
		require.NoError(t, err)
		assert.False(t, exists)

		// 다시 열면 빈 상태
		fresh, err := store.Create(ctx, newRecord("s-del"))
		require.NoError(t, err)
		assert.Empty(t, fresh.Candidates)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, NewMemoryStore())
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Create(ctx, newRecord("s-copy"))
	require.NoError(t, err)
	require.NoError(t, store.AppendCandidate(ctx, "s-copy", candidate("candidate:1")))

	list, err := store.Candidates(ctx, "s-copy")
	require.NoError(t, err)
	list[0].Candidate.Candidate = "mutated"

	again, err := store.Candidates(ctx, "s-copy")
	require.NoError(t, err)
	assert.Equal(t, "candidate:1", again[0].Candidate.Candidate)
}

func TestRedisStore(t *testing.T) {
	client := setupRedisClient(t)
	defer client.Close()

	runStoreContract(t, NewRedisStore(client, "test:signaling:", time.Minute))
}
