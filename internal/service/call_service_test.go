package service

import (
	"context"
	"testing"
	"time"

	"github.com/rl-arena/randomcall-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initiateCall(t *testing.T, env *testEnv, caller, receiver string) *models.CallSession {
	t.Helper()

	session, err := env.calls.Initiate(context.Background(), caller, models.InitiateCallRequest{ReceiverID: receiver})
	require.NoError(t, err)
	env.clock.Advance(time.Second)
	return session
}

func TestCallService_Initiate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	session := initiateCall(t, env, "caller", "receiver")
	assert.NotEmpty(t, session.ID)
	assert.Equal(t, models.CallKindDirect, session.Kind)
	assert.Equal(t, models.MediaTypeVideo, session.MediaType)
	assert.Equal(t, models.CallStatusInitiated, session.Status)

	env.notifier.mu.Lock()
	pushed := env.notifier.sessions["receiver"]
	env.notifier.mu.Unlock()
	require.Len(t, pushed, 1)
	assert.Equal(t, session.ID, pushed[0].ID)

	audio, err := env.calls.Initiate(ctx, "caller", models.InitiateCallRequest{ReceiverID: "other", MediaType: models.MediaTypeAudio})
	require.NoError(t, err)
	assert.Equal(t, models.MediaTypeAudio, audio.MediaType)

	_, err = env.calls.Initiate(ctx, "caller", models.InitiateCallRequest{ReceiverID: "caller"})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = env.calls.Initiate(ctx, "caller", models.InitiateCallRequest{})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = env.calls.Initiate(ctx, "caller", models.InitiateCallRequest{ReceiverID: "receiver", MediaType: "hologram"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCallService_RingAnswerEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	session := initiateCall(t, env, "caller", "receiver")

	_, err := env.calls.Ring(ctx, session.ID, "caller")
	assert.ErrorIs(t, err, ErrForbidden)

	ringing, err := env.calls.Ring(ctx, session.ID, "receiver")
	require.NoError(t, err)
	assert.Equal(t, models.CallStatusRinging, ringing.Status)

	_, err = env.calls.Ring(ctx, session.ID, "receiver")
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = env.calls.Answer(ctx, session.ID, "caller")
	assert.ErrorIs(t, err, ErrForbidden)

	answered, err := env.calls.Answer(ctx, session.ID, "receiver")
	require.NoError(t, err)
	assert.Equal(t, models.CallStatusConnected, answered.Status)
	require.NotNil(t, answered.CallStartedAt)

	env.clock.Advance(60 * time.Second)

	_, err = env.calls.End(ctx, session.ID, "stranger", models.EndCallRequest{})
	assert.ErrorIs(t, err, ErrForbidden)

	ended, err := env.calls.End(ctx, session.ID, "caller", models.EndCallRequest{VideoQuality: "good", AudioQuality: "fair"})
	require.NoError(t, err)
	assert.Equal(t, models.CallStatusEnded, ended.Status)
	require.NotNil(t, ended.DurationSeconds)
	assert.Equal(t, 60, *ended.DurationSeconds)
	require.NotNil(t, ended.EndReason)
	assert.Equal(t, "hangup", *ended.EndReason)
	require.NotNil(t, ended.VideoQuality)
	assert.Equal(t, "good", *ended.VideoQuality)
	require.NotNil(t, ended.AudioQuality)
	assert.Equal(t, "fair", *ended.AudioQuality)

	_, err = env.calls.End(ctx, session.ID, "caller", models.EndCallRequest{})
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestCallService_AnswerFromInitiated(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	session := initiateCall(t, env, "caller", "receiver")

	answered, err := env.calls.Answer(ctx, session.ID, "receiver")
	require.NoError(t, err)
	assert.Equal(t, models.CallStatusConnected, answered.Status)
	assert.NotNil(t, answered.CallStartedAt)
}

func TestCallService_TerminalTransitions(t *testing.T) {
	tests := []struct {
		name   string
		run    func(ctx context.Context, env *testEnv, id string) (*models.CallSession, error)
		status models.CallStatus
		reason string
	}{
		{
			name: "receiver declines",
			run: func(ctx context.Context, env *testEnv, id string) (*models.CallSession, error) {
				return env.calls.Decline(ctx, id, "receiver", "busy")
			},
			status: models.CallStatusDeclined,
			reason: "busy",
		},
		{
			name: "caller cancels",
			run: func(ctx context.Context, env *testEnv, id string) (*models.CallSession, error) {
				return env.calls.Cancel(ctx, id, "caller")
			},
			status: models.CallStatusCancelled,
			reason: "cancelled",
		},
		{
			name: "missed",
			run: func(ctx context.Context, env *testEnv, id string) (*models.CallSession, error) {
				return env.calls.Miss(ctx, id, "caller")
			},
			status: models.CallStatusMissed,
			reason: "no answer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()

			session := initiateCall(t, env, "caller", "receiver")
			_, err := env.calls.Ring(ctx, session.ID, "receiver")
			require.NoError(t, err)

			got, err := tt.run(ctx, env, session.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.status, got.Status)
			require.NotNil(t, got.EndReason)
			assert.Equal(t, tt.reason, *got.EndReason)
			assert.Nil(t, got.DurationSeconds)

			// 종료 후에는 응답 불가
			_, err = env.calls.Answer(ctx, session.ID, "receiver")
			assert.ErrorIs(t, err, ErrInvalidState)
		})
	}
}

func TestCallService_RoleChecks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	session := initiateCall(t, env, "caller", "receiver")

	_, err := env.calls.Decline(ctx, session.ID, "caller", "")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = env.calls.Cancel(ctx, session.ID, "receiver")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = env.calls.Ring(ctx, "missing", "receiver")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCallService_RandomSessionsAreManagedByQueue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := env.joinAny(t, "user-a")
	env.joinAny(t, "user-b")
	require.Equal(t, 1, env.runPass(t).Paired)

	sessionID := *env.entry(t, a.RequestID).SessionID

	_, err := env.calls.End(ctx, sessionID, "user-a", models.EndCallRequest{})
	assert.ErrorIs(t, err, ErrInvalidState)

	// 조회는 가능
	session, err := env.calls.Get(ctx, sessionID, "user-b")
	require.NoError(t, err)
	assert.Equal(t, models.CallKindRandom, session.Kind)
}

func TestCallService_GetAndHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := initiateCall(t, env, "alice", "bob")
	second := initiateCall(t, env, "carol", "alice")
	initiateCall(t, env, "bob", "carol")

	got, err := env.calls.Get(ctx, first.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	_, err = env.calls.Get(ctx, first.ID, "carol")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = env.calls.Get(ctx, "missing", "alice")
	assert.ErrorIs(t, err, ErrNotFound)

	history, err := env.calls.History(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, second.ID, history[0].ID)
	assert.Equal(t, first.ID, history[1].ID)

	limited, err := env.calls.History(ctx, "alice", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	empty, err := env.calls.History(ctx, "nobody", 10)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestCallService_EndClosesSignaling(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	session := initiateCall(t, env, "caller", "receiver")
	_, err := env.signaling.Open(ctx, session.ID)
	require.NoError(t, err)

	_, err = env.calls.Answer(ctx, session.ID, "receiver")
	require.NoError(t, err)
	_, err = env.calls.End(ctx, session.ID, "receiver", models.EndCallRequest{Reason: "network"})
	require.NoError(t, err)

	active, err := env.signaling.IsActive(ctx, session.ID)
	require.NoError(t, err)
	assert.False(t, active)
}
