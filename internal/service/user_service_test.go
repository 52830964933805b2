package service

import (
	"context"
	"strings"
	"testing"

	"github.com/rl-arena/randomcall-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestUserService_SyncProfile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	users := NewUserService(env.users, zap.NewNop())

	_, err := users.GetProfile(ctx, "user-1")
	assert.ErrorIs(t, err, ErrNotFound)

	user, err := users.SyncProfile(ctx, "user-1", "minji", models.UpdateProfileRequest{
		DisplayName: "  Minji  ",
		AvatarURL:   "https://cdn.example.com/minji.png",
	})
	require.NoError(t, err)
	assert.Equal(t, "minji", user.Username)
	assert.Equal(t, "Minji", user.DisplayName)
	require.NotNil(t, user.AvatarURL)
	assert.Equal(t, "https://cdn.example.com/minji.png", *user.AvatarURL)

	// 차단 여부는 프로필 갱신으로 바뀌지 않음
	require.NoError(t, env.admin.SetRandomCallBlock(ctx, "user-1", true))
	user, err = users.SyncProfile(ctx, "user-1", "minji", models.UpdateProfileRequest{DisplayName: "MJ"})
	require.NoError(t, err)
	assert.Equal(t, "MJ", user.DisplayName)
	assert.Nil(t, user.AvatarURL)
	assert.True(t, user.BlockedFromRandomCalls)
}

func TestUserService_SyncProfileValidation(t *testing.T) {
	env := newTestEnv(t)
	users := NewUserService(env.users, zap.NewNop())

	tests := []struct {
		name string
		req  models.UpdateProfileRequest
	}{
		{"display name too long", models.UpdateProfileRequest{DisplayName: strings.Repeat("a", models.MaxDisplayNameLength+1)}},
		{"unsupported scheme", models.UpdateProfileRequest{AvatarURL: "ftp://example.com/a.png"}},
		{"relative path", models.UpdateProfileRequest{AvatarURL: "avatars/a.png"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := users.SyncProfile(context.Background(), "user-1", "minji", tt.req)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}

	user, err := users.SyncProfile(context.Background(), "user-1", "minji", models.UpdateProfileRequest{AvatarURL: "/static/avatars/a.png"})
	require.NoError(t, err)
	assert.Equal(t, "/static/avatars/a.png", *user.AvatarURL)
}
