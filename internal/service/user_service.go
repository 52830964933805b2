package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/rl-arena/randomcall-backend/internal/models"
	"github.com/rl-arena/randomcall-backend/internal/repository"
	"go.uber.org/zap"
)

type UserService struct {
	userRepo *repository.UserRepository
	logger   *zap.Logger
}

func NewUserService(userRepo *repository.UserRepository, logger *zap.Logger) *UserService {
	return &UserService{
		userRepo: userRepo,
		logger:   logger,
	}
}

// GetProfile ID로 프로필 조회
func (s *UserService) GetProfile(ctx context.Context, id string) (*models.User, error) {
	user, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	return user, nil
}

// SyncProfile 토큰의 사용자명과 요청의 표시 이름/아바타로 프로필 저장 (차단 여부는 유지)
func (s *UserService) SyncProfile(ctx context.Context, userID, username string, req models.UpdateProfileRequest) (*models.User, error) {
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	req.AvatarURL = strings.TrimSpace(req.AvatarURL)
	if err := req.Validate(); err != nil {
		return nil, validationError(err)
	}

	user := &models.User{
		ID:          userID,
		Username:    username,
		DisplayName: req.DisplayName,
	}
	if req.AvatarURL != "" {
		user.AvatarURL = &req.AvatarURL
	}

	if err := s.userRepo.Upsert(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to sync profile: %w", err)
	}

	s.logger.Debug("User profile synced", zap.String("userId", userID))

	return s.GetProfile(ctx, userID)
}
