package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rl-arena/randomcall-backend/internal/models"
	"github.com/rl-arena/randomcall-backend/pkg/database"
)

type UserRepository struct {
	db *database.DB
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Upsert 인증 토큰에서 얻은 프로필 저장 (차단 여부는 유지)
func (r *UserRepository) Upsert(ctx context.Context, user *models.User) error {
	now := ts(time.Now())
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	query := `
		INSERT INTO users (id, username, display_name, avatar_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET username = excluded.username,
		    display_name = excluded.display_name,
		    avatar_url = excluded.avatar_url,
		    updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		user.ID,
		user.Username,
		user.DisplayName,
		user.AvatarURL,
		ts(user.CreatedAt),
		user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}

	return nil
}

// FindByID ID로 사용자 찾기
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	query := `
		SELECT id, username, display_name, avatar_url, blocked_from_random_calls, created_at, updated_at
		FROM users
		WHERE id = $1
	`

	user := &models.User{}
	var avatar sql.NullString
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.Username,
		&user.DisplayName,
		&avatar,
		&user.BlockedFromRandomCalls,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil // 사용자 없음
	}

	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	user.AvatarURL = stringPtr(avatar)
	return user, nil
}

// SetRandomCallBlock 랜덤 통화 차단 설정 (프로필이 없으면 최소 프로필 생성)
func (r *UserRepository) SetRandomCallBlock(ctx context.Context, id string, blocked bool) error {
	now := ts(time.Now())

	query := `
		INSERT INTO users (id, username, display_name, blocked_from_random_calls, created_at, updated_at)
		VALUES ($1, $1, '', $2, $3, $3)
		ON CONFLICT (id) DO UPDATE
		SET blocked_from_random_calls = excluded.blocked_from_random_calls,
		    updated_at = excluded.updated_at
	`

	if _, err := r.db.ExecContext(ctx, query, id, blocked, now); err != nil {
		return fmt.Errorf("failed to update random call block: %w", err)
	}

	return nil
}

// IsBlockedFromRandomCalls 차단 여부 (프로필이 없으면 false)
func (r *UserRepository) IsBlockedFromRandomCalls(ctx context.Context, id string) (bool, error) {
	query := `SELECT blocked_from_random_calls FROM users WHERE id = $1`

	var blocked bool
	err := r.db.QueryRowContext(ctx, query, id).Scan(&blocked)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read random call block: %w", err)
	}

	return blocked, nil
}

// BlockedAmong ids 중 차단된 사용자 집합
func (r *UserRepository) BlockedAmong(ctx context.Context, ids []string) (map[string]bool, error) {
	blocked := make(map[string]bool)
	if len(ids) == 0 {
		return blocked, nil
	}

	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, true)
	for _, id := range ids {
		args = append(args, id)
	}

	query := fmt.Sprintf(`
		SELECT id FROM users
		WHERE blocked_from_random_calls = $1 AND id IN (%s)
	`, placeholders(2, len(ids)))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query blocked users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan blocked user: %w", err)
		}
		blocked[id] = true
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate blocked users: %w", err)
	}

	return blocked, nil
}
