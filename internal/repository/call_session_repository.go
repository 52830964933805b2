package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rl-arena/randomcall-backend/internal/models"
	"github.com/rl-arena/randomcall-backend/pkg/database"
)

const callSessionColumns = `
	id, kind, media_type, caller_id, receiver_id, status, match_ref, room_id,
	created_at, last_activity_at, call_started_at, call_ended_at, duration_seconds,
	end_reason, video_quality, audio_quality`

type CallSessionRepository struct {
	db *database.DB
}

func NewCallSessionRepository(db *database.DB) *CallSessionRepository {
	return &CallSessionRepository{db: db}
}

// Create 통화 세션 생성
func (r *CallSessionRepository) Create(ctx context.Context, session *models.CallSession) error {
	if err := insertCallSession(ctx, r.db, session); err != nil {
		return err
	}
	return nil
}

func insertCallSession(ctx context.Context, db execer, s *models.CallSession) error {
	s.CreatedAt = ts(s.CreatedAt)
	s.LastActivityAt = ts(s.LastActivityAt)
	s.CallStartedAt = tsPtr(s.CallStartedAt)

	query := `
		INSERT INTO call_sessions (
			id, kind, media_type, caller_id, receiver_id, status, match_ref, room_id,
			created_at, last_activity_at, call_started_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := db.ExecContext(ctx, query,
		s.ID,
		string(s.Kind),
		string(s.MediaType),
		s.CallerID,
		s.ReceiverID,
		string(s.Status),
		s.MatchRef,
		s.RoomID,
		s.CreatedAt,
		s.LastActivityAt,
		s.CallStartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create call session: %w", err)
	}
	return nil
}

// FindByID ID로 조회
func (r *CallSessionRepository) FindByID(ctx context.Context, id string) (*models.CallSession, error) {
	query := `SELECT ` + callSessionColumns + ` FROM call_sessions WHERE id = $1`

	session, err := scanCallSession(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find call session: %w", err)
	}
	return session, nil
}

// FindByMatchRef 큐 엔트리(request ID)와 연결된 통화 세션
func (r *CallSessionRepository) FindByMatchRef(ctx context.Context, requestID string) (*models.CallSession, error) {
	query := `
		SELECT ` + callSessionColumns + `
		FROM call_sessions
		WHERE match_ref = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	session, err := scanCallSession(r.db.QueryRowContext(ctx, query, requestID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find call session by match: %w", err)
	}
	return session, nil
}

// FindByUser 사용자가 참여한 통화 기록 (최신순)
func (r *CallSessionRepository) FindByUser(ctx context.Context, userID string, limit int) ([]*models.CallSession, error) {
	query := `
		SELECT ` + callSessionColumns + `
		FROM call_sessions
		WHERE caller_id = $1 OR receiver_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	return r.querySessions(ctx, query, userID, limit)
}

// ListPendingBefore 마지막 활동이 cutoff 이전인 initiated/ringing 세션 (오래된 순)
func (r *CallSessionRepository) ListPendingBefore(ctx context.Context, kind models.CallKind, cutoff time.Time) ([]*models.CallSession, error) {
	query := `
		SELECT ` + callSessionColumns + `
		FROM call_sessions
		WHERE kind = $1 AND status IN ($2, $3) AND last_activity_at <= $4
		ORDER BY created_at ASC
	`
	return r.querySessions(ctx, query,
		string(kind),
		string(models.CallStatusInitiated),
		string(models.CallStatusRinging),
		ts(cutoff))
}

func (r *CallSessionRepository) querySessions(ctx context.Context, query string, args ...interface{}) ([]*models.CallSession, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query call sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.CallSession
	for rows.Next() {
		session, err := scanCallSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call session: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate call sessions: %w", err)
	}

	return sessions, nil
}

// Transition 현재 상태가 t.From 중 하나일 때만 전이 (compare-and-set)
func (r *CallSessionRepository) Transition(ctx context.Context, id string, t models.CallTransition) error {
	sets := []string{"status = $1", "last_activity_at = $2"}
	args := []interface{}{string(t.To), ts(t.At)}

	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if t.CallStartedAt != nil {
		add("call_started_at", tsPtr(t.CallStartedAt))
	}
	if t.CallEndedAt != nil {
		add("call_ended_at", tsPtr(t.CallEndedAt))
	}
	if t.DurationSeconds != nil {
		add("duration_seconds", *t.DurationSeconds)
	}
	if t.EndReason != nil {
		add("end_reason", *t.EndReason)
	}
	if t.VideoQuality != nil {
		add("video_quality", *t.VideoQuality)
	}
	if t.AudioQuality != nil {
		add("audio_quality", *t.AudioQuality)
	}

	args = append(args, id)
	where := fmt.Sprintf("id = $%d", len(args))
	if len(t.From) > 0 {
		where += fmt.Sprintf(" AND status IN (%s)", placeholders(len(args)+1, len(t.From)))
		for _, s := range t.From {
			args = append(args, string(s))
		}
	}

	query := fmt.Sprintf("UPDATE call_sessions SET %s WHERE %s", strings.Join(sets, ", "), where)

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update call session: %w", err)
	}
	return expectOneRow(res)
}

func scanCallSession(row rowScanner) (*models.CallSession, error) {
	var (
		s                       models.CallSession
		kind, mediaType, status string
		matchRef, roomID        sql.NullString
		startedAt, endedAt      sql.NullTime
		duration                sql.NullInt64
		endReason, video, audio sql.NullString
	)

	err := row.Scan(
		&s.ID,
		&kind,
		&mediaType,
		&s.CallerID,
		&s.ReceiverID,
		&status,
		&matchRef,
		&roomID,
		&s.CreatedAt,
		&s.LastActivityAt,
		&startedAt,
		&endedAt,
		&duration,
		&endReason,
		&video,
		&audio,
	)
	if err != nil {
		return nil, err
	}

	s.Kind = models.CallKind(kind)
	s.MediaType = models.MediaType(mediaType)
	s.Status = models.CallStatus(status)
	s.CreatedAt = s.CreatedAt.UTC()
	s.LastActivityAt = s.LastActivityAt.UTC()
	s.MatchRef = stringPtr(matchRef)
	s.RoomID = stringPtr(roomID)
	s.CallStartedAt = timePtr(startedAt)
	s.CallEndedAt = timePtr(endedAt)
	s.DurationSeconds = intPtr(duration)
	s.EndReason = stringPtr(endReason)
	s.VideoQuality = stringPtr(video)
	s.AudioQuality = stringPtr(audio)

	return &s, nil
}
