package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rl-arena/randomcall-backend/internal/models"
	"github.com/rl-arena/randomcall-backend/pkg/database"
)

const queueColumns = `
	request_id, user_id, status, queue_type, is_priority,
	pref_gender, pref_age_range, pref_language, pref_location, pref_interests,
	max_wait_seconds, created_at, last_activity_at, matched_at, call_started_at,
	call_ended_at, call_duration_seconds, partner_user_id, partner_display_name, partner_avatar_url,
	match_score, match_reason, session_id, room_id, peer_id,
	decline_reason, status_message`

type QueueRepository struct {
	db *database.DB
}

func NewQueueRepository(db *database.DB) *QueueRepository {
	return &QueueRepository{db: db}
}

// QueueUpdate 상태 전이와 함께 기록할 값 (nil 필드는 유지)
type QueueUpdate struct {
	At                  time.Time
	CallStartedAt       *time.Time
	CallEndedAt         *time.Time
	CallDurationSeconds *int
	DeclineReason       *string
	StatusMessage       *string
}

// Create 큐 엔트리 추가
func (r *QueueRepository) Create(ctx context.Context, e *models.QueueEntry) error {
	interests, err := json.Marshal(e.Preferences.Interests)
	if err != nil {
		return fmt.Errorf("failed to encode interests: %w", err)
	}

	e.CreatedAt = ts(e.CreatedAt)
	e.LastActivityAt = ts(e.LastActivityAt)

	query := `
		INSERT INTO queue_entries (
			request_id, user_id, status, queue_type, is_priority,
			pref_gender, pref_age_range, pref_language, pref_location, pref_interests,
			max_wait_seconds, created_at, last_activity_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = r.db.ExecContext(ctx, query,
		e.RequestID,
		e.UserID,
		string(e.Status),
		string(e.QueueType),
		e.IsPriority,
		e.Preferences.Gender,
		e.Preferences.AgeRange,
		e.Preferences.Language,
		e.Preferences.Location,
		string(interests),
		e.MaxWaitSeconds,
		e.CreatedAt,
		e.LastActivityAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return ErrDuplicateActiveEntry
		}
		return fmt.Errorf("failed to create queue entry: %w", err)
	}

	return nil
}

// FindByRequestID 요청 ID로 조회
func (r *QueueRepository) FindByRequestID(ctx context.Context, requestID string) (*models.QueueEntry, error) {
	query := `SELECT ` + queueColumns + ` FROM queue_entries WHERE request_id = $1`

	entry, err := scanQueueEntry(r.db.QueryRowContext(ctx, query, requestID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find queue entry: %w", err)
	}

	return entry, nil
}

// FindActiveByUser 사용자의 waiting/matched 엔트리
func (r *QueueRepository) FindActiveByUser(ctx context.Context, userID string) (*models.QueueEntry, error) {
	query := `
		SELECT ` + queueColumns + `
		FROM queue_entries
		WHERE user_id = $1 AND status IN ($2, $3)
		ORDER BY created_at DESC
		LIMIT 1
	`

	entry, err := scanQueueEntry(r.db.QueryRowContext(ctx, query, userID,
		string(models.QueueStatusWaiting), string(models.QueueStatusMatched)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active queue entry: %w", err)
	}

	return entry, nil
}

// FindPartner 같은 세션을 공유하는 상대 엔트리
func (r *QueueRepository) FindPartner(ctx context.Context, sessionID, requestID string) (*models.QueueEntry, error) {
	query := `
		SELECT ` + queueColumns + `
		FROM queue_entries
		WHERE session_id = $1 AND request_id <> $2
		LIMIT 1
	`

	entry, err := scanQueueEntry(r.db.QueryRowContext(ctx, query, sessionID, requestID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find partner entry: %w", err)
	}

	return entry, nil
}

// FindByUser 사용자의 최근 엔트리 목록
func (r *QueueRepository) FindByUser(ctx context.Context, userID string, limit int) ([]*models.QueueEntry, error) {
	query := `
		SELECT ` + queueColumns + `
		FROM queue_entries
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	return r.queryEntries(ctx, query, userID, limit)
}

// ListWaiting createdBefore 이전에 생성된 waiting 엔트리 (오래된 순)
func (r *QueueRepository) ListWaiting(ctx context.Context, createdBefore time.Time) ([]*models.QueueEntry, error) {
	query := `
		SELECT ` + queueColumns + `
		FROM queue_entries
		WHERE status = $1 AND created_at <= $2
		ORDER BY created_at ASC, request_id ASC
	`
	return r.queryEntries(ctx, query, string(models.QueueStatusWaiting), ts(createdBefore))
}

// ListMatchedBefore matchedBefore 이전에 매칭되어 아직 수락 대기 중인 엔트리 (오래된 순)
func (r *QueueRepository) ListMatchedBefore(ctx context.Context, matchedBefore time.Time) ([]*models.QueueEntry, error) {
	query := `
		SELECT ` + queueColumns + `
		FROM queue_entries
		WHERE status = $1 AND matched_at <= $2
		ORDER BY matched_at ASC, request_id ASC
	`
	return r.queryEntries(ctx, query, string(models.QueueStatusMatched), ts(matchedBefore))
}

func (r *QueueRepository) queryEntries(ctx context.Context, query string, args ...interface{}) ([]*models.QueueEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.QueueEntry
	for rows.Next() {
		entry, err := scanQueueEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate queue entries: %w", err)
	}

	return entries, nil
}

// CountWaiting 대기 중 엔트리 수 (queueType 이 비어 있으면 전체)
func (r *QueueRepository) CountWaiting(ctx context.Context, queueType models.QueueType) (int, error) {
	query := `SELECT COUNT(*) FROM queue_entries WHERE status = $1`
	args := []interface{}{string(models.QueueStatusWaiting)}
	if queueType != "" {
		query += ` AND queue_type = $2`
		args = append(args, string(queueType))
	}

	var count int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count waiting entries: %w", err)
	}
	return count, nil
}

// CountWaitingPriority 우선순위 대기 엔트리 수
func (r *QueueRepository) CountWaitingPriority(ctx context.Context) (int, error) {
	query := `SELECT COUNT(*) FROM queue_entries WHERE status = $1 AND is_priority = $2`

	var count int
	if err := r.db.QueryRowContext(ctx, query, string(models.QueueStatusWaiting), true).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count priority entries: %w", err)
	}
	return count, nil
}

// CountWaitingAhead createdAt 보다 먼저 들어온 대기 엔트리 수
func (r *QueueRepository) CountWaitingAhead(ctx context.Context, createdAt time.Time, requestID string) (int, error) {
	query := `
		SELECT COUNT(*) FROM queue_entries
		WHERE status = $1
		  AND (created_at < $2 OR (created_at = $2 AND request_id < $3))
	`

	var count int
	if err := r.db.QueryRowContext(ctx, query, string(models.QueueStatusWaiting), ts(createdAt), requestID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count entries ahead: %w", err)
	}
	return count, nil
}

// TransitionStatus 현재 상태가 from 중 하나일 때만 to 로 전이 (compare-and-set)
func (r *QueueRepository) TransitionStatus(
	ctx context.Context,
	requestID string,
	from []models.QueueStatus,
	to models.QueueStatus,
	update QueueUpdate,
) error {
	sets := []string{"status = $1", "last_activity_at = $2"}
	args := []interface{}{string(to), ts(update.At)}

	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if update.CallStartedAt != nil {
		add("call_started_at", tsPtr(update.CallStartedAt))
	}
	if update.CallEndedAt != nil {
		add("call_ended_at", tsPtr(update.CallEndedAt))
	}
	if update.CallDurationSeconds != nil {
		add("call_duration_seconds", *update.CallDurationSeconds)
	}
	if update.DeclineReason != nil {
		add("decline_reason", *update.DeclineReason)
	}
	if update.StatusMessage != nil {
		add("status_message", *update.StatusMessage)
	}

	args = append(args, requestID)
	where := fmt.Sprintf("request_id = $%d", len(args))
	fromArgs := make([]interface{}, len(from))
	for i, s := range from {
		fromArgs[i] = string(s)
	}
	where += fmt.Sprintf(" AND status IN (%s)", placeholders(len(args)+1, len(from)))
	args = append(args, fromArgs...)

	query := fmt.Sprintf("UPDATE queue_entries SET %s WHERE %s", strings.Join(sets, ", "), where)

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update queue status: %w", err)
	}
	return expectOneRow(res)
}

// UpdatePreferences waiting 상태일 때만 선호 조건 교체
func (r *QueueRepository) UpdatePreferences(ctx context.Context, requestID string, prefs models.Preferences, at time.Time) error {
	interests, err := json.Marshal(prefs.Interests)
	if err != nil {
		return fmt.Errorf("failed to encode interests: %w", err)
	}

	query := `
		UPDATE queue_entries
		SET pref_gender = $1, pref_age_range = $2, pref_language = $3,
		    pref_location = $4, pref_interests = $5, last_activity_at = $6
		WHERE request_id = $7 AND status = $8
	`
	res, err := r.db.ExecContext(ctx, query,
		prefs.Gender,
		prefs.AgeRange,
		prefs.Language,
		prefs.Location,
		string(interests),
		ts(at),
		requestID,
		string(models.QueueStatusWaiting),
	)
	if err != nil {
		return fmt.Errorf("failed to update preferences: %w", err)
	}
	return expectOneRow(res)
}

// ApplyMatch 두 엔트리를 하나의 트랜잭션에서 waiting -> 매칭 상태로 전이하고 통화 세션 생성
// 둘 중 하나라도 waiting 이 아니면 전체 롤백 (ErrStatusConflict)
func (r *QueueRepository) ApplyMatch(ctx context.Context, a, b models.MatchAssignment, session *models.CallSession) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, assignment := range []models.MatchAssignment{a, b} {
			if err := applyAssignment(ctx, tx, assignment); err != nil {
				return err
			}
		}

		if session != nil {
			if err := insertCallSession(ctx, tx, session); err != nil {
				return err
			}
		}
		return nil
	})
}

func applyAssignment(ctx context.Context, tx execer, m models.MatchAssignment) error {
	query := `
		UPDATE queue_entries
		SET status = $1,
		    matched_at = $2,
		    last_activity_at = $2,
		    call_started_at = $3,
		    partner_user_id = $4,
		    partner_display_name = $5,
		    partner_avatar_url = $6,
		    match_score = $7,
		    match_reason = $8,
		    session_id = $9,
		    room_id = $10,
		    peer_id = $11
		WHERE request_id = $12 AND status = $13
	`
	res, err := tx.ExecContext(ctx, query,
		string(m.Status),
		ts(m.MatchedAt),
		tsPtr(m.CallStartedAt),
		m.PartnerUserID,
		m.PartnerDisplayName,
		m.PartnerAvatarURL,
		m.MatchScore,
		m.MatchReason,
		m.SessionID,
		m.RoomID,
		m.PeerID,
		m.RequestID,
		string(models.QueueStatusWaiting),
	)
	if err != nil {
		return fmt.Errorf("failed to apply match to %s: %w", m.RequestID, err)
	}
	return expectOneRow(res)
}

// DeleteTerminalBefore 보존 기간이 지난 종료 상태 엔트리 삭제
func (r *QueueRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	statuses := make([]interface{}, len(models.TerminalQueueStatuses))
	for i, s := range models.TerminalQueueStatuses {
		statuses[i] = string(s)
	}

	query := fmt.Sprintf(`
		DELETE FROM queue_entries
		WHERE last_activity_at < $1 AND status IN (%s)
	`, placeholders(2, len(statuses)))

	args := append([]interface{}{ts(cutoff)}, statuses...)
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired entries: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n, nil
}

func scanQueueEntry(row rowScanner) (*models.QueueEntry, error) {
	var (
		e                                      models.QueueEntry
		status, queueType, interests           string
		matchedAt, callStartedAt, callEndedAt  sql.NullTime
		duration                               sql.NullInt64
		partnerID, partnerName, partnerAvatar  sql.NullString
		matchScore                             sql.NullFloat64
		matchReason, sessionID, roomID, peerID sql.NullString
		declineReason, statusMessage           sql.NullString
	)

	err := row.Scan(
		&e.RequestID,
		&e.UserID,
		&status,
		&queueType,
		&e.IsPriority,
		&e.Preferences.Gender,
		&e.Preferences.AgeRange,
		&e.Preferences.Language,
		&e.Preferences.Location,
		&interests,
		&e.MaxWaitSeconds,
		&e.CreatedAt,
		&e.LastActivityAt,
		&matchedAt,
		&callStartedAt,
		&callEndedAt,
		&duration,
		&partnerID,
		&partnerName,
		&partnerAvatar,
		&matchScore,
		&matchReason,
		&sessionID,
		&roomID,
		&peerID,
		&declineReason,
		&statusMessage,
	)
	if err != nil {
		return nil, err
	}

	e.Status = models.QueueStatus(status)
	e.QueueType = models.QueueType(queueType)
	e.CreatedAt = e.CreatedAt.UTC()
	e.LastActivityAt = e.LastActivityAt.UTC()
	if err := json.Unmarshal([]byte(interests), &e.Preferences.Interests); err != nil {
		e.Preferences.Interests = []string{}
	}

	e.MatchedAt = timePtr(matchedAt)
	e.CallStartedAt = timePtr(callStartedAt)
	e.CallEndedAt = timePtr(callEndedAt)
	e.CallDurationSeconds = intPtr(duration)
	e.PartnerUserID = stringPtr(partnerID)
	e.PartnerDisplayName = stringPtr(partnerName)
	e.PartnerAvatarURL = stringPtr(partnerAvatar)
	e.MatchScore = floatPtr(matchScore)
	e.MatchReason = stringPtr(matchReason)
	e.SessionID = stringPtr(sessionID)
	e.RoomID = stringPtr(roomID)
	e.PeerID = stringPtr(peerID)
	e.DeclineReason = stringPtr(declineReason)
	e.StatusMessage = stringPtr(statusMessage)

	return &e, nil
}
