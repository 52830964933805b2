package models

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

type QueueStatus string

const (
	QueueStatusWaiting   QueueStatus = "waiting"
	QueueStatusMatched   QueueStatus = "matched"
	QueueStatusConnected QueueStatus = "connected"
	QueueStatusDeclined  QueueStatus = "declined"
	QueueStatusTimeout   QueueStatus = "timeout"
	QueueStatusCancelled QueueStatus = "cancelled"
	QueueStatusEnded     QueueStatus = "ended"
)

// IsActive waiting/matched 상태는 사용자당 하나만 존재할 수 있다
func (s QueueStatus) IsActive() bool {
	return s == QueueStatusWaiting || s == QueueStatusMatched
}

// IsTerminal 보존 기간 이후 정리 대상 상태
func (s QueueStatus) IsTerminal() bool {
	switch s {
	case QueueStatusDeclined, QueueStatusTimeout, QueueStatusCancelled, QueueStatusEnded:
		return true
	}
	return false
}

// TerminalQueueStatuses 정리 대상 상태 목록
var TerminalQueueStatuses = []QueueStatus{
	QueueStatusDeclined,
	QueueStatusTimeout,
	QueueStatusCancelled,
	QueueStatusEnded,
}

type QueueType string

const (
	QueueTypeRandom   QueueType = "random"
	QueueTypeFiltered QueueType = "filtered"
	QueueTypePremium  QueueType = "premium"
)

// PreferenceAny 어떤 값과도 호환되는 와일드카드
const PreferenceAny = "any"

const (
	MaxInterests      = 10
	MaxInterestLength = 50
	MaxLocationLength = 100
	MinMaxWaitSeconds = 30
	MaxMaxWaitSeconds = 1800

	EstimatedWaitPerPosition = 30 * time.Second
)

var (
	validGenders    = map[string]bool{PreferenceAny: true, "male": true, "female": true, "non_binary": true}
	ageRangePattern = regexp.MustCompile(`^(\d{2})-(\d{2})$`)
	languagePattern = regexp.MustCompile(`^[a-z]{2,3}(-[A-Za-z]{2,4})?$`)
)

// Preferences 매칭 선호 조건 ("any"는 모두 허용)
type Preferences struct {
	Gender    string   `json:"gender"`
	AgeRange  string   `json:"ageRange"`
	Language  string   `json:"language"`
	Location  string   `json:"location"`
	Interests []string `json:"interests"`
}

// DefaultPreferences 모든 항목이 "any"인 선호 조건
func DefaultPreferences() Preferences {
	return Preferences{
		Gender:    PreferenceAny,
		AgeRange:  PreferenceAny,
		Language:  PreferenceAny,
		Location:  PreferenceAny,
		Interests: []string{},
	}
}

// Normalize 빈 값을 "any"로 채우고 공백/대소문자 정리
func (p Preferences) Normalize() Preferences {
	out := Preferences{
		Gender:   normalizeValue(strings.ToLower(p.Gender)),
		AgeRange: normalizeValue(p.AgeRange),
		Language: normalizeValue(p.Language),
		Location: normalizeValue(p.Location),
	}
	if strings.EqualFold(out.Language, PreferenceAny) {
		out.Language = PreferenceAny
	}

	out.Interests = make([]string, 0, len(p.Interests))
	for _, interest := range p.Interests {
		if interest = strings.TrimSpace(interest); interest != "" {
			out.Interests = append(out.Interests, interest)
		}
	}
	return out
}

func normalizeValue(v string) string {
	v = strings.TrimSpace(v)
	if v == "" || strings.EqualFold(v, PreferenceAny) {
		return PreferenceAny
	}
	return v
}

// Validate 선호 조건 형식 검증
func (p Preferences) Validate() error {
	if !validGenders[p.Gender] {
		return fmt.Errorf("invalid gender preference %q", p.Gender)
	}

	if p.AgeRange != PreferenceAny {
		m := ageRangePattern.FindStringSubmatch(p.AgeRange)
		if m == nil {
			return fmt.Errorf("invalid age range %q", p.AgeRange)
		}
		lo, _ := strconv.Atoi(m[1])
		hi, _ := strconv.Atoi(m[2])
		if lo < 18 || lo > hi {
			return fmt.Errorf("invalid age range %q", p.AgeRange)
		}
	}

	if p.Language != PreferenceAny && !languagePattern.MatchString(p.Language) {
		return fmt.Errorf("invalid language %q", p.Language)
	}

	if len(p.Location) > MaxLocationLength {
		return fmt.Errorf("location too long")
	}

	if len(p.Interests) > MaxInterests {
		return fmt.Errorf("too many interests (max %d)", MaxInterests)
	}
	for _, interest := range p.Interests {
		if len(interest) > MaxInterestLength {
			return fmt.Errorf("interest %q too long", interest)
		}
	}

	return nil
}

// QueueSettings 큐 참여 설정
type QueueSettings struct {
	QueueType      QueueType `json:"queueType"`
	Priority       bool      `json:"priority"`
	MaxWaitSeconds int       `json:"maxWaitSeconds"`
}

// Validate 큐 설정 검증 (0이면 기본값 사용)
func (s QueueSettings) Validate() error {
	switch s.QueueType {
	case "", QueueTypeRandom, QueueTypeFiltered, QueueTypePremium:
	default:
		return fmt.Errorf("invalid queue type %q", s.QueueType)
	}

	if s.MaxWaitSeconds != 0 && (s.MaxWaitSeconds < MinMaxWaitSeconds || s.MaxWaitSeconds > MaxMaxWaitSeconds) {
		return fmt.Errorf("maxWaitSeconds must be between %d and %d", MinMaxWaitSeconds, MaxMaxWaitSeconds)
	}

	return nil
}

// QueueEntry 한 사용자의 랜덤 통화 매칭 요청
type QueueEntry struct {
	RequestID string      `json:"requestId" db:"request_id"`
	UserID    string      `json:"userId" db:"user_id"`
	Status    QueueStatus `json:"status" db:"status"`

	QueueType      QueueType   `json:"queueType" db:"queue_type"`
	IsPriority     bool        `json:"isPriority" db:"is_priority"`
	Preferences    Preferences `json:"preferences"`
	MaxWaitSeconds int         `json:"maxWaitSeconds" db:"max_wait_seconds"`

	// 읽기 시점 추정치 (저장되지 않음)
	QueuePosition        int `json:"queuePosition,omitempty"`
	EstimatedWaitSeconds int `json:"estimatedWaitSeconds,omitempty"`

	CreatedAt           time.Time  `json:"createdAt" db:"created_at"`
	LastActivityAt      time.Time  `json:"lastActivityAt" db:"last_activity_at"`
	MatchedAt           *time.Time `json:"matchedAt,omitempty" db:"matched_at"`
	CallStartedAt       *time.Time `json:"callStartedAt,omitempty" db:"call_started_at"`
	CallEndedAt         *time.Time `json:"callEndedAt,omitempty" db:"call_ended_at"`
	CallDurationSeconds *int       `json:"callDurationSeconds,omitempty" db:"call_duration_seconds"`

	PartnerUserID      *string  `json:"partnerUserId,omitempty" db:"partner_user_id"`
	PartnerDisplayName *string  `json:"partnerDisplayName,omitempty" db:"partner_display_name"`
	PartnerAvatarURL   *string  `json:"partnerAvatarUrl,omitempty" db:"partner_avatar_url"`
	MatchScore         *float64 `json:"matchScore,omitempty" db:"match_score"`
	MatchReason        *string  `json:"matchReason,omitempty" db:"match_reason"`
	SessionID          *string  `json:"sessionId,omitempty" db:"session_id"`
	RoomID             *string  `json:"roomId,omitempty" db:"room_id"`
	PeerID             *string  `json:"peerId,omitempty" db:"peer_id"`

	DeclineReason *string `json:"declineReason,omitempty" db:"decline_reason"`
	StatusMessage *string `json:"statusMessage,omitempty" db:"status_message"`
}

// WaitDeadline max wait 과 전역 타임아웃 중 먼저 도달하는 시각
func (e *QueueEntry) WaitDeadline(globalTimeout time.Duration) time.Time {
	limit := globalTimeout
	if e.MaxWaitSeconds > 0 {
		if own := time.Duration(e.MaxWaitSeconds) * time.Second; own < limit {
			limit = own
		}
	}
	return e.CreatedAt.Add(limit)
}

// IsExpired waiting 상태에서 대기 한도를 넘었는지
func (e *QueueEntry) IsExpired(now time.Time, globalTimeout time.Duration) bool {
	return e.Status == QueueStatusWaiting && !now.Before(e.WaitDeadline(globalTimeout))
}

// MatchAssignment 매칭 성사 시 한쪽 엔트리에 기록되는 상대 정보
type MatchAssignment struct {
	RequestID          string
	Status             QueueStatus
	PartnerUserID      string
	PartnerDisplayName string
	PartnerAvatarURL   string
	MatchScore         float64
	MatchReason        string
	SessionID          string
	RoomID             string
	PeerID             string
	MatchedAt          time.Time
	CallStartedAt      *time.Time
}

type JoinQueueRequest struct {
	Preferences Preferences   `json:"preferences"`
	Settings    QueueSettings `json:"settings"`
}

type DeclineMatchRequest struct {
	Reason string `json:"reason"`
}

type UpdatePreferencesRequest struct {
	Preferences Preferences `json:"preferences" binding:"required"`
}
