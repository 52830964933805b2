package models

import (
	"time"
)

type CallStatus string

const (
	CallStatusInitiated CallStatus = "initiated"
	CallStatusRinging   CallStatus = "ringing"
	CallStatusAnswered  CallStatus = "answered"
	CallStatusConnected CallStatus = "connected"
	CallStatusEnded     CallStatus = "ended"
	CallStatusDeclined  CallStatus = "declined"
	CallStatusMissed    CallStatus = "missed"
	CallStatusTimeout   CallStatus = "timeout"
	CallStatusCancelled CallStatus = "cancelled"
)

// callTransitions 허용된 상태 전이표
var callTransitions = map[CallStatus][]CallStatus{
	CallStatusInitiated: {CallStatusRinging, CallStatusConnected, CallStatusDeclined, CallStatusCancelled, CallStatusMissed, CallStatusTimeout},
	CallStatusRinging:   {CallStatusAnswered, CallStatusDeclined, CallStatusCancelled, CallStatusMissed, CallStatusTimeout},
	CallStatusAnswered:  {CallStatusConnected, CallStatusEnded},
	CallStatusConnected: {CallStatusEnded},
}

// IsTerminal 종료 상태 여부
func (s CallStatus) IsTerminal() bool {
	switch s {
	case CallStatusEnded, CallStatusDeclined, CallStatusMissed, CallStatusTimeout, CallStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo from -> to 전이 가능 여부
func (s CallStatus) CanTransitionTo(to CallStatus) bool {
	for _, next := range callTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// CallKind 같은 상태 기계의 두 변형
// random: 매칭 즉시 connected, direct: initiated -> ringing -> answered -> connected
type CallKind string

const (
	CallKindRandom CallKind = "random"
	CallKindDirect CallKind = "direct"
)

type MediaType string

const (
	MediaTypeVideo MediaType = "video"
	MediaTypeAudio MediaType = "audio"
)

// CallSession 매칭되었거나 직접 발신된 통화
type CallSession struct {
	ID         string     `json:"id" db:"id"`
	Kind       CallKind   `json:"kind" db:"kind"`
	MediaType  MediaType  `json:"mediaType" db:"media_type"`
	CallerID   string     `json:"callerId" db:"caller_id"`
	ReceiverID string     `json:"receiverId" db:"receiver_id"`
	Status     CallStatus `json:"status" db:"status"`
	MatchRef   *string    `json:"matchRef,omitempty" db:"match_ref"`
	RoomID     *string    `json:"roomId,omitempty" db:"room_id"`

	CreatedAt       time.Time  `json:"createdAt" db:"created_at"`
	LastActivityAt  time.Time  `json:"lastActivityAt" db:"last_activity_at"`
	CallStartedAt   *time.Time `json:"callStartedAt,omitempty" db:"call_started_at"`
	CallEndedAt     *time.Time `json:"callEndedAt,omitempty" db:"call_ended_at"`
	DurationSeconds *int       `json:"durationSeconds,omitempty" db:"duration_seconds"`
	EndReason       *string    `json:"endReason,omitempty" db:"end_reason"`

	VideoQuality *string `json:"videoQuality,omitempty" db:"video_quality"`
	AudioQuality *string `json:"audioQuality,omitempty" db:"audio_quality"`
}

// IsParticipant 발신자 또는 수신자 여부
func (c *CallSession) IsParticipant(userID string) bool {
	return c.CallerID == userID || c.ReceiverID == userID
}

// PeerOf 상대방 ID
func (c *CallSession) PeerOf(userID string) string {
	if c.CallerID == userID {
		return c.ReceiverID
	}
	return c.CallerID
}

// CallTransition 상태 전이 시 기록되는 값
type CallTransition struct {
	From            []CallStatus
	To              CallStatus
	At              time.Time
	CallStartedAt   *time.Time
	CallEndedAt     *time.Time
	DurationSeconds *int
	EndReason       *string
	VideoQuality    *string
	AudioQuality    *string
}

// DurationBetween 통화 시작 시각이 없으면 nil
func DurationBetween(startedAt *time.Time, endedAt time.Time) *int {
	if startedAt == nil {
		return nil
	}
	seconds := int(endedAt.Sub(*startedAt).Seconds())
	if seconds < 0 {
		seconds = 0
	}
	return &seconds
}

type InitiateCallRequest struct {
	ReceiverID string    `json:"receiverId" binding:"required"`
	MediaType  MediaType `json:"mediaType"`
}

type EndCallRequest struct {
	Reason       string `json:"reason"`
	VideoQuality string `json:"videoQuality"`
	AudioQuality string `json:"audioQuality"`
}
