package service

import (
	"errors"
	"fmt"
)

// Common service errors
var (
	ErrNotFound      = errors.New("resource not found")
	ErrForbidden     = errors.New("forbidden")
	ErrAlreadyQueued = errors.New("already queued")
	ErrInvalidState  = errors.New("invalid state")
	ErrValidation    = errors.New("validation error")
)

// Queue service specific errors
var (
	ErrQueueEntryNotFound     = fmt.Errorf("queue entry %w", ErrNotFound)
	ErrNotOwner               = fmt.Errorf("%w: not the owner of this request", ErrForbidden)
	ErrBlockedFromRandomCalls = fmt.Errorf("%w: blocked from random calls", ErrForbidden)
	ErrActiveEntryExists      = fmt.Errorf("%w: user already has an active request", ErrAlreadyQueued)
)

// Call service specific errors
var (
	ErrCallSessionNotFound = fmt.Errorf("call session %w", ErrNotFound)
	ErrNotParticipant      = fmt.Errorf("%w: not a participant of this call", ErrForbidden)
	ErrSelfCall            = fmt.Errorf("%w: cannot call yourself", ErrForbidden)
	ErrRandomCallManaged   = fmt.Errorf("%w: random calls are managed through the queue", ErrInvalidState)
)

// User service specific errors
var (
	ErrUserNotFound = fmt.Errorf("user %w", ErrNotFound)
)

// Signaling service specific errors
var (
	ErrSignalingSessionNotFound = fmt.Errorf("signaling session %w", ErrNotFound)
)

// validationError 원인 메시지를 유지한 채 ErrValidation 으로 분류
func validationError(err error) error {
	return fmt.Errorf("%w: %v", ErrValidation, err)
}

// invalidState 현재 상태를 포함한 ErrInvalidState
func invalidState(op string, status interface{}) error {
	return fmt.Errorf("%w: cannot %s from status %v", ErrInvalidState, op, status)
}
