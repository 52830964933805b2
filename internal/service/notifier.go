package service

import "github.com/rl-arena/randomcall-backend/internal/models"

// Notifier 상태 변경 푸시 (클라이언트는 여전히 폴링으로 최종 상태를 확인)
type Notifier interface {
	QueueEntryUpdated(userID string, entry *models.QueueEntry)
	CallSessionUpdated(userID string, session *models.CallSession)
}

// NopNotifier 푸시 전송 없음
type NopNotifier struct{}

func (NopNotifier) QueueEntryUpdated(string, *models.QueueEntry)   {}
func (NopNotifier) CallSessionUpdated(string, *models.CallSession) {}
