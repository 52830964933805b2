package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Notification 인스턴스 간 전달되는 사용자 푸시 메시지
type Notification struct {
	UserID    string          `json:"userId"`
	Type      string          `json:"type"` // "queue_entry_updated", "call_session_updated"
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NotificationRelay Redis Pub/Sub 기반 푸시 중계
// 웹소켓 연결이 다른 인스턴스에 있어도 사용자에게 전달되도록 모든 인스턴스가 같은 채널을 구독한다
type NotificationRelay struct {
	client     *redis.Client
	channel    string
	instanceID string
	logger     *zap.Logger
	stopChan   chan struct{}
	cancelSub  context.CancelFunc
}

// NewNotificationRelay channel 기본값은 "randomcall:notifications"
func NewNotificationRelay(client *redis.Client, channel string, logger *zap.Logger) *NotificationRelay {
	if channel == "" {
		channel = "randomcall:notifications"
	}

	return &NotificationRelay{
		client:     client,
		channel:    channel,
		instanceID: uuid.New().String(),
		logger:     logger,
		stopChan:   make(chan struct{}),
	}
}

// Start 구독 후 메시지마다 deliver 호출 (Stop 또는 ctx 취소까지 블록)
func (r *NotificationRelay) Start(ctx context.Context, deliver func(n Notification)) error {
	subCtx, cancel := context.WithCancel(ctx)
	r.cancelSub = cancel
	defer cancel()

	pubsub := r.client.Subscribe(subCtx, r.channel)
	defer pubsub.Close()

	// 구독 확인
	if _, err := pubsub.Receive(subCtx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	r.logger.Info("Notification relay started",
		zap.String("instanceId", r.instanceID),
		zap.String("channel", r.channel))

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if msg == nil {
				continue
			}

			var n Notification
			if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
				r.logger.Error("Failed to unmarshal notification", zap.Error(err))
				continue
			}

			deliver(n)

		case <-r.stopChan:
			r.logger.Info("Notification relay stopped")
			return nil

		case <-subCtx.Done():
			return subCtx.Err()
		}
	}
}

// Stop 구독 중지
func (r *NotificationRelay) Stop() {
	close(r.stopChan)
	if r.cancelSub != nil {
		r.cancelSub()
	}
}

// Publish 사용자 푸시 메시지 발행
func (r *NotificationRelay) Publish(ctx context.Context, userID, msgType string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	data, err := json.Marshal(Notification{
		UserID:    userID,
		Type:      msgType,
		Payload:   body,
		Timestamp: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	r.logger.Debug("Published notification",
		zap.String("userId", userID),
		zap.String("type", msgType))

	return nil
}
