package websocket

import (
	"context"
	"sync"

	"github.com/rl-arena/randomcall-backend/internal/models"
	"github.com/rl-arena/randomcall-backend/internal/service"
	"github.com/rl-arena/randomcall-backend/pkg/distributed"
	"go.uber.org/zap"
)

const (
	MessageQueueEntryUpdated  = "queue_entry_updated"
	MessageCallSessionUpdated = "call_session_updated"
)

var _ service.Notifier = (*Hub)(nil)

// Publisher 다른 인스턴스로 푸시를 중계 (Redis 사용 시 distributed.NotificationRelay)
type Publisher interface {
	Publish(ctx context.Context, userID, msgType string, payload interface{}) error
}

// Hub WebSocket 연결 관리 및 사용자별 푸시
type Hub struct {
	// 사용자별 연결 저장 (userID -> *Client)
	clients map[string]*Client
	mu      sync.RWMutex

	outbound   chan *Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	relay          Publisher
	allowedOrigins []string
	logger         *zap.Logger
}

// Message WebSocket 메시지
type Message struct {
	UserID  string      `json:"-"`
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// NewHub Hub 생성 (allowedOrigins 가 비어 있거나 "*" 를 포함하면 모든 origin 허용)
func NewHub(logger *zap.Logger, allowedOrigins []string) *Hub {
	return &Hub{
		clients:        make(map[string]*Client),
		outbound:       make(chan *Message, 256),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		done:           make(chan struct{}),
		allowedOrigins: allowedOrigins,
		logger:         logger,
	}
}

// SetRelay 다중 인스턴스 푸시 중계 설정
func (h *Hub) SetRelay(relay Publisher) {
	h.relay = relay
}

// Run Hub 실행 (ctx 취소 시 모든 연결 종료)
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.outbound:
			h.deliver(message)

		case <-ctx.Done():
			close(h.done)
			h.closeAll()
			return
		}
	}
}

// registerClient 클라이언트 등록
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// 기존 연결이 있으면 닫기
	if oldClient, exists := h.clients[client.userID]; exists {
		close(oldClient.send)
		h.logger.Info("Replaced existing WebSocket connection",
			zap.String("userId", client.userID))
	}

	h.clients[client.userID] = client
	h.logger.Info("WebSocket client registered",
		zap.String("userId", client.userID),
		zap.Int("totalClients", len(h.clients)))
}

// unregisterClient 클라이언트 해제 (교체된 이전 연결은 무시)
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if current, exists := h.clients[client.userID]; exists && current == client {
		delete(h.clients, client.userID)
		close(client.send)
		h.logger.Info("WebSocket client unregistered",
			zap.String("userId", client.userID),
			zap.Int("totalClients", len(h.clients)))
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for userID, client := range h.clients {
		close(client.send)
		delete(h.clients, userID)
	}
}

// deliver 이 인스턴스에 연결된 사용자에게만 전송
func (h *Hub) deliver(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	client, exists := h.clients[message.UserID]
	if !exists {
		return
	}

	select {
	case client.send <- message:
	default:
		h.logger.Warn("Client send channel full",
			zap.String("userId", message.UserID))
	}
}

// SendToUser 특정 사용자에게 메시지 전송 (큐가 가득 차면 버림)
func (h *Hub) SendToUser(userID string, msgType string, payload interface{}) {
	select {
	case h.outbound <- &Message{UserID: userID, Type: msgType, Payload: payload}:
	default:
		h.logger.Warn("Hub outbound queue full, dropping message",
			zap.String("userId", userID),
			zap.String("type", msgType))
	}
}

// Deliver 중계 채널로 받은 알림을 로컬 연결에 전달
func (h *Hub) Deliver(n distributed.Notification) {
	h.SendToUser(n.UserID, n.Type, n.Payload)
}

// IsConnected 이 인스턴스에 연결되어 있는지
func (h *Hub) IsConnected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	_, ok := h.clients[userID]
	return ok
}

// ClientCount 현재 연결 수
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}

// QueueEntryUpdated 큐 엔트리 상태 변경 푸시
func (h *Hub) QueueEntryUpdated(userID string, entry *models.QueueEntry) {
	h.notify(userID, MessageQueueEntryUpdated, entry)
}

// CallSessionUpdated 통화 세션 상태 변경 푸시
func (h *Hub) CallSessionUpdated(userID string, session *models.CallSession) {
	h.notify(userID, MessageCallSessionUpdated, session)
}

func (h *Hub) notify(userID, msgType string, payload interface{}) {
	if userID == "" {
		return
	}

	if h.relay == nil {
		h.SendToUser(userID, msgType, payload)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), relayTimeout)
	defer cancel()

	if err := h.relay.Publish(ctx, userID, msgType, payload); err != nil {
		h.logger.Warn("Failed to relay notification, delivering locally",
			zap.String("userId", userID),
			zap.String("type", msgType),
			zap.Error(err))
		h.SendToUser(userID, msgType, payload)
	}
}
