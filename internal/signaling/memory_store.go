package signaling

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rl-arena/randomcall-backend/internal/models"
)

// MemoryStore 단일 인스턴스용 인메모리 저장소
type MemoryStore struct {
	records map[string]*models.SignalingRecord
	mu      sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*models.SignalingRecord),
	}
}

func (s *MemoryStore) Create(ctx context.Context, record *models.SignalingRecord) (*models.SignalingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[record.SessionID]; ok {
		return cloneRecord(existing), nil
	}

	stored := cloneRecord(record)
	if stored.Candidates == nil {
		stored.Candidates = []models.IceCandidate{}
	}
	s.records[record.SessionID] = stored

	return cloneRecord(stored), nil
}

func (s *MemoryStore) Get(ctx context.Context, sessionID string) (*models.SignalingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[sessionID]
	if !ok {
		return nil, nil
	}
	return cloneRecord(record), nil
}

func (s *MemoryStore) AppendCandidate(ctx context.Context, sessionID string, candidate models.IceCandidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	record.Candidates = append(record.Candidates, candidate)
	return nil
}

func (s *MemoryStore) Candidates(ctx context.Context, sessionID string) ([]models.IceCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}

	out := make([]models.IceCandidate, len(record.Candidates))
	copy(out, record.Candidates)
	return out, nil
}

func (s *MemoryStore) SetDescription(ctx context.Context, sessionID string, desc *models.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[sessionID]
	if !ok {
		return ErrSessionNotFound
	}

	d := *desc
	if desc.Type == webrtc.SDPTypeAnswer {
		record.Answer = &d
	} else {
		record.Offer = &d
	}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, sessionID)
	return nil
}

func (s *MemoryStore) Exists(ctx context.Context, sessionID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.records[sessionID]
	return ok, nil
}

// cloneRecord 호출자가 내부 상태를 변경하지 못하도록 복사
func cloneRecord(r *models.SignalingRecord) *models.SignalingRecord {
	out := *r

	out.ICEServers = make([]webrtc.ICEServer, len(r.ICEServers))
	copy(out.ICEServers, r.ICEServers)

	if r.Candidates != nil {
		out.Candidates = make([]models.IceCandidate, len(r.Candidates))
		copy(out.Candidates, r.Candidates)
	}
	if r.Offer != nil {
		offer := *r.Offer
		out.Offer = &offer
	}
	if r.Answer != nil {
		answer := *r.Answer
		out.Answer = &answer
	}
	return &out
}
