package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rl-arena/randomcall-backend/internal/models"
)

// appendScript 세션 메타 키가 있을 때만 후보 추가 (원자적)
var appendScript = redis.NewScript(`
	local meta = KEYS[1]
	local list = KEYS[2]
	local ttl = tonumber(ARGV[2])

	if redis.call('EXISTS', meta) == 0 then
		return 0
	end

	redis.call('RPUSH', list, ARGV[1])
	redis.call('PEXPIRE', list, ttl)
	return 1
`)

// describeScript 세션 메타 키가 있을 때만 디스크립션 저장
var describeScript = redis.NewScript(`
	local meta = KEYS[1]
	local key = KEYS[2]
	local ttl = tonumber(ARGV[2])

	if redis.call('EXISTS', meta) == 0 then
		return 0
	end

	redis.call('SET', key, ARGV[1], 'PX', ttl)
	return 1
`)

// RedisStore 여러 인스턴스가 공유하는 Redis 기반 저장소
// 키 구조: {prefix}{sessionId}:meta / :candidates / :offer / :answer
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

func NewRedisStore(client *redis.Client, keyPrefix string, ttl time.Duration) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "signaling:"
	}
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}

	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
	}
}

func (s *RedisStore) metaKey(id string) string       { return s.keyPrefix + id + ":meta" }
func (s *RedisStore) candidatesKey(id string) string { return s.keyPrefix + id + ":candidates" }

func (s *RedisStore) descriptionKey(id string, t webrtc.SDPType) string {
	if t == webrtc.SDPTypeAnswer {
		return s.keyPrefix + id + ":answer"
	}
	return s.keyPrefix + id + ":offer"
}

func (s *RedisStore) Create(ctx context.Context, record *models.SignalingRecord) (*models.SignalingRecord, error) {
	meta := *record
	meta.Candidates = nil
	meta.Offer = nil
	meta.Answer = nil

	payload, err := json.Marshal(&meta)
	if err != nil {
		return nil, fmt.Errorf("failed to encode signaling record: %w", err)
	}

	created, err := s.client.SetNX(ctx, s.metaKey(record.SessionID), payload, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to create signaling record: %w", err)
	}

	if !created {
		existing, err := s.Get(ctx, record.SessionID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
		// 그 사이에 만료/삭제됨
		return s.Create(ctx, record)
	}

	meta.Candidates = []models.IceCandidate{}
	return &meta, nil
}

func (s *RedisStore) Get(ctx context.Context, sessionID string) (*models.SignalingRecord, error) {
	pipe := s.client.Pipeline()
	metaCmd := pipe.Get(ctx, s.metaKey(sessionID))
	listCmd := pipe.LRange(ctx, s.candidatesKey(sessionID), 0, -1)
	offerCmd := pipe.Get(ctx, s.descriptionKey(sessionID, webrtc.SDPTypeOffer))
	answerCmd := pipe.Get(ctx, s.descriptionKey(sessionID, webrtc.SDPTypeAnswer))

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to load signaling record: %w", err)
	}

	raw, err := metaCmd.Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read signaling record: %w", err)
	}

	var record models.SignalingRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("failed to decode signaling record: %w", err)
	}

	record.Candidates, err = decodeCandidates(listCmd.Val())
	if err != nil {
		return nil, err
	}

	if record.Offer, err = decodeDescription(offerCmd); err != nil {
		return nil, err
	}
	if record.Answer, err = decodeDescription(answerCmd); err != nil {
		return nil, err
	}

	return &record, nil
}

func (s *RedisStore) AppendCandidate(ctx context.Context, sessionID string, candidate models.IceCandidate) error {
	payload, err := json.Marshal(candidate)
	if err != nil {
		return fmt.Errorf("failed to encode candidate: %w", err)
	}

	keys := []string{s.metaKey(sessionID), s.candidatesKey(sessionID)}
	ok, err := appendScript.Run(ctx, s.client, keys, payload, s.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("failed to append candidate: %w", err)
	}
	if ok == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *RedisStore) Candidates(ctx context.Context, sessionID string) ([]models.IceCandidate, error) {
	exists, err := s.Exists(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrSessionNotFound
	}

	raw, err := s.client.LRange(ctx, s.candidatesKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read candidates: %w", err)
	}
	return decodeCandidates(raw)
}

func (s *RedisStore) SetDescription(ctx context.Context, sessionID string, desc *models.SessionDescription) error {
	payload, err := json.Marshal(desc)
	if err != nil {
		return fmt.Errorf("failed to encode session description: %w", err)
	}

	keys := []string{s.metaKey(sessionID), s.descriptionKey(sessionID, desc.Type)}
	ok, err := describeScript.Run(ctx, s.client, keys, payload, s.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("failed to store session description: %w", err)
	}
	if ok == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	err := s.client.Del(ctx,
		s.metaKey(sessionID),
		s.candidatesKey(sessionID),
		s.descriptionKey(sessionID, webrtc.SDPTypeOffer),
		s.descriptionKey(sessionID, webrtc.SDPTypeAnswer),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to delete signaling record: %w", err)
	}
	return nil
}

func (s *RedisStore) Exists(ctx context.Context, sessionID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.metaKey(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check signaling record: %w", err)
	}
	return n > 0, nil
}

func decodeCandidates(raw []string) ([]models.IceCandidate, error) {
	candidates := make([]models.IceCandidate, 0, len(raw))
	for _, item := range raw {
		var c models.IceCandidate
		if err := json.Unmarshal([]byte(item), &c); err != nil {
			return nil, fmt.Errorf("failed to decode candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}

func decodeDescription(cmd *redis.StringCmd) (*models.SessionDescription, error) {
	raw, err := cmd.Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session description: %w", err)
	}

	var desc models.SessionDescription
	if err := json.Unmarshal(raw, &desc); err != nil {
		return nil, fmt.Errorf("failed to decode session description: %w", err)
	}
	return &desc, nil
}
