package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
	"github.com/rl-arena/randomcall-backend/internal/models"
	"github.com/rl-arena/randomcall-backend/internal/signaling"
	"go.uber.org/zap"
)

const (
	opusPayloadType = 111
	vp8PayloadType  = 96
)

// SignalingService 세션 단위 WebRTC offer/answer/ICE 중계
// 코덱 협상은 하지 않고 서버 기본값을 태그로 붙인다
type SignalingService struct {
	store      signaling.Store
	sessions   SessionStore
	iceServers []webrtc.ICEServer
	media      models.MediaDefaults
	logger     *zap.Logger
	now        func() time.Time
}

func NewSignalingService(
	store signaling.Store,
	sessions SessionStore,
	iceServers []webrtc.ICEServer,
	media models.MediaDefaults,
	logger *zap.Logger,
) *SignalingService {
	return &SignalingService{
		store:      store,
		sessions:   sessions,
		iceServers: iceServers,
		media:      media,
		logger:     logger,
		now:        time.Now,
	}
}

// ICEServersFromConfig 설정 값으로 ICE 서버 목록 구성
func ICEServersFromConfig(urls []string, username, credential string) []webrtc.ICEServer {
	var stun, turn []string
	for _, u := range urls {
		if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
			turn = append(turn, u)
		} else {
			stun = append(stun, u)
		}
	}

	var servers []webrtc.ICEServer
	if len(stun) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: stun})
	}
	if len(turn) > 0 {
		servers = append(servers, webrtc.ICEServer{
			URLs:           turn,
			Username:       username,
			Credential:     credential,
			CredentialType: webrtc.ICECredentialTypePassword,
		})
	}
	return servers
}

// Open 통화 세션에 대한 시그널링 세션 생성 (이미 열려 있으면 기존 상태 반환)
func (s *SignalingService) Open(ctx context.Context, sessionID string) (*models.SignalingRecord, error) {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find call session: %w", err)
	}
	if session == nil {
		return nil, ErrCallSessionNotFound
	}

	record := &models.SignalingRecord{
		SessionID:     sessionID,
		ICEServers:    s.iceServers,
		BundlePolicy:  webrtc.BundlePolicyMaxBundle,
		RTCPMuxPolicy: webrtc.RTCPMuxPolicyRequire,
		Media:         s.media,
		CreatedAt:     s.now().UTC(),
	}

	opened, err := s.store.Create(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("failed to open signaling session: %w", err)
	}

	s.logger.Debug("Signaling session opened", zap.String("sessionId", sessionID))
	return opened, nil
}

// GenerateOffer 기본 코덱 정보를 담은 offer 생성
func (s *SignalingService) GenerateOffer(ctx context.Context, sessionID string) (*models.SessionDescription, error) {
	return s.generate(ctx, sessionID, webrtc.SDPTypeOffer)
}

// GenerateAnswer answer 생성 (offer 는 형식만 확인하고 협상에 사용하지 않음)
func (s *SignalingService) GenerateAnswer(ctx context.Context, sessionID, offerSDP string) (*models.SessionDescription, error) {
	if offerSDP != "" {
		var offer sdp.SessionDescription
		if err := offer.Unmarshal([]byte(offerSDP)); err != nil {
			return nil, validationError(fmt.Errorf("invalid offer sdp: %w", err))
		}
	}
	return s.generate(ctx, sessionID, webrtc.SDPTypeAnswer)
}

func (s *SignalingService) generate(ctx context.Context, sessionID string, sdpType webrtc.SDPType) (*models.SessionDescription, error) {
	if err := s.requireActive(ctx, sessionID); err != nil {
		return nil, err
	}

	body, err := s.buildSDP(sdpType)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s: %w", sdpType, err)
	}

	desc := &models.SessionDescription{
		SessionID: sessionID,
		Type:      sdpType,
		SDP:       body,
		Media:     s.media,
		CreatedAt: s.now().UTC(),
	}
	if err := s.storeDescription(ctx, desc); err != nil {
		return nil, err
	}

	return desc, nil
}

// SubmitDescription 클라이언트가 만든 offer/answer 를 그대로 중계
func (s *SignalingService) SubmitDescription(ctx context.Context, sessionID, sdpType, body string) (*models.SessionDescription, error) {
	t := webrtc.NewSDPType(sdpType)
	if t != webrtc.SDPTypeOffer && t != webrtc.SDPTypeAnswer {
		return nil, validationError(fmt.Errorf("unsupported description type %q", sdpType))
	}

	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(body)); err != nil {
		return nil, validationError(fmt.Errorf("invalid sdp: %w", err))
	}

	desc := &models.SessionDescription{
		SessionID: sessionID,
		Type:      t,
		SDP:       body,
		Media:     s.media,
		CreatedAt: s.now().UTC(),
	}
	if err := s.storeDescription(ctx, desc); err != nil {
		return nil, err
	}

	return desc, nil
}

func (s *SignalingService) storeDescription(ctx context.Context, desc *models.SessionDescription) error {
	if err := s.store.SetDescription(ctx, desc.SessionID, desc); err != nil {
		if errors.Is(err, signaling.ErrSessionNotFound) {
			return ErrSignalingSessionNotFound
		}
		return fmt.Errorf("failed to store session description: %w", err)
	}
	return nil
}

// AddIceCandidate 도착 순서대로 후보 추가 (중복 제거 없음)
func (s *SignalingService) AddIceCandidate(ctx context.Context, sessionID, fromPeer string, candidate webrtc.ICECandidateInit) error {
	entry := models.IceCandidate{
		Candidate: candidate,
		FromPeer:  fromPeer,
		AddedAt:   s.now().UTC(),
	}

	if err := s.store.AppendCandidate(ctx, sessionID, entry); err != nil {
		if errors.Is(err, signaling.ErrSessionNotFound) {
			return ErrSignalingSessionNotFound
		}
		return fmt.Errorf("failed to add ice candidate: %w", err)
	}
	return nil
}

// GetIceCandidates 지금까지 추가된 후보 (도착 순)
func (s *SignalingService) GetIceCandidates(ctx context.Context, sessionID string) ([]models.IceCandidate, error) {
	candidates, err := s.store.Candidates(ctx, sessionID)
	if err != nil {
		if errors.Is(err, signaling.ErrSessionNotFound) {
			return nil, ErrSignalingSessionNotFound
		}
		return nil, fmt.Errorf("failed to get ice candidates: %w", err)
	}
	return candidates, nil
}

// GetSessionDescription answer 가 있으면 answer, 없으면 offer, 둘 다 없으면 nil
func (s *SignalingService) GetSessionDescription(ctx context.Context, sessionID string) (*models.SessionDescription, error) {
	record, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get signaling session: %w", err)
	}
	if record == nil {
		return nil, ErrSignalingSessionNotFound
	}
	return record.BestDescription(), nil
}

// Close 후보와 디스크립션 폐기 (멱등)
func (s *SignalingService) Close(ctx context.Context, sessionID string) error {
	if err := s.store.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to close signaling session: %w", err)
	}
	s.logger.Debug("Signaling session closed", zap.String("sessionId", sessionID))
	return nil
}

// IsActive 시그널링 세션 존재 여부
func (s *SignalingService) IsActive(ctx context.Context, sessionID string) (bool, error) {
	active, err := s.store.Exists(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("failed to check signaling session: %w", err)
	}
	return active, nil
}

// CheckParticipant 통화 참여자만 시그널링에 접근 가능
func (s *SignalingService) CheckParticipant(ctx context.Context, sessionID, userID string) error {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to find call session: %w", err)
	}
	if session == nil {
		return ErrCallSessionNotFound
	}
	if !session.IsParticipant(userID) {
		return ErrNotParticipant
	}
	return nil
}

func (s *SignalingService) requireActive(ctx context.Context, sessionID string) error {
	active, err := s.IsActive(ctx, sessionID)
	if err != nil {
		return err
	}
	if !active {
		return ErrSignalingSessionNotFound
	}
	return nil
}

// buildSDP audio(opus) + video(VP8) 번들 디스크립션
func (s *SignalingService) buildSDP(sdpType webrtc.SDPType) (string, error) {
	desc, err := sdp.NewJSEPSessionDescription(false)
	if err != nil {
		return "", err
	}

	ufrag, err := gonanoid.New(8)
	if err != nil {
		return "", err
	}
	pwd, err := gonanoid.New(24)
	if err != nil {
		return "", err
	}

	setup := "actpass"
	if sdpType == webrtc.SDPTypeAnswer {
		setup = "active"
	}

	audio := sdp.NewJSEPMediaDescription("audio", []string{}).
		WithCodec(opusPayloadType, strings.ToLower(s.media.AudioCodec), 48000, 2, "minptime=10;useinbandfec=1").
		WithICECredentials(ufrag, pwd).
		WithValueAttribute(sdp.AttrKeyConnectionSetup, setup).
		WithValueAttribute(sdp.AttrKeyMID, "0").
		WithPropertyAttribute(sdp.AttrKeySendRecv).
		WithPropertyAttribute(sdp.AttrKeyRTCPMux)

	video := sdp.NewJSEPMediaDescription("video", []string{}).
		WithCodec(vp8PayloadType, s.media.VideoCodec, 90000, 0, "").
		WithICECredentials(ufrag, pwd).
		WithValueAttribute(sdp.AttrKeyConnectionSetup, setup).
		WithValueAttribute(sdp.AttrKeyMID, "1").
		WithValueAttribute("framerate", strconv.Itoa(s.media.FrameRate)).
		WithPropertyAttribute(sdp.AttrKeySendRecv).
		WithPropertyAttribute(sdp.AttrKeyRTCPMux)
	video.Bandwidth = []sdp.Bandwidth{{Type: "AS", Bandwidth: uint64(s.media.MaxBitrateKb)}}

	desc = desc.
		WithValueAttribute(sdp.AttrKeyGroup, "BUNDLE 0 1").
		WithMedia(audio).
		WithMedia(video)

	body, err := desc.Marshal()
	if err != nil {
		return "", err
	}
	return string(body), nil
}
