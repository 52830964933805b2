package models

import (
	"time"

	"github.com/pion/webrtc/v4"
)

// MediaDefaults 협상 결과가 아닌 서버 기본값
type MediaDefaults struct {
	AudioCodec   string `json:"audioCodec"`
	VideoCodec   string `json:"videoCodec"`
	Resolution   string `json:"resolution"`
	FrameRate    int    `json:"frameRate"`
	MaxBitrateKb int    `json:"maxBitrateKbps"`
}

// DefaultMediaDefaults opus + VP8 720p30
func DefaultMediaDefaults() MediaDefaults {
	return MediaDefaults{
		AudioCodec:   "opus",
		VideoCodec:   "VP8",
		Resolution:   "1280x720",
		FrameRate:    30,
		MaxBitrateKb: 1500,
	}
}

// IceCandidate 도착 순서대로 저장되는 ICE 후보
type IceCandidate struct {
	Candidate webrtc.ICECandidateInit `json:"candidate"`
	FromPeer  string                  `json:"fromPeer,omitempty"`
	AddedAt   time.Time               `json:"addedAt"`
}

// SessionDescription offer/answer SDP 와 메타데이터
type SessionDescription struct {
	SessionID string         `json:"sessionId"`
	Type      webrtc.SDPType `json:"type"`
	SDP       string         `json:"sdp"`
	Media     MediaDefaults  `json:"media"`
	CreatedAt time.Time      `json:"createdAt"`
}

// WebRTC pion 세션 디스크립션으로 변환
func (d *SessionDescription) WebRTC() webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: d.Type, SDP: d.SDP}
}

// SignalingRecord 세션 단위의 일시적인 시그널링 상태
type SignalingRecord struct {
	SessionID     string               `json:"sessionId"`
	ICEServers    []webrtc.ICEServer   `json:"iceServers"`
	BundlePolicy  webrtc.BundlePolicy  `json:"bundlePolicy"`
	RTCPMuxPolicy webrtc.RTCPMuxPolicy `json:"rtcpMuxPolicy"`
	Media         MediaDefaults        `json:"media"`
	CreatedAt     time.Time            `json:"createdAt"`

	Candidates []IceCandidate      `json:"candidates"`
	Offer      *SessionDescription `json:"offer,omitempty"`
	Answer     *SessionDescription `json:"answer,omitempty"`
}

// Configuration 클라이언트 PeerConnection 생성용 설정
func (r *SignalingRecord) Configuration() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers:    r.ICEServers,
		BundlePolicy:  r.BundlePolicy,
		RTCPMuxPolicy: r.RTCPMuxPolicy,
	}
}

// BestDescription answer가 있으면 answer, 없으면 offer
func (r *SignalingRecord) BestDescription() *SessionDescription {
	if r.Answer != nil {
		return r.Answer
	}
	return r.Offer
}

type AddIceCandidateRequest struct {
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

type GenerateAnswerRequest struct {
	OfferSDP string `json:"offerSdp"`
}

type SubmitDescriptionRequest struct {
	Type string `json:"type" binding:"required"`
	SDP  string `json:"sdp" binding:"required"`
}
