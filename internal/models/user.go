package models

import (
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

// User 인증 서비스가 관리하는 사용자의 통화용 프로필
type User struct {
	ID                     string    `json:"id" db:"id"`
	Username               string    `json:"username" db:"username"`
	DisplayName            string    `json:"displayName" db:"display_name"`
	AvatarURL              *string   `json:"avatarUrl,omitempty" db:"avatar_url"`
	BlockedFromRandomCalls bool      `json:"blockedFromRandomCalls" db:"blocked_from_random_calls"`
	CreatedAt              time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt              time.Time `json:"updatedAt" db:"updated_at"`
}

// PublicName 표시 이름이 없으면 사용자명
func (u *User) PublicName() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

type RandomCallBlockRequest struct {
	Blocked bool `json:"blocked"`
}

const MaxDisplayNameLength = 50

// UpdateProfileRequest 매칭 상대에게 보여줄 프로필
type UpdateProfileRequest struct {
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl"`
}

// Validate 표시 이름 길이와 아바타 URL 형식 확인 (http(s) 또는 절대 경로)
func (r UpdateProfileRequest) Validate() error {
	if utf8.RuneCountInString(r.DisplayName) > MaxDisplayNameLength {
		return fmt.Errorf("displayName must be at most %d characters", MaxDisplayNameLength)
	}
	if r.AvatarURL == "" || strings.HasPrefix(r.AvatarURL, "/") {
		return nil
	}

	u, err := url.Parse(r.AvatarURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("avatarUrl must be an http(s) URL or an absolute path")
	}
	return nil
}
