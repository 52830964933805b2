package service

import (
	"strings"

	"github.com/rl-arena/randomcall-backend/internal/models"
)

const (
	baseMatchScore     = 0.5
	genderMatchBonus   = 0.2
	ageRangeMatchBonus = 0.2
	languageMatchBonus = 0.1
	maxMatchScore      = 1.0
)

// Compatible 두 엔트리의 매칭 가능 여부 (대칭)
// blocked: 랜덤 통화가 차단된 사용자 집합
func Compatible(a, b *models.QueueEntry, blocked map[string]bool) bool {
	if a.Status != models.QueueStatusWaiting || b.Status != models.QueueStatusWaiting {
		return false
	}
	if a.UserID == b.UserID {
		return false
	}
	if blocked[a.UserID] || blocked[b.UserID] {
		return false
	}

	return preferenceCompatible(a.Preferences.Gender, b.Preferences.Gender) &&
		preferenceCompatible(a.Preferences.AgeRange, b.Preferences.AgeRange) &&
		preferenceCompatible(a.Preferences.Language, b.Preferences.Language)
}

func preferenceCompatible(x, y string) bool {
	return x == models.PreferenceAny || y == models.PreferenceAny || x == y
}

// exactMatch "any" 가 아닌 같은 값
func exactMatch(x, y string) bool {
	return x != models.PreferenceAny && x == y
}

// MatchScore 0.5 기본 + 정확히 일치한 항목 가산점 (최대 1.0)
func MatchScore(a, b models.Preferences) float64 {
	score := baseMatchScore
	if exactMatch(a.Gender, b.Gender) {
		score += genderMatchBonus
	}
	if exactMatch(a.AgeRange, b.AgeRange) {
		score += ageRangeMatchBonus
	}
	if exactMatch(a.Language, b.Language) {
		score += languageMatchBonus
	}

	if score > maxMatchScore {
		score = maxMatchScore
	}
	return score
}

// MatchReason 정확히 일치한 항목 설명
func MatchReason(a, b models.Preferences) string {
	var reasons []string
	if exactMatch(a.Gender, b.Gender) {
		reasons = append(reasons, "gender")
	}
	if exactMatch(a.AgeRange, b.AgeRange) {
		reasons = append(reasons, "age range")
	}
	if exactMatch(a.Language, b.Language) {
		reasons = append(reasons, "language")
	}

	if len(reasons) == 0 {
		return "Random match"
	}
	return "Matched on " + strings.Join(reasons, ", ")
}
