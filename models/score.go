package models

import (
	"regexp"
	"strings"
)

const (
	coreWeight      = 70.0
	secondaryWeight = 30.0
	qualityCheck    = 25.0
)

var (
	usPhonePattern = regexp.MustCompile(`^(\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}$`)
	emailPattern   = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)
)

// CompletenessScore weights six core fields at 70% and six secondary fields at 30%.
func CompletenessScore(l *Lawyer) float64 {
	core := []string{l.CompanyName, l.AttorneyName, l.Phone, l.Address, l.Website, l.Email}
	secondary := []string{l.PracticeAreas, l.AttorneyDetails, l.LawSchool, l.BarAdmissions, l.LicensedSince, l.Education}

	score := coreWeight*float64(filled(core))/float64(len(core)) +
		secondaryWeight*float64(filled(secondary))/float64(len(secondary))
	return clamp(score)
}

// QualityScore awards 25 points each for a US phone, a valid email, an
// address over 10 characters and a company name over 3 characters.
func QualityScore(l *Lawyer) float64 {
	var score float64
	if ValidPhone(l.Phone) {
		score += qualityCheck
	}
	if ValidEmail(l.Email) {
		score += qualityCheck
	}
	if len(strings.TrimSpace(l.Address)) > 10 {
		score += qualityCheck
	}
	if len(strings.TrimSpace(l.CompanyName)) > 3 {
		score += qualityCheck
	}
	return clamp(score)
}

func ValidPhone(phone string) bool {
	return usPhonePattern.MatchString(strings.TrimSpace(phone))
}

func ValidEmail(email string) bool {
	return emailPattern.MatchString(strings.TrimSpace(email))
}

func filled(fields []string) int {
	n := 0
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			n++
		}
	}
	return n
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}
