package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"lawcrawl/models"
)

var (
	streetReplacements = map[string]string{
		"street":    "st",
		"avenue":    "ave",
		"drive":     "dr",
		"road":      "rd",
		"boulevard": "blvd",
		"lane":      "ln",
		"court":     "ct",
		"place":     "pl",
		"highway":   "hwy",
		"parkway":   "pkwy",
		"suite":     "ste",
		"floor":     "fl",
		"building":  "bldg",
	}
	firmSuffixes = []string{"llp", "llc", "pllc", "pc", "pa", "esq"}

	multiSpaceRegex = regexp.MustCompile(`\s+`)
	nonAlnumRegex   = regexp.MustCompile(`[^a-z0-9\s]`)
	nonDigitRegex   = regexp.MustCompile(`\D`)
)

// Fingerprint identifies a listing on one page. Sponsored cards repeat an
// organic card on the same page and collapse to the same value.
func Fingerprint(l *models.Lawyer) string {
	input := fmt.Sprintf("%s|%s|%s|%s",
		strings.ToLower(strings.TrimSpace(l.SourceURL)),
		NormalizeName(l.CompanyName),
		NormalizePhone(l.Phone),
		NormalizeAddress(l.Address),
	)
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:16])
}

func NormalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, "&", " and ")
	name = strings.ReplaceAll(name, ".", "")
	name = nonAlnumRegex.ReplaceAllString(name, " ")
	words := strings.Fields(name)
	for len(words) > 1 && isFirmSuffix(words[len(words)-1]) {
		words = words[:len(words)-1]
	}
	return strings.Join(words, " ")
}

func isFirmSuffix(w string) bool {
	for _, s := range firmSuffixes {
		if w == s {
			return true
		}
	}
	return false
}

// NormalizePhone keeps the last ten digits.
func NormalizePhone(phone string) string {
	digits := nonDigitRegex.ReplaceAllString(phone, "")
	if len(digits) > 10 {
		digits = digits[len(digits)-10:]
	}
	return digits
}

func NormalizeAddress(addr string) string {
	addr = strings.ToLower(strings.TrimSpace(addr))
	addr = nonAlnumRegex.ReplaceAllString(addr, " ")
	words := strings.Fields(addr)
	for i, w := range words {
		if abbrev, ok := streetReplacements[w]; ok {
			words[i] = abbrev
		}
	}
	addr = strings.Join(words, " ")
	addr = multiSpaceRegex.ReplaceAllString(addr, " ")
	return strings.TrimSpace(addr)
}
