package lookup

import (
	"strings"

	"lawcrawl/models"
)

var freemailDomains = map[string]bool{
	"gmail.com":      true,
	"yahoo.com":      true,
	"hotmail.com":    true,
	"outlook.com":    true,
	"aol.com":        true,
	"icloud.com":     true,
	"me.com":         true,
	"msn.com":        true,
	"live.com":       true,
	"comcast.net":    true,
	"protonmail.com": true,
}

// genericLocalParts are mailbox names that belong to an office, not a person.
var genericLocalParts = map[string]bool{
	"info": true, "contact": true, "office": true, "admin": true,
	"intake": true, "hello": true, "mail": true, "reception": true,
	"support": true, "law": true, "legal": true, "help": true,
}

// gradeRank orders provider grades, best first. Unknown grades rank last.
var gradeRank = map[string]int{
	"A": 0, "A-": 1, "B+": 2, "B": 3, "B-": 4, "C": 5, "D": 6, "F": 7,
}

// typeRank is the same priority the lawyer's aggregated list uses.
var typeRank = map[string]int{
	models.EmailProfessional: 0,
	models.EmailPersonal:     1,
	models.EmailPrevious:     2,
	models.EmailGeneral:      3,
}

// profileEmails grades every complete address on a profile. Teaser
// entries (domain only) and malformed addresses are dropped.
func profileEmails(p *Profile) []models.ContactEmail {
	seen := make(map[string]bool)
	var out []models.ContactEmail
	add := func(e models.ContactEmail) {
		addr, ok := normalizeEmail(e.Email)
		if !ok || seen[addr] {
			return
		}
		seen[addr] = true
		e.Email = addr
		out = append(out, e)
	}

	for _, e := range p.Emails {
		add(models.ContactEmail{
			Email: e.Email,
			Type:  emailType(e.Email, e.Type),
			Grade: e.Grade,
			Valid: strings.EqualFold(e.SMTPValid, "valid"),
		})
	}
	if p.RecommendedEmail != "" {
		add(models.ContactEmail{Email: p.RecommendedEmail, Type: emailType(p.RecommendedEmail, "")})
	}
	return out
}

func normalizeEmail(s string) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if !models.ValidEmail(s) {
		return "", false
	}
	return s, true
}

// emailType maps the provider's type onto ours. Untyped addresses are
// typed by their shape.
func emailType(addr, providerType string) string {
	switch strings.ToLower(providerType) {
	case "professional", "work", "current_work":
		return models.EmailProfessional
	case "personal":
		return models.EmailPersonal
	case "previous", "former":
		return models.EmailPrevious
	}
	local, domain, ok := strings.Cut(strings.ToLower(addr), "@")
	switch {
	case !ok:
		return models.EmailGeneral
	case freemailDomains[domain]:
		return models.EmailPersonal
	case genericLocalParts[local]:
		return models.EmailGeneral
	default:
		return models.EmailProfessional
	}
}

// BestEmail picks the address to offer as a lookup's result: type priority
// first, then a verified address over an unverified one, then grade.
// Ties keep provider order.
func BestEmail(emails []models.ContactEmail) (models.ContactEmail, bool) {
	if len(emails) == 0 {
		return models.ContactEmail{}, false
	}
	best := 0
	for i := 1; i < len(emails); i++ {
		if betterEmail(emails[i], emails[best]) {
			best = i
		}
	}
	return emails[best], true
}

func betterEmail(a, b models.ContactEmail) bool {
	if ra, rb := rank(typeRank, a.Type), rank(typeRank, b.Type); ra != rb {
		return ra < rb
	}
	if a.Valid != b.Valid {
		return a.Valid
	}
	return rank(gradeRank, a.Grade) < rank(gradeRank, b.Grade)
}

func rank(m map[string]int, k string) int {
	if r, ok := m[k]; ok {
		return r
	}
	return len(m)
}

// candidateFromProfile turns a profile into the stored per-person record.
func candidateFromProfile(p *Profile) models.EmployeeCandidate {
	return models.EmployeeCandidate{
		Name:        p.Name,
		Title:       p.CurrentTitle,
		Company:     p.CurrentEmployer,
		ProfileID:   p.ID.String(),
		LinkedInURL: p.LinkedInURL,
		Phone:       p.Phone(),
		Location:    p.Location,
		Emails:      profileEmails(p),
		Confidence:  p.ConfidenceScore,
	}
}
