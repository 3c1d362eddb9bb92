package models

import (
	"time"
)

// Email types. Primary is the entity's own email column.
const (
	EmailPrimary      = "primary"
	EmailProfessional = "professional"
	EmailPersonal     = "personal"
	EmailPrevious     = "previous"
	EmailGeneral      = "general"
)

// Email sources.
const (
	SourceCrawl     = "crawl"
	SourceDetail    = "detail"
	SourceRocketAPI = "rocketreach"
	SourceRocketWeb = "rocketreach_web"
	SourceSynthetic = "synthetic"
)

// bestEmailPriority is the scan order for BestContactEmail.
var bestEmailPriority = []string{EmailPrimary, EmailProfessional, EmailPersonal, EmailPrevious}

type CompanyEmail struct {
	Email        string    `json:"email"`
	Type         string    `json:"type"`
	ContactName  string    `json:"contact_name,omitempty"`
	ContactTitle string    `json:"contact_title,omitempty"`
	Source       string    `json:"source"`
	Confidence   float64   `json:"confidence"`
	Verified     bool      `json:"verified"`
	CreatedAt    time.Time `json:"created_at"`
}

// ContactEmail is one address attached to an employee contact or lookup candidate.
type ContactEmail struct {
	Email string `json:"email"`
	Type  string `json:"type"`
	Grade string `json:"grade,omitempty"`
	Valid bool   `json:"valid"`
}

type EmployeeContact struct {
	Name       string         `json:"name"`
	Title      string         `json:"title,omitempty"`
	Company    string         `json:"company,omitempty"`
	Emails     []ContactEmail `json:"emails"`
	Phone      string         `json:"phone,omitempty"`
	LinkedIn   string         `json:"linkedin,omitempty"`
	Source     string         `json:"source"`
	Confidence float64        `json:"confidence"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// EmailEntry is one row of the aggregated email list.
type EmailEntry struct {
	Email        string  `json:"email"`
	Type         string  `json:"type"`
	Source       string  `json:"source"`
	Verified     bool    `json:"verified"`
	ContactName  string  `json:"contact_name,omitempty"`
	ContactTitle string  `json:"contact_title,omitempty"`
	Confidence   float64 `json:"confidence"`
}

// AllEmails returns the primary email followed by the company emails,
// each address at most once. Comparison is exact.
func (l *Lawyer) AllEmails() []EmailEntry {
	seen := make(map[string]bool)
	var out []EmailEntry

	if l.Email != "" {
		seen[l.Email] = true
		out = append(out, EmailEntry{
			Email:       l.Email,
			Type:        EmailPrimary,
			Source:      l.primarySource(),
			ContactName: l.AttorneyName,
			Confidence:  1,
		})
	}

	for _, ce := range l.CompanyEmails {
		if ce.Email == "" || seen[ce.Email] {
			continue
		}
		seen[ce.Email] = true
		out = append(out, EmailEntry{
			Email:        ce.Email,
			Type:         ce.Type,
			Source:       ce.Source,
			Verified:     ce.Verified,
			ContactName:  ce.ContactName,
			ContactTitle: ce.ContactTitle,
			Confidence:   ce.Confidence,
		})
	}
	return out
}

func (l *Lawyer) primarySource() string {
	if l.IsSynthetic {
		return SourceSynthetic
	}
	return SourceCrawl
}

// AddCompanyEmail appends e unless its address is already in the container.
// CreatedAt is stamped when unset.
func (l *Lawyer) AddCompanyEmail(e CompanyEmail) bool {
	if e.Email == "" {
		return false
	}
	for _, existing := range l.CompanyEmails {
		if existing.Email == e.Email {
			return false
		}
	}
	if e.Type == "" {
		e.Type = EmailGeneral
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	l.CompanyEmails = append(l.CompanyEmails, e)
	return true
}

// BestContactEmail scans the aggregated list in priority order
// primary, professional, personal, previous. When no entry has one of
// those types the first entry wins. Nil when there are no emails.
func (l *Lawyer) BestContactEmail() *EmailEntry {
	all := l.AllEmails()
	if len(all) == 0 {
		return nil
	}
	for _, t := range bestEmailPriority {
		for i := range all {
			if all[i].Type == t {
				return &all[i]
			}
		}
	}
	return &all[0]
}

// UpsertEmployeeContact merges c into the employee contacts by (name, title).
// Returns true when a new contact was appended.
func (l *Lawyer) UpsertEmployeeContact(c EmployeeContact) bool {
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}
	for i := range l.EmployeeContacts {
		existing := &l.EmployeeContacts[i]
		if existing.Name != c.Name || existing.Title != c.Title {
			continue
		}
		existing.Emails = mergeContactEmails(existing.Emails, c.Emails)
		if c.Phone != "" {
			existing.Phone = c.Phone
		}
		if c.LinkedIn != "" {
			existing.LinkedIn = c.LinkedIn
		}
		if c.Company != "" {
			existing.Company = c.Company
		}
		if c.Confidence > existing.Confidence {
			existing.Confidence = c.Confidence
		}
		existing.Source = c.Source
		existing.UpdatedAt = c.UpdatedAt
		return false
	}
	l.EmployeeContacts = append(l.EmployeeContacts, c)
	return true
}

func mergeContactEmails(existing, incoming []ContactEmail) []ContactEmail {
	idx := make(map[string]int, len(existing))
	for i, e := range existing {
		idx[e.Email] = i
	}
	for _, e := range incoming {
		if i, ok := idx[e.Email]; ok {
			existing[i] = e
			continue
		}
		idx[e.Email] = len(existing)
		existing = append(existing, e)
	}
	return existing
}

// ContactSummary is the export-facing rollup of an entity's contacts.
type ContactSummary struct {
	EntityType     EntityType     `json:"entity_type"`
	TotalEmails    int            `json:"total_emails"`
	EmailsByType   map[string]int `json:"emails_by_type"`
	BestEmail      string         `json:"best_email,omitempty"`
	EmployeeCount  int            `json:"employee_count"`
	EmployeeEmails int            `json:"employee_emails"`
	HasPhone       bool           `json:"has_phone"`
	HasWebsite     bool           `json:"has_website"`
}

func (l *Lawyer) ContactSummary() ContactSummary {
	all := l.AllEmails()
	s := ContactSummary{
		EntityType:    l.EntityType,
		TotalEmails:   len(all),
		EmailsByType:  make(map[string]int),
		EmployeeCount: len(l.EmployeeContacts),
		HasPhone:      l.Phone != "",
		HasWebsite:    l.Website != "",
	}
	for _, e := range all {
		s.EmailsByType[e.Type]++
	}
	if best := l.BestContactEmail(); best != nil {
		s.BestEmail = best.Email
	}
	for _, c := range l.EmployeeContacts {
		s.EmployeeEmails += len(c.Emails)
	}
	return s
}
