package models

import (
	"encoding/json"
	"time"
)

type LookupStatus string

const (
	LookupPending    LookupStatus = "pending"
	LookupProcessing LookupStatus = "processing"
	LookupCompleted  LookupStatus = "completed"
	LookupFound      LookupStatus = "found"
	LookupNotFound   LookupStatus = "not_found"
	LookupFailed     LookupStatus = "failed"
)

func (s LookupStatus) Terminal() bool {
	switch s {
	case LookupCompleted, LookupFound, LookupNotFound, LookupFailed:
		return true
	}
	return false
}

// Lookup methods.
const (
	MethodAPI     = "api"
	MethodBrowser = "browser"
)

// Lookup is one enrichment attempt for one lawyer.
type Lookup struct {
	ID       int64        `json:"id" db:"id"`
	LawyerID int64        `json:"lawyer_id" db:"lawyer_id"`
	Status   LookupStatus `json:"status" db:"status"`
	Method   string       `json:"method" db:"method"`

	LookupName     string `json:"lookup_name" db:"lookup_name"`
	LookupCompany  string `json:"lookup_company" db:"lookup_company"`
	LookupDomain   string `json:"lookup_domain" db:"lookup_domain"`
	LookupLocation string `json:"lookup_location" db:"lookup_location"`

	ProfileID       string  `json:"profile_id" db:"profile_id"`
	Email           string  `json:"email" db:"email"`
	EmailType       string  `json:"email_type" db:"email_type"`
	Phone           string  `json:"phone" db:"phone"`
	LinkedInURL     string  `json:"linkedin_url" db:"linkedin_url"`
	TwitterURL      string  `json:"twitter_url" db:"twitter_url"`
	FacebookURL     string  `json:"facebook_url" db:"facebook_url"`
	CurrentTitle    string  `json:"current_title" db:"current_title"`
	CurrentEmployer string  `json:"current_employer" db:"current_employer"`
	Location        string  `json:"location" db:"location"`
	ConfidenceScore float64 `json:"confidence_score" db:"confidence_score"`

	EmployeeEmails []EmployeeCandidate `json:"employee_emails" db:"employee_emails"`
	RawResponse    json.RawMessage     `json:"raw_response" db:"raw_response"`
	CreditsUsed    int                 `json:"credits_used" db:"credits_used"`
	ErrorMessage   string              `json:"error_message" db:"error_message"`

	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	LookedUpAt *time.Time `json:"looked_up_at" db:"looked_up_at"`
	SyncedAt   *time.Time `json:"synced_at" db:"synced_at"`
}

// Successful reports whether the lookup satisfies later lookups for the same lawyer.
func (l *Lookup) Successful() bool {
	return (l.Status == LookupCompleted || l.Status == LookupFound) && l.Email != ""
}

// EmployeeCandidate is one person returned by the provider, with the
// addresses found for them.
type EmployeeCandidate struct {
	Name        string         `json:"name"`
	Title       string         `json:"title,omitempty"`
	Company     string         `json:"company,omitempty"`
	ProfileID   string         `json:"profile_id,omitempty"`
	LinkedInURL string         `json:"linkedin_url,omitempty"`
	Phone       string         `json:"phone,omitempty"`
	Location    string         `json:"location,omitempty"`
	Emails      []ContactEmail `json:"emails"`
	Confidence  float64        `json:"confidence"`
}
