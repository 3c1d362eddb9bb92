package models

import (
	"time"
)

type EntityType string

const (
	EntityIndividual   EntityType = "individual"
	EntityOrganization EntityType = "organization"
	EntityUnknown      EntityType = "unknown"
)

// MultipleAttorneys is the attorney_name placeholder for organization rows.
const MultipleAttorneys = "Multiple"

// Lawyer is one crawled lawyer or law-firm record.
type Lawyer struct {
	ID              int64  `json:"id" db:"id"`
	JobID           int64  `json:"job_id" db:"job_id"`
	DiscoveryUnitID int64  `json:"discovery_unit_id" db:"discovery_unit_id"`
	Fingerprint     string `json:"fingerprint" db:"fingerprint"`

	SourceURL    string `json:"source_url" db:"source_url"`
	Domain       string `json:"domain" db:"domain"`
	PracticeArea string `json:"practice_area" db:"practice_area"`
	State        string `json:"state" db:"state"`
	City         string `json:"city" db:"city"`

	CompanyName     string `json:"company_name" db:"company_name"`
	AttorneyName    string `json:"attorney_name" db:"attorney_name"`
	Phone           string `json:"phone" db:"phone"`
	Address         string `json:"address" db:"address"`
	Website         string `json:"website" db:"website"`
	Email           string `json:"email" db:"email"`
	PracticeAreas   string `json:"practice_areas" db:"practice_areas"`
	AttorneyDetails string `json:"attorney_details" db:"attorney_details"`
	LawSchool       string `json:"law_school" db:"law_school"`
	BarAdmissions   string `json:"bar_admissions" db:"bar_admissions"`
	LicensedSince   string `json:"licensed_since" db:"licensed_since"`
	Education       string `json:"education" db:"education"`

	EntityType       EntityType        `json:"entity_type" db:"entity_type"`
	CompanyEmails    []CompanyEmail    `json:"company_emails" db:"company_emails"`
	EmployeeContacts []EmployeeContact `json:"employee_contacts" db:"employee_contacts"`

	DetailURL       string `json:"detail_url" db:"detail_url"`
	IsDetailCrawled bool   `json:"is_detail_crawled" db:"is_detail_crawled"`
	IsSynthetic     bool   `json:"is_synthetic" db:"is_synthetic"`
	IsActive        bool   `json:"is_active" db:"is_active"`

	CompletenessScore float64 `json:"completeness_score" db:"completeness_score"`
	QualityScore      float64 `json:"quality_score" db:"quality_score"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Prepare recomputes every derived field. Stores call it before each write.
func (l *Lawyer) Prepare() {
	l.EntityType = Classify(l)
	switch l.EntityType {
	case EntityOrganization:
		if l.AttorneyName != "" && l.AttorneyName != MultipleAttorneys {
			l.AttorneyName = MultipleAttorneys
		}
	case EntityIndividual:
		if l.AttorneyName == "" {
			l.AttorneyName = l.CompanyName
		}
	}
	l.CompletenessScore = CompletenessScore(l)
	l.QualityScore = QualityScore(l)
}

// NeedsDetail reports Stage 2 eligibility.
func (l *Lawyer) NeedsDetail() bool {
	return l.DetailURL != "" && !l.IsDetailCrawled && !l.IsSynthetic
}

// Location is the "City, State" string used for lookups.
func (l *Lawyer) Location() string {
	switch {
	case l.City != "" && l.State != "":
		return l.City + ", " + l.State
	case l.City != "":
		return l.City
	default:
		return l.State
	}
}

// DetailUpdate holds the fields found on a detail page. Empty fields are
// left alone when applied.
type DetailUpdate struct {
	CompanyName     string
	AttorneyName    string
	Phone           string
	Address         string
	Website         string
	Email           string
	PracticeAreas   string
	AttorneyDetails string
	LawSchool       string
	BarAdmissions   string
	LicensedSince   string
	Education       string
}

// Empty reports whether the update carries no fields at all.
func (u DetailUpdate) Empty() bool {
	return u == DetailUpdate{}
}

// Apply merges the non-empty fields of u into l and returns how many changed.
func (u DetailUpdate) Apply(l *Lawyer) int {
	changed := 0
	set := func(dst *string, v string) {
		if v != "" && *dst != v {
			*dst = v
			changed++
		}
	}
	set(&l.CompanyName, u.CompanyName)
	set(&l.AttorneyName, u.AttorneyName)
	set(&l.Phone, u.Phone)
	set(&l.Address, u.Address)
	set(&l.Website, u.Website)
	set(&l.Email, u.Email)
	set(&l.PracticeAreas, u.PracticeAreas)
	set(&l.AttorneyDetails, u.AttorneyDetails)
	set(&l.LawSchool, u.LawSchool)
	set(&l.BarAdmissions, u.BarAdmissions)
	set(&l.LicensedSince, u.LicensedSince)
	set(&l.Education, u.Education)
	return changed
}
