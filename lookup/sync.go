package lookup

import (
	"time"

	"lawcrawl/models"
)

// SyncToLawyer copies a successful lookup's findings into the lawyer and
// reports whether anything changed.
//
// Individuals get the best address as their primary email when they have
// none, and every address lands in the company emails. Organizations keep
// their primary email; the people found are merged into the employee
// contacts by (name, title).
func SyncToLawyer(l *models.Lawyer, lk *models.Lookup) bool {
	if lk == nil || !lk.Successful() {
		return false
	}
	source := models.SourceRocketAPI
	if lk.Method == models.MethodBrowser {
		source = models.SourceRocketWeb
	}
	now := time.Now().UTC()

	if l.EntityType == models.EntityOrganization {
		return syncEmployees(l, lk, source, now)
	}

	changed := false
	if l.Email == "" {
		l.Email = lk.Email
		changed = true
	}
	if l.AddCompanyEmail(models.CompanyEmail{
		Email:        lk.Email,
		Type:         emailTypeOrGeneral(lk.EmailType),
		ContactName:  l.AttorneyName,
		ContactTitle: lk.CurrentTitle,
		Source:       source,
		Confidence:   lk.ConfidenceScore,
		Verified:     bestIsValid(lk),
		CreatedAt:    now,
	}) {
		changed = true
	}
	for _, c := range lk.EmployeeEmails {
		for _, e := range c.Emails {
			if l.AddCompanyEmail(models.CompanyEmail{
				Email:        e.Email,
				Type:         emailTypeOrGeneral(e.Type),
				ContactName:  c.Name,
				ContactTitle: c.Title,
				Source:       source,
				Confidence:   c.Confidence,
				Verified:     e.Valid,
				CreatedAt:    now,
			}) {
				changed = true
			}
		}
	}
	return changed
}

func syncEmployees(l *models.Lawyer, lk *models.Lookup, source string, now time.Time) bool {
	candidates := lk.EmployeeEmails
	if len(candidates) == 0 {
		// Browser lookups carry only addresses, no people.
		candidates = []models.EmployeeCandidate{{
			Name:       lk.LookupName,
			Title:      lk.CurrentTitle,
			Company:    lk.CurrentEmployer,
			Emails:     []models.ContactEmail{{Email: lk.Email, Type: emailTypeOrGeneral(lk.EmailType)}},
			Confidence: lk.ConfidenceScore,
		}}
	}

	changed := false
	for _, c := range candidates {
		if len(c.Emails) == 0 {
			continue
		}
		l.UpsertEmployeeContact(models.EmployeeContact{
			Name:       c.Name,
			Title:      c.Title,
			Company:    c.Company,
			Emails:     append([]models.ContactEmail(nil), c.Emails...),
			Phone:      c.Phone,
			LinkedIn:   c.LinkedInURL,
			Source:     source,
			Confidence: c.Confidence,
			UpdatedAt:  now,
		})
		changed = true
	}
	return changed
}

func emailTypeOrGeneral(t string) string {
	if t == "" {
		return models.EmailGeneral
	}
	return t
}

func bestIsValid(lk *models.Lookup) bool {
	for _, c := range lk.EmployeeEmails {
		for _, e := range c.Emails {
			if e.Email == lk.Email {
				return e.Valid
			}
		}
	}
	return false
}
