package lookup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lawcrawl/models"
)

func completedLookup() *models.Lookup {
	return &models.Lookup{
		ID:              3,
		Status:          models.LookupCompleted,
		Method:          models.MethodAPI,
		Email:           "ann@bakercole.com",
		EmailType:       models.EmailProfessional,
		CurrentTitle:    "Partner",
		ConfidenceScore: 0.9,
		EmployeeEmails: []models.EmployeeCandidate{
			{Name: "Ann Baker", Title: "Partner", Emails: []models.ContactEmail{
				{Email: "ann@bakercole.com", Type: models.EmailProfessional, Valid: true},
			}},
			{Name: "Tom Cole", Title: "Associate", Emails: []models.ContactEmail{
				{Email: "tom@bakercole.com", Type: models.EmailProfessional},
			}},
		},
	}
}

func TestSyncToLawyer_OrganizationKeepsPrimary(t *testing.T) {
	l := &models.Lawyer{EntityType: models.EntityOrganization, Email: "info@bakercole.com"}

	assert.True(t, SyncToLawyer(l, completedLookup()))
	assert.Equal(t, "info@bakercole.com", l.Email)
	assert.Empty(t, l.CompanyEmails)
	require.Len(t, l.EmployeeContacts, 2)
	assert.Equal(t, models.SourceRocketAPI, l.EmployeeContacts[0].Source)

	again := completedLookup()
	again.EmployeeEmails[0].Emails = append(again.EmployeeEmails[0].Emails,
		models.ContactEmail{Email: "ann.baker@gmail.com", Type: models.EmailPersonal})
	SyncToLawyer(l, again)
	require.Len(t, l.EmployeeContacts, 2)
	assert.Len(t, l.EmployeeContacts[0].Emails, 2)
}

func TestSyncToLawyer_IndividualFillsEmptyPrimary(t *testing.T) {
	l := &models.Lawyer{EntityType: models.EntityIndividual, AttorneyName: "Ann Baker"}

	assert.True(t, SyncToLawyer(l, completedLookup()))
	assert.Equal(t, "ann@bakercole.com", l.Email)
	assert.Empty(t, l.EmployeeContacts)

	all := l.AllEmails()
	require.Len(t, all, 2)
	assert.Equal(t, "tom@bakercole.com", all[1].Email)
	assert.True(t, l.CompanyEmails[0].Verified)

	assert.False(t, SyncToLawyer(l, completedLookup()), "second sync adds nothing")
}

func TestSyncToLawyer_IndividualKeepsExistingPrimary(t *testing.T) {
	l := &models.Lawyer{EntityType: models.EntityIndividual, Email: "ann@personal.net"}
	SyncToLawyer(l, completedLookup())
	assert.Equal(t, "ann@personal.net", l.Email)
}

func TestSyncToLawyer_IgnoresUnsuccessful(t *testing.T) {
	l := &models.Lawyer{EntityType: models.EntityIndividual}
	lk := completedLookup()
	lk.Status = models.LookupNotFound
	assert.False(t, SyncToLawyer(l, lk))
	assert.Empty(t, l.Email)
	assert.False(t, SyncToLawyer(l, nil))
}
