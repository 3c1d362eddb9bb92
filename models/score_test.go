package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompletenessScore(t *testing.T) {
	empty := &Lawyer{}
	assert.Equal(t, 0.0, CompletenessScore(empty))

	coreOnly := &Lawyer{
		CompanyName:  "Baker Law Group",
		AttorneyName: "Multiple",
		Phone:        "(555) 123-4567",
		Address:      "100 Main St, Austin, TX",
		Website:      "https://baker.example",
		Email:        "info@baker.example",
	}
	assert.InDelta(t, 70.0, CompletenessScore(coreOnly), 0.001)

	full := *coreOnly
	full.PracticeAreas = "Personal Injury"
	full.AttorneyDetails = "Trial lawyers"
	full.LawSchool = "UT Law"
	full.BarAdmissions = "Texas"
	full.LicensedSince = "1999"
	full.Education = "JD"
	assert.InDelta(t, 100.0, CompletenessScore(&full), 0.001)

	half := &Lawyer{CompanyName: "A", Phone: "1", Address: "x", PracticeAreas: "p", LawSchool: "s", Education: "e"}
	assert.InDelta(t, 35.0+15.0, CompletenessScore(half), 0.001)
}

func TestQualityScore(t *testing.T) {
	l := &Lawyer{
		CompanyName: "Baker Law Group",
		Phone:       "(555) 123-4567",
		Address:     "100 Main St, Austin",
		Email:       "info@baker.example",
	}
	assert.Equal(t, 100.0, QualityScore(l))

	l.Phone = "call us"
	l.Email = "not-an-email"
	assert.Equal(t, 50.0, QualityScore(l))

	l.Address = "short"
	l.CompanyName = "Abc"
	assert.Equal(t, 0.0, QualityScore(l))
}

func TestScoresStayInBounds(t *testing.T) {
	values := []string{"", " ", "x", "(555) 123-4567", "a@b.co", "100 Main Street Suite 400"}
	for _, a := range values {
		for _, b := range values {
			l := &Lawyer{
				CompanyName: a, AttorneyName: b, Phone: a, Address: b, Website: a, Email: b,
				PracticeAreas: b, AttorneyDetails: a, LawSchool: b, BarAdmissions: a,
				LicensedSince: b, Education: a,
			}
			l.Prepare()
			assert.GreaterOrEqual(t, l.CompletenessScore, 0.0)
			assert.LessOrEqual(t, l.CompletenessScore, 100.0)
			assert.GreaterOrEqual(t, l.QualityScore, 0.0)
			assert.LessOrEqual(t, l.QualityScore, 100.0)
		}
	}
}

func TestValidPhone(t *testing.T) {
	assert.True(t, ValidPhone("555-123-4567"))
	assert.True(t, ValidPhone("+1 555.123.4567"))
	assert.True(t, ValidPhone("(555)123-4567"))
	assert.False(t, ValidPhone("123-4567"))
	assert.False(t, ValidPhone(""))
}
