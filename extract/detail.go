package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"lawcrawl/models"
)

const (
	maxAttorneys       = 5
	maxOfficeLocations = 3
)

// ExtractDetail reads a profile page into a sparse update. Fields the page
// does not carry stay empty so Apply leaves them alone.
func (e *Extractor) ExtractDetail(doc *goquery.Document, site, pageURL string) models.DetailUpdate {
	m := e.registry.SelectorsFor(site, PageDetail)

	root := doc.Selection
	if sels := m.Get(FieldContainer); len(sels) > 0 {
		if c := doc.Find(strings.Join(sels, ", ")).First(); c.Length() > 0 {
			root = c
		}
	}
	text := cleanText(root.Text())
	ctx := PageContext{SourceURL: pageURL, Site: site}

	u := models.DetailUpdate{
		CompanyName:   firstText(root, m.Get(FieldCompanyName)),
		AttorneyName:  firstText(root, m.Get(FieldAttorneyName)),
		Phone:         extractPhone(root, m.Get(FieldPhone), text),
		Website:       extractWebsite(root, m.Get(FieldWebsite), ctx),
		Email:         extractEmail(root, m.Get(FieldEmail), text),
		PracticeAreas: firstText(root, m.Get(FieldPracticeAreas)),
		LawSchool:     firstText(root, m.Get(FieldLawSchool)),
		BarAdmissions: firstText(root, m.Get(FieldBarAdmissions)),
		LicensedSince: firstText(root, m.Get(FieldLicensedSince)),
		Education:     firstText(root, m.Get(FieldEducation)),
	}

	u.Address = firstText(root, m.Get(FieldAddress))
	if offices := allText(root, m.Get(FieldOfficeLocations), maxOfficeLocations); len(offices) > 0 {
		if u.Address == "" {
			u.Address = strings.Join(offices, " | ")
		} else if len(offices) > 1 {
			u.Address += " | Additional offices: " + strings.Join(offices[1:], " | ")
		}
	}
	if u.Address == "" {
		u.Address = strings.TrimSpace(addressRegex.FindString(text))
	}

	var details []string
	if desc := firstText(root, m.Get(FieldDescription)); desc != "" {
		details = append(details, desc)
	}
	if attorneys := allText(root, m.Get(FieldAttorneys), maxAttorneys); len(attorneys) > 0 {
		details = append(details, "Attorneys: "+strings.Join(attorneys, " | "))
	}
	u.AttorneyDetails = strings.Join(details, " | ")

	return u
}
