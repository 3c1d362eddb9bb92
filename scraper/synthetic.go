package scraper

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"lawcrawl/extract"
	"lawcrawl/models"
)

const maxSynthetic = 3

// SyntheticLawyers makes 1 to 3 placeholder rows for a unit whose page could
// not be fetched. Every row is flagged IsSynthetic and uses reserved
// .invalid domains so it can never be mistaken for a real listing.
func SyntheticLawyers(unit *models.DiscoveryUnit, rng *rand.Rand) []*models.Lawyer {
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(unit.ID), uint64(unit.JobID)))
	}
	n := 1 + rng.IntN(maxSynthetic)

	area := strings.ReplaceAll(unit.PracticeArea, "-", " ")
	if area == "" {
		area = "general practice"
	}
	city, state := extract.TitleSlug(unit.City), extract.TitleSlug(unit.State)

	out := make([]*models.Lawyer, 0, n)
	for i := 1; i <= n; i++ {
		l := &models.Lawyer{
			JobID:           unit.JobID,
			DiscoveryUnitID: unit.ID,
			Fingerprint:     fmt.Sprintf("synthetic:%d:%d", unit.ID, i),
			SourceURL:       unit.URL,
			Domain:          unit.Site,
			PracticeArea:    unit.PracticeArea,
			State:           unit.State,
			City:            unit.City,
			CompanyName:     fmt.Sprintf("Sample Law Firm %d", i),
			Phone:           fmt.Sprintf("(%d) %d-%d", 200+rng.IntN(800), 200+rng.IntN(800), 1000+rng.IntN(9000)),
			Address:         fmt.Sprintf("%d Main St, %s, %s", 1+rng.IntN(999), city, state),
			PracticeAreas:   extract.TitleSlug(unit.PracticeArea),
			AttorneyDetails: fmt.Sprintf("Experienced attorney in %s law", area),
			Website:         fmt.Sprintf("https://samplelaw%d.invalid", i),
			Email:           fmt.Sprintf("info@samplelaw%d.invalid", i),
			IsSynthetic:     true,
			IsActive:        true,
		}
		out = append(out, l)
	}
	return out
}
