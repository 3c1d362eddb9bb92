package scraper

import (
	"net/url"
	"sort"
	"strings"

	"lawcrawl/config"
	"lawcrawl/models"
)

// DefaultURLPattern is used for directories without a configured pattern.
const DefaultURLPattern = "{base_url}/{practice_area}/{state}/{city}/"

// SiteLayout says where a directory's listing URLs carry their location.
type SiteLayout struct {
	BaseURL    string
	URLPattern string
}

var builtinLayouts = map[string]SiteLayout{
	"lawinfo":      {BaseURL: "https://www.lawinfo.com", URLPattern: DefaultURLPattern},
	"superlawyers": {BaseURL: "https://attorneys.superlawyers.com", URLPattern: DefaultURLPattern},
	"avvo":         {BaseURL: "https://www.avvo.com", URLPattern: "{base_url}/attorneys/{state}/{city}/{practice_area}"},
}

// Sites resolves listing URL layouts by site key.
type Sites struct {
	layouts map[string]SiteLayout
}

var defaultSites = NewSites(nil)

// NewSites merges YAML site configs over the built-in layouts. A config
// that leaves base_url or url_pattern empty keeps the built-in value.
func NewSites(sites map[string]*config.SiteConfig) *Sites {
	layouts := make(map[string]SiteLayout, len(builtinLayouts)+len(sites))
	for id, l := range builtinLayouts {
		layouts[id] = l
	}
	for id, site := range sites {
		l := layouts[id]
		if site.BaseURL != "" {
			l.BaseURL = site.BaseURL
		}
		if site.URLPattern != "" {
			l.URLPattern = site.URLPattern
		}
		layouts[id] = l
	}
	return &Sites{layouts: layouts}
}

// Layout never fails; unknown sites get DefaultURLPattern.
func (s *Sites) Layout(site string) SiteLayout {
	l := s.layouts[site]
	if l.URLPattern == "" {
		l.URLPattern = DefaultURLPattern
	}
	return l
}

// SiteFromHost maps a directory hostname to its registry key:
// "www.lawinfo.com" -> "lawinfo".
func SiteFromHost(host string) string {
	host = strings.ToLower(host)
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	host = strings.TrimPrefix(host, "www.")
	parts := strings.Split(host, ".")
	if len(parts) >= 2 {
		return parts[len(parts)-2]
	}
	return host
}

// UnitFromURL builds a discovery unit for a start URL using the built-in
// layouts.
func UnitFromURL(jobID int64, site, rawURL string) *models.DiscoveryUnit {
	return defaultSites.UnitFromURL(jobID, site, rawURL)
}

// UnitsForJob expands a job using the built-in layouts.
func UnitsForJob(job *models.Job) []*models.DiscoveryUnit {
	return defaultSites.UnitsForJob(job)
}

// UnitFromURL builds a discovery unit for a start URL, reading practice
// area, state and city off the path positions the site's pattern names.
// Matching stops at the first literal segment that differs, so a shorter
// URL fills only the leading placeholders.
func (s *Sites) UnitFromURL(jobID int64, site, rawURL string) *models.DiscoveryUnit {
	u := &models.DiscoveryUnit{JobID: jobID, URL: rawURL, Site: site, Status: models.UnitPending}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return u
	}
	if u.Site == "" {
		u.Site = SiteFromHost(parsed.Host)
	}

	layout := s.Layout(u.Site)
	pattern := pathSegments(strings.TrimPrefix(layout.URLPattern, "{base_url}"))
	segs := pathSegments(parsed.Path)
	if base, err := url.Parse(layout.BaseURL); err == nil && strings.EqualFold(base.Host, parsed.Host) {
		segs = trimPrefixSegments(segs, pathSegments(base.Path))
	}

	for i, p := range pattern {
		if i >= len(segs) {
			break
		}
		seg := segs[i]
		if i == len(segs)-1 {
			seg = strings.TrimSuffix(seg, ".html")
		}
		switch p {
		case "{practice_area}":
			u.PracticeArea = seg
		case "{state}":
			u.State = seg
		case "{city}":
			u.City = seg
		default:
			if !strings.EqualFold(p, seg) {
				return u
			}
		}
	}
	return u
}

// StartURL fills the site's pattern for one practice area and city.
func (s *Sites) StartURL(site, practiceArea, state, city string) string {
	layout := s.Layout(site)
	return strings.NewReplacer(
		"{base_url}", strings.TrimSuffix(layout.BaseURL, "/"),
		"{practice_area}", practiceArea,
		"{state}", state,
		"{city}", city,
	).Replace(layout.URLPattern)
}

// UnitsForJob expands a job's start URLs followed by its practice area and
// state/city matrix, skipping duplicates. States are visited in sorted
// order, cities in listed order, and practice areas innermost.
func (s *Sites) UnitsForJob(job *models.Job) []*models.DiscoveryUnit {
	seen := make(map[string]bool)
	var units []*models.DiscoveryUnit
	for _, raw := range job.Spec.StartURLs {
		raw = strings.TrimSpace(raw)
		if raw == "" || seen[raw] {
			continue
		}
		seen[raw] = true
		units = append(units, s.UnitFromURL(job.ID, job.Spec.Site, raw))
	}

	if !job.Spec.HasMatrix() || job.Spec.Site == "" {
		return units
	}
	states := make([]string, 0, len(job.Spec.States))
	for state := range job.Spec.States {
		states = append(states, state)
	}
	sort.Strings(states)

	for _, state := range states {
		for _, city := range job.Spec.States[state] {
			for _, practice := range job.Spec.PracticeAreas {
				raw := s.StartURL(job.Spec.Site, practice, state, city)
				if seen[raw] {
					continue
				}
				seen[raw] = true
				units = append(units, &models.DiscoveryUnit{
					JobID:        job.ID,
					URL:          raw,
					Site:         job.Spec.Site,
					PracticeArea: practice,
					State:        state,
					City:         city,
					Status:       models.UnitPending,
				})
			}
		}
	}
	return units
}

func pathSegments(p string) []string {
	var segs []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

func trimPrefixSegments(segs, prefix []string) []string {
	if len(prefix) > len(segs) {
		return segs
	}
	for i, p := range prefix {
		if !strings.EqualFold(p, segs[i]) {
			return segs
		}
	}
	return segs[len(prefix):]
}
