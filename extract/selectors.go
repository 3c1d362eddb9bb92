package extract

import (
	"sort"
	"strings"

	"lawcrawl/config"
)

type PageKind string

const (
	PageListing PageKind = "listing"
	PageDetail  PageKind = "detail"
)

// Logical field names used as SelectorMap keys.
const (
	FieldContainer       = "container"
	FieldCompanyName     = "company_name"
	FieldAttorneyName    = "attorney_name"
	FieldPhone           = "phone"
	FieldAddress         = "address"
	FieldLocality        = "locality"
	FieldRegion          = "region"
	FieldPracticeAreas   = "practice_areas"
	FieldWebsite         = "website"
	FieldEmail           = "email"
	FieldDescription     = "description"
	FieldExperience      = "experience"
	FieldServices        = "services"
	FieldDetailURL       = "detail_url"
	FieldAttorneys       = "attorneys"
	FieldOfficeLocations = "office_locations"
	FieldLawSchool       = "law_school"
	FieldBarAdmissions   = "bar_admissions"
	FieldLicensedSince   = "licensed_since"
	FieldEducation       = "education"
)

// DefaultSite is used for sites the registry has never heard of.
const DefaultSite = "lawinfo"

// SelectorMap maps a logical field to selectors tried in order.
type SelectorMap map[string][]string

func (m SelectorMap) Get(field string) []string {
	return m[field]
}

func (m SelectorMap) clone() SelectorMap {
	out := make(SelectorMap, len(m))
	for k, v := range m {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// SiteSelectors holds one SelectorMap per page kind.
type SiteSelectors map[PageKind]SelectorMap

// Registry resolves (site, page kind) to a SelectorMap. It is built once
// and only read afterwards.
type Registry struct {
	sites map[string]SiteSelectors
}

// NewRegistry starts from the built-in maps and lays overrides on top,
// field by field.
func NewRegistry(overrides map[string]SiteSelectors) *Registry {
	r := &Registry{sites: make(map[string]SiteSelectors)}
	for site, kinds := range builtinSelectors() {
		r.sites[site] = kinds
	}
	for site, kinds := range overrides {
		existing, ok := r.sites[site]
		if !ok {
			existing = make(SiteSelectors)
			r.sites[site] = existing
		}
		for kind, m := range kinds {
			merged := existing[kind]
			if merged == nil {
				merged = make(SelectorMap)
			} else {
				merged = merged.clone()
			}
			for field, sels := range m {
				merged[field] = append([]string(nil), sels...)
			}
			existing[kind] = merged
		}
	}
	return r
}

// RegistryFromConfig converts YAML site configs into registry overrides.
// A YAML entry may hold a comma-separated list.
func RegistryFromConfig(sites map[string]*config.SiteConfig) *Registry {
	overrides := make(map[string]SiteSelectors, len(sites))
	for id, site := range sites {
		kinds := make(SiteSelectors)
		for kind, fields := range site.Selectors {
			m := make(SelectorMap)
			for field, entries := range fields {
				for _, entry := range entries {
					m[field] = append(m[field], SplitSelectors(entry)...)
				}
			}
			kinds[PageKind(kind)] = m
		}
		overrides[id] = kinds
	}
	return NewRegistry(overrides)
}

// SelectorsFor never fails. Unknown sites use the default site's maps and a
// known site without a map for kind gets the generic one.
func (r *Registry) SelectorsFor(site string, kind PageKind) SelectorMap {
	if kinds, ok := r.sites[site]; ok {
		if m, ok := kinds[kind]; ok {
			return m
		}
		return genericSelectors(kind)
	}
	if kinds, ok := r.sites[DefaultSite]; ok {
		if m, ok := kinds[kind]; ok {
			return m
		}
	}
	return genericSelectors(kind)
}

func (r *Registry) Sites() []string {
	out := make([]string, 0, len(r.sites))
	for site := range r.sites {
		out = append(out, site)
	}
	sort.Strings(out)
	return out
}

// SplitSelectors splits a CSS selector group on top-level commas.
func SplitSelectors(group string) []string {
	var (
		out   []string
		depth int
		quote rune
		start int
	)
	for i, ch := range group {
		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			}
		case ch == '"' || ch == '\'':
			quote = ch
		case ch == '(' || ch == '[':
			depth++
		case ch == ')' || ch == ']':
			depth--
		case ch == ',' && depth == 0:
			if s := strings.TrimSpace(group[start:i]); s != "" {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(group[start:]); s != "" {
		out = append(out, s)
	}
	return out
}
