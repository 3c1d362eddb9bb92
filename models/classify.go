package models

import (
	"regexp"
	"strings"
)

// siteEntityTypes maps a directory to the kind of listing it mostly carries.
// LawInfo lists firms, SuperLawyers lists individual attorneys.
var siteEntityTypes = map[string]EntityType{
	"lawinfo":      EntityOrganization,
	"superlawyers": EntityIndividual,
}

var (
	firmTokens = map[string]bool{
		"law": true, "laws": true, "firm": true, "llp": true, "llc": true, "pc": true,
		"pllc": true, "pa": true, "lpa": true, "associates": true, "group": true,
		"partners": true, "office": true, "offices": true, "legal": true,
		"attorneys": true, "lawyers": true, "&": true, "and": true, "company": true,
		"co": true, "services": true, "center": true, "clinic": true,
	}
	individualTokens = map[string]bool{
		"esq": true, "attorney": true, "lawyer": true, "mr": true, "ms": true,
		"mrs": true, "dr": true, "jd": true, "counselor": true,
	}
	tokenSplit = regexp.MustCompile(`[\s,]+`)
)

// Classify derives the entity type from the site of origin and, failing
// that, from the shape of the company name. Pure: only reads l.
func Classify(l *Lawyer) EntityType {
	if t, ok := siteEntityType(l.Domain); ok {
		return t
	}
	return classifyName(l.CompanyName)
}

func siteEntityType(domain string) (EntityType, bool) {
	domain = strings.ToLower(domain)
	for site, t := range siteEntityTypes {
		if strings.Contains(domain, site) {
			return t, true
		}
	}
	return "", false
}

func classifyName(name string) EntityType {
	tokens := nameTokens(name)
	if len(tokens) == 0 {
		return EntityUnknown
	}
	if strings.Contains(name, "&") {
		return EntityOrganization
	}
	for _, t := range tokens {
		if firmTokens[t] {
			return EntityOrganization
		}
	}
	for _, t := range tokens {
		if individualTokens[t] {
			return EntityIndividual
		}
	}
	if len(tokens) <= 3 {
		return EntityIndividual
	}
	return EntityUnknown
}

func nameTokens(name string) []string {
	var tokens []string
	for _, raw := range tokenSplit.Split(strings.ToLower(strings.TrimSpace(name)), -1) {
		t := strings.Trim(raw, ".()")
		t = strings.ReplaceAll(t, ".", "")
		if t == "" {
			continue
		}
		tokens = append(tokens, t)
	}
	return tokens
}
