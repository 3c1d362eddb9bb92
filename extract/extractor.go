package extract

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"lawcrawl/models"
)

// MaxContainers bounds the number of listing cards read from one page.
const MaxContainers = 20

var (
	phoneRegex   = regexp.MustCompile(`\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}`)
	emailRegex   = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	addressRegex = regexp.MustCompile(`\d+\s+[A-Za-z\s]+?\b(?:St|Street|Ave|Avenue|Rd|Road|Blvd|Boulevard|Dr|Drive|Ln|Lane|Way|Pkwy|Parkway)\b\.?`)
	spaceRegex   = regexp.MustCompile(`\s+`)
)

// PageContext carries what the listing page itself tells us about every
// entity on it.
type PageContext struct {
	SourceURL    string
	Site         string
	PracticeArea string
	State        string
	City         string
	JobID        int64
	UnitID       int64
}

type Extractor struct {
	registry *Registry
}

func New(registry *Registry) *Extractor {
	if registry == nil {
		registry = NewRegistry(nil)
	}
	return &Extractor{registry: registry}
}

func (e *Extractor) Registry() *Registry {
	return e.registry
}

func ParseHTML(html []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, eris.Wrap(err, "parse html")
	}
	return doc, nil
}

// FindEntityContainers returns the listing cards on a page, at most
// MaxContainers of them. The site's container selectors are unioned; when
// they match nothing the generic patterns are tried one at a time.
func (e *Extractor) FindEntityContainers(doc *goquery.Document, site string) []*goquery.Selection {
	m := e.registry.SelectorsFor(site, PageListing)

	var found *goquery.Selection
	if sels := m.Get(FieldContainer); len(sels) > 0 {
		found = doc.Find(strings.Join(sels, ", "))
	}

	if found == nil || found.Length() == 0 {
		for _, pattern := range genericContainerPatterns {
			candidates := doc.Find(pattern)
			if candidates.Length() == 0 {
				continue
			}
			// Keep only the outermost match so nested cards are read once.
			found = candidates.FilterFunction(func(_ int, s *goquery.Selection) bool {
				return s.ParentsFiltered(pattern).Length() == 0
			})
			break
		}
	}
	if found == nil {
		return nil
	}

	var out []*goquery.Selection
	found.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		out = append(out, s)
		return len(out) < MaxContainers
	})
	return out
}

// ExtractEntity reads one listing card. The second return is false when the
// card has no name, which is a skip and not an error.
func (e *Extractor) ExtractEntity(container *goquery.Selection, m SelectorMap, ctx PageContext) (*models.Lawyer, bool) {
	name := firstText(container, m.Get(FieldCompanyName))
	if name == "" {
		name = firstText(container, genericSelectors(PageListing).Get(FieldCompanyName))
	}
	if name == "" {
		return nil, false
	}

	text := cleanText(container.Text())

	l := &models.Lawyer{
		JobID:           ctx.JobID,
		DiscoveryUnitID: ctx.UnitID,
		SourceURL:       ctx.SourceURL,
		Domain:          ctx.Site,
		PracticeArea:    ctx.PracticeArea,
		State:           ctx.State,
		City:            ctx.City,
		CompanyName:     name,
		AttorneyName:    firstText(container, m.Get(FieldAttorneyName)),
		Phone:           extractPhone(container, m.Get(FieldPhone), text),
		Address:         extractAddress(container, m, text),
		Website:         extractWebsite(container, m.Get(FieldWebsite), ctx),
		Email:           extractEmail(container, m.Get(FieldEmail), text),
		DetailURL:       extractLink(container, m.Get(FieldDetailURL), ctx.SourceURL),
		IsActive:        true,
	}

	l.PracticeAreas = firstText(container, m.Get(FieldPracticeAreas))
	if l.PracticeAreas == "" && ctx.PracticeArea != "" {
		l.PracticeAreas = TitleSlug(ctx.PracticeArea)
	}
	l.AttorneyDetails = composeDetails(container, m, l.PracticeAreas)

	return l, true
}

func composeDetails(container *goquery.Selection, m SelectorMap, practiceAreas string) string {
	var parts []string
	if desc := firstText(container, m.Get(FieldDescription)); desc != "" {
		parts = append(parts, desc)
	}
	if exp := firstText(container, m.Get(FieldExperience)); exp != "" {
		parts = append(parts, "Experience: "+exp)
	}
	if services := allText(container, m.Get(FieldServices), 0); len(services) > 0 {
		parts = append(parts, "Services: "+strings.Join(services, " | "))
	}
	if len(parts) == 0 {
		if practiceAreas == "" {
			return ""
		}
		return "Attorney specializing in " + practiceAreas
	}
	return strings.Join(parts, " | ")
}

func extractPhone(root *goquery.Selection, sels []string, text string) string {
	for _, sel := range sels {
		s := root.Find(sel).First()
		if s.Length() == 0 {
			continue
		}
		if href, ok := s.Attr("href"); ok && strings.HasPrefix(href, "tel:") {
			if phone := strings.TrimSpace(strings.TrimPrefix(href, "tel:")); phone != "" {
				return phone
			}
		}
		if match := phoneRegex.FindString(s.Text()); match != "" {
			return match
		}
	}
	return phoneRegex.FindString(text)
}

func extractAddress(root *goquery.Selection, m SelectorMap, text string) string {
	locality := firstText(root, m.Get(FieldLocality))
	region := firstText(root, m.Get(FieldRegion))
	switch {
	case locality != "" && region != "":
		return locality + ", " + region
	case locality != "" || region != "":
		if street := firstText(root, m.Get(FieldAddress)); street != "" {
			return street + ", " + locality + region
		}
		return locality + region
	}
	if addr := firstText(root, m.Get(FieldAddress)); addr != "" {
		return addr
	}
	return strings.TrimSpace(addressRegex.FindString(text))
}

func extractEmail(root *goquery.Selection, sels []string, text string) string {
	for _, sel := range sels {
		s := root.Find(sel).First()
		if s.Length() == 0 {
			continue
		}
		if href, ok := s.Attr("href"); ok && strings.HasPrefix(href, "mailto:") {
			addr := strings.TrimPrefix(href, "mailto:")
			if i := strings.IndexByte(addr, '?'); i >= 0 {
				addr = addr[:i]
			}
			if addr = strings.TrimSpace(addr); addr != "" {
				return addr
			}
		}
		if match := emailRegex.FindString(s.Text()); match != "" {
			return match
		}
	}
	return emailRegex.FindString(text)
}

// extractWebsite returns the first external http link, skipping links back
// into the directory itself.
func extractWebsite(root *goquery.Selection, sels []string, ctx PageContext) string {
	for _, sel := range sels {
		var found string
		root.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			href, ok := s.Attr("href")
			if !ok {
				return true
			}
			href = strings.TrimSpace(href)
			if !strings.HasPrefix(href, "http") || isDirectoryLink(href, ctx) {
				return true
			}
			found = href
			return false
		})
		if found != "" {
			return found
		}
	}
	return ""
}

func isDirectoryLink(href string, ctx PageContext) bool {
	u, err := url.Parse(href)
	if err != nil {
		return true
	}
	host := strings.ToLower(u.Hostname())
	if ctx.Site != "" && strings.Contains(host, strings.ToLower(ctx.Site)) {
		return true
	}
	if src, err := url.Parse(ctx.SourceURL); err == nil && src.Hostname() != "" {
		return strings.EqualFold(src.Hostname(), u.Hostname())
	}
	return false
}

// extractLink returns the first href matched by sels, resolved against base.
func extractLink(root *goquery.Selection, sels []string, base string) string {
	for _, sel := range sels {
		s := root.Find(sel).First()
		if s.Length() == 0 {
			continue
		}
		href, ok := s.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			continue
		}
		return resolveURL(base, strings.TrimSpace(href))
	}
	return ""
}

func resolveURL(base, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if ref.IsAbs() {
		return ref.String()
	}
	b, err := url.Parse(base)
	if err != nil || b.Host == "" {
		return ""
	}
	return b.ResolveReference(ref).String()
}

func firstText(root *goquery.Selection, sels []string) string {
	for _, sel := range sels {
		if t := cleanText(root.Find(sel).First().Text()); t != "" {
			return t
		}
	}
	return ""
}

// allText returns the non-empty texts of the first selector that matches
// anything. limit <= 0 means no limit.
func allText(root *goquery.Selection, sels []string, limit int) []string {
	for _, sel := range sels {
		var out []string
		root.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if t := cleanText(s.Text()); t != "" {
				out = append(out, t)
			}
			return limit <= 0 || len(out) < limit
		})
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

func cleanText(s string) string {
	return strings.TrimSpace(spaceRegex.ReplaceAllString(s, " "))
}

// TitleSlug turns "personal-injury" into "Personal Injury".
func TitleSlug(slug string) string {
	words := strings.Fields(strings.NewReplacer("-", " ", "_", " ").Replace(slug))
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}
