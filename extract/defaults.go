package extract

// genericContainerPatterns are tried one at a time when a site's container
// selectors match nothing.
var genericContainerPatterns = []string{
	`div[class*="attorney"]`,
	`div[class*="lawyer"]`,
	`div[class*="firm"]`,
	`div[class*="profile"]`,
	`div[class*="card"]`,
}

func builtinSelectors() map[string]SiteSelectors {
	return map[string]SiteSelectors{
		"lawinfo": {
			PageListing: {
				FieldContainer:     {`.card.firm.serp-container`, `.sponsored-listing-container .card.firm`},
				FieldCompanyName:   {`.listing-details-header a`, `.firm-basics h2 a`, `.listing-details-header`},
				FieldPhone:         {`.directory_phone`, `a[href^="tel:"]`},
				FieldLocality:      {`.locality`},
				FieldRegion:        {`.region`},
				FieldAddress:       {`.listing-details-tagline .street-address`, `.street-address`},
				FieldPracticeAreas: {`.jobTitle`, `.listing-details-tagline .jobTitle`},
				FieldWebsite:       {`.directory_website`, `a[href*="http"]:not([href*="lawinfo.com"])`},
				FieldEmail:         {`.directory_contact`, `a[href^="mailto:"]`},
				FieldDescription:   {`.listing-desc-detail`},
				FieldExperience:    {`.number-badge .fw-bold`},
				FieldServices:      {`.listing-services .listing-service`},
				FieldDetailURL:     {`a[href*="/lawfirm/"]`},
			},
			PageDetail: {
				FieldContainer:       {`.card.firm.profile`},
				FieldCompanyName:     {`.org.listing-details-header`, `h1.org`},
				FieldPhone:           {`.profile-phone-header`, `a[href^="tel:"]`},
				FieldAddress:         {`.listing-desc-address`, `.street-address`},
				FieldWebsite:         {`.profile-website-header`, `a.profile-website-header[href]`},
				FieldEmail:           {`.profile-contact-header`, `a[href^="mailto:"]`},
				FieldDescription:     {`.listing-desc-detail`, `.tab-pane p`},
				FieldPracticeAreas:   {`.profile-practice-areas`, `.jobTitle`},
				FieldAttorneys:       {`.lc-attorney-record h2`, `.tab-pane h4`},
				FieldOfficeLocations: {`.location-container`},
			},
		},
		"superlawyers": {
			PageListing: {
				FieldContainer:     {`.attorney-card`, `.lawyer-profile`, `.attorney-listing`},
				FieldCompanyName:   {`.attorney-name`, `.firm-name`, `.lawyer-name`},
				FieldAttorneyName:  {`.attorney-name`, `.lawyer-name`},
				FieldPhone:         {`.phone-number`, `.contact-info .phone`, `a[href^="tel:"]`},
				FieldAddress:       {`.address`, `.location-info`, `.office-address`},
				FieldPracticeAreas: {`.practice-areas`, `.specialties`},
				FieldWebsite:       {`.website-link`, `.firm-website`, `a[href*="http"]`},
				FieldEmail:         {`.email-address`, `.contact-email`, `a[href^="mailto:"]`},
				FieldDetailURL:     {`a.attorney-name[href]`, `.attorney-name a`, `a[href*="/profile/"]`},
			},
			PageDetail: {
				FieldContainer:     {`.attorney-profile`, `.lawyer-profile`, `main`},
				FieldAttorneyName:  {`h1.attorney-name`, `h1`},
				FieldCompanyName:   {`.firm-name`, `.attorney-firm`},
				FieldPhone:         {`.phone-number`, `a[href^="tel:"]`},
				FieldAddress:       {`.office-address`, `.address`},
				FieldWebsite:       {`.firm-website`, `.website-link`},
				FieldEmail:         {`.email-address`, `a[href^="mailto:"]`},
				FieldPracticeAreas: {`.practice-areas`, `.specialties`},
				FieldDescription:   {`.about-attorney`, `.bio`},
				FieldLawSchool:     {`.law-school`, `.education .school`},
				FieldBarAdmissions: {`.bar-admissions`, `.admissions`},
				FieldLicensedSince: {`.licensed-since`, `.years-licensed`},
				FieldEducation:     {`.education`},
			},
		},
	}
}

func genericSelectors(kind PageKind) SelectorMap {
	if kind == PageDetail {
		return SelectorMap{
			FieldCompanyName:   {`h1`, `.firm-name`, `title`},
			FieldPhone:         {`a[href^="tel:"]`, `.phone`},
			FieldAddress:       {`address`, `.address`, `.street-address`},
			FieldWebsite:       {`.website a[href]`, `a.website[href]`},
			FieldEmail:         {`a[href^="mailto:"]`},
			FieldDescription:   {`.description`, `.bio`, `main p`},
			FieldPracticeAreas: {`.practice-areas`},
		}
	}
	return SelectorMap{
		FieldContainer:     {`.listing`, `.result`, `article`},
		FieldCompanyName:   {`h2 a`, `h3 a`, `h2`, `h3`, `.name`},
		FieldPhone:         {`a[href^="tel:"]`, `.phone`},
		FieldAddress:       {`address`, `.address`},
		FieldPracticeAreas: {`.practice-areas`},
		FieldWebsite:       {`a.website[href]`},
		FieldEmail:         {`a[href^="mailto:"]`},
		FieldDetailURL:     {`h2 a`, `h3 a`},
	}
}
