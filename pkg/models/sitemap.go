package models

import "time"

// ChangeFreq is the sitemaps.org <changefreq> hint
type ChangeFreq string

const (
	ChangeFreqAlways  ChangeFreq = "always"
	ChangeFreqHourly  ChangeFreq = "hourly"
	ChangeFreqDaily   ChangeFreq = "daily"
	ChangeFreqWeekly  ChangeFreq = "weekly"
	ChangeFreqMonthly ChangeFreq = "monthly"
	ChangeFreqYearly  ChangeFreq = "yearly"
	ChangeFreqNever   ChangeFreq = "never"
)

// IsValid returns true for values allowed by the sitemap schema (empty means omitted)
func (c ChangeFreq) IsValid() bool {
	switch c {
	case "", ChangeFreqAlways, ChangeFreqHourly, ChangeFreqDaily, ChangeFreqWeekly,
		ChangeFreqMonthly, ChangeFreqYearly, ChangeFreqNever:
		return true
	}
	return false
}

// ContentType classifies a page for hreflang locale whitelisting
type ContentType string

const (
	ContentTypeStatic   ContentType = "static"
	ContentTypeProduct  ContentType = "product"
	ContentTypeCategory ContentType = "category"
	ContentTypeBlog     ContentType = "blog"
	ContentTypeBrand    ContentType = "brand"
	ContentTypeModel    ContentType = "model"
)

// IsValid returns true if the content type is known
func (c ContentType) IsValid() bool {
	switch c {
	case ContentTypeStatic, ContentTypeProduct, ContentTypeCategory,
		ContentTypeBlog, ContentTypeBrand, ContentTypeModel:
		return true
	}
	return false
}

// Availability is the stock state of a product page
type Availability string

const (
	AvailabilityInStock             Availability = "in_stock"               // Always listed
	AvailabilityPerennial           Availability = "perennial"              // Listed when content is informative
	AvailabilityOutOfStockTemporary Availability = "out_of_stock_temporary" // Listed with strong linking or informative content
	AvailabilityOutOfStockObsolete  Availability = "out_of_stock_obsolete"  // Never listed, answered with 410
)

// IsValid returns true if the availability is a known state
func (a Availability) IsValid() bool {
	switch a {
	case AvailabilityInStock, AvailabilityPerennial, AvailabilityOutOfStockTemporary, AvailabilityOutOfStockObsolete:
		return true
	}
	return false
}

// BodyFormat tells the content analyzer how to read CandidateURL.Body
type BodyFormat string

const (
	BodyFormatHTML     BodyFormat = "html"
	BodyFormatMarkdown BodyFormat = "markdown"
)

// HreflangLink is one <xhtml:link rel="alternate"> annotation
type HreflangLink struct {
	Hreflang string `json:"hreflang"`
	Href     string `json:"href"`
}

// SitemapImage is one <image:image> annotation
type SitemapImage struct {
	Loc         string `json:"loc"`
	Title       string `json:"title,omitempty"`
	Caption     string `json:"caption,omitempty"`
	GeoLocation string `json:"geo_location,omitempty"`
	License     string `json:"license,omitempty"`
}

// SitemapEntry is a validated, normalized <url> element
type SitemapEntry struct {
	Loc        string         `json:"loc"`
	LastMod    time.Time      `json:"lastmod"`
	ChangeFreq ChangeFreq     `json:"changefreq,omitempty"`
	Priority   float64        `json:"priority"`
	Alternates []HreflangLink `json:"alternates,omitempty"`
	Images     []SitemapImage `json:"images,omitempty"`
}

// LastModSignals are the independent timestamps a page's freshness is derived from
type LastModSignals struct {
	Content        *time.Time
	Stock          *time.Time
	Price          *time.Time
	TechnicalSheet *time.Time
	SEOBlock       *time.Time
	Created        *time.Time
}

// ProductImages holds the storage keys (or public URLs) of each product view.
// Empty fields mean the view has no image.
type ProductImages struct {
	Main         string
	Front        string
	Side         string
	Detail       string
	Installation string
}

// CandidateURL is a producer-supplied, not yet validated sitemap candidate.
// Pointer fields are optional signals; nil means the producer did not provide them.
type CandidateURL struct {
	Loc                  string
	LastMod              *time.Time
	LastModSignals       LastModSignals
	StatusCode           *int
	IsIndexable          *bool
	IsCanonical          *bool
	HasSufficientContent *bool
	Availability         *Availability

	// HasStrongInternalLinking is true when enough internal pages link here
	HasStrongInternalLinking bool

	ContentType ContentType
	Body        string
	BodyFormat  BodyFormat

	// Product-only attributes
	ProductName string
	Images      *ProductImages
	TypeID      int64
	GammeID     int64
}

// Int returns a pointer to v
func Int(v int) *int { return &v }

// Bool returns a pointer to v
func Bool(v bool) *bool { return &v }

// Time returns a pointer to v
func Time(v time.Time) *time.Time { return &v }
