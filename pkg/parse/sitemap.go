package parse

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/Sriram-PR/sitemap-builder/pkg/models"
	"github.com/Sriram-PR/sitemap-builder/pkg/utils"
)

const (
	NamespaceSitemap = "http://www.sitemaps.org/schemas/sitemap/0.9"
	NamespaceXHTML   = "http://www.w3.org/1999/xhtml"
	NamespaceImage   = "http://www.google.com/schemas/sitemap-image/1.1"

	// MaxURLsPerFile is the sitemaps.org ceiling for one <urlset> or <sitemapindex>
	MaxURLsPerFile = 50000
)

// --- XML Structs for Sitemap Writing ---

// XMLLink represents an <xhtml:link rel="alternate"> element
type XMLLink struct {
	Rel      string `xml:"rel,attr"`
	Hreflang string `xml:"hreflang,attr"`
	Href     string `xml:"href,attr"`
}

// XMLImage represents an <image:image> element
type XMLImage struct {
	Loc         string `xml:"image:loc"`
	Title       string `xml:"image:title,omitempty"`
	Caption     string `xml:"image:caption,omitempty"`
	GeoLocation string `xml:"image:geo_location,omitempty"`
	License     string `xml:"image:license,omitempty"`
}

// XMLURL represents a <url> element in a sitemap
type XMLURL struct {
	XMLName    xml.Name   `xml:"url"`
	Loc        string     `xml:"loc"`
	LastMod    string     `xml:"lastmod,omitempty"`
	ChangeFreq string     `xml:"changefreq,omitempty"`
	Priority   string     `xml:"priority,omitempty"`
	Alternates []XMLLink  `xml:"xhtml:link"`
	Images     []XMLImage `xml:"image:image"`
}

// XMLSitemap represents a <sitemap> element in a sitemap index file
type XMLSitemap struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod,omitempty"`
}

// XMLSitemapIndex represents a <sitemapindex> element
type XMLSitemapIndex struct {
	XMLName  xml.Name     `xml:"sitemapindex"`
	Xmlns    string       `xml:"xmlns,attr"`
	Sitemaps []XMLSitemap `xml:"sitemap"`
}

// IndexRef is one child listed in a sitemap index
type IndexRef struct {
	Loc     string
	LastMod time.Time
}

// FormatLastMod renders t as a W3C datetime in UTC, empty for the zero time
func FormatLastMod(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// FormatPriority renders a priority with one decimal, clamped to [0,1]
func FormatPriority(p float64) string {
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	return strconv.FormatFloat(p, 'f', 1, 64)
}

// ToXMLURL converts a validated entry into its XML form
func ToXMLURL(e models.SitemapEntry) XMLURL {
	u := XMLURL{
		Loc:        e.Loc,
		LastMod:    FormatLastMod(e.LastMod),
		ChangeFreq: string(e.ChangeFreq),
		Priority:   FormatPriority(e.Priority),
	}
	for _, alt := range e.Alternates {
		u.Alternates = append(u.Alternates, XMLLink{Rel: "alternate", Hreflang: alt.Hreflang, Href: alt.Href})
	}
	for _, img := range e.Images {
		u.Images = append(u.Images, XMLImage{
			Loc:         img.Loc,
			Title:       img.Title,
			Caption:     img.Caption,
			GeoLocation: img.GeoLocation,
			License:     img.License,
		})
	}
	return u
}

// URLSetWriter streams <url> elements into a <urlset> without holding the whole document in memory.
// The namespaces must be decided up front since the root tag is written first.
type URLSetWriter struct {
	w      io.Writer
	enc    *xml.Encoder
	count  int
	closed bool
}

// NewURLSetWriter writes the XML header and the <urlset> start tag
func NewURLSetWriter(w io.Writer, withHreflang, withImages bool) (*URLSetWriter, error) {
	start := `<urlset xmlns="` + NamespaceSitemap + `"`
	if withHreflang {
		start += ` xmlns:xhtml="` + NamespaceXHTML + `"`
	}
	if withImages {
		start += ` xmlns:image="` + NamespaceImage + `"`
	}
	start += ">"
	if _, err := io.WriteString(w, xml.Header+start); err != nil {
		return nil, fmt.Errorf("%w: write urlset header: %w", utils.ErrSerialization, err)
	}
	return &URLSetWriter{w: w, enc: xml.NewEncoder(w)}, nil
}

// Write appends one entry
func (s *URLSetWriter) Write(e models.SitemapEntry) error {
	if s.closed {
		return fmt.Errorf("%w: write after close", utils.ErrSerialization)
	}
	if _, err := io.WriteString(s.w, "\n"); err != nil {
		return fmt.Errorf("%w: %w", utils.ErrSerialization, err)
	}
	if err := s.enc.Encode(ToXMLURL(e)); err != nil {
		return fmt.Errorf("%w: encode url '%s': %w", utils.ErrSerialization, e.Loc, err)
	}
	if err := s.enc.Flush(); err != nil {
		return fmt.Errorf("%w: %w", utils.ErrSerialization, err)
	}
	s.count++
	return nil
}

// Count returns the number of entries written so far
func (s *URLSetWriter) Count() int { return s.count }

// Close writes the </urlset> end tag. It does not close the underlying writer.
func (s *URLSetWriter) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	end := "</urlset>\n"
	if s.count > 0 {
		end = "\n" + end
	}
	if _, err := io.WriteString(s.w, end); err != nil {
		return fmt.Errorf("%w: write urlset end: %w", utils.ErrSerialization, err)
	}
	return nil
}

// Namespaces reports which optional namespaces a set of entries needs
func Namespaces(entries []models.SitemapEntry) (hreflang, images bool) {
	for _, e := range entries {
		hreflang = hreflang || len(e.Alternates) > 0
		images = images || len(e.Images) > 0
		if hreflang && images {
			break
		}
	}
	return hreflang, images
}

// WriteURLSet writes a complete <urlset> document. Zero entries still produce a valid empty root element.
func WriteURLSet(w io.Writer, entries []models.SitemapEntry) error {
	withHreflang, withImages := Namespaces(entries)
	sw, err := NewURLSetWriter(w, withHreflang, withImages)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := sw.Write(e); err != nil {
			return err
		}
	}
	return sw.Close()
}

// WriteSitemapIndex writes a complete <sitemapindex> document
func WriteSitemapIndex(w io.Writer, refs []IndexRef) error {
	if len(refs) > MaxURLsPerFile {
		return fmt.Errorf("%w: sitemap index has %d entries, limit is %d", utils.ErrSerialization, len(refs), MaxURLsPerFile)
	}
	index := XMLSitemapIndex{Xmlns: NamespaceSitemap}
	for _, r := range refs {
		index.Sitemaps = append(index.Sitemaps, XMLSitemap{Loc: r.Loc, LastMod: FormatLastMod(r.LastMod)})
	}
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return fmt.Errorf("%w: write index header: %w", utils.ErrSerialization, err)
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(index); err != nil {
		return fmt.Errorf("%w: encode sitemap index: %w", utils.ErrSerialization, err)
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return fmt.Errorf("%w: %w", utils.ErrSerialization, err)
	}
	return nil
}

// --- XML Structs for Sitemap Parsing ---

// ParsedLink is an <xhtml:link> read back from a sitemap
type ParsedLink struct {
	Rel      string `xml:"rel,attr"`
	Hreflang string `xml:"hreflang,attr"`
	Href     string `xml:"href,attr"`
}

// ParsedImage is an <image:image> read back from a sitemap
type ParsedImage struct {
	Locs  []string `xml:"http://www.google.com/schemas/sitemap-image/1.1 loc"`
	Title string   `xml:"http://www.google.com/schemas/sitemap-image/1.1 title"`
}

// ParsedURL is a <url> read back from a sitemap. Locs is a slice so cardinality can be checked.
type ParsedURL struct {
	Locs       []string      `xml:"http://www.sitemaps.org/schemas/sitemap/0.9 loc"`
	LastMod    string        `xml:"http://www.sitemaps.org/schemas/sitemap/0.9 lastmod"`
	ChangeFreq string        `xml:"http://www.sitemaps.org/schemas/sitemap/0.9 changefreq"`
	Priority   string        `xml:"http://www.sitemaps.org/schemas/sitemap/0.9 priority"`
	Alternates []ParsedLink  `xml:"http://www.w3.org/1999/xhtml link"`
	Images     []ParsedImage `xml:"http://www.google.com/schemas/sitemap-image/1.1 image"`
}

// ParsedSitemap is a <sitemap> read back from an index
type ParsedSitemap struct {
	Locs    []string `xml:"http://www.sitemaps.org/schemas/sitemap/0.9 loc"`
	LastMod string   `xml:"http://www.sitemaps.org/schemas/sitemap/0.9 lastmod"`
}

// DocumentKind is the root element of a sitemap document
type DocumentKind string

const (
	DocumentURLSet       DocumentKind = "urlset"
	DocumentSitemapIndex DocumentKind = "sitemapindex"
)

// Document is a parsed sitemap or sitemap index
type Document struct {
	Kind     DocumentKind
	URLs     []ParsedURL
	Sitemaps []ParsedSitemap
}

type parsedURLSet struct {
	URLs []ParsedURL `xml:"http://www.sitemaps.org/schemas/sitemap/0.9 url"`
}

type parsedIndex struct {
	Sitemaps []ParsedSitemap `xml:"http://www.sitemaps.org/schemas/sitemap/0.9 sitemap"`
}

// ParseDocument reads a sitemap or sitemap index. The root element must be in the sitemaps.org namespace.
func ParseDocument(r io.Reader) (*Document, error) {
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("%w: XML document has no root element", utils.ErrParsing)
			}
			return nil, fmt.Errorf("%w: XML token: %w", utils.ErrParsing, err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if start.Name.Space != NamespaceSitemap {
			return nil, fmt.Errorf("%w: XML root <%s> has namespace '%s', want '%s'",
				utils.ErrParsing, start.Name.Local, start.Name.Space, NamespaceSitemap)
		}

		switch start.Name.Local {
		case string(DocumentURLSet):
			var set parsedURLSet
			if err := dec.DecodeElement(&set, &start); err != nil {
				return nil, fmt.Errorf("%w: XML urlset: %w", utils.ErrParsing, err)
			}
			return &Document{Kind: DocumentURLSet, URLs: set.URLs}, nil
		case string(DocumentSitemapIndex):
			var idx parsedIndex
			if err := dec.DecodeElement(&idx, &start); err != nil {
				return nil, fmt.Errorf("%w: XML sitemapindex: %w", utils.ErrParsing, err)
			}
			return &Document{Kind: DocumentSitemapIndex, Sitemaps: idx.Sitemaps}, nil
		default:
			return nil, fmt.Errorf("%w: unexpected XML root <%s>", utils.ErrParsing, start.Name.Local)
		}
	}
}
