package catalog

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/sitemap-builder/pkg/models"
	"github.com/Sriram-PR/sitemap-builder/pkg/utils"
)

// Mapper turns typed catalog rows into sitemap candidates and change-tracking fingerprints.
// It is the only place that knows the site's URL scheme.
type Mapper struct {
	strongLinking int
	oracle        IntegrityOracle
	log           *logrus.Entry
}

// NewMapper creates a mapper. Products with at least strongLinking inbound links count as
// strongly linked. oracle may be nil, in which case fitments are not checked.
func NewMapper(strongLinking int, oracle IntegrityOracle, log *logrus.Entry) *Mapper {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Mapper{
		strongLinking: strongLinking,
		oracle:        oracle,
		log:           log.WithField("component", "catalog"),
	}
}

// Path returns the site-relative path of a record
func Path(rec models.Record) string {
	switch r := rec.(type) {
	case models.Brand:
		return "/constructeurs/" + r.Slug
	case models.Model:
		return "/constructeurs/" + r.BrandSlug + "/" + r.Slug
	case models.Motorization:
		return "/constructeurs/" + r.BrandSlug + "/" + r.ModelSlug + "/" + r.Slug
	case models.Gamme:
		return "/pieces/" + r.Slug
	case models.Product:
		return "/pieces/" + r.GammeSlug + "/" + r.Slug
	case models.BlogArticle:
		return "/blog/" + r.Slug
	case models.StaticPage:
		if !strings.HasPrefix(r.Path, "/") {
			return "/" + r.Path
		}
		return r.Path
	}
	return ""
}

// Candidate maps rec to a sitemap candidate. Product fitments are checked against the integrity
// oracle; an invalid pair gets the oracle's status hint so the status rule excludes it.
func (m *Mapper) Candidate(ctx context.Context, rec models.Record) (models.CandidateURL, error) {
	c := models.CandidateURL{Loc: Path(rec)}
	if c.Loc == "" {
		return c, fmt.Errorf("%w: unsupported record type %T", utils.ErrParsing, rec)
	}

	switch r := rec.(type) {
	case models.Brand:
		c.ContentType = models.ContentTypeBrand
		c.LastMod = timePtr(r.UpdatedAt)
		c.IsIndexable = models.Bool(r.Active)
	case models.Model:
		c.ContentType = models.ContentTypeModel
		c.LastMod = timePtr(r.UpdatedAt)
	case models.Motorization:
		c.ContentType = models.ContentTypeModel
		c.LastMod = timePtr(r.UpdatedAt)
	case models.Gamme:
		c.ContentType = models.ContentTypeCategory
		c.LastMod = timePtr(r.UpdatedAt)
		c.Body, c.BodyFormat = r.DescriptionHTML, models.BodyFormatHTML
		c.HasSufficientContent = emptyBody(r.DescriptionHTML)
		c.HasStrongInternalLinking = r.InboundLinks >= m.strongLinking
	case models.Product:
		if err := m.product(ctx, r, &c); err != nil {
			return c, err
		}
	case models.BlogArticle:
		c.ContentType = models.ContentTypeBlog
		c.LastModSignals = models.LastModSignals{Content: timePtr(r.UpdatedAt), Created: timePtr(r.PublishedAt)}
		c.Body, c.BodyFormat = r.Markdown, models.BodyFormatMarkdown
		c.HasSufficientContent = emptyBody(r.Markdown)
	case models.StaticPage:
		c.ContentType = models.ContentTypeStatic
		c.LastMod = timePtr(r.UpdatedAt)
	}
	return c, nil
}

func (m *Mapper) product(ctx context.Context, p models.Product, c *models.CandidateURL) error {
	c.ContentType = models.ContentTypeProduct
	c.ProductName = p.Name
	c.TypeID, c.GammeID = p.TypeID, p.GammeID
	images := p.Images
	c.Images = &images
	c.LastModSignals = models.LastModSignals{
		Content:        p.ContentUpdatedAt,
		Stock:          p.StockUpdatedAt,
		Price:          p.PriceUpdatedAt,
		TechnicalSheet: p.TechSheetUpdatedAt,
		SEOBlock:       p.SEOUpdatedAt,
		Created:        p.CreatedAt,
	}
	c.IsIndexable = models.Bool(!p.Noindex)
	c.IsCanonical = models.Bool(isSelfCanonical(p.CanonicalURL, c.Loc))
	if p.Availability != "" {
		a := p.Availability
		c.Availability = &a
	}
	c.HasStrongInternalLinking = p.InboundLinks >= m.strongLinking
	c.Body, c.BodyFormat = p.DescriptionHTML, models.BodyFormatHTML
	c.HasSufficientContent = emptyBody(p.DescriptionHTML)

	if m.oracle == nil || p.TypeID == 0 || p.GammeID == 0 {
		return nil
	}
	verdict, err := m.oracle.IsCombinationValid(ctx, p.TypeID, p.GammeID)
	if err != nil {
		return utils.WrapErrorf(err, "integrity check for type %d / gamme %d", p.TypeID, p.GammeID)
	}
	if !verdict.Valid {
		m.log.WithFields(logrus.Fields{"type_id": p.TypeID, "gamme_id": p.GammeID, "url": c.Loc}).
			Debug("Fitment rejected by integrity oracle")
	}
	c.StatusCode = models.Int(verdict.statusFor())
	return nil
}

// Fingerprint returns the path of rec and the fields whose change makes it fresh for crawlers
func Fingerprint(rec models.Record) (string, models.URLData) {
	loc := Path(rec)
	data := models.URLData{Canonical: loc, Metadata: map[string]any{}}
	switch r := rec.(type) {
	case models.Brand:
		data.Metadata["name"] = r.Name
		data.Metadata["active"] = r.Active
	case models.Model:
		data.Metadata["name"] = r.Name
	case models.Motorization:
		data.Metadata["name"] = r.Name
		data.Metadata["year_from"] = r.YearFrom
	case models.Gamme:
		data.Metadata["name"] = r.Name
		data.Metadata["description"] = utils.CalculateStringSHA256(r.DescriptionHTML)
	case models.Product:
		if r.CanonicalURL != "" {
			data.Canonical = r.CanonicalURL
		}
		data.Price = r.Price
		data.Stock = r.Stock
		data.Metadata["name"] = r.Name
		data.Metadata["availability"] = string(r.Availability)
		data.Metadata["noindex"] = r.Noindex
		data.Metadata["description"] = utils.CalculateStringSHA256(r.DescriptionHTML)
		data.Metadata["main_image"] = r.Images.Main
	case models.BlogArticle:
		data.Metadata["title"] = r.Title
		data.Metadata["body"] = utils.CalculateStringSHA256(r.Markdown)
	case models.StaticPage:
		data.Metadata["title"] = r.Title
	}
	return loc, data
}

// isSelfCanonical reports whether a declared canonical URL points back at path.
// Only the path is compared; the host is rewritten to the canonical one during normalization.
func isSelfCanonical(canonical, path string) bool {
	if canonical == "" {
		return true
	}
	u, err := url.Parse(canonical)
	if err != nil {
		return false
	}
	trim := func(s string) string { return strings.TrimSuffix(strings.ToLower(s), "/") }
	return trim(u.Path) == trim(path)
}

// emptyBody flags records without any description as thin; others are left to body analysis
func emptyBody(body string) *bool {
	if strings.TrimSpace(body) == "" {
		return models.Bool(false)
	}
	return nil
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
