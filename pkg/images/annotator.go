package images

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/Sriram-PR/sitemap-builder/pkg/config"
	"github.com/Sriram-PR/sitemap-builder/pkg/models"
	"github.com/Sriram-PR/sitemap-builder/pkg/utils"
)

// view is one product picture slot, in listing order
type view struct {
	label string
	key   func(models.ProductImages) string
}

var views = []view{
	{"Main view", func(p models.ProductImages) string { return p.Main }},
	{"Front view", func(p models.ProductImages) string { return p.Front }},
	{"Side view", func(p models.ProductImages) string { return p.Side }},
	{"Detail view", func(p models.ProductImages) string { return p.Detail }},
	{"Installation view", func(p models.ProductImages) string { return p.Installation }},
}

// Annotator attaches product images to sitemap entries
type Annotator struct {
	maxImages     int
	cdn           *url.URL
	captionSuffix string
	license       string
}

// NewAnnotator creates an annotator from a validated image configuration
func NewAnnotator(cfg config.ImageConfig) (*Annotator, error) {
	cdn, err := url.Parse(cfg.CDNBaseURL)
	if err != nil || cdn.Host == "" {
		return nil, fmt.Errorf("%w: images.cdn_base_url '%s' must be an absolute URL", utils.ErrConfigValidation, cfg.CDNBaseURL)
	}
	return &Annotator{
		maxImages:     cfg.MaxImages,
		cdn:           cdn,
		captionSuffix: cfg.CaptionSuffix,
		license:       cfg.License,
	}, nil
}

// MaxImages returns the configured per-entry image cap
func (a *Annotator) MaxImages() int { return a.maxImages }

// Annotate returns entry with the candidate's product images attached: the main view, then up to
// maxImages-1 of the front, side, detail and installation views. Views without an image are
// skipped; a missing main view leaves its slot empty. Non-product candidates are returned unchanged.
func (a *Annotator) Annotate(entry models.SitemapEntry, c models.CandidateURL, maxImages int) models.SitemapEntry {
	if c.ContentType != models.ContentTypeProduct || c.Images == nil || maxImages <= 0 {
		return entry
	}
	var out []models.SitemapImage
	secondary := 0
	for i, v := range views {
		if i > 0 {
			if secondary == maxImages-1 {
				break
			}
		}
		loc, ok := a.publicURL(v.key(*c.Images))
		if !ok {
			continue
		}
		if i > 0 {
			secondary++
		}
		title := strings.TrimSpace(c.ProductName + " - " + v.label)
		out = append(out, models.SitemapImage{
			Loc:     loc,
			Title:   title,
			Caption: title + a.captionSuffix,
			License: a.license,
		})
	}
	entry.Images = out
	return entry
}

// publicURL resolves a storage key or URL to a stable public URL. Query strings are dropped so
// that expiring signed URLs never reach the sitemap.
func (a *Annotator) publicURL(key string) (string, bool) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false
	}
	u, err := url.Parse(key)
	if err != nil {
		return "", false
	}
	if u.Host == "" {
		resolved := *a.cdn
		resolved.Path = path.Join("/", a.cdn.Path, u.Path)
		resolved.RawPath = ""
		u = &resolved
	}
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.User = nil
	return u.String(), true
}
