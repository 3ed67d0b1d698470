package hygiene

import (
	"time"

	"github.com/Sriram-PR/sitemap-builder/pkg/models"
)

// ResolveLastModified returns the latest of the candidate's timestamps (explicit lastmod and
// every signal). When none is present it returns now and fallback=true so the caller can
// report the approximation instead of passing it off as real freshness.
func ResolveLastModified(c models.CandidateURL, now time.Time) (lastmod time.Time, fallback bool) {
	s := c.LastModSignals
	for _, t := range []*time.Time{c.LastMod, s.Content, s.Stock, s.Price, s.TechnicalSheet, s.SEOBlock, s.Created} {
		if t == nil || t.IsZero() {
			continue
		}
		if t.After(lastmod) {
			lastmod = *t
		}
	}
	if lastmod.IsZero() {
		return now, true
	}
	return lastmod, false
}
