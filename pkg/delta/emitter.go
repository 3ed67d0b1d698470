package delta

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/sitemap-builder/pkg/config"
	"github.com/Sriram-PR/sitemap-builder/pkg/metrics"
	"github.com/Sriram-PR/sitemap-builder/pkg/models"
	"github.com/Sriram-PR/sitemap-builder/pkg/parse"
	"github.com/Sriram-PR/sitemap-builder/pkg/utils"
)

// EmitResult describes one emission attempt
type EmitResult struct {
	Date        string   `json:"date"`
	CarriedOver []string `json:"carried_over,omitempty"` // Earlier days whose pending changes joined this file
	Emitted     bool     `json:"emitted"`                // False when there were no changes; no file is written then
	Path        string   `json:"path,omitempty"`
	Parts       []string `json:"parts,omitempty"` // Part files listed by Path when the set exceeds one file
	URLCount    int      `json:"url_count"`
	Cleared     int      `json:"cleared"`
	SHA256      string   `json:"sha256,omitempty"`
}

// Emitter writes delta sets as a standalone <urlset>, or as a <sitemapindex> over numbered
// parts when a set holds more URLs than one file may list
type Emitter struct {
	tracker   *Tracker
	cfg       config.DeltaConfig
	base      *url.URL
	baseURL   string
	outputDir string
	maxURLs   int
	metrics   *metrics.Metrics
	log       *logrus.Entry
	now       func() time.Time
}

// NewEmitter creates an Emitter writing cfg.Filename under outputDir.
// Relative URLs in the delta set are resolved against baseURL.
func NewEmitter(tracker *Tracker, cfg config.DeltaConfig, baseURL, outputDir string, m *metrics.Metrics, log *logrus.Entry) (*Emitter, error) {
	base, err := url.Parse(baseURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("%w: delta emitter base URL '%s' is not absolute", utils.ErrConfigValidation, baseURL)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Emitter{
		tracker:   tracker,
		cfg:       cfg,
		base:      base,
		baseURL:   strings.TrimRight(baseURL, "/"),
		outputDir: outputDir,
		maxURLs:   parse.MaxURLsPerFile,
		metrics:   m,
		log:       log.WithField("component", "delta_emitter"),
		now:       time.Now,
	}, nil
}

// SetClock replaces the emitter's clock
func (e *Emitter) SetClock(now func() time.Time) { e.now = now }

// Path returns where the delta sitemap is written
func (e *Emitter) Path() string {
	return filepath.Join(e.outputDir, e.cfg.Filename)
}

// partName returns the file name of part n (1-based): "sitemap-latest.xml" gives "sitemap-latest-2.xml"
func (e *Emitter) partName(n int) string {
	name := filepath.Base(e.cfg.Filename)
	ext := filepath.Ext(name)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(name, ext), n, ext)
}

// Emit writes the delta sitemap of day. See EmitDays.
func (e *Emitter) Emit(ctx context.Context, day time.Time) (EmitResult, error) {
	return e.EmitDays(ctx, day)
}

// EmitDays writes the union of the delta sets of days into one delta sitemap; the last day names
// the result. Nothing is written when every set is empty, leaving any previous file alone.
// Every entry gets lastmod=now, changefreq=daily and the configured priority. A set larger than
// one file is split into numbered parts under an index at Path, so every URL is listed.
// The sets are cleared afterwards unless the clear policy is disabled.
func (e *Emitter) EmitDays(ctx context.Context, days ...time.Time) (EmitResult, error) {
	if len(days) == 0 {
		return EmitResult{}, fmt.Errorf("%w: no delta day to emit", utils.ErrParsing)
	}
	res := EmitResult{Date: FormatDate(days[len(days)-1])}
	entryLog := e.log.WithField("date", res.Date)

	now := e.now().UTC()
	seen := make(map[string]bool)
	var entries []models.SitemapEntry
	for i, day := range days {
		changes, err := e.tracker.Changes(ctx, day)
		if err != nil {
			return res, fmt.Errorf("read delta set %s: %w", FormatDate(day), err)
		}
		if len(changes) > 0 && i < len(days)-1 {
			res.CarriedOver = append(res.CarriedOver, FormatDate(day))
		}
		for _, c := range changes {
			loc, err := e.resolve(c.URL)
			if err != nil {
				entryLog.WithField("url", c.URL).Warnf("Skipping delta entry: %v", err)
				continue
			}
			if seen[loc] {
				continue
			}
			seen[loc] = true
			entries = append(entries, models.SitemapEntry{
				Loc:        loc,
				LastMod:    now,
				ChangeFreq: models.ChangeFreqDaily,
				Priority:   e.cfg.Priority,
			})
		}
	}
	if len(entries) == 0 {
		entryLog.Info("Delta set is empty, nothing to emit")
		return res, nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Loc < entries[j].Loc })

	res.Path = e.Path()
	if err := e.write(entries, now, &res); err != nil {
		return res, err
	}
	res.Emitted = true
	res.URLCount = len(entries)
	var err error
	if res.SHA256, err = utils.CalculateFileSHA256(res.Path); err != nil {
		entryLog.Warnf("Could not checksum delta sitemap: %v", err)
	}
	e.metrics.IncEmission()

	if e.cfg.ShouldClearAfterEmit() {
		for _, day := range days {
			n, err := e.tracker.Clear(ctx, day)
			if err != nil {
				entryLog.Warnf("Delta sitemap written but set %s not cleared: %v", FormatDate(day), err)
				continue
			}
			res.Cleared += n
		}
	}

	entryLog.WithFields(logrus.Fields{
		"urls":    res.URLCount,
		"parts":   len(res.Parts),
		"path":    res.Path,
		"cleared": res.Cleared,
	}).Info("Delta sitemap emitted")
	return res, nil
}

// write serializes entries at Path, through numbered parts when they exceed one file.
// Parts left over from a larger earlier emission are removed.
func (e *Emitter) write(entries []models.SitemapEntry, now time.Time, res *EmitResult) error {
	dir := filepath.Dir(res.Path)
	if len(entries) <= e.maxURLs {
		if err := utils.WriteFileAtomic(res.Path, func(w io.Writer) error {
			return parse.WriteURLSet(w, entries)
		}); err != nil {
			return fmt.Errorf("write delta sitemap: %w", err)
		}
		e.removeStaleParts(dir, 0)
		return nil
	}

	relDir := filepath.ToSlash(filepath.Dir(e.cfg.Filename))
	var refs []parse.IndexRef
	for n := 1; (n-1)*e.maxURLs < len(entries); n++ {
		chunk := entries[(n-1)*e.maxURLs : min(n*e.maxURLs, len(entries))]
		name := e.partName(n)
		if err := utils.WriteFileAtomic(filepath.Join(dir, name), func(w io.Writer) error {
			return parse.WriteURLSet(w, chunk)
		}); err != nil {
			return fmt.Errorf("write delta sitemap part %d: %w", n, err)
		}
		rel := name
		if relDir != "." {
			rel = relDir + "/" + name
		}
		res.Parts = append(res.Parts, filepath.Join(dir, name))
		refs = append(refs, parse.IndexRef{Loc: e.baseURL + "/" + rel, LastMod: now})
	}
	if err := utils.WriteFileAtomic(res.Path, func(w io.Writer) error {
		return parse.WriteSitemapIndex(w, refs)
	}); err != nil {
		return fmt.Errorf("write delta sitemap index: %w", err)
	}
	e.removeStaleParts(dir, len(refs))
	return nil
}

// removeStaleParts deletes part files numbered above keep
func (e *Emitter) removeStaleParts(dir string, keep int) {
	for n := keep + 1; ; n++ {
		path := filepath.Join(dir, e.partName(n))
		if err := os.Remove(path); err != nil {
			if !os.IsNotExist(err) {
				e.log.WithField("path", path).Warnf("Could not remove stale delta part: %v", err)
			}
			return
		}
	}
}

func (e *Emitter) resolve(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: URL '%s': %w", utils.ErrParsing, raw, err)
	}
	if !u.IsAbs() {
		u = e.base.ResolveReference(u)
	}
	return u.String(), nil
}
