package delta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/sitemap-builder/pkg/config"
	"github.com/Sriram-PR/sitemap-builder/pkg/metrics"
	"github.com/Sriram-PR/sitemap-builder/pkg/models"
	"github.com/Sriram-PR/sitemap-builder/pkg/storage"
	"github.com/Sriram-PR/sitemap-builder/pkg/utils"
)

const (
	hashPrefix  = "hash:"
	deltaPrefix = "delta:"
	dateLayout  = "2006-01-02"
)

func hashKey(url string) string { return hashPrefix + url }

func deltaDayPrefix(date string) string { return deltaPrefix + date + ":" }

// FormatDate renders the delta set key of t (UTC calendar day)
func FormatDate(t time.Time) string { return t.UTC().Format(dateLayout) }

// ParseDate parses a YYYY-MM-DD delta date
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: delta date '%s' must be YYYY-MM-DD: %w", utils.ErrParsing, s, err)
	}
	return t, nil
}

// Hash returns the fingerprint of data: hex SHA-1 of its canonical JSON
func Hash(data models.URLData) (string, error) {
	if data.Metadata == nil {
		data.Metadata = map[string]any{}
	}
	return utils.CalculateJSONSHA1(data)
}

// fieldHashes fingerprints each part of data separately for change classification
func fieldHashes(data models.URLData) (map[string]string, error) {
	parts := map[string]any{
		"canonical": data.Canonical,
		"price":     data.Price,
		"stock":     data.Stock,
		"metadata":  data.Metadata,
	}
	out := make(map[string]string, len(parts))
	for name, v := range parts {
		h, err := utils.CalculateJSONSHA1(v)
		if err != nil {
			return nil, err
		}
		out[name] = h
	}
	return out, nil
}

var fieldChangeTypes = map[string]models.ChangeType{
	"canonical": models.ChangeTypeCanonicalChanged,
	"price":     models.ChangeTypePriceChanged,
	"stock":     models.ChangeTypeStockChanged,
	"metadata":  models.ChangeTypeMetadataChanged,
}

// classify names the change when exactly one part moved, CONTENT_CHANGED otherwise
func classify(old, cur map[string]string) models.ChangeType {
	if len(old) == 0 {
		return models.ChangeTypeContentChanged
	}
	var changed []string
	for name, h := range cur {
		if old[name] != h {
			changed = append(changed, name)
		}
	}
	if len(changed) == 1 {
		return fieldChangeTypes[changed[0]]
	}
	return models.ChangeTypeContentChanged
}

// Change is one member of a daily delta set
type Change struct {
	URL        string            `json:"url"`
	ChangeType models.ChangeType `json:"change_type"`
	Hash       string            `json:"hash"`
	DetectedAt time.Time         `json:"detected_at"`
}

// CompareResult is the outcome of one comparison
type CompareResult struct {
	URL          string            `json:"url"`
	HasChanged   bool              `json:"has_changed"`
	ChangeType   models.ChangeType `json:"change_type"`
	Hash         string            `json:"hash"`
	PreviousHash string            `json:"previous_hash,omitempty"`
	Skipped      bool              `json:"skipped,omitempty"`  // Store unreachable, nothing recorded
	Degraded     bool              `json:"degraded,omitempty"` // Store unreachable, reported as changed
}

// Stats summarizes one day's delta set
type Stats struct {
	Date         string                    `json:"date"`
	Total        int                       `json:"total"`
	ByChangeType map[models.ChangeType]int `json:"by_change_type"`
}

// CleanupResult counts records removed by Cleanup
type CleanupResult struct {
	Hashes int `json:"hashes"`
	Deltas int `json:"deltas"`
}

// Normalizer maps a page URL to its normalized absolute form. *hygiene.Validator implements it.
type Normalizer interface {
	Normalize(raw string) (string, error)
}

// Tracker fingerprints URL data and records which URLs changed each day.
// Records are keyed by normalized URL, so every spelling of one page shares a fingerprint.
// It is safe for concurrent use; concurrent comparisons of one URL are serialized by the store.
type Tracker struct {
	store   storage.Store
	norm    Normalizer
	cfg     config.DeltaConfig
	log     *logrus.Entry
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewTracker creates a Tracker on store. m may be nil.
func NewTracker(store storage.Store, norm Normalizer, cfg config.DeltaConfig, m *metrics.Metrics, log *logrus.Entry) *Tracker {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Tracker{
		store:   store,
		norm:    norm,
		cfg:     cfg,
		log:     log.WithField("component", "delta_tracker"),
		metrics: m,
		now:     time.Now,
	}
}

// SetClock replaces the tracker's clock
func (t *Tracker) SetClock(now func() time.Time) { t.now = now }

// normalize returns the key form of url
func (t *Tracker) normalize(url string) (string, error) {
	if strings.TrimSpace(url) == "" {
		return "", fmt.Errorf("%w: empty URL", utils.ErrParsing)
	}
	loc, err := t.norm.Normalize(url)
	if err != nil {
		if errors.Is(err, utils.ErrParsing) {
			return "", err
		}
		return "", fmt.Errorf("%w: URL '%s': %w", utils.ErrParsing, url, err)
	}
	return loc, nil
}

// Compare fingerprints data and compares it with the stored fingerprint of url.
// On a change the URL joins today's delta set and the stored hash is replaced, keeping the
// previous one. When the store is unreachable the comparison is skipped, or reported as
// changed when the tracker is configured to degrade.
func (t *Tracker) Compare(ctx context.Context, rawURL string, data models.URLData) (CompareResult, error) {
	url, err := t.normalize(rawURL)
	if err != nil {
		return CompareResult{}, err
	}
	hash, err := Hash(data)
	if err != nil {
		return CompareResult{}, err
	}
	res := CompareResult{URL: url, Hash: hash}

	var fields map[string]string
	if t.cfg.ClassifyChanges {
		if fields, err = fieldHashes(data); err != nil {
			return CompareResult{}, err
		}
	}

	now := t.now().UTC()
	err = t.store.Update(ctx, hashKey(url), t.cfg.Retention(), func(old []byte) ([]byte, error) {
		// Reset on every attempt; the store may retry fn
		res.HasChanged, res.PreviousHash, res.ChangeType = false, "", models.ChangeTypeUnchanged

		rec := models.URLContentHash{URL: url, Hash: hash, LastModified: now, LastSeen: now, Fields: fields}
		if old == nil {
			res.HasChanged, res.ChangeType = true, models.ChangeTypeNew
			rec.ChangeType = models.ChangeTypeNew
			return json.Marshal(rec)
		}

		var prev models.URLContentHash
		if err := json.Unmarshal(old, &prev); err != nil {
			// Unreadable records are replaced as if the URL were new
			t.log.WithField("url", url).Warnf("Discarding unreadable hash record: %v", err)
			res.HasChanged, res.ChangeType = true, models.ChangeTypeNew
			rec.ChangeType = models.ChangeTypeNew
			return json.Marshal(rec)
		}

		if prev.Hash == hash {
			// Refresh last-seen so retention counts from the latest observation
			prev.LastSeen = now
			return json.Marshal(prev)
		}

		res.HasChanged = true
		res.PreviousHash = prev.Hash
		res.ChangeType = models.ChangeTypeContentChanged
		if t.cfg.ClassifyChanges {
			res.ChangeType = classify(prev.Fields, fields)
		}
		rec.ChangeType = res.ChangeType
		rec.PreviousHash = prev.Hash
		return json.Marshal(rec)
	})
	if err != nil {
		if ctx.Err() != nil {
			return CompareResult{}, ctx.Err()
		}
		if !isStoreError(err) {
			return CompareResult{}, err
		}
		return t.storeFailure(res, err)
	}

	if !res.HasChanged {
		return res, nil
	}
	if err := t.recordChange(ctx, now, res); err != nil {
		if ctx.Err() != nil {
			return CompareResult{}, ctx.Err()
		}
		// The hash already moved; losing the delta entry only delays the crawl hint
		t.log.WithField("url", url).Warnf("Change detected but not added to delta set: %v", err)
		t.metrics.IncStoreFailure()
	}
	t.metrics.IncChange(res.ChangeType.String())
	return res, nil
}

func (t *Tracker) storeFailure(res CompareResult, err error) (CompareResult, error) {
	t.metrics.IncStoreFailure()
	entry := t.log.WithFields(logrus.Fields{"url": res.URL, "error_type": utils.CategorizeError(err)})
	if t.cfg.TreatAllChangedOnStoreFailure {
		entry.Warnf("Hash store failure, treating URL as changed: %v", err)
		res.HasChanged = true
		res.ChangeType = models.ChangeTypeContentChanged
		res.PreviousHash = ""
		res.Degraded = true
		return res, nil
	}
	entry.Warnf("Hash store failure, change tracking skipped: %v", err)
	res.HasChanged = false
	res.ChangeType = ""
	res.PreviousHash = ""
	res.Skipped = true
	return res, nil
}

// recordChange adds the URL to the day's set. Re-adding overwrites the same key.
func (t *Tracker) recordChange(ctx context.Context, now time.Time, res CompareResult) error {
	value, err := json.Marshal(Change{URL: res.URL, ChangeType: res.ChangeType, Hash: res.Hash, DetectedAt: now})
	if err != nil {
		return fmt.Errorf("%w: encode delta entry: %w", utils.ErrParsing, err)
	}
	key := deltaDayPrefix(FormatDate(now)) + res.URL
	return t.store.Set(ctx, key, value, t.cfg.Retention())
}

// Changes returns the delta set of the given day, ordered by URL
func (t *Tracker) Changes(ctx context.Context, day time.Time) ([]Change, error) {
	var out []Change
	err := t.store.Scan(ctx, deltaDayPrefix(FormatDate(day)), func(key string, value []byte) error {
		var c Change
		if err := json.Unmarshal(value, &c); err != nil {
			t.log.WithField("key", key).Warnf("Skipping unreadable delta entry: %v", err)
			return nil
		}
		out = append(out, c)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out, nil
}

// Stats counts the day's changes by type
func (t *Tracker) Stats(ctx context.Context, day time.Time) (Stats, error) {
	changes, err := t.Changes(ctx, day)
	if err != nil {
		return Stats{}, err
	}
	s := Stats{Date: FormatDate(day), Total: len(changes), ByChangeType: make(map[models.ChangeType]int)}
	for _, c := range changes {
		s.ByChangeType[c.ChangeType]++
	}
	return s, nil
}

// Clear drops the day's delta set and returns how many entries it held
func (t *Tracker) Clear(ctx context.Context, day time.Time) (int, error) {
	return t.store.DeletePrefix(ctx, deltaDayPrefix(FormatDate(day)))
}

// Lookup returns the stored fingerprint of url, or storage.ErrNotFound
func (t *Tracker) Lookup(ctx context.Context, rawURL string) (models.URLContentHash, error) {
	url, err := t.normalize(rawURL)
	if err != nil {
		return models.URLContentHash{}, err
	}
	raw, err := t.store.Get(ctx, hashKey(url))
	if err != nil {
		return models.URLContentHash{}, err
	}
	var rec models.URLContentHash
	if err := json.Unmarshal(raw, &rec); err != nil {
		return models.URLContentHash{}, fmt.Errorf("%w: decode hash record of '%s': %w", utils.ErrParsing, url, err)
	}
	return rec, nil
}

// Cleanup removes hash records not seen and delta sets not written within the retention window.
// Stores with native TTLs expire most of them already; this covers retention changes and TTL-less stores.
func (t *Tracker) Cleanup(ctx context.Context) (CleanupResult, error) {
	var res CleanupResult
	cutoff := t.now().UTC().Add(-t.cfg.Retention())
	cutoffDay := FormatDate(cutoff)

	var staleHashes []string
	err := t.store.Scan(ctx, hashPrefix, func(key string, value []byte) error {
		var rec models.URLContentHash
		if err := json.Unmarshal(value, &rec); err != nil || rec.LastSeen.Before(cutoff) {
			staleHashes = append(staleHashes, key)
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	for _, key := range staleHashes {
		if err := t.store.Delete(ctx, key); err != nil {
			return res, err
		}
		res.Hashes++
	}

	staleDays := make(map[string]bool)
	err = t.store.Scan(ctx, deltaPrefix, func(key string, _ []byte) error {
		day, _, ok := strings.Cut(strings.TrimPrefix(key, deltaPrefix), ":")
		if ok && day < cutoffDay {
			staleDays[day] = true
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	for day := range staleDays {
		n, err := t.store.DeletePrefix(ctx, deltaDayPrefix(day))
		if err != nil {
			return res, err
		}
		res.Deltas += n
	}

	t.log.WithFields(logrus.Fields{"hashes": res.Hashes, "deltas": res.Deltas, "cutoff": cutoffDay}).
		Info("Delta retention cleanup finished")
	return res, nil
}

// isStoreError reports whether err came from the hash store rather than the caller
func isStoreError(err error) bool {
	return errors.Is(err, utils.ErrStoreUnavailable) || errors.Is(err, utils.ErrDatabase)
}
