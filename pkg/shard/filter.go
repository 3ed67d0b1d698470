package shard

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/Sriram-PR/sitemap-builder/pkg/models"
	"github.com/Sriram-PR/sitemap-builder/pkg/utils"
)

// Predicate decides whether a raw catalog row belongs to a custom shard
type Predicate func(models.Record) bool

// Filter is the tagged union selecting the rows of one shard. Only the fields of Kind are meaningful.
type Filter struct {
	Kind models.ShardingStrategy

	// alphabetic
	Pattern *regexp.Regexp

	// numeric and offset, half-open on IDs: [Min, Max)
	Min int64
	Max int64

	// temporal
	Year int

	// custom
	PredicateName string
	Predicate     Predicate
}

// NumericFilter selects IDs in [lo, hi)
func NumericFilter(lo, hi int64) Filter {
	return Filter{Kind: models.ShardingNumeric, Min: lo, Max: hi}
}

// OffsetFilter selects the ID window [offset, offset+limit)
func OffsetFilter(offset, limit int64) Filter {
	return Filter{Kind: models.ShardingOffset, Min: offset, Max: offset + limit}
}

// TemporalFilter selects rows whose primary date falls in year (UTC)
func TemporalFilter(year int) Filter {
	return Filter{Kind: models.ShardingTemporal, Year: year}
}

// AlphabeticFilter selects rows whose lowercased slug matches pattern
func AlphabeticFilter(pattern string) (Filter, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Filter{}, fmt.Errorf("%w: invalid alphabetic shard pattern '%s': %w", utils.ErrConfigValidation, pattern, err)
	}
	return Filter{Kind: models.ShardingAlphabetic, Pattern: re}, nil
}

// CustomFilter selects rows accepted by pred
func CustomFilter(name string, pred Predicate) Filter {
	return Filter{Kind: models.ShardingCustom, PredicateName: name, Predicate: pred}
}

// Match reports whether rec belongs to the shard
func (f Filter) Match(rec models.Record) bool {
	switch f.Kind {
	case models.ShardingNumeric, models.ShardingOffset:
		id := rec.RecordID()
		return id >= f.Min && id < f.Max
	case models.ShardingTemporal:
		d := rec.RecordDate()
		return !d.IsZero() && d.UTC().Year() == f.Year
	case models.ShardingAlphabetic:
		return f.Pattern != nil && f.Pattern.MatchString(strings.ToLower(rec.RecordSlug()))
	case models.ShardingCustom:
		return f.Predicate != nil && f.Predicate(rec)
	}
	return false
}

// Key returns the value a row was classified on: the first matched group for alphabetic
// shards, the ID or year otherwise. Used in diagnostics.
func (f Filter) Key(rec models.Record) string {
	switch f.Kind {
	case models.ShardingAlphabetic:
		if f.Pattern == nil {
			return ""
		}
		m := f.Pattern.FindStringSubmatch(strings.ToLower(rec.RecordSlug()))
		if len(m) > 1 {
			return m[1]
		}
		if len(m) == 1 {
			return m[0]
		}
		return ""
	case models.ShardingTemporal:
		return fmt.Sprintf("%d", rec.RecordDate().UTC().Year())
	}
	return fmt.Sprintf("%d", rec.RecordID())
}

// Bounds returns the ID range for numeric and offset filters
func (f Filter) Bounds() (lo, hi int64, ok bool) {
	if f.Kind == models.ShardingNumeric || f.Kind == models.ShardingOffset {
		return f.Min, f.Max, true
	}
	return 0, 0, false
}

// YearRange returns [start, end) of a temporal filter's year
func (f Filter) YearRange() (start, end time.Time, ok bool) {
	if f.Kind != models.ShardingTemporal {
		return time.Time{}, time.Time{}, false
	}
	start = time.Date(f.Year, time.January, 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(1, 0, 0), true
}

// String implements fmt.Stringer for logging
func (f Filter) String() string {
	switch f.Kind {
	case models.ShardingNumeric:
		return fmt.Sprintf("numeric[%d,%d)", f.Min, f.Max)
	case models.ShardingOffset:
		return fmt.Sprintf("offset[%d,+%d)", f.Min, f.Max-f.Min)
	case models.ShardingTemporal:
		return fmt.Sprintf("temporal(%d)", f.Year)
	case models.ShardingAlphabetic:
		if f.Pattern == nil {
			return "alphabetic(<nil>)"
		}
		return fmt.Sprintf("alphabetic(%s)", f.Pattern.String())
	case models.ShardingCustom:
		return fmt.Sprintf("custom(%s)", f.PredicateName)
	}
	return "none"
}

// Predicates maps names usable from configuration to custom predicates
type Predicates map[string]Predicate

// DefaultPredicates returns the built-in custom predicates
func DefaultPredicates() Predicates {
	return Predicates{
		"in_stock": func(r models.Record) bool {
			p, ok := r.(models.Product)
			return ok && (p.Availability == models.AvailabilityInStock || p.Availability == models.AvailabilityPerennial)
		},
		"out_of_stock": func(r models.Record) bool {
			p, ok := r.(models.Product)
			return ok && p.Availability == models.AvailabilityOutOfStockTemporary
		},
		"has_images": func(r models.Record) bool {
			p, ok := r.(models.Product)
			return ok && p.Images.Main != ""
		},
		"vehicle_fitment": func(r models.Record) bool {
			p, ok := r.(models.Product)
			return ok && p.TypeID > 0
		},
	}
}
