package dedup

import (
	"sort"

	"github.com/Sriram-PR/sitemap-builder/pkg/models"
)

const maxVariants = 10 // Raw variants kept per collision group

// Collision describes a normalized URL that was produced more than once
type Collision struct {
	Loc        string   `json:"loc"`         // Normalized URL
	Winner     string   `json:"winner"`      // Raw form of the first occurrence, the one kept
	Duplicates int      `json:"duplicates"`  // Occurrences excluded from output
	Variants   []string `json:"variants"`    // Distinct raw forms of the excluded occurrences
	CrossShard bool     `json:"cross_shard"` // Seen in more than one shard of the node
}

type group struct {
	winner     string
	duplicates int
	variants   []string
	crossShard bool
}

// Deduplicator keeps the first occurrence of every normalized URL.
// One instance is used per shard; shard results are combined with Merge once the shards finish.
// It is not safe for concurrent use.
type Deduplicator struct {
	groups map[string]*group
	total  int
}

// New creates an empty Deduplicator
func New() *Deduplicator {
	return &Deduplicator{groups: make(map[string]*group)}
}

// Add records one occurrence of normalized (produced from raw) and reports whether it is the
// first one. Later occurrences are recorded in the collision group and must be dropped.
func (d *Deduplicator) Add(normalized, raw string) bool {
	d.total++
	g, ok := d.groups[normalized]
	if !ok {
		d.groups[normalized] = &group{winner: raw}
		return true
	}
	g.duplicates++
	g.addVariant(raw)
	return false
}

func (g *group) addVariant(raw string) {
	if len(g.variants) >= maxVariants {
		return
	}
	for _, v := range g.variants {
		if v == raw {
			return
		}
	}
	g.variants = append(g.variants, raw)
}

// Seen reports whether normalized has been added
func (d *Deduplicator) Seen(normalized string) bool {
	_, ok := d.groups[normalized]
	return ok
}

// Unique returns the number of distinct normalized URLs
func (d *Deduplicator) Unique() int { return len(d.groups) }

// Total returns the number of occurrences added
func (d *Deduplicator) Total() int { return d.total }

// Duplicates returns the number of excluded occurrences
func (d *Deduplicator) Duplicates() int {
	n := 0
	for _, g := range d.groups {
		n += g.duplicates
	}
	return n
}

// Collisions returns every group with at least one excluded occurrence, sorted by URL
func (d *Deduplicator) Collisions() []Collision {
	var out []Collision
	for loc, g := range d.groups {
		if g.duplicates == 0 {
			continue
		}
		out = append(out, Collision{
			Loc:        loc,
			Winner:     g.winner,
			Duplicates: g.duplicates,
			Variants:   append([]string(nil), g.variants...),
			CrossShard: g.crossShard,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Loc < out[j].Loc })
	return out
}

// Merge folds other (a later shard) into d. A URL already present in d keeps d's winner;
// other's occurrences are all counted as duplicates of it and the group is marked cross-shard.
func (d *Deduplicator) Merge(other *Deduplicator) {
	if other == nil {
		return
	}
	d.total += other.total
	for loc, og := range other.groups {
		g, ok := d.groups[loc]
		if !ok {
			d.groups[loc] = &group{
				winner:     og.winner,
				duplicates: og.duplicates,
				variants:   append([]string(nil), og.variants...),
				crossShard: og.crossShard,
			}
			continue
		}
		g.duplicates += og.duplicates + 1
		g.crossShard = true
		g.addVariant(og.winner)
		for _, v := range og.variants {
			g.addVariant(v)
		}
	}
}

// Entries removes entries whose Loc was already seen, preserving order
func Entries(entries []models.SitemapEntry) ([]models.SitemapEntry, *Deduplicator) {
	d := New()
	out := make([]models.SitemapEntry, 0, len(entries))
	for _, e := range entries {
		if d.Add(e.Loc, e.Loc) {
			out = append(out, e)
		}
	}
	return out, d
}
