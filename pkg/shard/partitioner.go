package shard

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/sitemap-builder/pkg/models"
	"github.com/Sriram-PR/sitemap-builder/pkg/utils"
)

// Spec declares one shard of a FINAL node
type Spec struct {
	Name           string
	Path           string // Output file, relative to the output directory
	Filter         Filter
	EstimatedCount int
}

// Bucket is one shard and the rows it owns
type Bucket struct {
	Spec    Spec
	Records []models.Record
}

// Result is the outcome of partitioning a row set
type Result struct {
	Buckets   []Bucket
	Unmatched []models.Record // Rows no shard accepted, kept for reporting
}

// Partitioner assigns rows to the shards of one node
type Partitioner struct {
	strategy models.ShardingStrategy
	specs    []Spec
	log      *logrus.Entry
}

// NewPartitioner validates that every spec uses the node's strategy.
// An unknown strategy is a configuration error.
func NewPartitioner(strategy models.ShardingStrategy, specs []Spec, log *logrus.Entry) (*Partitioner, error) {
	if strategy == models.ShardingNone || !strategy.IsValid() {
		return nil, fmt.Errorf("%w: unknown sharding strategy '%s'", utils.ErrConfigValidation, strategy)
	}
	for _, s := range specs {
		if s.Filter.Kind != strategy {
			return nil, fmt.Errorf("%w: shard '%s' uses a %s filter under a %s strategy",
				utils.ErrConfigValidation, s.Name, s.Filter.Kind, strategy)
		}
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Partitioner{strategy: strategy, specs: specs, log: log.WithField("strategy", string(strategy))}, nil
}

// Specs returns the shard declarations in order
func (p *Partitioner) Specs() []Spec {
	return p.specs
}

// Owner returns the index of the first shard accepting rec, or -1.
// Classification uses IDs and slugs, never positions, so reruns are stable.
func (p *Partitioner) Owner(rec models.Record) int {
	for i, s := range p.specs {
		if s.Filter.Match(rec) {
			return i
		}
	}
	return -1
}

// Partition distributes records over the shards. Every record lands in exactly one bucket or in Unmatched.
func (p *Partitioner) Partition(records []models.Record) Result {
	res := Result{Buckets: make([]Bucket, len(p.specs))}
	for i, s := range p.specs {
		res.Buckets[i].Spec = s
	}
	for _, rec := range records {
		if i := p.Owner(rec); i >= 0 {
			res.Buckets[i].Records = append(res.Buckets[i].Records, rec)
			continue
		}
		res.Unmatched = append(res.Unmatched, rec)
	}
	if len(res.Unmatched) > 0 {
		p.log.Warnf("%d rows matched no shard (first: id=%d slug='%s')",
			len(res.Unmatched), res.Unmatched[0].RecordID(), res.Unmatched[0].RecordSlug())
	}
	return res
}

// Overlap is a pair of shards whose ID ranges intersect
type Overlap struct {
	A, B     string
	From, To int64 // Intersection [From, To)
}

// Gap is an ID range no shard covers between the lowest and highest bound
type Gap struct {
	From, To int64 // [From, To)
}

// Overlaps returns every intersecting pair of numeric/offset ranges
func Overlaps(specs []Spec) []Overlap {
	var out []Overlap
	for i := 0; i < len(specs); i++ {
		alo, ahi, ok := specs[i].Filter.Bounds()
		if !ok {
			continue
		}
		for j := i + 1; j < len(specs); j++ {
			blo, bhi, ok := specs[j].Filter.Bounds()
			if !ok {
				continue
			}
			from, to := max(alo, blo), min(ahi, bhi)
			if from < to {
				out = append(out, Overlap{A: specs[i].Name, B: specs[j].Name, From: from, To: to})
			}
		}
	}
	return out
}

// Gaps returns the uncovered holes between numeric/offset ranges
func Gaps(specs []Spec) []Gap {
	type span struct{ lo, hi int64 }
	var spans []span
	for _, s := range specs {
		if lo, hi, ok := s.Filter.Bounds(); ok && lo < hi {
			spans = append(spans, span{lo, hi})
		}
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].lo < spans[j].lo })

	var out []Gap
	if len(spans) == 0 {
		return out
	}
	reach := spans[0].hi
	for _, sp := range spans[1:] {
		if sp.lo > reach {
			out = append(out, Gap{From: reach, To: sp.lo})
		}
		reach = max(reach, sp.hi)
	}
	return out
}
