package sitemap

import (
	"sort"
	"sync"
	"time"

	"github.com/Sriram-PR/sitemap-builder/pkg/dedup"
	"github.com/Sriram-PR/sitemap-builder/pkg/hreflang"
	"github.com/Sriram-PR/sitemap-builder/pkg/hygiene"
	"github.com/Sriram-PR/sitemap-builder/pkg/models"
	"github.com/Sriram-PR/sitemap-builder/pkg/stream"
)

const maxReportSamples = 20 // Collisions and symmetry errors listed in full per node

// NodeReport holds the data-quality findings of one FINAL node
type NodeReport struct {
	Candidates       int                        `json:"candidates"`
	Included         int                        `json:"included"`
	Excluded         map[hygiene.ReasonCode]int `json:"excluded,omitempty"` // A candidate counts once per violated rule
	ExcludedURLs     int                        `json:"excluded_urls"`
	MappingErrors    int                        `json:"mapping_errors,omitempty"`
	Duplicates       int                        `json:"duplicates"`
	Collisions       []dedup.Collision          `json:"collisions,omitempty"`
	HreflangErrors   []hreflang.SymmetryError   `json:"hreflang_errors,omitempty"`
	HreflangTotal    int                        `json:"hreflang_error_count,omitempty"`
	LastModFallbacks int                        `json:"lastmod_fallbacks,omitempty"` // Entries dated "now" for lack of any timestamp
	Unmatched        int                        `json:"unmatched,omitempty"`         // Rows no shard accepted
}

func newNodeReport() *NodeReport {
	return &NodeReport{Excluded: make(map[hygiene.ReasonCode]int)}
}

// NodeResult is the outcome of one node
type NodeResult struct {
	Name     string             `json:"name"`
	Kind     models.NodeKind    `json:"kind"`
	State    models.NodeState   `json:"state"`
	Path     string             `json:"path,omitempty"` // Artifact the parent lists: a urlset or the node's index
	Loc      string             `json:"loc,omitempty"`
	LastMod  time.Time          `json:"lastmod"`
	URLCount int                `json:"url_count"`
	Cached   bool               `json:"cached,omitempty"` // Fresh output kept, nothing regenerated
	Partial  bool               `json:"partial,omitempty"`
	Shards   []stream.ShardStat `json:"shards,omitempty"`
	Failed   []stream.ShardStat `json:"failed_shards,omitempty"`
	Report   *NodeReport        `json:"report,omitempty"`
	Duration time.Duration      `json:"duration"`
	Error    string             `json:"error,omitempty"`
}

// Succeeded reports whether the node produced its artifact
func (r *NodeResult) Succeeded() bool {
	return r.State == models.NodeStateDone
}

// RunResult is the outcome of one Generate call
type RunResult struct {
	RunID     string        `json:"run_id"`
	Root      string        `json:"root"`
	Success   bool          `json:"success"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Nodes     []*NodeResult `json:"nodes"` // In completion order
	Errors    []string      `json:"errors,omitempty"`

	mu     sync.Mutex
	byName map[string]*NodeResult
}

func newRunResult(id, root string) *RunResult {
	return &RunResult{RunID: id, Root: root, StartedAt: time.Now(), byName: make(map[string]*NodeResult)}
}

func (r *RunResult) add(n *NodeResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Nodes = append(r.Nodes, n)
	r.byName[n.Name] = n
	if n.Error != "" {
		r.Errors = append(r.Errors, n.Name+": "+n.Error)
	}
}

func (r *RunResult) get(name string) (*NodeResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.byName[name]; ok {
		return n, true
	}
	for _, n := range r.Nodes {
		if n.Name == name {
			return n, true
		}
	}
	return nil, false
}

// Node returns the result of the named node
func (r *RunResult) Node(name string) (*NodeResult, bool) {
	return r.get(name)
}

// Artifacts returns the paths written or kept by the run, sorted
func (r *RunResult) Artifacts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]bool)
	for _, n := range r.Nodes {
		if !n.Succeeded() {
			continue
		}
		if n.Path != "" {
			seen[n.Path] = true
		}
		for _, s := range n.Shards {
			seen[s.Path] = true
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Totals sums the FINAL node reports
func (r *RunResult) Totals() NodeReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := NodeReport{Excluded: make(map[hygiene.ReasonCode]int)}
	for _, n := range r.Nodes {
		if n.Report == nil {
			continue
		}
		t.Candidates += n.Report.Candidates
		t.Included += n.Report.Included
		t.ExcludedURLs += n.Report.ExcludedURLs
		t.MappingErrors += n.Report.MappingErrors
		t.Duplicates += n.Report.Duplicates
		t.HreflangTotal += n.Report.HreflangTotal
		t.LastModFallbacks += n.Report.LastModFallbacks
		t.Unmatched += n.Report.Unmatched
		for code, c := range n.Report.Excluded {
			t.Excluded[code] += c
		}
	}
	return t
}
