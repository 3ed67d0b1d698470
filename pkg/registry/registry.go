package registry

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/Sriram-PR/sitemap-builder/pkg/config"
	"github.com/Sriram-PR/sitemap-builder/pkg/models"
	"github.com/Sriram-PR/sitemap-builder/pkg/shard"
	"github.com/Sriram-PR/sitemap-builder/pkg/utils"
)

// Node is an immutable sitemap tree node. Callers must not modify its slices.
type Node struct {
	Name        string
	Kind        models.NodeKind
	Path        string // Output file relative to the output directory; the node index for sharded FINAL nodes
	Children    []string
	Strategy    models.ShardingStrategy
	Shards      []shard.Spec
	Entity      models.EntityKind
	ContentType models.ContentType
	ChangeFreq  models.ChangeFreq
	Priority    float64
	CacheTTL    time.Duration
	Compress    bool

	partitioner *shard.Partitioner
}

// Sharded returns true for FINAL nodes split into several files
func (n *Node) Sharded() bool {
	return len(n.Shards) > 0
}

// Partitioner returns the node's partitioner, nil when the node is not sharded
func (n *Node) Partitioner() *shard.Partitioner {
	return n.partitioner
}

// Registry is the validated, read-only sitemap tree
type Registry struct {
	nodes map[string]*Node
	order []string
}

// Build validates the node declarations and returns the registry.
// Every structural problem is collected before failing; overlapping shards are fatal
// unless the node allows them, gaps between numeric ranges are only warnings.
func Build(decls []config.NodeConfig, preds shard.Predicates) (*Registry, []string, error) {
	var (
		errs     *multierror.Error
		warnings []string
	)
	reg := &Registry{nodes: make(map[string]*Node, len(decls))}

	for _, d := range decls {
		if d.Name == "" {
			errs = multierror.Append(errs, fmt.Errorf("%w: node without name", utils.ErrConfigValidation))
			continue
		}
		if _, dup := reg.nodes[d.Name]; dup {
			errs = multierror.Append(errs, fmt.Errorf("%w: node '%s' declared twice", utils.ErrConfigValidation, d.Name))
			continue
		}
		node, w, err := buildNode(d, preds)
		for _, msg := range w {
			warnings = append(warnings, fmt.Sprintf("node '%s': %s", d.Name, msg))
		}
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		reg.nodes[d.Name] = node
		reg.order = append(reg.order, d.Name)
	}

	// Children must resolve
	for _, name := range reg.order {
		for _, child := range reg.nodes[name].Children {
			if _, ok := reg.nodes[child]; !ok {
				errs = multierror.Append(errs, fmt.Errorf("%w: node '%s' references unknown child '%s'",
					utils.ErrConfigValidation, name, child))
			}
		}
	}
	if cycle := reg.findCycle(); cycle != "" {
		errs = multierror.Append(errs, fmt.Errorf("%w: cycle in sitemap tree: %s", utils.ErrConfigValidation, cycle))
	}

	// Two nodes writing the same file would overwrite each other
	seen := make(map[string]string)
	for _, name := range reg.order {
		n := reg.nodes[name]
		paths := []string{n.Path}
		for _, s := range n.Shards {
			paths = append(paths, s.Path)
		}
		for _, p := range paths {
			if owner, ok := seen[p]; ok {
				errs = multierror.Append(errs, fmt.Errorf("%w: output '%s' of node '%s' already written by '%s'",
					utils.ErrConfigValidation, p, name, owner))
				continue
			}
			seen[p] = name
		}
	}

	if err := errs.ErrorOrNil(); err != nil {
		return nil, warnings, err
	}
	return reg, warnings, nil
}

func buildNode(d config.NodeConfig, preds shard.Predicates) (*Node, []string, error) {
	var (
		errs     *multierror.Error
		warnings []string
	)
	fail := func(format string, args ...any) {
		errs = multierror.Append(errs, fmt.Errorf("%w: node '%s': %s", utils.ErrConfigValidation, d.Name, fmt.Sprintf(format, args...)))
	}

	n := &Node{
		Name:        d.Name,
		Kind:        d.Kind,
		Path:        d.Path,
		Children:    append([]string(nil), d.Children...),
		Strategy:    models.ShardingStrategy(d.Strategy),
		Entity:      d.Entity,
		ContentType: config.GetEffectiveContentType(d),
		ChangeFreq:  models.ChangeFreq(d.ChangeFreq),
		Priority:    config.GetEffectivePriority(d),
		CacheTTL:    d.CacheTTL,
		Compress:    config.GetEffectiveCompress(d),
	}

	if !n.Kind.IsValid() {
		fail("unknown kind '%s'", d.Kind)
	}
	if n.Path == "" {
		n.Path = utils.SanitizeFilename(d.Name) + ".xml"
	}
	if err := checkRelativePath(n.Path); err != nil {
		fail("%v", err)
	}
	if !n.ChangeFreq.IsValid() {
		fail("invalid changefreq '%s'", d.ChangeFreq)
	}
	if n.Priority < 0 || n.Priority > 1 {
		fail("priority %v outside [0,1]", n.Priority)
	}
	if !n.ContentType.IsValid() {
		fail("unknown content_type '%s'", n.ContentType)
	}

	if n.Kind.IsAggregate() {
		if len(n.Children) == 0 {
			warnings = append(warnings, "aggregate node has no children, its index will be empty")
		}
		if len(d.Shards) > 0 || d.Strategy != "" {
			fail("%s nodes cannot declare shards", n.Kind)
		}
		return n, warnings, errs.ErrorOrNil()
	}

	// FINAL
	if len(n.Children) > 0 {
		fail("FINAL node cannot have children")
	}
	if !n.Entity.IsValid() {
		fail("FINAL node needs a known entity, got '%s'", d.Entity)
	}
	if len(d.Shards) == 0 {
		if d.Strategy != "" {
			warnings = append(warnings, "sharding_strategy without shards is ignored")
			n.Strategy = models.ShardingNone
		}
		return n, warnings, errs.ErrorOrNil()
	}

	if !n.Strategy.IsValid() || n.Strategy == models.ShardingNone {
		fail("unknown sharding strategy '%s'", d.Strategy)
		return n, warnings, errs.ErrorOrNil()
	}

	ext := ".xml"
	if n.Compress {
		ext = ".xml.gz"
	}
	base := strings.TrimSuffix(n.Path, ".xml")
	names := make(map[string]bool)
	for i, sc := range d.Shards {
		if sc.Name == "" {
			sc.Name = fmt.Sprintf("%d", i+1)
		}
		if names[sc.Name] {
			fail("shard '%s' declared twice", sc.Name)
			continue
		}
		names[sc.Name] = true

		filter, err := buildFilter(n.Strategy, sc, preds)
		if err != nil {
			fail("shard '%s': %v", sc.Name, err)
			continue
		}
		spec := shard.Spec{Name: sc.Name, Path: sc.Path, Filter: filter, EstimatedCount: sc.EstimatedCount}
		if spec.Path == "" {
			spec.Path = base + "-" + utils.SanitizeFilename(sc.Name) + ext
		}
		if err := checkRelativePath(spec.Path); err != nil {
			fail("shard '%s': %v", sc.Name, err)
			continue
		}
		n.Shards = append(n.Shards, spec)
	}

	for _, o := range shard.Overlaps(n.Shards) {
		msg := fmt.Sprintf("shards '%s' and '%s' overlap on [%d,%d)", o.A, o.B, o.From, o.To)
		if d.AllowOverlappingShards {
			warnings = append(warnings, msg+", first declared shard wins")
		} else {
			fail("%s", msg)
		}
	}
	for _, g := range shard.Gaps(n.Shards) {
		warnings = append(warnings, fmt.Sprintf("IDs in [%d,%d) are covered by no shard", g.From, g.To))
	}

	if errs.ErrorOrNil() == nil {
		p, err := shard.NewPartitioner(n.Strategy, n.Shards, nil)
		if err != nil {
			fail("%v", err)
		}
		n.partitioner = p
	}
	return n, warnings, errs.ErrorOrNil()
}

func buildFilter(strategy models.ShardingStrategy, sc config.ShardConfig, preds shard.Predicates) (shard.Filter, error) {
	switch strategy {
	case models.ShardingAlphabetic:
		if sc.Pattern == "" {
			return shard.Filter{}, fmt.Errorf("alphabetic shard needs a pattern")
		}
		return shard.AlphabeticFilter(sc.Pattern)
	case models.ShardingNumeric:
		if sc.Min == nil || sc.Max == nil {
			return shard.Filter{}, fmt.Errorf("numeric shard needs min and max")
		}
		if *sc.Min >= *sc.Max {
			return shard.Filter{}, fmt.Errorf("numeric shard range [%d,%d) is empty", *sc.Min, *sc.Max)
		}
		return shard.NumericFilter(*sc.Min, *sc.Max), nil
	case models.ShardingOffset:
		if sc.Offset < 0 || sc.Limit <= 0 {
			return shard.Filter{}, fmt.Errorf("offset shard needs offset >= 0 and limit > 0")
		}
		return shard.OffsetFilter(sc.Offset, sc.Limit), nil
	case models.ShardingTemporal:
		if sc.Year <= 0 {
			return shard.Filter{}, fmt.Errorf("temporal shard needs a year")
		}
		return shard.TemporalFilter(sc.Year), nil
	case models.ShardingCustom:
		pred, ok := preds[sc.Predicate]
		if !ok {
			return shard.Filter{}, fmt.Errorf("unknown predicate '%s'", sc.Predicate)
		}
		return shard.CustomFilter(sc.Predicate, pred), nil
	}
	return shard.Filter{}, fmt.Errorf("unknown sharding strategy '%s'", strategy)
}

func checkRelativePath(p string) error {
	if p == "" || path.IsAbs(p) || filepath.IsAbs(p) {
		return fmt.Errorf("path '%s' must be relative to the output directory", p)
	}
	clean := path.Clean(p)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("path '%s' escapes the output directory", p)
	}
	return nil
}

// findCycle returns a rendering of the first cycle found, or ""
func (r *Registry) findCycle() string {
	const (
		unvisited = iota
		visiting
		visited
	)
	state := make(map[string]int, len(r.nodes))
	var stack []string
	var walk func(name string) string
	walk = func(name string) string {
		state[name] = visiting
		stack = append(stack, name)
		for _, child := range r.nodes[name].Children {
			if _, ok := r.nodes[child]; !ok {
				continue
			}
			switch state[child] {
			case visiting:
				return strings.Join(append(stack, child), " -> ")
			case unvisited:
				if c := walk(child); c != "" {
					return c
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[name] = visited
		return ""
	}
	for _, name := range r.order {
		if state[name] == unvisited {
			if c := walk(name); c != "" {
				return c
			}
		}
	}
	return ""
}

// Get returns the node with the given name
func (r *Registry) Get(name string) (*Node, error) {
	n, ok := r.nodes[name]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", utils.ErrUnknownNode, name)
	}
	return n, nil
}

// Names returns node names in declaration order
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Nodes returns all nodes in declaration order
func (r *Registry) Nodes() []*Node {
	out := make([]*Node, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.nodes[name])
	}
	return out
}

// Roots returns the nodes no other node lists as a child
func (r *Registry) Roots() []*Node {
	referenced := make(map[string]bool)
	for _, n := range r.nodes {
		for _, c := range n.Children {
			referenced[c] = true
		}
	}
	var out []*Node
	for _, name := range r.order {
		if !referenced[name] {
			out = append(out, r.nodes[name])
		}
	}
	return out
}

// FinalNodes returns the FINAL nodes reachable from name, in depth-first order
func (r *Registry) FinalNodes(name string) ([]*Node, error) {
	root, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	var out []*Node
	seen := make(map[string]bool)
	var walk func(n *Node)
	walk = func(n *Node) {
		if seen[n.Name] {
			return
		}
		seen[n.Name] = true
		if n.Kind == models.NodeKindFinal {
			out = append(out, n)
			return
		}
		for _, c := range n.Children {
			walk(r.nodes[c])
		}
	}
	walk(root)
	return out, nil
}
