package sitemap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Sriram-PR/sitemap-builder/pkg/catalog"
	"github.com/Sriram-PR/sitemap-builder/pkg/datasource"
	"github.com/Sriram-PR/sitemap-builder/pkg/dedup"
	"github.com/Sriram-PR/sitemap-builder/pkg/hreflang"
	"github.com/Sriram-PR/sitemap-builder/pkg/hygiene"
	"github.com/Sriram-PR/sitemap-builder/pkg/images"
	"github.com/Sriram-PR/sitemap-builder/pkg/metrics"
	"github.com/Sriram-PR/sitemap-builder/pkg/models"
	"github.com/Sriram-PR/sitemap-builder/pkg/parse"
	"github.com/Sriram-PR/sitemap-builder/pkg/registry"
	"github.com/Sriram-PR/sitemap-builder/pkg/stream"
	"github.com/Sriram-PR/sitemap-builder/pkg/utils"
)

const defaultShardWorkers = 4

// Deps are the collaborators a Generator drives. Hreflang, Images and Metrics may be nil.
type Deps struct {
	Registry     *registry.Registry
	Pager        *datasource.Pager
	Mapper       *catalog.Mapper
	Validator    *hygiene.Validator
	Hreflang     *hreflang.Expander
	Images       *images.Annotator
	Emitter      *stream.Emitter
	Metrics      *metrics.Metrics
	EmitVariants bool // List every localized URL as its own entry as well
	ShardWorkers int  // Shards of one node fetched and validated concurrently
}

// Generator turns registry nodes into sitemap files. Generating an aggregate node generates
// its whole subtree; a node can be generated by one run at a time.
type Generator struct {
	deps      Deps
	outputDir string
	log       *logrus.Entry
	now       func() time.Time

	mu       sync.Mutex
	states   map[string]models.NodeState
	inFlight map[string]string // Node name -> run ID
}

// NewGenerator validates deps and creates a generator writing under outputDir
func NewGenerator(deps Deps, outputDir string, log *logrus.Entry) (*Generator, error) {
	switch {
	case deps.Registry == nil:
		return nil, errors.New("generator requires a registry")
	case deps.Pager == nil:
		return nil, errors.New("generator requires a pager")
	case deps.Mapper == nil:
		return nil, errors.New("generator requires a mapper")
	case deps.Validator == nil:
		return nil, errors.New("generator requires a validator")
	case deps.Emitter == nil:
		return nil, errors.New("generator requires an emitter")
	}
	if deps.ShardWorkers <= 0 {
		deps.ShardWorkers = defaultShardWorkers
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Generator{
		deps:      deps,
		outputDir: outputDir,
		log:       log.WithField("component", "generator"),
		now:       time.Now,
		states:    make(map[string]models.NodeState),
		inFlight:  make(map[string]string),
	}, nil
}

// SetClock replaces the generator's clock
func (g *Generator) SetClock(now func() time.Time) { g.now = now }

// Registry returns the tree the generator serves
func (g *Generator) Registry() *registry.Registry { return g.deps.Registry }

// State returns the last known state of a node, empty if it was never generated
func (g *Generator) State(name string) models.NodeState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.states[name]
}

// InFlight reports whether a run is generating the node right now
func (g *Generator) InFlight(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.inFlight[name]
	return ok
}

// Generate builds the named node and, for aggregate nodes, every descendant.
// It fails with ErrUnknownNode or ErrNodeInFlight before doing any work; after that, failures
// are reported per node in the result and the returned error is nil.
func (g *Generator) Generate(ctx context.Context, name string) (*RunResult, error) {
	node, err := g.deps.Registry.Get(name)
	if err != nil {
		return nil, err
	}
	run := newRunResult(uuid.NewString(), name)
	if err := g.acquire(name, run.RunID); err != nil {
		return nil, err
	}

	runLog := g.log.WithFields(logrus.Fields{"run_id": run.RunID, "root": name})
	runLog.Info("Generation started")

	g.generateNode(ctx, run, node, runLog, true)

	run.Success = true
	for _, n := range run.Nodes {
		if !n.Succeeded() || n.Partial {
			run.Success = false
			break
		}
	}
	run.Duration = time.Since(run.StartedAt)

	totals := run.Totals()
	runLog.WithFields(logrus.Fields{
		"success":  run.Success,
		"nodes":    len(run.Nodes),
		"included": totals.Included,
		"excluded": totals.ExcludedURLs,
		"duration": run.Duration.Round(time.Millisecond),
	}).Info("Generation finished")
	return run, nil
}

func (g *Generator) acquire(name, runID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if owner, ok := g.inFlight[name]; ok {
		return fmt.Errorf("%w: '%s' is being generated by run %s", utils.ErrNodeInFlight, name, owner)
	}
	g.inFlight[name] = runID
	return nil
}

func (g *Generator) release(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inFlight, name)
}

func (g *Generator) reset(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.states[name] = models.NodeStatePending
}

// transition moves a node to next; an illegal step is a bug and leaves the state alone
func (g *Generator) transition(log *logrus.Entry, name string, next models.NodeState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cur := g.states[name]
	if !cur.CanTransition(next) {
		log.Errorf("Illegal node state transition %s -> %s", cur, next)
		return
	}
	g.states[name] = next
}

func (g *Generator) fail(log *logrus.Entry, r *NodeResult, err error) *NodeResult {
	g.transition(log, r.Name, models.NodeStateFailed)
	r.State = models.NodeStateFailed
	r.Error = err.Error()
	log.WithField("error_type", utils.CategorizeError(err)).Errorf("Node failed: %v", err)
	return r
}

// generateNode produces one node. held is true when the caller already owns the node's guard.
// A node reached twice in one run (shared child) is generated once.
func (g *Generator) generateNode(ctx context.Context, run *RunResult, n *registry.Node, log *logrus.Entry, held bool) *NodeResult {
	if r, ok := run.get(n.Name); ok {
		return r
	}
	nodeLog := log.WithFields(logrus.Fields{"node": n.Name, "kind": n.Kind})

	if !held {
		if err := g.acquire(n.Name, run.RunID); err != nil {
			r := &NodeResult{Name: n.Name, Kind: n.Kind, State: models.NodeStateFailed, Error: err.Error()}
			nodeLog.Warn(err.Error())
			run.add(r)
			return r
		}
	}
	defer g.release(n.Name)

	start := time.Now()
	g.reset(n.Name)

	var r *NodeResult
	if n.Kind.IsAggregate() {
		r = g.generateIndex(ctx, run, n, nodeLog)
	} else {
		r = g.generateFinal(ctx, n, nodeLog)
	}
	r.Duration = time.Since(start)
	g.deps.Metrics.ObserveNode(n.Name, r.Succeeded() && !r.Partial, r.Duration)
	run.add(r)

	if r.Succeeded() {
		nodeLog.WithFields(logrus.Fields{
			"urls":     r.URLCount,
			"path":     r.Path,
			"partial":  r.Partial,
			"cached":   r.Cached,
			"duration": r.Duration.Round(time.Millisecond),
		}).Info("Node done")
	}
	return r
}

// generateIndex generates the children in order, then writes an index listing those that succeeded
func (g *Generator) generateIndex(ctx context.Context, run *RunResult, n *registry.Node, log *logrus.Entry) *NodeResult {
	r := &NodeResult{Name: n.Name, Kind: n.Kind, State: models.NodeStatePending, Path: n.Path}

	var (
		refs   []parse.IndexRef
		failed []string
	)
	for _, childName := range n.Children {
		if err := ctx.Err(); err != nil {
			return g.fail(log, r, fmt.Errorf("generation of children interrupted: %w", err))
		}
		child, err := g.deps.Registry.Get(childName)
		if err != nil {
			failed = append(failed, childName)
			continue
		}
		cr := g.generateNode(ctx, run, child, log, false)
		if !cr.Succeeded() {
			failed = append(failed, childName)
			continue
		}
		refs = append(refs, parse.IndexRef{Loc: cr.Loc, LastMod: cr.LastMod})
		r.URLCount += cr.URLCount
		if cr.LastMod.After(r.LastMod) {
			r.LastMod = cr.LastMod
		}
		if cr.Partial {
			r.Partial = true
		}
	}
	// Cancelled while the last child ran: that child already failed, keep the old index
	if err := ctx.Err(); err != nil {
		return g.fail(log, r, fmt.Errorf("generation of children interrupted: %w", err))
	}

	g.transition(log, n.Name, models.NodeStateSerializing)
	if err := g.deps.Emitter.WriteIndex(n.Path, refs); err != nil {
		return g.fail(log, r, fmt.Errorf("write index: %w", err))
	}
	g.transition(log, n.Name, models.NodeStateDone)

	r.State = models.NodeStateDone
	r.Loc = g.deps.Emitter.Loc(n.Path)
	if r.LastMod.IsZero() {
		r.LastMod = g.now().UTC()
	}
	if len(failed) > 0 {
		r.Partial = true
		r.Error = "children failed: " + strings.Join(failed, ", ")
		log.Warnf("Index written without %d failed children: %s", len(failed), strings.Join(failed, ", "))
	}
	return r
}

// bucket is the row set of one output shard
type bucket struct {
	name    string
	pattern string // Output path with "-%d" before the extension
	records []models.Record
}

// outcome is what validating one bucket produced
type outcome struct {
	entries []models.SitemapEntry
	report  *NodeReport
	dedup   *dedup.Deduplicator
}

func (g *Generator) generateFinal(ctx context.Context, n *registry.Node, log *logrus.Entry) *NodeResult {
	r := &NodeResult{Name: n.Name, Kind: n.Kind, State: models.NodeStatePending}

	if cached := g.cached(n); cached != nil {
		g.transition(log, n.Name, models.NodeStateSerializing)
		g.transition(log, n.Name, models.NodeStateDone)
		log.WithField("path", cached.Path).Debug("Output is fresh, skipping regeneration")
		return cached
	}

	g.transition(log, n.Name, models.NodeStateFetching)
	buckets, failed, unmatched, err := g.fetch(ctx, n, log)
	if err != nil {
		return g.fail(log, r, err)
	}

	g.transition(log, n.Name, models.NodeStateValidating)
	outcomes := make([]outcome, len(buckets))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.deps.ShardWorkers)
	for i, b := range buckets {
		i, b := i, b
		eg.Go(func() error {
			out, err := g.buildEntries(egCtx, n, b.records, log)
			outcomes[i] = out
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return g.fail(log, r, fmt.Errorf("validation interrupted: %w", err))
	}
	dropCrossShardDuplicates(outcomes)

	report := g.mergeReports(n, outcomes)
	report.Unmatched = unmatched
	r.Report = report

	g.transition(log, n.Name, models.NodeStateSerializing)
	var (
		shards    []stream.Shard
		indexPath string
	)
	for i, b := range buckets {
		shards = append(shards, g.deps.Emitter.Split(b.name, b.pattern, outcomes[i].entries)...)
	}
	if n.Sharded() || len(shards) > 1 {
		indexPath = n.Path
	}

	res, err := g.deps.Emitter.Emit(ctx, indexPath, shards)
	r.Shards = res.Shards
	r.Failed = append(failed, res.Failed...)
	for _, st := range r.Failed {
		g.deps.Metrics.IncShardFailure(n.Name, st.ErrorType)
	}
	if err != nil {
		return g.fail(log, r, fmt.Errorf("write node index: %w", err))
	}
	if indexPath == "" && len(res.Shards) == 0 {
		return g.fail(log, r, fmt.Errorf("write %s: %s", shards[0].Path, res.Failed[0].Error))
	}

	g.transition(log, n.Name, models.NodeStateDone)
	r.State = models.NodeStateDone
	r.URLCount = res.TotalURLs()
	r.LastMod = res.LastMod()
	if r.LastMod.IsZero() {
		r.LastMod = g.now().UTC()
	}
	if indexPath != "" {
		r.Path = indexPath
	} else {
		r.Path = res.Shards[0].Path
	}
	r.Loc = g.deps.Emitter.Loc(r.Path)
	if len(r.Failed) > 0 {
		names := make([]string, len(r.Failed))
		for i, st := range r.Failed {
			names[i] = st.Name
		}
		r.Partial = true
		r.Error = "shards failed: " + strings.Join(names, ", ")
		log.Warnf("Node written without %d failed shards: %s", len(names), strings.Join(names, ", "))
	}

	g.deps.Metrics.AddIncluded(n.Name, r.URLCount)
	for code, count := range report.Excluded {
		g.deps.Metrics.AddExcluded(n.Name, string(code), count)
	}
	g.deps.Metrics.AddCollisions(n.Name, report.Duplicates)
	return r
}

// filePath is the single output file of an unsharded node
func filePath(n *registry.Node) string {
	if n.Compress && !strings.HasSuffix(n.Path, ".gz") {
		return n.Path + ".gz"
	}
	return n.Path
}

// splitPattern inserts "-%d" before the file extension
func splitPattern(p string) string {
	ext := ""
	for _, suffix := range []string{".xml.gz", ".xml", ".gz"} {
		if strings.HasSuffix(p, suffix) {
			ext = suffix
			break
		}
	}
	return strings.TrimSuffix(p, ext) + "-%d" + ext
}

// cached returns a result for the node's existing output when it is younger than CacheTTL
func (g *Generator) cached(n *registry.Node) *NodeResult {
	if n.CacheTTL <= 0 {
		return nil
	}
	candidates := []string{n.Path}
	if !n.Sharded() {
		candidates = []string{filePath(n), n.Path}
	}
	for _, p := range candidates {
		info, err := os.Stat(filepath.Join(g.outputDir, filepath.FromSlash(p)))
		if err != nil || g.now().Sub(info.ModTime()) >= n.CacheTTL {
			continue
		}
		return &NodeResult{
			Name:    n.Name,
			Kind:    n.Kind,
			State:   models.NodeStateDone,
			Path:    p,
			Loc:     g.deps.Emitter.Loc(p),
			LastMod: info.ModTime().UTC(),
			Cached:  true,
		}
	}
	return nil
}

// fetch loads the node's rows grouped by output shard. Range and year filters are pushed down
// to the source with one query per shard; other strategies fetch once and partition in memory.
// A shard whose query fails is reported and skipped; an unsharded fetch failure fails the node.
func (g *Generator) fetch(ctx context.Context, n *registry.Node, log *logrus.Entry) ([]bucket, []stream.ShardStat, int, error) {
	collect := func(q datasource.Query, keep func(models.Record) bool) ([]models.Record, error) {
		var rows []models.Record
		_, err := g.deps.Pager.FetchAll(ctx, q, func(page []models.Record) error {
			for _, rec := range page {
				if keep == nil || keep(rec) {
					rows = append(rows, rec)
				}
			}
			return nil
		})
		return rows, err
	}

	if !n.Sharded() {
		rows, err := collect(datasource.Query{Entity: n.Entity}, nil)
		if err != nil {
			return nil, nil, 0, fmt.Errorf("fetch %s: %w", n.Entity, err)
		}
		return []bucket{{name: n.Name, pattern: splitPattern(filePath(n)), records: rows}}, nil, 0, nil
	}

	p := n.Partitioner()
	specs := p.Specs()

	switch n.Strategy {
	case models.ShardingNumeric, models.ShardingOffset, models.ShardingTemporal:
		rows := make([][]models.Record, len(specs))
		errs := make([]error, len(specs))
		var eg errgroup.Group
		eg.SetLimit(g.deps.ShardWorkers)
		for i, spec := range specs {
			i, spec := i, spec
			eg.Go(func() error {
				rows[i], errs[i] = collect(
					datasource.Query{Entity: n.Entity, Filter: &spec.Filter},
					func(rec models.Record) bool { return p.Owner(rec) == i },
				)
				return nil
			})
		}
		_ = eg.Wait()
		if err := ctx.Err(); err != nil {
			return nil, nil, 0, err
		}

		var (
			buckets []bucket
			failed  []stream.ShardStat
		)
		for i, spec := range specs {
			if errs[i] != nil {
				log.WithField("shard", spec.Name).Errorf("Shard fetch failed: %v", errs[i])
				failed = append(failed, stream.ShardStat{
					Name: spec.Name, Path: spec.Path, Error: errs[i].Error(), ErrorType: utils.CategorizeError(errs[i]),
				})
				continue
			}
			buckets = append(buckets, bucket{name: spec.Name, pattern: splitPattern(spec.Path), records: rows[i]})
		}
		return buckets, failed, 0, nil
	}

	rows, err := collect(datasource.Query{Entity: n.Entity}, nil)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("fetch %s: %w", n.Entity, err)
	}
	parts := p.Partition(rows)
	buckets := make([]bucket, len(parts.Buckets))
	for i, b := range parts.Buckets {
		buckets[i] = bucket{name: b.Spec.Name, pattern: splitPattern(b.Spec.Path), records: b.Records}
	}
	return buckets, nil, len(parts.Unmatched), nil
}

// buildEntries maps, validates and enriches the rows of one bucket
func (g *Generator) buildEntries(ctx context.Context, n *registry.Node, records []models.Record, log *logrus.Entry) (outcome, error) {
	out := outcome{report: newNodeReport(), dedup: dedup.New()}
	now := g.now().UTC()

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		out.report.Candidates++

		c, err := g.deps.Mapper.Candidate(ctx, rec)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			out.report.MappingErrors++
			log.WithField("id", rec.RecordID()).Debugf("Skipping row: %v", err)
			continue
		}

		v := g.deps.Validator.Validate(c)
		if !v.IsValid {
			out.report.ExcludedURLs++
			for _, reason := range v.Reasons {
				out.report.Excluded[reason.Code]++
			}
			continue
		}
		if !out.dedup.Add(v.NormalizedURL, c.Loc) {
			continue
		}

		lastmod, fallback := hygiene.ResolveLastModified(c, now)
		if fallback {
			out.report.LastModFallbacks++
		}
		entry := models.SitemapEntry{
			Loc:        v.NormalizedURL,
			LastMod:    lastmod,
			ChangeFreq: n.ChangeFreq,
			Priority:   n.Priority,
		}
		if g.deps.Images != nil {
			entry = g.deps.Images.Annotate(entry, c, g.deps.Images.MaxImages())
		}
		if !g.deps.Hreflang.Enabled() {
			out.entries = append(out.entries, entry)
			continue
		}

		expanded, err := g.deps.Hreflang.Expand(entry, n.ContentType)
		if err != nil {
			log.WithField("url", entry.Loc).Warnf("No alternates: %v", err)
			out.entries = append(out.entries, entry)
			continue
		}
		out.entries = append(out.entries, expanded)

		if !g.deps.EmitVariants {
			continue
		}
		variants, err := g.deps.Hreflang.Variants(expanded, n.ContentType)
		if err != nil {
			log.WithField("url", entry.Loc).Warnf("No localized variants: %v", err)
			continue
		}
		for _, variant := range variants {
			if out.dedup.Add(variant.Loc, variant.Loc) {
				out.entries = append(out.entries, variant)
			}
		}
	}
	out.report.Included = len(out.entries)
	return out, nil
}

// dropCrossShardDuplicates keeps the first occurrence of each loc in bucket order. Later buckets
// lose entries an earlier bucket already lists; the merged collision maps still report them.
func dropCrossShardDuplicates(outcomes []outcome) {
	seen := make(map[string]bool)
	for i := range outcomes {
		kept := outcomes[i].entries[:0]
		for _, e := range outcomes[i].entries {
			if seen[e.Loc] {
				continue
			}
			seen[e.Loc] = true
			kept = append(kept, e)
		}
		outcomes[i].entries = kept
		outcomes[i].report.Included = len(kept)
	}
}

// mergeReports folds the per-bucket reports in bucket order and checks hreflang symmetry
// over the whole node
func (g *Generator) mergeReports(n *registry.Node, outcomes []outcome) *NodeReport {
	report := newNodeReport()
	seen := dedup.New()
	var all []models.SitemapEntry
	for _, o := range outcomes {
		report.Candidates += o.report.Candidates
		report.Included += o.report.Included
		report.ExcludedURLs += o.report.ExcludedURLs
		report.MappingErrors += o.report.MappingErrors
		report.LastModFallbacks += o.report.LastModFallbacks
		for code, count := range o.report.Excluded {
			report.Excluded[code] += count
		}
		seen.Merge(o.dedup)
		all = append(all, o.entries...)
	}

	report.Duplicates = seen.Duplicates()
	collisions := seen.Collisions()
	if len(collisions) > maxReportSamples {
		collisions = collisions[:maxReportSamples]
	}
	report.Collisions = collisions

	if g.deps.Hreflang.Enabled() {
		errs := g.deps.Hreflang.ValidateSymmetry(all)
		report.HreflangTotal = len(errs)
		if len(errs) > maxReportSamples {
			errs = errs[:maxReportSamples]
		}
		report.HreflangErrors = errs
		if len(errs) > 0 {
			g.log.WithField("node", n.Name).Warnf("%d hreflang symmetry errors, first: %v", report.HreflangTotal, errs[0])
		}
	}
	return report
}
