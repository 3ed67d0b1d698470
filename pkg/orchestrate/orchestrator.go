package orchestrate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/sitemap-builder/pkg/publish"
	"github.com/Sriram-PR/sitemap-builder/pkg/registry"
	"github.com/Sriram-PR/sitemap-builder/pkg/sitemap"
)

// Generator builds one node tree. *sitemap.Generator implements it.
type Generator interface {
	Generate(ctx context.Context, name string) (*sitemap.RunResult, error)
}

// Publisher uploads the artifacts of a run. *publish.MinioPublisher implements it.
type Publisher interface {
	PublishRun(ctx context.Context, run *sitemap.RunResult) (publish.Result, error)
}

// NodeResult contains the result of generating one requested node
type NodeResult struct {
	Node      string
	Success   bool
	Error     error
	Run       *sitemap.RunResult
	URLs      int
	Published int
	Duration  time.Duration
}

// Orchestrator generates several node trees in parallel on a shared generator
type Orchestrator struct {
	gen       Generator
	publisher Publisher
	log       *logrus.Entry
	nodes     []string

	// Results, in request order
	results   []NodeResult
	resultsMu sync.Mutex

	// Coordination
	ctx    context.Context
	cancel context.CancelFunc
}

// NewOrchestrator creates an orchestrator for the named nodes. publisher may be nil.
func NewOrchestrator(ctx context.Context, gen Generator, nodes []string, publisher Publisher, log *logrus.Entry) *Orchestrator {
	ctx, cancel := context.WithCancel(ctx)
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Orchestrator{
		gen:       gen,
		publisher: publisher,
		log:       log.WithField("component", "orchestrator"),
		nodes:     nodes,
		results:   make([]NodeResult, len(nodes)),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Run generates every node in parallel and waits for completion.
// Nodes sharing a subtree contend for it; the later one reports the shared node as in flight.
func (o *Orchestrator) Run() []NodeResult {
	startTime := time.Now()
	o.log.Infof("Starting generation of %d nodes: %v", len(o.nodes), o.nodes)

	var wg sync.WaitGroup
	for i, name := range o.nodes {
		i, name := i, name
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := o.generateNode(name)
			o.resultsMu.Lock()
			o.results[i] = result
			o.resultsMu.Unlock()
		}()
	}
	wg.Wait()

	o.logSummary(time.Since(startTime))
	return o.Results()
}

// Results returns a copy of the results gathered so far
func (o *Orchestrator) Results() []NodeResult {
	o.resultsMu.Lock()
	defer o.resultsMu.Unlock()
	return append([]NodeResult(nil), o.results...)
}

func (o *Orchestrator) generateNode(name string) NodeResult {
	startTime := time.Now()
	result := NodeResult{Node: name}

	run, err := o.gen.Generate(o.ctx, name)
	if err != nil {
		result.Error = err
		result.Duration = time.Since(startTime)
		o.log.Errorf("Generation of '%s' could not start: %v", name, err)
		return result
	}
	result.Run = run
	result.Success = run.Success
	if root, ok := run.Node(name); ok {
		result.URLs = root.URLCount
	}
	if !run.Success {
		result.Error = fmt.Errorf("run %s finished with errors: %v", run.RunID, run.Errors)
	}

	if o.publisher != nil && run.Success {
		res, err := o.publisher.PublishRun(o.ctx, run)
		result.Published = len(res.Objects)
		if err != nil {
			result.Success = false
			result.Error = err
			o.log.Errorf("Publishing '%s' failed after %d objects: %v", name, result.Published, err)
		}
	}
	result.Duration = time.Since(startTime)
	return result
}

// Cancel cancels all running generations
func (o *Orchestrator) Cancel() {
	o.log.Info("Cancelling all generations...")
	o.cancel()
}

// logSummary logs a summary of all node results
func (o *Orchestrator) logSummary(totalDuration time.Duration) {
	o.log.Info("============================================")
	o.log.Infof("Generation completed in %v", totalDuration)
	o.log.Info("Node Results:")

	totalURLs := 0
	successCount := 0
	failCount := 0

	for _, r := range o.Results() {
		status := "SUCCESS"
		if !r.Success {
			status = "FAILED"
			failCount++
		} else {
			successCount++
		}
		totalURLs += r.URLs

		o.log.Infof("  %s: %s - %d URLs in %v", r.Node, status, r.URLs, r.Duration.Round(time.Millisecond))
		if r.Run != nil {
			totals := r.Run.Totals()
			o.log.Infof("    Candidates: %d, excluded: %d, duplicates: %d, lastmod fallbacks: %d",
				totals.Candidates, totals.ExcludedURLs, totals.Duplicates, totals.LastModFallbacks)
		}
		if r.Published > 0 {
			o.log.Infof("    Published: %d objects", r.Published)
		}
		if r.Error != nil {
			o.log.Infof("    Error: %v", r.Error)
		}
	}

	o.log.Info("--------------------------------------------")
	o.log.Infof("Total: %d nodes (%d success, %d failed), %d URLs listed",
		len(o.nodes), successCount, failCount, totalURLs)
	o.log.Info("============================================")
}

// ValidateNodeNames checks that all provided node names exist in the registry
func ValidateNodeNames(reg *registry.Registry, names []string) error {
	for _, name := range names {
		if _, err := reg.Get(name); err != nil {
			return fmt.Errorf("%w. Available nodes: %v", err, reg.Names())
		}
	}
	return nil
}

// RootNodeNames returns the nodes no other node lists as a child
func RootNodeNames(reg *registry.Registry) []string {
	roots := reg.Roots()
	names := make([]string, 0, len(roots))
	for _, n := range roots {
		names = append(names, n.Name)
	}
	return names
}
