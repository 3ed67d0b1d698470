package orchestrate

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/sitemap-builder/pkg/config"
	"github.com/Sriram-PR/sitemap-builder/pkg/models"
	"github.com/Sriram-PR/sitemap-builder/pkg/publish"
	"github.com/Sriram-PR/sitemap-builder/pkg/registry"
	"github.com/Sriram-PR/sitemap-builder/pkg/shard"
	"github.com/Sriram-PR/sitemap-builder/pkg/sitemap"
	"github.com/Sriram-PR/sitemap-builder/pkg/utils"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, _, err := registry.Build([]config.NodeConfig{
		{Name: "sitemap", Kind: models.NodeKindIndex, Children: []string{"brands"}},
		{Name: "brands", Kind: models.NodeKindFinal, Entity: models.EntityBrand},
		{Name: "blog", Kind: models.NodeKindFinal, Entity: models.EntityBlog},
	}, shard.DefaultPredicates())
	require.NoError(t, err)
	return reg
}

type fakeGenerator struct {
	mu    sync.Mutex
	calls []string
	runs  map[string]*sitemap.RunResult
}

func (f *fakeGenerator) Generate(_ context.Context, name string) (*sitemap.RunResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	run, ok := f.runs[name]
	if !ok {
		return nil, utils.ErrUnknownNode
	}
	return run, nil
}

func run(name string, success bool, urls int) *sitemap.RunResult {
	state := models.NodeStateDone
	if !success {
		state = models.NodeStateFailed
	}
	return &sitemap.RunResult{
		RunID:   "run-" + name,
		Root:    name,
		Success: success,
		Nodes:   []*sitemap.NodeResult{{Name: name, State: state, URLCount: urls, Path: name + ".xml"}},
	}
}

type fakePublisher struct {
	mu   sync.Mutex
	runs []string
	err  error
}

func (f *fakePublisher) PublishRun(_ context.Context, r *sitemap.RunResult) (publish.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, r.Root)
	return publish.Result{Objects: []publish.Object{{Path: r.Root + ".xml"}}}, f.err
}

func TestRun_ResultsInRequestOrder(t *testing.T) {
	gen := &fakeGenerator{runs: map[string]*sitemap.RunResult{
		"sitemap": run("sitemap", true, 12),
		"blog":    run("blog", false, 0),
	}}
	pub := &fakePublisher{}
	o := NewOrchestrator(context.Background(), gen, []string{"sitemap", "blog", "missing"}, pub, testLogger())

	results := o.Run()
	require.Len(t, results, 3)

	assert.Equal(t, "sitemap", results[0].Node)
	assert.True(t, results[0].Success)
	assert.Equal(t, 12, results[0].URLs)
	assert.Equal(t, 1, results[0].Published)

	assert.Equal(t, "blog", results[1].Node)
	assert.False(t, results[1].Success)
	assert.Error(t, results[1].Error)
	assert.Zero(t, results[1].Published)

	assert.ErrorIs(t, results[2].Error, utils.ErrUnknownNode)
	assert.Nil(t, results[2].Run)

	// Only successful runs are published
	assert.Equal(t, []string{"sitemap"}, pub.runs)
}

func TestRun_PublishFailureFailsNode(t *testing.T) {
	gen := &fakeGenerator{runs: map[string]*sitemap.RunResult{"sitemap": run("sitemap", true, 3)}}
	pub := &fakePublisher{err: errors.New("bucket gone")}
	o := NewOrchestrator(context.Background(), gen, []string{"sitemap"}, pub, testLogger())

	results := o.Run()
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.EqualError(t, results[0].Error, "bucket gone")
}

func TestValidateNodeNames(t *testing.T) {
	reg := testRegistry(t)

	t.Run("all valid", func(t *testing.T) {
		assert.NoError(t, ValidateNodeNames(reg, []string{"sitemap", "blog"}))
	})

	t.Run("one invalid", func(t *testing.T) {
		err := ValidateNodeNames(reg, []string{"blog", "missing"})
		require.Error(t, err)
		assert.ErrorIs(t, err, utils.ErrUnknownNode)
		assert.Contains(t, err.Error(), "missing")
	})

	t.Run("empty names no error", func(t *testing.T) {
		assert.NoError(t, ValidateNodeNames(reg, nil))
	})
}

func TestRootNodeNames(t *testing.T) {
	assert.Equal(t, []string{"sitemap", "blog"}, RootNodeNames(testRegistry(t)))
}
