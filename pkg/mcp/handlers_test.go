package mcp

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/sitemap-builder/pkg/config"
	"github.com/Sriram-PR/sitemap-builder/pkg/delta"
	"github.com/Sriram-PR/sitemap-builder/pkg/hygiene"
	"github.com/Sriram-PR/sitemap-builder/pkg/models"
	"github.com/Sriram-PR/sitemap-builder/pkg/publish"
	"github.com/Sriram-PR/sitemap-builder/pkg/registry"
	"github.com/Sriram-PR/sitemap-builder/pkg/shard"
	"github.com/Sriram-PR/sitemap-builder/pkg/sitemap"
	"github.com/Sriram-PR/sitemap-builder/pkg/storage"
	"github.com/Sriram-PR/sitemap-builder/pkg/utils"
)

const testBaseURL = "https://shop.example.com"

type fakeGenerator struct {
	reg *registry.Registry

	mu    sync.Mutex
	calls []string
}

func (f *fakeGenerator) Generate(_ context.Context, name string) (*sitemap.RunResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
	if _, err := f.reg.Get(name); err != nil {
		return nil, utils.ErrUnknownNode
	}
	return &sitemap.RunResult{
		RunID:   "run-" + name,
		Root:    name,
		Success: true,
		Nodes:   []*sitemap.NodeResult{{Name: name, State: models.NodeStateDone, URLCount: 7, Path: name + ".xml"}},
	}, nil
}

func (f *fakeGenerator) Registry() *registry.Registry { return f.reg }

func (f *fakeGenerator) State(string) models.NodeState { return models.NodeStatePending }

func (f *fakeGenerator) InFlight(string) bool { return false }

type fakePublisher struct{}

func (fakePublisher) PublishRun(_ context.Context, r *sitemap.RunResult) (publish.Result, error) {
	return publish.Result{Objects: []publish.Object{{Path: r.Root + ".xml"}}}, nil
}

func newTestServer(t *testing.T, pub bool) *Server {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	entry := logrus.NewEntry(log)

	reg, _, err := registry.Build([]config.NodeConfig{
		{Name: "sitemap", Kind: models.NodeKindIndex, Path: "sitemap.xml", Children: []string{"brands", "blog"}},
		{Name: "brands", Kind: models.NodeKindFinal, Path: "brands.xml", Entity: models.EntityBrand},
		{Name: "blog", Kind: models.NodeKindFinal, Path: "blog.xml", Entity: models.EntityBlog},
	}, shard.DefaultPredicates())
	require.NoError(t, err)

	validator, err := hygiene.NewValidator(testBaseURL, config.HygieneConfig{}, nil, entry)
	require.NoError(t, err)

	deltaCfg := config.DeltaConfig{RetentionDays: 30, Priority: 0.8, Filename: "sitemap-latest.xml", Store: "memory"}
	tracker := delta.NewTracker(storage.NewMemoryStore(), validator, deltaCfg, nil, entry)
	emitter, err := delta.NewEmitter(tracker, deltaCfg, testBaseURL, t.TempDir(), nil, entry)
	require.NoError(t, err)

	cfg := &ServerConfig{
		AppConfig: &config.AppConfig{BaseURL: testBaseURL, OutputDir: t.TempDir(), RootNode: "sitemap"},
		Transport: "stdio",
		Logger:    log,
		Generator: &fakeGenerator{reg: reg},
		Delta:     delta.NewService(tracker, emitter, deltaCfg, entry),
		Validator: validator,
	}
	if pub {
		cfg.Publisher = fakePublisher{}
	}
	s, err := NewServer(cfg)
	require.NoError(t, err)
	return s
}

func callTool(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func decode(t *testing.T, res *mcp.CallToolResult) map[string]any {
	t.Helper()
	require.NotNil(t, res)
	require.False(t, res.IsError, "unexpected tool error: %v", res.Content)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	_, err := NewServer(&ServerConfig{})
	assert.Error(t, err)

	_, err = NewServer(&ServerConfig{AppConfig: &config.AppConfig{}})
	assert.Error(t, err)
}

func TestHandleListNodes(t *testing.T) {
	s := newTestServer(t, false)
	out := decode(t, must(s.handleListNodes(context.Background(), callTool(nil))))

	assert.Equal(t, float64(3), out["total_nodes"])
	assert.Equal(t, []any{"sitemap"}, out["roots"])

	nodes := out["nodes"].([]any)
	byName := make(map[string]map[string]any)
	for _, n := range nodes {
		m := n.(map[string]any)
		byName[m["name"].(string)] = m
	}
	assert.Equal(t, []any{"brands", "blog"}, byName["sitemap"]["children"])
	assert.Equal(t, "brand", byName["brands"]["entity"])
	assert.NotContains(t, byName["brands"], "last_generated")
}

func TestHandleGenerateNode(t *testing.T) {
	ctx := context.Background()

	t.Run("missing node", func(t *testing.T) {
		s := newTestServer(t, false)
		res := must(s.handleGenerateNode(ctx, callTool(nil)))
		assert.True(t, res.IsError)
	})

	t.Run("unknown node", func(t *testing.T) {
		s := newTestServer(t, false)
		res := must(s.handleGenerateNode(ctx, callTool(map[string]any{"node": "gammes"})))
		assert.True(t, res.IsError)
	})

	t.Run("publish without publisher", func(t *testing.T) {
		s := newTestServer(t, false)
		res := must(s.handleGenerateNode(ctx, callTool(map[string]any{"node": "blog", "publish": true})))
		assert.True(t, res.IsError)
	})

	t.Run("runs to completion", func(t *testing.T) {
		s := newTestServer(t, true)
		out := decode(t, must(s.handleGenerateNode(ctx, callTool(map[string]any{"node": "blog", "publish": true}))))
		assert.Equal(t, "started", out["status"])
		jobID := out["job_id"].(string)

		require.Eventually(t, func() bool {
			job := s.jobManager.GetJob(jobID)
			s.jobManager.mu.RLock()
			defer s.jobManager.mu.RUnlock()
			return job.Status == JobStatusCompleted
		}, 5*time.Second, 10*time.Millisecond)

		status := decode(t, must(s.handleGetJobStatus(ctx, callTool(map[string]any{"job_id": jobID}))))
		assert.Equal(t, "blog", status["node"])
		assert.Equal(t, "run-blog", status["run_id"])
		assert.Equal(t, float64(7), status["urls_listed"])
		assert.Equal(t, float64(1), status["files_written"])
		assert.Contains(t, status, "completed_at")
	})
}

func TestHandleGetJobStatus_Unknown(t *testing.T) {
	s := newTestServer(t, false)
	res := must(s.handleGetJobStatus(context.Background(), callTool(map[string]any{"job_id": "nope"})))
	assert.True(t, res.IsError)
}

func TestHandleValidateURL(t *testing.T) {
	s := newTestServer(t, false)
	ctx := context.Background()

	out := decode(t, must(s.handleValidateURL(ctx, callTool(map[string]any{
		"url":          "/pieces/freins/disque-1/",
		"availability": "in_stock",
	}))))
	assert.Equal(t, true, out["is_valid"])
	assert.Equal(t, testBaseURL+"/pieces/freins/disque-1/", out["normalized_url"])

	out = decode(t, must(s.handleValidateURL(ctx, callTool(map[string]any{
		"url":          "/pieces/freins/disque-2/",
		"noindex":      true,
		"availability": "out_of_stock_obsolete",
	}))))
	assert.Equal(t, false, out["is_valid"])
	var codes []string
	for _, r := range out["exclusion_reasons"].([]any) {
		codes = append(codes, r.(map[string]any)["code"].(string))
	}
	assert.ElementsMatch(t, []string{"noindex", "obsolete_product"}, codes)

	res := must(s.handleValidateURL(ctx, callTool(map[string]any{"url": "/a/", "availability": "sold"})))
	assert.True(t, res.IsError)
}

func TestDeltaTools(t *testing.T) {
	s := newTestServer(t, false)
	ctx := context.Background()

	args := map[string]any{
		"url":      "/pieces/freins/disque-1/",
		"price":    49.9,
		"stock":    float64(3),
		"metadata": map[string]any{"name": "Disque"},
	}
	out := decode(t, must(s.handleRecordChange(ctx, callTool(args))))
	assert.Equal(t, true, out["result"].(map[string]any)["has_changed"])

	// Same data again is not a change
	out = decode(t, must(s.handleRecordChange(ctx, callTool(args))))
	assert.Equal(t, false, out["result"].(map[string]any)["has_changed"])

	changes := decode(t, must(s.handleGetDeltaChanges(ctx, callTool(map[string]any{"max_results": float64(10)}))))
	assert.Equal(t, float64(1), changes["total_changes"])
	assert.Equal(t, false, changes["truncated"])

	stats := decode(t, must(s.handleGetDeltaStats(ctx, callTool(nil))))
	assert.Equal(t, float64(1), stats["stats"].(map[string]any)["total"])

	emitted := decode(t, must(s.handleEmitDelta(ctx, callTool(nil))))
	assert.Equal(t, "Delta sitemap written", emitted["message"])

	cfg := decode(t, must(s.handleGetDeltaConfig(ctx, callTool(nil))))
	assert.Equal(t, "sitemap-latest.xml", cfg["config"].(map[string]any)["filename"])

	removed := decode(t, must(s.handleCleanupDeltas(ctx, callTool(nil))))
	assert.Equal(t, float64(0), removed["removed"].(map[string]any)["hashes"])

	res := must(s.handleGetDeltaStats(ctx, callTool(map[string]any{"date": "01/05/2024"})))
	assert.True(t, res.IsError)

	res = must(s.handleRecordChange(ctx, callTool(map[string]any{"url": "/a/", "metadata": "name"})))
	assert.True(t, res.IsError)
}

func TestHandleVerifySitemap_MissingRoot(t *testing.T) {
	s := newTestServer(t, false)
	res := must(s.handleVerifySitemap(context.Background(), callTool(nil)))
	assert.True(t, res.IsError)
}

func must(res *mcp.CallToolResult, err error) *mcp.CallToolResult {
	if err != nil {
		panic(err)
	}
	return res
}
