package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/sitemap-builder/pkg/datasource"
	"github.com/Sriram-PR/sitemap-builder/pkg/models"
)

const testTree = `
nodes:
  - name: sitemap
    kind: INDEX
    path: sitemap.xml
    children: [brands, blog]
  - name: brands
    kind: FINAL
    path: brands.xml
    entity: brand
  - name: blog
    kind: FINAL
    path: blog.xml
    entity: blog
`

// writeConfig writes a config rooted in a temp dir and returns its path and that dir
func writeConfig(t *testing.T, body string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	content := `
base_url: "https://shop.example.com"
output_dir: "` + filepath.Join(dir, "out") + `"
state_dir: "` + dir + `"
catalog:
  dsn: "` + filepath.Join(dir, "catalog.db") + `"
delta:
  store: memory
` + body
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0644))
	return cfgPath, dir
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestLoadConfig_AppliesDefaults(t *testing.T) {
	cfgPath, _ := writeConfig(t, testTree)

	cfg, _, err := loadConfig(cfgPath)

	require.NoError(t, err)
	assert.Equal(t, "sitemap", cfg.RootNode)
	assert.Equal(t, "24h", cfg.Schedule.DeltaEmitInterval)
	assert.Equal(t, "sqlite", cfg.Catalog.Driver)
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	_, _, err := loadConfig("/nonexistent/path/config.yaml")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestDoValidate_Valid(t *testing.T) {
	cfgPath, _ := writeConfig(t, testTree)

	var stdout, stderr bytes.Buffer
	exitCode := doValidate(cfgPath, &stdout, &stderr)

	assert.Equal(t, 0, exitCode, stderr.String())
	assert.Contains(t, stdout.String(), "OK: 3 nodes, roots: sitemap")
	assert.Contains(t, stdout.String(), "Configuration valid")
}

func TestDoValidate_MissingBaseURL(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(testTree), 0644))

	var stdout, stderr bytes.Buffer
	exitCode := doValidate(cfgPath, &stdout, &stderr)

	assert.Equal(t, 1, exitCode)
	assert.Contains(t, stderr.String(), "base_url is required")
}

func TestDoValidate_UnknownChild(t *testing.T) {
	cfgPath, _ := writeConfig(t, `
nodes:
  - name: sitemap
    kind: INDEX
    path: sitemap.xml
    children: [brands, gammes]
  - name: brands
    kind: FINAL
    path: brands.xml
    entity: brand
`)

	var stdout, stderr bytes.Buffer
	exitCode := doValidate(cfgPath, &stdout, &stderr)

	assert.Equal(t, 1, exitCode)
	assert.Contains(t, stderr.String(), "gammes")
	assert.NotContains(t, stdout.String(), "Configuration valid")
}

func TestDoListNodes(t *testing.T) {
	cfgPath, _ := writeConfig(t, testTree)

	var stdout, stderr bytes.Buffer
	exitCode := doListNodes(cfgPath, &stdout, &stderr)

	require.Equal(t, 0, exitCode, stderr.String())
	out := stdout.String()
	assert.Contains(t, out, "  sitemap [INDEX] sitemap.xml")
	assert.Contains(t, out, "    brands [FINAL] brands.xml (entity: brand)")
	assert.Less(t, strings.Index(out, "brands"), strings.Index(out, "blog"))
}

func TestDoListNodes_FileNotFound(t *testing.T) {
	var stdout, stderr bytes.Buffer
	exitCode := doListNodes("/nonexistent/config.yaml", &stdout, &stderr)

	assert.Equal(t, 1, exitCode)
	assert.Contains(t, stderr.String(), "Error:")
}

func TestDoDelta(t *testing.T) {
	ctx := context.Background()
	cfgPath, _ := writeConfig(t, testTree)
	log := quietLogger()

	t.Run("config", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		require.Equal(t, 0, doDelta(ctx, cfgPath, "config", "", "", log, &stdout, &stderr), stderr.String())

		var out map[string]any
		require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
		assert.Equal(t, "memory", out["store"])
	})

	t.Run("stats on an empty day", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		require.Equal(t, 0, doDelta(ctx, cfgPath, "stats", "", "2024-05-01", log, &stdout, &stderr), stderr.String())

		var out map[string]any
		require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
		assert.Equal(t, "2024-05-01", out["date"])
		assert.Equal(t, float64(0), out["total"])
	})

	t.Run("emit with no changes", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		require.Equal(t, 0, doDelta(ctx, cfgPath, "emit", "", "", log, &stdout, &stderr), stderr.String())

		var out map[string]any
		require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
		assert.Equal(t, false, out["emitted"])
	})

	t.Run("ingest needs an entity", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		assert.Equal(t, 1, doDelta(ctx, cfgPath, "ingest", "", "", log, &stdout, &stderr))
		assert.Contains(t, stderr.String(), "-entity")
	})

	t.Run("unknown action", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		assert.Equal(t, 1, doDelta(ctx, cfgPath, "purge", "", "", log, &stdout, &stderr))
		assert.Contains(t, stderr.String(), "Unknown delta action")
	})
}

func TestDoGenerateAndVerify(t *testing.T) {
	ctx := context.Background()
	cfgPath, dir := writeConfig(t, testTree)

	src, err := datasource.OpenSQLite(ctx, filepath.Join(dir, "catalog.db"))
	require.NoError(t, err)
	updated := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, src.InsertRecords(ctx,
		models.Brand{ID: 1, Slug: "renault", Name: "Renault", Active: true, UpdatedAt: updated},
		models.Brand{ID: 2, Slug: "peugeot", Name: "Peugeot", Active: true, UpdatedAt: updated},
	))
	require.NoError(t, src.Close())

	var stdout bytes.Buffer
	exitCode := doGenerate(ctx, cfgPath, nil, false, false, "", quietLogger(), &stdout)

	require.Equal(t, 0, exitCode, stdout.String())
	assert.Contains(t, stdout.String(), "OK: sitemap")
	assert.FileExists(t, filepath.Join(dir, "out", "sitemap.xml"))
	assert.FileExists(t, filepath.Join(dir, "out", "brands.xml"))

	var verifyOut, verifyErr bytes.Buffer
	exitCode = doVerify(ctx, cfgPath, "", &verifyOut, &verifyErr)
	assert.Equal(t, 0, exitCode, verifyOut.String()+verifyErr.String())
	assert.Contains(t, verifyOut.String(), "Sitemap tree valid")
}

func TestDoGenerate_UnknownNode(t *testing.T) {
	cfgPath, _ := writeConfig(t, testTree)

	var stdout bytes.Buffer
	exitCode := doGenerate(context.Background(), cfgPath, []string{"gammes"}, false, false, "", quietLogger(), &stdout)

	assert.Equal(t, 1, exitCode)
	assert.Empty(t, stdout.String())
}

func TestDoGenerate_PublishNotConfigured(t *testing.T) {
	cfgPath, _ := writeConfig(t, testTree)

	var stdout bytes.Buffer
	exitCode := doGenerate(context.Background(), cfgPath, nil, false, true, "", quietLogger(), &stdout)

	assert.Equal(t, 1, exitCode)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"brands", "blog"}, splitList(" brands, ,blog "))
	assert.Nil(t, splitList(""))
}

func TestPrintUsageTo(t *testing.T) {
	var buf bytes.Buffer
	printUsageTo(&buf)
	for _, cmd := range []string{"generate", "delta", "watch", "validate", "verify", "list-nodes", "mcp-server"} {
		assert.Contains(t, buf.String(), cmd)
	}
}
