package delta

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/sitemap-builder/pkg/config"
	"github.com/Sriram-PR/sitemap-builder/pkg/datasource"
	"github.com/Sriram-PR/sitemap-builder/pkg/hygiene"
	"github.com/Sriram-PR/sitemap-builder/pkg/models"
	"github.com/Sriram-PR/sitemap-builder/pkg/parse"
	"github.com/Sriram-PR/sitemap-builder/pkg/storage"
	"github.com/Sriram-PR/sitemap-builder/pkg/utils"
)

var day1 = time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func testConfig() config.DeltaConfig {
	return config.DeltaConfig{RetentionDays: 30, Priority: 0.8, Filename: "sitemap-latest.xml", Store: "memory"}
}

func testNormalizer(t *testing.T) *hygiene.Validator {
	t.Helper()
	v, err := hygiene.NewValidator("https://example.com",
		config.HygieneConfig{StripQueryParams: parse.DefaultStripParams}, nil, testLogger())
	require.NoError(t, err)
	return v
}

func newTestTracker(t *testing.T, cfg config.DeltaConfig) (*Tracker, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	tr := NewTracker(store, testNormalizer(t), cfg, nil, testLogger())
	tr.SetClock(func() time.Time { return day1 })
	return tr, store
}

func price(p float64) models.URLData {
	return models.URLData{Canonical: "/pieces/filtre/bosch/", Price: models.Float(p), Metadata: map[string]any{"name": "Bosch"}}
}

func TestHash_StableAndSensitive(t *testing.T) {
	base := models.URLData{
		Canonical: "/a/",
		Price:     models.Float(10),
		Stock:     nil,
		Metadata:  map[string]any{"name": "x", "availability": "in_stock"},
	}
	h1, err := Hash(base)
	require.NoError(t, err)

	// Same content, different map construction order
	same := base
	same.Metadata = map[string]any{"availability": "in_stock", "name": "x"}
	h2, err := Hash(same)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 40)

	// Nil and empty metadata fingerprint identically
	a, _ := Hash(models.URLData{Canonical: "/a/"})
	b, _ := Hash(models.URLData{Canonical: "/a/", Metadata: map[string]any{}})
	assert.Equal(t, a, b)

	stock := 3
	mutations := map[string]models.URLData{
		"canonical": {Canonical: "/b/", Price: base.Price, Metadata: base.Metadata},
		"price":     {Canonical: "/a/", Price: models.Float(10.01), Metadata: base.Metadata},
		"stock":     {Canonical: "/a/", Price: base.Price, Stock: &stock, Metadata: base.Metadata},
		"metadata":  {Canonical: "/a/", Price: base.Price, Metadata: map[string]any{"name": "y", "availability": "in_stock"}},
	}
	for name, d := range mutations {
		t.Run(name, func(t *testing.T) {
			h, err := Hash(d)
			require.NoError(t, err)
			assert.NotEqual(t, h1, h)
		})
	}
}

func TestTracker_ScenarioC(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTracker(t, testConfig())
	url := "https://example.com/pieces/filtre/bosch/"

	first, err := tr.Compare(ctx, url, price(10))
	require.NoError(t, err)
	assert.True(t, first.HasChanged)
	assert.Equal(t, models.ChangeTypeNew, first.ChangeType)
	assert.Empty(t, first.PreviousHash)

	second, err := tr.Compare(ctx, url, price(12))
	require.NoError(t, err)
	assert.True(t, second.HasChanged)
	assert.Equal(t, models.ChangeTypeContentChanged, second.ChangeType)
	assert.Equal(t, first.Hash, second.PreviousHash)

	changes, err := tr.Changes(ctx, day1)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, url, changes[0].URL)
	assert.Equal(t, models.ChangeTypeContentChanged, changes[0].ChangeType)

	rec, err := tr.Lookup(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, second.Hash, rec.Hash)
	assert.Equal(t, first.Hash, rec.PreviousHash)
}

func TestTracker_KeysByNormalizedURL(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTracker(t, testConfig())

	first, err := tr.Compare(ctx, "/Pieces/Foo", price(10))
	require.NoError(t, err)
	assert.Equal(t, models.ChangeTypeNew, first.ChangeType)
	assert.Equal(t, "https://example.com/pieces/foo/", first.URL)

	for _, spelling := range []string{
		"https://example.com/pieces/foo/",
		"https://www.example.com/pieces/foo/?utm_source=x",
		"HTTPS://EXAMPLE.COM:443/pieces/foo#reviews",
	} {
		res, err := tr.Compare(ctx, spelling, price(10))
		require.NoError(t, err, spelling)
		assert.False(t, res.HasChanged, spelling)
		assert.Equal(t, first.URL, res.URL, spelling)
	}

	changes, err := tr.Changes(ctx, day1)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "https://example.com/pieces/foo/", changes[0].URL)

	rec, err := tr.Lookup(ctx, "/pieces/foo")
	require.NoError(t, err)
	assert.Equal(t, first.Hash, rec.Hash)

	_, err = tr.Compare(ctx, "/pieces/%zz", price(10))
	assert.ErrorIs(t, err, utils.ErrParsing)
	_, err = tr.Compare(ctx, "  ", price(10))
	assert.ErrorIs(t, err, utils.ErrParsing)
}

func TestTracker_UnchangedIsNotRecorded(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTracker(t, testConfig())

	_, err := tr.Compare(ctx, "/a/", price(10))
	require.NoError(t, err)
	_, err = tr.Clear(ctx, day1)
	require.NoError(t, err)

	later := day1.Add(time.Hour)
	tr.SetClock(func() time.Time { return later })
	res, err := tr.Compare(ctx, "/a/", price(10))
	require.NoError(t, err)
	assert.False(t, res.HasChanged)
	assert.Equal(t, models.ChangeTypeUnchanged, res.ChangeType)

	changes, err := tr.Changes(ctx, day1)
	require.NoError(t, err)
	assert.Empty(t, changes)

	rec, err := tr.Lookup(ctx, "/a/")
	require.NoError(t, err)
	assert.True(t, rec.LastModified.Equal(day1))
	assert.True(t, rec.LastSeen.Equal(later))
}

func TestTracker_ClassifyChanges(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.ClassifyChanges = true
	tr, _ := newTestTracker(t, cfg)

	stock := 4
	steps := []struct {
		name string
		data models.URLData
		want models.ChangeType
	}{
		{"new", price(10), models.ChangeTypeNew},
		{"price", price(12), models.ChangeTypePriceChanged},
		{"stock", models.URLData{Canonical: "/pieces/filtre/bosch/", Price: models.Float(12), Stock: &stock,
			Metadata: map[string]any{"name": "Bosch"}}, models.ChangeTypeStockChanged},
		{"metadata", models.URLData{Canonical: "/pieces/filtre/bosch/", Price: models.Float(12), Stock: &stock,
			Metadata: map[string]any{"name": "Bosch XL"}}, models.ChangeTypeMetadataChanged},
		{"canonical", models.URLData{Canonical: "/pieces/filtre/bosch-xl/", Price: models.Float(12), Stock: &stock,
			Metadata: map[string]any{"name": "Bosch XL"}}, models.ChangeTypeCanonicalChanged},
		{"several", price(9), models.ChangeTypeContentChanged},
	}
	for _, step := range steps {
		res, err := tr.Compare(ctx, "/p/", step.data)
		require.NoError(t, err, step.name)
		assert.Equal(t, step.want, res.ChangeType, step.name)
	}
}

func TestTracker_DeltaSetOnlyGrowsWithinADay(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTracker(t, testConfig())
	rng := rand.New(rand.NewSource(3))

	prev := 0
	for i := 0; i < 200; i++ {
		url := fmt.Sprintf("/p/%d/", rng.Intn(40))
		_, err := tr.Compare(ctx, url, price(float64(rng.Intn(3))))
		require.NoError(t, err)

		stats, err := tr.Stats(ctx, day1)
		require.NoError(t, err)
		require.GreaterOrEqual(t, stats.Total, prev)
		prev = stats.Total
	}
	assert.LessOrEqual(t, prev, 40)
}

func TestTracker_ConcurrentComparesOfOneURL(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTracker(t, testConfig())

	var wg sync.WaitGroup
	results := make([]CompareResult, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := tr.Compare(ctx, "/same/", price(10))
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	news := 0
	for _, r := range results {
		if r.ChangeType == models.ChangeTypeNew {
			news++
		}
	}
	assert.Equal(t, 1, news)
}

func TestTracker_StoreFailure(t *testing.T) {
	ctx := context.Background()

	t.Run("skips by default", func(t *testing.T) {
		tr, store := newTestTracker(t, testConfig())
		require.NoError(t, store.Close())
		res, err := tr.Compare(ctx, "/a/", price(1))
		require.NoError(t, err)
		assert.True(t, res.Skipped)
		assert.False(t, res.HasChanged)
	})

	t.Run("degrades to changed when configured", func(t *testing.T) {
		cfg := testConfig()
		cfg.TreatAllChangedOnStoreFailure = true
		tr, store := newTestTracker(t, cfg)
		require.NoError(t, store.Close())
		res, err := tr.Compare(ctx, "/a/", price(1))
		require.NoError(t, err)
		assert.True(t, res.Degraded)
		assert.True(t, res.HasChanged)
		assert.Equal(t, models.ChangeTypeContentChanged, res.ChangeType)
	})

	t.Run("cancellation is returned", func(t *testing.T) {
		tr, _ := newTestTracker(t, testConfig())
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := tr.Compare(cctx, "/a/", price(1))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestTracker_Cleanup(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTracker(t, testConfig())

	_, err := tr.Compare(ctx, "/old/", price(1))
	require.NoError(t, err)

	day40 := day1.AddDate(0, 0, 39)
	tr.SetClock(func() time.Time { return day40 })
	_, err = tr.Compare(ctx, "/fresh/", price(1))
	require.NoError(t, err)

	res, err := tr.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, CleanupResult{Hashes: 1, Deltas: 1}, res)

	_, err = tr.Lookup(ctx, "/old/")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = tr.Lookup(ctx, "/fresh/")
	assert.NoError(t, err)

	changes, err := tr.Changes(ctx, day40)
	require.NoError(t, err)
	assert.Len(t, changes, 1)
}

func newTestEmitter(t *testing.T, tr *Tracker, cfg config.DeltaConfig) *Emitter {
	t.Helper()
	em, err := NewEmitter(tr, cfg, "https://example.com", t.TempDir(), nil, testLogger())
	require.NoError(t, err)
	em.SetClock(func() time.Time { return day1.Add(14 * time.Hour) })
	return em
}

func TestEmitter_EmptySetIsNoop(t *testing.T) {
	tr, _ := newTestTracker(t, testConfig())
	em := newTestEmitter(t, tr, testConfig())

	res, err := em.Emit(context.Background(), day1)
	require.NoError(t, err)
	assert.False(t, res.Emitted)
	assert.Empty(t, res.Path)

	_, err = os.Stat(em.Path())
	assert.True(t, os.IsNotExist(err))
}

func TestEmitter_WritesAndClears(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTracker(t, testConfig())
	em := newTestEmitter(t, tr, testConfig())

	for _, u := range []string{"/pieces/b/", "https://example.com/pieces/a/", "/pieces/c/"} {
		_, err := tr.Compare(ctx, u, price(1))
		require.NoError(t, err)
	}

	res, err := em.Emit(ctx, day1)
	require.NoError(t, err)
	assert.True(t, res.Emitted)
	assert.Equal(t, 3, res.URLCount)
	assert.Equal(t, 3, res.Cleared)
	assert.Equal(t, "sitemap-latest.xml", filepath.Base(res.Path))
	assert.Len(t, res.SHA256, 64)

	f, err := os.Open(res.Path)
	require.NoError(t, err)
	defer f.Close()
	doc, err := parse.ParseDocument(f)
	require.NoError(t, err)
	require.Equal(t, parse.DocumentURLSet, doc.Kind)
	require.Len(t, doc.URLs, 3)

	var locs []string
	for _, u := range doc.URLs {
		require.Len(t, u.Locs, 1)
		locs = append(locs, u.Locs[0])
		assert.Equal(t, "2024-05-01T23:30:00Z", u.LastMod)
		assert.Equal(t, "daily", u.ChangeFreq)
		assert.Equal(t, "0.8", u.Priority)
	}
	assert.Equal(t, []string{
		"https://example.com/pieces/a/",
		"https://example.com/pieces/b/",
		"https://example.com/pieces/c/",
	}, locs)

	changes, err := tr.Changes(ctx, day1)
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestEmitter_KeepSetWhenClearDisabled(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	keep := false
	cfg.ClearAfterEmit = &keep
	tr, _ := newTestTracker(t, cfg)
	em := newTestEmitter(t, tr, cfg)

	_, err := tr.Compare(ctx, "/a/", price(1))
	require.NoError(t, err)
	res, err := em.Emit(ctx, day1)
	require.NoError(t, err)
	assert.True(t, res.Emitted)
	assert.Zero(t, res.Cleared)

	changes, err := tr.Changes(ctx, day1)
	require.NoError(t, err)
	assert.Len(t, changes, 1)
}

func TestEmitter_SplitsSetLargerThanOneFile(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTracker(t, testConfig())
	em := newTestEmitter(t, tr, testConfig())

	total := parse.MaxURLsPerFile + 5
	for i := 0; i < total; i++ {
		_, err := tr.Compare(ctx, fmt.Sprintf("/p/%06d/", i), price(1))
		require.NoError(t, err)
	}

	res, err := em.Emit(ctx, day1)
	require.NoError(t, err)
	assert.True(t, res.Emitted)
	assert.Equal(t, total, res.URLCount)
	assert.Equal(t, total, res.Cleared)
	require.Len(t, res.Parts, 2)

	index := readDocument(t, res.Path)
	require.Equal(t, parse.DocumentSitemapIndex, index.Kind)
	require.Len(t, index.Sitemaps, 2)
	assert.Equal(t, []string{"https://example.com/sitemap-latest-1.xml"}, index.Sitemaps[0].Locs)
	assert.Equal(t, []string{"https://example.com/sitemap-latest-2.xml"}, index.Sitemaps[1].Locs)

	first := readDocument(t, res.Parts[0])
	second := readDocument(t, res.Parts[1])
	assert.Len(t, first.URLs, parse.MaxURLsPerFile)
	require.Len(t, second.URLs, 5)
	assert.Equal(t, fmt.Sprintf("https://example.com/p/%06d/", total-1), second.URLs[4].Locs[0])

	// The drained set is not re-emitted
	res, err = em.Emit(ctx, day1)
	require.NoError(t, err)
	assert.False(t, res.Emitted)

	// A small set afterwards replaces the index and drops the old parts
	_, err = tr.Compare(ctx, "/p/late/", price(1))
	require.NoError(t, err)
	res, err = em.Emit(ctx, day1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.URLCount)
	assert.Empty(t, res.Parts)
	assert.Equal(t, parse.DocumentURLSet, readDocument(t, res.Path).Kind)
	for _, part := range []string{"sitemap-latest-1.xml", "sitemap-latest-2.xml"} {
		assert.NoFileExists(t, filepath.Join(filepath.Dir(res.Path), part))
	}
}

func TestService_EmitPendingCarriesUnemittedDay(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	tr, _ := newTestTracker(t, cfg)
	svc := NewService(tr, newTestEmitter(t, tr, cfg), cfg, testLogger())

	// Recorded after the last run of day1
	_, err := tr.Compare(ctx, "/pieces/late/", price(1))
	require.NoError(t, err)

	day2 := day1.AddDate(0, 0, 1)
	tr.SetClock(func() time.Time { return day2 })
	_, err = tr.Compare(ctx, "/pieces/today/", price(1))
	require.NoError(t, err)

	res, err := svc.EmitPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-02", res.Date)
	assert.Equal(t, []string{"2024-05-01"}, res.CarriedOver)
	assert.Equal(t, 2, res.URLCount)
	assert.Equal(t, 2, res.Cleared)

	res, err = svc.EmitPending(ctx)
	require.NoError(t, err)
	assert.False(t, res.Emitted)
	assert.Empty(t, res.CarriedOver)
}

func readDocument(t *testing.T, path string) *parse.Document {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	doc, err := parse.ParseDocument(f)
	require.NoError(t, err)
	return doc
}

func TestService_Contract(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	tr, _ := newTestTracker(t, cfg)
	svc := NewService(tr, newTestEmitter(t, tr, cfg), cfg, testLogger())

	src := datasource.NewMemorySource(
		models.Product{ID: 1, GammeSlug: "filtre", Slug: "a", Name: "A", Price: models.Float(5)},
		models.Product{ID: 2, GammeSlug: "filtre", Slug: "b", Name: "B", Price: models.Float(7)},
	)
	pager := datasource.NewPager(src, config.FetchConfig{PageSize: 1, ShardConcurrency: 1, PageTimeout: time.Second}, testLogger())

	ing, err := svc.Ingest(ctx, pager, models.EntityProduct)
	require.NoError(t, err)
	assert.Equal(t, 2, ing.Compared)
	assert.Equal(t, 2, ing.ByType[models.ChangeTypeNew])

	// A second pass over unchanged rows records nothing new
	ing, err = svc.Ingest(ctx, pager, models.EntityProduct)
	require.NoError(t, err)
	assert.Zero(t, ing.Changed)

	stats, err := svc.Stats(ctx, "2024-05-01")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.ByChangeType[models.ChangeTypeNew])

	changes, err := svc.Changes(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/pieces/filtre/a/", changes[0].URL)

	_, err = svc.Changes(ctx, "yesterday")
	assert.Error(t, err)

	view := svc.Config()
	assert.Equal(t, 30, view.RetentionDays)
	assert.True(t, view.ClearAfterEmit)
	assert.Equal(t, "memory", view.Store)

	emitted, err := svc.Emit(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, emitted.URLCount)
}
