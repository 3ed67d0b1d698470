package hreflang

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/sitemap-builder/pkg/config"
	"github.com/Sriram-PR/sitemap-builder/pkg/models"
)

func testConfig() config.HreflangConfig {
	return config.HreflangConfig{
		Enabled:       true,
		DefaultLocale: "fr",
		Locales: []config.LocaleConfig{
			{Code: "fr"},
			{Code: "en", PathPrefix: "/en"},
			{Code: "de", PathPrefix: "de/"},
		},
		ContentTypes: map[models.ContentType][]string{
			models.ContentTypeProduct: {"fr", "en", "de"},
			models.ContentTypeBlog:    {"fr", "en"},
		},
	}
}

func TestExpand_ProductAlternates(t *testing.T) {
	e := NewExpander(testConfig())

	entry, err := e.Expand(models.SitemapEntry{Loc: "https://example.com/pieces/foo/"}, models.ContentTypeProduct)
	require.NoError(t, err)

	assert.Equal(t, []models.HreflangLink{
		{Hreflang: "fr", Href: "https://example.com/pieces/foo/"},
		{Hreflang: "en", Href: "https://example.com/en/pieces/foo/"},
		{Hreflang: "de", Href: "https://example.com/de/pieces/foo/"},
		{Hreflang: XDefault, Href: "https://example.com/pieces/foo/"},
	}, entry.Alternates)
}

func TestExpand_Whitelist(t *testing.T) {
	e := NewExpander(testConfig())

	entry, err := e.Expand(models.SitemapEntry{Loc: "https://example.com/blog/freins/"}, models.ContentTypeBlog)
	require.NoError(t, err)
	require.Len(t, entry.Alternates, 3)
	assert.Equal(t, "en", entry.Alternates[1].Hreflang)

	entry, err = e.Expand(models.SitemapEntry{Loc: "https://example.com/cgv/"}, models.ContentTypeStatic)
	require.NoError(t, err)
	assert.Empty(t, entry.Alternates)

	cfg := testConfig()
	cfg.ContentTypes = nil
	entry, err = NewExpander(cfg).Expand(models.SitemapEntry{Loc: "https://example.com/cgv/"}, models.ContentTypeStatic)
	require.NoError(t, err)
	assert.Len(t, entry.Alternates, 4)
}

func TestExpand_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	e := NewExpander(cfg)

	entry, err := e.Expand(models.SitemapEntry{Loc: "https://example.com/a/"}, models.ContentTypeProduct)
	require.NoError(t, err)
	assert.Nil(t, entry.Alternates)

	variants, err := e.Variants(models.SitemapEntry{Loc: "https://example.com/a/"}, models.ContentTypeProduct)
	require.NoError(t, err)
	assert.Nil(t, variants)
}

func TestLogicalPath(t *testing.T) {
	e := NewExpander(testConfig())

	tests := []struct {
		loc        string
		wantPath   string
		wantLocale string
	}{
		{"https://example.com/en/pieces/foo/", "/pieces/foo/", "en"},
		{"https://example.com/de/", "/", "de"},
		{"https://example.com/en", "/", "en"},
		{"https://example.com/engine/", "/engine/", "fr"},
		{"https://example.com/pieces/", "/pieces/", "fr"},
	}
	for _, tt := range tests {
		t.Run(tt.loc, func(t *testing.T) {
			logical, locale, err := e.LogicalPath(tt.loc)
			require.NoError(t, err)
			assert.Equal(t, tt.wantPath, logical.Path)
			assert.Equal(t, tt.wantLocale, locale.Code)
		})
	}

	_, _, err := e.LogicalPath("/relative")
	assert.Error(t, err)
}

func TestVariants_GroupIsSymmetric(t *testing.T) {
	e := NewExpander(testConfig())

	entry, err := e.Expand(models.SitemapEntry{Loc: "https://example.com/pieces/foo/", Priority: 0.7}, models.ContentTypeProduct)
	require.NoError(t, err)
	variants, err := e.Variants(entry, models.ContentTypeProduct)
	require.NoError(t, err)
	require.Len(t, variants, 2)
	assert.Equal(t, "https://example.com/en/pieces/foo/", variants[0].Loc)
	assert.Equal(t, "https://example.com/de/pieces/foo/", variants[1].Loc)
	assert.Equal(t, 0.7, variants[1].Priority)

	group := append([]models.SitemapEntry{entry}, variants...)
	assert.Empty(t, e.ValidateSymmetry(group))
}

func TestValidateSymmetry_ReportsAsymmetricGroups(t *testing.T) {
	e := NewExpander(testConfig())

	fr := models.SitemapEntry{
		Loc: "https://example.com/pieces/foo/",
		Alternates: []models.HreflangLink{
			{Hreflang: "fr", Href: "https://example.com/pieces/foo/"},
			{Hreflang: "en", Href: "https://example.com/en/pieces/foo/"},
			{Hreflang: XDefault, Href: "https://example.com/pieces/foo/"},
		},
	}
	en := models.SitemapEntry{
		Loc: "https://example.com/en/pieces/foo/",
		Alternates: []models.HreflangLink{
			{Hreflang: "en", Href: "https://example.com/en/pieces/foo/"},
			{Hreflang: "de", Href: "https://example.com/de/pieces/foo/"},
			{Hreflang: XDefault, Href: "https://example.com/pieces/foo/"},
		},
	}
	orphan := models.SitemapEntry{
		Loc:        "https://example.com/pieces/bar/",
		Alternates: []models.HreflangLink{{Hreflang: "en", Href: "https://example.com/en/pieces/bar/"}},
	}
	plain := models.SitemapEntry{Loc: "https://example.com/pieces/baz/"}

	errs := e.ValidateSymmetry([]models.SitemapEntry{fr, en, orphan, plain})
	require.Len(t, errs, 3)

	assert.Equal(t, "https://example.com/pieces/bar/", errs[0].URL)
	assert.Equal(t, "no self-referencing alternate", errs[0].Message)
	assert.Equal(t, "missing x-default alternate", errs[1].Message)

	assert.Equal(t, "https://example.com/pieces/foo/", errs[2].Group)
	assert.Equal(t, "https://example.com/en/pieces/foo/", errs[2].URL)
	assert.Contains(t, errs[2].Message, "missing [fr]")
	assert.Contains(t, errs[2].Message, "extra [de]")
	assert.Contains(t, errs[2].Error(), "hreflang group")
}
