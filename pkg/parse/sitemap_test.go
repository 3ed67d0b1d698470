package parse

import (
	"bytes"
	"encoding/xml"
	"strings"
	"testing"
	"time"

	"github.com/Sriram-PR/sitemap-builder/pkg/models"
)

func TestWriteURLSet_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteURLSet(&buf, nil); err != nil {
		t.Fatalf("WriteURLSet() error = %v", err)
	}

	want := xml.Header + `<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9"></urlset>` + "\n"
	if buf.String() != want {
		t.Errorf("WriteURLSet(nil) =\n%s\nwant\n%s", buf.String(), want)
	}

	doc, err := ParseDocument(&buf)
	if err != nil {
		t.Fatalf("ParseDocument() error = %v", err)
	}
	if doc.Kind != DocumentURLSet || len(doc.URLs) != 0 {
		t.Errorf("ParseDocument() = %+v, want empty urlset", doc)
	}
}

func TestWriteURLSet_RoundTrip(t *testing.T) {
	lastmod := time.Date(2024, 1, 15, 10, 30, 0, 0, time.FixedZone("CET", 3600))
	entries := []models.SitemapEntry{
		{
			Loc:        "https://example.com/pieces/filtre-a-huile/",
			LastMod:    lastmod,
			ChangeFreq: models.ChangeFreqWeekly,
			Priority:   0.8,
			Alternates: []models.HreflangLink{
				{Hreflang: "fr", Href: "https://example.com/pieces/filtre-a-huile/"},
				{Hreflang: "x-default", Href: "https://example.com/pieces/filtre-a-huile/"},
			},
			Images: []models.SitemapImage{
				{Loc: "https://cdn.example.com/img/1.jpg", Title: "Filtre - Main view", Caption: "Filtre - Main view | Example"},
			},
		},
		{
			Loc:      "https://example.com/search/?q=a&b=<c>'\"",
			Priority: 0.5,
		},
	}

	var buf bytes.Buffer
	if err := WriteURLSet(&buf, entries); err != nil {
		t.Fatalf("WriteURLSet() error = %v", err)
	}
	out := buf.String()

	for _, fragment := range []string{
		`xmlns:xhtml="http://www.w3.org/1999/xhtml"`,
		`xmlns:image="http://www.google.com/schemas/sitemap-image/1.1"`,
		`<lastmod>2024-01-15T09:30:00Z</lastmod>`,
		`<priority>0.8</priority>`,
		`<xhtml:link rel="alternate" hreflang="x-default" href="https://example.com/pieces/filtre-a-huile/">`,
		`<image:loc>https://cdn.example.com/img/1.jpg</image:loc>`,
		`q=a&amp;b=&lt;c&gt;&#39;&#34;`,
	} {
		if !strings.Contains(out, fragment) {
			t.Errorf("output missing %q:\n%s", fragment, out)
		}
	}

	doc, err := ParseDocument(strings.NewReader(out))
	if err != nil {
		t.Fatalf("ParseDocument() error = %v", err)
	}
	if len(doc.URLs) != 2 {
		t.Fatalf("ParseDocument() found %d urls, want 2", len(doc.URLs))
	}
	first := doc.URLs[0]
	if len(first.Locs) != 1 || first.Locs[0] != entries[0].Loc {
		t.Errorf("first.Locs = %v", first.Locs)
	}
	if len(first.Alternates) != 2 || first.Alternates[1].Hreflang != "x-default" {
		t.Errorf("first.Alternates = %+v", first.Alternates)
	}
	if len(first.Images) != 1 || first.Images[0].Locs[0] != "https://cdn.example.com/img/1.jpg" {
		t.Errorf("first.Images = %+v", first.Images)
	}
	if doc.URLs[1].Locs[0] != entries[1].Loc {
		t.Errorf("escaped loc did not round trip: %q", doc.URLs[1].Locs[0])
	}
}

func TestWriteURLSet_NoOptionalNamespaces(t *testing.T) {
	var buf bytes.Buffer
	entries := []models.SitemapEntry{{Loc: "https://example.com/a/", Priority: 1}}
	if err := WriteURLSet(&buf, entries); err != nil {
		t.Fatalf("WriteURLSet() error = %v", err)
	}
	if strings.Contains(buf.String(), "xmlns:xhtml") || strings.Contains(buf.String(), "xmlns:image") {
		t.Errorf("unexpected optional namespace:\n%s", buf.String())
	}
	if !strings.Contains(buf.String(), "<priority>1.0</priority>") {
		t.Errorf("priority not formatted with one decimal:\n%s", buf.String())
	}
}

func TestURLSetWriter_WriteAfterClose(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewURLSetWriter(&buf, false, false)
	if err != nil {
		t.Fatalf("NewURLSetWriter() error = %v", err)
	}
	if err := w.Write(models.SitemapEntry{Loc: "https://example.com/"}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if w.Count() != 1 {
		t.Errorf("Count() = %d, want 1", w.Count())
	}
	if err := w.Write(models.SitemapEntry{Loc: "https://example.com/b"}); err == nil {
		t.Error("Write() after Close() should fail")
	}
}

func TestWriteSitemapIndex(t *testing.T) {
	refs := []IndexRef{
		{Loc: "https://example.com/sitemaps/products-1.xml.gz", LastMod: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)},
		{Loc: "https://example.com/sitemaps/products-2.xml.gz"},
	}
	var buf bytes.Buffer
	if err := WriteSitemapIndex(&buf, refs); err != nil {
		t.Fatalf("WriteSitemapIndex() error = %v", err)
	}

	doc, err := ParseDocument(&buf)
	if err != nil {
		t.Fatalf("ParseDocument() error = %v", err)
	}
	if doc.Kind != DocumentSitemapIndex {
		t.Fatalf("Kind = %s, want sitemapindex", doc.Kind)
	}
	if len(doc.Sitemaps) != 2 {
		t.Fatalf("found %d sitemaps, want 2", len(doc.Sitemaps))
	}
	if doc.Sitemaps[0].LastMod != "2024-02-01T00:00:00Z" {
		t.Errorf("LastMod = %q", doc.Sitemaps[0].LastMod)
	}
	if doc.Sitemaps[1].LastMod != "" {
		t.Errorf("zero lastmod should be omitted, got %q", doc.Sitemaps[1].LastMod)
	}
}

func TestParseDocument_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		xmlData string
	}{
		{"Empty", ""},
		{"Malformed", `<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9"><url><loc>x</url>`},
		{"WrongNamespace", `<urlset xmlns="http://example.com/ns"></urlset>`},
		{"WrongRoot", `<feed xmlns="http://www.sitemaps.org/schemas/sitemap/0.9"></feed>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseDocument(strings.NewReader(tt.xmlData)); err == nil {
				t.Errorf("ParseDocument(%q) expected error", tt.xmlData)
			}
		})
	}
}

func TestParseDocument_LocCardinality(t *testing.T) {
	data := `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>https://example.com/a</loc><loc>https://example.com/b</loc></url>
  <url><lastmod>2024-01-01</lastmod></url>
</urlset>`
	doc, err := ParseDocument(strings.NewReader(data))
	if err != nil {
		t.Fatalf("ParseDocument() error = %v", err)
	}
	if len(doc.URLs[0].Locs) != 2 || len(doc.URLs[1].Locs) != 0 {
		t.Errorf("Locs cardinality = %d/%d, want 2/0", len(doc.URLs[0].Locs), len(doc.URLs[1].Locs))
	}
}

func TestFormatPriority(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0.0"},
		{0.5, "0.5"},
		{0.84, "0.8"},
		{1, "1.0"},
		{1.7, "1.0"},
		{-1, "0.0"},
	}
	for _, tt := range tests {
		if got := FormatPriority(tt.in); got != tt.want {
			t.Errorf("FormatPriority(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
