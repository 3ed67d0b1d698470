package sitemap

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/sitemap-builder/pkg/parse"
)

// VerifyReport summarizes a walk over a written sitemap tree
type VerifyReport struct {
	Root     string   `json:"root"`
	Files    []string `json:"files"` // In visit order
	Indexes  int      `json:"indexes"`
	URLs     int      `json:"urls"`
	Problems []string `json:"problems,omitempty"`
}

// OK reports whether the tree had no problems
func (r *VerifyReport) OK() bool { return len(r.Problems) == 0 }

func (r *VerifyReport) problem(file, format string, args ...any) {
	r.Problems = append(r.Problems, file+": "+fmt.Sprintf(format, args...))
}

// Verifier checks that a tree of sitemap files on disk is well formed and self-consistent
type Verifier struct {
	outputDir string
	baseURL   string
	log       *logrus.Entry
}

// NewVerifier creates a verifier for files under outputDir published at baseURL
func NewVerifier(outputDir, baseURL string, log *logrus.Entry) *Verifier {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Verifier{
		outputDir: outputDir,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		log:       log.WithField("component", "verifier"),
	}
}

// Verify walks the tree starting at rel (relative to the output directory). Every index entry
// must point at an existing file under the base URL; every <url> must carry exactly one <loc>,
// unique within its file, and no file may exceed the URL limit. Only an unreadable root is an error;
// everything else is collected in the report.
func (v *Verifier) Verify(ctx context.Context, rel string) (*VerifyReport, error) {
	report := &VerifyReport{Root: rel}
	doc, err := v.read(rel)
	if err != nil {
		return nil, err
	}
	visited := map[string]bool{rel: true}
	v.check(ctx, report, rel, doc, visited)
	v.log.WithFields(logrus.Fields{
		"root":     rel,
		"files":    len(report.Files),
		"urls":     report.URLs,
		"problems": len(report.Problems),
	}).Info("Sitemap tree verified")
	return report, nil
}

func (v *Verifier) check(ctx context.Context, report *VerifyReport, rel string, doc *parse.Document, visited map[string]bool) {
	report.Files = append(report.Files, rel)

	if doc.Kind == parse.DocumentURLSet {
		v.checkURLSet(report, rel, doc)
		return
	}

	report.Indexes++
	if len(doc.Sitemaps) > parse.MaxURLsPerFile {
		report.problem(rel, "index lists %d sitemaps, limit is %d", len(doc.Sitemaps), parse.MaxURLsPerFile)
	}
	for i, s := range doc.Sitemaps {
		if ctx.Err() != nil {
			report.problem(rel, "verification interrupted: %v", ctx.Err())
			return
		}
		if len(s.Locs) != 1 {
			report.problem(rel, "sitemap #%d has %d <loc> elements", i+1, len(s.Locs))
			continue
		}
		checkLastMod(report, rel, s.LastMod)

		child, ok := v.localPath(s.Locs[0])
		if !ok {
			report.problem(rel, "'%s' is outside %s", s.Locs[0], v.baseURL)
			continue
		}
		if visited[child] {
			continue
		}
		visited[child] = true

		childDoc, err := v.read(child)
		if err != nil {
			report.problem(rel, "'%s': %v", s.Locs[0], err)
			continue
		}
		v.check(ctx, report, child, childDoc, visited)
	}
}

func (v *Verifier) checkURLSet(report *VerifyReport, rel string, doc *parse.Document) {
	if len(doc.URLs) > parse.MaxURLsPerFile {
		report.problem(rel, "%d URLs, limit is %d", len(doc.URLs), parse.MaxURLsPerFile)
	}
	seen := make(map[string]bool, len(doc.URLs))
	for i, u := range doc.URLs {
		if len(u.Locs) != 1 {
			report.problem(rel, "url #%d has %d <loc> elements", i+1, len(u.Locs))
			continue
		}
		loc := u.Locs[0]
		if seen[loc] {
			report.problem(rel, "duplicate <loc> '%s'", loc)
			continue
		}
		seen[loc] = true
		checkLastMod(report, rel, u.LastMod)
		report.URLs++
	}
}

func checkLastMod(report *VerifyReport, rel, lastmod string) {
	if lastmod == "" {
		return
	}
	if _, err := time.Parse(time.RFC3339, lastmod); err != nil {
		report.problem(rel, "lastmod '%s' is not W3C datetime", lastmod)
	}
}

// localPath maps a published URL back to its path relative to the output directory
func (v *Verifier) localPath(loc string) (string, bool) {
	rest, ok := strings.CutPrefix(loc, v.baseURL+"/")
	if !ok || rest == "" {
		return "", false
	}
	clean := path.Clean(rest)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", false
	}
	return clean, true
}

func (v *Verifier) read(rel string) (*parse.Document, error) {
	f, err := os.Open(filepath.Join(v.outputDir, filepath.FromSlash(rel)))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", rel, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(rel, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("decompress %s: %w", rel, err)
		}
		defer gz.Close()
		r = gz
	}
	doc, err := parse.ParseDocument(r)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", rel, err)
	}
	return doc, nil
}
