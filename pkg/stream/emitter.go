package stream

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Sriram-PR/sitemap-builder/pkg/config"
	"github.com/Sriram-PR/sitemap-builder/pkg/metrics"
	"github.com/Sriram-PR/sitemap-builder/pkg/models"
	"github.com/Sriram-PR/sitemap-builder/pkg/parse"
	"github.com/Sriram-PR/sitemap-builder/pkg/utils"
)

// Shard is one output file and the entries it lists
type Shard struct {
	Name    string
	Path    string // Relative to the output directory, forward slashes
	Entries []models.SitemapEntry
}

// ShardStat describes one written (or failed) shard
type ShardStat struct {
	Name           string    `json:"name"`
	Path           string    `json:"path"`
	URLCount       int       `json:"url_count"`
	RawSize        int64     `json:"raw_size"`
	CompressedSize int64     `json:"compressed_size"`
	SHA256         string    `json:"sha256,omitempty"` // Of the file as written
	DurationMs     int64     `json:"duration_ms"`
	LastMod        time.Time `json:"lastmod"`
	Error          string    `json:"error,omitempty"`
	ErrorType      string    `json:"error_type,omitempty"`
}

// Result is the outcome of one Emit. Completed shards are returned even when others failed.
type Result struct {
	Success   bool        `json:"success"`
	Shards    []ShardStat `json:"shards"`
	Failed    []ShardStat `json:"failed,omitempty"`
	IndexPath string      `json:"index_path,omitempty"`
	IndexLoc  string      `json:"index_loc,omitempty"`
}

// TotalURLs sums URLs over completed shards
func (r Result) TotalURLs() int {
	n := 0
	for _, s := range r.Shards {
		n += s.URLCount
	}
	return n
}

// LastMod returns the most recent lastmod over completed shards
func (r Result) LastMod() time.Time {
	var latest time.Time
	for _, s := range r.Shards {
		if s.LastMod.After(latest) {
			latest = s.LastMod
		}
	}
	return latest
}

type fileWriter func(path string, write func(w io.Writer) error) error

// Emitter serializes shards to disk on a bounded worker pool and lists them in a sitemap index
type Emitter struct {
	outputDir string
	baseURL   string
	level     int
	workers   int
	maxURLs   int
	metrics   *metrics.Metrics
	log       *logrus.Entry
	writeFile fileWriter
	now       func() time.Time
}

// NewEmitter creates an emitter writing under outputDir; locs of written files are baseURL + relative path
func NewEmitter(cfg config.CompressionConfig, outputDir, baseURL string, m *metrics.Metrics, log *logrus.Entry) (*Emitter, error) {
	if cfg.Level < gzip.BestSpeed || cfg.Level > gzip.BestCompression {
		return nil, fmt.Errorf("%w: gzip level %d outside %d-%d", utils.ErrConfigValidation, cfg.Level, gzip.BestSpeed, gzip.BestCompression)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	maxURLs := cfg.MaxURLsPerFile
	if maxURLs <= 0 || maxURLs > parse.MaxURLsPerFile {
		maxURLs = parse.MaxURLsPerFile
	}
	return &Emitter{
		outputDir: outputDir,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		level:     cfg.Level,
		workers:   max(cfg.Workers, 1),
		maxURLs:   maxURLs,
		metrics:   m,
		log:       log.WithField("component", "stream_emitter"),
		writeFile: utils.WriteFileAtomic,
		now:       time.Now,
	}, nil
}

// MaxURLsPerFile is the shard size cap
func (e *Emitter) MaxURLsPerFile() int { return e.maxURLs }

// Loc returns the public URL of a file relative to the output directory
func (e *Emitter) Loc(rel string) string {
	return e.baseURL + "/" + strings.TrimPrefix(rel, "/")
}

// Split cuts entries into shards of at most MaxURLsPerFile entries. pattern must contain "-%d",
// replaced by the 1-based part number; a single part drops it.
// An empty entry list still yields one shard so an empty <urlset> is written.
func (e *Emitter) Split(name, pattern string, entries []models.SitemapEntry) []Shard {
	if len(entries) <= e.maxURLs {
		return []Shard{{Name: name, Path: strings.ReplaceAll(pattern, "-%d", ""), Entries: entries}}
	}
	var out []Shard
	for part, start := 1, 0; start < len(entries); part, start = part+1, start+e.maxURLs {
		end := min(start+e.maxURLs, len(entries))
		out = append(out, Shard{
			Name:    fmt.Sprintf("%s-%d", name, part),
			Path:    strings.ReplaceAll(pattern, "%d", fmt.Sprint(part)),
			Entries: entries[start:end],
		})
	}
	return out
}

// Emit writes every shard, gzip-compressed when the path ends in .gz, then the index at indexPath
// listing only the shards that succeeded. An empty indexPath writes no index. A failed shard does
// not stop the others; Result.Success is false when any shard failed. Cancellation stops shards
// that have not started yet.
func (e *Emitter) Emit(ctx context.Context, indexPath string, shards []Shard) (Result, error) {
	stats := make([]ShardStat, len(shards))

	var g errgroup.Group
	g.SetLimit(e.workers)
	for i, sh := range shards {
		i, sh := i, sh
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				stats[i] = ShardStat{Name: sh.Name, Path: sh.Path, Error: err.Error(), ErrorType: utils.CategorizeError(err)}
				return nil
			}
			stats[i] = e.writeShard(sh)
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Success: true}
	for _, st := range stats {
		if st.Error != "" {
			res.Success = false
			res.Failed = append(res.Failed, st)
			continue
		}
		res.Shards = append(res.Shards, st)
	}

	if indexPath == "" {
		return res, nil
	}
	refs := make([]parse.IndexRef, 0, len(res.Shards))
	for _, st := range res.Shards {
		refs = append(refs, parse.IndexRef{Loc: e.Loc(st.Path), LastMod: st.LastMod})
	}
	if err := e.WriteIndex(indexPath, refs); err != nil {
		res.Success = false
		return res, err
	}
	res.IndexPath = indexPath
	res.IndexLoc = e.Loc(indexPath)
	return res, nil
}

// WriteIndex writes a <sitemapindex> at rel (relative to the output directory)
func (e *Emitter) WriteIndex(rel string, refs []parse.IndexRef) error {
	target, err := e.target(rel)
	if err != nil {
		return err
	}
	return e.writeFile(target, func(w io.Writer) error {
		return parse.WriteSitemapIndex(w, refs)
	})
}

func (e *Emitter) target(rel string) (string, error) {
	clean := path.Clean("/" + rel)
	if rel == "" || clean == "/" {
		return "", fmt.Errorf("%w: empty output path", utils.ErrFilesystem)
	}
	return filepath.Join(e.outputDir, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}

// countingWriter counts bytes passing through
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func (e *Emitter) writeShard(sh Shard) ShardStat {
	start := time.Now()
	st := ShardStat{Name: sh.Name, Path: sh.Path, URLCount: len(sh.Entries)}
	entryLog := e.log.WithFields(logrus.Fields{"shard": sh.Name, "path": sh.Path})

	fail := func(err error) ShardStat {
		st.Error = err.Error()
		st.ErrorType = utils.CategorizeError(err)
		st.DurationMs = time.Since(start).Milliseconds()
		entryLog.WithField("error_type", st.ErrorType).Errorf("Shard failed: %v", err)
		return st
	}

	if len(sh.Entries) > e.maxURLs {
		return fail(fmt.Errorf("%w: shard has %d URLs, limit is %d", utils.ErrSerialization, len(sh.Entries), e.maxURLs))
	}
	target, err := e.target(sh.Path)
	if err != nil {
		return fail(err)
	}
	compress := strings.HasSuffix(sh.Path, ".gz")

	for _, entry := range sh.Entries {
		if entry.LastMod.After(st.LastMod) {
			st.LastMod = entry.LastMod
		}
	}
	if st.LastMod.IsZero() {
		st.LastMod = e.now().UTC()
	}

	hash := sha256.New()
	err = e.writeFile(target, func(w io.Writer) error {
		file := &countingWriter{w: io.MultiWriter(w, hash)}

		raw := &countingWriter{w: file}
		var gz *gzip.Writer
		if compress {
			var err error
			if gz, err = gzip.NewWriterLevel(file, e.level); err != nil {
				return fmt.Errorf("%w: %w", utils.ErrCompression, err)
			}
			raw.w = gz
		}

		if err := parse.WriteURLSet(raw, sh.Entries); err != nil {
			return err
		}
		if gz != nil {
			if err := gz.Close(); err != nil {
				return fmt.Errorf("%w: close gzip stream: %w", utils.ErrCompression, err)
			}
		}
		st.RawSize = raw.n
		st.CompressedSize = file.n
		return nil
	})
	if err != nil {
		return fail(err)
	}

	st.SHA256 = hex.EncodeToString(hash.Sum(nil))
	st.DurationMs = time.Since(start).Milliseconds()
	e.metrics.AddBytes("raw", st.RawSize)
	if compress {
		e.metrics.AddBytes("gzip", st.CompressedSize)
	}
	entryLog.WithFields(logrus.Fields{
		"urls":        st.URLCount,
		"raw_bytes":   st.RawSize,
		"compressed":  st.CompressedSize,
		"duration_ms": st.DurationMs,
	}).Debug("Shard written")
	return st
}
