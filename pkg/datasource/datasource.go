package datasource

import (
	"context"
	"sort"

	"github.com/Sriram-PR/sitemap-builder/pkg/models"
	"github.com/Sriram-PR/sitemap-builder/pkg/shard"
)

// Query selects the rows of one entity. Filter is a pushdown hint: a source evaluates the kinds
// it can and returns every row otherwise, so callers must re-check Filter.Match.
type Query struct {
	Entity models.EntityKind
	Filter *shard.Filter
}

// DataSource is paginated read access to catalog rows, ordered by ID.
// offset counts rows of the same query; hasMore is false on the last page.
type DataSource interface {
	FetchPage(ctx context.Context, q Query, offset, limit int) (rows []models.Record, hasMore bool, err error)
}

// SourceFunc adapts a function to DataSource
type SourceFunc func(ctx context.Context, q Query, offset, limit int) ([]models.Record, bool, error)

// FetchPage calls f
func (f SourceFunc) FetchPage(ctx context.Context, q Query, offset, limit int) ([]models.Record, bool, error) {
	return f(ctx, q, offset, limit)
}

// MemorySource serves records held in memory. Every filter kind is evaluated.
// It is not safe to Add while pages are being fetched.
type MemorySource struct {
	records map[models.EntityKind][]models.Record
}

// NewMemorySource creates a source holding recs
func NewMemorySource(recs ...models.Record) *MemorySource {
	m := &MemorySource{records: make(map[models.EntityKind][]models.Record)}
	m.Add(recs...)
	return m
}

// Add appends records, keeping each entity ordered by ID
func (m *MemorySource) Add(recs ...models.Record) {
	touched := make(map[models.EntityKind]bool)
	for _, r := range recs {
		m.records[r.Kind()] = append(m.records[r.Kind()], r)
		touched[r.Kind()] = true
	}
	for kind := range touched {
		rows := m.records[kind]
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].RecordID() < rows[j].RecordID() })
	}
}

// FetchPage implements DataSource
func (m *MemorySource) FetchPage(ctx context.Context, q Query, offset, limit int) ([]models.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	var matching []models.Record
	for _, r := range m.records[q.Entity] {
		if q.Filter == nil || q.Filter.Match(r) {
			matching = append(matching, r)
		}
	}
	if offset >= len(matching) {
		return nil, false, nil
	}
	end := min(offset+limit, len(matching))
	return matching[offset:end], end < len(matching), nil
}
