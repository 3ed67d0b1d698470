package datasource

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Sriram-PR/sitemap-builder/pkg/catalog"
	"github.com/Sriram-PR/sitemap-builder/pkg/models"
	"github.com/Sriram-PR/sitemap-builder/pkg/utils"
)

// SQLiteSource serves the catalog from a SQLite database. Numeric, offset and temporal shard
// filters are pushed down into SQL; alphabetic and custom filters are left to the caller.
type SQLiteSource struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dsn string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Single connection: SQLite has one writer, and ":memory:" databases live per connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	return db, nil
}

// OpenSQLite opens (creating if needed) the catalog database at dsn and applies migrations
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteSource, error) {
	db, err := openDatabase(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open catalog '%s': %w", utils.ErrDatabase, dsn, err)
	}
	if err := ApplyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteSource{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteSource) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

// table describes how one entity is read
type table struct {
	name     string
	columns  string
	yearExpr string // SQL expression yielding the 4-digit year of the primary date
	scan     func(scanner) (models.Record, error)
}

var tables = map[models.EntityKind]table{
	models.EntityBrand: {
		name:     "brands",
		columns:  "id, slug, name, active, updated_at",
		yearExpr: "substr(updated_at, 1, 4)",
		scan: func(sc scanner) (models.Record, error) {
			var b models.Brand
			var updated sql.NullString
			if err := sc.Scan(&b.ID, &b.Slug, &b.Name, &b.Active, &updated); err != nil {
				return nil, err
			}
			var err error
			b.UpdatedAt, err = parseTime(updated)
			return b, err
		},
	},
	models.EntityModel: {
		name:     "models",
		columns:  "id, brand_slug, slug, name, updated_at",
		yearExpr: "substr(updated_at, 1, 4)",
		scan: func(sc scanner) (models.Record, error) {
			var m models.Model
			var updated sql.NullString
			if err := sc.Scan(&m.ID, &m.BrandSlug, &m.Slug, &m.Name, &updated); err != nil {
				return nil, err
			}
			var err error
			m.UpdatedAt, err = parseTime(updated)
			return m, err
		},
	},
	models.EntityMotorization: {
		name:     "motorizations",
		columns:  "id, brand_slug, model_slug, slug, name, year_from, updated_at",
		yearExpr: "CASE WHEN year_from > 0 THEN printf('%04d', year_from) ELSE substr(updated_at, 1, 4) END",
		scan: func(sc scanner) (models.Record, error) {
			var m models.Motorization
			var updated sql.NullString
			if err := sc.Scan(&m.ID, &m.BrandSlug, &m.ModelSlug, &m.Slug, &m.Name, &m.YearFrom, &updated); err != nil {
				return nil, err
			}
			var err error
			m.UpdatedAt, err = parseTime(updated)
			return m, err
		},
	},
	models.EntityGamme: {
		name:     "gammes",
		columns:  "id, slug, name, description_html, inbound_links, updated_at",
		yearExpr: "substr(updated_at, 1, 4)",
		scan: func(sc scanner) (models.Record, error) {
			var g models.Gamme
			var updated sql.NullString
			if err := sc.Scan(&g.ID, &g.Slug, &g.Name, &g.DescriptionHTML, &g.InboundLinks, &updated); err != nil {
				return nil, err
			}
			var err error
			g.UpdatedAt, err = parseTime(updated)
			return g, err
		},
	},
	models.EntityProduct: {
		name: "products",
		columns: "id, type_id, gamme_id, gamme_slug, slug, name, price, stock, availability, noindex, canonical_url, " +
			"description_html, inbound_links, img_main, img_front, img_side, img_detail, img_installation, " +
			"content_updated_at, stock_updated_at, price_updated_at, tech_sheet_updated_at, seo_updated_at, created_at",
		yearExpr: "substr(created_at, 1, 4)",
		scan:     scanProduct,
	},
	models.EntityBlog: {
		name:     "blog_articles",
		columns:  "id, slug, title, markdown, published_at, updated_at",
		yearExpr: "substr(published_at, 1, 4)",
		scan: func(sc scanner) (models.Record, error) {
			var a models.BlogArticle
			var published, updated sql.NullString
			if err := sc.Scan(&a.ID, &a.Slug, &a.Title, &a.Markdown, &published, &updated); err != nil {
				return nil, err
			}
			var err error
			if a.PublishedAt, err = parseTime(published); err != nil {
				return nil, err
			}
			a.UpdatedAt, err = parseTime(updated)
			return a, err
		},
	},
	models.EntityStatic: {
		name:     "static_pages",
		columns:  "id, path, title, updated_at",
		yearExpr: "substr(updated_at, 1, 4)",
		scan: func(sc scanner) (models.Record, error) {
			var p models.StaticPage
			var updated sql.NullString
			if err := sc.Scan(&p.ID, &p.Path, &p.Title, &updated); err != nil {
				return nil, err
			}
			var err error
			p.UpdatedAt, err = parseTime(updated)
			return p, err
		},
	},
}

func scanProduct(sc scanner) (models.Record, error) {
	var p models.Product
	var price sql.NullFloat64
	var stock sql.NullInt64
	var availability string
	var content, stockAt, priceAt, techSheet, seo, created sql.NullString
	err := sc.Scan(&p.ID, &p.TypeID, &p.GammeID, &p.GammeSlug, &p.Slug, &p.Name, &price, &stock, &availability,
		&p.Noindex, &p.CanonicalURL, &p.DescriptionHTML, &p.InboundLinks,
		&p.Images.Main, &p.Images.Front, &p.Images.Side, &p.Images.Detail, &p.Images.Installation,
		&content, &stockAt, &priceAt, &techSheet, &seo, &created)
	if err != nil {
		return nil, err
	}
	p.Availability = models.Availability(availability)
	if price.Valid {
		p.Price = models.Float(price.Float64)
	}
	if stock.Valid {
		p.Stock = models.Int(int(stock.Int64))
	}
	for _, f := range []struct {
		src sql.NullString
		dst **time.Time
	}{
		{content, &p.ContentUpdatedAt}, {stockAt, &p.StockUpdatedAt}, {priceAt, &p.PriceUpdatedAt},
		{techSheet, &p.TechSheetUpdatedAt}, {seo, &p.SEOUpdatedAt}, {created, &p.CreatedAt},
	} {
		t, err := parseTime(f.src)
		if err != nil {
			return nil, err
		}
		if !t.IsZero() {
			*f.dst = &t
		}
	}
	return p, nil
}

// FetchPage implements DataSource
func (s *SQLiteSource) FetchPage(ctx context.Context, q Query, offset, limit int) ([]models.Record, bool, error) {
	t, ok := tables[q.Entity]
	if !ok {
		return nil, false, fmt.Errorf("%w: unknown entity '%s'", utils.ErrDatabase, q.Entity)
	}
	where, args := pushdown(t, q)
	query := "SELECT " + t.columns + " FROM " + t.name + where + " ORDER BY id LIMIT ? OFFSET ?"
	args = append(args, limit+1, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("%w: query %s: %w", utils.ErrDatabase, t.name, err)
	}
	defer rows.Close()

	out := make([]models.Record, 0, limit)
	hasMore := false
	for rows.Next() {
		if len(out) == limit {
			hasMore = true
			break
		}
		rec, err := t.scan(rows)
		if err != nil {
			return nil, false, fmt.Errorf("%w: scan %s: %w", utils.ErrDatabase, t.name, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("%w: read %s: %w", utils.ErrDatabase, t.name, err)
	}
	return out, hasMore, nil
}

func pushdown(t table, q Query) (string, []any) {
	if q.Filter == nil {
		return "", nil
	}
	f := q.Filter
	switch f.Kind {
	case models.ShardingNumeric, models.ShardingOffset:
		return " WHERE id >= ? AND id < ?", []any{f.Min, f.Max}
	case models.ShardingTemporal:
		if t.yearExpr != "" {
			return " WHERE " + t.yearExpr + " = ?", []any{fmt.Sprintf("%04d", f.Year)}
		}
	}
	return "", nil
}

// IsCombinationValid implements catalog.IntegrityOracle against the fitments table:
// an active pair is valid, an inactive one answers 410 and an unknown one 404.
func (s *SQLiteSource) IsCombinationValid(ctx context.Context, typeID, gammeID int64) (catalog.Verdict, error) {
	var active bool
	err := s.db.QueryRowContext(ctx, "SELECT active FROM fitments WHERE type_id = ? AND gamme_id = ?", typeID, gammeID).Scan(&active)
	switch {
	case err == sql.ErrNoRows:
		return catalog.Verdict{Valid: false, HTTPStatusHint: 404}, nil
	case err != nil:
		return catalog.Verdict{}, fmt.Errorf("%w: fitment lookup: %w", utils.ErrDatabase, err)
	case !active:
		return catalog.Verdict{Valid: false, HTTPStatusHint: 410}, nil
	}
	return catalog.Verdict{Valid: true, HTTPStatusHint: 200}, nil
}

// SetFitment records whether a vehicle type / product family pair is sold
func (s *SQLiteSource) SetFitment(ctx context.Context, typeID, gammeID int64, active bool) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO fitments (type_id, gamme_id, active) VALUES (?, ?, ?)", typeID, gammeID, active)
	if err != nil {
		return fmt.Errorf("%w: set fitment: %w", utils.ErrDatabase, err)
	}
	return nil
}

// Count returns the number of rows of an entity
func (s *SQLiteSource) Count(ctx context.Context, entity models.EntityKind) (int, error) {
	t, ok := tables[entity]
	if !ok {
		return 0, fmt.Errorf("%w: unknown entity '%s'", utils.ErrDatabase, entity)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+t.name).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count %s: %w", utils.ErrDatabase, t.name, err)
	}
	return n, nil
}

// InsertRecords upserts records in one transaction
func (s *SQLiteSource) InsertRecords(ctx context.Context, recs ...models.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", utils.ErrDatabase, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, rec := range recs {
		query, args := insertStatement(rec)
		if query == "" {
			return fmt.Errorf("%w: unsupported record type %T", utils.ErrDatabase, rec)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("%w: insert %s %d: %w", utils.ErrDatabase, rec.Kind(), rec.RecordID(), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", utils.ErrDatabase, err)
	}
	return nil
}

const (
	insertBrand = "INSERT OR REPLACE INTO brands (id, slug, name, active, updated_at) VALUES (?, ?, ?, ?, ?)"
	insertModel = "INSERT OR REPLACE INTO models (id, brand_slug, slug, name, updated_at) VALUES (?, ?, ?, ?, ?)"

	insertMotorization = `INSERT OR REPLACE INTO motorizations (id, brand_slug, model_slug, slug, name, year_from, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	insertGamme = `INSERT OR REPLACE INTO gammes (id, slug, name, description_html, inbound_links, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	insertProduct = `INSERT OR REPLACE INTO products (id, type_id, gamme_id, gamme_slug, slug, name, price, stock,
		availability, noindex, canonical_url, description_html, inbound_links,
		img_main, img_front, img_side, img_detail, img_installation,
		content_updated_at, stock_updated_at, price_updated_at, tech_sheet_updated_at, seo_updated_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	insertBlog = `INSERT OR REPLACE INTO blog_articles (id, slug, title, markdown, published_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	insertStatic = "INSERT OR REPLACE INTO static_pages (id, path, title, updated_at) VALUES (?, ?, ?, ?)"
)

func insertStatement(rec models.Record) (string, []any) {
	switch r := rec.(type) {
	case models.Brand:
		return insertBrand, []any{r.ID, r.Slug, r.Name, r.Active, formatTime(r.UpdatedAt)}
	case models.Model:
		return insertModel, []any{r.ID, r.BrandSlug, r.Slug, r.Name, formatTime(r.UpdatedAt)}
	case models.Motorization:
		return insertMotorization, []any{r.ID, r.BrandSlug, r.ModelSlug, r.Slug, r.Name, r.YearFrom, formatTime(r.UpdatedAt)}
	case models.Gamme:
		return insertGamme, []any{r.ID, r.Slug, r.Name, r.DescriptionHTML, r.InboundLinks, formatTime(r.UpdatedAt)}
	case models.Product:
		var price, stock any
		if r.Price != nil {
			price = *r.Price
		}
		if r.Stock != nil {
			stock = *r.Stock
		}
		return insertProduct, []any{r.ID, r.TypeID, r.GammeID, r.GammeSlug, r.Slug, r.Name, price, stock,
			string(r.Availability), r.Noindex, r.CanonicalURL, r.DescriptionHTML, r.InboundLinks,
			r.Images.Main, r.Images.Front, r.Images.Side, r.Images.Detail, r.Images.Installation,
			formatTimePtr(r.ContentUpdatedAt), formatTimePtr(r.StockUpdatedAt), formatTimePtr(r.PriceUpdatedAt),
			formatTimePtr(r.TechSheetUpdatedAt), formatTimePtr(r.SEOUpdatedAt), formatTimePtr(r.CreatedAt)}
	case models.BlogArticle:
		return insertBlog, []any{r.ID, r.Slug, r.Title, r.Markdown, formatTime(r.PublishedAt), formatTime(r.UpdatedAt)}
	case models.StaticPage:
		return insertStatic, []any{r.ID, r.Path, r.Title, formatTime(r.UpdatedAt)}
	}
	return "", nil
}

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(ns sql.NullString) (time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp '%s': %w", utils.ErrParsing, ns.String, err)
	}
	return t.UTC(), nil
}
