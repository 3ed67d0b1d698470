package datasource

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/Sriram-PR/sitemap-builder/pkg/utils"
)

// CurrentSchemaVersion is the catalog schema version after all migrations
const CurrentSchemaVersion = "1.1.0"

// Migration is one catalog schema step
type Migration struct {
	Version string
	Up      string
}

// AllMigrations contains all catalog migrations in order
var AllMigrations = []Migration{
	{Version: "1.0.0", Up: migrationV1Up},
	{Version: "1.1.0", Up: migrationV11Up},
}

// Timestamps are RFC 3339 UTC text so that substr(col, 1, 4) is the year
const migrationV1Up = `
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS brands (
    id INTEGER PRIMARY KEY,
    slug TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL DEFAULT '',
    active INTEGER NOT NULL DEFAULT 1,
    updated_at TEXT
);

CREATE TABLE IF NOT EXISTS models (
    id INTEGER PRIMARY KEY,
    brand_slug TEXT NOT NULL,
    slug TEXT NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    updated_at TEXT
);

CREATE TABLE IF NOT EXISTS motorizations (
    id INTEGER PRIMARY KEY,
    brand_slug TEXT NOT NULL,
    model_slug TEXT NOT NULL,
    slug TEXT NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    year_from INTEGER NOT NULL DEFAULT 0,
    updated_at TEXT
);

CREATE TABLE IF NOT EXISTS gammes (
    id INTEGER PRIMARY KEY,
    slug TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL DEFAULT '',
    description_html TEXT NOT NULL DEFAULT '',
    inbound_links INTEGER NOT NULL DEFAULT 0,
    updated_at TEXT
);

CREATE TABLE IF NOT EXISTS products (
    id INTEGER PRIMARY KEY,
    type_id INTEGER NOT NULL DEFAULT 0,
    gamme_id INTEGER NOT NULL DEFAULT 0,
    gamme_slug TEXT NOT NULL,
    slug TEXT NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    price REAL,
    stock INTEGER,
    availability TEXT NOT NULL DEFAULT '',
    noindex INTEGER NOT NULL DEFAULT 0,
    canonical_url TEXT NOT NULL DEFAULT '',
    description_html TEXT NOT NULL DEFAULT '',
    inbound_links INTEGER NOT NULL DEFAULT 0,
    img_main TEXT NOT NULL DEFAULT '',
    img_front TEXT NOT NULL DEFAULT '',
    img_side TEXT NOT NULL DEFAULT '',
    img_detail TEXT NOT NULL DEFAULT '',
    img_installation TEXT NOT NULL DEFAULT '',
    content_updated_at TEXT,
    stock_updated_at TEXT,
    price_updated_at TEXT,
    tech_sheet_updated_at TEXT,
    seo_updated_at TEXT,
    created_at TEXT
);

CREATE TABLE IF NOT EXISTS blog_articles (
    id INTEGER PRIMARY KEY,
    slug TEXT NOT NULL UNIQUE,
    title TEXT NOT NULL DEFAULT '',
    markdown TEXT NOT NULL DEFAULT '',
    published_at TEXT,
    updated_at TEXT
);

CREATE TABLE IF NOT EXISTS static_pages (
    id INTEGER PRIMARY KEY,
    path TEXT NOT NULL UNIQUE,
    title TEXT NOT NULL DEFAULT '',
    updated_at TEXT
);

-- Valid vehicle type / product family pairs; inactive pairs are answered with 410
CREATE TABLE IF NOT EXISTS fitments (
    type_id INTEGER NOT NULL,
    gamme_id INTEGER NOT NULL,
    active INTEGER NOT NULL DEFAULT 1,
    PRIMARY KEY (type_id, gamme_id)
);
`

// Indexes backing temporal shard pushdown
const migrationV11Up = `
CREATE INDEX IF NOT EXISTS idx_products_created ON products(created_at);
CREATE INDEX IF NOT EXISTS idx_blog_published ON blog_articles(published_at);
CREATE INDEX IF NOT EXISTS idx_motorizations_year ON motorizations(year_from);
CREATE INDEX IF NOT EXISTS idx_products_fitment ON products(type_id, gamme_id);
`

// ApplyMigrations brings the catalog schema to CurrentSchemaVersion
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	current, err := SchemaVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, migration := range AllMigrations {
		version, err := semver.NewVersion(migration.Version)
		if err != nil {
			return fmt.Errorf("%w: invalid migration version %s: %w", utils.ErrDatabase, migration.Version, err)
		}
		if !current.LessThan(version) {
			continue // Already applied
		}
		if _, err := db.ExecContext(ctx, migration.Up); err != nil {
			return fmt.Errorf("%w: apply migration %s: %w", utils.ErrDatabase, migration.Version, err)
		}
		if _, err := db.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", migration.Version); err != nil {
			return fmt.Errorf("%w: record migration %s: %w", utils.ErrDatabase, migration.Version, err)
		}
		current = version
	}
	return nil
}

// SchemaVersion returns the highest applied migration, 0.0.0 on a fresh database
func SchemaVersion(ctx context.Context, db *sql.DB) (*semver.Version, error) {
	current := semver.MustParse("0.0.0")

	var tableName string
	err := db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&tableName)
	if err == sql.ErrNoRows {
		return current, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: check schema_version table: %w", utils.ErrDatabase, err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_version")
	if err != nil {
		return nil, fmt.Errorf("%w: read schema_version: %w", utils.ErrDatabase, err)
	}
	defer rows.Close()
	// applied_at has second resolution, so the highest version wins rather than the latest row
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("%w: scan schema_version: %w", utils.ErrDatabase, err)
		}
		v, err := semver.NewVersion(s)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid schema version %s: %w", utils.ErrDatabase, s, err)
		}
		if current.LessThan(v) {
			current = v
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: read schema_version: %w", utils.ErrDatabase, err)
	}
	return current, nil
}
