package models

import "time"

// EntityKind names a catalog table exposed by the data source
type EntityKind string

const (
	EntityBrand        EntityKind = "brand"
	EntityModel        EntityKind = "model"
	EntityMotorization EntityKind = "motorization"
	EntityGamme        EntityKind = "gamme"
	EntityProduct      EntityKind = "product"
	EntityBlog         EntityKind = "blog"
	EntityStatic       EntityKind = "static"
)

// IsValid returns true if the entity kind is known
func (k EntityKind) IsValid() bool {
	switch k {
	case EntityBrand, EntityModel, EntityMotorization, EntityGamme, EntityProduct, EntityBlog, EntityStatic:
		return true
	}
	return false
}

// Record is one typed catalog row. Sharding only needs the stable ID, the slug and the primary date.
type Record interface {
	RecordID() int64
	RecordSlug() string
	RecordDate() time.Time
	Kind() EntityKind
}

// Brand is a vehicle manufacturer
type Brand struct {
	ID        int64
	Slug      string
	Name      string
	Active    bool
	UpdatedAt time.Time
}

func (b Brand) RecordID() int64       { return b.ID }
func (b Brand) RecordSlug() string    { return b.Slug }
func (b Brand) RecordDate() time.Time { return b.UpdatedAt }
func (b Brand) Kind() EntityKind      { return EntityBrand }

// Model is a vehicle model of a brand
type Model struct {
	ID        int64
	BrandSlug string
	Slug      string
	Name      string
	UpdatedAt time.Time
}

func (m Model) RecordID() int64       { return m.ID }
func (m Model) RecordSlug() string    { return m.Slug }
func (m Model) RecordDate() time.Time { return m.UpdatedAt }
func (m Model) Kind() EntityKind      { return EntityModel }

// Motorization is an engine variant of a model. ID is the vehicle type ID used by fitment checks.
type Motorization struct {
	ID        int64
	BrandSlug string
	ModelSlug string
	Slug      string
	Name      string
	YearFrom  int
	UpdatedAt time.Time
}

func (m Motorization) RecordID() int64    { return m.ID }
func (m Motorization) RecordSlug() string { return m.Slug }
func (m Motorization) Kind() EntityKind   { return EntityMotorization }

// RecordDate is the first production year when known
func (m Motorization) RecordDate() time.Time {
	if m.YearFrom > 0 {
		return time.Date(m.YearFrom, time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	return m.UpdatedAt
}

// Gamme is a product category
type Gamme struct {
	ID              int64
	Slug            string
	Name            string
	DescriptionHTML string
	InboundLinks    int
	UpdatedAt       time.Time
}

func (g Gamme) RecordID() int64       { return g.ID }
func (g Gamme) RecordSlug() string    { return g.Slug }
func (g Gamme) RecordDate() time.Time { return g.UpdatedAt }
func (g Gamme) Kind() EntityKind      { return EntityGamme }

// Product is a part, optionally tied to a vehicle type for fitment pages
type Product struct {
	ID              int64
	TypeID          int64
	GammeID         int64
	GammeSlug       string
	Slug            string
	Name            string
	Price           *float64
	Stock           *int
	Availability    Availability
	Noindex         bool
	CanonicalURL    string // Empty means self-canonical
	DescriptionHTML string
	InboundLinks    int
	Images          ProductImages

	ContentUpdatedAt   *time.Time
	StockUpdatedAt     *time.Time
	PriceUpdatedAt     *time.Time
	TechSheetUpdatedAt *time.Time
	SEOUpdatedAt       *time.Time
	CreatedAt          *time.Time
}

func (p Product) RecordID() int64    { return p.ID }
func (p Product) RecordSlug() string { return p.Slug }
func (p Product) Kind() EntityKind   { return EntityProduct }

// RecordDate is the creation date, zero when unknown
func (p Product) RecordDate() time.Time {
	if p.CreatedAt != nil {
		return *p.CreatedAt
	}
	return time.Time{}
}

// BlogArticle is an editorial page stored as markdown
type BlogArticle struct {
	ID          int64
	Slug        string
	Title       string
	Markdown    string
	PublishedAt time.Time
	UpdatedAt   time.Time
}

func (a BlogArticle) RecordID() int64       { return a.ID }
func (a BlogArticle) RecordSlug() string    { return a.Slug }
func (a BlogArticle) RecordDate() time.Time { return a.PublishedAt }
func (a BlogArticle) Kind() EntityKind      { return EntityBlog }

// StaticPage is a fixed page such as the home page or legal notices
type StaticPage struct {
	ID        int64
	Path      string
	Title     string
	UpdatedAt time.Time
}

func (s StaticPage) RecordID() int64       { return s.ID }
func (s StaticPage) RecordSlug() string    { return s.Path }
func (s StaticPage) RecordDate() time.Time { return s.UpdatedAt }
func (s StaticPage) Kind() EntityKind      { return EntityStatic }
