package hreflang

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/Sriram-PR/sitemap-builder/pkg/config"
	"github.com/Sriram-PR/sitemap-builder/pkg/models"
	"github.com/Sriram-PR/sitemap-builder/pkg/utils"
)

// XDefault is the hreflang value of the fallback alternate
const XDefault = "x-default"

// Expander attaches language alternates to entries. Localized URLs are derived from the
// entry's logical path (its path without any locale prefix) and each locale's path prefix.
type Expander struct {
	enabled       bool
	defaultLocale config.LocaleConfig
	locales       []config.LocaleConfig
	byPrefix      []config.LocaleConfig // Locales with a prefix, longest first
	contentTypes  map[models.ContentType][]string
}

// NewExpander creates an expander from a validated hreflang configuration
func NewExpander(cfg config.HreflangConfig) *Expander {
	e := &Expander{
		enabled:      cfg.Enabled && len(cfg.Locales) > 0,
		locales:      cfg.Locales,
		contentTypes: cfg.ContentTypes,
	}
	for _, l := range cfg.Locales {
		if l.Code == cfg.DefaultLocale {
			e.defaultLocale = l
		}
		if strings.Trim(l.PathPrefix, "/") != "" {
			e.byPrefix = append(e.byPrefix, l)
		}
	}
	sort.SliceStable(e.byPrefix, func(i, j int) bool {
		return len(prefix(e.byPrefix[i])) > len(prefix(e.byPrefix[j]))
	})
	return e
}

// Enabled reports whether alternates are emitted at all
func (e *Expander) Enabled() bool { return e != nil && e.enabled }

// LocalesFor returns the locales whitelisted for a content type, in declaration order.
// Without a whitelist every locale applies; a content type missing from a whitelist gets none.
func (e *Expander) LocalesFor(ct models.ContentType) []config.LocaleConfig {
	if !e.Enabled() {
		return nil
	}
	if len(e.contentTypes) == 0 {
		return e.locales
	}
	codes, ok := e.contentTypes[ct]
	if !ok {
		return nil
	}
	allowed := make(map[string]bool, len(codes))
	for _, c := range codes {
		allowed[c] = true
	}
	var out []config.LocaleConfig
	for _, l := range e.locales {
		if allowed[l.Code] {
			out = append(out, l)
		}
	}
	return out
}

// prefix returns the normalized "/xx" form of a locale's path prefix, empty for none
func prefix(l config.LocaleConfig) string {
	p := strings.Trim(strings.ToLower(l.PathPrefix), "/")
	if p == "" {
		return ""
	}
	return "/" + p
}

// LogicalPath returns loc with its locale prefix removed, and the locale that prefix belongs to.
// URLs without a known prefix belong to the default locale.
func (e *Expander) LogicalPath(loc string) (*url.URL, config.LocaleConfig, error) {
	u, err := url.Parse(loc)
	if err != nil || u.Host == "" {
		return nil, config.LocaleConfig{}, fmt.Errorf("%w: alternate base '%s' is not an absolute URL", utils.ErrParsing, loc)
	}
	logical := *u
	for _, l := range e.byPrefix {
		p := prefix(l)
		if u.Path == p || strings.HasPrefix(u.Path, p+"/") {
			logical.Path = strings.TrimPrefix(u.Path, p)
			if logical.Path == "" {
				logical.Path = "/"
			}
			logical.RawPath = ""
			return &logical, l, nil
		}
	}
	return &logical, e.defaultLocale, nil
}

func localize(logical *url.URL, l config.LocaleConfig) string {
	u := *logical
	if p := prefix(l); p != "" {
		u.Path = p + u.Path
		u.RawPath = ""
	}
	return u.String()
}

// Alternates builds the alternate set of a logical URL: one link per whitelisted locale,
// then x-default pointing at the default-locale URL. Returns nil when no locale applies.
func (e *Expander) Alternates(logical *url.URL, ct models.ContentType) []models.HreflangLink {
	locales := e.LocalesFor(ct)
	if len(locales) == 0 {
		return nil
	}
	links := make([]models.HreflangLink, 0, len(locales)+1)
	for _, l := range locales {
		links = append(links, models.HreflangLink{Hreflang: l.Code, Href: localize(logical, l)})
	}
	links = append(links, models.HreflangLink{Hreflang: XDefault, Href: localize(logical, e.defaultLocale)})
	return links
}

// Expand returns entry with its alternates attached
func (e *Expander) Expand(entry models.SitemapEntry, ct models.ContentType) (models.SitemapEntry, error) {
	if !e.Enabled() {
		return entry, nil
	}
	logical, _, err := e.LogicalPath(entry.Loc)
	if err != nil {
		return entry, err
	}
	entry.Alternates = e.Alternates(logical, ct)
	return entry, nil
}

// Variants returns one entry per other whitelisted locale of entry, each carrying the same
// alternate set as entry so the group stays symmetric
func (e *Expander) Variants(entry models.SitemapEntry, ct models.ContentType) ([]models.SitemapEntry, error) {
	if !e.Enabled() {
		return nil, nil
	}
	logical, own, err := e.LogicalPath(entry.Loc)
	if err != nil {
		return nil, err
	}
	alternates := e.Alternates(logical, ct)
	var out []models.SitemapEntry
	for _, l := range e.LocalesFor(ct) {
		if l.Code == own.Code {
			continue
		}
		v := entry
		v.Loc = localize(logical, l)
		v.Alternates = alternates
		out = append(out, v)
	}
	return out, nil
}

// SymmetryError reports one entry whose alternates disagree with its group
type SymmetryError struct {
	Group   string `json:"group"` // Logical URL shared by the group
	URL     string `json:"url"`
	Message string `json:"message"`
}

func (s SymmetryError) Error() string {
	return fmt.Sprintf("hreflang group '%s': %s: %s", s.Group, s.URL, s.Message)
}

// ValidateSymmetry groups entries carrying alternates by logical path and reports every member
// whose alternate set differs from the group's first member, lacks a self reference or lacks
// x-default. Entries without alternates are ignored.
func (e *Expander) ValidateSymmetry(entries []models.SitemapEntry) []SymmetryError {
	type member struct {
		loc string
		key string
		set map[string]string
	}
	groups := make(map[string][]member)
	var order []string
	var errs []SymmetryError

	for _, entry := range entries {
		if len(entry.Alternates) == 0 {
			continue
		}
		logical, _, err := e.LogicalPath(entry.Loc)
		if err != nil {
			errs = append(errs, SymmetryError{Group: entry.Loc, URL: entry.Loc, Message: err.Error()})
			continue
		}
		group := logical.String()
		set := make(map[string]string, len(entry.Alternates))
		selfRef := false
		for _, a := range entry.Alternates {
			set[a.Hreflang] = a.Href
			if a.Href == entry.Loc {
				selfRef = true
			}
		}
		if !selfRef {
			errs = append(errs, SymmetryError{Group: group, URL: entry.Loc, Message: "no self-referencing alternate"})
		}
		if _, ok := set[XDefault]; !ok {
			errs = append(errs, SymmetryError{Group: group, URL: entry.Loc, Message: "missing x-default alternate"})
		}
		if _, ok := groups[group]; !ok {
			order = append(order, group)
		}
		groups[group] = append(groups[group], member{loc: entry.Loc, key: setKey(set), set: set})
	}

	for _, group := range order {
		members := groups[group]
		ref := members[0]
		for _, m := range members[1:] {
			if m.key == ref.key {
				continue
			}
			missing, extra := diff(ref.set, m.set)
			errs = append(errs, SymmetryError{
				Group: group,
				URL:   m.loc,
				Message: fmt.Sprintf("alternates differ from '%s' (missing [%s], extra [%s])",
					ref.loc, strings.Join(missing, ", "), strings.Join(extra, ", ")),
			})
		}
	}
	return errs
}

func setKey(set map[string]string) string {
	parts := make([]string, 0, len(set))
	for code, href := range set {
		parts = append(parts, code+"="+href)
	}
	sort.Strings(parts)
	return strings.Join(parts, "\n")
}

// diff lists locale codes whose link is in want but not got (missing) and the reverse (extra)
func diff(want, got map[string]string) (missing, extra []string) {
	for code, href := range want {
		if got[code] != href {
			missing = append(missing, code)
		}
	}
	for code, href := range got {
		if want[code] != href {
			extra = append(extra, code)
		}
	}
	sort.Strings(missing)
	sort.Strings(extra)
	return missing, extra
}
