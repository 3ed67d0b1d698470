package hygiene

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/sitemap-builder/pkg/config"
	"github.com/Sriram-PR/sitemap-builder/pkg/models"
	"github.com/Sriram-PR/sitemap-builder/pkg/parse"
	"github.com/Sriram-PR/sitemap-builder/pkg/utils"
)

// ReasonCode is a stable identifier for an exclusion rule, used in run reports
type ReasonCode string

const (
	ReasonInvalidURL     ReasonCode = "invalid_url"
	ReasonStatus         ReasonCode = "invalid_status"
	ReasonNoindex        ReasonCode = "noindex"
	ReasonNonCanonical   ReasonCode = "non_canonical"
	ReasonThinContent    ReasonCode = "thin_content"
	ReasonDisallowedPath ReasonCode = "disallowed_path"
	ReasonExcludedParam  ReasonCode = "excluded_query_param"
	ReasonFragment       ReasonCode = "fragment"
	ReasonRobots         ReasonCode = "robots_disallowed"
	ReasonObsolete       ReasonCode = "obsolete_product"
	ReasonAvailability   ReasonCode = "availability"
)

// Reason is one violated rule
type Reason struct {
	Code    ReasonCode `json:"code"`
	Message string     `json:"message"`
}

// Result is the verdict on one candidate
type Result struct {
	IsValid       bool     `json:"is_valid"`
	NormalizedURL string   `json:"normalized_url"`
	Reasons       []Reason `json:"exclusion_reasons,omitempty"`
}

// Messages returns the human-readable reasons
func (r Result) Messages() []string {
	out := make([]string, 0, len(r.Reasons))
	for _, reason := range r.Reasons {
		out = append(out, reason.Message)
	}
	return out
}

// Validator decides which candidates may be listed and normalizes their URL.
// It is safe for concurrent use.
type Validator struct {
	base          *url.URL
	normalize     parse.NormalizeOptions
	excludeParams []string
	disallowed    []*regexp.Regexp
	robots        *RobotsRule
	analyzer      *ContentAnalyzer
	log           *logrus.Entry
}

// NewValidator builds a validator from the hygiene configuration. robots may be nil.
func NewValidator(baseURL string, cfg config.HygieneConfig, robots *RobotsRule, log *logrus.Entry) (*Validator, error) {
	base, err := url.Parse(baseURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("%w: base URL '%s' is not absolute", utils.ErrConfigValidation, baseURL)
	}
	disallowed, err := utils.CompileRegexPatterns(cfg.DisallowedPathPatterns)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Validator{
		base:          base,
		normalize:     cfg.NormalizeOptions(),
		excludeParams: cfg.ExcludeQueryParams,
		disallowed:    disallowed,
		robots:        robots,
		analyzer: NewContentAnalyzer(base.Hostname(), Thresholds{
			MinWords:         cfg.MinWords,
			MinChars:         cfg.MinChars,
			MinInternalLinks: cfg.MinInternalLinks,
			MinTextHTMLRatio: cfg.MinTextHTMLRatio,
		}),
		log: log.WithField("component", "hygiene"),
	}, nil
}

// Normalize returns the normalized form of raw, resolved against the base URL
func (v *Validator) Normalize(raw string) (string, error) {
	normalized, _, err := parse.ParseAndNormalize(raw, v.base, v.normalize)
	return normalized, err
}

// Validate evaluates every rule independently and collects all violations
func (v *Validator) Validate(c models.CandidateURL) Result {
	normalized, resolved, err := parse.ParseAndNormalize(c.Loc, v.base, v.normalize)
	if err != nil {
		return Result{Reasons: []Reason{{Code: ReasonInvalidURL, Message: fmt.Sprintf("Invalid URL: %v", err)}}}
	}
	res := Result{NormalizedURL: normalized}
	add := func(code ReasonCode, format string, args ...any) {
		res.Reasons = append(res.Reasons, Reason{Code: code, Message: fmt.Sprintf(format, args...)})
	}

	// Absent status, indexable and canonical signals mean the producer vouches for the page
	status := 200
	if c.StatusCode != nil {
		status = *c.StatusCode
	}
	if status != 200 {
		add(ReasonStatus, "Invalid status code: %d", status)
	}
	if c.IsIndexable != nil && !*c.IsIndexable {
		add(ReasonNoindex, "Page is marked noindex")
	}
	if c.IsCanonical != nil && !*c.IsCanonical {
		add(ReasonNonCanonical, "Page is a non-canonical variant")
	}

	informative, shortfalls := v.informative(c)
	// Products carry their own content rule in the availability state machine
	if c.Availability == nil && !informative {
		add(ReasonThinContent, "Insufficient content: %s", strings.Join(shortfalls, ", "))
	}

	path := strings.ToLower(resolved.EscapedPath())
	if path == "" {
		path = "/"
	}
	if re := utils.FirstMatch(v.disallowed, path); re != nil {
		add(ReasonDisallowedPath, "Disallowed path pattern: %s", re.String())
	}

	var excluded []string
	for key := range resolved.Query() {
		if parse.MatchesParam(key, v.excludeParams) {
			excluded = append(excluded, key)
		}
	}
	sort.Strings(excluded)
	for _, key := range excluded {
		add(ReasonExcludedParam, "Excluded query parameter: %s", key)
	}

	if resolved.Fragment != "" || strings.Contains(c.Loc, "#") {
		add(ReasonFragment, "Fragment identifier present")
	}

	if !v.robots.Allowed(resolved.EscapedPath()) {
		add(ReasonRobots, "Blocked by robots.txt")
	}

	if c.Availability != nil {
		if reason, ok := checkAvailability(*c.Availability, c.HasStrongInternalLinking, informative); !ok {
			res.Reasons = append(res.Reasons, reason)
		}
	}

	res.IsValid = len(res.Reasons) == 0
	return res
}

// informative reports whether the page has enough content. An explicit flag wins over body
// analysis; a candidate with neither is assumed informative.
func (v *Validator) informative(c models.CandidateURL) (bool, []string) {
	if c.HasSufficientContent != nil {
		if *c.HasSufficientContent {
			return true, nil
		}
		return false, []string{"flagged by producer"}
	}
	if c.Body == "" {
		return true, nil
	}
	m, err := v.analyzer.Analyze(c.Body, c.BodyFormat)
	if err != nil {
		v.log.WithError(err).WithField("url", c.Loc).Warn("Content analysis failed, treating page as thin")
		return false, []string{"content could not be analyzed"}
	}
	shortfalls := v.analyzer.Shortfalls(m)
	return len(shortfalls) == 0, shortfalls
}

// checkAvailability applies the stock state machine
func checkAvailability(a models.Availability, strongLinking, informative bool) (Reason, bool) {
	switch a {
	case models.AvailabilityInStock:
		return Reason{}, true
	case models.AvailabilityPerennial:
		if informative {
			return Reason{}, true
		}
		return Reason{Code: ReasonAvailability, Message: "Perennial product without informative content"}, false
	case models.AvailabilityOutOfStockTemporary:
		if strongLinking || informative {
			return Reason{}, true
		}
		return Reason{Code: ReasonAvailability, Message: "Temporarily out-of-stock product without strong linking or informative content"}, false
	case models.AvailabilityOutOfStockObsolete:
		return Reason{Code: ReasonObsolete, Message: "Obsolete product must answer 410 Gone, never listed"}, false
	}
	return Reason{Code: ReasonAvailability, Message: fmt.Sprintf("Unknown availability '%s'", a)}, false
}
