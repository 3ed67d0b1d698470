package hygiene

import (
	"fmt"
	"os"

	"github.com/temoto/robotstxt"

	"github.com/Sriram-PR/sitemap-builder/pkg/utils"
)

// RobotsRule checks paths against the site's own robots.txt so the sitemap never lists blocked URLs
type RobotsRule struct {
	data      *robotstxt.RobotsData
	userAgent string
}

// LoadRobotsRule parses the robots.txt file at path
func LoadRobotsRule(path, userAgent string) (*RobotsRule, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read robots.txt '%s': %w", utils.ErrFilesystem, path, err)
	}
	return NewRobotsRule(string(body), userAgent)
}

// NewRobotsRule parses robots.txt content
func NewRobotsRule(content, userAgent string) (*RobotsRule, error) {
	data, err := robotstxt.FromString(content)
	if err != nil {
		return nil, fmt.Errorf("%w: robots.txt: %w", utils.ErrParsing, err)
	}
	return &RobotsRule{data: data, userAgent: userAgent}, nil
}

// Allowed reports whether the configured agent may crawl path
func (r *RobotsRule) Allowed(path string) bool {
	if r == nil || r.data == nil {
		return true
	}
	return r.data.TestAgent(path, r.userAgent)
}
