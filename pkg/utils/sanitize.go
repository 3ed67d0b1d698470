package utils

import (
	"regexp"
	"strings"
)

// --- Filename Sanitization ---
var invalidFilenameChars = regexp.MustCompile(`[^a-z0-9._-]`) // Anything outside the URL-safe filename set
var consecutiveDashes = regexp.MustCompile(`-+`)
const maxFilenameLength = 100

// SanitizeFilename turns a node or shard name into a lower-case, URL-safe file
// name component (sitemap files are served under their file names).
func SanitizeFilename(name string) string {
	sanitized := strings.ToLower(strings.TrimSpace(name))
	sanitized = invalidFilenameChars.ReplaceAllString(sanitized, "-")
	sanitized = consecutiveDashes.ReplaceAllString(sanitized, "-")
	sanitized = strings.Trim(sanitized, "-.")

	if len(sanitized) > maxFilenameLength {
		sanitized = strings.Trim(sanitized[:maxFilenameLength], "-.")
	}

	if sanitized == "" {
		sanitized = "untitled"
	}
	return sanitized
}
