package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

// --- Sentinel Errors for Categorization ---
var (
	ErrRetryFailed      = errors.New("page fetch failed after all retries") // Wraps the last underlying error
	ErrPageTimeout      = errors.New("page fetch timed out")
	ErrParsing          = errors.New("parsing error")    // Wraps specific parsing error (URL, JSON, XML, HTML)
	ErrFilesystem       = errors.New("filesystem error") // Wraps os errors
	ErrDatabase         = errors.New("database error")   // Wraps badger/sqlite errors
	ErrStoreUnavailable = errors.New("key-value store unavailable")
	ErrSerialization    = errors.New("sitemap serialization error")
	ErrCompression      = errors.New("compression error")
	ErrSemaphoreTimeout = errors.New("timeout acquiring semaphore")
	ErrUnknownNode      = errors.New("unknown sitemap node")
	ErrNodeInFlight     = errors.New("sitemap node generation already in flight")
	ErrPublish          = errors.New("publish error")
	ErrConfigValidation = errors.New("configuration validation error")
)

// WrapErrorf prefixes err with a formatted message, keeping it matchable with errors.Is.
// Returns nil when err is nil.
func WrapErrorf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// CategorizeError maps an error to a predefined category string for logging/metrics.
func CategorizeError(err error) string {
	if err == nil {
		return "None"
	}

	switch {
	case errors.Is(err, ErrRetryFailed):
		// Retry errors are wrapped together with their last cause
		if errors.Is(err, ErrPageTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return "RetryFailed_PageTimeout"
		}
		if errors.Is(err, ErrDatabase) {
			return "RetryFailed_Database"
		}
		if strings.Contains(strings.ToLower(err.Error()), "timeout") {
			return "RetryFailed_PageTimeout"
		}
		return "RetryFailed_Other"
	case errors.Is(err, ErrPageTimeout):
		return "Fetch_PageTimeout"
	case errors.Is(err, ErrStoreUnavailable):
		return "Store_Unavailable"
	case errors.Is(err, ErrParsing):
		errMsg := err.Error()
		if strings.Contains(errMsg, "URL") {
			return "Content_ParsingURL"
		}
		if strings.Contains(errMsg, "JSON") {
			return "Content_ParsingJSON"
		}
		if strings.Contains(errMsg, "XML") {
			return "Content_ParsingXML"
		}
		if strings.Contains(errMsg, "HTML") {
			return "Content_ParsingHTML"
		}
		return "Content_ParsingOther"
	case errors.Is(err, ErrSerialization):
		return "Output_Serialization"
	case errors.Is(err, ErrCompression):
		return "Output_Compression"
	case errors.Is(err, ErrFilesystem):
		if errors.Is(err, os.ErrPermission) {
			return "Filesystem_Permission"
		}
		if errors.Is(err, os.ErrNotExist) {
			return "Filesystem_NotExist"
		}
		if errors.Is(err, os.ErrExist) {
			return "Filesystem_Exist"
		}
		return "Filesystem_Other"
	case errors.Is(err, ErrDatabase):
		return "Database_Other"
	case errors.Is(err, ErrSemaphoreTimeout):
		return "Resource_SemaphoreTimeout"
	case errors.Is(err, ErrUnknownNode):
		return "Node_Unknown"
	case errors.Is(err, ErrNodeInFlight):
		return "Node_InFlight"
	case errors.Is(err, ErrPublish):
		return "Publish_Failed"
	case errors.Is(err, ErrConfigValidation):
		return "Config_Validation"
	}

	// --- Fallback checks for common underlying error types/strings ---

	if errors.Is(err, context.Canceled) {
		return "System_ContextCanceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		if strings.Contains(err.Error(), "semaphore") {
			return "Resource_SemaphoreTimeout"
		}
		return "System_ContextDeadlineExceeded"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "Network_Timeout"
	}
	lowerErrMsg := strings.ToLower(err.Error())
	if strings.Contains(lowerErrMsg, "timeout") {
		return "Network_TimeoutGeneric"
	}
	if strings.Contains(lowerErrMsg, "connection refused") {
		return "Network_ConnectionRefused"
	}
	if strings.Contains(lowerErrMsg, "no such host") {
		return "Network_DNSLookup"
	}

	return "Unknown"
}
