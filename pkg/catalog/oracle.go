package catalog

import (
	"context"
	"net/http"
)

// Verdict is the integrity oracle's answer for one vehicle type and product family pair
type Verdict struct {
	Valid          bool
	HTTPStatusHint int // Status the site answers for an invalid pair, e.g. 404 or 410
}

// IntegrityOracle tells whether a product fitment page (type + gamme) really exists
type IntegrityOracle interface {
	IsCombinationValid(ctx context.Context, typeID, gammeID int64) (Verdict, error)
}

// OracleFunc adapts a function to IntegrityOracle
type OracleFunc func(ctx context.Context, typeID, gammeID int64) (Verdict, error)

// IsCombinationValid calls f
func (f OracleFunc) IsCombinationValid(ctx context.Context, typeID, gammeID int64) (Verdict, error) {
	return f(ctx, typeID, gammeID)
}

// statusFor returns the status code an invalid verdict maps to
func (v Verdict) statusFor() int {
	if v.Valid {
		return http.StatusOK
	}
	if v.HTTPStatusHint == 0 || v.HTTPStatusHint == http.StatusOK {
		return http.StatusNotFound
	}
	return v.HTTPStatusHint
}
