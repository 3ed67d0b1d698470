package models

import "time"

// ChangeType classifies how a URL's fingerprint moved between two observations
type ChangeType string

const (
	ChangeTypeNew              ChangeType = "NEW"
	ChangeTypeContentChanged   ChangeType = "CONTENT_CHANGED"
	ChangeTypePriceChanged     ChangeType = "PRICE_CHANGED"
	ChangeTypeStockChanged     ChangeType = "STOCK_CHANGED"
	ChangeTypeMetadataChanged  ChangeType = "METADATA_CHANGED"
	ChangeTypeCanonicalChanged ChangeType = "CANONICAL_CHANGED"
	ChangeTypeUnchanged        ChangeType = "UNCHANGED"
)

// String implements fmt.Stringer for logging
func (c ChangeType) String() string {
	if c == "" {
		return "unset"
	}
	return string(c)
}

// IsValid returns true if the change type is known
func (c ChangeType) IsValid() bool {
	switch c {
	case ChangeTypeNew, ChangeTypeContentChanged, ChangeTypePriceChanged, ChangeTypeStockChanged,
		ChangeTypeMetadataChanged, ChangeTypeCanonicalChanged, ChangeTypeUnchanged:
		return true
	}
	return false
}

// URLData is the set of fields whose change makes a URL "fresh" for crawlers.
// Field order is part of the fingerprint: do not reorder.
type URLData struct {
	Canonical string         `json:"canonical"`
	Price     *float64       `json:"price"`
	Stock     *int           `json:"stock"`
	Metadata  map[string]any `json:"metadata"`
}

// URLContentHash is the persisted fingerprint of a URL
type URLContentHash struct {
	URL          string            `json:"url"`
	Hash         string            `json:"hash"`                    // Hex SHA-1 of the canonical URLData JSON
	LastModified time.Time         `json:"last_modified"`           // Last time the hash changed
	LastSeen     time.Time         `json:"last_seen"`               // Last time the URL was compared
	ChangeType   ChangeType        `json:"change_type"`             // Classification of the last change
	PreviousHash string            `json:"previous_hash,omitempty"` // Provenance only
	Fields       map[string]string `json:"fields,omitempty"`        // Per-field hashes for fine-grained classification
}

// Float returns a pointer to v
func Float(v float64) *float64 { return &v }
