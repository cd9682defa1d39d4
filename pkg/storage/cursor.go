package storage

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Cursor marks the last run of a page. Listing is ordered by start time
// (newest first) then id, so the pair is enough to resume.
type Cursor struct {
	LastRunID string `json:"id"`
	LastTime  int64  `json:"ts"` // Unix nanoseconds
}

// EncodeCursor encodes a cursor to a base64 URL-safe string.
// Returns empty string if cursor is nil or has no id.
func EncodeCursor(c *Cursor) string {
	if c == nil || c.LastRunID == "" {
		return ""
	}

	data, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return base64.URLEncoding.EncodeToString(data)
}

// DecodeCursor decodes a base64-encoded cursor string.
// Returns nil and no error for an empty cursor (first page).
func DecodeCursor(encoded string) (*Cursor, error) {
	if encoded == "" {
		return nil, nil
	}

	data, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor encoding: %w", err)
	}

	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("invalid cursor format: %w", err)
	}
	if c.LastRunID == "" {
		return nil, fmt.Errorf("invalid cursor: missing run ID")
	}
	return &c, nil
}
