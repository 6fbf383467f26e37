package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// RawJSON is an opaque JSON document stored in a TEXT column.
type RawJSON json.RawMessage

// Value implements driver.Valuer. An empty document is stored as NULL.
func (r RawJSON) Value() (driver.Value, error) {
	if len(r) == 0 {
		return nil, nil
	}
	return string(r), nil
}

// Scan implements sql.Scanner.
func (r *RawJSON) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*r = nil
	case []byte:
		*r = append((*r)[:0], v...)
	case string:
		*r = RawJSON(v)
	default:
		return fmt.Errorf("raw json: unsupported source %T", src)
	}
	return nil
}

// MarshalJSON emits the document verbatim, or null when empty.
func (r RawJSON) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}

// UnmarshalJSON keeps a copy of the document. A JSON null becomes empty.
func (r *RawJSON) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*r = nil
		return nil
	}
	*r = append((*r)[:0], b...)
	return nil
}

// timestampLayout is the canonical remote-clock format. Keeping every stored
// timestamp in one fixed-width UTC layout lets SQL compare them as strings.
const timestampLayout = "2006-01-02T15:04:05.000Z"

// timestampLayouts are accepted on input. Zone-less values are taken as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses a remote timestamp in any accepted layout.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// NormalizeTimestamp rewrites a timestamp into the canonical layout. Values
// that do not parse are returned unchanged; callers at the edges check them
// with ParseTimestamp first.
func NormalizeTimestamp(s string) string {
	if s == "" {
		return ""
	}
	t, err := ParseTimestamp(s)
	if err != nil {
		return s
	}
	return FormatTimestamp(t)
}

// FormatTimestamp formats t in the canonical layout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}
