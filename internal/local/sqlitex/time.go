// Package sqlitex holds scan/encode helpers for the SQLite repositories.
// Timestamps are stored as integer unix milliseconds so that comparison in
// SQL and in Go agree exactly.
package sqlitex

import (
	"database/sql"
	"time"
)

// Ms encodes t as unix milliseconds.
func Ms(t time.Time) int64 { return t.UnixMilli() }

// MsPtr encodes an optional timestamp; nil maps to SQL NULL.
func MsPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

// FromMs decodes unix milliseconds into a UTC timestamp.
func FromMs(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

// FromNullMs decodes a nullable milliseconds column.
func FromNullMs(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

// NullString maps an optional string to a SQL value and back.
func NullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// FromNullString decodes a nullable text column.
func FromNullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
