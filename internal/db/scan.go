package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999999 -0700 MST",
}

// ScanTime scans a timestamp column from either backend. SQLite reports
// text instead of a time when it cannot see the declared column type, as
// with RETURNING or computed columns.
func ScanTime(dst *time.Time) sql.Scanner {
	return &timeScanner{dst: dst}
}

// ScanNullTime is ScanTime for nullable columns; NULL leaves *dst nil.
func ScanNullTime(dst **time.Time) sql.Scanner {
	return &nullTimeScanner{dst: dst}
}

type timeScanner struct {
	dst *time.Time
}

func (s *timeScanner) Scan(src any) error {
	if src == nil {
		return fmt.Errorf("scan time: unexpected NULL")
	}
	t, err := parseTime(src)
	if err != nil {
		return err
	}
	*s.dst = t
	return nil
}

type nullTimeScanner struct {
	dst **time.Time
}

func (s *nullTimeScanner) Scan(src any) error {
	if src == nil {
		*s.dst = nil
		return nil
	}
	t, err := parseTime(src)
	if err != nil {
		return err
	}
	*s.dst = &t
	return nil
}

func parseTime(src any) (time.Time, error) {
	switch v := src.(type) {
	case time.Time:
		return v.UTC(), nil
	case string:
		return parseTimeString(v)
	case []byte:
		return parseTimeString(string(v))
	case int64:
		return time.Unix(v, 0).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("scan time: unsupported type %T", src)
	}
}

func parseTimeString(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	// time.Time.String appends the monotonic clock reading.
	if i := strings.Index(v, " m="); i >= 0 {
		v = v[:i]
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("scan time: cannot parse %q", v)
}
