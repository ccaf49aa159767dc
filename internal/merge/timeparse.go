package merge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

var errNoOffset = errors.New("local time without utc_offset_seconds")

// localLayouts are the provider's ISO8601 forms when timeformat is not unixtime.
var localLayouts = []string{
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// resolveTime converts one provider time value to Unix seconds. Numbers are
// taken as epoch seconds. Strings without a zone are wall-clock time at
// offset seconds east of UTC; strings with a zone must agree with offset.
func resolveTime(raw json.RawMessage, offset *int) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, errors.New("time value missing")
	}

	if raw[0] != '"' {
		n, err := strconv.ParseFloat(string(raw), 64)
		if err != nil {
			return 0, fmt.Errorf("time %s: %w", raw, err)
		}
		return int64(n), nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("time %s: %w", raw, err)
	}

	if t, err := time.Parse(time.RFC3339, s); err == nil {
		if offset == nil {
			return t.Unix(), nil
		}
		if _, zoneOffset := t.Zone(); zoneOffset != *offset {
			return 0, fmt.Errorf("time %q offset %ds does not match utc_offset_seconds %d", s, zoneOffset, *offset)
		}
		return t.Unix(), nil
	}

	if offset == nil {
		return 0, fmt.Errorf("time %q: %w", s, errNoOffset)
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, time.FixedZone("", *offset)); err == nil {
			return t.Unix(), nil
		}
	}
	return 0, fmt.Errorf("time %q: unrecognized format", s)
}

// resolveOptionalTime is resolveTime for columns where null means absent.
func resolveOptionalTime(raw json.RawMessage, offset *int) (*int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	v, err := resolveTime(raw, offset)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
