package message

import (
	"bytes"
	"fmt"
	"time"
)

// isoLayout is the ISO-8601 layout used on the wire, microsecond precision.
const isoLayout = "2006-01-02T15:04:05.000000"
const isoLayoutTZ = "2006-01-02T15:04:05.000000-07:00"

// stripsOffset reports whether version strips the UTC offset from nested
// instants, per spec.md §4.1/§6: v1.01 and earlier strip it, v1.2+ retain it.
func stripsOffset(version string) bool {
	return version <= "v1.01"
}

func formatTime(t time.Time, version string) string {
	if stripsOffset(version) {
		return t.UTC().Format(isoLayout)
	}
	return t.Format(isoLayoutTZ)
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(isoLayoutTZ, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(isoLayout, s); err == nil {
		return t.UTC(), nil
	}
	// Fall back to RFC3339-ish parsing for inputs with a shorter fractional part.
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("message: cannot parse timestamp %q", s)
}

// Time is a JSON (un)marshalable instant used inside message JSON bodies.
// Nested instants are recognized on decode by ISO-8601 shape regardless of
// version; on encode the offset is stripped or kept per marshalWithVersion.
type Time struct {
	time.Time
}

func (t Time) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.Time.Format(isoLayoutTZ) + `"`), nil
}

func (t *Time) UnmarshalJSON(b []byte) error {
	s := bytes.Trim(b, `"`)
	if string(s) == "null" {
		return nil
	}
	parsed, err := parseTime(string(s))
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

// marshalWithVersion encodes v as JSON, recursively rewriting any message.Time
// (or time.Time) values found in maps/slices so their offset matches what the
// given protocol version expects. Typed structs are expected to use Time
// directly and are left to their own MarshalJSON.
func marshalWithVersion(v any, version string) ([]byte, error) {
	transformed := transformTimes(v, version)
	return json.Marshal(transformed)
}

func transformTimes(v any, version string) any {
	switch val := v.(type) {
	case time.Time:
		if stripsOffset(version) {
			return val.UTC().Format(isoLayout)
		}
		return val.Format(isoLayoutTZ)
	case Time:
		return transformTimes(val.Time, version)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = transformTimes(e, version)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = transformTimes(e, version)
		}
		return out
	default:
		return v
	}
}
