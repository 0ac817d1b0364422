package model

import (
	"encoding/json"
	"time"
)

// CloneMetadata returns a shallow copy of meta, never nil.
func CloneMetadata(meta map[string]any) map[string]any {
	if meta == nil {
		return map[string]any{}
	}
	cp := make(map[string]any, len(meta))
	for k, v := range meta {
		cp[k] = v
	}
	return cp
}

// EncodeMetadata marshals metadata to its persisted JSON form.
func EncodeMetadata(meta map[string]any) string {
	if meta == nil {
		meta = map[string]any{}
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// DecodeMetadata unmarshals a persisted JSON metadata blob.
func DecodeMetadata(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return map[string]any{}
	}
	return meta
}

// FloatFromAny coerces a decoded JSON value into a float64.
func FloatFromAny(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case json.Number:
		f, _ := t.Float64()
		return f
	case string:
		var f float64
		if err := json.Unmarshal([]byte(t), &f); err == nil {
			return f
		}
	}
	return 0
}

// StringFromAny coerces a decoded JSON value into a string.
func StringFromAny(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// TimeFromAny coerces a decoded JSON value (RFC3339Nano string or time.Time) into a time.Time.
func TimeFromAny(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return ts
		}
	}
	return time.Time{}
}

// ForcedSector reads a metadata-forced sector override from
// metadata.sector or metadata.primary_sector.
func ForcedSector(meta map[string]any) (Sector, bool) {
	if meta == nil {
		return "", false
	}
	if v, ok := meta["sector"]; ok {
		if s := Sector(StringFromAny(v)); ValidSector(s) {
			return s, true
		}
	}
	if v, ok := meta["primary_sector"]; ok {
		if s := Sector(StringFromAny(v)); ValidSector(s) {
			return s, true
		}
	}
	return "", false
}
