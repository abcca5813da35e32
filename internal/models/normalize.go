package models

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// RawEntity carries entity fields as they come out of a store, before
// normalization. Position holds a decoded JSON value of unknown shape.
type RawEntity struct {
	ID              string
	UserID          string
	Type            string
	Title           string
	Content         string
	ImportanceScore *float64
	CreatedAt       string
	UpdatedAt       string
	Position        any
	Metadata        map[string]any
	Status          string
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// flat position keys accepted in metadata, in priority order
var flatPositionKeys = [][3]string{
	{"position_x", "position_y", "position_z"},
	{"positionX", "positionY", "positionZ"},
	{"x", "y", "z"},
}

// NormalizeEntity converts a raw store row into the canonical Entity.
// It is the only place where alternative field shapes are accepted.
func NormalizeEntity(raw RawEntity) Entity {
	meta := copyMap(raw.Metadata)

	pos := NormalizePosition(raw.Position)
	if pos == nil && meta != nil {
		if nested, ok := meta["position"]; ok {
			pos = NormalizePosition(nested)
		}
		if pos == nil {
			pos = positionFromFlat(meta)
		}
	}
	if meta != nil {
		delete(meta, "position")
		for _, keys := range flatPositionKeys {
			for _, k := range keys {
				delete(meta, k)
			}
		}
		if len(meta) == 0 {
			meta = nil
		}
	}

	var importance *float64
	if raw.ImportanceScore != nil && isFinite(*raw.ImportanceScore) {
		v := *raw.ImportanceScore
		importance = &v
	}

	return Entity{
		ID:              raw.ID,
		UserID:          raw.UserID,
		Type:            ParseEntityType(raw.Type),
		Title:           raw.Title,
		Content:         raw.Content,
		ImportanceScore: importance,
		CreatedAt:       ParseTimestamp(raw.CreatedAt),
		UpdatedAt:       ParseTimestamp(raw.UpdatedAt),
		Position:        pos,
		Metadata:        meta,
		Status:          Status(strings.ToLower(strings.TrimSpace(raw.Status))),
	}
}

// ParseTimestamp parses the timestamp formats written by upstream ingestion.
// It returns nil for empty or unparseable input.
func ParseTimestamp(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// NormalizePosition accepts {x,y,z} objects and [x,y,z] arrays.
// Any non-finite or missing component yields nil.
func NormalizePosition(v any) *Position {
	switch p := v.(type) {
	case nil:
		return nil
	case *Position:
		if p == nil {
			return nil
		}
		return validPosition(p.X, p.Y, p.Z)
	case Position:
		return validPosition(p.X, p.Y, p.Z)
	case map[string]any:
		x, okX := ToFloat(p["x"])
		y, okY := ToFloat(p["y"])
		z, okZ := ToFloat(p["z"])
		if !okX || !okY || !okZ {
			return nil
		}
		return validPosition(x, y, z)
	case []any:
		if len(p) != 3 {
			return nil
		}
		var c [3]float64
		for i, item := range p {
			f, ok := ToFloat(item)
			if !ok {
				return nil
			}
			c[i] = f
		}
		return validPosition(c[0], c[1], c[2])
	case []float64:
		if len(p) != 3 {
			return nil
		}
		return validPosition(p[0], p[1], p[2])
	case json.RawMessage:
		return decodePosition(p)
	case []byte:
		return decodePosition(p)
	case string:
		return decodePosition([]byte(p))
	}
	return nil
}

func decodePosition(b []byte) *Position {
	if len(b) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil
	}
	return NormalizePosition(v)
}

func positionFromFlat(meta map[string]any) *Position {
	for _, keys := range flatPositionKeys {
		x, okX := ToFloat(meta[keys[0]])
		y, okY := ToFloat(meta[keys[1]])
		z, okZ := ToFloat(meta[keys[2]])
		if okX && okY && okZ {
			return validPosition(x, y, z)
		}
	}
	return nil
}

func validPosition(x, y, z float64) *Position {
	if !isFinite(x) || !isFinite(y) || !isFinite(z) {
		return nil
	}
	return &Position{X: x, Y: y, Z: z}
}

// ToFloat converts the numeric shapes produced by JSON, CBOR and database
// drivers to float64. Numeric strings are accepted.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// ClampUnit clamps v to [0, 1]. NaN maps to 0.
func ClampUnit(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
