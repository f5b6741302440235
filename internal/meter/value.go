package meter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Kind tags the shape a raw meter value arrived in.
type Kind int

const (
	Invalid Kind = iota
	Scalar
	Compound
	Nested
)

// Value is a raw meter value resolved once into its identifier.
type Value struct {
	Kind Kind
	ID   string
}

// nestedIDFields are tried in order on object-shaped values after a
// compound id.
var nestedIDFields = []string{"meterId", "id", "ID"}

// ParseValue resolves raw into a Value. Compound strings of the form
// "<objectId><sep><suffix>" keep only the leading segment.
func ParseValue(raw any, sep string) Value {
	switch v := raw.(type) {
	case string:
		return parseString(v, sep)
	case json.Number:
		return Value{Kind: Scalar, ID: v.String()}
	case float64:
		return Value{Kind: Scalar, ID: strconv.FormatFloat(v, 'f', -1, 64)}
	case float32:
		return Value{Kind: Scalar, ID: strconv.FormatFloat(float64(v), 'f', -1, 32)}
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return Value{Kind: Scalar, ID: fmt.Sprint(v)}
	case map[string]any:
		if id, ok := v["id"].(string); ok {
			if resolved := parseString(id, sep); resolved.Kind == Compound {
				return Value{Kind: Nested, ID: resolved.ID}
			}
		}
		for _, field := range nestedIDFields {
			inner, ok := v[field]
			if !ok {
				continue
			}
			if _, isMap := inner.(map[string]any); isMap {
				continue
			}
			resolved := ParseValue(inner, sep)
			if resolved.Kind == Invalid {
				continue
			}
			return Value{Kind: Nested, ID: resolved.ID}
		}
	}
	return Value{Kind: Invalid}
}

func parseString(s, sep string) Value {
	s = strings.TrimSpace(s)
	if s == "" {
		return Value{Kind: Invalid}
	}
	if sep != "" {
		if lead, _, ok := strings.Cut(s, sep); ok {
			if lead == "" {
				return Value{Kind: Invalid}
			}
			return Value{Kind: Compound, ID: lead}
		}
	}
	return Value{Kind: Scalar, ID: s}
}

// Resolve returns the identifier, falling back to key for invalid values.
func (v Value) Resolve(key string) string {
	if v.Kind == Invalid {
		return key
	}
	return v.ID
}

// Mapping is an object's meter-key to raw-value mapping.
type Mapping map[string]any

// ParseMapping decodes a JSON object, keeping numbers as json.Number so
// large meter ids survive without float rounding.
func ParseMapping(data []byte) (Mapping, error) {
	m := Mapping{}
	if len(bytes.TrimSpace(data)) == 0 {
		return m, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to decode meter mapping: %w", err)
	}
	return m, nil
}

func (m Mapping) Has(key string) bool {
	_, ok := m[key]
	return ok
}
