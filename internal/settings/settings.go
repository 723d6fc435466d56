package settings

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// FormatVersion is the layout version of the settings document.
const FormatVersion = 1

// Settings is the configuration aggregate: document metadata plus one flat
// key/value map per schema category.
type Settings struct {
	ID        string
	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int

	values map[string]map[string]any
}

// Defaults builds an aggregate holding every schema default.
func Defaults(id string, now time.Time) *Settings {
	s := &Settings{
		ID:        id,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
		Version:   FormatVersion,
		values:    make(map[string]map[string]any, len(Schema)),
	}
	for _, c := range Schema {
		m := make(map[string]any, len(c.Fields))
		for _, f := range c.Fields {
			m[f.Key] = copyValue(f.Default)
		}
		s.values[c.Name] = m
	}
	return s
}

func (s *Settings) Clone() *Settings {
	c := *s
	c.values = make(map[string]map[string]any, len(s.values))
	for cat, m := range s.values {
		cm := make(map[string]any, len(m))
		for k, v := range m {
			cm[k] = copyValue(v)
		}
		c.values[cat] = cm
	}
	return &c
}

// Value returns a setting and whether the schema declares it.
func (s *Settings) Value(category, key string) (any, bool) {
	m, ok := s.values[category]
	if !ok {
		return nil, false
	}
	v, ok := m[key]
	return copyValue(v), ok
}

// Category returns a copy of one category's values.
func (s *Settings) Category(name string) map[string]any {
	m := make(map[string]any, len(s.values[name]))
	for k, v := range s.values[name] {
		m[k] = copyValue(v)
	}
	return m
}

func (s *Settings) set(category, key string, value any) error {
	f, err := lookupField(category, key)
	if err != nil {
		return err
	}
	v, err := coerce(f, value)
	if err != nil {
		return fmt.Errorf("%s.%s: %w", category, key, err)
	}
	s.values[category][key] = v
	return nil
}

// Bool and Int are typed shortcuts for callers that know the schema.
func (s *Settings) Bool(category, key string) bool {
	v, _ := s.Value(category, key)
	b, _ := v.(bool)
	return b
}

func (s *Settings) Int(category, key string) int64 {
	v, _ := s.Value(category, key)
	n, _ := v.(int64)
	return n
}

func (s *Settings) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, len(s.values)+4)
	doc["settings_id"] = s.ID
	doc["created_at"] = s.CreatedAt
	doc["updated_at"] = s.UpdatedAt
	doc["version"] = s.Version
	for cat, m := range s.values {
		doc[cat] = m
	}
	return json.Marshal(doc)
}

// Parse decodes and validates a settings document. Every category must be
// present and every key and value must match the schema; keys missing from
// documents written before they were declared take their defaults.
// retiredKeys were once in the schema. Documents that still carry them parse
// with the keys dropped.
var retiredKeys = map[string]bool{
	"security.session_timeout_minutes": true,
}

func Parse(data []byte) (*Settings, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	var meta struct {
		ID        string    `json:"settings_id"`
		CreatedAt time.Time `json:"created_at"`
		UpdatedAt time.Time `json:"updated_at"`
		Version   int       `json:"version"`
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if meta.Version > FormatVersion {
		return nil, fmt.Errorf("%w: format version %d is newer than %d", ErrInvalidDocument, meta.Version, FormatVersion)
	}

	s := Defaults(meta.ID, meta.CreatedAt)
	s.UpdatedAt = meta.UpdatedAt.UTC()

	var errs []error
	for key := range raw {
		switch key {
		case "settings_id", "created_at", "updated_at", "version":
			continue
		}
		if _, err := lookupCategory(key); err != nil {
			errs = append(errs, err)
		}
	}

	for _, c := range Schema {
		body, ok := raw[c.Name]
		if !ok {
			errs = append(errs, fmt.Errorf("%w: missing category %q", ErrInvalidDocument, c.Name))
			continue
		}
		var values map[string]any
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()
		if err := dec.Decode(&values); err != nil || values == nil {
			errs = append(errs, fmt.Errorf("%w: category %q must be an object", ErrInvalidDocument, c.Name))
			continue
		}
		for key, v := range values {
			if retiredKeys[c.Name+"."+key] {
				continue
			}
			if err := s.set(c.Name, key, v); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if len(errs) > 0 {
		return nil, &BatchError{Errs: errs}
	}
	return s, nil
}
