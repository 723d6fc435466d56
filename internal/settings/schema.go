package settings

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
)

// Kind is the type a setting's value must have.
type Kind int

const (
	KindBool Kind = iota + 1
	KindInt
	KindFloat
	KindString
	KindStringList
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindStringList:
		return "list of strings"
	}
	return "unknown"
}

type Field struct {
	Key     string
	Kind    Kind
	Default any
}

type Category struct {
	Name   string
	Fields []Field
}

// Schema declares every category and setting. Categories appear in the
// order the admin screen lists them.
var Schema = []Category{
	{Name: "app", Fields: []Field{
		{"site_name", KindString, "CampusKubo"},
		{"tagline", KindString, "Find your home near campus"},
		{"support_email", KindString, "support@campuskubo.ph"},
		{"default_language", KindString, "en"},
		{"timezone", KindString, "Asia/Manila"},
		{"items_per_page", KindInt, int64(12)},
		{"maintenance_mode", KindBool, false},
	}},
	{Name: "security", Fields: []Field{
		{"max_login_attempts", KindInt, int64(5)},
		{"lockout_minutes", KindInt, int64(15)},
		{"password_min_length", KindInt, int64(8)},
		{"password_reset_ttl_hours", KindInt, int64(24)},
		{"require_email_verification", KindBool, false},
	}},
	{Name: "payment", Fields: []Field{
		{"currency", KindString, "PHP"},
		{"accepted_methods", KindStringList, []string{"gcash", "cash", "bank_transfer"}},
		{"reservation_fee", KindFloat, 500.0},
		{"commission_rate", KindFloat, 0.05},
		{"payment_deadline_days", KindInt, int64(3)},
		{"refunds_enabled", KindBool, true},
	}},
	{Name: "listing", Fields: []Field{
		{"max_photos", KindInt, int64(10)},
		{"min_monthly_rent", KindFloat, 500.0},
		{"max_monthly_rent", KindFloat, 50000.0},
		{"expiry_days", KindInt, int64(90)},
		{"auto_approve", KindBool, false},
		{"amenities", KindStringList, []string{"wifi", "aircon", "laundry", "kitchen", "study_area", "cctv"}},
	}},
	{Name: "notification", Fields: []Field{
		{"email_enabled", KindBool, true},
		{"sms_enabled", KindBool, false},
		{"notify_new_reservation", KindBool, true},
		{"notify_new_report", KindBool, true},
		{"digest_frequency", KindString, "daily"},
	}},
	{Name: "admin", Fields: []Field{
		{"require_listing_review", KindBool, true},
		{"activity_log_retention_days", KindInt, int64(365)},
		{"report_auto_close_days", KindInt, int64(30)},
		{"contact_email", KindString, "admin@campuskubo.ph"},
	}},
	{Name: "features", Fields: []Field{
		{"reservations", KindBool, true},
		{"reviews", KindBool, true},
		{"messaging", KindBool, true},
		{"map_view", KindBool, true},
		{"wishlists", KindBool, false},
	}},
}

// CategoryNames lists the schema's categories in order.
func CategoryNames() []string {
	names := make([]string, len(Schema))
	for i, c := range Schema {
		names[i] = c.Name
	}
	return names
}

func lookupCategory(name string) (*Category, error) {
	for i := range Schema {
		if Schema[i].Name == name {
			return &Schema[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, name)
}

func lookupField(category, key string) (*Field, error) {
	c, err := lookupCategory(category)
	if err != nil {
		return nil, err
	}
	for i := range c.Fields {
		if c.Fields[i].Key == key {
			return &c.Fields[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s.%s", ErrUnknownKey, category, key)
}

// coerce converts v to the field's kind. Numbers cross between int and float
// only when no precision is lost.
func coerce(f *Field, v any) (any, error) {
	bad := func() error {
		return fmt.Errorf("%w: %s must be a %s, got %T", ErrInvalidValue, f.Key, f.Kind, v)
	}

	switch f.Kind {
	case KindBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case KindString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case KindInt:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int64:
			return n, nil
		case float64:
			if n == math.Trunc(n) && math.Abs(n) < 1<<53 {
				return int64(n), nil
			}
		case json.Number:
			if i, err := n.Int64(); err == nil {
				return i, nil
			}
			if fl, err := n.Float64(); err == nil && fl == math.Trunc(fl) && math.Abs(fl) < 1<<53 {
				return int64(fl), nil
			}
		}
	case KindFloat:
		switch n := v.(type) {
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case float64:
			return n, nil
		case json.Number:
			if fl, err := n.Float64(); err == nil {
				return fl, nil
			}
		}
	case KindStringList:
		switch l := v.(type) {
		case []string:
			return slices.Clone(l), nil
		case []any:
			out := make([]string, 0, len(l))
			for _, item := range l {
				s, ok := item.(string)
				if !ok {
					return nil, bad()
				}
				out = append(out, s)
			}
			return out, nil
		}
	}
	return nil, bad()
}

// copyValue keeps callers from mutating cached lists.
func copyValue(v any) any {
	if l, ok := v.([]string); ok {
		return slices.Clone(l)
	}
	return v
}
