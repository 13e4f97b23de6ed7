package corpus

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Condition constrains a single metadata field. Exactly one of Equals, In,
// or a GTE/LTE range is expected; a zero Condition matches nothing useful
// and is dropped during normalization.
type Condition struct {
	// Equals matches the field exactly.
	Equals string

	// In matches any of the listed values. An empty list is treated as
	// "no constraint" and removed by Normalize; it must never reach an
	// index backend, where an empty IN clause typically excludes everything.
	In []string

	// GTE and LTE bound numeric fields (e.g. epoch timestamps).
	GTE *float64
	LTE *float64
}

// IsZero reports whether the condition carries no constraint.
func (c Condition) IsZero() bool {
	return c.Equals == "" && len(c.In) == 0 && c.GTE == nil && c.LTE == nil
}

// Matches reports whether a metadata value satisfies the condition.
func (c Condition) Matches(value any) bool {
	if c.IsZero() {
		return true
	}
	s := fmt.Sprintf("%v", value)
	if c.Equals != "" {
		return s == c.Equals
	}
	if len(c.In) > 0 {
		for _, v := range c.In {
			if s == v {
				return true
			}
		}
		return false
	}
	n, err := toFloat(value)
	if err != nil {
		return false
	}
	if c.GTE != nil && n < *c.GTE {
		return false
	}
	if c.LTE != nil && n > *c.LTE {
		return false
	}
	return true
}

func toFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		return strconv.ParseFloat(v, 64)
	default:
		return 0, fmt.Errorf("not numeric: %T", value)
	}
}

// FilterSpec maps metadata field names to constraints. A nil FilterSpec
// means "no filter".
type FilterSpec map[string]Condition

// Normalize drops empty conditions and returns nil when nothing remains.
//
// A spec whose fields are all empty (for example an In constraint with an
// empty list) is semantically "no filter" and must be normalized away
// before reaching an index backend.
func (f FilterSpec) Normalize() FilterSpec {
	if len(f) == 0 {
		return nil
	}
	out := make(FilterSpec, len(f))
	for key, cond := range f {
		if cond.IsZero() {
			continue
		}
		out[key] = cond
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Matches reports whether passage metadata satisfies every condition.
func (f FilterSpec) Matches(meta map[string]any) bool {
	for key, cond := range f {
		if cond.IsZero() {
			continue
		}
		v, ok := meta[key]
		if !ok {
			return false
		}
		if !cond.Matches(v) {
			return false
		}
	}
	return true
}

// MergeFilters combines two filter specs, with override winning per field.
//
// The retriever uses this to layer query-extracted filters over the
// caller-supplied filter: when both constrain the same field, the
// query-extracted value takes precedence. This is a deliberate, documented
// policy choice.
func MergeFilters(base, override FilterSpec) FilterSpec {
	if base == nil && override == nil {
		return nil
	}
	out := make(FilterSpec, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// Fingerprint returns a deterministic string form of the filter, suitable
// for use in cache keys. A nil or all-empty filter yields "".
func (f FilterSpec) Fingerprint() string {
	norm := f.Normalize()
	if norm == nil {
		return ""
	}
	keys := make([]string, 0, len(norm))
	for k := range norm {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		cond := norm[k]
		b.WriteString(k)
		b.WriteByte('=')
		switch {
		case cond.Equals != "":
			b.WriteString(cond.Equals)
		case len(cond.In) > 0:
			b.WriteString("in(")
			b.WriteString(strings.Join(cond.In, "|"))
			b.WriteByte(')')
		default:
			if cond.GTE != nil {
				fmt.Fprintf(&b, "gte:%g", *cond.GTE)
			}
			if cond.LTE != nil {
				fmt.Fprintf(&b, "lte:%g", *cond.LTE)
			}
		}
		b.WriteByte(';')
	}
	return b.String()
}
