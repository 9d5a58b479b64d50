package cluster

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// Record is one decoded model object with canonical keys.
type Record map[string]any

// Has reports whether key is present with a non-blank value.
func (r Record) Has(key string) bool {
	v, ok := r[key]
	if !ok || isBlank(v) {
		return false
	}
	if l, ok := v.([]any); ok {
		return len(l) > 0
	}
	return true
}

// String returns a scalar field as text. Lists of scalars are joined with
// "; " so multi-valued time axes survive.
func (r Record) String(key string) string {
	switch v := r[key].(type) {
	case []any:
		return strings.Join(r.Strings(key), "; ")
	default:
		return scalarString(v)
	}
}

// Strings returns a field as a list of non-empty strings. Object elements are
// skipped.
func (r Record) Strings(key string) []string {
	var out []string
	switch v := r[key].(type) {
	case []any:
		for _, item := range v {
			if s := scalarString(item); s != "" {
				out = append(out, s)
			}
		}
	default:
		if s := scalarString(v); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// IDs returns a reference list. Elements may be plain ids or objects carrying
// an id field.
func (r Record) IDs(key string, rules []KeyRule) []string {
	var out []string
	add := func(item any) {
		if rec, ok := asRecord(rules, item); ok {
			if id := rec.String(KeyClusterID); id != "" {
				out = append(out, id)
			}
			return
		}
		if s := scalarString(item); s != "" {
			out = append(out, splitIDs(s)...)
		}
	}
	switch v := r[key].(type) {
	case []any:
		for _, item := range v {
			add(item)
		}
	case nil:
	default:
		add(v)
	}
	return out
}

// Ints returns a field as integers, accepting numbers, numeric strings and
// inclusive "a-b" ranges.
func (r Record) Ints(key string) []int {
	var out []int
	for _, s := range r.Strings(key) {
		for _, part := range splitIDs(s) {
			if lo, hi, ok := strings.Cut(part, "-"); ok {
				a, errA := strconv.Atoi(lo)
				b, errB := strconv.Atoi(hi)
				if errA == nil && errB == nil && a <= b && b-a < maxRange {
					for n := a; n <= b; n++ {
						out = append(out, n)
					}
				}
				continue
			}
			if n, err := strconv.Atoi(part); err == nil {
				out = append(out, n)
			}
		}
	}
	return out
}

const maxRange = 10000

// Objects returns list elements that are objects, each key-normalized.
func (r Record) Objects(key string, rules []KeyRule) []Record {
	var out []Record
	switch v := r[key].(type) {
	case []any:
		for _, item := range v {
			if rec, ok := asRecord(rules, item); ok {
				out = append(out, rec)
			}
		}
	default:
		if rec, ok := asRecord(rules, v); ok {
			out = append(out, rec)
		}
	}
	return out
}

func (r Record) compact() string {
	b, err := json.Marshal(r)
	if err != nil {
		return ""
	}
	return string(b)
}

// asRecord accepts decoded records as well as plain maps built by hand.
func asRecord(rules []KeyRule, v any) (Record, bool) {
	switch x := v.(type) {
	case Record:
		return x, true
	case map[string]any:
		return normalizeMap(rules, x), true
	}
	return nil, false
}

func scalarString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return ""
	}
}

var idSplitter = strings.NewReplacer("，", ",", "、", ",", "；", ",", ";", ",", " ", ",")

func splitIDs(s string) []string {
	var out []string
	for _, p := range strings.Split(idSplitter.Replace(s), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// normalizeMap canonicalizes the keys of a plain map. Map order is random, so
// keys are visited sorted to keep the merge deterministic.
func normalizeMap(rules []KeyRule, m map[string]any) Record {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rec := make(Record, len(m))
	for _, k := range keys {
		canon := CanonicalKey(rules, k)
		if prev, ok := rec[canon]; ok {
			rec[canon] = mergeValue(prev, m[k])
		} else {
			rec[canon] = m[k]
		}
	}
	return rec
}
