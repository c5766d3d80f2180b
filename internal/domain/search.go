package domain

import "reflect"

// Conditions narrows a recipient search. Zero fields do not filter.
type Conditions struct {
	Status             RecipientStatus
	SubscriptionOrigin SubscriptionOrigin
	EmailPrefix        string
	Metadata           map[string]string
}

// Well-known SearchOptions keys understood by the search index.
const (
	OptionLimit  = "limit"
	OptionOffset = "offset"
	OptionSort   = "sort"
	OptionOrder  = "order"
)

// SearchOptions carries paging and sorting hints for a search.
type SearchOptions map[string]any

// Int returns the integer stored under key, or fallback when absent or not an integer.
func (o SearchOptions) Int(key string, fallback int) int {
	switch v := o[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}

// String returns the string stored under key, or fallback.
func (o SearchOptions) String(key, fallback string) string {
	if v, ok := o[key].(string); ok {
		return v
	}
	return fallback
}

// OmitEmpty returns a copy of opts without nil values, empty strings, and
// empty slices or maps. Nested maps are compacted recursively. Zero numbers
// and false are kept.
func OmitEmpty(opts SearchOptions) SearchOptions {
	out := make(SearchOptions, len(opts))
	for k, v := range opts {
		if compacted, ok := compact(v); ok {
			out[k] = compacted
		}
	}
	return out
}

func compact(v any) (any, bool) {
	switch val := v.(type) {
	case nil:
		return nil, false
	case string:
		return val, val != ""
	case map[string]any:
		nested := OmitEmpty(val)
		return map[string]any(nested), len(nested) > 0
	case SearchOptions:
		nested := OmitEmpty(val)
		return nested, len(nested) > 0
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return v, rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return v, !rv.IsNil()
	default:
		return v, true
	}
}

// SearchResult is one page of a recipient search.
type SearchResult struct {
	Items []Recipient
	Total int
}
