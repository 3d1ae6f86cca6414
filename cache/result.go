package cache

import "encoding/json"

// Result is a cache hit. The stored text is either valid JSON or a raw
// string written by something other than this cache; callers check IsJSON
// before relying on Decode.
type Result struct {
	raw    []byte
	isJSON bool
}

func newResult(b []byte) *Result {
	return &Result{raw: b, isJSON: json.Valid(b)}
}

// IsJSON reports whether the stored value parses as JSON
func (r *Result) IsJSON() bool { return r.isJSON }

// Raw returns the stored text unchanged
func (r *Result) Raw() string { return string(r.raw) }

// Bytes returns a copy of the stored bytes
func (r *Result) Bytes() []byte {
	out := make([]byte, len(r.raw))
	copy(out, r.raw)
	return out
}

// Decode unmarshals the value into dst. A raw value can only be decoded
// into a *string; any other target yields ErrNotJSON.
func (r *Result) Decode(dst any) error {
	if !r.isJSON {
		if s, ok := dst.(*string); ok {
			*s = string(r.raw)
			return nil
		}
		return ErrNotJSON
	}
	return json.Unmarshal(r.raw, dst)
}

// Value decodes into a generic Go value, falling back to the raw string.
func (r *Result) Value() any {
	if !r.isJSON {
		return string(r.raw)
	}
	var v any
	if err := json.Unmarshal(r.raw, &v); err != nil {
		return string(r.raw)
	}
	return v
}
