package normalize

import "github.com/tidwall/gjson"

// first returns the first key of obj that is present and not null.
func first(obj gjson.Result, keys []string) (gjson.Result, bool) {
	for _, k := range keys {
		r, ok := childByKey(obj, k)
		if ok && r.Type != gjson.Null {
			return r, true
		}
	}
	return gjson.Result{}, false
}

// childByKey looks a key up literally; gjson path syntax would misread keys
// containing dots or wildcards.
func childByKey(obj gjson.Result, key string) (gjson.Result, bool) {
	var out gjson.Result
	found := false
	obj.ForEach(func(k, v gjson.Result) bool {
		if k.Str == key {
			out, found = v, true
			return false
		}
		return true
	})
	return out, found
}

func firstString(obj gjson.Result, keys []string) (string, bool) {
	for _, k := range keys {
		r, ok := childByKey(obj, k)
		if !ok || r.Type == gjson.Null || r.IsObject() || r.IsArray() {
			continue
		}
		if s := r.String(); s != "" {
			return s, true
		}
	}
	return "", false
}

func optString(obj gjson.Result, keys []string) *string {
	if s, ok := firstString(obj, keys); ok {
		return &s
	}
	return nil
}

// optRawString keeps empty strings and whitespace: streamed fragments are
// significant byte for byte.
func optRawString(obj gjson.Result, keys []string) *string {
	r, ok := first(obj, keys)
	if !ok || r.Type != gjson.String {
		return nil
	}
	s := r.Str
	return &s
}

func optFloat(obj gjson.Result, keys []string) *float64 {
	r, ok := first(obj, keys)
	if !ok || (r.Type != gjson.Number && r.Type != gjson.String) {
		return nil
	}
	v := r.Float()
	return &v
}

func optInt(obj gjson.Result, keys []string) *int {
	r, ok := first(obj, keys)
	if !ok || (r.Type != gjson.Number && r.Type != gjson.String) {
		return nil
	}
	v := int(r.Int())
	return &v
}

func optBool(obj gjson.Result, keys []string) *bool {
	r, ok := first(obj, keys)
	if !ok || (r.Type != gjson.True && r.Type != gjson.False) {
		return nil
	}
	v := r.Bool()
	return &v
}
