// Package redact scrubs secrets and personal data from error messages and
// context maps before they are retained anywhere.
package redact

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"unicode"
)

// Marker replaces every redacted value.
const Marker = "[REDACTED]"

// Keys whose normalised form contains one of these are always redacted.
var sensitiveKeyParts = []string{
	"token",
	"password",
	"passwd",
	"secret",
	"apikey",
	"authorization",
	"creditcard",
	"cardnumber",
	"privatekey",
	"accesskey",
	"socialsecurity",
	"cookie",
}

// Short names that would match too much as substrings ("pin" in "shipping").
// They match a whole key or one word of it ("user_ssn", "customerSSN").
var sensitiveKeyExact = map[string]bool{
	"pin":     true,
	"pincode": true,
	"ssn":     true,
	"cvv":     true,
	"auth":    true,
}

var valuePatterns = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9\-._~+/]+=*`), "Bearer " + Marker},
	{regexp.MustCompile(`\beyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]*`), Marker},
	{regexp.MustCompile(`(?i)\b(password|passwd|token|secret|api[_-]?key|access[_-]?token)(\s*[=:]\s*)[^\s&,;]+`), "${1}${2}" + Marker},
	{regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`), Marker},
	{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), Marker},
}

// Card numbers are only redacted when the digits pass the Luhn check, so
// millisecond timestamps and other long ids survive.
var cardPattern = regexp.MustCompile(`\b\d(?:[ -]?\d){12,18}\b`)

// maxDepth bounds the walk over nested values; anything deeper is hidden.
const maxDepth = 32

// normalizeKey lowercases and strips separators so "API-Key", "api_key" and
// "apiKey" compare equal.
func normalizeKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '_', '-', '.', ' ':
			return -1
		}
		return r
	}, strings.ToLower(strings.TrimSpace(key)))
}

// keyWords splits key on separators and camelCase boundaries and lowercases
// each word: "customerSSNValue" gives customer, ssn, value.
func keyWords(key string) []string {
	var (
		words []string
		cur   []rune
	)
	flush := func() {
		if len(cur) > 0 {
			words = append(words, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}
	runes := []rune(key)
	for i, r := range runes {
		switch {
		case r == '_' || r == '-' || r == '.' || unicode.IsSpace(r):
			flush()
			continue
		case unicode.IsUpper(r) && i > 0:
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				flush()
			}
		}
		cur = append(cur, r)
	}
	flush()
	return words
}

// IsSensitiveKey reports whether values stored under key must be hidden.
func IsSensitiveKey(key string) bool {
	k := normalizeKey(key)
	if k == "" {
		return false
	}
	if sensitiveKeyExact[k] {
		return true
	}
	for _, w := range keyWords(key) {
		if sensitiveKeyExact[w] {
			return true
		}
	}
	for _, part := range sensitiveKeyParts {
		if strings.Contains(k, part) {
			return true
		}
	}
	return false
}

// String replaces sensitive substrings of s in place.
func String(s string) string {
	for _, p := range valuePatterns {
		s = p.re.ReplaceAllString(s, p.repl)
	}
	return cardPattern.ReplaceAllStringFunc(s, func(m string) string {
		if luhn(m) {
			return Marker
		}
		return m
	})
}

// luhn reports whether the digits in s carry a valid Luhn check digit.
func luhn(s string) bool {
	sum, double := 0, false
	for i := len(s) - 1; i >= 0; i-- {
		c := s[i]
		if c < '0' || c > '9' {
			continue
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// Map returns a redacted deep copy of m. Values under sensitive keys become
// Marker; nested maps, slices, pointers and structs are walked; strings and
// byte slices are scrubbed. Values that cannot be inspected, such as
// channels and funcs, become Marker.
func Map(m map[string]any) map[string]any {
	return redactMap(m, 0)
}

func redactMap(m map[string]any, depth int) map[string]any {
	if len(m) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if IsSensitiveKey(k) {
			out[k] = Marker
			continue
		}
		out[k] = value(v, depth+1)
	}
	return out
}

func value(v any, depth int) any {
	if depth > maxDepth {
		return Marker
	}
	switch typed := v.(type) {
	case nil:
		return nil
	case string:
		return String(typed)
	case []byte:
		return String(string(typed))
	case error:
		return String(typed.Error())
	case fmt.Stringer:
		return String(typed.String())
	case map[string]any:
		return redactMap(typed, depth)
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64,
		float32, float64, complex64, complex128:
		return typed
	}
	return reflectValue(reflect.ValueOf(v), depth)
}

func reflectValue(rv reflect.Value, depth int) any {
	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint()
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.String:
		return String(rv.String())
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return value(rv.Elem().Interface(), depth+1)
	case reflect.Map:
		if rv.IsNil() {
			return nil
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[fmt.Sprint(iter.Key().Interface())] = iter.Value().Interface()
		}
		return redactMap(m, depth)
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			b := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(b), rv)
			return String(string(b))
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = value(rv.Index(i).Interface(), depth+1)
		}
		return out
	case reflect.Struct:
		t := rv.Type()
		m := make(map[string]any, t.NumField())
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			m[f.Name] = rv.Field(i).Interface()
		}
		return redactMap(m, depth)
	}
	return Marker
}
