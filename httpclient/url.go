package httpclient

import (
	"fmt"
	"math"
	"net/url"
	"reflect"
	"regexp"
	"strings"
)

var absoluteURLPattern = regexp.MustCompile(`(?i)^https?://`)

// QueryParam is a single query string entry.
type QueryParam struct {
	Key   string
	Value any
}

// Query is an ordered list of query parameters.
//
// Order is preserved when the query string is built, so the same Query
// always produces the same URL. Slice and array values expand to repeated
// key=value pairs; nil, "", false and numeric zero values are dropped.
//
// Example:
//
//	q := httpclient.Query{}.Add("q", "abc").Add("tag", []string{"a", "b"})
//	// ?q=abc&tag=a&tag=b
type Query []QueryParam

// Add returns q with key=value appended.
func (q Query) Add(key string, value any) Query {
	return append(q, QueryParam{Key: key, Value: value})
}

// composeURL builds the final request URL from the client base URL, a path
// template, path parameters and query parameters.
//
// Every whole-word ":name" in path is replaced with the encoded value of
// params[name]. Placeholders without a parameter stay as they are. The base
// URL is skipped when path is already an absolute http(s) URL.
func composeURL(baseURL, path string, params map[string]any, query Query) string {
	for name, value := range params {
		re, err := regexp.Compile(":" + regexp.QuoteMeta(name) + `\b`)
		if err != nil {
			continue
		}
		encoded := encodeComponent(stringify(value))
		path = re.ReplaceAllLiteralString(path, encoded)
	}

	full := path
	if !absoluteURLPattern.MatchString(path) {
		full = baseURL + path
	}

	qs := encodeQuery(query)
	if qs == "" {
		return full
	}
	if strings.Contains(full, "?") {
		return full + "&" + qs
	}
	return full + "?" + qs
}

// encodeQuery renders query in order, skipping falsy values.
func encodeQuery(query Query) string {
	var b strings.Builder
	write := func(key string, value any) {
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		b.WriteString(encodeComponent(key))
		b.WriteByte('=')
		b.WriteString(encodeComponent(stringify(value)))
	}

	for _, p := range query {
		if isFalsy(p.Value) {
			continue
		}
		rv := reflect.ValueOf(p.Value)
		if (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) && rv.Type().Elem().Kind() != reflect.Uint8 {
			for i := 0; i < rv.Len(); i++ {
				write(p.Key, rv.Index(i).Interface())
			}
			continue
		}
		write(p.Key, p.Value)
	}
	return b.String()
}

// isFalsy reports whether v should be left out of the query string.
func isFalsy(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.Len() == 0
	case reflect.Bool:
		return !rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint() == 0
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		return f == 0 || math.IsNaN(f)
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}

func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprint(v)
	}
}

// componentUnescaper undoes the escapes url.QueryEscape applies beyond
// encodeURIComponent, which keeps !'()* literal and writes spaces as %20.
var componentUnescaper = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

// encodeComponent escapes s for use as a single URL component.
func encodeComponent(s string) string {
	return componentUnescaper.Replace(url.QueryEscape(s))
}
