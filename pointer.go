package problem

import (
	"fmt"
	"strconv"
	"strings"
)

// EncodePointer converts a field location path, as produced by a
// validation engine, into an RFC 6901 JSON Pointer string. String
// segments are used as-is, integer segments (array indexes) become
// their decimal form, and anything else falls back to its printed form.
//
//	EncodePointer([]any{"address", "zip"}) // "/address/zip"
//	EncodePointer([]any{"items", 0})       // "/items/0"
//	EncodePointer(nil)                     // ""
//
// An empty location yields the empty string, not "/".
func EncodePointer(location []any) string {
	if len(location) == 0 {
		return ""
	}

	var b strings.Builder
	for _, seg := range location {
		b.WriteByte('/')
		b.WriteString(escapeSegment(segmentString(seg)))
	}
	return b.String()
}

// DecodePointer splits a pointer produced by EncodePointer back into
// its unescaped segments. Integer segments come back as strings since
// pointer syntax does not distinguish keys from indexes.
func DecodePointer(pointer string) []string {
	if pointer == "" {
		return nil
	}
	parts := strings.Split(strings.TrimPrefix(pointer, "/"), "/")
	segments := make([]string, len(parts))
	for i, part := range parts {
		// Reverse order of escaping: "~1" first, then "~0".
		part = strings.ReplaceAll(part, "~1", "/")
		segments[i] = strings.ReplaceAll(part, "~0", "~")
	}
	return segments
}

func segmentString(seg any) string {
	switch v := seg.(type) {
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprint(v)
	}
}

// escapeSegment applies the RFC 6901 escapes. The order is significant:
// "~" must become "~0" before "/" becomes "~1", or a literal "/" would
// be double-escaped.
func escapeSegment(s string) string {
	if !strings.ContainsAny(s, "~/") {
		return s
	}
	s = strings.ReplaceAll(s, "~", "~0")
	return strings.ReplaceAll(s, "/", "~1")
}
