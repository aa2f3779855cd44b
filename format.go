package problem

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// WireFormat identifies one of the wire shapes a problem document can
// be rendered into during the migration.
type WireFormat string

const (
	// FormatRFC7807 is the strict RFC 7807 object.
	FormatRFC7807 WireFormat = "rfc7807"
	// FormatLegacy is the pre-migration shape
	// {detail, status_code, error_type}.
	FormatLegacy WireFormat = "legacy"
	// FormatSimple is the minimal {status, message} shape.
	FormatSimple WireFormat = "simple_json"
	// FormatHATEOAS is the RFC 7807 object plus a _links member.
	FormatHATEOAS WireFormat = "hateoas"
	// FormatCustom is reserved for integrator-supplied converters.
	FormatCustom WireFormat = "custom"
)

// ParseWireFormat matches a format name case-insensitively.
func ParseWireFormat(s string) (WireFormat, error) {
	switch WireFormat(strings.ToLower(strings.TrimSpace(s))) {
	case FormatRFC7807:
		return FormatRFC7807, nil
	case FormatLegacy:
		return FormatLegacy, nil
	case FormatSimple:
		return FormatSimple, nil
	case FormatHATEOAS:
		return FormatHATEOAS, nil
	case FormatCustom:
		return FormatCustom, nil
	}
	return "", fmt.Errorf("problem: unknown wire format %q", s)
}

// ContentType returns the default media type for the format. Rollout
// configuration may override these per deployment.
func (f WireFormat) ContentType() string {
	switch f {
	case FormatRFC7807:
		return "application/problem+json"
	case FormatHATEOAS:
		return "application/hal+json"
	default:
		return "application/json"
	}
}

// HelpBaseURL is the prefix for the help link emitted by ToHATEOAS.
var HelpBaseURL = "https://api.example.com/help/"

// ToLegacy converts an RFC 7807 wire object to the legacy shape. All
// converters are pure: the input map is never modified.
func ToLegacy(wire Wire) Wire {
	return Wire{
		"detail":      stringFrom(wire, "detail", "An error occurred"),
		"status_code": intFrom(wire, "status", 500),
		"error_type":  wire["type"],
	}
}

// ToSimple converts an RFC 7807 wire object to {status, message}.
func ToSimple(wire Wire) Wire {
	return Wire{
		"status":  intFrom(wire, "status", 500),
		"message": stringFrom(wire, "detail", "An error occurred"),
	}
}

// ToHATEOAS returns a copy of the RFC 7807 object with _links for the
// occurrence itself and the help page of its problem type.
func ToHATEOAS(wire Wire, instanceURL string) Wire {
	out := make(Wire, len(wire)+1)
	for k, v := range wire {
		out[k] = v
	}
	help := stringFrom(wire, "type", "error")
	out["_links"] = Wire{
		"self": Wire{"href": instanceURL},
		"help": Wire{"href": HelpBaseURL + help},
	}
	return out
}

// TypeGenericError is the type URI given to lifted legacy responses
// that carried no error_type of their own.
const TypeGenericError = "https://httpwg.org/specs/rfc7807#error"

// FromLegacy lifts a legacy response back into RFC 7807 shape, for
// callers replaying stored legacy payloads through the new pipeline.
func FromLegacy(legacy Wire) Wire {
	errorType := stringFrom(legacy, "error_type", "")
	if errorType == "" {
		errorType = TypeGenericError
	}
	return Wire{
		"type":   errorType,
		"title":  "API Error",
		"status": intFrom(legacy, "status_code", 500),
		"detail": stringFrom(legacy, "detail", "An error occurred"),
	}
}

// Convert renders an RFC 7807 wire object into the target format.
// Unknown and custom targets pass the document through unchanged.
func Convert(wire Wire, target WireFormat, instanceURL string) Wire {
	switch target {
	case FormatLegacy:
		return ToLegacy(wire)
	case FormatSimple:
		return ToSimple(wire)
	case FormatHATEOAS:
		if instanceURL == "" {
			instanceURL = "/"
		}
		return ToHATEOAS(wire, instanceURL)
	default:
		return wire
	}
}

func stringFrom(m Wire, key, fallback string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func intFrom(m Wire, key string, fallback int) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}

// Codec marshals and unmarshals a payload for one media type.
type Codec struct {
	Marshal   func(w io.Writer, v any) error
	Unmarshal func(data []byte, v any) error
}

// DefaultJSONCodec handles the JSON media types.
var DefaultJSONCodec = Codec{
	Marshal: func(w io.Writer, v any) error {
		return json.NewEncoder(w).Encode(v)
	},
	Unmarshal: json.Unmarshal,
}

// DefaultCodecs maps media types (and their short aliases) to codecs.
// Importing formats/cbor adds the CBOR entries.
var DefaultCodecs = map[string]Codec{
	"application/json":         DefaultJSONCodec,
	"application/problem+json": DefaultJSONCodec,
	"application/hal+json":     DefaultJSONCodec,
	"json":                     DefaultJSONCodec,
}
