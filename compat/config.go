// Package compat decides, per request, which error wire format an API
// should emit while RFC 7807 adoption is rolled out: it classifies
// clients into compatibility tiers, applies the rollout mode, and
// reports deprecation and usage statistics.
package compat

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/apicompat/problem"
)

// RolloutMode governs which clients receive RFC 7807 during the
// migration.
type RolloutMode string

const (
	// ModeDisabled turns RFC 7807 off entirely.
	ModeDisabled RolloutMode = "disabled"
	// ModeLegacyOnly keeps the legacy responses for everyone.
	ModeLegacyOnly RolloutMode = "legacy_only"
	// ModeHybrid serves RFC 7807 to everyone except detected legacy
	// clients.
	ModeHybrid RolloutMode = "hybrid"
	// ModeOptIn serves RFC 7807 only to clients that signal support.
	ModeOptIn RolloutMode = "opt_in"
	// ModeOptOut serves RFC 7807 to everyone except detected legacy
	// clients.
	ModeOptOut RolloutMode = "opt_out"
	// ModeEnabled serves RFC 7807 unconditionally.
	ModeEnabled RolloutMode = "enabled"
)

// ParseRolloutMode matches a mode name case-insensitively.
func ParseRolloutMode(s string) (RolloutMode, error) {
	switch RolloutMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeDisabled:
		return ModeDisabled, nil
	case ModeLegacyOnly:
		return ModeLegacyOnly, nil
	case ModeHybrid:
		return ModeHybrid, nil
	case ModeOptIn:
		return ModeOptIn, nil
	case ModeOptOut:
		return ModeOptOut, nil
	case ModeEnabled:
		return ModeEnabled, nil
	}
	return "", fmt.Errorf("compat: unknown rollout mode %q", s)
}

// FormatSet is the set of wire formats a deployment allows. It
// serializes as a sorted JSON array of format names.
type FormatSet map[problem.WireFormat]bool

// NewFormatSet builds a set from the given formats.
func NewFormatSet(formats ...problem.WireFormat) FormatSet {
	s := make(FormatSet, len(formats))
	for _, f := range formats {
		s[f] = true
	}
	return s
}

// Has reports membership.
func (s FormatSet) Has(f problem.WireFormat) bool { return s[f] }

func (s FormatSet) MarshalJSON() ([]byte, error) {
	names := make([]string, 0, len(s))
	for f, ok := range s {
		if ok {
			names = append(names, string(f))
		}
	}
	slices.Sort(names)
	return json.Marshal(names)
}

func (s *FormatSet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	out := make(FormatSet, len(names))
	for _, name := range names {
		f, err := problem.ParseWireFormat(name)
		if err != nil {
			return err
		}
		out[f] = true
	}
	*s = out
	return nil
}

// Config is the process-held rollout configuration: constructed once
// at startup, possibly mutated by an admin action, read on every
// request through a Manager.
type Config struct {
	Mode    RolloutMode `json:"mode"`
	Enabled bool        `json:"enabled"`

	SupportLegacy       bool               `json:"support_legacy"`
	DetectLegacyClients bool               `json:"detect_legacy_clients"`
	LegacyFormat        problem.WireFormat `json:"legacy_format"`

	RespectAcceptHeader bool               `json:"respect_accept_header"`
	DefaultFormat       problem.WireFormat `json:"default_format"`
	AllowedFormats      FormatSet          `json:"allowed_formats"`

	ExposeErrorTypes     bool `json:"expose_error_types"`
	ExposeInternalErrors bool `json:"expose_internal_errors"`
	SanitizeMessages     bool `json:"sanitize_messages"`
	MaxDetailLength      int  `json:"max_detail_length"`

	IncludeErrorID   bool `json:"include_error_id"`
	IncludeTimestamp bool `json:"include_timestamp"`
	IncludeRequestID bool `json:"include_request_id"`
	IncludeTraceID   bool `json:"include_trace_id"`

	ContentTypes map[problem.WireFormat]string `json:"content_type_mapping"`

	DeprecationEnabled bool       `json:"deprecation_enabled"`
	DeprecationDate    *time.Time `json:"deprecation_date"`
	MigrationGuideURL  string     `json:"migration_guide_url"`
	APIVersion         string     `json:"api_version"`

	CacheDetection bool `json:"cache_detection"`
	// CacheSize bounds the detection cache (LRU). Zero disables
	// caching regardless of CacheDetection.
	CacheSize int `json:"detection_cache_size"`
}

func defaultContentTypes() map[problem.WireFormat]string {
	return map[problem.WireFormat]string{
		problem.FormatRFC7807: "application/problem+json",
		problem.FormatLegacy:  "application/json",
		problem.FormatSimple:  "application/json",
		problem.FormatHATEOAS: "application/hal+json",
		problem.FormatCustom:  "application/json",
	}
}

// DefaultConfig returns the baseline configuration every preset and
// loader starts from.
func DefaultConfig() Config {
	return Config{
		Mode:                ModeHybrid,
		Enabled:             true,
		SupportLegacy:       true,
		DetectLegacyClients: true,
		LegacyFormat:        problem.FormatLegacy,
		RespectAcceptHeader: true,
		DefaultFormat:       problem.FormatRFC7807,
		AllowedFormats: NewFormatSet(
			problem.FormatRFC7807,
			problem.FormatLegacy,
			problem.FormatSimple,
		),
		SanitizeMessages:   true,
		MaxDetailLength:    500,
		IncludeErrorID:     true,
		IncludeTimestamp:   true,
		IncludeRequestID:   true,
		ContentTypes:       defaultContentTypes(),
		DeprecationEnabled: true,
		APIVersion:         "1.0.0",
		CacheDetection:     true,
		CacheSize:          1024,
	}
}

// Development enables everything useful for debugging, including
// internal error exposure. Never use in production.
func Development() Config {
	cfg := DefaultConfig()
	cfg.ExposeErrorTypes = true
	cfg.ExposeInternalErrors = true
	cfg.SanitizeMessages = false
	cfg.IncludeTraceID = true
	return cfg
}

// Staging defaults to RFC 7807 with a legacy escape hatch.
func Staging() Config {
	cfg := DefaultConfig()
	cfg.Mode = ModeOptOut
	cfg.IncludeTraceID = true
	return cfg
}

// Production is secure and backward compatible, with a deprecation
// date six months out.
func Production() Config {
	cfg := DefaultConfig()
	date := time.Now().AddDate(0, 6, 0)
	cfg.DeprecationDate = &date
	return cfg
}

// LegacyOnly is for deployments that have not started the rollout.
func LegacyOnly() Config {
	cfg := DefaultConfig()
	cfg.Mode = ModeLegacyOnly
	cfg.Enabled = false
	cfg.AllowedFormats = NewFormatSet(problem.FormatLegacy, problem.FormatSimple)
	return cfg
}

// RFC7807Only is the post-migration configuration for new APIs.
func RFC7807Only() Config {
	cfg := DefaultConfig()
	cfg.Mode = ModeEnabled
	cfg.SupportLegacy = false
	cfg.AllowedFormats = NewFormatSet(problem.FormatRFC7807, problem.FormatHATEOAS)
	return cfg
}

// ContentTypeFor returns the media type for a wire format, falling
// back to the format's default when unconfigured.
func (c *Config) ContentTypeFor(f problem.WireFormat) string {
	if ct, ok := c.ContentTypes[f]; ok {
		return ct
	}
	return f.ContentType()
}

// LoadEnv overrides fields from RFC7807_* environment variables.
// Booleans are the strings "true"/"false"; mode names match
// case-insensitively, and an unrecognized mode keeps the previous
// value with a warning.
func (c *Config) LoadEnv(log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}

	v := viper.New()
	v.SetEnvPrefix("RFC7807")
	v.AutomaticEnv()

	if raw := v.GetString("MODE"); raw != "" {
		mode, err := ParseRolloutMode(raw)
		if err != nil {
			log.Warn("ignoring unrecognized rollout mode from environment",
				zap.String("mode", raw))
		} else {
			c.Mode = mode
		}
	}

	c.Enabled = envBool(v, "ENABLED", c.Enabled)
	c.SupportLegacy = envBool(v, "SUPPORT_LEGACY", c.SupportLegacy)
	c.ExposeInternalErrors = envBool(v, "EXPOSE_INTERNAL", c.ExposeInternalErrors)

	log.Info("configuration loaded from environment", zap.String("mode", string(c.Mode)))
}

func envBool(v *viper.Viper, key string, current bool) bool {
	switch strings.ToLower(v.GetString(key)) {
	case "":
		return current
	case "true":
		return true
	default:
		return false
	}
}

// FromMap builds a Config from a generic document, starting from
// DefaultConfig so partial documents are valid. Dates are RFC 3339
// strings and allowed_formats is an array of format names.
func FromMap(data map[string]any) (Config, error) {
	cfg := DefaultConfig()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeHookFunc(time.RFC3339),
			formatSetHook,
		),
		Result:           &cfg,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return cfg, err
	}
	if err := dec.Decode(data); err != nil {
		return cfg, fmt.Errorf("compat: decoding configuration: %w", err)
	}
	mode, err := ParseRolloutMode(string(cfg.Mode))
	if err != nil {
		return cfg, err
	}
	cfg.Mode = mode
	return cfg, nil
}

func formatSetHook(from, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(FormatSet(nil)) || from.Kind() != reflect.Slice {
		return data, nil
	}
	raw := reflect.ValueOf(data)
	out := make(FormatSet, raw.Len())
	for i := 0; i < raw.Len(); i++ {
		name, ok := raw.Index(i).Interface().(string)
		if !ok {
			return nil, fmt.Errorf("compat: allowed_formats entries must be strings")
		}
		f, err := problem.ParseWireFormat(name)
		if err != nil {
			return nil, err
		}
		out[f] = true
	}
	return out, nil
}

// LoadFile reads a JSON or YAML configuration document.
func LoadFile(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return DefaultConfig(), err
	}

	var data map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &data); err != nil {
			return DefaultConfig(), fmt.Errorf("compat: parsing %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(raw, &data); err != nil {
			return DefaultConfig(), fmt.Errorf("compat: parsing %s: %w", path, err)
		}
	}
	return FromMap(data)
}

// Map exports the configuration as a generic document that round-trips
// through FromMap.
func (c Config) Map() (map[string]any, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Validate reports configuration issues as human-readable strings.
// Issues are advisory and never block startup.
func (c *Config) Validate() []string {
	var issues []string

	if !c.Enabled && c.Mode != ModeDisabled {
		issues = append(issues, "enabled=false but mode is not disabled")
	}
	if c.Mode == ModeLegacyOnly && c.AllowedFormats.Has(problem.FormatRFC7807) {
		issues = append(issues, "legacy_only mode should not have rfc7807 in allowed_formats")
	}
	if c.SanitizeMessages && c.ExposeInternalErrors {
		issues = append(issues, "sanitize_messages=true but expose_internal_errors=true")
	}

	return issues
}
