package compat

import (
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ClientTier classifies an inbound caller's compatibility with RFC
// 7807 responses.
type ClientTier string

const (
	TierLegacy     ClientTier = "legacy"
	TierCompatible ClientTier = "compatible"
	TierModern     ClientTier = "modern"
	TierUnknown    ClientTier = "unknown"
)

type legacyEntry struct {
	pattern    string
	maxVersion string
	tier       ClientTier
}

type modernEntry struct {
	pattern string
	tier    ClientTier
}

// Detector classifies clients by User-Agent substring, Accept header
// or an opaque client id. Pattern registries preserve registration
// order; re-registering a pattern updates it in place (last write
// wins).
//
// Precedence is deliberate observable behavior: an RFC 7807 signal in
// the Accept header beats everything, including a registered legacy
// client id. Integrators relying on client-id pinning should be aware
// a client can still opt itself into the modern tier per request.
type Detector struct {
	mu       sync.RWMutex
	legacy   []legacyEntry
	modern   []modernEntry
	accepts  []string
	legacyID func(string) bool
	log      *zap.Logger
}

// DetectorOption configures a Detector.
type DetectorOption func(*Detector)

// WithLegacyIDLookup installs the client-id registry lookup. The
// default lookup recognizes nothing; wiring it to a real store is the
// integrator's job.
func WithLegacyIDLookup(fn func(clientID string) bool) DetectorOption {
	return func(d *Detector) { d.legacyID = fn }
}

// WithDetectorLogger sets the logger used for registration events.
func WithDetectorLogger(log *zap.Logger) DetectorOption {
	return func(d *Detector) { d.log = log }
}

// NewDetector builds a detector seeded with the built-in client
// patterns.
func NewDetector(opts ...DetectorOption) *Detector {
	d := &Detector{
		legacy: []legacyEntry{
			// Mobile apps that shipped before RFC 7807 support.
			{pattern: "com.example.app", maxVersion: "1.0.0", tier: TierLegacy},
			{pattern: "com.mobile.app", maxVersion: "2.0.0", tier: TierLegacy},
			// Old API client libraries.
			{pattern: "axios/0", tier: TierLegacy},
			{pattern: "node-fetch/1", tier: TierLegacy},
			{pattern: "urllib3", maxVersion: "1.25.0", tier: TierLegacy},
			// Old browser clients.
			{pattern: "IE", tier: TierLegacy},
			{pattern: "old-client", tier: TierLegacy},
		},
		modern: []modernEntry{
			{pattern: "axios", tier: TierCompatible},
			{pattern: "requests", tier: TierCompatible},
			{pattern: "httpx", tier: TierModern},
			{pattern: "curl", tier: TierCompatible},
			{pattern: "fetch", tier: TierModern},
			{pattern: "RestClient", tier: TierCompatible},
		},
		accepts: []string{
			"application/problem+json",
			"application/vnd.api+json",
			"application/ld+json",
		},
		legacyID: func(string) bool { return false },
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect classifies a request. All arguments are optional; empty
// strings mean the header was absent.
func (d *Detector) Detect(userAgent, acceptHeader, clientID, apiVersion string) ClientTier {
	d.mu.RLock()
	defer d.mu.RUnlock()

	// Explicit RFC 7807 support always wins.
	if acceptHeader != "" {
		for _, mediaType := range d.accepts {
			if strings.Contains(acceptHeader, mediaType) {
				return TierModern
			}
		}
	}

	if userAgent != "" {
		lowered := strings.ToLower(userAgent)

		for _, entry := range d.legacy {
			if !strings.Contains(lowered, strings.ToLower(entry.pattern)) {
				continue
			}
			// A matched pattern always decides the tier; the version
			// cutoff can only confirm the legacy classification, never
			// lift it.
			if entry.maxVersion != "" && apiVersion != "" &&
				compareVersions(apiVersion, entry.maxVersion) <= 0 {
				return TierLegacy
			}
			return entry.tier
		}

		for _, entry := range d.modern {
			if strings.Contains(lowered, strings.ToLower(entry.pattern)) {
				return entry.tier
			}
		}
	}

	if clientID != "" && d.legacyID(clientID) {
		return TierLegacy
	}

	return TierUnknown
}

// RegisterLegacyClient adds or updates a legacy User-Agent pattern.
func (d *Detector) RegisterLegacyClient(pattern string, tier ClientTier) {
	d.registerLegacy(legacyEntry{pattern: pattern, tier: tier})
}

// RegisterVersionedLegacyClient adds or updates a legacy pattern that
// only applies up to (and including) maxVersion.
func (d *Detector) RegisterVersionedLegacyClient(pattern, maxVersion string, tier ClientTier) {
	d.registerLegacy(legacyEntry{pattern: pattern, maxVersion: maxVersion, tier: tier})
}

func (d *Detector) registerLegacy(entry legacyEntry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.legacy {
		if d.legacy[i].pattern == entry.pattern {
			d.legacy[i] = entry
			d.log.Info("updated legacy client pattern", zap.String("pattern", entry.pattern))
			return
		}
	}
	d.legacy = append(d.legacy, entry)
	d.log.Info("registered legacy client pattern", zap.String("pattern", entry.pattern))
}

// RegisterModernClient adds or updates a modern User-Agent pattern.
func (d *Detector) RegisterModernClient(pattern string, tier ClientTier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.modern {
		if d.modern[i].pattern == pattern {
			d.modern[i].tier = tier
			d.log.Info("updated modern client pattern", zap.String("pattern", pattern))
			return
		}
	}
	d.modern = append(d.modern, modernEntry{pattern: pattern, tier: tier})
	d.log.Info("registered modern client pattern", zap.String("pattern", pattern))
}

// compareVersions compares dotted integer versions, right-padding the
// shorter with zeros. Non-numeric components are non-fatal and compare
// as equal.
func compareVersions(a, b string) int {
	pa, okA := versionParts(a)
	pb, okB := versionParts(b)
	if !okA || !okB {
		return 0
	}

	for len(pa) < len(pb) {
		pa = append(pa, 0)
	}
	for len(pb) < len(pa) {
		pb = append(pb, 0)
	}

	for i := range pa {
		if pa[i] < pb[i] {
			return -1
		}
		if pa[i] > pb[i] {
			return 1
		}
	}
	return 0
}

func versionParts(v string) ([]int, bool) {
	fields := strings.Split(v, ".")
	parts := make([]int, len(fields))
	for i, field := range fields {
		n, err := strconv.Atoi(field)
		if err != nil {
			return nil, false
		}
		parts[i] = n
	}
	return parts, true
}
