package compat

import (
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/apicompat/problem"
)

// Decision is one recorded format choice.
type Decision struct {
	Timestamp time.Time          `json:"timestamp"`
	ClientID  string             `json:"client_id"`
	Tier      ClientTier         `json:"client_tier"`
	Format    problem.WireFormat `json:"format"`
	Reason    string             `json:"reason"`
}

// Statistics is a snapshot aggregate of the decision log. A zero
// TotalDecisions with nil maps is the distinct "nothing logged yet"
// report.
type Statistics struct {
	TotalDecisions int            `json:"total_decisions"`
	Formats        map[string]int `json:"formats,omitempty"`
	ClientTiers    map[string]int `json:"client_tiers,omitempty"`
	Recent         []Decision     `json:"recent_decisions,omitempty"`
}

// Manager ties the rollout configuration, client detection and format
// conversion together. It is safe for concurrent use: configuration
// reads happen once per request under a read lock, and the decision
// log is guarded separately so appends never contend with config
// reads.
//
// There is deliberately no package-level singleton; construct one
// Manager at startup and hand it to whatever needs it.
type Manager struct {
	mu       sync.RWMutex
	cfg      Config
	detector *Detector
	cache    *lru.Cache[string, ClientTier]

	decMu     sync.Mutex
	decisions []Decision

	log *zap.Logger
	now func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(log *zap.Logger) ManagerOption {
	return func(m *Manager) { m.log = log }
}

// WithDetector replaces the default client detector.
func WithDetector(d *Detector) ManagerOption {
	return func(m *Manager) { m.detector = d }
}

// WithClock overrides the time source. Deprecation checks and decision
// timestamps use it; intended for tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager builds a manager around a configuration.
func NewManager(cfg Config, opts ...ManagerOption) *Manager {
	m := &Manager{
		cfg: cfg,
		log: zap.NewNop(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.detector == nil {
		m.detector = NewDetector(WithDetectorLogger(m.log))
	}
	if cfg.CacheDetection && cfg.CacheSize > 0 {
		// lru.New only fails on a non-positive size.
		m.cache, _ = lru.New[string, ClientTier](cfg.CacheSize)
	}
	return m
}

// Config returns a copy of the current configuration.
func (m *Manager) Config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// SetConfig swaps the configuration, e.g. from an admin endpoint.
func (m *Manager) SetConfig(cfg Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
}

// Detector exposes the client detector for runtime registration.
func (m *Manager) Detector() *Detector { return m.detector }

// ClientTier classifies a request, consulting the bounded detection
// cache first. When detection is disabled every client counts as
// modern.
func (m *Manager) ClientTier(userAgent, acceptHeader, clientID, apiVersion string) ClientTier {
	cfg := m.Config()
	if !cfg.DetectLegacyClients {
		return TierModern
	}

	// The cache key mirrors the detection inputs; the detection result
	// is version-independent, so apiVersion stays out of the key.
	key := userAgent + "\x1f" + acceptHeader + "\x1f" + clientID

	if m.cache != nil && cfg.CacheDetection {
		if tier, ok := m.cache.Get(key); ok {
			return tier
		}
	}

	tier := m.detector.Detect(userAgent, acceptHeader, clientID, apiVersion)

	if m.cache != nil && cfg.CacheDetection {
		m.cache.Add(key, tier)
	}
	return tier
}

// ShouldUseRFC7807 applies the rollout mode to a client tier.
func (m *Manager) ShouldUseRFC7807(tier ClientTier) bool {
	cfg := m.Config()
	if !cfg.Enabled {
		return false
	}

	switch cfg.Mode {
	case ModeDisabled, ModeLegacyOnly:
		return false
	case ModeHybrid, ModeOptOut:
		return tier != TierLegacy
	case ModeOptIn:
		return tier == TierModern
	case ModeEnabled:
		return true
	}
	return false
}

// ChooseFormat picks the wire format for a response. Precedence: an
// allowed explicit preference, then an explicit problem+json Accept
// signal, then generic JSON from a legacy client, then the rollout
// mode's default.
func (m *Manager) ChooseFormat(tier ClientTier, acceptHeader string, preference problem.WireFormat) problem.WireFormat {
	cfg := m.Config()

	if preference != "" && cfg.AllowedFormats.Has(preference) {
		return preference
	}

	if cfg.RespectAcceptHeader && acceptHeader != "" {
		if strings.Contains(acceptHeader, "application/problem+json") {
			return problem.FormatRFC7807
		}
		if strings.Contains(acceptHeader, "application/json") && tier == TierLegacy {
			return cfg.LegacyFormat
		}
	}

	if m.ShouldUseRFC7807(tier) {
		return problem.FormatRFC7807
	}
	return cfg.LegacyFormat
}

// Convert renders an RFC 7807 wire object into the target format.
func (m *Manager) Convert(wire problem.Wire, target problem.WireFormat, instanceURL string) problem.Wire {
	return problem.Convert(wire, target, instanceURL)
}

// ContentType returns the media type configured for a wire format.
func (m *Manager) ContentType(f problem.WireFormat) string {
	cfg := m.Config()
	return cfg.ContentTypeFor(f)
}

// IsDeprecated reports whether the legacy format's deprecation date
// has passed.
func (m *Manager) IsDeprecated() bool {
	cfg := m.Config()
	if !cfg.DeprecationEnabled || cfg.DeprecationDate == nil {
		return false
	}
	return !m.now().Before(*cfg.DeprecationDate)
}

// DeprecationHeader returns the Deprecation header value for legacy
// responses, or "" while the legacy format is not deprecated.
func (m *Manager) DeprecationHeader() string {
	if !m.IsDeprecated() {
		return ""
	}
	cfg := m.Config()

	header := "true"
	if cfg.DeprecationDate != nil {
		header += fmt.Sprintf("; date=%q", cfg.DeprecationDate.Format(time.RFC3339))
	}
	if cfg.MigrationGuideURL != "" {
		header += fmt.Sprintf("; link=%q", cfg.MigrationGuideURL)
	}
	return header
}

// LogDecision appends a format decision to the in-process log.
func (m *Manager) LogDecision(clientID string, tier ClientTier, format problem.WireFormat, reason string) {
	m.decMu.Lock()
	m.decisions = append(m.decisions, Decision{
		Timestamp: m.now(),
		ClientID:  clientID,
		Tier:      tier,
		Format:    format,
		Reason:    reason,
	})
	m.decMu.Unlock()
}

// Statistics aggregates the decision log: counts by format and tier
// plus the ten most recent decisions verbatim.
func (m *Manager) Statistics() Statistics {
	m.decMu.Lock()
	defer m.decMu.Unlock()

	if len(m.decisions) == 0 {
		return Statistics{}
	}

	stats := Statistics{
		TotalDecisions: len(m.decisions),
		Formats:        make(map[string]int),
		ClientTiers:    make(map[string]int),
	}
	for _, d := range m.decisions {
		stats.Formats[string(d.Format)]++
		stats.ClientTiers[string(d.Tier)]++
	}

	n := len(m.decisions)
	recent := n
	if recent > 10 {
		recent = 10
	}
	stats.Recent = append([]Decision(nil), m.decisions[n-recent:]...)
	return stats
}

// ValidateConfig reports advisory configuration issues.
func (m *Manager) ValidateConfig() []string {
	cfg := m.Config()
	return cfg.Validate()
}

// ExportConfig returns the configuration as a round-trippable
// document.
func (m *Manager) ExportConfig() (map[string]any, error) {
	cfg := m.Config()
	return cfg.Map()
}

// ImportConfig replaces the configuration from a document produced by
// ExportConfig (or hand-written in the same shape).
func (m *Manager) ImportConfig(data map[string]any) error {
	cfg, err := FromMap(data)
	if err != nil {
		return err
	}
	m.SetConfig(cfg)
	m.log.Info("configuration imported")
	return nil
}

// Reset clears the decision log and detection cache. It exists for
// test harnesses; production code has no reason to call it.
func (m *Manager) Reset() {
	m.decMu.Lock()
	m.decisions = nil
	m.decMu.Unlock()
	if m.cache != nil {
		m.cache.Purge()
	}
}
