// Package stubservice is a local stand-in for the remote age-assurance
// vendor. It implements the whole client-facing surface, including the
// test-only challenge override, so the demo CLI and tests run without
// network access to the real thing.
package stubservice

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"playgate/internal/agegate"
	"playgate/internal/session"
)

const (
	statusPending = "PENDING"
	statusPass    = "PASS"
	statusFail    = "FAIL"

	verifyBaseURL = "https://verify.playgate.local/c/"
)

// Jurisdiction is one row of the stub's policy table.
type Jurisdiction struct {
	Display              bool
	AgeAssuranceRequired bool
	ApprovedMethods      []string
	DigitalConsentAge    int
	// MinimumAge prohibits play outright below it.
	MinimumAge int
	// DefaultPermissions seed every session created for this jurisdiction.
	DefaultPermissions []session.Permission
}

// Config configures the stub.
type Config struct {
	// APIKey is the plaintext key clients exchange for a token. Only its
	// bcrypt hash is kept.
	APIKey     string
	SigningKey string
	TokenTTL   time.Duration
	// AutoApproveUpgrades makes /session/upgrade grant immediately instead
	// of raising a consent challenge.
	AutoApproveUpgrades bool
	Jurisdictions       map[string]Jurisdiction
}

// DefaultJurisdictions is the policy table used when none is supplied.
func DefaultJurisdictions() map[string]Jurisdiction {
	chat := []session.Permission{
		{Name: "text-chat-public", Enabled: false, ManagedBy: session.ManagedByGuardian},
		{Name: "voice-chat", Enabled: false, ManagedBy: session.ManagedByPlayer},
		{Name: "loot-boxes", Enabled: false, ManagedBy: session.ManagedByProhibited},
	}
	open := []session.Permission{
		{Name: "text-chat-public", Enabled: true, ManagedBy: session.ManagedByPlayer},
		{Name: "voice-chat", Enabled: true, ManagedBy: session.ManagedByPlayer},
		{Name: "loot-boxes", Enabled: true, ManagedBy: session.ManagedByPlayer},
	}
	return map[string]Jurisdiction{
		"us-ca": {
			Display:              true,
			AgeAssuranceRequired: true,
			ApprovedMethods:      []string{"age-gate", "slider"},
			DigitalConsentAge:    13,
			DefaultPermissions:   chat,
		},
		"gb": {
			Display:            true,
			ApprovedMethods:    []string{"age-gate"},
			DigitalConsentAge:  13,
			DefaultPermissions: chat,
		},
		"kr": {
			Display:              true,
			AgeAssuranceRequired: true,
			ApprovedMethods:      []string{"age-gate"},
			DigitalConsentAge:    14,
			MinimumAge:           12,
			DefaultPermissions:   chat,
		},
		"nz": {
			Display:            false,
			DefaultPermissions: open,
		},
	}
}

type challengeRecord struct {
	id              string
	oneTimePassword string
	url             string
	status          string
	sessionID       string
	jurisdiction    string
	dateOfBirth     string
	email           string
	// upgrade is set when the challenge guards a session upgrade rather
	// than a fresh age-gate session.
	upgrade *upgradeRef
	// changed is closed exactly once, when the challenge leaves PENDING.
	changed chan struct{}
}

type upgradeRef struct {
	sessionID   string
	permissions []string
}

type sessionRecord struct {
	info session.Info
}

// Service holds the stub's in-memory state. Safe for concurrent use.
type Service struct {
	logger        *slog.Logger
	tokens        *TokenService
	apiKeyHash    []byte
	autoApprove   bool
	jurisdictions map[string]Jurisdiction

	mu         sync.Mutex
	challenges map[string]*challengeRecord
	sessions   map[string]*sessionRecord
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// New builds the stub from its config.
func New(cfg Config, opts ...Option) (*Service, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.SigningKey == "" {
		return nil, fmt.Errorf("signing key is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.APIKey), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash api key: %w", err)
	}
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	if cfg.Jurisdictions == nil {
		cfg.Jurisdictions = DefaultJurisdictions()
	}

	s := &Service{
		logger:        slog.Default(),
		tokens:        NewTokenService(cfg.SigningKey, cfg.TokenTTL),
		apiKeyHash:    hash,
		autoApprove:   cfg.AutoApproveUpgrades,
		jurisdictions: cfg.Jurisdictions,
		challenges:    make(map[string]*challengeRecord),
		sessions:      make(map[string]*sessionRecord),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) checkAPIKey(key string) bool {
	return bcrypt.CompareHashAndPassword(s.apiKeyHash, []byte(key)) == nil
}

func (s *Service) jurisdiction(code string) (Jurisdiction, bool) {
	j, ok := s.jurisdictions[code]
	return j, ok
}

// newSession creates and registers a session seeded from the
// jurisdiction's defaults.
func (s *Service) newSession(j Jurisdiction, dateOfBirth, ageStatus string) session.Info {
	info := session.Info{
		SessionID:   uuid.NewString(),
		ETag:        uuid.NewString(),
		AgeStatus:   ageStatus,
		DateOfBirth: dateOfBirth,
		Permissions: clonePermissions(j.DefaultPermissions),
	}
	s.sessions[info.SessionID] = &sessionRecord{info: info}
	return info
}

// newChallenge creates and registers a pending consent challenge.
func (s *Service) newChallenge(jurisdiction, dateOfBirth string, upgrade *upgradeRef) *challengeRecord {
	ch := &challengeRecord{
		id:              uuid.NewString(),
		oneTimePassword: fmt.Sprintf("%06d", rand.IntN(1_000_000)),
		status:          statusPending,
		jurisdiction:    jurisdiction,
		dateOfBirth:     dateOfBirth,
		upgrade:         upgrade,
		changed:         make(chan struct{}),
	}
	ch.url = verifyBaseURL + ch.id
	s.challenges[ch.id] = ch
	return ch
}

// resolveChallenge moves a pending challenge to PASS or FAIL and wakes all
// long-poll waiters. Resolving a resolved challenge is a no-op.
func (s *Service) resolveChallenge(ch *challengeRecord, status string) {
	if ch.status != statusPending {
		return
	}
	ch.status = status
	if status == statusPass {
		if ch.upgrade != nil {
			if rec, ok := s.sessions[ch.upgrade.sessionID]; ok {
				s.enablePermissions(rec, ch.upgrade.permissions)
				ch.sessionID = rec.info.SessionID
			}
		} else {
			j, ok := s.jurisdiction(ch.jurisdiction)
			if !ok {
				j = Jurisdiction{}
			}
			info := s.newSession(j, ch.dateOfBirth, statusPass)
			ch.sessionID = info.SessionID
		}
	}
	close(ch.changed)
}

// enablePermissions flips the named permissions on a session, skipping
// prohibited ones, and bumps the etag.
func (s *Service) enablePermissions(rec *sessionRecord, names []string) {
	for _, name := range names {
		perm := rec.info.FindPermission(name)
		if perm == nil || perm.ManagedBy == session.ManagedByProhibited {
			continue
		}
		perm.Enabled = true
	}
	rec.info.ETag = uuid.NewString()
}

func clonePermissions(perms []session.Permission) []session.Permission {
	out := make([]session.Permission, len(perms))
	copy(out, perms)
	return out
}

// ageFor computes the stub's view of a player's age.
func ageFor(dateOfBirth string) int {
	return agegate.AgeFromDOB(dateOfBirth, time.Now().UTC())
}
