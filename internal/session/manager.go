// Package session owns the cached session record, the derived access
// mode, and feature gating against per-permission management rules.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"playgate/internal/auth"
	"playgate/internal/challenge"
	"playgate/internal/store"
	"playgate/internal/transport"
	pkgerrors "playgate/pkg/domain-errors"
)

// ChallengeResolver runs a consent challenge to a terminal outcome. The
// workflow wires the challenge coordinator in here; session stays unaware
// of polling mechanics.
type ChallengeResolver interface {
	Resolve(ctx context.Context, ch challenge.Challenge) (challenge.Result, error)
}

// Manager holds the in-memory session and mediates all reads and writes of
// the persisted blob. It is not safe for concurrent use; the workflow
// serializes access.
type Manager struct {
	client   *transport.Client
	tokens   auth.TokenSource
	store    store.Store
	resolver ChallengeResolver
	logger   *slog.Logger

	info *Info
	mode AccessMode
}

// Option configures a Manager.
type Option func(*Manager)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithChallengeResolver installs the coordinator used when a guardian-
// managed upgrade comes back as a challenge.
func WithChallengeResolver(r ChallengeResolver) Option {
	return func(m *Manager) { m.resolver = r }
}

// New builds a Manager. The access mode starts at DataLite until a session
// is loaded or adopted.
func New(client *transport.Client, tokens auth.TokenSource, st store.Store, opts ...Option) (*Manager, error) {
	if client == nil {
		return nil, fmt.Errorf("transport client is required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token source is required")
	}
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	m := &Manager{
		client: client,
		tokens: tokens,
		store:  st,
		logger: slog.Default(),
		mode:   AccessDataLite,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Current returns the in-memory session, nil when none is established.
func (m *Manager) Current() *Info { return m.info }

// Mode returns the current access mode.
func (m *Manager) Mode() AccessMode { return m.mode }

// Adopt installs a freshly obtained session, persists it, and unlocks full
// access. Used after a PASS verdict, a granted consent, or a
// default-permissions fetch.
func (m *Manager) Adopt(ctx context.Context, info *Info) error {
	if info == nil {
		return pkgerrors.New(pkgerrors.CodeInvalidInput, "cannot adopt a nil session")
	}
	m.info = info
	m.mode = AccessFull
	return m.Save(ctx)
}

// Save persists the in-memory session blob.
func (m *Manager) Save(ctx context.Context) error {
	if m.info == nil {
		return pkgerrors.New(pkgerrors.CodePrecondition, "no session to save")
	}
	blob, err := json.Marshal(m.info)
	if err != nil {
		return fmt.Errorf("serialize session: %w", err)
	}
	if err := m.store.SaveSession(ctx, blob); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	savesTotal.Inc()
	return nil
}

// Load restores a previously saved session. A readable blob implies the
// player already cleared whatever gate applied, so full access is restored
// with it. Missing or corrupt data reads as "no saved session" and returns
// false.
func (m *Manager) Load(ctx context.Context) bool {
	blob, err := m.store.LoadSession(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return false
	}
	if err != nil {
		m.logger.Error("failed to read saved session", "error", err)
		return false
	}
	info, err := Decode(blob)
	if err != nil {
		m.logger.Warn("discarding undecodable saved session", "error", err)
		return false
	}
	m.info = info
	m.mode = AccessFull
	return true
}

// Clear wipes the in-memory session and deletes the persisted blob. The
// mode drops to DataLite: clearing is a reset, not a prohibition.
func (m *Manager) Clear(ctx context.Context) error {
	m.info = nil
	m.mode = AccessDataLite
	if err := m.store.DeleteSession(ctx); err != nil {
		return fmt.Errorf("delete persisted session: %w", err)
	}
	return nil
}

// Prohibit drops the access mode to None after a mandatory check failed.
func (m *Manager) Prohibit() {
	m.mode = AccessNone
}

// Downgrade drops the access mode to DataLite after consent was denied,
// timed out, or never obtained.
func (m *Manager) Downgrade() {
	m.mode = AccessDataLite
}

// Refresh issues a conditional fetch for sessionID. A 304 means the cached
// copy is current: nothing is overwritten and nothing is re-saved. Any
// other success replaces the session wholesale and persists it. Either way
// a completed refresh restores full access.
func (m *Manager) Refresh(ctx context.Context, sessionID, etag string) error {
	path := fmt.Sprintf("/session/get?sessionId=%s&etag=%s", url.QueryEscape(sessionID), url.QueryEscape(etag))
	resp, err := m.client.Get(ctx, path, m.tokens.Token())
	if err != nil {
		refreshesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("refresh session %s: %w", sessionID, err)
	}

	m.mode = AccessFull
	if resp.NotModified() {
		refreshesTotal.WithLabelValues("not_modified").Inc()
		m.logger.Debug("session unchanged", "sessionId", sessionID)
		return nil
	}

	info, err := Decode(resp.Body)
	if err != nil {
		refreshesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	m.info = info
	refreshesTotal.WithLabelValues("updated").Inc()
	return m.Save(ctx)
}

// FindPermission looks up a permission on the current session.
func (m *Manager) FindPermission(name string) *Permission {
	return m.info.FindPermission(name)
}

// AttemptEnableFeature tries to turn on the named permission. onEnabled
// fires only once the permission is actually enabled, which for
// guardian-managed features may be after a full consent round trip.
// Refusals (unknown permission, prohibited, denied consent) are logged and
// return nil; only infrastructure failures surface as errors.
func (m *Manager) AttemptEnableFeature(ctx context.Context, name string, onEnabled func()) error {
	perm := m.FindPermission(name)
	if perm == nil {
		m.logger.Warn("requested feature is not part of the session", "permission", name)
		return nil
	}
	if perm.Enabled {
		m.logger.Debug("feature already enabled", "permission", name)
		return nil
	}

	switch perm.ManagedBy {
	case ManagedByProhibited:
		m.logger.Warn("feature is prohibited in this jurisdiction", "permission", name)
		return nil
	case ManagedByPlayer:
		perm.Enabled = true
		if err := m.Save(ctx); err != nil {
			return err
		}
		m.logger.Info("feature enabled by player", "permission", name)
		if onEnabled != nil {
			onEnabled()
		}
		return nil
	case ManagedByGuardian:
		return m.upgrade(ctx, name, onEnabled)
	}
	return pkgerrors.Newf(pkgerrors.CodeUnknownValue, "unrecognized managedBy value %q", perm.ManagedBy)
}

// upgradeResponse is what /session/upgrade returns: either a full updated
// session (auto-approval) or the fields of a new consent challenge.
type upgradeResponse struct {
	Session         *Info  `json:"session"`
	ChallengeID     string `json:"challengeId"`
	OneTimePassword string `json:"oneTimePassword"`
	URL             string `json:"url"`
}

func (m *Manager) upgrade(ctx context.Context, name string, onEnabled func()) error {
	if m.info == nil || m.info.SessionID == "" {
		return pkgerrors.New(pkgerrors.CodePrecondition, "session upgrade requires an established session")
	}

	resp, err := m.client.Post(ctx, "/session/upgrade", m.tokens.Token(), map[string]any{
		"sessionId":            m.info.SessionID,
		"requestedPermissions": []map[string]string{{"name": name}},
	})
	if err != nil {
		return fmt.Errorf("request session upgrade: %w", err)
	}

	var body upgradeResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return fmt.Errorf("decode session upgrade response: %w", err)
	}

	switch {
	case body.Session != nil:
		// Auto-approved: the server already flipped the permission.
		if err := m.Adopt(ctx, body.Session); err != nil {
			return err
		}
		m.logger.Info("feature enabled after auto-approved upgrade", "permission", name)
		if onEnabled != nil {
			onEnabled()
		}
		return nil
	case body.ChallengeID != "":
		return m.upgradeViaChallenge(ctx, name, body, onEnabled)
	}
	return pkgerrors.New(pkgerrors.CodeInvalidInput, "session upgrade response carries neither session nor challenge")
}

func (m *Manager) upgradeViaChallenge(ctx context.Context, name string, body upgradeResponse, onEnabled func()) error {
	if m.resolver == nil {
		return pkgerrors.New(pkgerrors.CodePrecondition, "no challenge resolver configured for guardian upgrades")
	}
	if err := m.store.SaveChallengeID(ctx, body.ChallengeID); err != nil {
		return fmt.Errorf("persist upgrade challenge id: %w", err)
	}

	res, err := m.resolver.Resolve(ctx, challenge.Challenge{
		ID:              body.ChallengeID,
		OneTimePassword: body.OneTimePassword,
		URL:             body.URL,
	})
	if err != nil {
		return fmt.Errorf("resolve upgrade challenge: %w", err)
	}
	if !res.Outcome.Granted() {
		m.logger.Warn("guardian consent for feature was not granted",
			"permission", name, "outcome", res.Outcome.String())
		return nil
	}

	if err := m.Refresh(ctx, res.SessionID, ""); err != nil {
		return err
	}
	m.logger.Info("feature enabled after guardian consent", "permission", name)
	if onEnabled != nil {
		onEnabled()
	}
	return nil
}
