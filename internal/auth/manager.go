// Package auth exchanges the title's API key for a short-lived bearer token.
// The token lives for the process lifetime; there is no refresh path, a new
// process authenticates again.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"playgate/internal/transport"
	pkgerrors "playgate/pkg/domain-errors"
)

// State tracks the authentication bootstrap.
type State int

const (
	StateUninitialized State = iota
	StateRequesting
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateRequesting:
		return "requesting"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// TokenSource hands out the current bearer token; an empty string means
// "not authenticated". Downstream services depend on this interface rather
// than on the Manager.
type TokenSource interface {
	Token() string
}

// Manager owns the bearer token. No other component may hold a copy.
type Manager struct {
	client   *transport.Client
	keyPath  string
	clientID string
	logger   *slog.Logger

	state State
	token string
}

// Option configures a Manager.
type Option func(*Manager)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// New builds a Manager that reads its API key from keyPath.
func New(client *transport.Client, keyPath, clientID string, opts ...Option) (*Manager, error) {
	if client == nil {
		return nil, fmt.Errorf("transport client is required")
	}
	if keyPath == "" {
		return nil, fmt.Errorf("api key path is required")
	}
	if clientID == "" {
		return nil, fmt.Errorf("client id is required")
	}
	m := &Manager{
		client:   client,
		keyPath:  keyPath,
		clientID: clientID,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Initialize loads the API key and exchanges it for a bearer token. On any
// failure the manager lands in StateFailed and authenticated calls must not
// proceed.
func (m *Manager) Initialize(ctx context.Context) error {
	m.state = StateRequesting

	key, err := m.loadAPIKey()
	if err != nil {
		m.state = StateFailed
		return err
	}

	// The API key itself is the bearer credential on this one call.
	resp, err := m.client.Post(ctx, "/auth/issue-token", key, map[string]string{
		"clientId": m.clientID,
	})
	if err != nil {
		m.state = StateFailed
		return fmt.Errorf("issue token: %w", err)
	}

	var body struct {
		AccessToken string `json:"accessToken"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		m.state = StateFailed
		return fmt.Errorf("decode token response: %w", err)
	}
	if body.AccessToken == "" {
		m.state = StateFailed
		return pkgerrors.New(pkgerrors.CodeInvalidInput, "token response carried no accessToken")
	}

	m.token = body.AccessToken
	m.state = StateReady
	m.logger.Info("authenticated with age-assurance service", "clientId", m.clientID)
	return nil
}

// Token returns the current bearer token, or "" before a successful
// Initialize.
func (m *Manager) Token() string { return m.token }

// State returns the bootstrap state.
func (m *Manager) State() State { return m.state }

// Ready reports whether authenticated calls may proceed.
func (m *Manager) Ready() bool { return m.state == StateReady }

// Invalidate clears the token. Called once, at process shutdown.
func (m *Manager) Invalidate() {
	m.token = ""
	m.state = StateUninitialized
}

func (m *Manager) loadAPIKey() (string, error) {
	data, err := os.ReadFile(m.keyPath)
	if err != nil {
		m.logger.Error("failed to load API key; create a file with your API key at the configured path", "path", m.keyPath)
		return "", pkgerrors.Newf(pkgerrors.CodePrecondition, "load api key from %s: %v", m.keyPath, err)
	}
	key := strings.TrimSpace(string(data))
	if key == "" {
		return "", pkgerrors.Newf(pkgerrors.CodePrecondition, "api key file %s is empty", m.keyPath)
	}
	return key, nil
}
