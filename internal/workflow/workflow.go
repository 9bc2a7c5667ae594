// Package workflow is the top-level orchestrator: it authenticates,
// resumes or establishes a session for a jurisdiction, and mediates
// feature requests against the resulting access mode.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"playgate/internal/agegate"
	"playgate/internal/auth"
	"playgate/internal/challenge"
	"playgate/internal/session"
	"playgate/internal/store"
	"playgate/internal/transport"
	pkgerrors "playgate/pkg/domain-errors"
)

//go:generate mockgen -source=ui.go -destination=mocks/mock_ui.go -package=mocks

// State is where the orchestrator currently stands. Terminal states are
// Established, Limited, Unavailable and AuthFailed.
type State int

const (
	StateIdle State = iota
	StateAuthenticating
	StateAuthFailed
	StateResumingChallenge
	StateCheckingSavedSession
	StateRunningAgeGate
	// StateEstablished means a session (or a default-permissions record)
	// is active and full access applies.
	StateEstablished
	// StateLimited means consent was denied, timed out, or never obtained;
	// play continues in minimal-data mode.
	StateLimited
	// StateUnavailable means a mandatory check prohibited play entirely.
	StateUnavailable
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthFailed:
		return "auth_failed"
	case StateResumingChallenge:
		return "resuming_challenge"
	case StateCheckingSavedSession:
		return "checking_saved_session"
	case StateRunningAgeGate:
		return "running_age_gate"
	case StateEstablished:
		return "established"
	case StateLimited:
		return "limited"
	case StateUnavailable:
		return "unavailable"
	}
	return "unknown"
}

// Snapshot is the read-only status surface hosts render from.
type Snapshot struct {
	State       State
	SessionID   string
	ChallengeID string
	AgeStatus   string
	AccessMode  session.AccessMode
}

// Workflow drives one player's age-verification and consent lifecycle. It
// is single-threaded by contract: all calls happen from one goroutine.
type Workflow struct {
	client     *transport.Client
	auth       *auth.Manager
	gate       *agegate.Engine
	sessions   *session.Manager
	challenges *challenge.Coordinator
	store      store.Store
	logger     *slog.Logger

	prompter AgeGatePrompter
	verifier AgeVerifier

	state  State
	cancel context.CancelFunc
	now    func() time.Time
}

// Option configures a Workflow.
type Option func(*Workflow)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Workflow) { w.logger = logger }
}

// WithAgeGatePrompter installs the date-of-birth collection surface.
func WithAgeGatePrompter(p AgeGatePrompter) Option {
	return func(w *Workflow) { w.prompter = p }
}

// WithAgeVerifier installs the identity-backed age verification surface.
func WithAgeVerifier(v AgeVerifier) Option {
	return func(w *Workflow) { w.verifier = v }
}

// New builds a Workflow from its collaborators.
func New(client *transport.Client, authMgr *auth.Manager, gate *agegate.Engine, sessions *session.Manager, challenges *challenge.Coordinator, st store.Store, opts ...Option) (*Workflow, error) {
	if client == nil {
		return nil, fmt.Errorf("transport client is required")
	}
	if authMgr == nil {
		return nil, fmt.Errorf("auth manager is required")
	}
	if gate == nil {
		return nil, fmt.Errorf("age gate engine is required")
	}
	if sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if challenges == nil {
		return nil, fmt.Errorf("challenge coordinator is required")
	}
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	w := &Workflow{
		client:     client,
		auth:       authMgr,
		gate:       gate,
		sessions:   sessions,
		challenges: challenges,
		store:      st,
		logger:     slog.Default(),
		state:      StateIdle,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// State returns the orchestrator's current state.
func (w *Workflow) State() State { return w.state }

// Start authenticates and establishes (or resumes) a session for the
// jurisdiction. It blocks until a terminal state is reached or ctx is
// cancelled.
func (w *Workflow) Start(ctx context.Context, jurisdiction string) error {
	ctx, w.cancel = context.WithCancel(ctx)

	w.setState(StateAuthenticating)
	if err := w.auth.Initialize(ctx); err != nil {
		w.setState(StateAuthFailed)
		return fmt.Errorf("authenticate: %w", err)
	}

	// An outstanding challenge always wins over everything else: starting
	// a second one would orphan the first.
	if id, err := w.store.LoadChallengeID(ctx); err == nil && id != "" {
		return w.resumeChallenge(ctx, id)
	} else if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("read persisted challenge id: %w", err)
	}

	if w.sessions.Load(ctx) {
		return w.checkSavedSession(ctx)
	}

	return w.runAgeGate(ctx, jurisdiction)
}

// AttemptEnableFeature requests the named permission, running a guardian
// consent round trip when required. onEnabled fires only on success.
func (w *Workflow) AttemptEnableFeature(ctx context.Context, name string, onEnabled func()) error {
	return w.sessions.AttemptEnableFeature(ctx, name, onEnabled)
}

// ClearSession wipes all local state, persisted and in-memory, and returns
// the workflow to idle. The next Start runs the full age-gate path.
func (w *Workflow) ClearSession(ctx context.Context) error {
	if err := w.sessions.Clear(ctx); err != nil {
		return err
	}
	if err := w.store.DeleteChallengeID(ctx); err != nil {
		return fmt.Errorf("clear persisted challenge id: %w", err)
	}
	w.setState(StateIdle)
	return nil
}

// Shutdown cancels any in-flight work, including a running consent poll.
// Safe to call at any point, even before Start.
func (w *Workflow) Shutdown() {
	if w.cancel != nil {
		w.cancel()
	}
}

// Snapshot reports current status for display.
func (w *Workflow) Snapshot(ctx context.Context) Snapshot {
	snap := Snapshot{State: w.state, AccessMode: w.sessions.Mode()}
	if info := w.sessions.Current(); info != nil {
		snap.SessionID = info.SessionID
		snap.AgeStatus = info.AgeStatus
	}
	if id, err := w.store.LoadChallengeID(ctx); err == nil {
		snap.ChallengeID = id
	}
	return snap
}

// TestSetChallengeStatus forces the outcome of a pending challenge through
// the service's test-only override endpoint. Development builds only.
func (w *Workflow) TestSetChallengeStatus(ctx context.Context, status, challengeID, jurisdiction string, age int) error {
	_, err := w.client.Post(ctx, "/test/set-challenge-status", w.auth.Token(), map[string]any{
		"status":       status,
		"challengeId":  challengeID,
		"jurisdiction": jurisdiction,
		"age":          age,
	})
	if err != nil {
		return fmt.Errorf("override challenge status: %w", err)
	}
	return nil
}

func (w *Workflow) setState(s State) {
	if s == w.state {
		return
	}
	w.logger.Info("workflow state changed", "from", w.state.String(), "to", s.String())
	w.state = s
	transitionsTotal.WithLabelValues(s.String()).Inc()
}

func (w *Workflow) resumeChallenge(ctx context.Context, id string) error {
	w.setState(StateResumingChallenge)
	ch, err := w.challenges.Resume(ctx, id)
	if err != nil {
		// The service no longer knows this challenge; drop it and fall
		// back to the normal paths on the next start.
		w.logger.Error("failed to resume persisted challenge", "challengeId", id, "error", err)
		if delErr := w.store.DeleteChallengeID(ctx); delErr != nil {
			return fmt.Errorf("drop unresumable challenge id: %w", delErr)
		}
		w.sessions.Downgrade()
		w.setState(StateLimited)
		return nil
	}
	return w.awaitConsent(ctx, ch)
}

func (w *Workflow) checkSavedSession(ctx context.Context) error {
	info := w.sessions.Current()
	if info.SessionID == "" {
		// A default-permissions record needs no server round trip.
		w.setState(StateEstablished)
		return nil
	}

	w.setState(StateCheckingSavedSession)
	if err := w.sessions.Refresh(ctx, info.SessionID, info.ETag); err != nil {
		// The cached copy already proved consent; a failed refresh keeps
		// it rather than punishing the player for a flaky network.
		w.logger.Warn("session refresh failed, keeping cached copy", "sessionId", info.SessionID, "error", err)
	}
	w.setState(StateEstablished)
	return nil
}

func (w *Workflow) runAgeGate(ctx context.Context, jurisdiction string) error {
	w.setState(StateRunningAgeGate)

	req, err := w.gate.Requirements(ctx, jurisdiction)
	if err != nil {
		return err
	}

	if !req.Display {
		info, err := w.gate.DefaultPermissions(ctx, jurisdiction)
		if err != nil {
			return err
		}
		if err := w.sessions.Adopt(ctx, info); err != nil {
			return err
		}
		w.setState(StateEstablished)
		return nil
	}

	if w.prompter == nil {
		return pkgerrors.New(pkgerrors.CodePrecondition, "jurisdiction requires an age gate but no prompter is configured")
	}
	dob, err := w.prompter.CollectDOB(ctx, req.ApprovedMethods)
	if err != nil {
		return fmt.Errorf("collect date of birth: %w", err)
	}

	age := agegate.AgeFromDOB(dob, w.now())
	if req.NeedsVerification(age) {
		if w.verifier == nil {
			return pkgerrors.New(pkgerrors.CodePrecondition, "jurisdiction requires age verification but no verifier is configured")
		}
		if err := w.verifier.Verify(ctx, dob); err != nil {
			w.sessions.Downgrade()
			w.setState(StateLimited)
			return fmt.Errorf("age verification: %w", err)
		}
	}

	verdict, err := w.gate.Check(ctx, jurisdiction, dob)
	if err != nil {
		return err
	}

	switch verdict.Status {
	case agegate.StatusPass:
		if err := w.sessions.Adopt(ctx, verdict.Session); err != nil {
			return err
		}
		w.setState(StateEstablished)
		return nil
	case agegate.StatusProhibited:
		w.sessions.Prohibit()
		w.setState(StateUnavailable)
		return nil
	case agegate.StatusChallenge:
		if err := w.store.SaveChallengeID(ctx, verdict.Challenge.ID); err != nil {
			return fmt.Errorf("persist challenge id: %w", err)
		}
		return w.awaitConsent(ctx, *verdict.Challenge)
	}
	return pkgerrors.Newf(pkgerrors.CodeUnknownValue, "unhandled verdict %q", verdict.Status)
}

// awaitConsent runs the coordinator loop under whatever state the caller
// set (a resumed challenge or a fresh age-gate one).
func (w *Workflow) awaitConsent(ctx context.Context, ch challenge.Challenge) error {
	res, err := w.challenges.Run(ctx, ch)
	if err != nil {
		return fmt.Errorf("await consent: %w", err)
	}

	switch res.Outcome {
	case challenge.OutcomeGranted:
		if err := w.sessions.Refresh(ctx, res.SessionID, ""); err != nil {
			return err
		}
		w.setState(StateEstablished)
		return nil
	case challenge.OutcomeAbandoned:
		// Shutdown or external reset; leave everything as it stands.
		return nil
	default:
		w.sessions.Downgrade()
		w.setState(StateLimited)
		return nil
	}
}
