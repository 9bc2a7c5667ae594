// Package challenge drives a parental-consent challenge from creation to
// resolution: notify a guardian out-of-band, then poll the service until
// the challenge passes, fails, or times out.
package challenge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"playgate/internal/auth"
	"playgate/internal/store"
	"playgate/internal/transport"
)

const (
	defaultTimeout      = 300 * time.Second
	defaultPollInterval = time.Second
	// defaultAwaitTimeout is the server-side long-poll wait in seconds.
	// Kept short so local cancellation checks stay frequent; the overall
	// consent SLA is the coordinator timeout, not this value.
	defaultAwaitTimeout = 1
)

// Challenge is the transient state of one pending consent request. It is
// destroyed when the polling loop terminates.
type Challenge struct {
	ID              string
	OneTimePassword string
	URL             string
	CreatedAt       time.Time
}

// Outcome is the terminal state of a challenge.
type Outcome int

const (
	// OutcomeGranted means the guardian approved; Result.SessionID is set.
	OutcomeGranted Outcome = iota
	// OutcomeDenied means the guardian refused.
	OutcomeDenied
	// OutcomeTimedOut means nobody responded within the ceiling. Callers
	// treat it exactly like OutcomeDenied.
	OutcomeTimedOut
	// OutcomeAbandoned means the challenge stopped mattering mid-poll:
	// the workflow was shut down or the persisted challenge id was
	// cleared externally. No caller-visible resolution happens.
	OutcomeAbandoned
)

func (o Outcome) String() string {
	switch o {
	case OutcomeGranted:
		return "granted"
	case OutcomeDenied:
		return "denied"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeAbandoned:
		return "abandoned"
	}
	return "unknown"
}

// Granted reports whether the outcome unlocks the session.
func (o Outcome) Granted() bool { return o == OutcomeGranted }

// Result is what a finished polling loop hands back.
type Result struct {
	Outcome   Outcome
	SessionID string
}

// Notifier presents the one-time password and verification URL to a human
// and may return a guardian email address to notify. Implementations live
// in the UI layer.
type Notifier interface {
	Notify(ctx context.Context, ch Challenge) (email string, err error)
}

// Coordinator runs consent challenges. One challenge is active at a time;
// the persisted challenge id in the store is the liveness signal.
type Coordinator struct {
	client   *transport.Client
	tokens   auth.TokenSource
	store    store.Store
	notifier Notifier
	logger   *slog.Logger

	timeout      time.Duration
	pollInterval time.Duration
	awaitTimeout int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// WithNotifier installs the out-of-band guardian notification hook.
func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) { c.notifier = n }
}

// WithTimeout overrides the overall consent ceiling.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.timeout = d }
}

// WithPollInterval overrides the pause between polls.
func WithPollInterval(d time.Duration) Option {
	return func(c *Coordinator) { c.pollInterval = d }
}

// WithAwaitTimeout overrides the server-side long-poll wait in seconds.
func WithAwaitTimeout(seconds int) Option {
	return func(c *Coordinator) { c.awaitTimeout = seconds }
}

// New builds a Coordinator.
func New(client *transport.Client, tokens auth.TokenSource, st store.Store, opts ...Option) (*Coordinator, error) {
	if client == nil {
		return nil, fmt.Errorf("transport client is required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token source is required")
	}
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	c := &Coordinator{
		client:       client,
		tokens:       tokens,
		store:        st,
		logger:       slog.Default(),
		timeout:      defaultTimeout,
		pollInterval: defaultPollInterval,
		awaitTimeout: defaultAwaitTimeout,
		now:          time.Now,
		sleep:        sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Run notifies the guardian and polls until the challenge resolves. The
// persisted challenge id is cleared on every terminal outcome except
// abandonment.
func (c *Coordinator) Run(ctx context.Context, ch Challenge) (Result, error) {
	created := ch.CreatedAt
	if created.IsZero() {
		created = c.now()
	}

	c.notify(ctx, ch)

	for {
		if !c.alive(ctx, ch.ID) {
			return Result{Outcome: OutcomeAbandoned}, nil
		}
		if c.now().Sub(created) >= c.timeout {
			c.logger.Warn("consent wait ceiling reached", "challengeId", ch.ID, "timeout", c.timeout)
			return c.resolve(ctx, ch, Result{Outcome: OutcomeTimedOut}), nil
		}

		status, sessionID, pollErr := c.poll(ctx, ch.ID)
		pollsTotal.Inc()

		// The answer may have arrived after shutdown or after an
		// external reset; in either case it no longer belongs to anyone.
		if !c.alive(ctx, ch.ID) {
			return Result{Outcome: OutcomeAbandoned}, nil
		}

		switch {
		case pollErr != nil:
			c.logger.Error("consent poll failed", "challengeId", ch.ID, "error", pollErr)
			return c.resolve(ctx, ch, Result{Outcome: OutcomeDenied}), nil
		case status == "PASS":
			return c.resolve(ctx, ch, Result{Outcome: OutcomeGranted, SessionID: sessionID}), nil
		case status == "FAIL":
			return c.resolve(ctx, ch, Result{Outcome: OutcomeDenied}), nil
		}

		if err := c.sleep(ctx, c.pollInterval); err != nil {
			return Result{Outcome: OutcomeAbandoned}, nil
		}
	}
}

// Resolve runs the challenge to a terminal outcome. It exists so the
// Coordinator can be plugged in wherever a resolver is expected.
func (c *Coordinator) Resolve(ctx context.Context, ch Challenge) (Result, error) {
	return c.Run(ctx, ch)
}

// Resume re-fetches the display fields of a previously persisted challenge
// so an interrupted consent flow can continue instead of starting a
// duplicate.
func (c *Coordinator) Resume(ctx context.Context, challengeID string) (Challenge, error) {
	resp, err := c.client.Get(ctx, "/challenge/get?challengeId="+url.QueryEscape(challengeID), c.tokens.Token())
	if err != nil {
		return Challenge{}, fmt.Errorf("fetch challenge %s: %w", challengeID, err)
	}

	var body struct {
		OneTimePassword string `json:"oneTimePassword"`
		URL             string `json:"url"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return Challenge{}, fmt.Errorf("decode challenge %s: %w", challengeID, err)
	}

	return Challenge{
		ID:              challengeID,
		OneTimePassword: body.OneTimePassword,
		URL:             body.URL,
		CreatedAt:       c.now(),
	}, nil
}

// SendEmail asks the service to notify a guardian by email. Failures are
// reported but never abort a running consent wait.
func (c *Coordinator) SendEmail(ctx context.Context, challengeID, email string) error {
	_, err := c.client.Post(ctx, "/challenge/send-email", c.tokens.Token(), map[string]string{
		"email":       email,
		"challengeId": challengeID,
	})
	if err != nil {
		return fmt.Errorf("send challenge email: %w", err)
	}
	return nil
}

func (c *Coordinator) notify(ctx context.Context, ch Challenge) {
	if c.notifier == nil {
		return
	}
	email, err := c.notifier.Notify(ctx, ch)
	if err != nil {
		c.logger.Warn("challenge notification failed", "challengeId", ch.ID, "error", err)
		return
	}
	if email == "" {
		return
	}
	if err := c.SendEmail(ctx, ch.ID, email); err != nil {
		c.logger.Warn("challenge email failed", "challengeId", ch.ID, "error", err)
	}
}

// poll issues one long-poll. An inconclusive answer (pending status or an
// undecodable body) returns empty status with nil error.
func (c *Coordinator) poll(ctx context.Context, challengeID string) (status, sessionID string, err error) {
	path := fmt.Sprintf("/challenge/await?challengeId=%s&timeout=%d", url.QueryEscape(challengeID), c.awaitTimeout)
	resp, err := c.client.Get(ctx, path, c.tokens.Token())
	if err != nil {
		return "", "", err
	}

	var body struct {
		Status    string `json:"status"`
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return "", "", nil
	}
	if body.Status == "PASS" || body.Status == "FAIL" {
		return body.Status, body.SessionID, nil
	}
	return "", "", nil
}

// alive reports whether this challenge should keep polling: the workflow
// context is intact and the persisted challenge id has not been cleared
// from under us.
func (c *Coordinator) alive(ctx context.Context, challengeID string) bool {
	if ctx.Err() != nil {
		c.logger.Warn("consent poll abandoned after shutdown", "challengeId", challengeID)
		return false
	}
	id, err := c.store.LoadChallengeID(ctx)
	if errors.Is(err, store.ErrNotFound) || (err == nil && id != challengeID) {
		c.logger.Warn("challenge id was cleared while waiting for consent", "challengeId", challengeID)
		return false
	}
	return true
}

func (c *Coordinator) resolve(ctx context.Context, ch Challenge, res Result) Result {
	outcomesTotal.WithLabelValues(res.Outcome.String()).Inc()
	if err := c.store.DeleteChallengeID(ctx); err != nil {
		c.logger.Error("failed to clear resolved challenge id", "challengeId", ch.ID, "error", err)
	}
	c.logger.Info("consent challenge resolved", "challengeId", ch.ID, "outcome", res.Outcome.String())
	return res
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
