// Package agegate asks the service what a jurisdiction requires, runs the
// age check, and classifies the verdict.
package agegate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"

	"playgate/internal/auth"
	"playgate/internal/challenge"
	"playgate/internal/session"
	"playgate/internal/transport"
	pkgerrors "playgate/pkg/domain-errors"
)

// Requirements describes what a jurisdiction demands before play.
type Requirements struct {
	Display              bool     `json:"display"`
	AgeAssuranceRequired bool     `json:"ageAssuranceRequired"`
	ApprovedMethods      []string `json:"approvedMethods"`
	DigitalConsentAge    int      `json:"digitalConsentAge"`
}

// NeedsVerification reports whether the given computed age must go through
// identity-backed age verification. Players below the digital consent age
// skip it entirely: they cannot consent on their own, so the guardian
// consent path applies regardless of what verification would say.
func (r Requirements) NeedsVerification(age int) bool {
	return r.AgeAssuranceRequired && age >= r.DigitalConsentAge
}

// Status is the terminal verdict of an age check. It is a closed enum;
// an unrecognized value fails the decode.
type Status string

const (
	StatusPass       Status = "PASS"
	StatusChallenge  Status = "CHALLENGE"
	StatusProhibited Status = "PROHIBITED"
)

func (s *Status) UnmarshalJSON(data []byte) error {
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch Status(v) {
	case StatusPass, StatusChallenge, StatusProhibited:
		*s = Status(v)
		return nil
	}
	return pkgerrors.Newf(pkgerrors.CodeUnknownValue, "unrecognized age check status %q", v)
}

// Verdict is the decoded outcome of an age check. Session is set for PASS,
// Challenge for CHALLENGE, neither for PROHIBITED.
type Verdict struct {
	Status    Status
	Session   *session.Info
	Challenge *challenge.Challenge
}

// Engine runs the jurisdiction requirement lookup and the age check.
type Engine struct {
	client *transport.Client
	tokens auth.TokenSource
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// New builds an Engine.
func New(client *transport.Client, tokens auth.TokenSource, opts ...Option) (*Engine, error) {
	if client == nil {
		return nil, fmt.Errorf("transport client is required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token source is required")
	}
	e := &Engine{client: client, tokens: tokens, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Requirements fetches the jurisdiction's age-gate requirements.
func (e *Engine) Requirements(ctx context.Context, jurisdiction string) (Requirements, error) {
	path := "/age-gate/get-requirements?jurisdiction=" + url.QueryEscape(jurisdiction)
	resp, err := e.client.Get(ctx, path, e.tokens.Token())
	if err != nil {
		return Requirements{}, fmt.Errorf("fetch age gate requirements for %s: %w", jurisdiction, err)
	}
	var req Requirements
	if err := json.Unmarshal(resp.Body, &req); err != nil {
		return Requirements{}, fmt.Errorf("decode age gate requirements: %w", err)
	}
	return req, nil
}

// Check submits the player's date of birth and jurisdiction and decodes
// the terminal verdict.
func (e *Engine) Check(ctx context.Context, jurisdiction, dateOfBirth string) (Verdict, error) {
	resp, err := e.client.Post(ctx, "/age-gate/check", e.tokens.Token(), map[string]string{
		"dateOfBirth":  dateOfBirth,
		"jurisdiction": jurisdiction,
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("age gate check for %s: %w", jurisdiction, err)
	}

	var body struct {
		Status          Status        `json:"status"`
		Session         *session.Info `json:"session"`
		ChallengeID     string        `json:"challengeId"`
		OneTimePassword string        `json:"oneTimePassword"`
		URL             string        `json:"url"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return Verdict{}, fmt.Errorf("decode age gate verdict: %w", err)
	}
	checksTotal.WithLabelValues(string(body.Status)).Inc()

	v := Verdict{Status: body.Status}
	switch body.Status {
	case StatusPass:
		if body.Session == nil {
			return Verdict{}, pkgerrors.New(pkgerrors.CodeInvalidInput, "PASS verdict without a session")
		}
		v.Session = body.Session
	case StatusChallenge:
		if body.ChallengeID == "" {
			return Verdict{}, pkgerrors.New(pkgerrors.CodeInvalidInput, "CHALLENGE verdict without a challenge id")
		}
		v.Challenge = &challenge.Challenge{
			ID:              body.ChallengeID,
			OneTimePassword: body.OneTimePassword,
			URL:             body.URL,
		}
	case StatusProhibited:
		e.logger.Warn("play is prohibited for this age in jurisdiction", "jurisdiction", jurisdiction)
	}
	return v, nil
}

// DefaultPermissions fetches the permission set of a jurisdiction that
// needs no age gate, using the adult default date of birth.
func (e *Engine) DefaultPermissions(ctx context.Context, jurisdiction string) (*session.Info, error) {
	path := fmt.Sprintf("/age-gate/get-default-permissions?jurisdiction=%s&dateOfBirth=%s",
		url.QueryEscape(jurisdiction), DefaultAdultDOB)
	resp, err := e.client.Get(ctx, path, e.tokens.Token())
	if err != nil {
		return nil, fmt.Errorf("fetch default permissions for %s: %w", jurisdiction, err)
	}
	info, err := session.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decode default permissions: %w", err)
	}
	return info, nil
}
