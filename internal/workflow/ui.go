package workflow

import "context"

// AgeGatePrompter collects a date of birth from the player using one of
// the jurisdiction's approved methods. Implementations own the widget; the
// orchestrator only sees the resulting string ("2012-04-01", "2012" etc).
type AgeGatePrompter interface {
	CollectDOB(ctx context.Context, approvedMethods []string) (string, error)
}

// AgeVerifier runs identity-backed age verification for the collected
// date of birth. The mechanism is opaque to the orchestrator; an error
// means the claimed age could not be substantiated.
type AgeVerifier interface {
	Verify(ctx context.Context, dateOfBirth string) error
}
