// Package store persists the two pieces of workflow state that must survive
// restarts: the session blob and the id of a pending consent challenge.
// The challenge id lives outside the session blob on purpose: it must
// survive the window where consent is pending but no session exists yet.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record has never been written or was
// deleted. Callers treat it as "no saved state", never as a failure.
var ErrNotFound = errors.New("store: not found")

// Store is interface-driven so the workflow can run against in-memory,
// file-based, or external persistence without rewiring business code.
// Writes are whole-blob overwrites; no transactional guarantee beyond that
// is provided.
type Store interface {
	SaveSession(ctx context.Context, blob []byte) error
	LoadSession(ctx context.Context) ([]byte, error)
	DeleteSession(ctx context.Context) error

	SaveChallengeID(ctx context.Context, id string) error
	LoadChallengeID(ctx context.Context) (string, error)
	DeleteChallengeID(ctx context.Context) error
}
