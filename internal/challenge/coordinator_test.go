package challenge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"playgate/internal/auth"
	"playgate/internal/store"
	"playgate/internal/transport"
)

type staticToken string

func (s staticToken) Token() string { return string(s) }

var _ auth.TokenSource = staticToken("")

// fakeClock advances by the slept duration so poll loops run instantly.
type fakeClock struct {
	t time.Time
}

func (f *fakeClock) now() time.Time { return f.t }

func (f *fakeClock) sleep(ctx context.Context, d time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	f.t = f.t.Add(d)
	return nil
}

func newCoordinator(t *testing.T, handler http.Handler, st store.Store, opts ...Option) (*Coordinator, *fakeClock) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]Option{WithLogger(logger)}, opts...)
	c, err := New(transport.New(srv.URL), staticToken("tok"), st, opts...)
	require.NoError(t, err)

	clock := &fakeClock{t: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	c.now = clock.now
	c.sleep = clock.sleep
	return c, clock
}

func persistedChallenge(t *testing.T, st store.Store, id string) Challenge {
	t.Helper()
	require.NoError(t, st.SaveChallengeID(context.Background(), id))
	return Challenge{ID: id, OneTimePassword: "123456", URL: "https://verify.example/ch"}
}

func awaitResponse(status, sessionID string) []byte {
	b, _ := json.Marshal(map[string]string{"status": status, "sessionId": sessionID})
	return b
}

func TestRunGranted(t *testing.T) {
	st := store.NewMemory()
	polls := 0
	c, _ := newCoordinator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		polls++
		assert.Equal(t, "ch-1", r.URL.Query().Get("challengeId"))
		assert.Equal(t, "1", r.URL.Query().Get("timeout"))
		if polls < 3 {
			w.Write(awaitResponse("PENDING", ""))
			return
		}
		w.Write(awaitResponse("PASS", "sess-9"))
	}), st)

	res, err := c.Run(context.Background(), persistedChallenge(t, st, "ch-1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeGranted, res.Outcome)
	assert.Equal(t, "sess-9", res.SessionID)
	assert.Equal(t, 3, polls)

	// Resolution clears the persisted id.
	_, err = st.LoadChallengeID(context.Background())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunDenied(t *testing.T) {
	st := store.NewMemory()
	c, _ := newCoordinator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(awaitResponse("FAIL", ""))
	}), st)

	res, err := c.Run(context.Background(), persistedChallenge(t, st, "ch-1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDenied, res.Outcome)
	assert.False(t, res.Outcome.Granted())

	_, err = st.LoadChallengeID(context.Background())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunTimeoutCeiling(t *testing.T) {
	st := store.NewMemory()
	polls := 0
	c, clock := newCoordinator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		polls++
		w.Write(awaitResponse("PENDING", ""))
	}), st)
	start := clock.t

	res, err := c.Run(context.Background(), persistedChallenge(t, st, "ch-1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeTimedOut, res.Outcome)
	// 1s cadence against a 300s ceiling: the loop polls once per elapsed
	// second and stops issuing polls once elapsed reaches the ceiling.
	assert.Equal(t, 300, polls)
	assert.Equal(t, 300*time.Second, clock.t.Sub(start))

	_, err = st.LoadChallengeID(context.Background())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunAbandonedWhenChallengeIDCleared(t *testing.T) {
	st := store.NewMemory()
	var cleared atomic.Bool
	c, _ := newCoordinator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Simulate an external session reset racing the in-flight poll.
		if !cleared.Swap(true) {
			require.NoError(t, st.DeleteChallengeID(r.Context()))
		}
		w.Write(awaitResponse("PASS", "sess-9"))
	}), st)

	res, err := c.Run(context.Background(), persistedChallenge(t, st, "ch-1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAbandoned, res.Outcome)
	assert.Empty(t, res.SessionID, "an abandoned poll must not deliver a session")
}

func TestRunAbandonedOnShutdown(t *testing.T) {
	st := store.NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	c, _ := newCoordinator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cancel()
		w.Write(awaitResponse("PENDING", ""))
	}), st)

	res, err := c.Run(ctx, persistedChallenge(t, st, "ch-1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAbandoned, res.Outcome)

	// Abandonment is not a resolution: the persisted id survives so the
	// next run can resume it.
	id, err := st.LoadChallengeID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ch-1", id)
}

func TestRunDeniesOnTransportFailure(t *testing.T) {
	st := store.NewMemory()
	c, _ := newCoordinator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}), st)

	res, err := c.Run(context.Background(), persistedChallenge(t, st, "ch-1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDenied, res.Outcome)
}

func TestRunUndecodableBodyRetries(t *testing.T) {
	st := store.NewMemory()
	polls := 0
	c, _ := newCoordinator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		polls++
		if polls == 1 {
			w.Write([]byte("not json"))
			return
		}
		w.Write(awaitResponse("PASS", "sess-1"))
	}), st)

	res, err := c.Run(context.Background(), persistedChallenge(t, st, "ch-1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeGranted, res.Outcome)
	assert.Equal(t, 2, polls)
}

type recordingNotifier struct {
	ch    Challenge
	email string
	err   error
}

func (n *recordingNotifier) Notify(_ context.Context, ch Challenge) (string, error) {
	n.ch = ch
	return n.email, n.err
}

func TestRunNotifiesAndSendsEmail(t *testing.T) {
	st := store.NewMemory()
	var emailBody map[string]string
	c, _ := newCoordinator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/challenge/send-email" {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&emailBody))
			w.Write([]byte(`{}`))
			return
		}
		w.Write(awaitResponse("PASS", "sess-1"))
	}), st)
	notifier := &recordingNotifier{email: "guardian@example.com"}
	c.notifier = notifier

	ch := persistedChallenge(t, st, "ch-1")
	_, err := c.Run(context.Background(), ch)
	require.NoError(t, err)

	assert.Equal(t, "ch-1", notifier.ch.ID)
	assert.Equal(t, "123456", notifier.ch.OneTimePassword)
	assert.Equal(t, map[string]string{"email": "guardian@example.com", "challengeId": "ch-1"}, emailBody)
}

func TestRunEmailFailureIsNotFatal(t *testing.T) {
	st := store.NewMemory()
	c, _ := newCoordinator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/challenge/send-email" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write(awaitResponse("PASS", "sess-1"))
	}), st)
	c.notifier = &recordingNotifier{email: "guardian@example.com"}

	res, err := c.Run(context.Background(), persistedChallenge(t, st, "ch-1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeGranted, res.Outcome)
}

func TestResume(t *testing.T) {
	st := store.NewMemory()
	c, _ := newCoordinator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/challenge/get", r.URL.Path)
		assert.Equal(t, "ch-7", r.URL.Query().Get("challengeId"))
		w.Write([]byte(`{"oneTimePassword":"654321","url":"https://verify.example/ch-7"}`))
	}), st)

	ch, err := c.Resume(context.Background(), "ch-7")
	require.NoError(t, err)
	assert.Equal(t, "ch-7", ch.ID)
	assert.Equal(t, "654321", ch.OneTimePassword)
	assert.Equal(t, "https://verify.example/ch-7", ch.URL)
	assert.False(t, ch.CreatedAt.IsZero())
}

func TestResumeTransportFailure(t *testing.T) {
	st := store.NewMemory()
	c, _ := newCoordinator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}), st)

	_, err := c.Resume(context.Background(), "ch-7")
	require.Error(t, err)
	var statusErr *transport.StatusError
	assert.True(t, errors.As(err, &statusErr))
}

func TestConstructorValidation(t *testing.T) {
	st := store.NewMemory()
	_, err := New(nil, staticToken("t"), st)
	assert.Error(t, err)
	_, err = New(transport.New("http://x"), nil, st)
	assert.Error(t, err)
	_, err = New(transport.New("http://x"), staticToken("t"), nil)
	assert.Error(t, err)
}
