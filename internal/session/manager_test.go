package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"playgate/internal/challenge"
	"playgate/internal/store"
	"playgate/internal/transport"
	pkgerrors "playgate/pkg/domain-errors"
)

type staticToken string

func (s staticToken) Token() string { return string(s) }

func newManager(t *testing.T, handler http.Handler, st store.Store, opts ...Option) *Manager {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]Option{WithLogger(logger)}, opts...)
	m, err := New(transport.New(srv.URL), staticToken("tok"), st, opts...)
	require.NoError(t, err)
	return m
}

func sampleSession() *Info {
	return &Info{
		SessionID: "sess-1",
		ETag:      "etag-1",
		AgeStatus: "PASS",
		Permissions: []Permission{
			{Name: "text-chat-public", Enabled: false, ManagedBy: ManagedByGuardian},
			{Name: "ai-chat", Enabled: true, ManagedBy: ManagedByPlayer},
			{Name: "voice-chat", Enabled: false, ManagedBy: ManagedByPlayer},
			{Name: "loot-boxes", Enabled: false, ManagedBy: ManagedByProhibited},
		},
	}
}

func TestAdoptPersistsAndUnlocks(t *testing.T) {
	st := store.NewMemory()
	m := newManager(t, http.NotFoundHandler(), st)
	require.Equal(t, AccessDataLite, m.Mode())

	require.NoError(t, m.Adopt(context.Background(), sampleSession()))
	assert.Equal(t, AccessFull, m.Mode())

	blob, err := st.LoadSession(context.Background())
	require.NoError(t, err)
	saved, err := Decode(blob)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", saved.SessionID)
}

func TestLoadRestoresFullAccess(t *testing.T) {
	st := store.NewMemory()
	blob, err := json.Marshal(sampleSession())
	require.NoError(t, err)
	require.NoError(t, st.SaveSession(context.Background(), blob))

	m := newManager(t, http.NotFoundHandler(), st)
	require.True(t, m.Load(context.Background()))
	assert.Equal(t, AccessFull, m.Mode())
	assert.Equal(t, "sess-1", m.Current().SessionID)

	// Load is idempotent.
	require.True(t, m.Load(context.Background()))
	assert.Equal(t, "sess-1", m.Current().SessionID)
}

func TestLoadMissingBlob(t *testing.T) {
	m := newManager(t, http.NotFoundHandler(), store.NewMemory())
	assert.False(t, m.Load(context.Background()))
	assert.Equal(t, AccessDataLite, m.Mode())
	assert.Nil(t, m.Current())
}

func TestLoadCorruptBlobReadsAsAbsent(t *testing.T) {
	st := store.NewMemory()
	require.NoError(t, st.SaveSession(context.Background(), []byte("{truncated")))

	m := newManager(t, http.NotFoundHandler(), st)
	assert.False(t, m.Load(context.Background()))
	assert.Nil(t, m.Current())
}

func TestLoadRejectsUnknownManagedBy(t *testing.T) {
	st := store.NewMemory()
	blob := []byte(`{"sessionId":"s","permissions":[{"name":"x","managedBy":"COMMITTEE"}]}`)
	require.NoError(t, st.SaveSession(context.Background(), blob))

	m := newManager(t, http.NotFoundHandler(), st)
	assert.False(t, m.Load(context.Background()))
}

func TestClearDropsToDataLite(t *testing.T) {
	st := store.NewMemory()
	m := newManager(t, http.NotFoundHandler(), st)
	require.NoError(t, m.Adopt(context.Background(), sampleSession()))

	require.NoError(t, m.Clear(context.Background()))
	assert.Nil(t, m.Current())
	assert.Equal(t, AccessDataLite, m.Mode())

	_, err := st.LoadSession(context.Background())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRefreshNotModifiedKeepsCachedCopy(t *testing.T) {
	st := store.NewMemory()
	m := newManager(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/session/get", r.URL.Path)
		assert.Equal(t, "sess-1", r.URL.Query().Get("sessionId"))
		assert.Equal(t, "etag-1", r.URL.Query().Get("etag"))
		w.WriteHeader(http.StatusNotModified)
	}), st)
	require.NoError(t, m.Adopt(context.Background(), sampleSession()))
	before, err := st.LoadSession(context.Background())
	require.NoError(t, err)

	require.NoError(t, m.Refresh(context.Background(), "sess-1", "etag-1"))
	assert.Equal(t, "etag-1", m.Current().ETag)
	assert.Equal(t, AccessFull, m.Mode())

	// 304 must not trigger a re-save.
	after, err := st.LoadSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRefreshOverwritesAndPersists(t *testing.T) {
	st := store.NewMemory()
	m := newManager(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Info{
			SessionID:   "sess-1",
			ETag:        "etag-2",
			Permissions: []Permission{{Name: "voice-chat", Enabled: true, ManagedBy: ManagedByPlayer}},
		})
	}), st)
	require.NoError(t, m.Adopt(context.Background(), sampleSession()))

	require.NoError(t, m.Refresh(context.Background(), "sess-1", "etag-1"))
	require.NotNil(t, m.Current())
	assert.Equal(t, "etag-2", m.Current().ETag)
	require.Len(t, m.Current().Permissions, 1)

	blob, err := st.LoadSession(context.Background())
	require.NoError(t, err)
	saved, err := Decode(blob)
	require.NoError(t, err)
	assert.Equal(t, "etag-2", saved.ETag)
}

func TestRefreshTransportFailure(t *testing.T) {
	m := newManager(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}), store.NewMemory())

	err := m.Refresh(context.Background(), "sess-1", "")
	require.Error(t, err)
	var statusErr *transport.StatusError
	assert.True(t, errors.As(err, &statusErr))
}

func TestProhibitAndDowngrade(t *testing.T) {
	m := newManager(t, http.NotFoundHandler(), store.NewMemory())
	m.Prohibit()
	assert.Equal(t, AccessNone, m.Mode())
	m.Downgrade()
	assert.Equal(t, AccessDataLite, m.Mode())
}

func TestFindPermission(t *testing.T) {
	m := newManager(t, http.NotFoundHandler(), store.NewMemory())
	assert.Nil(t, m.FindPermission("text-chat-public"), "no session yet")

	require.NoError(t, m.Adopt(context.Background(), sampleSession()))
	perm := m.FindPermission("voice-chat")
	require.NotNil(t, perm)
	assert.Equal(t, ManagedByPlayer, perm.ManagedBy)
	assert.Nil(t, m.FindPermission("nonexistent"))
}

func TestAttemptEnableFeatureAbsentIsNoOp(t *testing.T) {
	m := newManager(t, http.NotFoundHandler(), store.NewMemory())
	require.NoError(t, m.Adopt(context.Background(), sampleSession()))

	called := false
	require.NoError(t, m.AttemptEnableFeature(context.Background(), "nonexistent", func() { called = true }))
	assert.False(t, called)
}

func TestAttemptEnableFeatureAlreadyEnabled(t *testing.T) {
	m := newManager(t, http.NotFoundHandler(), store.NewMemory())
	require.NoError(t, m.Adopt(context.Background(), sampleSession()))

	called := false
	require.NoError(t, m.AttemptEnableFeature(context.Background(), "ai-chat", func() { called = true }))
	assert.False(t, called, "already-enabled features must not re-fire the callback")
}

func TestAttemptEnableFeatureProhibited(t *testing.T) {
	m := newManager(t, http.NotFoundHandler(), store.NewMemory())
	require.NoError(t, m.Adopt(context.Background(), sampleSession()))

	called := false
	require.NoError(t, m.AttemptEnableFeature(context.Background(), "loot-boxes", func() { called = true }))
	assert.False(t, called)
	assert.False(t, m.FindPermission("loot-boxes").Enabled)
}

func TestAttemptEnableFeaturePlayerManaged(t *testing.T) {
	st := store.NewMemory()
	m := newManager(t, http.NotFoundHandler(), st)
	require.NoError(t, m.Adopt(context.Background(), sampleSession()))

	called := false
	require.NoError(t, m.AttemptEnableFeature(context.Background(), "voice-chat", func() { called = true }))
	assert.True(t, called)
	assert.True(t, m.FindPermission("voice-chat").Enabled)

	// The flip is persisted, not just in memory.
	blob, err := st.LoadSession(context.Background())
	require.NoError(t, err)
	saved, err := Decode(blob)
	require.NoError(t, err)
	assert.True(t, saved.FindPermission("voice-chat").Enabled)
}

func TestAttemptEnableFeatureGuardianAutoApproved(t *testing.T) {
	st := store.NewMemory()
	var upgradeBody map[string]any
	m := newManager(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/session/upgrade", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&upgradeBody))
		updated := sampleSession()
		updated.ETag = "etag-2"
		updated.FindPermission("text-chat-public").Enabled = true
		json.NewEncoder(w).Encode(map[string]any{"session": updated})
	}), st)
	require.NoError(t, m.Adopt(context.Background(), sampleSession()))

	called := false
	require.NoError(t, m.AttemptEnableFeature(context.Background(), "text-chat-public", func() { called = true }))
	assert.True(t, called)
	assert.True(t, m.FindPermission("text-chat-public").Enabled)
	assert.Equal(t, "etag-2", m.Current().ETag)

	assert.Equal(t, "sess-1", upgradeBody["sessionId"])
	assert.Equal(t, []any{map[string]any{"name": "text-chat-public"}}, upgradeBody["requestedPermissions"])
}

type stubResolver struct {
	ch     challenge.Challenge
	result challenge.Result
	err    error
}

func (r *stubResolver) Resolve(_ context.Context, ch challenge.Challenge) (challenge.Result, error) {
	r.ch = ch
	return r.result, r.err
}

func TestAttemptEnableFeatureGuardianChallengeGranted(t *testing.T) {
	st := store.NewMemory()
	resolver := &stubResolver{result: challenge.Result{Outcome: challenge.OutcomeGranted, SessionID: "sess-1"}}
	m := newManager(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/session/upgrade":
			json.NewEncoder(w).Encode(map[string]string{
				"challengeId":     "ch-42",
				"oneTimePassword": "111222",
				"url":             "https://verify.example/ch-42",
			})
		case "/session/get":
			updated := sampleSession()
			updated.FindPermission("text-chat-public").Enabled = true
			json.NewEncoder(w).Encode(updated)
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}), st, WithChallengeResolver(resolver))
	require.NoError(t, m.Adopt(context.Background(), sampleSession()))

	called := false
	require.NoError(t, m.AttemptEnableFeature(context.Background(), "text-chat-public", func() { called = true }))
	assert.True(t, called)
	assert.True(t, m.FindPermission("text-chat-public").Enabled)

	// The challenge fields are handed to the resolver verbatim, and the id
	// is persisted before resolution starts.
	assert.Equal(t, "ch-42", resolver.ch.ID)
	assert.Equal(t, "111222", resolver.ch.OneTimePassword)
}

func TestAttemptEnableFeatureGuardianChallengeDenied(t *testing.T) {
	resolver := &stubResolver{result: challenge.Result{Outcome: challenge.OutcomeDenied}}
	m := newManager(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"challengeId": "ch-42"})
	}), store.NewMemory(), WithChallengeResolver(resolver))
	require.NoError(t, m.Adopt(context.Background(), sampleSession()))

	called := false
	require.NoError(t, m.AttemptEnableFeature(context.Background(), "text-chat-public", func() { called = true }))
	assert.False(t, called)
	assert.False(t, m.FindPermission("text-chat-public").Enabled)
}

func TestAttemptEnableFeatureGuardianWithoutResolver(t *testing.T) {
	m := newManager(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"challengeId": "ch-42"})
	}), store.NewMemory())
	require.NoError(t, m.Adopt(context.Background(), sampleSession()))

	err := m.AttemptEnableFeature(context.Background(), "text-chat-public", nil)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodePrecondition))
}

func TestSaveWithoutSession(t *testing.T) {
	m := newManager(t, http.NotFoundHandler(), store.NewMemory())
	err := m.Save(context.Background())
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodePrecondition))
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
