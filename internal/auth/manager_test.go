package auth_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"playgate/internal/auth"
	"playgate/internal/transport"
	pkgerrors "playgate/pkg/domain-errors"
)

func writeKeyFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "apikey.txt")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestInitializeSuccess(t *testing.T) {
	var gotAuth string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]string{"accessToken": "tok-abc"})
	}))
	defer srv.Close()

	m, err := auth.New(transport.New(srv.URL), writeKeyFile(t, "key-123\n"), "client-1", auth.WithLogger(discardLogger()))
	require.NoError(t, err)

	require.NoError(t, m.Initialize(context.Background()))
	assert.Equal(t, auth.StateReady, m.State())
	assert.True(t, m.Ready())
	assert.Equal(t, "tok-abc", m.Token())
	// Key is trimmed before use and sent as the bearer credential.
	assert.Equal(t, "Bearer key-123", gotAuth)
	assert.Equal(t, map[string]string{"clientId": "client-1"}, gotBody)
}

func TestInitializeMissingKeyFileFailsFast(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no network call may be issued without an API key")
	}))
	defer srv.Close()

	m, err := auth.New(transport.New(srv.URL), filepath.Join(t.TempDir(), "missing.txt"), "client-1", auth.WithLogger(discardLogger()))
	require.NoError(t, err)

	err = m.Initialize(context.Background())
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodePrecondition))
	assert.Equal(t, auth.StateFailed, m.State())
	assert.Empty(t, m.Token())
}

func TestInitializeEmptyKeyFileFailsFast(t *testing.T) {
	m, err := auth.New(transport.New("http://unused"), writeKeyFile(t, "  \n"), "client-1", auth.WithLogger(discardLogger()))
	require.NoError(t, err)

	err = m.Initialize(context.Background())
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodePrecondition))
	assert.Equal(t, auth.StateFailed, m.State())
}

func TestInitializeServerErrorFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	m, err := auth.New(transport.New(srv.URL), writeKeyFile(t, "bad-key"), "client-1", auth.WithLogger(discardLogger()))
	require.NoError(t, err)

	require.Error(t, m.Initialize(context.Background()))
	assert.Equal(t, auth.StateFailed, m.State())
	assert.False(t, m.Ready())
}

func TestInitializeMalformedResponseFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	m, err := auth.New(transport.New(srv.URL), writeKeyFile(t, "key"), "client-1", auth.WithLogger(discardLogger()))
	require.NoError(t, err)

	require.Error(t, m.Initialize(context.Background()))
	assert.Equal(t, auth.StateFailed, m.State())
}

func TestInitializeMissingAccessTokenFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"somethingElse":"x"}`))
	}))
	defer srv.Close()

	m, err := auth.New(transport.New(srv.URL), writeKeyFile(t, "key"), "client-1", auth.WithLogger(discardLogger()))
	require.NoError(t, err)

	err = m.Initialize(context.Background())
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidInput))
}

func TestInvalidate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"accessToken": "tok"})
	}))
	defer srv.Close()

	m, err := auth.New(transport.New(srv.URL), writeKeyFile(t, "key"), "client-1", auth.WithLogger(discardLogger()))
	require.NoError(t, err)
	require.NoError(t, m.Initialize(context.Background()))

	m.Invalidate()
	assert.Empty(t, m.Token())
	assert.False(t, m.Ready())
}

func TestConstructorValidation(t *testing.T) {
	_, err := auth.New(nil, "path", "client")
	assert.Error(t, err)
	_, err = auth.New(transport.New("http://x"), "", "client")
	assert.Error(t, err)
	_, err = auth.New(transport.New("http://x"), "path", "")
	assert.Error(t, err)
}
