package config

import (
	"os"
	"strconv"
	"time"
)

// Workflow captures everything the client-side workflow needs to talk to the
// age-assurance service and persist state between runs.
type Workflow struct {
	// ServiceURL is the base URL of the age-assurance API, including the
	// /api/v1 prefix.
	ServiceURL string
	// ClientID identifies this title to the service when exchanging the
	// API key for a bearer token.
	ClientID string
	// APIKeyPath points at a file holding the API key. The key is trimmed
	// of trailing whitespace on load.
	APIKeyPath string
	// StateDir is where the file-backed store keeps the session blob and
	// pending challenge id.
	StateDir string

	// RedisURL and PostgresURL select alternative state stores when set.
	RedisURL    string
	PostgresURL string

	// ConsentTimeout bounds the total wall-clock wait for guardian consent.
	ConsentTimeout time.Duration
	// PollInterval is the pause between consent polls.
	PollInterval time.Duration
	// AwaitTimeout is the server-side long-poll timeout, in seconds,
	// passed on the /challenge/await query string. Kept short so local
	// cancellation stays responsive; the overall SLA is ConsentTimeout.
	AwaitTimeout int
}

// Server configures the local stub service.
type Server struct {
	Addr string
	// APIKey is the plaintext key the stub accepts; hashed at startup.
	APIKey string
	// TokenSigningKey signs the HS256 bearer tokens the stub issues.
	TokenSigningKey string
}

// FromEnv builds a Workflow config from environment variables so main stays
// lean.
func FromEnv() Workflow {
	return Workflow{
		ServiceURL:     envOr("PLAYGATE_SERVICE_URL", "http://localhost:8080/api/v1"),
		ClientID:       envOr("PLAYGATE_CLIENT_ID", "12345678-1234-1234-1234-123456789012"),
		APIKeyPath:     envOr("PLAYGATE_API_KEY_PATH", "apikey.txt"),
		StateDir:       envOr("PLAYGATE_STATE_DIR", "."),
		RedisURL:       os.Getenv("PLAYGATE_REDIS_URL"),
		PostgresURL:    os.Getenv("PLAYGATE_POSTGRES_URL"),
		ConsentTimeout: envDurationOr("PLAYGATE_CONSENT_TIMEOUT", 300*time.Second),
		PollInterval:   envDurationOr("PLAYGATE_POLL_INTERVAL", time.Second),
		AwaitTimeout:   envIntOr("PLAYGATE_AWAIT_TIMEOUT", 1),
	}
}

// ServerFromEnv builds a stub service config from environment variables.
func ServerFromEnv() Server {
	return Server{
		Addr:            envOr("PLAYGATE_STUB_ADDR", ":8080"),
		APIKey:          envOr("PLAYGATE_STUB_API_KEY", "dev-api-key"),
		TokenSigningKey: envOr("PLAYGATE_STUB_SIGNING_KEY", "dev-secret-key-change-in-production"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
