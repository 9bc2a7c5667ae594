// Command playgate walks one player through the full age-verification and
// consent flow against a running service, then tries to turn on a feature.
package main

import (
	"bufio"
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	_ "github.com/lib/pq"

	"playgate/internal/agegate"
	"playgate/internal/auth"
	"playgate/internal/challenge"
	"playgate/internal/platform/config"
	"playgate/internal/platform/logger"
	platformredis "playgate/internal/platform/redis"
	"playgate/internal/session"
	"playgate/internal/store"
	"playgate/internal/transport"
	"playgate/internal/workflow"
)

func main() {
	log := logger.New()
	if err := run(log); err != nil {
		log.Error("playgate exited", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	cfg := config.FromEnv()
	var (
		jurisdiction  = flag.String("jurisdiction", "us-ca", "jurisdiction code for this player")
		dob           = flag.String("dob", "", "date of birth (ISO date or bare year); prompts when empty")
		stateDir      = flag.String("state-dir", cfg.StateDir, "directory for the file-backed state store")
		feature       = flag.String("feature", "text-chat-public", "permission to request once the session is up")
		guardianEmail = flag.String("guardian-email", "", "email to notify when consent is needed")
		reset         = flag.Bool("reset", false, "clear saved session and challenge state before starting")
	)
	flag.Parse()

	st, cleanup, err := newStore(cfg, *stateDir)
	if err != nil {
		return err
	}
	defer cleanup()

	client := transport.New(cfg.ServiceURL, transport.WithLogger(log))
	authMgr, err := auth.New(client, cfg.APIKeyPath, cfg.ClientID, auth.WithLogger(log))
	if err != nil {
		return err
	}
	gate, err := agegate.New(client, authMgr, agegate.WithLogger(log))
	if err != nil {
		return err
	}
	challenges, err := challenge.New(client, authMgr, st,
		challenge.WithLogger(log),
		challenge.WithNotifier(&consoleNotifier{email: *guardianEmail}),
		challenge.WithTimeout(cfg.ConsentTimeout),
		challenge.WithPollInterval(cfg.PollInterval),
		challenge.WithAwaitTimeout(cfg.AwaitTimeout))
	if err != nil {
		return err
	}
	sessions, err := session.New(client, authMgr, st,
		session.WithLogger(log),
		session.WithChallengeResolver(challenges))
	if err != nil {
		return err
	}
	wf, err := workflow.New(client, authMgr, gate, sessions, challenges, st,
		workflow.WithLogger(log),
		workflow.WithAgeGatePrompter(&consolePrompter{preset: *dob}),
		workflow.WithAgeVerifier(consoleVerifier{}))
	if err != nil {
		return err
	}

	ctx := context.Background()
	if *reset {
		if err := wf.ClearSession(ctx); err != nil {
			return err
		}
	}

	if err := wf.Start(ctx, *jurisdiction); err != nil {
		return err
	}
	report(ctx, wf)

	if wf.State() == workflow.StateEstablished && *feature != "" {
		err := wf.AttemptEnableFeature(ctx, *feature, func() {
			fmt.Printf("feature %q is now enabled\n", *feature)
		})
		if err != nil {
			return err
		}
		report(ctx, wf)
	}
	return nil
}

func report(ctx context.Context, wf *workflow.Workflow) {
	snap := wf.Snapshot(ctx)
	fmt.Printf("state=%s mode=%q session=%s ageStatus=%s challenge=%s\n",
		snap.State, snap.AccessMode, orDash(snap.SessionID), orDash(snap.AgeStatus), orDash(snap.ChallengeID))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// newStore picks the state backend: redis or postgres when configured,
// otherwise files under the state directory.
func newStore(cfg config.Workflow, stateDir string) (store.Store, func(), error) {
	switch {
	case cfg.RedisURL != "":
		client, err := platformredis.New(context.Background(), cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return store.NewRedis(client), func() { client.Close() }, nil
	case cfg.PostgresURL != "":
		db, err := sql.Open("postgres", cfg.PostgresURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		if _, err := db.Exec(store.Schema); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("apply state schema: %w", err)
		}
		st, err := store.NewPostgres(db, cfg.ClientID)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return st, func() { db.Close() }, nil
	default:
		st, err := store.NewFile(stateDir)
		if err != nil {
			return nil, nil, err
		}
		return st, func() {}, nil
	}
}

// consolePrompter collects a date of birth from the terminal, or returns
// the preset one from the -dob flag.
type consolePrompter struct {
	preset string
}

func (p *consolePrompter) CollectDOB(_ context.Context, approvedMethods []string) (string, error) {
	if p.preset != "" {
		return p.preset, nil
	}
	fmt.Printf("age gate (%s): enter date of birth (YYYY-MM-DD or YYYY): ", strings.Join(approvedMethods, ", "))
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return "", fmt.Errorf("no date of birth entered: %w", scanner.Err())
	}
	return strings.TrimSpace(scanner.Text()), nil
}

// consoleVerifier stands in for a real identity-verification provider.
type consoleVerifier struct{}

func (consoleVerifier) Verify(_ context.Context, dateOfBirth string) error {
	fmt.Printf("age verification accepted for %s (demo verifier)\n", dateOfBirth)
	return nil
}

// consoleNotifier shows the consent instructions and hands back the
// guardian email from the flag, if any.
type consoleNotifier struct {
	email string
}

func (n *consoleNotifier) Notify(_ context.Context, ch challenge.Challenge) (string, error) {
	fmt.Printf("guardian consent needed: visit %s and enter code %s\n", ch.URL, ch.OneTimePassword)
	return n.email, nil
}
