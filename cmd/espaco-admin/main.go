// Command espaco-admin runs operator tasks against the configured database:
// bootstrapping the first admin, issuing invites and purging expired
// sessions.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/identity"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/internal/app"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/internal/invite"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/internal/storage"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/security/password"
)

const usage = `usage: espaco-admin <command> [flags]

commands:
  create-admin    -username NAME -email ADDR (password read from ESPACO_ADMIN_PASSWORD or stdin)
  issue-invite    -role ROLE [-email ADDR] [-ttl DURATION]
  purge-sessions  delete sessions past their expiry
`

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "espaco-admin:", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stdout, usage)
		return errors.New("missing command")
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	log := app.NewLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch args[0] {
	case "create-admin":
		return createAdmin(ctx, cfg, log, args[1:], stdin, stdout)
	case "issue-invite":
		return issueInvite(ctx, cfg, log, args[1:], stdout)
	case "purge-sessions":
		return purgeSessions(ctx, cfg, log, stdout)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		fmt.Fprint(stdout, usage)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func openBackend(ctx context.Context, cfg app.Config, log *slog.Logger) (storage.Backend, error) {
	hasher, err := app.ValidateSecurityConfig(cfg)
	if err != nil {
		return nil, err
	}
	return app.OpenBackend(ctx, cfg, hasher, log)
}

func createAdmin(ctx context.Context, cfg app.Config, log *slog.Logger, args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("create-admin", flag.ContinueOnError)
	username := fs.String("username", "", "admin username")
	email := fs.String("email", "", "admin email")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*username) == "" || strings.TrimSpace(*email) == "" {
		return errors.New("create-admin: -username and -email are required")
	}

	pw, err := password.FromEnv()
	if err != nil {
		return err
	}
	plain, err := readPassword(stdin)
	if err != nil {
		return err
	}
	if err := pw.Validate(plain); err != nil {
		return err
	}
	digest, err := pw.Hash(plain)
	if err != nil {
		return err
	}

	backend, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer backend.Close()

	u, err := backend.Users().Create(ctx, identity.CreateUserInput{
		Username:       *username,
		Email:          *email,
		PasswordDigest: digest,
		Role:           identity.RoleAdmin,
	})
	if err != nil {
		return err
	}
	log.Info("admin.created", "user_id", u.ID)
	fmt.Fprintf(stdout, "created admin %s (%s)\n", u.Username, u.ID)
	return nil
}

// readPassword prefers ESPACO_ADMIN_PASSWORD and otherwise takes the first
// line of stdin.
func readPassword(stdin io.Reader) (string, error) {
	if v := os.Getenv("ESPACO_ADMIN_PASSWORD"); v != "" {
		return v, nil
	}
	raw, err := io.ReadAll(io.LimitReader(stdin, 4096))
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	line, _, _ := strings.Cut(string(raw), "\n")
	line = strings.TrimRight(line, "\r")
	if line == "" {
		return "", errors.New("create-admin: empty password")
	}
	return line, nil
}

func issueInvite(ctx context.Context, cfg app.Config, log *slog.Logger, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("issue-invite", flag.ContinueOnError)
	roleFlag := fs.String("role", "", "admin, terapeuta or secretaria")
	email := fs.String("email", "", "restrict the invite to this email")
	ttl := fs.Duration("ttl", 0, "invite lifetime (default from config)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	role, err := identity.ParseRole(*roleFlag)
	if err != nil {
		return err
	}

	pw, err := password.FromEnv()
	if err != nil {
		return err
	}
	backend, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer backend.Close()

	svc, err := invite.NewService(backend.Invites(), storage.InviteTransactor(backend), pw,
		invite.WithTTL(cfg.InviteTTL, cfg.InviteMaxTTL),
		invite.WithResendInterval(cfg.InviteResendInterval),
		invite.WithLogger(log),
	)
	if err != nil {
		return err
	}

	in := invite.IssueInput{Role: role, TTL: *ttl}
	if e := strings.TrimSpace(*email); e != "" {
		in.Email = &e
	}
	inv, err := svc.Issue(ctx, in)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "code=%s role=%s expires_at=%s\n", inv.Code, inv.Role, inv.ExpiresAt.Format(time.RFC3339))
	return nil
}

func purgeSessions(ctx context.Context, cfg app.Config, log *slog.Logger, stdout io.Writer) error {
	backend, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer backend.Close()

	n, err := backend.Sessions().DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	log.Info("sessions.purged", "deleted", n)
	fmt.Fprintf(stdout, "deleted %d expired sessions\n", n)
	return nil
}
