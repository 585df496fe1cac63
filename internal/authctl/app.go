package authctl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/server"
)

const usage = `usage: authctl [flags] <command> [args]

commands:
  migrate                      apply database migrations
  account-state <identifier>   show sign-in state for a user name or email
  revoke-sessions <userID>     revoke every refresh token of a user
  decode-token <jwt>           print the claims of an access token
  set-password <userID>        set the first password of an account
  unlock <userID>              clear a lockout

flags:
  -c, -config   config file
  -d            database DSN ("memory" for the in-memory store)
  -k            signing key
  -R            redis address
  -v            log level`

var ErrUsage = errors.New("invalid usage")

type App struct {
	srv *server.App
	out io.Writer
}

func NewApp(srv *server.App, out io.Writer) *App {
	return &App{srv: srv, out: out}
}

// Run executes one command. args excludes the program name and flags.
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprintln(a.out, usage)
		return ErrUsage
	}

	cmd, rest := args[0], args[1:]
	need := func(n int) error {
		if len(rest) != n {
			fmt.Fprintln(a.out, usage)
			return fmt.Errorf("%w: %s takes %d argument(s)", ErrUsage, cmd, n)
		}
		return nil
	}

	switch cmd {
	case "help", "-h", "--help":
		fmt.Fprintln(a.out, usage)
		return nil

	case "migrate":
		if err := need(0); err != nil {
			return err
		}
		if err := a.srv.Migrate(ctx); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "migrations applied")
		return nil

	case "account-state":
		if err := need(1); err != nil {
			return err
		}
		return a.accountState(ctx, rest[0])

	case "revoke-sessions":
		if err := need(1); err != nil {
			return err
		}
		n, err := a.srv.Auth.RevokeAllSessions(ctx, rest[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "revoked %d session(s)\n", n)
		return nil

	case "decode-token":
		if err := need(1); err != nil {
			return err
		}
		claims, err := a.srv.Auth.DecodeToken(rest[0])
		if err != nil {
			return err
		}
		return a.printJSON(claims)

	case "set-password":
		if err := need(1); err != nil {
			return err
		}
		return a.setPassword(ctx, rest[0])

	case "unlock":
		if err := need(1); err != nil {
			return err
		}
		if err := a.srv.Identity.Unlock(ctx, rest[0]); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "unlocked")
		return nil

	default:
		fmt.Fprintln(a.out, usage)
		return fmt.Errorf("%w: unknown command %q", ErrUsage, cmd)
	}
}

func (a *App) accountState(ctx context.Context, identifier string) error {
	st, err := a.srv.Auth.CheckAccountState(ctx, identifier)
	if err != nil {
		return err
	}
	if st.UserID == "" {
		fmt.Fprintln(a.out, "no such account")
		return nil
	}
	return a.printJSON(map[string]any{
		"userId":            st.UserID,
		"emailConfirmed":    st.EmailConfirmed,
		"passwordCreated":   st.PasswordCreated,
		"requiresTwoFactor": st.RequiresTwoFactor,
	})
}

func (a *App) setPassword(ctx context.Context, userID string) error {
	pw, err := ReadNewPassword(a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(pw)

	if err := a.srv.Account.SetPasswordFirstTime(ctx, userID, string(pw)); err != nil {
		if errors.Is(err, common.ErrPasswordAlreadySet) {
			fmt.Fprintln(a.out, "account already has a password, use the reset flow")
		}
		return err
	}
	fmt.Fprintln(a.out, "password set")
	return nil
}

func (a *App) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
