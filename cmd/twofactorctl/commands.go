package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/aussiebroadwan/twofactor/internal/twofactor/app"
	"github.com/aussiebroadwan/twofactor/internal/twofactor/domain"
	"github.com/aussiebroadwan/twofactor/internal/twofactor/service"
	"github.com/aussiebroadwan/twofactor/pkg/otpx"
	"github.com/skip2/go-qrcode"
)

const qrSize = 256

// command reports ok=false when the lifecycle rejected the request.
type command struct {
	summary string
	run     func(ctx context.Context, args []string, stdout, stderr io.Writer) (ok bool, err error)
}

var commandOrder = []string{
	"setup", "confirm", "verify", "disable", "regenerate",
	"status", "abandon", "code", "purge", "policy",
}

var commands = map[string]command{
	"setup":      {"start enrolment and print the secret, URI and recovery codes", runSetup},
	"confirm":    {"activate a pending setup with a code from the authenticator", runConfirm},
	"verify":     {"check a TOTP or recovery code", runVerify},
	"disable":    {"turn two-factor off after proving possession", runDisable},
	"regenerate": {"replace the recovery codes after proving possession", runRegenerate},
	"status":     {"show the lifecycle state of a user", runStatus},
	"abandon":    {"drop a pending setup", runAbandon},
	"code":       {"print the current code for a Base32 secret", runCode},
	"purge":      {"delete expired pending setups", runPurge},
	"policy":     {"evaluate the step-up policy for a role", runPolicy},
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

// parse applies args to fs and checks that every listed flag is non-empty.
func parse(fs *flag.FlagSet, args []string, required map[string]*string) error {
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	for name, value := range required {
		if *value == "" {
			fmt.Fprintf(fs.Output(), "-%s is required\n", name)
			fs.Usage()
			return errUsage
		}
	}
	return nil
}

// withApp loads the configuration, opens the store and closes it once fn
// returns.
func withApp(ctx context.Context, stderr io.Writer, fn func(*app.Application) (bool, error)) (bool, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return false, err
	}
	cfg.LogOutput = stderr

	application, err := app.New(ctx, cfg)
	if err != nil {
		return false, err
	}
	defer func() { _ = application.Close() }()

	return fn(application)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runSetup(ctx context.Context, args []string, stdout, stderr io.Writer) (bool, error) {
	fs := newFlagSet("setup", stderr)
	user := fs.String("user", "", "user id")
	account := fs.String("account", "", "account label shown in the authenticator (defaults to the user id)")
	qrPath := fs.String("qr", "", "also write the provisioning URI as a PNG QR code to this file")
	if err := parse(fs, args, map[string]*string{"user": user}); err != nil {
		return false, err
	}

	return withApp(ctx, stderr, func(a *app.Application) (bool, error) {
		res, err := a.Lifecycle().Setup(ctx, *user, *account)
		if err != nil {
			return false, err
		}

		if res.Success && *qrPath != "" {
			if err := qrcode.WriteFile(res.OTPAuthURI, qrcode.Medium, qrSize, *qrPath); err != nil {
				return false, fmt.Errorf("failed to write QR code: %w", err)
			}
		}

		return res.Success, printJSON(stdout, res)
	})
}

// codeCommand builds the commands that take a user and a code.
func codeCommand(name string, do func(ctx context.Context, s *service.LifecycleService, user, code string) (bool, any, error)) func(context.Context, []string, io.Writer, io.Writer) (bool, error) {
	return func(ctx context.Context, args []string, stdout, stderr io.Writer) (bool, error) {
		fs := newFlagSet(name, stderr)
		user := fs.String("user", "", "user id")
		code := fs.String("code", "", "TOTP or recovery code")
		if err := parse(fs, args, map[string]*string{"user": user, "code": code}); err != nil {
			return false, err
		}

		return withApp(ctx, stderr, func(a *app.Application) (bool, error) {
			ok, res, err := do(ctx, a.Lifecycle(), *user, *code)
			if err != nil {
				return false, err
			}
			return ok, printJSON(stdout, res)
		})
	}
}

var (
	runConfirm = codeCommand("confirm", func(ctx context.Context, s *service.LifecycleService, user, code string) (bool, any, error) {
		res, err := s.Confirm(ctx, user, code)
		return res.Success, res, err
	})
	runVerify = codeCommand("verify", func(ctx context.Context, s *service.LifecycleService, user, code string) (bool, any, error) {
		res, err := s.Verify(ctx, user, code)
		return res.Valid, res, err
	})
	runDisable = codeCommand("disable", func(ctx context.Context, s *service.LifecycleService, user, code string) (bool, any, error) {
		res, err := s.Disable(ctx, user, code)
		return res.Success, res, err
	})
	runRegenerate = codeCommand("regenerate", func(ctx context.Context, s *service.LifecycleService, user, code string) (bool, any, error) {
		res, err := s.RegenerateRecoveryCodes(ctx, user, code)
		return res.Success, res, err
	})
)

type statusOutput struct {
	UserID                 string       `json:"user_id"`
	State                  domain.State `json:"state"`
	RemainingRecoveryCodes int          `json:"remaining_recovery_codes"`
}

func runStatus(ctx context.Context, args []string, stdout, stderr io.Writer) (bool, error) {
	fs := newFlagSet("status", stderr)
	user := fs.String("user", "", "user id")
	if err := parse(fs, args, map[string]*string{"user": user}); err != nil {
		return false, err
	}

	return withApp(ctx, stderr, func(a *app.Application) (bool, error) {
		state, err := a.Lifecycle().Status(ctx, *user)
		if err != nil {
			return false, err
		}
		remaining, err := a.Lifecycle().RemainingRecoveryCodes(ctx, *user)
		if err != nil {
			return false, err
		}

		return true, printJSON(stdout, statusOutput{UserID: *user, State: state, RemainingRecoveryCodes: remaining})
	})
}

func runAbandon(ctx context.Context, args []string, stdout, stderr io.Writer) (bool, error) {
	fs := newFlagSet("abandon", stderr)
	user := fs.String("user", "", "user id")
	if err := parse(fs, args, map[string]*string{"user": user}); err != nil {
		return false, err
	}

	return withApp(ctx, stderr, func(a *app.Application) (bool, error) {
		if err := a.Lifecycle().AbandonSetup(ctx, *user); err != nil {
			return false, err
		}
		return true, printJSON(stdout, domain.Outcome{Success: true})
	})
}

func runPurge(ctx context.Context, args []string, stdout, stderr io.Writer) (bool, error) {
	fs := newFlagSet("purge", stderr)
	if err := parse(fs, args, nil); err != nil {
		return false, err
	}

	return withApp(ctx, stderr, func(a *app.Application) (bool, error) {
		deleted, err := a.Housekeeping().Cleanup(ctx)
		if err != nil {
			return false, err
		}
		return true, printJSON(stdout, map[string]int64{"deleted_pending_setups": deleted})
	})
}

// runCode needs no store, only the engine settings.
func runCode(_ context.Context, args []string, stdout, stderr io.Writer) (bool, error) {
	fs := newFlagSet("code", stderr)
	secret := fs.String("secret", "", "Base32 secret")
	at := fs.Int64("at", 0, "unix time to compute the code for (defaults to now)")
	if err := parse(fs, args, map[string]*string{"secret": secret}); err != nil {
		return false, err
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		return false, err
	}
	opts, err := cfg.OTPOptions()
	if err != nil {
		return false, err
	}

	when := time.Now()
	if *at != 0 {
		when = time.Unix(*at, 0)
	}

	code, err := otpx.New(opts).Generate(*secret, when)
	if errors.Is(err, otpx.ErrInvalidSecret) {
		fmt.Fprintln(stderr, "secret does not decode to any bytes")
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return true, printJSON(stdout, map[string]string{"code": code})
}

func runPolicy(_ context.Context, args []string, stdout, stderr io.Writer) (bool, error) {
	fs := newFlagSet("policy", stderr)
	role := fs.String("role", "", "role of the acting user")
	enabled := fs.Bool("enabled", false, "user has two-factor enabled")
	verified := fs.Bool("verified", false, "user passed two-factor in this session")
	if err := parse(fs, args, map[string]*string{"role": role}); err != nil {
		return false, err
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		return false, err
	}

	decision := service.NewPolicy(cfg.EnforcedRoles).RequiresStepUp(*role, *enabled, *verified)
	return !decision.Blocked, printJSON(stdout, decision)
}
