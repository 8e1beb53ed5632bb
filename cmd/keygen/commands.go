package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/tjfontaine/lintgate/internal/audit"
	"github.com/tjfontaine/lintgate/internal/config"
	"github.com/tjfontaine/lintgate/internal/credential"
)

const timeLayout = "2006-01-02 15:04:05"

// newApp builds the CLI. All output goes to out.
func newApp(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "keygen",
		Usage: "manage lintgate API keys",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML config file",
				Value:   config.DefaultFile,
				Sources: cli.EnvVars("LINTGATE_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "keys-file",
				Usage: "key file to operate on (default: auth.keys_file)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "generate",
				Usage: "create a new key",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Usage: "human readable label"},
					&cli.StringSliceFlag{Name: "scope", Usage: "granted scope, repeatable (default: auth.default_scopes)"},
					&cli.StringFlag{Name: "expires", Usage: "lifetime such as 720h, or an RFC 3339 timestamp"},
				},
				Action: withStore(func(ctx context.Context, cmd *cli.Command, e *env) error {
					return generate(ctx, e, out, cmd.String("name"), cmd.StringSlice("scope"), cmd.String("expires"))
				}),
			},
			{
				Name:      "revoke",
				Usage:     "deactivate a key",
				ArgsUsage: "<key>",
				Action: withStore(func(ctx context.Context, cmd *cli.Command, e *env) error {
					return revoke(ctx, e, out, cmd.Args().First())
				}),
			},
			{
				Name:  "list",
				Usage: "list every key",
				Action: withStore(func(ctx context.Context, cmd *cli.Command, e *env) error {
					return list(e, out)
				}),
			},
			{
				Name:      "info",
				Usage:     "show one key",
				ArgsUsage: "<key>",
				Action: withStore(func(ctx context.Context, cmd *cli.Command, e *env) error {
					return info(e, out, cmd.Args().First())
				}),
			},
		},
	}
}

// env is what every subcommand operates on.
type env struct {
	keys  *credential.Store
	audit *audit.Logger
	now   func() time.Time
}

func withStore(fn func(context.Context, *cli.Command, *env) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg, err := config.Load(cmd.String("config"))
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		path := cfg.Auth.KeysFile
		if p := cmd.String("keys-file"); p != "" {
			path = p
		}

		// Events go to the audit file only; stdout is for command output.
		var auditLog *audit.Logger
		if cfg.Audit.Path != "" {
			if auditLog, err = audit.Open(cfg.Audit.Path); err != nil {
				return fmt.Errorf("open audit log: %w", err)
			}
			defer auditLog.Close()
		}

		e := &env{
			keys:  credential.NewStore(path, credential.WithDefaultScopes(cfg.Auth.DefaultScopes)),
			audit: auditLog,
			now:   time.Now,
		}
		return fn(ctx, cmd, e)
	}
}

func generate(ctx context.Context, e *env, out io.Writer, name string, scopes []string, expires string) error {
	now := e.now()
	if name == "" {
		name = "API Key " + now.Format(timeLayout)
	}
	for _, s := range scopes {
		if strings.TrimSpace(s) == "" {
			return errors.New("scopes must not be empty")
		}
	}
	exp, err := parseExpires(expires, now)
	if err != nil {
		return err
	}

	token, err := e.keys.Generate(credential.GenerateParams{Name: name, Scopes: scopes, Expires: exp})
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	cred, _ := e.keys.Lookup(token)

	e.audit.Log(ctx, audit.KeyGenerated, "api key generated",
		slog.String("api_key", credential.Mask(token)),
		slog.String("name", name),
		slog.String("scopes", strings.Join(cred.Scopes, ",")),
		slog.String("source", "cli"),
	)

	fmt.Fprintln(out, "Generated API key:")
	fmt.Fprintln(out, token)
	fmt.Fprintln(out)
	printCredential(out, cred)
	return nil
}

func revoke(ctx context.Context, e *env, out io.Writer, token string) error {
	if token == "" {
		return errors.New("key argument is required")
	}
	ok, err := e.keys.Revoke(token)
	if err != nil {
		return fmt.Errorf("revoke key: %w", err)
	}
	if !ok {
		return fmt.Errorf("key %s not found", credential.Mask(token))
	}

	e.audit.Log(ctx, audit.KeyRevoked, "api key revoked",
		slog.String("api_key", credential.Mask(token)),
		slog.String("source", "cli"),
	)
	fmt.Fprintf(out, "Revoked %s\n", credential.Mask(token))
	return nil
}

func list(e *env, out io.Writer) error {
	entries, err := e.keys.List()
	if err != nil {
		return fmt.Errorf("list keys: %w", err)
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "No API keys found.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tNAME\tSCOPES\tCREATED\tEXPIRES\tSTATUS")
	for _, en := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			credential.Mask(en.Token),
			en.Name,
			strings.Join(en.Scopes, ","),
			en.Created.Format(timeLayout),
			formatExpires(en.Expires),
			status(en.Credential, e.now()),
		)
	}
	return tw.Flush()
}

func info(e *env, out io.Writer, token string) error {
	if token == "" {
		return errors.New("key argument is required")
	}
	cred, ok := e.keys.Lookup(token)
	if !ok {
		return fmt.Errorf("key %s not found", credential.Mask(token))
	}
	fmt.Fprintf(out, "Key:      %s\n", credential.Mask(token))
	printCredential(out, cred)
	fmt.Fprintf(out, "Status:   %s\n", status(cred, e.now()))
	return nil
}

func printCredential(out io.Writer, cred credential.Credential) {
	fmt.Fprintf(out, "Name:     %s\n", cred.Name)
	fmt.Fprintf(out, "Scopes:   %s\n", strings.Join(cred.Scopes, ", "))
	fmt.Fprintf(out, "Created:  %s\n", cred.Created.Format(timeLayout))
	fmt.Fprintf(out, "Expires:  %s\n", formatExpires(cred.Expires))
}

func status(cred credential.Credential, now time.Time) string {
	switch {
	case !cred.Active:
		return "revoked"
	case cred.Expired(now):
		return "expired"
	default:
		return "active"
	}
}

func formatExpires(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Format(timeLayout)
}

// parseExpires accepts a Go duration relative to now or an RFC 3339
// timestamp. Empty means the key never expires.
func parseExpires(v string, now time.Time) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	if d, err := time.ParseDuration(v); err == nil {
		if d <= 0 {
			return nil, errors.New("expires must be in the future")
		}
		t := now.Add(d).UTC()
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("expires %q is neither a duration nor an RFC 3339 timestamp", v)
	}
	if !t.After(now) {
		return nil, errors.New("expires must be in the future")
	}
	t = t.UTC()
	return &t, nil
}
