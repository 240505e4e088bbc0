// Command callcoach runs the live sales-call coaching gateway and its
// operational helpers.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/vango-go/callcoach/internal/dotenv"
	"github.com/vango-go/callcoach/pkg/gateway/auth"
	"github.com/vango-go/callcoach/pkg/store"
)

func newRootCmd(stdout, stderr io.Writer, deps serveDeps) *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:           "callcoach",
		Short:         "Live sales-call coaching gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return dotenv.LoadFile(envFile)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading COACH_* settings")

	root.AddCommand(newServeCmd(stderr, deps))
	root.AddCommand(newMigrateCmd(stderr))
	root.AddCommand(newTokenCmd())
	return root
}

func newServeCmd(logw io.Writer, deps serveDeps) *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), logw, opts, deps)
		},
	}
	cmd.Flags().BoolVar(&opts.migrate, "migrate", false, "apply pending database migrations before serving")
	return cmd
}

func newMigrateCmd(logw io.Writer) *cobra.Command {
	var databaseURL string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres schema",
	}
	cmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "Postgres URL (default $COACH_DATABASE_URL)")

	resolveURL := func() string {
		if databaseURL != "" {
			return databaseURL
		}
		return os.Getenv("COACH_DATABASE_URL")
	}
	step := func(dir store.MigrationDirection) *cobra.Command {
		return &cobra.Command{
			Use:   string(dir),
			Short: fmt.Sprintf("Migrate the schema %s", dir),
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				l, err := newLogger(logw, envOr("COACH_LOG_LEVEL", "info"), envOr("COACH_LOG_FORMAT", "text"))
				if err != nil {
					return err
				}
				return store.Migrate(cmd.Context(), resolveURL(), dir, l)
			},
		}
	}
	cmd.AddCommand(step(store.MigrateUp), step(store.MigrateDown))

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses, err := store.MigrationStatus(cmd.Context(), resolveURL())
			if err != nil {
				return err
			}
			sort.Slice(statuses, func(i, j int) bool {
				return statuses[i].Source.Version < statuses[j].Source.Version
			})
			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"Version", "State", "Applied At", "Source"})
			table.SetBorder(false)
			table.SetAutoWrapText(false)
			for _, s := range statuses {
				applied := "-"
				if !s.AppliedAt.IsZero() {
					applied = s.AppliedAt.UTC().Format(time.RFC3339)
				}
				table.Append([]string{strconv.FormatInt(s.Source.Version, 10), string(s.State), applied, s.Source.Path})
			}
			table.Render()
			return nil
		},
	})
	return cmd
}

func newTokenCmd() *cobra.Command {
	var (
		userID string
		ttl    time.Duration
		secret string
		issuer string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a development identity token for a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("COACH_JWT_SECRET")
			}
			if issuer == "" {
				issuer = os.Getenv("COACH_JWT_ISSUER")
			}
			if secret == "" {
				return fmt.Errorf("a signing secret is required (--secret or COACH_JWT_SECRET)")
			}
			tok, err := auth.SignToken(secret, issuer, userID, ttl, time.Now())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id to put in the token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	cmd.Flags().StringVar(&secret, "secret", "", "HMAC secret (default $COACH_JWT_SECRET)")
	cmd.Flags().StringVar(&issuer, "issuer", "", "token issuer (default $COACH_JWT_ISSUER)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps serveDeps) int {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	root := newRootCmd(stdout, stderr, deps)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "callcoach: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Args[1:], os.Stdout, os.Stderr, defaultServeDeps()))
}
