package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"keysync/pkg/bus"
	"keysync/pkg/db"
	"keysync/services/ctl"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "keysyncctl",
		Short:         "Operator tool for keysync",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newMigrateCommand())
	cmd.AddCommand(newClientsCommand())
	cmd.AddCommand(newEventsCommand())
	return cmd
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newMigrateCommand() *cobra.Command {
	var dsn string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			pool, err := db.Open(ctx, dsn)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer pool.Close()

			if err := db.Migrate(ctx, pool); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			version, err := db.Status(ctx, pool)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "database at version %d\n", version)
			return nil
		},
	}

	cmd.Flags().StringVar(&dsn, "dsn", os.Getenv("DB_DSN"), "Postgres connection string (default $DB_DSN)")
	return cmd
}

func newClientsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clients",
		Short: "Client operations against a running API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newClientsApplyCommand())
	cmd.AddCommand(newClientsListCommand())
	return cmd
}

func newClientsApplyCommand() *cobra.Command {
	var (
		manifestPath string
		apiBaseURL   string
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Create or reactivate the clients and roles declared in a manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			manifest, err := ctl.LoadManifest(manifestPath)
			if err != nil {
				return err
			}
			client, err := ctl.NewAPIClient(apiBaseURL, nil)
			if err != nil {
				return err
			}
			sum, err := ctl.Apply(commandContext(cmd), ctl.ApplyConfig{
				Manifest: manifest,
				API:      client,
				Stdout:   cmd.OutOrStdout(),
			})
			fmt.Fprintf(cmd.OutOrStdout(), "clients: %d ok, %d failed; roles: %d ok, %d failed\n",
				sum.ClientsOK, sum.ClientsFailed, sum.RolesOK, sum.RolesFailed)
			return err
		},
	}

	cmd.Flags().StringVarP(&manifestPath, "file", "f", "", "Path to the YAML manifest")
	cmd.Flags().StringVar(&apiBaseURL, "api", envOr("KEYSYNC_API", "http://localhost:8080"), "Base URL of the keysync API")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newClientsListCommand() *cobra.Command {
	var (
		search     string
		apiBaseURL string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List identity-server clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctl.NewAPIClient(apiBaseURL, nil)
			if err != nil {
				return err
			}
			clients, err := client.ListClients(commandContext(cmd), search)
			var apiErr *ctl.APIError
			if errors.As(err, &apiErr) && apiErr.Status == 404 {
				fmt.Fprintln(cmd.OutOrStdout(), "no clients found")
				return nil
			}
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CLIENT ID\tNAME\tUUID\tENABLED")
			for _, c := range clients {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", c.ClientID, c.Name, c.ID, c.Enabled)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&search, "search", "", "Case-insensitive substring filter")
	cmd.Flags().StringVar(&apiBaseURL, "api", envOr("KEYSYNC_API", "http://localhost:8080"), "Base URL of the keysync API")
	return cmd
}

func newEventsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Reconciliation event stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newEventsTailCommand())
	return cmd
}

func newEventsTailCommand() *cobra.Command {
	var (
		natsURL string
		subject string
	)

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print reconciliation events as they are published",
		RunE: func(cmd *cobra.Command, args []string) error {
			if natsURL == "" {
				return errors.New("--nats or $NATS_URL is required")
			}
			events, err := bus.New(natsURL)
			if err != nil {
				return fmt.Errorf("connect bus: %w", err)
			}
			defer events.Close()
			return ctl.Tail(commandContext(cmd), events, subject, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&natsURL, "nats", os.Getenv("NATS_URL"), "NATS server URL (default $NATS_URL)")
	cmd.Flags().StringVar(&subject, "subject", bus.AllSubjects, "Subject filter")
	return cmd
}
