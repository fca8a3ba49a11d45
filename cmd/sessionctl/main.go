// Command sessionctl manages the users, sessions, preferences and workflows
// the chat gateway authenticates and personalises against.
//
// Usage:
//
//	sessionctl user        --name "Ada Lovelace" --email ada@example.com
//	sessionctl session     --email ada@example.com --ttl 720h
//	sessionctl preferences --email ada@example.com --display-name Ada --bot-name Marvin
//	sessionctl workflow    --email ada@example.com --name weeklyReport --published
//
// The database path comes from DATABASE_PATH (or config.yaml) unless --db is
// given.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nulpointcorp/chat-gateway/internal/config"
	"github.com/nulpointcorp/chat-gateway/internal/store"
)

const defaultSessionTTL = 30 * 24 * time.Hour

func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := &cli{}
	err := newRootCmd(c).ExecuteContext(ctx)
	c.close()
	if err != nil {
		log.Error("sessionctl failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// cli holds the store shared by every subcommand. It is opened once the
// persistent --db flag has been parsed.
type cli struct {
	dbPath string
	st     *store.Store
}

func (c *cli) open(cmd *cobra.Command, _ []string) error {
	if cmd.Name() == "help" {
		return nil
	}
	if c.dbPath == "" {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		c.dbPath = cfg.DatabasePath
	}
	st, err := store.Open(cmd.Context(), c.dbPath)
	if err != nil {
		return fmt.Errorf("open store %s: %w", c.dbPath, err)
	}
	c.st = st
	return nil
}

func (c *cli) close() {
	if c.st != nil {
		_ = c.st.Close()
		c.st = nil
	}
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:               "sessionctl",
		Short:             "Manage chat gateway users, sessions, preferences and workflows",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.open,
	}
	root.PersistentFlags().StringVar(&c.dbPath, "db", "", "SQLite database path (default DATABASE_PATH)")

	root.AddCommand(
		newUserCmd(c),
		newSessionCmd(c),
		newPreferencesCmd(c),
		newWorkflowCmd(c),
	)
	return root
}

func newUserCmd(c *cli) *cobra.Command {
	var name, email string
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Create a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			u, err := c.st.CreateUser(cmd.Context(), name, email)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), u.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "unique email address")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newSessionCmd(c *cli) *cobra.Command {
	var (
		email string
		ttl   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Issue a session token for a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			u, err := c.st.UserByEmail(cmd.Context(), email)
			if err != nil {
				return fmt.Errorf("user %q: %w", email, err)
			}
			sess, err := c.st.CreateSession(cmd.Context(), u.ID, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sess.Token)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "user email")
	cmd.Flags().DurationVar(&ttl, "ttl", defaultSessionTTL, "session lifetime")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newPreferencesCmd(c *cli) *cobra.Command {
	var (
		email string
		p     store.UserPreferences
	)
	cmd := &cobra.Command{
		Use:   "preferences",
		Short: "Set a user's assistant preferences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			u, err := c.st.UserByEmail(cmd.Context(), email)
			if err != nil {
				return fmt.Errorf("user %q: %w", email, err)
			}
			return c.st.SaveUserPreferences(cmd.Context(), u.ID, p)
		},
	}
	f := cmd.Flags()
	f.StringVar(&email, "email", "", "user email")
	f.StringVar(&p.DisplayName, "display-name", "", "how the assistant addresses the user")
	f.StringVar(&p.Profession, "profession", "", "the user's profession")
	f.StringVar(&p.ResponseStyleExample, "style", "", "example of the preferred response style")
	f.StringVar(&p.BotName, "bot-name", "", "the assistant's name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newWorkflowCmd(c *cli) *cobra.Command {
	var (
		email string
		w     store.Workflow
	)
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Create a workflow for a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			u, err := c.st.UserByEmail(cmd.Context(), email)
			if err != nil {
				return fmt.Errorf("user %q: %w", email, err)
			}
			w.UserID = u.ID

			created, err := c.st.CreateWorkflow(cmd.Context(), w)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), created.ID)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&email, "email", "", "owner email")
	f.StringVar(&w.Name, "name", "", "workflow name")
	f.StringVar(&w.Description, "description", "", "what the workflow does")
	f.BoolVar(&w.IsPublished, "published", false, "offer the workflow as an agent tool")
	f.StringVar(&w.Visibility, "visibility", store.VisibilityPrivate, "private, public or readonly")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}
