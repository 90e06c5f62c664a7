package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"taskshare/internal/config"
	"taskshare/internal/logx"
	"taskshare/internal/model"
	"taskshare/internal/ops"
	"taskshare/internal/serverapp"
	"taskshare/internal/store"
)

var flagConfig string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, Red("error:"), err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "taskshare",
		Short:         "Shared task service with optimistic concurrency",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "taskshare.yml", "Config file path")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(backupCmd())
	rootCmd.AddCommand(restoreCmd())
	return rootCmd
}

// openStore loads the config and opens its store. The caller closes it.
func openStore(ctx context.Context) (*config.Config, store.Store, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	st, err := serverapp.OpenStore(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	return cfg, st, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := logx.New(os.Stderr)
			cfg, st, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := serverapp.SeedUsers(ctx, st, cfg.SeedUsers, logger); err != nil {
				return err
			}
			handler, err := serverapp.NewHandler(serverapp.Options{Config: cfg, Store: st, Logger: logger})
			if err != nil {
				return fmt.Errorf("build server: %w", err)
			}
			return serve(ctx, cfg, handler, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, handler http.Handler, logger *log.Logger) error {
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logx.Info(logger, "listening", logx.Fields{"addr": cfg.Server.Addr, "store": cfg.Store.Driver})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	logx.Info(logger, "shutting_down", logx.Fields{"timeout_s": cfg.Server.ShutdownTimeoutSeconds})
	return srv.Shutdown(shutdownCtx)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the postgres schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, st, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()
			if cfg.Store.Driver != config.DriverPostgres {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s store needs no migration\n", Dim("·"), cfg.Store.Driver)
				return nil
			}
			// OpenStore already migrated; this reports it.
			fmt.Fprintf(cmd.OutOrStdout(), "%s schema is up to date\n", Green("✓"))
			return nil
		},
	}
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage provisioned users",
	}
	cmd.AddCommand(userAddCmd())
	cmd.AddCommand(userListCmd())
	return cmd
}

func userAddCmd() *cobra.Command {
	var email, name, id string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Provision a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			u := model.User{Email: email, DisplayName: name}
			if model.NormalizeEmail(email) == "" {
				return errors.New("--email is required")
			}
			if id != "" {
				parsed, ok := model.ParseUserID(id)
				if !ok {
					return fmt.Errorf("--id %q is not a uuid", id)
				}
				u.ID = parsed
			}

			_, st, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			created, err := st.CreateUser(cmd.Context(), u)
			switch {
			case errors.Is(err, store.ErrEmailTaken):
				return fmt.Errorf("email %s is already provisioned", model.NormalizeEmail(email))
			case errors.Is(err, store.ErrUserExists):
				return fmt.Errorf("user id %s is already provisioned", id)
			case err != nil:
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", Green("✓"), Bold(created.Email), Dim(string(created.ID)))
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Email address")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&id, "id", "", "Subject id issued by the identity provider (default: generated)")
	return cmd
}

func userListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List provisioned users",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			users, err := st.ListUsers(cmd.Context())
			if err != nil {
				return err
			}
			return printUsers(cmd.OutOrStdout(), users)
		},
	}
}

func printUsers(w io.Writer, users []model.User) error {
	if len(users) == 0 {
		fmt.Fprintln(w, Dim("no users"))
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "%s\t%s\t%s\n", BoldCyan("EMAIL"), BoldCyan("NAME"), BoldCyan("ID"))
	for _, u := range users {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", u.Email, u.DisplayName, Dim(string(u.ID)))
	}
	return tw.Flush()
}

// fileDataDir returns the data dir of a file-backed config.
func fileDataDir() (string, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	if cfg.Store.Driver != config.DriverFile {
		return "", fmt.Errorf("backup and restore need the file store, config uses %q", cfg.Store.Driver)
	}
	return cfg.Store.DataDir, nil
}

func backupCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive the file store data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := fileDataDir()
			if err != nil {
				return err
			}
			if out == "" {
				ts := time.Now().UTC().Format("20060102T150405Z")
				out = filepath.Join("backups", "taskshare-"+ts+".tar.gz")
			}
			n, err := ops.Backup(dir, out)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", Green("✓"), Bold(out), Dim(fmt.Sprintf("(%d files)", n)))
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "Archive path (default: backups/taskshare-<ts>.tar.gz)")
	return cmd
}

func restoreCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "restore <archive>",
		Short: "Restore the file store data directory from an archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := fileDataDir()
			if err != nil {
				return err
			}
			n, err := ops.Restore(args[0], dir, force)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s restored %d files into %s\n", Green("✓"), n, Bold(dir))
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite a non-empty data directory")
	return cmd
}
