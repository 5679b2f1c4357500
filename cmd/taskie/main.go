package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/taskie/internal/backup"
	"github.com/dukerupert/taskie/internal/config"
	"github.com/dukerupert/taskie/internal/database"
	"github.com/dukerupert/taskie/internal/logging"
	"github.com/dukerupert/taskie/internal/media"
	"github.com/dukerupert/taskie/internal/push"
	"github.com/dukerupert/taskie/internal/server"
)

// configPath holds the value of the --config persistent flag.
var configPath string

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "taskie:", err)
		os.Exit(1)
	}
}

func newRootCmd(stdout io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "taskie",
		Short:         "Household chore board server",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("TASKIE_CONFIG"),
		"path to a TOML config file")
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetOut(stdout)
	root.AddCommand(
		newServeCmd(),
		newMigrateCmd(stdout),
		newVAPIDKeysCmd(stdout),
		newBackupCmd(stdout),
		newRestoreCmd(stdout),
	)
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func newMigrateCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			db, err := database.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()

			version, err := database.Version(db)
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "%s at schema version %d\n", cfg.DBPath, version)
			return nil
		},
	}
}

func newVAPIDKeysCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "vapid-keys",
		Short: "Generate a VAPID key pair for web push",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			pub, priv, err := push.GenerateVAPIDKeys()
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "TASKIE_VAPID_PUBLIC_KEY=%s\nTASKIE_VAPID_PRIVATE_KEY=%s\n", pub, priv)
			return nil
		},
	}
}

func newBackupCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Upload an encrypted database snapshot to S3",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)
			m, err := backupManager(cfg, logger)
			if err != nil {
				return err
			}

			db, err := database.Open(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			key, err := m.Run(commandContext(cmd), db)
			if err != nil {
				return err
			}
			fmt.Fprintln(stdout, key)
			return nil
		},
	}
}

func newRestoreCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <key>",
		Short: "Replace the database with a snapshot from S3",
		Long:  "Downloads and decrypts the snapshot at <key> and replaces the configured database. Stop the server first.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)
			m, err := backupManager(cfg, logger)
			if err != nil {
				return err
			}
			if err := m.Restore(commandContext(cmd), args[0], cfg.DBPath); err != nil {
				return err
			}
			fmt.Fprintf(stdout, "restored %s to %s\n", args[0], cfg.DBPath)
			return nil
		},
	}
}

func backupManager(cfg config.Config, logger *slog.Logger) (*backup.Manager, error) {
	s3cfg := cfg.S3.Media()
	if cfg.Backup.Bucket != "" {
		s3cfg.Bucket = cfg.Backup.Bucket
	}
	if !s3cfg.Enabled() {
		return nil, errors.New("backups need S3 storage configured")
	}
	if cfg.Backup.Passphrase == "" {
		return nil, backup.ErrNoPassphrase
	}
	return backup.NewManager(media.NewS3Client(s3cfg), s3cfg.Bucket, cfg.Backup.Passphrase,
		logger.With("component", "backup")), nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func runServe(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	mediaStore := media.New(cfg.S3.Media())
	if !mediaStore.Enabled() {
		slog.Info("image uploads disabled, S3 not configured")
	}
	pushSvc := push.NewService(cfg.Push.VAPIDPublicKey, cfg.Push.VAPIDPrivateKey, cfg.Push.Subscriber)
	if !pushSvc.Enabled() {
		slog.Info("push notifications disabled, VAPID keys not configured")
	}

	srv := server.New(db, server.Options{
		SecureCookies: cfg.SecureCookies,
		Media:         mediaStore,
		Push:          pushSvc,
	}, logger)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if n := srv.Notifier(); n != nil {
		n.Start(ctx)
		defer n.Stop()
	}

	// Background cleanup goroutine
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n, err := srv.SessionStore().DeleteExpired(); err != nil {
					slog.Error("cleanup expired sessions", "error", err)
				} else if n > 0 {
					slog.Info("cleaned up expired sessions", "count", n)
				}
				srv.RateLimiter().Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("taskie starting", "addr", httpServer.Addr, "base_url", cfg.BaseURL)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
