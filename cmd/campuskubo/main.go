package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukerupert/campuskubo/internal/backup"
	"github.com/dukerupert/campuskubo/internal/config"
	"github.com/dukerupert/campuskubo/internal/database"
	"github.com/dukerupert/campuskubo/internal/email"
	"github.com/dukerupert/campuskubo/internal/logging"
	"github.com/dukerupert/campuskubo/internal/model"
	"github.com/dukerupert/campuskubo/internal/server"
	"github.com/dukerupert/campuskubo/internal/settings"
	"github.com/dukerupert/campuskubo/internal/store"
	"github.com/dukerupert/campuskubo/internal/telemetry"
)

const usage = `usage: campuskubo [command]

commands:
  serve                    run the HTTP server (default)
  export-settings <file>   write the settings document to file
  import-settings <file>   validate and load a settings document from file
`

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	cmd := "serve"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "serve":
		err = serve(cfg, logger)
	case "export-settings", "import-settings":
		if len(os.Args) != 3 {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		err = settingsFile(cfg, logger, cmd, os.Args[2])
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error(cmd+" failed", "error", err)
		os.Exit(1)
	}
}

func settingsFile(cfg *config.Config, logger *slog.Logger, cmd, path string) error {
	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	svc := settings.NewService(store.NewSettingsStore(db), logger.With("component", "settings"))
	if err := svc.Initialize(); err != nil {
		return err
	}
	if cmd == "export-settings" {
		if err := svc.ExportFile(path); err != nil {
			return err
		}
		logger.Info("settings exported", "path", path)
		return nil
	}
	if err := svc.ImportFile(path); err != nil {
		return err
	}
	if err := store.NewActivityStore(db).Log(nil, model.ActionSettingsImported, "cli "+path); err != nil {
		logger.Warn("record activity", "error", err)
	}
	logger.Info("settings imported", "path", path)
	return nil
}

func serve(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing := telemetry.Setup(ctx, "campuskubo", logger)
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Error("shutdown tracing", "error", err)
		}
	}()

	if cfg.GeneratedSecret {
		logger.Warn("CAMPUSKUBO_SESSION_SECRET not set, sessions will not survive a restart")
	}

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	sessions, closeSessions, err := server.NewSessionProvider(ctx, server.SessionOptions{
		Backend:       cfg.SessionBackend,
		Secret:        cfg.SessionSecret,
		Timeout:       cfg.SessionTimeout,
		Secure:        cfg.SecureCookies,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
	})
	if err != nil {
		return err
	}
	defer closeSessions()

	srv, err := server.New(db, server.Config{
		Sessions:       sessions,
		SessionTimeout: cfg.SessionTimeout,
		EmailClient:    email.NewClient(cfg.PostmarkToken, cfg.MailFrom, cfg.BaseURL),
		Backup: backup.Config{
			S3: backup.S3Config{
				Endpoint:  cfg.S3Endpoint,
				Bucket:    cfg.S3Bucket,
				Region:    cfg.S3Region,
				AccessKey: cfg.S3AccessKey,
				SecretKey: cfg.S3SecretKey,
			},
			Passphrase: cfg.BackupPassphrase,
			Interval:   cfg.BackupInterval,
			Keep:       cfg.BackupKeep,
		},
		WSOrigins:      cfg.WSOrigins,
		TrustedProxies: cfg.TrustedProxies,
	}, logger)
	if err != nil {
		return err
	}

	if cfg.AdminEmail != "" && cfg.AdminPassword != "" {
		created, err := srv.AuthService().EnsureAdmin(cfg.AdminEmail, cfg.AdminPassword, cfg.AdminName)
		if err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
		if created {
			logger.Info("bootstrap admin created", "email", cfg.AdminEmail)
		}
	}

	srv.BackupManager().Start(ctx)
	defer srv.BackupManager().Stop()

	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				srv.Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("campuskubo starting", "addr", httpServer.Addr, "session_backend", cfg.SessionBackend, "session_timeout", cfg.SessionTimeout)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
