package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/odvcencio/gitforge/internal/auth"
	"github.com/odvcencio/gitforge/internal/config"
	"github.com/odvcencio/gitforge/internal/database"
	"github.com/odvcencio/gitforge/internal/gitcmd"
	"github.com/odvcencio/gitforge/internal/hooks"
	"github.com/odvcencio/gitforge/internal/smarthttp"
	"github.com/odvcencio/gitforge/internal/storage"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: gitforge <command>\n\nCommands:\n  serve    Start the server\n  migrate  Run database migrations\n  hook     Run a server-side hook (invoked by git)\n  admin    Repository administration\n")
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "migrate":
		cmdMigrate(os.Args[2:])
	case "hook":
		cmdHook(os.Args[2:])
	case "admin":
		cmdAdmin(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}
}

func cmdServe(args []string) {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	if *configPath != "" {
		// Hook processes spawned under git-receive-pack inherit our
		// environment; this is how they find the same config file.
		os.Setenv("GITFORGE_CONFIG", *configPath)
	}
	if err := cfg.ValidateServe(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	traceShutdown, err := initTracing(context.Background())
	if err != nil {
		slog.Error("init tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := traceShutdown(ctx); err != nil {
			slog.Error("shutdown tracing", "error", err)
		}
	}()

	db, err := database.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		slog.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Auto-migrate on startup
	if err := db.Migrate(context.Background()); err != nil {
		slog.Error("migrate", "error", err)
		os.Exit(1)
	}

	dur, err := time.ParseDuration(cfg.Auth.TokenDuration)
	if err != nil {
		dur = 24 * time.Hour
	}
	authSvc := auth.NewService(cfg.Auth.JWTSecret, dur)

	store, err := buildStorageManager(cfg)
	if err != nil {
		slog.Error("init storage", "error", err)
		os.Exit(1)
	}

	server := smarthttp.NewServer(db, authSvc, store, gitcmd.NewRunner(), slog.Default())

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second, // large clones stream for a while
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt)

	go func() {
		slog.Info("gitforge listening", "addr", cfg.Addr())
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("listen", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpServer.Shutdown(ctx)
}

func cmdMigrate(args []string) {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	db, err := database.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		slog.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(context.Background()); err != nil {
		slog.Error("migrate", "error", err)
		os.Exit(1)
	}
	slog.Info("migrations complete")
}

// cmdHook runs inside the hook stub spawned by git-receive-pack. Its
// stderr goes straight back to the pushing client, so logs go there
// too, in plain text.
func cmdHook(args []string) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: gitforge hook <pre-receive|update|post-receive> [args]")
		os.Exit(1)
	}
	name := args[0]

	cfg, err := config.Load(os.Getenv("GITFORGE_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "gitforge hook: load config: %v\n", err)
		os.Exit(1)
	}

	runner := hooks.NewRunner(gitcmd.NewRunner(), cfg, slog.Default())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := runner.Run(ctx, name, args[1:], os.Stdin, os.Stderr); err != nil {
		os.Exit(1)
	}
}

func buildStorageManager(cfg *config.Config) (*storage.Manager, error) {
	installer, err := hooks.NewInstaller(cfg.Hooks)
	if err != nil {
		return nil, err
	}
	layout := storage.NewLayout(cfg.Storage.Path)
	m := storage.NewManager(layout, gitcmd.NewRunner(), installer, slog.Default())
	if cfg.Storage.TempDir != "" {
		m.SetTempRoot(cfg.Storage.TempDir)
	}
	return m, nil
}

func buildArchiveStore(cfg *config.Config) (storage.ArchiveStore, error) {
	switch cfg.Archive.Backend {
	case "", "local":
		return storage.NewLocalArchive(cfg.Archive.LocalPath)
	case "s3":
		return storage.NewS3Archive(context.Background(), storage.S3Config{
			Endpoint:  cfg.Archive.S3.Endpoint,
			Region:    cfg.Archive.S3.Region,
			Bucket:    cfg.Archive.S3.Bucket,
			AccessKey: cfg.Archive.S3.AccessKey,
			SecretKey: cfg.Archive.S3.SecretKey,
			UseSSL:    cfg.Archive.S3.UseSSL,
		})
	default:
		return nil, fmt.Errorf("unknown archive backend %q", cfg.Archive.Backend)
	}
}
