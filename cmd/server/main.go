package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/forgeutils/chanterelle/internal/app"
	"github.com/forgeutils/chanterelle/internal/config"
	"github.com/forgeutils/chanterelle/internal/platform/logger"
	"github.com/forgeutils/chanterelle/internal/store"
	"github.com/pressly/goose/v3"
)

func main() {
	migrateCmd := flag.String("migrate", "", "run a migration command (up, down, status) and exit")
	flag.Parse()

	if err := run(*migrateCmd); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(migrateCmd string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	log := logger.Setup(cfg.Server)

	db, err := store.Open(cfg.Database.URL)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			log.Warn("closing database", "error", cerr)
		}
	}()

	if migrateCmd != "" {
		return runMigrations(cfg, db, migrateCmd)
	}

	a := app.New(cfg, db, log)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// runMigrations executes a goose command against the configured database
// using the embedded migration scripts.
func runMigrations(cfg *config.Config, db *sql.DB, cmd string) error {
	dialect, err := store.Dialect(cfg.Database.URL)
	if err != nil {
		return err
	}
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}
	goose.SetBaseFS(store.MigrationsFS)

	switch cmd {
	case "up":
		err = goose.Up(db, store.MigrationsDir)
	case "down":
		err = goose.Down(db, store.MigrationsDir)
	case "status":
		err = goose.Status(db, store.MigrationsDir)
	default:
		return fmt.Errorf("unknown migration command %q", cmd)
	}
	if err != nil {
		return fmt.Errorf("migration %s: %w", cmd, err)
	}
	return nil
}
