package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/taskwire/taskwire/internal/config"
	"github.com/taskwire/taskwire/internal/httpapi"
	"github.com/taskwire/taskwire/internal/server"
	"github.com/taskwire/taskwire/internal/storage/sqlite"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync daemon",
	Run: func(cmd *cobra.Command, args []string) {
		if err := runServe(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func newLogger() *slog.Logger {
	var out io.Writer = os.Stderr
	if logFile != "" {
		out = &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    50, // megabytes
			MaxBackups: 3,
			MaxAge:     14, // days
			Compress:   true,
		}
	}
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
}

// acquirePidfile writes our pid next to the socket, refusing to start
// if another daemon still holds it. Signal 0 probes without killing.
func acquirePidfile(path string) error {
	if data, err := os.ReadFile(path); err == nil {
		if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil && pid > 0 {
			if unix.Kill(pid, 0) == nil {
				return fmt.Errorf("daemon already running with pid %d", pid)
			}
		}
		// Stale pidfile from a dead process
		_ = os.Remove(path)
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func runServe() error {
	logger := newLogger()

	if err := os.MkdirAll(filepath.Dir(socketPath), 0o750); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}
	pidPath := strings.TrimSuffix(socketPath, ".sock") + ".pid"
	if err := acquirePidfile(pidPath); err != nil {
		return err
	}
	defer func() { _ = os.Remove(pidPath) }()

	store, err := sqlite.New(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = store.Close() }()
	logger.Info("database open", "path", store.Path())

	registry := server.NewRegistry()
	broadcaster := server.NewBroadcaster(registry, logger)
	idemTTL := config.GetDuration("idempotency-ttl")
	idem := server.NewIdempotencyCache(idemTTL)
	dispatcher := server.NewDispatcher(store, registry, broadcaster, idem, logger, Version)
	srv := server.NewServer(dispatcher, registry, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go idem.Sweep(ctx, 5*time.Minute)

	config.Watch(logger, nil)

	// A leftover socket from an unclean shutdown blocks Listen
	_ = os.Remove(socketPath)
	l, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", socketPath, err)
	}
	defer func() { _ = os.Remove(socketPath) }()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "socket", socketPath)
		serveErr <- srv.Serve(l)
	}()

	var httpSrv *http.Server
	httpErr := make(chan error, 1)
	if httpAddr != "" {
		httpSrv = &http.Server{
			Addr:              httpAddr,
			Handler:           httpapi.NewHandler(dispatcher, registry, logger),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("http listening", "addr", httpAddr)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				httpErr <- err
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for {
		select {
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				logger.Info("received SIGHUP, ignoring (config file changes reload automatically)")
				continue
			}
			logger.Info("shutting down", "signal", sig.String())
			cancel()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if httpSrv != nil {
				if err := httpSrv.Shutdown(shutdownCtx); err != nil {
					logger.Error("http shutdown failed", "error", err)
				}
			}
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("server shutdown failed", "error", err)
			}
			logger.Info("daemon stopped")
			return nil
		case err := <-serveErr:
			if err != nil {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		case err := <-httpErr:
			return fmt.Errorf("http server failed: %w", err)
		}
	}
}
