package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"snare/internal/app"
	"snare/internal/config"
	"snare/pkg/audit"
	"snare/pkg/logger"
)

// HandleServe starts the HTTP API and blocks until SIGINT or SIGTERM.
func HandleServe() {
	// 1. CORE SETUP (Config, Logger)
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("❌ Config Error: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Env)
	slog.Info("Starting snare...", "env", cfg.Env, "scripts", cfg.ScriptsDir, "sandbox", cfg.Sandbox)

	// 2. AUDIT STORE (optional)
	var store *audit.Store
	if cfg.AuditDriver != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		store, err = audit.Open(ctx, cfg.AuditDriver, cfg.AuditDSN)
		cancel()
		if err != nil {
			slog.Error("❌ Audit database unavailable", "driver", cfg.AuditDriver, "error", err)
			os.Exit(1)
		}
		slog.Info("✅ Audit Log Ready", "driver", cfg.AuditDriver, "dialect", store.Dialect().Name())
	} else {
		slog.Info("🚫 Audit Log Disabled (AUDIT_DRIVER not set)")
	}

	appCtx, err := app.NewAppContext(cfg, store)
	if err != nil {
		slog.Error("❌ Critical Startup Error", "error", err)
		os.Exit(1)
	}
	defer appCtx.Close()

	// 3. PRELOAD (scripts that fail are logged and served as errors later)
	if cfg.Preload {
		slog.Info("🔍 Preloading scripts...", "dir", cfg.ScriptsDir)
		if failures := appCtx.Registry.LoadAll(); len(failures) > 0 {
			slog.Warn("⚠️  Some scripts failed to load", "count", len(failures))
		}
	}

	// 4. HTTP SERVER
	startServer(cfg.Port, app.BuildRouter(appCtx))
}

func startServer(port string, handler http.Handler) {
	srv := &http.Server{
		Addr:              port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start Listener first to catch "port in use" error cleanly
	ln, err := net.Listen("tcp", port)
	if err != nil {
		fmt.Println("\n" + strings.Repeat("=", 60))
		fmt.Println("❌ FAILED TO START SERVER")
		fmt.Println(strings.Repeat("=", 60))
		fmt.Printf("Error: %v\n", err)
		fmt.Println("\nChange APP_PORT in the .env file to use a different port.")
		fmt.Println(strings.Repeat("=", 60) + "\n")
		os.Exit(1)
	}

	go func() {
		slog.Info("🚀 snare Ready", "port", port)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("❌ Listen failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	slog.Info("⚠️  Shutting down server...")

	// In-flight executions finish; Shutdown waits for their handlers.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("❌ Server Forced Shutdown", "error", err)
	} else {
		slog.Info("✅ Server Gracefully Stopped")
	}
}
