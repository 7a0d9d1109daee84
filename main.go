package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dbosgo/dbosgo/internal/metrics"
	"github.com/dbosgo/dbosgo/internal/queue"
	"github.com/dbosgo/dbosgo/internal/recovery"
	"github.com/dbosgo/dbosgo/internal/schema"
	"github.com/dbosgo/dbosgo/internal/sysdb"
	"github.com/dbosgo/dbosgo/pkg/dbpool"
	"github.com/dbosgo/dbosgo/services/admin"
)

func main() {
	ctx := context.Background()
	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	slog.SetDefault(slog.New(logHandler))

	appDBURL, ok := os.LookupEnv("DATABASE_URL")
	if !ok {
		slog.Error("DATABASE_URL is not set")
		return
	}

	sysDBURL, ok := os.LookupEnv("SYSTEM_DATABASE_URL")
	if !ok {
		derived, err := deriveSysDBURL(appDBURL)
		if err != nil {
			slog.Error("Failed to derive system database URL", "error", err)
			return
		}
		sysDBURL = derived
	}

	if err := ensureSysDB(ctx, appDBURL, sysDBURL); err != nil {
		slog.Error("Failed to create system database", "error", err)
		return
	}

	appPool, err := dbpool.Connect(ctx, dbpool.DefaultConfig(appDBURL))
	if err != nil {
		slog.Error("Failed to connect to application database", "error", err)
		return
	}
	defer appPool.Close()

	sysPool, err := dbpool.Connect(ctx, dbpool.DefaultConfig(sysDBURL))
	if err != nil {
		slog.Error("Failed to connect to system database", "error", err)
		return
	}

	if err := schema.ApplySysDB(ctx, sysPool); err != nil {
		slog.Error("Failed to migrate system database", "error", err)
		return
	}
	if err := schema.ApplyAppDB(ctx, appPool); err != nil {
		slog.Error("Failed to migrate application database", "error", err)
		return
	}

	metricsReg := metrics.New(prometheus.DefaultRegisterer)

	sysDB := sysdb.New(sysPool, sysDBURL, sysdb.WithMetrics(metricsReg))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	sysDB.Start(runCtx)

	exec := newDemoExecutor(sysDB)
	exec.RegisterWorkflow("greeter", greeterWorkflow)

	queues := queue.NewRegistry()
	greeterConcurrency := 2
	queues.Register(&queue.Queue{
		Name:        "greetings",
		Concurrency: &greeterConcurrency,
		Limiter:     &sysdb.RateLimit{Limit: 50, Period: 10},
	})

	dispatcher := queue.NewDispatcher(sysDB, queues, exec, slog.Default())
	go dispatcher.Run(runCtx)

	recoveryEngine := recovery.New(sysDB, exec, slog.Default(), metricsReg)
	pending, err := sysDB.GetPendingWorkflows(ctx, "local")
	if err != nil {
		slog.Error("Failed to list pending workflows", "error", err)
		return
	}
	go func() {
		if err := recoveryEngine.RunStartupRecovery(runCtx, pending); err != nil {
			slog.Error("Startup recovery failed", "error", err)
		}
	}()

	// setup router
	mainRouter := mux.NewRouter()
	mainRouter.Handle("/metrics", promhttp.Handler())

	apiRouter := mainRouter.PathPrefix("/api/v1").Subrouter()

	adminService, err := admin.NewService(sysDB)
	if err != nil {
		slog.Error("Failed to create admin service", "error", err)
		return
	}
	adminService.LoadRoutes(apiRouter)

	apiRouter.HandleFunc("/greetings/{name}", handleGreeting(exec)).Methods("POST")

	corsHandler := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)

	srv := &http.Server{
		Addr:         ":8086",
		Handler:      corsHandler(handlers.LoggingHandler(os.Stdout, mainRouter)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // result awaits are long-polls
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("Starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	slog.Info("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown failed", "error", err)
	}

	cancel()
	sysDB.Destroy(shutdownCtx)
}

// deriveSysDBURL applies the default system-database naming: the
// application database's name suffixed with "_dbos_sys".
func deriveSysDBURL(appDBURL string) (string, error) {
	u, err := url.Parse(appDBURL)
	if err != nil {
		return "", err
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "_dbos_sys"
	return u.String(), nil
}

// ensureSysDB creates the system database on first boot, connecting to the
// admin "postgres" database under the same credentials.
func ensureSysDB(ctx context.Context, appDBURL, sysDBURL string) error {
	sysURL, err := url.Parse(sysDBURL)
	if err != nil {
		return err
	}
	sysDBName := strings.TrimPrefix(sysURL.Path, "/")

	adminURL, err := url.Parse(appDBURL)
	if err != nil {
		return err
	}
	adminURL.Path = "/postgres"

	return dbpool.EnsureDatabase(ctx, adminURL.String(), sysDBName)
}
