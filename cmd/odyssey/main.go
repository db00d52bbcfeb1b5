package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ops/cmd/odyssey/cli"
	"github.com/odyssey-erp/odyssey-ops/internal/app"
	"github.com/odyssey-erp/odyssey-ops/internal/consistency"
	"github.com/odyssey-erp/odyssey-ops/internal/coordinator"
	jobmetrics "github.com/odyssey-erp/odyssey-ops/internal/jobs"
	"github.com/odyssey-erp/odyssey-ops/internal/observability"
	"github.com/odyssey-erp/odyssey-ops/internal/rbac"
	"github.com/odyssey-erp/odyssey-ops/jobs"
)

const usage = `usage: odyssey [command]

commands:
  serve                       run the HTTP API (default)
  audit [-json]               list consistency findings
  repair [-apply] [-confirm-destructive] [-actor id] [-json]
                              repair findings; dry run unless -apply
  jobs trigger <task>         enqueue a background task
  jobs stats                  show queue depth
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	args := os.Args[1:]
	command := "serve"
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	var code int
	switch command {
	case "serve":
		code = serve(ctx, stop, cfg, logger)
	case "audit", "repair":
		code = maintenance(ctx, cfg, command, args)
	case "jobs":
		code = jobsCommand(ctx, cfg, args)
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprint(os.Stderr, usage)
		code = 2
	}
	stop()
	os.Exit(code)
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) int {
	backend, err := app.OpenBackend(ctx, cfg, logger)
	if err != nil {
		logger.Error("open backend", slog.Any("error", err))
		return 1
	}
	defer backend.Close()

	metrics := observability.NewMetrics()
	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())

	rbacService := rbac.NewService(backend.Permissions)
	rbacMiddleware := rbac.Middleware{Service: rbacService, Logger: logger}

	engine := coordinator.NewService(backend.Repository, logger, metrics, coordinator.Config{DefaultPaymentTerms: cfg.DefaultPaymentTerms})
	auditor := consistency.NewAuditor(backend.Repository, logger, jobMetrics)
	repairer := consistency.NewRepairer(backend.Repository, backend.Lock, logger, jobMetrics, consistency.RepairConfig{PaymentTerms: cfg.DefaultPaymentTerms})

	var (
		enqueuer   consistency.Enqueuer
		jobHandler *jobs.Handler
	)
	if backend.Redis != nil {
		redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
		client := jobs.NewClient(redisOpts)
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn("asynq client close", slog.Any("error", err))
			}
		}()
		inspector := asynq.NewInspector(redisOpts)
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("asynq inspector close", slog.Any("error", err))
			}
		}()
		enqueuer = client
		jobHandler = jobs.NewHandler(inspector, logger)
	} else {
		jobHandler = jobs.NewHandler(nil, logger)
	}

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		CoordinatorHandler: coordinator.NewHandler(logger, engine, rbacMiddleware),
		MaintenanceHandler: consistency.NewHandler(logger, auditor, repairer, enqueuer, rbacMiddleware),
		PermissionsHandler: rbac.NewPermissionsHandler(logger, rbacService, rbacMiddleware),
		JobHandler:         jobHandler,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("store", cfg.StoreDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
		return 1
	}
	return 0
}

func maintenance(ctx context.Context, cfg *app.Config, command string, args []string) int {
	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "print JSON instead of a table")
	apply := fs.Bool("apply", false, "apply repairs (default is a dry run)")
	confirm := fs.Bool("confirm-destructive", false, "allow deleting orphan invoices")
	actor := fs.String("actor", "", "actor id recorded in the audit trail")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	logger := app.NewLoggerTo(os.Stderr, cfg)
	if cfg.StoreDriver == app.DriverMemory {
		logger.Warn("memory driver selected; the CLI sees an empty store")
	}
	backend, err := app.OpenBackend(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", command, err)
		return 1
	}
	defer backend.Close()

	auditor := consistency.NewAuditor(backend.Repository, logger, nil)
	repairer := consistency.NewRepairer(backend.Repository, backend.Lock, logger, nil, consistency.RepairConfig{PaymentTerms: cfg.DefaultPaymentTerms})
	tool := cli.NewMaintenanceCLI(auditor, repairer)

	if command == "audit" {
		return tool.AuditCommand(ctx, cli.AuditOptions{JSONOutput: *jsonOut})
	}
	return tool.RepairCommand(ctx, cli.RepairOptions{
		Apply:              *apply,
		ConfirmDestructive: *confirm,
		ActorID:            *actor,
		JSONOutput:         *jsonOut,
	})
}

func jobsCommand(ctx context.Context, cfg *app.Config, args []string) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
	tool := cli.NewJobsCLI(cfg.RedisAddr)
	defer tool.Close()

	switch args[0] {
	case "trigger":
		if len(args) != 2 {
			fmt.Fprintln(os.Stderr, "jobs trigger: task name required ("+jobs.TaskConsistencySweep+", "+jobs.TaskIdempotencyCleanup+")")
			return 2
		}
		info, err := tool.Trigger(ctx, args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobs trigger: %v\n", err)
			return 1
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
		return 0
	case "stats":
		stats, err := tool.InspectQueue(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobs stats: %v\n", err)
			return 1
		}
		printStats(os.Stdout, stats)
		return 0
	}
	fmt.Fprint(os.Stderr, usage)
	return 2
}

func printStats(w io.Writer, stats cli.QueueStats) {
	fmt.Fprintf(w, "queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
		stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
}
