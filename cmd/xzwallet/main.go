package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/x-zero2026/xz-wallet-contract/internal/audit"
	"github.com/x-zero2026/xz-wallet-contract/internal/bus"
	"github.com/x-zero2026/xz-wallet-contract/internal/config"
	"github.com/x-zero2026/xz-wallet-contract/internal/ledger"
	"github.com/x-zero2026/xz-wallet-contract/internal/lifecycle"
	otelPkg "github.com/x-zero2026/xz-wallet-contract/internal/otel"
	"github.com/x-zero2026/xz-wallet-contract/internal/persistence"
	"github.com/x-zero2026/xz-wallet-contract/internal/telemetry"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

TASK COMMANDS:
  %s create -f <file.json> --as <principal>     Post a new task (funds locked in escrow)
  %s publish <task-id> --as <principal>         Open a pending task for bidding
  %s bid <task-id> --as <principal> [-m <msg>]  Bid on a task open for bidding
  %s select <task-id> <bidder> --as <principal> Accept a bid; other bids are rejected
  %s submit <task-id> <milestone> --as <p> [-m] Submit work for design|implementation|final
  %s approve <task-id> <milestone> --as <p>     Approve a submission and release its share
  %s reject <task-id> <milestone> --as <p> [-m] Reject a submission with a reason
  %s cancel <task-id> --as <p> [--extra <amt>]  Cancel a task; remainder refunds to creator

QUERY COMMANDS:
  %s get <task-id>                              Show one task with bids and submissions
  %s list [--status s] [--creator p] [--bidder p]
  %s events <task-id>                           Show the task's state transition log
  %s balance <principal>                        Show ledger balance and credit score
  %s history <principal>                        Show credit score history

WALLET COMMANDS:
  %s credit <principal> <amount>                Mint funds into the local dev ledger
  %s sweep [--ttl <duration>]                   Expire stale pending bids once
  %s daemon                                     Run the bid sweeper until interrupted

FLAGS:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0],
		os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0],
		os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  XZWALLET_HOME           Data directory (default: ~/.xzwallet)
  XZWALLET_DB_PATH        Override the sqlite database path
  XZWALLET_LOG_LEVEL      debug | info | warn | error

EXAMPLES:
  Post a task:            %s create -f task.json --as alice
  Bid as an executor:     %s bid 4f1c... --as bob -m "can start today"
  Approve the design:     %s approve 4f1c... design --as alice
`, os.Args[0], os.Args[0], os.Args[0])
}

func main() {
	loadDotEnv(".env")

	flag.Usage = printUsage
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(2)
	}

	cmd := strings.ToLower(strings.TrimSpace(args[0]))
	if cmd == "help" || cmd == "-h" || cmd == "--help" {
		printUsage()
		return
	}
	if cmd == "version" {
		fmt.Println(Version)
		return
	}

	// Quiet logs (file-only) on a terminal so command output stays clean.
	quiet := isatty.IsTerminal(os.Stdout.Fd())

	app, err := newApp(ctx, quiet, cmd == "daemon")
	if err != nil {
		// newApp already audited and logged the failure.
		os.Exit(1)
	}
	defer app.Close(ctx)

	os.Exit(app.run(ctx, cmd, args[1:]))
}

// app is the assembled wallet: config, store, ledger, and lifecycle service.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	store    *persistence.Store
	devLedge *ledger.File
	service  *lifecycle.Service
	bus      *bus.Bus
	otel     *otelPkg.Provider

	closers []func()
}

func newApp(ctx context.Context, quiet, metricsWanted bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	// Audit before the logger so logger init failures are still audited.
	if err := audit.Init(cfg.HomeDir); err != nil {
		return nil, fatalStartup(nil, "E_AUDIT_INIT", err)
	}

	logger, logCloser, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, quiet)
	if err != nil {
		return nil, fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	slog.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger, bus: bus.New()}
	a.closers = append(a.closers, func() { _ = audit.Close() }, func() { _ = logCloser.Close() })

	if cfg.NeedsGenesis {
		if err := config.Save(cfg.HomeDir, cfg); err != nil {
			a.Close(ctx)
			return nil, fatalStartup(logger, "E_CONFIG_WRITE", err)
		}
		logger.Info("config.yaml written with defaults", "home", cfg.HomeDir)
	}

	// Metrics export only matters for the long-running daemon; one-shot
	// commands get the no-op provider.
	otelCfg := otelPkg.Config{
		Enabled:         cfg.Metrics.Enabled && metricsWanted,
		ServiceName:     cfg.Metrics.ServiceName,
		IntervalSeconds: cfg.Metrics.IntervalSeconds,
	}
	provider, err := otelPkg.Init(ctx, otelCfg)
	if err != nil {
		a.Close(ctx)
		return nil, fatalStartup(logger, "E_OTEL_INIT", err)
	}
	a.otel = provider

	store, err := persistence.Open(cfg.DBPath, a.bus)
	if err != nil {
		a.Close(ctx)
		return nil, fatalStartup(logger, "E_STORE_OPEN", err)
	}
	a.store = store
	a.closers = append(a.closers, func() { _ = store.Close() })
	audit.SetDB(store.DB())

	devLedger, err := ledger.OpenFile(filepath.Join(cfg.HomeDir, "ledger.json"))
	if err != nil {
		a.Close(ctx)
		return nil, fatalStartup(logger, "E_LEDGER_OPEN", err)
	}
	a.devLedge = devLedger

	retrying := ledger.NewRetrying(devLedger,
		cfg.Ledger.MaxAttempts,
		time.Duration(cfg.Ledger.RetryBaseMS)*time.Millisecond,
		time.Duration(cfg.Ledger.RetryMaxMS)*time.Millisecond,
	)

	metrics, err := otelPkg.NewMetrics(provider.Meter)
	if err != nil {
		a.Close(ctx)
		return nil, fatalStartup(logger, "E_METRICS_INIT", err)
	}
	retrying.OnRetry = func(ctx context.Context) {
		metrics.LedgerRetries.Add(ctx, 1)
	}

	a.service = lifecycle.New(store, retrying, logger, metrics, a.bus)
	return a, nil
}

func (a *app) Close(ctx context.Context) {
	if a.otel != nil {
		_ = a.otel.Shutdown(ctx)
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *app) run(ctx context.Context, cmd string, args []string) int {
	switch cmd {
	case "create":
		return a.runCreate(ctx, args)
	case "publish":
		return a.runPublish(ctx, args)
	case "bid":
		return a.runBid(ctx, args)
	case "select":
		return a.runSelect(ctx, args)
	case "submit":
		return a.runSubmit(ctx, args)
	case "approve":
		return a.runApprove(ctx, args)
	case "reject":
		return a.runReject(ctx, args)
	case "cancel":
		return a.runCancel(ctx, args)
	case "get":
		return a.runGet(ctx, args)
	case "list":
		return a.runList(ctx, args)
	case "events":
		return a.runEvents(ctx, args)
	case "balance":
		return a.runBalance(ctx, args)
	case "history":
		return a.runHistory(ctx, args)
	case "credit":
		return a.runCredit(ctx, args)
	case "sweep":
		return a.runSweep(ctx, args)
	case "daemon":
		return a.runDaemon(ctx, args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		printUsage()
		return 2
	}
}

// fatalStartup audits and logs a startup failure with an explicit reason code.
// It returns the error so callers can `return nil, fatalStartup(...)`.
func fatalStartup(logger *slog.Logger, reasonCode string, err error) error {
	message := ""
	if err != nil {
		message = err.Error()
	}
	audit.Record(context.Background(), "startup.fatal", "", "runtime", reasonCode+": "+message)

	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(
			os.Stderr,
			`{"timestamp":"%s","level":"ERROR","component":"wallet","trace_id":"-","msg":"startup failure","reason_code":%q,"error":%q}`+"\n",
			time.Now().UTC().Format(time.RFC3339Nano),
			reasonCode,
			message,
		)
	}
	if err == nil {
		err = fmt.Errorf("startup failure: %s", reasonCode)
	}
	return err
}

// loadDotEnv loads KEY=VALUE pairs from path without overriding set variables.
func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eq := strings.Index(line, "=")
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if key == "" || os.Getenv(key) != "" {
			continue
		}
		_ = os.Setenv(key, val)
	}
}
