package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/x-zero2026/xz-wallet-contract/internal/config"
	"github.com/x-zero2026/xz-wallet-contract/internal/cron"
)

func (a *app) runCredit(ctx context.Context, args []string) int {
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: xzwallet credit <principal> <amount>")
		return 2
	}
	principal := args[0]
	amount, err := decimal.NewFromString(args[1])
	if err != nil || !amount.IsPositive() {
		return fail(fmt.Errorf("amount %q must be a positive decimal", args[1]))
	}

	if err := a.devLedge.Credit(principal, amount); err != nil {
		return fail(err)
	}
	balance, err := a.devLedge.BalanceOf(ctx, principal)
	if err != nil {
		return fail(err)
	}
	fmt.Printf("credited %s to %s, balance now %s\n", amount, principal, balance)
	return 0
}

func (a *app) runSweep(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("sweep", flag.ContinueOnError)
	ttl := fs.Duration("ttl", time.Duration(a.cfg.Escrow.BidTTLMinutes)*time.Minute,
		"expire pending bids older than this")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *ttl <= 0 {
		return fail(fmt.Errorf("ttl must be positive"))
	}

	expired, err := a.service.ExpireStaleBids(ctx, *ttl)
	if err != nil {
		return fail(err)
	}
	fmt.Printf("expired %d stale bids\n", expired)
	return 0
}

// runDaemon runs the bid sweeper on its cron schedule until interrupted,
// reloading nothing but logging config file changes for the operator.
func (a *app) runDaemon(ctx context.Context, args []string) int {
	if len(args) != 0 {
		fmt.Fprintln(os.Stderr, "usage: xzwallet daemon")
		return 2
	}

	sweeper, err := cron.NewScheduler(cron.Config{
		Sweeper:  a.service,
		Logger:   a.logger,
		Schedule: a.cfg.Escrow.SweepSchedule,
		BidTTL:   time.Duration(a.cfg.Escrow.BidTTLMinutes) * time.Minute,
	})
	if err != nil {
		return fail(fmt.Errorf("bad sweep_schedule: %w", err))
	}
	sweeper.Start(ctx)
	defer sweeper.Stop()

	reloads, err := config.Watch(ctx, a.cfg.HomeDir, a.logger)
	if err != nil {
		a.logger.Warn("config watcher unavailable", "error", err)
	}

	a.logger.Info("daemon running", "config_fingerprint", a.cfg.Fingerprint())
	fmt.Println("daemon running, press ctrl-c to stop")

	for {
		select {
		case <-ctx.Done():
			fmt.Println("shutting down")
			return 0
		case ev, ok := <-reloads:
			if !ok {
				reloads = nil
				continue
			}
			// Schedule changes take effect on restart; flag it for the operator.
			a.logger.Info("config.yaml changed, restart to apply", "path", ev.Path, "op", ev.Op)
		}
	}
}
