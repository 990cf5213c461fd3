package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dustinober1/studysync/internal/config"
	"github.com/dustinober1/studysync/internal/connectivity"
	"github.com/dustinober1/studysync/internal/dashboard"
	"github.com/dustinober1/studysync/internal/syncer"
	"github.com/dustinober1/studysync/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run the connectivity-aware sync daemon (foreground)",
	Long: `Run the sync daemon in the foreground.

The daemon:
  1. Probes reachability of the configured address and tracks online/offline
     transitions
  2. Drains the pending sync queue once per reconnect
  3. Optionally serves a WebSocket dashboard broadcasting sync status

Press Ctrl+C to stop.`,
	RunE: runDaemon,
}

func init() {
	daemonCmd.Flags().Bool("dashboard", false, "serve the WebSocket status dashboard")
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger := config.NewLogger(cfg.Log, "[daemon] ")

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	rs, err := newRemote()
	if err != nil {
		return err
	}

	strategy, err := syncer.ParseStrategy(cfg.Sync.Strategy)
	if err != nil {
		return err
	}

	probe := connectivity.NewProbe(cfg.Probe.Addr, cfg.Probe.Interval)
	monitor := connectivity.New(probe, probe.Check(), logger)

	engine := syncer.New(st, rs, monitor, logger)
	engine.SetRetryInterval(cfg.Sync.RetryAfter)

	var board *dashboard.Server
	wantDashboard, _ := cmd.Flags().GetBool("dashboard")
	if wantDashboard || cfg.Dashboard.Enabled {
		board = dashboard.NewServer(fmt.Sprintf(":%d", cfg.Dashboard.Port), logger)
		if err := board.Start(); err != nil {
			return err
		}
		defer func() {
			if err := board.Stop(); err != nil {
				logger.Printf("Dashboard stop: %v", err)
			}
		}()
	}

	monitor.SetDrain(func(ctx context.Context) {
		res := engine.DrainQueue(ctx, strategy)
		publishDrain(ctx, board, st, res, logger)
	})

	if board != nil {
		unsubscribe := monitor.Subscribe(func(online bool) {
			if msg, err := dashboard.NewMessage(dashboard.MessageTypeConnectivity,
				dashboard.ConnectivityData{Online: online}); err == nil {
				board.Broadcast(msg)
			}
		})
		defer unsubscribe()
	}

	// Pick up config edits (e.g. a changed probe interval) without a
	// restart for the settings that can be applied live.
	if cfgFile != "" {
		err := config.Watch(cfgFile, logger, func(fresh *config.Config) {
			engine.SetRetryInterval(fresh.Sync.RetryAfter)
		})
		if err != nil {
			logger.Printf("WARNING: config watch disabled: %v", err)
		}
	}

	monitor.Start(ctx)
	defer monitor.Stop()

	fmt.Printf("%s Sync daemon running\n", ui.RenderAccent("▶"))
	fmt.Printf("   Cache: %s\n", cfg.DBPath)
	fmt.Printf("   Probe: %s every %v\n", cfg.Probe.Addr, cfg.Probe.Interval)
	if board != nil {
		fmt.Printf("   Dashboard: ws://localhost%s/ws\n", fmt.Sprintf(":%d", cfg.Dashboard.Port))
	}
	fmt.Println("\nPress Ctrl+C to stop")

	// An initial pass catches work queued while the daemon was down.
	if monitor.IsConnected() {
		res := engine.DrainQueue(ctx, strategy)
		publishDrain(ctx, board, st, res, logger)
	}

	<-ctx.Done()
	fmt.Println("\nShutting down")
	return nil
}

// publishDrain pushes a drain result and fresh pending counts to the
// dashboard, when one is running.
func publishDrain(ctx context.Context, board *dashboard.Server, st storeCounter, res syncer.Result, logger *log.Logger) {
	if board == nil || res.Skipped {
		return
	}
	if msg, err := dashboard.NewMessage(dashboard.MessageTypeDrain, dashboard.DrainData{
		Synced:   res.Synced,
		Deleted:  res.Deleted,
		Failed:   res.Failed,
		Deferred: res.Deferred,
		Duration: res.Duration.Round(time.Millisecond).String(),
	}); err == nil {
		board.Broadcast(msg)
	}

	pending, err := st.CountPending(ctx)
	if err != nil {
		logger.Printf("WARNING: failed to count pending: %v", err)
		return
	}
	depth, err := st.QueueDepth(ctx)
	if err != nil {
		logger.Printf("WARNING: failed to read queue depth: %v", err)
		return
	}
	if msg, err := dashboard.NewMessage(dashboard.MessageTypePending, dashboard.PendingData{
		PendingCards: pending,
		QueueDepth:   depth,
	}); err == nil {
		board.Broadcast(msg)
	}
}

type storeCounter interface {
	CountPending(ctx context.Context) (int, error)
	QueueDepth(ctx context.Context) (int, error)
}
