package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dustinober1/studysync/internal/syncer"
	"github.com/dustinober1/studysync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Run one drain pass over the pending queue",
	Long: `Drain the pending sync queue against the remote store once.

Every queued local mutation is pushed remotely with the configured conflict
strategy. Cards that fail stay pending for a later pass.`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().String("strategy", "",
		"conflict strategy: server-wins, local-wins, last-write-wins, merge")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	name, _ := cmd.Flags().GetString("strategy")
	if name == "" {
		name = cfg.Sync.Strategy
	}
	strategy, err := syncer.ParseStrategy(name)
	if err != nil {
		return err
	}

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	rs, err := newRemote()
	if err != nil {
		return err
	}

	engine := syncer.New(st, rs, alwaysOnline{}, nil)
	engine.SetRetryInterval(0) // explicit run: attempt everything

	fmt.Printf("%s Draining pending queue (%s)...\n", ui.RenderAccent("▶"), strategy)
	res := engine.DrainQueue(ctx, strategy)

	if res.Skipped {
		fmt.Printf("%s Another drain pass is already running\n", ui.RenderWarn("!"))
		return nil
	}

	marker := ui.RenderPass("✓")
	if res.Failed > 0 {
		marker = ui.RenderWarn("!")
	}
	fmt.Printf("%s Drain complete in %v\n", marker, res.Duration.Round(time.Millisecond))
	fmt.Printf("   Synced: %d\n", res.Synced)
	fmt.Printf("   Deleted: %d\n", res.Deleted)
	if res.Failed > 0 {
		fmt.Printf("   Failed (still pending): %d\n", res.Failed)
	}
	return nil
}
