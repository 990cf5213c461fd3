package main

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/dustinober1/studysync/internal/ui"
)

var wipeCmd = &cobra.Command{
	Use:     "wipe",
	GroupID: "cards",
	Short:   "Clear the local cache and pending queue",
	Long: `Delete every cached card and every queued mutation.

Pending local edits that have not reached the remote store are LOST. Use
this on logout or to reset a corrupted cache.`,
	RunE: runWipe,
}

func init() {
	wipeCmd.Flags().BoolP("force", "f", false, "skip the confirmation prompt")
	rootCmd.AddCommand(wipeCmd)
}

func runWipe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	pending, err := st.CountPending(ctx)
	if err != nil {
		return err
	}

	if force, _ := cmd.Flags().GetBool("force"); !force {
		title := "Wipe the local cache?"
		if pending > 0 {
			title = fmt.Sprintf("Wipe the local cache? %d unsynced change(s) will be lost.", pending)
		}

		var confirmed bool
		prompt := huh.NewConfirm().
			Title(title).
			Affirmative("Wipe").
			Negative("Keep").
			Value(&confirmed)
		if err := prompt.Run(); err != nil {
			return err
		}
		if !confirmed {
			fmt.Println("Aborted")
			return nil
		}
	}

	if err := st.Wipe(ctx); err != nil {
		return err
	}
	fmt.Printf("%s Local cache wiped\n", ui.RenderPass("✓"))
	return nil
}
