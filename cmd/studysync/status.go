package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dustinober1/studysync/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show local cache and queue status",
	Long: `Display the state of the local flashcard cache.

Shows the cache location and size, total cached cards, how many are still
pending confirmation, and the sync queue depth.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().Bool("yaml", false, "emit machine-readable YAML")
	rootCmd.AddCommand(statusCmd)
}

// statusReport is the machine-readable shape of `studysync status --yaml`.
type statusReport struct {
	Cache      string `yaml:"cache"`
	SizeBytes  int64  `yaml:"size_bytes"`
	Cards      int    `yaml:"cards"`
	Pending    int    `yaml:"pending"`
	QueueDepth int    `yaml:"queue_depth"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	info, err := os.Stat(cfg.DBPath)
	if os.IsNotExist(err) {
		fmt.Printf("\n%s Local cache not initialized\n", ui.RenderWarn("!"))
		fmt.Printf("   It will be created on first use (%s)\n\n", cfg.DBPath)
		return nil
	}
	if err != nil {
		return err
	}

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	cards, err := st.CountCards(ctx)
	if err != nil {
		return err
	}
	pending, err := st.CountPending(ctx)
	if err != nil {
		return err
	}
	depth, err := st.QueueDepth(ctx)
	if err != nil {
		return err
	}

	if asYAML, _ := cmd.Flags().GetBool("yaml"); asYAML {
		return yaml.NewEncoder(os.Stdout).Encode(statusReport{
			Cache:      cfg.DBPath,
			SizeBytes:  info.Size(),
			Cards:      cards,
			Pending:    pending,
			QueueDepth: depth,
		})
	}

	fmt.Printf("\n%s Local Cache Status\n\n", ui.RenderAccent("●"))
	fmt.Printf("Location: %s\n", cfg.DBPath)
	fmt.Printf("Size: %s\n", humanSize(info.Size()))
	fmt.Printf("Cards: %d\n", cards)
	if pending > 0 {
		fmt.Printf("Pending: %s\n", ui.RenderWarn(fmt.Sprintf("%d awaiting sync", pending)))
	} else {
		fmt.Printf("Pending: %s\n", ui.RenderPass("none"))
	}
	fmt.Printf("Queue depth: %d\n", depth)
	fmt.Println()
	return nil
}

func humanSize(size int64) string {
	switch {
	case size > 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	case size > 1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	}
	return fmt.Sprintf("%d bytes", size)
}
