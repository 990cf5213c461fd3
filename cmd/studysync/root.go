package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dustinober1/studysync/internal/config"
	"github.com/dustinober1/studysync/internal/remote"
	"github.com/dustinober1/studysync/internal/store"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "studysync",
	Short: "Offline flashcard cache and sync",
	Long: `studysync maintains the on-device flashcard cache for the study app
and reconciles locally-made edits against the remote document store.

Local state lives in an embedded SQLite database: a flashcards table of
cache entries plus a sync_queue of not-yet-confirmed mutations. The daemon
watches connectivity and drains the queue whenever the device reconnects.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: ./studysync.yaml, then ~/.studysync/studysync.yaml)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "cards", Title: "Card Commands:"},
	)
}

// openStore opens the configured local database and initializes its schema.
func openStore(ctx context.Context) (*store.Store, error) {
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := st.InitSchema(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

// newRemote builds the HTTP document store client from config.
func newRemote() (remote.Store, error) {
	if cfg.Remote.BaseURL == "" {
		return nil, fmt.Errorf("remote.base_url is not configured")
	}
	return remote.NewClient(remote.ClientConfig{
		BaseURL: cfg.Remote.BaseURL,
		Token:   cfg.Remote.Token,
		Timeout: cfg.Remote.Timeout,
	})
}

// alwaysOnline is the connectivity view for one-shot commands: the attempt
// itself discovers whether the remote is reachable.
type alwaysOnline struct{}

func (alwaysOnline) IsConnected() bool { return true }
