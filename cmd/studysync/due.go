package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/dustinober1/studysync/internal/ui"
)

var dueCmd = &cobra.Command{
	Use:     "due",
	GroupID: "cards",
	Short:   "List cards due for review",
	Long: `List the cached cards whose scheduled review time has arrived.

The horizon defaults to now and accepts natural language:

  studysync due
  studysync due --until tomorrow
  studysync due --until "next friday"
  studysync due --until 2026-09-01`,
	RunE: runDue,
}

func init() {
	dueCmd.Flags().String("until", "", "due horizon (natural language or date)")
	dueCmd.Flags().String("user", "", "user id (default: user_id from config)")
	rootCmd.AddCommand(dueCmd)
}

func runDue(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	userID, _ := cmd.Flags().GetString("user")
	if userID == "" {
		userID = cfg.UserID
	}
	if userID == "" {
		return fmt.Errorf("no user id: set user_id in config or pass --user")
	}

	horizon := time.Now()
	if until, _ := cmd.Flags().GetString("until"); until != "" {
		t, err := parseHorizon(until)
		if err != nil {
			return err
		}
		horizon = t
	}

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	cards, err := st.Due(ctx, userID, horizon)
	if err != nil {
		return err
	}

	if len(cards) == 0 {
		fmt.Printf("%s Nothing due before %s\n", ui.RenderPass("✓"), horizon.Format("2006-01-02 15:04"))
		return nil
	}

	sort.Slice(cards, func(i, j int) bool {
		return cards[i].DueAt().Before(cards[j].DueAt())
	})

	fmt.Printf("%s %d card(s) due before %s\n\n", ui.RenderAccent("●"), len(cards), horizon.Format("2006-01-02 15:04"))
	for _, c := range cards {
		marker := "  "
		if c.Suspended {
			marker = ui.RenderDim("⏸ ")
		}
		due := c.DueAt()
		dueStr := "unscheduled"
		if !due.IsZero() {
			dueStr = due.Format("2006-01-02 15:04")
		}
		fmt.Printf("%s%s  %s  %s\n", marker, c.ID, dueStr, ui.RenderDim(c.ContentID))
	}
	return nil
}

// parseHorizon accepts RFC 3339, plain dates, and natural language.
func parseHorizon(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(s, time.Now())
	if err != nil || r == nil {
		return time.Time{}, fmt.Errorf("could not understand horizon %q", s)
	}
	return r.Time, nil
}
