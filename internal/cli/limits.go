package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "limits",
		Short: "Inspect or reset the adaptive processing limits",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Show current limits and recent adaptations",
		Run:   runLimitsShow,
	}
	show.Flags().IntP("history", "n", 10, "Number of recent adaptations to show")

	reset := &cobra.Command{
		Use:   "reset",
		Short: "Restore the default limits",
		Run:   runLimitsReset,
	}

	cmd.AddCommand(show, reset)
	RootCmd.AddCommand(cmd)
}

func runLimitsShow(cmd *cobra.Command, args []string) {
	n, _ := cmd.Flags().GetInt("history")

	l, err := openLearner(loadConfig(), nil)
	if err != nil {
		exitErr("load limits", err)
	}
	h := l.History()
	if n >= 0 && len(h) > n {
		h = h[len(h)-n:]
	}
	printJSON(map[string]any{
		"limits":      l.Limits(),
		"adaptations": h,
	})
}

func runLimitsReset(cmd *cobra.Command, args []string) {
	l, err := openLearner(loadConfig(), nil)
	if err != nil {
		exitErr("load limits", err)
	}
	if err := l.Reset(); err != nil {
		exitErr("reset limits", err)
	}
	printJSON(l.Limits())
}
