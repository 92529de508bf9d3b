package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "analytics",
		Short: "Show processing success rates and adaptive limits",
		Run:   runAnalytics,
	}

	RootCmd.AddCommand(cmd)
}

func runAnalytics(cmd *cobra.Command, args []string) {
	a, err := newApp(false)
	if err != nil {
		exitErr("setup", err)
	}
	defer a.Close()

	report, err := a.orch.Analytics(cmd.Context())
	if err != nil {
		exitErr("analytics", err)
	}
	printJSON(report)
}
