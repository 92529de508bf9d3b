package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/chat2course/internal/orchestrator"
)

func init() {
	cmd := &cobra.Command{
		Use:   "continue <session-id>",
		Short: "Build the next part of a course session",
		Args:  cobra.ExactArgs(1),
		Run:   runContinue,
	}

	cmd.Flags().StringP("add", "a", "", "Additional chat content to append before continuing")
	cmd.Flags().Bool("all", false, "Keep continuing until the session completes or stops")

	RootCmd.AddCommand(cmd)
}

func runContinue(cmd *cobra.Command, args []string) {
	add, _ := cmd.Flags().GetString("add")
	all, _ := cmd.Flags().GetBool("all")

	a, err := newApp(true)
	if err != nil {
		exitErr("setup", err)
	}
	defer a.Close()

	resp, err := a.orch.Continue(cmd.Context(), args[0], add)
	if err != nil {
		exitErr("continue", err)
	}
	for all && (resp.Status == orchestrator.StatusInProgress || resp.Status == orchestrator.StatusRetryable) {
		if formatFlag == "text" {
			printResponse(resp)
		}
		resp, err = a.orch.Continue(cmd.Context(), args[0], "")
		if err != nil {
			exitErr("continue", err)
		}
	}
	printResponse(resp)
}
