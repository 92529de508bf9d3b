package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/chat2course/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "status <session-id>",
		Short: "Show a session's state and progress",
		Args:  cobra.ExactArgs(1),
		Run:   runStatus,
	}

	RootCmd.AddCommand(cmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	a, err := newApp(false)
	if err != nil {
		exitErr("setup", err)
	}
	defer a.Close()

	snap, err := a.orch.Status(cmd.Context(), args[0])
	if errors.Is(err, store.ErrNotFound) {
		exitErr("status", fmt.Errorf("session %q does not exist or has expired", args[0]))
	}
	if err != nil {
		exitErr("status", err)
	}

	if formatFlag == "text" {
		fmt.Printf("%s  %s  %s  %d/%d chunks (%.0f%%)\n",
			snap.ID, snap.State, snap.Strategy, snap.ProcessedChunks, snap.TotalChunks, snap.ProgressPercent)
		if snap.LastError != "" {
			fmt.Println("last error:", snap.LastError)
		}
		return
	}
	printJSON(snap)
}
