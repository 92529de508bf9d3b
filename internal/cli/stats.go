package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/chat2course/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show session counts per state and database statistics",
		Run:   runStats,
	}

	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	stats, err := s.Stats(cmd.Context())
	if err != nil {
		exitErr("stats", err)
	}
	if formatFlag == "text" {
		printStatsText(stats)
		return
	}
	printJSON(stats)
}

func printStatsText(st *store.Stats) {
	fmt.Printf("sessions: %d active, %d expired, %d waiting for continue\n",
		st.ActiveSessions, st.ExpiredSessions, st.Resumable)
	for _, ss := range st.States {
		fmt.Printf("  %-12s %d\n", ss.State, ss.Count)
	}
	if st.NextExpiry != nil {
		fmt.Printf("next expiry: %s\n", st.NextExpiry.Format(time.RFC3339))
	}
	fmt.Printf("db: %s (%d bytes, schema v%d, %d attempts, %d validations)\n",
		st.DBPath, st.DBSizeBytes, st.SchemaVersion, st.Metrics, st.Validations)
}
