package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/chat2course/internal/model"
	"github.com/rcliao/chat2course/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List course sessions",
		Run:   runSessions,
	}

	cmd.Flags().StringP("state", "s", "", "Filter by state")
	cmd.Flags().Bool("all", false, "Include expired sessions")
	cmd.Flags().IntP("limit", "l", 20, "Max results")
	cmd.Flags().Bool("ids-only", false, "Only output session ids")

	RootCmd.AddCommand(cmd)
}

func runSessions(cmd *cobra.Command, args []string) {
	state, _ := cmd.Flags().GetString("state")
	all, _ := cmd.Flags().GetBool("all")
	limit, _ := cmd.Flags().GetInt("limit")
	idsOnly, _ := cmd.Flags().GetBool("ids-only")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	sessions, err := s.List(cmd.Context(), store.ListParams{
		State:          model.State(state),
		IncludeExpired: all,
		Limit:          limit,
	})
	if err != nil {
		exitErr("sessions", err)
	}

	if idsOnly {
		for _, sess := range sessions {
			fmt.Println(sess.ID)
		}
		return
	}
	if formatFlag == "text" {
		for _, sess := range sessions {
			fmt.Printf("%s  %-10s  %d/%d  %s\n", sess.ID, sess.State, sess.ProcessedChunks, sess.TotalChunks, sess.CourseName)
		}
		return
	}
	printJSON(sessions)
}
