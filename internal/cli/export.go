package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export sessions as JSON",
		Long:  "Export sessions, including their content and planned chunks, as JSON.",
		Run:   runExport,
	}

	cmd.Flags().Bool("all", false, "Include expired sessions")

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	all, _ := cmd.Flags().GetBool("all")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	records, err := s.ExportAll(cmd.Context(), all)
	if err != nil {
		exitErr("export", err)
	}
	printJSON(records)
}
