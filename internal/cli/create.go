package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "create [content]",
		Short: "Build a course from a chat transcript",
		Long:  "Build a course from a chat transcript. Content can be a positional arg or piped via stdin. Large content returns a session to finish with continue. Resubmitting the same content returns its existing session.",
		Run:   runCreate,
	}

	cmd.Flags().StringP("name", "n", "", "Course name (derived from the content when empty)")
	cmd.Flags().Bool("fresh", false, "Start a new session even when one exists for the same content")

	RootCmd.AddCommand(cmd)
}

func runCreate(cmd *cobra.Command, args []string) {
	name, _ := cmd.Flags().GetString("name")
	fresh, _ := cmd.Flags().GetBool("fresh")

	content := readContent(args)
	if strings.TrimSpace(content) == "" {
		exitErr("create", fmt.Errorf("content is required (positional arg or stdin)"))
	}

	a, err := newApp(true)
	if err != nil {
		exitErr("setup", err)
	}
	defer a.Close()

	resp, err := a.orch.CreateOrResume(cmd.Context(), content, name, !fresh)
	if err != nil {
		exitErr("create", err)
	}
	printResponse(resp)
}
