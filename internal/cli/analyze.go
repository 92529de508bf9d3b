package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/chat2course/internal/analyzer"
)

func init() {
	cmd := &cobra.Command{
		Use:   "analyze [content]",
		Short: "Estimate how content would be processed",
		Long:  "Score content complexity and recommend a processing strategy without creating anything. Content can be a positional arg or piped via stdin.",
		Run:   runAnalyze,
	}

	RootCmd.AddCommand(cmd)
}

func runAnalyze(cmd *cobra.Command, args []string) {
	content := readContent(args)
	if strings.TrimSpace(content) == "" {
		exitErr("analyze", fmt.Errorf("content is required (positional arg or stdin)"))
	}

	cfg := loadConfig()
	l, err := openLearner(cfg, nil)
	if err != nil {
		exitErr("load limits", err)
	}

	a := analyzer.Analyze(content, l.Limits(), cfg.Thresholds)
	if formatFlag == "text" {
		fmt.Println(analyzer.Summary(a))
		return
	}
	printJSON(a)
}
