package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-engine/internal/classify"
	anthropicpkg "github.com/sells-group/outreach-engine/pkg/anthropic"
)

var (
	classifySubject string
	classifyBody    string
)

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify a reply's intent from the command line",
	Long:  "Runs the two-tier reply classifier against the given subject and body. Useful for tuning rules and spot-checking LLM escalation.",
	RunE: func(cmd *cobra.Command, args []string) error {
		var classifier *classify.Classifier
		if cfg.Anthropic.Key != "" {
			classifier = classify.New(anthropicpkg.NewClient(cfg.Anthropic.Key), cfg.Anthropic.Model)
		} else {
			classifier = classify.New(nil, "")
		}

		res := classifier.Classify(cmd.Context(), classifySubject, classifyBody)
		fmt.Printf("intent:     %s\n", res.Intent)
		fmt.Printf("confidence: %.2f\n", res.Confidence)
		fmt.Printf("tier:       %s\n", res.Tier)
		fmt.Printf("event:      %s\n", classify.EventFor(res.Intent))
		return nil
	},
}

func init() {
	classifyCmd.Flags().StringVar(&classifySubject, "subject", "", "reply subject line")
	classifyCmd.Flags().StringVar(&classifyBody, "body", "", "reply body text")
	_ = classifyCmd.MarkFlagRequired("body")
	rootCmd.AddCommand(classifyCmd)
}
