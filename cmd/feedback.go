package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	fb "github.com/sells-group/modelmesh/internal/feedback"
	"github.com/sells-group/modelmesh/internal/model"
)

var (
	correctModel    string
	correctTaskType string
	correctRequest  string
	correctType     string
)

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Record corrections and inspect feedback summaries",
}

var feedbackCorrectCmd = &cobra.Command{
	Use:   "correct",
	Short: "Record a user correction against a model's answer",
	RunE: func(cmd *cobra.Command, args []string) error {
		tt, ok := model.ParseTaskType(correctTaskType)
		if !ok {
			return eris.Errorf("unknown task type %q", correctTaskType)
		}
		ct, ok := fb.ParseCorrectionType(correctType)
		if !ok {
			return eris.Errorf("unknown correction type %q", correctType)
		}

		orc, err := initOrchestrator("stats", false)
		if err != nil {
			return err
		}
		defer orc.Close()

		if err := orc.RecordCorrection(cmd.Context(), correctModel, tt, correctRequest, ct); err != nil {
			return err
		}
		fmt.Printf("Recorded %s correction for %s on %s\n", ct, correctModel, tt)
		return nil
	},
}

var feedbackSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show per-model feedback aggregates",
	RunE: func(cmd *cobra.Command, args []string) error {
		orc, err := initOrchestrator("stats", false)
		if err != nil {
			return err
		}
		defer orc.Close()

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "MODEL\tVALIDATIONS\tACCURACY\tCORRECTIONS")
		for name, s := range orc.FeedbackSummary() {
			corrections := 0
			for _, n := range s.Corrections {
				corrections += n
			}
			fmt.Fprintf(tw, "%s\t%d\t%.1f%%\t%d\n", name, s.Validations, s.Accuracy*100, corrections)
		}
		return tw.Flush()
	},
}

func init() {
	feedbackCorrectCmd.Flags().StringVar(&correctModel, "model", "", "model name")
	feedbackCorrectCmd.Flags().StringVar(&correctTaskType, "task-type", "", "task type the answer was for")
	feedbackCorrectCmd.Flags().StringVar(&correctRequest, "request", "", "originating request id")
	feedbackCorrectCmd.Flags().StringVar(&correctType, "type", string(fb.CorrectionWrongValue),
		"correction type: wrong_value, missing_data, wrong_format, invalid_data, partially_correct")
	feedbackCorrectCmd.MarkFlagRequired("model")
	feedbackCorrectCmd.MarkFlagRequired("task-type")

	feedbackCmd.AddCommand(feedbackCorrectCmd, feedbackSummaryCmd)
	rootCmd.AddCommand(feedbackCmd)
}
