package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/modelmesh/internal/model"
)

var (
	statsLookback time.Duration
	statsJSON     bool
	statsUpdate   bool
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show confidence scores, recent performance, and cache stats",
	RunE: func(cmd *cobra.Command, args []string) error {
		orc, err := initOrchestrator("stats", false)
		if err != nil {
			return err
		}
		defer orc.Close()

		if statsUpdate {
			if err := orc.UpdateScores(cmd.Context()); err != nil {
				return eris.Wrap(err, "update scores")
			}
		}

		rep, err := orc.Report(cmd.Context(), statsLookback)
		if err != nil {
			return err
		}

		if statsJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rep)
		}
		return rep.WriteText(os.Stdout)
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Drop performance records past the retention horizon",
	RunE: func(cmd *cobra.Command, args []string) error {
		orc, err := initOrchestrator("stats", false)
		if err != nil {
			return err
		}
		defer orc.Close()

		removed, err := orc.Cleanup(cmd.Context(), cfg.Store.Retention())
		if err != nil {
			return eris.Wrap(err, "cleanup records")
		}
		fmt.Printf("Removed %d records older than %d days\n", removed, cfg.Store.RetentionDays)
		return nil
	},
}

var invalidateTaskType string

var invalidateCmd = &cobra.Command{
	Use:   "invalidate",
	Short: "Drop cached results",
	RunE: func(cmd *cobra.Command, args []string) error {
		orc, err := initOrchestrator("stats", false)
		if err != nil {
			return err
		}
		defer orc.Close()

		var tt model.TaskType
		if invalidateTaskType != "" {
			parsed, ok := model.ParseTaskType(invalidateTaskType)
			if !ok {
				return eris.Errorf("unknown task type %q", invalidateTaskType)
			}
			tt = parsed
		}
		fmt.Printf("Invalidated %d cache entries\n", orc.InvalidateCache(tt))
		return nil
	},
}

func init() {
	statsCmd.Flags().DurationVar(&statsLookback, "lookback", 24*time.Hour, "performance window")
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "emit the report as JSON")
	statsCmd.Flags().BoolVar(&statsUpdate, "update", false, "recompute scores from the full log first")

	invalidateCmd.Flags().StringVar(&invalidateTaskType, "task-type", "", "limit to one task type (default: all)")

	rootCmd.AddCommand(statsCmd, cleanupCmd, invalidateCmd)
}
