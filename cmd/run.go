package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/modelmesh/internal/model"
)

var (
	runTaskType  string
	runQuality   float64
	runCostLimit float64
	runJSON      bool
)

var runCmd = &cobra.Command{
	Use:   "run [prompt]",
	Short: "Submit a single prompt through the pipeline",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		orc, err := initOrchestrator("run", true)
		if err != nil {
			return err
		}
		defer orc.Close()

		opts := []model.RequestOption{
			model.WithQualityThreshold(runQuality),
		}
		if runCostLimit > 0 {
			opts = append(opts, model.WithCostLimit(runCostLimit))
		}
		if runTaskType != "" {
			tt, ok := model.ParseTaskType(runTaskType)
			if !ok {
				return eris.Errorf("unknown task type %q", runTaskType)
			}
			opts = append(opts, model.WithTaskType(tt))
		}

		req, err := model.NewRequest("", strings.Join(args, " "), opts...)
		if err != nil {
			return err
		}

		res, err := orc.Submit(cmd.Context(), *req)
		if err != nil {
			return eris.Wrap(err, "submit request")
		}

		if runJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}

		fmt.Printf("Task type: %s\n", res.TaskType)
		if res.FromCache {
			fmt.Println("Served from cache")
		} else {
			fmt.Printf("Strategy: %s (%s)\n", res.Decision.Strategy, res.Decision.Reason)
			fmt.Printf("Models: %s\n", strings.Join(res.Decision.Models, ", "))
			fmt.Printf("Estimated cost: $%.6f\n", res.Decision.EstimatedCost)
		}
		if res.Result.FlaggedForReview {
			fmt.Println("FLAGGED FOR REVIEW")
		}
		fmt.Printf("Elapsed: %s\n\n", res.Elapsed.Round(time.Millisecond))

		switch data := res.Result.Data.(type) {
		case string:
			fmt.Println(data)
		case nil:
			fmt.Println("(no answer)")
		default:
			out, err := json.MarshalIndent(data, "", "  ")
			if err != nil {
				zap.L().Warn("render merged data", zap.Error(err))
				fmt.Printf("%v\n", data)
				break
			}
			fmt.Println(string(out))
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runTaskType, "task-type", "", "pin the task type, skipping classification")
	runCmd.Flags().Float64Var(&runQuality, "quality", 0.7, "quality threshold in [0,1]")
	runCmd.Flags().Float64Var(&runCostLimit, "cost-limit", 0, "per-request cost ceiling in USD (0 = unlimited)")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "emit the full result as JSON")
	rootCmd.AddCommand(runCmd)
}
