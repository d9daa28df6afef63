package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/modelmesh/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "modelmesh",
	Short: "Adaptive multi-model orchestration",
	Long:  "Classifies prompts, routes them to the models that have earned trust on that kind of work, executes concurrently under a cost budget, and merges the answers.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
