package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/modelmesh/internal/model"
	"github.com/sells-group/modelmesh/internal/router"
)

var (
	addProvider string
	addCost     float64
	addLatency  time.Duration
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Manage the model registry",
}

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered models",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := loadRegistry()
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tPROVIDER\t$/MTOK\tAVG LATENCY\tENABLED")
		for _, m := range reg.All() {
			fmt.Fprintf(tw, "%s\t%s\t%.2f\t%s\t%t\n",
				m.Name, m.Provider, m.CostPerMTok, m.AvgLatency, m.Enabled)
		}
		return tw.Flush()
	},
}

var modelsAddCmd = &cobra.Command{
	Use:   "add [name]",
	Short: "Register a model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := loadRegistry()
		if err != nil {
			return err
		}

		m := model.Model{
			Name:        args[0],
			Provider:    addProvider,
			CostPerMTok: addCost,
			AvgLatency:  addLatency,
			Enabled:     true,
		}
		if err := reg.Register(m); err != nil {
			return err
		}
		if err := reg.SaveFile(cfg.Models.File); err != nil {
			return err
		}
		fmt.Printf("Registered %s\n", m.Name)
		return nil
	},
}

var modelsEnableCmd = &cobra.Command{
	Use:   "enable [name]",
	Short: "Enable a model for routing",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setEnabled(args[0], true) },
}

var modelsDisableCmd = &cobra.Command{
	Use:   "disable [name]",
	Short: "Exclude a model from routing",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setEnabled(args[0], false) },
}

func loadRegistry() (*router.Registry, error) {
	if err := cfg.Validate("models"); err != nil {
		return nil, err
	}
	reg := router.NewRegistry()
	if err := reg.LoadFile(cfg.Models.File); err != nil {
		return nil, err
	}
	return reg, nil
}

func setEnabled(name string, enabled bool) error {
	reg, err := loadRegistry()
	if err != nil {
		return err
	}
	if err := reg.SetEnabled(name, enabled); err != nil {
		return eris.Wrapf(err, "set %s enabled=%t", name, enabled)
	}
	if err := reg.SaveFile(cfg.Models.File); err != nil {
		return err
	}
	fmt.Printf("%s enabled=%t\n", name, enabled)
	return nil
}

func init() {
	modelsAddCmd.Flags().StringVar(&addProvider, "provider", "anthropic", "model provider")
	modelsAddCmd.Flags().Float64Var(&addCost, "cost", 0, "cost per million tokens in USD")
	modelsAddCmd.Flags().DurationVar(&addLatency, "latency", 2*time.Second, "expected average latency")
	modelsAddCmd.MarkFlagRequired("cost")

	modelsCmd.AddCommand(modelsListCmd, modelsAddCmd, modelsEnableCmd, modelsDisableCmd)
	rootCmd.AddCommand(modelsCmd)
}
