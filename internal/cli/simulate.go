package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"ratewatch/internal/app"
)

var (
	simulatePair      string
	simulateClass     string
	simulateRate      string
	simulateOp        string
	simulateThreshold string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Push a synthetic observation through the alert engine",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulatePair == "" || simulateRate == "" || simulateThreshold == "" {
			return errors.New("--pair, --rate and --threshold are required")
		}

		opts := app.SimulateOptions{
			Pair:      simulatePair,
			Class:     simulateClass,
			Rate:      simulateRate,
			Op:        simulateOp,
			Threshold: simulateThreshold,
		}
		return getApp().SimulateAlert(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulatePair, "pair", "", "Pair in BASE/QUOTE notation")
	simulateCmd.Flags().StringVar(&simulateClass, "class", "fiat", "Asset class of the observation (fiat or crypto)")
	simulateCmd.Flags().StringVar(&simulateRate, "rate", "", "Observed rate to evaluate")
	simulateCmd.Flags().StringVar(&simulateOp, "op", ">", "Comparison operator (<, >, <=, >=)")
	simulateCmd.Flags().StringVar(&simulateThreshold, "threshold", "", "Alert threshold")
}
