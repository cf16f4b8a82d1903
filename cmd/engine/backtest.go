package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dlanglois/ironclad-trader/internal/backtest"
	"github.com/dlanglois/ironclad-trader/internal/models"
	"github.com/spf13/cobra"
)

const dateLayout = "2006-01-02"

func newBacktestCmd() *cobra.Command {
	var (
		strategyName       string
		startStr, endStr   string
		initialCapital     float64
		commissionPerTrade float64
		positionSizePct    float64
		maxPositions       int
		allowShort         bool
		timeframe          string
	)

	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "replay a strategy over historical bars and print its performance snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := time.Parse(dateLayout, startStr)
			if err != nil {
				return fmt.Errorf("invalid --start %q: %w", startStr, err)
			}
			end, err := time.Parse(dateLayout, endStr)
			if err != nil {
				return fmt.Errorf("invalid --end %q: %w", endStr, err)
			}

			var tf models.Timeframe
			if timeframe != "" {
				tf, err = models.ParseTimeframe(timeframe)
				if err != nil {
					return err
				}
			}

			c, err := buildComponents()
			if err != nil {
				return err
			}
			defer c.Close()

			result, err := backtest.Run(cmd.Context(), c.md, backtest.Config{
				StrategyName:       strategyName,
				Start:              start,
				End:                end,
				InitialCapital:     initialCapital,
				CommissionPerTrade: commissionPerTrade,
				PositionSizePct:    positionSizePct,
				MaxPositions:       maxPositions,
				AllowShort:         allowShort,
				Timeframe:          tf,
			})
			if err != nil {
				return fmt.Errorf("backtest: %w", err)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}

	cmd.Flags().StringVar(&strategyName, "strategy", "", "registered strategy name (required)")
	cmd.Flags().StringVar(&startStr, "start", "", "start date, YYYY-MM-DD (required)")
	cmd.Flags().StringVar(&endStr, "end", "", "end date, YYYY-MM-DD (required)")
	cmd.Flags().Float64Var(&initialCapital, "capital", 100000, "initial capital")
	cmd.Flags().Float64Var(&commissionPerTrade, "commission", 0, "commission charged per order")
	cmd.Flags().Float64Var(&positionSizePct, "position-size-pct", 10, "percent of equity per entry")
	cmd.Flags().IntVar(&maxPositions, "max-positions", 5, "maximum concurrent open positions")
	cmd.Flags().BoolVar(&allowShort, "allow-short", false, "allow SELL signals to open a short when no position is open")
	cmd.Flags().StringVar(&timeframe, "timeframe", "", "override the strategy's declared timeframe")
	_ = cmd.MarkFlagRequired("strategy")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")

	return cmd
}
