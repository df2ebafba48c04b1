// Package cli handles the command-line interface logic
// using the Cobra library.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/BartekS5/xfer/internal/config"
	"github.com/BartekS5/xfer/internal/metrics"
	"github.com/BartekS5/xfer/internal/metrics/prompush"
	"github.com/BartekS5/xfer/pkg/logger"
)

// app holds what PersistentPreRunE loaded for the sub-commands.
type app struct {
	cfg *config.Config
}

// NewRootCmd creates the "xfer" root command and attaches all sub-commands.
func NewRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "xfer",
		Short: "xfer - chunked relational transfer engine",
		Long: `xfer moves rows from a SQL query, a Mongo collection or a flat file into a
destination table in chunks, optionally enriching each record with a
correlated lookup and routing unmatched records to a second table.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			if err := logger.InitLogger(cfg.LogFile, cfg.LogLevel); err != nil {
				return err
			}
			if cfg.MetricsBackend == config.MetricsPushgateway {
				backend, err := prompush.NewBackend("xfer", cfg.PushgatewayURL)
				if err != nil {
					return err
				}
				metrics.SetBackend(backend)
			}
			a.cfg = cfg
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	// --- Attach Sub-commands ---
	rootCmd.AddCommand(newRunCmd(a))
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newListCmd())

	return rootCmd
}
