package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/schoolmap/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "schoolmap",
	Short: "Spatial statistics for school infrastructure",
	Long:  "Imports school records, computes density, concentration and clustering indicators, builds regions of influence, simulates closures and scores vulnerability. Results are served over HTTP or exported as GeoJSON and XLSX.",
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
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
