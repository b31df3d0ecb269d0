package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kactuary/formula-extract/internal/config"
	"github.com/kactuary/formula-extract/internal/store"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "formula-extract",
	Short: "Formula extraction and compilation pipeline",
	Long:  "Ingests recognized math regions from insurance documents, normalizes and compiles formulas into executable artifacts, and manages the formula repository.",
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

// initStore opens the repository and applies migrations.
func initStore(cmd *cobra.Command) (store.Store, error) {
	st, err := store.NewSQLite(cfg.Store.Path, cfg.Store.CacheTTL())
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(cmd.Context()); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
