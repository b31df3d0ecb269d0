package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var cleanupOlderThanDays int

var integrityCmd = &cobra.Command{
	Use:   "integrity",
	Short: "Check repository referential integrity",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := initStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		issues, err := st.IntegrityCheck(cmd.Context())
		if err != nil {
			return eris.Wrap(err, "integrity check")
		}

		if len(issues) == 0 {
			zap.L().Info("repository is consistent")
			return nil
		}
		for _, issue := range issues {
			zap.L().Warn("integrity issue", zap.String("issue", issue))
		}
		return eris.Errorf("%d integrity issues found", len(issues))
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show repository statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := initStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		stats, err := st.Stats(cmd.Context())
		if err != nil {
			return eris.Wrap(err, "repository stats")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete old execution audit entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := initStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		age := time.Duration(cleanupOlderThanDays) * 24 * time.Hour
		n, err := st.CleanupExecutions(cmd.Context(), age)
		if err != nil {
			return eris.Wrap(err, "cleanup executions")
		}

		zap.L().Info("cleanup complete", zap.Int("deleted", n))
		return nil
	},
}

func init() {
	cleanupCmd.Flags().IntVar(&cleanupOlderThanDays, "older-than-days", 90, "delete entries older than this many days")
	rootCmd.AddCommand(integrityCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(cleanupCmd)
}
