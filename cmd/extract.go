package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kactuary/formula-extract/internal/pipeline"
)

var extractInput string

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract formulas from a recognition results file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		src, err := pipeline.NewFileSource(extractInput)
		if err != nil {
			return err
		}

		p, err := pipeline.New(cfg, st)
		if err != nil {
			return eris.Wrap(err, "build pipeline")
		}

		report, err := p.Run(ctx, src)
		if err != nil {
			return eris.Wrap(err, "extraction run")
		}

		zap.L().Info("extraction complete",
			zap.String("document_id", report.DocumentID),
			zap.Int("stored", report.Stored),
			zap.Int("merged", report.Merged),
			zap.Int("failures", len(report.Failures)),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

func init() {
	extractCmd.Flags().StringVar(&extractInput, "input", "", "recognition results JSON file (required)")
	_ = extractCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(extractCmd)
}
