package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kactuary/formula-extract/internal/store"
)

var (
	exportOutput string
	importInput  string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the repository to a JSON bundle",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := initStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		bundle, err := st.Export(cmd.Context())
		if err != nil {
			return eris.Wrap(err, "export repository")
		}

		out := os.Stdout
		if exportOutput != "" {
			f, err := os.Create(exportOutput)
			if err != nil {
				return eris.Wrap(err, "create output file")
			}
			defer f.Close()
			out = f
		}

		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(bundle); err != nil {
			return eris.Wrap(err, "encode bundle")
		}

		zap.L().Info("export complete", zap.Int("formulas", bundle.TotalFormulas))
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a JSON bundle into the repository",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := initStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		data, err := os.ReadFile(importInput)
		if err != nil {
			return eris.Wrap(err, "read bundle")
		}
		var bundle store.ExportBundle
		if err := json.Unmarshal(data, &bundle); err != nil {
			return eris.Wrap(err, "parse bundle")
		}

		n, err := st.Import(cmd.Context(), &bundle)
		if err != nil {
			return eris.Wrap(err, "import bundle")
		}

		zap.L().Info("import complete", zap.Int("formulas", n))
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOutput, "output", "", "output file (default stdout)")
	importCmd.Flags().StringVar(&importInput, "input", "", "bundle file (required)")
	_ = importCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}
