package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/kactuary/formula-extract/internal/model"
	"github.com/kactuary/formula-extract/internal/store"
)

var (
	searchCategory string
	searchQuery    string
	searchMinConf  float64
	searchDocument string
	searchLimit    int
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search the formula repository",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := initStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		formulas, err := st.SearchFormulas(cmd.Context(), store.FormulaFilter{
			Category:      model.Category(searchCategory),
			Query:         searchQuery,
			MinConfidence: searchMinConf,
			DocumentID:    searchDocument,
			Limit:         searchLimit,
		})
		if err != nil {
			return eris.Wrap(err, "search formulas")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(formulas)
	},
}

func init() {
	searchCmd.Flags().StringVar(&searchCategory, "category", "", "filter by category")
	searchCmd.Flags().StringVar(&searchQuery, "query", "", "substring of the normalized expression")
	searchCmd.Flags().Float64Var(&searchMinConf, "min-confidence", 0, "minimum confidence")
	searchCmd.Flags().StringVar(&searchDocument, "document", "", "filter by source document ID")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 50, "maximum results")
	rootCmd.AddCommand(searchCmd)
}
