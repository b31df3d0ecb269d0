package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kactuary/formula-extract/internal/compile"
	"github.com/kactuary/formula-extract/internal/model"
)

var (
	execID     string
	execInputs string
)

var execCmd = &cobra.Command{
	Use:   "exec",
	Short: "Execute a stored formula against supplied inputs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		f, err := st.GetFormula(ctx, execID)
		if err != nil {
			return eris.Wrap(err, "get formula")
		}
		if f == nil {
			return eris.Errorf("formula %s not found", execID)
		}

		inputs := map[string]float64{}
		if execInputs != "" {
			if err := json.Unmarshal([]byte(execInputs), &inputs); err != nil {
				return eris.Wrap(err, "parse inputs")
			}
		}

		artifact, err := compile.Compile(f.Expression, f.Variables, compile.Options{
			StepBudget: cfg.Validate.StepBudget,
		})
		if err != nil {
			return eris.Wrap(err, "compile formula")
		}

		evalCtx, cancel := context.WithTimeout(ctx, cfg.Validate.EvalTimeout())
		defer cancel()

		start := time.Now()
		result, evalErr := artifact.Eval(evalCtx, inputs)
		latency := time.Since(start).Milliseconds()

		rec := model.ExecutionRecord{
			FormulaID:  f.ID,
			Inputs:     inputs,
			Success:    evalErr == nil,
			LatencyMS:  latency,
			ExecutedAt: time.Now().UTC(),
		}
		if evalErr == nil {
			rec.Result = &result
		} else {
			rec.Error = evalErr.Error()
		}

		if err := st.RecordExecution(ctx, rec); err != nil {
			zap.L().Warn("execution audit write failed", zap.Error(err))
		}

		if evalErr != nil {
			return eris.Wrap(evalErr, "evaluate formula")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	},
}

func init() {
	execCmd.Flags().StringVar(&execID, "id", "", "formula ID (required)")
	execCmd.Flags().StringVar(&execInputs, "inputs", "", `input values as JSON, e.g. {"M_x":1000,"N_x":10000}`)
	_ = execCmd.MarkFlagRequired("id")
	rootCmd.AddCommand(execCmd)
}
