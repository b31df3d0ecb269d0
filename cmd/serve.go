package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kactuary/formula-extract/internal/compile"
	"github.com/kactuary/formula-extract/internal/fault"
	"github.com/kactuary/formula-extract/internal/model"
	"github.com/kactuary/formula-extract/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the repository HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "DELETE"},
			AllowedHeaders: []string{"Content-Type"},
		}))

		r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Get("/formulas", func(w http.ResponseWriter, req *http.Request) {
			q := req.URL.Query()
			minConf, _ := strconv.ParseFloat(q.Get("min_confidence"), 64)
			limit, _ := strconv.Atoi(q.Get("limit"))

			formulas, err := st.SearchFormulas(req.Context(), store.FormulaFilter{
				Category:      model.Category(q.Get("category")),
				Query:         q.Get("query"),
				MinConfidence: minConf,
				DocumentID:    q.Get("document"),
				Limit:         limit,
			})
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, formulas)
		})

		r.Get("/formulas/{id}", func(w http.ResponseWriter, req *http.Request) {
			f, err := st.GetFormula(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			if f == nil {
				writeError(w, http.StatusNotFound, eris.New("formula not found"))
				return
			}
			writeJSON(w, http.StatusOK, f)
		})

		r.Delete("/formulas/{id}", func(w http.ResponseWriter, req *http.Request) {
			if err := st.DeleteFormula(req.Context(), chi.URLParam(req, "id")); err != nil {
				if fault.KindOf(err) == fault.KindStorage {
					writeError(w, http.StatusConflict, err)
					return
				}
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
		})

		r.Get("/formulas/{id}/dependencies", func(w http.ResponseWriter, req *http.Request) {
			deps, err := st.ListDependencies(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, deps)
		})

		r.Get("/formulas/{id}/executions", func(w http.ResponseWriter, req *http.Request) {
			limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
			recs, err := st.GetExecutionHistory(req.Context(), chi.URLParam(req, "id"), limit)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, recs)
		})

		r.Post("/formulas/{id}/exec", func(w http.ResponseWriter, req *http.Request) {
			id := chi.URLParam(req, "id")
			f, err := st.GetFormula(req.Context(), id)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			if f == nil {
				writeError(w, http.StatusNotFound, eris.New("formula not found"))
				return
			}

			var inputs map[string]float64
			if err := json.NewDecoder(req.Body).Decode(&inputs); err != nil {
				writeError(w, http.StatusBadRequest, eris.Wrap(err, "parse inputs"))
				return
			}

			artifact, err := compile.Compile(f.Expression, f.Variables, compile.Options{
				StepBudget: cfg.Validate.StepBudget,
			})
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, err)
				return
			}

			evalCtx, cancel := context.WithTimeout(req.Context(), cfg.Validate.EvalTimeout())
			defer cancel()

			start := time.Now()
			result, evalErr := artifact.Eval(evalCtx, inputs)

			rec := model.ExecutionRecord{
				FormulaID:  id,
				Inputs:     inputs,
				Success:    evalErr == nil,
				LatencyMS:  time.Since(start).Milliseconds(),
				ExecutedAt: time.Now().UTC(),
			}
			if evalErr == nil {
				rec.Result = &result
			} else {
				rec.Error = evalErr.Error()
			}
			if err := st.RecordExecution(req.Context(), rec); err != nil {
				zap.L().Warn("execution audit write failed", zap.Error(err))
			}

			if evalErr != nil {
				writeJSON(w, http.StatusUnprocessableEntity, rec)
				return
			}
			writeJSON(w, http.StatusOK, rec)
		})

		r.Get("/stats", func(w http.ResponseWriter, req *http.Request) {
			stats, err := st.Stats(req.Context())
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, stats)
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
