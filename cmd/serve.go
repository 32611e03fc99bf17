package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/friso-kolkman/lead-enrichment-crm/internal/model"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/pipeline"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}))

		r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
			if err := env.Store.Ping(req.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Get("/budget", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, env.Ledger.Status())
		})

		r.Get("/rates", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, env.Limiter.StatusAll())
		})

		r.Get("/leads", func(w http.ResponseWriter, req *http.Request) {
			limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
			leads, err := env.Store.ListLeads(req.Context(), store.LeadFilter{
				Status: model.LeadStatus(req.URL.Query().Get("status")),
				Tier:   model.Tier(req.URL.Query().Get("tier")),
				Limit:  limit,
			})
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, leads)
		})

		r.Get("/leads/{id}", func(w http.ResponseWriter, req *http.Request) {
			lead, err := env.Store.GetLead(req.Context(), chi.URLParam(req, "id"))
			if eris.Is(err, store.ErrNotFound) {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "lead not found"})
				return
			}
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, lead)
		})

		r.Get("/leads/{id}/calls", func(w http.ResponseWriter, req *http.Request) {
			recs, err := env.Store.ListCallRecords(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, recs)
		})

		r.Get("/leads/eligible/{stage}", func(w http.ResponseWriter, req *http.Request) {
			n, err := strconv.Atoi(chi.URLParam(req, "stage"))
			if err != nil || !model.Stage(n).Valid() {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid stage"})
				return
			}
			limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
			leads, err := env.Store.EligibleLeads(req.Context(), model.Stage(n), limit)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, leads)
		})

		r.Post("/pipeline/run", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				FromStage int      `json:"from_stage"`
				ToStage   int      `json:"to_stage"`
				LeadIDs   []string `json:"lead_ids"`
				Limit     int      `json:"limit"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
				return
			}
			if body.FromStage == 0 {
				body.FromStage = int(model.StageCompanyEnrich)
			}
			if body.ToStage == 0 {
				body.ToStage = int(model.MaxStage)
			}

			report, err := env.Orchestrator.Run(req.Context(), pipeline.Options{
				StartStage: model.Stage(body.FromStage),
				EndStage:   model.Stage(body.ToStage),
				LeadIDs:    body.LeadIDs,
				Limit:      body.Limit,
			})
			if pipeline.IsConfigError(err) {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
				return
			}
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, report)
		})

		r.Get("/campaigns", func(w http.ResponseWriter, req *http.Request) {
			campaigns, err := env.Store.ListCampaigns(req.Context())
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, campaigns)
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
			srv.Shutdown(ctx)
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
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	zap.L().Error("request failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
