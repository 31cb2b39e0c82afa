package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/outreach-engine/internal/bounce"
	"github.com/sells-group/outreach-engine/internal/classify"
	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server with background warmup and monitoring loops",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(env),
		}

		g, ctx := errgroup.WithContext(ctx)

		g.Go(func() error { return env.Runner.Run(ctx) })
		g.Go(func() error { return runWarmupLoops(ctx, env) })
		g.Go(func() error {
			env.Checker.Run(ctx)
			return nil
		})

		// Graceful shutdown
		g.Go(func() error {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return g.Wait()
	},
}

// newRouter builds the HTTP API over the wired engine.
func newRouter(env *engineEnv) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		snap, err := env.Collector.Collect(req.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	r.Post("/warmup/tick", func(w http.ResponseWriter, req *http.Request) {
		if err := env.Scheduler.DispatchTick(req.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "dispatched"})
	})

	r.Post("/monitor/check", func(w http.ResponseWriter, req *http.Request) {
		env.Checker.Check(req.Context())
		writeJSON(w, http.StatusOK, map[string]string{"status": "checked"})
	})

	r.Post("/inboxes/{id}/check", func(w http.ResponseWriter, req *http.Request) {
		ok, err := env.Checker.CheckInbox(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"connected": ok})
	})

	r.Post("/inboxes", func(w http.ResponseWriter, req *http.Request) {
		var in model.Inbox
		if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
			writeError(w, http.StatusBadRequest, eris.New("invalid request body"))
			return
		}
		if in.Email == "" || in.TeamID == "" {
			writeError(w, http.StatusBadRequest, eris.New("email and team_id are required"))
			return
		}
		if in.ID == "" {
			in.ID = uuid.NewString()
		}
		if in.Status == "" {
			in.Status = model.InboxStatusActive
		}
		if in.Provider == "" {
			in.Provider = model.ProviderSMTP
		}
		if err := env.Store.UpsertInbox(req.Context(), &in); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusCreated, in)
	})

	r.Post("/inboxes/{id}/warmup", func(w http.ResponseWriter, req *http.Request) {
		inboxID := chi.URLParam(req, "id")
		inbox, err := env.Store.GetInbox(req.Context(), inboxID)
		if err != nil {
			writeStoreError(w, err)
			return
		}

		var body struct {
			Mode  model.WarmupMode `json:"mode"`
			Speed model.RampSpeed  `json:"speed"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, eris.New("invalid request body"))
			return
		}
		if body.Mode == "" {
			body.Mode = model.WarmupModePool
		}
		if body.Speed == "" {
			body.Speed = model.RampSpeedNormal
		}

		state := &model.WarmupState{
			InboxID:    inbox.ID,
			TeamID:     inbox.TeamID,
			Enabled:    true,
			Phase:      model.WarmupPhaseRamping,
			CurrentDay: 1,
			RampSpeed:  body.Speed,
			Mode:       body.Mode,
		}
		if err := env.Store.UpsertWarmupState(req.Context(), state); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusCreated, state)
	})

	r.Post("/leads", func(w http.ResponseWriter, req *http.Request) {
		var lead model.Lead
		if err := json.NewDecoder(req.Body).Decode(&lead); err != nil {
			writeError(w, http.StatusBadRequest, eris.New("invalid request body"))
			return
		}
		if lead.Email == "" || lead.TeamID == "" {
			writeError(w, http.StatusBadRequest, eris.New("email and team_id are required"))
			return
		}
		if lead.ID == "" {
			lead.ID = uuid.NewString()
		}
		if lead.Status == "" {
			lead.Status = model.LeadStatusPending
		}
		if err := env.Store.CreateLead(req.Context(), &lead); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusCreated, lead)
	})

	r.Get("/leads/{id}", func(w http.ResponseWriter, req *http.Request) {
		lead, err := env.Store.GetLead(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, lead)
	})

	r.Post("/leads/{id}/events", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Event    model.LeadEvent `json:"event"`
			Metadata map[string]any  `json:"metadata"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, eris.New("invalid request body"))
			return
		}
		if body.Event == "" {
			writeError(w, http.StatusBadRequest, eris.New("event is required"))
			return
		}

		lead, err := env.Store.GetLead(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			writeStoreError(w, err)
			return
		}

		change, err := env.Machine.Transition(req.Context(), lead.ID, lead.Status, body.Event, body.Metadata)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if change == nil {
			writeError(w, http.StatusConflict, eris.Errorf("event %s not valid from status %s", body.Event, lead.Status))
			return
		}
		writeJSON(w, http.StatusOK, change)
	})

	r.Post("/leads/{id}/reply", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Subject string `json:"subject"`
			Body    string `json:"body"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, eris.New("invalid request body"))
			return
		}

		lead, err := env.Store.GetLead(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			writeStoreError(w, err)
			return
		}

		result := env.Classifier.Classify(req.Context(), body.Subject, body.Body)
		event := classify.EventFor(result.Intent)
		change, err := env.Machine.Transition(req.Context(), lead.ID, lead.Status, event, map[string]any{
			"intent": string(result.Intent),
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if change == nil {
			// The lead is in a status with no transition for this event, but
			// the classified intent is still worth keeping on the record.
			if err := env.Store.UpdateLeadReplyIntent(req.Context(), lead.ID, string(result.Intent)); err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"intent":     result.Intent,
			"confidence": result.Confidence,
			"tier":       result.Tier,
			"event":      event,
			"change":     change,
		})
	})

	r.Post("/leads/{id}/bounce", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Type bounce.Type `json:"type"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, eris.New("invalid request body"))
			return
		}
		if body.Type != bounce.TypeHard && body.Type != bounce.TypeSoft {
			writeError(w, http.StatusBadRequest, eris.New("type must be hard or soft"))
			return
		}

		outcome, err := env.Escalator.Process(req.Context(), chi.URLParam(req, "id"), body.Type)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, outcome)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeStoreError(w http.ResponseWriter, err error) {
	if eris.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
