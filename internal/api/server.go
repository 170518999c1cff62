// Package api serves the forecast over HTTP: JSON endpoints for downstream
// consumers, an interval chart for humans, Prometheus metrics, and an
// optional LLM-written outlook.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/paolodgm/solarcast/internal/models"
	"github.com/paolodgm/solarcast/internal/store"
)

type Server struct {
	store *store.Store
	site  models.Site
	port  string
	loc   *time.Location

	narrator *Narrator
	narrMu   sync.Mutex
	narrFor  time.Time // issuance the cached narrative was written for
	narrText string
}

func NewServer(st *store.Store, site models.Site, port string, loc *time.Location) *Server {
	s := &Server{store: st, site: site, port: port, loc: loc}

	if n, err := NewNarrator(); err != nil {
		log.Printf("api: narrative generation disabled: %v", err)
	} else {
		s.narrator = n
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/forecast", s.handleForecast)
	mux.HandleFunc("/api/observations", s.handleObservations)
	mux.HandleFunc("/api/calibration", s.handleCalibration)
	mux.HandleFunc("/api/narrative", s.handleNarrative)
	mux.HandleFunc("/chart", s.handleChart)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:    ":" + s.port,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Printf("api: listening on :%s", s.port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok", "site": s.site.Name})
}

// ForecastResponse is the primary consumer payload: the newest issued
// interval set, one entry per horizon.
type ForecastResponse struct {
	Site        string              `json:"site"`
	IssuedAt    time.Time           `json:"issued_at"`
	Predictions []models.Prediction `json:"predictions"`
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	preds, err := s.store.GetLatestPredictions()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if len(preds) == 0 {
		http.Error(w, "no forecast issued yet", http.StatusNotFound)
		return
	}
	writeJSON(w, ForecastResponse{
		Site:        s.site.Name,
		IssuedAt:    preds[0].IssuedAt,
		Predictions: preds,
	})
}

func (s *Server) handleObservations(w http.ResponseWriter, r *http.Request) {
	hours := 24
	end := time.Now()
	start := end.Add(-time.Duration(hours) * time.Hour)

	obs, err := s.store.GetObservations(start, end)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, obs)
}

// CalibrationResponse exposes the active bundle's interval diagnostics.
type CalibrationResponse struct {
	TrainedAt    time.Time                   `json:"trained_at"`
	TrainRows    int                         `json:"train_rows"`
	Calibrations []models.HorizonCalibration `json:"calibrations"`
}

func (s *Server) handleCalibration(w http.ResponseWriter, r *http.Request) {
	bundle, err := s.store.LoadLatestBundle()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if bundle == nil {
		http.Error(w, "no model trained yet", http.StatusNotFound)
		return
	}

	resp := CalibrationResponse{
		TrainedAt: bundle.Meta.TrainedAt,
		TrainRows: bundle.Meta.TrainRows,
	}
	for _, h := range models.Horizons {
		if cal, ok := bundle.Calibrations[h]; ok {
			resp.Calibrations = append(resp.Calibrations, cal)
		}
	}
	writeJSON(w, resp)
}

func (s *Server) handleNarrative(w http.ResponseWriter, r *http.Request) {
	if s.narrator == nil {
		http.Error(w, "narrative generation not configured", http.StatusServiceUnavailable)
		return
	}

	preds, err := s.store.GetLatestPredictions()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if len(preds) == 0 {
		http.Error(w, "no forecast issued yet", http.StatusNotFound)
		return
	}

	s.narrMu.Lock()
	defer s.narrMu.Unlock()
	if !s.narrFor.Equal(preds[0].IssuedAt) || s.narrText == "" {
		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()

		latest, _ := s.store.GetLatestObservation()
		text, err := s.narrator.Summarize(ctx, s.site, preds, latest)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		s.narrFor = preds[0].IssuedAt
		s.narrText = text
	}

	writeJSON(w, map[string]any{
		"issued_at": s.narrFor,
		"narrative": s.narrText,
	})
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	preds, err := s.store.GetLatestPredictions()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if len(preds) == 0 {
		http.Error(w, "no forecast issued yet", http.StatusNotFound)
		return
	}

	end := time.Now()
	obs, err := s.store.GetObservations(end.Add(-24*time.Hour), end)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	page, err := renderForecastPage(s.site, obs, preds, s.loc)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(page)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
