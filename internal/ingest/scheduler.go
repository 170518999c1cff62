package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/paolodgm/solarcast/internal/metrics"
	"github.com/paolodgm/solarcast/internal/models"
	"github.com/paolodgm/solarcast/internal/store"
)

// Forecaster issues the per-horizon interval set for the newest observation.
type Forecaster interface {
	Predict(obs []models.Observation, issuedAt time.Time) ([]models.Prediction, error)
}

// predictLookback is how many recent observations feed the feature pipeline.
// It must exceed the longest lag plus the rolling window; 7 days of hourly
// data leaves plenty of margin for gaps.
const predictLookback = 168

type Scheduler struct {
	store           *store.Store
	station         *StationClient
	drop            *FTPDrop
	forecaster      Forecaster
	loc             *time.Location
	obsInterval     time.Duration
	dropInterval    time.Duration
	predictInterval time.Duration
}

func NewScheduler(st *store.Store, station *StationClient, drop *FTPDrop, loc *time.Location) *Scheduler {
	return &Scheduler{
		store:           st,
		station:         station,
		drop:            drop,
		loc:             loc,
		obsInterval:     10 * time.Minute,
		dropInterval:    6 * time.Hour,
		predictInterval: time.Hour,
	}
}

// SetForecaster enables forecast issuance after each ingest cycle. Without
// one the scheduler only collects observations.
func (s *Scheduler) SetForecaster(f Forecaster) {
	s.forecaster = f
}

func (s *Scheduler) Run(ctx context.Context) {
	s.ingestStation()
	s.ingestDrop()
	s.issuePredictions()

	obsTicker := time.NewTicker(s.obsInterval)
	dropTicker := time.NewTicker(s.dropInterval)
	predictTicker := time.NewTicker(s.predictInterval)
	defer obsTicker.Stop()
	defer dropTicker.Stop()
	defer predictTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("scheduler: shutting down")
			return
		case <-obsTicker.C:
			s.ingestStation()
		case <-dropTicker.C:
			s.ingestDrop()
		case <-predictTicker.C:
			s.issuePredictions()
		}
	}
}

// IngestOnce runs a single ingest pass across all sources.
func (s *Scheduler) IngestOnce() {
	s.ingestStation()
	s.ingestDrop()
}

func (s *Scheduler) ingestStation() {
	if s.station == nil {
		return
	}

	log.Println("scheduler: ingesting station observations")
	run, err := s.store.StartIngestRun("station")
	if err != nil {
		log.Printf("scheduler: start ingest run: %v", err)
	}

	obs, err := s.station.FetchCurrent()
	if err != nil {
		log.Printf("scheduler: fetch station: %v", err)
		s.completeRun(run, 0, 0, err)
		return
	}

	stored := s.storeObservations([]models.Observation{*obs}, "station")
	s.completeRun(run, 1, stored, nil)
}

// BackfillHistory pulls the station's recent archive, filling gaps left by
// downtime. Dedup in the store makes re-running harmless.
func (s *Scheduler) BackfillHistory() error {
	if s.station == nil {
		return fmt.Errorf("no station client configured")
	}

	log.Println("scheduler: backfilling station history")
	run, err := s.store.StartIngestRun("station_history")
	if err != nil {
		log.Printf("scheduler: start ingest run: %v", err)
	}

	obs, err := s.station.FetchHistory()
	if err != nil {
		s.completeRun(run, 0, 0, err)
		return fmt.Errorf("fetch history: %w", err)
	}

	stored := s.storeObservations(obs, "station")
	s.completeRun(run, len(obs), stored, nil)
	log.Printf("scheduler: backfilled %d of %d archive observations", stored, len(obs))
	return nil
}

func (s *Scheduler) ingestDrop() {
	if s.drop == nil {
		return
	}

	log.Println("scheduler: ingesting FTP drop")
	run, err := s.store.StartIngestRun("ftp")
	if err != nil {
		log.Printf("scheduler: start ingest run: %v", err)
	}

	obs, err := s.drop.Fetch()
	if err != nil {
		log.Printf("scheduler: fetch drop: %v", err)
		s.completeRun(run, 0, 0, err)
		return
	}

	stored := s.storeObservations(obs, "ftp")
	s.completeRun(run, len(obs), stored, nil)
	log.Printf("scheduler: drop file yielded %d observations, %d new", len(obs), stored)
}

func (s *Scheduler) storeObservations(obs []models.Observation, source string) int {
	stored := 0
	for i := range obs {
		flags := ValidateObservation(&obs[i])
		if len(flags) > 0 {
			log.Printf("scheduler: %s observation at %s flagged: %v",
				source, obs[i].ObservedAt.Format(time.RFC3339), flags)
		}
		obs[i].QCStatus = QCStatus(flags)

		if err := s.store.InsertObservation(obs[i]); err != nil {
			log.Printf("scheduler: insert %s observation: %v", source, err)
			continue
		}
		stored++
	}
	if stored > 0 {
		metrics.ObservationsIngested.WithLabelValues(source).Add(float64(stored))
	}
	return stored
}

func (s *Scheduler) completeRun(run *store.IngestRun, parsed, stored int, err error) {
	if run == nil {
		return
	}
	run.Success = err == nil
	run.RecordsParsed = sql.NullInt64{Int64: int64(parsed), Valid: true}
	run.RecordsStored = sql.NullInt64{Int64: int64(stored), Valid: true}
	if err != nil {
		run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
	}
	if cerr := s.store.CompleteIngestRun(run); cerr != nil {
		log.Printf("scheduler: complete ingest run: %v", cerr)
	}
}

func (s *Scheduler) issuePredictions() {
	if s.forecaster == nil {
		return
	}

	obs, err := s.store.GetRecentObservations(predictLookback)
	if err != nil {
		log.Printf("scheduler: load observations for forecast: %v", err)
		return
	}
	if len(obs) == 0 {
		return
	}

	issuedAt := time.Now().In(s.loc)
	preds, err := s.forecaster.Predict(obs, issuedAt)
	if err != nil {
		log.Printf("scheduler: predict: %v", err)
		return
	}

	stored := 0
	for _, p := range preds {
		if err := s.store.InsertPrediction(p); err != nil {
			log.Printf("scheduler: insert prediction h%d: %v", p.Horizon, err)
			continue
		}
		stored++
		h := strconv.Itoa(int(p.Horizon))
		metrics.PredictionsIssued.WithLabelValues(h, p.DayState).Inc()
		metrics.IntervalWidth.WithLabelValues(h).Observe(p.Upper - p.Lower)
	}
	log.Printf("scheduler: issued %d forecast intervals", stored)
}
