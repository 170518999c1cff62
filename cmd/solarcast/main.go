package main

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/robfig/cron/v3"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	_ "modernc.org/sqlite"

	"github.com/paolodgm/solarcast/internal/api"
	"github.com/paolodgm/solarcast/internal/dataset"
	"github.com/paolodgm/solarcast/internal/features"
	"github.com/paolodgm/solarcast/internal/forecast"
	"github.com/paolodgm/solarcast/internal/ingest"
	"github.com/paolodgm/solarcast/internal/models"
	"github.com/paolodgm/solarcast/internal/store"
	"github.com/paolodgm/solarcast/internal/train"
)

var site = models.Site{
	Name:      "Davao City",
	Latitude:  7.0707,
	Longitude: 125.6087,
	Timezone:  "Asia/Manila",
}

type CLI struct {
	DB string `help:"Path to the SQLite database." default:"data/solarcast.db" env:"SOLARCAST_DB"`

	Train   TrainCmd   `cmd:"" help:"Fit models and calibration from observation history."`
	Predict PredictCmd `cmd:"" help:"Issue one forecast from stored observations and exit."`
	Ingest  IngestCmd  `cmd:"" help:"Run a single ingest pass and exit."`
	Serve   ServeCmd   `cmd:"" help:"Run the ingest scheduler and HTTP API."`
}

type appContext struct {
	store *store.Store
	loc   *time.Location
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("solarcast"),
		kong.Description("Short-horizon solar irradiance forecasting for a fixed site."),
		kong.Configuration(kongdotenv.ENVFileReader, ".env"),
	)

	loc, err := time.LoadLocation(site.Timezone)
	if err != nil {
		log.Printf("main: could not load %s timezone, using UTC: %v", site.Timezone, err)
		loc = time.UTC
	}

	db, err := sql.Open("sqlite", cli.DB)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	st := store.New(db, loc)
	if err := st.Migrate(); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	ctx.FatalIfErrorf(ctx.Run(&appContext{store: st, loc: loc}))
}

// allObservations pulls the full stored history, chronological.
func allObservations(st *store.Store) ([]models.Observation, error) {
	return st.GetObservations(time.Time{}, time.Now().Add(24*time.Hour))
}

type TrainCmd struct {
	CSV        string `help:"Train from a logger CSV export instead of stored observations." type:"existingfile"`
	TuneTrials int    `help:"Hyperparameter search budget per horizon; 0 uses defaults." default:"20"`
	Bounds     bool   `help:"Also fit the legacy lower/upper bound models."`
}

func (c *TrainCmd) Run(app *appContext) error {
	var obs []models.Observation
	var err error
	if c.CSV != "" {
		obs, err = dataset.LoadCSV(c.CSV, app.loc)
	} else {
		obs, err = allObservations(app.store)
	}
	if err != nil {
		return fmt.Errorf("load observations: %w", err)
	}
	log.Printf("main: training on %d observations", len(obs))

	cfg := train.DefaultConfig(site)
	cfg.Trainer.TuneTrials = c.TuneTrials
	cfg.Trainer.TrainBounds = c.Bounds

	bundle, reports, err := train.Run(obs, cfg)
	if err != nil {
		return err
	}

	id, err := app.store.SaveBundle(bundle)
	if err != nil {
		return fmt.Errorf("save bundle: %w", err)
	}
	log.Printf("main: saved bundle %d", id)

	for _, rep := range reports {
		fmt.Printf("horizon %d: test rmse %.1f, coverage %.1f%%, mean width %.1f W/m²\n",
			rep.Horizon, rep.TestRMSE, 100*rep.TestCoverage, rep.TestMeanWidth)
	}
	return nil
}

// loadService builds the forecast service from the newest persisted bundle.
func loadService(st *store.Store, enableRisk bool) (*forecast.Service, error) {
	bundle, err := st.LoadLatestBundle()
	if err != nil {
		return nil, fmt.Errorf("load bundle: %w", err)
	}
	if bundle == nil {
		return nil, fmt.Errorf("no trained model found, run `solarcast train` first")
	}

	svc, err := forecast.NewService(
		featureConfigFor(bundle),
		bundle.Scaler,
		bundle.HorizonModels(),
		bundle.Calibrations,
		forecast.DefaultAdjusterConfig(),
	)
	if err != nil {
		return nil, err
	}
	if enableRisk {
		svc.EnableRisk(forecast.DefaultRiskRules())
	}
	log.Printf("main: serving bundle trained %s", bundle.Meta.TrainedAt.Format(time.RFC3339))
	return svc, nil
}

func featureConfigFor(bundle *store.Bundle) features.Config {
	cfg := features.DefaultConfig(site)
	// Horizons follow what the bundle was actually trained with.
	var hs []models.Horizon
	for _, h := range models.Horizons {
		if _, ok := bundle.Models[h]; ok {
			hs = append(hs, h)
		}
	}
	if len(hs) > 0 {
		cfg.Horizons = hs
	}
	return cfg
}

type PredictCmd struct {
	Risk bool   `help:"Apply the weather-condition risk damping heuristics."`
	Out  string `help:"CSV artifact the issued intervals are appended to." default:"data/predictions.csv"`
}

func (c *PredictCmd) Run(app *appContext) error {
	svc, err := loadService(app.store, c.Risk)
	if err != nil {
		return err
	}

	obs, err := app.store.GetRecentObservations(168)
	if err != nil {
		return fmt.Errorf("load recent observations: %w", err)
	}

	preds, err := svc.Predict(obs, time.Now().In(app.loc))
	if err != nil {
		return err
	}

	for _, p := range preds {
		if err := app.store.InsertPrediction(p); err != nil {
			log.Printf("main: insert prediction h%d: %v", p.Horizon, err)
		}
		fmt.Printf("%s  h%d  %6.1f W/m²  [%6.1f, %6.1f]  %s\n",
			p.TargetTime.In(app.loc).Format("15:04"), p.Horizon, p.Point, p.Lower, p.Upper, p.DayState)
	}

	if c.Out != "" {
		if err := appendPredictionsCSV(c.Out, preds); err != nil {
			return fmt.Errorf("write %s: %w", c.Out, err)
		}
		log.Printf("main: appended %d rows to %s", len(preds), c.Out)
	}
	return nil
}

func appendPredictionsCSV(path string, preds []models.Prediction) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write([]string{"issued_at", "target_time", "horizon", "point", "lower", "upper", "day_state"}); err != nil {
			return err
		}
	}
	for _, p := range preds {
		rec := []string{
			p.IssuedAt.Format(time.RFC3339),
			p.TargetTime.Format(time.RFC3339),
			strconv.Itoa(int(p.Horizon)),
			strconv.FormatFloat(p.Point, 'f', 1, 64),
			strconv.FormatFloat(p.Lower, 'f', 1, 64),
			strconv.FormatFloat(p.Upper, 'f', 1, 64),
			p.DayState,
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

type IngestCmd struct {
	APIKey    string `help:"Station API key." env:"STATION_API_KEY"`
	StationID string `help:"Station identifier." env:"STATION_ID" default:"davao-1"`
	FTPHost   string `help:"FTP drop host:port for logger CSV exports." env:"FTP_HOST"`
	FTPPath   string `help:"Path of the CSV export on the FTP host." env:"FTP_PATH" default:"/export/telemetry.csv"`
	Backfill  bool   `help:"Also pull the station's recent archive."`
}

func (c *IngestCmd) scheduler(app *appContext) (*ingest.Scheduler, error) {
	var station *ingest.StationClient
	if c.APIKey != "" {
		station = ingest.NewStationClient(c.APIKey, c.StationID, app.loc)
	}
	var drop *ingest.FTPDrop
	if c.FTPHost != "" {
		drop = ingest.NewFTPDrop(c.FTPHost, c.FTPPath, app.loc)
	}
	if station == nil && drop == nil {
		return nil, fmt.Errorf("no ingest source configured, set STATION_API_KEY or FTP_HOST")
	}
	return ingest.NewScheduler(app.store, station, drop, app.loc), nil
}

func (c *IngestCmd) Run(app *appContext) error {
	sched, err := c.scheduler(app)
	if err != nil {
		return err
	}
	if c.Backfill {
		if err := sched.BackfillHistory(); err != nil {
			return err
		}
	}
	sched.IngestOnce()
	return nil
}

type ServeCmd struct {
	IngestCmd
	Port            string `help:"HTTP server port." env:"PORT" default:"8080"`
	Risk            bool   `help:"Apply the weather-condition risk damping heuristics."`
	NoPoll          bool   `help:"Disable ingest polling (server only, for local dev)."`
	RetrainSchedule string `help:"Cron expression for the nightly refit, site-local time." default:"0 2 * * *"`
}

// swappableForecaster lets the nightly refit replace the model set while the
// scheduler keeps issuing forecasts.
type swappableForecaster struct {
	mu  sync.RWMutex
	svc *forecast.Service
}

func (f *swappableForecaster) Predict(obs []models.Observation, issuedAt time.Time) ([]models.Prediction, error) {
	f.mu.RLock()
	svc := f.svc
	f.mu.RUnlock()
	if svc == nil {
		return nil, fmt.Errorf("no trained model loaded yet")
	}
	return svc.Predict(obs, issuedAt)
}

func (f *swappableForecaster) swap(svc *forecast.Service) {
	f.mu.Lock()
	f.svc = svc
	f.mu.Unlock()
}

func (c *ServeCmd) Run(app *appContext) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	fc := &swappableForecaster{}
	if svc, err := loadService(app.store, c.Risk); err != nil {
		log.Printf("main: forecasting disabled until a model is trained: %v", err)
	} else {
		fc.swap(svc)
	}

	if !c.NoPoll {
		sched, err := c.scheduler(app)
		if err != nil {
			return err
		}
		sched.SetForecaster(fc)
		go sched.Run(ctx)
	} else {
		log.Println("main: polling disabled (--no-poll)")
	}

	cr := cron.New(cron.WithLocation(app.loc))
	if _, err := cr.AddFunc(c.RetrainSchedule, func() { c.retrain(app, fc) }); err != nil {
		return fmt.Errorf("bad retrain schedule %q: %w", c.RetrainSchedule, err)
	}
	cr.Start()
	defer cr.Stop()

	server := api.NewServer(app.store, site, c.Port, app.loc)
	return server.Run(ctx)
}

func (c *ServeCmd) retrain(app *appContext, fc *swappableForecaster) {
	log.Println("main: nightly refit starting")
	obs, err := allObservations(app.store)
	if err != nil {
		log.Printf("main: refit load observations: %v", err)
		return
	}

	bundle, reports, err := train.Run(obs, train.DefaultConfig(site))
	if err != nil {
		log.Printf("main: refit: %v", err)
		return
	}
	if _, err := app.store.SaveBundle(bundle); err != nil {
		log.Printf("main: refit save bundle: %v", err)
		return
	}
	for _, rep := range reports {
		log.Printf("main: refit horizon %d test rmse %.1f coverage %.3f", rep.Horizon, rep.TestRMSE, rep.TestCoverage)
	}

	svc, err := loadService(app.store, c.Risk)
	if err != nil {
		log.Printf("main: refit reload: %v", err)
		return
	}
	fc.swap(svc)
	log.Println("main: nightly refit complete, new model live")
}
