package ingest

import (
	"database/sql"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/paolodgm/solarcast/internal/models"
	"github.com/paolodgm/solarcast/internal/solar"
	"github.com/paolodgm/solarcast/internal/store"
)

func manilaZone(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Manila")
	if err != nil {
		t.Fatalf("load Asia/Manila: %v", err)
	}
	return loc
}

func nf(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: true}
}

func TestValidateObservation(t *testing.T) {
	tests := []struct {
		name string
		obs  models.Observation
		want []string
	}{
		{
			name: "clean tropical midday",
			obs: models.Observation{
				Temp: nf(32), Humidity: nf(70), Pressure: nf(1009),
				Dewpoint: nf(25), WindSpeed: nf(8), UV: nf(9), Irradiance: nf(850),
			},
			want: nil,
		},
		{
			name: "all fields null passes",
			obs:  models.Observation{},
			want: nil,
		},
		{
			name: "implausible cold snap",
			obs:  models.Observation{Temp: nf(4)},
			want: []string{FlagTempOutOfRange},
		},
		{
			name: "humidity over 100",
			obs:  models.Observation{Humidity: nf(104)},
			want: []string{FlagHumidityInvalid},
		},
		{
			name: "pressure spike",
			obs:  models.Observation{Pressure: nf(1150)},
			want: []string{FlagPressureOutOfRange},
		},
		{
			name: "dewpoint above temp",
			obs:  models.Observation{Temp: nf(28), Dewpoint: nf(30)},
			want: []string{FlagDewpointAboveTemp},
		},
		{
			name: "negative irradiance",
			obs:  models.Observation{Irradiance: nf(-5)},
			want: []string{FlagIrradianceInvalid},
		},
		{
			name: "irradiance beyond sensor ceiling",
			obs:  models.Observation{Irradiance: nf(1600)},
			want: []string{FlagIrradianceInvalid},
		},
		{
			name: "multiple flags",
			obs:  models.Observation{Temp: nf(50), UV: nf(-1), WindSpeed: nf(300)},
			want: []string{FlagTempOutOfRange, FlagWindSpeedUnlikely, FlagUVNegative},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValidateObservation(&tt.obs)
			if len(got) != len(tt.want) {
				t.Fatalf("flags = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("flag %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestQCStatus(t *testing.T) {
	if got := QCStatus(nil); got != QCPassed {
		t.Errorf("QCStatus(nil) = %d, want %d", got, QCPassed)
	}
	if got := QCStatus([]string{FlagUVNegative}); got != QCFlagged {
		t.Errorf("QCStatus(flagged) = %d, want %d", got, QCFlagged)
	}
}

func stationJSON(epoch int64, irradiance float64) string {
	return fmt.Sprintf(`{
		"station_id": "davao-1",
		"observations": [
			{"ts": %d, "temp": 31.2, "hum": 68, "bar": 1009.4, "dew_point": 24.6,
			 "wind_speed": 6.5, "uv_index": 8.1, "solar_rad": %.1f}
		]
	}`, epoch, irradiance)
}

func TestStationClientFetchCurrent(t *testing.T) {
	epoch := time.Date(2024, 6, 1, 4, 0, 0, 0, time.UTC).Unix()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, stationJSON(epoch, 712.0))
	}))
	defer srv.Close()

	c := NewStationClient("key", "davao-1", time.UTC)
	c.SetBaseURL(srv.URL)

	obs, err := c.FetchCurrent()
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !obs.ObservedAt.Equal(time.Unix(epoch, 0)) {
		t.Errorf("observed at %s, want %s", obs.ObservedAt, time.Unix(epoch, 0).UTC())
	}
	if !obs.Irradiance.Valid || obs.Irradiance.Float64 != 712 {
		t.Errorf("irradiance = %+v, want 712", obs.Irradiance)
	}
	if !obs.Temp.Valid || obs.Temp.Float64 != 31.2 {
		t.Errorf("temp = %+v, want 31.2", obs.Temp)
	}
	if obs.SourceLabel != "station" {
		t.Errorf("source = %q, want station", obs.SourceLabel)
	}
}

func TestStationClientSiteLocalTime(t *testing.T) {
	loc := manilaZone(t)
	// Noon at the site; the same instant is 04:00 UTC.
	epoch := time.Date(2024, 6, 15, 12, 0, 0, 0, loc).Unix()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, stationJSON(epoch, 905.0))
	}))
	defer srv.Close()

	c := NewStationClient("key", "davao-1", loc)
	c.SetBaseURL(srv.URL)

	obs, err := c.FetchCurrent()
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got := obs.ObservedAt.Hour(); got != 12 {
		t.Fatalf("local hour = %d, want 12", got)
	}
	if state := solar.Classify(obs.ObservedAt); state != solar.Day {
		t.Errorf("noon observation classified %s, want day", state)
	}
	if !solar.IsPeak(obs.ObservedAt) {
		t.Error("noon observation should fall in the peak window")
	}
}

func TestStationClientNullFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"station_id": "davao-1", "observations": [{"ts": 1717200000, "solar_rad": 500}]}`)
	}))
	defer srv.Close()

	c := NewStationClient("key", "davao-1", time.UTC)
	c.SetBaseURL(srv.URL)

	obs, err := c.FetchCurrent()
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if obs.Temp.Valid || obs.Humidity.Valid || obs.Pressure.Valid {
		t.Errorf("absent fields should be null: %+v", obs)
	}
	if !obs.Irradiance.Valid {
		t.Error("present field should be valid")
	}
}

func TestStationClientPermanentError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewStationClient("key", "davao-1", time.UTC)
	c.SetBaseURL(srv.URL)

	if _, err := c.FetchCurrent(); err == nil {
		t.Fatal("expected error on 404")
	}
}

func TestStationClientEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"station_id": "davao-1", "observations": []}`)
	}))
	defer srv.Close()

	c := NewStationClient("key", "davao-1", time.UTC)
	c.SetBaseURL(srv.URL)

	if _, err := c.FetchCurrent(); err == nil {
		t.Fatal("expected error on empty observation list")
	}
}

func testStore(t *testing.T, loc *time.Location) *store.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s := store.New(db, loc)
	if err := s.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

type stubForecaster struct {
	preds []models.Prediction
	calls int
}

func (f *stubForecaster) Predict(obs []models.Observation, issuedAt time.Time) ([]models.Prediction, error) {
	f.calls++
	out := make([]models.Prediction, len(f.preds))
	copy(out, f.preds)
	for i := range out {
		out[i].IssuedAt = issuedAt
	}
	return out, nil
}

func TestSchedulerIngestAndPredict(t *testing.T) {
	epoch := time.Date(2024, 6, 1, 4, 0, 0, 0, time.UTC).Unix()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, stationJSON(epoch, 640.0))
	}))
	defer srv.Close()

	st := testStore(t, time.UTC)
	client := NewStationClient("key", "davao-1", time.UTC)
	client.SetBaseURL(srv.URL)

	sched := NewScheduler(st, client, nil, time.UTC)
	sched.IngestOnce()

	latest, err := st.GetLatestObservation()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest == nil {
		t.Fatal("no observation stored")
	}
	if latest.QCStatus != QCPassed {
		t.Errorf("qc status = %d, want %d", latest.QCStatus, QCPassed)
	}
	if latest.Irradiance.Float64 != 640 {
		t.Errorf("irradiance = %v, want 640", latest.Irradiance.Float64)
	}

	fc := &stubForecaster{preds: []models.Prediction{
		{TargetTime: time.Unix(epoch, 0).Add(time.Hour), Horizon: 1, Point: 500, Lower: 460, Upper: 550, DayState: "day"},
		{TargetTime: time.Unix(epoch, 0).Add(2 * time.Hour), Horizon: 2, Point: 430, Lower: 380, Upper: 480, DayState: "day"},
	}}
	sched.SetForecaster(fc)
	sched.issuePredictions()

	if fc.calls != 1 {
		t.Errorf("forecaster called %d times, want 1", fc.calls)
	}
	preds, err := st.GetLatestPredictions()
	if err != nil {
		t.Fatalf("predictions: %v", err)
	}
	if len(preds) != 2 {
		t.Fatalf("stored %d predictions, want 2", len(preds))
	}
	if preds[0].Horizon != 1 || preds[1].Horizon != 2 {
		t.Errorf("horizons = %d,%d, want 1,2", preds[0].Horizon, preds[1].Horizon)
	}
}

func TestSchedulerFlaggedObservationStillStored(t *testing.T) {
	epoch := time.Date(2024, 6, 1, 4, 0, 0, 0, time.UTC).Unix()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Irradiance beyond the sensor ceiling.
		fmt.Fprint(w, stationJSON(epoch, 1600.0))
	}))
	defer srv.Close()

	st := testStore(t, time.UTC)
	client := NewStationClient("key", "davao-1", time.UTC)
	client.SetBaseURL(srv.URL)

	sched := NewScheduler(st, client, nil, time.UTC)
	sched.IngestOnce()

	latest, err := st.GetLatestObservation()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest == nil {
		t.Fatal("flagged observation should still be stored")
	}
	if latest.QCStatus != QCFlagged {
		t.Errorf("qc status = %d, want %d", latest.QCStatus, QCFlagged)
	}
}

func TestSchedulerStoresSiteLocalTimes(t *testing.T) {
	loc := manilaZone(t)
	epoch := time.Date(2024, 6, 15, 12, 0, 0, 0, loc).Unix()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, stationJSON(epoch, 905.0))
	}))
	defer srv.Close()

	st := testStore(t, loc)
	client := NewStationClient("key", "davao-1", loc)
	client.SetBaseURL(srv.URL)

	sched := NewScheduler(st, client, nil, loc)
	sched.IngestOnce()

	latest, err := st.GetLatestObservation()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest == nil {
		t.Fatal("no observation stored")
	}
	// The round trip through the store must not lose the site wall clock:
	// every hour-of-day rule downstream reads the literal local hour.
	if got := latest.ObservedAt.Hour(); got != 12 {
		t.Fatalf("stored local hour = %d, want 12", got)
	}
	if state := solar.Classify(latest.ObservedAt); state != solar.Day {
		t.Errorf("stored noon observation classified %s, want day", state)
	}
	if !solar.IsPeak(latest.ObservedAt) {
		t.Error("stored noon observation should fall in the peak window")
	}
}
