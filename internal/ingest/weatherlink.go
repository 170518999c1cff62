// Package ingest pulls live telemetry into the observation store: the
// station HTTP API for current and recent conditions, and an FTP drop
// directory for bulk logger exports.
package ingest

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/paolodgm/solarcast/internal/metrics"
	"github.com/paolodgm/solarcast/internal/models"
)

const defaultStationBaseURL = "https://api.weatherlink.com/v2"

// StationClient talks to the WeatherLink-style station API. All payloads are
// requested in metric units. Observation epochs come back in site-local time
// so the hour-of-day rules downstream see the station's wall clock, the same
// convention the naive logger CSV timestamps follow.
type StationClient struct {
	apiKey    string
	stationID string
	baseURL   string
	loc       *time.Location
	client    *http.Client
}

func NewStationClient(apiKey, stationID string, loc *time.Location) *StationClient {
	if loc == nil {
		loc = time.UTC
	}
	return &StationClient{
		apiKey:    apiKey,
		stationID: stationID,
		baseURL:   defaultStationBaseURL,
		loc:       loc,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

// SetBaseURL overrides the API endpoint, for tests.
func (c *StationClient) SetBaseURL(u string) { c.baseURL = u }

type stationResponse struct {
	StationID    string               `json:"station_id"`
	Observations []stationObservation `json:"observations"`
}

type stationObservation struct {
	Epoch      int64    `json:"ts"`
	Temp       *float64 `json:"temp"`
	Humidity   *float64 `json:"hum"`
	Pressure   *float64 `json:"bar"`
	Dewpoint   *float64 `json:"dew_point"`
	WindSpeed  *float64 `json:"wind_speed"`
	UV         *float64 `json:"uv_index"`
	Irradiance *float64 `json:"solar_rad"`
}

// FetchCurrent returns the newest observation the station reports.
func (c *StationClient) FetchCurrent() (*models.Observation, error) {
	obs, err := c.fetch("current")
	if err != nil {
		return nil, err
	}
	if len(obs) == 0 {
		return nil, fmt.Errorf("no observations returned for %s", c.stationID)
	}
	latest := obs[len(obs)-1]
	return &latest, nil
}

// FetchHistory returns the station's recent hourly archive, chronological.
func (c *StationClient) FetchHistory() ([]models.Observation, error) {
	return c.fetch("historic")
}

func (c *StationClient) fetch(endpoint string) ([]models.Observation, error) {
	url := fmt.Sprintf("%s/%s/%s?units=m&api-key=%s", c.baseURL, endpoint, c.stationID, c.apiKey)

	var body []byte
	operation := func() error {
		resp, err := c.client.Get(url)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("fetch %s: %w", endpoint, err))
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("rate limited: status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			return backoff.Permanent(fmt.Errorf("fetch %s: status %d: %s", endpoint, resp.StatusCode, string(b)))
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("read body: %w", err))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 2 * time.Minute
	if err := backoff.Retry(operation, bo); err != nil {
		metrics.StationAPICallsTotal.WithLabelValues(endpoint, "error").Inc()
		return nil, err
	}
	metrics.StationAPICallsTotal.WithLabelValues(endpoint, "ok").Inc()

	var data stationResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}

	var results []models.Observation
	for _, so := range data.Observations {
		o := models.Observation{
			ObservedAt:  time.Unix(so.Epoch, 0).In(c.loc),
			SourceLabel: "station",
		}
		if so.Temp != nil {
			o.Temp = sql.NullFloat64{Float64: *so.Temp, Valid: true}
		}
		if so.Humidity != nil {
			o.Humidity = sql.NullFloat64{Float64: *so.Humidity, Valid: true}
		}
		if so.Pressure != nil {
			o.Pressure = sql.NullFloat64{Float64: *so.Pressure, Valid: true}
		}
		if so.Dewpoint != nil {
			o.Dewpoint = sql.NullFloat64{Float64: *so.Dewpoint, Valid: true}
		}
		if so.WindSpeed != nil {
			o.WindSpeed = sql.NullFloat64{Float64: *so.WindSpeed, Valid: true}
		}
		if so.UV != nil {
			o.UV = sql.NullFloat64{Float64: *so.UV, Valid: true}
		}
		if so.Irradiance != nil {
			o.Irradiance = sql.NullFloat64{Float64: *so.Irradiance, Valid: true}
		}
		results = append(results, o)
	}
	return results, nil
}
