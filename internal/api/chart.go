package api

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/paolodgm/solarcast/internal/models"
)

// renderForecastPage draws the interval forecast and the trailing day of
// measured irradiance as stacked line charts.
func renderForecastPage(site models.Site, obs []models.Observation, preds []models.Prediction, loc *time.Location) ([]byte, error) {
	forecastChart := charts.NewLine()
	forecastChart.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("%s irradiance forecast", site.Name),
			Subtitle: fmt.Sprintf("issued %s", preds[0].IssuedAt.In(loc).Format("2006-01-02 15:04")),
		}),
	)

	var xAxis []string
	var lower, point, upper []opts.LineData
	for _, p := range preds {
		xAxis = append(xAxis, p.TargetTime.In(loc).Format(time.Kitchen))
		lower = append(lower, opts.LineData{Value: p.Lower})
		point = append(point, opts.LineData{Value: p.Point})
		upper = append(upper, opts.LineData{Value: p.Upper})
	}
	forecastChart.SetXAxis(xAxis).
		AddSeries("Lower W/m²", lower).
		AddSeries("Point W/m²", point).
		AddSeries("Upper W/m²", upper)

	observedChart := charts.NewLine()
	observedChart.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title: "Measured irradiance, last 24h",
		}),
	)

	var obsX []string
	var observed []opts.LineData
	for _, o := range obs {
		if !o.Irradiance.Valid {
			continue
		}
		obsX = append(obsX, o.ObservedAt.In(loc).Format(time.Kitchen))
		observed = append(observed, opts.LineData{Value: o.Irradiance.Float64})
	}
	observedChart.SetXAxis(obsX).
		AddSeries("W/m²", observed)

	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(forecastChart)
	page.AddCharts(observedChart)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
