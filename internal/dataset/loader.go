package dataset

import (
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"github.com/paolodgm/solarcast/internal/models"
)

// Weather-station exports arrive in whatever encoding the logger software
// felt like writing. Decoders are tried in order; the first that yields valid
// UTF-8 wins.
var fallbackEncodings = []struct {
	name string
	enc  encoding.Encoding
}{
	{"latin-1", charmap.ISO8859_1},
	{"cp1252", charmap.Windows1252},
}

var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"01/02/2006 15:04",
	"1/2/2006 15:04",
	"2006/01/02 15:04",
	time.RFC3339,
}

// Column aliases seen across Davis logger exports. Matching is
// case-insensitive on the normalised header.
var columnAliases = map[string][]string{
	"timestamp":  {"timestamp", "date & time", "date and time", "datetime"},
	"temp":       {"average temperature", "temp - °c", "temperature"},
	"humidity":   {"average humidity", "hum - %", "humidity"},
	"pressure":   {"average barometer", "barometer - mb", "pressure"},
	"dewpoint":   {"average dew point", "dew point - °c", "dewpoint"},
	"wind":       {"avg wind speed - km/h", "wind speed - km/h", "wind speed"},
	"uv":         {"uv index", "uv - index", "uv"},
	"irradiance": {"solar rad - w/m^2", "solar rad - w/m²", "solar radiation", "ghi"},
}

// LoadCSV reads a weather telemetry export into chronologically sorted
// observations. The timestamp and irradiance columns are required; missing
// covariates become null fields and are repaired downstream. Logger exports
// carry naive wall-clock timestamps, so loc says which zone they belong to;
// every hour-of-day rule downstream assumes site-local time.
func LoadCSV(path string, loc *time.Location) ([]models.Observation, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	return ParseBytes(raw, path, loc)
}

// ParseBytes parses a raw CSV payload, applying the same encoding fallback as
// LoadCSV. label only decorates log lines.
func ParseBytes(raw []byte, label string, loc *time.Location) ([]models.Observation, error) {
	if loc == nil {
		loc = time.UTC
	}
	text, encName, err := decodeToUTF8(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", label, err)
	}
	if encName != "utf-8" {
		log.Printf("dataset: %s decoded as %s", label, encName)
	}

	return parseObservations(strings.NewReader(text), loc)
}

func decodeToUTF8(raw []byte) (string, string, error) {
	if utf8.Valid(raw) {
		return string(raw), "utf-8", nil
	}
	for _, fb := range fallbackEncodings {
		decoded, err := fb.enc.NewDecoder().Bytes(raw)
		if err == nil && utf8.Valid(decoded) {
			return string(decoded), fb.name, nil
		}
	}
	return "", "", fmt.Errorf("no usable encoding among utf-8/latin-1/cp1252")
}

func parseObservations(r io.Reader, loc *time.Location) ([]models.Observation, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	idx, err := resolveColumns(header)
	if err != nil {
		return nil, err
	}

	var obs []models.Observation
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			log.Printf("dataset: line %d: %v, skipping", line, err)
			continue
		}

		ts, err := parseTimestamp(field(rec, idx["timestamp"]), loc)
		if err != nil {
			log.Printf("dataset: line %d: %v, skipping", line, err)
			continue
		}

		o := models.Observation{
			ObservedAt:  ts,
			Temp:        parseNullFloat(field(rec, idx["temp"])),
			Humidity:    parseNullFloat(field(rec, idx["humidity"])),
			Pressure:    parseNullFloat(field(rec, idx["pressure"])),
			Dewpoint:    parseNullFloat(field(rec, idx["dewpoint"])),
			WindSpeed:   parseNullFloat(field(rec, idx["wind"])),
			UV:          parseNullFloat(field(rec, idx["uv"])),
			Irradiance:  parseNullFloat(field(rec, idx["irradiance"])),
			SourceLabel: "csv",
		}
		if o.Irradiance.Valid && o.Irradiance.Float64 < 0 {
			o.Irradiance = sql.NullFloat64{}
		}
		obs = append(obs, o)
	}

	if len(obs) == 0 {
		return nil, fmt.Errorf("no parseable observation rows")
	}

	sort.SliceStable(obs, func(i, j int) bool { return obs[i].ObservedAt.Before(obs[j].ObservedAt) })
	return obs, nil
}

func resolveColumns(header []string) (map[string]int, error) {
	norm := make([]string, len(header))
	for i, h := range header {
		norm[i] = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	}

	idx := make(map[string]int)
	for key, aliases := range columnAliases {
		idx[key] = -1
		for i, h := range norm {
			for _, a := range aliases {
				if h == a {
					idx[key] = i
					break
				}
			}
			if idx[key] >= 0 {
				break
			}
		}
	}

	// Timestamp and irradiance are the only hard requirements; everything
	// else degrades to a null column.
	if idx["timestamp"] < 0 {
		return nil, fmt.Errorf("missing required timestamp column (header: %v)", header)
	}
	if idx["irradiance"] < 0 {
		return nil, fmt.Errorf("missing required irradiance column (header: %v)", header)
	}
	for key, i := range idx {
		if i < 0 {
			log.Printf("dataset: column %q not found, values will be null", key)
		}
	}
	return idx, nil
}

func field(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func parseTimestamp(s string, loc *time.Location) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, s, loc); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

func parseNullFloat(s string) sql.NullFloat64 {
	if s == "" || s == "--" || strings.EqualFold(s, "na") || strings.EqualFold(s, "nan") {
		return sql.NullFloat64{}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}
