// internal/data/models.go
package data

import (
	"errors"
	"time"

	"github.com/guregu/null"
)

// Sensor is a field device as listed by the farm backend. The engine treats
// the list as immutable for a session and replaces it wholesale on refresh.
type Sensor struct {
	ID       int64    `json:"id"`
	Name     string   `json:"nombre"`
	LotID    null.Int `json:"loteId"`
	SubLotID null.Int `json:"subLoteId"`
	TypeID   null.Int `json:"tipoSensorId"`
	Active   bool     `json:"activo"`
}

// Reading - a single observation. Time is the moment of observation, not arrival.
type Reading struct {
	Value float64   `json:"valor"`
	Time  time.Time `json:"fechaLectura"`
}

// AggregatedBucket - server-side average over one hour/day/week bucket
type AggregatedBucket struct {
	Time time.Time `json:"fecha"`
	Avg  float64   `json:"promedio"`
}

// Alert as produced by the backend's alerting rules.
type Alert struct {
	ID       int64      `json:"id"`
	SensorID null.Int   `json:"sensorId"`
	LotID    null.Int   `json:"loteId"`
	Type     string     `json:"tipo,omitempty"`
	Message  string     `json:"mensaje"`
	Value    null.Float `json:"valor"`
	Time     time.Time  `json:"fecha"`
}

// SensorSummary is the server-computed summary for one sensor type over a
// range. Any field may be absent.
type SensorSummary struct {
	Avg   null.Float `json:"promedio"`
	Min   null.Float `json:"minimo"`
	MinAt null.Time  `json:"fechaMinimo"`
	Max   null.Float `json:"maximo"`
	MaxAt null.Time  `json:"fechaMaximo"`
}

// Complete reports whether average, minimum and maximum are all present.
func (s SensorSummary) Complete() bool {
	return s.Avg.Valid && s.Min.Valid && s.Max.Valid
}

// Filter narrows the sensor list to the active set. Unset fields match anything.
type Filter struct {
	LotID    null.Int `json:"loteId"`
	SubLotID null.Int `json:"subLoteId"`
	SensorID null.Int `json:"sensorId"`
}

// Matches reports whether s belongs to the filtered set.
func (f Filter) Matches(s Sensor) bool {
	if f.SensorID.Valid && s.ID != f.SensorID.Int64 {
		return false
	}
	if f.LotID.Valid && (!s.LotID.Valid || s.LotID.Int64 != f.LotID.Int64) {
		return false
	}
	if f.SubLotID.Valid && (!s.SubLotID.Valid || s.SubLotID.Int64 != f.SubLotID.Int64) {
		return false
	}
	return true
}

var ErrInvertedRange = errors.New("time range start is after end")

// TimeRange is the closed interval [Start, End].
type TimeRange struct {
	Start time.Time `json:"from"`
	End   time.Time `json:"to"`
}

func (r TimeRange) Validate() error {
	if r.Start.After(r.End) {
		return ErrInvertedRange
	}
	return nil
}

func (r TimeRange) Span() time.Duration {
	return r.End.Sub(r.Start)
}

func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// Equal compares two optional ranges.
func (r *TimeRange) Equal(other *TimeRange) bool {
	if r == nil || other == nil {
		return r == nil && other == nil
	}
	return r.Start.Equal(other.Start) && r.End.Equal(other.End)
}

// IsLive reports whether the range includes now. A nil range means
// "up to now" and is always live.
func IsLive(r *TimeRange, now time.Time) bool {
	if r == nil {
		return true
	}
	return r.Contains(now)
}

// Point is one entry of a consumer-facing series; it is either a raw
// reading or a bucket average, never both within one series.
type Point struct {
	Time  time.Time `json:"fecha"`
	Value float64   `json:"valor"`
}

// Series - chart-ready data for one sensor
type Series struct {
	Name     string  `json:"name"`
	SensorID int64   `json:"sensorId"`
	Data     []Point `json:"data"`
}

// SummaryData is the per-sensor statistics row handed to consumers.
type SummaryData struct {
	SensorID int64      `json:"sensorId"`
	Name     string     `json:"name"`
	Avg      float64    `json:"avg"`
	Min      float64    `json:"min"`
	Max      float64    `json:"max"`
	Last     null.Float `json:"last"`
}
