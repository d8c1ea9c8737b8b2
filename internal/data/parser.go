// internal/data/parser.go
package data

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/guregu/null"
	"github.com/tidwall/gjson"
)

var ErrInvalidPayload = errors.New("invalid JSON payload")

// Backend timestamps come with and without zone; zoneless values are UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// root validates the payload and unwraps the {"data": ...} envelope some
// endpoints use.
func root(body []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, ErrInvalidPayload
	}
	r := gjson.ParseBytes(body)
	if r.IsObject() {
		if inner := r.Get("data"); inner.Exists() {
			return inner, nil
		}
	}
	return r, nil
}

// first returns the first path that exists in r.
func first(r gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if v := r.Get(p); v.Exists() && v.Type != gjson.Null {
			return v
		}
	}
	return gjson.Result{}
}

// number coerces JSON numbers, numeric strings and booleans (pump/valve
// sensors report on/off) to float64. NaN and infinities are rejected; they
// cannot be encoded back to JSON.
func number(r gjson.Result) (float64, bool) {
	switch r.Type {
	case gjson.Number:
		return r.Num, finite(r.Num)
	case gjson.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(r.Str), 64)
		return f, err == nil && finite(f)
	case gjson.True:
		return 1, true
	case gjson.False:
		return 0, true
	}
	return 0, false
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func optionalFloat(r gjson.Result) null.Float {
	if f, ok := number(r); ok {
		return null.FloatFrom(f)
	}
	return null.Float{}
}

func optionalInt(r gjson.Result) null.Int {
	if f, ok := number(r); ok && r.Type != gjson.True && r.Type != gjson.False {
		return null.IntFrom(int64(f))
	}
	return null.Int{}
}

// timestamp accepts ISO-8601 strings in several layouts and epoch milliseconds.
func timestamp(r gjson.Result) (time.Time, bool) {
	switch r.Type {
	case gjson.Number:
		return time.UnixMilli(r.Int()).UTC(), true
	case gjson.String:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, r.Str); err == nil {
				return t.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

func optionalTime(r gjson.Result) null.Time {
	if t, ok := timestamp(r); ok {
		return null.TimeFrom(t)
	}
	return null.Time{}
}

func active(r gjson.Result) bool {
	switch r.Type {
	case gjson.True:
		return true
	case gjson.Number:
		return r.Num != 0
	case gjson.String:
		switch strings.ToLower(strings.TrimSpace(r.Str)) {
		case "activo", "active", "online", "conectado", "true", "1":
			return true
		}
	}
	return false
}

// ParseSensors normalizes the sensor listing. Entries without an id are dropped.
func ParseSensors(body []byte) ([]Sensor, error) {
	r, err := root(body)
	if err != nil {
		return nil, err
	}
	sensors := make([]Sensor, 0)
	r.ForEach(func(_, item gjson.Result) bool {
		id := optionalInt(item.Get("id"))
		if !id.Valid {
			return true
		}
		sensors = append(sensors, Sensor{
			ID:       id.Int64,
			Name:     first(item, "nombre", "name", "descripcion").String(),
			LotID:    optionalInt(first(item, "loteId", "lote_id", "lote.id")),
			SubLotID: optionalInt(first(item, "subLoteId", "sub_lote_id", "subLote.id")),
			TypeID:   optionalInt(first(item, "tipoSensorId", "tipo_sensor_id", "tipoSensor.id")),
			Active:   active(first(item, "activo", "conectado", "estado")),
		})
		return true
	})
	return sensors, nil
}

// ParseReadings normalizes raw readings: {valor, fecha|fechaLectura}.
// Entries whose value or timestamp cannot be read are dropped. Order is
// preserved as received.
func ParseReadings(body []byte) ([]Reading, error) {
	r, err := root(body)
	if err != nil {
		return nil, err
	}
	readings := make([]Reading, 0)
	r.ForEach(func(_, item gjson.Result) bool {
		v, okV := number(first(item, "valor", "value"))
		t, okT := timestamp(first(item, "fechaLectura", "fecha", "timestamp"))
		if okV && okT {
			readings = append(readings, Reading{Value: v, Time: t})
		}
		return true
	})
	return readings, nil
}

// ParseBulk normalizes the bulk aggregation response: sensorId -> [{promedio, fecha}].
func ParseBulk(body []byte) (map[int64][]AggregatedBucket, error) {
	r, err := root(body)
	if err != nil {
		return nil, err
	}
	out := make(map[int64][]AggregatedBucket)
	r.ForEach(func(key, series gjson.Result) bool {
		id, err := strconv.ParseInt(key.String(), 10, 64)
		if err != nil {
			return true
		}
		buckets := make([]AggregatedBucket, 0)
		series.ForEach(func(_, item gjson.Result) bool {
			v, okV := number(first(item, "promedio", "avg", "valor"))
			t, okT := timestamp(first(item, "fecha", "bucket", "fechaLectura"))
			if okV && okT {
				buckets = append(buckets, AggregatedBucket{Time: t, Avg: v})
			}
			return true
		})
		out[id] = buckets
		return true
	})
	return out, nil
}

func ParseAlerts(body []byte) ([]Alert, error) {
	r, err := root(body)
	if err != nil {
		return nil, err
	}
	alerts := make([]Alert, 0)
	r.ForEach(func(_, item gjson.Result) bool {
		id := optionalInt(item.Get("id"))
		if !id.Valid {
			return true
		}
		t, _ := timestamp(first(item, "fecha", "createdAt", "fechaAlerta"))
		alerts = append(alerts, Alert{
			ID:       id.Int64,
			SensorID: optionalInt(first(item, "sensorId", "sensor.id")),
			LotID:    optionalInt(first(item, "loteId", "lote.id")),
			Type:     first(item, "tipo", "type").String(),
			Message:  first(item, "mensaje", "message", "descripcion").String(),
			Value:    optionalFloat(first(item, "valor", "value")),
			Time:     t,
		})
		return true
	})
	return alerts, nil
}

// ParseSummary normalizes {promedio, lecturaMinima:{valor}, lecturaMaxima:{valor}}.
// Missing fields stay null; partial summaries are not an error.
func ParseSummary(body []byte) (SensorSummary, error) {
	r, err := root(body)
	if err != nil {
		return SensorSummary{}, err
	}
	return SensorSummary{
		Avg:   optionalFloat(first(r, "promedio", "avg")),
		Min:   optionalFloat(first(r, "lecturaMinima.valor", "minimo", "min")),
		MinAt: optionalTime(first(r, "lecturaMinima.fechaLectura", "lecturaMinima.fecha")),
		Max:   optionalFloat(first(r, "lecturaMaxima.valor", "maximo", "max")),
		MaxAt: optionalTime(first(r, "lecturaMaxima.fechaLectura", "lecturaMaxima.fecha")),
	}, nil
}
