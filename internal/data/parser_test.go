package data

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReadings(t *testing.T) {
	t.Run("mixed field names and coercion", func(t *testing.T) {
		body := []byte(`[
			{"valor": 21.5, "fechaLectura": "2025-03-01T10:00:00Z"},
			{"valor": "22.25", "fecha": "2025-03-01T09:00:00"},
			{"valor": true, "fecha": "2025-03-01 08:00:00"},
			{"valor": "n/a", "fecha": "2025-03-01T07:00:00Z"},
			{"valor": 3}
		]`)
		readings, err := ParseReadings(body)
		require.NoError(t, err)
		require.Len(t, readings, 3)

		assert.Equal(t, 21.5, readings[0].Value)
		assert.Equal(t, time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC), readings[0].Time)
		assert.Equal(t, 22.25, readings[1].Value)
		assert.Equal(t, time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC), readings[1].Time)
		assert.Equal(t, 1.0, readings[2].Value)
	})

	t.Run("non-finite values are dropped", func(t *testing.T) {
		body := []byte(`[
			{"valor": "NaN", "fecha": "2025-03-01T10:00:00Z"},
			{"valor": "Inf", "fecha": "2025-03-01T10:01:00Z"},
			{"valor": "-Infinity", "fecha": "2025-03-01T10:02:00Z"},
			{"valor": "21.5", "fecha": "2025-03-01T10:03:00Z"}
		]`)
		readings, err := ParseReadings(body)
		require.NoError(t, err)
		require.Len(t, readings, 1)
		assert.Equal(t, 21.5, readings[0].Value)

		summary, err := ParseSummary([]byte(`{"promedio": "NaN", "minimo": 1, "maximo": "Infinity"}`))
		require.NoError(t, err)
		assert.False(t, summary.Avg.Valid)
		assert.False(t, summary.Max.Valid)
		assert.False(t, summary.Complete())
	})

	t.Run("data envelope", func(t *testing.T) {
		readings, err := ParseReadings([]byte(`{"data":[{"valor":1,"fecha":1740823200000}]}`))
		require.NoError(t, err)
		require.Len(t, readings, 1)
		assert.Equal(t, time.UnixMilli(1740823200000).UTC(), readings[0].Time)
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := ParseReadings([]byte(`[{"valor":`))
		assert.ErrorIs(t, err, ErrInvalidPayload)
	})

	t.Run("empty array", func(t *testing.T) {
		readings, err := ParseReadings([]byte(`[]`))
		require.NoError(t, err)
		assert.NotNil(t, readings)
		assert.Empty(t, readings)
	})
}

func TestParseSensors(t *testing.T) {
	body := []byte(`[
		{"id": 1, "nombre": "Humedad suelo", "loteId": 4, "subLoteId": 9, "tipoSensorId": 2, "activo": true},
		{"id": "2", "name": "Bomba", "lote": {"id": 4}, "tipoSensor": {"id": 7}, "estado": "ACTIVO"},
		{"nombre": "sin id"}
	]`)
	sensors, err := ParseSensors(body)
	require.NoError(t, err)
	require.Len(t, sensors, 2)

	assert.Equal(t, int64(1), sensors[0].ID)
	assert.Equal(t, "Humedad suelo", sensors[0].Name)
	assert.Equal(t, int64(9), sensors[0].SubLotID.Int64)
	assert.True(t, sensors[0].Active)

	assert.Equal(t, int64(2), sensors[1].ID)
	assert.Equal(t, int64(4), sensors[1].LotID.Int64)
	assert.Equal(t, int64(7), sensors[1].TypeID.Int64)
	assert.False(t, sensors[1].SubLotID.Valid)
	assert.True(t, sensors[1].Active)
}

func TestParseBulk(t *testing.T) {
	body := []byte(`{
		"1": [{"promedio": 10.5, "fecha": "2025-03-01T00:00:00Z"}, {"promedio": "11", "fecha": "2025-03-02T00:00:00Z"}],
		"2": [],
		"bogus": [{"promedio": 1, "fecha": "2025-03-01T00:00:00Z"}]
	}`)
	out, err := ParseBulk(body)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Len(t, out[1], 2)
	assert.Equal(t, 11.0, out[1][1].Avg)
	assert.Empty(t, out[2])
}

func TestParseSummary(t *testing.T) {
	t.Run("complete", func(t *testing.T) {
		s, err := ParseSummary([]byte(`{"promedio": 20, "lecturaMinima": {"valor": 12, "fechaLectura": "2025-03-01T03:00:00Z"}, "lecturaMaxima": {"valor": 31}}`))
		require.NoError(t, err)
		assert.True(t, s.Complete())
		assert.Equal(t, 12.0, s.Min.Float64)
		assert.True(t, s.MinAt.Valid)
		assert.False(t, s.MaxAt.Valid)
	})

	t.Run("partial", func(t *testing.T) {
		s, err := ParseSummary([]byte(`{"promedio": 20, "lecturaMinima": null, "lecturaMaxima": {"valor": 31}}`))
		require.NoError(t, err)
		assert.False(t, s.Complete())
		assert.True(t, s.Avg.Valid)
		assert.False(t, s.Min.Valid)
	})
}

func TestParseAlerts(t *testing.T) {
	alerts, err := ParseAlerts([]byte(`[{"id": 5, "sensorId": 1, "loteId": 4, "tipo": "UMBRAL", "mensaje": "Temperatura alta", "valor": 41.2, "fecha": "2025-03-01T12:00:00Z"}]`))
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, int64(5), alerts[0].ID)
	assert.Equal(t, "Temperatura alta", alerts[0].Message)
	assert.Equal(t, 41.2, alerts[0].Value.Float64)
}
