package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gwebsocket "github.com/gorilla/websocket"
	"github.com/guregu/null"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KEVINALEXIS1079/proyecto-formativo-sub000/internal/auth"
	"github.com/KEVINALEXIS1079/proyecto-formativo-sub000/internal/data"
	"github.com/KEVINALEXIS1079/proyecto-formativo-sub000/internal/engine"
	"github.com/KEVINALEXIS1079/proyecto-formativo-sub000/internal/source"
	"github.com/KEVINALEXIS1079/proyecto-formativo-sub000/internal/websocket"
)

type fakeTelemetry struct {
	mu         sync.Mutex
	view       engine.View
	refreshErr error
	refreshes  int
	value      float64
}

func (f *fakeTelemetry) Snapshot() engine.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	value := 21.5
	if f.value != 0 {
		value = f.value
	}
	return engine.Snapshot{
		State:      engine.StateReady,
		IsLive:     f.view.Range == nil,
		Readings:   map[int64][]data.Reading{1: {{Value: value, Time: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}}},
		TimeSeries: []data.Series{{Name: "Temperatura", SensorID: 1, Data: []data.Point{}}},
		Summaries:  []data.SummaryData{},
		View:       f.view,
	}
}

func (f *fakeTelemetry) SetView(v engine.View) error {
	if v.Range != nil {
		if err := v.Range.Validate(); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.view = v
	return nil
}

func (f *fakeTelemetry) RefreshSensors(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return f.refreshErr
}

func (f *fakeTelemetry) Stats() engine.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return engine.Stats{Cycles: uint64(f.refreshes), SensorFailures: 2}
}

type fakeAlerts []data.Alert

func (f fakeAlerts) Recent() []data.Alert { return f }

func newTestServer(t *testing.T, tel Telemetry, cfg auth.Config) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithCancel(context.Background())
	hub := websocket.NewHub(logger)
	go hub.Run(ctx)
	t.Cleanup(cancel)

	alerts := fakeAlerts{{ID: 3, SensorID: null.IntFrom(1), Message: "Temperatura alta"}}
	h := NewAPIHandler(tel, alerts, hub, auth.NewAuthManager(cfg), logger)
	srv := httptest.NewServer(SetupRouter(h))
	t.Cleanup(srv.Close)
	return srv
}

func request(t *testing.T, method, url, body string, header map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") && len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp, out
}

func TestSnapshotShape(t *testing.T) {
	srv := newTestServer(t, &fakeTelemetry{}, auth.Config{})

	resp, body := request(t, http.MethodGet, srv.URL+"/api/v1/telemetry", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	for _, key := range []string{"loading", "readings", "timeSeriesData", "sensorSummaryData", "isLive"} {
		assert.Contains(t, body, key)
	}
	assert.Contains(t, body["readings"], "1")
}

func TestUnencodableSnapshotIsServerError(t *testing.T) {
	srv := newTestServer(t, &fakeTelemetry{value: math.NaN()}, auth.Config{})

	resp, body := request(t, http.MethodGet, srv.URL+"/api/v1/telemetry", "", nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.NotEmpty(t, body["error"])
}

func TestHealthReportsEngineStats(t *testing.T) {
	tel := &fakeTelemetry{}
	srv := newTestServer(t, tel, auth.Config{APIKeys: []string{"k1"}})

	request(t, http.MethodPost, srv.URL+"/api/v1/telemetry/refresh", "", map[string]string{"X-API-Key": "k1"})
	resp, body := request(t, http.MethodGet, srv.URL+"/healthz", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	stats, ok := body["engine"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1.0, stats["cycles"])
	assert.Equal(t, 2.0, stats["sensorFailures"])
}

func TestSetView(t *testing.T) {
	tel := &fakeTelemetry{}
	srv := newTestServer(t, tel, auth.Config{})

	resp, body := request(t, http.MethodPut, srv.URL+"/api/v1/telemetry/view",
		`{"loteId": 4, "from": "2025-03-01T00:00:00Z", "to": "2025-03-31T00:00:00Z"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["isLive"])

	tel.mu.Lock()
	view := tel.view
	tel.mu.Unlock()
	assert.Equal(t, null.IntFrom(4), view.Filter.LotID)
	require.NotNil(t, view.Range)
	assert.Equal(t, 30*24*time.Hour, view.Range.Span())
}

func TestSetViewRejectsBadInput(t *testing.T) {
	srv := newTestServer(t, &fakeTelemetry{}, auth.Config{})

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"loteId":`},
		{"unknown field", `{"lot": 1}`},
		{"inverted range", `{"from": "2025-03-31T00:00:00Z", "to": "2025-03-01T00:00:00Z"}`},
		{"half range", `{"from": "2025-03-01T00:00:00Z"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := request(t, http.MethodPut, srv.URL+"/api/v1/telemetry/view", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestRefresh(t *testing.T) {
	tel := &fakeTelemetry{}
	srv := newTestServer(t, tel, auth.Config{})

	resp, _ := request(t, http.MethodPost, srv.URL+"/api/v1/telemetry/refresh", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	tel.mu.Lock()
	tel.refreshErr = &source.NetworkError{Op: "list sensors", Err: errors.New("connection refused")}
	tel.mu.Unlock()

	resp, body := request(t, http.MethodPost, srv.URL+"/api/v1/telemetry/refresh", "", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, body["error"], "connection refused")
	assert.Equal(t, 2, tel.refreshes)
}

func TestAlerts(t *testing.T) {
	srv := newTestServer(t, &fakeTelemetry{}, auth.Config{})

	resp, err := http.Get(srv.URL + "/api/v1/alerts")
	require.NoError(t, err)
	defer resp.Body.Close()
	var alerts []data.Alert
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&alerts))
	require.Len(t, alerts, 1)
	assert.Equal(t, "Temperatura alta", alerts[0].Message)
}

func TestAuthGuardsAPIButNotHealth(t *testing.T) {
	srv := newTestServer(t, &fakeTelemetry{}, auth.Config{APIKeys: []string{"k1"}})

	resp, _ := request(t, http.MethodGet, srv.URL+"/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = request(t, http.MethodGet, srv.URL+"/api/v1/telemetry", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = request(t, http.MethodGet, srv.URL+"/api/v1/telemetry", "", map[string]string{"X-API-Key": "k1"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebSocketSendsSnapshotFirst(t *testing.T) {
	srv := newTestServer(t, &fakeTelemetry{}, auth.Config{})

	conn, _, err := gwebsocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var m struct {
		Type    string          `json:"type"`
		Payload engine.Snapshot `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, websocket.TypeSnapshot, m.Type)
	assert.True(t, m.Payload.IsLive)
	require.Len(t, m.Payload.TimeSeries, 1)
}
