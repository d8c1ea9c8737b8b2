package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	gwebsocket "github.com/gorilla/websocket" // Alias to avoid name conflict
	"github.com/guregu/null"

	"github.com/KEVINALEXIS1079/proyecto-formativo-sub000/internal/auth"
	"github.com/KEVINALEXIS1079/proyecto-formativo-sub000/internal/data"
	"github.com/KEVINALEXIS1079/proyecto-formativo-sub000/internal/engine"
	"github.com/KEVINALEXIS1079/proyecto-formativo-sub000/internal/websocket"
)

const maxBodyBytes = 1 << 16

var upgrader = gwebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Telemetry is the engine surface the handlers drive.
type Telemetry interface {
	Snapshot() engine.Snapshot
	SetView(v engine.View) error
	RefreshSensors(ctx context.Context) error
	Stats() engine.Stats
}

type AlertFeed interface {
	Recent() []data.Alert
}

type APIHandler struct {
	telemetry Telemetry
	alerts    AlertFeed
	hub       *websocket.Hub
	auth      *auth.AuthManager
	logger    *slog.Logger
}

func NewAPIHandler(telemetry Telemetry, alerts AlertFeed, hub *websocket.Hub, am *auth.AuthManager, logger *slog.Logger) *APIHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if am == nil {
		am = auth.NewAuthManager(auth.Config{})
	}
	return &APIHandler{
		telemetry: telemetry,
		alerts:    alerts,
		hub:       hub,
		auth:      am,
		logger:    logger.With("component", "api"),
	}
}

// viewRequest is the body of PUT /telemetry/view. from and to go together.
type viewRequest struct {
	LotID    null.Int   `json:"loteId"`
	SubLotID null.Int   `json:"subLoteId"`
	SensorID null.Int   `json:"sensorId"`
	From     *time.Time `json:"from"`
	To       *time.Time `json:"to"`
}

func (v viewRequest) view() (engine.View, error) {
	out := engine.View{Filter: data.Filter{LotID: v.LotID, SubLotID: v.SubLotID, SensorID: v.SensorID}}
	switch {
	case v.From == nil && v.To == nil:
	case v.From == nil || v.To == nil:
		return engine.View{}, errors.New("from and to must be given together")
	default:
		out.Range = &data.TimeRange{Start: *v.From, End: *v.To}
	}
	return out, nil
}

func (h *APIHandler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.telemetry.Snapshot())
}

func (h *APIHandler) HandleSetView(w http.ResponseWriter, r *http.Request) {
	var req viewRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	view, err := req.view()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.telemetry.SetView(view); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, engine.ErrClosed) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}
	h.logger.Info("api: view changed", "user", user(r), "live", view.Range == nil)
	writeJSON(w, http.StatusOK, h.telemetry.Snapshot())
}

// HandleRefresh re-lists sensors; the previous list stays in place on failure.
func (h *APIHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := h.telemetry.RefreshSensors(r.Context()); err != nil {
		h.logger.Warn("api: manual refresh failed", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.telemetry.Snapshot())
}

func (h *APIHandler) HandleAlerts(w http.ResponseWriter, r *http.Request) {
	alerts := []data.Alert{}
	if h.alerts != nil {
		alerts = h.alerts.Recent()
	}
	writeJSON(w, http.StatusOK, alerts)
}

// HandleHealth reports liveness along with the engine's counters.
func (h *APIHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"engine": h.telemetry.Stats(),
	})
}

// HandleWebSocket upgrades connections and registers clients with the hub.
// The current snapshot is the first message every client receives.
func (h *APIHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("api: websocket upgrade failed", "error", err)
		return
	}

	client := websocket.NewClient(h.hub, conn)
	if initial, err := websocket.Encode(websocket.TypeSnapshot, h.telemetry.Snapshot()); err == nil {
		client.Queue(initial)
	}
	if !h.hub.Register(client) {
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

// user names the caller for logs: the token subject, or "anonymous" for
// API keys and open deployments.
func user(r *http.Request) string {
	if claims, ok := auth.ClaimsFrom(r.Context()); ok && claims.Username != "" {
		return claims.Username
	}
	return "anonymous"
}

// writeJSON encodes v before touching the response so an unencodable value
// becomes a 500 instead of an empty 200.
func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		slog.Error("api: encode response failed", "error", err)
		status = http.StatusInternalServerError
		body, _ = json.Marshal(map[string]string{"error": "response could not be encoded"})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(append(body, '\n'))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
