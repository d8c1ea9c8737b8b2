// internal/engine/snapshot.go
package engine

import (
	"time"

	"github.com/KEVINALEXIS1079/proyecto-formativo-sub000/internal/data"
	"github.com/KEVINALEXIS1079/proyecto-formativo-sub000/internal/strategy"
)

// Snapshot is a consistent, detached copy of what consumers render.
type Snapshot struct {
	State       State                    `json:"state"`
	Loading     bool                     `json:"loading"`
	Readings    map[int64][]data.Reading `json:"readings"`
	TimeSeries  []data.Series            `json:"timeSeriesData"`
	Summaries   []data.SummaryData       `json:"sensorSummaryData"`
	IsLive      bool                     `json:"isLive"`
	Granularity strategy.Granularity     `json:"granularity"`
	View        View                     `json:"view"`
	UpdatedAt   time.Time                `json:"updatedAt"`
	Error       string                   `json:"error,omitempty"`
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:       e.state,
		Loading:     e.listing || e.state == StateFetching,
		Readings:    make(map[int64][]data.Reading, len(e.readings)),
		TimeSeries:  make([]data.Series, 0, len(e.active)),
		Summaries:   make([]data.SummaryData, 0, len(e.active)),
		IsLive:      e.live,
		Granularity: e.granularity,
		View:        e.view,
		UpdatedAt:   e.updatedAt,
	}
	if e.view.Range != nil {
		r := *e.view.Range
		snap.View.Range = &r
	}
	if e.listErr != nil {
		snap.Error = e.listErr.Error()
	}
	if e.state == StateIdle {
		return snap
	}

	for id, readings := range e.readings {
		snap.Readings[id] = append([]data.Reading{}, readings...)
	}
	for _, s := range e.active {
		points := e.series[s.ID]
		snap.TimeSeries = append(snap.TimeSeries, data.Series{
			Name:     s.Name,
			SensorID: s.ID,
			Data:     append([]data.Point{}, points...),
		})
		server, hasServer := e.summaries[s.ID]
		if row, ok := summarize(s, points, server, hasServer); ok {
			snap.Summaries = append(snap.Summaries, row)
		}
	}
	return snap
}

// notify hands a fresh snapshot to every listener.
func (e *Engine) notify() {
	e.mu.Lock()
	if len(e.listeners) == 0 {
		e.mu.Unlock()
		return
	}
	listeners := append([]func(Snapshot){}, e.listeners...)
	snap := e.snapshotLocked()
	e.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
}
