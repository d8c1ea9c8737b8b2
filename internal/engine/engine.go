// Package engine keeps the dashboard's view of sensor telemetry current.
//
// An Engine owns the sensor list, the consumer's view (filter and time
// range), the live buffer and the summaries. Whenever the active sensor
// set or the time range changes it runs one fetch cycle; while the view is
// live it re-runs the cycle on a fixed interval. Results of a cycle whose
// configuration has been superseded are dropped, never merged.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KEVINALEXIS1079/proyecto-formativo-sub000/internal/clock"
	"github.com/KEVINALEXIS1079/proyecto-formativo-sub000/internal/data"
	"github.com/KEVINALEXIS1079/proyecto-formativo-sub000/internal/source"
	"github.com/KEVINALEXIS1079/proyecto-formativo-sub000/internal/storage"
	"github.com/KEVINALEXIS1079/proyecto-formativo-sub000/internal/strategy"
)

const DefaultPollInterval = 15 * time.Second

var ErrClosed = errors.New("engine closed")

// Source is the part of the backend client the engine reads from.
type Source interface {
	ListSensors(ctx context.Context, f data.Filter) ([]data.Sensor, error)
	GetReadings(ctx context.Context, sensorID int64, q source.ReadingsQuery) ([]data.Reading, error)
	GetBulkAggregated(ctx context.Context, sensorIDs []int64, q source.BulkQuery) (map[int64][]data.AggregatedBucket, error)
	GetSummary(ctx context.Context, sensorTypeID int64, from, to time.Time) (data.SensorSummary, error)
}

type Options struct {
	PollInterval  time.Duration
	MaxLivePoints int
	Retention     time.Duration
	// Scope narrows ListSensors server-side (lot and sub-lot only).
	Scope  data.Filter
	Clock  clock.Clock
	Logger *slog.Logger
}

// View is what the consumer is looking at. A nil Range means "live, up to now".
type View struct {
	Filter data.Filter     `json:"filter"`
	Range  *data.TimeRange `json:"range,omitempty"`
}

type State string

const (
	StateIdle     State = "idle"
	StateFetching State = "fetching"
	StateReady    State = "ready"
)

// Stats are monotonic counters, mostly for tests and diagnostics.
type Stats struct {
	Cycles          uint64 `json:"cycles"`
	Discarded       uint64 `json:"discarded"`
	SensorFailures  uint64 `json:"sensorFailures"`
	SummaryFailures uint64 `json:"summaryFailures"`
}

type Engine struct {
	src          Source
	clock        clock.Clock
	logger       *slog.Logger
	buffer       *storage.LiveBuffer
	pollInterval time.Duration
	maxPoints    int
	retention    time.Duration
	scope        data.Filter

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	closed      bool
	sensors     []data.Sensor
	listing     bool
	listErr     error
	view        View
	active      []data.Sensor
	configRange *data.TimeRange
	generation  uint64
	cycleSeq    uint64
	inFlight    bool
	timer       *clock.Timer
	state       State
	live        bool
	granularity strategy.Granularity
	readings    map[int64][]data.Reading
	series      map[int64][]data.Point
	summaries   map[int64]data.SensorSummary
	summarySeq  uint64
	updatedAt   time.Time
	listeners   []func(Snapshot)

	cycles          atomic.Uint64
	discarded       atomic.Uint64
	sensorFailures  atomic.Uint64
	summaryFailures atomic.Uint64
}

func New(src Source, opts Options) *Engine {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.MaxLivePoints <= 0 {
		opts.MaxLivePoints = storage.DefaultMaxPoints
	}
	if opts.Retention <= 0 {
		opts.Retention = storage.DefaultRetention
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		src:          src,
		clock:        opts.Clock,
		logger:       opts.Logger.With("component", "engine"),
		buffer:       storage.NewLiveBuffer(opts.Clock, opts.MaxLivePoints, opts.Retention),
		pollInterval: opts.PollInterval,
		maxPoints:    opts.MaxLivePoints,
		retention:    opts.Retention,
		scope:        data.Filter{LotID: opts.Scope.LotID, SubLotID: opts.Scope.SubLotID},
		ctx:          ctx,
		cancel:       cancel,
		state:        StateIdle,
		live:         true,
		granularity:  strategy.Raw,
		readings:     make(map[int64][]data.Reading),
		series:       make(map[int64][]data.Point),
		summaries:    make(map[int64]data.SensorSummary),
	}
}

// OnUpdate registers fn to receive a snapshot after every state change.
// fn runs outside the engine lock and must not block for long.
func (e *Engine) OnUpdate(fn func(Snapshot)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, fn)
}

// RefreshSensors re-lists sensors. On failure the previous list is kept and
// the error is exposed in snapshots until the next successful listing. On
// success a new cycle runs, either because the active set changed or as a
// manual refresh of the current configuration.
func (e *Engine) RefreshSensors(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.listing = true
	e.mu.Unlock()
	e.notify()

	sensors, err := e.src.ListSensors(ctx, e.scope)

	e.mu.Lock()
	e.listing = false
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if err != nil {
		e.listErr = err
		e.mu.Unlock()
		e.logger.Error("engine: sensor listing failed", "error", err)
		e.notify()
		return err
	}
	e.sensors = sensors
	e.listErr = nil
	if !e.reconfigureLocked() && !e.inFlight {
		e.stopTimerLocked()
		e.startCycleLocked()
	}
	e.mu.Unlock()

	e.logger.Info("engine: sensors listed", "count", len(sensors))
	e.notify()
	return nil
}

// SetView changes the filter and time range. A range with start after end
// is rejected.
func (e *Engine) SetView(v View) error {
	if v.Range != nil {
		if err := v.Range.Validate(); err != nil {
			return err
		}
		r := *v.Range
		v.Range = &r
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.view = v
	e.reconfigureLocked()
	e.mu.Unlock()

	e.notify()
	return nil
}

// View returns the current view.
func (e *Engine) View() View {
	e.mu.Lock()
	defer e.mu.Unlock()
	v := e.view
	if v.Range != nil {
		r := *v.Range
		v.Range = &r
	}
	return v
}

// Active returns the sensors currently matching the filter.
func (e *Engine) Active() []data.Sensor {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]data.Sensor(nil), e.active...)
}

func (e *Engine) Stats() Stats {
	return Stats{
		Cycles:          e.cycles.Load(),
		Discarded:       e.discarded.Load(),
		SensorFailures:  e.sensorFailures.Load(),
		SummaryFailures: e.summaryFailures.Load(),
	}
}

// Close stops polling for good, drops every buffer and cancels in-flight
// requests. Further calls are no-ops.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.generation++
	e.stopTimerLocked()
	e.buffer.Reset()
	e.state = StateIdle
	e.mu.Unlock()

	e.cancel()
	e.logger.Info("engine: closed")
}

// reconfigureLocked recomputes the active set and, if it or the time range
// changed, supersedes the running configuration. It reports whether a new
// configuration was entered.
func (e *Engine) reconfigureLocked() bool {
	active := make([]data.Sensor, 0, len(e.sensors))
	for _, s := range e.sensors {
		if e.view.Filter.Matches(s) {
			active = append(active, s)
		}
	}

	rangeChanged := !e.configRange.Equal(e.view.Range)
	if !rangeChanged && sameIDs(active, e.active) {
		e.active = active // names may have changed on re-list
		return false
	}

	e.generation++
	e.inFlight = false
	e.stopTimerLocked()
	e.active = active
	e.configRange = e.view.Range

	keep := make(map[int64]bool, len(active))
	for _, s := range active {
		keep[s.ID] = true
	}
	if rangeChanged {
		e.buffer.Reset()
		e.readings = make(map[int64][]data.Reading)
		e.series = make(map[int64][]data.Point)
		e.summaries = make(map[int64]data.SensorSummary)
	} else {
		for _, id := range e.buffer.Retain(keep) {
			e.logger.Debug("engine: buffer cleared", "sensor", id)
		}
		for id := range e.series {
			if !keep[id] {
				delete(e.series, id)
				delete(e.readings, id)
				delete(e.summaries, id)
			}
		}
	}

	if len(active) == 0 {
		e.state = StateIdle
		e.buffer.Reset()
		e.readings = make(map[int64][]data.Reading)
		e.series = make(map[int64][]data.Point)
		e.summaries = make(map[int64]data.SensorSummary)
		e.logger.Info("engine: idle, no active sensors")
		return true
	}

	e.startCycleLocked()
	return true
}

func (e *Engine) stopTimerLocked() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

func sameIDs(a, b []data.Sensor) bool {
	if len(a) != len(b) {
		return false
	}
	ids := make(map[int64]bool, len(a))
	for _, s := range a {
		ids[s.ID] = true
	}
	for _, s := range b {
		if !ids[s.ID] {
			return false
		}
	}
	return true
}
