// internal/alerting/alerter.go
package alerting

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/KEVINALEXIS1079/proyecto-formativo-sub000/internal/clock"
	"github.com/KEVINALEXIS1079/proyecto-formativo-sub000/internal/data"
	"github.com/KEVINALEXIS1079/proyecto-formativo-sub000/internal/engine"
	"github.com/KEVINALEXIS1079/proyecto-formativo-sub000/internal/source"
)

const (
	DefaultInterval = 30 * time.Second
	DefaultHistory  = 100
	defaultWindow   = 24 * time.Hour
)

type AlertSource interface {
	GetAlerts(ctx context.Context, q source.AlertsQuery) ([]data.Alert, error)
}

// ViewProvider supplies the filter and range alerts are scoped to.
type ViewProvider interface {
	View() engine.View
}

type Broadcaster interface {
	BroadcastAlert(alert data.Alert)
}

// Alerter polls the backend for alerts matching the dashboard's current
// view and forwards the ones it has not seen yet.
type Alerter struct {
	src      AlertSource
	views    ViewProvider
	out      Broadcaster
	interval time.Duration
	history  int
	clock    clock.Clock
	logger   *slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	timerMu sync.Mutex
	timer   *clock.Timer

	mu     sync.RWMutex
	recent []data.Alert // newest first
	seen   map[int64]bool
}

type Options struct {
	Interval time.Duration
	History  int
	Clock    clock.Clock
	Logger   *slog.Logger
}

func NewAlerter(src AlertSource, views ViewProvider, out Broadcaster, opts Options) *Alerter {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.History <= 0 {
		opts.History = DefaultHistory
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Alerter{
		src:      src,
		views:    views,
		out:      out,
		interval: opts.Interval,
		history:  opts.History,
		clock:    opts.Clock,
		logger:   opts.Logger.With("component", "alerting"),
		ctx:      ctx,
		cancel:   cancel,
		seen:     make(map[int64]bool),
	}
}

// Start polls once and then every interval after the previous poll
// finished, until Stop.
func (a *Alerter) Start() {
	a.wg.Add(1)
	go a.tick()
}

// tick runs one poll and arms the next. The WaitGroup slot is handed to
// the armed timer, so Stop waits for a poll in progress.
func (a *Alerter) tick() {
	defer a.wg.Done()
	a.Poll(a.ctx)

	a.timerMu.Lock()
	defer a.timerMu.Unlock()
	if a.ctx.Err() != nil {
		return
	}
	a.wg.Add(1)
	a.timer = a.clock.AfterFunc(a.interval, a.tick)
}

func (a *Alerter) Stop() {
	a.cancel()
	a.timerMu.Lock()
	if a.timer != nil && a.timer.Stop() {
		a.wg.Done()
	}
	a.timer = nil
	a.timerMu.Unlock()
	a.wg.Wait()
}

// Poll fetches alerts for the current view once. Failures are logged and
// left for the next tick.
func (a *Alerter) Poll(ctx context.Context) int {
	alerts, err := a.src.GetAlerts(ctx, a.query())
	if err != nil {
		if ctx.Err() == nil {
			a.logger.Warn("alerting: fetch failed", "error", err)
		}
		return 0
	}
	return a.ProcessAlerts(alerts)
}

func (a *Alerter) query() source.AlertsQuery {
	q := source.AlertsQuery{}
	if a.views != nil {
		v := a.views.View()
		q.LotID = v.Filter.LotID
		q.SensorID = v.Filter.SensorID
		if v.Range != nil {
			q.From, q.To = v.Range.Start, v.Range.End
			return q
		}
	}
	now := a.clock.Now()
	q.From, q.To = now.Add(-defaultWindow), now
	return q
}

// ProcessAlerts records alerts not seen before and broadcasts them oldest
// first. It returns how many were new.
func (a *Alerter) ProcessAlerts(alerts []data.Alert) int {
	a.mu.Lock()
	var fresh []data.Alert
	current := make(map[int64]bool, len(alerts)+len(a.recent))
	for _, alert := range alerts {
		current[alert.ID] = true
		if a.seen[alert.ID] {
			continue
		}
		a.seen[alert.ID] = true
		fresh = append(fresh, alert)
	}
	sort.SliceStable(fresh, func(i, j int) bool { return fresh[i].Time.Before(fresh[j].Time) })

	for _, alert := range fresh {
		a.recent = append([]data.Alert{alert}, a.recent...)
	}
	if len(a.recent) > a.history {
		a.recent = a.recent[:a.history]
	}

	// forget ids that are neither held nor still reported
	for _, alert := range a.recent {
		current[alert.ID] = true
	}
	for id := range a.seen {
		if !current[id] {
			delete(a.seen, id)
		}
	}
	a.mu.Unlock()

	if len(fresh) > 0 {
		a.logger.Info("alerting: new alerts", "count", len(fresh))
	}
	if a.out != nil {
		for _, alert := range fresh {
			a.out.BroadcastAlert(alert)
		}
	}
	return len(fresh)
}

// Recent returns the held alerts, newest first.
func (a *Alerter) Recent() []data.Alert {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]data.Alert{}, a.recent...)
}
