// internal/engine/cycle.go
package engine

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/KEVINALEXIS1079/proyecto-formativo-sub000/internal/data"
	"github.com/KEVINALEXIS1079/proyecto-formativo-sub000/internal/source"
	"github.com/KEVINALEXIS1079/proyecto-formativo-sub000/internal/strategy"
)

// cycle is one fetch of every active sensor under a fixed configuration.
type cycle struct {
	id          string
	gen         uint64
	seq         uint64
	sensors     []data.Sensor
	rng         *data.TimeRange
	live        bool
	granularity strategy.Granularity
	now         time.Time
}

func (c cycle) ids() []int64 {
	ids := make([]int64, len(c.sensors))
	for i, s := range c.sensors {
		ids[i] = s.ID
	}
	return ids
}

// window is the time span summaries are requested for.
func (c cycle) window(retention time.Duration) (time.Time, time.Time) {
	if c.rng != nil {
		return c.rng.Start, c.rng.End
	}
	return c.now.Add(-retention), c.now
}

// startCycleLocked launches a cycle for the current configuration unless one
// is already running for it.
func (e *Engine) startCycleLocked() {
	if e.closed || e.inFlight || len(e.active) == 0 {
		return
	}
	now := e.clock.Now()
	e.cycleSeq++
	c := cycle{
		id:          uuid.NewString(),
		gen:         e.generation,
		seq:         e.cycleSeq,
		sensors:     append([]data.Sensor(nil), e.active...),
		rng:         e.configRange,
		live:        data.IsLive(e.configRange, now),
		granularity: strategy.ForRange(e.configRange),
		now:         now,
	}
	e.inFlight = true
	e.state = StateFetching

	e.logger.Debug("engine: cycle started",
		"cycle", c.id,
		"generation", c.gen,
		"sensors", len(c.sensors),
		"granularity", c.granularity,
		"live", c.live,
	)
	go e.run(c)
}

func (e *Engine) run(c cycle) {
	var (
		raw     map[int64][]data.Reading
		buckets map[int64][]data.AggregatedBucket
	)
	if c.granularity == strategy.Raw {
		raw = e.fetchRaw(c)
	} else {
		buckets = e.fetchBulk(c)
	}
	if e.apply(c, raw, buckets) {
		go e.fetchSummaries(c)
	}
	e.notify()
}

// fetchRaw requests every sensor concurrently. A failed sensor yields no
// readings and does not affect its siblings.
func (e *Engine) fetchRaw(c cycle) map[int64][]data.Reading {
	q := source.ReadingsQuery{}
	switch {
	case c.rng == nil:
		q.Limit = e.maxPoints
		q.From = c.now.Add(-e.retention)
	case c.live:
		q.Limit = e.maxPoints
		q.From, q.To = c.rng.Start, c.rng.End
	default:
		q.From, q.To = c.rng.Start, c.rng.End
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		out = make(map[int64][]data.Reading, len(c.sensors))
	)
	for _, s := range c.sensors {
		wg.Add(1)
		go func(s data.Sensor) {
			defer wg.Done()
			readings, err := e.src.GetReadings(e.ctx, s.ID, q)
			if err != nil {
				e.sensorFailures.Add(1)
				e.logger.Warn("engine: readings fetch failed",
					"cycle", c.id, "sensor", s.ID, "error", err)
				readings = nil
			}
			mu.Lock()
			out[s.ID] = readings
			mu.Unlock()
		}(s)
	}
	wg.Wait()
	return out
}

// fetchBulk issues the single aggregated request a bucketed range needs.
func (e *Engine) fetchBulk(c cycle) map[int64][]data.AggregatedBucket {
	out, err := e.src.GetBulkAggregated(e.ctx, c.ids(), source.BulkQuery{
		From:     c.rng.Start,
		To:       c.rng.End,
		Interval: c.granularity,
	})
	if err != nil {
		e.sensorFailures.Add(uint64(len(c.sensors)))
		e.logger.Warn("engine: bulk fetch failed", "cycle", c.id, "error", err)
		return nil
	}
	return out
}

// apply installs a finished cycle's results. It reports false when the
// cycle was superseded and its results were dropped.
func (e *Engine) apply(c cycle, raw map[int64][]data.Reading, buckets map[int64][]data.AggregatedBucket) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed || c.gen != e.generation {
		e.discarded.Add(1)
		e.logger.Debug("engine: stale cycle discarded", "cycle", c.id, "generation", c.gen)
		return false
	}

	readings := make(map[int64][]data.Reading, len(c.sensors))
	series := make(map[int64][]data.Point, len(c.sensors))
	for _, s := range c.sensors {
		if c.granularity == strategy.Raw {
			var window []data.Reading
			if c.live {
				window = e.buffer.Ingest(s.ID, raw[s.ID])
			} else {
				window = chronological(raw[s.ID])
			}
			if window == nil {
				window = []data.Reading{}
			}
			readings[s.ID] = window
			series[s.ID] = readingPoints(window)
			continue
		}
		series[s.ID] = bucketPoints(buckets[s.ID])
	}

	e.readings = readings
	e.series = series
	e.live = c.live
	e.granularity = c.granularity
	e.state = StateReady
	e.updatedAt = e.clock.Now()
	e.inFlight = false

	if c.live {
		gen := c.gen
		e.stopTimerLocked()
		e.timer = e.clock.AfterFunc(e.pollInterval, func() { e.poll(gen) })
	}
	e.cycles.Add(1)

	e.logger.Debug("engine: cycle applied", "cycle", c.id, "sensors", len(c.sensors))
	return true
}

// poll is the timer callback for a live configuration.
func (e *Engine) poll(gen uint64) {
	e.mu.Lock()
	if e.closed || gen != e.generation {
		e.mu.Unlock()
		return
	}
	e.timer = nil
	e.startCycleLocked()
	e.mu.Unlock()
	e.notify()
}

func chronological(in []data.Reading) []data.Reading {
	out := append([]data.Reading(nil), in...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}

func readingPoints(in []data.Reading) []data.Point {
	out := make([]data.Point, len(in))
	for i, r := range in {
		out[i] = data.Point{Time: r.Time, Value: r.Value}
	}
	return out
}

func bucketPoints(in []data.AggregatedBucket) []data.Point {
	out := make([]data.Point, len(in))
	for i, b := range in {
		out[i] = data.Point{Time: b.Time, Value: b.Avg}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}
