// internal/engine/summary.go
package engine

import (
	"sync"

	"github.com/guregu/null"

	"github.com/KEVINALEXIS1079/proyecto-formativo-sub000/internal/data"
)

// fetchSummaries requests one server summary per distinct sensor type in the
// cycle. It runs after the cycle has been applied and never blocks it.
func (e *Engine) fetchSummaries(c cycle) {
	from, to := c.window(e.retention)

	types := make(map[int64]bool)
	for _, s := range c.sensors {
		if s.TypeID.Valid {
			types[s.TypeID.Int64] = true
		}
	}
	if len(types) == 0 {
		return
	}

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		byType = make(map[int64]data.SensorSummary, len(types))
	)
	for typeID := range types {
		wg.Add(1)
		go func(typeID int64) {
			defer wg.Done()
			summary, err := e.src.GetSummary(e.ctx, typeID, from, to)
			if err != nil {
				e.summaryFailures.Add(1)
				e.logger.Warn("engine: summary fetch failed",
					"cycle", c.id, "sensorType", typeID, "error", err)
				return
			}
			mu.Lock()
			byType[typeID] = summary
			mu.Unlock()
		}(typeID)
	}
	wg.Wait()

	e.mu.Lock()
	if e.closed || c.gen != e.generation || c.seq < e.summarySeq {
		e.mu.Unlock()
		return
	}
	e.summarySeq = c.seq
	summaries := make(map[int64]data.SensorSummary, len(c.sensors))
	for _, s := range c.sensors {
		if !s.TypeID.Valid {
			continue
		}
		if summary, ok := byType[s.TypeID.Int64]; ok {
			summaries[s.ID] = summary
		}
	}
	e.summaries = summaries
	e.mu.Unlock()

	e.notify()
}

// local holds statistics computed from the points the engine holds.
type local struct {
	avg, min, max, last float64
	ok                  bool
}

func localStats(points []data.Point) local {
	if len(points) == 0 {
		return local{}
	}
	l := local{min: points[0].Value, max: points[0].Value, ok: true}
	var sum float64
	for _, p := range points {
		sum += p.Value
		if p.Value < l.min {
			l.min = p.Value
		}
		if p.Value > l.max {
			l.max = p.Value
		}
	}
	l.avg = sum / float64(len(points))
	l.last = points[len(points)-1].Value
	return l
}

// summarize builds the row for one sensor. A complete server summary wins
// for avg/min/max; otherwise every figure comes from the held points. With
// neither there is no row.
func summarize(s data.Sensor, points []data.Point, server data.SensorSummary, hasServer bool) (data.SummaryData, bool) {
	l := localStats(points)
	row := data.SummaryData{SensorID: s.ID, Name: s.Name}
	if l.ok {
		row.Last = null.FloatFrom(l.last)
	}

	if hasServer && server.Complete() {
		row.Avg = server.Avg.Float64
		row.Min = server.Min.Float64
		row.Max = server.Max.Float64
		return row, true
	}
	if !l.ok {
		return data.SummaryData{}, false
	}
	row.Avg, row.Min, row.Max = l.avg, l.min, l.max
	return row, true
}
