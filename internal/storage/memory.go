// internal/storage/memory.go
package storage

import (
	"sort"
	"sync"
	"time"

	"github.com/KEVINALEXIS1079/proyecto-formativo-sub000/internal/clock"
	"github.com/KEVINALEXIS1079/proyecto-formativo-sub000/internal/data"
)

const (
	DefaultMaxPoints = 50             // most recent readings kept per sensor
	DefaultRetention = 24 * time.Hour // older readings are dropped
)

// LiveBuffer holds, per sensor, the bounded window of readings shown while
// a view is live. Each Ingest recomputes the window: merge, sort, drop
// entries older than the retention horizon, then cap to the newest points.
type LiveBuffer struct {
	mu        sync.RWMutex
	buffers   map[int64][]data.Reading
	capacity  int
	retention time.Duration
	clock     clock.Clock
}

func NewLiveBuffer(clk clock.Clock, capacity int, retention time.Duration) *LiveBuffer {
	if capacity <= 0 {
		capacity = DefaultMaxPoints
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &LiveBuffer{
		buffers:   make(map[int64][]data.Reading),
		capacity:  capacity,
		retention: retention,
		clock:     clk,
	}
}

// Ingest merges readings into the sensor's window and returns a copy of the
// resulting window. Source order is not trusted. The retention horizon is
// evaluated against the clock at call time.
func (s *LiveBuffer) Ingest(sensorID int64, readings []data.Reading) []data.Reading {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.clock.Now().Add(-s.retention)

	merged := make([]data.Reading, 0, len(s.buffers[sensorID])+len(readings))
	merged = append(merged, s.buffers[sensorID]...)
	merged = append(merged, readings...)
	sort.Slice(merged, func(i, j int) bool {
		if !merged[i].Time.Equal(merged[j].Time) {
			return merged[i].Time.Before(merged[j].Time)
		}
		return merged[i].Value < merged[j].Value
	})

	window := make([]data.Reading, 0, len(merged))
	for _, r := range merged {
		if r.Time.Before(cutoff) {
			continue
		}
		if n := len(window); n > 0 && window[n-1].Time.Equal(r.Time) && window[n-1].Value == r.Value {
			continue // same observation delivered by consecutive polls
		}
		window = append(window, r)
	}
	if len(window) > s.capacity {
		window = append([]data.Reading(nil), window[len(window)-s.capacity:]...)
	}

	s.buffers[sensorID] = window
	return copyReadings(window)
}

// Clear drops the sensor's window.
func (s *LiveBuffer) Clear(sensorID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buffers, sensorID)
}

// Retain clears every sensor not in keep and returns the ids it dropped.
func (s *LiveBuffer) Retain(keep map[int64]bool) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var dropped []int64
	for id := range s.buffers {
		if !keep[id] {
			delete(s.buffers, id)
			dropped = append(dropped, id)
		}
	}
	return dropped
}

// Reset drops all windows.
func (s *LiveBuffer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffers = make(map[int64][]data.Reading)
}

func copyReadings(in []data.Reading) []data.Reading {
	out := make([]data.Reading, len(in))
	copy(out, in)
	return out
}
