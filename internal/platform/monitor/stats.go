package monitor

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RingSize bounds the rolling window of cycle durations
const RingSize = 100

// Stats accumulates in-process refresh statistics. Counters are
// process-scoped and reset on restart; periodic snapshots persist them.
// All methods are safe for concurrent use.
type Stats struct {
	mu         sync.Mutex
	startedAt  time.Time
	total      int64
	successful int64
	failed     int64
	durations  [RingSize]float64
	count      int
	next       int
	active     map[uuid.UUID]time.Time
	now        func() time.Time
}

// NewStats creates a Stats anchored at the current instant
func NewStats() *Stats {
	return &Stats{
		startedAt: time.Now(),
		active:    make(map[uuid.UUID]time.Time),
		now:       time.Now,
	}
}

// BeginCycle stamps the start of a refresh cycle and returns its ID
func (s *Stats) BeginCycle() uuid.UUID {
	id := uuid.New()
	s.mu.Lock()
	s.active[id] = s.now()
	s.mu.Unlock()
	return id
}

// EndCycle updates the counters and appends the duration to the
// rolling window. A non-positive duration falls back to the stamped
// start of the cycle.
func (s *Stats) EndCycle(id uuid.UUID, success bool, duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if duration <= 0 {
		if started, ok := s.active[id]; ok {
			duration = s.now().Sub(started)
		}
	}
	delete(s.active, id)

	s.total++
	if success {
		s.successful++
	} else {
		s.failed++
	}

	s.durations[s.next] = duration.Seconds()
	s.next = (s.next + 1) % RingSize
	if s.count < RingSize {
		s.count++
	}
}

// Snapshot derives a point-in-time view. assetsTracked comes from the
// tracking registry; everything else is computed from the counters.
func (s *Stats) Snapshot(assetsTracked int) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	var rate float64
	if s.total > 0 {
		rate = round2(float64(s.successful) / float64(s.total) * 100)
	}

	var avg float64
	if s.count > 0 {
		var sum float64
		for i := 0; i < s.count; i++ {
			sum += s.durations[i]
		}
		avg = round2(sum / float64(s.count))
	}

	return Snapshot{
		Time:             now,
		UptimeSeconds:    int64(now.Sub(s.startedAt).Seconds()),
		TotalCycles:      s.total,
		SuccessfulCycles: s.successful,
		FailedCycles:     s.failed,
		SuccessRate:      rate,
		AvgCycleSeconds:  avg,
		AssetsTracked:    assetsTracked,
	}
}

// Uptime reports how long this process has been collecting
func (s *Stats) Uptime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().Sub(s.startedAt)
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
