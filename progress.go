package saft

import (
	"sort"
	"time"
)

// Snapshot is one periodic progress report. It is advisory only; ignoring
// snapshots changes nothing about the run or its output.
type Snapshot struct {
	Elapsed time.Duration
	Events  int64
	// Rate is end-of-element events per second since the run started.
	Rate float64
	// Rows holds per-entity row counts written so far.
	Rows map[string]int64
	// TopPhases are the processing phases with the highest cumulative time,
	// slowest first.
	TopPhases []Phase
}

// Phase is the cumulative cost of one processing step.
type Phase struct {
	Name  string
	Total time.Duration
	Count int64
}

// ProgressFunc receives snapshots at a bounded rate (every progress-tick
// interval, not per element).
type ProgressFunc func(Snapshot)

type stats struct {
	started time.Time
	events  int64
	rows    map[string]int64
	phases  map[string]*Phase
}

func newStats() *stats {
	return &stats{
		started: time.Now(),
		rows:    make(map[string]int64),
		phases:  make(map[string]*Phase),
	}
}

// phase times one handler invocation; call the returned func when done.
func (s *stats) phase(name string) func() {
	t0 := time.Now()
	return func() {
		p := s.phases[name]
		if p == nil {
			p = &Phase{Name: name}
			s.phases[name] = p
		}
		p.Total += time.Since(t0)
		p.Count++
	}
}

func (s *stats) row(entity string) { s.rows[entity]++ }

func (s *stats) snapshot() Snapshot {
	elapsed := time.Since(s.started)
	snap := Snapshot{
		Elapsed: elapsed,
		Events:  s.events,
		Rows:    make(map[string]int64, len(s.rows)),
	}
	if secs := elapsed.Seconds(); secs > 0 {
		snap.Rate = float64(s.events) / secs
	}
	for k, v := range s.rows {
		snap.Rows[k] = v
	}
	for _, p := range s.phases {
		snap.TopPhases = append(snap.TopPhases, *p)
	}
	sort.Slice(snap.TopPhases, func(i, j int) bool {
		if snap.TopPhases[i].Total != snap.TopPhases[j].Total {
			return snap.TopPhases[i].Total > snap.TopPhases[j].Total
		}
		return snap.TopPhases[i].Name < snap.TopPhases[j].Name
	})
	if len(snap.TopPhases) > 6 {
		snap.TopPhases = snap.TopPhases[:6]
	}
	return snap
}
