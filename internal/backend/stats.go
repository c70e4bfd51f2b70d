package backend

import (
	"sync/atomic"
	"time"
)

type stats struct {
	successCount atomic.Uint64
	successNs    atomic.Uint64
	failCount    atomic.Uint64
	failNs       atomic.Uint64
	inferences   atomic.Uint64
	executions   atomic.Uint64
	lastMillis   atomic.Int64
}

func (s *stats) record(start time.Time, rows int, err error) {
	d := uint64(time.Since(start).Nanoseconds())
	s.executions.Add(1)
	s.lastMillis.Store(time.Now().UnixMilli())
	if err != nil {
		s.failCount.Add(1)
		s.failNs.Add(d)
		return
	}
	s.successCount.Add(1)
	s.successNs.Add(d)
	s.inferences.Add(uint64(rows))
}

// Duration is a count of events and their total time.
type Duration struct {
	Count uint64
	Ns    uint64
}

// Statistics is a snapshot of a model's request counters. InferenceCount
// counts rows of successful requests, ExecutionCount counts requests.
type Statistics struct {
	Success        Duration
	Fail           Duration
	InferenceCount uint64
	ExecutionCount uint64
	LastInference  int64
}

func (m *Model) Statistics() Statistics {
	s := &m.stats
	return Statistics{
		Success:        Duration{Count: s.successCount.Load(), Ns: s.successNs.Load()},
		Fail:           Duration{Count: s.failCount.Load(), Ns: s.failNs.Load()},
		InferenceCount: s.inferences.Load(),
		ExecutionCount: s.executions.Load(),
		LastInference:  s.lastMillis.Load(),
	}
}
