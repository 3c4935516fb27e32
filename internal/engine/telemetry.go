package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sample is one point of engine telemetry. Bandwidth is the serving rate in
// bytes per second over the preceding interval.
type Sample struct {
	Timestamp   time.Time `json:"timestamp"`
	Connections int       `json:"connections"`
	Bandwidth   int64     `json:"bandwidth"`
}

// ConnectionCounter supplies the live connection count. Implemented by
// SessionTracker.
type ConnectionCounter interface {
	CountAll() int
}

// ByteCounter supplies the cumulative bytes served. Implemented by
// SegmentStore.
type ByteCounter interface {
	TotalBytesServed() int64
}

// Sampler captures connection and bandwidth telemetry on a fixed interval
// into a bounded in-memory window. It runs on its own loop and never blocks
// on pipeline operations.
type Sampler struct {
	interval    time.Duration
	windowSize  int
	connections ConnectionCounter
	bytes       ByteCounter
	logger      *slog.Logger

	mu        sync.RWMutex
	samples   []Sample
	lastBytes int64
	lastAt    time.Time
}

// NewSampler creates a sampler retaining windowSize samples.
func NewSampler(interval time.Duration, windowSize int, connections ConnectionCounter, bytes ByteCounter, logger *slog.Logger) *Sampler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if windowSize < 2 {
		windowSize = 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{
		interval:    interval,
		windowSize:  windowSize,
		connections: connections,
		bytes:       bytes,
		logger:      logger,
	}
}

// Run samples until the context is cancelled.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.mu.Lock()
	s.lastBytes = s.bytes.TotalBytesServed()
	s.lastAt = time.Now()
	s.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample(time.Now())
		}
	}
}

// sample records one telemetry point. Exposed on the struct so tests can
// drive the clock directly.
func (s *Sampler) sample(now time.Time) {
	total := s.bytes.TotalBytesServed()
	conns := s.connections.CountAll()

	s.mu.Lock()
	defer s.mu.Unlock()

	var rate int64
	elapsed := now.Sub(s.lastAt).Seconds()
	if elapsed > 0 {
		rate = int64(float64(total-s.lastBytes) / elapsed)
	}
	s.lastBytes = total
	s.lastAt = now

	s.samples = append(s.samples, Sample{
		Timestamp:   now,
		Connections: conns,
		Bandwidth:   rate,
	})
	if len(s.samples) > s.windowSize {
		// Drop the oldest; copy so the backing array doesn't pin evicted data.
		s.samples = append(s.samples[:0:0], s.samples[1:]...)
	}
}

// Current returns the most recent sample.
func (s *Sampler) Current() (Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.samples) == 0 {
		return Sample{}, false
	}
	return s.samples[len(s.samples)-1], true
}

// History returns a copy of the retained window, oldest first.
func (s *Sampler) History() []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Sample(nil), s.samples...)
}

// Downsample reduces samples to at most n points by even selection. The
// first and last samples are always preserved so the rendered range covers
// the full window.
func Downsample(samples []Sample, n int) []Sample {
	if n <= 0 || len(samples) <= n {
		return append([]Sample(nil), samples...)
	}
	if n == 1 {
		return []Sample{samples[len(samples)-1]}
	}

	out := make([]Sample, n)
	last := len(samples) - 1
	for i := 0; i < n; i++ {
		idx := (i*last + (n-1)/2) / (n - 1)
		out[i] = samples[idx]
	}
	out[0] = samples[0]
	out[n-1] = samples[last]
	return out
}
