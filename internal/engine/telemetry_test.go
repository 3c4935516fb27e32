package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConnections struct{ n int }

func (f *fakeConnections) CountAll() int { return f.n }

type fakeBytes struct{ total int64 }

func (f *fakeBytes) TotalBytesServed() int64 { return f.total }

func TestSampler_ComputesBandwidth(t *testing.T) {
	conns := &fakeConnections{n: 3}
	bytes := &fakeBytes{}
	s := NewSampler(time.Second, 10, conns, bytes, nil)

	start := time.Now()
	s.lastAt = start
	s.lastBytes = 0

	// 1000 bytes over one second is 1000 bytes per second.
	bytes.total = 1000
	s.sample(start.Add(time.Second))

	sample, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, 3, sample.Connections)
	assert.Equal(t, int64(1000), sample.Bandwidth)
}

func TestSampler_BandwidthScalesWithInterval(t *testing.T) {
	bytes := &fakeBytes{}
	s := NewSampler(time.Second, 10, &fakeConnections{}, bytes, nil)

	start := time.Now()
	s.lastAt = start

	bytes.total = 3000
	s.sample(start.Add(2 * time.Second))

	sample, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, int64(1500), sample.Bandwidth)
}

func TestSampler_WindowEvictsOldest(t *testing.T) {
	bytes := &fakeBytes{}
	s := NewSampler(time.Second, 3, &fakeConnections{}, bytes, nil)

	start := time.Now()
	s.lastAt = start
	for i := 1; i <= 5; i++ {
		s.sample(start.Add(time.Duration(i) * time.Second))
	}

	history := s.History()
	require.Len(t, history, 3)
	assert.Equal(t, start.Add(3*time.Second), history[0].Timestamp)
	assert.Equal(t, start.Add(5*time.Second), history[2].Timestamp)
}

func TestSampler_CurrentEmpty(t *testing.T) {
	s := NewSampler(time.Second, 10, &fakeConnections{}, &fakeBytes{}, nil)

	_, ok := s.Current()
	assert.False(t, ok)
}

func TestDownsample_KeepsEndpoints(t *testing.T) {
	samples := make([]Sample, 100)
	base := time.Now()
	for i := range samples {
		samples[i] = Sample{Timestamp: base.Add(time.Duration(i) * time.Second)}
	}

	out := Downsample(samples, 10)
	require.Len(t, out, 10)
	assert.Equal(t, samples[0].Timestamp, out[0].Timestamp)
	assert.Equal(t, samples[99].Timestamp, out[9].Timestamp)

	// Selection is monotonically increasing.
	for i := 1; i < len(out); i++ {
		assert.True(t, out[i].Timestamp.After(out[i-1].Timestamp))
	}
}

func TestDownsample_SmallInputsPassThrough(t *testing.T) {
	samples := []Sample{{Connections: 1}, {Connections: 2}}

	out := Downsample(samples, 5)
	assert.Equal(t, samples, out)

	out = Downsample(samples, 0)
	assert.Equal(t, samples, out)
}

func TestDownsample_TwoPointsFromThree(t *testing.T) {
	samples := []Sample{{Connections: 1}, {Connections: 2}, {Connections: 3}}

	out := Downsample(samples, 2)
	require.Len(t, out, 2)
	assert.Equal(t, 1, out[0].Connections)
	assert.Equal(t, 3, out[1].Connections)
}
