package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maximxlss/stupid-audio-stream/internal/audio"
	"github.com/maximxlss/stupid-audio-stream/internal/device"
	"github.com/maximxlss/stupid-audio-stream/internal/metrics"
	"github.com/maximxlss/stupid-audio-stream/internal/transport"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// scriptedSource appends one chunk per Pull, then nothing
type scriptedSource struct {
	chunks   [][]byte
	err      error
	restarts int
	closed   bool
}

func (s *scriptedSource) Pull(buf *audio.Buffer) (int, error) {
	if len(s.chunks) == 0 {
		return 0, s.err
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	buf.Push(c)
	return len(c), nil
}

func (s *scriptedSource) Restart() error { s.restarts++; return nil }
func (s *scriptedSource) Close() error   { s.closed = true; return nil }
func (s *scriptedSource) String() string { return "scripted" }

// waitingSource is a scriptedSource with a readiness wait
type waitingSource struct {
	scriptedSource
	waits   int
	waitErr error
}

func (s *waitingSource) Wait(time.Duration) error {
	s.waits++
	return s.waitErr
}

// budgetSink accepts at most budget bytes per Push
type budgetSink struct {
	budget     int
	received   []byte
	restarts   int
	restartErr error
	closed     bool
}

func (s *budgetSink) Push(buf *audio.Buffer) (int, error) {
	p := buf.PopUpTo(s.budget)
	s.received = append(s.received, p...)
	return len(p), nil
}

func (s *budgetSink) Restart() error { s.restarts++; return s.restartErr }
func (s *budgetSink) Close() error   { s.closed = true; return nil }
func (s *budgetSink) String() string { return "budget" }

// waitingSink is a budgetSink with a readiness wait
type waitingSink struct {
	budgetSink
	waits int
}

func (s *waitingSink) Wait(time.Duration) error {
	s.waits++
	return nil
}

func testConfig(policy Policy) Config {
	return Config{
		Limit:            8,
		Alignment:        4,
		Policy:           policy,
		ReadinessTimeout: time.Second,
	}
}

func TestNewValidatesConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"limit below two units", Config{Limit: 7, Alignment: 4, ReadinessTimeout: time.Second}},
		{"zero alignment", Config{Limit: 8, Alignment: 0, ReadinessTimeout: time.Second}},
		{"zero timeout", Config{Limit: 8, Alignment: 4}},
		{"unknown policy", Config{Limit: 8, Alignment: 4, ReadinessTimeout: time.Second, Policy: Policy(7)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, &scriptedSource{}, &budgetSink{}, discard, nil)
			assert.Error(t, err)
		})
	}
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("trim")
	require.NoError(t, err)
	assert.Equal(t, PolicyTrim, p)

	p, err = ParsePolicy("restart")
	require.NoError(t, err)
	assert.Equal(t, PolicyRestart, p)

	_, err = ParsePolicy("panic")
	assert.Error(t, err)
}

func TestCycleMovesBytes(t *testing.T) {
	src := &scriptedSource{chunks: [][]byte{[]byte("abc"), []byte("def")}}
	sink := &budgetSink{budget: 100}

	p, err := New(testConfig(PolicyTrim), src, sink, discard, nil)
	require.NoError(t, err)

	require.NoError(t, p.Cycle())
	require.NoError(t, p.Cycle())

	assert.Equal(t, "abcdef", string(sink.received))

	stats := p.Stats()
	assert.Equal(t, uint64(2), stats.Cycles)
	assert.Equal(t, uint64(6), stats.BytesIn)
	assert.Equal(t, uint64(6), stats.BytesOut)
	assert.Zero(t, stats.BufferLen)
	assert.Equal(t, "scripted", stats.Source)
	assert.Equal(t, "budget", stats.Sink)
	assert.Equal(t, p.RunID(), stats.RunID)
}

func TestSoftTrim(t *testing.T) {
	tests := []struct {
		name      string
		in        string
		wantLeft  string
		wantTrims uint64
	}{
		{name: "remainder survives", in: "abcdefghijk", wantLeft: "ijk", wantTrims: 1},
		{name: "whole units all dropped", in: "abcdefghijkl", wantLeft: "", wantTrims: 1},
		{name: "at the limit nothing happens", in: "abcdefgh", wantLeft: "abcdefgh", wantTrims: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := prometheus.NewRegistry()
			m := metrics.NewMetrics(reg)
			src := &scriptedSource{chunks: [][]byte{[]byte(tt.in)}}
			sink := &budgetSink{budget: 0}

			p, err := New(testConfig(PolicyTrim), src, sink, discard, m)
			require.NoError(t, err)
			require.NoError(t, p.Cycle())

			assert.Equal(t, tt.wantLeft, string(p.buffer.PopUpTo(p.buffer.Len())))
			assert.Equal(t, tt.wantTrims, p.Stats().Overflows)
			assert.Zero(t, src.restarts, "trim never restarts")
			assert.Zero(t, sink.restarts, "trim never restarts")
			assert.Equal(t, float64(tt.wantTrims), testutil.ToFloat64(m.Overflows.WithLabelValues("trim")))
		})
	}
}

func TestHardRestart(t *testing.T) {
	src := &scriptedSource{chunks: [][]byte{[]byte("0123456789")}}
	sink := &budgetSink{budget: 0}

	p, err := New(testConfig(PolicyRestart), src, sink, discard, nil)
	require.NoError(t, err)
	require.NoError(t, p.Cycle())

	assert.Equal(t, 1, src.restarts)
	assert.Equal(t, 1, sink.restarts)
	assert.Zero(t, p.buffer.Len())

	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.Restarts)
	assert.Equal(t, uint64(1), stats.Overflows)
}

func TestRestartFailureIsFatal(t *testing.T) {
	src := &scriptedSource{chunks: [][]byte{[]byte("0123456789")}}
	broken := errors.New("socket gone")
	sink := &budgetSink{budget: 0, restartErr: broken}

	p, err := New(testConfig(PolicyRestart), src, sink, discard, nil)
	require.NoError(t, err)

	err = p.Run(context.Background())
	require.ErrorIs(t, err, broken)
	assert.Contains(t, p.Stats().LastError, "failed to restart sink")
}

func TestPullErrorIsFatal(t *testing.T) {
	closed := errors.New("socket closed")
	src := &scriptedSource{err: closed}

	p, err := New(testConfig(PolicyTrim), src, &budgetSink{budget: 10}, discard, nil)
	require.NoError(t, err)

	err = p.Run(context.Background())
	require.ErrorIs(t, err, closed)
	assert.False(t, p.Stats().Running)
}

func TestReadinessWait(t *testing.T) {
	t.Run("source wait preferred", func(t *testing.T) {
		src := &waitingSource{scriptedSource: scriptedSource{chunks: [][]byte{[]byte("ab")}}}
		sink := &waitingSink{budgetSink: budgetSink{budget: 10}}

		p, err := New(testConfig(PolicyTrim), src, sink, discard, nil)
		require.NoError(t, err)
		require.NoError(t, p.Cycle())

		assert.Equal(t, 1, src.waits)
		assert.Zero(t, sink.waits)
	})

	t.Run("sink wait as fallback", func(t *testing.T) {
		src := &scriptedSource{}
		sink := &waitingSink{budgetSink: budgetSink{budget: 10}}

		p, err := New(testConfig(PolicyTrim), src, sink, discard, nil)
		require.NoError(t, err)
		require.NoError(t, p.Cycle())

		assert.Equal(t, 1, sink.waits)
	})

	t.Run("timeout is fatal", func(t *testing.T) {
		src := &waitingSource{waitErr: device.ErrTimeout}

		p, err := New(testConfig(PolicyTrim), src, &budgetSink{budget: 10}, discard, nil)
		require.NoError(t, err)

		err = p.Run(context.Background())
		require.ErrorIs(t, err, device.ErrTimeout)
	})
}

func TestRunStopsOnCancel(t *testing.T) {
	src := &waitingSource{}
	p, err := New(testConfig(PolicyTrim), src, &budgetSink{budget: 10}, discard, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return p.Stats().Cycles > 0 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestClose(t *testing.T) {
	src := &scriptedSource{}
	sink := &budgetSink{}
	p, err := New(testConfig(PolicyTrim), src, sink, discard, nil)
	require.NoError(t, err)

	require.NoError(t, p.Close())
	assert.True(t, src.closed)
	assert.True(t, sink.closed)
}

func TestDeviceToDevice(t *testing.T) {
	format := audio.Format{BitsPerSample: 16, SampleRate: 48000, Channels: 1}
	mem := device.NewMemory()
	mic := mem.Add("Mic", device.Capture)
	speakers := mem.Add("Speakers", device.Render)

	opts := transport.Options{Format: format, Opener: mem, Logger: discard}
	src, err := transport.NewSource("mic", opts)
	require.NoError(t, err)
	sink, err := transport.NewSink("speakers", opts)
	require.NoError(t, err)

	cfg := Config{Limit: 64, Alignment: format.BlockAlign(), Policy: PolicyTrim, ReadinessTimeout: 200 * time.Millisecond}
	p, err := New(cfg, src, sink, discard, nil)
	require.NoError(t, err)
	defer p.Close()

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	mic.Feed([]byte{1, 0, 2, 0, 3, 0})
	require.Eventually(t, func() bool { return len(speakers.Rendered()) == 6 }, time.Second, time.Millisecond)

	mic.Feed([]byte{4, 0})
	require.Eventually(t, func() bool { return len(speakers.Rendered()) == 8 }, time.Second, time.Millisecond)
	assert.Equal(t, []byte{1, 0, 2, 0, 3, 0, 4, 0}, speakers.Rendered())

	// A silent microphone outlasts the readiness timeout and stops the run
	select {
	case err := <-done:
		require.ErrorIs(t, err, device.ErrTimeout)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not fail on a silent device")
	}
	assert.Equal(t, uint64(8), p.Stats().BytesOut)
}
