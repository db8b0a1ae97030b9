package transport

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/maximxlss/stupid-audio-stream/internal/audio"
	"github.com/maximxlss/stupid-audio-stream/internal/metrics"
)

// logSink collects JSON log records
type logSink struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (l *logSink) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.Write(p)
}

// records returns every record whose message is msg
func (l *logSink) records(t *testing.T, msg string) []map[string]any {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(l.buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		if rec["msg"] == msg {
			out = append(out, rec)
		}
	}
	return out
}

// testOptions returns options with a debug JSON logger, a private metrics
// registry and a generous poll interval
func testOptions(t *testing.T) (Options, *logSink) {
	t.Helper()
	logs := &logSink{}
	logger := slog.New(slog.NewJSONHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	return Options{
		DatagramSize: DefaultDatagramSize,
		PollInterval: 50 * time.Millisecond,
		Format:       audio.Format{BitsPerSample: 16, SampleRate: 48000, Channels: 2},
		Logger:       logger,
		Metrics:      metrics.NewMetrics(prometheus.NewRegistry()),
	}, logs
}

// pullUntil pulls until at least want bytes are queued in buf
func pullUntil(t *testing.T, src Source, buf *audio.Buffer, want int) {
	t.Helper()
	for i := 0; i < 100 && buf.Len() < want; i++ {
		_, err := src.Pull(buf)
		require.NoError(t, err)
	}
	require.GreaterOrEqual(t, buf.Len(), want, "source did not deliver in time")
}
