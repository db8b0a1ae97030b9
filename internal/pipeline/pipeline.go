// Package pipeline drives one source and one sink through a shared byte
// buffer. Each cycle pulls once, pushes once, applies the overflow policy
// when the buffer has grown past its limit, and then blocks on device
// readiness if either endpoint offers it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/maximxlss/stupid-audio-stream/internal/audio"
	"github.com/maximxlss/stupid-audio-stream/internal/metrics"
	"github.com/maximxlss/stupid-audio-stream/internal/transport"
)

// Policy decides what happens when the buffer outgrows its limit
type Policy int

const (
	// PolicyTrim drops whole alignment units from the head of the buffer
	PolicyTrim Policy = iota
	// PolicyRestart restarts source and sink and empties the buffer
	PolicyRestart
)

// String returns the configuration name of the policy
func (p Policy) String() string {
	switch p {
	case PolicyTrim:
		return "trim"
	case PolicyRestart:
		return "restart"
	default:
		return fmt.Sprintf("unknown(%d)", int(p))
	}
}

// ParsePolicy maps a configuration name to a Policy
func ParsePolicy(name string) (Policy, error) {
	switch name {
	case "trim":
		return PolicyTrim, nil
	case "restart":
		return PolicyRestart, nil
	default:
		return 0, fmt.Errorf("unknown overflow policy %q", name)
	}
}

// Config contains the pipeline parameters
type Config struct {
	Limit            int           // buffer bytes tolerated before the policy applies
	Alignment        int           // trim unit in bytes
	Policy           Policy
	ReadinessTimeout time.Duration // fatal if a device stays silent this long
}

// Validate checks the limit against the alignment unit
func (c Config) Validate() error {
	if c.Alignment < 1 {
		return fmt.Errorf("alignment must be at least 1 byte, got %d", c.Alignment)
	}
	if c.Limit < 2*c.Alignment {
		return fmt.Errorf("buffer limit must be at least %d", 2*c.Alignment)
	}
	if c.ReadinessTimeout <= 0 {
		return fmt.Errorf("readiness timeout must be positive, got %v", c.ReadinessTimeout)
	}
	if c.Policy != PolicyTrim && c.Policy != PolicyRestart {
		return fmt.Errorf("unknown overflow policy %d", int(c.Policy))
	}
	return nil
}

// Stats is a point-in-time view of a pipeline
type Stats struct {
	RunID        string    `json:"run_id"`
	Source       string    `json:"source"`
	Sink         string    `json:"sink"`
	Policy       string    `json:"policy"`
	Running      bool      `json:"running"`
	StartTime    time.Time `json:"start_time"`
	Uptime       string    `json:"uptime"`
	Cycles       uint64    `json:"cycles"`
	BytesIn      uint64    `json:"bytes_in"`
	BytesOut     uint64    `json:"bytes_out"`
	BytesTrimmed uint64    `json:"bytes_trimmed"`
	BufferLen    int64     `json:"buffer_len"`
	BufferLimit  int       `json:"buffer_limit"`
	Overflows    uint64    `json:"overflows"`
	Restarts     uint64    `json:"restarts"`
	LastError    string    `json:"last_error,omitempty"`
}

// Pipeline owns the buffer, the source and the sink. Run must not be
// called concurrently; Stats may be called from any goroutine.
type Pipeline struct {
	cfg     Config
	source  transport.RecoverableSource
	sink    transport.RecoverableSink
	waiter  transport.Waiter
	buffer  *audio.Buffer
	logger  *slog.Logger
	metrics *metrics.Metrics

	runID      string
	startTime  time.Time
	sourceName string
	sinkName   string

	running      atomic.Bool
	cycles       atomic.Uint64
	bytesIn      atomic.Uint64
	bytesOut     atomic.Uint64
	bytesTrimmed atomic.Uint64
	bufferLen    atomic.Int64
	overflows    atomic.Uint64
	restarts     atomic.Uint64
	lastErr      atomic.Pointer[string]
}

// New creates a pipeline between source and sink. The source's readiness
// wait is used when it has one, otherwise the sink's.
func New(cfg Config, source transport.RecoverableSource, sink transport.RecoverableSink, logger *slog.Logger, m *metrics.Metrics) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	runID := uuid.NewString()
	p := &Pipeline{
		cfg:        cfg,
		source:     source,
		sink:       sink,
		buffer:     audio.NewBuffer(cfg.Limit),
		logger:     logger.With(slog.String("component", "pipeline"), slog.String("run_id", runID)),
		metrics:    m,
		runID:      runID,
		startTime:  time.Now(),
		sourceName: source.String(),
		sinkName:   sink.String(),
	}

	if w, ok := source.(transport.Waiter); ok {
		p.waiter = w
	} else if w, ok := sink.(transport.Waiter); ok {
		p.waiter = w
	}

	return p, nil
}

// Run repeats Cycle until ctx is done or a cycle fails. Cancellation is
// checked between cycles and is not an error.
func (p *Pipeline) Run(ctx context.Context) error {
	p.running.Store(true)
	defer p.running.Store(false)

	p.logger.Info("Pipeline started",
		slog.String("source", p.sourceName),
		slog.String("sink", p.sinkName),
		slog.String("policy", p.cfg.Policy.String()),
		slog.Int("buffer_limit", p.cfg.Limit),
		slog.Int("alignment", p.cfg.Alignment),
		slog.Bool("readiness_wait", p.waiter != nil),
	)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Pipeline stopped",
				slog.Uint64("cycles", p.cycles.Load()),
				slog.Uint64("bytes_in", p.bytesIn.Load()),
				slog.Uint64("bytes_out", p.bytesOut.Load()),
			)
			return nil
		default:
		}

		if err := p.Cycle(); err != nil {
			msg := err.Error()
			p.lastErr.Store(&msg)
			p.logger.Error("Pipeline failed", slog.String("error", msg))
			return err
		}
	}
}

// Cycle pulls once, pushes once, handles overflow and waits for readiness
func (p *Pipeline) Cycle() error {
	n, err := p.source.Pull(p.buffer)
	p.bytesIn.Add(uint64(n))
	p.metrics.RecordPulled(n)
	if err != nil {
		return fmt.Errorf("failed to pull from %s: %w", p.sourceName, err)
	}

	n, err = p.sink.Push(p.buffer)
	p.bytesOut.Add(uint64(n))
	p.metrics.RecordPushed(n)
	if err != nil {
		return fmt.Errorf("failed to push to %s: %w", p.sinkName, err)
	}

	if p.buffer.Len() > p.cfg.Limit {
		if err := p.overflow(); err != nil {
			return err
		}
	}

	p.cycles.Add(1)
	p.bufferLen.Store(int64(p.buffer.Len()))
	p.metrics.SetBufferOccupancy(p.buffer.Len())

	if p.waiter == nil {
		return nil
	}

	start := time.Now()
	if err := p.waiter.Wait(p.cfg.ReadinessTimeout); err != nil {
		return fmt.Errorf("failed waiting for device readiness: %w", err)
	}
	p.metrics.RecordWait(time.Since(start).Seconds())
	return nil
}

func (p *Pipeline) overflow() error {
	buffered := p.buffer.Len()
	p.overflows.Add(1)
	p.metrics.RecordOverflow(p.cfg.Policy.String())

	if p.cfg.Policy == PolicyRestart {
		if err := p.source.Restart(); err != nil {
			return fmt.Errorf("failed to restart source %s: %w", p.sourceName, err)
		}
		if err := p.sink.Restart(); err != nil {
			return fmt.Errorf("failed to restart sink %s: %w", p.sinkName, err)
		}
		p.buffer.Clear()
		p.restarts.Add(1)
		p.metrics.RecordRestart()

		p.logger.Warn("Buffer too full, restarting source and sink",
			slog.Int("buffered", buffered),
			slog.Int("limit", p.cfg.Limit),
		)
		return nil
	}

	dropped := p.buffer.DropFront(buffered / p.cfg.Alignment * p.cfg.Alignment)
	p.bytesTrimmed.Add(uint64(dropped))

	p.logger.Warn("Buffer too full, trimming",
		slog.Int("buffered", buffered),
		slog.Int("dropped", dropped),
		slog.Int("limit", p.cfg.Limit),
	)
	return nil
}

// Stats returns a snapshot of the pipeline counters
func (p *Pipeline) Stats() Stats {
	s := Stats{
		RunID:        p.runID,
		Source:       p.sourceName,
		Sink:         p.sinkName,
		Policy:       p.cfg.Policy.String(),
		Running:      p.running.Load(),
		StartTime:    p.startTime,
		Uptime:       time.Since(p.startTime).Round(time.Second).String(),
		Cycles:       p.cycles.Load(),
		BytesIn:      p.bytesIn.Load(),
		BytesOut:     p.bytesOut.Load(),
		BytesTrimmed: p.bytesTrimmed.Load(),
		BufferLen:    p.bufferLen.Load(),
		BufferLimit:  p.cfg.Limit,
		Overflows:    p.overflows.Load(),
		Restarts:     p.restarts.Load(),
	}
	if msg := p.lastErr.Load(); msg != nil {
		s.LastError = *msg
	}
	return s
}

// RunID returns the identifier that tags this pipeline's logs
func (p *Pipeline) RunID() string {
	return p.runID
}

// Close closes the source and the sink
func (p *Pipeline) Close() error {
	return errors.Join(p.source.Close(), p.sink.Close())
}
