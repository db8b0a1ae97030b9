package device

import (
	"fmt"
	"sync"
	"time"

	"github.com/maximxlss/stupid-audio-stream/internal/audio"
)

// Memory is an in-process audio backend. Capture endpoints deliver bytes
// handed to Feed; render endpoints record what is written and report a
// fixed amount of free space, as if playback were instantaneous.
type Memory struct {
	mu        sync.Mutex
	endpoints []*Endpoint
}

// NewMemory creates an empty in-process backend
func NewMemory() *Memory {
	return &Memory{}
}

// Add registers a named endpoint for the given direction
func (m *Memory) Add(name string, dir Direction) *Endpoint {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := &Endpoint{
		name:   name,
		dir:    dir,
		space:  4096,
		notify: make(chan struct{}, 1),
	}
	m.endpoints = append(m.endpoints, e)
	return e
}

// Open implements Opener
func (m *Memory) Open(query string, dir Direction, format audio.Format) (Session, error) {
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("failed to open %s device %q: %w", dir, query, err)
	}

	m.mu.Lock()
	var candidates []*Endpoint
	var names []string
	for _, e := range m.endpoints {
		if e.dir == dir {
			candidates = append(candidates, e)
			names = append(names, e.name)
		}
	}
	m.mu.Unlock()

	idx, err := MatchName(names, query)
	if err != nil {
		return nil, fmt.Errorf("failed to find %s device: %w", dir, err)
	}

	e := candidates[idx]
	if err := e.open(); err != nil {
		return nil, fmt.Errorf("failed to open %s device %q: %w", dir, e.name, err)
	}

	return &memorySession{endpoint: e, format: format}, nil
}

// Endpoint is one device of a Memory backend
type Endpoint struct {
	name string
	dir  Direction

	mu       sync.Mutex
	captured []byte
	rendered []byte
	space    int // render space in frames
	opens    int
	openErr  error
	notify   chan struct{}
}

// Name returns the device name
func (e *Endpoint) Name() string {
	return e.name
}

// Feed makes p available to capture sessions
func (e *Endpoint) Feed(p []byte) {
	e.mu.Lock()
	e.captured = append(e.captured, p...)
	e.mu.Unlock()
	e.signal()
}

// Rendered returns a copy of everything written by render sessions
func (e *Endpoint) Rendered() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]byte, len(e.rendered))
	copy(out, e.rendered)
	return out
}

// SetRenderSpace sets the free space reported to render sessions
func (e *Endpoint) SetRenderSpace(frames int) {
	e.mu.Lock()
	e.space = frames
	e.mu.Unlock()
	e.signal()
}

// FailOpen makes subsequent opens fail with err; nil clears it
func (e *Endpoint) FailOpen(err error) {
	e.mu.Lock()
	e.openErr = err
	e.mu.Unlock()
}

// Opens returns how many sessions have been opened on the endpoint
func (e *Endpoint) Opens() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opens
}

func (e *Endpoint) open() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.openErr != nil {
		return e.openErr
	}
	e.opens++
	return nil
}

func (e *Endpoint) signal() {
	select {
	case e.notify <- struct{}{}:
	default:
	}
}

type memorySession struct {
	endpoint *Endpoint
	format   audio.Format

	mu      sync.Mutex
	started bool
	closed  bool
}

func (s *memorySession) Name() string {
	return s.endpoint.name
}

func (s *memorySession) Format() audio.Format {
	return s.format
}

func (s *memorySession) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.started = true
	return nil
}

// Stop halts the stream and discards audio not yet read
func (s *memorySession) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.started = false

	e := s.endpoint
	e.mu.Lock()
	if e.dir == Capture {
		e.captured = nil
	}
	e.mu.Unlock()
	return nil
}

func (s *memorySession) Close() error {
	if err := s.Stop(); err != nil {
		return err
	}

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *memorySession) state() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *memorySession) running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && !s.closed
}

func (s *memorySession) AvailableCaptureFrames() (int, error) {
	if err := s.state(); err != nil {
		return 0, err
	}
	if s.endpoint.dir != Capture {
		return 0, fmt.Errorf("device %q is not a capture device", s.endpoint.name)
	}
	if !s.running() {
		return 0, nil
	}

	e := s.endpoint
	e.mu.Lock()
	defer e.mu.Unlock()
	return s.format.Frames(len(e.captured)), nil
}

func (s *memorySession) AvailableRenderSpace() (int, error) {
	if err := s.state(); err != nil {
		return 0, err
	}
	if s.endpoint.dir != Render {
		return 0, fmt.Errorf("device %q is not a render device", s.endpoint.name)
	}
	if !s.running() {
		return 0, nil
	}

	e := s.endpoint
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.space, nil
}

func (s *memorySession) ReadFrames(p []byte) (int, error) {
	if err := s.state(); err != nil {
		return 0, err
	}

	align := s.format.BlockAlign()
	e := s.endpoint
	e.mu.Lock()
	defer e.mu.Unlock()

	n := copy(p[:len(p)/align*align], e.captured)
	n = n / align * align
	e.captured = e.captured[n:]
	return n, nil
}

func (s *memorySession) WriteFrames(p []byte) (int, error) {
	if err := s.state(); err != nil {
		return 0, err
	}

	align := s.format.BlockAlign()
	e := s.endpoint
	e.mu.Lock()
	defer e.mu.Unlock()

	n := len(p) / align * align
	if limit := e.space * align; n > limit {
		n = limit
	}
	e.rendered = append(e.rendered, p[:n]...)
	return n, nil
}

func (s *memorySession) ready() bool {
	var frames int
	var err error
	if s.endpoint.dir == Capture {
		frames, err = s.AvailableCaptureFrames()
	} else {
		frames, err = s.AvailableRenderSpace()
	}
	return err == nil && frames > 0
}

func (s *memorySession) Wait(timeout time.Duration) error {
	if err := s.state(); err != nil {
		return err
	}
	if s.ready() {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-s.endpoint.notify:
			if s.ready() {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("%w after %v on %q", ErrTimeout, timeout, s.endpoint.name)
		}
	}
}
