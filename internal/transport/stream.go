package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"golang.org/x/time/rate"

	"github.com/maximxlss/stupid-audio-stream/internal/audio"
	"github.com/maximxlss/stupid-audio-stream/internal/metrics"
)

const (
	// ReconnectCooldown is the least time between two outbound
	// connection attempts of a StreamSink
	ReconnectCooldown = 2 * time.Second

	dialTimeout = 2 * time.Second
)

var errNotConnected = errors.New("stream not connected")

// StreamSource listens for one TCP peer at a time. A dropped peer is
// forgotten and the next Pull accepts a new one; nothing about a peer
// going away is fatal.
type StreamSource struct {
	listener *net.TCPListener
	conn     net.Conn
	buffer   []byte
	opts     Options

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewStreamSource listens on address
func NewStreamSource(address string, opts Options) (*StreamSource, error) {
	opts = opts.withDefaults()

	addr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve TCP address %s: %w", address, err)
	}

	ln, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on TCP %s: %w", address, err)
	}

	return &StreamSource{
		listener: ln,
		buffer:   make([]byte, opts.DatagramSize),
		opts:     opts,
		logger:   opts.Logger.With(slog.String("component", "stream_source")),
		metrics:  opts.Metrics,
	}, nil
}

// Pull accepts a peer when there is none, otherwise reads once from it
func (s *StreamSource) Pull(buf *audio.Buffer) (int, error) {
	if s.conn == nil {
		return 0, s.accept()
	}

	if err := s.conn.SetReadDeadline(deadline(s.opts.PollInterval)); err != nil {
		s.drop(err)
		return 0, nil
	}

	n, err := s.conn.Read(s.buffer)
	buf.Push(s.buffer[:n])
	if err != nil && !isTimeout(err) {
		s.drop(err)
	}
	return n, nil
}

func (s *StreamSource) accept() error {
	if err := s.listener.SetDeadline(deadline(s.opts.PollInterval)); err != nil {
		return fmt.Errorf("failed to set accept deadline: %w", err)
	}

	conn, err := s.listener.Accept()
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return fmt.Errorf("failed to accept: %w", err)
		}
		if !isTimeout(err) {
			s.logger.Debug("Accept failed", slog.String("error", err.Error()))
		}
		return nil
	}

	s.conn = conn
	s.metrics.RecordAccept()
	s.logger.Debug("Accepted connection", slog.String("remote_addr", conn.RemoteAddr().String()))
	return nil
}

func (s *StreamSource) drop(cause error) {
	s.metrics.RecordConnectionDropped()
	s.logger.Debug("Connection dropped",
		slog.String("remote_addr", s.conn.RemoteAddr().String()),
		slog.String("error", cause.Error()),
	)
	s.conn.Close()
	s.conn = nil
}

// Connected reports whether a peer is attached
func (s *StreamSource) Connected() bool {
	return s.conn != nil
}

// Restart forgets the current peer and keeps listening
func (s *StreamSource) Restart() error {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	return nil
}

// Close releases the peer and the listener
func (s *StreamSource) Close() error {
	s.Restart()
	if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// Addr returns the listening address
func (s *StreamSource) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *StreamSource) String() string {
	return "idc://" + s.listener.Addr().String()
}

type dialResult struct {
	conn net.Conn
	err  error
}

// StreamSink writes to one outbound TCP connection, established in the
// background. While the peer is unreachable the bytes it was handed are
// discarded instead of piling up, and a new connection attempt is made at
// most once per ReconnectCooldown.
type StreamSink struct {
	address string
	conn    net.Conn
	pending chan dialResult // in-flight connection attempt
	buffer  []byte
	opts    Options

	cooldown *rate.Limiter
	now      func() time.Time
	dial     func(address string) (net.Conn, error)

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewStreamSink starts connecting to address and returns immediately
func NewStreamSink(address string, opts Options) (*StreamSink, error) {
	if _, err := net.ResolveTCPAddr("tcp", address); err != nil {
		return nil, fmt.Errorf("failed to resolve TCP address %s: %w", address, err)
	}
	return newStreamSink(address, opts, dialTCP, time.Now), nil
}

func newStreamSink(address string, opts Options, dial func(string) (net.Conn, error), now func() time.Time) *StreamSink {
	opts = opts.withDefaults()

	s := &StreamSink{
		address: address,
		buffer:  make([]byte, opts.DatagramSize),
		opts:    opts,
		now:     now,
		dial:    dial,
		logger:  opts.Logger.With(slog.String("component", "stream_sink")),
		metrics: opts.Metrics,
	}
	s.reconnect()
	return s
}

func dialTCP(address string) (net.Conn, error) {
	return net.DialTimeout("tcp", address, dialTimeout)
}

// reconnect abandons the current connection and any attempt in flight,
// starts a new attempt and restarts the cooldown
func (s *StreamSink) reconnect() {
	s.disconnect()

	s.cooldown = rate.NewLimiter(rate.Every(ReconnectCooldown), 1)
	s.cooldown.AllowN(s.now(), 1)

	ch := make(chan dialResult, 1)
	s.pending = ch
	dial := s.dial
	go func() {
		conn, err := dial(s.address)
		ch <- dialResult{conn: conn, err: err}
	}()

	s.metrics.RecordReconnect()
}

func (s *StreamSink) disconnect() {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	if s.pending != nil {
		go func(ch chan dialResult) {
			if r := <-ch; r.conn != nil {
				r.conn.Close()
			}
		}(s.pending)
		s.pending = nil
	}
}

// collect picks up the result of a finished connection attempt
func (s *StreamSink) collect() {
	if s.pending == nil {
		return
	}

	select {
	case r := <-s.pending:
		s.pending = nil
		if r.err != nil {
			s.logger.Debug("Connection attempt failed",
				slog.String("address", s.address),
				slog.String("error", r.err.Error()),
			)
			return
		}
		s.conn = r.conn
		s.logger.Debug("Connected", slog.String("address", s.address))
	default:
	}
}

// Push writes up to DatagramSize bytes from the head of buf. Bytes the
// socket accepted are removed; on backpressure nothing else is removed;
// on any other failure the whole attempted range is discarded.
func (s *StreamSink) Push(buf *audio.Buffer) (int, error) {
	if buf.Len() == 0 {
		return 0, nil
	}
	s.collect()

	n := min(len(s.buffer), buf.Len())
	buf.Peek(s.buffer[:n])

	var written int
	var err error
	if s.conn == nil {
		err = errNotConnected
	} else if err = s.conn.SetWriteDeadline(deadline(s.opts.PollInterval)); err == nil {
		written, err = s.conn.Write(s.buffer[:n])
	}

	switch {
	case err == nil:
		return buf.DropFront(n), nil
	case isTimeout(err):
		s.logger.Debug("Stream send would block", slog.Int("written", written))
		return buf.DropFront(written), nil
	}

	if s.cooldown.AllowN(s.now(), 1) {
		s.logger.Debug("Can't send so trying to reconnect",
			slog.String("address", s.address),
			slog.String("error", err.Error()),
		)
		s.reconnect()
	}

	s.metrics.RecordStreamDrop(n - written)
	return buf.DropFront(n), nil
}

// Connected reports whether the outbound connection is established
func (s *StreamSink) Connected() bool {
	s.collect()
	return s.conn != nil
}

// Restart starts a fresh connection attempt now, ignoring the cooldown
func (s *StreamSink) Restart() error {
	s.logger.Debug("Restarting stream sink", slog.String("address", s.address))
	s.reconnect()
	return nil
}

// Close drops the connection and any attempt in flight
func (s *StreamSink) Close() error {
	s.disconnect()
	return nil
}

func (s *StreamSink) String() string {
	return "idc://" + s.address
}
