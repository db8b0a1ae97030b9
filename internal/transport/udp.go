package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"syscall"

	"github.com/maximxlss/stupid-audio-stream/internal/audio"
	"github.com/maximxlss/stupid-audio-stream/internal/metrics"
	"github.com/maximxlss/stupid-audio-stream/internal/protocol"
)

// udpReceiver owns a bound datagram socket polled with read deadlines
type udpReceiver struct {
	conn   *net.UDPConn
	local  *net.UDPAddr // address actually bound, reused on restart
	buffer []byte
	opts   Options
}

func newUDPReceiver(address string, opts Options) (*udpReceiver, error) {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address %s: %w", address, err)
	}

	r := &udpReceiver{
		local:  addr,
		buffer: make([]byte, opts.DatagramSize),
		opts:   opts,
	}
	if err := r.bind(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *udpReceiver) bind() error {
	conn, err := net.ListenUDP("udp", r.local)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP %s: %w", r.local, err)
	}
	r.conn = conn
	r.local = conn.LocalAddr().(*net.UDPAddr)
	return nil
}

// receive waits up to one poll interval for a datagram. ok is false when
// nothing arrived.
func (r *udpReceiver) receive() (p []byte, ok bool, err error) {
	if err := r.conn.SetReadDeadline(deadline(r.opts.PollInterval)); err != nil {
		return nil, false, fmt.Errorf("failed to set read deadline: %w", err)
	}

	n, _, err := r.conn.ReadFromUDP(r.buffer)
	if err != nil {
		if isTimeout(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read UDP datagram: %w", err)
	}
	return r.buffer[:n], true, nil
}

func (r *udpReceiver) restart() error {
	if err := r.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("failed to close UDP socket: %w", err)
	}
	if err := r.bind(); err != nil {
		return fmt.Errorf("failed to restart UDP source: %w", err)
	}
	return nil
}

func (r *udpReceiver) close() error {
	if err := r.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// UDPSource receives raw datagrams and appends them verbatim
type UDPSource struct {
	*udpReceiver
	logger *slog.Logger
}

// NewUDPSource binds a datagram socket on address
func NewUDPSource(address string, opts Options) (*UDPSource, error) {
	opts = opts.withDefaults()
	if err := opts.validateDatagram(false); err != nil {
		return nil, err
	}

	r, err := newUDPReceiver(address, opts)
	if err != nil {
		return nil, err
	}

	return &UDPSource{
		udpReceiver: r,
		logger:      opts.Logger.With(slog.String("component", "udp_source")),
	}, nil
}

// Pull implements Source
func (s *UDPSource) Pull(buf *audio.Buffer) (int, error) {
	p, ok, err := s.receive()
	if err != nil || !ok {
		return 0, err
	}
	buf.Push(p)
	return len(p), nil
}

// Restart rebinds the socket on the same local address
func (s *UDPSource) Restart() error {
	s.logger.Debug("Restarting UDP source", slog.String("address", s.local.String()))
	return s.restart()
}

// Close releases the socket
func (s *UDPSource) Close() error {
	return s.close()
}

// LocalAddr returns the bound address
func (s *UDPSource) LocalAddr() *net.UDPAddr {
	return s.local
}

func (s *UDPSource) String() string {
	return "udp://" + s.local.String()
}

// CheckedUDPSource receives counter-prefixed datagrams, appends their
// payloads and reports gaps in the counter sequence. Payloads are never
// dropped because of a gap.
type CheckedUDPSource struct {
	*udpReceiver
	sequencer protocol.Sequencer
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewCheckedUDPSource binds a datagram socket on address
func NewCheckedUDPSource(address string, opts Options) (*CheckedUDPSource, error) {
	opts = opts.withDefaults()
	if err := opts.validateDatagram(true); err != nil {
		return nil, err
	}

	r, err := newUDPReceiver(address, opts)
	if err != nil {
		return nil, err
	}

	return &CheckedUDPSource{
		udpReceiver: r,
		logger:      opts.Logger.With(slog.String("component", "checked_udp_source")),
		metrics:     opts.Metrics,
	}, nil
}

// Pull implements Source
func (s *CheckedUDPSource) Pull(buf *audio.Buffer) (int, error) {
	p, ok, err := s.receive()
	if err != nil || !ok {
		return 0, err
	}

	frame, err := protocol.ParseFrame(p)
	if err != nil {
		s.metrics.RecordMalformed()
		s.logger.Warn("Dropping malformed datagram",
			slog.Int("size", len(p)),
			slog.String("error", err.Error()),
		)
		return 0, nil
	}

	check := s.sequencer.Observe(frame.Counter)
	switch check.Verdict {
	case protocol.Late:
		s.metrics.RecordLate()
		s.logger.Warn("Got a datagram from the past",
			slog.Uint64("late_by", check.Distance),
			slog.Uint64("expected", check.Expected),
			slog.Uint64("received", check.Received),
		)
	case protocol.Early:
		s.metrics.RecordEarly(check.Distance)
		s.logger.Warn("Got a datagram from the future",
			slog.Uint64("early_by", check.Distance),
			slog.Uint64("expected", check.Expected),
			slog.Uint64("received", check.Received),
		)
	}

	buf.Push(frame.Payload)
	return len(frame.Payload), nil
}

// Restart rebinds the socket and expects counter 0 again
func (s *CheckedUDPSource) Restart() error {
	s.logger.Debug("Restarting checked UDP source", slog.String("address", s.local.String()))
	s.sequencer.Reset()
	return s.restart()
}

// Close releases the socket
func (s *CheckedUDPSource) Close() error {
	return s.close()
}

// LocalAddr returns the bound address
func (s *CheckedUDPSource) LocalAddr() *net.UDPAddr {
	return s.local
}

// Expected returns the counter the next datagram should carry
func (s *CheckedUDPSource) Expected() uint64 {
	return s.sequencer.Expected()
}

func (s *CheckedUDPSource) String() string {
	return "udp://" + s.local.String() + " (checked)"
}

// udpSender owns a datagram socket connected to one peer
type udpSender struct {
	conn   *net.UDPConn
	remote *net.UDPAddr
	buffer []byte
	opts   Options

	logger  *slog.Logger
	metrics *metrics.Metrics
}

func newUDPSender(address string, opts Options, component string) (*udpSender, error) {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address %s: %w", address, err)
	}

	s := &udpSender{
		remote:  addr,
		buffer:  make([]byte, opts.DatagramSize),
		opts:    opts,
		logger:  opts.Logger.With(slog.String("component", component)),
		metrics: opts.Metrics,
	}
	if err := s.dial(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *udpSender) dial() error {
	conn, err := net.DialUDP("udp", nil, s.remote)
	if err != nil {
		return fmt.Errorf("failed to connect UDP socket to %s: %w", s.remote, err)
	}
	s.conn = conn
	return nil
}

// send writes one datagram. sent reports whether the datagram left the
// socket (or was refused by the peer); false with a nil error means the
// socket would have blocked.
func (s *udpSender) send(p []byte) (sent bool, err error) {
	if err := s.conn.SetWriteDeadline(deadline(s.opts.PollInterval)); err != nil {
		return false, fmt.Errorf("failed to set write deadline: %w", err)
	}

	if _, err := s.conn.Write(p); err != nil {
		switch {
		case isTimeout(err):
			s.logger.Debug("UDP send would block", slog.Int("size", len(p)))
			return false, nil
		case errors.Is(err, syscall.ECONNREFUSED):
			// An ICMP port unreachable from an earlier datagram; the
			// peer may come up later
			s.metrics.RecordRefused()
			s.logger.Warn("Datagram refused by peer",
				slog.String("remote_addr", s.remote.String()),
				slog.Int("size", len(p)),
			)
			return true, nil
		default:
			return false, fmt.Errorf("failed to send UDP datagram to %s: %w", s.remote, err)
		}
	}
	return true, nil
}

func (s *udpSender) warnSplit(size int) {
	s.metrics.RecordSplit()
	s.logger.Warn("Splitting datagram", slog.Int("size", size))
}

func (s *udpSender) restart() error {
	if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("failed to close UDP socket: %w", err)
	}
	if err := s.dial(); err != nil {
		return fmt.Errorf("failed to restart UDP sink: %w", err)
	}
	return nil
}

func (s *udpSender) close() error {
	if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// UDPSink sends the head of the buffer as raw datagrams
type UDPSink struct {
	*udpSender
}

// NewUDPSink connects a datagram socket to address
func NewUDPSink(address string, opts Options) (*UDPSink, error) {
	opts = opts.withDefaults()
	if err := opts.validateDatagram(false); err != nil {
		return nil, err
	}

	s, err := newUDPSender(address, opts, "udp_sink")
	if err != nil {
		return nil, err
	}
	return &UDPSink{udpSender: s}, nil
}

// Push sends one datagram of up to DatagramSize bytes
func (s *UDPSink) Push(buf *audio.Buffer) (int, error) {
	if buf.Len() == 0 {
		return 0, nil
	}

	n := min(len(s.buffer), buf.Len())
	if n == len(s.buffer) {
		s.warnSplit(n)
	}
	buf.Peek(s.buffer[:n])

	sent, err := s.send(s.buffer[:n])
	if err != nil || !sent {
		return 0, err
	}
	return buf.DropFront(n), nil
}

// Restart reconnects to the same peer from a fresh socket
func (s *UDPSink) Restart() error {
	s.logger.Debug("Restarting UDP sink", slog.String("remote_addr", s.remote.String()))
	return s.restart()
}

// Close releases the socket
func (s *UDPSink) Close() error {
	return s.close()
}

func (s *UDPSink) String() string {
	return "udp://" + s.remote.String()
}

// CheckedUDPSink prefixes every datagram with a counter starting at 0
type CheckedUDPSink struct {
	*udpSender
	counter protocol.Counter
}

// NewCheckedUDPSink connects a datagram socket to address
func NewCheckedUDPSink(address string, opts Options) (*CheckedUDPSink, error) {
	opts = opts.withDefaults()
	if err := opts.validateDatagram(true); err != nil {
		return nil, err
	}

	s, err := newUDPSender(address, opts, "checked_udp_sink")
	if err != nil {
		return nil, err
	}
	return &CheckedUDPSink{udpSender: s}, nil
}

// Push sends one datagram carrying the next counter and up to
// DatagramSize-8 payload bytes. It returns the payload bytes removed.
func (s *CheckedUDPSink) Push(buf *audio.Buffer) (int, error) {
	if buf.Len() == 0 {
		return 0, nil
	}

	budget := protocol.PayloadBudget(len(s.buffer))
	n := min(budget, buf.Len())
	if n == budget {
		s.warnSplit(protocol.HeaderSize + n)
	}
	protocol.PutHeader(s.buffer, s.counter.Peek())
	buf.Peek(s.buffer[protocol.HeaderSize : protocol.HeaderSize+n])

	sent, err := s.send(s.buffer[:protocol.HeaderSize+n])
	if err != nil || !sent {
		return 0, err
	}
	s.counter.Next()
	return buf.DropFront(n), nil
}

// Restart reconnects from a fresh socket and counts from 0 again
func (s *CheckedUDPSink) Restart() error {
	s.logger.Debug("Restarting checked UDP sink", slog.String("remote_addr", s.remote.String()))
	s.counter.Reset()
	return s.restart()
}

// Close releases the socket
func (s *CheckedUDPSink) Close() error {
	return s.close()
}

// Sent returns the number of datagrams sent since the last restart
func (s *CheckedUDPSink) Sent() uint64 {
	return s.counter.Peek()
}

func (s *CheckedUDPSink) String() string {
	return "udp://" + s.remote.String() + " (checked)"
}
