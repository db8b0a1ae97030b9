// Package transport implements the endpoints a pipeline moves bytes
// between. A Source appends what it received to the shared buffer; a Sink
// removes what it managed to hand off. Every transport is Recoverable:
// Restart rebuilds its live resources (sockets, device sessions) while
// keeping the configured addressing and audio format.
//
// Variants: audio devices, plain UDP, sequence-checked UDP and the
// reconnecting TCP stream selected with the idc:// scheme.
package transport

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/maximxlss/stupid-audio-stream/internal/audio"
	"github.com/maximxlss/stupid-audio-stream/internal/device"
	"github.com/maximxlss/stupid-audio-stream/internal/metrics"
	"github.com/maximxlss/stupid-audio-stream/internal/protocol"
)

const (
	// DefaultDatagramSize is the largest datagram sent or received when
	// none is configured
	DefaultDatagramSize = 1400
	// DefaultPollInterval bounds how long a socket operation may block
	DefaultPollInterval = 5 * time.Millisecond
)

// Source produces bytes into the shared buffer
type Source interface {
	// Pull performs at most one receive and appends what arrived to buf.
	// It returns the number of bytes appended; 0 means nothing was ready.
	Pull(buf *audio.Buffer) (int, error)
}

// Sink consumes bytes from the head of the shared buffer
type Sink interface {
	// Push hands bytes from the head of buf to the transport and returns
	// the number of bytes removed from buf
	Push(buf *audio.Buffer) (int, error)
}

// Recoverable transports can rebuild their live resources
type Recoverable interface {
	// Restart drops in-flight state and reopens the transport with the
	// same addressing and format. Calling it twice is the same as once.
	Restart() error
}

// Waiter is implemented by transports that can block until they are
// ready for the next cycle
type Waiter interface {
	Wait(timeout time.Duration) error
}

// RecoverableSource is a Source the pipeline owns for its whole life
type RecoverableSource interface {
	Source
	Recoverable
	io.Closer
	fmt.Stringer
}

// RecoverableSink is a Sink the pipeline owns for its whole life
type RecoverableSink interface {
	Sink
	Recoverable
	io.Closer
	fmt.Stringer
}

// Options are the settings shared by all transports
type Options struct {
	// DatagramSize is the largest datagram (or stream chunk) in bytes,
	// counter header included
	DatagramSize int
	// Counted selects sequence-checked datagrams for udp:// addresses
	Counted bool
	// PollInterval bounds every socket receive, send and accept
	PollInterval time.Duration
	// Format is the audio format devices are opened with
	Format audio.Format
	// Opener opens devices for addresses without a network scheme
	Opener device.Opener

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

func (o Options) withDefaults() Options {
	if o.DatagramSize <= 0 {
		o.DatagramSize = DefaultDatagramSize
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.Format == (audio.Format{}) {
		o.Format = audio.DefaultFormat
	}
	if o.Opener == nil {
		o.Opener = device.System()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

func (o Options) validateDatagram(counted bool) error {
	if o.DatagramSize > protocol.MaxDatagramSize {
		return fmt.Errorf("datagram size %d exceeds %d", o.DatagramSize, protocol.MaxDatagramSize)
	}
	if counted && o.DatagramSize <= protocol.HeaderSize {
		return fmt.Errorf("datagram size %d leaves no room after the %d-byte counter", o.DatagramSize, protocol.HeaderSize)
	}
	return nil
}

// isTimeout reports whether err is a deadline expiry, which the
// transports treat as "would block"
func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func deadline(poll time.Duration) time.Time {
	return time.Now().Add(poll)
}
