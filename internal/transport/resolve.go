package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

const (
	udpScheme    = "udp://"
	streamScheme = "idc://"
)

// ErrUnknownScheme is returned for addresses with a scheme other than
// udp:// or idc://
var ErrUnknownScheme = errors.New("unknown address scheme")

// NewSource builds the source named by address: udp://host:port binds a
// datagram socket (sequence-checked when opts.Counted), idc://host:port
// listens for a stream peer, and anything else is a capture device query.
func NewSource(address string, opts Options) (RecoverableSource, error) {
	opts = opts.withDefaults()
	log := opts.Logger

	if addr, ok := strings.CutPrefix(address, udpScheme); ok {
		if opts.Counted {
			src, err := NewCheckedUDPSource(addr, opts)
			if err != nil {
				return nil, err
			}
			log.Info("Listening for datagrams with loss checks",
				slog.String("address", src.LocalAddr().String()),
				slog.Int("max_datagram_size", opts.DatagramSize),
			)
			return src, nil
		}

		src, err := NewUDPSource(addr, opts)
		if err != nil {
			return nil, err
		}
		log.Info("Listening for datagrams",
			slog.String("address", src.LocalAddr().String()),
			slog.Int("max_datagram_size", opts.DatagramSize),
		)
		return src, nil
	}

	if addr, ok := strings.CutPrefix(address, streamScheme); ok {
		src, err := NewStreamSource(addr, opts)
		if err != nil {
			return nil, err
		}
		log.Info("Listening for a stream peer without caring",
			slog.String("address", src.Addr().String()),
			slog.Int("max_read_size", opts.DatagramSize),
		)
		return src, nil
	}

	if err := checkScheme(address); err != nil {
		return nil, err
	}

	src, err := NewDeviceSource(address, opts)
	if err != nil {
		return nil, err
	}
	log.Info("Capturing from device",
		slog.String("device", src.String()),
		slog.String("format", opts.Format.String()),
	)
	return src, nil
}

// NewSink builds the sink named by address: udp://host:port sends
// datagrams (sequence-checked when opts.Counted), idc://host:port
// connects to a stream peer, and anything else is a render device query.
func NewSink(address string, opts Options) (RecoverableSink, error) {
	opts = opts.withDefaults()
	log := opts.Logger

	if addr, ok := strings.CutPrefix(address, udpScheme); ok {
		if opts.Counted {
			sink, err := NewCheckedUDPSink(addr, opts)
			if err != nil {
				return nil, err
			}
			log.Info("Sending datagrams with loss checks",
				slog.String("address", sink.remote.String()),
				slog.Int("max_datagram_size", opts.DatagramSize),
			)
			return sink, nil
		}

		sink, err := NewUDPSink(addr, opts)
		if err != nil {
			return nil, err
		}
		log.Info("Sending datagrams",
			slog.String("address", sink.remote.String()),
			slog.Int("max_datagram_size", opts.DatagramSize),
		)
		return sink, nil
	}

	if addr, ok := strings.CutPrefix(address, streamScheme); ok {
		sink, err := NewStreamSink(addr, opts)
		if err != nil {
			return nil, err
		}
		log.Info("Sending to a stream peer without caring",
			slog.String("address", addr),
			slog.Int("max_write_size", opts.DatagramSize),
		)
		return sink, nil
	}

	if err := checkScheme(address); err != nil {
		return nil, err
	}

	sink, err := NewDeviceSink(address, opts)
	if err != nil {
		return nil, err
	}
	log.Info("Rendering to device",
		slog.String("device", sink.String()),
		slog.String("format", opts.Format.String()),
	)
	return sink, nil
}

// checkScheme rejects device queries that look like an address with an
// unsupported scheme
func checkScheme(address string) error {
	if scheme, _, ok := strings.Cut(address, "://"); ok {
		return fmt.Errorf("%w %q in %q", ErrUnknownScheme, scheme+"://", address)
	}
	if address == "" {
		return errors.New("empty address")
	}
	return nil
}
