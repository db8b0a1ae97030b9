package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maximxlss/stupid-audio-stream/internal/audio"
	"github.com/maximxlss/stupid-audio-stream/internal/device"
)

// deviceEndpoint is an open, started device session plus what is needed
// to open it again
type deviceEndpoint struct {
	opener  device.Opener
	query   string
	dir     device.Direction
	format  audio.Format
	session device.Session
	scratch []byte
	logger  *slog.Logger
}

func openDeviceEndpoint(query string, dir device.Direction, opts Options, component string) (*deviceEndpoint, error) {
	d := &deviceEndpoint{
		opener: opts.Opener,
		query:  query,
		dir:    dir,
		format: opts.Format,
		logger: opts.Logger.With(slog.String("component", component)),
	}
	if err := d.open(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *deviceEndpoint) open() error {
	session, err := d.opener.Open(d.query, d.dir, d.format)
	if err != nil {
		return err
	}
	if err := session.Start(); err != nil {
		session.Close()
		return fmt.Errorf("failed to start %s device %q: %w", d.dir, session.Name(), err)
	}
	d.session = session
	return nil
}

// restart stops and closes the session, then opens and starts a new one
// on the same device with the same format
func (d *deviceEndpoint) restart() error {
	if d.session != nil {
		d.logger.Debug("Restarting device", slog.String("device", d.session.Name()))
		err := errors.Join(d.session.Stop(), d.session.Close())
		d.session = nil
		if err != nil {
			d.logger.Warn("Failed to stop device cleanly", slog.String("error", err.Error()))
		}
	}

	if err := d.open(); err != nil {
		return fmt.Errorf("failed to restart %s device: %w", d.dir, err)
	}
	return nil
}

func (d *deviceEndpoint) close() error {
	if d.session == nil {
		return nil
	}
	err := errors.Join(d.session.Stop(), d.session.Close())
	d.session = nil
	return err
}

func (d *deviceEndpoint) wait(timeout time.Duration) error {
	if d.session == nil {
		return device.ErrClosed
	}
	return d.session.Wait(timeout)
}

func (d *deviceEndpoint) grow(n int) []byte {
	if cap(d.scratch) < n {
		d.scratch = make([]byte, n)
	}
	return d.scratch[:n]
}

func (d *deviceEndpoint) name() string {
	if d.session == nil {
		return d.query
	}
	return d.session.Name()
}

// DeviceSource captures audio from a device
type DeviceSource struct {
	*deviceEndpoint
}

// NewDeviceSource opens and starts the capture device whose name
// contains query
func NewDeviceSource(query string, opts Options) (*DeviceSource, error) {
	opts = opts.withDefaults()
	d, err := openDeviceEndpoint(query, device.Capture, opts, "device_source")
	if err != nil {
		return nil, err
	}
	return &DeviceSource{deviceEndpoint: d}, nil
}

// Pull reads every frame captured so far. It returns 0 without blocking
// when the device has nothing; Wait blocks until it does.
func (s *DeviceSource) Pull(buf *audio.Buffer) (int, error) {
	if s.session == nil {
		return 0, device.ErrClosed
	}

	frames, err := s.session.AvailableCaptureFrames()
	if err != nil {
		return 0, fmt.Errorf("failed to query capture device %q: %w", s.session.Name(), err)
	}
	if frames == 0 {
		return 0, nil
	}

	p := s.grow(frames * s.format.BlockAlign())
	n, err := s.session.ReadFrames(p)
	buf.Push(p[:n])
	if err != nil {
		return n, fmt.Errorf("failed to capture from %q: %w", s.session.Name(), err)
	}
	return n, nil
}

// Wait blocks until captured frames are ready
func (s *DeviceSource) Wait(timeout time.Duration) error {
	return s.wait(timeout)
}

// Restart reopens the device, discarding captured audio
func (s *DeviceSource) Restart() error {
	return s.restart()
}

// Close stops and closes the device session
func (s *DeviceSource) Close() error {
	return s.close()
}

func (s *DeviceSource) String() string {
	return s.name()
}

// DeviceSink renders audio to a device
type DeviceSink struct {
	*deviceEndpoint
}

// NewDeviceSink opens and starts the render device whose name contains
// query
func NewDeviceSink(query string, opts Options) (*DeviceSink, error) {
	opts = opts.withDefaults()
	d, err := openDeviceEndpoint(query, device.Render, opts, "device_sink")
	if err != nil {
		return nil, err
	}
	return &DeviceSink{deviceEndpoint: d}, nil
}

// Push writes as many whole frames as the device has room for. With no
// room, or less than one frame queued, the buffer is left untouched.
func (s *DeviceSink) Push(buf *audio.Buffer) (int, error) {
	if s.session == nil {
		return 0, device.ErrClosed
	}

	align := s.format.BlockAlign()
	queued := buf.Len() / align * align
	if queued == 0 {
		return 0, nil
	}

	space, err := s.session.AvailableRenderSpace()
	if err != nil {
		return 0, fmt.Errorf("failed to query render device %q: %w", s.session.Name(), err)
	}
	n := min(space*align, queued)
	if n == 0 {
		return 0, nil
	}

	p := s.grow(n)
	buf.Peek(p)
	written, err := s.session.WriteFrames(p)
	buf.DropFront(written)
	if err != nil {
		return written, fmt.Errorf("failed to render to %q: %w", s.session.Name(), err)
	}
	return written, nil
}

// Wait blocks until the device has room for more frames
func (s *DeviceSink) Wait(timeout time.Duration) error {
	return s.wait(timeout)
}

// Restart reopens the device, discarding queued audio
func (s *DeviceSink) Restart() error {
	return s.restart()
}

// Close stops and closes the device session
func (s *DeviceSink) Close() error {
	return s.close()
}

func (s *DeviceSink) String() string {
	return s.name()
}
