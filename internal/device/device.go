// Package device defines the audio device surface the stream transports
// consume: open a device by name for capture or render, ask how many
// frames are ready, move whole frames, and wait for readiness.
//
// Two backends exist. Memory is an in-process device used for loopback
// runs and tests. PortAudio (build tag "portaudio") drives real hardware.
package device

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/maximxlss/stupid-audio-stream/internal/audio"
)

// Direction selects capture (input) or render (output)
type Direction int

const (
	Capture Direction = iota
	Render
)

// String returns the lowercase name of the direction
func (d Direction) String() string {
	switch d {
	case Capture:
		return "capture"
	case Render:
		return "render"
	default:
		return fmt.Sprintf("unknown(%d)", int(d))
	}
}

var (
	// ErrTimeout is returned by Session.Wait when the device signalled
	// nothing within the timeout
	ErrTimeout = errors.New("device readiness timeout")
	// ErrNotFound means no device name contains the query
	ErrNotFound = errors.New("no matching device")
	// ErrAmbiguous means more than one device name contains the query
	ErrAmbiguous = errors.New("multiple matching devices")
	// ErrUnsupported is returned when no backend can open the device
	ErrUnsupported = errors.New("audio devices not supported by this build")
	// ErrClosed is returned by operations on a closed session
	ErrClosed = errors.New("device session closed")
)

// Session is one open stream on a device. Sizes passed to ReadFrames and
// WriteFrames are bytes and must be whole frames of Format().BlockAlign().
type Session interface {
	Name() string
	Format() audio.Format

	Start() error
	Stop() error
	Close() error

	// AvailableCaptureFrames returns the number of frames ready to read
	AvailableCaptureFrames() (int, error)
	// AvailableRenderSpace returns the number of frames that can be
	// written without blocking
	AvailableRenderSpace() (int, error)

	// ReadFrames fills p with captured frames and returns the byte count
	ReadFrames(p []byte) (int, error)
	// WriteFrames queues p for playback and returns the byte count
	WriteFrames(p []byte) (int, error)

	// Wait blocks until the device signals readiness, returning
	// ErrTimeout if nothing happened within timeout
	Wait(timeout time.Duration) error
}

// Opener opens a device session. The query is matched against device
// names (see MatchName).
type Opener interface {
	Open(query string, dir Direction, format audio.Format) (Session, error)
}

// OpenerFunc adapts a function to the Opener interface
type OpenerFunc func(query string, dir Direction, format audio.Format) (Session, error)

// Open calls f
func (f OpenerFunc) Open(query string, dir Direction, format audio.Format) (Session, error) {
	return f(query, dir, format)
}

// Unsupported is the Opener of builds without an audio backend
var Unsupported Opener = OpenerFunc(func(query string, dir Direction, _ audio.Format) (Session, error) {
	return nil, fmt.Errorf("failed to open %s device %q: %w", dir, query, ErrUnsupported)
})

// MatchName returns the index of the only name containing query,
// ignoring case
func MatchName(names []string, query string) (int, error) {
	q := strings.ToLower(query)
	found := -1

	for i, name := range names {
		if !strings.Contains(strings.ToLower(name), q) {
			continue
		}
		if found >= 0 {
			return -1, fmt.Errorf("%w: %q matches %q and %q", ErrAmbiguous, query, names[found], name)
		}
		found = i
	}

	if found < 0 {
		return -1, fmt.Errorf("%w: no device name contains %q", ErrNotFound, query)
	}

	return found, nil
}
