//go:build portaudio

package device

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/maximxlss/stupid-audio-stream/internal/audio"
)

// waitPoll is how often Wait re-checks a PortAudio stream. PortAudio has
// no event handle for blocking streams.
const waitPoll = time.Millisecond

var (
	paInitOnce sync.Once
	paInitErr  error
)

// hostLittle reports the byte order portaudio.Int24 uses on this machine
var hostLittle = func() bool {
	var probe portaudio.Int24
	probe.PutInt32(1 << 8)
	return probe[0] == 1
}()

// System returns the PortAudio backend
func System() Opener {
	return PortAudio{}
}

// PortAudio opens devices through the PortAudio library
type PortAudio struct{}

// Open implements Opener
func (PortAudio) Open(query string, dir Direction, format audio.Format) (Session, error) {
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("failed to open %s device %q: %w", dir, query, err)
	}

	paInitOnce.Do(func() {
		paInitErr = portaudio.Initialize()
	})
	if paInitErr != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", paInitErr)
	}

	info, err := findPortAudioDevice(query, dir)
	if err != nil {
		return nil, err
	}

	s := &paSession{
		info:   info,
		dir:    dir,
		format: format,
		// 10ms blocks keep reads and writes small without flooding the loop
		block: max(format.SampleRate/100, 1),
	}

	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func findPortAudioDevice(query string, dir Direction) (*portaudio.DeviceInfo, error) {
	all, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list %s devices: %w", dir, err)
	}

	var candidates []*portaudio.DeviceInfo
	var names []string
	for _, d := range all {
		if dir == Capture && d.MaxInputChannels == 0 {
			continue
		}
		if dir == Render && d.MaxOutputChannels == 0 {
			continue
		}
		candidates = append(candidates, d)
		names = append(names, d.Name)
	}

	idx, err := MatchName(names, query)
	if err != nil {
		return nil, fmt.Errorf("failed to find %s device: %w", dir, err)
	}
	return candidates[idx], nil
}

type paSession struct {
	info   *portaudio.DeviceInfo
	dir    Direction
	format audio.Format
	block  int // frames per PortAudio read or write

	stream  *portaudio.Stream
	samples any    // interleaved sample buffer bound to the stream
	raw     []byte // one block as little-endian bytes
}

func (s *paSession) open() error {
	dev := portaudio.StreamDeviceParameters{Device: s.info, Channels: s.format.Channels}
	params := portaudio.StreamParameters{
		SampleRate:      float64(s.format.SampleRate),
		FramesPerBuffer: s.block,
	}
	if s.dir == Capture {
		dev.Latency = s.info.DefaultLowInputLatency
		params.Input = dev
	} else {
		dev.Latency = s.info.DefaultLowOutputLatency
		params.Output = dev
	}

	n := s.block * s.format.Channels
	switch {
	case s.format.SampleType == audio.SampleFloat:
		s.samples = make([]float32, n)
	case s.format.BitsPerSample == 32:
		s.samples = make([]int32, n)
	case s.format.BitsPerSample == 24:
		s.samples = make([]portaudio.Int24, n)
	case s.format.BitsPerSample == 16:
		s.samples = make([]int16, n)
	case s.format.BitsPerSample == 8:
		s.samples = make([]uint8, n)
	default:
		return fmt.Errorf("failed to open %q: %d-bit samples: %w", s.info.Name, s.format.BitsPerSample, ErrUnsupported)
	}
	s.raw = make([]byte, s.block*s.format.BlockAlign())

	stream, err := portaudio.OpenStream(params, s.samples)
	if err != nil {
		return fmt.Errorf("failed to open stream on %q: %w", s.info.Name, err)
	}
	s.stream = stream
	return nil
}

func (s *paSession) Name() string {
	return s.info.Name
}

func (s *paSession) Format() audio.Format {
	return s.format
}

func (s *paSession) Start() error {
	return s.stream.Start()
}

func (s *paSession) Stop() error {
	return s.stream.Stop()
}

func (s *paSession) Close() error {
	return s.stream.Close()
}

// available rounds the PortAudio count down to whole blocks
func (s *paSession) available(fn func() (int, error)) (int, error) {
	frames, err := fn()
	if err != nil {
		return 0, err
	}
	return frames / s.block * s.block, nil
}

func (s *paSession) AvailableCaptureFrames() (int, error) {
	if s.dir != Capture {
		return 0, fmt.Errorf("device %q is not a capture device", s.info.Name)
	}
	return s.available(s.stream.AvailableToRead)
}

func (s *paSession) AvailableRenderSpace() (int, error) {
	if s.dir != Render {
		return 0, fmt.Errorf("device %q is not a render device", s.info.Name)
	}
	return s.available(s.stream.AvailableToWrite)
}

func (s *paSession) ReadFrames(p []byte) (int, error) {
	n := 0
	for len(p)-n >= len(s.raw) {
		if err := s.stream.Read(); err != nil {
			return n, fmt.Errorf("failed to read from %q: %w", s.info.Name, err)
		}
		s.encode()
		n += copy(p[n:], s.raw)
	}
	return n, nil
}

func (s *paSession) WriteFrames(p []byte) (int, error) {
	n := 0
	for len(p)-n >= len(s.raw) {
		copy(s.raw, p[n:])
		s.decode()
		if err := s.stream.Write(); err != nil {
			return n, fmt.Errorf("failed to write to %q: %w", s.info.Name, err)
		}
		n += len(s.raw)
	}
	return n, nil
}

func (s *paSession) Wait(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		var frames int
		var err error
		if s.dir == Capture {
			frames, err = s.AvailableCaptureFrames()
		} else {
			frames, err = s.AvailableRenderSpace()
		}
		if err != nil {
			return err
		}
		if frames > 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w after %v on %q", ErrTimeout, timeout, s.info.Name)
		}
		time.Sleep(waitPoll)
	}
}

// encode copies the sample buffer into raw
func (s *paSession) encode() {
	switch buf := s.samples.(type) {
	case []float32:
		for i, v := range buf {
			binary.LittleEndian.PutUint32(s.raw[i*4:], math.Float32bits(v))
		}
	case []int32:
		for i, v := range buf {
			binary.LittleEndian.PutUint32(s.raw[i*4:], uint32(v))
		}
	case []portaudio.Int24:
		for i, v := range buf {
			putInt24Little(s.raw[i*3:], v, hostLittle)
		}
	case []int16:
		for i, v := range buf {
			binary.LittleEndian.PutUint16(s.raw[i*2:], uint16(v))
		}
	case []uint8:
		copy(s.raw, buf)
	}
}

// decode copies raw into the sample buffer
func (s *paSession) decode() {
	switch buf := s.samples.(type) {
	case []float32:
		for i := range buf {
			buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(s.raw[i*4:]))
		}
	case []int32:
		for i := range buf {
			buf[i] = int32(binary.LittleEndian.Uint32(s.raw[i*4:]))
		}
	case []portaudio.Int24:
		for i := range buf {
			buf[i] = int24FromLittle(s.raw[i*3:], hostLittle)
		}
	case []int16:
		for i := range buf {
			buf[i] = int16(binary.LittleEndian.Uint16(s.raw[i*2:]))
		}
	case []uint8:
		copy(buf, s.raw)
	}
}
