package device

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maximxlss/stupid-audio-stream/internal/audio"
)

var stereo16 = audio.Format{BitsPerSample: 16, SampleRate: 48000, Channels: 2}

func TestMatchName(t *testing.T) {
	names := []string{"Speakers (Realtek Audio)", "Headphones (USB Audio)", "CABLE Input"}

	tests := []struct {
		name    string
		query   string
		want    int
		wantErr error
	}{
		{name: "exact substring", query: "Realtek", want: 0},
		{name: "case insensitive", query: "headPHONES", want: 1},
		{name: "unique match", query: "cable", want: 2},
		{name: "ambiguous", query: "audio", wantErr: ErrAmbiguous},
		{name: "missing", query: "hdmi", wantErr: ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MatchName(names, tt.query)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDirectionString(t *testing.T) {
	assert.Equal(t, "capture", Capture.String())
	assert.Equal(t, "render", Render.String())
	assert.Equal(t, "unknown(5)", Direction(5).String())
}

func TestUnsupportedOpener(t *testing.T) {
	_, err := Unsupported.Open("speakers", Render, stereo16)
	require.ErrorIs(t, err, ErrUnsupported)
	assert.Contains(t, err.Error(), `"speakers"`)
}

func TestMemoryOpenFiltersByDirection(t *testing.T) {
	mem := NewMemory()
	mem.Add("Line", Capture)
	speakers := mem.Add("Line Out", Render)

	s, err := mem.Open("line", Render, stereo16)
	require.NoError(t, err)
	assert.Equal(t, "Line Out", s.Name())
	assert.Equal(t, stereo16, s.Format())
	assert.Equal(t, 1, speakers.Opens())

	_, err = mem.Open("line", Capture, audio.Format{})
	require.Error(t, err, "invalid format must be rejected")

	_, err = mem.Open("mic", Capture, stereo16)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryOpenFailure(t *testing.T) {
	mem := NewMemory()
	mic := mem.Add("Mic", Capture)
	boom := errors.New("device unplugged")
	mic.FailOpen(boom)

	_, err := mem.Open("mic", Capture, stereo16)
	require.ErrorIs(t, err, boom)

	mic.FailOpen(nil)
	_, err = mem.Open("mic", Capture, stereo16)
	require.NoError(t, err)
}

func TestMemoryCapture(t *testing.T) {
	mem := NewMemory()
	mic := mem.Add("Mic", Capture)

	s, err := mem.Open("mic", Capture, stereo16)
	require.NoError(t, err)

	mic.Feed([]byte{1, 2, 3, 4, 5, 6, 7, 8, 9})

	frames, err := s.AvailableCaptureFrames()
	require.NoError(t, err)
	assert.Zero(t, frames, "nothing is captured before Start")

	require.NoError(t, s.Start())

	frames, err = s.AvailableCaptureFrames()
	require.NoError(t, err)
	assert.Equal(t, 2, frames, "9 bytes hold 2 whole 4-byte frames")

	p := make([]byte, 16)
	n, err := s.ReadFrames(p)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, p[:n])

	_, err = s.AvailableRenderSpace()
	assert.Error(t, err)
}

func TestMemoryRender(t *testing.T) {
	mem := NewMemory()
	out := mem.Add("Speakers", Render)
	out.SetRenderSpace(1)

	s, err := mem.Open("speakers", Render, stereo16)
	require.NoError(t, err)
	require.NoError(t, s.Start())

	space, err := s.AvailableRenderSpace()
	require.NoError(t, err)
	assert.Equal(t, 1, space)

	n, err := s.WriteFrames([]byte{1, 2, 3, 4, 5, 6, 7, 8})
	require.NoError(t, err)
	assert.Equal(t, 4, n, "write is clamped to the available space")
	assert.Equal(t, []byte{1, 2, 3, 4}, out.Rendered())
}

func TestMemoryStopDiscardsCapture(t *testing.T) {
	mem := NewMemory()
	mic := mem.Add("Mic", Capture)

	s, err := mem.Open("mic", Capture, stereo16)
	require.NoError(t, err)
	require.NoError(t, s.Start())

	mic.Feed(make([]byte, 8))
	require.NoError(t, s.Stop())
	require.NoError(t, s.Start())

	frames, err := s.AvailableCaptureFrames()
	require.NoError(t, err)
	assert.Zero(t, frames)
}

func TestMemoryClosedSession(t *testing.T) {
	mem := NewMemory()
	mem.Add("Mic", Capture)

	s, err := mem.Open("mic", Capture, stereo16)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.AvailableCaptureFrames()
	require.ErrorIs(t, err, ErrClosed)
	_, err = s.ReadFrames(make([]byte, 4))
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, s.Start(), ErrClosed)
	require.ErrorIs(t, s.Wait(time.Millisecond), ErrClosed)
}

func TestMemoryWait(t *testing.T) {
	mem := NewMemory()
	mic := mem.Add("Mic", Capture)

	s, err := mem.Open("mic", Capture, stereo16)
	require.NoError(t, err)
	require.NoError(t, s.Start())

	err = s.Wait(10 * time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)

	go func() {
		time.Sleep(5 * time.Millisecond)
		mic.Feed(make([]byte, 4))
	}()

	require.NoError(t, s.Wait(time.Second))
}
