package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maximxlss/stupid-audio-stream/internal/device"
)

func TestNewSource(t *testing.T) {
	mem := device.NewMemory()
	mem.Add("Line In", device.Capture)

	tests := []struct {
		name    string
		address string
		counted bool
		want    any
		wantErr error
	}{
		{name: "plain udp", address: "udp://127.0.0.1:0", want: &UDPSource{}},
		{name: "checked udp", address: "udp://127.0.0.1:0", counted: true, want: &CheckedUDPSource{}},
		{name: "stream", address: "idc://127.0.0.1:0", want: &StreamSource{}},
		{name: "device", address: "line", want: &DeviceSource{}},
		{name: "missing device", address: "hdmi", wantErr: device.ErrNotFound},
		{name: "unknown scheme", address: "tcp://127.0.0.1:0", wantErr: ErrUnknownScheme},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, _ := testOptions(t)
			opts.Opener = mem
			opts.Counted = tt.counted

			src, err := NewSource(tt.address, opts)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			defer src.Close()
			assert.IsType(t, tt.want, src)
		})
	}
}

func TestNewSink(t *testing.T) {
	mem := device.NewMemory()
	mem.Add("Line Out", device.Render)

	tests := []struct {
		name    string
		address string
		counted bool
		want    any
		wantErr error
	}{
		{name: "plain udp", address: "udp://127.0.0.1:9", want: &UDPSink{}},
		{name: "checked udp", address: "udp://127.0.0.1:9", counted: true, want: &CheckedUDPSink{}},
		{name: "stream without peer", address: "idc://127.0.0.1:9", want: &StreamSink{}},
		{name: "device", address: "LINE", want: &DeviceSink{}},
		{name: "missing device", address: "hdmi", wantErr: device.ErrNotFound},
		{name: "unknown scheme", address: "quic://127.0.0.1:9", wantErr: ErrUnknownScheme},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, _ := testOptions(t)
			opts.Opener = mem
			opts.Counted = tt.counted

			sink, err := NewSink(tt.address, opts)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			defer sink.Close()
			assert.IsType(t, tt.want, sink)
		})
	}
}

func TestStartupLogs(t *testing.T) {
	opts, logs := testOptions(t)
	opts.Counted = true
	opts.DatagramSize = 512

	sink, err := NewSink("udp://127.0.0.1:9", opts)
	require.NoError(t, err)
	defer sink.Close()

	recs := logs.records(t, "Sending datagrams with loss checks")
	require.Len(t, recs, 1)
	assert.Equal(t, "127.0.0.1:9", recs[0]["address"])
	assert.Equal(t, 512.0, recs[0]["max_datagram_size"])
}

func TestDefaultOpenerWithoutBackend(t *testing.T) {
	opts, _ := testOptions(t)
	opts.Opener = device.Unsupported

	_, err := NewSource("Microphone", opts)
	require.ErrorIs(t, err, device.ErrUnsupported)
}
