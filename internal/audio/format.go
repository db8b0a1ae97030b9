package audio

import (
	"fmt"
	"time"
)

// SampleType tells whether samples are integers or IEEE floats
type SampleType int

const (
	SampleInt SampleType = iota
	SampleFloat
)

// String returns the lowercase name of the sample type
func (t SampleType) String() string {
	switch t {
	case SampleInt:
		return "int"
	case SampleFloat:
		return "float"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// Format describes interleaved PCM audio as it crosses a device boundary.
// It is fixed for the lifetime of a stream; a restart reopens the device
// with the same Format.
type Format struct {
	BitsPerSample int
	SampleRate    int
	Channels      int
	SampleType    SampleType
}

// DefaultFormat is 16-bit stereo integer PCM at 48 kHz
var DefaultFormat = Format{
	BitsPerSample: 16,
	SampleRate:    48000,
	Channels:      2,
	SampleType:    SampleInt,
}

// Validate checks that the format describes something a device can open
func (f Format) Validate() error {
	switch f.BitsPerSample {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf("bits_per_sample must be one of 8, 16, 24, 32, got %d", f.BitsPerSample)
	}

	if f.SampleType == SampleFloat && f.BitsPerSample != 32 {
		return fmt.Errorf("float samples must be 32 bits, got %d", f.BitsPerSample)
	}

	if f.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", f.SampleRate)
	}

	if f.Channels < 1 {
		return fmt.Errorf("channels must be at least 1, got %d", f.Channels)
	}

	return nil
}

// BlockAlign returns the size in bytes of one frame (one sample per channel)
func (f Format) BlockAlign() int {
	return f.Channels * f.BitsPerSample / 8
}

// ByteRate returns the number of bytes per second of audio
func (f Format) ByteRate() int {
	return f.SampleRate * f.BlockAlign()
}

// Frames returns how many whole frames fit in n bytes
func (f Format) Frames(n int) int {
	align := f.BlockAlign()
	if align == 0 {
		return 0
	}
	return n / align
}

// Duration returns the play time of n bytes
func (f Format) Duration(n int) time.Duration {
	if f.ByteRate() == 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(f.ByteRate())
}

// String returns a human-readable representation of the format
func (f Format) String() string {
	return fmt.Sprintf("%d Hz, %d ch, %d-bit %s", f.SampleRate, f.Channels, f.BitsPerSample, f.SampleType)
}
