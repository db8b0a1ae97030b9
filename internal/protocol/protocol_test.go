package protocol

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestParseFrame(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		counter     uint64
		payload     []byte
		expectError bool
		errorMsg    string
	}{
		{
			name: "counter and payload",
			data: []byte{
				0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x30, 0x39, // Counter: 12345
				0xAA, 0xBB, 0xCC,
			},
			counter: 12345,
			payload: []byte{0xAA, 0xBB, 0xCC},
		},
		{
			name:    "header only",
			data:    []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08},
			counter: 0x0102030405060708,
			payload: []byte{},
		},
		{
			name:        "too short",
			data:        []byte{0x00, 0x01, 0x02},
			expectError: true,
			errorMsg:    "expected at least 8 bytes, got 3",
		},
		{
			name:        "empty",
			data:        []byte{},
			expectError: true,
			errorMsg:    "frame shorter than header",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := ParseFrame(tt.data)

			if tt.expectError {
				if err == nil {
					t.Fatal("Expected error but got none")
				}
				if !errors.Is(err, ErrShortFrame) {
					t.Errorf("Expected ErrShortFrame, got %v", err)
				}
				if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}

			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if frame.Counter != tt.counter {
				t.Errorf("Expected counter %d, got %d", tt.counter, frame.Counter)
			}
			if !bytes.Equal(frame.Payload, tt.payload) {
				t.Errorf("Expected payload %v, got %v", tt.payload, frame.Payload)
			}
		})
	}
}

func TestAppendFrameParsesBack(t *testing.T) {
	payload := []byte("pcm bytes")
	data := AppendFrame(nil, 42, payload)

	if len(data) != HeaderSize+len(payload) {
		t.Fatalf("Expected %d bytes, got %d", HeaderSize+len(payload), len(data))
	}

	frame, err := ParseFrame(data)
	if err != nil {
		t.Fatalf("ParseFrame failed: %v", err)
	}
	if frame.Counter != 42 || !bytes.Equal(frame.Payload, payload) {
		t.Errorf("Unexpected frame %v", frame)
	}
}

func TestPutHeaderIsBigEndian(t *testing.T) {
	buf := make([]byte, HeaderSize)
	PutHeader(buf, 1)

	want := []byte{0, 0, 0, 0, 0, 0, 0, 1}
	if !bytes.Equal(buf, want) {
		t.Errorf("Expected %v, got %v", want, buf)
	}
}

func TestPayloadBudget(t *testing.T) {
	tests := []struct {
		max  int
		want int
	}{
		{max: 1400, want: 1392},
		{max: 9, want: 1},
		{max: 8, want: 0},
		{max: 0, want: 0},
	}

	for _, tt := range tests {
		if got := PayloadBudget(tt.max); got != tt.want {
			t.Errorf("PayloadBudget(%d) = %d, want %d", tt.max, got, tt.want)
		}
	}
}

func TestFrameString(t *testing.T) {
	f := Frame{Counter: 7, Payload: make([]byte, 3)}
	if got := f.String(); got != "Frame{Counter:7, PayloadLen:3}" {
		t.Errorf("Unexpected string %q", got)
	}
}
