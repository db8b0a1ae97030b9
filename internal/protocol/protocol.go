package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the length of the counter that prefixes every datagram
const HeaderSize = 8

// MaxDatagramSize is the largest UDP payload over IPv4
const MaxDatagramSize = 65507

// ErrShortFrame is returned for datagrams that cannot hold a counter
var ErrShortFrame = errors.New("frame shorter than header")

// Frame is one sequence-checked datagram.
// Layout: [Counter:8 big-endian][Payload:N]
type Frame struct {
	Counter uint64
	Payload []byte // aliases the parsed datagram
}

// ParseFrame splits a datagram into counter and payload. The payload is
// not copied.
func ParseFrame(data []byte) (Frame, error) {
	if len(data) < HeaderSize {
		return Frame{}, fmt.Errorf("%w: expected at least %d bytes, got %d", ErrShortFrame, HeaderSize, len(data))
	}

	return Frame{
		Counter: binary.BigEndian.Uint64(data[:HeaderSize]),
		Payload: data[HeaderSize:],
	}, nil
}

// PutHeader writes counter into the first HeaderSize bytes of dst
func PutHeader(dst []byte, counter uint64) {
	binary.BigEndian.PutUint64(dst[:HeaderSize], counter)
}

// AppendFrame appends the encoded frame to dst and returns the result
func AppendFrame(dst []byte, counter uint64, payload []byte) []byte {
	dst = binary.BigEndian.AppendUint64(dst, counter)
	return append(dst, payload...)
}

// PayloadBudget returns how many payload bytes fit in a datagram of
// maxDatagram bytes
func PayloadBudget(maxDatagram int) int {
	if maxDatagram <= HeaderSize {
		return 0
	}
	return maxDatagram - HeaderSize
}

// String returns a human-readable representation of the frame
func (f Frame) String() string {
	return fmt.Sprintf("Frame{Counter:%d, PayloadLen:%d}", f.Counter, len(f.Payload))
}
