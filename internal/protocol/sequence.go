package protocol

import "fmt"

// Verdict classifies a received counter against the expected one
type Verdict int

const (
	InOrder Verdict = iota
	Late            // counter below expected: a datagram from the past
	Early           // counter above expected: datagrams in between were lost
)

// String returns the lowercase name of the verdict
func (v Verdict) String() string {
	switch v {
	case InOrder:
		return "in_order"
	case Late:
		return "late"
	case Early:
		return "early"
	default:
		return fmt.Sprintf("unknown(%d)", int(v))
	}
}

// Check is the outcome of observing one counter
type Check struct {
	Verdict  Verdict
	Expected uint64 // expected counter before the observation
	Received uint64
	Distance uint64 // packets late or early; 0 when in order
}

// Sequencer tracks the counter a receiver expects next. On any mismatch
// it re-anchors to the received counter; it keeps no reorder window, so
// reordered datagrams show up as loss followed by a late packet.
type Sequencer struct {
	expected uint64
}

// Observe records a received counter and advances the expectation to
// the counter after it
func (s *Sequencer) Observe(counter uint64) Check {
	c := Check{Expected: s.expected, Received: counter}

	switch {
	case counter < s.expected:
		c.Verdict = Late
		c.Distance = s.expected - counter
	case counter > s.expected:
		c.Verdict = Early
		c.Distance = counter - s.expected
	default:
		c.Verdict = InOrder
	}

	s.expected = counter + 1
	return c
}

// Expected returns the counter the next datagram should carry
func (s *Sequencer) Expected() uint64 {
	return s.expected
}

// Reset starts expecting counter 0 again
func (s *Sequencer) Reset() {
	s.expected = 0
}

// Counter hands out the sender side counters 0, 1, 2, ...
type Counter struct {
	next uint64
}

// Next returns the counter for the datagram about to be sent and advances
func (c *Counter) Next() uint64 {
	n := c.next
	c.next++
	return n
}

// Peek returns the counter the next datagram will carry
func (c *Counter) Peek() uint64 {
	return c.next
}

// Reset restarts the count at 0
func (c *Counter) Reset() {
	c.next = 0
}
