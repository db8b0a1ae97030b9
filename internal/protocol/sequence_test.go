package protocol

import "testing"

func observeAll(s *Sequencer, counters []uint64) []Check {
	checks := make([]Check, 0, len(counters))
	for _, c := range counters {
		checks = append(checks, s.Observe(c))
	}
	return checks
}

func TestSequencerLossIsReportedOnce(t *testing.T) {
	var s Sequencer
	checks := observeAll(&s, []uint64{0, 1, 2, 5, 6})

	early := 0
	for i, c := range checks {
		if c.Verdict == Early {
			early++
			if i != 3 {
				t.Errorf("Early verdict at index %d, expected index 3", i)
			}
			if c.Distance != 2 {
				t.Errorf("Expected early by 2, got %d", c.Distance)
			}
			if c.Expected != 3 {
				t.Errorf("Expected counter before re-anchor 3, got %d", c.Expected)
			}
		} else if c.Verdict != InOrder {
			t.Errorf("Unexpected verdict %s at index %d", c.Verdict, i)
		}
	}

	if early != 1 {
		t.Errorf("Expected exactly one early verdict, got %d", early)
	}

	if s.Expected() != 7 {
		t.Errorf("Expected next counter 7, got %d", s.Expected())
	}
}

func TestSequencerLatePacketReanchors(t *testing.T) {
	var s Sequencer
	checks := observeAll(&s, []uint64{0, 1, 2, 1})

	last := checks[3]
	if last.Verdict != Late {
		t.Fatalf("Expected late verdict, got %s", last.Verdict)
	}
	if last.Distance != 1 {
		t.Errorf("Expected late by 1, got %d", last.Distance)
	}

	for i, c := range checks[:3] {
		if c.Verdict != InOrder {
			t.Errorf("Unexpected verdict %s at index %d", c.Verdict, i)
		}
	}

	// Re-anchored to 1, so 2 is expected next
	if s.Expected() != 2 {
		t.Errorf("Expected next counter 2, got %d", s.Expected())
	}
}

func TestSequencerFirstFrameNotZero(t *testing.T) {
	var s Sequencer
	c := s.Observe(100)

	if c.Verdict != Early || c.Distance != 100 {
		t.Errorf("Expected early by 100, got %s by %d", c.Verdict, c.Distance)
	}

	if next := s.Observe(101); next.Verdict != InOrder {
		t.Errorf("Expected in order after re-anchor, got %s", next.Verdict)
	}
}

func TestSequencerReset(t *testing.T) {
	var s Sequencer
	observeAll(&s, []uint64{0, 1, 2})
	s.Reset()

	if s.Expected() != 0 {
		t.Errorf("Expected 0 after reset, got %d", s.Expected())
	}
	if c := s.Observe(0); c.Verdict != InOrder {
		t.Errorf("Expected in order after reset, got %s", c.Verdict)
	}
}

func TestCounter(t *testing.T) {
	var c Counter

	for want := uint64(0); want < 5; want++ {
		if got := c.Next(); got != want {
			t.Fatalf("Expected %d, got %d", want, got)
		}
	}

	if c.Peek() != 5 {
		t.Errorf("Expected peek 5, got %d", c.Peek())
	}

	c.Reset()
	if c.Next() != 0 {
		t.Error("Expected 0 after reset")
	}
}

func TestVerdictString(t *testing.T) {
	if Late.String() != "late" || Early.String() != "early" || InOrder.String() != "in_order" {
		t.Error("Unexpected verdict names")
	}
	if Verdict(9).String() != "unknown(9)" {
		t.Errorf("Unexpected name for unknown verdict: %s", Verdict(9))
	}
}
