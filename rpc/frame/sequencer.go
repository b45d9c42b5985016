package frame

// Verdict is the result of checking a received sequence number
type Verdict int

const (
	// Accept: the frame is the next one expected
	Accept Verdict = iota
	// Duplicate: the frame was already received and must be discarded
	Duplicate
	// Gap: at least one frame before this one was lost
	Gap
)

// String returns the string representation of a Verdict
func (v Verdict) String() string {
	switch v {
	case Accept:
		return "accept"
	case Duplicate:
		return "duplicate"
	case Gap:
		return "gap"
	default:
		return "unknown"
	}
}

// Sequencer tracks the expected sequence number of one stream direction.
// Comparison uses serial number arithmetic, so the counter may wrap.
// The zero value expects sequence number 0.
type Sequencer struct {
	next uint32
}

// Check classifies seq and advances the expected number on Accept
func (s *Sequencer) Check(seq uint32) Verdict {
	diff := int32(seq - s.next)
	switch {
	case diff == 0:
		s.next++
		return Accept
	case diff < 0:
		return Duplicate
	default:
		return Gap
	}
}

// Expected returns the next sequence number that will be accepted
func (s *Sequencer) Expected() uint32 {
	return s.next
}
