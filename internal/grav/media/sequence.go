package media

// SequenceTracker extends 16-bit RTP sequence numbers to 32 bits and
// counts gaps as loss.
type SequenceTracker struct {
	initialized bool
	lastSeq     uint16
	cycles      uint32
	received    uint64
	lost        uint64
}

// Update records seq and returns the extended sequence number and the
// number of packets missing since the previous one.
func (s *SequenceTracker) Update(seq uint16) (extended uint32, lost int) {
	s.received++

	if !s.initialized {
		s.initialized = true
		s.lastSeq = seq
		return uint32(seq), 0
	}

	// Signed 16-bit distance; negative means reordered or duplicate.
	diff := int16(seq - s.lastSeq)
	if diff <= 0 {
		return s.cycles<<16 | uint32(seq), 0
	}
	if diff > 1 {
		lost = int(diff) - 1
		s.lost += uint64(lost)
	}
	if seq < s.lastSeq {
		s.cycles++
	}
	s.lastSeq = seq
	return s.cycles<<16 | uint32(seq), lost
}

// Stats returns cumulative received and lost counts.
func (s *SequenceTracker) Stats() (received, lost uint64) {
	return s.received, s.lost
}

// LossRate returns lost / (received + lost).
func (s *SequenceTracker) LossRate() float64 {
	total := s.received + s.lost
	if total == 0 {
		return 0
	}
	return float64(s.lost) / float64(total)
}
