package peer

// unwrapper extends 32-bit RTP timestamps into a 64-bit timeline starting at zero.
// Each step is taken as the signed distance to the previous timestamp, so the
// timeline keeps growing across wraparounds and moves back on reordering.
type unwrapper struct {
	started bool
	last    uint32
	value   int64
}

func (u *unwrapper) unwrap(ts uint32) int64 {
	if !u.started {
		u.started = true
		u.last = ts
		return 0
	}
	u.value += int64(int32(ts - u.last))
	u.last = ts
	return u.value
}
