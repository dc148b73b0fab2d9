package timing

// FlooredMod returns the remainder of x/y in [0, y) for any integer x and
// y > 0. Slot deltas routinely go negative across cycle wraparound; Go's
// truncating % would return a negative remainder there and shift the slot
// geometry off by one.
func FlooredMod(x, y int) int {
	if x < 0 {
		return ((x+1)%y + y) - 1
	}
	return x % y
}

// ClampTimeout converts a signed remaining time (microseconds) into a receive
// timeout in milliseconds. Non-positive remainders yield 0 (deadline already
// passed). Positive remainders are capped at one slot duration so a missed
// completion can never stall the schedule past one slot, rounded half-up to
// the nearest millisecond, and floored at 1ms so a positive remainder never
// degenerates into an indefinite 0 timeout.
func (t *Timeline) ClampTimeout(remainingMicros int64) int64 {
	if remainingMicros <= 0 {
		return 0
	}
	capped := remainingMicros
	if capped > t.SlotDuration {
		capped = t.SlotDuration
	}
	ms := (capped + 500) / 1000
	if ms < 1 {
		return 1
	}
	return ms
}
