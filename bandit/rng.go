// CLAUDE:SUMMARY Uniform draw sources — seeded linear-congruential generator for reproducible selection.
package bandit

import "math/rand/v2"

// uniformSource yields uniform draws in [0,1).
type uniformSource func() float64

// newLCG returns a deterministic linear-congruential draw source. Given the
// same seed it produces the same sequence on every platform, which is what
// reproducible selection tests and audit replays need. Constants are the
// classic glibc parameters.
func newLCG(seed int64) uniformSource {
	state := uint64(seed)
	return func() float64 {
		state = state*1103515245 + 12345
		return float64(state%(1<<31)) / float64(uint64(1)<<31)
	}
}

// platformSource draws from the process-wide RNG. Production path.
func platformSource() uniformSource {
	return rand.Float64
}
