// Package clock models the externally synthesized bit and word clocks that the
// capture peripheral consumes in subordinate mode, and paces batch delivery from them.
package clock
