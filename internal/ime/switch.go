package ime

import "sync/atomic"

// Switch is the global transliteration toggle shared by every surface.
// When off, word-terminating keys insert their delimiter verbatim.
type Switch struct {
	on atomic.Bool
}

// NewSwitch returns a switch in the given state.
func NewSwitch(on bool) *Switch {
	s := &Switch{}
	s.on.Store(on)
	return s
}

// Enabled reports whether transliteration is on. A nil switch is on.
func (s *Switch) Enabled() bool {
	if s == nil {
		return true
	}
	return s.on.Load()
}

// Set turns transliteration on or off.
func (s *Switch) Set(on bool) {
	s.on.Store(on)
}

// Toggle flips the switch and returns the new state.
func (s *Switch) Toggle() bool {
	for {
		old := s.on.Load()
		if s.on.CompareAndSwap(old, !old) {
			return !old
		}
	}
}
