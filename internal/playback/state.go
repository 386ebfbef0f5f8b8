/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

// State is the transport state of a Clock.
type State string

const (
	StateStopped State = "stopped" // initial state, position reset to the start bound
	StatePlaying State = "playing" // tick loop running
	StatePaused  State = "paused"  // position held, tick loop halted
)

// String returns the state name.
func (s State) String() string {
	return string(s)
}

// IsActive reports whether playback holds a position (playing or paused).
func (s State) IsActive() bool {
	return s == StatePlaying || s == StatePaused
}
