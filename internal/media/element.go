/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package media defines the playable media primitives the engine drives and
// the host-side implementations shipped with reeltime.
package media

import "errors"

var (
	// ErrNoSource is returned by Play when no media is assigned.
	ErrNoSource = errors.New("no media source assigned")

	// ErrUnsupportedLocator is returned for media references no resolver handles.
	ErrUnsupportedLocator = errors.New("unsupported media locator")
)

// Element is a single playable media object, the Go counterpart of a host
// video or audio element. Loading is asynchronous: SetSource starts it and
// WhenReady observes its completion.
type Element interface {
	// Source returns the currently assigned reference, or "" when cleared.
	Source() string
	// SetSource assigns a new reference and starts loading it.
	SetSource(ref string)
	// Clear detaches the source and releases buffered data.
	Clear()
	// WhenReady calls fn once metadata for the current source is available,
	// or loading failed. If it already is, fn may run before WhenReady returns.
	WhenReady(fn func(err error))

	CurrentTime() float64
	Seek(sec float64)
	// Play starts playback. Hosts may reject it (autoplay policy, decode error).
	Play() error
	Pause()
	Paused() bool

	SetMuted(muted bool)
	Muted() bool
}

// Factory constructs an unassigned element.
type Factory func() Element
