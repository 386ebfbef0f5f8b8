/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package timeline maps the global playback position onto segments and
// drives the media pool from clock notifications.
package timeline

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/friendsincode/reeltime/internal/mediapool"
	"github.com/friendsincode/reeltime/internal/models"
)

// ErrInvalidBounds is returned for playback bounds outside 0 <= start <= end.
var ErrInvalidBounds = errors.New("invalid bounds")

// ValidateBounds checks a playback window.
func ValidateBounds(startSec, endSec float64) error {
	if math.IsNaN(startSec) || math.IsNaN(endSec) || math.IsInf(startSec, 0) || math.IsInf(endSec, 0) {
		return fmt.Errorf("%w: non-finite value", ErrInvalidBounds)
	}
	if startSec < 0 || startSec > endSec {
		return fmt.Errorf("%w: [%.3f, %.3f]", ErrInvalidBounds, startSec, endSec)
	}
	return nil
}

// Track is one lane of the timeline. Segments are sorted by in point.
type Track struct {
	ID       string
	Kind     mediapool.Kind
	Order    int
	Segments []models.Segment
	End      float64
}

// BuildTracks groups segments by track, ordered by track order then id.
func BuildTracks(segs []models.Segment) []Track {
	sorted := slices.Clone(segs)
	models.SortSegments(sorted)

	var tracks []Track
	for _, s := range sorted {
		if n := len(tracks); n == 0 || tracks[n-1].ID != s.TrackID {
			tracks = append(tracks, Track{ID: s.TrackID, Kind: mediapool.KindOf(s.TrackKind), Order: s.TrackOrder})
		}
		t := &tracks[len(tracks)-1]
		t.Segments = append(t.Segments, s)
		if s.OutSec > t.End {
			t.End = s.OutSec
		}
	}
	return tracks
}

// Locate returns the index of the segment covering t. Segments cover
// [in, out); the segment ending at the track end also covers its out point.
// When layered segments overlap, the latest-starting one wins.
func Locate(tr Track, t float64) (int, bool) {
	best := -1
	for i, s := range tr.Segments {
		if s.InSec > t {
			break
		}
		if t < s.OutSec || (t == s.OutSec && s.OutSec == tr.End) {
			best = i
		}
	}
	return best, best >= 0
}

// Next returns the index of the first segment starting after t.
func Next(tr Track, t float64) (int, bool) {
	for i, s := range tr.Segments {
		if s.InSec > t {
			return i, true
		}
	}
	return -1, false
}

// SourceTime maps global time t to source time within seg.
func SourceTime(seg models.Segment, t float64) float64 {
	return seg.SourceTimeAt(t)
}
