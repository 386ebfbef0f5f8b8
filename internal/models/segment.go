/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"
)

// ErrInvalidSegment is returned when a segment or segment list breaks a timeline invariant.
var ErrInvalidSegment = errors.New("invalid segment")

// durationEpsilon absorbs float noise from editors that store duration separately.
const durationEpsilon = 1e-6

// TrackKind selects which media kind a track drives.
type TrackKind string

const (
	TrackVideo TrackKind = "video"
	TrackAudio TrackKind = "audio"
)

// Valid reports whether k is a known track kind.
func (k TrackKind) Valid() bool {
	return k == TrackVideo || k == TrackAudio
}

// Project groups the segments of one timeline.
type Project struct {
	ID        string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	Name      string    `gorm:"index" json:"name"`
	FrameRate string    `gorm:"type:varchar(16)" json:"frame_rate"` // "30", "30000/1001", ... empty uses the server default
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Segment is a trimmed, timeline-positioned reference to a span of a media asset.
// MediaRef is produced externally and treated as immutable once assigned.
type Segment struct {
	ID           string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	ProjectID    string    `gorm:"type:varchar(64);primaryKey" json:"project_id"`
	Order        int       `gorm:"column:seq" json:"order"`
	InSec        float64   `json:"in_sec"`
	OutSec       float64   `json:"out_sec"`
	SourceInSec  float64   `json:"source_in_sec"`
	SourceOutSec float64   `json:"source_out_sec"`
	DurationSec  float64   `json:"duration_sec"`
	MediaRef     string    `gorm:"type:text" json:"media_ref"`
	TrackID      string    `gorm:"type:varchar(64);index" json:"track_id"`
	TrackKind    TrackKind `gorm:"type:varchar(16)" json:"track_kind"`
	TrackOrder   int       `json:"track_order"`
	Locked       bool      `json:"locked"`
	Layered      bool      `json:"layered"` // may overlap other segments on its track
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Validate checks the per-segment invariants.
func (s Segment) Validate() error {
	switch {
	case strings.TrimSpace(s.ID) == "":
		return fmt.Errorf("%w: missing id", ErrInvalidSegment)
	case !(s.InSec < s.OutSec):
		return fmt.Errorf("%w: %s: in %.6f must be before out %.6f", ErrInvalidSegment, s.ID, s.InSec, s.OutSec)
	case s.InSec < 0:
		return fmt.Errorf("%w: %s: negative in point", ErrInvalidSegment, s.ID)
	case math.Abs(s.DurationSec-(s.OutSec-s.InSec)) > durationEpsilon:
		return fmt.Errorf("%w: %s: duration %.6f does not match out-in %.6f", ErrInvalidSegment, s.ID, s.DurationSec, s.OutSec-s.InSec)
	case s.SourceInSec < 0 || !(s.SourceInSec < s.SourceOutSec):
		return fmt.Errorf("%w: %s: source range [%.6f, %.6f) is empty or negative", ErrInvalidSegment, s.ID, s.SourceInSec, s.SourceOutSec)
	case !s.TrackKind.Valid():
		return fmt.Errorf("%w: %s: unknown track kind %q", ErrInvalidSegment, s.ID, s.TrackKind)
	}
	return nil
}

// SourceTimeAt maps a global timeline position inside the segment to source time.
func (s Segment) SourceTimeAt(globalSec float64) float64 {
	return s.SourceInSec + (globalSec - s.InSec)
}

// Normalize fills derived fields: duration from in/out and the default track.
func (s *Segment) Normalize() {
	s.DurationSec = s.OutSec - s.InSec
	if s.TrackKind == "" {
		s.TrackKind = TrackVideo
	}
	if s.TrackID == "" {
		s.TrackID = string(s.TrackKind)
	}
}

// SortSegments orders segments by track order, track, in point and finally list order.
func SortSegments(segs []Segment) {
	slices.SortStableFunc(segs, func(a, b Segment) int {
		if a.TrackOrder != b.TrackOrder {
			return a.TrackOrder - b.TrackOrder
		}
		if c := strings.Compare(a.TrackID, b.TrackID); c != 0 {
			return c
		}
		if a.InSec != b.InSec {
			if a.InSec < b.InSec {
				return -1
			}
			return 1
		}
		return a.Order - b.Order
	})
}

// ValidateSegments checks every segment, rejects duplicate ids and tracks whose
// segments disagree on kind or order, and rejects same-track overlaps unless
// one of the pair is layered.
func ValidateSegments(segs []Segment) error {
	ids := make(map[string]struct{}, len(segs))
	kinds := make(map[string]TrackKind)
	orders := make(map[string]int)
	for _, s := range segs {
		if err := s.Validate(); err != nil {
			return err
		}
		if _, dup := ids[s.ID]; dup {
			return fmt.Errorf("%w: duplicate id %s", ErrInvalidSegment, s.ID)
		}
		ids[s.ID] = struct{}{}
		if k, ok := kinds[s.TrackID]; ok && k != s.TrackKind {
			return fmt.Errorf("%w: track %s mixes %s and %s segments", ErrInvalidSegment, s.TrackID, k, s.TrackKind)
		}
		kinds[s.TrackID] = s.TrackKind
		if o, ok := orders[s.TrackID]; ok && o != s.TrackOrder {
			return fmt.Errorf("%w: track %s has segments with track order %d and %d", ErrInvalidSegment, s.TrackID, o, s.TrackOrder)
		}
		orders[s.TrackID] = s.TrackOrder
	}

	sorted := slices.Clone(segs)
	SortSegments(sorted)
	var (
		track   string
		reach   float64
		reachID string
	)
	for i, cur := range sorted {
		if i == 0 || cur.TrackID != track {
			track, reach, reachID = cur.TrackID, 0, ""
		}
		if cur.Layered {
			continue
		}
		if reachID != "" && cur.InSec < reach-durationEpsilon {
			return fmt.Errorf("%w: %s overlaps %s on track %s", ErrInvalidSegment, cur.ID, reachID, cur.TrackID)
		}
		if cur.OutSec > reach || reachID == "" {
			reach, reachID = cur.OutSec, cur.ID
		}
	}
	return nil
}

// TimelineEnd returns the largest out point, or zero for an empty list.
func TimelineEnd(segs []Segment) float64 {
	end := 0.0
	for _, s := range segs {
		if s.OutSec > end {
			end = s.OutSec
		}
	}
	return end
}
