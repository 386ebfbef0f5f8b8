package models

import (
	"errors"
	"testing"
)

func seg(id, track string, in, out float64) Segment {
	s := Segment{ID: id, TrackID: track, TrackKind: TrackVideo, InSec: in, OutSec: out, SourceInSec: 0, SourceOutSec: out - in}
	s.Normalize()
	return s
}

func TestSegmentValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Segment)
		wantErr bool
	}{
		{"valid", func(*Segment) {}, false},
		{"empty range", func(s *Segment) { s.OutSec = s.InSec }, true},
		{"negative in", func(s *Segment) { s.InSec = -1; s.DurationSec = s.OutSec + 1 }, true},
		{"duration mismatch", func(s *Segment) { s.DurationSec += 0.01 }, true},
		{"duration float noise", func(s *Segment) { s.DurationSec += 1e-9 }, false},
		{"negative source in", func(s *Segment) { s.SourceInSec = -0.5 }, true},
		{"empty source range", func(s *Segment) { s.SourceOutSec = s.SourceInSec }, true},
		{"unknown kind", func(s *Segment) { s.TrackKind = "subtitle" }, true},
		{"missing id", func(s *Segment) { s.ID = " " }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := seg("a", "v1", 2, 5)
			tt.mutate(&s)
			err := s.Validate()
			if tt.wantErr && !errors.Is(err, ErrInvalidSegment) {
				t.Fatalf("expected ErrInvalidSegment, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateSegmentsOverlap(t *testing.T) {
	if err := ValidateSegments([]Segment{seg("a", "v1", 0, 5), seg("b", "v1", 5, 8)}); err != nil {
		t.Fatalf("abutting segments must be valid: %v", err)
	}
	if err := ValidateSegments([]Segment{seg("a", "v1", 0, 5), seg("b", "v1", 4, 8)}); !errors.Is(err, ErrInvalidSegment) {
		t.Fatalf("expected overlap error, got %v", err)
	}
	if err := ValidateSegments([]Segment{seg("a", "v1", 0, 5), seg("b", "v2", 4, 8)}); err != nil {
		t.Fatalf("overlap across tracks must be valid: %v", err)
	}

	layered := seg("b", "v1", 4, 8)
	layered.Layered = true
	if err := ValidateSegments([]Segment{seg("a", "v1", 0, 5), layered}); err != nil {
		t.Fatalf("layered overlap must be valid: %v", err)
	}

	// A layered segment between two overlapping plain segments does not hide the overlap.
	mid := seg("m", "v1", 1, 2)
	mid.Layered = true
	if err := ValidateSegments([]Segment{seg("a", "v1", 0, 5), mid, seg("c", "v1", 3, 6)}); err == nil {
		t.Fatal("expected overlap between a and c")
	}
}

func TestValidateSegmentsRejectsDuplicatesAndMixedKinds(t *testing.T) {
	if err := ValidateSegments([]Segment{seg("a", "v1", 0, 5), seg("a", "v1", 5, 8)}); err == nil {
		t.Fatal("expected duplicate id error")
	}
	audio := seg("b", "v1", 5, 8)
	audio.TrackKind = TrackAudio
	if err := ValidateSegments([]Segment{seg("a", "v1", 0, 5), audio}); err == nil {
		t.Fatal("expected mixed kind error")
	}
}

func TestSortSegmentsAndTimelineEnd(t *testing.T) {
	segs := []Segment{seg("c", "v1", 8, 9), seg("a", "v1", 0, 5), seg("b", "v1", 5, 8)}
	segs[0].TrackOrder = 0
	SortSegments(segs)
	for i, want := range []string{"a", "b", "c"} {
		if segs[i].ID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, segs[i].ID)
		}
	}
	if got := TimelineEnd(segs); got != 9 {
		t.Fatalf("expected timeline end 9, got %v", got)
	}
	if got := segs[1].SourceTimeAt(6); got != 1 {
		t.Fatalf("expected source time 1, got %v", got)
	}
}
