/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package store

import (
	"fmt"
	"os"

	"github.com/friendsincode/reeltime/internal/models"
	"github.com/friendsincode/reeltime/internal/playback"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// TimelineFile is the YAML layout read by LoadTimelineFile:
//
//	project:
//	  id: demo
//	  name: Demo cut
//	  fps: "29.97"
//	tracks:
//	  - id: v1
//	    kind: video
//	    order: 0
//	    segments:
//	      - id: intro
//	        in: 0
//	        out: 5
//	        source_in: 12.5
//	        media: intro.mp4
type TimelineFile struct {
	Project struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
		FPS  string `yaml:"fps"`
	} `yaml:"project"`
	Tracks []TrackFile `yaml:"tracks"`
}

// TrackFile is one track of a TimelineFile.
type TrackFile struct {
	ID       string        `yaml:"id"`
	Kind     string        `yaml:"kind"`
	Order    int           `yaml:"order"`
	Segments []SegmentFile `yaml:"segments"`
}

// SegmentFile is one segment of a TrackFile. SourceOut defaults to
// source_in + (out - in) and Duration to out - in.
type SegmentFile struct {
	ID        string   `yaml:"id"`
	In        float64  `yaml:"in"`
	Out       float64  `yaml:"out"`
	Duration  *float64 `yaml:"duration"`
	SourceIn  float64  `yaml:"source_in"`
	SourceOut *float64 `yaml:"source_out"`
	Media     string   `yaml:"media"`
	Locked    bool     `yaml:"locked"`
	Layered   bool     `yaml:"layered"`
}

// LoadTimelineFile reads and validates a YAML timeline.
func LoadTimelineFile(path string) (models.Project, []models.Segment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Project{}, nil, fmt.Errorf("read timeline: %w", err)
	}
	project, segs, err := ParseTimeline(data)
	if err != nil {
		return models.Project{}, nil, fmt.Errorf("%s: %w", path, err)
	}
	return project, segs, nil
}

// ParseTimeline decodes a YAML timeline. Missing ids are generated.
func ParseTimeline(data []byte) (models.Project, []models.Segment, error) {
	var file TimelineFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return models.Project{}, nil, fmt.Errorf("parse timeline: %w", err)
	}

	project := models.Project{
		ID:        file.Project.ID,
		Name:      file.Project.Name,
		FrameRate: file.Project.FPS,
	}
	if project.ID == "" {
		project.ID = uuid.NewString()
	}
	if project.FrameRate != "" {
		rate, err := playback.ParseFrameRate(project.FrameRate)
		if err != nil {
			return models.Project{}, nil, err
		}
		project.FrameRate = rate.String()
	}

	var segs []models.Segment
	for ti, track := range file.Tracks {
		kind := models.TrackKind(track.Kind)
		if kind == "" {
			kind = models.TrackVideo
		}
		trackID := track.ID
		if trackID == "" {
			trackID = fmt.Sprintf("%s-%d", kind, ti)
		}
		for _, sf := range track.Segments {
			seg := models.Segment{
				ID:          sf.ID,
				ProjectID:   project.ID,
				Order:       len(segs),
				InSec:       sf.In,
				OutSec:      sf.Out,
				SourceInSec: sf.SourceIn,
				MediaRef:    sf.Media,
				TrackID:     trackID,
				TrackKind:   kind,
				TrackOrder:  track.Order,
				Locked:      sf.Locked,
				Layered:     sf.Layered,
			}
			if seg.ID == "" {
				seg.ID = uuid.NewString()
			}
			seg.Normalize()
			if sf.Duration != nil {
				seg.DurationSec = *sf.Duration
			}
			seg.SourceOutSec = seg.SourceInSec + (seg.OutSec - seg.InSec)
			if sf.SourceOut != nil {
				seg.SourceOutSec = *sf.SourceOut
			}
			segs = append(segs, seg)
		}
	}

	if err := models.ValidateSegments(segs); err != nil {
		return models.Project{}, nil, err
	}
	return project, segs, nil
}
