/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
)

// Metadata describes a loaded media source.
type Metadata struct {
	DurationSec float64
	HasVideo    bool
	HasAudio    bool
	Width       int
	Height      int
}

// Prober reads metadata for a resolved media reference.
type Prober interface {
	Probe(ctx context.Context, ref string) (Metadata, error)
}

// FFprobe probes media with the ffprobe binary.
type FFprobe struct {
	Bin string
}

// NewFFprobe returns a prober using bin, or "ffprobe" from PATH.
func NewFFprobe(bin string) *FFprobe {
	if bin == "" {
		bin = "ffprobe"
	}
	return &FFprobe{Bin: bin}
}

type probeStream struct {
	CodecType string `json:"codec_type"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	Duration  string `json:"duration,omitempty"`
}

type probeFormat struct {
	Duration string `json:"duration"`
}

type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

// Probe runs ffprobe against ref.
func (f *FFprobe) Probe(ctx context.Context, ref string) (Metadata, error) {
	cmd := exec.CommandContext(ctx, f.Bin,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		ref,
	)
	out, err := cmd.Output()
	if err != nil {
		return Metadata{}, fmt.Errorf("ffprobe %s: %w", ref, err)
	}
	return parseProbeOutput(out)
}

func parseProbeOutput(data []byte) (Metadata, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return Metadata{}, fmt.Errorf("parse ffprobe output: %w", err)
	}

	var meta Metadata
	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			meta.HasVideo = true
			if meta.Width == 0 {
				meta.Width, meta.Height = s.Width, s.Height
			}
		case "audio":
			meta.HasAudio = true
		}
	}

	duration := out.Format.Duration
	if duration == "" {
		for _, s := range out.Streams {
			if s.Duration != "" {
				duration = s.Duration
				break
			}
		}
	}
	if duration != "" {
		d, err := strconv.ParseFloat(duration, 64)
		if err != nil {
			return Metadata{}, fmt.Errorf("parse duration %q: %w", duration, err)
		}
		meta.DurationSec = d
	}

	if !meta.HasVideo && !meta.HasAudio {
		return meta, fmt.Errorf("no audio or video streams")
	}
	return meta, nil
}
