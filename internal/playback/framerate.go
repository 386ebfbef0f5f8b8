/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidFrameRate is returned for non-positive or out-of-range frame rates.
var ErrInvalidFrameRate = errors.New("invalid frame rate")

// MaxFPS is the highest frame rate a Clock accepts.
const MaxFPS = 240

// frameEpsilon absorbs float error when comparing a frame start to a time.
const frameEpsilon = 1e-9

// MaxDen bounds the denominator of a reduced rate. Together with MaxFPS and
// maxTickGap it keeps tick accounting inside int64.
const MaxDen = 10000

// FrameRate is a rational frame rate, Num/Den frames per second.
type FrameRate struct {
	Num int64
	Den int64
}

// Common rates. NTSC rates are exact rationals.
var (
	FPS23976 = FrameRate{Num: 24000, Den: 1001}
	FPS24    = FrameRate{Num: 24, Den: 1}
	FPS25    = FrameRate{Num: 25, Den: 1}
	FPS2997  = FrameRate{Num: 30000, Den: 1001}
	FPS30    = FrameRate{Num: 30, Den: 1}
	FPS50    = FrameRate{Num: 50, Den: 1}
	FPS5994  = FrameRate{Num: 60000, Den: 1001}
	FPS60    = FrameRate{Num: 60, Den: 1}
)

var namedRates = map[string]FrameRate{
	"23.976": FPS23976,
	"23.98":  FPS23976,
	"29.97":  FPS2997,
	"59.94":  FPS5994,
}

// ParseFrameRate accepts integer rates ("30"), NTSC shorthands ("29.97")
// and explicit rationals ("30000/1001").
func ParseFrameRate(s string) (FrameRate, error) {
	s = strings.TrimSpace(s)
	if r, ok := namedRates[s]; ok {
		return r, nil
	}

	if num, den, ok := strings.Cut(s, "/"); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(num), 10, 64)
		if err != nil {
			return FrameRate{}, fmt.Errorf("%w: %q", ErrInvalidFrameRate, s)
		}
		d, err := strconv.ParseInt(strings.TrimSpace(den), 10, 64)
		if err != nil {
			return FrameRate{}, fmt.Errorf("%w: %q", ErrInvalidFrameRate, s)
		}
		r := FrameRate{Num: n, Den: d}.Reduced()
		return r, r.Validate()
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return FrameRate{}, fmt.Errorf("%w: %q", ErrInvalidFrameRate, s)
	}
	r := FrameRate{Num: n, Den: 1}
	return r, r.Validate()
}

// Validate checks the rate is positive and at most MaxFPS.
func (r FrameRate) Validate() error {
	if r.Num <= 0 || r.Den <= 0 {
		return fmt.Errorf("%w: %d/%d", ErrInvalidFrameRate, r.Num, r.Den)
	}
	if r.Den > MaxDen {
		return fmt.Errorf("%w: denominator of %s exceeds %d", ErrInvalidFrameRate, r, MaxDen)
	}
	if r.Num > MaxFPS*r.Den {
		return fmt.Errorf("%w: %s exceeds %d fps", ErrInvalidFrameRate, r, MaxFPS)
	}
	return nil
}

// Reduced returns the rate with Num and Den divided by their greatest common
// divisor. Non-positive rates are returned unchanged.
func (r FrameRate) Reduced() FrameRate {
	if r.Num <= 0 || r.Den <= 0 {
		return r
	}
	a, b := r.Num, r.Den
	for b != 0 {
		a, b = b, a%b
	}
	return FrameRate{Num: r.Num / a, Den: r.Den / a}
}

// FPS returns the rate as a float.
func (r FrameRate) FPS() float64 {
	return float64(r.Num) / float64(r.Den)
}

// FrameAt converts seconds to the nearest frame.
func (r FrameRate) FrameAt(sec float64) int64 {
	return int64(math.Round(sec * float64(r.Num) / float64(r.Den)))
}

// LastFrameAt returns the last frame that starts at or before sec. Unlike
// FrameAt it never rounds past sec, so it is used for end bounds.
func (r FrameRate) LastFrameAt(sec float64) int64 {
	frame := r.FrameAt(sec)
	if r.SecondsAt(frame) > sec+frameEpsilon {
		frame--
	}
	return frame
}

// SecondsAt converts a frame number to seconds.
func (r FrameRate) SecondsAt(frame int64) float64 {
	return float64(frame) * float64(r.Den) / float64(r.Num)
}

// FrameInterval is the duration of one frame, truncated to the nanosecond.
// Tick accounting never uses it; it only sizes scheduler intervals.
func (r FrameRate) FrameInterval() time.Duration {
	return time.Duration(int64(time.Second) * r.Den / r.Num)
}

func (r FrameRate) String() string {
	if r.Den == 1 {
		return strconv.FormatInt(r.Num, 10)
	}
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}
