/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/friendsincode/reeltime/internal/engine"
	"github.com/friendsincode/reeltime/internal/events"
	"github.com/friendsincode/reeltime/internal/media"
	"github.com/friendsincode/reeltime/internal/mediapool"
	"github.com/friendsincode/reeltime/internal/models"
	"github.com/friendsincode/reeltime/internal/playback"
	"github.com/friendsincode/reeltime/internal/store"
)

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Play a timeline file in real time without output",
	Long:  "Run a headless engine over a YAML timeline at wall-clock speed, probing media with ffprobe and logging every segment switch",
	RunE:  runPlay,
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a timeline faster than real time on a simulated clock",
	Long:  "Advance a headless engine in fixed steps on a manual clock and print segment switches with their preload lead",
	RunE:  runSimulate,
}

var (
	timelinePath string
	rangeFrom    float64
	rangeTo      float64
	rateOverride string

	playProbe bool

	simStep     time.Duration
	simDuration time.Duration
)

func init() {
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(simulateCmd)

	for _, c := range []*cobra.Command{playCmd, simulateCmd} {
		c.Flags().StringVar(&timelinePath, "timeline", "", "Path to the YAML timeline file (required)")
		c.Flags().Float64Var(&rangeFrom, "from", 0, "Start of the playback range in seconds")
		c.Flags().Float64Var(&rangeTo, "to", -1, "End of the playback range in seconds (default: timeline end)")
		c.Flags().StringVar(&rateOverride, "fps", "", "Override the project frame rate (e.g. 25, 29.97, 30000/1001)")
		_ = c.MarkFlagRequired("timeline")
	}
	playCmd.Flags().BoolVar(&playProbe, "probe", true, "Probe media with ffprobe")
	simulateCmd.Flags().DurationVar(&simStep, "step", 16*time.Millisecond, "Simulated time per scheduler tick")
	simulateCmd.Flags().DurationVar(&simDuration, "duration", 0, "Stop after this much simulated time (default: until the end)")
}

type runOptions struct {
	Rate  playback.FrameRate // zero uses the project rate
	From  float64
	To    float64 // negative uses the timeline end
	Step  time.Duration
	Limit time.Duration
}

func parseRunOptions() (runOptions, error) {
	opts := runOptions{From: rangeFrom, To: rangeTo, Step: simStep, Limit: simDuration}
	if rateOverride != "" {
		rate, err := playback.ParseFrameRate(rateOverride)
		if err != nil {
			return runOptions{}, err
		}
		opts.Rate = rate
	}
	return opts, nil
}

func projectRate(project models.Project, override playback.FrameRate) (playback.FrameRate, error) {
	if override.Num > 0 {
		return override, nil
	}
	if project.FrameRate == "" {
		return playback.FPS30, nil
	}
	return playback.ParseFrameRate(project.FrameRate)
}

// buildEngine creates an engine over segs and applies the requested range.
func buildEngine(project models.Project, segs []models.Segment, opts runOptions, engOpts engine.Options) (*engine.Engine, error) {
	rate, err := projectRate(project, opts.Rate)
	if err != nil {
		return nil, err
	}
	engOpts.ProjectID = project.ID
	engOpts.Rate = rate

	e, err := engine.New(engOpts)
	if err != nil {
		return nil, err
	}
	if err := e.SetSegments(segs); err != nil {
		e.Dispose()
		return nil, err
	}
	if opts.From > 0 || opts.To >= 0 {
		end := opts.To
		if end < 0 {
			end = models.TimelineEnd(segs)
		}
		if err := e.SetBounds(opts.From, end); err != nil {
			e.Dispose()
			return nil, err
		}
	}
	return e, nil
}

func runPlay(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	opts, err := parseRunOptions()
	if err != nil {
		return err
	}
	project, segs, err := store.LoadTimelineFile(timelinePath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	resolver, err := media.NewResolver(ctx, media.ResolverConfig{
		MediaRoot: cfg.MediaRoot,
		S3: media.S3Config{
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			UsePathStyle:    cfg.S3UsePathStyle,
			PresignTTL:      cfg.S3PresignTTL,
		},
	}, logger)
	if err != nil {
		return err
	}
	headless := media.HeadlessOptions{ProbeTimeout: cfg.ProbeTimeout, Logger: logger}
	if playProbe {
		headless.Prober = media.NewFFprobe(cfg.FFprobeBin)
	}

	bus := events.NewBus()
	changes := bus.SubscribeBuffered(events.EventSegmentChange, 64)
	failures := bus.SubscribeBuffered(events.EventMediaError, 64)
	ended := bus.SubscribeBuffered(events.EventPlaybackEnd, 1)

	e, err := buildEngine(project, segs, opts, engine.Options{
		Scheduler:     playback.NewTickerScheduler(cfg.TickInterval),
		Factory:       media.HeadlessFactory(headless),
		PoolSize:      cfg.PoolSize,
		SeekTolerance: cfg.SeekTolerance,
		Resolver:      resolver,
		Bus:           bus,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	defer e.Dispose()

	start, end := e.Status().StartSec, e.Status().EndSec
	logger.Info().Str("project_id", project.ID).Int("segments", len(segs)).Float64("from", start).Float64("to", end).Msg("playing timeline")
	e.Play()

	for {
		select {
		case <-ctx.Done():
			e.Pause()
			logger.Info().Float64("time", e.CurrentTime()).Msg("playback interrupted")
			return nil
		case p := <-changes:
			ev := logger.Info().Interface("kind", p["kind"]).Interface("time", p["time"]).Interface("previous", p["previous_id"])
			if id, ok := p["segment_id"]; ok {
				ev = ev.Interface("segment", id).Interface("source_time", p["source_time"])
			}
			ev.Msg("segment switch")
		case p := <-failures:
			logger.Warn().Interface("segment", p["segment_id"]).Interface("error", p["error"]).Msg("media error")
		case <-ended:
			logger.Info().Float64("time", e.CurrentTime()).Msg("end of timeline reached")
			return nil
		}
	}
}

func runSimulate(cmd *cobra.Command, args []string) error {
	opts, err := parseRunOptions()
	if err != nil {
		return err
	}
	project, segs, err := store.LoadTimelineFile(timelinePath)
	if err != nil {
		return err
	}
	_, err = simulate(cmd.OutOrStdout(), project, segs, opts, zerolog.Nop())
	return err
}

type simReport struct {
	Switches    int
	Cold        int     // activations without a preload ahead of time
	MinLeadSec  float64 // smallest preload lead among warm switches
	MediaErrors int
	EndSec      float64
	Ended       bool
}

// simulate steps an engine on a manual clock and prints one line per segment
// switch. The preload lead is the simulated time between a segment's media
// being requested and the segment becoming active.
func simulate(w io.Writer, project models.Project, segs []models.Segment, opts runOptions, logger zerolog.Logger) (simReport, error) {
	if opts.Step <= 0 {
		return simReport{}, fmt.Errorf("step must be positive, got %s", opts.Step)
	}

	sched := playback.NewManualScheduler(time.Unix(0, 0))
	bus := events.NewBus()
	changes := bus.SubscribeBuffered(events.EventSegmentChange, 256)
	failures := bus.SubscribeBuffered(events.EventMediaError, 256)
	ended := bus.SubscribeBuffered(events.EventPlaybackEnd, 1)

	e, err := buildEngine(project, segs, opts, engine.Options{
		Scheduler: sched,
		Factory:   media.HeadlessFactory(media.HeadlessOptions{Now: sched.Now, Logger: logger}),
		Bus:       bus,
		Logger:    logger,
	})
	if err != nil {
		return simReport{}, err
	}
	defer e.Dispose()

	status := e.Status()
	fmt.Fprintf(w, "project %s  fps %s  range %.3fs..%.3fs  step %s\n", project.ID, status.FrameRate, status.StartSec, status.EndSec, opts.Step)
	rate, _ := projectRate(project, opts.Rate)

	report := simReport{MinLeadSec: math.Inf(1)}
	preloadedAt := make(map[string]float64)
	poll := func(now float64) {
		for _, s := range segs {
			if _, seen := preloadedAt[s.ID]; seen {
				continue
			}
			if e.Preloaded(s.ID, mediapool.KindOf(s.TrackKind)) {
				preloadedAt[s.ID] = now
			}
		}
	}
	drain := func() {
		for {
			select {
			case p := <-changes:
				report.Switches++
				printSwitch(w, rate, p, preloadedAt, &report)
			case <-failures:
				report.MediaErrors++
			default:
				return
			}
		}
	}

	poll(e.CurrentTime())
	drain()
	e.Play()

	maxSteps := int(math.Ceil((status.EndSec-status.StartSec)/opts.Step.Seconds())) + 2
	if opts.Limit > 0 {
		maxSteps = int(opts.Limit / opts.Step)
	}
	for i := 0; i < maxSteps && !report.Ended; i++ {
		sched.Advance(opts.Step)
		drain()
		poll(e.CurrentTime())
		select {
		case <-ended:
			report.Ended = true
		default:
		}
	}
	drain()

	report.EndSec = e.CurrentTime()
	if math.IsInf(report.MinLeadSec, 1) {
		report.MinLeadSec = 0
	}
	fmt.Fprintf(w, "switches %d  cold %d  min lead %.3fs  media errors %d  stopped at %.3fs  ended %v\n",
		report.Switches, report.Cold, report.MinLeadSec, report.MediaErrors, report.EndSec, report.Ended)
	return report, nil
}

func printSwitch(w io.Writer, rate playback.FrameRate, p events.Payload, preloadedAt map[string]float64, report *simReport) {
	at, _ := p["time"].(float64)
	frame := rate.FrameAt(at)
	prev, _ := p["previous_id"].(string)
	if prev == "" {
		prev = "-"
	}

	id, ok := p["segment_id"].(string)
	if !ok {
		fmt.Fprintf(w, "%9.3fs  frame %6d  %-5v  %s -> (gap)\n", at, frame, p["kind"], prev)
		return
	}
	src, _ := p["source_time"].(float64)

	lead := "cold"
	if since, warm := preloadedAt[id]; warm {
		d := at - since
		lead = fmt.Sprintf("lead %.3fs", d)
		if prev != "-" && d < report.MinLeadSec {
			report.MinLeadSec = d
		}
	} else {
		report.Cold++
	}
	fmt.Fprintf(w, "%9.3fs  frame %6d  %-5v  %s -> %s  src %.3fs  %s\n", at, frame, p["kind"], prev, id, src, lead)
}
