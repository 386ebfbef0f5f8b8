package playback

import (
	"math"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu     sync.Mutex
	times  []float64
	states []State
	ends   int
}

func (r *recorder) observer() Observer {
	return Observer{
		OnTimeUpdate: func(sec float64) {
			r.mu.Lock()
			r.times = append(r.times, sec)
			r.mu.Unlock()
		},
		OnStateChange: func(s State) {
			r.mu.Lock()
			r.states = append(r.states, s)
			r.mu.Unlock()
		},
		OnEndReached: func() {
			r.mu.Lock()
			r.ends++
			r.mu.Unlock()
		},
	}
}

func newTestClock(t *testing.T, rate FrameRate, start, end float64) (*Clock, *ManualScheduler, *recorder) {
	t.Helper()
	sched := NewManualScheduler(time.Unix(1_700_000_000, 0))
	c, err := New(Config{Rate: rate, StartSec: start, EndSec: end, Scheduler: sched})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rec := &recorder{}
	c.Subscribe(rec.observer())
	return c, sched, rec
}

func TestNewRejectsInvalidRate(t *testing.T) {
	if _, err := New(Config{Rate: FrameRate{Num: 0, Den: 1}}); err == nil {
		t.Fatal("expected error for zero frame rate")
	}
}

func TestSeekQuantizesToFrame(t *testing.T) {
	for _, fps := range []int64{24, 25, 30} {
		rate := FrameRate{Num: fps, Den: 1}
		c, _, _ := newTestClock(t, rate, 0, 1000)
		for _, sec := range []float64{0, 0.01, 0.5, 1.0 / 3.0, 2.718, 5, 9.99, 123.456, 999.999} {
			c.Seek(sec)
			want := math.Round(sec*float64(fps)) / float64(fps)
			if got := c.CurrentTime(); got != want {
				t.Errorf("fps=%d seek(%v): time=%v, want %v", fps, sec, got, want)
			}
		}
	}
}

func TestSeekClampsToBounds(t *testing.T) {
	c, _, rec := newTestClock(t, FPS30, 0, 10)

	c.Seek(-5)
	if got := c.CurrentTime(); got != 0 {
		t.Fatalf("seek(-5) = %v, want 0", got)
	}
	c.Seek(100)
	if got := c.CurrentTime(); got != 10 {
		t.Fatalf("seek(100) = %v, want 10", got)
	}
	if len(rec.times) != 2 {
		t.Fatalf("expected a synchronous time update per seek, got %d", len(rec.times))
	}
}

func TestTickAccumulatesWithoutDrift(t *testing.T) {
	tests := []struct {
		name string
		rate FrameRate
		step time.Duration
	}{
		{"30fps at 16ms", FPS30, 16 * time.Millisecond},
		{"25fps at 40ms", FPS25, 40 * time.Millisecond},
		{"24fps at 7ms", FPS24, 7 * time.Millisecond},
		{"29.97fps at 16.667ms", FPS2997, 16667 * time.Microsecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, sched, _ := newTestClock(t, tt.rate, 0, 100000)
			c.Play()

			var elapsed time.Duration
			for c.CurrentFrame() < 10000 {
				sched.Advance(tt.step)
				elapsed += tt.step
				want := int64(elapsed) * tt.rate.Num / (int64(time.Second) * tt.rate.Den)
				if got := c.CurrentFrame(); got != want {
					t.Fatalf("after %s: frame=%d, want %d", elapsed, got, want)
				}
			}
		})
	}
}

func TestWholeFrameIntervalsAdvanceExactlyN(t *testing.T) {
	c, sched, _ := newTestClock(t, FPS25, 0, 10000)
	c.Play()
	for i := 0; i < 10000; i++ {
		sched.Advance(40 * time.Millisecond)
	}
	if got := c.CurrentFrame(); got != 10000 {
		t.Fatalf("frame=%d, want 10000", got)
	}
}

func TestSubFrameTicksCarryRemainder(t *testing.T) {
	c, sched, rec := newTestClock(t, FPS25, 0, 10)
	c.Play()

	// 40ms per frame: three 15ms ticks make one frame with 5ms carried.
	sched.Advance(15 * time.Millisecond)
	sched.Advance(15 * time.Millisecond)
	if c.CurrentFrame() != 0 {
		t.Fatalf("expected no frame after 30ms, got %d", c.CurrentFrame())
	}
	sched.Advance(15 * time.Millisecond)
	if c.CurrentFrame() != 1 {
		t.Fatalf("expected frame 1 after 45ms, got %d", c.CurrentFrame())
	}
	sched.Advance(35 * time.Millisecond)
	if c.CurrentFrame() != 2 {
		t.Fatalf("expected carried 5ms to complete frame 2, got %d", c.CurrentFrame())
	}
	if len(rec.times) != 2 {
		t.Fatalf("expected time updates only on frame changes, got %d", len(rec.times))
	}
}

func TestScenarioPlayToEnd(t *testing.T) {
	c, sched, rec := newTestClock(t, FPS30, 0, 10)

	c.Seek(5)
	if c.CurrentFrame() != 150 || c.CurrentTime() != 5.0 {
		t.Fatalf("after seek(5): frame=%d time=%v", c.CurrentFrame(), c.CurrentTime())
	}

	c.Play()
	for i := 0; i < 125; i++ { // 2s in 16ms ticks
		sched.Advance(16 * time.Millisecond)
	}
	if f := c.CurrentFrame(); f < 209 || f > 211 {
		t.Fatalf("after 2s: frame=%d, want 210±1", f)
	}
	if tm := c.CurrentTime(); math.Abs(tm-7.0) > 1.0/30 {
		t.Fatalf("after 2s: time=%v, want ~7.0", tm)
	}

	for i := 0; i < 1000 && c.State() == StatePlaying; i++ {
		sched.Advance(16 * time.Millisecond)
	}
	if c.CurrentFrame() != 300 {
		t.Fatalf("expected clamp to end frame 300, got %d", c.CurrentFrame())
	}
	if c.State() != StatePaused {
		t.Fatalf("expected paused at end, got %s", c.State())
	}
	if rec.ends != 1 {
		t.Fatalf("expected exactly one end-reached, got %d", rec.ends)
	}
	if sched.Pending() != 0 {
		t.Fatalf("expected no further ticks scheduled, got %d", sched.Pending())
	}

	for i := 0; i < 10; i++ {
		sched.Advance(16 * time.Millisecond)
	}
	if rec.ends != 1 {
		t.Fatalf("end-reached fired again: %d", rec.ends)
	}
	if last := rec.times[len(rec.times)-1]; last != 10 {
		t.Fatalf("expected final time update at 10, got %v", last)
	}
}

func TestEndReachedOrdering(t *testing.T) {
	c, sched, _ := newTestClock(t, FPS25, 0, 1)

	var order []string
	c.Subscribe(Observer{
		OnTimeUpdate:  func(float64) { order = append(order, "time") },
		OnStateChange: func(s State) { order = append(order, string(s)) },
		OnEndReached:  func() { order = append(order, "end") },
	})
	c.Play()
	order = nil
	sched.Advance(2 * time.Second)

	want := []string{"time", "paused", "end"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestPlayPauseIdempotent(t *testing.T) {
	c, sched, rec := newTestClock(t, FPS30, 0, 10)

	c.Play()
	c.Play()
	if sched.Pending() != 1 {
		t.Fatalf("expected one pending tick, got %d", sched.Pending())
	}
	c.Pause()
	c.Pause()
	if sched.Pending() != 0 {
		t.Fatalf("expected pause to cancel the pending tick, got %d", sched.Pending())
	}

	want := []State{StatePlaying, StatePaused}
	if len(rec.states) != len(want) || rec.states[0] != want[0] || rec.states[1] != want[1] {
		t.Fatalf("states = %v, want %v", rec.states, want)
	}
}

func TestPauseKeepsPosition(t *testing.T) {
	c, sched, _ := newTestClock(t, FPS25, 0, 10)
	c.Play()
	sched.Advance(400 * time.Millisecond)
	c.Pause()
	sched.Advance(time.Second)
	if c.CurrentFrame() != 10 {
		t.Fatalf("expected frame 10 held across pause, got %d", c.CurrentFrame())
	}

	// Time spent paused is not credited on resume.
	c.Play()
	sched.Advance(40 * time.Millisecond)
	if c.CurrentFrame() != 11 {
		t.Fatalf("expected frame 11 after resume, got %d", c.CurrentFrame())
	}
}

func TestStopResetsToStartBound(t *testing.T) {
	c, sched, rec := newTestClock(t, FPS25, 2, 10)
	c.Seek(5)
	c.Play()
	sched.Advance(time.Second)

	before := len(rec.times)
	c.Stop()
	if c.State() != StateStopped {
		t.Fatalf("expected stopped, got %s", c.State())
	}
	if c.CurrentTime() != 2 {
		t.Fatalf("expected reset to start bound 2, got %v", c.CurrentTime())
	}
	if got := len(rec.times) - before; got != 1 {
		t.Fatalf("expected one time update on stop, got %d", got)
	}
	if sched.Pending() != 0 {
		t.Fatalf("expected stop to cancel ticks")
	}
}

func TestSetBoundsReclampsPosition(t *testing.T) {
	c, _, rec := newTestClock(t, FPS30, 0, 20)
	c.Seek(15)
	before := len(rec.times)

	c.SetBounds(0, 10)
	if c.CurrentTime() != 10 {
		t.Fatalf("expected re-clamp to 10, got %v", c.CurrentTime())
	}
	c.SetBounds(12, 18)
	if c.CurrentTime() != 12 {
		t.Fatalf("expected re-clamp to 12, got %v", c.CurrentTime())
	}
	c.SetBounds(0, 30)
	if c.CurrentTime() != 12 {
		t.Fatalf("expected position kept inside new bounds, got %v", c.CurrentTime())
	}
	if got := len(rec.times) - before; got != 2 {
		t.Fatalf("expected two re-clamp updates, got %d", got)
	}
}

func TestPlayAtEndRewindsToStart(t *testing.T) {
	c, sched, _ := newTestClock(t, FPS25, 1, 2)
	c.Seek(2)
	c.Play()
	if c.CurrentTime() != 1 {
		t.Fatalf("expected rewind to start bound, got %v", c.CurrentTime())
	}
	sched.Advance(80 * time.Millisecond)
	if c.CurrentFrame() != 27 {
		t.Fatalf("expected frame 27, got %d", c.CurrentFrame())
	}
}

func TestSeekWhilePlayingContinuesFromNewPosition(t *testing.T) {
	c, sched, _ := newTestClock(t, FPS25, 0, 100)
	c.Play()
	sched.Advance(200 * time.Millisecond)
	c.Seek(50)
	sched.Advance(40 * time.Millisecond)
	if c.CurrentFrame() != 1251 {
		t.Fatalf("expected frame 1251, got %d", c.CurrentFrame())
	}
}

func TestObserverMayCallBackIntoClock(t *testing.T) {
	c, sched, rec := newTestClock(t, FPS25, 0, 1)
	c.Subscribe(Observer{
		OnEndReached: func() { c.Seek(0.4) },
	})

	c.Play()
	sched.Advance(2 * time.Second)

	if c.CurrentTime() != 0.4 {
		t.Fatalf("expected re-entrant seek to apply, got %v", c.CurrentTime())
	}
	if last := rec.times[len(rec.times)-1]; last != 0.4 {
		t.Fatalf("expected re-entrant seek notification last, got %v", last)
	}
	if c.State() != StatePaused {
		t.Fatalf("seek must not resume playback, got %s", c.State())
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	c, _, _ := newTestClock(t, FPS30, 0, 10)
	count := 0
	unsubscribe := c.Subscribe(Observer{OnTimeUpdate: func(float64) { count++ }})
	c.Seek(1)
	unsubscribe()
	c.Seek(2)
	if count != 1 {
		t.Fatalf("expected 1 delivery, got %d", count)
	}
}

func TestTogglePlayPause(t *testing.T) {
	c, _, _ := newTestClock(t, FPS30, 0, 10)
	c.TogglePlayPause()
	if c.State() != StatePlaying {
		t.Fatalf("expected playing, got %s", c.State())
	}
	c.TogglePlayPause()
	if c.State() != StatePaused {
		t.Fatalf("expected paused, got %s", c.State())
	}
}

func TestSeekDuringDeliveryQueuesBehindDispatcher(t *testing.T) {
	c, sched, rec := newTestClock(t, FPS30, 0, 10)
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	c.Subscribe(Observer{OnTimeUpdate: func(sec float64) {
		if sec > 0 && sec < 5 {
			once.Do(func() {
				close(entered)
				<-release
			})
		}
	}})

	c.Play()
	done := make(chan struct{})
	go func() {
		sched.Advance(100 * time.Millisecond)
		close(done)
	}()
	<-entered

	c.Seek(5)
	got := c.CurrentTime()
	rec.mu.Lock()
	delivered := len(rec.times) > 0 && rec.times[len(rec.times)-1] == 5
	rec.mu.Unlock()
	close(release)
	<-done

	if got != 5 {
		t.Fatalf("position must read back immediately, got %v", got)
	}
	if delivered {
		t.Fatal("seek update must wait for the active dispatcher")
	}
	if last := rec.times[len(rec.times)-1]; last != 5 {
		t.Fatalf("expected the seek update delivered by the dispatcher, got %v", rec.times)
	}
}

func TestEndBoundNeverStartsPastEndSec(t *testing.T) {
	tests := []struct {
		name string
		rate FrameRate
		end  float64
	}{
		{"ntsc 29.97", FPS2997, 8},
		{"ntsc 23.976", FPS23976, 5},
		{"unaligned out point", FPS30, 7.99},
		{"aligned", FPS30, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _, _ := newTestClock(t, tt.rate, 0, tt.end)
			c.Seek(1000)
			if got := c.CurrentTime(); got > tt.end+1e-9 {
				t.Fatalf("final frame starts at %v, past end %v", got, tt.end)
			}
			if got := c.CurrentTime(); tt.end-got >= 1/tt.rate.FPS() {
				t.Fatalf("final frame %v is more than one frame before end %v", got, tt.end)
			}
		})
	}
}

func TestDegenerateBoundsKeepStartFrame(t *testing.T) {
	c, _, _ := newTestClock(t, FPS30, 0, 10)
	c.SetBounds(7.99, 7.99)
	start, end := c.Bounds()
	if start != end || c.CurrentTime() != start {
		t.Fatalf("expected a one-frame window, got [%v, %v] at %v", start, end, c.CurrentTime())
	}
}

func TestExtremeRateLongGapDoesNotOverflow(t *testing.T) {
	rate := FrameRate{Num: 2399759, Den: 9999}
	c, sched, _ := newTestClock(t, rate, 0, 1e7)
	c.Play()
	sched.Advance(2 * time.Hour)

	r := rate.Reduced()
	want := int64(maxTickGap/time.Second) * r.Num / r.Den
	if got := c.CurrentFrame(); got != want {
		t.Fatalf("frame after a capped gap = %d, want %d", got, want)
	}
}
