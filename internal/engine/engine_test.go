package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/friendsincode/reeltime/internal/events"
	"github.com/friendsincode/reeltime/internal/media"
	"github.com/friendsincode/reeltime/internal/mediapool"
	"github.com/friendsincode/reeltime/internal/models"
	"github.com/friendsincode/reeltime/internal/playback"
	"github.com/friendsincode/reeltime/internal/timeline"
	"github.com/rs/zerolog"
)

// readyElement is loaded as soon as a source is assigned.
type readyElement struct {
	mu       sync.Mutex
	source   string
	position float64
	playing  bool
	muted    bool
	cleared  bool
}

func (r *readyElement) Source() string { r.mu.Lock(); defer r.mu.Unlock(); return r.source }
func (r *readyElement) SetSource(ref string) {
	r.mu.Lock()
	r.source, r.position, r.cleared = ref, 0, false
	r.mu.Unlock()
}
func (r *readyElement) Clear() {
	r.mu.Lock()
	r.source, r.cleared, r.playing = "", true, false
	r.mu.Unlock()
}
func (r *readyElement) WhenReady(fn func(error)) {
	if r.Source() == "" {
		return
	}
	fn(nil)
}
func (r *readyElement) CurrentTime() float64 { r.mu.Lock(); defer r.mu.Unlock(); return r.position }
func (r *readyElement) Seek(sec float64)     { r.mu.Lock(); r.position = sec; r.mu.Unlock() }
func (r *readyElement) Play() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.source == "" {
		return media.ErrNoSource
	}
	r.playing = true
	return nil
}
func (r *readyElement) Pause()              { r.mu.Lock(); r.playing = false; r.mu.Unlock() }
func (r *readyElement) Paused() bool        { r.mu.Lock(); defer r.mu.Unlock(); return !r.playing }
func (r *readyElement) SetMuted(muted bool) { r.mu.Lock(); r.muted = muted; r.mu.Unlock() }
func (r *readyElement) Muted() bool         { r.mu.Lock(); defer r.mu.Unlock(); return r.muted }

type elementSet struct {
	mu  sync.Mutex
	all []*readyElement
}

func (s *elementSet) factory() media.Element {
	el := &readyElement{}
	s.mu.Lock()
	s.all = append(s.all, el)
	s.mu.Unlock()
	return el
}

// bySource returns the element currently holding ref.
func (s *elementSet) bySource(ref string) *readyElement {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, el := range s.all {
		if el.Source() == ref {
			return el
		}
	}
	return nil
}

func (s *elementSet) anyPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, el := range s.all {
		if !el.Paused() {
			return true
		}
	}
	return false
}

func seg(id string, in, out, srcIn float64) models.Segment {
	s := models.Segment{
		ID:           id,
		InSec:        in,
		OutSec:       out,
		SourceInSec:  srcIn,
		SourceOutSec: srcIn + (out - in),
		MediaRef:     id + ".mp4",
	}
	s.Normalize()
	return s
}

type harness struct {
	engine   *Engine
	sched    *playback.ManualScheduler
	elements *elementSet
	bus      *events.Bus
}

func newHarness(t *testing.T, segs ...models.Segment) *harness {
	t.Helper()
	return newHarnessAt(t, playback.FPS30, segs...)
}

func newHarnessAt(t *testing.T, rate playback.FrameRate, segs ...models.Segment) *harness {
	t.Helper()
	h := &harness{
		sched:    playback.NewManualScheduler(time.Unix(0, 0)),
		elements: &elementSet{},
		bus:      events.NewBus(),
	}
	e, err := New(Options{
		ProjectID: "p1",
		Rate:      rate,
		Scheduler: h.sched,
		Factory:   h.elements.factory,
		Bus:       h.bus,
		Logger:    zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := e.SetSegments(segs); err != nil {
		t.Fatalf("SetSegments: %v", err)
	}
	h.engine = e
	t.Cleanup(e.Dispose)
	return h
}

func (h *harness) advance(seconds int) {
	for i := 0; i < seconds; i++ {
		h.sched.Advance(time.Second)
	}
}

func TestEngineSwitchesAtSegmentBoundary(t *testing.T) {
	h := newHarness(t, seg("A", 0, 5, 0), seg("B", 5, 8, 2))

	if h.elements.bySource("B.mp4") == nil {
		t.Fatal("the next segment must be preloaded before playback starts")
	}
	if !h.engine.Preloaded("B", mediapool.KindVideo) || h.engine.Preloaded("B", mediapool.KindAudio) {
		t.Fatal("B is preloaded as video only")
	}
	h.engine.Play()
	h.advance(4)
	if active, ok := h.engine.Active(mediapool.KindVideo); !ok || active.SegmentID != "A" {
		t.Fatalf("expected A active at 4s, got %+v", active)
	}

	h.advance(1)
	if got := h.engine.CurrentFrame(); got != 150 {
		t.Fatalf("expected frame 150, got %d", got)
	}
	active, ok := h.engine.Active(mediapool.KindVideo)
	if !ok || active.SegmentID != "B" {
		t.Fatalf("expected B active at 5s, got %+v", active)
	}
	b := h.elements.bySource("B.mp4")
	if b.Paused() || b.CurrentTime() != 2 {
		t.Fatalf("B must play from its source in-point, playing=%v pos=%v", !b.Paused(), b.CurrentTime())
	}
	if !h.elements.bySource("A.mp4").Paused() {
		t.Fatal("the previous segment must be paused after the switch")
	}
	if !b.Muted() {
		t.Fatal("video elements start muted")
	}
}

func TestEngineEndPausesMedia(t *testing.T) {
	h := newHarness(t, seg("A", 0, 5, 0), seg("B", 5, 8, 2))
	ends := h.bus.Subscribe(events.EventPlaybackEnd)

	h.engine.Play()
	h.advance(9)
	if h.engine.State() != playback.StatePaused {
		t.Fatalf("expected paused at the end, got %s", h.engine.State())
	}
	if h.engine.CurrentTime() != 8 {
		t.Fatalf("expected position 8, got %v", h.engine.CurrentTime())
	}
	if h.elements.anyPlaying() {
		t.Fatal("no element may keep playing after the end")
	}
	select {
	case p := <-ends:
		if p["project_id"] != "p1" {
			t.Fatalf("unexpected payload %v", p)
		}
	default:
		t.Fatal("expected playback.end event")
	}

	// Playing from the end rewinds.
	h.engine.Play()
	if h.engine.CurrentTime() != 0 {
		t.Fatalf("expected rewind to 0, got %v", h.engine.CurrentTime())
	}
}

func TestEngineFinalFrameKeepsLastSegment(t *testing.T) {
	tests := []struct {
		name string
		rate playback.FrameRate
		out  float64
	}{
		{"ntsc 29.97", playback.FPS2997, 8},
		{"ntsc 23.976", playback.FPS23976, 8},
		{"unaligned out point", playback.FPS30, 7.99},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarnessAt(t, tt.rate, seg("A", 0, 5, 0), seg("B", 5, tt.out, 2))
			changes := h.bus.SubscribeBuffered(events.EventSegmentChange, 16)

			h.engine.Seek(100)
			if got := h.engine.CurrentTime(); got > tt.out {
				t.Fatalf("final frame at %v starts past the timeline end %v", got, tt.out)
			}
			if active, ok := h.engine.Active(mediapool.KindVideo); !ok || active.SegmentID != "B" {
				t.Fatalf("expected B on the final frame, got %+v ok=%v", active, ok)
			}
			for len(changes) > 0 {
				if p := <-changes; p["segment_id"] == nil {
					t.Fatalf("final frame must not enter a gap: %v", p)
				}
			}

			h.engine.Seek(0)
			h.engine.Play()
			h.advance(9)
			if h.engine.State() != playback.StatePaused {
				t.Fatalf("expected paused at the end, got %s", h.engine.State())
			}
			if active, ok := h.engine.Active(mediapool.KindVideo); !ok || active.SegmentID != "B" {
				t.Fatalf("expected B after reaching the end, got %+v ok=%v", active, ok)
			}
		})
	}
}

func TestEnginePublishesSegmentChanges(t *testing.T) {
	h := newHarness(t, seg("A", 0, 5, 0), seg("B", 5, 8, 2))
	changes := h.bus.SubscribeBuffered(events.EventSegmentChange, 16)

	h.engine.Seek(6)
	select {
	case p := <-changes:
		if p["segment_id"] != "B" || p["previous_id"] != "A" || p["source_time"] != 3.0 {
			t.Fatalf("unexpected change payload %v", p)
		}
	default:
		t.Fatal("expected timeline.segment event")
	}
}

func TestEngineDefaultAndCustomBounds(t *testing.T) {
	h := newHarness(t, seg("A", 0, 5, 0), seg("B", 5, 8, 2))

	h.engine.Seek(100)
	if got := h.engine.CurrentTime(); got != 8 {
		t.Fatalf("default end bound is the timeline end, got %v", got)
	}

	if err := h.engine.SetBounds(2, 4); err != nil {
		t.Fatalf("SetBounds: %v", err)
	}
	if got := h.engine.CurrentTime(); got != 4 {
		t.Fatalf("position must be clamped into the new window, got %v", got)
	}
	if err := h.engine.SetSegments([]models.Segment{seg("A", 0, 10, 0)}); err != nil {
		t.Fatalf("SetSegments: %v", err)
	}
	if st := h.engine.Status(); st.EndSec != 4 || !st.CustomBounds {
		t.Fatalf("custom bounds survive a segment update, got %+v", st)
	}

	if err := h.engine.SetBounds(5, 2); !errors.Is(err, timeline.ErrInvalidBounds) {
		t.Fatalf("expected ErrInvalidBounds, got %v", err)
	}

	h.engine.ClearBounds()
	if st := h.engine.Status(); st.StartSec != 0 || st.EndSec != 10 || st.CustomBounds {
		t.Fatalf("expected default bounds [0, 10], got %+v", st)
	}
}

func TestEngineRemovesDeletedSegments(t *testing.T) {
	h := newHarness(t, seg("A", 0, 5, 0), seg("B", 5, 8, 2))
	b := h.elements.bySource("B.mp4")
	if b == nil {
		t.Fatal("expected B preloaded")
	}

	if err := h.engine.SetSegments([]models.Segment{seg("A", 0, 5, 0)}); err != nil {
		t.Fatalf("SetSegments: %v", err)
	}
	b.mu.Lock()
	cleared := b.cleared
	b.mu.Unlock()
	if !cleared {
		t.Fatal("media of a removed segment must be released")
	}
	if st := h.engine.Status(); st.EndSec != 5 || st.Segments != 1 {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestEngineMediaErrorPublished(t *testing.T) {
	h := newHarness(t)
	errs := h.bus.Subscribe(events.EventMediaError)

	broken := seg("X", 0, 2, 0)
	broken.MediaRef = ""
	if err := h.engine.SetSegments([]models.Segment{broken}); err != nil {
		t.Fatalf("SetSegments: %v", err)
	}
	select {
	case p := <-errs:
		if p["segment_id"] != "X" || p["kind"] != "video" {
			t.Fatalf("unexpected payload %v", p)
		}
	default:
		t.Fatal("expected media.error event")
	}
}

func TestEngineDispose(t *testing.T) {
	h := newHarness(t, seg("A", 0, 5, 0))
	h.engine.Play()
	h.engine.Dispose()
	h.engine.Dispose()

	if h.engine.State() != playback.StateStopped {
		t.Fatalf("expected stopped after dispose, got %s", h.engine.State())
	}
	if err := h.engine.SetSegments(nil); !errors.Is(err, ErrDisposed) {
		t.Fatalf("expected ErrDisposed, got %v", err)
	}
	if err := h.engine.SetBounds(0, 1); !errors.Is(err, ErrDisposed) {
		t.Fatalf("expected ErrDisposed, got %v", err)
	}
	h.engine.Play()
	if h.sched.Pending() != 0 {
		t.Fatal("a disposed engine must not schedule ticks")
	}
	if h.elements.anyPlaying() {
		t.Fatal("dispose must release every element")
	}
}

type memorySource struct {
	projects map[string]models.Project
	segments map[string][]models.Segment
}

func (s *memorySource) GetProject(_ context.Context, id string) (models.Project, error) {
	p, ok := s.projects[id]
	if !ok {
		return models.Project{}, errors.New("not found")
	}
	return p, nil
}

func (s *memorySource) ListSegments(_ context.Context, id string) ([]models.Segment, error) {
	return s.segments[id], nil
}

func TestManagerLifecycle(t *testing.T) {
	src := &memorySource{
		projects: map[string]models.Project{"p1": {ID: "p1", FrameRate: "25"}, "p2": {ID: "p2"}},
		segments: map[string][]models.Segment{"p1": {seg("A", 0, 5, 0)}},
	}
	elements := &elementSet{}
	m := NewManager(ManagerOptions{
		Source:      src,
		DefaultRate: playback.FPS30,
		Scheduler:   func() playback.FrameScheduler { return playback.NewManualScheduler(time.Unix(0, 0)) },
		Factory:     elements.factory,
	}, zerolog.Nop())
	defer m.Shutdown()

	ctx := context.Background()
	e1, err := m.Ensure(ctx, "p1")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if again, _ := m.Ensure(ctx, "p1"); again != e1 {
		t.Fatal("Ensure must reuse the running engine")
	}
	if got := e1.Status().FrameRate; got != "25" {
		t.Fatalf("expected project frame rate 25, got %s", got)
	}
	e2, err := m.Ensure(ctx, "p2")
	if err != nil {
		t.Fatalf("Ensure p2: %v", err)
	}
	if got := e2.Status().FrameRate; got != "30" {
		t.Fatalf("expected default frame rate 30, got %s", got)
	}
	if _, err := m.Ensure(ctx, "missing"); err == nil {
		t.Fatal("expected error for unknown project")
	}

	src.segments["p1"] = []models.Segment{seg("A", 0, 5, 0), seg("B", 5, 9, 0)}
	if err := m.Reload(ctx, "p1"); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if e1.Status().TimelineEndSec != 9 {
		t.Fatal("reload must install the new segment list")
	}

	if err := m.Close("p1"); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := m.Get("p1"); !errors.Is(err, ErrEngineNotFound) {
		t.Fatalf("expected ErrEngineNotFound, got %v", err)
	}
	if err := m.Close("p1"); !errors.Is(err, ErrEngineNotFound) {
		t.Fatalf("expected ErrEngineNotFound on second close, got %v", err)
	}

	m.Shutdown()
	if m.Len() != 0 {
		t.Fatalf("expected no engines after shutdown, got %d", m.Len())
	}
}
