package tasks

import (
	"context"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/desertthunder/cutline/internal/models"
	"github.com/desertthunder/cutline/internal/shared"
	th "github.com/desertthunder/cutline/internal/testing"
)

func testProject(id string, segments int) *models.Project {
	p := &models.Project{ID: id, Name: "Project " + id, SourceVideoPath: "/videos/" + id + ".mp4"}
	for i := range segments {
		p.Segments = append(p.Segments, models.Segment{
			ID:        id + "-old-" + string(rune('a'+i)),
			ProjectID: id,
			MusicID:   "old",
			StartTime: float64(i * 10),
			EndTime:   float64(i*10 + 5),
			Status:    models.SegmentDetected,
			Type:      models.SegmentMusic,
		})
	}
	return p
}

func matches(ids ...string) []models.Segment {
	out := make([]models.Segment, 0, len(ids))
	for i, id := range ids {
		out = append(out, models.Segment{
			ID:         "new-" + id,
			MusicID:    id,
			StartTime:  float64(i * 30),
			EndTime:    float64(i*30 + 12),
			Confidence: 0.9,
			Status:     models.SegmentDetected,
			Type:       models.SegmentMusic,
		})
	}
	return out
}

type harness struct {
	c       *Coordinator
	eng     *th.FakeEngine
	store   *th.FakeStore
	results chan Result
}

func newHarness(t *testing.T, projects ...*models.Project) *harness {
	t.Helper()

	cfg := shared.DefaultConfig()
	cfg.Workspace.Dir = t.TempDir()
	cfg.Status.FlushIntervalMS = int(time.Hour / time.Millisecond)

	h := &harness{
		eng:     th.NewFakeEngine(),
		store:   th.NewFakeStore(projects...),
		results: make(chan Result, 16),
	}
	h.c = NewCoordinator(Options{
		Engine: h.eng,
		Events: h.eng,
		Store:  h.store,
		Config: cfg,
		Logger: shared.NewLogger(io.Discard),
	})
	sub := h.c.Subscribe(Listener{OnResult: func(r Result) { h.results <- r }})

	t.Cleanup(func() {
		for _, step := range []string{th.StepExtract, th.StepSeparate, th.StepMatch, th.StepDetect, th.StepExport} {
			h.eng.Release(step)
		}
		sub.Close()
		h.c.Close()
	})
	return h
}

// waitStep blocks until the fake engine enters step.
func (h *harness) waitStep(t *testing.T, step string) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case got := <-h.eng.Entered():
			if got == step {
				return
			}
		case <-timeout:
			t.Fatalf("engine never entered %s; calls: %v", step, h.eng.Calls())
		}
	}
}

func (h *harness) waitResult(t *testing.T) Result {
	t.Helper()
	select {
	case r := <-h.results:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("run never settled")
		return Result{}
	}
}

func TestRunPipeline(t *testing.T) {
	t.Run("foreground run persists through UpdateSegments", func(t *testing.T) {
		h := newHarness(t, testProject("p1", 0))
		h.eng.SetSegments(matches("m1", "m2"), nil)
		h.c.SwitchForeground("p1")

		segments, err := h.c.RunPipeline(context.Background(), "p1", "/videos/p1.mp4", nil)
		if err != nil {
			t.Fatalf("RunPipeline failed: %v", err)
		}
		if len(segments) != 2 {
			t.Fatalf("expected 2 segments, got %d", len(segments))
		}

		want := []string{"check:p1", "extract:p1", "separate:p1", "match:p1"}
		if got := h.eng.Calls(); !slices.Equal(got, want) {
			t.Errorf("expected calls %v, got %v", want, got)
		}

		saves, updates := h.store.Writes()
		if saves != 0 || updates != 1 {
			t.Errorf("expected one UpdateSegments and no SaveProject, got saves=%d updates=%d", saves, updates)
		}

		live := h.c.Live()
		if live.Processing {
			t.Error("expected processing cleared")
		}
		if live.AudioPath == "" || live.AccompanimentPath == "" {
			t.Errorf("expected artifact paths recorded, got %+v", live)
		}
		if live.ProcessingMessage != "Found 2 music segments" {
			t.Errorf("unexpected message %q", live.ProcessingMessage)
		}

		want2 := models.ProjectStatus{Stage: models.StageAnalyzed, Progress: 1}
		if got := h.c.Statuses()["p1"]; got != want2 {
			t.Errorf("expected %+v, got %+v", want2, got)
		}
	})

	t.Run("valid cache skips extract and separate", func(t *testing.T) {
		h := newHarness(t, testProject("p1", 0))
		h.eng.SetCache(models.CacheStatus{
			AudioValid:        true,
			AudioPath:         "/ws/temp/p1_audio.wav",
			SeparationValid:   true,
			VocalsPath:        "/ws/temp/p1_separated/v.wav",
			AccompanimentPath: "/ws/temp/p1_separated/i.wav",
		}, nil)

		if _, err := h.c.RunPipeline(context.Background(), "p1", "/videos/p1.mp4", nil); err != nil {
			t.Fatalf("RunPipeline failed: %v", err)
		}
		if h.eng.Called(th.StepExtract) != 0 || h.eng.Called(th.StepSeparate) != 0 {
			t.Errorf("expected cached stages skipped, calls: %v", h.eng.Calls())
		}
		if h.eng.Called(th.StepMatch) != 1 {
			t.Errorf("expected one match call, calls: %v", h.eng.Calls())
		}
	})

	t.Run("valid audio only skips extract", func(t *testing.T) {
		h := newHarness(t, testProject("p1", 0))
		h.eng.SetCache(models.CacheStatus{AudioValid: true, AudioPath: "/ws/temp/p1_audio.wav"}, nil)

		if _, err := h.c.RunPipeline(context.Background(), "p1", "/videos/p1.mp4", nil); err != nil {
			t.Fatalf("RunPipeline failed: %v", err)
		}
		if h.eng.Called(th.StepExtract) != 0 || h.eng.Called(th.StepSeparate) != 1 {
			t.Errorf("unexpected calls: %v", h.eng.Calls())
		}
	})

	t.Run("precheck error is a cache miss", func(t *testing.T) {
		h := newHarness(t, testProject("p1", 0))
		h.eng.SetCache(models.CacheStatus{AudioValid: true, AudioPath: "x"}, errors.New("stat failed"))

		if _, err := h.c.RunPipeline(context.Background(), "p1", "/videos/p1.mp4", nil); err != nil {
			t.Fatalf("RunPipeline failed: %v", err)
		}
		if h.eng.Called(th.StepExtract) != 1 {
			t.Errorf("expected extract to run, calls: %v", h.eng.Calls())
		}
	})

	t.Run("background result replaces segments and drops the cache entry", func(t *testing.T) {
		h := newHarness(t, testProject("p-42", 3), testProject("p-7", 0))
		h.eng.SetSegments(matches("m1", "m2"), nil)
		h.c.SwitchForeground("p-7")

		filter := &models.MusicFilter{UseCustomLibrary: true, MusicIDs: []string{"m1", "m2", "m1"}}
		if _, err := h.c.RunPipeline(context.Background(), "p-42", "/videos/p-42.mp4", filter); err != nil {
			t.Fatalf("RunPipeline failed: %v", err)
		}

		if h.c.registry.Cached("p-42") {
			t.Error("expected p-42 cache entry deleted")
		}

		stored := h.store.Project("p-42")
		if len(stored.Segments) != 2 {
			t.Fatalf("expected the 2 new segments only, got %d", len(stored.Segments))
		}
		for _, s := range stored.Segments {
			if s.MusicID == "old" {
				t.Errorf("old segment survived: %+v", s)
			}
		}

		if ids := h.eng.MusicIDs(); len(ids) != 1 || !slices.Equal(ids[0], []string{"m1", "m2"}) {
			t.Errorf("expected de-duplicated library filter, got %v", ids)
		}
		if saves, updates := h.store.Writes(); saves != 1 || updates != 0 {
			t.Errorf("expected one SaveProject, got saves=%d updates=%d", saves, updates)
		}
		if h.c.Foreground() != "p-7" || h.c.Live().Busy() {
			t.Error("expected foreground project untouched")
		}
	})

	t.Run("switching away while persisting drops the cache entry", func(t *testing.T) {
		h := newHarness(t, testProject("p1", 0), testProject("p2", 0))
		h.eng.SetSegments(matches("m1"), nil)
		h.c.SwitchForeground("p1")
		h.store.Hook(func(method, projectID string) {
			if method == "UpdateSegments" && projectID == "p1" {
				h.c.SwitchForeground("p2")
			}
		})

		if _, err := h.c.RunPipeline(context.Background(), "p1", "/videos/p1.mp4", nil); err != nil {
			t.Fatalf("RunPipeline failed: %v", err)
		}
		if got := len(h.store.Project("p1").Segments); got != 1 {
			t.Fatalf("expected 1 persisted segment, got %d", got)
		}
		if h.c.Foreground() != "p2" {
			t.Fatalf("expected p2 in the foreground, got %q", h.c.Foreground())
		}
		if h.c.registry.Cached("p1") {
			t.Error("expected p1 cache entry deleted after its result was persisted")
		}
	})

	t.Run("engine failure is a StageError", func(t *testing.T) {
		h := newHarness(t, testProject("p1", 0))
		boom := errors.New("matcher crashed")
		h.eng.Fail(th.StepMatch, boom)
		h.c.SwitchForeground("p1")

		_, err := h.c.RunPipeline(context.Background(), "p1", "/videos/p1.mp4", nil)

		var stageErr *StageError
		if !errors.As(err, &stageErr) {
			t.Fatalf("expected *StageError, got %v", err)
		}
		if stageErr.Stage != StepMatch || !errors.Is(err, boom) {
			t.Errorf("unexpected error %v", err)
		}
		if errors.Is(err, shared.ErrCancelled) {
			t.Error("failure must not be reported as cancellation")
		}
		if h.c.Live().Processing {
			t.Error("expected processing cleared")
		}
		if _, updates := h.store.Writes(); updates != 0 {
			t.Error("expected nothing persisted")
		}
	})

	t.Run("failed save fails the run", func(t *testing.T) {
		h := newHarness(t, testProject("p1", 0))
		h.store.Fail(nil, errors.New("disk full"), nil)
		h.c.SwitchForeground("p1")

		_, err := h.c.RunPipeline(context.Background(), "p1", "/videos/p1.mp4", nil)

		var stageErr *StageError
		if !errors.As(err, &stageErr) || stageErr.Stage != StepPersist {
			t.Fatalf("expected persisting StageError, got %v", err)
		}
	})

	t.Run("missing project id", func(t *testing.T) {
		h := newHarness(t)
		if _, err := h.c.RunPipeline(context.Background(), "", "/v.mp4", nil); !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected ErrMissingArgument, got %v", err)
		}
	})
}

func TestStartGuard(t *testing.T) {
	t.Run("foreground project", func(t *testing.T) {
		h := newHarness(t, testProject("p1", 0))
		h.c.SwitchForeground("p1")
		h.eng.Hold(th.StepSeparate)

		if err := h.c.StartPipeline(context.Background(), "p1", "/videos/p1.mp4", nil); err != nil {
			t.Fatalf("StartPipeline failed: %v", err)
		}
		h.waitStep(t, th.StepSeparate)

		if !h.c.Live().Processing {
			t.Fatal("expected processing=true while separating")
		}
		if _, err := h.c.RunPipeline(context.Background(), "p1", "/videos/p1.mp4", nil); !errors.Is(err, shared.ErrTaskConflict) {
			t.Errorf("expected ErrTaskConflict, got %v", err)
		}
		if err := h.c.StartDetection(context.Background(), "p1", "/videos/p1.mp4"); !errors.Is(err, shared.ErrTaskConflict) {
			t.Errorf("expected detection to be rejected, got %v", err)
		}
		if n := h.eng.Called(th.StepExtract); n != 1 {
			t.Errorf("expected a single engine run, got %d extract calls", n)
		}

		h.eng.Release(th.StepSeparate)
		if r := h.waitResult(t); r.Err != nil {
			t.Errorf("expected success, got %v", r.Err)
		}
	})

	t.Run("cached project", func(t *testing.T) {
		h := newHarness(t, testProject("p1", 0), testProject("p2", 0))
		h.c.SwitchForeground("p2")
		h.eng.Hold(th.StepExtract)

		if err := h.c.StartPipeline(context.Background(), "p1", "/videos/p1.mp4", nil); err != nil {
			t.Fatalf("StartPipeline failed: %v", err)
		}
		h.waitStep(t, th.StepExtract)

		if st, ok := h.c.State("p1"); !ok || !st.Processing {
			t.Fatalf("expected cached processing state, got %+v", st)
		}
		if err := h.c.StartPipeline(context.Background(), "p1", "/videos/p1.mp4", nil); !errors.Is(err, shared.ErrTaskConflict) {
			t.Errorf("expected ErrTaskConflict, got %v", err)
		}
		if err := h.c.StartPipeline(context.Background(), "p2", "/videos/p2.mp4", nil); err != nil {
			t.Errorf("expected another project to start, got %v", err)
		}

		h.eng.Release(th.StepExtract)
		h.waitResult(t)
		h.waitResult(t)
	})

	t.Run("detection blocks the pipeline", func(t *testing.T) {
		h := newHarness(t, testProject("p1", 0))
		h.eng.Hold(th.StepDetect)

		if err := h.c.StartDetection(context.Background(), "p1", "/videos/p1.mp4"); err != nil {
			t.Fatalf("StartDetection failed: %v", err)
		}
		h.waitStep(t, th.StepDetect)

		if _, err := h.c.RunPipeline(context.Background(), "p1", "/videos/p1.mp4", nil); !errors.Is(err, shared.ErrTaskConflict) {
			t.Errorf("expected ErrTaskConflict, got %v", err)
		}
		if h.eng.Called(th.StepCheck) != 0 {
			t.Error("rejected start reached the engine")
		}

		h.eng.Release(th.StepDetect)
		h.waitResult(t)
	})
}

func TestCancelPipeline(t *testing.T) {
	t.Run("project with segments resolves to analyzed", func(t *testing.T) {
		h := newHarness(t, testProject("p1", 2))
		h.c.SwitchForeground("p1")
		h.eng.Hold(th.StepSeparate)

		h.c.StartPipeline(context.Background(), "p1", "/videos/p1.mp4", nil)
		h.waitStep(t, th.StepSeparate)

		h.c.Flush()
		if got := h.c.Statuses()["p1"]; got.Stage != models.StageSeparating {
			t.Fatalf("expected separating before cancel, got %+v", got)
		}

		if err := h.c.CancelPipeline("p1"); err != nil {
			t.Fatalf("CancelPipeline failed: %v", err)
		}

		r := h.waitResult(t)
		if !errors.Is(r.Err, shared.ErrCancelled) {
			t.Fatalf("expected cancellation, got %v", r.Err)
		}
		var stageErr *StageError
		if errors.As(r.Err, &stageErr) {
			t.Error("cancellation must not be a StageError")
		}

		if h.c.Live().Processing {
			t.Error("expected processing cleared after settle")
		}
		want := models.ProjectStatus{Stage: models.StageAnalyzed, Progress: 1}
		if got := h.c.Statuses()["p1"]; got != want {
			t.Errorf("expected %+v, got %+v", want, got)
		}
		if !slices.Contains(h.eng.Calls(), "cancel-processing:p1") {
			t.Errorf("expected stop request forwarded, calls: %v", h.eng.Calls())
		}
		if h.eng.Called(th.StepMatch) != 0 {
			t.Error("expected match to be skipped")
		}
		if len(h.store.Project("p1").Segments) != 2 {
			t.Error("expected prior segments kept")
		}
		if err := h.c.CancelPipeline("p1"); !errors.Is(err, shared.ErrNoActiveTask) {
			t.Errorf("expected ErrNoActiveTask after settle, got %v", err)
		}
	})

	t.Run("project without segments resolves to idle", func(t *testing.T) {
		h := newHarness(t, testProject("p1", 0))
		h.eng.Hold(th.StepSeparate)

		h.c.StartPipeline(context.Background(), "p1", "/videos/p1.mp4", nil)
		h.waitStep(t, th.StepSeparate)
		h.c.Flush()

		if err := h.c.CancelPipeline("p1"); err != nil {
			t.Fatalf("CancelPipeline failed: %v", err)
		}
		if r := h.waitResult(t); !errors.Is(r.Err, shared.ErrCancelled) {
			t.Fatalf("expected cancellation, got %v", r.Err)
		}

		if _, ok := h.c.Statuses()["p1"]; ok {
			t.Errorf("expected p1 restored to idle, got %v", h.c.Statuses())
		}
		if st, _ := h.c.State("p1"); st.Processing {
			t.Error("expected cached processing cleared")
		}
	})

	t.Run("failed stop request keeps the run going", func(t *testing.T) {
		h := newHarness(t, testProject("p1", 0))
		h.eng.FailStop(errors.New("engine unreachable"))
		h.eng.Hold(th.StepSeparate)

		h.c.StartPipeline(context.Background(), "p1", "/videos/p1.mp4", nil)
		h.waitStep(t, th.StepSeparate)

		if err := h.c.CancelPipeline("p1"); err == nil {
			t.Fatal("expected the stop failure to be surfaced")
		}
		if h.c.gate.Cancelling("p1", KindMusic) {
			t.Error("expected marker cleared after failed stop")
		}

		h.eng.Release(th.StepSeparate)
		if r := h.waitResult(t); r.Err != nil {
			t.Errorf("expected run to finish normally, got %v", r.Err)
		}
	})

	t.Run("idle project", func(t *testing.T) {
		h := newHarness(t, testProject("p1", 0))
		if err := h.c.CancelPipeline("p1"); !errors.Is(err, shared.ErrNoActiveTask) {
			t.Errorf("expected ErrNoActiveTask, got %v", err)
		}
		if len(h.eng.Calls()) != 0 {
			t.Error("expected no stop request for an idle project")
		}
	})
}

func TestDetection(t *testing.T) {
	t.Run("replaces the entire segment list", func(t *testing.T) {
		h := newHarness(t, testProject("p1", 3))
		persons := []models.Segment{{StartTime: 1, EndTime: 4, Confidence: 0.8, Status: models.SegmentDetected, Type: models.SegmentPerson}}
		h.eng.SetSegments(nil, persons)
		h.c.SwitchForeground("p1")

		segments, err := h.c.RunDetection(context.Background(), "p1", "/videos/p1.mp4")
		if err != nil {
			t.Fatalf("RunDetection failed: %v", err)
		}
		if len(segments) != 1 {
			t.Fatalf("expected 1 segment, got %d", len(segments))
		}

		stored := h.store.Project("p1")
		if len(stored.Segments) != 1 || stored.Segments[0].Type != models.SegmentPerson {
			t.Errorf("expected only the person segment, got %+v", stored.Segments)
		}

		live := h.c.Live()
		if live.DetectionProcessing || live.DetectionMessage != "Found 1 person segment" {
			t.Errorf("unexpected live state %+v", live)
		}
	})

	t.Run("opening the project while it settles leaves it startable", func(t *testing.T) {
		h := newHarness(t, testProject("p1", 2))
		h.eng.SetSegments(matches("m1"), []models.Segment{{StartTime: 1, EndTime: 4, Type: models.SegmentPerson}})
		h.eng.Hold(th.StepDetect)
		h.store.Hook(func(method, projectID string) {
			if method == "CountSegments" && projectID == "p1" {
				h.c.SwitchForeground("p1")
			}
		})

		if err := h.c.StartDetection(context.Background(), "p1", "/videos/p1.mp4"); err != nil {
			t.Fatalf("StartDetection failed: %v", err)
		}
		h.waitStep(t, th.StepDetect)
		h.c.Flush()
		if st := h.c.Statuses()["p1"]; st.Stage != models.StageDetecting {
			t.Fatalf("expected published detecting status, got %+v", st)
		}

		h.eng.Release(th.StepDetect)
		if r := h.waitResult(t); r.Err != nil {
			t.Fatalf("detection failed: %v", r.Err)
		}
		h.c.Wait()

		if h.c.Foreground() != "p1" {
			t.Fatalf("expected p1 in the foreground, got %q", h.c.Foreground())
		}
		if live := h.c.Live(); live.Busy() {
			t.Fatalf("expected idle live state, got %+v", live)
		}
		if st := h.c.Statuses()["p1"]; st.Stage != models.StageAnalyzed {
			t.Errorf("expected analyzed status, got %+v", st)
		}

		h.store.Hook(nil)
		if _, err := h.c.RunPipeline(context.Background(), "p1", "/videos/p1.mp4", nil); err != nil {
			t.Errorf("expected the project to start again, got %v", err)
		}
	})

	t.Run("a settled run's status reconstructs nothing", func(t *testing.T) {
		h := newHarness(t, testProject("p1", 0), testProject("p2", 0))
		h.eng.Hold(th.StepDetect)
		h.eng.Fail(th.StepDetect, errors.New("detector crashed"))
		h.c.SwitchForeground("p2")

		h.c.StartDetection(context.Background(), "p1", "/videos/p1.mp4")
		h.waitStep(t, th.StepDetect)
		h.c.Flush()
		if _, ok := h.c.activeStatus("p1"); !ok {
			t.Fatal("expected the running detection's status to be usable")
		}

		h.eng.Release(th.StepDetect)
		if r := h.waitResult(t); r.Err == nil {
			t.Fatal("expected the detection to fail")
		}
		h.c.Wait()
		h.c.registry.Forget("p1")

		if st := h.c.Statuses()["p1"]; st.Stage != models.StageDetecting {
			t.Fatalf("expected the stale detecting status to remain published, got %+v", st)
		}
		if _, ok := h.c.activeStatus("p1"); ok {
			t.Error("expected no usable status once the run settled")
		}
		if live := h.c.SwitchForeground("p1"); live.Busy() {
			t.Errorf("expected idle live state, got %+v", live)
		}
		if err := h.c.StartDetection(context.Background(), "p1", "/videos/p1.mp4"); err != nil {
			t.Errorf("expected the project to start again, got %v", err)
		}
	})

	t.Run("cancel", func(t *testing.T) {
		h := newHarness(t, testProject("p1", 0))
		h.eng.Hold(th.StepDetect)

		h.c.StartDetection(context.Background(), "p1", "/videos/p1.mp4")
		h.waitStep(t, th.StepDetect)

		if err := h.c.CancelDetection("p1"); err != nil {
			t.Fatalf("CancelDetection failed: %v", err)
		}
		if r := h.waitResult(t); !errors.Is(r.Err, shared.ErrCancelled) || r.Kind != KindDetection {
			t.Fatalf("expected detection cancellation, got %+v", r)
		}
		if !slices.Contains(h.eng.Calls(), "cancel-detection:p1") {
			t.Errorf("expected detection stop forwarded, calls: %v", h.eng.Calls())
		}
		if err := h.c.CancelPipeline("p1"); !errors.Is(err, shared.ErrNoActiveTask) {
			t.Errorf("expected no music run, got %v", err)
		}
	})
}

func TestExport(t *testing.T) {
	t.Run("exports the stored segments and marks the project exported", func(t *testing.T) {
		p := testProject("p1", 2)
		p.Segments[1].Status = models.SegmentRemoved
		h := newHarness(t, p)
		h.c.SwitchForeground("p1")

		files, err := h.c.RunExport(context.Background(), "p1", "/out/p1_cut.mp4", false)
		if err != nil {
			t.Fatalf("RunExport failed: %v", err)
		}
		if !slices.Equal(files, []string{"/out/p1_cut.mp4"}) {
			t.Errorf("unexpected files %v", files)
		}

		exports := h.eng.Exports()
		if len(exports) != 1 || len(exports[0].Segments) != 2 || exports[0].VideoPath != "/videos/p1.mp4" {
			t.Fatalf("unexpected export requests %+v", exports)
		}

		if st := h.c.Statuses()["p1"]; st.Stage != models.StageExported {
			t.Errorf("expected exported status, got %+v", st)
		}
		live := h.c.Live()
		if live.Busy() || live.ProcessingMessage != "Exported 1 file" {
			t.Errorf("unexpected live state %+v", live)
		}
		if saves, updates := h.store.Writes(); saves != 0 || updates != 0 {
			t.Errorf("expected no segment writes, got saves=%d updates=%d", saves, updates)
		}
	})

	t.Run("separate files in the background", func(t *testing.T) {
		h := newHarness(t, testProject("p1", 3), testProject("p2", 0))
		h.c.SwitchForeground("p2")

		if err := h.c.StartExport(context.Background(), "p1", "/out/clips", true); err != nil {
			t.Fatalf("StartExport failed: %v", err)
		}
		r := h.waitResult(t)
		if r.Err != nil || len(r.Files) != 3 || r.Kind != KindMusic {
			t.Fatalf("unexpected result %+v", r)
		}
		h.c.Wait()
		if h.c.registry.Cached("p1") {
			t.Error("expected p1 cache entry deleted")
		}
	})

	t.Run("cancel restores the analyzed status", func(t *testing.T) {
		h := newHarness(t, testProject("p1", 1))
		h.eng.Hold(th.StepExport)

		if err := h.c.StartExport(context.Background(), "p1", "/out/p1.mp4", false); err != nil {
			t.Fatalf("StartExport failed: %v", err)
		}
		h.waitStep(t, th.StepExport)

		if err := h.c.CancelPipeline("p1"); err != nil {
			t.Fatalf("CancelPipeline failed: %v", err)
		}
		if r := h.waitResult(t); !errors.Is(r.Err, shared.ErrCancelled) || r.Files != nil {
			t.Fatalf("expected export cancellation, got %+v", r)
		}
		h.c.Wait()
		if st := h.c.Statuses()["p1"]; st.Stage != models.StageAnalyzed {
			t.Errorf("expected analyzed status, got %+v", st)
		}
	})

	t.Run("refused while a pipeline runs", func(t *testing.T) {
		h := newHarness(t, testProject("p1", 0))
		h.eng.Hold(th.StepExtract)

		h.c.StartPipeline(context.Background(), "p1", "/videos/p1.mp4", nil)
		h.waitStep(t, th.StepExtract)

		if _, err := h.c.RunExport(context.Background(), "p1", "/out/p1.mp4", false); !errors.Is(err, shared.ErrTaskConflict) {
			t.Errorf("expected ErrTaskConflict, got %v", err)
		}
		if len(h.eng.Exports()) != 0 {
			t.Error("expected no engine call")
		}
	})

	t.Run("engine failure is a StageError", func(t *testing.T) {
		h := newHarness(t, testProject("p1", 1))
		h.eng.Fail(th.StepExport, errors.New("no segments"))

		_, err := h.c.RunExport(context.Background(), "p1", "/out/p1.mp4", false)
		var stageErr *StageError
		if !errors.As(err, &stageErr) || stageErr.Stage != StepExport {
			t.Fatalf("expected StageError while exporting, got %v", err)
		}
	})

	t.Run("unknown project", func(t *testing.T) {
		h := newHarness(t)
		if _, err := h.c.RunExport(context.Background(), "nope", "/out/x.mp4", false); !errors.Is(err, shared.ErrProjectNotFound) {
			t.Errorf("expected ErrProjectNotFound, got %v", err)
		}
		if _, err := h.c.RunExport(context.Background(), "", "/out/x.mp4", false); !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected ErrMissingArgument, got %v", err)
		}
	})
}

func TestSwitchForegroundDuringRun(t *testing.T) {
	h := newHarness(t, testProject("p1", 0), testProject("p2", 0))
	h.eng.SetSegments(matches("m1"), nil)
	h.eng.Hold(th.StepMatch)

	live := make(chan models.ProcessingState, 64)
	sub := h.c.Subscribe(Listener{OnLive: func(s models.ProcessingState) { live <- s }})
	defer sub.Close()

	h.c.SwitchForeground("p2")
	h.c.StartPipeline(context.Background(), "p1", "/videos/p1.mp4", nil)
	h.waitStep(t, th.StepMatch)

	st := h.c.SwitchForeground("p1")
	if !st.Processing || st.AccompanimentPath == "" {
		t.Fatalf("expected in-flight state moved to foreground, got %+v", st)
	}
	if h.c.registry.Cached("p1") {
		t.Error("p1 must not be cached while foreground")
	}
	assertExclusive(t, h.c.registry)

	h.eng.Release(th.StepMatch)
	h.waitResult(t)

	if h.c.Live().Processing {
		t.Error("expected live processing cleared")
	}
	if _, updates := h.store.Writes(); updates != 1 {
		t.Errorf("expected foreground persistence, got %d updates", updates)
	}

	select {
	case <-live:
	default:
		t.Error("expected live-state notifications")
	}
}

func TestProgressMirroring(t *testing.T) {
	h := newHarness(t, testProject("p1", 0))
	h.c.SwitchForeground("p1")
	h.eng.Hold(th.StepSeparate)

	h.c.StartPipeline(context.Background(), "p1", "/videos/p1.mp4", nil)
	h.waitStep(t, th.StepSeparate)

	live := h.c.Live()
	if math.Abs(live.ProcessingProgress-0.4) > 1e-9 {
		t.Errorf("expected separation at 50%% to map to 0.4 overall, got %v", live.ProcessingProgress)
	}
	if live.ProcessingMessage != "Separating vocals: 50%" {
		t.Errorf("unexpected message %q", live.ProcessingMessage)
	}

	h.eng.Release(th.StepSeparate)
	h.waitResult(t)
}

func TestForget(t *testing.T) {
	h := newHarness(t, testProject("p1", 1))
	h.eng.SetSegments(matches("m1"), nil)

	if _, err := h.c.RunPipeline(context.Background(), "p1", "/videos/p1.mp4", nil); err != nil {
		t.Fatalf("RunPipeline failed: %v", err)
	}
	if err := h.c.Forget("p1"); err != nil {
		t.Fatalf("Forget failed: %v", err)
	}
	if _, ok := h.c.Statuses()["p1"]; ok {
		t.Error("expected status cleared")
	}
	if h.c.registry.Cached("p1") {
		t.Error("expected cache entry cleared")
	}
}

func TestRunBatch(t *testing.T) {
	projects := []*models.Project{testProject("p1", 0), testProject("p2", 0), testProject("p3", 0)}
	h := newHarness(t, projects...)
	h.eng.SetSegments(matches("m1"), nil)

	manifest := filepath.Join(t.TempDir(), "batch", "manifest.json")
	progress := make(chan BatchUpdate, 8)

	result, err := h.c.RunBatch(context.Background(), progress, projects, BatchOpts{NumWorkers: 2, ManifestPath: manifest})
	if err != nil {
		t.Fatalf("RunBatch failed: %v", err)
	}
	if result.Total != 3 || result.Succeeded != 3 || result.Failed != 0 {
		t.Errorf("unexpected result %+v", result)
	}
	if len(progress) != 3 {
		t.Errorf("expected 3 progress updates, got %d", len(progress))
	}
	if _, err := os.Stat(manifest); err != nil {
		t.Errorf("expected manifest written: %v", err)
	}

	for _, p := range projects {
		if len(h.store.Project(p.ID).Segments) != 1 {
			t.Errorf("expected %s persisted", p.ID)
		}
	}
}

func TestBands(t *testing.T) {
	tc := []struct {
		kind models.EventKind
		p    float64
		want float64
	}{
		{models.ExtractProgress, 0.5, 0.1},
		{models.ExtractProgress, 1, 0.2},
		{models.SeparationQueued, 0.7, 0.2},
		{models.SeparationProgress, 1, 0.6},
		{models.MatchingProgress, 0, 0.6},
		{models.MatchingProgress, 1, 1},
		{models.DetectionProgress, 0.3, 0.3},
		{models.MatchingProgress, 2, 1},
	}

	for _, tt := range tc {
		t.Run(tt.kind.String(), func(t *testing.T) {
			if got := overall(tt.kind, tt.p); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("overall(%s, %v) = %v, want %v", tt.kind, tt.p, got, tt.want)
			}
		})
	}
}
