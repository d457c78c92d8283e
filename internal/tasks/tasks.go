package tasks

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/cutline/internal/formatter"
	"github.com/desertthunder/cutline/internal/models"
	"github.com/desertthunder/cutline/internal/shared"
)

// Engine is the processing engine the coordinator drives.
type Engine interface {
	CheckCache(ctx context.Context, projectID, videoPath, modelID string) (models.CacheStatus, error)
	ExtractAudio(ctx context.Context, videoPath, outputPath, projectID string) (string, error)
	SeparateVocals(ctx context.Context, audioPath, outputDir, accel, projectID string) (models.Separation, error)
	MatchSegments(ctx context.Context, accompanimentPath, projectID string, minConfidence *float64, musicIDs []string) ([]models.Segment, error)
	DetectPersons(ctx context.Context, projectID, videoPath, outputDir, accel string) ([]models.Segment, error)
	ExportVideo(ctx context.Context, req models.VideoExport) ([]string, error)

	// CancelProcessing and CancelDetection are best-effort stop requests.
	CancelProcessing(projectID string) error
	CancelDetection(projectID string) error
}

// ProjectStore is the durable project storage.
type ProjectStore interface {
	LoadProject(id string) (*models.Project, error)
	SaveProject(project *models.Project) error
	UpdateSegments(projectID string, segments []models.Segment) error
	GetProjects() ([]*models.Project, error)
	CountSegments(projectID string) (int, error)
}

// Options configures a [Coordinator].
type Options struct {
	Engine Engine
	Events EventSource
	Store  ProjectStore
	Config *shared.Config
	Logger *log.Logger
}

// Coordinator is the surface the view layer talks to.
//
// It owns the [Registry] of processing states, the cancellation [Gate] and the status
// [Aggregator], and runs music pipelines and detections against the [Engine].
type Coordinator struct {
	engine Engine
	store  ProjectStore
	cfg    *shared.Config
	logger *log.Logger

	registry   *Registry
	gate       *Gate
	aggregator *Aggregator
	own        *Subscription

	// startMu makes the start guard and run registration one atomic step.
	startMu sync.Mutex

	mu        sync.Mutex
	listeners map[int]Listener
	nextID    int
	wg        sync.WaitGroup
}

// NewCoordinator wires a Coordinator and subscribes it to the engine's event stream.
func NewCoordinator(opts Options) *Coordinator {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	logger := shared.WithLogger(opts.Logger, "component", "coordinator")

	c := &Coordinator{
		engine:     opts.Engine,
		store:      opts.Store,
		cfg:        opts.Config,
		logger:     logger,
		registry:   NewRegistry(),
		gate:       NewGate(),
		aggregator: NewAggregator(opts.Events, opts.Config.FlushInterval(), logger),
		listeners:  make(map[int]Listener),
	}
	c.own = c.aggregator.Subscribe(Listener{OnEvent: c.mirror})
	return c
}

// Close detaches the coordinator from the event stream after waiting for started runs to settle.
func (c *Coordinator) Close() {
	c.wg.Wait()
	c.own.Close()
}

// Wait blocks until every run started with StartPipeline or StartDetection has settled.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Live returns the foreground project's processing state.
func (c *Coordinator) Live() models.ProcessingState {
	return c.registry.Live()
}

// Foreground returns the id of the foreground project.
func (c *Coordinator) Foreground() string {
	return c.registry.Foreground()
}

// State returns projectID's processing state from the live fields or the cache.
func (c *Coordinator) State(projectID string) (models.ProcessingState, bool) {
	return c.registry.State(projectID)
}

// Statuses returns the last published status map.
func (c *Coordinator) Statuses() models.Statuses {
	return c.aggregator.Statuses()
}

// Flush publishes pending status changes immediately.
func (c *Coordinator) Flush() bool {
	return c.aggregator.Flush()
}

// SwitchForeground makes projectID the foreground project and returns its live state.
func (c *Coordinator) SwitchForeground(projectID string) models.ProcessingState {
	live := c.registry.SwitchForeground(projectID, c.activeStatus)
	c.logger.Debug("foreground switched", "project", projectID, "busy", live.Busy())
	c.notifyLive(live)
	return live
}

// activeStatus returns projectID's published status only while a run of the matching kind
// holds the gate. A status left behind by a settled run reconstructs nothing.
func (c *Coordinator) activeStatus(projectID string) (models.ProjectStatus, bool) {
	ps, ok := c.aggregator.Status(projectID)
	if !ok || !ps.Stage.Active() {
		return ps, false
	}
	kind := KindMusic
	if ps.Stage == models.StageDetecting {
		kind = KindDetection
	}
	if !c.gate.Active(projectID, kind) {
		return ps, false
	}
	return ps, true
}

// Subscribe registers l for status, event, reload, live-state and result notifications.
func (c *Coordinator) Subscribe(l Listener) *Subscription {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = l
	c.mu.Unlock()

	agg := c.aggregator.Subscribe(Listener{OnStatus: l.OnStatus, OnEvent: l.OnEvent, OnReload: l.OnReload})
	return &Subscription{close: func() {
		agg.Close()
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}}
}

// Forget clears a deleted project's status and cached state. It fails while the project is running.
func (c *Coordinator) Forget(projectID string) error {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	if c.gate.Active(projectID, KindMusic) || c.gate.Active(projectID, KindDetection) || c.registry.Busy(projectID) {
		return fmt.Errorf("%w: project %s is processing", shared.ErrTaskConflict, projectID)
	}
	c.registry.Forget(projectID)
	c.aggregator.Clear(projectID)
	return nil
}

// CancelPipeline requests cancellation of projectID's music pipeline.
func (c *Coordinator) CancelPipeline(projectID string) error {
	c.logger.Info("cancelling pipeline", "project", projectID)
	return c.gate.Cancel(projectID, KindMusic, c.engine.CancelProcessing)
}

// CancelDetection requests cancellation of projectID's person detection.
func (c *Coordinator) CancelDetection(projectID string) error {
	c.logger.Info("cancelling detection", "project", projectID)
	return c.gate.Cancel(projectID, KindDetection, c.engine.CancelDetection)
}

// begin is the start guard shared by both run kinds. On success the returned context is
// cancelled by [Gate.Cancel] or when the run settles.
func (c *Coordinator) begin(ctx context.Context, projectID string, kind Kind, filter *models.MusicFilter) (context.Context, error) {
	if projectID == "" {
		return nil, fmt.Errorf("%w: project id is required", shared.ErrMissingArgument)
	}

	c.startMu.Lock()
	defer c.startMu.Unlock()

	if c.registry.Busy(projectID) {
		return nil, fmt.Errorf("%w: project %s is already processing", shared.ErrTaskConflict, projectID)
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := c.gate.Begin(projectID, kind, cancel); err != nil {
		cancel()
		return nil, err
	}

	st, foreground, err := c.registry.Begin(projectID, kind, filter)
	if err != nil {
		c.gate.Settle(projectID, kind)
		return nil, err
	}
	if foreground {
		c.notifyLive(st)
	}

	c.logger.Info("run started", "project", projectID, "kind", kind)
	return runCtx, nil
}

// settle ends a segment-producing run and delivers its [Result].
func (c *Coordinator) settle(projectID string, kind Kind, step string, segments []models.Segment, err error) ([]models.Segment, error) {
	err = c.finish(projectID, kind, step, formatter.Done(len(segments), segmentType(kind)), err)
	c.notifyResult(Result{ProjectID: projectID, Kind: kind, Segments: segments, Err: err})
	if err != nil {
		return nil, err
	}
	return segments, nil
}

// finish classifies err, releases the gate, clears the processing flag and, on cancellation,
// restores the project's status from its durable segments. It returns the classified error.
//
// The gate is released before the flag so a foreground switch in between finds the cache entry
// still busy rather than reconstructing from a stale status. A successful run has persisted its
// output, so its cache entry is dropped if the project is in the background when it finishes.
func (c *Coordinator) finish(projectID string, kind Kind, step, message string, err error) error {
	logger := c.logger.With("project", projectID, "kind", kind)

	cancelled := false
	switch {
	case err == nil:
	case step != StepPersist && (c.gate.Cancelling(projectID, kind) || isCancellation(err)):
		cancelled = true
		err = fmt.Errorf("%w: %s run for project %s stopped while %s", shared.ErrCancelled, kind, projectID, step)
	default:
		err = &StageError{ProjectID: projectID, Kind: kind, Stage: step, Err: err}
	}
	if err != nil {
		message = ""
	}

	c.gate.Settle(projectID, kind)
	if st, foreground := c.registry.Finish(projectID, kind, message, err == nil); foreground {
		c.notifyLive(st)
	}

	switch {
	case cancelled:
		c.restoreStatus(projectID)
		logger.Info("run cancelled", "step", step)
	case err != nil:
		logger.Error("run failed", "step", step, "error", err)
	default:
		logger.Info("run complete", "step", step)
	}
	return err
}

// restoreStatus resolves projectID's status to analyzed when it has segments, else idle. It runs
// after a cancellation and before a successful detection settles.
func (c *Coordinator) restoreStatus(projectID string) {
	n, err := c.store.CountSegments(projectID)
	if err != nil {
		c.logger.Warn("failed to count segments, restoring idle", "project", projectID, "error", err)
	}
	if err == nil && n > 0 {
		c.aggregator.SetCompleted(projectID, models.StageAnalyzed)
		return
	}
	c.aggregator.Clear(projectID)
}

// persist writes segments as projectID's entire segment list. The foreground project writes
// through its segments; a background project is loaded and saved whole.
func (c *Coordinator) persist(projectID string, segments []models.Segment) error {
	if c.registry.Foreground() == projectID {
		return c.store.UpdateSegments(projectID, segments)
	}

	project, err := c.store.LoadProject(projectID)
	if err != nil {
		return err
	}
	project.Segments = segments
	return c.store.SaveProject(project)
}

// mirror copies raw engine progress into the owning project's processing state.
func (c *Coordinator) mirror(ev models.Event) {
	kind := kindOf(ev.Kind)
	if !c.gate.Active(ev.ProjectID, kind) {
		return
	}

	st, foreground, ok := c.registry.updateExisting(ev.ProjectID, func(s *models.ProcessingState) {
		stage := ev.Kind.Stage()
		switch kind {
		case KindDetection:
			if !s.DetectionProcessing {
				return
			}
			s.DetectionProgress = clamp(ev.Progress)
			s.DetectionMessage = formatter.Progress(stage, ev.Progress)
		default:
			if !s.Processing {
				return
			}
			s.ProcessingProgress = overall(ev.Kind, ev.Progress)
			s.ProcessingMessage = formatter.Progress(stage, ev.Progress)
		}
	})
	if ok && foreground {
		c.notifyLive(st)
	}
}

// update applies fn to projectID's state and notifies listeners when it is in the foreground.
func (c *Coordinator) update(projectID string, fn func(*models.ProcessingState)) {
	if st, foreground := c.registry.Update(projectID, fn); foreground {
		c.notifyLive(st)
	}
}

func (c *Coordinator) listenerSnapshot() []Listener {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		out = append(out, l)
	}
	return out
}

func (c *Coordinator) notifyLive(st models.ProcessingState) {
	for _, l := range c.listenerSnapshot() {
		if l.OnLive != nil {
			l.OnLive(st.Clone())
		}
	}
}

func (c *Coordinator) notifyResult(r Result) {
	for _, l := range c.listenerSnapshot() {
		if l.OnResult != nil {
			l.OnResult(r)
		}
	}
}

func segmentType(kind Kind) models.SegmentType {
	if kind == KindDetection {
		return models.SegmentPerson
	}
	return models.SegmentMusic
}
