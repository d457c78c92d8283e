package tasks

import (
	"bytes"
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/cutline/internal/models"
)

// EventSource is the push-event channel of the processing engine.
type EventSource interface {
	Subscribe(kind models.EventKind, handler func(models.Event)) func()
}

// Aggregator coalesces bursty per-project engine events into a deduplicated status feed
// published at most once per flush interval.
//
// It owns two private maps keyed by project id: buffer holds the latest in-flight
// (stage, progress) pair and completed holds the last terminal stage. Subscriptions are
// reference counted; the engine handlers and the flush ticker exist only while at least one
// [Subscription] is open.
type Aggregator struct {
	source   EventSource
	interval time.Duration
	logger   *log.Logger

	// lifecycle guards attach/detach and the listener count across Subscribe and Close.
	lifecycle sync.Mutex
	detach    []func()
	stop      chan struct{}

	// flushMu serializes publication so listeners observe flushes in order.
	flushMu sync.Mutex

	mu        sync.Mutex
	buffer    map[string]models.ProjectStatus
	completed map[string]models.Stage
	published models.Statuses
	last      []byte
	listeners []listenerEntry
	nextID    int
}

type listenerEntry struct {
	id int
	l  Listener
}

// Subscription is a handle returned by [Aggregator.Subscribe].
type Subscription struct {
	once  sync.Once
	close func()
}

// Close detaches the listener. It is safe to call more than once.
func (s *Subscription) Close() {
	if s == nil || s.close == nil {
		return
	}
	s.once.Do(s.close)
}

// NewAggregator creates an Aggregator reading from source. A non-positive interval defaults to 500ms.
func NewAggregator(source EventSource, interval time.Duration, logger *log.Logger) *Aggregator {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Aggregator{
		source:    source,
		interval:  interval,
		logger:    logger,
		buffer:    make(map[string]models.ProjectStatus),
		completed: make(map[string]models.Stage),
		published: models.Statuses{},
		last:      []byte("{}"),
	}
}

// Subscribe registers l. The first subscription attaches one handler per event kind and starts the flush ticker.
func (a *Aggregator) Subscribe(l Listener) *Subscription {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.listeners = append(a.listeners, listenerEntry{id: id, l: l})
	first := len(a.listeners) == 1
	a.mu.Unlock()

	if first {
		a.start()
	}
	return &Subscription{close: func() { a.unsubscribe(id) }}
}

func (a *Aggregator) unsubscribe(id int) {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	a.mu.Lock()
	for i, e := range a.listeners {
		if e.id == id {
			a.listeners = append(a.listeners[:i], a.listeners[i+1:]...)
			break
		}
	}
	last := len(a.listeners) == 0
	a.mu.Unlock()

	if last {
		a.teardown()
	}
}

// Listeners returns the number of open subscriptions.
func (a *Aggregator) Listeners() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.listeners)
}

func (a *Aggregator) start() {
	for _, kind := range models.EventKinds {
		a.detach = append(a.detach, a.source.Subscribe(kind, a.handle))
	}

	a.stop = make(chan struct{})
	go func(stop <-chan struct{}) {
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				a.Flush()
			}
		}
	}(a.stop)

	a.logger.Debug("status aggregator started", "interval", a.interval)
}

func (a *Aggregator) teardown() {
	for _, fn := range a.detach {
		fn()
	}
	a.detach = nil
	if a.stop != nil {
		close(a.stop)
		a.stop = nil
	}
	a.logger.Debug("status aggregator stopped")
}

// handle applies one engine event to the private maps.
func (a *Aggregator) handle(ev models.Event) {
	if ev.ProjectID == "" {
		return
	}
	terminal, pipelineEnd := ev.Kind.TerminalStage()
	done := ev.Done()

	a.mu.Lock()
	if done {
		delete(a.buffer, ev.ProjectID)
		if pipelineEnd {
			a.completed[ev.ProjectID] = terminal
		}
	} else {
		delete(a.completed, ev.ProjectID)
		a.buffer[ev.ProjectID] = models.ProjectStatus{Stage: ev.Kind.Stage(), Progress: round2(ev.Progress)}
	}
	listeners := a.snapshot()
	a.mu.Unlock()

	for _, l := range listeners {
		if l.OnEvent != nil {
			a.safeCall(func() { l.OnEvent(ev) })
		}
	}

	if done && pipelineEnd {
		a.Flush()
		for _, l := range listeners {
			if l.OnReload != nil {
				a.safeCall(l.OnReload)
			}
		}
	}
}

// SetCompleted records a terminal stage for projectID, dropping any in-flight entry, and flushes.
func (a *Aggregator) SetCompleted(projectID string, stage models.Stage) {
	a.mu.Lock()
	delete(a.buffer, projectID)
	a.completed[projectID] = stage
	a.mu.Unlock()
	a.Flush()
}

// Clear forgets projectID entirely, restoring it to idle, and flushes.
func (a *Aggregator) Clear(projectID string) {
	a.mu.Lock()
	delete(a.buffer, projectID)
	delete(a.completed, projectID)
	a.mu.Unlock()
	a.Flush()
}

// Flush merges completed markers with in-flight entries and publishes the result if it
// differs from the previous publication. It reports whether listeners were notified.
func (a *Aggregator) Flush() bool {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()

	a.mu.Lock()
	merged := make(models.Statuses, len(a.completed)+len(a.buffer))
	for id, stage := range a.completed {
		merged[id] = models.ProjectStatus{Stage: stage, Progress: 1}
	}
	for id, st := range a.buffer {
		if st.Stage != models.StageIdle {
			merged[id] = st
		}
	}

	data, err := json.Marshal(merged)
	if err != nil {
		a.mu.Unlock()
		a.logger.Error("failed to serialize status map", "error", err)
		return false
	}
	if bytes.Equal(data, a.last) {
		a.mu.Unlock()
		return false
	}
	a.last = data
	a.published = merged
	listeners := a.snapshot()
	a.mu.Unlock()

	for _, l := range listeners {
		if l.OnStatus != nil {
			snapshot := merged.Clone()
			a.safeCall(func() { l.OnStatus(snapshot) })
		}
	}
	return true
}

// Statuses returns a copy of the last published status map.
func (a *Aggregator) Statuses() models.Statuses {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.published.Clone()
}

// Status returns the last published status of projectID.
func (a *Aggregator) Status(projectID string) (models.ProjectStatus, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.published[projectID]
	return st, ok
}

// snapshot copies the listener list. Callers hold a.mu.
func (a *Aggregator) snapshot() []Listener {
	out := make([]Listener, len(a.listeners))
	for i, e := range a.listeners {
		out[i] = e.l
	}
	return out
}

func (a *Aggregator) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("panic in status listener", "panic", r)
		}
	}()
	fn()
}

// round2 rounds to two decimal places.
func round2(p float64) float64 {
	return math.Round(p*100) / 100
}
