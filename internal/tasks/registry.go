package tasks

import (
	"fmt"
	"sync"

	"github.com/desertthunder/cutline/internal/formatter"
	"github.com/desertthunder/cutline/internal/models"
	"github.com/desertthunder/cutline/internal/shared"
)

// Registry is the single owner of every project's [models.ProcessingState].
//
// A project is either the foreground project, whose state lives in the live fields, or has at
// most one cached entry. The foreground id is never a key of cached, so a state cannot be held
// twice.
type Registry struct {
	mu         sync.Mutex
	foreground string
	live       models.ProcessingState
	cached     map[string]models.ProcessingState
}

// NewRegistry creates an empty registry with no foreground project.
func NewRegistry() *Registry {
	return &Registry{cached: make(map[string]models.ProcessingState)}
}

// Foreground returns the id of the foreground project, or "" if none is open.
func (r *Registry) Foreground() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.foreground
}

// Live returns a copy of the foreground state.
func (r *Registry) Live() models.ProcessingState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live.Clone()
}

// State returns a copy of projectID's state wherever it is held.
func (r *Registry) State(projectID string) (models.ProcessingState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if projectID != "" && projectID == r.foreground {
		return r.live.Clone(), true
	}
	st, ok := r.cached[projectID]
	return st.Clone(), ok
}

// Cached reports whether projectID has a cache entry.
func (r *Registry) Cached(projectID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.cached[projectID]
	return ok
}

// Len returns the number of cache entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cached)
}

// Busy reports whether projectID is running work of either kind.
func (r *Registry) Busy(projectID string) bool {
	st, _ := r.State(projectID)
	return st.Busy()
}

// Update applies fn to projectID's state, creating a default cache entry when none exists.
// It reports whether the project is in the foreground, with a copy of the new state.
func (r *Registry) Update(projectID string, fn func(*models.ProcessingState)) (models.ProcessingState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if projectID == r.foreground {
		fn(&r.live)
		return r.live.Clone(), true
	}

	st := r.cached[projectID]
	fn(&st)
	r.cached[projectID] = st
	return st.Clone(), false
}

// updateExisting applies fn only when projectID already has state, and reports whether it did.
func (r *Registry) updateExisting(projectID string, fn func(*models.ProcessingState)) (models.ProcessingState, bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if projectID == r.foreground {
		fn(&r.live)
		return r.live.Clone(), true, true
	}
	st, ok := r.cached[projectID]
	if !ok {
		return models.ProcessingState{}, false, false
	}
	fn(&st)
	r.cached[projectID] = st
	return st.Clone(), false, true
}

// Begin marks projectID as running a kind run. It fails with [shared.ErrTaskConflict] when the
// project is already running either kind, leaving the state untouched.
func (r *Registry) Begin(projectID string, kind Kind, filter *models.MusicFilter) (models.ProcessingState, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var st models.ProcessingState
	foreground := projectID == r.foreground
	if foreground {
		st = r.live
	} else {
		st = r.cached[projectID]
	}
	if st.Busy() {
		return st.Clone(), foreground, fmt.Errorf("%w: project %s is already processing", shared.ErrTaskConflict, projectID)
	}

	switch kind {
	case KindMusic:
		st.Processing = true
		st.ProcessingProgress = 0
		st.ProcessingMessage = formatter.Progress(models.StageExtracting, 0)
		st.UseCustomMusicLibrary = filter != nil && filter.UseCustomLibrary
		st.SelectedMusicIDs = filter.IDs()
	case KindDetection:
		st.DetectionProcessing = true
		st.DetectionProgress = 0
		st.DetectionMessage = formatter.Progress(models.StageDetecting, 0)
	}

	if foreground {
		r.live = st
	} else {
		r.cached[projectID] = st
	}
	return st.Clone(), foreground, nil
}

// Finish clears the kind flag of projectID. With persisted set and the project in the
// background at this moment, the cache entry is deleted instead.
func (r *Registry) Finish(projectID string, kind Kind, message string, persisted bool) (models.ProcessingState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if projectID != r.foreground {
		if persisted {
			delete(r.cached, projectID)
			return models.ProcessingState{}, false
		}
		if _, ok := r.cached[projectID]; !ok {
			return models.ProcessingState{}, false
		}
	}

	var st models.ProcessingState
	if projectID == r.foreground {
		st = r.live
	} else {
		st = r.cached[projectID]
	}

	switch kind {
	case KindMusic:
		st.Processing = false
		st.ProcessingMessage = message
	case KindDetection:
		st.DetectionProcessing = false
		st.DetectionMessage = message
	}

	if projectID == r.foreground {
		r.live = st
		return st.Clone(), true
	}
	r.cached[projectID] = st
	return st.Clone(), false
}

// Forget deletes projectID's cache entry. The foreground project is reset to idle instead.
func (r *Registry) Forget(projectID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if projectID == r.foreground {
		r.live = models.ProcessingState{}
		return
	}
	delete(r.cached, projectID)
}

// SwitchForeground moves the outgoing foreground state into the cache and brings projectID
// into the live fields, returning the new live state.
//
// The outgoing snapshot overwrites any older cache entry. The incoming state is taken from its
// cache entry if present, otherwise reconstructed from status when that stage is active, and
// defaults to idle. An empty projectID leaves no project in the foreground.
func (r *Registry) SwitchForeground(projectID string, status func(string) (models.ProjectStatus, bool)) models.ProcessingState {
	r.mu.Lock()
	defer r.mu.Unlock()

	if projectID == r.foreground {
		return r.live.Clone()
	}

	if r.foreground != "" {
		r.cached[r.foreground] = r.live
	}
	r.foreground = projectID
	r.live = models.ProcessingState{}

	if projectID == "" {
		return r.live
	}

	if st, ok := r.cached[projectID]; ok {
		r.live = st
		delete(r.cached, projectID)
		return r.live.Clone()
	}

	if status != nil {
		if ps, ok := status(projectID); ok {
			r.live = reconstruct(ps)
		}
	}
	return r.live.Clone()
}

// reconstruct derives a plausible state from a published status when no cache entry survived.
func reconstruct(ps models.ProjectStatus) models.ProcessingState {
	var st models.ProcessingState
	if !ps.Stage.Active() || ps.Progress >= 1 {
		return st
	}
	if ps.Stage == models.StageDetecting {
		st.DetectionProcessing = true
		st.DetectionProgress = ps.Progress
		st.DetectionMessage = formatter.Progress(ps.Stage, ps.Progress)
		return st
	}
	st.Processing = true
	st.ProcessingProgress = stageOverall(ps.Stage, ps.Progress)
	st.ProcessingMessage = formatter.Progress(ps.Stage, ps.Progress)
	return st
}
