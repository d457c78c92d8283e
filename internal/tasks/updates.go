package tasks

import (
	"fmt"

	"github.com/desertthunder/cutline/internal/models"
)

// Kind is the pipeline kind a run and its cancellation marker belong to.
type Kind int

const (
	KindMusic Kind = iota
	KindDetection
)

func (k Kind) String() string {
	switch k {
	case KindMusic:
		return "music"
	case KindDetection:
		return "detection"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// kindOf returns the pipeline kind an engine event reports on.
func kindOf(ev models.EventKind) Kind {
	if ev == models.DetectionProgress {
		return KindDetection
	}
	return KindMusic
}

// band is the slice of a music run's overall progress covered by one stage.
type band struct{ lo, hi float64 }

var bands = map[models.EventKind]band{
	models.ExtractProgress:    {0, 0.2},
	models.SeparationQueued:   {0.2, 0.2},
	models.SeparationProgress: {0.2, 0.6},
	models.MatchingProgress:   {0.6, 1},
}

// overall maps a stage-local progress value into the run-wide [0, 1] range.
func overall(kind models.EventKind, p float64) float64 {
	b, ok := bands[kind]
	if !ok {
		return clamp(p)
	}
	return b.lo + (b.hi-b.lo)*clamp(p)
}

// stageOverall is [overall] keyed by the stage an event kind reports.
func stageOverall(s models.Stage, p float64) float64 {
	for kind := range bands {
		if kind.Stage() == s {
			return overall(kind, p)
		}
	}
	return clamp(p)
}

func clamp(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	default:
		return p
	}
}

// Result is delivered to listeners when a started run settles.
type Result struct {
	ProjectID string
	Kind      Kind
	Segments  []models.Segment
	Files     []string // written by a video export
	Err       error    // nil, a cancellation wrapping shared.ErrCancelled, or a *StageError
}

// Listener receives coordinator notifications. Any callback may be nil.
//
// Callbacks run on the goroutine that produced the notification and must not block.
type Listener struct {
	OnStatus func(models.Statuses)        // published, deduplicated status map
	OnEvent  func(models.Event)           // every raw engine event
	OnReload func()                       // durable project list changed
	OnLive   func(models.ProcessingState) // foreground state changed
	OnResult func(Result)                 // a started run settled
}
