package models

import "fmt"

// Stage enumerates the durable status stages of a project.
type Stage int

const (
	StageIdle Stage = iota
	StageExtracting
	StageQueued
	StageSeparating
	StageMatching
	StageExporting
	StageDetecting
	StageAnalyzed
	StageExported
)

var stageNames = [...]string{
	StageIdle:       "idle",
	StageExtracting: "extracting",
	StageQueued:     "queued",
	StageSeparating: "separating",
	StageMatching:   "matching",
	StageExporting:  "exporting",
	StageDetecting:  "detecting",
	StageAnalyzed:   "analyzed",
	StageExported:   "exported",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return ""
	}
	return stageNames[s]
}

// Active reports whether the stage denotes work in flight.
func (s Stage) Active() bool {
	switch s {
	case StageIdle, StageAnalyzed, StageExported:
		return false
	default:
		return s.String() != ""
	}
}

// Terminal reports whether the stage is a persisted completion marker.
func (s Stage) Terminal() bool {
	return s == StageAnalyzed || s == StageExported
}

// MarshalText encodes the stage by name.
func (s Stage) MarshalText() ([]byte, error) {
	name := s.String()
	if name == "" {
		return nil, fmt.Errorf("unknown stage %d", int(s))
	}
	return []byte(name), nil
}

// UnmarshalText decodes a stage name.
func (s *Stage) UnmarshalText(b []byte) error {
	st, err := ParseStage(string(b))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// ParseStage returns the stage with the given name.
func ParseStage(name string) (Stage, error) {
	for i, n := range stageNames {
		if n == name {
			return Stage(i), nil
		}
	}
	return StageIdle, fmt.Errorf("unknown stage %q", name)
}

// ProjectStatus is the durable, process-wide status of one project.
type ProjectStatus struct {
	Stage    Stage   `json:"stage"`
	Progress float64 `json:"progress"`
}

// Statuses maps project ids to their published status.
type Statuses map[string]ProjectStatus

// Clone returns an independent copy of the map.
func (s Statuses) Clone() Statuses {
	out := make(Statuses, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// EventKind enumerates the engine's push-event channels.
type EventKind int

const (
	ExtractProgress EventKind = iota
	SeparationQueued
	SeparationProgress
	MatchingProgress
	ExportProgress
	DetectionProgress
)

// EventKinds lists every kind in subscription order.
var EventKinds = []EventKind{
	ExtractProgress,
	SeparationQueued,
	SeparationProgress,
	MatchingProgress,
	ExportProgress,
	DetectionProgress,
}

func (k EventKind) String() string {
	switch k {
	case ExtractProgress:
		return "extract-progress"
	case SeparationQueued:
		return "separation-queued"
	case SeparationProgress:
		return "separation-progress"
	case MatchingProgress:
		return "matching-progress"
	case ExportProgress:
		return "export-progress"
	case DetectionProgress:
		return "detection-progress"
	default:
		return ""
	}
}

// Stage returns the in-flight stage reported by events of this kind.
func (k EventKind) Stage() Stage {
	switch k {
	case ExtractProgress:
		return StageExtracting
	case SeparationQueued:
		return StageQueued
	case SeparationProgress:
		return StageSeparating
	case MatchingProgress:
		return StageMatching
	case ExportProgress:
		return StageExporting
	case DetectionProgress:
		return StageDetecting
	default:
		return StageIdle
	}
}

// TerminalStage returns the completion marker written when a run of this kind finishes.
//
// Only matching and export end a pipeline; other kinds report false.
func (k EventKind) TerminalStage() (Stage, bool) {
	switch k {
	case MatchingProgress:
		return StageAnalyzed, true
	case ExportProgress:
		return StageExported, true
	default:
		return StageIdle, false
	}
}

// Event is a project-tagged progress notification pushed by the engine.
type Event struct {
	Kind      EventKind
	ProjectID string
	Progress  float64 // within [0, 1]
	Message   string
	Completed bool
}

// Done reports whether the event marks the end of its stage.
func (e Event) Done() bool {
	return e.Completed || e.Progress >= 1
}
