package formatter

import (
	"fmt"

	"github.com/desertthunder/cutline/internal/models"
)

var stageLabels = map[models.Stage]string{
	models.StageIdle:       "Idle",
	models.StageExtracting: "Extracting audio",
	models.StageQueued:     "Waiting for separator",
	models.StageSeparating: "Separating vocals",
	models.StageMatching:   "Matching music",
	models.StageExporting:  "Exporting video",
	models.StageDetecting:  "Detecting persons",
	models.StageAnalyzed:   "Analyzed",
	models.StageExported:   "Exported",
}

// StageLabel returns the display name of a stage.
func StageLabel(s models.Stage) string {
	if label, ok := stageLabels[s]; ok {
		return label
	}
	return "Unknown"
}

// Progress renders an in-flight stage with its progress, e.g. "Separating vocals: 45%".
func Progress(s models.Stage, p float64) string {
	if !s.Active() || s == models.StageQueued {
		return StageLabel(s)
	}
	return fmt.Sprintf("%s: %d%%", StageLabel(s), Percent(p))
}

// Cached renders the message shown when a stage is skipped because its artifact is reused.
func Cached(s models.Stage) string {
	return StageLabel(s) + ": using cached result"
}

// Status renders a published project status for list views.
func Status(st models.ProjectStatus) string {
	if st.Stage.Active() {
		return Progress(st.Stage, st.Progress)
	}
	return StageLabel(st.Stage)
}

// Percent converts a fraction to a whole percentage clamped to [0, 100].
func Percent(p float64) int {
	switch {
	case p <= 0:
		return 0
	case p >= 1:
		return 100
	default:
		return int(p*100 + 0.5)
	}
}

// Done renders the final message of a finished run.
func Done(count int, kind models.SegmentType) string {
	noun := "segments"
	if count == 1 {
		noun = "segment"
	}
	return fmt.Sprintf("Found %d %s %s", count, kind, noun)
}

// Exported renders the final message of a video export.
func Exported(files int) string {
	if files == 1 {
		return "Exported 1 file"
	}
	return fmt.Sprintf("Exported %d files", files)
}
