package tasks

import "fmt"

// Steps a run can fail in, beyond the engine stages.
const (
	StepExtract  = "extracting"
	StepSeparate = "separating"
	StepMatch    = "matching"
	StepDetect   = "detecting"
	StepExport   = "exporting"
	StepPersist  = "persisting"
)

// StageError reports a failed (not cancelled) run and the step it failed in.
type StageError struct {
	ProjectID string
	Kind      Kind
	Stage     string
	Err       error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s run for project %s failed while %s: %v", e.Kind, e.ProjectID, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
