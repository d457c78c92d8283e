package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig = fmt.Errorf("configuration not found")
	ErrInvalidConfig = fmt.Errorf("invalid configuration")

	// Task coordination errors
	ErrTaskConflict = fmt.Errorf("task in progress")
	ErrCancelled    = fmt.Errorf("task cancelled")
	ErrNoActiveTask = fmt.Errorf("no active task")

	// Engine and tool errors
	ErrToolNotFound  = fmt.Errorf("external tool not found")
	ErrToolFailed    = fmt.Errorf("external tool failed")
	ErrInvalidOutput = fmt.Errorf("invalid tool output")
	ErrTimeout       = fmt.Errorf("operation timed out")

	// Storage errors
	ErrProjectNotFound = fmt.Errorf("project not found")
	ErrDuplicateSource = fmt.Errorf("project already exists for source video")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)
