// Package tasks coordinates long-running, cancellable processing runs across many projects.
//
// # Runs
//
// The [Coordinator] starts two kinds of run per project:
//
//  1. [Coordinator.RunPipeline] : music pipeline
//     - Checks which artifacts of a previous run are still valid
//     - Extracts audio, separates vocals, matches the accompaniment against the music library
//     - Replaces the project's segments with the matches
//
//  2. [Coordinator.RunDetection] : person detection
//     - A single detector call over the source video
//     - Replaces the project's segments with the detections
//
// A project runs at most one of them at a time. Start* variants apply the same start guard
// synchronously and deliver the outcome to listeners as a [Result].
//
// # State
//
// [Registry] owns every project's [models.ProcessingState]: the foreground project's state
// lives in the live fields, every other project has at most one cache entry.
// [Coordinator.SwitchForeground] moves states between the two. A project with no cache entry
// is rebuilt from its published status only while a run of the matching kind holds the gate.
//
// # Cancellation
//
// [Gate] tracks in-flight runs per (project, [Kind]). A cancel request marks the pair,
// forwards a stop request to the engine and cancels the run's context; the marker is cleared
// only when the run settles. A cancelled run resolves the project's status to analyzed when it
// still has segments, otherwise idle.
//
// # Status Feed
//
// [Aggregator] buffers the latest engine event per project and publishes the merged status map
// on a fixed interval, only when it changed. Completion of matching or export forces an
// immediate flush.
package tasks
