// Package engine drives the external media tools that do the heavy lifting for a project.
//
// [ProcessEngine] runs ffmpeg, the vocal separator, the fingerprint matcher and the person
// detector as child processes. Every call takes a context; cancelling it kills the child and the
// call returns an error wrapping [shared.ErrCancelled].
//
// Progress is published on a [Bus] as project-tagged [models.Event] values, one channel per
// [models.EventKind]. Tool output is parsed into a fraction in [0, 1] and throttled with a token
// bucket so a chatty tool cannot flood subscribers; the final 100% event is never dropped.
//
// Separation and detection each hold a weighted semaphore so only a fixed number of GPU-heavy
// jobs run at once. A call that has to wait first emits a queued event.
package engine
