// Package ui implements an interactive status board using bubbletea's Elm architecture.
//
// The board lists every project with its published processing status. Selecting a project makes
// it the foreground project, whose live state is rendered below the list with progress bars for
// the music pipeline and person detection:
//  1. [ProjectListView] : Browse projects and their stage badges
//  2. [ConfirmView] : Confirm cancelling the foreground project's run
//
// The (view) [Model] implements the standard Init/Update/View pattern, receiving messages via the
// [Msg] union type. Coordinator notifications are coalesced by a [feed] so listener callbacks never
// block on the event loop.
//
// Keyboard navigation uses vim-style bindings (j/k, enter, r, d, x, y/n, q) with contextual help
// displayed via charmbracelet/bubbles/help.
package ui
