package ui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/cutline/internal/models"
	"github.com/desertthunder/cutline/internal/tasks"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgProjectsLoaded MsgKind = iota
	MsgFeed
	MsgStarted
	MsgCancelled
)

// feedBatch is everything the [feed] coalesced since the model last drained it.
type feedBatch struct {
	statuses models.Statuses
	live     *models.ProcessingState
	results  []tasks.Result
	reload   bool
	closed   bool
}

// projectsLoadedMsg is the constructor for [MsgProjectsLoaded]
func projectsLoadedMsg(projects []*models.Project, err error) Msg {
	return Msg{
		kind: MsgProjectsLoaded,
		data: struct {
			projects []*models.Project
			err      error
		}{projects, err},
	}
}

// feedMsg is the constructor for [MsgFeed]
func feedMsg(batch feedBatch) Msg {
	return Msg{kind: MsgFeed, data: batch}
}

// startedMsg is the constructor for [MsgStarted]
func startedMsg(projectID string, kind tasks.Kind, err error) Msg {
	return Msg{
		kind: MsgStarted,
		data: struct {
			projectID string
			kind      tasks.Kind
			err       error
		}{projectID, kind, err},
	}
}

// cancelledMsg is the constructor for [MsgCancelled]
func cancelledMsg(projectID string, err error) Msg {
	return Msg{
		kind: MsgCancelled,
		data: struct {
			projectID string
			err       error
		}{projectID, err},
	}
}
