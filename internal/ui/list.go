package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	"github.com/desertthunder/cutline/internal/formatter"
	"github.com/desertthunder/cutline/internal/models"
)

var _ list.Item = projectItem{}

// projectItem wraps [models.Project] and its published status to implement [list.Item].
type projectItem struct {
	project    *models.Project
	status     models.ProjectStatus
	foreground bool
}

func (i projectItem) FilterValue() string { return i.project.Name }

func (i projectItem) Title() string {
	if i.foreground {
		return "▸ " + i.project.Name
	}
	return i.project.Name
}

func (i projectItem) Description() string {
	desc := fmt.Sprintf("%s • %d music • %d persons",
		styles.badge(i.status.Stage),
		i.project.CountByType(models.SegmentMusic),
		i.project.CountByType(models.SegmentPerson),
	)
	if i.status.Stage.Active() {
		desc = fmt.Sprintf("%s • %s", desc, formatter.Status(i.status))
	}
	return desc
}

// projectItems builds list items for projects, annotated with statuses.
func projectItems(projects []*models.Project, statuses models.Statuses, foreground string) []list.Item {
	items := make([]list.Item, len(projects))
	for i, p := range projects {
		items[i] = projectItem{project: p, status: statuses[p.ID], foreground: p.ID == foreground}
	}
	return items
}
