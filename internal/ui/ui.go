package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/cutline/internal/formatter"
	"github.com/desertthunder/cutline/internal/models"
	"github.com/desertthunder/cutline/internal/shared"
	"github.com/desertthunder/cutline/internal/tasks"
)

// ViewState represents the current view in the TUI.
type ViewState int

const (
	ProjectListView ViewState = iota
	ConfirmView
)

// Coordinator is the part of [tasks.Coordinator] the board drives.
type Coordinator interface {
	Subscribe(l tasks.Listener) *tasks.Subscription
	Statuses() models.Statuses
	Live() models.ProcessingState
	Foreground() string
	SwitchForeground(projectID string) models.ProcessingState
	StartPipeline(ctx context.Context, projectID, videoPath string, filter *models.MusicFilter) error
	StartDetection(ctx context.Context, projectID, videoPath string) error
	CancelPipeline(projectID string) error
	CancelDetection(projectID string) error
}

// ProjectLister loads the durable project list.
type ProjectLister interface {
	GetProjects() ([]*models.Project, error)
}

// Model represents the TUI application state.
type Model struct {
	ctx       context.Context
	view      ViewState
	coord     Coordinator
	store     ProjectLister
	filter    *models.MusicFilter
	feed      *feed
	width     int
	height    int
	list      list.Model
	projects  []*models.Project
	statuses  models.Statuses
	live      models.ProcessingState
	cancelFor tasks.Kind
	notice    string
	err       error
	music     progress.Model
	detect    progress.Model
	help      help.Model
	keys      keyMap
}

// NewModel creates a new TUI model. filter is applied to every music run started from the board.
func NewModel(ctx context.Context, coord Coordinator, store ProjectLister, filter *models.MusicFilter) *Model {
	l := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	l.Title = "Projects"
	l.SetShowHelp(false)

	return &Model{
		ctx:      ctx,
		view:     ProjectListView,
		coord:    coord,
		store:    store,
		filter:   filter,
		list:     l,
		statuses: coord.Statuses(),
		live:     coord.Live(),
		music:    progress.New(progress.WithDefaultGradient()),
		detect:   progress.New(progress.WithGradient("#FFA500", "#7D56F4")),
		help:     help.New(),
		keys:     newKeyMap(),
	}
}

// Init subscribes to the coordinator and loads the project list.
func (m *Model) Init() tea.Cmd {
	m.feed = newFeed(m.coord)
	return tea.Batch(m.loadProjects(), m.feed.wait())
}

// Close releases the coordinator subscription. It is safe to call more than once.
func (m *Model) Close() {
	if m.feed != nil {
		m.feed.close()
	}
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.list.SetSize(msg.Width-4, max(msg.Height-14, 4))
		m.music.Width = max(msg.Width-30, 10)
		m.detect.Width = m.music.Width
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch m.view {
		case ProjectListView:
			return m.handleListKeys(msg)
		case ConfirmView:
			return m.handleConfirmKeys(msg)
		}

	case Msg:
		return m.handleMsg(msg)
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgProjectsLoaded:
		d := msg.data.(struct {
			projects []*models.Project
			err      error
		})
		if d.err != nil {
			m.err = d.err
			return m, nil
		}
		m.projects = d.projects
		return m, m.refreshItems()

	case MsgFeed:
		b := msg.data.(feedBatch)
		if b.closed {
			return m, nil
		}
		cmds := []tea.Cmd{m.feed.wait()}
		if b.statuses != nil {
			m.statuses = b.statuses
			cmds = append(cmds, m.refreshItems())
		}
		if b.live != nil {
			m.live = *b.live
		}
		for _, r := range b.results {
			m.notice = m.resultNotice(r)
		}
		if b.reload || len(b.results) > 0 {
			cmds = append(cmds, m.loadProjects())
		}
		return m, tea.Batch(cmds...)

	case MsgStarted:
		d := msg.data.(struct {
			projectID string
			kind      tasks.Kind
			err       error
		})
		if d.err != nil {
			m.notice = styles.err.Render(fmt.Sprintf("Could not start %s run: %v", d.kind, d.err))
		} else {
			m.notice = fmt.Sprintf("Started %s run for %s", d.kind, m.projectName(d.projectID))
		}
		return m, nil

	case MsgCancelled:
		d := msg.data.(struct {
			projectID string
			err       error
		})
		if d.err != nil {
			m.notice = styles.err.Render(fmt.Sprintf("Cancel failed: %v", d.err))
		} else {
			m.notice = styles.warn.Render(fmt.Sprintf("Cancelling %s...", m.projectName(d.projectID)))
		}
		return m, nil
	}
	return m, nil
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	if m.err != nil {
		return styles.err.Render(fmt.Sprintf("Error: %v\n\nPress q to quit", m.err))
	}

	switch m.view {
	case ConfirmView:
		return m.renderConfirm()
	default:
		return m.renderList()
	}
}

func (m *Model) handleListKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.list.FilterState() == list.Filtering {
		var cmd tea.Cmd
		m.list, cmd = m.list.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keys.quit):
		m.Close()
		return m, tea.Quit
	case key.Matches(msg, m.keys.help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil
	case key.Matches(msg, m.keys.enter):
		if p := m.selected(); p != nil {
			m.live = m.coord.SwitchForeground(p.ID)
			return m, m.refreshItems()
		}
		return m, nil
	case key.Matches(msg, m.keys.run):
		if p := m.selected(); p != nil {
			return m, m.start(p, tasks.KindMusic)
		}
		return m, nil
	case key.Matches(msg, m.keys.detect):
		if p := m.selected(); p != nil {
			return m, m.start(p, tasks.KindDetection)
		}
		return m, nil
	case key.Matches(msg, m.keys.cancel):
		switch {
		case m.live.Processing:
			m.cancelFor = tasks.KindMusic
		case m.live.DetectionProcessing:
			m.cancelFor = tasks.KindDetection
		default:
			m.notice = styles.help.Render("Nothing is running on the focused project")
			return m, nil
		}
		m.view = ConfirmView
		return m, nil
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m *Model) handleConfirmKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.yes):
		m.view = ProjectListView
		return m, m.cancel(m.coord.Foreground(), m.cancelFor)
	case key.Matches(msg, m.keys.no), key.Matches(msg, m.keys.quit):
		m.view = ProjectListView
		return m, nil
	}
	return m, nil
}

func (m *Model) selected() *models.Project {
	if item, ok := m.list.SelectedItem().(projectItem); ok {
		return item.project
	}
	return nil
}

func (m *Model) projectName(id string) string {
	for _, p := range m.projects {
		if p.ID == id {
			return p.Name
		}
	}
	return id
}

func (m *Model) refreshItems() tea.Cmd {
	return m.list.SetItems(projectItems(m.projects, m.statuses, m.coord.Foreground()))
}

func (m *Model) resultNotice(r tasks.Result) string {
	name := m.projectName(r.ProjectID)
	switch {
	case r.Err == nil:
		kind := models.SegmentMusic
		if r.Kind == tasks.KindDetection {
			kind = models.SegmentPerson
		}
		return styles.ok.Render(fmt.Sprintf("%s: %s", name, formatter.Done(len(r.Segments), kind)))
	case errors.Is(r.Err, shared.ErrCancelled):
		return styles.warn.Render(fmt.Sprintf("%s: %s run cancelled", name, r.Kind))
	default:
		return styles.err.Render(fmt.Sprintf("%s: %v", name, r.Err))
	}
}

func (m *Model) loadProjects() tea.Cmd {
	return func() tea.Msg {
		projects, err := m.store.GetProjects()
		return projectsLoadedMsg(projects, err)
	}
}

func (m *Model) start(p *models.Project, kind tasks.Kind) tea.Cmd {
	ctx, id, video, filter := m.ctx, p.ID, p.SourceVideoPath, m.filter
	return func() tea.Msg {
		var err error
		if kind == tasks.KindDetection {
			err = m.coord.StartDetection(ctx, id, video)
		} else {
			err = m.coord.StartPipeline(ctx, id, video, filter)
		}
		return startedMsg(id, kind, err)
	}
}

func (m *Model) cancel(projectID string, kind tasks.Kind) tea.Cmd {
	return func() tea.Msg {
		var err error
		if kind == tasks.KindDetection {
			err = m.coord.CancelDetection(projectID)
		} else {
			err = m.coord.CancelPipeline(projectID)
		}
		return cancelledMsg(projectID, err)
	}
}

func (m *Model) renderList() string {
	var b strings.Builder
	b.WriteString(m.list.View())
	b.WriteString("\n")
	b.WriteString(m.renderLive())
	if m.notice != "" {
		b.WriteString("\n" + m.notice)
	}
	b.WriteString("\n\n" + m.help.View(m.keys))
	return b.String()
}

// renderLive draws the foreground project's processing state.
func (m *Model) renderLive() string {
	id := m.coord.Foreground()
	if id == "" {
		return styles.pane.Render(styles.help.Render("Press enter to focus a project"))
	}

	lines := []string{
		styles.title.UnsetMarginBottom().Render(m.projectName(id)),
		fmt.Sprintf("Music   %s %s", m.music.ViewAs(m.live.ProcessingProgress), m.live.ProcessingMessage),
		fmt.Sprintf("Persons %s %s", m.detect.ViewAs(m.live.DetectionProgress), m.live.DetectionMessage),
	}
	if m.live.AudioPath != "" {
		lines = append(lines, styles.help.Render("audio: "+m.live.AudioPath))
	}
	if m.live.AccompanimentPath != "" {
		lines = append(lines, styles.help.Render("accompaniment: "+m.live.AccompanimentPath))
	}
	if len(m.live.SelectedMusicIDs) > 0 {
		lines = append(lines, styles.help.Render(fmt.Sprintf("library filter: %d tracks", len(m.live.SelectedMusicIDs))))
	}
	return styles.pane.Render(strings.Join(lines, "\n"))
}

func (m *Model) renderConfirm() string {
	title := styles.title.Render(fmt.Sprintf("Cancel the %s run for '%s'?", m.cancelFor, m.projectName(m.coord.Foreground())))
	info := "\nThe project keeps its previous segments.\n"

	helpKeys := []key.Binding{m.keys.yes, m.keys.no}
	helpView := m.help.ShortHelpView(helpKeys)

	return fmt.Sprintf("%s\n%s\n%s", title, info, helpView)
}
