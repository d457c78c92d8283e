package ui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/cutline/internal/models"
	"github.com/desertthunder/cutline/internal/tasks"
)

// feed bridges coordinator listeners into the bubbletea event loop.
//
// Listener callbacks only record the newest value and signal; the model drains the pending
// batch with [feed.wait] and re-arms it after every [MsgFeed].
type feed struct {
	mu      sync.Mutex
	pending feedBatch
	signal  chan struct{}
	done    chan struct{}
	once    sync.Once
	sub     *tasks.Subscription
}

func newFeed(c Coordinator) *feed {
	f := &feed{signal: make(chan struct{}, 1), done: make(chan struct{})}
	f.sub = c.Subscribe(tasks.Listener{
		OnStatus: func(s models.Statuses) {
			f.push(func(b *feedBatch) { b.statuses = s })
		},
		OnLive: func(st models.ProcessingState) {
			f.push(func(b *feedBatch) { b.live = &st })
		},
		OnReload: func() {
			f.push(func(b *feedBatch) { b.reload = true })
		},
		OnResult: func(r tasks.Result) {
			f.push(func(b *feedBatch) { b.results = append(b.results, r) })
		},
	})
	return f
}

func (f *feed) push(fn func(*feedBatch)) {
	f.mu.Lock()
	fn(&f.pending)
	f.mu.Unlock()

	select {
	case f.signal <- struct{}{}:
	default:
	}
}

func (f *feed) drain() feedBatch {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.pending
	f.pending = feedBatch{}
	return b
}

// wait blocks until something was pushed or the feed is closed.
func (f *feed) wait() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-f.signal:
			return feedMsg(f.drain())
		case <-f.done:
			return feedMsg(feedBatch{closed: true})
		}
	}
}

func (f *feed) close() {
	f.once.Do(func() {
		f.sub.Close()
		close(f.done)
	})
}
