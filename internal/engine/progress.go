package engine

import (
	"bufio"
	"bytes"
	"math"
	"regexp"
	"strconv"

	"github.com/desertthunder/cutline/internal/models"
	"golang.org/x/time/rate"
)

var percentRe = regexp.MustCompile(`(\d{1,3}(?:\.\d+)?)%`)

// parsePercent extracts the last "NN%" token of a tool output line as a fraction in [0, 1].
func parsePercent(line string) (float64, bool) {
	matches := percentRe.FindAllStringSubmatch(line, -1)
	if len(matches) == 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(matches[len(matches)-1][1], 64)
	if err != nil || v > 100 {
		return 0, false
	}
	return v / 100, true
}

// scanLines splits on either '\n' or '\r' so carriage-return progress bars yield one token per redraw.
func scanLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

var _ bufio.SplitFunc = scanLines

// reporter publishes throttled progress for one engine call.
//
// Progress is scaled into [lo, hi] so a call that spans several tool phases reports monotonically.
type reporter struct {
	bus       *Bus
	kind      models.EventKind
	projectID string
	limiter   *rate.Limiter
	lo, hi    float64
	last      float64
}

func newReporter(bus *Bus, kind models.EventKind, projectID string, perSecond float64) *reporter {
	if perSecond <= 0 {
		perSecond = 10
	}
	return &reporter{
		bus:       bus,
		kind:      kind,
		projectID: projectID,
		limiter:   rate.NewLimiter(rate.Limit(perSecond), 1),
		lo:        0,
		hi:        1,
		last:      -1,
	}
}

// span restricts subsequent reports to [lo, hi].
func (r *reporter) span(lo, hi float64) *reporter {
	r.lo, r.hi = lo, hi
	return r
}

// report publishes p (relative to the current span) unless the limiter rejects it.
//
// Values never move backwards, and the terminal value of the full range is always delivered.
func (r *reporter) report(p float64, msg string) {
	if r == nil || r.bus == nil {
		return
	}
	p = r.lo + (r.hi-r.lo)*math.Max(0, math.Min(1, p))
	if p < r.last {
		p = r.last
	}

	final := p >= 1
	if final && r.last >= 1 {
		return
	}
	if !final && (p == r.last || !r.limiter.Allow()) {
		return
	}
	r.last = p
	r.bus.Publish(models.Event{
		Kind:      r.kind,
		ProjectID: r.projectID,
		Progress:  p,
		Message:   msg,
		Completed: final,
	})
}

// queued publishes an unthrottled queued notification.
func (r *reporter) queued(kind models.EventKind, msg string) {
	if r == nil || r.bus == nil {
		return
	}
	r.bus.Publish(models.Event{Kind: kind, ProjectID: r.projectID, Progress: 0, Message: msg})
}
