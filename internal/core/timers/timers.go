// Package timers keeps named wall-clock accumulators for instrumented
// solver stages and reduces them across a process group into a digest.
package timers

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/zeusync/coupler/internal/core/comm"
)

// Label names one instrumented phase.
type Label string

const (
	Pre      Label = "Pre"
	PreConn  Label = "PreConn"
	PostConn Label = "PostConn"
	Register Label = "Register"
	Update   Label = "Update"
	Solve    Label = "Solve"
	Post     Label = "Post"
)

// Accumulator is the state of one named timer.
//
// Current is the elapsed time of the latest phase: a fresh start resets it
// and a restart keeps adding to it. Total never resets.
type Accumulator struct {
	Current time.Duration
	Total   time.Duration
	Count   uint64

	active  bool
	started time.Time
}

// Active reports whether the timer has been started and not yet stopped.
func (a Accumulator) Active() bool { return a.active }

// Registry holds one accumulator per label. The label set is fixed at
// construction. A Registry is owned by a single goroutine.
type Registry struct {
	labels []Label
	accs   map[Label]*Accumulator
	now    func() time.Time
}

type Option func(*Registry)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New builds a registry for the given labels. Duplicates are ignored.
func New(labels []Label, opts ...Option) *Registry {
	r := &Registry{
		labels: make([]Label, 0, len(labels)),
		accs:   make(map[Label]*Accumulator, len(labels)),
		now:    time.Now,
	}
	for _, l := range labels {
		if _, ok := r.accs[l]; ok {
			continue
		}
		r.labels = append(r.labels, l)
		r.accs[l] = &Accumulator{}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Labels returns the label set in declaration order.
func (r *Registry) Labels() []Label { return slices.Clone(r.labels) }

// Start begins a fresh phase for label, resetting its Current value.
func (r *Registry) Start(label Label) error {
	return r.tick(label, false)
}

// Restart continues the phase for label so the elapsed time adds to the
// Current value left by the previous start/stop pair. Restarting a running
// timer folds the time elapsed so far into Current and keeps it running.
func (r *Registry) Restart(label Label) error {
	return r.tick(label, true)
}

func (r *Registry) tick(label Label, restart bool) error {
	acc, ok := r.accs[label]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownLabel, label)
	}
	now := r.now()
	if acc.active {
		if !restart {
			return fmt.Errorf("%w: %s", ErrAlreadyActive, label)
		}
		elapsed := now.Sub(acc.started)
		acc.Current += elapsed
		acc.Total += elapsed
		acc.started = now
		return nil
	}
	if !restart {
		acc.Current = 0
	}
	acc.active = true
	acc.started = now
	return nil
}

// Stop ends the running phase for label.
func (r *Registry) Stop(label Label) error {
	acc, ok := r.accs[label]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownLabel, label)
	}
	if !acc.active {
		return fmt.Errorf("%w: %s", ErrNotActive, label)
	}
	elapsed := r.now().Sub(acc.started)
	acc.Current += elapsed
	acc.Total += elapsed
	acc.Count++
	acc.active = false
	acc.started = time.Time{}
	return nil
}

// Get returns a copy of the accumulator for label.
func (r *Registry) Get(label Label) (Accumulator, bool) {
	acc, ok := r.accs[label]
	if !ok {
		return Accumulator{}, false
	}
	return *acc, true
}

// Digest reduces the Current value of every label across g onto writer and
// formats it as "<label>: <min> <avg> <max>" groups in seconds. Every member
// of g must call Digest; only writer gets a non-empty string.
func (r *Registry) Digest(g comm.Group, writer int) (string, error) {
	values := make([]int64, len(r.labels))
	for i, l := range r.labels {
		values[i] = int64(r.accs[l].Current)
	}

	mins, err := g.Reduce(values, comm.OpMin, writer)
	if err != nil {
		return "", err
	}
	sums, err := g.Reduce(values, comm.OpSum, writer)
	if err != nil {
		return "", err
	}
	maxs, err := g.Reduce(values, comm.OpMax, writer)
	if err != nil {
		return "", err
	}
	if g.Rank() != writer {
		return "", nil
	}

	size := int64(g.Size())
	var b strings.Builder
	for i, l := range r.labels {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s: %.4f %.4f %.4f",
			l,
			time.Duration(mins[i]).Seconds(),
			time.Duration(sums[i]/size).Seconds(),
			time.Duration(maxs[i]).Seconds(),
		)
	}
	return b.String(), nil
}
