// Package diag produces collective performance reports: one timing line and
// one memory line per call, written by the smallest rank of the group.
//
// Every exported operation here is collective. All members of the group
// must call the same operations the same number of times in the same order,
// or the group blocks forever.
package diag

import (
	"errors"
	"fmt"
	"io"

	"github.com/zeusync/coupler/internal/core/comm"
	"github.com/zeusync/coupler/internal/core/observability/log"
	"github.com/zeusync/coupler/internal/core/printer"
)

// WriterRank selects the writer for one report: the smallest rank present
// in g, agreed on by every member.
func WriterRank(g comm.Group) (int, error) {
	r, err := comm.AllReduceInt(g, int64(g.Rank()), comm.OpMin)
	if err != nil {
		return 0, err
	}
	return int(r), nil
}

// Digester aggregates named timings across a group. Only the writer receives
// a non-empty digest.
type Digester interface {
	Digest(g comm.Group, writer int) (string, error)
}

// MemoryReport is the aggregate of per-rank memory samples in whole
// megabytes. It is only meaningful on the writer rank.
type MemoryReport struct {
	Min   int64
	Avg   int64
	Max   int64
	Total int64
}

func (m MemoryReport) String() string {
	return fmt.Sprintf("min: %d avg: %d max: %d total: %d", m.Min, m.Avg, m.Max, m.Total)
}

// Reporter runs diagnostics for one member of a group under a fixed
// identifier.
type Reporter struct {
	group      comm.Group
	identifier string
	sampler    Sampler
	out        io.Writer
	logger     log.Log
}

// ErrSampleFailed wraps a sampler error. The collectives still ran, with
// FailedSample standing in for the local value.
var ErrSampleFailed = errors.New("memory sample failed")

// FailedSample is contributed by a rank whose sampler failed.
const FailedSample int64 = -1

type Option func(*Reporter)

// WithSampler replaces the getrusage sampler.
func WithSampler(s Sampler) Option {
	return func(r *Reporter) {
		if s != nil {
			r.sampler = s
		}
	}
}

func WithLogger(l log.Log) Option {
	return func(r *Reporter) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithOutput sends report lines to w instead of stdout.
func WithOutput(w io.Writer) Option {
	return func(r *Reporter) { r.out = w }
}

func NewReporter(g comm.Group, identifier string, opts ...Option) *Reporter {
	r := &Reporter{
		group:      g,
		identifier: identifier,
		sampler:    RusageSampler{},
		logger:     log.Provide(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reporter) printer(writer int) *printer.Printer {
	return printer.New(r.group, writer, printer.WithOutput(r.out))
}

// EchoTimers writes "<identifier> WCTime at step: <step> <digest>" on the
// writer rank.
func (r *Reporter) EchoTimers(d Digester, step int) error {
	writer, err := WriterRank(r.group)
	if err != nil {
		return err
	}
	p := r.printer(writer)
	timings, err := d.Digest(r.group, p.IORank())
	if err != nil {
		return err
	}
	return p.Echof("%s WCTime at step: %d %s", r.identifier, step, timings)
}

// CollectMemory samples local memory and reduces min, sum and max onto the
// writer rank. The report is valid only on the member whose rank equals
// writer; local is the caller's own sample on every rank.
//
// A sampler failure does not skip the collectives: the rank contributes
// FailedSample and the error, wrapped in ErrSampleFailed, is returned once
// the report is complete.
func (r *Reporter) CollectMemory() (local int64, report MemoryReport, writer int, err error) {
	var sampleErr error
	kb, err := r.sampler.MaxRSSKilobytes()
	if err != nil {
		r.logger.Warn("memory sample failed",
			log.String("solver", r.identifier),
			log.Int("rank", r.group.Rank()),
			log.Error(err),
		)
		sampleErr = fmt.Errorf("%w: %w", ErrSampleFailed, err)
		local = FailedSample
	} else {
		local = ToMegabytes(kb)
	}

	writer, err = WriterRank(r.group)
	if err != nil {
		return local, MemoryReport{}, 0, err
	}

	minMem, _, err := comm.ReduceInt(r.group, local, comm.OpMin, writer)
	if err != nil {
		return local, MemoryReport{}, writer, err
	}
	totalMem, _, err := comm.ReduceInt(r.group, local, comm.OpSum, writer)
	if err != nil {
		return local, MemoryReport{}, writer, err
	}
	maxMem, _, err := comm.ReduceInt(r.group, local, comm.OpMax, writer)
	if err != nil {
		return local, MemoryReport{}, writer, err
	}

	report = MemoryReport{
		Min:   minMem,
		Avg:   totalMem / int64(r.group.Size()),
		Max:   maxMem,
		Total: totalMem,
	}
	return local, report, writer, sampleErr
}

// MemoryUsage writes "<identifier> Memory Usage min: .. avg: .. max: ..
// total: .." on the writer rank and returns the local sample in megabytes.
// The line is written even when the local sample failed.
func (r *Reporter) MemoryUsage() (int64, error) {
	local, report, writer, err := r.CollectMemory()
	if err != nil && !errors.Is(err, ErrSampleFailed) {
		return local, err
	}
	if perr := r.printer(writer).Echof("%s Memory Usage %s", r.identifier, report); perr != nil {
		return local, perr
	}
	return local, err
}
