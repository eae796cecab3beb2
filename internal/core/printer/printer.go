// Package printer writes report lines from exactly one rank of a group.
package printer

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/zeusync/coupler/internal/core/comm"
)

// Printer emits lines only on its io rank; on every other rank Echo is a
// no-op.
type Printer struct {
	rank   int
	ioRank int
	out    io.Writer
	mu     sync.Mutex
}

type Option func(*Printer)

// WithOutput sends lines to w instead of stdout.
func WithOutput(w io.Writer) Option {
	return func(p *Printer) {
		if w != nil {
			p.out = w
		}
	}
}

// New binds a printer to the calling member of g.
func New(g comm.Group, ioRank int, opts ...Option) *Printer {
	p := &Printer{
		rank:   g.Rank(),
		ioRank: ioRank,
		out:    os.Stdout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Printer) IORank() int { return p.ioRank }

// IsIORank reports whether the calling member writes.
func (p *Printer) IsIORank() bool { return p.rank == p.ioRank }

// Echo writes line followed by a newline on the io rank.
func (p *Printer) Echo(line string) error {
	if !p.IsIORank() {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := fmt.Fprintln(p.out, line)
	return err
}

// Echof formats and echoes a line.
func (p *Printer) Echof(format string, args ...any) error {
	if !p.IsIORank() {
		return nil
	}
	return p.Echo(fmt.Sprintf(format, args...))
}
