package comm

import "slices"

// Kind distinguishes targeted reductions from all-reductions.
type Kind uint8

const (
	KindReduce Kind = iota
	KindAllReduce
)

func (k Kind) String() string {
	if k == KindAllReduce {
		return "allreduce"
	}
	return "reduce"
}

// Collective accumulates the contributions of one collective call. The first
// contribution fixes kind, operator, root and vector length; any later
// contribution that disagrees poisons the call with ErrCollectiveMismatch.
// It is not safe for concurrent use.
type Collective struct {
	kind    Kind
	op      Op
	root    int
	size    int
	arrived int
	acc     []int64
	err     error
}

// NewCollective starts accumulating a call expected from size members.
// isMember validates the root of targeted reductions.
func NewCollective(kind Kind, op Op, root int, size int, isMember func(rank int) bool) *Collective {
	c := &Collective{kind: kind, op: op, root: root, size: size}
	switch {
	case !op.Valid():
		c.err = ErrInvalidOp
	case kind == KindReduce && !isMember(root):
		c.err = ErrInvalidRoot
	}
	return c
}

// Contribute folds one member's values into the call.
func (c *Collective) Contribute(kind Kind, op Op, root int, values []int64) {
	c.arrived++
	if c.err != nil {
		return
	}
	if kind != c.kind || op != c.op || (kind == KindReduce && root != c.root) {
		c.err = ErrCollectiveMismatch
		return
	}
	if c.acc == nil {
		c.acc = slices.Clone(values)
		if c.acc == nil {
			c.acc = []int64{}
		}
		return
	}
	if len(values) != len(c.acc) {
		c.err = ErrCollectiveMismatch
		return
	}
	for i, v := range values {
		c.acc[i] = c.op.Apply(c.acc[i], v)
	}
}

// Complete reports whether every member has contributed.
func (c *Collective) Complete() bool {
	return c.arrived >= c.size
}

// Kind returns the kind fixed by the first contribution.
func (c *Collective) Kind() Kind { return c.kind }

// Root returns the target rank of a reduction.
func (c *Collective) Root() int { return c.root }

// ResultFor returns what the given rank receives once the call is complete:
// the reduced vector on root (or everywhere for all-reductions), nil
// elsewhere.
func (c *Collective) ResultFor(rank int) ([]int64, error) {
	if c.err != nil {
		return nil, c.err
	}
	if c.kind == KindReduce && rank != c.root {
		return nil, nil
	}
	return slices.Clone(c.acc), nil
}
