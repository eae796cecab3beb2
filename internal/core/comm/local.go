package comm

import (
	"fmt"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"
)

var _ Group = (*LocalGroup)(nil)

// world is the rendezvous point shared by every member of an in-process
// group. Collective calls are matched by per-member sequence number.
type world struct {
	mu      sync.Mutex
	cond    *sync.Cond
	ranks   []int
	members map[int]struct{}
	calls   map[uint64]*localCall
}

type localCall struct {
	collective *Collective
	left       int
}

// LocalGroup is one member of an in-process group. Each LocalGroup must be
// driven by a single goroutine.
type LocalGroup struct {
	w    *world
	rank int
	seq  uint64
}

// NewLocalWorld builds an in-process group of the given size with dense
// ranks 0..size-1.
func NewLocalWorld(size int) ([]*LocalGroup, error) {
	if size <= 0 {
		return nil, ErrEmptyGroup
	}
	ranks := make([]int, size)
	for i := range ranks {
		ranks[i] = i
	}
	return NewLocalGroup(ranks...)
}

// NewLocalGroup builds an in-process group whose members carry the given
// rank identifiers, as when a group is split off a larger world.
func NewLocalGroup(ranks ...int) ([]*LocalGroup, error) {
	if len(ranks) == 0 {
		return nil, ErrEmptyGroup
	}
	w := &world{
		ranks:   slices.Clone(ranks),
		members: make(map[int]struct{}, len(ranks)),
		calls:   make(map[uint64]*localCall),
	}
	w.cond = sync.NewCond(&w.mu)

	groups := make([]*LocalGroup, 0, len(ranks))
	for _, r := range ranks {
		if r < 0 {
			return nil, fmt.Errorf("%w: %d", ErrInvalidRank, r)
		}
		if _, dup := w.members[r]; dup {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateRank, r)
		}
		w.members[r] = struct{}{}
		groups = append(groups, &LocalGroup{w: w, rank: r})
	}
	return groups, nil
}

// Self returns a single-member group with rank 0.
func Self() *LocalGroup {
	g, _ := NewLocalWorld(1)
	return g[0]
}

func (g *LocalGroup) Rank() int { return g.rank }

func (g *LocalGroup) Size() int { return len(g.w.ranks) }

// Ranks returns the member identifiers in construction order.
func (g *LocalGroup) Ranks() []int { return slices.Clone(g.w.ranks) }

func (g *LocalGroup) Reduce(values []int64, op Op, root int) ([]int64, error) {
	return g.collective(KindReduce, values, op, root)
}

func (g *LocalGroup) AllReduce(values []int64, op Op) ([]int64, error) {
	return g.collective(KindAllReduce, values, op, -1)
}

func (g *LocalGroup) collective(kind Kind, values []int64, op Op, root int) ([]int64, error) {
	w := g.w
	seq := g.seq
	g.seq++

	w.mu.Lock()
	defer w.mu.Unlock()

	call, ok := w.calls[seq]
	if !ok {
		call = &localCall{collective: NewCollective(kind, op, root, len(w.ranks), w.isMember)}
		w.calls[seq] = call
	}
	call.collective.Contribute(kind, op, root, values)
	if call.collective.Complete() {
		w.cond.Broadcast()
	}
	for !call.collective.Complete() {
		w.cond.Wait()
	}

	call.left++
	if call.left == len(w.ranks) {
		delete(w.calls, seq)
	}
	return call.collective.ResultFor(g.rank)
}

func (w *world) isMember(rank int) bool {
	_, ok := w.members[rank]
	return ok
}

// Run drives fn once per member, each on its own goroutine, and waits for
// all of them. The first error is returned. A member that fails before a
// collective the others are waiting on leaves them blocked, so fn should
// only fail at points every member fails at.
func Run[G Group](groups []G, fn func(g G) error) error {
	var eg errgroup.Group
	for _, g := range groups {
		g := g
		eg.Go(func() error {
			return fn(g)
		})
	}
	return eg.Wait()
}
