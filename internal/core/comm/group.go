// Package comm defines the process-group handle that the solver core
// reduces over, plus an in-process implementation where every rank is a
// goroutine.
//
// All reductions are collective: every member of a group must issue the
// same collective calls, the same number of times, in the same order. A
// member that skips a call stalls the rest of the group forever. There is no
// timeout and no cancellation; recovery is the job of whatever runs the
// processes.
package comm

import "fmt"

// Op is a reduction operator.
type Op uint8

const (
	OpMin Op = iota
	OpMax
	OpSum
)

func (o Op) String() string {
	switch o {
	case OpMin:
		return "min"
	case OpMax:
		return "max"
	case OpSum:
		return "sum"
	default:
		return fmt.Sprintf("op(%d)", uint8(o))
	}
}

// Valid reports whether o is one of the known operators.
func (o Op) Valid() bool {
	return o <= OpSum
}

// Apply combines two values with the operator.
func (o Op) Apply(a, b int64) int64 {
	switch o {
	case OpMin:
		return min(a, b)
	case OpMax:
		return max(a, b)
	default:
		return a + b
	}
}

// Group is a set of cooperating ranks capable of collective reductions.
//
// Rank returns the identifier of the calling member. Ranks are not required
// to be dense: a group split off a larger world keeps the world ranks of its
// members, so the smallest member is not necessarily rank 0.
//
// Reduce combines values elementwise across all members and delivers the
// result to root only; every other member receives a nil slice. AllReduce
// delivers the result to every member. Both block until all members join.
type Group interface {
	Rank() int
	Size() int
	Reduce(values []int64, op Op, root int) ([]int64, error)
	AllReduce(values []int64, op Op) ([]int64, error)
}

// ReduceInt reduces a single value to root. The boolean is true only on root.
func ReduceInt(g Group, value int64, op Op, root int) (int64, bool, error) {
	out, err := g.Reduce([]int64{value}, op, root)
	if err != nil {
		return 0, false, err
	}
	if out == nil {
		return 0, false, nil
	}
	return out[0], true, nil
}

// AllReduceInt reduces a single value and returns the result on every member.
func AllReduceInt(g Group, value int64, op Op) (int64, error) {
	out, err := g.AllReduce([]int64{value}, op)
	if err != nil {
		return 0, err
	}
	return out[0], nil
}
