package comm

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalWorld_AllReduce(t *testing.T) {
	groups, err := NewLocalWorld(4)
	require.NoError(t, err)

	var mu sync.Mutex
	got := make(map[int][]int64)
	err = Run(groups, func(g *LocalGroup) error {
		out, err := g.AllReduce([]int64{int64(g.Rank()), int64(10 * g.Rank())}, OpSum)
		if err != nil {
			return err
		}
		mu.Lock()
		got[g.Rank()] = out
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	require.Len(t, got, 4)
	for r, out := range got {
		assert.Equal(t, []int64{6, 60}, out, "rank %d", r)
	}
}

func TestLocalWorld_ReduceOnlyRootReceives(t *testing.T) {
	groups, err := NewLocalWorld(3)
	require.NoError(t, err)

	values := map[int]int64{0: 100, 1: 150, 2: 200}
	results := make([][]int64, 3)
	err = Run(groups, func(g *LocalGroup) error {
		var err error
		results[g.Rank()], err = g.Reduce([]int64{values[g.Rank()]}, OpMax, 1)
		return err
	})
	require.NoError(t, err)

	assert.Nil(t, results[0])
	assert.Equal(t, []int64{200}, results[1])
	assert.Nil(t, results[2])
}

func TestLocalWorld_SequenceOfCollectives(t *testing.T) {
	groups, err := NewLocalWorld(3)
	require.NoError(t, err)

	type triple struct{ min, sum, max int64 }
	var out triple
	err = Run(groups, func(g *LocalGroup) error {
		v := int64(g.Rank()+1) * 50
		lo, ok, err := ReduceInt(g, v, OpMin, 0)
		if err != nil {
			return err
		}
		sum, _, err := ReduceInt(g, v, OpSum, 0)
		if err != nil {
			return err
		}
		hi, _, err := ReduceInt(g, v, OpMax, 0)
		if err != nil {
			return err
		}
		if ok {
			out = triple{lo, sum, hi}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, triple{50, 300, 150}, out)
}

func TestLocalGroup_SparseRanks(t *testing.T) {
	groups, err := NewLocalGroup(7, 3, 5)
	require.NoError(t, err)

	mins := make([]int64, len(groups))
	err = Run(groups, func(g *LocalGroup) error {
		v, err := AllReduceInt(g, int64(g.Rank()), OpMin)
		for i, gg := range groups {
			if gg == g {
				mins[i] = v
			}
		}
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 3, 3}, mins)
	assert.Equal(t, 3, groups[0].Size())
}

func TestLocalGroup_Validation(t *testing.T) {
	_, err := NewLocalGroup()
	require.ErrorIs(t, err, ErrEmptyGroup)

	_, err = NewLocalGroup(1, 2, 1)
	require.ErrorIs(t, err, ErrDuplicateRank)

	_, err = NewLocalGroup(-1)
	require.ErrorIs(t, err, ErrInvalidRank)

	_, err = NewLocalWorld(0)
	require.ErrorIs(t, err, ErrEmptyGroup)
}

func TestLocalGroup_Mismatch(t *testing.T) {
	groups, err := NewLocalWorld(2)
	require.NoError(t, err)

	errs := make([]error, 2)
	_ = Run(groups, func(g *LocalGroup) error {
		op := OpMin
		if g.Rank() == 1 {
			op = OpMax
		}
		_, errs[g.Rank()] = g.AllReduce([]int64{1}, op)
		return nil
	})
	assert.ErrorIs(t, errs[0], ErrCollectiveMismatch)
	assert.ErrorIs(t, errs[1], ErrCollectiveMismatch)

	// The group stays usable for the next call.
	err = Run(groups, func(g *LocalGroup) error {
		_, err := g.AllReduce([]int64{1}, OpSum)
		return err
	})
	require.NoError(t, err)
}

func TestLocalGroup_InvalidRoot(t *testing.T) {
	groups, err := NewLocalWorld(2)
	require.NoError(t, err)

	err = Run(groups, func(g *LocalGroup) error {
		_, err := g.Reduce([]int64{1}, OpSum, 9)
		return err
	})
	require.ErrorIs(t, err, ErrInvalidRoot)
}

func TestSelf(t *testing.T) {
	g := Self()
	assert.Equal(t, 0, g.Rank())
	assert.Equal(t, 1, g.Size())

	out, ok, err := ReduceInt(g, 42, OpSum, 0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(42), out)
}

func TestOp(t *testing.T) {
	assert.Equal(t, int64(1), OpMin.Apply(1, 2))
	assert.Equal(t, int64(2), OpMax.Apply(1, 2))
	assert.Equal(t, int64(3), OpSum.Apply(1, 2))
	assert.Equal(t, "sum", OpSum.String())
	assert.False(t, Op(9).Valid())
}
