package parallel

import (
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForFillsEveryIndex(t *testing.T) {
	for _, workers := range []int{0, 1, 3, 8, 100} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			out := make([]int, 37)
			err := For(len(out), workers, func(i int) error {
				out[i] = i * i
				return nil
			})
			require.NoError(t, err)
			for i, v := range out {
				assert.Equal(t, i*i, v)
			}
		})
	}
}

func TestForReturnsLowestIndexError(t *testing.T) {
	errA := errors.New("a")
	errB := errors.New("b")
	err := For(20, 4, func(i int) error {
		switch i {
		case 7:
			return errA
		case 15:
			return errB
		}
		return nil
	})
	assert.ErrorIs(t, err, errA)
}

func TestForZeroTasks(t *testing.T) {
	called := false
	err := For(0, 4, func(int) error {
		called = true
		return nil
	})
	assert.NoError(t, err)
	assert.False(t, called)
}

func TestForBoundsConcurrency(t *testing.T) {
	var active, peak atomic.Int32
	err := For(64, 3, func(int) error {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		active.Add(-1)
		return nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.GreaterOrEqual(t, peak.Load(), int32(1))
}
