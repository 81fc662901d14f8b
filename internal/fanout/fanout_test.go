package fanout

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunPreservesIndexOrder(t *testing.T) {
	n := 50
	out := make([]int, n)
	errs := Run(context.Background(), n, 6, func(ctx context.Context, i int) error {
		// Later indexes finish first
		time.Sleep(time.Duration(n-i) * 100 * time.Microsecond)
		out[i] = i * i
		return nil
	})

	assert.Equal(t, n, Count(errs))
	for i := range out {
		assert.Equal(t, i*i, out[i])
	}
}

func TestRunBoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	Run(context.Background(), 40, 4, func(ctx context.Context, i int) error {
		cur := inFlight.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		inFlight.Add(-1)
		return nil
	})
	assert.LessOrEqual(t, peak.Load(), int32(4))
}

func TestRunFailureDoesNotAbortSiblings(t *testing.T) {
	boom := errors.New("boom")
	errs := Run(context.Background(), 10, 3, func(ctx context.Context, i int) error {
		if i%3 == 0 {
			return boom
		}
		return nil
	})
	assert.Equal(t, 6, Count(errs))
	assert.ErrorIs(t, errs[0], boom)
	assert.ErrorIs(t, errs[9], boom)
	assert.NoError(t, errs[1])
}

func TestRunDrainsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var started atomic.Int32
	errs := Run(ctx, 100, 2, func(ctx context.Context, i int) error {
		started.Add(1)
		if i == 3 {
			cancel()
		}
		time.Sleep(time.Millisecond)
		return nil
	})

	// Units in flight at cancellation finish; the rest never start
	assert.Less(t, started.Load(), int32(100))
	assert.Equal(t, int(started.Load()), Count(errs))
	assert.ErrorIs(t, errs[99], context.Canceled)
}

func TestRunEmpty(t *testing.T) {
	assert.Empty(t, Run(context.Background(), 0, 3, nil))
}
