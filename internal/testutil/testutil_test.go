package testutil

import (
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_PeakAndOverlap(t *testing.T) {
	p := NewTracker()

	var wg sync.WaitGroup
	release := make(chan struct{})
	for _, name := range []string{"a", "b"} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			leave := p.Enter(name)
			<-release
			leave()
		}(name)
	}
	require.Eventually(t, func() bool { return p.running.Load() == 2 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	leave := p.Enter("c")
	leave()

	assert.Equal(t, 2, p.Peak())
	assert.True(t, p.Overlapped("a", "b"))
	assert.False(t, p.Overlapped("a", "c"))
	assert.False(t, p.Overlapped("a", "missing"))
	assert.Nil(t, p.Record("missing"))
}

func TestAsInts(t *testing.T) {
	levels := [][]*big.Int{{big.NewInt(1), big.NewInt(2)}, {big.NewInt(3)}}
	assert.Equal(t, [][]int64{{1, 2}, {3}}, AsInts(levels))
	assert.Empty(t, AsInts(nil))
	assert.True(t, AssertLevels(t, [][]int64{{1, 2}, {3}}, levels))
}
