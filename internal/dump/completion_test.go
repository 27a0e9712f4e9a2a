package dump

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompletionEmpty(t *testing.T) {
	c := newCompletion()
	require.True(t, c.done())
	c.expect("a", 0)
	require.True(t, c.done())
	require.Empty(t, c.pending())
}

func TestCompletionSteps(t *testing.T) {
	c := newCompletion()
	c.expect("a", 2)
	c.expect("b", 1)
	require.False(t, c.done())
	require.Equal(t, []string{"a", "b"}, c.pending())

	storeDone, allDone, err := c.step("b")
	require.NoError(t, err)
	require.True(t, storeDone)
	require.False(t, allDone)

	storeDone, allDone, err = c.step("a")
	require.NoError(t, err)
	require.False(t, storeDone)
	require.False(t, allDone)
	require.Equal(t, []string{"a"}, c.pending())

	storeDone, allDone, err = c.step("a")
	require.NoError(t, err)
	require.True(t, storeDone)
	require.True(t, allDone)
	require.True(t, c.done())
}

func TestCompletionUnexpectedStep(t *testing.T) {
	c := newCompletion()
	c.expect("a", 1)

	_, _, err := c.step("zz")
	require.Error(t, err)

	_, _, err = c.step("a")
	require.NoError(t, err)
	_, _, err = c.step("a")
	require.Error(t, err)
}

func TestCompletionConcurrent(t *testing.T) {
	const stores, steps = 8, 100
	c := newCompletion()
	names := make([]string, stores)
	for i := range names {
		names[i] = string(rune('a' + i))
		c.expect(names[i], steps)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		finished int
		allDone  int
	)
	for _, name := range names {
		name := name
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < steps; j++ {
				sd, ad, err := c.step(name)
				if err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				if sd {
					finished++
				}
				if ad {
					allDone++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, stores, finished)
	require.Equal(t, 1, allDone)
	require.True(t, c.done())
}
