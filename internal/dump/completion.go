package dump

import (
	"fmt"
	"sort"
	"sync"
)

// completion counts outstanding work per store. Stores report steps in any
// order and from any goroutine; the set is done once every expected step of
// every store has been reported. A store expecting zero steps is done from
// the start.
type completion struct {
	mu        sync.Mutex
	remaining map[string]int
	open      int
}

func newCompletion() *completion {
	return &completion{remaining: make(map[string]int)}
}

// expect registers n pending steps for store.
func (c *completion) expect(store string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n <= 0 {
		return
	}
	if c.remaining[store] == 0 {
		c.open++
	}
	c.remaining[store] += n
}

// step records one finished step for store. storeDone is true for the step
// that finishes the store, allDone for the step that finishes the set.
func (c *completion) step(store string) (storeDone, allDone bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.remaining[store]
	if !ok || n == 0 {
		return false, false, fmt.Errorf("unexpected completion for store %q", store)
	}
	n--
	c.remaining[store] = n
	if n > 0 {
		return false, false, nil
	}
	c.open--
	return true, c.open == 0, nil
}

func (c *completion) done() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open == 0
}

// pending returns the stores with steps outstanding, sorted.
func (c *completion) pending() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for name, n := range c.remaining {
		if n > 0 {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
