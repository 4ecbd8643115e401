package indexer

import "sync"

// Cursor tracks the next ledger sequence to poll from. The watcher that
// owns it is the only writer; anything else reads.
type Cursor struct {
	mu      sync.Mutex
	current uint64
}

func NewCursor(start uint64) *Cursor {
	return &Cursor{current: start}
}

// Current returns the next ledger the owner will poll from.
func (c *Cursor) Current() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// AdvanceTo moves the cursor forward. Moves backwards or in place are
// ignored, so replayed batches can never rewind the stream position.
func (c *Cursor) AdvanceTo(n uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n <= c.current {
		return false
	}
	c.current = n
	return true
}
