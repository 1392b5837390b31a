package debate

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Coordinator serializes mutations per debate and implements the wait/notify
// primitive behind long polling. Entries are created on first use and
// dropped once nothing holds, queues for, or waits on them.
type Coordinator struct {
	mu      sync.Mutex
	entries map[string]*coordinatorEntry
}

type coordinatorEntry struct {
	held    bool
	queue   []chan struct{}
	waiters map[*Waiter]struct{}
}

type CoordinatorStats struct {
	Debates int `json:"debates"`
	Waiters int `json:"waiters"`
	Queued  int `json:"queued"`
}

// Waiter is a registration for the next notification on one debate.
type Waiter struct {
	coordinator *Coordinator
	debateID    string
	signal      chan struct{}
}

func NewCoordinator() *Coordinator {
	return &Coordinator{entries: map[string]*coordinatorEntry{}}
}

// WithLock runs fn while holding the debate's lock. Acquisition is FIFO per
// debate; a caller whose ctx ends while queued gives up its place and never
// runs fn. The lock is released even if fn panics.
func (c *Coordinator) WithLock(ctx context.Context, debateID string, fn func() error) error {
	if err := c.acquire(ctx, debateID); err != nil {
		return err
	}
	defer c.release(debateID)
	return fn()
}

func (c *Coordinator) acquire(ctx context.Context, debateID string) error {
	c.mu.Lock()
	entry := c.entryLocked(debateID)
	if !entry.held && len(entry.queue) == 0 {
		entry.held = true
		c.mu.Unlock()
		return nil
	}
	ticket := make(chan struct{})
	entry.queue = append(entry.queue, ticket)
	c.mu.Unlock()

	select {
	case <-ticket:
		return nil
	case <-ctx.Done():
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-ticket:
		// Granted while we were giving up; pass it on.
		c.releaseLocked(debateID, entry)
		return ctx.Err()
	default:
	}
	for i, queued := range entry.queue {
		if queued == ticket {
			entry.queue = append(entry.queue[:i], entry.queue[i+1:]...)
			break
		}
	}
	c.collectLocked(debateID, entry)
	return ctx.Err()
}

func (c *Coordinator) release(debateID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[debateID]
	if !ok {
		return
	}
	c.releaseLocked(debateID, entry)
}

func (c *Coordinator) releaseLocked(debateID string, entry *coordinatorEntry) {
	if len(entry.queue) > 0 {
		next := entry.queue[0]
		entry.queue = entry.queue[1:]
		close(next)
		return
	}
	entry.held = false
	c.collectLocked(debateID, entry)
}

// Register adds a waiter for debateID. Callers check for new data after
// registering and before calling Wait, so a commit that lands in between is
// not missed.
func (c *Coordinator) Register(debateID string) *Waiter {
	waiter := &Waiter{
		coordinator: c,
		debateID:    debateID,
		signal:      make(chan struct{}),
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entryLocked(debateID).waiters[waiter] = struct{}{}
	return waiter
}

// Wait blocks until the waiter is notified, timeout elapses, or ctx ends.
// It reports whether a notification arrived. The waiter is unregistered on
// return.
func (w *Waiter) Wait(ctx context.Context, timeout time.Duration) bool {
	defer w.Cancel()
	if timeout <= 0 {
		select {
		case <-w.signal:
			return true
		default:
			return false
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-w.signal:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func (w *Waiter) Cancel() {
	c := w.coordinator
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[w.debateID]
	if !ok {
		return
	}
	delete(entry.waiters, w)
	c.collectLocked(w.debateID, entry)
}

// WaitForArgument registers and waits in one step.
func (c *Coordinator) WaitForArgument(ctx context.Context, debateID string, timeout time.Duration) bool {
	return c.Register(debateID).Wait(ctx, timeout)
}

// NotifyNewArgument wakes every waiter currently registered for debateID.
func (c *Coordinator) NotifyNewArgument(debateID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[debateID]
	if !ok {
		return
	}
	for waiter := range entry.waiters {
		close(waiter.signal)
	}
	entry.waiters = map[*Waiter]struct{}{}
	c.collectLocked(debateID, entry)
}

// WaitingDebateIDs lists debates that currently have at least one waiter.
func (c *Coordinator) WaitingDebateIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.entries))
	for id, entry := range c.entries {
		if len(entry.waiters) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (c *Coordinator) Stats() CoordinatorStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := CoordinatorStats{Debates: len(c.entries)}
	for _, entry := range c.entries {
		stats.Waiters += len(entry.waiters)
		stats.Queued += len(entry.queue)
	}
	return stats
}

func (c *Coordinator) entryLocked(debateID string) *coordinatorEntry {
	entry, ok := c.entries[debateID]
	if !ok {
		entry = &coordinatorEntry{waiters: map[*Waiter]struct{}{}}
		c.entries[debateID] = entry
	}
	return entry
}

func (c *Coordinator) collectLocked(debateID string, entry *coordinatorEntry) {
	if entry.held || len(entry.queue) > 0 || len(entry.waiters) > 0 {
		return
	}
	if current, ok := c.entries[debateID]; ok && current == entry {
		delete(c.entries, debateID)
	}
}
