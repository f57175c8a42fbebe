package rolesync

import (
	"sync"

	"github.com/dalemusser/chatdesk/internal/app/system/identity"
	"github.com/dalemusser/chatdesk/internal/domain/models"
)

// State is the value held by a Cell.
type State struct {
	// Principal is nil when signed out.
	Principal *identity.Principal
	// Role is empty while unresolved, when signed out, and when the
	// principal has no record.
	Role models.Role
	// Resolved is false while a resolution for Principal is in flight.
	Resolved bool
	// Missing is set when the principal's record does not exist.
	Missing bool
	// Err is the last resolution failure, if any.
	Err error
}

// SignedIn reports whether a principal is present.
func (s State) SignedIn() bool { return s.Principal != nil }

// Cell holds one State and notifies watchers of every change. Each watcher
// sees the latest value; intermediate values may be skipped.
type Cell struct {
	mu       sync.Mutex
	v        State
	watchers map[int]chan State
	next     int
	closed   bool
}

// NewCell returns a cell in the signed-out, resolved state.
func NewCell() *Cell {
	return &Cell{v: State{Resolved: true}, watchers: make(map[int]chan State)}
}

func (c *Cell) Get() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.v
}

func (c *Cell) Set(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.v = s
	for _, ch := range c.watchers {
		replace(ch, s)
	}
}

// Watch returns a channel that receives the current value immediately and
// every later value, and a function that ends the watch. The channel is
// closed when the watch ends or the cell is closed.
func (c *Cell) Watch() (<-chan State, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan State, 1)
	if c.closed {
		close(ch)
		return ch, func() {}
	}
	id := c.next
	c.next++
	c.watchers[id] = ch
	ch <- c.v

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if w, ok := c.watchers[id]; ok {
				delete(c.watchers, id)
				close(w)
			}
		})
	}
}

// Close ends every watch. Later Sets are ignored.
func (c *Cell) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for id, ch := range c.watchers {
		delete(c.watchers, id)
		close(ch)
	}
}

// replace drops any unread value so the buffer holds only the newest.
func replace(ch chan State, s State) {
	select {
	case <-ch:
	default:
	}
	ch <- s
}
