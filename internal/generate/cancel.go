package generate

import (
	"context"
	"sync"
)

// runToken identifies one in-flight run so a finished run cannot clear a
// newer run's cancellation handle.
type runToken struct {
	cancel context.CancelFunc
}

// canceller hands out one cancellation token per identity. Starting a new run
// pre-empts any run still in flight for the same identity.
type canceller struct {
	mu       sync.Mutex
	inFlight map[string]*runToken
}

func newCanceller() *canceller {
	return &canceller{inFlight: make(map[string]*runToken)}
}

// begin derives a cancellable context for identity's next run, cancelling the
// previous one if it is still outstanding.
func (c *canceller) begin(parent context.Context, identity string) (context.Context, *runToken) {
	ctx, cancel := context.WithCancel(parent)
	token := &runToken{cancel: cancel}

	c.mu.Lock()
	if prev, ok := c.inFlight[identity]; ok {
		prev.cancel()
	}
	c.inFlight[identity] = token
	c.mu.Unlock()

	return ctx, token
}

// cancel pre-empts identity's in-flight run, if any. Reports whether a run
// was outstanding.
func (c *canceller) cancel(identity string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	token, ok := c.inFlight[identity]
	if !ok {
		return false
	}
	token.cancel()
	delete(c.inFlight, identity)
	return true
}

// finish releases the run's context and clears its handle unless a newer run
// has replaced it.
func (c *canceller) finish(identity string, token *runToken) {
	token.cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	if stored, ok := c.inFlight[identity]; ok && stored == token {
		delete(c.inFlight, identity)
	}
}
