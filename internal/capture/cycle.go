package capture

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Cycle is the handle of one started capture. Its result is set exactly once.
type Cycle struct {
	id     uuid.UUID
	kind   Kind
	done   chan struct{}
	once   sync.Once
	result Result
}

func newCycle(kind Kind) *Cycle {
	return &Cycle{id: uuid.New(), kind: kind, done: make(chan struct{})}
}

func (c *Cycle) ID() uuid.UUID { return c.id }

func (c *Cycle) Kind() Kind { return c.kind }

// Done is closed when the result is available.
func (c *Cycle) Done() <-chan struct{} { return c.done }

// Result returns the outcome if the cycle has completed.
func (c *Cycle) Result() (Result, bool) {
	select {
	case <-c.done:
		return c.result, true
	default:
		return Result{}, false
	}
}

// Wait blocks until the cycle completes or ctx ends.
func (c *Cycle) Wait(ctx context.Context) (Result, error) {
	select {
	case <-c.done:
		return c.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (c *Cycle) complete(r Result) bool {
	delivered := false
	c.once.Do(func() {
		c.result = r
		close(c.done)
		delivered = true
	})
	return delivered
}
