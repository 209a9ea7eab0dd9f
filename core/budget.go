package core

import (
	"fmt"
	"sync/atomic"
)

// CallBudget caps the model calls one agent run may spend. A zero budget is
// unbounded. Safe for concurrent use.
type CallBudget struct {
	limit int64
	used  atomic.Int64
}

// NewCallBudget returns a budget of limit calls.
func NewCallBudget(limit int) *CallBudget {
	return &CallBudget{limit: int64(max(limit, 0))}
}

// Spend records one call and fails with ErrStepLimit once the budget is
// exhausted.
func (b *CallBudget) Spend() error {
	n := b.used.Add(1)
	if b.limit > 0 && n > b.limit {
		return fmt.Errorf("%w: max %d", ErrStepLimit, b.limit)
	}

	return nil
}

// Used returns the calls spent so far, including rejected ones.
func (b *CallBudget) Used() int { return int(b.used.Load()) }

// Left returns the calls still available, or -1 when unbounded.
func (b *CallBudget) Left() int {
	if b.limit == 0 {
		return -1
	}

	return int(max(b.limit-b.used.Load(), 0))
}
