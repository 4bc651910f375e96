package domain

import (
	"fmt"
	"sync"
)

// CallBudget is a single-use admission token for the external classification
// call of one run. Consume succeeds at most Limit times.
type CallBudget struct {
	mu    sync.Mutex
	limit int
	used  int
}

func NewCallBudget(limit int) *CallBudget {
	if limit < 0 {
		limit = 0
	}
	return &CallBudget{limit: limit}
}

// SingleCallBudget is the budget every pipeline run gets.
func SingleCallBudget() *CallBudget {
	return NewCallBudget(1)
}

func (b *CallBudget) Consume() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.used >= b.limit {
		return WrapError(ErrCallBudgetExhausted, "consume call budget", fmt.Errorf("used %d of %d", b.used, b.limit))
	}
	b.used++
	return nil
}

func (b *CallBudget) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}

func (b *CallBudget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.limit - b.used
}
