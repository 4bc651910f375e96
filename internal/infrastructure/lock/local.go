// Package lock serializes pipeline runs per project.
package lock

import (
	"context"
	"fmt"
	"sync"

	"github.com/kirillkom/opinion-analyzer/internal/core/domain"
)

// LocalLocker holds run locks in process memory. It only serializes runs
// within one process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

func (l *LocalLocker) Acquire(_ context.Context, projectID string) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[projectID]; ok {
		return nil, domain.WrapError(domain.ErrRunInProgress, "acquire run lock", fmt.Errorf("project %s", projectID))
	}
	l.held[projectID] = struct{}{}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, projectID)
			l.mu.Unlock()
		})
		return nil
	}, nil
}
