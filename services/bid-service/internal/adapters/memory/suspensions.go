package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Suspensions is an in-memory suspension registry.
type Suspensions struct {
	mu    sync.RWMutex
	until map[uuid.UUID]time.Time
	now   func() time.Time
}

func NewSuspensions() *Suspensions {
	return &Suspensions{until: make(map[uuid.UUID]time.Time), now: time.Now}
}

func (s *Suspensions) Suspend(_ context.Context, userID uuid.UUID, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.until[userID] = until
	return nil
}

func (s *Suspensions) Reinstate(_ context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.until, userID)
	return nil
}

func (s *Suspensions) IsSuspended(_ context.Context, userID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	until, ok := s.until[userID]
	return ok && s.now().Before(until), nil
}
