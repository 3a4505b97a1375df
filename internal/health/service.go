package health

import (
	"context"
	"sync"
)

// Check reports whether a dependency is usable. A nil error means healthy.
type Check func(ctx context.Context) error

// Service tracks process liveness and the dependency checks reported by /health.
type Service struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	checks map[string]Check
}

// NewService returns a service that reports shutting down once parent is cancelled
// or Shutdown is called.
func NewService(parent context.Context) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		ctx:    ctx,
		cancel: cancel,
		checks: make(map[string]Check),
	}
}

// AddCheck registers a named dependency check.
func (s *Service) AddCheck(name string, check Check) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = check
}

func (s *Service) Shutdown() {
	s.cancel()
}

func (s *Service) IsShuttingDown() bool {
	select {
	case <-s.ctx.Done():
		return true
	default:
		return false
	}
}

// Context returns the service context for use in operations
func (s *Service) Context() context.Context {
	return s.ctx
}

// Run evaluates every check and returns the failures keyed by name.
func (s *Service) Run(ctx context.Context) map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	failures := make(map[string]string)
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			failures[name] = err.Error()
		}
	}
	return failures
}
