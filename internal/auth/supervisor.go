package auth

import (
	"context"
	"sync"
)

// Supervisor keeps one maintenance loop running for the process. The loop
// ends itself after an auto logout; the next Wake starts a new one, so a
// later login is maintained again. Every start builds a fresh Maintainer so
// an exiting loop never shares state with its successor.
type Supervisor struct {
	ctx   context.Context
	build func() *Maintainer

	mu      sync.Mutex
	current *Maintainer
	dispose func()
	stopped bool
}

// NewSupervisor returns a Supervisor that builds loops with build and marks
// them ended when notifier emits SignalAutoLogout.
func NewSupervisor(ctx context.Context, notifier *Notifier, build func() *Maintainer) *Supervisor {
	s := &Supervisor{ctx: ctx, build: build}
	notifier.Subscribe(SignalAutoLogout, func(Signal) {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
	})
	return s
}

// Start launches a new loop, replacing the current one.
func (s *Supervisor) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dispose != nil {
		s.dispose()
	}
	s.current = s.build()
	s.dispose = s.current.Start(s.ctx)
	s.stopped = false
}

// Wake nudges the running loop, or starts a new one when the last loop ended.
func (s *Supervisor) Wake() {
	s.mu.Lock()
	cur, stopped := s.current, s.stopped
	s.mu.Unlock()
	if cur == nil || stopped {
		s.Start()
		return
	}
	cur.Wake()
}

func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dispose != nil {
		s.dispose()
		s.dispose = nil
	}
	s.current = nil
}
