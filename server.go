package sidekiq

import (
	"context"
	"sync"
)

// Server runs a Processor in the background.
type Server struct {
	p   *Processor
	log Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
	active  int
	err     error
}

// NewServer wraps a configured processor.
func NewServer(p *Processor) *Server {
	return &Server{p: p, log: p.log}
}

// Start launches the processor and its promoters.
// It is idempotent and non-blocking.
func (s *Server) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		s.log.Warnf("server already started; ignoring Start()")
		return
	}
	s.started = true
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		n, err := s.p.Run(ctx)
		s.mu.Lock()
		s.active, s.err = n, err
		s.mu.Unlock()
	}(s.done)
}

// Stop stops fetching, waits for in-flight jobs to finish and returns how
// many were in flight when it was called.
func (s *Server) Stop() (int, error) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		s.log.Warnf("server not started; ignoring Stop()")
		return 0, nil
	}
	s.started = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	s.log.Infof("stopping server")
	cancel()
	<-done

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, s.err
}
