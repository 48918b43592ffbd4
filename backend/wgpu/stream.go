package wgpu

import (
	"sync"

	"github.com/gogpu/volren/device"
)

// stream runs queued work for one device in order on one goroutine.
type stream struct {
	gpu  *gpuDevice
	ops  chan func() error
	done chan struct{}

	// mu guards closed against concurrent enqueue and stop.
	mu     sync.RWMutex
	closed bool

	errMu sync.Mutex
	err   error
}

func newStream(g *gpuDevice) *stream {
	s := &stream{
		gpu:  g,
		ops:  make(chan func() error, queueDepth),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *stream) run() {
	defer close(s.done)
	for op := range s.ops {
		if err := op(); err != nil {
			s.errMu.Lock()
			if s.err == nil {
				s.err = err
			}
			s.errMu.Unlock()
		}
	}
}

func (s *stream) enqueue(op func() error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return device.ErrUnknownStream
	}
	s.ops <- op
	return nil
}

// synchronize waits for a barrier and returns the first error since the
// previous synchronize.
func (s *stream) synchronize() error {
	barrier := make(chan struct{})
	if err := s.enqueue(func() error {
		close(barrier)
		return nil
	}); err != nil {
		return err
	}
	<-barrier

	s.errMu.Lock()
	defer s.errMu.Unlock()
	err := s.err
	s.err = nil
	return err
}

func (s *stream) stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.ops)
	s.mu.Unlock()
	<-s.done
}
