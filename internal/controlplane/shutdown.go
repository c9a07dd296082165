package controlplane

import "sync"

// ShutdownSignal is raised once the agent acknowledges a kill. It is closed
// at most once and is safe for concurrent use.
type ShutdownSignal struct {
	once sync.Once
	done chan struct{}
}

// NewShutdownSignal returns a signal in the not-pending state.
func NewShutdownSignal() *ShutdownSignal {
	return &ShutdownSignal{done: make(chan struct{})}
}

// Trigger raises the signal. It reports whether this call raised it.
func (s *ShutdownSignal) Trigger() bool {
	raised := false
	s.once.Do(func() {
		close(s.done)
		raised = true
	})
	return raised
}

// Pending reports whether the signal has been raised.
func (s *ShutdownSignal) Pending() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Done is closed when the signal is raised.
func (s *ShutdownSignal) Done() <-chan struct{} {
	return s.done
}
