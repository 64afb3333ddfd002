package speech

import "sync"

// SwitchSink forwards to a replaceable inner sink. Audio written while no
// inner sink is attached is discarded, so an output port can be built before
// its transport exists.
type SwitchSink struct {
	mu    sync.Mutex
	inner Sink
}

func NewSwitchSink() *SwitchSink { return &SwitchSink{} }

// Attach installs the inner sink, replacing any previous one.
func (s *SwitchSink) Attach(inner Sink) {
	s.mu.Lock()
	s.inner = inner
	s.mu.Unlock()
}

// Detach drops the inner sink; subsequent writes are discarded.
func (s *SwitchSink) Detach() {
	s.mu.Lock()
	s.inner = nil
	s.mu.Unlock()
}

func (s *SwitchSink) current() Sink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner
}

func (s *SwitchSink) WritePCM(pcm []byte) {
	if inner := s.current(); inner != nil {
		inner.WritePCM(pcm)
	}
}

func (s *SwitchSink) FlushTail() {
	if inner := s.current(); inner != nil {
		inner.FlushTail()
	}
}

func (s *SwitchSink) Reset() {
	if inner := s.current(); inner != nil {
		inner.Reset()
	}
}
