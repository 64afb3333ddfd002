package speech

import (
	"log"
	"strings"
	"sync"
)

// InputPort drives at most one speech capture at a time. A resolved capture
// hands its transcript to the submit callback and returns to idle on its own;
// backend errors raise a recoverable notice and never end the session.
type InputPort struct {
	newRecognizer RecognizerFactory
	onResolve     func(text string)
	onError       func(err error)

	mu      sync.Mutex
	session *captureSession
}

type captureSession struct {
	rec       Recognizer
	cancelled bool
	segments  []string
}

func NewInputPort(factory RecognizerFactory, onResolve func(string), onError func(error)) *InputPort {
	return &InputPort{newRecognizer: factory, onResolve: onResolve, onError: onError}
}

// Start begins a capture. It fails with ErrUnsupported when no backend is
// available and with ErrAlreadyCapturing when a capture is live.
func (p *InputPort) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.newRecognizer == nil {
		return ErrUnsupported
	}
	if p.session != nil {
		return ErrAlreadyCapturing
	}
	rec := p.newRecognizer()
	if err := rec.Connect(); err != nil {
		return err
	}
	sess := &captureSession{rec: rec}
	p.session = sess
	go p.run(sess)
	return nil
}

func (p *InputPort) run(sess *captureSession) {
	segCh := sess.rec.Segments()
	for {
		select {
		case seg, ok := <-segCh:
			if !ok {
				segCh = nil
				continue
			}
			p.mu.Lock()
			if !sess.cancelled {
				sess.segments = append(sess.segments, seg)
			}
			p.mu.Unlock()
		case err := <-sess.rec.Done():
			p.drain(sess, segCh)
			p.finish(sess, err)
			return
		}
	}
}

// drain consumes segments already delivered when the backend finished, so
// they are not lost to select ordering.
func (p *InputPort) drain(sess *captureSession, segCh <-chan string) {
	for {
		select {
		case seg, ok := <-segCh:
			if !ok {
				return
			}
			p.mu.Lock()
			if !sess.cancelled {
				sess.segments = append(sess.segments, seg)
			}
			p.mu.Unlock()
		default:
			return
		}
	}
}

// finish resolves or errors the capture and always returns the port to idle.
func (p *InputPort) finish(sess *captureSession, err error) {
	p.mu.Lock()
	cancelled := sess.cancelled
	transcript := strings.TrimSpace(strings.Join(sess.segments, " "))
	if p.session == sess {
		p.session = nil
	}
	p.mu.Unlock()

	_ = sess.rec.Close()
	if cancelled {
		return
	}
	if err != nil {
		log.Printf("speech capture error: %v", err)
		if p.onError != nil {
			p.onError(err)
		}
		return
	}
	if transcript != "" && p.onResolve != nil {
		p.onResolve(transcript)
	}
}

// Finish ends the live capture and lets it resolve whatever was heard. The
// backend's shutdown drives the resolution, so segments already in flight
// still land in the transcript.
func (p *InputPort) Finish() {
	p.mu.Lock()
	sess := p.session
	p.mu.Unlock()
	if sess != nil {
		_ = sess.rec.Close()
	}
}

// Stop cancels the live capture without producing a transcript. It is always
// legal; stopping an idle port is a no-op.
func (p *InputPort) Stop() {
	p.mu.Lock()
	sess := p.session
	if sess != nil {
		sess.cancelled = true
		p.session = nil
	}
	p.mu.Unlock()
	if sess != nil {
		_ = sess.rec.Close()
	}
}

// Capturing reports whether a capture session is live.
func (p *InputPort) Capturing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session != nil
}

// Feed forwards input audio to the live capture, if any.
func (p *InputPort) Feed(pcm []byte) {
	p.mu.Lock()
	sess := p.session
	p.mu.Unlock()
	if sess != nil {
		_ = sess.rec.SendPCM16KLE(pcm)
	}
}
