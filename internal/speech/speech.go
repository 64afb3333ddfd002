// Package speech holds the capture and playback ports the dialog controller
// talks to. Backends (recognizer, synthesizer, audio sink) are injected; the
// ports own only the session state machines.
package speech

import (
	"context"
	"errors"
)

var (
	// ErrUnsupported is returned by Start when no recognition backend is
	// available. The affected control should be disabled, not the session.
	ErrUnsupported = errors.New("speech: recognition not supported")
	// ErrAlreadyCapturing guards against a second concurrent capture. The
	// existing capture is left untouched.
	ErrAlreadyCapturing = errors.New("speech: capture already in progress")
)

// Recognizer is one live speech-capture backend. A new instance is created
// per capture; Segments delivers recognized text fragments in arrival order
// and Done signals the natural end of the capture (nil) or a backend error.
type Recognizer interface {
	Connect() error
	SendPCM16KLE(pcm []byte) error
	Segments() <-chan string
	Done() <-chan error
	Close() error
}

// RecognizerFactory creates a backend for one capture. A nil factory means
// the platform offers no recognition support.
type RecognizerFactory func() Recognizer

// Synthesizer streams 48kHz PCM mono audio for the given text using the
// named voice.
type Synthesizer interface {
	Stream(ctx context.Context, voice, text string) (<-chan []byte, <-chan error)
}

// Sink consumes 48kHz PCM bytes and performs delivery (e.g. Opus encode to a
// WebRTC track). Reset drops queued audio immediately for preemption.
type Sink interface {
	WritePCM(pcm []byte)
	FlushTail()
	Reset()
}

// Voice describes one selectable synthesizer voice.
type Voice struct {
	Name   string
	Locale string
}
