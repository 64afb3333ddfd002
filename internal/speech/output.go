package speech

import (
	"context"
	"log"
	"strings"
	"sync"
)

// OutputPort renders text as audio through the injected synthesizer and sink.
// A new Speak always preempts the active utterance; at most one utterance is
// ever audible. When no voices are known yet, the utterance is deferred and
// spoken exactly once after SetVoices reports availability.
type OutputPort struct {
	synth  Synthesizer
	sink   Sink
	locale string

	mu       sync.Mutex
	voices   []Voice
	pending  string
	speaking bool
	cancel   context.CancelFunc
	gen      int
}

func NewOutputPort(synth Synthesizer, sink Sink, locale string) *OutputPort {
	if sink == nil {
		sink = nopSink{}
	}
	return &OutputPort{synth: synth, sink: sink, locale: locale}
}

// SetVoices installs the available voices and flushes a deferred utterance.
func (p *OutputPort) SetVoices(voices []Voice) {
	p.mu.Lock()
	p.voices = voices
	pending := p.pending
	p.pending = ""
	p.mu.Unlock()
	if pending != "" {
		p.Speak(pending)
	}
}

// pickVoice prefers a voice whose locale prefix matches the active locale and
// falls back to the first available voice.
func (p *OutputPort) pickVoice() (Voice, bool) {
	if len(p.voices) == 0 {
		return Voice{}, false
	}
	prefix := p.locale
	if i := strings.IndexAny(prefix, "-_"); i > 0 {
		prefix = prefix[:i]
	}
	for _, v := range p.voices {
		if prefix != "" && strings.HasPrefix(strings.ToLower(v.Locale), strings.ToLower(prefix)) {
			return v, true
		}
	}
	return p.voices[0], true
}

// Speak starts a new utterance, tearing down any active one first.
func (p *OutputPort) Speak(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	p.mu.Lock()
	voice, ok := p.pickVoice()
	if !ok {
		// no voices enumerable yet: defer, keeping only the latest request
		p.pending = text
		p.mu.Unlock()
		return
	}
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.speaking = false
	p.sink.Reset()

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.speaking = true
	p.gen++
	gen := p.gen
	p.mu.Unlock()

	go p.stream(ctx, gen, voice, text)
}

func (p *OutputPort) stream(ctx context.Context, gen int, voice Voice, text string) {
	pcmCh, errCh := p.synth.Stream(ctx, voice.Name, text)
	openPCM, openErr := true, true
	for openPCM || openErr {
		select {
		case b, ok := <-pcmCh:
			if !ok {
				openPCM = false
				continue
			}
			if len(b) > 0 && ctx.Err() == nil {
				p.sink.WritePCM(b)
			}
		case e, ok := <-errCh:
			if ok && e != nil {
				log.Printf("speech playback error: %v", e)
			}
			openErr = false
		case <-ctx.Done():
			openPCM, openErr = false, false
		}
	}

	interrupted := ctx.Err() != nil
	p.mu.Lock()
	if p.gen == gen {
		p.speaking = false
		if p.cancel != nil {
			p.cancel()
			p.cancel = nil
		}
	}
	p.mu.Unlock()
	if !interrupted {
		p.sink.FlushTail()
	}
}

// Stop cancels the active utterance, if any.
func (p *OutputPort) Stop() {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.speaking = false
	p.pending = ""
	p.mu.Unlock()
	p.sink.Reset()
}

// Speaking reports whether an utterance session is active. It is tracked
// independently of the dialog controller's loading flag.
func (p *OutputPort) Speaking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.speaking
}

type nopSink struct{}

func (nopSink) WritePCM(_ []byte) {}
func (nopSink) FlushTail()        {}
func (nopSink) Reset()            {}
