// Package barge detects a patient speaking over the assistant's voice so the
// active utterance can be cut short.
package barge

import (
	"encoding/binary"
	"math"
	"sync"
	"time"
)

// Config holds the detection thresholds.
type Config struct {
	SampleRate      int     // mic sample rate, 16000 typical
	RMSThreshold    float64 // per-frame energy floor counted as voice
	FuseWinMs       int     // voting window before a trigger
	HysteresisOffMs int     // silence window that resets the vote
	PreRollMs       int     // mic audio handed to the trigger callback
}

// Default returns thresholds tuned for a WebRTC headset mic.
func Default() Config {
	return Config{
		SampleRate:      16000,
		RMSThreshold:    300.0,
		FuseWinMs:       150,
		HysteresisOffMs: 200,
		PreRollMs:       220,
	}
}

// Events lets the host react to a barge-in.
type Events struct {
	// OnBargeIn fires once per trigger with the last PreRollMs of mic audio
	// as PCM16LE, so the words that caused the interruption are not lost.
	OnBargeIn func(ts time.Time, preRoll []byte)
}

// Engine votes per 10ms mic frame and triggers when voice dominates the
// fusion window while the assistant is speaking.
type Engine struct {
	cfg Config
	ev  Events

	mu       sync.Mutex
	speaking bool
	vadWin   []bool

	votesOn  *voteWindow
	votesOff *voteWindow
	preRoll  *circularPCM
}

func NewEngine(cfg Config, ev Events) *Engine {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.RMSThreshold == 0 {
		cfg.RMSThreshold = 300.0
	}
	return &Engine{
		cfg:      cfg,
		ev:       ev,
		votesOn:  newVoteWindow(cfg.FuseWinMs),
		votesOff: newVoteWindow(cfg.HysteresisOffMs),
		preRoll:  newCircularPCM(300, cfg.SampleRate),
	}
}

// SetSpeaking toggles detection; frames fed while the assistant is silent
// only fill the pre-roll.
func (e *Engine) SetSpeaking(on bool) {
	e.mu.Lock()
	e.speaking = on
	if !on {
		e.vadWin = e.vadWin[:0]
	}
	e.mu.Unlock()
	if !on {
		e.votesOn.Reset()
		e.votesOff.Reset()
	}
}

// FeedMic accepts PCM16LE mic audio of arbitrary length at the configured
// sample rate and segments it into 10ms frames.
func (e *Engine) FeedMic(pcm []byte) {
	samplesPer10ms := e.cfg.SampleRate / 100
	for off := 0; off+samplesPer10ms*2 <= len(pcm); off += samplesPer10ms * 2 {
		frame := make([]int16, samplesPer10ms)
		for i := 0; i < samplesPer10ms; i++ {
			frame[i] = int16(binary.LittleEndian.Uint16(pcm[off+i*2 : off+i*2+2]))
		}
		e.onFrame(frame)
	}
}

func (e *Engine) onFrame(frame []int16) {
	e.preRoll.Write(frame)

	e.mu.Lock()
	speaking := e.speaking
	voiced := e.smoothedVoice(rms(frame) >= e.cfg.RMSThreshold)
	e.mu.Unlock()
	if !speaking {
		return
	}

	e.votesOn.Push(voiced)
	e.votesOff.Push(!voiced)
	if e.votesOn.Ratio() >= 2.0/3.0 {
		e.trigger()
		return
	}
	if e.votesOff.Ratio() >= 2.0/3.0 {
		e.votesOn.Reset()
	}
}

// smoothedVoice majority-votes the last few frames to ride out single-frame
// spikes. Caller holds e.mu.
func (e *Engine) smoothedVoice(b bool) bool {
	const n = 4
	e.vadWin = append(e.vadWin, b)
	if len(e.vadWin) > n {
		e.vadWin = e.vadWin[len(e.vadWin)-n:]
	}
	t := 0
	for _, x := range e.vadWin {
		if x {
			t++
		}
	}
	return t*2 >= len(e.vadWin)
}

func (e *Engine) trigger() {
	pre := e.preRoll.ReadLastMs(e.cfg.PreRollMs)
	preBytes := make([]byte, len(pre)*2)
	for i, s := range pre {
		binary.LittleEndian.PutUint16(preBytes[i*2:(i+1)*2], uint16(s))
	}
	if e.ev.OnBargeIn != nil {
		e.ev.OnBargeIn(time.Now(), preBytes)
	}
	e.votesOn.Reset()
	e.votesOff.Reset()
}

func rms(frame []int16) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(frame)))
}

// voteWindow keeps the last FuseWinMs worth of 10ms votes.
type voteWindow struct {
	winDur time.Duration
	mu     sync.Mutex
	hist   []bool
}

func newVoteWindow(ms int) *voteWindow {
	return &voteWindow{winDur: time.Duration(ms) * time.Millisecond}
}

func (v *voteWindow) Push(b bool) {
	v.mu.Lock()
	v.hist = append(v.hist, b)
	max := int(v.winDur/(10*time.Millisecond)) + 1
	if len(v.hist) > max {
		v.hist = v.hist[len(v.hist)-max:]
	}
	v.mu.Unlock()
}

func (v *voteWindow) Ratio() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.hist) == 0 {
		return 0
	}
	t := 0
	for _, b := range v.hist {
		if b {
			t++
		}
	}
	return float64(t) / float64(len(v.hist))
}

func (v *voteWindow) Reset() {
	v.mu.Lock()
	v.hist = v.hist[:0]
	v.mu.Unlock()
}

// circularPCM stores 16-bit PCM samples for the pre-roll ring.
type circularPCM struct {
	mu       sync.Mutex
	buf      []int16
	cap      int
	writePos int
	sr       int
}

func newCircularPCM(capacityMs int, sampleRate int) *circularPCM {
	samples := capacityMs * sampleRate / 1000
	if samples < sampleRate/10 {
		samples = sampleRate / 10
	}
	return &circularPCM{buf: make([]int16, samples), cap: samples, sr: sampleRate}
}

func (c *circularPCM) Write(frame []int16) {
	c.mu.Lock()
	for _, s := range frame {
		c.buf[c.writePos] = s
		c.writePos = (c.writePos + 1) % c.cap
	}
	c.mu.Unlock()
}

func (c *circularPCM) ReadLastMs(ms int) []int16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := ms * c.sr / 1000
	if n > c.cap {
		n = c.cap
	}
	out := make([]int16, n)
	start := (c.writePos - n + c.cap) % c.cap
	for i := 0; i < n; i++ {
		out[i] = c.buf[(start+i)%c.cap]
	}
	return out
}
