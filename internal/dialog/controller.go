package dialog

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/chadiek/checkin-demo/internal/assist"
	"github.com/chadiek/checkin-demo/internal/chat"
)

const openingLine = "Welcome to the digital check-in! I'm Ava, your digital assistant. " +
	"I will help you complete the check-in process. What is your full name?"

const exchangeNotice = "Sorry, I couldn't reach the assistant. Please try again."

// Controller is the single authority over turn-taking for one check-in
// session. It owns the conversation log, serializes exchanges with the
// answering service, speaks replies, and watches for the completion signal.
type Controller struct {
	exchanger Exchanger
	speaker   Speaker
	trigger   SummaryTrigger
	findings  FindingSource

	token      string
	exTimeout  time.Duration
	onNotice   func(string)
	onSummary  func(string)
	onComplete func()

	convLog *chat.Log
	jobs    chan []assist.Message

	mu           sync.Mutex
	inflight     int
	closed       bool
	summaryFired bool
	completeOnce sync.Once
}

func NewController(ex Exchanger, speaker Speaker, trig SummaryTrigger, findings FindingSource, cfg Config) *Controller {
	token := cfg.TriggerToken
	if token == "" {
		token = "boarding"
	}
	exTimeout := cfg.ExchangeTimeout
	if exTimeout == 0 {
		exTimeout = 20 * time.Second
	}
	c := &Controller{
		exchanger:  ex,
		speaker:    speaker,
		trigger:    trig,
		findings:   findings,
		token:      strings.ToLower(token),
		exTimeout:  exTimeout,
		onNotice:   cfg.OnNotice,
		onSummary:  cfg.OnSummary,
		onComplete: cfg.OnComplete,
		convLog:    chat.NewLog(),
		jobs:       make(chan []assist.Message, 32),
	}
	go c.worker()
	return c
}

// Log exposes the conversation log so the document pipeline can record
// uploads. All other mutation goes through the controller.
func (c *Controller) Log() *chat.Log { return c.convLog }

// Initialize seeds the session. With seed data it synthesizes an opening user
// turn and performs one exchange before the dialog becomes interactive;
// without it, the session opens with the scripted assistant line.
func (c *Controller) Initialize(seed *Seed) {
	if seed == nil {
		c.AppendAssistant(openingLine)
		return
	}
	text := fmt.Sprintf("My name is %s, my birthdate is %s, and the reason for my visit is: %s.",
		seed.Name, seed.Birthdate, seed.Reason)
	c.Submit(text)
}

// Submit records one user turn and queues an exchange behind any in-flight
// one. Blank input is a silent no-op.
func (c *Controller) Submit(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.convLog.Append(chat.RoleUser, text)
	payload := c.projection()
	c.inflight++
	var dropped bool
	select {
	case c.jobs <- payload:
	default:
		// queue saturated; treat like any other failed exchange
		dropped = true
		c.inflight--
	}
	c.mu.Unlock()
	if dropped {
		log.Printf("dialog: exchange queue full, dropping submission")
		if c.onNotice != nil {
			c.onNotice(exchangeNotice)
		}
	}
}

// projection is the exact ordered role/text view of every turn so far.
// Callers must hold c.mu.
func (c *Controller) projection() []assist.Message {
	turns := c.convLog.Snapshot()
	out := make([]assist.Message, 0, len(turns))
	for _, t := range turns {
		out = append(out, assist.Message{Role: string(t.Role), Content: t.Text})
	}
	return out
}

// worker serializes exchanges: a submission arriving while one is in flight
// waits its turn, and its payload was snapshotted at submit time.
func (c *Controller) worker() {
	for payload := range c.jobs {
		c.exchange(payload)
	}
}

func (c *Controller) exchange(payload []assist.Message) {
	c.mu.Lock()
	if c.closed {
		c.inflight--
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.exTimeout)
	res, err := c.exchanger.GenerateAnswer(ctx, payload)
	cancel()
	if err != nil {
		log.Printf("dialog: exchange: %v", err)
		c.exchangeFailed()
		return
	}

	switch res.Kind {
	case assist.ExchangeResync:
		entries := make([]chat.Entry, 0, len(res.Transcript))
		for _, m := range res.Transcript {
			role := chat.RoleUser
			if m.Role == string(chat.RoleAssistant) {
				role = chat.RoleAssistant
			}
			entries = append(entries, chat.Entry{Role: role, Text: m.Content})
		}
		c.convLog.Rebuild(entries)
		c.mu.Lock()
		c.inflight--
		c.mu.Unlock()
		// the server's final assistant entry is the effective reply
		if n := len(entries); n > 0 && entries[n-1].Role == chat.RoleAssistant {
			c.deliverAssistant(entries[n-1].Text)
		}
	case assist.ExchangeReply:
		c.mu.Lock()
		c.inflight--
		c.mu.Unlock()
		c.AppendAssistant(res.Reply)
	}
}

func (c *Controller) exchangeFailed() {
	c.mu.Lock()
	c.inflight--
	c.mu.Unlock()
	if c.onNotice != nil {
		c.onNotice(exchangeNotice)
	}
}

// AppendAssistant appends one assistant turn, speaks it and runs completion
// detection. The document pipeline routes classification replies through
// here as well.
func (c *Controller) AppendAssistant(text string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.convLog.Append(chat.RoleAssistant, text)
	c.deliverAssistant(text)
}

// deliverAssistant speaks the text and checks the completion predicate.
func (c *Controller) deliverAssistant(text string) {
	if c.speaker != nil {
		c.speaker.Speak(text)
	}
	if !strings.Contains(strings.ToLower(text), c.token) {
		return
	}
	c.mu.Lock()
	fired := c.summaryFired
	c.summaryFired = true
	c.mu.Unlock()
	if fired || c.trigger == nil {
		return
	}
	go c.fireSummary()
}

// fireSummary runs off the dialog's critical path; its failure is logged and
// otherwise ignored.
func (c *Controller) fireSummary() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	var findings []string
	if c.findings != nil {
		findings = c.findings.Findings()
	}
	text, err := c.trigger.Fire(ctx, c.convLog.Snapshot(), findings)
	if err != nil {
		return
	}
	log.Printf("dialog: session summary ready (%d chars)", len(text))
	if c.onSummary != nil {
		c.onSummary(text)
	}
}

// Complete is the wizard-level advance signal. It fires the completion
// callback exactly once; repeated calls are no-ops.
func (c *Controller) Complete() {
	c.completeOnce.Do(func() {
		if c.onComplete != nil {
			c.onComplete()
		}
	})
}

// Close tears the session down. Queued exchanges are abandoned.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	close(c.jobs)
}

// Loading reports whether an exchange is queued or in flight.
func (c *Controller) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight > 0
}

// Turns returns a copy of the conversation so far.
func (c *Controller) Turns() []chat.Turn {
	return c.convLog.Snapshot()
}
