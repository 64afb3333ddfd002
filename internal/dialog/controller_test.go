package dialog

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chadiek/checkin-demo/internal/assist"
	"github.com/chadiek/checkin-demo/internal/chat"
)

type fakeExchanger struct {
	mu       sync.Mutex
	payloads [][]assist.Message
	results  []assist.ExchangeResult
	err      error
	gate     chan struct{} // when set, exchanges block until the gate closes
}

func (f *fakeExchanger) GenerateAnswer(ctx context.Context, history []assist.Message) (assist.ExchangeResult, error) {
	f.mu.Lock()
	cp := make([]assist.Message, len(history))
	copy(cp, history)
	f.payloads = append(f.payloads, cp)
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if f.err != nil {
		return assist.ExchangeResult{}, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.results) == 0 {
		return assist.ExchangeResult{Kind: assist.ExchangeReply, Reply: "ok"}, nil
	}
	res := f.results[0]
	f.results = f.results[1:]
	return res, nil
}

func (f *fakeExchanger) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

type fakeSpeaker struct {
	mu   sync.Mutex
	said []string
}

func (f *fakeSpeaker) Speak(text string) {
	f.mu.Lock()
	f.said = append(f.said, text)
	f.mu.Unlock()
}

func (f *fakeSpeaker) spoken() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.said))
	copy(out, f.said)
	return out
}

type fakeTrigger struct {
	mu       sync.Mutex
	fires    int
	turns    []chat.Turn
	findings []string
	out      string
	err      error
}

func (f *fakeTrigger) Fire(ctx context.Context, turns []chat.Turn, findings []string) (string, error) {
	f.mu.Lock()
	f.fires++
	f.turns = turns
	f.findings = findings
	f.mu.Unlock()
	return f.out, f.err
}

func (f *fakeTrigger) fireCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fires
}

type staticFindings []string

func (s staticFindings) Findings() []string { return s }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func TestInitialize_Unseeded_OpensWithScriptedAssistantTurn(t *testing.T) {
	ex := &fakeExchanger{}
	sp := &fakeSpeaker{}
	c := NewController(ex, sp, nil, nil, Config{})
	defer c.Close()
	c.Initialize(nil)

	turns := c.Turns()
	if len(turns) != 1 || turns[0].Role != chat.RoleAssistant {
		t.Fatalf("expected one scripted assistant turn, got %+v", turns)
	}
	if ex.calls() != 0 {
		t.Fatalf("unseeded initialize must not exchange")
	}
	if got := sp.spoken(); len(got) != 1 {
		t.Fatalf("opening line must be spoken once, got %v", got)
	}
}

func TestInitialize_Seeded_OneExchangeWithSynthesizedTurn(t *testing.T) {
	ex := &fakeExchanger{results: []assist.ExchangeResult{{Kind: assist.ExchangeReply, Reply: "Hello Jane, what brings you in?"}}}
	c := NewController(ex, &fakeSpeaker{}, nil, nil, Config{})
	defer c.Close()
	c.Initialize(&Seed{Name: "Jane Doe", Birthdate: "1990-01-01", Reason: "checkup"})

	waitFor(t, func() bool { return !c.Loading() && len(c.Turns()) == 2 })
	if ex.calls() != 1 {
		t.Fatalf("expected exactly one exchange, got %d", ex.calls())
	}
	turns := c.Turns()
	seedTurn := turns[0]
	if seedTurn.Role != chat.RoleUser {
		t.Fatalf("first turn must be the synthesized user turn")
	}
	for _, part := range []string{"Jane Doe", "1990-01-01", "checkup"} {
		if !strings.Contains(seedTurn.Text, part) {
			t.Fatalf("synthesized turn missing %q: %q", part, seedTurn.Text)
		}
	}
	if last := turns[len(turns)-1]; last.Role != chat.RoleAssistant {
		t.Fatalf("log must end with one assistant turn, got %+v", last)
	}
}

func TestSubmit_BlankIsSilentNoOp(t *testing.T) {
	ex := &fakeExchanger{}
	c := NewController(ex, nil, nil, nil, Config{})
	defer c.Close()
	c.Submit("   \t  ")
	time.Sleep(10 * time.Millisecond)
	if c.Turns() != nil && len(c.Turns()) != 0 {
		t.Fatalf("blank submit must append nothing")
	}
	if ex.calls() != 0 {
		t.Fatalf("blank submit must not exchange")
	}
}

func TestExchange_PayloadIsFullOrderedProjection(t *testing.T) {
	ex := &fakeExchanger{results: []assist.ExchangeResult{
		{Kind: assist.ExchangeReply, Reply: "and your birthdate?"},
		{Kind: assist.ExchangeReply, Reply: "thanks"},
	}}
	c := NewController(ex, nil, nil, nil, Config{})
	defer c.Close()
	c.Submit("I am Jane")
	waitFor(t, func() bool { return !c.Loading() })
	c.Submit("1990-01-01")
	waitFor(t, func() bool { return !c.Loading() })

	ex.mu.Lock()
	defer ex.mu.Unlock()
	want := []assist.Message{
		{Role: "user", Content: "I am Jane"},
		{Role: "assistant", Content: "and your birthdate?"},
		{Role: "user", Content: "1990-01-01"},
	}
	if !reflect.DeepEqual(ex.payloads[1], want) {
		t.Fatalf("second payload mismatch:\n got %+v\nwant %+v", ex.payloads[1], want)
	}
}

func TestExchange_FailureLeavesLogUntouched(t *testing.T) {
	ex := &fakeExchanger{err: errors.New("boom")}
	var mu sync.Mutex
	var notices []string
	c := NewController(ex, nil, nil, nil, Config{OnNotice: func(m string) {
		mu.Lock()
		notices = append(notices, m)
		mu.Unlock()
	}})
	defer c.Close()

	c.Submit("hello")
	pre := c.Turns() // one user turn, snapshotted before the exchange resolves

	waitFor(t, func() bool { return !c.Loading() })
	if !reflect.DeepEqual(c.Turns(), pre) {
		t.Fatalf("failed exchange must leave the log identical:\n got %+v\nwant %+v", c.Turns(), pre)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(notices) != 1 {
		t.Fatalf("expected one user-visible notice, got %v", notices)
	}
}

func TestExchange_ResyncRebuildsWholesale(t *testing.T) {
	transcript := []assist.Message{
		{Role: "user", Content: "My name is Jane"},
		{Role: "assistant", Content: "Noted. What is your birthdate?"},
		{Role: "user", Content: "1990-01-01"},
		{Role: "assistant", Content: "Thanks, Jane."},
	}
	ex := &fakeExchanger{results: []assist.ExchangeResult{{Kind: assist.ExchangeResync, Transcript: transcript}}}
	sp := &fakeSpeaker{}
	c := NewController(ex, sp, nil, nil, Config{})
	defer c.Close()

	c.Submit("My name is Jane")
	waitFor(t, func() bool { return !c.Loading() && len(c.Turns()) == 4 })

	turns := c.Turns()
	for i, turn := range turns {
		if turn.Seq != i+1 {
			t.Fatalf("resync must renumber by position, turn %d has seq %d", i, turn.Seq)
		}
		if turn.Text != transcript[i].Content {
			t.Fatalf("turn %d text mismatch: %q", i, turn.Text)
		}
	}
	waitFor(t, func() bool { return len(sp.spoken()) == 1 })
	if got := sp.spoken()[0]; got != "Thanks, Jane." {
		t.Fatalf("the server's final assistant entry must be spoken, got %q", got)
	}
}

func TestSubmit_WhileInFlightQueuesBehindAndKeepsPayloadIntact(t *testing.T) {
	gate := make(chan struct{})
	ex := &fakeExchanger{gate: gate, results: []assist.ExchangeResult{
		{Kind: assist.ExchangeReply, Reply: "first reply"},
		{Kind: assist.ExchangeReply, Reply: "second reply"},
	}}
	c := NewController(ex, nil, nil, nil, Config{})
	defer c.Close()

	c.Submit("first message")
	waitFor(t, func() bool { return ex.calls() == 1 })
	// second submission arrives while the first exchange is in flight
	c.Submit("I feel dizzy")
	time.Sleep(20 * time.Millisecond)
	if ex.calls() != 1 {
		t.Fatalf("second exchange must queue behind the first")
	}
	close(gate)
	waitFor(t, func() bool { return ex.calls() == 2 && !c.Loading() })

	ex.mu.Lock()
	defer ex.mu.Unlock()
	// the first payload must not contain the second submission
	for _, m := range ex.payloads[0] {
		if m.Content == "I feel dizzy" {
			t.Fatalf("concurrent submission corrupted the in-flight payload")
		}
	}
	last := ex.payloads[1][len(ex.payloads[1])-1]
	if last.Content != "I feel dizzy" {
		t.Fatalf("second payload must end with the queued submission, got %+v", last)
	}
}

func TestCompletion_BoardingReplyFiresSummaryOnce(t *testing.T) {
	ex := &fakeExchanger{results: []assist.ExchangeResult{
		{Kind: assist.ExchangeReply, Reply: "All set! Your BOARDING pass is ready."},
		{Kind: assist.ExchangeReply, Reply: "Reminder: your boarding pass is ready."},
	}}
	trig := &fakeTrigger{out: "summary"}
	var mu sync.Mutex
	var summaries []string
	c := NewController(ex, nil, trig, staticFindings{"bp 120/80"}, Config{OnSummary: func(s string) {
		mu.Lock()
		summaries = append(summaries, s)
		mu.Unlock()
	}})
	defer c.Close()

	c.Submit("am I done?")
	waitFor(t, func() bool { return trig.fireCount() == 1 })
	c.Submit("just checking again")
	waitFor(t, func() bool { return !c.Loading() && len(c.Turns()) == 4 })
	time.Sleep(20 * time.Millisecond)

	if trig.fireCount() != 1 {
		t.Fatalf("summary must fire exactly once per session, got %d", trig.fireCount())
	}
	trig.mu.Lock()
	if len(trig.turns) < 2 {
		t.Errorf("summary must receive the full transcript, got %d turns", len(trig.turns))
	}
	if len(trig.findings) != 1 || trig.findings[0] != "bp 120/80" {
		t.Errorf("summary must receive the findings, got %v", trig.findings)
	}
	trig.mu.Unlock()
	waitFor(t, func() bool { mu.Lock(); defer mu.Unlock(); return len(summaries) == 1 })
}

func TestCompletion_SummaryFailureIsNonFatal(t *testing.T) {
	ex := &fakeExchanger{results: []assist.ExchangeResult{
		{Kind: assist.ExchangeReply, Reply: "boarding pass ready"},
		{Kind: assist.ExchangeReply, Reply: "anything else?"},
	}}
	trig := &fakeTrigger{err: errors.New("summary service down")}
	c := NewController(ex, nil, trig, nil, Config{})
	defer c.Close()

	c.Submit("done?")
	waitFor(t, func() bool { return trig.fireCount() == 1 })
	// the dialog keeps working after a failed summary
	c.Submit("one more thing")
	waitFor(t, func() bool { return !c.Loading() && len(c.Turns()) == 4 })
}

func TestComplete_FiresOnce(t *testing.T) {
	var count int
	c := NewController(&fakeExchanger{}, nil, nil, nil, Config{OnComplete: func() { count++ }})
	defer c.Close()
	c.Complete()
	c.Complete()
	if count != 1 {
		t.Fatalf("complete signal must fire once, got %d", count)
	}
}

func TestLoading_TrueWhileExchangeInFlight(t *testing.T) {
	gate := make(chan struct{})
	ex := &fakeExchanger{gate: gate}
	c := NewController(ex, nil, nil, nil, Config{})
	defer c.Close()
	c.Submit("hi")
	waitFor(t, func() bool { return c.Loading() })
	close(gate)
	waitFor(t, func() bool { return !c.Loading() })
}

func TestClose_DropsQueuedWork(t *testing.T) {
	gate := make(chan struct{})
	ex := &fakeExchanger{gate: gate}
	c := NewController(ex, nil, nil, nil, Config{})
	c.Submit("first")
	c.Submit("second")
	c.Close()
	close(gate)
	time.Sleep(20 * time.Millisecond)
	// only the in-flight exchange ran; the queued one was abandoned
	if ex.calls() > 2 {
		t.Fatalf("expected at most the in-flight exchange after close, got %d", ex.calls())
	}
	c.Submit("after close")
	if ex.calls() > 2 {
		t.Fatalf("submit after close must be a no-op")
	}
}
