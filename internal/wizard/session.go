package wizard

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/chadiek/checkin-demo/internal/chat"
	"github.com/chadiek/checkin-demo/internal/dialog"
	"github.com/chadiek/checkin-demo/internal/docs"
	"github.com/chadiek/checkin-demo/internal/speech"
)

// Deps bundles the backing services shared by every check-in session.
type Deps struct {
	Exchanger       dialog.Exchanger
	Trigger         dialog.SummaryTrigger
	Analyzer        docs.Analyzer
	Store           docs.BlobStore
	Recognizers     speech.RecognizerFactory
	Synthesizer     speech.Synthesizer
	Voices          []speech.Voice
	Locale          string
	CompletionToken string
	ExchangeTimeout time.Duration
}

// Session is one patient's live check-in: the wizard flow plus the dialog
// controller and its speech and document ports, wired together at creation.
type Session struct {
	ID        string
	CreatedAt time.Time

	Flow       *Flow
	Controller *dialog.Controller
	Input      *speech.InputPort
	Output     *speech.OutputPort
	Pipeline   *docs.Pipeline
	Audio      *speech.SwitchSink

	mu       sync.Mutex
	lastSeen time.Time
	patient  dialog.Seed
	notices  []string
	summary  string
	complete bool
}

// deferredFindings breaks the construction cycle between the controller and
// the document pipeline: the controller needs a finding source before the
// pipeline exists.
type deferredFindings struct {
	p atomic.Pointer[docs.Pipeline]
}

func (d *deferredFindings) Findings() []string {
	if p := d.p.Load(); p != nil {
		return p.Findings()
	}
	return nil
}

func newSession(deps Deps, seed *dialog.Seed) *Session {
	s := &Session{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		Flow:      NewFlow(),
		Audio:     speech.NewSwitchSink(),
	}
	s.lastSeen = s.CreatedAt
	if seed != nil {
		s.patient = *seed
	}

	s.Output = speech.NewOutputPort(deps.Synthesizer, s.Audio, deps.Locale)
	findings := &deferredFindings{}
	s.Controller = dialog.NewController(deps.Exchanger, s.Output, deps.Trigger, findings, dialog.Config{
		TriggerToken:    deps.CompletionToken,
		ExchangeTimeout: deps.ExchangeTimeout,
		OnNotice:        s.addNotice,
		OnSummary:       s.setSummary,
		OnComplete:      s.markComplete,
	})
	s.Pipeline = docs.NewPipeline(deps.Analyzer, deps.Store, s.Controller.Log(), s.Controller.AppendAssistant)
	findings.p.Store(s.Pipeline)
	s.Input = speech.NewInputPort(deps.Recognizers, s.Controller.Submit, func(err error) {
		s.addNotice("Speech recognition failed. Please try again or type your message.")
	})
	if len(deps.Voices) > 0 {
		s.Output.SetVoices(deps.Voices)
	}

	s.Flow.Advance() // start -> dialog
	s.Controller.Initialize(seed)
	return s
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *Session) addNotice(msg string) {
	s.mu.Lock()
	s.notices = append(s.notices, msg)
	s.mu.Unlock()
}

func (s *Session) setSummary(text string) {
	s.mu.Lock()
	s.summary = text
	s.mu.Unlock()
	s.Flow.SetSummary(text)
}

func (s *Session) markComplete() {
	s.mu.Lock()
	s.complete = true
	s.mu.Unlock()
}

// Patient returns the seed data the session was created with.
func (s *Session) Patient() dialog.Seed {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.patient
}

// CompleteDialog ends the conversation stage and moves on to program
// selection. Live speech is torn down; the transcript stays readable.
func (s *Session) CompleteDialog() {
	s.Controller.Complete()
	s.Input.Stop()
	s.Output.Stop()
	if s.Flow.Step() == StepDialog {
		s.Flow.Advance()
	}
}

// IssuePass builds the boarding pass for the session's patient.
func (s *Session) IssuePass() (BoardingPass, error) {
	p := s.Patient()
	return s.Flow.IssuePass(p.Name, p.Reason)
}

// State is the wire snapshot of a session, served to the client on every poll.
type State struct {
	ID        string      `json:"id"`
	Step      string      `json:"step"`
	Turns     []chat.Turn `json:"turns"`
	Loading   bool        `json:"loading"`
	Analyzing bool        `json:"analyzing"`
	Speaking  bool        `json:"speaking"`
	Capturing bool        `json:"capturing"`
	Complete  bool        `json:"complete"`
	Summary   string      `json:"summary,omitempty"`
	Notices   []string    `json:"notices,omitempty"`
}

// Snapshot captures the current session state. Accumulated notices are
// delivered once and cleared.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	notices := s.notices
	s.notices = nil
	summary := s.summary
	complete := s.complete
	s.mu.Unlock()
	return State{
		ID:        s.ID,
		Step:      s.Flow.Step().String(),
		Turns:     s.Controller.Turns(),
		Loading:   s.Controller.Loading(),
		Analyzing: s.Pipeline.Analyzing(),
		Speaking:  s.Output.Speaking(),
		Capturing: s.Input.Capturing(),
		Complete:  complete,
		Summary:   summary,
		Notices:   notices,
	}
}

// Close releases the session's resources.
func (s *Session) Close() {
	s.Input.Stop()
	s.Output.Stop()
	s.Audio.Detach()
	s.Controller.Close()
}
