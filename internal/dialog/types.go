package dialog

import (
	"context"
	"time"

	"github.com/chadiek/checkin-demo/internal/assist"
	"github.com/chadiek/checkin-demo/internal/chat"
)

// Exchanger performs one answer exchange over the full transcript.
type Exchanger interface {
	GenerateAnswer(ctx context.Context, history []assist.Message) (assist.ExchangeResult, error)
}

// Speaker renders assistant text as audio. Implementations preempt any
// in-progress utterance.
type Speaker interface {
	Speak(text string)
}

// SummaryTrigger bundles the transcript and findings into a summary request.
type SummaryTrigger interface {
	Fire(ctx context.Context, turns []chat.Turn, findings []string) (string, error)
}

// FindingSource exposes the document findings accumulated so far.
type FindingSource interface {
	Findings() []string
}

// Seed carries the data collected by the preceding wizard step.
type Seed struct {
	Name      string `json:"name"`
	Birthdate string `json:"birthdate"`
	Reason    string `json:"reason"`
}

// Config tunes a controller and wires its outward callbacks. All callbacks
// are optional and must not block.
type Config struct {
	// TriggerToken is the case-insensitive substring of an assistant reply
	// that marks the check-in ready to finalize. Defaults to "boarding".
	TriggerToken string
	// ExchangeTimeout bounds one remote exchange. Defaults to 20s.
	ExchangeTimeout time.Duration
	// OnNotice receives user-visible transient failure notices.
	OnNotice func(msg string)
	// OnSummary receives the generated session summary.
	OnSummary func(text string)
	// OnComplete fires once when the wizard-level caller signals the dialog
	// step is done.
	OnComplete func()
}
