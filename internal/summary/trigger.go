package summary

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/chadiek/checkin-demo/internal/chat"
)

// Summarizer generates a natural-language summary for a composite text block.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// Trigger is the secondary flow fired when the assistant signals the check-in
// is ready to finalize. It bundles the full transcript with the accumulated
// document findings. It never sits on the dialog's critical path: failures
// are logged and the conversation continues.
type Trigger struct {
	client Summarizer
}

func NewTrigger(client Summarizer) *Trigger {
	return &Trigger{client: client}
}

// Fire requests a summary for the transcript plus findings.
func (t *Trigger) Fire(ctx context.Context, turns []chat.Turn, findings []string) (string, error) {
	var b strings.Builder
	for _, turn := range turns {
		b.WriteString(string(turn.Role))
		b.WriteString(": ")
		b.WriteString(turn.Text)
		b.WriteString("\n")
	}
	for _, f := range findings {
		b.WriteString(f)
		b.WriteString("\n")
	}

	text, err := t.client.Summarize(ctx, b.String())
	if err != nil {
		log.Printf("summary: %v", err)
		return "", fmt.Errorf("summary: %w", err)
	}
	return text, nil
}
