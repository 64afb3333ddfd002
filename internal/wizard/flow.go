package wizard

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Step is one stage of the check-in flow. Steps only move forward.
type Step int

const (
	StepStart Step = iota
	StepDialog
	StepPrograms
	StepPass
)

func (s Step) String() string {
	switch s {
	case StepStart:
		return "start"
	case StepDialog:
		return "dialog"
	case StepPrograms:
		return "programs"
	case StepPass:
		return "pass"
	default:
		return "unknown"
	}
}

// Program is one optional bonus program a patient can enroll in.
type Program struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Subtitle string   `json:"subtitle"`
	Features []string `json:"features"`
}

// Programs is the static bonus-program catalog.
func Programs() []Program {
	return []Program{
		{
			ID:       "hausarzt-plus",
			Title:    "avi Hausarzt Plus",
			Subtitle: "Exclusive additional services",
			Features: []string{
				"Regular screenings with yearly blood panels",
				"Medical callback service for prescriptions and referrals",
				"Prioritized support for your requests",
			},
		},
		{
			ID:       "impact",
			Title:    "avi Impact",
			Subtitle: "Continuously improve your health",
			Features: []string{
				"Remote monitoring of your health data",
				"Telemedicine guidance by remote physicians",
				"Therapy optimization and lifestyle interventions",
			},
		},
	}
}

// BoardingPass is the confirmation artifact issued at the end of the flow.
type BoardingPass struct {
	PassID      string    `json:"pass_id"`
	PatientName string    `json:"patient_name"`
	Reason      string    `json:"reason"`
	Programs    []string  `json:"programs"`
	Summary     string    `json:"summary,omitempty"`
	IssuedAt    time.Time `json:"issued_at"`
}

// Flow tracks one patient's progress through the check-in wizard.
type Flow struct {
	mu       sync.Mutex
	step     Step
	programs []string
	summary  string
}

func NewFlow() *Flow {
	return &Flow{step: StepStart}
}

func (f *Flow) Step() Step {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.step
}

// Advance moves to the next step. The final step is terminal.
func (f *Flow) Advance() Step {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.step < StepPass {
		f.step++
	}
	return f.step
}

// SelectPrograms records enrollment choices, rejecting unknown ids.
func (f *Flow) SelectPrograms(ids []string) error {
	known := map[string]bool{}
	for _, p := range Programs() {
		known[p.ID] = true
	}
	for _, id := range ids {
		if !known[id] {
			return fmt.Errorf("wizard: unknown program %q", id)
		}
	}
	f.mu.Lock()
	f.programs = ids
	f.mu.Unlock()
	return nil
}

// SetSummary stores the session summary for the boarding pass.
func (f *Flow) SetSummary(text string) {
	f.mu.Lock()
	f.summary = text
	f.mu.Unlock()
}

func (f *Flow) Summary() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.summary
}

// IssuePass builds the boarding pass from everything gathered along the way.
// It is only available once the flow has reached the final step.
func (f *Flow) IssuePass(patientName, reason string) (BoardingPass, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.step != StepPass {
		return BoardingPass{}, fmt.Errorf("wizard: pass not available at step %s", f.step)
	}
	return BoardingPass{
		PassID:      uuid.NewString(),
		PatientName: patientName,
		Reason:      reason,
		Programs:    append([]string(nil), f.programs...),
		Summary:     f.summary,
		IssuedAt:    time.Now().UTC(),
	}, nil
}
