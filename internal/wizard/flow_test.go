package wizard

import "testing"

func TestFlow_AdvancesForwardOnly(t *testing.T) {
	f := NewFlow()
	if f.Step() != StepStart {
		t.Fatalf("expected start step")
	}
	steps := []Step{StepDialog, StepPrograms, StepPass, StepPass}
	for _, want := range steps {
		if got := f.Advance(); got != want {
			t.Fatalf("expected step %s, got %s", want, got)
		}
	}
}

func TestSelectPrograms_RejectsUnknownIDs(t *testing.T) {
	f := NewFlow()
	if err := f.SelectPrograms([]string{"hausarzt-plus"}); err != nil {
		t.Fatalf("known program rejected: %v", err)
	}
	if err := f.SelectPrograms([]string{"made-up"}); err == nil {
		t.Fatalf("expected error for unknown program id")
	}
}

func TestIssuePass_OnlyAtFinalStep(t *testing.T) {
	f := NewFlow()
	if _, err := f.IssuePass("Jane Doe", "checkup"); err == nil {
		t.Fatalf("pass must not be available before the final step")
	}
	f.Advance()
	f.Advance()
	f.Advance()
	f.SetSummary("all good")
	_ = f.SelectPrograms([]string{"impact"})
	pass, err := f.IssuePass("Jane Doe", "checkup")
	if err != nil {
		t.Fatalf("issue pass: %v", err)
	}
	if pass.PassID == "" || pass.PatientName != "Jane Doe" || pass.Summary != "all good" {
		t.Fatalf("unexpected pass %+v", pass)
	}
	if len(pass.Programs) != 1 || pass.Programs[0] != "impact" {
		t.Fatalf("unexpected programs %v", pass.Programs)
	}
}
