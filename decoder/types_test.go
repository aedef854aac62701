package decoder

import "testing"

func TestStatusIsTerminal(t *testing.T) {
	terminal := []Status{StatusFinishedEOS, StatusFinishedLength, StatusCancelled, StatusErrored}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%v.IsTerminal() = false, want true", s)
		}
	}
	nonTerminal := []Status{StatusQueued, StatusRunning}
	for _, s := range nonTerminal {
		if s.IsTerminal() {
			t.Errorf("%v.IsTerminal() = true, want false", s)
		}
	}
}

func TestGenerateOutputFinished(t *testing.T) {
	o := GenerateOutput{Status: StatusRunning}
	if o.Finished() {
		t.Fatal("RUNNING should not be Finished")
	}
	o.Status = StatusFinishedEOS
	if !o.Finished() {
		t.Fatal("FINISHED_EOS should be Finished")
	}
}
