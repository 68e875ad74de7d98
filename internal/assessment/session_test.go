package assessment

import (
	"testing"
	"time"

	"github.com/MrWong99/vivavoce/internal/keywords"
	"github.com/MrWong99/vivavoce/internal/ledger"
)

func TestPhase_Before(t *testing.T) {
	t.Parallel()
	order := []Phase{PhaseInstructions, PhaseName, PhaseSubject, PhaseTopic, PhaseApplications, PhaseQuestion3, PhaseQuestion4, PhaseComplete}
	for i := 1; i < len(order); i++ {
		if !order[i-1].Before(order[i]) {
			t.Errorf("%s should precede %s", order[i-1], order[i])
		}
		if order[i].Before(order[i-1]) {
			t.Errorf("%s should not precede %s", order[i], order[i-1])
		}
	}
	if PhaseInstructions.Monitored() || PhaseComplete.Monitored() || !PhaseTopic.Monitored() {
		t.Error("Monitored mismatch")
	}
}

func TestSession_AdvanceIsMonotonic(t *testing.T) {
	t.Parallel()
	s := newSession("s", ledger.New(), time.Now)
	if !s.advance(PhaseName) || !s.advance(PhaseSubject) {
		t.Fatal("forward moves rejected")
	}
	if s.advance(PhaseName) {
		t.Error("moved backwards")
	}
	if s.advance(PhaseSubject) {
		t.Error("re-entered current phase")
	}
}

func TestSession_CompleteOnce(t *testing.T) {
	t.Parallel()
	s := newSession("s", ledger.New(), time.Now)
	s.advance(PhaseName)
	if _, ok := s.Outcome(); ok {
		t.Fatal("outcome set before completion")
	}
	if !s.complete(Outcome{Kind: OutcomeQuit}) {
		t.Fatal("first complete rejected")
	}
	if s.complete(Outcome{Kind: OutcomeScored, Score: 99}) {
		t.Error("second complete accepted")
	}
	out, ok := s.Outcome()
	if !ok || out.Kind != OutcomeQuit || s.Phase() != PhaseComplete {
		t.Errorf("outcome = %+v, phase = %s", out, s.Phase())
	}
	if s.advance(PhaseTopic) {
		t.Error("advanced after completion")
	}
}

func TestSession_TurnsAreFinalisedOnce(t *testing.T) {
	t.Parallel()
	s := newSession("s", ledger.New(), time.Now)
	s.advance(PhaseName)
	s.advance(PhaseSubject)
	s.advance(PhaseTopic)
	s.openTurn("prompt")
	if !s.answerTurn("answer", []string{"one", "two"}) {
		t.Fatal("answer rejected")
	}
	if s.answerTurn("other", nil) {
		t.Error("finalised turn changed")
	}
	snap := s.Snapshot()
	snap.Turns[0].Keywords[0] = "mutated"
	if s.Snapshot().Turns[0].Keywords[0] != "one" {
		t.Error("snapshot shares keyword storage")
	}
	if got := s.answer(PhaseTopic); got != "answer" {
		t.Errorf("answer = %q", got)
	}
}

func TestPrompts_KeywordClause(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		got  string
		want string
	}{
		{
			name: "no keywords",
			got:  applicationsPrompt("physics", "optics", nil),
			want: "Thanks! What are some real-time applications of optics in physics? Please provide concrete examples.",
		},
		{
			name: "answer without usable keywords",
			got:  applicationsPrompt("chemistry", "the cat is on a mat", keywords.Extract("the cat is on a mat")),
			want: "Thanks! What are some real-time applications of the cat is on a mat in chemistry? Please provide concrete examples.",
		},
		{
			name: "one keyword",
			got:  question3Prompt("physics", "optics", []string{"lenses"}),
			want: "Good! How does optics impact physics in modern technology especially regarding lenses? Please explain in detail.",
		},
		{
			name: "two keywords",
			got:  question4Prompt("physics", "optics", []string{"lenses", "mirrors", "prisms"}),
			want: "Nice! What challenges might arise when implementing optics in physics focusing on lenses and mirrors? Please provide specific examples.",
		},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s:\n got  %q\n want %q", tt.name, tt.got, tt.want)
		}
	}
}
