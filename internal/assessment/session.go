package assessment

import (
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/vivavoce/internal/evaluation"
	"github.com/MrWong99/vivavoce/internal/ledger"
)

// QuestionTurn is one assessment question and its accepted answer.
type QuestionTurn struct {
	Phase    Phase    `json:"phase"`
	Prompt   string   `json:"prompt"`
	Answer   string   `json:"answer,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
	Answered bool     `json:"answered"`
}

// Snapshot is a point-in-time copy of a session, safe to serialise.
type Snapshot struct {
	ID            string             `json:"id"`
	Phase         Phase              `json:"phase"`
	CandidateName string             `json:"candidate_name,omitempty"`
	Subject       string             `json:"subject,omitempty"`
	Turns         []QuestionTurn     `json:"turns"`
	Violations    []ledger.Violation `json:"violations"`
	Outcome       *Outcome           `json:"outcome,omitempty"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// Session is the state of one assessment. The ledger is shared with the
// proctoring monitor; everything else is written only by the orchestrator.
type Session struct {
	id     string
	ledger *ledger.Ledger
	now    func() time.Time

	mu        sync.RWMutex
	phase     Phase
	name      string
	subject   string
	turns     []QuestionTurn
	outcome   *Outcome
	updatedAt time.Time
}

func newSession(id string, l *ledger.Ledger, now func() time.Time) *Session {
	return &Session{id: id, ledger: l, now: now, phase: PhaseInstructions, updatedAt: now()}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// Outcome returns the outcome, or false while the session is still running.
func (s *Session) Outcome() (Outcome, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.outcome == nil {
		return Outcome{}, false
	}
	return *s.outcome, true
}

// CandidateName returns the captured name.
func (s *Session) CandidateName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

// Subject returns the captured subject.
func (s *Session) Subject() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subject
}

// Snapshot copies the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		ID:            s.id,
		Phase:         s.phase,
		CandidateName: s.name,
		Subject:       s.subject,
		Turns:         make([]QuestionTurn, len(s.turns)),
		Violations:    s.ledger.Violations(),
		UpdatedAt:     s.updatedAt,
	}
	for i, t := range s.turns {
		t.Keywords = slices.Clone(t.Keywords)
		snap.Turns[i] = t
	}
	if s.outcome != nil {
		o := *s.outcome
		snap.Outcome = &o
	}
	return snap
}

// advance moves to p. It fails once the session is complete and never
// moves backwards.
func (s *Session) advance(p Phase) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseComplete || !s.phase.Before(p) {
		return false
	}
	s.phase = p
	s.updatedAt = s.now()
	return true
}

func (s *Session) setName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
	s.updatedAt = s.now()
}

func (s *Session) setSubject(subject string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subject = subject
	s.updatedAt = s.now()
}

// openTurn starts the turn for the current phase.
func (s *Session) openTurn(prompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, QuestionTurn{Phase: s.phase, Prompt: prompt})
	s.updatedAt = s.now()
}

// answerTurn finalises the open turn. A finalised turn is never changed.
func (s *Session) answerTurn(answer string, kws []string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.turns) == 0 {
		return false
	}
	t := &s.turns[len(s.turns)-1]
	if t.Answered {
		return false
	}
	t.Answer = answer
	t.Keywords = slices.Clone(kws)
	t.Answered = true
	s.updatedAt = s.now()
	return true
}

// complete sets the outcome and enters PhaseComplete in one step. Only the
// first call has an effect.
func (s *Session) complete(o Outcome) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcome != nil {
		return false
	}
	s.outcome = &o
	s.phase = PhaseComplete
	s.updatedAt = s.now()
	return true
}

// answer returns the accepted answer for phase p.
func (s *Session) answer(p Phase) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.turns {
		if t.Phase == p && t.Answered {
			return t.Answer
		}
	}
	return ""
}

// evaluationRequest pairs the fixed evaluation questions with the answers.
func (s *Session) evaluationRequest() evaluation.Request {
	subject, topic := s.Subject(), s.answer(PhaseTopic)
	q := evaluationQuestions(subject, topic)
	return evaluation.Request{
		Question1: q[0], Answer1: topic,
		Question2: q[1], Answer2: s.answer(PhaseApplications),
		Question3: q[2], Answer3: s.answer(PhaseQuestion3),
		Question4: q[3], Answer4: s.answer(PhaseQuestion4),
	}
}
