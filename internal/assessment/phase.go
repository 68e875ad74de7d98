package assessment

// Phase is the dialogue step a session is in.
type Phase string

const (
	PhaseInstructions Phase = "instructions"
	PhaseName         Phase = "name"
	PhaseSubject      Phase = "subject"
	PhaseTopic        Phase = "topic"
	PhaseApplications Phase = "applications"
	PhaseQuestion3    Phase = "question3"
	PhaseQuestion4    Phase = "question4"
	PhaseComplete     Phase = "complete"
)

var phaseOrder = map[Phase]int{
	PhaseInstructions: 0,
	PhaseName:         1,
	PhaseSubject:      2,
	PhaseTopic:        3,
	PhaseApplications: 4,
	PhaseQuestion3:    5,
	PhaseQuestion4:    6,
	PhaseComplete:     7,
}

// Before reports whether p comes strictly before q in the dialogue.
func (p Phase) Before(q Phase) bool {
	return phaseOrder[p] < phaseOrder[q]
}

// Monitored reports whether the proctoring monitor polices p.
func (p Phase) Monitored() bool {
	return p != PhaseInstructions && p != PhaseComplete
}

// OutcomeKind is the final disposition of a session.
type OutcomeKind string

const (
	OutcomeQuit   OutcomeKind = "quit"
	OutcomeFailed OutcomeKind = "failed"
	OutcomeScored OutcomeKind = "scored"
)

// Outcome is set exactly once, when the session reaches [PhaseComplete].
type Outcome struct {
	Kind     OutcomeKind `json:"kind"`
	Reason   string      `json:"reason,omitempty"`
	Feedback string      `json:"feedback,omitempty"`
	Score    int         `json:"score"`
}

// Failure reasons.
const (
	ReasonRepeatedViolations = "repeated violations"
	ReasonCameraUnavailable  = "camera unavailable"
	ReasonCandidateQuit      = "quit by candidate"
	ReasonDisconnected       = "connection closed"
)
