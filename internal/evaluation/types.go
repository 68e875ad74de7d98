// Package evaluation talks to the answer evaluation and result persistence
// collaborator.
//
// The wire format is shared by the HTTP client ([Client]), the in-process
// adapter ([Local]) and the HTTP API that serves it.
package evaluation

import (
	"regexp"
	"strconv"
	"time"
)

// Request carries the four question/answer pairs of a completed assessment.
type Request struct {
	Question1 string `json:"question1"`
	Answer1   string `json:"answer1"`
	Question2 string `json:"question2"`
	Answer2   string `json:"answer2"`
	Question3 string `json:"question3"`
	Answer3   string `json:"answer3"`
	Question4 string `json:"question4"`
	Answer4   string `json:"answer4"`
}

// Pairs returns the question/answer pairs in order.
func (r Request) Pairs() [4][2]string {
	return [4][2]string{
		{r.Question1, r.Answer1},
		{r.Question2, r.Answer2},
		{r.Question3, r.Answer3},
		{r.Question4, r.Answer4},
	}
}

// Response is the evaluation reply. Feedback embeds a "Score: N" token.
type Response struct {
	Feedback string `json:"feedback"`
}

// Result is the record persisted for a scored assessment.
type Result struct {
	StudentName string    `json:"student_name"`
	Subject     string    `json:"subject"`
	Topic       string    `json:"topic"`
	Score       int       `json:"score"`
	Cheated     bool      `json:"cheated"`
	EntryTime   time.Time `json:"entry_time"`
}

var scorePattern = regexp.MustCompile(`Score: (\d+)`)

// ParseScore extracts the first "Score: N" token from feedback. It returns 0
// when there is none.
func ParseScore(feedback string) int {
	m := scorePattern.FindStringSubmatch(feedback)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}
