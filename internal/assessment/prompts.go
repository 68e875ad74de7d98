package assessment

import (
	"fmt"
	"strings"
)

// Spoken prompts and announcements.
const (
	PromptWelcome = "Hello! Welcome to the AI Assessment Agent. What is your name?"

	RepromptName        = "I didn't catch your name. Please try again."
	RepromptSubject     = "I didn't understand the subject. Please say it again."
	RepromptExplanation = "I didn't hear your explanation. Please try again."
	RepromptExamples    = "I didn't hear your examples. Please try again."

	MessageQuit            = "You have quit the assessment. Goodbye."
	MessageTerminated      = "Exam terminated due to repeated violations."
	MessageCompleted       = "Your assessment is completed. Thank you!"
	MessageEvaluationRetry = "There was an issue. Retrying."
	MessageCameraDenied    = "Webcam access denied. Please allow webcam access to proceed."
)

func subjectPrompt(name string) string {
	return fmt.Sprintf("Nice to meet you, %s! What subject did you study today?", name)
}

func topicPrompt(subject string) string {
	return fmt.Sprintf("Great! What specific topic did you learn about in %s today? Please give a detailed explanation.", subject)
}

func applicationsPrompt(subject, topic string, kws []string) string {
	return fmt.Sprintf("Thanks! What are some real-time applications of %s in %s%s? Please provide concrete examples.",
		topic, subject, keywordClause("related to", kws))
}

func question3Prompt(subject, topic string, kws []string) string {
	return fmt.Sprintf("Good! How does %s impact %s in modern technology%s? Please explain in detail.",
		topic, subject, keywordClause("especially regarding", kws))
}

func question4Prompt(subject, topic string, kws []string) string {
	return fmt.Sprintf("Nice! What challenges might arise when implementing %s in %s%s? Please provide specific examples.",
		topic, subject, keywordClause("focusing on", kws))
}

// keywordClause renders " <lead> a and b", or "" without keywords.
func keywordClause(lead string, kws []string) string {
	if len(kws) == 0 {
		return ""
	}
	if len(kws) > 2 {
		kws = kws[:2]
	}
	return " " + lead + " " + strings.Join(kws, " and ")
}

// Questions as submitted for evaluation. They carry no keyword clause.
func evaluationQuestions(subject, topic string) [4]string {
	return [4]string{
		fmt.Sprintf("What specific topic did you learn about in %s today? Please give a detailed explanation.", subject),
		fmt.Sprintf("What are some real-life applications of %s in %s? Please provide a detailed explanation.", topic, subject),
		fmt.Sprintf("How does %s impact %s in modern technology? Please explain in detail.", topic, subject),
		fmt.Sprintf("What challenges might arise when implementing %s in %s? Please provide specific examples.", topic, subject),
	}
}
