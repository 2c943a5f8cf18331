// Package prompt builds remote prompts and quota-exhausted fallback answers.
package prompt

import (
	"fmt"
	"regexp"

	"github.com/killer-ai/killer/pkg/models"
)

// mcqPattern matches option markers like "A)", "b.", "(C)" or words that
// usually introduce choices. Case-insensitive, so it over-matches.
var mcqPattern = regexp.MustCompile(`(?i)[A-D]\)|[A-D]\.|\([A-D]\)|choice|choose|select|option`)

// IsMCQ reports whether text looks like a multiple-choice question.
func IsMCQ(text string) bool {
	return mcqPattern.MatchString(text)
}

// Build returns the prompt for mode and text.
func Build(mode models.Mode, text string) string {
	mcq := IsMCQ(text)
	switch {
	case mode == models.ModeExplain && mcq:
		return "This is a multiple choice question. Identify the correct answer and explain why it's correct: " + text
	case mode == models.ModeExplain:
		return "Explain: " + text
	case mcq:
		return "This is a multiple choice question. Provide only the correct answer (just the letter and option text, no explanation): " + text
	default:
		return "Answer: " + text
	}
}

const mcqFallback = `📊 MCQ Detected - Daily API limit reached (50 requests)

⚠️ For multiple choice questions, I need the AI to analyze and provide the correct answer.

🔄 Try again tomorrow when the quota resets, or:
• Search for this specific question online
• Check educational resources like Khan Academy, Coursera, or textbooks
• Ask a teacher or use study forums

The extension resets at midnight with fresh API calls.`

const explainFallback = `I'd love to explain this for you, but we've reached the daily API limit (50 requests). Here's what I can suggest:

📚 Try searching for "%s" on:
• Google or Wikipedia for general explanations
• Stack Overflow for programming questions
• MDN Web Docs for web development topics

The extension will reset tomorrow with fresh API calls. You can also check if this was already answered in cached responses.`

const answerFallback = `I'd like to help answer this, but we've hit the daily API limit (50 requests). Here are some alternatives:

🔍 Quick suggestions for "%s":
• Try rephrasing your question more specifically
• Check if similar questions were already cached
• Search online resources like Google, Stack Overflow, or relevant documentation

The extension resets tomorrow with fresh API quota. Thanks for understanding!`

// Fallback returns the canned answer used once the daily quota is spent.
// The same mode and text always produce the same message.
func Fallback(mode models.Mode, text string) string {
	if IsMCQ(text) {
		return mcqFallback
	}
	if mode == models.ModeExplain {
		return fmt.Sprintf(explainFallback, excerpt(text, 50))
	}
	return fmt.Sprintf(answerFallback, excerpt(text, 50))
}

func excerpt(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "..."
}
