package service

import "github.com/stemsi/exam-portal/internal/model"

// Score counts answers that match the key. Answers for unknown questions,
// out-of-range indices and unanswered questions never match.
func Score(answers model.Answers, key model.AnswerKey) int {
	score := 0
	for questionID, entry := range key {
		selected, ok := answers[questionID]
		if !ok || selected < 0 || selected >= entry.Options {
			continue
		}
		if selected == entry.Correct {
			score++
		}
	}
	return score
}
