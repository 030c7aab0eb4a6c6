package service

import (
	"testing"

	"github.com/stemsi/exam-portal/internal/model"
	"github.com/stretchr/testify/assert"
)

func scenarioKey() model.AnswerKey {
	return model.AnswerKey{
		"q1": {Correct: 0, Options: 4},
		"q2": {Correct: 1, Options: 4},
		"q3": {Correct: 2, Options: 4},
		"q4": {Correct: 3, Options: 4},
	}
}

func TestScore(t *testing.T) {
	key := scenarioKey()

	tests := []struct {
		name    string
		answers model.Answers
		want    int
	}{
		{"all correct", model.Answers{"q1": 0, "q2": 1, "q3": 2, "q4": 3}, 4},
		{"all zero", model.Answers{"q1": 0, "q2": 0, "q3": 0, "q4": 0}, 1},
		{"missing answer is a non-match", model.Answers{"q1": 0, "q2": 1, "q4": 3}, 3},
		{"out of range never matches", model.Answers{"q1": -1, "q2": 4, "q3": 99}, 0},
		{"unknown question ignored", model.Answers{"q9": 0, "q1": 0}, 1},
		{"nil answers", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Score(tt.answers, key))
		})
	}
}

func TestScoreOutOfRangeForNarrowQuestion(t *testing.T) {
	key := model.AnswerKey{"q1": {Correct: 3, Options: 3}}
	assert.Zero(t, Score(model.Answers{"q1": 3}, key))
}

func TestScoreIsOrderIndependent(t *testing.T) {
	key := scenarioKey()
	forward := model.Answers{}
	backward := model.Answers{}
	ids := []string{"q1", "q2", "q3", "q4"}
	picks := []int{0, 2, 2, 3}

	for i := range ids {
		forward[ids[i]] = picks[i]
	}
	for i := len(ids) - 1; i >= 0; i-- {
		backward[ids[i]] = picks[i]
	}

	want := Score(forward, key)
	assert.Equal(t, 3, want)
	for i := 0; i < 20; i++ {
		assert.Equal(t, want, Score(backward, key))
	}
}
