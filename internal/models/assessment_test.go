package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionTotals(t *testing.T) {
	var totals SessionTotals

	totals.AddAnswered(30)
	totals.AddAnswered(45)
	totals.AddSkipped(5)

	assert.Equal(t, 3, totals.Answered, "skips count toward answered progress")
	assert.Equal(t, 1, totals.Skipped)
	assert.Equal(t, 80, totals.TimeSpentSeconds)
}

func TestMinReasoningLength(t *testing.T) {
	task := &Task{}
	assert.Equal(t, DefaultReasoningMinLength, task.MinReasoningLength())

	task.ReasoningMinLength = 50
	assert.Equal(t, 50, task.MinReasoningLength())
}
