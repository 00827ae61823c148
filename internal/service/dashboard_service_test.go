package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-runner/internal/repository"
)

func TestItemStats(t *testing.T) {
	counts := []repository.ItemCounts{
		{Index: 0, Correct: 3, Wrong: 1},
		{Index: 1, Correct: 9},
		{Index: 3, Correct: 1, Wrong: 1, Unanswered: 2},
		{Index: 7, Correct: 5},
	}

	stats := ItemStats(sampleRecords(), counts)

	require.Len(t, stats, 3)
	assert.Equal(t, ItemStat{Index: 0, Number: "1", RecordID: "Q1", Correct: 3, Wrong: 1, CorrectRate: 0.75}, stats[0])
	assert.Equal(t, ItemStat{Index: 2, Number: "2.1", RecordID: "S1"}, stats[1])
	assert.Equal(t, "2.2", stats[2].Number)
	assert.Equal(t, 0.25, stats[2].CorrectRate)
}

func TestItemStats_NoGradedAttempts(t *testing.T) {
	stats := ItemStats(sampleRecords(), nil)

	require.Len(t, stats, 3)
	for _, s := range stats {
		assert.Zero(t, s.CorrectRate)
	}
}
