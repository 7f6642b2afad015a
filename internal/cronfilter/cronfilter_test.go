package cronfilter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileRejectsWrongFieldCount(t *testing.T) {
	_, err := Compile("* * *")
	require.Error(t, err)
}

func TestEveryMinuteSchedule(t *testing.T) {
	s, err := Compile("* * * * *")
	require.NoError(t, err)

	anchor := time.Date(2026, 1, 1, 0, 0, 30, 0, time.UTC)
	next := s.Next(anchor)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC), next)
}

func TestHourlySchedule(t *testing.T) {
	s, err := Compile("0 * * * *")
	require.NoError(t, err)

	anchor := time.Date(2026, 1, 1, 0, 30, 0, 0, time.UTC)
	next := s.Next(anchor)
	assert.Equal(t, time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC), next)
}

func TestEvaluateMatchAdvancesAndIsIdempotent(t *testing.T) {
	anchor := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cf, err := CompileCronFilter("0 * * * *", anchor.UnixNano())
	require.NoError(t, err)

	matchTime := time.Date(2026, 1, 1, 1, 0, 1, 0, time.UTC)
	matched := cf.Evaluate(matchTime.UnixNano(), nil)
	require.True(t, matched)
	nextAfterMatch := cf.Next

	// A subsequent query before the new watermark must not match again.
	reQuery := cf.Evaluate(matchTime.UnixNano(), nil)
	assert.False(t, reQuery)
	assert.Equal(t, nextAfterMatch, cf.Next)

	// Crossing the new watermark matches and advances again.
	beyond := nextAfterMatch.Add(time.Second)
	matchedAgain := cf.Evaluate(beyond.UnixNano(), nil)
	assert.True(t, matchedAgain)
	assert.True(t, cf.Next.After(nextAfterMatch))
}

func TestParseFieldRangeAndStep(t *testing.T) {
	s, err := Compile("*/15 9-17 * * 1-5")
	require.NoError(t, err)

	weekday := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC) // Monday
	assert.True(t, s.matchesTime(weekday))

	weekend := time.Date(2026, 1, 3, 9, 0, 0, 0, time.UTC) // Saturday
	assert.False(t, s.matchesTime(weekend))
}
