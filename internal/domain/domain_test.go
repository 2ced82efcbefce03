package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTier(t *testing.T) {
	tests := []struct {
		in   string
		want Tier
	}{
		{"yellow", Yellow},
		{" Green ", Green},
		{"bg-blue-200", Blue},
		{"4", Purple},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTier(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	_, err := ParseTier("red")
	assert.Error(t, err)
}

func TestTierTable(t *testing.T) {
	assert.Equal(t, [4]Tier{Yellow, Green, Blue, Purple}, Tiers)
	assert.Equal(t, "bg-purple-200", Purple.Color())
	assert.Equal(t, "🟨", Yellow.Emoji())
	tier, ok := TierForColor("bg-green-200")
	assert.True(t, ok)
	assert.Equal(t, Green, tier)
	_, ok = TierForColor("green")
	assert.False(t, ok)
	assert.False(t, Tier(0).Valid())
	assert.Equal(t, "tier(9)", Tier(9).String())
}

func TestPuzzleStateAdvance(t *testing.T) {
	s, err := StateDrafting.Advance(StateCandidate)
	require.NoError(t, err)
	s, err = s.Advance(StateValidated)
	require.NoError(t, err)
	s, err = s.Advance(StatePersisted)
	require.NoError(t, err)
	assert.Equal(t, "persisted", s.String())

	_, err = s.Advance(StateAbandoned)
	assert.Error(t, err, "persisted is terminal")

	_, err = StateDrafting.Advance(StateValidated)
	assert.Error(t, err, "states cannot be skipped")

	s, err = StateCandidate.Advance(StateAbandoned)
	require.NoError(t, err)
	assert.Equal(t, StateAbandoned, s)
}

func TestCandidateGroupsNormaliseWords(t *testing.T) {
	c := &Candidate{Picks: []Pick{{
		Theme: Theme{ID: 3, Label: "Guards", Tier: Blue},
		Words: []Word{{Text: "steph  curry"}, {Text: "Nash"}},
	}}}
	groups := c.Groups()
	require.Len(t, groups, 1)
	assert.Equal(t, Group{
		Color:   "bg-blue-200",
		Emoji:   "🟦",
		Theme:   "Guards",
		ThemeID: 3,
		Words:   []string{"STEPH CURRY", "NASH"},
	}, groups[0])
	assert.Equal(t, []string{"Guards"}, c.ThemeLabels())
}

func TestPuzzleJSON(t *testing.T) {
	p := Puzzle{
		Ordinal:   7,
		Date:      time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC),
		Groups:     []Group{{Color: "bg-yellow-200", Emoji: "🟨", Theme: "T", Words: []string{"A", "B", "C", "D"}}},
		DailyTheme: "Big men",
		Author:     "admin",
		CreatedAt:  time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"puzzle_id":7`)
	assert.Contains(t, string(data), `"date":"2026-02-03"`)
	assert.Contains(t, string(data), `"daily_theme":"Big men"`)

	var back Puzzle
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, p, back)

	require.Error(t, json.Unmarshal([]byte(`{"puzzle_id":1,"date":"soon"}`), &back))
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2026-05-06T23:10:00+00:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 5, 6, 0, 0, 0, 0, time.UTC), d)

	d, err = ParseDate("2026-05-06")
	require.NoError(t, err)
	assert.Equal(t, "2026-05-06", d.Format(DateLayout))

	d, err = ParseDate("2026-05-06T00:30:00+02:00")
	require.NoError(t, err)
	assert.Equal(t, "2026-05-06", d.Format(DateLayout), "the written calendar day is kept")

	_, err = ParseDate("May 6")
	assert.Error(t, err)
}

func TestCivilDateUsesUTCDay(t *testing.T) {
	newYork := time.FixedZone("EST", -5*3600)
	tokyo := time.FixedZone("JST", 9*3600)
	tests := []struct {
		in   time.Time
		want string
	}{
		{time.Date(2026, 6, 1, 21, 0, 0, 0, newYork), "2026-06-02"},
		{time.Date(2026, 6, 1, 8, 0, 0, 0, tokyo), "2026-05-31"},
		{time.Date(2026, 6, 1, 23, 59, 0, 0, time.UTC), "2026-06-01"},
	}
	for _, tt := range tests {
		got := CivilDate(tt.in)
		assert.Equal(t, tt.want, got.Format(DateLayout), tt.in.String())
		assert.Equal(t, time.UTC, got.Location())
	}
}

func TestTypedErrorsUnwrap(t *testing.T) {
	assert.True(t, errors.Is(&PoolExhaustedError{Tier: Blue}, ErrPoolExhausted))
	assert.True(t, errors.Is(&InsufficientWordsError{ThemeID: 1, Have: 2, Want: 4}, ErrInsufficientWords))
	assert.True(t, errors.Is(&GenerationFailedError{Attempts: 3, Err: ErrCollisionRetryExceeded}, ErrCollisionRetryExceeded))
	assert.True(t, errors.Is(&InvalidError{Violations: []string{"x"}}, ErrStructuralInvalid))
	assert.True(t, errors.Is(&CommitError{Ordinal: 1, ThemeID: 2, Err: ErrPersistence}, ErrPersistence))
}
