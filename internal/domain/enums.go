package domain

import (
	"fmt"
	"strings"
)

// Tier is a puzzle difficulty slot. Each puzzle has exactly one group per tier.
type Tier int

const (
	Yellow Tier = iota + 1 // the easiest category
	Green                  // moderate difficulty
	Blue                   // fairly hard
	Purple                 // the most challenging
)

// Tiers lists every tier easiest first.
var Tiers = [4]Tier{Yellow, Green, Blue, Purple}

type tierInfo struct {
	name  string
	color string
	emoji string
}

var tierTable = map[Tier]tierInfo{
	Yellow: {"yellow", "bg-yellow-200", "🟨"},
	Green:  {"green", "bg-green-200", "🟩"},
	Blue:   {"blue", "bg-blue-200", "🟦"},
	Purple: {"purple", "bg-purple-200", "🟪"},
}

// Valid reports whether t is one of the four fixed tiers.
func (t Tier) Valid() bool {
	_, ok := tierTable[t]
	return ok
}

func (t Tier) String() string {
	if info, ok := tierTable[t]; ok {
		return info.name
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// Color is the colour tag stored on every group of this tier.
func (t Tier) Color() string { return tierTable[t].color }

// Emoji is the share-grid square for this tier.
func (t Tier) Emoji() string { return tierTable[t].emoji }

// ParseTier accepts a tier name ("yellow"), a colour tag ("bg-yellow-200")
// or an ordinal ("1".."4").
func ParseTier(s string) (Tier, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	for _, t := range Tiers {
		info := tierTable[t]
		if v == info.name || v == info.color || v == fmt.Sprint(int(t)) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown tier %q", s)
}

// TierForColor maps a stored colour tag back to its tier.
func TierForColor(color string) (Tier, bool) {
	for _, t := range Tiers {
		if tierTable[t].color == color {
			return t, true
		}
	}
	return 0, false
}

// PuzzleState tracks a puzzle through one generation run. Transitions only
// move forward; Persisted and Abandoned are terminal.
type PuzzleState int

const (
	StateDrafting PuzzleState = iota
	StateCandidate
	StateValidated
	StatePersisted
	StateAbandoned
)

func (s PuzzleState) String() string {
	switch s {
	case StateDrafting:
		return "drafting"
	case StateCandidate:
		return "candidate"
	case StateValidated:
		return "validated"
	case StatePersisted:
		return "persisted"
	case StateAbandoned:
		return "abandoned"
	}
	return "unknown"
}

// Advance moves to next if the transition is allowed.
func (s PuzzleState) Advance(next PuzzleState) (PuzzleState, error) {
	if s == StatePersisted || s == StateAbandoned {
		return s, fmt.Errorf("puzzle already %s", s)
	}
	if next == StateAbandoned || next == s+1 {
		return next, nil
	}
	return s, fmt.Errorf("invalid transition %s -> %s", s, next)
}
