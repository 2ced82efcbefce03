// Package validator checks the structural invariants of a puzzle. It has no
// side effects and does not care where the groups came from.
package validator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"svw.info/connections/internal/domain"
)

// Violation codes.
const (
	CodeGroupCount           = "group_count"
	CodeUnknownTier          = "unknown_tier"
	CodeEmojiMismatch        = "emoji_mismatch"
	CodeDuplicateTier        = "duplicate_tier"
	CodeMissingTier          = "missing_tier"
	CodeEmptyTheme           = "empty_theme"
	CodeDuplicateTheme       = "duplicate_theme"
	CodeWordCount            = "word_count"
	CodeEmptyWord            = "empty_word"
	CodeDuplicateWordInGroup = "duplicate_word_in_group"
	CodeDuplicateWordAcross  = "duplicate_word_across_groups"
	CodeUniqueWordCount      = "unique_word_count"
)

// Violation is one broken invariant. Group is the zero-based group index, or
// -1 when the violation concerns the puzzle as a whole.
type Violation struct {
	Code    string `json:"code"`
	Group   int    `json:"group"`
	Message string `json:"message"`
}

func (v Violation) String() string { return v.Message }

// Result is the verdict on one puzzle.
type Result struct {
	Valid      bool        `json:"valid"`
	Violations []Violation `json:"violations,omitempty"`
}

// Messages lists the violation messages in order.
func (r Result) Messages() []string {
	out := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		out = append(out, v.Message)
	}
	return out
}

// Err returns nil for a valid result and a *domain.InvalidError otherwise.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	return &domain.InvalidError{Violations: r.Messages()}
}

// Check validates groups against the puzzle invariants and reports every
// violation, not just the first.
func Check(groups []domain.Group) Result {
	var out []Violation
	add := func(code string, group int, format string, args ...any) {
		out = append(out, Violation{Code: code, Group: group, Message: fmt.Sprintf(format, args...)})
	}

	if len(groups) != domain.GroupSize {
		add(CodeGroupCount, -1, "puzzle must have exactly %d groups (found %d)", domain.GroupSize, len(groups))
	}

	tierSeen := map[domain.Tier]int{}
	themeSeen := map[string]int{}
	wordGroups := map[string][]int{}
	distinct := 0

	for i, g := range groups {
		label := strings.TrimSpace(g.Theme)
		name := label
		if name == "" {
			name = fmt.Sprintf("#%d", i+1)
		}

		tier, ok := domain.TierForColor(g.Color)
		switch {
		case !ok:
			add(CodeUnknownTier, i, "group %s has unknown colour %q", name, g.Color)
		case g.Emoji != tier.Emoji():
			add(CodeEmojiMismatch, i, "group %s emoji %q does not match %s tier", name, g.Emoji, tier)
		}
		if ok {
			if prev, dup := tierSeen[tier]; dup {
				add(CodeDuplicateTier, i, "group %s repeats the %s tier of group %d", name, tier, prev+1)
			} else {
				tierSeen[tier] = i
			}
		}

		if label == "" {
			add(CodeEmptyTheme, i, "group #%d has no theme label", i+1)
		} else {
			key := strings.ToLower(label)
			if prev, dup := themeSeen[key]; dup {
				add(CodeDuplicateTheme, i, "theme %q appears in groups %d and %d", label, prev+1, i+1)
			} else {
				themeSeen[key] = i
			}
		}

		if len(g.Words) != domain.GroupSize {
			add(CodeWordCount, i, "theme %q must have exactly %d words (found %d)", name, domain.GroupSize, len(g.Words))
		}
		local := map[string]bool{}
		for _, w := range g.Words {
			key := domain.NormalizeWord(w)
			if key == "" {
				add(CodeEmptyWord, i, "theme %q contains an empty word", name)
				continue
			}
			if local[key] {
				add(CodeDuplicateWordInGroup, i, "theme %q contains duplicate word %q", name, key)
				continue
			}
			local[key] = true
			if len(wordGroups[key]) == 0 {
				distinct++
			}
			wordGroups[key] = append(wordGroups[key], i)
		}
	}

	for _, t := range domain.Tiers {
		if _, ok := tierSeen[t]; !ok {
			add(CodeMissingTier, -1, "missing %s group (%s)", t, t.Color())
		}
	}

	var shared []string
	for w, gs := range wordGroups {
		if len(gs) > 1 {
			shared = append(shared, w)
		}
	}
	sort.Strings(shared)
	for _, w := range shared {
		add(CodeDuplicateWordAcross, -1, "word %q appears in groups %s", w, joinGroups(wordGroups[w]))
	}

	want := domain.GroupSize * domain.GroupSize
	if distinct != want {
		add(CodeUniqueWordCount, -1, "puzzle must have exactly %d unique words (found %d)", want, distinct)
	}

	return Result{Valid: len(out) == 0, Violations: out}
}

func joinGroups(idx []int) string {
	parts := make([]string, len(idx))
	for i, g := range idx {
		parts[i] = fmt.Sprint(g + 1)
	}
	return strings.Join(parts, ", ")
}

// Structural adapts Check to the service layer.
type Structural struct{}

func New() *Structural { return &Structural{} }

func (v *Structural) Validate(ctx context.Context, groups []domain.Group) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return Check(groups), nil
}
