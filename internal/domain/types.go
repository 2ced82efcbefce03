package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// DateLayout is the ISO-8601 calendar date format used for puzzle dates.
const DateLayout = "2006-01-02"

// GroupSize is the number of words per group and the number of groups per puzzle.
const GroupSize = 4

// Theme is a labeled category with a pool of candidate words.
type Theme struct {
	ID        int64  `json:"id"`
	Label     string `json:"theme"`
	Tier      Tier   `json:"tier"`
	Exhausted bool   `json:"exhausted"`
}

// Word is a candidate word belonging to exactly one theme.
type Word struct {
	ID      int64  `json:"id"`
	ThemeID int64  `json:"theme_id"`
	Text    string `json:"text"`
	Used    bool   `json:"used"`
}

// Group is the 4-word, tier-coloured slice of a puzzle.
type Group struct {
	Color   string   `json:"color"`
	Emoji   string   `json:"emoji"`
	Theme   string   `json:"theme"`
	ThemeID int64    `json:"theme_id,omitempty"`
	Words   []string `json:"words"`
}

// Pick is one theme and the words drawn from it.
type Pick struct {
	Theme Theme
	Words []Word
}

// Candidate is an assembled, not yet validated puzzle. DailyTheme is an
// optional headline shown with the puzzle.
type Candidate struct {
	Picks      []Pick
	DailyTheme string
}

// Groups renders the candidate in stored form, one group per pick.
func (c *Candidate) Groups() []Group {
	out := make([]Group, 0, len(c.Picks))
	for _, p := range c.Picks {
		words := make([]string, 0, len(p.Words))
		for _, w := range p.Words {
			words = append(words, NormalizeWord(w.Text))
		}
		out = append(out, Group{
			Color:   p.Theme.Tier.Color(),
			Emoji:   p.Theme.Tier.Emoji(),
			Theme:   p.Theme.Label,
			ThemeID: p.Theme.ID,
			Words:   words,
		})
	}
	return out
}

// ThemeLabels lists the picked theme labels in tier order.
func (c *Candidate) ThemeLabels() []string {
	out := make([]string, 0, len(c.Picks))
	for _, p := range c.Picks {
		out = append(out, p.Theme.Label)
	}
	return out
}

// Puzzle is a persisted puzzle with its position in the dated queue.
type Puzzle struct {
	Ordinal    int       `json:"puzzle_id"`
	Date       time.Time `json:"-"`
	Groups     []Group   `json:"groups"`
	DailyTheme string    `json:"daily_theme,omitempty"`
	Author     string    `json:"author,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// DateString formats the puzzle date as YYYY-MM-DD.
func (p *Puzzle) DateString() string { return p.Date.Format(DateLayout) }

type puzzleJSON struct {
	Ordinal    int       `json:"puzzle_id"`
	Date       string    `json:"date"`
	Groups     []Group   `json:"groups"`
	DailyTheme string    `json:"daily_theme,omitempty"`
	Author     string    `json:"author,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func (p Puzzle) MarshalJSON() ([]byte, error) {
	return json.Marshal(puzzleJSON{
		Ordinal:    p.Ordinal,
		Date:       p.DateString(),
		Groups:     p.Groups,
		DailyTheme: p.DailyTheme,
		Author:     p.Author,
		CreatedAt:  p.CreatedAt,
	})
}

func (p *Puzzle) UnmarshalJSON(data []byte) error {
	var raw puzzleJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = Puzzle{Ordinal: raw.Ordinal, Groups: raw.Groups, DailyTheme: raw.DailyTheme, Author: raw.Author, CreatedAt: raw.CreatedAt}
	if raw.Date != "" {
		d, err := ParseDate(raw.Date)
		if err != nil {
			return err
		}
		p.Date = d
	}
	return nil
}

// PuzzleMeta is a lightweight listing entry.
type PuzzleMeta struct {
	Ordinal int    `json:"puzzle_id"`
	Date    string `json:"date"`
	Author  string `json:"author,omitempty"`
}

// NormalizeWord is the comparison and storage form of a word.
func NormalizeWord(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), " "))
}

// CivilDate truncates t to midnight of its UTC calendar day.
func CivilDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD date, tolerating a trailing time component.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) > len(DateLayout) {
		s = s[:len(DateLayout)]
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}
