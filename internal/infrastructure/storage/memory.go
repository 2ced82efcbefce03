package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"svw.info/connections/internal/domain"
	"svw.info/connections/internal/ports"
)

var _ ports.Store = (*Memory)(nil)

// Memory is an in-process Store for tests and dry runs.
type Memory struct {
	mu        sync.Mutex
	lastTheme int64
	lastWord  int64
	themes    map[int64]*domain.Theme
	words     map[int64]*domain.Word
	puzzles   map[int]domain.Puzzle
	holder    string
}

func NewMemory() *Memory {
	return &Memory{
		themes:  map[int64]*domain.Theme{},
		words:   map[int64]*domain.Word{},
		puzzles: map[int]domain.Puzzle{},
	}
}

// Seed adds a theme with its words and returns it.
func (m *Memory) Seed(label string, tier domain.Tier, words ...string) domain.Theme {
	th, _ := m.UpsertTheme(context.Background(), label, tier)
	_, _ = m.AddWords(context.Background(), th.ID, words)
	return th
}

func (m *Memory) ListThemes(ctx context.Context, tier domain.Tier, includeExhausted bool) ([]domain.Theme, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Theme
	for _, th := range m.themes {
		if th.Tier != tier || (th.Exhausted && !includeExhausted) {
			continue
		}
		out = append(out, *th)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) FindTheme(ctx context.Context, label string, tier domain.Tier) (domain.Theme, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if th := m.findTheme(label, tier); th != nil {
		return *th, nil
	}
	return domain.Theme{}, fmt.Errorf("theme %q (%s): %w", label, tier, domain.ErrNotFound)
}

func (m *Memory) findTheme(label string, tier domain.Tier) *domain.Theme {
	for _, th := range m.themes {
		if th.Tier == tier && strings.EqualFold(th.Label, strings.TrimSpace(label)) {
			return th
		}
	}
	return nil
}

func (m *Memory) ListWords(ctx context.Context, themeID int64, includeUsed bool) ([]domain.Word, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Word
	for _, w := range m.words {
		if w.ThemeID == themeID && (includeUsed || !w.Used) {
			out = append(out, *w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) MarkWordsUsed(ctx context.Context, themeID int64, wordIDs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range wordIDs {
		w, ok := m.words[id]
		if !ok || w.ThemeID != themeID {
			return fmt.Errorf("word %d of theme %d: %w", id, themeID, domain.ErrNotFound)
		}
	}
	for _, id := range wordIDs {
		m.words[id].Used = true
	}
	return nil
}

func (m *Memory) MarkThemeExhausted(ctx context.Context, themeID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	th, ok := m.themes[themeID]
	if !ok {
		return fmt.Errorf("theme %d: %w", themeID, domain.ErrNotFound)
	}
	th.Exhausted = true
	return nil
}

func (m *Memory) UpsertTheme(ctx context.Context, label string, tier domain.Tier) (domain.Theme, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if th := m.findTheme(label, tier); th != nil {
		return *th, nil
	}
	m.lastTheme++
	th := &domain.Theme{ID: m.lastTheme, Label: strings.TrimSpace(label), Tier: tier}
	m.themes[th.ID] = th
	return *th, nil
}

func (m *Memory) AddWords(ctx context.Context, themeID int64, words []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.themes[themeID]; !ok {
		return 0, fmt.Errorf("theme %d: %w", themeID, domain.ErrNotFound)
	}
	seen := map[string]bool{}
	for _, w := range m.words {
		if w.ThemeID == themeID {
			seen[domain.NormalizeWord(w.Text)] = true
		}
	}
	added := 0
	for _, text := range words {
		key := domain.NormalizeWord(text)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		m.lastWord++
		m.words[m.lastWord] = &domain.Word{ID: m.lastWord, ThemeID: themeID, Text: strings.TrimSpace(text)}
		added++
	}
	return added, nil
}

func (m *Memory) MaxOrdinal(ctx context.Context) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	top, found := 0, false
	for ord := range m.puzzles {
		if ord > top {
			top, found = ord, true
		}
	}
	return top, found, nil
}

func (m *Memory) MaxDate(ctx context.Context) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var top time.Time
	found := false
	for _, p := range m.puzzles {
		if !found || p.Date.After(top) {
			top, found = p.Date, true
		}
	}
	return top, found, nil
}

func (m *Memory) InsertPuzzle(ctx context.Context, p *domain.Puzzle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.puzzles[p.Ordinal]; ok {
		return fmt.Errorf("puzzle %d: %w", p.Ordinal, domain.ErrLedgerConflict)
	}
	for _, q := range m.puzzles {
		if q.Date.Equal(p.Date) {
			return fmt.Errorf("date %s: %w", p.DateString(), domain.ErrLedgerConflict)
		}
	}
	m.puzzles[p.Ordinal] = clonePuzzle(*p)
	return nil
}

func (m *Memory) GetPuzzle(ctx context.Context, ordinal int) (*domain.Puzzle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.puzzles[ordinal]
	if !ok {
		return nil, fmt.Errorf("puzzle %d: %w", ordinal, domain.ErrNotFound)
	}
	out := clonePuzzle(p)
	return &out, nil
}

func (m *Memory) PuzzleByDate(ctx context.Context, date time.Time) (*domain.Puzzle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	date = domain.CivilDate(date)
	for _, p := range m.puzzles {
		if p.Date.Equal(date) {
			out := clonePuzzle(p)
			return &out, nil
		}
	}
	return nil, fmt.Errorf("puzzle on %s: %w", date.Format(domain.DateLayout), domain.ErrNotFound)
}

func (m *Memory) ListPuzzles(ctx context.Context) ([]domain.Puzzle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Puzzle, 0, len(m.puzzles))
	for _, p := range m.puzzles {
		out = append(out, clonePuzzle(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out, nil
}

func (m *Memory) AcquireRunLock(ctx context.Context, holder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.holder != "" && m.holder != holder {
		return fmt.Errorf("held by %s: %w", m.holder, domain.ErrRunLocked)
	}
	m.holder = holder
	return nil
}

func (m *Memory) ReleaseRunLock(ctx context.Context, holder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.holder == holder {
		m.holder = ""
	}
	return nil
}

func clonePuzzle(p domain.Puzzle) domain.Puzzle {
	groups := make([]domain.Group, len(p.Groups))
	for i, g := range p.Groups {
		g.Words = append([]string(nil), g.Words...)
		groups[i] = g
	}
	p.Groups = groups
	return p
}
