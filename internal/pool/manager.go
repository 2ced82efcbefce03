// Package pool keeps the in-memory view of themes and unused words that a
// generation run draws from, and is the only path that consumes them.
package pool

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"go.uber.org/zap"

	"svw.info/connections/internal/domain"
	"svw.info/connections/internal/ports"
)

var _ ports.Pool = (*Manager)(nil)

type themeState struct {
	theme  domain.Theme
	unused []domain.Word
}

func (s *themeState) viable() bool {
	return !s.theme.Exhausted && len(s.unused) >= domain.GroupSize
}

// TierStats summarises what is left for one tier.
type TierStats struct {
	Tier         domain.Tier `json:"-"`
	Name         string      `json:"tier"`
	Themes       int         `json:"themes"`
	ViableThemes int         `json:"viable_themes"`
	UnusedWords  int         `json:"unused_words"`
}

// Manager is a single-run view over a PoolStore. It is not safe for
// concurrent use; runs are serialised by the run lock.
type Manager struct {
	store  ports.PoolStore
	log    *zap.Logger
	themes map[int64]*themeState
}

// New wires a manager over store. Call Load before drawing.
func New(store ports.PoolStore, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{store: store, log: log, themes: map[int64]*themeState{}}
}

// Load reads every non-exhausted theme and its unused words.
func (m *Manager) Load(ctx context.Context) error {
	themes := map[int64]*themeState{}
	for _, tier := range domain.Tiers {
		list, err := m.store.ListThemes(ctx, tier, false)
		if err != nil {
			return fmt.Errorf("list %s themes: %w", tier, err)
		}
		for _, th := range list {
			words, err := m.store.ListWords(ctx, th.ID, false)
			if err != nil {
				return fmt.Errorf("list words of theme %d: %w", th.ID, err)
			}
			themes[th.ID] = &themeState{theme: th, unused: words}
		}
	}
	m.themes = themes
	for _, st := range m.Stats() {
		m.log.Debug("pool loaded",
			zap.String("tier", st.Name),
			zap.Int("themes", st.Themes),
			zap.Int("viable", st.ViableThemes),
			zap.Int("unused_words", st.UnusedWords))
	}
	return nil
}

// ViableThemes returns the tier's themes with at least four unused words,
// ordered by ID.
func (m *Manager) ViableThemes(tier domain.Tier) []domain.Theme {
	var out []domain.Theme
	for _, st := range m.themes {
		if st.theme.Tier == tier && st.viable() {
			out = append(out, st.theme)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Sample draws k distinct unused words from the theme at random.
func (m *Manager) Sample(rng *rand.Rand, themeID int64, k int) ([]domain.Word, error) {
	st, ok := m.themes[themeID]
	if !ok || st.theme.Exhausted || len(st.unused) < k {
		have := 0
		if ok && !st.theme.Exhausted {
			have = len(st.unused)
		}
		return nil, &domain.InsufficientWordsError{ThemeID: themeID, Have: have, Want: k}
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	idx := rng.Perm(len(st.unused))[:k]
	out := make([]domain.Word, 0, k)
	for _, i := range idx {
		out = append(out, st.unused[i])
	}
	return out, nil
}

// Commit marks exactly the given words used and exhausts the theme when
// fewer than four unused words remain. Committing the same words twice is a
// no-op.
func (m *Manager) Commit(ctx context.Context, themeID int64, words []domain.Word) error {
	ids := make([]int64, 0, len(words))
	for _, w := range words {
		if w.ThemeID != 0 && w.ThemeID != themeID {
			return fmt.Errorf("word %d belongs to theme %d, not %d", w.ID, w.ThemeID, themeID)
		}
		ids = append(ids, w.ID)
	}
	if err := m.store.MarkWordsUsed(ctx, themeID, ids); err != nil {
		return fmt.Errorf("mark words used: %w", err)
	}
	remaining, err := m.store.ListWords(ctx, themeID, false)
	if err != nil {
		return fmt.Errorf("count unused words: %w", err)
	}
	st := m.themes[themeID]
	if st != nil {
		st.unused = remaining
	}
	if len(remaining) >= domain.GroupSize {
		return nil
	}
	if err := m.store.MarkThemeExhausted(ctx, themeID); err != nil {
		return fmt.Errorf("mark theme exhausted: %w", err)
	}
	if st != nil {
		st.theme.Exhausted = true
	}
	m.log.Info("theme exhausted", zap.Int64("theme_id", themeID), zap.Int("unused_words", len(remaining)))
	return nil
}

// Reserve drops the given words from this run's view without touching the
// store, so later draws in the same run cannot reuse words that were handed
// out but not committed.
func (m *Manager) Reserve(themeID int64, words []domain.Word) {
	st, ok := m.themes[themeID]
	if !ok {
		return
	}
	drop := make(map[int64]bool, len(words))
	for _, w := range words {
		drop[w.ID] = true
	}
	kept := make([]domain.Word, 0, len(st.unused))
	for _, w := range st.unused {
		if !drop[w.ID] {
			kept = append(kept, w)
		}
	}
	st.unused = kept
}

// Stats reports per-tier counts, easiest tier first.
func (m *Manager) Stats() []TierStats {
	out := make([]TierStats, 0, len(domain.Tiers))
	for _, tier := range domain.Tiers {
		ts := TierStats{Tier: tier, Name: tier.String()}
		for _, st := range m.themes {
			if st.theme.Tier != tier || st.theme.Exhausted {
				continue
			}
			ts.Themes++
			ts.UnusedWords += len(st.unused)
			if st.viable() {
				ts.ViableThemes++
			}
		}
		out = append(out, ts)
	}
	return out
}
