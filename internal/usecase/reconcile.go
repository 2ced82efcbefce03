package usecase

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"svw.info/connections/internal/domain"
)

// ReconcileReport lists what reconciliation repaired.
type ReconcileReport struct {
	Puzzles         int      `json:"puzzles"`
	WordsRepaired   int      `json:"words_repaired"`
	ThemesExhausted int      `json:"themes_exhausted"`
	Missing         []string `json:"missing,omitempty"`
}

// Reconcile re-derives used words from the ledger: every word of every
// persisted puzzle is marked used, and themes left with fewer than four
// unused words are exhausted.
func (u *Service) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	if u.Store == nil {
		return nil, errNotConfigured
	}
	holder := "reconcile-" + uuid.NewString()
	unlock, err := u.lock(ctx, holder)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return u.reconcile(ctx, u.log.With(zap.String("run_id", holder)))
}

func (u *Service) reconcile(ctx context.Context, log *zap.Logger) (*ReconcileReport, error) {
	rep := &ReconcileReport{}
	themes := map[int64]domain.Theme{}
	for _, tier := range domain.Tiers {
		list, err := u.Store.ListThemes(ctx, tier, true)
		if err != nil {
			return nil, fmt.Errorf("list %s themes: %w", tier, err)
		}
		for _, th := range list {
			themes[th.ID] = th
		}
	}
	puzzles, err := u.Store.ListPuzzles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list puzzles: %w", err)
	}
	rep.Puzzles = len(puzzles)

	for _, p := range puzzles {
		for _, g := range p.Groups {
			th, ok := u.themeForGroup(ctx, themes, g)
			if !ok {
				rep.Missing = append(rep.Missing, fmt.Sprintf("puzzle %d: theme %q", p.Ordinal, g.Theme))
				continue
			}
			words, err := u.Store.ListWords(ctx, th.ID, true)
			if err != nil {
				return nil, fmt.Errorf("list words of theme %d: %w", th.ID, err)
			}
			byText := make(map[string]domain.Word, len(words))
			for _, w := range words {
				byText[domain.NormalizeWord(w.Text)] = w
			}
			var stale []int64
			for _, text := range g.Words {
				w, ok := byText[domain.NormalizeWord(text)]
				switch {
				case !ok:
					rep.Missing = append(rep.Missing, fmt.Sprintf("puzzle %d: word %q of theme %q", p.Ordinal, text, g.Theme))
				case !w.Used:
					stale = append(stale, w.ID)
				}
			}
			if len(stale) == 0 {
				continue
			}
			if err := u.Store.MarkWordsUsed(ctx, th.ID, stale); err != nil {
				return nil, fmt.Errorf("mark words of theme %d used: %w", th.ID, err)
			}
			rep.WordsRepaired += len(stale)
			log.Warn("repaired unconsumed puzzle words",
				zap.Int("ordinal", p.Ordinal),
				zap.Int64("theme_id", th.ID),
				zap.Int("words", len(stale)))
		}
	}

	for id, th := range themes {
		if th.Exhausted {
			continue
		}
		unused, err := u.Store.ListWords(ctx, id, false)
		if err != nil {
			return nil, fmt.Errorf("list words of theme %d: %w", id, err)
		}
		if len(unused) >= domain.GroupSize {
			continue
		}
		if err := u.Store.MarkThemeExhausted(ctx, id); err != nil {
			return nil, fmt.Errorf("exhaust theme %d: %w", id, err)
		}
		rep.ThemesExhausted++
	}

	u.opts.Metrics.WordsReconciled(rep.WordsRepaired)
	if len(rep.Missing) > 0 {
		log.Warn("ledger entries missing from pool", zap.Strings("missing", rep.Missing))
	}
	log.Info("reconciled ledger",
		zap.Int("puzzles", rep.Puzzles),
		zap.Int("words_repaired", rep.WordsRepaired),
		zap.Int("themes_exhausted", rep.ThemesExhausted))
	return rep, nil
}

// themeForGroup prefers the stored theme ID and falls back to label + colour
// for records written without one.
func (u *Service) themeForGroup(ctx context.Context, themes map[int64]domain.Theme, g domain.Group) (domain.Theme, bool) {
	if g.ThemeID != 0 {
		th, ok := themes[g.ThemeID]
		return th, ok
	}
	tier, ok := domain.TierForColor(g.Color)
	if !ok {
		return domain.Theme{}, false
	}
	th, err := u.Store.FindTheme(ctx, g.Theme, tier)
	if err != nil {
		return domain.Theme{}, false
	}
	return th, true
}
