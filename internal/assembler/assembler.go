// Package assembler picks one theme per tier so that the sixteen drawn words
// are pairwise distinct.
package assembler

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"svw.info/connections/internal/domain"
	"svw.info/connections/internal/ports"
)

var _ ports.Assembler = (*Assembler)(nil)

const (
	DefaultMaxPuzzleAttempts      = 50
	DefaultMaxThemeRetriesPerTier = 10
)

// Config bounds the retry loops of one assembly.
type Config struct {
	// MaxPuzzleAttempts is how many times a whole puzzle is redrawn.
	MaxPuzzleAttempts int
	// MaxThemeRetriesPerTier caps theme draws for one tier within one attempt.
	MaxThemeRetriesPerTier int
}

// DefaultConfig returns the budgets used when none are configured.
func DefaultConfig() Config {
	return Config{
		MaxPuzzleAttempts:      DefaultMaxPuzzleAttempts,
		MaxThemeRetriesPerTier: DefaultMaxThemeRetriesPerTier,
	}
}

// Assembler draws candidate puzzles from a Pool.
type Assembler struct {
	pool ports.Pool
	cfg  Config
	rng  *rand.Rand
	log  *zap.Logger
}

type Option func(*Assembler)

// WithSeed makes draws reproducible.
func WithSeed(seed int64) Option {
	return func(a *Assembler) { a.rng = rand.New(rand.NewSource(seed)) }
}

func WithLogger(l *zap.Logger) Option {
	return func(a *Assembler) {
		if l != nil {
			a.log = l
		}
	}
}

// New wires an assembler over pool. Non-positive budgets fall back to the
// defaults.
func New(pool ports.Pool, cfg Config, opts ...Option) *Assembler {
	if cfg.MaxPuzzleAttempts <= 0 {
		cfg.MaxPuzzleAttempts = DefaultMaxPuzzleAttempts
	}
	if cfg.MaxThemeRetriesPerTier <= 0 {
		cfg.MaxThemeRetriesPerTier = DefaultMaxThemeRetriesPerTier
	}
	a := &Assembler{pool: pool, cfg: cfg, log: zap.NewNop()}
	for _, o := range opts {
		o(a)
	}
	if a.rng == nil {
		a.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return a
}

// errTierBudget ends one attempt; the next attempt starts from scratch.
var errTierBudget = errors.New("tier retry budget exhausted")

// attempt is the working state of one puzzle attempt.
type attempt struct {
	picks  []domain.Pick
	chosen map[int64]bool
	words  map[string]bool
	tried  []string
}

// Assemble returns a candidate with one pick per tier, easiest tier first.
// It returns a *domain.PoolExhaustedError when a tier has no viable themes
// and a *domain.GenerationFailedError when every attempt collided.
func (a *Assembler) Assemble(ctx context.Context) (*domain.Candidate, ports.Stats, error) {
	start := time.Now()
	var st ports.Stats
	var tried [][]string

	for n := 1; n <= a.cfg.MaxPuzzleAttempts; n++ {
		if err := ctx.Err(); err != nil {
			st.Duration = time.Since(start)
			return nil, st, err
		}
		st.Attempts = n
		at := &attempt{chosen: map[int64]bool{}, words: map[string]bool{}}
		err := a.fill(at, &st)
		if err == nil {
			st.Duration = time.Since(start)
			a.log.Debug("candidate assembled",
				zap.Int("attempt", n),
				zap.Int("draws", st.Draws),
				zap.Int("collisions", st.Collisions))
			return &domain.Candidate{Picks: at.picks}, st, nil
		}
		if !errors.Is(err, errTierBudget) {
			st.Duration = time.Since(start)
			return nil, st, err
		}
		tried = append(tried, at.tried)
		a.log.Debug("attempt abandoned", zap.Int("attempt", n), zap.Strings("themes", at.tried))
	}
	st.Duration = time.Since(start)
	return nil, st, &domain.GenerationFailedError{
		Attempts: st.Attempts,
		Themes:   tried,
		Err:      domain.ErrCollisionRetryExceeded,
	}
}

func (a *Assembler) fill(at *attempt, st *ports.Stats) error {
	for _, tier := range domain.Tiers {
		viable := a.pool.ViableThemes(tier)
		if len(viable) == 0 {
			return &domain.PoolExhaustedError{Tier: tier}
		}
		pick, ok := a.drawTier(at, viable, st)
		if !ok {
			return errTierBudget
		}
		at.picks = append(at.picks, pick)
		at.chosen[pick.Theme.ID] = true
		for _, w := range pick.Words {
			at.words[domain.NormalizeWord(w.Text)] = true
		}
	}
	return nil
}

// drawTier tries the tier's themes in random order, without replacement,
// until one yields four words that collide with nothing drawn so far.
func (a *Assembler) drawTier(at *attempt, viable []domain.Theme, st *ports.Stats) (domain.Pick, bool) {
	candidates := make([]domain.Theme, 0, len(viable))
	for _, th := range viable {
		if !at.chosen[th.ID] {
			candidates = append(candidates, th)
		}
	}
	a.rng.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })

	budget := a.cfg.MaxThemeRetriesPerTier
	if budget > len(candidates) {
		budget = len(candidates)
	}
	for _, th := range candidates[:budget] {
		st.Draws++
		at.tried = append(at.tried, th.Label)
		words, err := a.pool.Sample(a.rng, th.ID, domain.GroupSize)
		if err != nil {
			a.log.Debug("theme skipped", zap.Int64("theme_id", th.ID), zap.Error(err))
			continue
		}
		if a.collides(at, words) {
			st.Collisions++
			continue
		}
		return domain.Pick{Theme: th, Words: words}, true
	}
	return domain.Pick{}, false
}

func (a *Assembler) collides(at *attempt, words []domain.Word) bool {
	local := make(map[string]bool, len(words))
	for _, w := range words {
		key := domain.NormalizeWord(w.Text)
		if at.words[key] || local[key] {
			return true
		}
		local[key] = true
	}
	return false
}
