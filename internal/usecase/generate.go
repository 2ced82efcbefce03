package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"svw.info/connections/internal/domain"
	"svw.info/connections/internal/pool"
	"svw.info/connections/internal/ports"
)

// Abandonment reasons.
const (
	ReasonCollisionRetryExceeded = "collision_retry_exceeded"
	ReasonStructuralInvalid      = "structural_invalid"
	ReasonPersistenceFailure     = "persistence_failure"
)

// Abandonment explains why one requested puzzle was not produced.
type Abandonment struct {
	Slot       int      `json:"slot"`
	Reason     string   `json:"reason"`
	Detail     string   `json:"detail"`
	Themes     []string `json:"themes,omitempty"`
	Violations []string `json:"violations,omitempty"`
	// Stage is the last state the puzzle reached before it was abandoned.
	Stage string `json:"stage"`
}

// Report summarises one generation run.
type Report struct {
	RunID         string          `json:"run_id"`
	Requested     int             `json:"requested"`
	Generated     int             `json:"generated"`
	Abandoned     []Abandonment   `json:"abandoned,omitempty"`
	PoolExhausted bool            `json:"pool_exhausted"`
	ExhaustedTier string          `json:"exhausted_tier,omitempty"`
	Canceled      bool            `json:"canceled,omitempty"`
	Reconciled    int             `json:"reconciled_words,omitempty"`
	BatchID       string          `json:"batch_id,omitempty"`
	Puzzles       []domain.Puzzle `json:"puzzles,omitempty"`
}

// Complete reports whether every requested puzzle was produced.
func (r *Report) Complete() bool { return r.Generated == r.Requested }

// GenerateOptions select how accepted candidates are handled.
type GenerateOptions struct {
	// Stage writes validated candidates to a pending batch instead of the
	// ledger. Nothing is committed to the pool.
	Stage bool
	// DailyTheme is an optional headline stored with every produced puzzle.
	DailyTheme string
}

// Generate produces up to n puzzles. Per-puzzle failures are recorded in the
// report and the run moves on; running out of themes ends the run early
// without an error. The returned error is reserved for failures that make
// the rest of the run unsafe.
func (u *Service) Generate(ctx context.Context, n int, opts GenerateOptions) (*Report, error) {
	if u.Store == nil || u.Validator == nil || (opts.Stage && u.Batches == nil) {
		return nil, errNotConfigured
	}
	if n < 1 {
		return nil, fmt.Errorf("puzzle count must be positive, got %d", n)
	}
	runID := uuid.NewString()
	unlock, err := u.lock(ctx, runID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	log := u.log.With(zap.String("run_id", runID))
	rep := &Report{RunID: runID, Requested: n}

	if !opts.Stage {
		rr, err := u.reconcile(ctx, log)
		if err != nil {
			return rep, fmt.Errorf("reconcile before run: %w", err)
		}
		rep.Reconciled = rr.WordsRepaired
	}

	pm := pool.New(u.Store, log)
	if err := pm.Load(ctx); err != nil {
		return rep, fmt.Errorf("load pool: %w", err)
	}
	seed := u.opts.Seed
	if seed == 0 {
		seed = u.opts.Now().UnixNano()
	}
	asm := u.newAssembler(pm, seed, log)
	seq := u.newSequencer(pm, log)

	var batch *ports.Batch
	if opts.Stage {
		batch = &ports.Batch{ID: runID, CreatedAt: u.opts.Now().UTC()}
	}

	log.Info("generation run started", zap.Int("requested", n), zap.Bool("stage", opts.Stage), zap.Int64("seed", seed))

slots:
	for slot := 1; slot <= n; slot++ {
		if ctx.Err() != nil {
			rep.Canceled = true
			break
		}
		for _, st := range pm.Stats() {
			u.opts.Metrics.SetViableThemes(st.Name, st.ViableThemes)
		}

		state := domain.StateDrafting
		slotLog := log.With(zap.Int("slot", slot))
		advance := func(next domain.PuzzleState) error {
			s, err := state.Advance(next)
			if err != nil {
				return fmt.Errorf("puzzle %d: %w", slot, err)
			}
			state = s
			return nil
		}

		cand, stats, err := asm.Assemble(ctx)
		u.opts.Metrics.ObserveAssembly(stats)
		if err != nil {
			var exhausted *domain.PoolExhaustedError
			var failed *domain.GenerationFailedError
			switch {
			case errors.As(err, &exhausted):
				rep.PoolExhausted = true
				rep.ExhaustedTier = exhausted.Tier.String()
				slotLog.Info("pool exhausted, stopping run", zap.String("tier", rep.ExhaustedTier))
				break slots
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				rep.Canceled = true
				break slots
			case errors.As(err, &failed):
				var themes []string
				if len(failed.Themes) > 0 {
					themes = failed.Themes[len(failed.Themes)-1]
				}
				u.abandon(rep, slotLog, state, Abandonment{Slot: slot, Reason: ReasonCollisionRetryExceeded, Detail: err.Error(), Themes: themes})
				continue
			default:
				return rep, fmt.Errorf("assemble puzzle %d: %w", slot, err)
			}
		}
		if err := advance(domain.StateCandidate); err != nil {
			return rep, err
		}
		cand.DailyTheme = opts.DailyTheme

		groups := cand.Groups()
		res, err := u.Validator.Validate(ctx, groups)
		if err != nil {
			rep.Canceled = ctx.Err() != nil
			if rep.Canceled {
				break slots
			}
			return rep, fmt.Errorf("validate puzzle %d: %w", slot, err)
		}
		if !res.Valid {
			u.abandon(rep, slotLog, state, Abandonment{
				Slot:       slot,
				Reason:     ReasonStructuralInvalid,
				Detail:     res.Err().Error(),
				Themes:     cand.ThemeLabels(),
				Violations: res.Messages(),
			})
			continue
		}
		if err := advance(domain.StateValidated); err != nil {
			return rep, err
		}

		if opts.Stage {
			batch.Puzzles = append(batch.Puzzles, ports.PendingGroup{Groups: groups, DailyTheme: opts.DailyTheme})
			for _, p := range cand.Picks {
				pm.Reserve(p.Theme.ID, p.Words)
			}
			rep.Generated++
			u.opts.Metrics.PuzzleGenerated()
			slotLog.Info("candidate staged", zap.String("state", state.String()), zap.Strings("themes", cand.ThemeLabels()))
			continue
		}

		ordinal, date, err := seq.Next(ctx)
		if err != nil {
			return rep, fmt.Errorf("sequence puzzle %d: %w", slot, err)
		}
		p, err := seq.Persist(ctx, cand, ordinal, date)
		var commitErr *domain.CommitError
		if errors.As(err, &commitErr) {
			rep.Generated++
			rep.Puzzles = append(rep.Puzzles, *p)
			u.opts.Metrics.PuzzleGenerated()
			slotLog.Error("pool commit failed after persist; reconcile will repair it", zap.Error(err))
			return rep, err
		}
		if err != nil {
			u.abandon(rep, slotLog, state, Abandonment{Slot: slot, Reason: ReasonPersistenceFailure, Detail: err.Error(), Themes: cand.ThemeLabels()})
			continue
		}
		if err := advance(domain.StatePersisted); err != nil {
			return rep, err
		}
		rep.Generated++
		rep.Puzzles = append(rep.Puzzles, *p)
		u.opts.Metrics.PuzzleGenerated()
		slotLog.Debug("slot done", zap.String("state", state.String()), zap.Int("ordinal", p.Ordinal))
	}

	if batch != nil && len(batch.Puzzles) > 0 {
		if err := u.Batches.Save(ctx, batch); err != nil {
			return rep, fmt.Errorf("save pending batch: %w", err)
		}
		rep.BatchID = batch.ID
	}

	log.Info("generation run finished",
		zap.Int("requested", rep.Requested),
		zap.Int("generated", rep.Generated),
		zap.Int("abandoned", len(rep.Abandoned)),
		zap.Bool("pool_exhausted", rep.PoolExhausted),
		zap.Bool("canceled", rep.Canceled))
	return rep, nil
}

// abandon records a from a puzzle that reached state and moves it to the
// terminal abandoned state.
func (u *Service) abandon(rep *Report, log *zap.Logger, state domain.PuzzleState, a Abandonment) {
	a.Stage = state.String()
	final, err := state.Advance(domain.StateAbandoned)
	if err != nil {
		log.Error("abandoning puzzle in a terminal state", zap.String("stage", a.Stage), zap.Error(err))
	}
	rep.Abandoned = append(rep.Abandoned, a)
	u.opts.Metrics.PuzzleAbandoned(a.Reason)
	fields := []zap.Field{
		zap.String("reason", a.Reason),
		zap.String("detail", a.Detail),
		zap.String("stage", a.Stage),
		zap.String("state", final.String()),
		zap.Strings("themes", a.Themes),
	}
	if len(a.Violations) > 0 {
		fields = append(fields, zap.Strings("violations", a.Violations))
		log.Error("puzzle abandoned", fields...)
		return
	}
	log.Warn("puzzle abandoned", fields...)
}
