package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"svw.info/connections/internal/assembler"
	"svw.info/connections/internal/domain"
	"svw.info/connections/internal/metrics"
	"svw.info/connections/internal/pool"
	"svw.info/connections/internal/ports"
	"svw.info/connections/internal/sequencer"
	"svw.info/connections/internal/validator"
)

// Validator checks candidate groups.
type Validator interface {
	Validate(ctx context.Context, groups []domain.Group) (validator.Result, error)
}

// AssemblerFactory builds the assembler for one run over the run's pool view.
type AssemblerFactory func(p ports.Pool, seed int64, log *zap.Logger) ports.Assembler

// Options tune a Service. Zero values fall back to package defaults.
type Options struct {
	Assembly assembler.Config
	Retry    sequencer.RetryPolicy
	Author   string
	// Seed fixes the assembler RNG; 0 seeds from the clock.
	Seed    int64
	Now     func() time.Time
	Metrics *metrics.Metrics
	Logger  *zap.Logger

	// NewAssembler defaults to assembler.New configured from Assembly.
	NewAssembler AssemblerFactory
}

type Service struct {
	Store     ports.Store
	Batches   ports.BatchStorage
	Validator Validator

	opts Options
	log  *zap.Logger
	// run serialises runs within this process; the store lock covers
	// other processes.
	run sync.Mutex
}

func NewService(st ports.Store, b ports.BatchStorage, v Validator, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Retry.MaxTries == 0 {
		opts.Retry = sequencer.DefaultRetryPolicy()
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{Store: st, Batches: b, Validator: v, opts: opts, log: log}
}

var errNotConfigured = errors.New("usecase dependency not configured")

func (u *Service) Validate(ctx context.Context, groups []domain.Group) (validator.Result, error) {
	if u.Validator == nil {
		return validator.Result{}, errNotConfigured
	}
	return u.Validator.Validate(ctx, groups)
}

func (u *Service) ListPuzzles(ctx context.Context) ([]domain.PuzzleMeta, error) {
	if u.Store == nil {
		return nil, errNotConfigured
	}
	list, err := u.Store.ListPuzzles(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.PuzzleMeta, 0, len(list))
	for _, p := range list {
		out = append(out, domain.PuzzleMeta{Ordinal: p.Ordinal, Date: p.DateString(), Author: p.Author})
	}
	return out, nil
}

func (u *Service) GetPuzzle(ctx context.Context, ordinal int) (*domain.Puzzle, error) {
	if u.Store == nil {
		return nil, errNotConfigured
	}
	return u.Store.GetPuzzle(ctx, ordinal)
}

func (u *Service) PuzzleForDate(ctx context.Context, date time.Time) (*domain.Puzzle, error) {
	if u.Store == nil {
		return nil, errNotConfigured
	}
	return u.Store.PuzzleByDate(ctx, date)
}

// PoolStats loads a fresh view of the pool and summarises it per tier.
func (u *Service) PoolStats(ctx context.Context) ([]pool.TierStats, error) {
	if u.Store == nil {
		return nil, errNotConfigured
	}
	pm := pool.New(u.Store, u.log)
	if err := pm.Load(ctx); err != nil {
		return nil, err
	}
	stats := pm.Stats()
	for _, st := range stats {
		u.opts.Metrics.SetViableThemes(st.Name, st.ViableThemes)
	}
	return stats, nil
}

// lock takes the in-process and store run locks. The returned func releases
// both.
func (u *Service) lock(ctx context.Context, holder string) (func(), error) {
	if !u.run.TryLock() {
		return nil, domain.ErrRunLocked
	}
	if err := u.Store.AcquireRunLock(ctx, holder); err != nil {
		u.run.Unlock()
		return nil, err
	}
	return func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := u.Store.ReleaseRunLock(rctx, holder); err != nil {
			u.log.Error("release run lock", zap.String("holder", holder), zap.Error(err))
		}
		u.run.Unlock()
	}, nil
}

func (u *Service) newAssembler(p ports.Pool, seed int64, log *zap.Logger) ports.Assembler {
	if u.opts.NewAssembler != nil {
		return u.opts.NewAssembler(p, seed, log)
	}
	return assembler.New(p, u.opts.Assembly, assembler.WithSeed(seed), assembler.WithLogger(log))
}

func (u *Service) newSequencer(pm sequencer.Committer, log *zap.Logger) *sequencer.Sequencer {
	return sequencer.New(u.Store, pm,
		sequencer.WithRetry(u.opts.Retry),
		sequencer.WithAuthor(u.opts.Author),
		sequencer.WithClock(u.opts.Now),
		sequencer.WithLogger(log))
}
