// Package sequencer assigns ordinals and dates to validated puzzles, writes
// them to the ledger and then commits their words to the pool.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"svw.info/connections/internal/domain"
	"svw.info/connections/internal/ports"
)

// Committer marks a theme's words consumed.
type Committer interface {
	Commit(ctx context.Context, themeID int64, words []domain.Word) error
}

// RetryPolicy bounds retries of datastore writes.
type RetryPolicy struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy is five tries with 200ms..5s exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxTries: 5, InitialInterval: 200 * time.Millisecond, MaxInterval: 5 * time.Second}
}

type Sequencer struct {
	ledger ports.PuzzleLedger
	pool   Committer
	retry  RetryPolicy
	author string
	now    func() time.Time
	log    *zap.Logger
}

type Option func(*Sequencer)

func WithRetry(p RetryPolicy) Option { return func(s *Sequencer) { s.retry = p } }

func WithAuthor(a string) Option { return func(s *Sequencer) { s.author = a } }

// WithClock overrides "today" for an empty ledger.
func WithClock(now func() time.Time) Option { return func(s *Sequencer) { s.now = now } }

func WithLogger(l *zap.Logger) Option {
	return func(s *Sequencer) {
		if l != nil {
			s.log = l
		}
	}
}

func New(ledger ports.PuzzleLedger, pool Committer, opts ...Option) *Sequencer {
	s := &Sequencer{
		ledger: ledger,
		pool:   pool,
		retry:  DefaultRetryPolicy(),
		now:    time.Now,
		log:    zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.retry.MaxTries == 0 {
		s.retry.MaxTries = 1
	}
	return s
}

// NextOrdinal is one past the highest persisted ordinal, or 1.
func (s *Sequencer) NextOrdinal(ctx context.Context) (int, error) {
	top, ok, err := s.ledger.MaxOrdinal(ctx)
	if err != nil {
		return 0, fmt.Errorf("read max ordinal: %w", err)
	}
	if !ok {
		return 1, nil
	}
	return top + 1, nil
}

// NextDate is the day after the latest persisted date, or today.
func (s *Sequencer) NextDate(ctx context.Context) (time.Time, error) {
	last, ok, err := s.ledger.MaxDate(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("read max date: %w", err)
	}
	if !ok {
		return domain.CivilDate(s.now()), nil
	}
	return domain.CivilDate(last).AddDate(0, 0, 1), nil
}

// Next returns the ordinal and date for the next puzzle.
func (s *Sequencer) Next(ctx context.Context) (int, time.Time, error) {
	ord, err := s.NextOrdinal(ctx)
	if err != nil {
		return 0, time.Time{}, err
	}
	date, err := s.NextDate(ctx)
	if err != nil {
		return 0, time.Time{}, err
	}
	return ord, date, nil
}

func (s *Sequencer) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if s.retry.InitialInterval > 0 {
		b.InitialInterval = s.retry.InitialInterval
	}
	if s.retry.MaxInterval > 0 {
		b.MaxInterval = s.retry.MaxInterval
	}
	return b
}

func (s *Sequencer) retryOpts(what string) []backoff.RetryOption {
	return []backoff.RetryOption{
		backoff.WithBackOff(s.backOff()),
		backoff.WithMaxTries(s.retry.MaxTries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			s.log.Warn("retrying "+what, zap.Error(err), zap.Duration("wait", wait))
		}),
	}
}

// Persist writes the candidate as puzzle ordinal on date, then commits every
// pick. If the write fails nothing is committed and the error wraps
// domain.ErrPersistence. If a commit fails the puzzle stays persisted and a
// *domain.CommitError is returned alongside it.
func (s *Sequencer) Persist(ctx context.Context, c *domain.Candidate, ordinal int, date time.Time) (*domain.Puzzle, error) {
	if c == nil || len(c.Picks) == 0 {
		return nil, fmt.Errorf("%w: empty candidate", domain.ErrPersistence)
	}
	if ordinal < 1 {
		return nil, fmt.Errorf("%w: ordinal %d must be positive", domain.ErrPersistence, ordinal)
	}
	p := &domain.Puzzle{
		Ordinal:    ordinal,
		Date:       domain.CivilDate(date),
		Groups:     c.Groups(),
		DailyTheme: c.DailyTheme,
		Author:     s.author,
		CreatedAt:  s.now().UTC(),
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := s.ledger.InsertPuzzle(ctx, p)
		if errors.Is(err, domain.ErrLedgerConflict) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, s.retryOpts("puzzle insert")...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	s.log.Info("puzzle persisted",
		zap.Int("ordinal", p.Ordinal),
		zap.String("date", p.DateString()),
		zap.Strings("themes", c.ThemeLabels()))

	for _, pick := range c.Picks {
		_, err := backoff.Retry(ctx, func() (struct{}, error) {
			return struct{}{}, s.pool.Commit(ctx, pick.Theme.ID, pick.Words)
		}, s.retryOpts("pool commit")...)
		if err != nil {
			return p, &domain.CommitError{Ordinal: p.Ordinal, ThemeID: pick.Theme.ID, Err: err}
		}
	}
	return p, nil
}
