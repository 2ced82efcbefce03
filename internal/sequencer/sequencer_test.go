package sequencer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"svw.info/connections/internal/domain"
	"svw.info/connections/internal/infrastructure/storage"
	"svw.info/connections/internal/ports"
)

var (
	today    = time.Date(2026, 4, 10, 15, 4, 5, 0, time.UTC)
	fast     = RetryPolicy{MaxTries: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
	errFlaky = errors.New("connection reset")
)

// flakyLedger fails the first failures inserts.
type flakyLedger struct {
	ports.PuzzleLedger
	failures int
	inserts  int
}

func (f *flakyLedger) InsertPuzzle(ctx context.Context, p *domain.Puzzle) error {
	f.inserts++
	if f.inserts <= f.failures {
		return errFlaky
	}
	return f.PuzzleLedger.InsertPuzzle(ctx, p)
}

type recordingCommitter struct {
	themes []int64
	err    error
}

func (r *recordingCommitter) Commit(ctx context.Context, themeID int64, words []domain.Word) error {
	if r.err != nil {
		return r.err
	}
	r.themes = append(r.themes, themeID)
	return nil
}

func candidate() *domain.Candidate {
	c := &domain.Candidate{}
	for i, tier := range domain.Tiers {
		th := domain.Theme{ID: int64(i + 1), Label: tier.String() + " theme", Tier: tier}
		words := make([]domain.Word, 4)
		for j := range words {
			words[j] = domain.Word{ID: int64(i*4 + j + 1), ThemeID: th.ID, Text: tier.String() + string(rune('a'+j))}
		}
		c.Picks = append(c.Picks, domain.Pick{Theme: th, Words: words})
	}
	return c
}

func newSequencer(ledger ports.PuzzleLedger, pool Committer) *Sequencer {
	return New(ledger, pool, WithRetry(fast), WithAuthor("admin"), WithClock(func() time.Time { return today }))
}

func TestNextOnEmptyLedger(t *testing.T) {
	s := newSequencer(storage.NewMemory(), &recordingCommitter{})
	ord, date, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, ord)
	assert.Equal(t, "2026-04-10", date.Format(domain.DateLayout))
}

func TestSequenceIsMonotonic(t *testing.T) {
	ctx := context.Background()
	ledger := storage.NewMemory()
	committer := &recordingCommitter{}
	s := newSequencer(ledger, committer)

	var prev *domain.Puzzle
	for i := 0; i < 3; i++ {
		ord, date, err := s.Next(ctx)
		require.NoError(t, err)
		p, err := s.Persist(ctx, candidate(), ord, date)
		require.NoError(t, err)
		if prev != nil {
			assert.Equal(t, prev.Ordinal+1, p.Ordinal)
			assert.Equal(t, prev.Date.AddDate(0, 0, 1), p.Date)
		}
		prev = p
	}
	assert.Equal(t, "2026-04-12", prev.DateString())
	assert.Equal(t, "admin", prev.Author)
	assert.Len(t, committer.themes, 12)
}

func TestNextDateContinuesAfterFutureQueue(t *testing.T) {
	ctx := context.Background()
	ledger := storage.NewMemory()
	s := newSequencer(ledger, &recordingCommitter{})
	_, err := s.Persist(ctx, candidate(), 5, today.AddDate(0, 0, 30))
	require.NoError(t, err)

	ord, date, err := s.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, ord)
	assert.Equal(t, domain.CivilDate(today).AddDate(0, 0, 31), date)
}

func TestPersistRetriesTransientFailures(t *testing.T) {
	ledger := &flakyLedger{PuzzleLedger: storage.NewMemory(), failures: 2}
	s := newSequencer(ledger, &recordingCommitter{})

	p, err := s.Persist(context.Background(), candidate(), 1, today)
	require.NoError(t, err)
	assert.Equal(t, 3, ledger.inserts)
	assert.Equal(t, 1, p.Ordinal)
}

func TestPersistGivesUpAfterMaxTries(t *testing.T) {
	ledger := &flakyLedger{PuzzleLedger: storage.NewMemory(), failures: 10}
	committer := &recordingCommitter{}
	s := newSequencer(ledger, committer)

	p, err := s.Persist(context.Background(), candidate(), 1, today)
	assert.Nil(t, p)
	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 3, ledger.inserts)
	assert.Empty(t, committer.themes, "nothing is committed when the insert fails")
}

func TestPersistDoesNotRetryConflicts(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	ledger := &flakyLedger{PuzzleLedger: mem}
	s := newSequencer(ledger, &recordingCommitter{})
	_, err := s.Persist(ctx, candidate(), 1, today)
	require.NoError(t, err)

	_, err = s.Persist(ctx, candidate(), 1, today.AddDate(0, 0, 1))
	assert.ErrorIs(t, err, domain.ErrLedgerConflict)
	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.Equal(t, 2, ledger.inserts)
}

func TestPersistReportsCommitFailure(t *testing.T) {
	ledger := storage.NewMemory()
	s := newSequencer(ledger, &recordingCommitter{err: errFlaky})

	p, err := s.Persist(context.Background(), candidate(), 1, today)
	require.NotNil(t, p, "the puzzle stays persisted")
	var ce *domain.CommitError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, int64(1), ce.ThemeID)
	assert.ErrorIs(t, err, errFlaky)

	stored, err := ledger.GetPuzzle(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, stored.Groups, 4)
}

func TestPersistRejectsBadInput(t *testing.T) {
	s := newSequencer(storage.NewMemory(), &recordingCommitter{})
	_, err := s.Persist(context.Background(), &domain.Candidate{}, 1, today)
	assert.ErrorIs(t, err, domain.ErrPersistence)
	_, err = s.Persist(context.Background(), candidate(), 0, today)
	assert.ErrorIs(t, err, domain.ErrPersistence)
}
