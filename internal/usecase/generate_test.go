package usecase

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"svw.info/connections/internal/domain"
	"svw.info/connections/internal/infrastructure/storage"
	"svw.info/connections/internal/ports"
	"svw.info/connections/internal/validator"
)

func TestGeneratePersistsValidSequencedPuzzles(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	seedPool(st, 2, 8)
	u := newService(t, st)

	rep, err := u.Generate(ctx, 3, GenerateOptions{})
	require.NoError(t, err)
	assert.True(t, rep.Complete())
	assert.Empty(t, rep.Abandoned)
	assert.NotEmpty(t, rep.RunID)

	puzzles, err := st.ListPuzzles(ctx)
	require.NoError(t, err)
	require.Len(t, puzzles, 3)

	consumed := map[string]bool{}
	for i, p := range puzzles {
		assert.Equal(t, i+1, p.Ordinal)
		assert.Equal(t, domain.CivilDate(today).AddDate(0, 0, i), p.Date)
		assert.True(t, validator.Check(p.Groups).Valid, "puzzle %d", p.Ordinal)

		for j, g := range p.Groups {
			assert.Equal(t, domain.Tiers[j].Color(), g.Color, "groups are in tier order")
			words, err := st.ListWords(ctx, g.ThemeID, true)
			require.NoError(t, err)
			used := map[string]bool{}
			for _, w := range words {
				used[domain.NormalizeWord(w.Text)] = w.Used
			}
			for _, w := range g.Words {
				key := g.Theme + "/" + w
				assert.False(t, consumed[key], "word %s consumed twice", key)
				consumed[key] = true
				assert.True(t, used[w], "persisted word %s is marked used", key)
			}
		}
	}
}

func TestGenerateContinuesExistingQueue(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	seedPool(st, 3, 4)
	u := newService(t, st)

	_, err := u.Generate(ctx, 1, GenerateOptions{})
	require.NoError(t, err)
	rep, err := u.Generate(ctx, 1, GenerateOptions{})
	require.NoError(t, err)
	require.Len(t, rep.Puzzles, 1)
	assert.Equal(t, 2, rep.Puzzles[0].Ordinal)
	assert.Equal(t, "2026-06-02", rep.Puzzles[0].DateString())
}

func TestGenerateStopsWhenPoolRunsOut(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	seedPool(st, 2, 4)
	u := newService(t, st)

	var before map[int64]bool
	rep, err := u.Generate(ctx, 5, GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Generated)
	assert.True(t, rep.PoolExhausted)
	assert.Equal(t, "yellow", rep.ExhaustedTier)
	assert.False(t, rep.Complete())

	before = exhaustedThemes(t, st)
	assert.Len(t, before, 8)
	_, err = u.Reconcile(ctx)
	require.NoError(t, err)
	after := exhaustedThemes(t, st)
	for id := range before {
		assert.True(t, after[id], "exhaustion never reverts")
	}
}

func TestGenerateAbandonsCollidingSlots(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	st.Seed("A", domain.Yellow, "W1", "W2", "W3", "W4")
	st.Seed("B", domain.Green, "W1", "W6", "W7", "W8")
	st.Seed("D", domain.Blue, "Y1", "Y2", "Y3", "Y4")
	st.Seed("E", domain.Purple, "Z1", "Z2", "Z3", "Z4")
	u := newService(t, st)
	u.opts.Assembly.MaxPuzzleAttempts = 3

	rep, err := u.Generate(ctx, 2, GenerateOptions{})
	require.NoError(t, err)
	assert.Zero(t, rep.Generated)
	require.Len(t, rep.Abandoned, 2)
	for _, a := range rep.Abandoned {
		assert.Equal(t, ReasonCollisionRetryExceeded, a.Reason)
		assert.Equal(t, domain.StateDrafting.String(), a.Stage)
		assert.Equal(t, []string{"A", "B"}, a.Themes)
	}
	puzzles, err := st.ListPuzzles(ctx)
	require.NoError(t, err)
	assert.Empty(t, puzzles)
	assert.Empty(t, exhaustedThemes(t, st), "abandoned slots consume nothing")
}

func TestGenerateAbandonsOnPersistenceFailure(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	seedPool(mem, 2, 4)
	st := &faultyStore{Memory: mem, insertErr: errDisk}
	u := newService(t, st)

	rep, err := u.Generate(ctx, 2, GenerateOptions{})
	require.NoError(t, err)
	assert.Zero(t, rep.Generated)
	require.Len(t, rep.Abandoned, 2)
	assert.Equal(t, ReasonPersistenceFailure, rep.Abandoned[0].Reason)
	assert.Equal(t, domain.StateValidated.String(), rep.Abandoned[0].Stage)
	assert.Contains(t, rep.Abandoned[0].Detail, errDisk.Error())

	for _, tier := range domain.Tiers {
		themes, err := mem.ListThemes(ctx, tier, false)
		require.NoError(t, err)
		for _, th := range themes {
			unused, err := mem.ListWords(ctx, th.ID, false)
			require.NoError(t, err)
			assert.Len(t, unused, 4, "no words are consumed without a persisted puzzle")
		}
	}
}

func TestGenerateCommitFailureIsRepairedByReconcile(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	seedPool(mem, 2, 4)
	st := &faultyStore{Memory: mem, markErr: errDisk}
	u := newService(t, st)

	rep, err := u.Generate(ctx, 2, GenerateOptions{})
	var ce *domain.CommitError
	require.ErrorAs(t, err, &ce)
	require.NotNil(t, rep)
	assert.Equal(t, 1, rep.Generated, "the run stops after the persisted puzzle")

	st.markErr = nil
	rr, err := u.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rr.Puzzles)
	assert.Equal(t, 16, rr.WordsRepaired)
	assert.Equal(t, 4, rr.ThemesExhausted)

	// A second pass has nothing left to repair.
	rr, err = u.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, rr.WordsRepaired)
	assert.Zero(t, rr.ThemesExhausted)

	rep, err = u.Generate(ctx, 1, GenerateOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, rep.Generated)
	assert.Equal(t, 2, rep.Puzzles[0].Ordinal)
}

func TestGenerateRespectsRunLock(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	seedPool(st, 1, 4)
	require.NoError(t, st.AcquireRunLock(ctx, "someone-else"))
	u := newService(t, st)

	_, err := u.Generate(ctx, 1, GenerateOptions{})
	assert.ErrorIs(t, err, domain.ErrRunLocked)
	_, err = u.Reconcile(ctx)
	assert.ErrorIs(t, err, domain.ErrRunLocked)

	require.NoError(t, st.ReleaseRunLock(ctx, "someone-else"))
	rep, err := u.Generate(ctx, 1, GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Generated)
	require.NoError(t, st.AcquireRunLock(ctx, "after"), "the run released its lock")
}

func TestGenerateStopsOnCancel(t *testing.T) {
	st := storage.NewMemory()
	seedPool(st, 2, 4)
	u := newService(t, st)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := u.Generate(ctx, 2, GenerateOptions{})
	require.NoError(t, err)
	assert.True(t, rep.Canceled)
	assert.Zero(t, rep.Generated)
}

func TestGenerateRejectsNonPositiveCount(t *testing.T) {
	u := newService(t, storage.NewMemory())
	_, err := u.Generate(context.Background(), 0, GenerateOptions{})
	assert.Error(t, err)
}

// fixedAssembler hands out the same candidate on every call.
type fixedAssembler struct {
	cand  *domain.Candidate
	calls int
}

func (f *fixedAssembler) Assemble(ctx context.Context) (*domain.Candidate, ports.Stats, error) {
	f.calls++
	return f.cand, ports.Stats{Attempts: 1}, nil
}

func fixedPick(id int64, tier domain.Tier, words ...string) domain.Pick {
	p := domain.Pick{Theme: domain.Theme{ID: id, Label: fmt.Sprintf("theme %d", id), Tier: tier}}
	for i, w := range words {
		p.Words = append(p.Words, domain.Word{ID: id*10 + int64(i), ThemeID: id, Text: w})
	}
	return p
}

func TestGenerateAbandonsStructurallyInvalidCandidates(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	seedPool(st, 1, 4)
	u := newService(t, st)
	asm := &fixedAssembler{cand: &domain.Candidate{Picks: []domain.Pick{
		fixedPick(1, domain.Yellow, "A", "B", "C", "D"),
		fixedPick(2, domain.Green, "E", "F", "G", "H"),
		fixedPick(3, domain.Blue, "I", "J", "K", "L"),
		fixedPick(4, domain.Purple, "M", "N", "O", "A"),
	}}}
	u.opts.NewAssembler = func(p ports.Pool, seed int64, log *zap.Logger) ports.Assembler { return asm }

	rep, err := u.Generate(ctx, 2, GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, asm.calls)
	assert.Zero(t, rep.Generated)
	require.Len(t, rep.Abandoned, 2)
	for _, a := range rep.Abandoned {
		assert.Equal(t, ReasonStructuralInvalid, a.Reason)
		assert.Equal(t, domain.StateCandidate.String(), a.Stage)
		assert.Contains(t, a.Violations, `word "A" appears in groups 1, 4`)
	}
	puzzles, err := st.ListPuzzles(ctx)
	require.NoError(t, err)
	assert.Empty(t, puzzles)
}

func TestGenerateStoresDailyTheme(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	seedPool(st, 2, 4)
	u := newService(t, st)

	rep, err := u.Generate(ctx, 1, GenerateOptions{DailyTheme: "Legends"})
	require.NoError(t, err)
	require.Equal(t, 1, rep.Generated)
	got, err := st.GetPuzzle(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Legends", got.DailyTheme)

	staged, err := u.Generate(ctx, 1, GenerateOptions{Stage: true, DailyTheme: "Rookies"})
	require.NoError(t, err)
	b, _, err := u.Batches.Load(ctx, staged.BatchID)
	require.NoError(t, err)
	require.Len(t, b.Puzzles, 1)
	assert.Equal(t, "Rookies", b.Puzzles[0].DailyTheme)

	_, err = u.ValidatePending(ctx, nil, true)
	require.NoError(t, err)
	got, err = st.GetPuzzle(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "Rookies", got.DailyTheme)
}
