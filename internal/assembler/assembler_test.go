package assembler

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"svw.info/connections/internal/domain"
	"svw.info/connections/internal/infrastructure/storage"
	"svw.info/connections/internal/pool"
)

func loadPool(t *testing.T, st *storage.Memory) *pool.Manager {
	t.Helper()
	m := pool.New(st, nil)
	require.NoError(t, m.Load(context.Background()))
	return m
}

func seedTier(st *storage.Memory, tier domain.Tier, themes int) {
	for i := 0; i < themes; i++ {
		words := make([]string, 5)
		for j := range words {
			words[j] = fmt.Sprintf("%s%d-%d", tier, i, j)
		}
		st.Seed(fmt.Sprintf("%s %d", tier, i), tier, words...)
	}
}

func assertDistinct(t *testing.T, c *domain.Candidate) {
	t.Helper()
	seen := map[string]bool{}
	for _, g := range c.Groups() {
		for _, w := range g.Words {
			assert.False(t, seen[w], "word %s repeated", w)
			seen[w] = true
		}
	}
	assert.Len(t, seen, 16)
}

func TestAssembleOnePickPerTier(t *testing.T) {
	st := storage.NewMemory()
	for _, tier := range domain.Tiers {
		seedTier(st, tier, 3)
	}
	a := New(loadPool(t, st), DefaultConfig(), WithSeed(1))

	c, stats, err := a.Assemble(context.Background())
	require.NoError(t, err)
	require.Len(t, c.Picks, 4)
	for i, p := range c.Picks {
		assert.Equal(t, domain.Tiers[i], p.Theme.Tier)
		assert.Len(t, p.Words, domain.GroupSize)
	}
	assertDistinct(t, c)
	assert.Equal(t, 1, stats.Attempts)
	assert.Equal(t, 4, stats.Draws)
	assert.Zero(t, stats.Collisions)
}

func TestAssembleIsDeterministicForSeed(t *testing.T) {
	st := storage.NewMemory()
	for _, tier := range domain.Tiers {
		seedTier(st, tier, 5)
	}
	pm := loadPool(t, st)

	c1, _, err := New(pm, DefaultConfig(), WithSeed(42)).Assemble(context.Background())
	require.NoError(t, err)
	c2, _, err := New(pm, DefaultConfig(), WithSeed(42)).Assemble(context.Background())
	require.NoError(t, err)
	assert.Equal(t, c1.Groups(), c2.Groups())
}

// collisionPool: tier 1 has only A, whose words include W1. Tier 2 has B,
// which also contains W1, and C, which is clean.
func collisionPool(st *storage.Memory, withAlternative bool) {
	st.Seed("A", domain.Yellow, "W1", "W2", "W3", "W4")
	st.Seed("B", domain.Green, "w1", "W6", "W7", "W8")
	if withAlternative {
		st.Seed("C", domain.Green, "X1", "X2", "X3", "X4")
	}
	st.Seed("D", domain.Blue, "Y1", "Y2", "Y3", "Y4")
	st.Seed("E", domain.Purple, "Z1", "Z2", "Z3", "Z4")
}

func TestAssembleRetriesPastCollision(t *testing.T) {
	collided := false
	for seed := int64(1); seed <= 20; seed++ {
		st := storage.NewMemory()
		collisionPool(st, true)
		a := New(loadPool(t, st), DefaultConfig(), WithSeed(seed))

		c, stats, err := a.Assemble(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"A", "C", "D", "E"}, c.ThemeLabels())
		assertDistinct(t, c)
		if stats.Collisions > 0 {
			collided = true
			assert.Equal(t, 5, stats.Draws)
		}
	}
	assert.True(t, collided, "some seed must draw the colliding theme first")
}

func TestAssembleFailsWhenEveryAttemptCollides(t *testing.T) {
	st := storage.NewMemory()
	collisionPool(st, false)
	cfg := Config{MaxPuzzleAttempts: 3, MaxThemeRetriesPerTier: 10}
	a := New(loadPool(t, st), cfg, WithSeed(1))

	c, stats, err := a.Assemble(context.Background())
	assert.Nil(t, c)
	require.ErrorIs(t, err, domain.ErrCollisionRetryExceeded)
	var failed *domain.GenerationFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, 3, failed.Attempts)
	require.Len(t, failed.Themes, 3)
	assert.Equal(t, []string{"A", "B"}, failed.Themes[0])
	assert.Equal(t, 3, stats.Collisions)
}

func TestAssembleTierBudgetBoundsDraws(t *testing.T) {
	st := storage.NewMemory()
	st.Seed("A", domain.Yellow, "W1", "W2", "W3", "W4")
	for i := 0; i < 6; i++ {
		st.Seed(fmt.Sprintf("B%d", i), domain.Green, "W1", fmt.Sprintf("B%d-2", i), fmt.Sprintf("B%d-3", i), fmt.Sprintf("B%d-4", i))
	}
	st.Seed("D", domain.Blue, "Y1", "Y2", "Y3", "Y4")
	st.Seed("E", domain.Purple, "Z1", "Z2", "Z3", "Z4")
	a := New(loadPool(t, st), Config{MaxPuzzleAttempts: 2, MaxThemeRetriesPerTier: 4}, WithSeed(9))

	_, stats, err := a.Assemble(context.Background())
	require.ErrorIs(t, err, domain.ErrCollisionRetryExceeded)
	// Each attempt: one yellow draw plus four green draws.
	assert.Equal(t, 10, stats.Draws)
	assert.Equal(t, 8, stats.Collisions)
}

func TestAssemblePoolExhausted(t *testing.T) {
	st := storage.NewMemory()
	seedTier(st, domain.Yellow, 1)
	seedTier(st, domain.Green, 1)
	seedTier(st, domain.Purple, 1)
	st.Seed("Too small", domain.Blue, "Q1", "Q2", "Q3")
	a := New(loadPool(t, st), DefaultConfig(), WithSeed(1))

	_, _, err := a.Assemble(context.Background())
	var exhausted *domain.PoolExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, domain.Blue, exhausted.Tier)
	assert.True(t, errors.Is(err, domain.ErrPoolExhausted))
}

func TestAssembleHonoursCancellation(t *testing.T) {
	st := storage.NewMemory()
	for _, tier := range domain.Tiers {
		seedTier(st, tier, 1)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := New(loadPool(t, st), DefaultConfig()).Assemble(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewAppliesDefaults(t *testing.T) {
	a := New(nil, Config{})
	assert.Equal(t, DefaultConfig(), a.cfg)
}
