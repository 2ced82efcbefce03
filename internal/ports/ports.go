package ports

import (
	"context"
	"math/rand"
	"time"

	"svw.info/connections/internal/domain"
)

// Stats captures performance characteristics of one assembly.
type Stats struct {
	Attempts   int
	Draws      int
	Collisions int
	Duration   time.Duration
}

// PoolStore holds themes and their candidate words.
type PoolStore interface {
	// ListThemes returns themes of a tier; exhausted ones only when asked.
	ListThemes(ctx context.Context, tier domain.Tier, includeExhausted bool) ([]domain.Theme, error)
	// FindTheme looks a theme up by label and tier.
	FindTheme(ctx context.Context, label string, tier domain.Tier) (domain.Theme, error)
	ListWords(ctx context.Context, themeID int64, includeUsed bool) ([]domain.Word, error)
	// MarkWordsUsed is idempotent.
	MarkWordsUsed(ctx context.Context, themeID int64, wordIDs []int64) error
	MarkThemeExhausted(ctx context.Context, themeID int64) error
	// UpsertTheme inserts the theme or returns the existing one with the same label and tier.
	UpsertTheme(ctx context.Context, label string, tier domain.Tier) (domain.Theme, error)
	// AddWords inserts words not yet present for the theme and returns how many were new.
	AddWords(ctx context.Context, themeID int64, words []string) (int, error)
}

// PuzzleLedger is the dated queue of persisted puzzles.
type PuzzleLedger interface {
	MaxOrdinal(ctx context.Context) (int, bool, error)
	MaxDate(ctx context.Context) (time.Time, bool, error)
	InsertPuzzle(ctx context.Context, p *domain.Puzzle) error
	GetPuzzle(ctx context.Context, ordinal int) (*domain.Puzzle, error)
	PuzzleByDate(ctx context.Context, date time.Time) (*domain.Puzzle, error)
	ListPuzzles(ctx context.Context) ([]domain.Puzzle, error)
}

// RunLock serialises generation runs across processes.
type RunLock interface {
	AcquireRunLock(ctx context.Context, holder string) error
	ReleaseRunLock(ctx context.Context, holder string) error
}

// Store is the full datastore a generation run needs.
type Store interface {
	PoolStore
	PuzzleLedger
	RunLock
}

// Pool is the in-memory view the assembler draws from.
type Pool interface {
	ViableThemes(tier domain.Tier) []domain.Theme
	Sample(rng *rand.Rand, themeID int64, k int) ([]domain.Word, error)
}

// Assembler proposes one candidate puzzle per call.
type Assembler interface {
	Assemble(ctx context.Context) (*domain.Candidate, Stats, error)
}

// Batch is a set of candidate puzzles awaiting validation.
type Batch struct {
	ID        string         `json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	Puzzles   []PendingGroup `json:"puzzles"`
}

// PendingGroup is one puzzle inside a batch. Ordinal is set once the puzzle
// has been promoted to the ledger.
type PendingGroup struct {
	Groups     []domain.Group `json:"groups"`
	DailyTheme string         `json:"daily_theme,omitempty"`
	Ordinal    int            `json:"ordinal,omitempty"`
}

// BatchStatus is the folder a batch currently lives in.
type BatchStatus string

const (
	BatchPending  BatchStatus = "pending"
	BatchVerified BatchStatus = "verified"
	BatchRejected BatchStatus = "rejected"
	BatchPromoted BatchStatus = "promoted"
	// BatchPartial holds batches whose promotion stopped part way: some
	// puzzles are in the ledger, the rest failed validation.
	BatchPartial BatchStatus = "partial"
)

// BatchMeta is a lightweight listing entry.
type BatchMeta struct {
	ID        string      `json:"id"`
	Status    BatchStatus `json:"status"`
	Puzzles   int         `json:"puzzles"`
	CreatedAt time.Time   `json:"created_at"`
}

// BatchStorage persists candidate batches as files.
type BatchStorage interface {
	Save(ctx context.Context, b *Batch) error
	Load(ctx context.Context, id string) (*Batch, BatchStatus, error)
	List(ctx context.Context, status BatchStatus) ([]BatchMeta, error)
	Move(ctx context.Context, id string, to BatchStatus) error
}
