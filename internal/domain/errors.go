package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrPoolExhausted means a tier has no viable themes left. It ends a run
	// gracefully and is not a failure.
	ErrPoolExhausted = errors.New("pool exhausted")
	// ErrInsufficientWords means a theme cannot supply enough unused words.
	ErrInsufficientWords = errors.New("insufficient unused words")
	// ErrCollisionRetryExceeded means no non-overlapping combination was found
	// within the attempt budget.
	ErrCollisionRetryExceeded = errors.New("collision retry budget exceeded")
	// ErrStructuralInvalid marks a candidate that failed validation.
	ErrStructuralInvalid = errors.New("puzzle structurally invalid")
	// ErrPersistence marks a failed datastore write.
	ErrPersistence = errors.New("persistence failure")
	// ErrLedgerConflict is returned when an ordinal or date is already taken.
	ErrLedgerConflict = errors.New("ledger conflict")
	// ErrRunLocked is returned when another generation run holds the pool.
	ErrRunLocked = errors.New("another generation run holds the pool lock")
	// ErrNotFound is returned by lookups with no match.
	ErrNotFound = errors.New("not found")
)

// PoolExhaustedError names the tier that ran dry.
type PoolExhaustedError struct {
	Tier Tier
}

func (e *PoolExhaustedError) Error() string {
	return fmt.Sprintf("no viable %s themes left", e.Tier)
}

func (e *PoolExhaustedError) Unwrap() error { return ErrPoolExhausted }

// InsufficientWordsError reports how many unused words a theme still has.
type InsufficientWordsError struct {
	ThemeID int64
	Have    int
	Want    int
}

func (e *InsufficientWordsError) Error() string {
	return fmt.Sprintf("theme %d has %d unused words, need %d", e.ThemeID, e.Have, e.Want)
}

func (e *InsufficientWordsError) Unwrap() error { return ErrInsufficientWords }

// GenerationFailedError is returned when every attempt for one puzzle failed.
// Themes holds the theme labels tried in each attempt.
type GenerationFailedError struct {
	Attempts int
	Themes   [][]string
	Err      error
}

func (e *GenerationFailedError) Error() string {
	return fmt.Sprintf("generation failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *GenerationFailedError) Unwrap() error { return e.Err }

// InvalidError carries every violated invariant of a rejected candidate.
type InvalidError struct {
	Violations []string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("%v: %s", ErrStructuralInvalid, strings.Join(e.Violations, "; "))
}

func (e *InvalidError) Unwrap() error { return ErrStructuralInvalid }

// CommitError means the puzzle was persisted but marking its words used
// failed. The pool must be reconciled against the ledger.
type CommitError struct {
	Ordinal int
	ThemeID int64
	Err     error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("puzzle %d persisted but commit of theme %d failed: %v", e.Ordinal, e.ThemeID, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }
