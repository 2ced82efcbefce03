package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"svw.info/connections/internal/domain"
	"svw.info/connections/internal/ports"
)

var _ ports.Store = (*SQLite)(nil)

const lockTimeLayout = "2006-01-02T15:04:05.000000000Z"

// DefaultLockTTL is how long a run lock is honoured before another run may
// take it over.
const DefaultLockTTL = 6 * time.Hour

// SQLite is the durable Pool Store: themes, candidate words, the puzzle
// ledger and the run lock live in one database file.
type SQLite struct {
	db      *sql.DB
	path    string
	log     *zap.Logger
	lockTTL time.Duration
	now     func() time.Time
}

// NewSQLite opens (creating if needed) the database at path.
func NewSQLite(path string, log *zap.Logger) (*SQLite, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "" && path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			log.Debug("sqlite pragma failed", zap.String("pragma", pragma), zap.Error(err))
		}
	}
	s := &SQLite{db: db, path: path, log: log, lockTTL: DefaultLockTTL, now: time.Now}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	log.Debug("pool store opened", zap.String("path", path))
	return s, nil
}

// SetLockTTL changes how long a run lock is honoured.
func (s *SQLite) SetLockTTL(d time.Duration) { s.lockTTL = d }

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS themes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		label TEXT NOT NULL COLLATE NOCASE,
		tier INTEGER NOT NULL,
		exhausted INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(label, tier)
	);
	CREATE INDEX IF NOT EXISTS idx_themes_tier ON themes(tier, exhausted);

	CREATE TABLE IF NOT EXISTS theme_words (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		theme_id INTEGER NOT NULL REFERENCES themes(id),
		text TEXT NOT NULL,
		norm TEXT NOT NULL,
		used INTEGER NOT NULL DEFAULT 0,
		UNIQUE(theme_id, norm)
	);
	CREATE INDEX IF NOT EXISTS idx_theme_words_theme ON theme_words(theme_id, used);

	CREATE TABLE IF NOT EXISTS puzzles (
		ordinal INTEGER PRIMARY KEY,
		date TEXT NOT NULL UNIQUE,
		groups TEXT NOT NULL,
		daily_theme TEXT,
		author TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS run_lock (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		holder TEXT NOT NULL,
		acquired_at TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	// Databases created before daily themes existed lack the column.
	if _, err := s.db.Exec(`ALTER TABLE puzzles ADD COLUMN daily_theme TEXT`); err != nil &&
		!strings.Contains(err.Error(), "duplicate column name") {
		return fmt.Errorf("failed to migrate puzzles: %w", err)
	}
	return nil
}

func (s *SQLite) ListThemes(ctx context.Context, tier domain.Tier, includeExhausted bool) ([]domain.Theme, error) {
	q := `SELECT id, label, tier, exhausted FROM themes WHERE tier = ?`
	if !includeExhausted {
		q += ` AND exhausted = 0`
	}
	q += ` ORDER BY id`
	rows, err := s.db.QueryContext(ctx, q, int(tier))
	if err != nil {
		return nil, fmt.Errorf("query themes: %w", err)
	}
	defer rows.Close()
	var out []domain.Theme
	for rows.Next() {
		th, err := scanTheme(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, th)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTheme(row scanner) (domain.Theme, error) {
	var (
		th        domain.Theme
		tier      int
		exhausted int
	)
	if err := row.Scan(&th.ID, &th.Label, &tier, &exhausted); err != nil {
		return domain.Theme{}, err
	}
	th.Tier = domain.Tier(tier)
	th.Exhausted = exhausted != 0
	return th, nil
}

func (s *SQLite) FindTheme(ctx context.Context, label string, tier domain.Tier) (domain.Theme, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, label, tier, exhausted FROM themes WHERE label = ? AND tier = ?`,
		strings.TrimSpace(label), int(tier))
	th, err := scanTheme(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Theme{}, fmt.Errorf("theme %q (%s): %w", label, tier, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Theme{}, fmt.Errorf("query theme: %w", err)
	}
	return th, nil
}

func (s *SQLite) ListWords(ctx context.Context, themeID int64, includeUsed bool) ([]domain.Word, error) {
	q := `SELECT id, theme_id, text, used FROM theme_words WHERE theme_id = ?`
	if !includeUsed {
		q += ` AND used = 0`
	}
	q += ` ORDER BY id`
	rows, err := s.db.QueryContext(ctx, q, themeID)
	if err != nil {
		return nil, fmt.Errorf("query words: %w", err)
	}
	defer rows.Close()
	var out []domain.Word
	for rows.Next() {
		var (
			w    domain.Word
			used int
		)
		if err := rows.Scan(&w.ID, &w.ThemeID, &w.Text, &used); err != nil {
			return nil, err
		}
		w.Used = used != 0
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *SQLite) MarkWordsUsed(ctx context.Context, themeID int64, wordIDs []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	for _, id := range wordIDs {
		res, err := tx.ExecContext(ctx, `UPDATE theme_words SET used = 1 WHERE id = ? AND theme_id = ?`, id, themeID)
		if err != nil {
			return fmt.Errorf("update word %d: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("word %d of theme %d: %w", id, themeID, domain.ErrNotFound)
		}
	}
	return tx.Commit()
}

func (s *SQLite) MarkThemeExhausted(ctx context.Context, themeID int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE themes SET exhausted = 1 WHERE id = ?`, themeID)
	if err != nil {
		return fmt.Errorf("update theme %d: %w", themeID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("theme %d: %w", themeID, domain.ErrNotFound)
	}
	return nil
}

func (s *SQLite) UpsertTheme(ctx context.Context, label string, tier domain.Tier) (domain.Theme, error) {
	label = strings.TrimSpace(label)
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO themes (label, tier) VALUES (?, ?) ON CONFLICT(label, tier) DO NOTHING`,
		label, int(tier)); err != nil {
		return domain.Theme{}, fmt.Errorf("insert theme: %w", err)
	}
	return s.FindTheme(ctx, label, tier)
}

func (s *SQLite) AddWords(ctx context.Context, themeID int64, words []string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	added := 0
	for _, text := range words {
		norm := domain.NormalizeWord(text)
		if norm == "" {
			continue
		}
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO theme_words (theme_id, text, norm) VALUES (?, ?, ?)`,
			themeID, strings.TrimSpace(text), norm)
		if err != nil {
			return 0, fmt.Errorf("insert word %q: %w", text, err)
		}
		n, _ := res.RowsAffected()
		added += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return added, nil
}

func (s *SQLite) MaxOrdinal(ctx context.Context) (int, bool, error) {
	var v sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(ordinal) FROM puzzles`).Scan(&v); err != nil {
		return 0, false, fmt.Errorf("query max ordinal: %w", err)
	}
	return int(v.Int64), v.Valid, nil
}

func (s *SQLite) MaxDate(ctx context.Context) (time.Time, bool, error) {
	var v sql.NullString
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(date) FROM puzzles`).Scan(&v); err != nil {
		return time.Time{}, false, fmt.Errorf("query max date: %w", err)
	}
	if !v.Valid {
		return time.Time{}, false, nil
	}
	d, err := domain.ParseDate(v.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse stored date %q: %w", v.String, err)
	}
	return d, true, nil
}

func (s *SQLite) InsertPuzzle(ctx context.Context, p *domain.Puzzle) error {
	groups, err := json.Marshal(p.Groups)
	if err != nil {
		return fmt.Errorf("encode groups: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO puzzles (ordinal, date, groups, daily_theme, author, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		p.Ordinal, p.DateString(), string(groups), nullString(p.DailyTheme), p.Author, p.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("puzzle %d on %s: %w", p.Ordinal, p.DateString(), domain.ErrLedgerConflict)
		}
		return fmt.Errorf("insert puzzle %d: %w", p.Ordinal, err)
	}
	return nil
}

const puzzleColumns = `ordinal, date, groups, daily_theme, author, created_at`

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func scanPuzzle(row scanner) (*domain.Puzzle, error) {
	var (
		p       domain.Puzzle
		date    string
		groups  string
		daily   sql.NullString
		author  sql.NullString
		created string
	)
	if err := row.Scan(&p.Ordinal, &date, &groups, &daily, &author, &created); err != nil {
		return nil, err
	}
	d, err := domain.ParseDate(date)
	if err != nil {
		return nil, fmt.Errorf("parse date of puzzle %d: %w", p.Ordinal, err)
	}
	p.Date = d
	if err := json.Unmarshal([]byte(groups), &p.Groups); err != nil {
		return nil, fmt.Errorf("decode groups of puzzle %d: %w", p.Ordinal, err)
	}
	p.DailyTheme = daily.String
	p.Author = author.String
	if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
		p.CreatedAt = t
	}
	return &p, nil
}

func (s *SQLite) GetPuzzle(ctx context.Context, ordinal int) (*domain.Puzzle, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+puzzleColumns+` FROM puzzles WHERE ordinal = ?`, ordinal)
	p, err := scanPuzzle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("puzzle %d: %w", ordinal, domain.ErrNotFound)
	}
	return p, err
}

func (s *SQLite) PuzzleByDate(ctx context.Context, date time.Time) (*domain.Puzzle, error) {
	day := domain.CivilDate(date).Format(domain.DateLayout)
	row := s.db.QueryRowContext(ctx, `SELECT `+puzzleColumns+` FROM puzzles WHERE date = ?`, day)
	p, err := scanPuzzle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("puzzle on %s: %w", day, domain.ErrNotFound)
	}
	return p, err
}

func (s *SQLite) ListPuzzles(ctx context.Context) ([]domain.Puzzle, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+puzzleColumns+` FROM puzzles ORDER BY ordinal`)
	if err != nil {
		return nil, fmt.Errorf("query puzzles: %w", err)
	}
	defer rows.Close()
	var out []domain.Puzzle
	for rows.Next() {
		p, err := scanPuzzle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// AcquireRunLock takes the single run lock, or takes it over once the
// current holder's lock is older than the TTL.
func (s *SQLite) AcquireRunLock(ctx context.Context, holder string) error {
	now := s.now().UTC()
	stale := now.Add(-s.lockTTL).Format(lockTimeLayout)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_lock (id, holder, acquired_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET holder = excluded.holder, acquired_at = excluded.acquired_at
		WHERE run_lock.holder = excluded.holder OR run_lock.acquired_at < ?`,
		holder, now.Format(lockTimeLayout), stale)
	if err != nil {
		return fmt.Errorf("acquire run lock: %w", err)
	}
	var current string
	if err := s.db.QueryRowContext(ctx, `SELECT holder FROM run_lock WHERE id = 1`).Scan(&current); err != nil {
		return fmt.Errorf("read run lock: %w", err)
	}
	if current != holder {
		return fmt.Errorf("held by %s: %w", current, domain.ErrRunLocked)
	}
	return nil
}

func (s *SQLite) ReleaseRunLock(ctx context.Context, holder string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM run_lock WHERE id = 1 AND holder = ?`, holder); err != nil {
		return fmt.Errorf("release run lock: %w", err)
	}
	return nil
}
