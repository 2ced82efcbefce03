package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"svw.info/connections/internal/domain"
	"svw.info/connections/internal/pool"
	"svw.info/connections/internal/ports"
	"svw.info/connections/internal/sequencer"
)

// PuzzleAudit is the verdict on one puzzle of a pending batch.
type PuzzleAudit struct {
	Index      int      `json:"index"`
	Valid      bool     `json:"valid"`
	Violations []string `json:"violations,omitempty"`
	Ordinal    int      `json:"ordinal,omitempty"`
	// AlreadyPromoted marks a puzzle promoted by an earlier call; it is not
	// checked again.
	AlreadyPromoted bool `json:"already_promoted,omitempty"`
}

// BatchAudit is the verdict on one pending batch.
type BatchAudit struct {
	ID     string            `json:"id"`
	Valid  bool              `json:"valid"`
	Status ports.BatchStatus `json:"status"`
	// Skipped is set for batches that were already fully promoted.
	Skipped bool          `json:"skipped,omitempty"`
	Puzzles []PuzzleAudit `json:"puzzles"`
}

// AuditReport summarises a ValidatePending call.
type AuditReport struct {
	Batches  []BatchAudit `json:"batches"`
	Valid    int          `json:"valid_puzzles"`
	Invalid  int          `json:"invalid_puzzles"`
	Promoted int          `json:"promoted"`
}

// Complete reports whether every audited puzzle passed.
func (r *AuditReport) Complete() bool { return r.Invalid == 0 }

// ValidatePending audits pending batches, all of them when ids is empty
// (verified ones too when promoting).
// Each puzzle is checked structurally and against the pool: its themes must
// exist for their tier and not be exhausted, and its words must be unused
// candidates of those themes. Passing batches move to verified, failing ones
// to rejected. With promote, valid puzzles are persisted and committed and
// fully promoted batches move to promoted. A batch where some puzzles were
// promoted and others failed moves to partial; its promoted puzzles keep
// their ordinals and are skipped on later calls. Promoted batches are
// reported as skipped and never moved.
func (u *Service) ValidatePending(ctx context.Context, ids []string, promote bool) (*AuditReport, error) {
	if u.Store == nil || u.Batches == nil || u.Validator == nil {
		return nil, errNotConfigured
	}
	if len(ids) == 0 {
		scan := []ports.BatchStatus{ports.BatchPending}
		if promote {
			scan = append(scan, ports.BatchVerified)
		}
		for _, st := range scan {
			metas, err := u.Batches.List(ctx, st)
			if err != nil {
				return nil, fmt.Errorf("list %s batches: %w", st, err)
			}
			for _, m := range metas {
				ids = append(ids, m.ID)
			}
		}
	}

	log := u.log
	var seq *sequencer.Sequencer
	if promote {
		holder := "promote-" + uuid.NewString()
		unlock, err := u.lock(ctx, holder)
		if err != nil {
			return nil, err
		}
		defer unlock()
		log = log.With(zap.String("run_id", holder))
		pm := pool.New(u.Store, log)
		if err := pm.Load(ctx); err != nil {
			return nil, fmt.Errorf("load pool: %w", err)
		}
		seq = u.newSequencer(pm, log)
	}

	rep := &AuditReport{}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		ba, err := u.auditBatch(ctx, log, id, seq)
		if err != nil {
			return rep, err
		}
		for _, pa := range ba.Puzzles {
			if pa.AlreadyPromoted {
				continue
			}
			if pa.Valid {
				rep.Valid++
			} else {
				rep.Invalid++
			}
			if pa.Ordinal > 0 {
				rep.Promoted++
			}
		}
		rep.Batches = append(rep.Batches, *ba)
	}
	return rep, nil
}

func (u *Service) auditBatch(ctx context.Context, log *zap.Logger, id string, seq *sequencer.Sequencer) (*BatchAudit, error) {
	batch, status, err := u.Batches.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load batch %s: %w", id, err)
	}
	ba := &BatchAudit{ID: id, Valid: true, Status: status}
	if status == ports.BatchPromoted {
		ba.Skipped = true
		log.Info("batch already promoted", zap.String("batch", id))
		return ba, nil
	}
	claimed := map[string]int{}
	promoted := 0

	for i, pg := range batch.Puzzles {
		if pg.Ordinal > 0 {
			promoted++
			ba.Puzzles = append(ba.Puzzles, PuzzleAudit{Index: i, Valid: true, Ordinal: pg.Ordinal, AlreadyPromoted: true})
			continue
		}
		pa := PuzzleAudit{Index: i}
		res, err := u.Validator.Validate(ctx, pg.Groups)
		if err != nil {
			return nil, err
		}
		pa.Violations = append(pa.Violations, res.Messages()...)

		cand, poolIssues, err := u.resolve(ctx, pg.Groups)
		if err != nil {
			return nil, err
		}
		cand.DailyTheme = pg.DailyTheme
		pa.Violations = append(pa.Violations, poolIssues...)
		for _, g := range pg.Groups {
			for _, w := range g.Words {
				key := strings.ToLower(g.Theme) + "\x00" + domain.NormalizeWord(w)
				if prev, ok := claimed[key]; ok {
					pa.Violations = append(pa.Violations,
						fmt.Sprintf("word %q of theme %q already used by puzzle %d of this batch", domain.NormalizeWord(w), g.Theme, prev+1))
				}
			}
		}
		pa.Valid = len(pa.Violations) == 0

		if pa.Valid {
			for _, g := range pg.Groups {
				for _, w := range g.Words {
					claimed[strings.ToLower(g.Theme)+"\x00"+domain.NormalizeWord(w)] = i
				}
			}
		}

		if pa.Valid && seq != nil {
			ordinal, date, err := seq.Next(ctx)
			if err != nil {
				return nil, fmt.Errorf("sequence batch %s puzzle %d: %w", id, i+1, err)
			}
			p, err := seq.Persist(ctx, cand, ordinal, date)
			var commitErr *domain.CommitError
			if err != nil && !errors.As(err, &commitErr) {
				pa.Valid = false
				pa.Violations = append(pa.Violations, err.Error())
			} else {
				pa.Ordinal = p.Ordinal
				promoted++
				batch.Puzzles[i].Ordinal = p.Ordinal
				if serr := u.Batches.Save(ctx, batch); serr != nil {
					return nil, fmt.Errorf("record promotion of batch %s puzzle %d: %w", id, i+1, serr)
				}
				if commitErr != nil {
					return nil, err
				}
			}
		}

		if !pa.Valid {
			ba.Valid = false
			log.Error("pending puzzle rejected",
				zap.String("batch", id),
				zap.Int("index", i),
				zap.Strings("violations", pa.Violations))
		}
		ba.Puzzles = append(ba.Puzzles, pa)
	}

	to := ports.BatchVerified
	switch {
	case !ba.Valid && promoted > 0:
		to = ports.BatchPartial
	case !ba.Valid:
		to = ports.BatchRejected
	case seq != nil:
		to = ports.BatchPromoted
	}
	if err := u.Batches.Move(ctx, id, to); err != nil {
		return nil, fmt.Errorf("move batch %s to %s: %w", id, to, err)
	}
	ba.Status = to
	log.Info("pending batch audited", zap.String("batch", id), zap.String("status", string(to)), zap.Int("puzzles", len(ba.Puzzles)))
	return ba, nil
}

// resolve maps stored groups back onto pool themes and words. It returns a
// description for every group that does not satisfy pool membership.
func (u *Service) resolve(ctx context.Context, groups []domain.Group) (*domain.Candidate, []string, error) {
	var issues []string
	cand := &domain.Candidate{}
	for _, g := range groups {
		tier, ok := domain.TierForColor(g.Color)
		if !ok {
			continue
		}
		th, err := u.Store.FindTheme(ctx, g.Theme, tier)
		if errors.Is(err, domain.ErrNotFound) {
			issues = append(issues, fmt.Sprintf("theme %q is not in the %s pool", g.Theme, tier))
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		if th.Exhausted {
			issues = append(issues, fmt.Sprintf("theme %q is exhausted", g.Theme))
			continue
		}
		words, err := u.Store.ListWords(ctx, th.ID, true)
		if err != nil {
			return nil, nil, err
		}
		byText := make(map[string]domain.Word, len(words))
		for _, w := range words {
			byText[domain.NormalizeWord(w.Text)] = w
		}
		pick := domain.Pick{Theme: th}
		for _, text := range g.Words {
			w, ok := byText[domain.NormalizeWord(text)]
			switch {
			case !ok:
				issues = append(issues, fmt.Sprintf("word %q is not a candidate of theme %q", domain.NormalizeWord(text), g.Theme))
			case w.Used:
				issues = append(issues, fmt.Sprintf("word %q of theme %q was already used", domain.NormalizeWord(text), g.Theme))
			default:
				pick.Words = append(pick.Words, w)
			}
		}
		cand.Picks = append(cand.Picks, pick)
	}
	sortPicks(cand)
	return cand, issues, nil
}

// sortPicks orders picks easiest tier first, as the assembler does.
func sortPicks(c *domain.Candidate) {
	picks := make([]domain.Pick, 0, len(c.Picks))
	for _, t := range domain.Tiers {
		for _, p := range c.Picks {
			if p.Theme.Tier == t {
				picks = append(picks, p)
			}
		}
	}
	c.Picks = picks
}
