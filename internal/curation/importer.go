// Package curation loads curated theme files into the pool store.
package curation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"svw.info/connections/internal/domain"
	"svw.info/connections/internal/ports"
)

// Record is one theme entry in a curation file. Either Tier or Color
// identifies the difficulty; Color accepts the stored CSS class.
type Record struct {
	Theme string   `yaml:"theme" json:"theme" validate:"required"`
	Tier  string   `yaml:"tier,omitempty" json:"tier,omitempty" validate:"required_without=Color"`
	Color string   `yaml:"color,omitempty" json:"color,omitempty"`
	Emoji string   `yaml:"emoji,omitempty" json:"emoji,omitempty"`
	Words []string `yaml:"words" json:"words" validate:"min=1,dive,required"`
}

// Report summarises an import.
type Report struct {
	Themes       int      `json:"themes"`
	WordsAdded   int      `json:"words_added"`
	WordsSkipped int      `json:"words_skipped"`
	Selected     int      `json:"selected"`
	Rejected     []string `json:"rejected,omitempty"`
}

// Importer upserts theme records into a pool store.
type Importer struct {
	store    ports.PoolStore
	selector WordSelector
	selectK  int
	log      *zap.Logger
	validate *validator.Validate
}

// WordSelector narrows a theme's candidate list.
type WordSelector interface {
	Choose(ctx context.Context, theme string, candidates []string, k int, exclude []string) ([]string, error)
}

type Option func(*Importer)

// WithSelector narrows themes with more than k candidates through s.
func WithSelector(s WordSelector, k int) Option {
	return func(i *Importer) {
		i.selector = s
		i.selectK = k
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(i *Importer) {
		if l != nil {
			i.log = l
		}
	}
}

func NewImporter(store ports.PoolStore, opts ...Option) *Importer {
	i := &Importer{
		store:    store,
		log:      zap.NewNop(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

// ReadFile decodes a YAML or JSON curation file, chosen by extension.
func ReadFile(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var recs []Record
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &recs)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &recs)
	default:
		return nil, fmt.Errorf("unsupported curation file type %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return recs, nil
}

// Import reads path and loads every record.
func (i *Importer) Import(ctx context.Context, path string) (*Report, error) {
	recs, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return i.ImportRecords(ctx, recs)
}

// ImportRecords loads records in order. Invalid records are skipped and
// listed in the report; store failures abort.
func (i *Importer) ImportRecords(ctx context.Context, recs []Record) (*Report, error) {
	rep := &Report{}
	// Words already picked for earlier themes in this file, so a selector
	// does not hand the same word to two themes.
	var chosen []string
	for n, rec := range recs {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		tier, err := i.check(rec)
		if err != nil {
			i.log.Warn("skipping curation record", zap.Int("index", n), zap.String("theme", rec.Theme), zap.Error(err))
			rep.Rejected = append(rep.Rejected, fmt.Sprintf("%d %q: %v", n, rec.Theme, err))
			continue
		}
		words := rec.Words
		if i.selector != nil && i.selectK >= domain.GroupSize && len(words) > i.selectK {
			picked, err := i.selector.Choose(ctx, rec.Theme, words, i.selectK, chosen)
			if err != nil {
				i.log.Warn("word selection failed, keeping all candidates",
					zap.String("theme", rec.Theme), zap.Error(err))
			} else {
				words = picked
				rep.Selected++
			}
		}
		th, err := i.store.UpsertTheme(ctx, strings.TrimSpace(rec.Theme), tier)
		if err != nil {
			return rep, fmt.Errorf("upsert theme %q: %w", rec.Theme, err)
		}
		added, err := i.store.AddWords(ctx, th.ID, words)
		if err != nil {
			return rep, fmt.Errorf("add words to %q: %w", rec.Theme, err)
		}
		rep.Themes++
		rep.WordsAdded += added
		rep.WordsSkipped += len(words) - added
		for _, w := range words {
			chosen = append(chosen, domain.NormalizeWord(w))
		}
		i.log.Debug("imported theme", zap.String("theme", rec.Theme), zap.Stringer("tier", tier), zap.Int("added", added))
	}
	return rep, nil
}

func (i *Importer) check(rec Record) (domain.Tier, error) {
	if err := i.validate.Struct(rec); err != nil {
		return 0, err
	}
	key := rec.Tier
	if key == "" {
		key = rec.Color
	}
	tier, err := domain.ParseTier(key)
	if err != nil {
		return 0, err
	}
	if rec.Emoji != "" && rec.Emoji != tier.Emoji() {
		return 0, errors.New("emoji does not match tier")
	}
	return tier, nil
}
