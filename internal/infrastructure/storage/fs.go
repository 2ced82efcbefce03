package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"svw.info/connections/internal/domain"
	"svw.info/connections/internal/ports"
)

var _ ports.BatchStorage = (*FS)(nil)

// FS keeps candidate batches as JSON files in one folder per status, e.g.
// {dir}/pending/{id}.json.
type FS struct{ dir string }

func NewFS(dir string) *FS { return &FS{dir: dir} }

var statuses = []ports.BatchStatus{ports.BatchPending, ports.BatchVerified, ports.BatchRejected, ports.BatchPromoted, ports.BatchPartial}

func (s *FS) pathFor(id string, st ports.BatchStatus) string {
	return filepath.Join(s.dir, string(st), strings.TrimSpace(id)+".json")
}

func validID(id string) bool {
	id = strings.TrimSpace(id)
	return id != "" && !strings.ContainsAny(id, `/\`) && id != "." && id != ".."
}

// locate returns the folder holding id, if any.
func (s *FS) locate(id string) (ports.BatchStatus, bool) {
	for _, st := range statuses {
		if _, err := os.Stat(s.pathFor(id, st)); err == nil {
			return st, true
		}
	}
	return "", false
}

// Save writes b into the folder it already lives in, or into pending for a
// new batch.
func (s *FS) Save(ctx context.Context, b *ports.Batch) error {
	if b == nil || !validID(b.ID) {
		return errors.New("invalid batch: missing ID")
	}
	st, ok := s.locate(b.ID)
	if !ok {
		st = ports.BatchPending
	}
	target := s.pathFor(b.ID, st)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	f, err := os.Create(target)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(b)
}

// Load finds the batch in any status folder. A bare JSON array of puzzles,
// as produced by older exports, is accepted too.
func (s *FS) Load(ctx context.Context, id string) (*ports.Batch, ports.BatchStatus, error) {
	if !validID(id) {
		return nil, "", fmt.Errorf("invalid batch id %q", id)
	}
	for _, st := range statuses {
		data, err := os.ReadFile(s.pathFor(id, st))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, "", err
		}
		b, err := decodeBatch(data)
		if err != nil {
			return nil, "", fmt.Errorf("decode batch %s: %w", id, err)
		}
		if b.ID == "" {
			b.ID = id
		}
		return b, st, nil
	}
	return nil, "", fmt.Errorf("batch %s: %w", id, domain.ErrNotFound)
}

func decodeBatch(data []byte) (*ports.Batch, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var legacy []ports.PendingGroup
		if err := json.Unmarshal(data, &legacy); err != nil {
			return nil, err
		}
		return &ports.Batch{Puzzles: legacy}, nil
	}
	var b ports.Batch
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// List returns the batches in one status folder, oldest first.
func (s *FS) List(ctx context.Context, status ports.BatchStatus) ([]ports.BatchMeta, error) {
	dir := filepath.Join(s.dir, string(status))
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []ports.BatchMeta
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		b, err := decodeBatch(data)
		if err != nil {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		out = append(out, ports.BatchMeta{ID: id, Status: status, Puzzles: len(b.Puzzles), CreatedAt: b.CreatedAt})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Move relocates a batch to another status folder.
func (s *FS) Move(ctx context.Context, id string, to ports.BatchStatus) error {
	_, from, err := s.Load(ctx, id)
	if err != nil {
		return err
	}
	if from == to {
		return nil
	}
	target := s.pathFor(id, to)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	return os.Rename(s.pathFor(id, from), target)
}
