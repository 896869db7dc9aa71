package timelog

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/hitoshi/timelog/internal/model"
	"github.com/hitoshi/timelog/internal/repository"
)

// --- モック ---

// memoryRepo はトランザクションと計測中エントリの一意制約を再現するインメモリのEntryRepository。
type memoryRepo struct {
	mu      sync.Mutex
	entries map[string]*model.TimeLogEntry

	// injectConflicts は残り回数分、Createで一意制約違反を返す。
	injectConflicts int
	txCalls         int
}

func newMemoryRepo(entries ...*model.TimeLogEntry) *memoryRepo {
	r := &memoryRepo{entries: make(map[string]*model.TimeLogEntry)}
	for _, e := range entries {
		r.entries[e.ID] = e.Clone()
	}
	return r
}

func (r *memoryRepo) FindByID(ctx context.Context, id string) (*model.TimeLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return findIn(r.entries, id), nil
}

func (r *memoryRepo) FindActiveByOwner(ctx context.Context, ownerID string) (*model.TimeLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return activeIn(r.entries, ownerID), nil
}

func (r *memoryRepo) ListByOwnerAndRange(ctx context.Context, ownerID string, from, to time.Time, limit, offset int) ([]*model.TimeLogEntry, error) {
	all, _ := r.ListAllByOwnerAndRange(ctx, ownerID, from, to)
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (r *memoryRepo) ListAllByOwnerAndRange(ctx context.Context, ownerID string, from, to time.Time) ([]*model.TimeLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*model.TimeLogEntry
	for _, e := range r.entries {
		if e.OwnerID != ownerID || e.StartTime.Before(from) || !e.StartTime.Before(to) {
			continue
		}
		out = append(out, e.Clone())
	}
	slices.SortFunc(out, func(a, b *model.TimeLogEntry) int {
		return b.StartTime.Compare(a.StartTime)
	})
	return out, nil
}

func (r *memoryRepo) CountTagsByOwner(ctx context.Context, ownerID string) (map[string]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[string]int)
	for _, e := range r.entries {
		if e.OwnerID != ownerID {
			continue
		}
		for _, tag := range e.Tags {
			counts[tag]++
		}
	}
	return counts, nil
}

// RunInOwnerTx は作業用コピーに対してfnを実行し、成功した場合のみ反映する。
func (r *memoryRepo) RunInOwnerTx(ctx context.Context, ownerID string, fn func(tx repository.EntryTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.txCalls++

	work := make(map[string]*model.TimeLogEntry, len(r.entries))
	for id, e := range r.entries {
		work[id] = e.Clone()
	}
	if err := fn(&memoryTx{repo: r, entries: work}); err != nil {
		return err
	}
	r.entries = work
	return nil
}

func (r *memoryRepo) snapshot() map[string]*model.TimeLogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]*model.TimeLogEntry, len(r.entries))
	for id, e := range r.entries {
		out[id] = e.Clone()
	}
	return out
}

func (r *memoryRepo) activeCount(ownerID string) int {
	n := 0
	for _, e := range r.snapshot() {
		if e.OwnerID == ownerID && e.IsActive() {
			n++
		}
	}
	return n
}

type memoryTx struct {
	repo    *memoryRepo
	entries map[string]*model.TimeLogEntry
}

func (t *memoryTx) FindByID(ctx context.Context, id string) (*model.TimeLogEntry, error) {
	return findIn(t.entries, id), nil
}

func (t *memoryTx) FindActiveByOwner(ctx context.Context, ownerID string) (*model.TimeLogEntry, error) {
	return activeIn(t.entries, ownerID), nil
}

func (t *memoryTx) Create(ctx context.Context, e *model.TimeLogEntry) error {
	if t.repo.injectConflicts > 0 {
		t.repo.injectConflicts--
		return repository.ErrActiveEntryConflict
	}
	if e.IsActive() && activeIn(t.entries, e.OwnerID) != nil {
		return repository.ErrActiveEntryConflict
	}
	t.entries[e.ID] = e.Clone()
	return nil
}

func (t *memoryTx) Update(ctx context.Context, e *model.TimeLogEntry) error {
	if _, ok := t.entries[e.ID]; !ok {
		return errors.New("entry not found")
	}
	t.entries[e.ID] = e.Clone()
	return nil
}

func (t *memoryTx) Delete(ctx context.Context, id string) error {
	delete(t.entries, id)
	return nil
}

func findIn(entries map[string]*model.TimeLogEntry, id string) *model.TimeLogEntry {
	if e, ok := entries[id]; ok {
		return e.Clone()
	}
	return nil
}

func activeIn(entries map[string]*model.TimeLogEntry, ownerID string) *model.TimeLogEntry {
	for _, e := range entries {
		if e.OwnerID == ownerID && e.IsActive() {
			return e.Clone()
		}
	}
	return nil
}

// fakeClock はテスト用の時計。
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// --- compile-time interface check ---

var (
	_ repository.EntryRepository = (*memoryRepo)(nil)
	_ repository.EntryTx         = (*memoryTx)(nil)
)
