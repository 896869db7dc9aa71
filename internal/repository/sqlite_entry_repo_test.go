package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/timelog/internal/database"
	"github.com/hitoshi/timelog/internal/model"
)

// openTestDB はマイグレーション済みのインメモリSQLiteを開く。
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open("sqlite3://:memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, database.MigrateSQLite(db))
	return db
}

var baseTime = time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

func newEntry(id, owner string, start time.Time, end *time.Time, tags ...string) *model.TimeLogEntry {
	return &model.TimeLogEntry{
		ID:        id,
		OwnerID:   owner,
		Title:     "work " + id,
		StartTime: start,
		EndTime:   end,
		Tags:      tags,
		Metadata:  []string{"source:test"},
		CreatedAt: start,
		UpdatedAt: start,
	}
}

func timePtr(t time.Time) *time.Time { return &t }

func createEntries(t *testing.T, repo EntryRepository, entries ...*model.TimeLogEntry) {
	t.Helper()
	for _, e := range entries {
		err := repo.RunInOwnerTx(context.Background(), e.OwnerID, func(tx EntryTx) error {
			return tx.Create(context.Background(), e)
		})
		require.NoError(t, err)
	}
}

func TestSQLiteEntryRepo_CreateAndFind(t *testing.T) {
	repo := NewSQLiteEntryRepo(openTestDB(t))
	ctx := context.Background()

	e := newEntry("e1", "owner-1", baseTime, nil, "go", "review")
	createEntries(t, repo, e)

	got, err := repo.FindByID(ctx, "e1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "owner-1", got.OwnerID)
	assert.Equal(t, "work e1", got.Title)
	assert.True(t, got.StartTime.Equal(baseTime))
	assert.Nil(t, got.EndTime)
	assert.Equal(t, []string{"go", "review"}, got.Tags)
	assert.Equal(t, []string{"source:test"}, got.Metadata)

	active, err := repo.FindActiveByOwner(ctx, "owner-1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "e1", active.ID)
}

func TestSQLiteEntryRepo_FindMissingReturnsNil(t *testing.T) {
	repo := NewSQLiteEntryRepo(openTestDB(t))
	ctx := context.Background()

	got, err := repo.FindByID(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	active, err := repo.FindActiveByOwner(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestSQLiteEntryRepo_SecondActiveEntryConflicts(t *testing.T) {
	repo := NewSQLiteEntryRepo(openTestDB(t))
	ctx := context.Background()

	createEntries(t, repo, newEntry("e1", "owner-1", baseTime, nil))

	err := repo.RunInOwnerTx(ctx, "owner-1", func(tx EntryTx) error {
		return tx.Create(ctx, newEntry("e2", "owner-1", baseTime.Add(time.Hour), nil))
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrActiveEntryConflict), "got %v", err)

	// 別オーナーの計測中エントリは競合しない
	createEntries(t, repo, newEntry("e3", "owner-2", baseTime, nil))
}

func TestSQLiteEntryRepo_RollbackOnError(t *testing.T) {
	repo := NewSQLiteEntryRepo(openTestDB(t))
	ctx := context.Background()
	boom := errors.New("boom")

	err := repo.RunInOwnerTx(ctx, "owner-1", func(tx EntryTx) error {
		if err := tx.Create(ctx, newEntry("e1", "owner-1", baseTime, nil)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := repo.FindByID(ctx, "e1")
	require.NoError(t, err)
	assert.Nil(t, got, "rolled back entry must not be visible")
}

func TestSQLiteEntryRepo_UpdateAndDelete(t *testing.T) {
	repo := NewSQLiteEntryRepo(openTestDB(t))
	ctx := context.Background()

	createEntries(t, repo, newEntry("e1", "owner-1", baseTime, nil, "a"))

	end := baseTime.Add(90 * time.Minute)
	err := repo.RunInOwnerTx(ctx, "owner-1", func(tx EntryTx) error {
		e, err := tx.FindByID(ctx, "e1")
		if err != nil {
			return err
		}
		e.Title = "renamed"
		e.EndTime = &end
		e.Tags = []string{"b", "a"}
		e.Metadata = []string{"ignored"}
		e.UpdatedAt = end
		return tx.Update(ctx, e)
	})
	require.NoError(t, err)

	got, err := repo.FindByID(ctx, "e1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "renamed", got.Title)
	require.NotNil(t, got.EndTime)
	assert.True(t, got.EndTime.Equal(end))
	assert.Equal(t, []string{"b", "a"}, got.Tags)
	assert.Equal(t, []string{"source:test"}, got.Metadata, "metadata is never updated")

	err = repo.RunInOwnerTx(ctx, "owner-1", func(tx EntryTx) error {
		return tx.Delete(ctx, "e1")
	})
	require.NoError(t, err)

	got, err = repo.FindByID(ctx, "e1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteEntryRepo_ListByOwnerAndRange(t *testing.T) {
	repo := NewSQLiteEntryRepo(openTestDB(t))
	ctx := context.Background()

	for i, id := range []string{"e1", "e2", "e3", "e4"} {
		start := baseTime.Add(time.Duration(i) * time.Hour)
		createEntries(t, repo, newEntry(id, "owner-1", start, timePtr(start.Add(30*time.Minute))))
	}
	createEntries(t, repo, newEntry("other", "owner-2", baseTime, timePtr(baseTime.Add(time.Minute))))

	t.Run("新しい順に返す", func(t *testing.T) {
		got, err := repo.ListByOwnerAndRange(ctx, "owner-1", baseTime, baseTime.Add(24*time.Hour), 10, 0)
		require.NoError(t, err)
		require.Len(t, got, 4)
		assert.Equal(t, []string{"e4", "e3", "e2", "e1"}, ids(got))
	})

	t.Run("toは含まない", func(t *testing.T) {
		got, err := repo.ListByOwnerAndRange(ctx, "owner-1", baseTime, baseTime.Add(2*time.Hour), 10, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"e2", "e1"}, ids(got))
	})

	t.Run("ページング", func(t *testing.T) {
		got, err := repo.ListByOwnerAndRange(ctx, "owner-1", baseTime, baseTime.Add(24*time.Hour), 2, 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"e2", "e1"}, ids(got))
	})

	t.Run("全件取得", func(t *testing.T) {
		got, err := repo.ListAllByOwnerAndRange(ctx, "owner-1", baseTime.Add(time.Hour), baseTime.Add(24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, []string{"e4", "e3", "e2"}, ids(got))
	})
}

func TestSQLiteEntryRepo_CountTagsByOwner(t *testing.T) {
	repo := NewSQLiteEntryRepo(openTestDB(t))
	ctx := context.Background()

	createEntries(t, repo,
		newEntry("e1", "owner-1", baseTime, timePtr(baseTime.Add(time.Hour)), "kotlin", "ops"),
		newEntry("e2", "owner-1", baseTime.Add(2*time.Hour), timePtr(baseTime.Add(3*time.Hour)), "kotlin"),
		newEntry("e3", "owner-1", baseTime.Add(4*time.Hour), nil, "kotlin"),
		newEntry("e4", "owner-2", baseTime, nil, "kotlin"),
	)

	counts, err := repo.CountTagsByOwner(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"kotlin": 3, "ops": 1}, counts)

	empty, err := repo.CountTagsByOwner(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func ids(entries []*model.TimeLogEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}
