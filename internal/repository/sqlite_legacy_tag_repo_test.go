package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/timelog/internal/model"
)

func TestSQLiteLegacyTagRepo_MarkIsIdempotent(t *testing.T) {
	repo := NewSQLiteLegacyTagRepo(openTestDB(t))
	ctx := context.Background()

	tag := &model.LegacyTag{OwnerID: "owner-1", TagName: "kotlin", CreatedAt: baseTime}
	require.NoError(t, repo.Mark(ctx, tag))
	require.NoError(t, repo.Mark(ctx, tag))

	got, err := repo.ListByOwner(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "kotlin", got[0].TagName)
	assert.True(t, got[0].CreatedAt.Equal(baseTime))
}

func TestSQLiteLegacyTagRepo_UnmarkIsIdempotent(t *testing.T) {
	repo := NewSQLiteLegacyTagRepo(openTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Unmark(ctx, "owner-1", "never-marked"))

	require.NoError(t, repo.Mark(ctx, &model.LegacyTag{OwnerID: "owner-1", TagName: "kotlin", CreatedAt: baseTime}))
	require.NoError(t, repo.Unmark(ctx, "owner-1", "kotlin"))
	require.NoError(t, repo.Unmark(ctx, "owner-1", "kotlin"))

	got, err := repo.ListByOwner(ctx, "owner-1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLiteLegacyTagRepo_ScopedByOwner(t *testing.T) {
	repo := NewSQLiteLegacyTagRepo(openTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Mark(ctx, &model.LegacyTag{OwnerID: "owner-b", TagName: "kotlin", CreatedAt: baseTime}))

	got, err := repo.ListByOwner(ctx, "owner-a")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLiteLegacyTagRepo_DeleteOrphaned(t *testing.T) {
	db := openTestDB(t)
	tags := NewSQLiteLegacyTagRepo(db)
	entries := NewSQLiteEntryRepo(db)
	ctx := context.Background()

	createEntries(t, entries, newEntry("e1", "owner-1", baseTime, nil, "in-use"))

	old := baseTime.Add(-60 * 24 * time.Hour)
	for _, name := range []string{"in-use", "orphan"} {
		require.NoError(t, tags.Mark(ctx, &model.LegacyTag{OwnerID: "owner-1", TagName: name, CreatedAt: old}))
	}
	require.NoError(t, tags.Mark(ctx, &model.LegacyTag{OwnerID: "owner-1", TagName: "recent-orphan", CreatedAt: baseTime}))
	// 他オーナーのエントリで使われていても、本人が使っていなければ孤立扱い
	createEntries(t, entries, newEntry("e2", "owner-2", baseTime, nil, "foreign"))
	require.NoError(t, tags.Mark(ctx, &model.LegacyTag{OwnerID: "owner-1", TagName: "foreign", CreatedAt: old}))

	n, err := tags.DeleteOrphaned(ctx, baseTime.Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := tags.ListByOwner(ctx, "owner-1")
	require.NoError(t, err)
	var names []string
	for _, tag := range got {
		names = append(names, tag.TagName)
	}
	assert.Equal(t, []string{"in-use", "recent-orphan"}, names)
}
