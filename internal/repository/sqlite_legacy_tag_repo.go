package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/timelog/internal/model"
)

// SQLiteLegacyTagRepo はSQLiteを使用したレガシータグリポジトリ。
type SQLiteLegacyTagRepo struct {
	db *sql.DB
}

// NewSQLiteLegacyTagRepo はSQLiteLegacyTagRepoを生成する。
func NewSQLiteLegacyTagRepo(db *sql.DB) *SQLiteLegacyTagRepo {
	return &SQLiteLegacyTagRepo{db: db}
}

// ListByOwner はオーナーのレガシータグ一覧をタグ名順で返す。
func (r *SQLiteLegacyTagRepo) ListByOwner(ctx context.Context, ownerID string) ([]*model.LegacyTag, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT owner_id, tag_name, created_at
		 FROM legacy_tags WHERE owner_id = ? ORDER BY tag_name ASC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list legacy tags: %w", err)
	}
	defer rows.Close()

	var tags []*model.LegacyTag
	for rows.Next() {
		tag := &model.LegacyTag{}
		var created int64
		if err := rows.Scan(&tag.OwnerID, &tag.TagName, &created); err != nil {
			return nil, fmt.Errorf("failed to scan legacy tag: %w", err)
		}
		tag.CreatedAt = fromUnixNano(created)
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate legacy tags: %w", err)
	}
	return tags, nil
}

// Mark はタグをレガシーとして登録する。登録済みの場合は何もしない。
func (r *SQLiteLegacyTagRepo) Mark(ctx context.Context, tag *model.LegacyTag) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO legacy_tags (owner_id, tag_name, created_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (owner_id, tag_name) DO NOTHING`,
		tag.OwnerID, tag.TagName, tag.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to mark legacy tag: %w", err)
	}
	return nil
}

// Unmark はレガシー登録を解除する。未登録の場合は何もしない。
func (r *SQLiteLegacyTagRepo) Unmark(ctx context.Context, ownerID, tagName string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM legacy_tags WHERE owner_id = ? AND tag_name = ?`,
		ownerID, tagName,
	)
	if err != nil {
		return fmt.Errorf("failed to unmark legacy tag: %w", err)
	}
	return nil
}

// DeleteOrphaned はどのエントリにも使われていない古いレガシータグを削除する。
func (r *SQLiteLegacyTagRepo) DeleteOrphaned(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM legacy_tags
		 WHERE created_at < ?
		   AND NOT EXISTS (
		       SELECT 1 FROM time_log_entries e, json_each(e.tags) j
		       WHERE e.owner_id = legacy_tags.owner_id AND j.value = legacy_tags.tag_name
		   )`,
		olderThan.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete orphaned legacy tags: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ LegacyTagRepository = (*SQLiteLegacyTagRepo)(nil)
