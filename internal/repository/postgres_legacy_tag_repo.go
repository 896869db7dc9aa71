package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/timelog/internal/model"
)

// PostgresLegacyTagRepo はPostgreSQLを使用したレガシータグリポジトリ。
type PostgresLegacyTagRepo struct {
	db *sql.DB
}

// NewPostgresLegacyTagRepo はPostgresLegacyTagRepoを生成する。
func NewPostgresLegacyTagRepo(db *sql.DB) *PostgresLegacyTagRepo {
	return &PostgresLegacyTagRepo{db: db}
}

// ListByOwner はオーナーのレガシータグ一覧をタグ名順で返す。
func (r *PostgresLegacyTagRepo) ListByOwner(ctx context.Context, ownerID string) ([]*model.LegacyTag, error) {
	if !isUUID(ownerID) {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT owner_id, tag_name, created_at
		 FROM legacy_tags WHERE owner_id = $1 ORDER BY tag_name ASC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list legacy tags: %w", err)
	}
	defer rows.Close()

	var tags []*model.LegacyTag
	for rows.Next() {
		tag := &model.LegacyTag{}
		if err := rows.Scan(&tag.OwnerID, &tag.TagName, &tag.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan legacy tag: %w", err)
		}
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate legacy tags: %w", err)
	}
	return tags, nil
}

// Mark はタグをレガシーとして登録する。登録済みの場合は何もしない。
func (r *PostgresLegacyTagRepo) Mark(ctx context.Context, tag *model.LegacyTag) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO legacy_tags (owner_id, tag_name, created_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (owner_id, tag_name) DO NOTHING`,
		tag.OwnerID, tag.TagName, tag.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to mark legacy tag: %w", err)
	}
	return nil
}

// Unmark はレガシー登録を解除する。未登録の場合は何もしない。
func (r *PostgresLegacyTagRepo) Unmark(ctx context.Context, ownerID, tagName string) error {
	if !isUUID(ownerID) {
		return nil
	}
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM legacy_tags WHERE owner_id = $1 AND tag_name = $2`,
		ownerID, tagName,
	)
	if err != nil {
		return fmt.Errorf("failed to unmark legacy tag: %w", err)
	}
	return nil
}

// DeleteOrphaned はどのエントリにも使われていない古いレガシータグを削除する。
func (r *PostgresLegacyTagRepo) DeleteOrphaned(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM legacy_tags lt
		 WHERE lt.created_at < $1
		   AND NOT EXISTS (
		       SELECT 1 FROM time_log_entries e
		       WHERE e.owner_id = lt.owner_id AND lt.tag_name = ANY(e.tags)
		   )`,
		olderThan,
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
var _ LegacyTagRepository = (*PostgresLegacyTagRepo)(nil)
