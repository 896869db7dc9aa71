package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/timelog/internal/model"
)

// activeEntryIndex は計測中エントリの部分ユニークインデックス名。
const activeEntryIndex = "uq_time_log_entries_active_owner"

const pgEntryColumns = `id, owner_id, title, start_time, end_time, tags, metadata, created_at, updated_at`

// PostgresEntryRepo はPostgreSQLを使用したタイムログエントリリポジトリ。
type PostgresEntryRepo struct {
	db *sql.DB
}

// NewPostgresEntryRepo はPostgresEntryRepoを生成する。
func NewPostgresEntryRepo(db *sql.DB) *PostgresEntryRepo {
	return &PostgresEntryRepo{db: db}
}

// FindByID は指定IDのエントリを取得する。見つからない場合はnilを返す。
func (r *PostgresEntryRepo) FindByID(ctx context.Context, id string) (*model.TimeLogEntry, error) {
	return pgFindEntryByID(ctx, r.db, id, false)
}

// FindActiveByOwner はオーナーの計測中エントリを取得する。存在しない場合はnilを返す。
func (r *PostgresEntryRepo) FindActiveByOwner(ctx context.Context, ownerID string) (*model.TimeLogEntry, error) {
	return pgFindActiveEntry(ctx, r.db, ownerID, false)
}

// ListByOwnerAndRange はstart_timeが[from, to)に含まれるエントリを降順でページ単位に返す。
func (r *PostgresEntryRepo) ListByOwnerAndRange(ctx context.Context, ownerID string, from, to time.Time, limit, offset int) ([]*model.TimeLogEntry, error) {
	if !isUUID(ownerID) {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+pgEntryColumns+`
		 FROM time_log_entries
		 WHERE owner_id = $1 AND start_time >= $2 AND start_time < $3
		 ORDER BY start_time DESC, id DESC
		 LIMIT $4 OFFSET $5`,
		ownerID, from, to, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list time log entries: %w", err)
	}
	return scanPgEntries(rows)
}

// ListAllByOwnerAndRange はstart_timeが[from, to)に含まれるエントリを降順で全件返す。
func (r *PostgresEntryRepo) ListAllByOwnerAndRange(ctx context.Context, ownerID string, from, to time.Time) ([]*model.TimeLogEntry, error) {
	if !isUUID(ownerID) {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+pgEntryColumns+`
		 FROM time_log_entries
		 WHERE owner_id = $1 AND start_time >= $2 AND start_time < $3
		 ORDER BY start_time DESC, id DESC`,
		ownerID, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list time log entries: %w", err)
	}
	return scanPgEntries(rows)
}

// CountTagsByOwner はオーナーの全エントリにおけるタグごとの使用回数を返す。
func (r *PostgresEntryRepo) CountTagsByOwner(ctx context.Context, ownerID string) (map[string]int, error) {
	counts := make(map[string]int)
	if !isUUID(ownerID) {
		return counts, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT tag, COUNT(*)
		 FROM time_log_entries, unnest(tags) AS tag
		 WHERE owner_id = $1
		 GROUP BY tag`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count tags: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tag string
		var count int
		if err := rows.Scan(&tag, &count); err != nil {
			return nil, fmt.Errorf("failed to scan tag count: %w", err)
		}
		counts[tag] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tag counts: %w", err)
	}
	return counts, nil
}

// RunInOwnerTx はオーナー単位のアドバイザリロックを取得したトランザクション内でfnを実行する。
// ロックはトランザクション終了時に解放されるため、別オーナーの操作とは競合しない。
func (r *PostgresEntryRepo) RunInOwnerTx(ctx context.Context, ownerID string, fn func(tx EntryTx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`,
		ownerID,
	); err != nil {
		return fmt.Errorf("failed to acquire owner lock: %w", err)
	}

	if err := fn(&postgresEntryTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", mapPgError(err))
	}
	return nil
}

// postgresEntryTx はトランザクションに束縛されたエントリ操作。
type postgresEntryTx struct {
	tx *sql.Tx
}

func (t *postgresEntryTx) FindByID(ctx context.Context, id string) (*model.TimeLogEntry, error) {
	return pgFindEntryByID(ctx, t.tx, id, true)
}

func (t *postgresEntryTx) FindActiveByOwner(ctx context.Context, ownerID string) (*model.TimeLogEntry, error) {
	return pgFindActiveEntry(ctx, t.tx, ownerID, true)
}

func (t *postgresEntryTx) Create(ctx context.Context, e *model.TimeLogEntry) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO time_log_entries (`+pgEntryColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.OwnerID, e.Title, e.StartTime, nullTime(e.EndTime),
		pq.Array(nonNil(e.Tags)), pq.Array(nonNil(e.Metadata)), e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create time log entry: %w", mapPgError(err))
	}
	return nil
}

func (t *postgresEntryTx) Update(ctx context.Context, e *model.TimeLogEntry) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE time_log_entries
		 SET title = $2, start_time = $3, end_time = $4, tags = $5, updated_at = $6
		 WHERE id = $1`,
		e.ID, e.Title, e.StartTime, nullTime(e.EndTime), pq.Array(nonNil(e.Tags)), e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update time log entry: %w", mapPgError(err))
	}
	return nil
}

func (t *postgresEntryTx) Delete(ctx context.Context, id string) error {
	if !isUUID(id) {
		return nil
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM time_log_entries WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete time log entry: %w", err)
	}
	return nil
}

// pgFindEntryByID はIDでエントリを取得する。forUpdateの場合は行ロックを取得する。
func pgFindEntryByID(ctx context.Context, q queryer, id string, forUpdate bool) (*model.TimeLogEntry, error) {
	if !isUUID(id) {
		return nil, nil
	}
	query := `SELECT ` + pgEntryColumns + ` FROM time_log_entries WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	e, err := scanPgEntry(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find time log entry: %w", err)
	}
	return e, nil
}

func pgFindActiveEntry(ctx context.Context, q queryer, ownerID string, forUpdate bool) (*model.TimeLogEntry, error) {
	if !isUUID(ownerID) {
		return nil, nil
	}
	query := `SELECT ` + pgEntryColumns + ` FROM time_log_entries WHERE owner_id = $1 AND end_time IS NULL`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	e, err := scanPgEntry(q.QueryRowContext(ctx, query, ownerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active time log entry: %w", err)
	}
	return e, nil
}

// rowScanner は*sql.Rowと*sql.Rowsの共通操作。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPgEntry(s rowScanner) (*model.TimeLogEntry, error) {
	e := &model.TimeLogEntry{}
	var endTime sql.NullTime
	err := s.Scan(
		&e.ID, &e.OwnerID, &e.Title, &e.StartTime, &endTime,
		pq.Array(&e.Tags), pq.Array(&e.Metadata), &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if endTime.Valid {
		t := endTime.Time
		e.EndTime = &t
	}
	return e, nil
}

func scanPgEntries(rows *sql.Rows) ([]*model.TimeLogEntry, error) {
	defer rows.Close()

	var entries []*model.TimeLogEntry
	for rows.Next() {
		e, err := scanPgEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan time log entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate time log entries: %w", err)
	}
	return entries, nil
}

// mapPgError は計測中エントリの一意制約違反をErrActiveEntryConflictに変換する。
func mapPgError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" && pqErr.Constraint == activeEntryIndex {
		return ErrActiveEntryConflict
	}
	return err
}

// isUUID はPostgreSQLのUUID列と比較可能な文字列かどうかを返す。
// 不正な形式のIDは存在しないIDとして扱う。
func isUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// compile-time interface check
var (
	_ EntryRepository = (*PostgresEntryRepo)(nil)
	_ EntryTx         = (*postgresEntryTx)(nil)
)
