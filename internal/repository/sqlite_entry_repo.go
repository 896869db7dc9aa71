package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/hitoshi/timelog/internal/model"
)

const sqliteEntryColumns = `id, owner_id, title, start_time, end_time, tags, metadata, created_at, updated_at`

// SQLiteEntryRepo はSQLiteを使用したタイムログエントリリポジトリ。
// 時刻はUTCのUNIXナノ秒、タグとメタデータはJSON配列として保持する。
type SQLiteEntryRepo struct {
	db *sql.DB
}

// NewSQLiteEntryRepo はSQLiteEntryRepoを生成する。
// dbは database.Open で開いた接続（_txlock=immediate）であること。
func NewSQLiteEntryRepo(db *sql.DB) *SQLiteEntryRepo {
	return &SQLiteEntryRepo{db: db}
}

// FindByID は指定IDのエントリを取得する。見つからない場合はnilを返す。
func (r *SQLiteEntryRepo) FindByID(ctx context.Context, id string) (*model.TimeLogEntry, error) {
	return sqliteFindEntry(ctx, r.db, `id = ?`, id)
}

// FindActiveByOwner はオーナーの計測中エントリを取得する。存在しない場合はnilを返す。
func (r *SQLiteEntryRepo) FindActiveByOwner(ctx context.Context, ownerID string) (*model.TimeLogEntry, error) {
	return sqliteFindEntry(ctx, r.db, `owner_id = ? AND end_time IS NULL`, ownerID)
}

// ListByOwnerAndRange はstart_timeが[from, to)に含まれるエントリを降順でページ単位に返す。
func (r *SQLiteEntryRepo) ListByOwnerAndRange(ctx context.Context, ownerID string, from, to time.Time, limit, offset int) ([]*model.TimeLogEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sqliteEntryColumns+`
		 FROM time_log_entries
		 WHERE owner_id = ? AND start_time >= ? AND start_time < ?
		 ORDER BY start_time DESC, id DESC
		 LIMIT ? OFFSET ?`,
		ownerID, from.UnixNano(), to.UnixNano(), limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list time log entries: %w", err)
	}
	return scanSQLiteEntries(rows)
}

// ListAllByOwnerAndRange はstart_timeが[from, to)に含まれるエントリを降順で全件返す。
func (r *SQLiteEntryRepo) ListAllByOwnerAndRange(ctx context.Context, ownerID string, from, to time.Time) ([]*model.TimeLogEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sqliteEntryColumns+`
		 FROM time_log_entries
		 WHERE owner_id = ? AND start_time >= ? AND start_time < ?
		 ORDER BY start_time DESC, id DESC`,
		ownerID, from.UnixNano(), to.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list time log entries: %w", err)
	}
	return scanSQLiteEntries(rows)
}

// CountTagsByOwner はオーナーの全エントリにおけるタグごとの使用回数を返す。
func (r *SQLiteEntryRepo) CountTagsByOwner(ctx context.Context, ownerID string) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT j.value, COUNT(*)
		 FROM time_log_entries e, json_each(e.tags) j
		 WHERE e.owner_id = ?
		 GROUP BY j.value`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count tags: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
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

// RunInOwnerTx はBEGIN IMMEDIATEのトランザクション内でfnを実行する。
// SQLiteはデータベース単位で書き込みを直列化するため、オーナー単位のロックは不要。
func (r *SQLiteEntryRepo) RunInOwnerTx(ctx context.Context, ownerID string, fn func(tx EntryTx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqliteEntryTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", mapSQLiteError(err))
	}
	return nil
}

// sqliteEntryTx はトランザクションに束縛されたエントリ操作。
type sqliteEntryTx struct {
	tx *sql.Tx
}

func (t *sqliteEntryTx) FindByID(ctx context.Context, id string) (*model.TimeLogEntry, error) {
	return sqliteFindEntry(ctx, t.tx, `id = ?`, id)
}

func (t *sqliteEntryTx) FindActiveByOwner(ctx context.Context, ownerID string) (*model.TimeLogEntry, error) {
	return sqliteFindEntry(ctx, t.tx, `owner_id = ? AND end_time IS NULL`, ownerID)
}

func (t *sqliteEntryTx) Create(ctx context.Context, e *model.TimeLogEntry) error {
	tags, err := encodeStrings(e.Tags)
	if err != nil {
		return err
	}
	metadata, err := encodeStrings(e.Metadata)
	if err != nil {
		return err
	}

	_, err = t.tx.ExecContext(ctx,
		`INSERT INTO time_log_entries (`+sqliteEntryColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.OwnerID, e.Title, e.StartTime.UnixNano(), unixNanoOrNil(e.EndTime),
		tags, metadata, e.CreatedAt.UnixNano(), e.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to create time log entry: %w", mapSQLiteError(err))
	}
	return nil
}

func (t *sqliteEntryTx) Update(ctx context.Context, e *model.TimeLogEntry) error {
	tags, err := encodeStrings(e.Tags)
	if err != nil {
		return err
	}

	_, err = t.tx.ExecContext(ctx,
		`UPDATE time_log_entries
		 SET title = ?, start_time = ?, end_time = ?, tags = ?, updated_at = ?
		 WHERE id = ?`,
		e.Title, e.StartTime.UnixNano(), unixNanoOrNil(e.EndTime), tags, e.UpdatedAt.UnixNano(), e.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update time log entry: %w", mapSQLiteError(err))
	}
	return nil
}

func (t *sqliteEntryTx) Delete(ctx context.Context, id string) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM time_log_entries WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete time log entry: %w", err)
	}
	return nil
}

func sqliteFindEntry(ctx context.Context, q queryer, where string, arg any) (*model.TimeLogEntry, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+sqliteEntryColumns+` FROM time_log_entries WHERE `+where,
		arg,
	)
	e, err := scanSQLiteEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find time log entry: %w", err)
	}
	return e, nil
}

func scanSQLiteEntry(s rowScanner) (*model.TimeLogEntry, error) {
	e := &model.TimeLogEntry{}
	var (
		start, created, updated int64
		end                     sql.NullInt64
		tags, metadata          string
	)
	if err := s.Scan(&e.ID, &e.OwnerID, &e.Title, &start, &end, &tags, &metadata, &created, &updated); err != nil {
		return nil, err
	}

	e.StartTime = fromUnixNano(start)
	e.CreatedAt = fromUnixNano(created)
	e.UpdatedAt = fromUnixNano(updated)
	if end.Valid {
		t := fromUnixNano(end.Int64)
		e.EndTime = &t
	}
	if err := json.Unmarshal([]byte(tags), &e.Tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags: %w", err)
	}
	if err := json.Unmarshal([]byte(metadata), &e.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return e, nil
}

func scanSQLiteEntries(rows *sql.Rows) ([]*model.TimeLogEntry, error) {
	defer rows.Close()

	var entries []*model.TimeLogEntry
	for rows.Next() {
		e, err := scanSQLiteEntry(rows)
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

// mapSQLiteError は計測中エントリの一意制約違反をErrActiveEntryConflictに変換する。
// 部分ユニークインデックスはowner_id単独のため、違反メッセージの列名で判定する。
func mapSQLiteError(err error) error {
	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) &&
		sqErr.ExtendedCode == sqlite3.ErrConstraintUnique &&
		strings.Contains(sqErr.Error(), "time_log_entries.owner_id") {
		return ErrActiveEntryConflict
	}
	return err
}

func encodeStrings(s []string) (string, error) {
	b, err := json.Marshal(nonNil(s))
	if err != nil {
		return "", fmt.Errorf("failed to encode strings: %w", err)
	}
	return string(b), nil
}

func unixNanoOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// compile-time interface check
var (
	_ EntryRepository = (*SQLiteEntryRepo)(nil)
	_ EntryTx         = (*sqliteEntryTx)(nil)
)
