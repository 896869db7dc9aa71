// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/hitoshi/timelog/internal/model"
)

// ErrActiveEntryConflict は同一オーナーの計測中エントリが既に存在するため
// 挿入・更新がストアの一意制約で拒否されたことを示す。
// ライフサイクル管理はこのエラーを受けた場合、状態を読み直して再試行する。
var ErrActiveEntryConflict = errors.New("active time log entry already exists for owner")

// EntryReader はエントリの単一取得操作。
type EntryReader interface {
	// FindByID は指定IDのエントリを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.TimeLogEntry, error)

	// FindActiveByOwner はオーナーの計測中エントリを取得する。存在しない場合はnilを返す。
	// 一意インデックスにより結果は0件か1件に限られる。
	FindActiveByOwner(ctx context.Context, ownerID string) (*model.TimeLogEntry, error)
}

// EntryTx はオーナー単位のトランザクション内で使用できる操作。
type EntryTx interface {
	EntryReader

	// Create はエントリを作成する。
	// 計測中エントリが既に存在する場合はErrActiveEntryConflictを返す。
	Create(ctx context.Context, entry *model.TimeLogEntry) error

	// Update はエントリを全項目置き換えで更新する。
	Update(ctx context.Context, entry *model.TimeLogEntry) error

	// Delete は指定IDのエントリを物理削除する。
	Delete(ctx context.Context, id string) error
}

// EntryRepository はタイムログエントリの永続化インターフェース。
type EntryRepository interface {
	EntryReader

	// ListByOwnerAndRange はstart_timeが[from, to)に含まれるエントリを
	// start_time降順でlimit件、offset件目から返す。
	ListByOwnerAndRange(ctx context.Context, ownerID string, from, to time.Time, limit, offset int) ([]*model.TimeLogEntry, error)

	// ListAllByOwnerAndRange はstart_timeが[from, to)に含まれるエントリを全件返す。集計用。
	ListAllByOwnerAndRange(ctx context.Context, ownerID string, from, to time.Time) ([]*model.TimeLogEntry, error)

	// CountTagsByOwner はオーナーの全エントリにおけるタグごとの使用回数を返す。
	CountTagsByOwner(ctx context.Context, ownerID string) (map[string]int, error)

	// RunInOwnerTx はオーナー単位で直列化されたトランザクション内でfnを実行する。
	// fnがエラーを返した場合はロールバックする。fn内ではtx以外の操作を使用しないこと。
	RunInOwnerTx(ctx context.Context, ownerID string, fn func(tx EntryTx) error) error
}

// LegacyTagRepository はレガシータグの永続化インターフェース。
type LegacyTagRepository interface {
	// ListByOwner はオーナーのレガシータグ一覧をタグ名順で返す。
	ListByOwner(ctx context.Context, ownerID string) ([]*model.LegacyTag, error)

	// Mark はタグをレガシーとして登録する。登録済みの場合は何もしない。
	Mark(ctx context.Context, tag *model.LegacyTag) error

	// Unmark はレガシー登録を解除する。未登録の場合は何もしない。
	Unmark(ctx context.Context, ownerID, tagName string) error

	// DeleteOrphaned はolderThanより前に登録され、
	// オーナーのどのエントリにも使われていないレガシータグを削除し、削除件数を返す。
	DeleteOrphaned(ctx context.Context, olderThan time.Time) (int64, error)
}

// SessionRepository はセッションデータの参照インターフェース。
// セッションの発行と削除は外部の認証サービスが行う。
type SessionRepository interface {
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// queryer は*sql.DBと*sql.Txの共通操作。
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
