// Package timelog はタイムログエントリのライフサイクル（開始、停止、継続、編集、削除）と
// 日別・週別の集計クエリを提供する。
//
// オーナーごとに計測中のエントリは常に高々1件であり、状態遷移はオーナー単位の
// トランザクション内で行う。開始と停止はコミット後に変更イベントとして配信する。
package timelog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/timelog/internal/metrics"
	"github.com/hitoshi/timelog/internal/model"
	"github.com/hitoshi/timelog/internal/notify"
	"github.com/hitoshi/timelog/internal/repository"
)

const (
	// MaxTitleLength はタイトルの最大文字数。
	MaxTitleLength = 1000
	// MaxTagLength はタグ1件の最大文字数。
	MaxTagLength = 100
	// DefaultPageSize はListのデフォルト件数。
	DefaultPageSize = 100
	// MaxPageSize はListの最大件数。
	MaxPageSize = 500

	// maxTxAttempts は計測中エントリの一意制約違反時の最大試行回数。
	maxTxAttempts = 3
	// writeTimeout は書き込みトランザクションのタイムアウト。
	writeTimeout = 10 * time.Second
)

// StopResult は停止操作の結果。
type StopResult struct {
	Stopped bool
	Entry   *model.TimeLogEntry // 停止したエントリ。Stoppedがfalseの場合はnil
}

// EditInput はエントリ編集の入力。nilの項目は変更しない。
type EditInput struct {
	Title     *string
	StartTime *time.Time
	EndTime   *time.Time
	Tags      []string // nilの場合は変更しない。空スライスはタグを全削除する
}

// ListResult はエントリ一覧の1ページ分。
type ListResult struct {
	Entries  []*model.TimeLogEntry
	Page     int
	PageSize int
	HasMore  bool
}

// Service はタイムログエントリのライフサイクル管理を行うサービス層。
type Service struct {
	repo      repository.EntryRepository
	publisher notify.Publisher
	metrics   metrics.MetricsCollector
	logger    *slog.Logger

	now   func() time.Time
	newID func() string
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	repo repository.EntryRepository,
	publisher notify.Publisher,
	m metrics.MetricsCollector,
	logger *slog.Logger,
) *Service {
	if publisher == nil {
		publisher = notify.NopPublisher{}
	}
	if m == nil {
		m = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Start は新しいエントリの計測を開始する。
// 計測中のエントリがある場合は現在時刻で停止してから開始する。停止と開始は不可分に行う。
func (s *Service) Start(ctx context.Context, ownerID, title string, tags, metadata []string) (*model.TimeLogEntry, error) {
	title, err := s.normalizeTitle(title)
	if err != nil {
		return nil, err
	}
	tags, err = s.normalizeTags(tags)
	if err != nil {
		return nil, err
	}
	defer s.observe("start", time.Now())

	var (
		created *model.TimeLogEntry
		stopped *model.TimeLogEntry
	)
	err = s.runOwnerTx(ctx, ownerID, func(tx repository.EntryTx) error {
		created, stopped = nil, nil
		var err error
		created, stopped, err = s.startInTx(ctx, tx, ownerID, title, tags, metadata)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("エントリの開始に失敗しました: %w", err)
	}

	s.afterStart(created, stopped)
	return created, nil
}

// Continue は既存エントリのタイトルとタグを引き継いで新しいエントリを開始する。
// 元エントリが存在しない、または他のオーナーのものである場合はENTRY_NOT_FOUNDを返す。
func (s *Service) Continue(ctx context.Context, ownerID, sourceEntryID string) (*model.TimeLogEntry, error) {
	defer s.observe("continue", time.Now())

	var (
		created *model.TimeLogEntry
		stopped *model.TimeLogEntry
	)
	err := s.runOwnerTx(ctx, ownerID, func(tx repository.EntryTx) error {
		created, stopped = nil, nil
		source, err := findOwned(ctx, tx, ownerID, sourceEntryID)
		if err != nil {
			return err
		}
		created, stopped, err = s.startInTx(ctx, tx, ownerID, source.Title, slices.Clone(source.Tags), nil)
		return err
	})
	if err != nil {
		if model.IsNotFound(err) {
			return nil, err
		}
		return nil, fmt.Errorf("エントリの継続に失敗しました: %w", err)
	}

	s.afterStart(created, stopped)
	return created, nil
}

// Stop はオーナーの計測中エントリを現在時刻で停止する。
// 計測中のエントリがない場合もエラーにはせず、Stopped=falseを返す。
func (s *Service) Stop(ctx context.Context, ownerID string) (*StopResult, error) {
	defer s.observe("stop", time.Now())

	var stopped *model.TimeLogEntry
	err := s.runOwnerTx(ctx, ownerID, func(tx repository.EntryTx) error {
		stopped = nil
		active, err := tx.FindActiveByOwner(ctx, ownerID)
		if err != nil {
			return err
		}
		if active == nil {
			return nil
		}
		if err := s.stopInTx(ctx, tx, active); err != nil {
			return err
		}
		stopped = active
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("エントリの停止に失敗しました: %w", err)
	}

	if stopped == nil {
		return &StopResult{Stopped: false}, nil
	}

	s.metrics.RecordEntryStopped()
	s.logger.Info("エントリを停止しました",
		slog.String("owner_id", ownerID),
		slog.String("entry_id", stopped.ID),
	)
	s.publish(notify.EventEntryStopped, stopped)
	return &StopResult{Stopped: true, Entry: stopped}, nil
}

// Edit はオーナー自身のエントリを部分更新する。
// 終了時刻は更新後の開始時刻以降でなければならない。他のエントリの自動停止は行わない。
func (s *Service) Edit(ctx context.Context, ownerID, entryID string, in EditInput) (*model.TimeLogEntry, error) {
	var (
		title *string
		tags  []string
	)
	if in.Title != nil {
		t, err := s.normalizeTitle(*in.Title)
		if err != nil {
			return nil, err
		}
		title = &t
	}
	if in.Tags != nil {
		t, err := s.normalizeTags(in.Tags)
		if err != nil {
			return nil, err
		}
		tags = t
	}
	defer s.observe("edit", time.Now())

	var updated *model.TimeLogEntry
	err := s.runOwnerTx(ctx, ownerID, func(tx repository.EntryTx) error {
		updated = nil
		entry, err := findOwned(ctx, tx, ownerID, entryID)
		if err != nil {
			return err
		}

		if title != nil {
			entry.Title = *title
		}
		if tags != nil {
			entry.Tags = tags
		}
		if in.StartTime != nil {
			entry.StartTime = in.StartTime.UTC()
		}
		if in.EndTime != nil {
			end := in.EndTime.UTC()
			entry.EndTime = &end
		}
		if entry.EndTime != nil && entry.EndTime.Before(entry.StartTime) {
			return model.NewInvalidTimeRangeError("終了時刻が開始時刻より前です")
		}

		entry.UpdatedAt = s.now().UTC()
		if err := tx.Update(ctx, entry); err != nil {
			return err
		}
		updated = entry
		return nil
	})
	if err != nil {
		if model.IsValidation(err) || model.IsNotFound(err) {
			return nil, err
		}
		return nil, fmt.Errorf("エントリの更新に失敗しました: %w", err)
	}
	return updated, nil
}

// GroupEdit は複数のエントリのタイトルとタグを一括で更新する。
// 1件でも存在しない、または他のオーナーのIDが含まれる場合は、どのエントリも更新せずにINVALID_GROUP_EDITを返す。
func (s *Service) GroupEdit(ctx context.Context, ownerID string, entryIDs []string, title string, tags []string) ([]*model.TimeLogEntry, error) {
	ids := dedupe(entryIDs)
	if len(ids) == 0 {
		return nil, model.NewInvalidGroupEditError("対象のエントリが指定されていません")
	}
	title, err := s.normalizeTitle(title)
	if err != nil {
		return nil, err
	}
	tags, err = s.normalizeTags(tags)
	if err != nil {
		return nil, err
	}
	defer s.observe("group_edit", time.Now())

	var updated []*model.TimeLogEntry
	err = s.runOwnerTx(ctx, ownerID, func(tx repository.EntryTx) error {
		updated = nil
		entries := make([]*model.TimeLogEntry, 0, len(ids))
		// 更新の前にすべてのIDを検証する
		for _, id := range ids {
			entry, err := tx.FindByID(ctx, id)
			if err != nil {
				return err
			}
			if entry == nil || entry.OwnerID != ownerID {
				return model.NewInvalidGroupEditError(fmt.Sprintf("エントリが見つかりません: %s", id))
			}
			entries = append(entries, entry)
		}

		now := s.now().UTC()
		for _, entry := range entries {
			entry.Title = title
			entry.Tags = slices.Clone(tags)
			entry.UpdatedAt = now
			if err := tx.Update(ctx, entry); err != nil {
				return err
			}
		}
		updated = entries
		return nil
	})
	if err != nil {
		if model.IsValidation(err) {
			return nil, err
		}
		return nil, fmt.Errorf("エントリの一括更新に失敗しました: %w", err)
	}

	s.logger.Info("エントリを一括更新しました",
		slog.String("owner_id", ownerID),
		slog.Int("count", len(updated)),
	)
	return updated, nil
}

// Delete はオーナー自身のエントリを物理削除する。
// 計測中のエントリを削除しても代わりのエントリは開始しない。
func (s *Service) Delete(ctx context.Context, ownerID, entryID string) error {
	defer s.observe("delete", time.Now())

	err := s.runOwnerTx(ctx, ownerID, func(tx repository.EntryTx) error {
		if _, err := findOwned(ctx, tx, ownerID, entryID); err != nil {
			return err
		}
		return tx.Delete(ctx, entryID)
	})
	if err != nil {
		if model.IsNotFound(err) {
			return err
		}
		return fmt.Errorf("エントリの削除に失敗しました: %w", err)
	}
	return nil
}

// GetActive はオーナーの計測中エントリを返す。存在しない場合はnilを返す（エラーではない）。
func (s *Service) GetActive(ctx context.Context, ownerID string) (*model.TimeLogEntry, error) {
	entry, err := s.repo.FindActiveByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("計測中エントリの取得に失敗しました: %w", err)
	}
	return entry, nil
}

// List は開始時刻が[from, to)に含まれるエントリを新しい順に返す。
// pageは1始まり。page、pageSizeが0の場合はそれぞれ1とDefaultPageSizeを使う。
func (s *Service) List(ctx context.Context, ownerID string, from, to time.Time, page, pageSize int) (*ListResult, error) {
	if page == 0 {
		page = 1
	}
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	if page < 1 {
		return nil, model.NewInvalidPaginationError("pageは1以上で指定してください")
	}
	if pageSize < 1 || pageSize > MaxPageSize {
		return nil, model.NewInvalidPaginationError(fmt.Sprintf("page_sizeは1から%dの範囲で指定してください", MaxPageSize))
	}
	// オフセットの計算がintを超えるページは存在しない
	if page-1 > math.MaxInt/pageSize {
		return nil, model.NewInvalidPaginationError("pageが大きすぎます")
	}
	if !from.Before(to) {
		return nil, model.NewInvalidTimeRangeError("start_time_fromはstart_time_toより前を指定してください")
	}

	// 次ページの有無を判定するため1件多く取得する
	entries, err := s.repo.ListByOwnerAndRange(ctx, ownerID, from, to, pageSize+1, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("エントリ一覧の取得に失敗しました: %w", err)
	}

	result := &ListResult{Page: page, PageSize: pageSize}
	if len(entries) > pageSize {
		entries = entries[:pageSize]
		result.HasMore = true
	}
	if entries == nil {
		entries = []*model.TimeLogEntry{}
	}
	result.Entries = entries
	return result, nil
}

// startInTx は計測中エントリを停止し、新しいエントリを挿入する。
func (s *Service) startInTx(ctx context.Context, tx repository.EntryTx, ownerID, title string, tags, metadata []string) (*model.TimeLogEntry, *model.TimeLogEntry, error) {
	var stopped *model.TimeLogEntry
	active, err := tx.FindActiveByOwner(ctx, ownerID)
	if err != nil {
		return nil, nil, err
	}
	if active != nil {
		if err := s.stopInTx(ctx, tx, active); err != nil {
			return nil, nil, err
		}
		stopped = active
	}

	now := s.now().UTC()
	entry := &model.TimeLogEntry{
		ID:        s.newID(),
		OwnerID:   ownerID,
		Title:     title,
		StartTime: now,
		Tags:      tags,
		Metadata:  slices.Clone(metadata),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if entry.Tags == nil {
		entry.Tags = []string{}
	}
	if entry.Metadata == nil {
		entry.Metadata = []string{}
	}
	if err := tx.Create(ctx, entry); err != nil {
		return nil, nil, err
	}
	return entry, stopped, nil
}

// stopInTx はエントリの終了時刻を現在時刻に設定する。
// 時計のずれで現在時刻が開始時刻より前になる場合は開始時刻で停止する。
func (s *Service) stopInTx(ctx context.Context, tx repository.EntryTx, entry *model.TimeLogEntry) error {
	now := s.now().UTC()
	end := now
	if end.Before(entry.StartTime) {
		end = entry.StartTime
	}
	entry.EndTime = &end
	entry.UpdatedAt = now
	return tx.Update(ctx, entry)
}

func (s *Service) afterStart(created, stopped *model.TimeLogEntry) {
	if stopped != nil {
		s.metrics.RecordAutoStop()
		s.metrics.RecordEntryStopped()
		s.logger.Info("計測中のエントリを自動停止しました",
			slog.String("owner_id", stopped.OwnerID),
			slog.String("entry_id", stopped.ID),
		)
		s.publish(notify.EventEntryStopped, stopped)
	}

	s.metrics.RecordEntryStarted()
	s.logger.Info("エントリを開始しました",
		slog.String("owner_id", created.OwnerID),
		slog.String("entry_id", created.ID),
	)
	s.publish(notify.EventEntryStarted, created)
}

func (s *Service) publish(typ notify.EventType, entry *model.TimeLogEntry) {
	s.publisher.Publish(notify.Event{
		Type:       typ,
		OwnerID:    entry.OwnerID,
		EntryID:    entry.ID,
		Title:      entry.Title,
		OccurredAt: s.now().UTC(),
	})
}

// runOwnerTx はオーナー単位のトランザクションでfnを実行する。
// 書き込みは呼び出し元のキャンセルに影響されず、コミットかロールバックまで完了する。
// 計測中エントリの一意制約違反は状態を読み直して再試行し、呼び出し元には返さない。
func (s *Service) runOwnerTx(ctx context.Context, ownerID string, fn func(tx repository.EntryTx) error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.repo.RunInOwnerTx(ctx, ownerID, fn)
		if !errors.Is(err, repository.ErrActiveEntryConflict) {
			return err
		}
		s.metrics.RecordConflictRetry()
		s.logger.Warn("計測中エントリの競合を検出したため再試行します",
			slog.String("owner_id", ownerID),
			slog.Int("attempt", attempt),
		)
	}
	return fmt.Errorf("計測中エントリの競合が解消しませんでした: %w", err)
}

func (s *Service) observe(operation string, start time.Time) {
	s.metrics.RecordOperationLatency(operation, time.Since(start))
}

// normalizeTitle はタイトルの前後の空白を除いて長さを検証する。
// 内容は書き換えない。
func (s *Service) normalizeTitle(raw string) (string, error) {
	title := strings.TrimSpace(raw)
	if title == "" {
		return "", model.NewInvalidTitleError("タイトルが空です")
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return "", model.NewInvalidTitleError(fmt.Sprintf("%d文字を超えています", MaxTitleLength))
	}
	return title, nil
}

// normalizeTags はタグの前後の空白を除き、空のタグを除いて最初の出現順で重複を取り除く。
func (s *Service) normalizeTags(raw []string) ([]string, error) {
	tags := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, r := range raw {
		tag := strings.TrimSpace(r)
		if tag == "" {
			continue
		}
		if utf8.RuneCountInString(tag) > MaxTagLength {
			return nil, model.NewInvalidTagsError(fmt.Sprintf("%d文字を超えるタグがあります", MaxTagLength))
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	return tags, nil
}

// findOwned はオーナー自身のエントリを取得する。
// 存在しないIDと他のオーナーのIDは区別せずENTRY_NOT_FOUNDを返す。
func findOwned(ctx context.Context, tx repository.EntryTx, ownerID, entryID string) (*model.TimeLogEntry, error) {
	entry, err := tx.FindByID(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry == nil || entry.OwnerID != ownerID {
		return nil, model.NewEntryNotFoundError(entryID)
	}
	return entry, nil
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
