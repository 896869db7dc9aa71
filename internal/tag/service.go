// Package tag はタグ統計とレガシータグの管理を提供する。
package tag

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/timelog/internal/aggregate"
	"github.com/hitoshi/timelog/internal/model"
	"github.com/hitoshi/timelog/internal/repository"
)

// maxTagLength はタグ名の最大文字数。
const maxTagLength = 100

// Service はタグ統計とレガシー指定のサービス層。
// レガシー指定はオーナーごとに独立しており、他のオーナーの統計には影響しない。
type Service struct {
	entries repository.EntryRepository
	legacy  repository.LegacyTagRepository
	now     func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(entries repository.EntryRepository, legacy repository.LegacyTagRepository) *Service {
	return &Service{
		entries: entries,
		legacy:  legacy,
		now:     time.Now,
	}
}

// Stats はオーナーのタグ統計をタグ名の昇順で返す。
func (s *Service) Stats(ctx context.Context, ownerID string) ([]model.TagStat, error) {
	counts, err := s.entries.CountTagsByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("タグ使用回数の取得に失敗しました: %w", err)
	}
	legacy, err := s.legacy.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("レガシータグの取得に失敗しました: %w", err)
	}
	return aggregate.BuildTagStats(counts, legacy), nil
}

// MarkLegacy はタグをレガシーに指定する。指定済みの場合も成功する。
func (s *Service) MarkLegacy(ctx context.Context, ownerID, tagName string) error {
	name, err := s.normalize(tagName)
	if err != nil {
		return err
	}
	if err := s.legacy.Mark(ctx, &model.LegacyTag{
		OwnerID:   ownerID,
		TagName:   name,
		CreatedAt: s.now().UTC(),
	}); err != nil {
		return fmt.Errorf("レガシータグの登録に失敗しました: %w", err)
	}
	return nil
}

// UnmarkLegacy はレガシー指定を解除する。未指定の場合も成功する。
func (s *Service) UnmarkLegacy(ctx context.Context, ownerID, tagName string) error {
	name, err := s.normalize(tagName)
	if err != nil {
		return err
	}
	if err := s.legacy.Unmark(ctx, ownerID, name); err != nil {
		return fmt.Errorf("レガシータグの解除に失敗しました: %w", err)
	}
	return nil
}

func (s *Service) normalize(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", model.NewInvalidTagsError("タグ名が空です")
	}
	if utf8.RuneCountInString(name) > maxTagLength {
		return "", model.NewInvalidTagsError(fmt.Sprintf("%d文字を超えています", maxTagLength))
	}
	return name, nil
}
