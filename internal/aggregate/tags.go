package aggregate

import (
	"slices"
	"strings"

	"github.com/hitoshi/timelog/internal/model"
)

// BuildTagStats はタグ使用回数とオーナーのレガシータグからタグ統計を作る。
// 結果はタグ名の昇順。使用回数0のレガシータグは含めない。
func BuildTagStats(counts map[string]int, legacy []*model.LegacyTag) []model.TagStat {
	legacySet := make(map[string]struct{}, len(legacy))
	for _, l := range legacy {
		legacySet[l.TagName] = struct{}{}
	}

	stats := make([]model.TagStat, 0, len(counts))
	for tag, count := range counts {
		if count <= 0 {
			continue
		}
		_, isLegacy := legacySet[tag]
		stats = append(stats, model.TagStat{Tag: tag, Count: count, IsLegacy: isLegacy})
	}
	slices.SortFunc(stats, func(a, b model.TagStat) int {
		return strings.Compare(a.Tag, b.Tag)
	})
	return stats
}
