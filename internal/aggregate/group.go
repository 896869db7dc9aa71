package aggregate

import (
	"slices"
	"strings"
	"time"

	"github.com/hitoshi/timelog/internal/model"
)

// 日グループの表示タイトル
const (
	TitleToday     = "Today"
	TitleYesterday = "Yesterday"
	dayTitleLayout = "Monday, Jan 2, 2006"
)

// EntryGroup は同じ日の中でタイトルとタグ集合が一致するビューをまとめたもの。
// EntryIDsはグループ編集の対象になる物理エントリのID。
type EntryGroup struct {
	Title    string
	Tags     []string
	EntryIDs []string
	Total    time.Duration
}

// DayGroup は1暦日分のビューと合計時間。
type DayGroup struct {
	Date   string // YYYY-MM-DD
	Title  string
	Views  []View // 開始時刻の降順
	Groups []EntryGroup
	Total  time.Duration
}

// GroupByDay はエントリを日跨ぎ分割したうえでloc上の暦日ごとにまとめる。
// 日グループは日付の降順、各グループ内のビューは開始時刻の降順に並ぶ。
func GroupByDay(entries []*model.TimeLogEntry, now time.Time, loc *time.Location) []DayGroup {
	buckets := make(map[string][]View)
	for _, e := range entries {
		for _, v := range SplitAtMidnight(e, now, loc) {
			key := DateKey(v.Start)
			buckets[key] = append(buckets[key], v)
		}
	}

	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	// YYYY-MM-DDは文字列順と日付順が一致する
	slices.Sort(keys)
	slices.Reverse(keys)

	days := make([]DayGroup, 0, len(keys))
	for _, key := range keys {
		views := buckets[key]
		slices.SortFunc(views, compareViews)

		day := DayGroup{
			Date:   key,
			Title:  DayTitle(views[0].Start, now, loc),
			Views:  views,
			Groups: mergeViews(views),
		}
		for _, v := range views {
			day.Total += v.Duration()
		}
		days = append(days, day)
	}
	return days
}

// DayTitle はdayの暦日をnowと比較した表示タイトルを返す。
func DayTitle(day, now time.Time, loc *time.Location) string {
	d := StartOfDay(day.In(loc))
	today := StartOfDay(now.In(loc))

	switch {
	case d.Equal(today):
		return TitleToday
	case d.Equal(time.Date(today.Year(), today.Month(), today.Day()-1, 0, 0, 0, 0, loc)):
		return TitleYesterday
	default:
		return d.Format(dayTitleLayout)
	}
}

// compareViews は開始時刻の降順、同時刻ならエントリIDの降順で比較する。
func compareViews(a, b View) int {
	if c := b.Start.Compare(a.Start); c != 0 {
		return c
	}
	return strings.Compare(b.EntryID, a.EntryID)
}

// mergeViews はタイトルとタグ集合が一致するビューをまとめる。
// グループの順序は各グループで最も新しいビューの順。
func mergeViews(views []View) []EntryGroup {
	index := make(map[string]int)
	var groups []EntryGroup
	for _, v := range views {
		key := v.Title + "\x00" + tagSetKey(v.Tags)
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, EntryGroup{Title: v.Title, Tags: v.Tags})
		}
		g := &groups[i]
		if !slices.Contains(g.EntryIDs, v.EntryID) {
			g.EntryIDs = append(g.EntryIDs, v.EntryID)
		}
		g.Total += v.Duration()
	}
	return groups
}

// tagSetKey は順序と重複を無視したタグ集合の比較キーを返す。
func tagSetKey(tags []string) string {
	sorted := slices.Clone(tags)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	return strings.Join(sorted, "\x00")
}
