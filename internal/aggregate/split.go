package aggregate

import (
	"time"

	"github.com/hitoshi/timelog/internal/model"
)

// View はエントリの表示用ビュー。日を跨ぐエントリは暦日ごとの断片になる。
// 元のエントリは変更しない。
type View struct {
	EntryID  string
	Title    string
	Tags     []string
	Start    time.Time
	End      time.Time // 断片の終了。日を跨ぐ場合は翌日00:00
	Active   bool      // 元のエントリが計測中
	Fragment bool      // 日跨ぎで切り出された断片
}

// Duration はビューの長さを返す。
func (v View) Duration() time.Duration {
	return v.End.Sub(v.Start)
}

// SplitAtMidnight はエントリをloc上の暦日ごとのビューに分割する。
// 同じ日に収まるエントリは1件のビューになる。
// 分割されたビューの長さの合計は Duration(e, now) と一致する。
func SplitAtMidnight(e *model.TimeLogEntry, now time.Time, loc *time.Location) []View {
	start := e.StartTime.In(loc)
	end := EffectiveEnd(e, now).In(loc)
	if end.Before(start) {
		end = start
	}

	base := View{
		EntryID: e.ID,
		Title:   e.Title,
		Tags:    e.Tags,
		Active:  e.IsActive(),
	}

	var views []View
	for cur := start; ; {
		boundary := NextMidnight(cur)
		if !end.After(boundary) {
			v := base
			v.Start, v.End = cur, end
			v.Fragment = len(views) > 0
			views = append(views, v)
			return views
		}
		v := base
		v.Start, v.End = cur, boundary
		v.Fragment = true
		views = append(views, v)
		cur = boundary
	}
}
