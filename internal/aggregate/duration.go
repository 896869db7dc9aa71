// Package aggregate はタイムログエントリの集計（日別グルーピング、日跨ぎ分割、合計、タグ統計）を提供する。
// すべての関数は入力だけから結果を決定し、内部状態やタイマーを持たない。
package aggregate

import (
	"time"

	"github.com/hitoshi/timelog/internal/model"
)

// Duration はエントリの経過時間を返す。計測中の場合はnowまでの時間。
// nowが開始時刻より前の場合も負にはならない。
func Duration(e *model.TimeLogEntry, now time.Time) time.Duration {
	d := EffectiveEnd(e, now).Sub(e.StartTime)
	if d < 0 {
		return 0
	}
	return d
}

// EffectiveEnd は集計に使う終了時刻を返す。計測中の場合はnow。
func EffectiveEnd(e *model.TimeLogEntry, now time.Time) time.Time {
	if e.EndTime != nil {
		return *e.EndTime
	}
	return now
}

// RangeTotal は開始時刻が[from, to)に含まれるエントリの経過時間の合計を返す。
// 日跨ぎ分割前のエントリ単位で合計するため、断片の二重計上は起きない。
func RangeTotal(entries []*model.TimeLogEntry, from, to, now time.Time) time.Duration {
	var total time.Duration
	for _, e := range entries {
		if e.StartTime.Before(from) || !e.StartTime.Before(to) {
			continue
		}
		total += Duration(e, now)
	}
	return total
}

// StartOfDay はtと同じ日の00:00を返す。
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// NextMidnight はtの翌日の00:00を返す。夏時間の切り替え日でも暦日の境界になる。
func NextMidnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, t.Location())
}

// DateKey はtの暦日を "2006-01-02" 形式で返す。
func DateKey(t time.Time) string {
	return t.Format(time.DateOnly)
}
