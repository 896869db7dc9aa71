package aggregate

import (
	"strings"
	"time"

	"github.com/hitoshi/timelog/internal/model"
)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseWeekday は "monday" から "sunday" までの曜日名を解釈する。大文字小文字は区別しない。
func ParseWeekday(s string) (time.Weekday, error) {
	wd, ok := weekdays[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, model.NewInvalidWeekStartError(s)
	}
	return wd, nil
}

// WeekRange はrefを含む週の範囲[start, end)をloc上で返す。
// startはweekStartの曜日の00:00、endはその7日後の00:00。
func WeekRange(ref time.Time, loc *time.Location, weekStart time.Weekday) (time.Time, time.Time) {
	r := ref.In(loc)
	offset := (int(r.Weekday()) - int(weekStart) + 7) % 7
	start := time.Date(r.Year(), r.Month(), r.Day()-offset, 0, 0, 0, 0, loc)
	end := time.Date(start.Year(), start.Month(), start.Day()+7, 0, 0, 0, 0, loc)
	return start, end
}
