package timelog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/timelog/internal/aggregate"
	"github.com/hitoshi/timelog/internal/model"
	"github.com/hitoshi/timelog/internal/repository"
)

// DaysQuery は日別集計の条件。空の項目はデフォルト値を使う。
// From、ToはRFC3339またはYYYY-MM-DD（タイムゾーン上の00:00）で指定する。
// 両方とも空の場合は現在時刻を含む週を対象にする。
type DaysQuery struct {
	From      string
	To        string
	Timezone  string
	WeekStart string
}

// WeekQuery は週別集計の条件。Dateが空の場合は現在時刻を含む週。
type WeekQuery struct {
	Date      string
	Timezone  string
	WeekStart string
}

// DaysResult は日別集計の結果。
type DaysResult struct {
	From     time.Time
	To       time.Time
	Location *time.Location
	Days     []aggregate.DayGroup
	Total    time.Duration // 開始時刻が[From, To)のエントリの合計
	AsOf     time.Time     // 計測中エントリの経過時間を算出した時刻
}

// QueryService はエントリの日別・週別集計を行う読み取り専用のサービス層。
// タイムゾーンと週の開始曜日はリクエストごとの明示的な引数として受け取る。
type QueryService struct {
	repo             repository.EntryRepository
	defaultLoc       *time.Location
	defaultWeekStart time.Weekday
	now              func() time.Time
}

// NewQueryService はQueryServiceを生成する。
func NewQueryService(repo repository.EntryRepository, defaultLoc *time.Location, defaultWeekStart time.Weekday) *QueryService {
	if defaultLoc == nil {
		defaultLoc = time.UTC
	}
	return &QueryService{
		repo:             repo,
		defaultLoc:       defaultLoc,
		defaultWeekStart: defaultWeekStart,
		now:              time.Now,
	}
}

// Days は期間内のエントリを日別にまとめて返す。
func (q *QueryService) Days(ctx context.Context, ownerID string, query DaysQuery) (*DaysResult, error) {
	loc, err := q.location(query.Timezone)
	if err != nil {
		return nil, err
	}
	weekStart, err := q.weekStart(query.WeekStart)
	if err != nil {
		return nil, err
	}

	now := q.now()
	from, to := aggregate.WeekRange(now, loc, weekStart)
	if query.From != "" || query.To != "" {
		if query.From == "" || query.To == "" {
			return nil, model.NewInvalidRequestError("fromとtoは両方指定してください")
		}
		if from, err = parseTimeParam("from", query.From, loc); err != nil {
			return nil, err
		}
		if to, err = parseTimeParam("to", query.To, loc); err != nil {
			return nil, err
		}
		if !from.Before(to) {
			return nil, model.NewInvalidTimeRangeError("fromはtoより前を指定してください")
		}
	}

	return q.aggregate(ctx, ownerID, from, to, loc, now)
}

// Week は基準日を含む週の日別集計と週合計を返す。
func (q *QueryService) Week(ctx context.Context, ownerID string, query WeekQuery) (*DaysResult, error) {
	loc, err := q.location(query.Timezone)
	if err != nil {
		return nil, err
	}
	weekStart, err := q.weekStart(query.WeekStart)
	if err != nil {
		return nil, err
	}

	now := q.now()
	ref := now
	if query.Date != "" {
		if ref, err = parseTimeParam("date", query.Date, loc); err != nil {
			return nil, err
		}
	}

	from, to := aggregate.WeekRange(ref, loc, weekStart)
	return q.aggregate(ctx, ownerID, from, to, loc, now)
}

func (q *QueryService) aggregate(ctx context.Context, ownerID string, from, to time.Time, loc *time.Location, now time.Time) (*DaysResult, error) {
	entries, err := q.repo.ListAllByOwnerAndRange(ctx, ownerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("集計対象エントリの取得に失敗しました: %w", err)
	}

	return &DaysResult{
		From:     from,
		To:       to,
		Location: loc,
		Days:     aggregate.GroupByDay(entries, now, loc),
		Total:    aggregate.RangeTotal(entries, from, to, now),
		AsOf:     now,
	}, nil
}

// location はIANAタイムゾーン名を解釈する。空の場合はデフォルトのタイムゾーン。
func (q *QueryService) location(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return q.defaultLoc, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, model.NewInvalidTimezoneError(tz)
	}
	return loc, nil
}

func (q *QueryService) weekStart(s string) (time.Weekday, error) {
	if strings.TrimSpace(s) == "" {
		return q.defaultWeekStart, nil
	}
	return aggregate.ParseWeekday(s)
}

// parseTimeParam はRFC3339またはYYYY-MM-DDの時刻指定を解釈する。
func parseTimeParam(name, value string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(time.DateOnly, value, loc); err == nil {
		return t, nil
	}
	return time.Time{}, model.NewInvalidRequestError(fmt.Sprintf("%sの形式が不正です: %s", name, value))
}
