package handler

import (
	"time"

	"github.com/hitoshi/timelog/internal/aggregate"
	"github.com/hitoshi/timelog/internal/timelog"
)

// daysResponse は日別集計のレスポンス。時刻はリクエストのタイムゾーンで表す。
type daysResponse struct {
	From         time.Time     `json:"from"`
	To           time.Time     `json:"to"`
	Timezone     string        `json:"timezone"`
	TotalSeconds int64         `json:"total_seconds"`
	AsOf         time.Time     `json:"as_of"`
	Days         []dayResponse `json:"days"`
}

type dayResponse struct {
	Date         string          `json:"date"`
	Title        string          `json:"title"`
	TotalSeconds int64           `json:"total_seconds"`
	Views        []viewResponse  `json:"views"`
	Groups       []groupResponse `json:"groups"`
}

// viewResponse は日跨ぎ分割後の表示用ビュー。
type viewResponse struct {
	EntryID         string    `json:"entry_id"`
	Title           string    `json:"title"`
	Tags            []string  `json:"tags"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	Active          bool      `json:"active"`
	Fragment        bool      `json:"fragment"`
	DurationSeconds int64     `json:"duration_seconds"`
}

// groupResponse は同じタイトルとタグ集合のビューをまとめたもの。
type groupResponse struct {
	Title        string   `json:"title"`
	Tags         []string `json:"tags"`
	EntryIDs     []string `json:"entry_ids"`
	TotalSeconds int64    `json:"total_seconds"`
}

func toDaysResponse(res *timelog.DaysResult) daysResponse {
	loc := res.Location
	resp := daysResponse{
		From:         res.From.In(loc),
		To:           res.To.In(loc),
		Timezone:     loc.String(),
		TotalSeconds: seconds(res.Total),
		AsOf:         res.AsOf.In(loc),
		Days:         make([]dayResponse, 0, len(res.Days)),
	}
	for _, d := range res.Days {
		resp.Days = append(resp.Days, toDayResponse(d, loc))
	}
	return resp
}

func toDayResponse(d aggregate.DayGroup, loc *time.Location) dayResponse {
	day := dayResponse{
		Date:         d.Date,
		Title:        d.Title,
		TotalSeconds: seconds(d.Total),
		Views:        make([]viewResponse, 0, len(d.Views)),
		Groups:       make([]groupResponse, 0, len(d.Groups)),
	}
	for _, v := range d.Views {
		day.Views = append(day.Views, viewResponse{
			EntryID:         v.EntryID,
			Title:           v.Title,
			Tags:            nonNil(v.Tags),
			Start:           v.Start.In(loc),
			End:             v.End.In(loc),
			Active:          v.Active,
			Fragment:        v.Fragment,
			DurationSeconds: seconds(v.Duration()),
		})
	}
	for _, g := range d.Groups {
		day.Groups = append(day.Groups, groupResponse{
			Title:        g.Title,
			Tags:         nonNil(g.Tags),
			EntryIDs:     nonNil(g.EntryIDs),
			TotalSeconds: seconds(g.Total),
		})
	}
	return day
}

func seconds(d time.Duration) int64 {
	return int64(d / time.Second)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
