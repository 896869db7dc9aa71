// Package model はドメインモデルを定義する。
package model

import "time"

// TimeLogEntry は作業時間の記録（タイムログエントリ）を表す。
// EndTimeがnilのエントリは計測中（アクティブ）であり、オーナーごとに最大1件しか存在しない。
type TimeLogEntry struct {
	ID        string
	OwnerID   string
	Title     string
	StartTime time.Time
	EndTime   *time.Time // nilの場合は計測中
	Tags      []string   // 表示順を保持する。比較・グルーピングでは順序を無視する
	Metadata  []string   // 作成時にのみ設定され、以後変更しない
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsActive はエントリが計測中かどうかを返す。
func (e *TimeLogEntry) IsActive() bool {
	return e.EndTime == nil
}

// Clone はスライスを含めてエントリを複製する。
// ストアから取得したエントリを呼び出し側で変更しても元データに影響しないようにする。
func (e *TimeLogEntry) Clone() *TimeLogEntry {
	c := *e
	if e.EndTime != nil {
		end := *e.EndTime
		c.EndTime = &end
	}
	c.Tags = append([]string(nil), e.Tags...)
	c.Metadata = append([]string(nil), e.Metadata...)
	return &c
}

// LegacyTag はユーザー単位で非推奨扱いにしたタグを表す。
type LegacyTag struct {
	OwnerID   string
	TagName   string
	CreatedAt time.Time
}

// TagStat はタグの使用回数とレガシー扱いかどうかを表す。
type TagStat struct {
	Tag      string
	Count    int
	IsLegacy bool
}
