// Package notify はエントリ状態の変更をオーナーごとの購読者へ配信する。
// 配信は最大1回で、永続化や再送は行わない。切断中に発生したイベントは
// クライアントが再接続時に再取得して整合させる。
package notify

import "time"

// EventType は変更イベントの種類。
type EventType string

const (
	// EventEntryStarted はエントリの開始（continueを含む）。
	EventEntryStarted EventType = "ENTRY_STARTED"
	// EventEntryStopped はエントリの停止。
	EventEntryStopped EventType = "ENTRY_STOPPED"
)

// Event はオーナーに配信する変更イベント。
type Event struct {
	Type       EventType
	OwnerID    string
	EntryID    string
	Title      string
	OccurredAt time.Time
}

// Publisher はイベントの配信先。
// Publishは呼び出し元をブロックせず、配信失敗を呼び出し元に返さない。
type Publisher interface {
	Publish(ev Event)
}

// Fanout は複数のPublisherへ同じイベントを配信する。
type Fanout []Publisher

// Publish はすべてのPublisherへイベントを渡す。
func (f Fanout) Publish(ev Event) {
	for _, p := range f {
		p.Publish(ev)
	}
}

// NopPublisher は何もしないPublisher。
type NopPublisher struct{}

// Publish は何もしない。
func (NopPublisher) Publish(Event) {}
