package notify

import (
	"log/slog"
	"sync"

	"github.com/hitoshi/timelog/internal/metrics"
)

// Hub はオーナーごとの購読者を管理するインメモリのPublisher。
// 購読者ごとに固定長のバッファを持ち、満杯の購読者にはイベントを破棄したうえで購読を打ち切る。
type Hub struct {
	mu         sync.RWMutex
	subs       map[string]map[*Subscription]struct{}
	count      int
	bufferSize int
	logger     *slog.Logger
	metrics    metrics.MetricsCollector
}

// NewHub はHubを生成する。bufferSizeは購読者ごとのイベントバッファ長。
func NewHub(bufferSize int, logger *slog.Logger, m metrics.MetricsCollector) *Hub {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &Hub{
		subs:       make(map[string]map[*Subscription]struct{}),
		bufferSize: bufferSize,
		logger:     logger,
		metrics:    m,
	}
}

// Subscription はひとつの購読（接続中のクライアント1つ）。
type Subscription struct {
	hub     *Hub
	ownerID string
	events  chan Event
	once    sync.Once
}

// Events はイベントを受け取るチャネルを返す。
// 購読が終了するとクローズされる。
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Close は購読を終了する。複数回呼んでもよい。
func (s *Subscription) Close() {
	s.hub.remove(s, "closed")
}

// Subscribe はオーナーの購読を登録する。
func (h *Hub) Subscribe(ownerID string) *Subscription {
	sub := &Subscription{
		hub:     h,
		ownerID: ownerID,
		events:  make(chan Event, h.bufferSize),
	}

	h.mu.Lock()
	owned, ok := h.subs[ownerID]
	if !ok {
		owned = make(map[*Subscription]struct{})
		h.subs[ownerID] = owned
	}
	owned[sub] = struct{}{}
	h.count++
	n := h.count
	h.mu.Unlock()

	h.metrics.SetSubscribers(n)
	h.logger.Debug("購読者を追加しました", slog.String("owner_id", ownerID), slog.Int("subscribers", n))
	return sub
}

// Publish はオーナーの全購読者へイベントを送る。購読者がいない場合は何もしない。
// 送信はノンブロッキングで、バッファが満杯の購読者は切断する。
func (h *Hub) Publish(ev Event) {
	var slow []*Subscription

	h.mu.RLock()
	for sub := range h.subs[ev.OwnerID] {
		select {
		case sub.events <- ev:
			h.metrics.RecordEventPublished()
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range slow {
		h.metrics.RecordEventDropped()
		h.logger.Warn("バッファが満杯のため購読者を切断します",
			slog.String("owner_id", ev.OwnerID),
			slog.String("event_type", string(ev.Type)),
			slog.String("entry_id", ev.EntryID),
		)
		h.remove(sub, "buffer_full")
	}
}

// SubscriberCount はオーナーの購読者数を返す。
func (h *Hub) SubscriberCount(ownerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[ownerID])
}

// remove は購読を登録解除してチャネルをクローズする。
// チャネルのクローズは書き込みロック下で行うため、Publish中の送信と競合しない。
func (h *Hub) remove(sub *Subscription, reason string) {
	sub.once.Do(func() {
		h.mu.Lock()
		owned := h.subs[sub.ownerID]
		delete(owned, sub)
		if len(owned) == 0 {
			delete(h.subs, sub.ownerID)
		}
		h.count--
		n := h.count
		close(sub.events)
		h.mu.Unlock()

		h.metrics.SetSubscribers(n)
		h.logger.Debug("購読者を削除しました",
			slog.String("owner_id", sub.ownerID),
			slog.String("reason", reason),
			slog.Int("subscribers", n),
		)
	})
}

// compile-time interface check
var _ Publisher = (*Hub)(nil)
