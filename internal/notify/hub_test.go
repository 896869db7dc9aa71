package notify

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/timelog/internal/metrics"
)

// countingMetrics はイベント関連の記録回数を数えるMetricsCollector。
type countingMetrics struct {
	metrics.Nop
	published   atomic.Int64
	dropped     atomic.Int64
	webhookFail atomic.Int64
	subscribers atomic.Int64
}

func (m *countingMetrics) RecordEventPublished() { m.published.Add(1) }
func (m *countingMetrics) RecordEventDropped()   { m.dropped.Add(1) }
func (m *countingMetrics) RecordWebhookFailure() { m.webhookFail.Add(1) }
func (m *countingMetrics) SetSubscribers(n int)  { m.subscribers.Store(int64(n)) }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func receive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		if !ok {
			t.Fatal("subscription closed unexpectedly")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestHub_PublishDeliversToAllSubscribersOfOwner(t *testing.T) {
	m := &countingMetrics{}
	hub := NewHub(4, discardLogger(), m)

	a1 := hub.Subscribe("owner-a")
	a2 := hub.Subscribe("owner-a")
	b := hub.Subscribe("owner-b")
	defer a1.Close()
	defer a2.Close()
	defer b.Close()

	hub.Publish(Event{Type: EventEntryStarted, OwnerID: "owner-a", EntryID: "e1", Title: "work"})

	for _, sub := range []*Subscription{a1, a2} {
		ev := receive(t, sub)
		if ev.Type != EventEntryStarted || ev.EntryID != "e1" || ev.Title != "work" {
			t.Errorf("unexpected event: %+v", ev)
		}
	}

	select {
	case ev := <-b.Events():
		t.Errorf("owner-b received another owner's event: %+v", ev)
	default:
	}

	if got := m.published.Load(); got != 2 {
		t.Errorf("published = %d, want 2", got)
	}
}

func TestHub_PublishWithoutSubscribersIsNoop(t *testing.T) {
	hub := NewHub(1, discardLogger(), nil)
	hub.Publish(Event{Type: EventEntryStopped, OwnerID: "nobody"})

	if n := hub.SubscriberCount("nobody"); n != 0 {
		t.Errorf("SubscriberCount = %d, want 0", n)
	}
}

// TestHub_SlowSubscriberIsDropped はバッファが満杯の購読者が切断され、
// 他の購読者と呼び出し元がブロックされないことを検証する。
func TestHub_SlowSubscriberIsDropped(t *testing.T) {
	m := &countingMetrics{}
	hub := NewHub(1, discardLogger(), m)

	slow := hub.Subscribe("owner-a")
	fast := hub.Subscribe("owner-a")
	defer fast.Close()

	done := make(chan struct{})
	go func() {
		hub.Publish(Event{Type: EventEntryStarted, OwnerID: "owner-a", EntryID: "e1"})
		receive(t, fast)
		hub.Publish(Event{Type: EventEntryStopped, OwnerID: "owner-a", EntryID: "e1"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on slow subscriber")
	}

	if ev := receive(t, slow); ev.Type != EventEntryStarted {
		t.Errorf("slow subscriber first event = %+v", ev)
	}
	if _, ok := <-slow.Events(); ok {
		t.Error("slow subscriber channel should be closed after drop")
	}

	if n := hub.SubscriberCount("owner-a"); n != 1 {
		t.Errorf("SubscriberCount = %d, want 1", n)
	}
	if got := m.dropped.Load(); got != 1 {
		t.Errorf("dropped = %d, want 1", got)
	}
	if got := m.subscribers.Load(); got != 1 {
		t.Errorf("subscribers gauge = %d, want 1", got)
	}

	// 切断後のCloseは安全
	slow.Close()
}

func TestHub_CloseUnsubscribes(t *testing.T) {
	hub := NewHub(1, discardLogger(), nil)
	sub := hub.Subscribe("owner-a")

	sub.Close()
	sub.Close()

	if n := hub.SubscriberCount("owner-a"); n != 0 {
		t.Errorf("SubscriberCount = %d, want 0", n)
	}
	if _, ok := <-sub.Events(); ok {
		t.Error("events channel should be closed")
	}

	// 購読解除後のPublishはパニックしない
	hub.Publish(Event{Type: EventEntryStarted, OwnerID: "owner-a"})
}

func TestHub_ConcurrentPublishAndClose(t *testing.T) {
	hub := NewHub(2, discardLogger(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		sub := hub.Subscribe("owner-a")
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				hub.Publish(Event{Type: EventEntryStarted, OwnerID: "owner-a"})
			}
		}()
		go func() {
			defer wg.Done()
			sub.Close()
		}()
	}
	wg.Wait()

	if n := hub.SubscriberCount("owner-a"); n != 0 {
		t.Errorf("SubscriberCount = %d, want 0", n)
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func TestFanout_PublishesToAll(t *testing.T) {
	p1, p2 := &recordingPublisher{}, &recordingPublisher{}
	f := Fanout{p1, NopPublisher{}, p2}

	f.Publish(Event{Type: EventEntryStopped, OwnerID: "owner-a", EntryID: "e9"})

	for i, p := range []*recordingPublisher{p1, p2} {
		if len(p.events) != 1 || p.events[0].EntryID != "e9" {
			t.Errorf("publisher %d events = %+v", i, p.events)
		}
	}
}
