package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestWebhookDispatcher_PostsEventJSON(t *testing.T) {
	received := make(chan map[string]any, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Errorf("invalid JSON body: %v", err)
		}
		received <- payload
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	m := &countingMetrics{}
	d := NewWebhookDispatcher(ts.URL, ts.Client(), 4, discardLogger(), m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	occurred := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	d.Publish(Event{Type: EventEntryStarted, OwnerID: "owner-a", EntryID: "e1", Title: "work", OccurredAt: occurred})

	select {
	case payload := <-received:
		want := map[string]any{
			"owner_id":    "owner-a",
			"type":        "ENTRY_STARTED",
			"entry_id":    "e1",
			"title":       "work",
			"occurred_at": "2024-01-15T09:00:00Z",
		}
		for k, v := range want {
			if payload[k] != v {
				t.Errorf("payload[%s] = %v, want %v", k, payload[k], v)
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was not called")
	}

	if got := m.webhookFail.Load(); got != 0 {
		t.Errorf("webhook failures = %d, want 0", got)
	}
}

func TestWebhookDispatcher_CountsFailures(t *testing.T) {
	calls := make(chan struct{}, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		calls <- struct{}{}
	}))
	defer ts.Close()

	m := &countingMetrics{}
	d := NewWebhookDispatcher(ts.URL, ts.Client(), 4, discardLogger(), m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Publish(Event{Type: EventEntryStopped, OwnerID: "owner-a", EntryID: "e1"})

	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was not called")
	}

	deadline := time.Now().Add(2 * time.Second)
	for m.webhookFail.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := m.webhookFail.Load(); got != 1 {
		t.Errorf("webhook failures = %d, want 1", got)
	}
}

// TestWebhookDispatcher_PublishDoesNotBlockWhenQueueFull はRunが動いていなくても
// Publishがブロックせずにイベントを破棄することを検証する。
func TestWebhookDispatcher_PublishDoesNotBlockWhenQueueFull(t *testing.T) {
	m := &countingMetrics{}
	d := NewWebhookDispatcher("https://hooks.example.com", http.DefaultClient, 1, discardLogger(), m)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			d.Publish(Event{Type: EventEntryStarted, OwnerID: "owner-a"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on full queue")
	}
	if got := m.webhookFail.Load(); got != 4 {
		t.Errorf("dropped = %d, want 4", got)
	}
}

func TestNewWebhookDispatcher_NilLoggerUsesDefault(t *testing.T) {
	d := NewWebhookDispatcher("https://hooks.example.com", http.DefaultClient, 1, nil, nil)
	if d.logger == nil {
		t.Fatal("logger should default to slog.Default()")
	}

	// キューが満杯の場合のログ出力でpanicしない
	d.Publish(Event{Type: EventEntryStarted, OwnerID: "owner-a"})
	d.Publish(Event{Type: EventEntryStarted, OwnerID: "owner-a"})
}
