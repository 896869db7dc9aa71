package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/timelog/internal/metrics"
)

// webhookPayload はWebhookで送信するJSON本文。
type webhookPayload struct {
	OwnerID    string    `json:"owner_id"`
	Type       EventType `json:"type"`
	EntryID    string    `json:"entry_id"`
	Title      string    `json:"title"`
	OccurredAt time.Time `json:"occurred_at"`
}

// WebhookDispatcher はイベントを外部URLへPOSTするPublisher。
// Publishはキューへの投入のみ行い、送信はRunのゴルーチンが順に処理する。
// キューが満杯の場合や送信に失敗した場合はログとメトリクスに記録して破棄する。
type WebhookDispatcher struct {
	url        string
	httpClient *http.Client
	queue      chan Event
	logger     *slog.Logger
	metrics    metrics.MetricsCollector
}

// NewWebhookDispatcher はWebhookDispatcherを生成する。
// httpClientにはSSRF防止機能付きのクライアントを渡すこと。
func NewWebhookDispatcher(url string, httpClient *http.Client, queueSize int, logger *slog.Logger, m metrics.MetricsCollector) *WebhookDispatcher {
	if queueSize <= 0 {
		queueSize = 1
	}
	if m == nil {
		m = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookDispatcher{
		url:        url,
		httpClient: httpClient,
		queue:      make(chan Event, queueSize),
		logger:     logger,
		metrics:    m,
	}
}

// Publish はイベントを送信キューに入れる。ブロックしない。
func (d *WebhookDispatcher) Publish(ev Event) {
	select {
	case d.queue <- ev:
	default:
		d.metrics.RecordWebhookFailure()
		d.logger.Warn("Webhook送信キューが満杯のためイベントを破棄しました",
			slog.String("owner_id", ev.OwnerID),
			slog.String("event_type", string(ev.Type)),
		)
	}
}

// Run はctxがキャンセルされるまでキューのイベントを送信する。
func (d *WebhookDispatcher) Run(ctx context.Context) {
	d.logger.Info("Webhook送信を開始しました")
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Webhook送信を停止しました")
			return
		case ev := <-d.queue:
			if err := d.send(ctx, ev); err != nil {
				d.metrics.RecordWebhookFailure()
				d.logger.Error("Webhook送信に失敗しました",
					slog.String("owner_id", ev.OwnerID),
					slog.String("event_type", string(ev.Type)),
					slog.String("entry_id", ev.EntryID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (d *WebhookDispatcher) send(ctx context.Context, ev Event) error {
	body, err := json.Marshal(webhookPayload{
		OwnerID:    ev.OwnerID,
		Type:       ev.Type,
		EntryID:    ev.EntryID,
		Title:      ev.Title,
		OccurredAt: ev.OccurredAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "timelog-webhook/1.0")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// compile-time interface check
var _ Publisher = (*WebhookDispatcher)(nil)
