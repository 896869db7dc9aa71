package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/hitoshi/timelog/internal/middleware"
	"github.com/hitoshi/timelog/internal/notify"
)

const (
	// frameKeepAlive はペイロードを持たない生存確認フレームの種類。
	frameKeepAlive = "KEEP_ALIVE"

	defaultKeepAliveInterval = 30 * time.Second
	frameWriteTimeout        = 10 * time.Second
)

var errOriginNotAllowed = errors.New("origin not allowed")

// EventSubscriber はオーナーごとのイベント購読を提供する。*notify.Hubが満たす。
type EventSubscriber interface {
	Subscribe(ownerID string) *notify.Subscription
}

// eventFrame はWebSocketで送信するフレーム。
type eventFrame struct {
	Type    string `json:"type"`
	EntryID string `json:"entry_id,omitempty"`
	Title   string `json:"title,omitempty"`
}

// EventsHandler はエントリ変更イベントをWebSocketで配信するハンドラー。
// 配信は最大1回で、切断中のイベントは再送しない。
type EventsHandler struct {
	subscriber    EventSubscriber
	allowedOrigin string
	keepAlive     time.Duration
	logger        *slog.Logger

	closing   chan struct{}
	closeOnce sync.Once
}

// NewEventsHandler はEventsHandlerを生成する。
// keepAliveが0以下の場合は30秒間隔で生存確認フレームを送る。
func NewEventsHandler(subscriber EventSubscriber, allowedOrigin string, keepAlive time.Duration, logger *slog.Logger) *EventsHandler {
	if keepAlive <= 0 {
		keepAlive = defaultKeepAliveInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EventsHandler{
		subscriber:    subscriber,
		allowedOrigin: allowedOrigin,
		keepAlive:     keepAlive,
		logger:        logger,
		closing:       make(chan struct{}),
	}
}

// Close は接続中のすべてのストリームを終了させる。
// http.Server.Shutdownはハイジャック済みの接続を閉じないため、シャットダウン時に呼ぶ。
func (h *EventsHandler) Close() {
	h.closeOnce.Do(func() { close(h.closing) })
}

// ServeHTTP はWebSocketへのアップグレードを行い、変更イベントを配信する。
// GET /api/time-log-entries/events
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}

	srv := websocket.Server{
		Handshake: func(_ *websocket.Config, req *http.Request) error {
			if !middleware.OriginAllowed(req, h.allowedOrigin) {
				h.logger.Warn("許可されていないオリジンからの接続を拒否しました",
					slog.String("origin", req.Header.Get("Origin")),
				)
				return errOriginNotAllowed
			}
			return nil
		},
		Handler: func(ws *websocket.Conn) {
			h.stream(ws, ownerID)
		},
	}
	srv.ServeHTTP(w, r)
}

func (h *EventsHandler) stream(ws *websocket.Conn, ownerID string) {
	defer ws.Close()

	// http.ServerのReadTimeoutはハイジャック後の接続にも残るため解除する
	if err := ws.SetReadDeadline(time.Time{}); err != nil {
		h.logger.Warn("読み込み期限の解除に失敗しました", slog.String("error", err.Error()))
	}

	sub := h.subscriber.Subscribe(ownerID)
	defer sub.Close()

	h.logger.Debug("変更イベントの購読を開始しました", slog.String("owner_id", ownerID))

	// クライアントからの切断を検知する。受信したメッセージは読み捨てる。
	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		var msg string
		for {
			if err := websocket.Message.Receive(ws, &msg); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-disconnected:
			return
		case <-h.closing:
			return
		case ev, ok := <-sub.Events():
			if !ok {
				// 受信が追いつかず購読が打ち切られた
				h.logger.Warn("購読が打ち切られたため接続を閉じます", slog.String("owner_id", ownerID))
				return
			}
			frame := eventFrame{Type: string(ev.Type), EntryID: ev.EntryID, Title: ev.Title}
			if err := h.send(ws, frame); err != nil {
				return
			}
		case <-ticker.C:
			if err := h.send(ws, eventFrame{Type: frameKeepAlive}); err != nil {
				return
			}
		}
	}
}

func (h *EventsHandler) send(ws *websocket.Conn, frame eventFrame) error {
	if err := ws.SetWriteDeadline(time.Now().Add(frameWriteTimeout)); err != nil {
		return err
	}
	if err := websocket.JSON.Send(ws, frame); err != nil {
		h.logger.Debug("フレームの送信に失敗しました",
			slog.String("type", frame.Type),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}
