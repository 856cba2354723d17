package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/exp/slog"

	"keapsync/internal/domain/ledger"
)

const (
	Path         = "/api/v1/ledger/feed"
	writeTimeout = 5 * time.Second
	bufferSize   = 64
)

// Subscriber источник новых записей журнала
type Subscriber interface {
	Subscribe(fn func(ledger.Entry)) func()
}

// Message кадр ленты
type Message struct {
	Type      string        `json:"type"`
	Entry     *ledger.Entry `json:"entry,omitempty"`
	Dropped   int64         `json:"dropped,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

const (
	MessageHello = "hello"
	MessageEntry = "entry"
)

// Handler транслирует новые записи журнала в websocket.
// Медленный клиент не тормозит синхронизацию: записи сверх буфера отбрасываются и учитываются в Dropped.
type Handler struct {
	source  Subscriber
	log     *slog.Logger
	clients atomic.Int64
}

func NewHandler(source Subscriber, log *slog.Logger) *Handler {
	return &Handler{
		source: source,
		log:    log.With("component", "ledger_feed"),
	}
}

// Clients возвращает число подключенных клиентов
func (h *Handler) Clients() int64 {
	return h.clients.Load()
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.CloseNow()

	entries := make(chan ledger.Entry, bufferSize)
	var dropped atomic.Int64
	unsubscribe := h.source.Subscribe(func(e ledger.Entry) {
		select {
		case entries <- e:
		default:
			dropped.Add(1)
		}
	})
	defer unsubscribe()

	n := h.clients.Add(1)
	defer h.clients.Add(-1)
	h.log.Info("Feed client connected", "clients", n, "remote_addr", r.RemoteAddr)

	// входящие кадры не нужны; CloseRead отменяет ctx при отключении клиента
	ctx := conn.CloseRead(r.Context())

	if err := h.send(ctx, conn, Message{Type: MessageHello, Timestamp: time.Now().UTC()}); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			h.log.Info("Feed client disconnected", "remote_addr", r.RemoteAddr)
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case e := <-entries:
			msg := Message{Type: MessageEntry, Entry: &e, Dropped: dropped.Swap(0), Timestamp: time.Now().UTC()}
			if err := h.send(ctx, conn, msg); err != nil {
				h.log.Warn("Failed to send feed message", "error", err)
				return
			}
		}
	}
}

func (h *Handler) send(ctx context.Context, conn *websocket.Conn, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}
