package feed

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"keapsync/internal/domain/entity"
	"keapsync/internal/domain/ledger"
)

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) Message {
	t.Helper()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHandler_StreamsPublishedEntries(t *testing.T) {
	l := ledger.New(nil, slog.Default())
	h := NewHandler(l, slog.Default())
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	hello := readMessage(t, ctx, conn)
	assert.Equal(t, MessageHello, hello.Type)
	assert.Equal(t, int64(1), h.Clients())

	l.Publish(ledger.Entry{
		ID: 7, EntityType: entity.TypeOrder, KeapID: "5",
		Operation: ledger.OpUpdate, Status: ledger.StatusSuccess, Changes: []string{"status"},
	})

	msg := readMessage(t, ctx, conn)
	assert.Equal(t, MessageEntry, msg.Type)
	require.NotNil(t, msg.Entry)
	assert.Equal(t, "5", msg.Entry.KeapID)
	assert.Equal(t, []string{"status"}, msg.Entry.Changes)
}

func TestHandler_UnsubscribesOnDisconnect(t *testing.T) {
	l := ledger.New(nil, slog.Default())
	h := NewHandler(l, slog.Default())
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	readMessage(t, ctx, conn)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "bye"))

	assert.Eventually(t, func() bool { return h.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
	// после отписки публикация не должна блокироваться
	l.Publish(ledger.Entry{Operation: ledger.OpRun, Status: ledger.StatusSuccess})
}
