package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeController struct {
	mu    sync.Mutex
	hub   *WebSocketService
	index int
	total int
}

func (f *fakeController) NavigateTo(i int) bool {
	f.mu.Lock()
	if i < 0 || i >= f.total {
		f.mu.Unlock()
		return false
	}
	f.index = i
	f.mu.Unlock()
	f.hub.Broadcast(EventState, f.View())
	return true
}

func (f *fakeController) Next() bool     { return f.NavigateTo(f.current() + 1) }
func (f *fakeController) Previous() bool { return f.NavigateTo(f.current() - 1) }

func (f *fakeController) current() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.index
}

func (f *fakeController) View() PresentationView {
	f.mu.Lock()
	defer f.mu.Unlock()
	return PresentationView{CurrentSlideIndex: f.index, TotalSlides: f.total}
}

type wsEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func startHub(t *testing.T) (*WebSocketService, *fakeController, string) {
	t.Helper()
	hub := NewWebSocketService(zap.NewNop())
	ctrl := &fakeController{hub: hub, total: 3}
	hub.SetController(ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.ServeClient(conn)
	}))

	t.Cleanup(func() {
		cancel()
		<-hub.Done()
		server.Close()
	})
	return hub, ctrl, "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) wsEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev wsEvent
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func readView(t *testing.T, conn *websocket.Conn) PresentationView {
	t.Helper()
	ev := readEvent(t, conn)
	require.Equal(t, EventState, ev.Type)
	var view PresentationView
	require.NoError(t, json.Unmarshal(ev.Data, &view))
	return view
}

func TestWebSocketService_SendsStateOnConnect(t *testing.T) {
	_, _, url := startHub(t)
	conn := dial(t, url)

	view := readView(t, conn)
	assert.Equal(t, 0, view.CurrentSlideIndex)
	assert.Equal(t, 3, view.TotalSlides)
}

func TestWebSocketService_CommandsBroadcastToAllClients(t *testing.T) {
	hub, _, url := startHub(t)
	presenter := dial(t, url)
	audience := dial(t, url)
	readView(t, presenter)
	readView(t, audience)
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, presenter.WriteJSON(Command{Type: CommandNext}))

	assert.Equal(t, 1, readView(t, presenter).CurrentSlideIndex)
	assert.Equal(t, 1, readView(t, audience).CurrentSlideIndex)

	index := 2
	require.NoError(t, audience.WriteJSON(Command{Type: CommandNavigate, Index: &index}))
	assert.Equal(t, 2, readView(t, presenter).CurrentSlideIndex)
}

func TestWebSocketService_InvalidCommands(t *testing.T) {
	_, ctrl, url := startHub(t)
	conn := dial(t, url)
	readView(t, conn)

	index := 9
	require.NoError(t, conn.WriteJSON(Command{Type: CommandNavigate, Index: &index}))
	assert.Equal(t, EventError, readEvent(t, conn).Type)

	require.NoError(t, conn.WriteJSON(Command{Type: "jump"}))
	assert.Equal(t, EventError, readEvent(t, conn).Type)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, EventError, readEvent(t, conn).Type)

	assert.Equal(t, 0, ctrl.current())
}

func TestWebSocketService_StateCommandRepliesToSender(t *testing.T) {
	_, _, url := startHub(t)
	conn := dial(t, url)
	readView(t, conn)

	require.NoError(t, conn.WriteJSON(Command{Type: CommandState}))
	assert.Equal(t, 0, readView(t, conn).CurrentSlideIndex)
}

func TestWebSocketService_DisconnectUnregisters(t *testing.T) {
	hub, _, url := startHub(t)
	conn := dial(t, url)
	readView(t, conn)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestWebSocketService_BroadcastAfterStopDoesNotBlock(t *testing.T) {
	hub := NewWebSocketService(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	cancel()
	<-hub.Done()

	for i := 0; i < 1000; i++ {
		hub.Broadcast(EventState, i)
	}
}
