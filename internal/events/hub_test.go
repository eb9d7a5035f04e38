package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tommygebru/kiekky-engagement/internal/cache"
	"github.com/tommygebru/kiekky-engagement/internal/common"
	"github.com/tommygebru/kiekky-engagement/internal/gateway"
)

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	hub := NewHub(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub, cancel
}

func newClient(hub *Hub, userID string) *Client {
	c := &Client{ID: userID + "-conn", UserID: userID, Send: make(chan []byte, 8), Hub: hub}
	hub.Register(c)
	return c
}

func receive(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case data := <-c.Send:
		var e Event
		require.NoError(t, json.Unmarshal(data, &e))
		return e
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return Event{}
	}
}

func assertNothing(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.Send:
		t.Fatalf("unexpected event %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNotifyReachesEveryConnectionOfUser(t *testing.T) {
	hub, _ := startHub(t)
	phone := newClient(hub, "u1")
	laptop := newClient(hub, "u1")
	other := newClient(hub, "u2")

	hub.Notify("u1", Notification{Level: LevelError, Message: "Not your post"})

	for _, c := range []*Client{phone, laptop} {
		e := receive(t, c)
		assert.Equal(t, EventNotification, e.Type)
		assert.Equal(t, "u1", e.UserID)
		require.NotNil(t, e.Notification)
		assert.Equal(t, "Not your post", e.Notification.Message)
	}
	assertNothing(t, other)
}

func TestQueryInvalidatedRouting(t *testing.T) {
	hub, _ := startHub(t)
	u1 := newClient(hub, "u1")
	u2 := newClient(hub, "u2")

	hub.QueryInvalidated([]cache.Key{cache.IsFollowingKey("u1", "u9")})
	e := receive(t, u1)
	assert.Equal(t, EventQueryInvalidated, e.Type)
	require.Len(t, e.Queries, 1)
	assert.Equal(t, cache.QueryIsFollowing, e.Queries[0].Operation)
	assert.Equal(t, map[string]string{"userId": "u9"}, e.Queries[0].Vars)
	assertNothing(t, u2)

	hub.QueryInvalidated([]cache.Key{cache.UserKey("u9")})
	for _, c := range []*Client{u1, u2} {
		e := receive(t, c)
		require.Len(t, e.Queries, 1)
		assert.Equal(t, cache.QueryUserByID, e.Queries[0].Operation)
	}
}

func TestOfflineCallbackAfterLastConnection(t *testing.T) {
	hub, _ := startHub(t)
	offline := make(chan string, 1)
	hub.OnOffline(func(userID string) { offline <- userID })

	first := newClient(hub, "u1")
	second := newClient(hub, "u1")
	assert.Equal(t, 1, hub.OnlineUsers())

	hub.Unregister(first)
	select {
	case <-offline:
		t.Fatal("user went offline with a connection left")
	case <-time.After(50 * time.Millisecond):
	}

	hub.Unregister(second)
	select {
	case userID := <-offline:
		assert.Equal(t, "u1", userID)
	case <-time.After(time.Second):
		t.Fatal("offline callback not called")
	}
	assert.Equal(t, 0, hub.OnlineUsers())

	_, open := <-second.Send
	assert.False(t, open)
}

func TestStopClosesClients(t *testing.T) {
	hub, cancel := startHub(t)
	c := newClient(hub, "u1")

	cancel()
	select {
	case _, open := <-c.Send:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("send channel not closed")
	}

	late := &Client{UserID: "u2", Send: make(chan []byte, 1), Hub: hub}
	hub.Register(late)
	_, open := <-late.Send
	assert.False(t, open)
	hub.Unregister(late)
}

func TestErrorNotification(t *testing.T) {
	authErr := &gateway.Error{Kind: gateway.KindAuthorization, Op: "toggleLikePost", Message: "You can't like this post"}
	n := ErrorNotification(authErr, "post:p1")
	assert.Equal(t, LevelError, n.Level)
	assert.Equal(t, "authorization", n.Kind)
	assert.Equal(t, "You can't like this post", n.Message)
	assert.False(t, n.Retryable)

	n = ErrorNotification(context.DeadlineExceeded, "post:p1")
	assert.Equal(t, "network", n.Kind)
	assert.True(t, n.Retryable)
	assert.NotContains(t, n.Message, "deadline")

	n = ErrorNotification(errors.New("boom"), "")
	assert.Equal(t, "server", n.Kind)
}

func TestWebSocketDelivery(t *testing.T) {
	hub, _ := startHub(t)

	fakeAuth := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := common.SetUserContext(r.Context(), r.URL.Query().Get("token"), "", "")
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
	router := mux.NewRouter()
	RegisterRoutes(router, NewHandler(hub, 4, nil, zap.NewNop()), fakeAuth)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=u1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.OnlineUsers() == 1 }, time.Second, 10*time.Millisecond)

	hub.Notify("u1", Notification{Level: LevelInfo, Message: "hello"})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	var e Event
	require.NoError(t, conn.ReadJSON(&e))
	assert.Equal(t, EventNotification, e.Type)
	assert.Equal(t, "hello", e.Notification.Message)
}
