package progress

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

func TestHubPublishFansOut(t *testing.T) {
	hub := NewHub(nil)
	a, cancelA := hub.Subscribe("acme:s1")
	b, cancelB := hub.Subscribe("acme:s1")
	other, cancelOther := hub.Subscribe("acme:s2")
	defer cancelA()
	defer cancelB()
	defer cancelOther()

	hub.Publish("acme:s1", Event{Type: TypeProgress, Tier: "poll", Attempt: 1, MaxAttempts: 3})

	assert.Equal(t, "poll", (<-a).Tier)
	assert.Equal(t, 1, (<-b).Attempt)
	select {
	case ev := <-other:
		t.Fatalf("unexpected event on other session: %+v", ev)
	default:
	}
}

func TestHubCancelRemovesSubscriber(t *testing.T) {
	hub := NewHub(nil)
	_, cancel := hub.Subscribe("acme:s1")
	require.Equal(t, 1, hub.Subscribers("acme:s1"))
	cancel()
	cancel()
	assert.Equal(t, 0, hub.Subscribers("acme:s1"))
	hub.Publish("acme:s1", Event{Type: TypeProgress})
}

func TestHubPublishDropsWhenFull(t *testing.T) {
	hub := NewHub(nil)
	ch, cancel := hub.Subscribe("k")
	defer cancel()
	for i := 0; i < subscriberBuffer+5; i++ {
		hub.Publish("k", Event{Type: TypeProgress, Attempt: i})
	}
	assert.Len(t, ch, subscriberBuffer)
}

func TestNilHubPublishIsNoop(t *testing.T) {
	var hub *Hub
	hub.Publish("k", Event{Type: TypeProgress})
}

func TestServeStreamsUntilOutcome(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, Key("acme", "s1"), "s1")
	}))
	defer srv.Close()

	conn, err := websocket.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), "", srv.URL)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	var hello Event
	require.NoError(t, websocket.JSON.Receive(conn, &hello))
	assert.Equal(t, TypeSubscribed, hello.Type)
	assert.Equal(t, "s1", hello.SessionID)

	hub.Publish(Key("acme", "s1"), Event{Type: TypeProgress, Tier: "confirm", Attempt: 2, MaxAttempts: 3})
	hub.Publish(Key("acme", "s1"), Event{Type: TypeOutcome, Outcome: "confirmed", RedirectURL: "/acme/order/success"})

	var ev Event
	require.NoError(t, websocket.JSON.Receive(conn, &ev))
	assert.Equal(t, TypeProgress, ev.Type)
	assert.Equal(t, 2, ev.Attempt)

	require.NoError(t, websocket.JSON.Receive(conn, &ev))
	assert.Equal(t, TypeOutcome, ev.Type)
	assert.Equal(t, "/acme/order/success", ev.RedirectURL)
}
