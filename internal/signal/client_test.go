package signal

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/OjDrez/tander-app-sub004/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// relay is a minimal signaling server: it acknowledges AUTH and broadcasts
// every TRANSMIT to all connected clients, the sender included.
type relay struct {
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns []*websocket.Conn
}

func (r *relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	r.mu.Lock()
	r.conns = append(r.conns, conn)
	r.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch env.Method {
		case methodAuth:
			code := 0
			resp, _ := json.Marshal(envelope{Method: methodAuthResponse, Code: &code})
			r.mu.Lock()
			_ = conn.WriteMessage(websocket.TextMessage, resp)
			r.mu.Unlock()
		case methodTransmit:
			r.mu.Lock()
			for _, c := range r.conns {
				_ = c.WriteMessage(websocket.TextMessage, data)
			}
			r.mu.Unlock()
		}
	}
}

func (r *relay) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// kick closes every server-side connection.
func (r *relay) kick() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.conns {
		c.Close()
	}
	r.conns = nil
}

func newRelay(t *testing.T) (string, *relay) {
	t.Helper()
	r := &relay{}
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), r
}

func waitConns(t *testing.T, r *relay, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return r.count() >= n }, 2*time.Second, 5*time.Millisecond)
}

func connect(t *testing.T, url, self string) *Client {
	t.Helper()
	c := NewClient(Options{URL: url, SelfID: self, PingInterval: time.Second})
	require.NoError(t, c.Connect())
	t.Cleanup(c.Close)
	return c
}

func TestSendBeforeConnectFails(t *testing.T) {
	c := NewClient(Options{URL: "ws://127.0.0.1:1/none", SelfID: "alice"})
	err := c.Send(domain.Message{RoomID: "room-1", Payload: domain.CallAccepted{AcceptedBy: "alice"}})
	assert.ErrorIs(t, err, domain.ErrSignalingDelivery)
}

func TestConnectIsIdempotent(t *testing.T) {
	url, r := newRelay(t)
	c := connect(t, url, "alice")
	require.NoError(t, c.Connect())
	waitConns(t, r, 1)
	assert.Equal(t, 1, r.count())
}

func TestMessagesReachSubscribersButNotSender(t *testing.T) {
	url, r := newRelay(t)
	alice := connect(t, url, "alice")
	bob := connect(t, url, "bob")
	waitConns(t, r, 2)

	var mu sync.Mutex
	var bobGot, bobDiag, aliceGot []domain.Message
	bob.Subscribe(domain.KindOffer, func(m domain.Message) {
		mu.Lock()
		bobGot = append(bobGot, m)
		mu.Unlock()
	})
	bob.Subscribe(domain.KindOffer, func(m domain.Message) {
		mu.Lock()
		bobDiag = append(bobDiag, m)
		mu.Unlock()
	})
	alice.Subscribe(domain.KindOffer, func(m domain.Message) {
		mu.Lock()
		aliceGot = append(aliceGot, m)
		mu.Unlock()
	})

	offer := domain.Offer{SDP: domain.SessionDescription{Type: domain.SDPTypeOffer, SDP: "v=0"}, SenderID: "alice"}
	require.NoError(t, alice.Send(domain.Message{RoomID: "room-1", TargetID: "bob", Payload: offer}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(bobGot) == 1 && len(bobDiag) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "room-1", bobGot[0].RoomID)
	assert.Equal(t, "alice", bobGot[0].SenderID)
	assert.Equal(t, offer, bobGot[0].Payload)
	assert.Empty(t, aliceGot, "own echo must be dropped")
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	url, r := newRelay(t)
	alice := connect(t, url, "alice")
	bob := connect(t, url, "bob")
	waitConns(t, r, 2)

	var mu sync.Mutex
	var ended, busy int
	unsubscribe := bob.Subscribe(domain.KindCallEnded, func(domain.Message) {
		mu.Lock()
		ended++
		mu.Unlock()
	})
	bob.Subscribe(domain.KindCallBusy, func(domain.Message) {
		mu.Lock()
		busy++
		mu.Unlock()
	})
	unsubscribe()
	unsubscribe()

	require.NoError(t, alice.Send(domain.Message{RoomID: "room-1", Payload: domain.CallEnded{EndedBy: "alice"}}))
	require.NoError(t, alice.Send(domain.Message{RoomID: "room-1", Payload: domain.CallBusy{BusyUserID: "alice"}}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return busy == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, ended)
}

func TestSendAfterCloseFails(t *testing.T) {
	url, _ := newRelay(t)
	c := connect(t, url, "alice")
	c.Close()

	err := c.Send(domain.Message{RoomID: "room-1", Payload: domain.CallEnded{EndedBy: "alice"}})
	assert.ErrorIs(t, err, domain.ErrSignalingDelivery)
	assert.ErrorIs(t, c.Connect(), domain.ErrSignalingDelivery)
}

func TestRedialsAfterConnectionDrop(t *testing.T) {
	url, r := newRelay(t)
	c := NewClient(Options{URL: url, SelfID: "alice", PingInterval: time.Second, RedialInterval: 20 * time.Millisecond})
	require.NoError(t, c.Connect())
	t.Cleanup(c.Close)
	waitConns(t, r, 1)

	r.kick()

	waitConns(t, r, 1)
	require.Eventually(t, func() bool {
		return c.Send(domain.Message{RoomID: "room-1", Payload: domain.CallBusy{BusyUserID: "alice"}}) == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNoRedialWhenDisabled(t *testing.T) {
	url, r := newRelay(t)
	c := NewClient(Options{URL: url, SelfID: "alice", PingInterval: time.Second, RedialInterval: -1})
	require.NoError(t, c.Connect())
	t.Cleanup(c.Close)
	waitConns(t, r, 1)

	r.kick()

	require.Eventually(t, func() bool {
		return c.Send(domain.Message{RoomID: "room-1", Payload: domain.CallBusy{BusyUserID: "alice"}}) != nil
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, r.count())
}
