package websocket

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/practice-ranking/internal/domain"
	"github.com/practice-ranking/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var march = domain.Period{Year: 2024, Month: time.March}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(h *Hub, id string) *Client {
	return &Client{id: id, hub: h, send: make(chan []byte, 8), logger: testLogger()}
}

func receive(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case data := <-c.send:
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
	return Message{}
}

func TestHubDeliversToPeriodSubscribers(t *testing.T) {
	hub := NewHub(testLogger())
	go hub.Run()
	defer hub.Stop()

	subscriber := newTestClient(hub, "sub")
	bystander := newTestClient(hub, "other")
	hub.Register(subscriber)
	hub.Register(bystander)
	hub.Subscribe(subscriber, march.ID())
	hub.Subscribe(bystander, march.Next().ID())

	require.Eventually(t, func() bool {
		return hub.GetSubscriberCount(march.ID()) == 1 && hub.GetSubscriberCount(march.Next().ID()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, hub.GetTotalConnections())

	hub.BroadcastEntry(march, domain.RankingEntry{UserID: "u1", ElapsedSeconds: 42})
	msg := receive(t, subscriber)
	assert.Equal(t, MessageTypeRankingUpdate, msg.Type)
	assert.Equal(t, "2024-03", msg.Period)

	hub.BroadcastGrant(march, service.GrantResult{Period: "2024-03", Granted: 12})
	msg = receive(t, subscriber)
	assert.Equal(t, MessageTypeBadgesGranted, msg.Type)

	assert.Len(t, bystander.send, 0)
}

func TestHubUnregisterDropsSubscriptions(t *testing.T) {
	hub := NewHub(testLogger())
	go hub.Run()
	defer hub.Stop()

	client := newTestClient(hub, "c")
	hub.Register(client)
	hub.Subscribe(client, march.ID())
	require.Eventually(t, func() bool { return hub.GetSubscriberCount(march.ID()) == 1 }, time.Second, 5*time.Millisecond)

	hub.Unregister(client)
	require.Eventually(t, func() bool { return hub.GetTotalConnections() == 0 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, hub.GetSubscriberCount(march.ID()))
}

func TestClientHandleMessage(t *testing.T) {
	hub := NewHub(testLogger())
	client := newTestClient(hub, "c")

	client.handleMessage(&ClientMessage{Type: MessageTypeSubscribe, Period: "March"})
	assert.Equal(t, MessageTypeError, receive(t, client).Type)

	client.handleMessage(&ClientMessage{Type: MessageTypeSubscribe, Period: "2024-03"})
	ack := receive(t, client)
	assert.Equal(t, "subscribed", ack.Type)
	assert.Equal(t, "2024-03", ack.Period)

	req := <-hub.subscribe
	assert.Equal(t, "2024-03", req.period)

	client.handleMessage(&ClientMessage{Type: MessageTypePing})
	assert.Equal(t, MessageTypePong, receive(t, client).Type)
}
