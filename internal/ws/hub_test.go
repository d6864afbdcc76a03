package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"presence-service/internal/mocks"
	"presence-service/internal/models"
)

type recorderStub struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorderStub) Online(userID string)    { r.add("online:" + userID) }
func (r *recorderStub) Offline(userID string)   { r.add("offline:" + userID) }
func (r *recorderStub) Heartbeat(userID string) { r.add("heartbeat:" + userID) }

func (r *recorderStub) add(call string) {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
}

func (r *recorderStub) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func newTestHub(store *mocks.MessageStoreMock, rec *recorderStub) *Hub {
	var recorder PresenceRecorder
	if rec != nil {
		recorder = rec
	}
	return NewHub(NewRegistry(), store, recorder, Options{MaxMessageLength: 20, SendBuffer: 8})
}

func connectFake(h *Hub, userID, connID string, buffer int) *Client {
	c := newClient(h, nil, ConnInfo{UserID: userID, ConnID: connID, ConnectedAt: time.Now()}, buffer)
	h.Connect(c)
	return c
}

func encode(t *testing.T, name string, data any) []byte {
	t.Helper()
	raw, err := models.NewEvent(name, data)
	require.NoError(t, err)
	return raw
}

func nextEvent(t *testing.T, c *Client) models.Event {
	t.Helper()
	select {
	case raw := <-c.send:
		var ev models.Event
		require.NoError(t, json.Unmarshal(raw, &ev))
		return ev
	case <-time.After(time.Second):
		t.Fatalf("no event for %s", c.info.UserID)
	}
	return models.Event{}
}

func assertNoEvent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case raw := <-c.send:
		t.Fatalf("unexpected event for %s: %s", c.info.UserID, raw)
	default:
	}
}

func isClosed(c *Client) bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func TestSendMessageRecipientOffline(t *testing.T) {
	store := new(mocks.MessageStoreMock)
	hub := newTestHub(store, nil)
	alice := connectFake(hub, "alice", "a1", 8)

	stored := models.Message{ID: "m1", From: "alice", To: "bob", Content: "hello", Status: models.StatusSent, Timestamp: time.Now().UTC()}
	store.On("CreateMessage", mock.Anything, models.NewMessage{From: "alice", To: "bob", Content: "hello"}).Return(stored, nil).Once()

	hub.HandleEvent(context.Background(), alice, encode(t, models.EventSendMessage, models.SendMessagePayload{From: "alice", To: "bob", Content: "hello"}))

	store.AssertExpectations(t)
	assertNoEvent(t, alice)
	assert.False(t, hub.IsOnline("bob"))
}

func TestSendMessageRecipientOnline(t *testing.T) {
	store := new(mocks.MessageStoreMock)
	hub := newTestHub(store, nil)
	alice := connectFake(hub, "alice", "a1", 8)
	bob := connectFake(hub, "bob", "b1", 8)

	stored := models.Message{ID: "m1", From: "alice", To: "bob", Content: "hi", Status: models.StatusSent, ClientMessageID: "abc123", Timestamp: time.Now().UTC()}
	store.On("CreateMessage", mock.Anything, models.NewMessage{From: "alice", To: "bob", Content: "hi", ClientMessageID: "abc123"}).Return(stored, nil).Once()

	hub.HandleEvent(context.Background(), alice, encode(t, models.EventSendMessage, models.SendMessagePayload{From: "alice", To: "bob", Content: "hi", ClientMessageID: "abc123"}))

	ev := nextEvent(t, bob)
	assert.Equal(t, models.EventReceiveMessage, ev.Event)
	var msg models.Message
	require.NoError(t, json.Unmarshal(ev.Data, &msg))
	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, "hi", msg.Content)
	assert.Equal(t, "abc123", msg.ClientMessageID)
	assert.Equal(t, models.StatusSent, msg.Status)
	assertNoEvent(t, alice)
}

func TestSendMessagePersistFailureIsNotForwarded(t *testing.T) {
	store := new(mocks.MessageStoreMock)
	hub := newTestHub(store, nil)
	alice := connectFake(hub, "alice", "a1", 8)
	bob := connectFake(hub, "bob", "b1", 8)

	store.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("db down")).Once()

	hub.HandleEvent(context.Background(), alice, encode(t, models.EventSendMessage, models.SendMessagePayload{From: "alice", To: "bob", Content: "hi", ClientMessageID: "c-1"}))

	assertNoEvent(t, bob)
	ev := nextEvent(t, alice)
	assert.Equal(t, models.EventMessageError, ev.Event)
	var payload models.ErrorPayload
	require.NoError(t, json.Unmarshal(ev.Data, &payload))
	assert.Equal(t, models.ReasonPersistFailed, payload.Reason)
	assert.Equal(t, "c-1", payload.ClientMessageID)
}

func TestSendMessageValidation(t *testing.T) {
	store := new(mocks.MessageStoreMock)
	hub := newTestHub(store, nil)

	cases := []struct {
		name    string
		sender  string
		payload models.SendMessagePayload
		want    error
	}{
		{"missing to", "alice", models.SendMessagePayload{From: "alice", Content: "x"}, ErrInvalidMessage},
		{"blank content", "alice", models.SendMessagePayload{From: "alice", To: "bob", Content: "   "}, ErrInvalidMessage},
		{"too long", "alice", models.SendMessagePayload{From: "alice", To: "bob", Content: "this content is far too long"}, ErrInvalidMessage},
		{"spoofed sender", "alice", models.SendMessagePayload{From: "mallory", To: "bob", Content: "x"}, ErrSenderMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := hub.SendMessage(context.Background(), tc.sender, tc.payload)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	store.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestHandleEventRejectsSenderMismatch(t *testing.T) {
	store := new(mocks.MessageStoreMock)
	hub := newTestHub(store, nil)
	alice := connectFake(hub, "alice", "a1", 8)

	hub.HandleEvent(context.Background(), alice, encode(t, models.EventSendMessage, models.SendMessagePayload{From: "bob", To: "carol", Content: "x", ClientMessageID: "c-9"}))

	ev := nextEvent(t, alice)
	var payload models.ErrorPayload
	require.NoError(t, json.Unmarshal(ev.Data, &payload))
	assert.Equal(t, models.ReasonSenderMismatch, payload.Reason)
	assert.Equal(t, "c-9", payload.ClientMessageID)
	store.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestHandleEventMalformedAndUnknown(t *testing.T) {
	hub := newTestHub(new(mocks.MessageStoreMock), nil)
	alice := connectFake(hub, "alice", "a1", 8)

	hub.HandleEvent(context.Background(), alice, []byte("{not json"))
	ev := nextEvent(t, alice)
	var payload models.ErrorPayload
	require.NoError(t, json.Unmarshal(ev.Data, &payload))
	assert.Equal(t, models.ReasonInvalidPayload, payload.Reason)

	hub.HandleEvent(context.Background(), alice, encode(t, "dance", map[string]string{}))
	ev = nextEvent(t, alice)
	require.NoError(t, json.Unmarshal(ev.Data, &payload))
	assert.Equal(t, models.ReasonUnknownEvent, payload.Reason)
	assert.Equal(t, "dance", payload.Event)
}

func TestTypingForwardedToOnlinePeer(t *testing.T) {
	hub := newTestHub(new(mocks.MessageStoreMock), nil)
	alice := connectFake(hub, "alice", "a1", 8)
	bob := connectFake(hub, "bob", "b1", 8)

	hub.HandleEvent(context.Background(), alice, encode(t, models.EventTypingStart, models.TypingPayload{From: "alice", To: "bob"}))
	ev := nextEvent(t, bob)
	assert.Equal(t, models.EventUserTypingStart, ev.Event)
	var signal models.TypingPayload
	require.NoError(t, json.Unmarshal(ev.Data, &signal))
	assert.Equal(t, models.TypingPayload{From: "alice", To: "bob"}, signal)

	hub.HandleEvent(context.Background(), alice, encode(t, models.EventTypingStop, models.TypingPayload{From: "alice", To: "bob"}))
	assert.Equal(t, models.EventUserTypingStop, nextEvent(t, bob).Event)
	assertNoEvent(t, alice)
}

func TestTypingToOfflinePeerIsDropped(t *testing.T) {
	hub := newTestHub(new(mocks.MessageStoreMock), nil)
	alice := connectFake(hub, "alice", "a1", 8)

	assert.NoError(t, hub.RelayTyping("alice", models.TypingPayload{From: "alice", To: "bob"}, true))
	assertNoEvent(t, alice)
}

func TestTypingValidation(t *testing.T) {
	hub := newTestHub(new(mocks.MessageStoreMock), nil)

	assert.ErrorIs(t, hub.RelayTyping("alice", models.TypingPayload{From: "alice"}, true), ErrInvalidTyping)
	assert.ErrorIs(t, hub.RelayTyping("alice", models.TypingPayload{From: "bob", To: "carol"}, true), ErrSenderMismatch)
}

func TestMessagesFromOneSenderArriveInOrder(t *testing.T) {
	store := new(mocks.MessageStoreMock)
	hub := newTestHub(store, nil)
	alice := connectFake(hub, "alice", "a1", 8)
	bob := connectFake(hub, "bob", "b1", 8)

	for _, id := range []string{"m1", "m2"} {
		content := "body-" + id
		store.On("CreateMessage", mock.Anything, models.NewMessage{From: "alice", To: "bob", Content: content}).
			Return(models.Message{ID: id, From: "alice", To: "bob", Content: content, Status: models.StatusSent}, nil).Once()
	}

	hub.HandleEvent(context.Background(), alice, encode(t, models.EventSendMessage, models.SendMessagePayload{From: "alice", To: "bob", Content: "body-m1"}))
	hub.HandleEvent(context.Background(), alice, encode(t, models.EventSendMessage, models.SendMessagePayload{From: "alice", To: "bob", Content: "body-m2"}))

	var first, second models.Message
	require.NoError(t, json.Unmarshal(nextEvent(t, bob).Data, &first))
	require.NoError(t, json.Unmarshal(nextEvent(t, bob).Data, &second))
	assert.Equal(t, "m1", first.ID)
	assert.Equal(t, "m2", second.ID)
}

func TestConnectSupersedesPreviousConnection(t *testing.T) {
	rec := &recorderStub{}
	hub := newTestHub(new(mocks.MessageStoreMock), rec)

	old := connectFake(hub, "alice", "a1", 8)
	fresh := connectFake(hub, "alice", "a2", 8)

	ev := nextEvent(t, old)
	assert.Equal(t, models.EventSessionReplaced, ev.Event)
	assert.True(t, isClosed(old))
	assert.False(t, isClosed(fresh))

	// the old read pump exits afterwards
	hub.Disconnect(old, "closed")
	cur, ok := hub.registry.Lookup("alice")
	require.True(t, ok)
	assert.Same(t, fresh, cur)
	assert.Equal(t, []string{"online:alice", "online:alice"}, rec.Calls())
}

func TestDisconnectUnregistersAndRecordsOffline(t *testing.T) {
	store := new(mocks.MessageStoreMock)
	rec := &recorderStub{}
	hub := newTestHub(store, rec)
	alice := connectFake(hub, "alice", "a1", 8)
	bob := connectFake(hub, "bob", "b1", 8)

	hub.Disconnect(alice, "abnormal closure")
	hub.Disconnect(alice, "abnormal closure")

	_, ok := hub.registry.Lookup("alice")
	assert.False(t, ok)
	assert.True(t, isClosed(alice))
	assert.Equal(t, []string{"online:alice", "online:bob", "offline:alice"}, rec.Calls())

	// sends to alice now take the offline path
	store.On("CreateMessage", mock.Anything, models.NewMessage{From: "bob", To: "alice", Content: "back?"}).
		Return(models.Message{ID: "m3", From: "bob", To: "alice", Content: "back?", Status: models.StatusSent}, nil).Once()
	msg, err := hub.SendMessage(context.Background(), "bob", models.SendMessagePayload{From: "bob", To: "alice", Content: "back?"})
	require.NoError(t, err)
	assert.Equal(t, "m3", msg.ID)
	assert.Empty(t, alice.send)
	assertNoEvent(t, bob)
}

func TestHeartbeatOnlyForCurrentConnection(t *testing.T) {
	rec := &recorderStub{}
	hub := newTestHub(new(mocks.MessageStoreMock), rec)
	old := connectFake(hub, "alice", "a1", 8)
	fresh := connectFake(hub, "alice", "a2", 8)

	hub.heartbeat(old)
	hub.heartbeat(fresh)
	assert.Equal(t, []string{"online:alice", "online:alice", "heartbeat:alice"}, rec.Calls())
}

func TestSlowRecipientIsDisconnected(t *testing.T) {
	store := new(mocks.MessageStoreMock)
	rec := &recorderStub{}
	hub := newTestHub(store, rec)
	alice := connectFake(hub, "alice", "a1", 8)
	bob := connectFake(hub, "bob", "b1", 1)

	store.On("CreateMessage", mock.Anything, mock.Anything).
		Return(models.Message{ID: "m", From: "alice", To: "bob", Content: "x", Status: models.StatusSent}, nil)

	_, err := hub.SendMessage(context.Background(), "alice", models.SendMessagePayload{From: "alice", To: "bob", Content: "x"})
	require.NoError(t, err)
	_, err = hub.SendMessage(context.Background(), "alice", models.SendMessagePayload{From: "alice", To: "bob", Content: "x"})
	require.NoError(t, err)

	assert.True(t, isClosed(bob))
	assert.False(t, hub.IsOnline("bob"))
	assert.True(t, hub.IsOnline("alice"))
	assert.Contains(t, rec.Calls(), "offline:bob")
	assertNoEvent(t, alice)
}

func TestCloseDisconnectsEveryClient(t *testing.T) {
	rec := &recorderStub{}
	hub := newTestHub(new(mocks.MessageStoreMock), rec)
	users := []string{"alice", "bob", "carol"}
	clients := make([]*Client, 0, len(users))
	for _, u := range users {
		clients = append(clients, connectFake(hub, u, u+"-1", 8))
	}

	hub.Close("server shutdown")

	assert.Empty(t, hub.Online())
	for _, c := range clients {
		assert.True(t, isClosed(c))
	}
	calls := rec.Calls()
	for _, u := range users {
		assert.Contains(t, calls, "offline:"+u)
	}

	// read pumps exiting afterwards change nothing
	hub.Disconnect(clients[0], "closed")
	assert.Len(t, rec.Calls(), len(calls))
}

func TestReconnectRacingDisconnectEndsOnline(t *testing.T) {
	for i := 0; i < 200; i++ {
		rec := &recorderStub{}
		hub := newTestHub(new(mocks.MessageStoreMock), rec)
		old := connectFake(hub, "alice", "old", 8)
		fresh := newClient(hub, nil, ConnInfo{UserID: "alice", ConnID: "new", ConnectedAt: time.Now()}, 8)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			hub.Disconnect(old, "closed")
		}()
		go func() {
			defer wg.Done()
			hub.Connect(fresh)
		}()
		wg.Wait()

		cur, ok := hub.registry.Lookup("alice")
		require.True(t, ok)
		require.Same(t, fresh, cur)
		calls := rec.Calls()
		require.Equal(t, "online:alice", calls[len(calls)-1], "iteration %d: %v", i, calls)
	}
}

func TestOriginAllowed(t *testing.T) {
	assert.True(t, originAllowed(nil, "http://evil.example"))
	assert.True(t, originAllowed([]string{"http://localhost:3000"}, ""))
	assert.True(t, originAllowed([]string{"http://localhost:3000"}, "http://localhost:3000"))
	assert.False(t, originAllowed([]string{"http://localhost:3000"}, "http://evil.example"))
	assert.True(t, originAllowed([]string{"*"}, "http://evil.example"))
}
