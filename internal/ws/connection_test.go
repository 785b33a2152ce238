package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"parley/internal/api"
	"parley/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockWS struct {
	mu          sync.Mutex
	readCh      chan ClientMessage
	writeCh     chan any
	closeCh     chan struct{}
	closed      bool
	errToReturn error
}

func newMockWS() *mockWS {
	return &mockWS{
		readCh:  make(chan ClientMessage, 10),
		writeCh: make(chan any, 10),
		closeCh: make(chan struct{}),
	}
}

func (m *mockWS) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.closeCh)
	return nil
}

func (m *mockWS) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockWS) WriteJSON(v any) error {
	if m.errToReturn != nil {
		return m.errToReturn
	}
	m.writeCh <- v
	return nil
}

func (m *mockWS) ReadJSON(v any) error {
	if m.errToReturn != nil {
		return m.errToReturn
	}
	select {
	case msg, ok := <-m.readCh:
		if !ok {
			return errors.New("closed")
		}
		if ptr, ok := v.(*ClientMessage); ok {
			*ptr = msg
		}
		return nil
	case <-m.closeCh:
		return errors.New("connection closed")
	}
}

type subscribeCall struct {
	id   string
	name string
	args json.RawMessage
}

type mockHub struct {
	joinCh        chan string
	leaveCh       chan *Client
	subscribeCh   chan subscribeCall
	unsubscribeCh chan string
	client        *Client
}

func newMockHub() *mockHub {
	return &mockHub{
		joinCh:        make(chan string, 10),
		leaveCh:       make(chan *Client, 10),
		subscribeCh:   make(chan subscribeCall, 10),
		unsubscribeCh: make(chan string, 10),
	}
}

func (m *mockHub) Join(externalID string) *Client {
	m.joinCh <- externalID
	m.client = newClient(externalID)
	return m.client
}

func (m *mockHub) Leave(c *Client) {
	m.leaveCh <- c
}

func (m *mockHub) Subscribe(c *Client, id, name string, args json.RawMessage) {
	m.subscribeCh <- subscribeCall{id: id, name: name, args: args}
}

func (m *mockHub) Unsubscribe(c *Client, id string) {
	m.unsubscribeCh <- id
}

type invocation struct {
	kind       api.Kind
	name       string
	externalID string
}

type fakeInvoker struct {
	calls chan invocation
	value any
	err   error
}

func (f *fakeInvoker) Invoke(_ context.Context, kind api.Kind, name, externalID string, _ json.RawMessage) (any, error) {
	f.calls <- invocation{kind: kind, name: name, externalID: externalID}
	return f.value, f.err
}

func written(t *testing.T, ws *mockWS) ServerMessage {
	t.Helper()
	select {
	case v := <-ws.writeCh:
		msg, ok := v.(ServerMessage)
		require.True(t, ok, "wrote %T", v)
		return msg
	case <-time.After(time.Second):
		t.Fatal("nothing written to websocket")
	}
	return ServerMessage{}
}

func TestConnection_Lifecycle(t *testing.T) {
	hub := newMockHub()
	ws := newMockWS()
	invoker := &fakeInvoker{calls: make(chan invocation, 10), value: "msg_1"}

	conn := NewConnection(hub, invoker, ws, "ext_alice", zap.NewNop())
	require.NotNil(t, conn)
	assert.Equal(t, "ext_alice", <-hub.joinCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error)
	go func() {
		done <- conn.Handle(ctx)
	}()

	// subscribe goes to the hub
	ws.readCh <- ClientMessage{Type: ClientMessageTypeSubscribe, ID: "s1", Name: "conversations.listForUser"}
	select {
	case call := <-hub.subscribeCh:
		assert.Equal(t, "s1", call.id)
		assert.Equal(t, "conversations.listForUser", call.name)
	case <-time.After(time.Second):
		t.Fatal("hub did not receive subscription")
	}

	// hub pushes reach the socket
	hub.client.send <- ServerMessage{Type: ServerMessageTypeResult, ID: "s1", Value: json.RawMessage(`[]`)}
	pushed := written(t, ws)
	assert.Equal(t, "s1", pushed.ID)
	assert.JSONEq(t, `[]`, string(pushed.Value))

	// mutations are invoked and answered on the socket
	ws.readCh <- ClientMessage{Type: ClientMessageTypeMutation, ID: "m1", Name: "messages.sendMessage", Args: json.RawMessage(`{}`)}
	call := <-invoker.calls
	assert.Equal(t, invocation{kind: api.KindMutation, name: "messages.sendMessage", externalID: "ext_alice"}, call)
	reply := written(t, ws)
	assert.Equal(t, ServerMessageTypeMutation, reply.Type)
	assert.Equal(t, "m1", reply.ID)
	assert.JSONEq(t, `"msg_1"`, string(reply.Value))

	ws.readCh <- ClientMessage{Type: ClientMessageTypeUnsubscribe, ID: "s1"}
	assert.Equal(t, "s1", <-hub.unsubscribeCh)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Handle did not return after cancel")
	}

	select {
	case c := <-hub.leaveCh:
		assert.Same(t, hub.client, c)
	default:
		t.Error("Leave not called")
	}
	assert.True(t, ws.isClosed())
}

func TestConnection_MutationError(t *testing.T) {
	hub := newMockHub()
	ws := newMockWS()
	invoker := &fakeInvoker{calls: make(chan invocation, 10), err: models.ErrNotAMember}

	conn := NewConnection(hub, invoker, ws, "ext_alice", zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = conn.Handle(ctx) }()

	ws.readCh <- ClientMessage{Type: ClientMessageTypeMutation, ID: "m1", Name: "messages.sendMessage"}
	reply := written(t, ws)
	assert.Equal(t, ServerMessageTypeError, reply.Type)
	assert.Equal(t, "m1", reply.ID)
	assert.Equal(t, "NotAMember", reply.Code)
}

func TestConnection_InvalidMessages(t *testing.T) {
	tests := []struct {
		name string
		msg  ClientMessage
	}{
		{name: "unknown type", msg: ClientMessage{Type: "join", ID: "x"}},
		{name: "subscribe without name", msg: ClientMessage{Type: ClientMessageTypeSubscribe, ID: "x"}},
		{name: "subscribe without id", msg: ClientMessage{Type: ClientMessageTypeSubscribe, Name: "users.listExcluding"}},
		{name: "mutation without name", msg: ClientMessage{Type: ClientMessageTypeMutation, ID: "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := newMockHub()
			ws := newMockWS()
			conn := NewConnection(hub, &fakeInvoker{calls: make(chan invocation, 1)}, ws, "ext_alice", zap.NewNop())

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go func() { _ = conn.Handle(ctx) }()

			ws.readCh <- tt.msg
			reply := written(t, ws)
			assert.Equal(t, ServerMessageTypeError, reply.Type)
			assert.Equal(t, "ValidationFailure", reply.Code)
			assert.Empty(t, hub.subscribeCh)
		})
	}
}

func TestConnection_DroppedByHub(t *testing.T) {
	hub := newMockHub()
	ws := newMockWS()
	conn := NewConnection(hub, &fakeInvoker{}, ws, "ext_alice", zap.NewNop())

	done := make(chan error)
	go func() {
		done <- conn.Handle(context.Background())
	}()

	close(hub.client.send)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, errDropped)
	case <-time.After(time.Second):
		t.Fatal("Handle did not return after drop")
	}
	assert.True(t, ws.isClosed())
}

func TestConnection_WSError(t *testing.T) {
	hub := newMockHub()
	ws := newMockWS()
	ws.errToReturn = errors.New("read error")

	conn := NewConnection(hub, &fakeInvoker{}, ws, "ext_alice", zap.NewNop())

	done := make(chan error)
	go func() {
		done <- conn.Handle(context.Background())
	}()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("Handle did not return on error")
	}
	assert.True(t, ws.isClosed())
}
