package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"parley/internal/api"
	"parley/internal/models"
	"parley/internal/observability"
	"parley/internal/storage"

	"go.uber.org/zap"
)

const (
	clientBufferSize = 64
	commitBufferSize = 256
)

// Invoker runs named queries and mutations on behalf of a caller.
type Invoker interface {
	Invoke(ctx context.Context, kind api.Kind, name, externalID string, args json.RawMessage) (any, error)
}

// Client is one live connection registered with the hub. The hub closes
// Send when it drops the client.
type Client struct {
	externalID string
	send       chan ServerMessage
	subs       map[string]*subscription
	closed     bool
}

func newClient(externalID string) *Client {
	return &Client{
		externalID: externalID,
		send:       make(chan ServerMessage, clientBufferSize),
		subs:       make(map[string]*subscription),
	}
}

func (c *Client) Send() <-chan ServerMessage {
	return c.send
}

type subscription struct {
	client *Client
	id     string
	name   string
	args   json.RawMessage
	topics []string
	last   []byte
}

// Hub keeps live query subscriptions up to date. Subscribing, unsubscribing
// and re-evaluation all run on the Run goroutine, so every subscriber sees
// results in store commit order.
type Hub struct {
	invoker Invoker
	logger  *zap.Logger

	ops     chan func(ctx context.Context)
	commits chan []string
	done    chan struct{}

	// owned by the Run goroutine
	clients map[*Client]struct{}
	byTopic map[string]map[*subscription]struct{}
}

func NewHub(invoker Invoker, logger *zap.Logger) *Hub {
	return &Hub{
		invoker: invoker,
		logger:  logger,
		ops:     make(chan func(ctx context.Context)),
		commits: make(chan []string, commitBufferSize),
		done:    make(chan struct{}),
		clients: make(map[*Client]struct{}),
		byTopic: make(map[string]map[*subscription]struct{}),
	}
}

// Run processes hub operations until ctx is done. All clients are dropped
// on return.
func (h *Hub) Run(ctx context.Context) error {
	defer func() {
		close(h.done)
		for c := range h.clients {
			h.drop(c)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case op := <-h.ops:
			op(ctx)
		case topics := <-h.commits:
			h.invalidate(ctx, h.drainCommits(topics))
		}
	}
}

// do runs op on the Run goroutine. It reports false when the hub stopped.
func (h *Hub) do(op func(ctx context.Context)) bool {
	select {
	case h.ops <- op:
		return true
	case <-h.done:
		return false
	}
}

// Notify is registered as a store commit observer.
func (h *Hub) Notify(topics []string) {
	select {
	case h.commits <- topics:
	case <-h.done:
	}
}

func (h *Hub) drainCommits(first []string) map[string]struct{} {
	written := make(map[string]struct{}, len(first))
	for _, t := range first {
		written[t] = struct{}{}
	}
	for {
		select {
		case more := <-h.commits:
			for _, t := range more {
				written[t] = struct{}{}
			}
		default:
			return written
		}
	}
}

// Join registers a client for the caller. It returns nil when the hub has
// stopped.
func (h *Hub) Join(externalID string) *Client {
	c := newClient(externalID)
	if !h.do(func(context.Context) { h.clients[c] = struct{}{} }) {
		return nil
	}
	return c
}

// Leave unregisters the client. Leaving twice is a no-op.
func (h *Hub) Leave(c *Client) {
	h.do(func(context.Context) { h.drop(c) })
}

// DisconnectUser drops every client of the caller.
func (h *Hub) DisconnectUser(externalID string) {
	h.do(func(context.Context) {
		for c := range h.clients {
			if c.externalID == externalID {
				h.drop(c)
			}
		}
	})
}

// Subscribe evaluates the query and pushes its result, then keeps pushing
// whenever a commit changes it. Subscribing with an ID in use replaces the
// previous subscription.
func (h *Hub) Subscribe(c *Client, id, name string, args json.RawMessage) {
	h.do(func(ctx context.Context) {
		if c.closed {
			return
		}
		if old, ok := c.subs[id]; ok {
			h.unindex(old)
		}
		sub := &subscription{client: c, id: id, name: name, args: args}
		c.subs[id] = sub
		h.evaluate(ctx, sub)
	})
}

func (h *Hub) Unsubscribe(c *Client, id string) {
	h.do(func(context.Context) {
		sub, ok := c.subs[id]
		if !ok {
			return
		}
		h.unindex(sub)
		delete(c.subs, id)
	})
}

func (h *Hub) invalidate(ctx context.Context, written map[string]struct{}) {
	affected := make(map[*subscription]struct{})
	for topic := range written {
		for sub := range h.byTopic[topic] {
			affected[sub] = struct{}{}
		}
	}
	for sub := range affected {
		if sub.client.closed {
			continue
		}
		h.evaluate(ctx, sub)
	}
}

// evaluate runs the subscription's query, re-indexes it under the topics
// the query read, and pushes the result when it changed.
func (h *Hub) evaluate(ctx context.Context, sub *subscription) {
	observability.IncLiveEvaluation()

	rs := storage.NewReadSet()
	value, err := h.invoker.Invoke(storage.WithReadSet(ctx, rs), api.KindQuery, sub.name, sub.client.externalID, sub.args)
	if errors.Is(err, context.Canceled) {
		return
	}

	h.unindex(sub)
	sub.topics = rs.Topics()
	for _, topic := range sub.topics {
		subs, ok := h.byTopic[topic]
		if !ok {
			subs = make(map[*subscription]struct{})
			h.byTopic[topic] = subs
		}
		subs[sub] = struct{}{}
	}

	msg := newReply(ServerMessageTypeResult, sub.id, value, err, h.logger)
	encoded, encErr := json.Marshal(msg)
	if encErr == nil && bytes.Equal(encoded, sub.last) {
		return
	}
	sub.last = encoded

	h.push(sub.client, msg)
}

func (h *Hub) unindex(sub *subscription) {
	for _, topic := range sub.topics {
		subs := h.byTopic[topic]
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.byTopic, topic)
		}
	}
	sub.topics = nil
}

// push hands msg to the client without blocking. A client whose buffer is
// full is dropped; it reconnects and subscribes again.
func (h *Hub) push(c *Client, msg ServerMessage) {
	select {
	case c.send <- msg:
		observability.IncLivePush()
	default:
		h.logger.Warn("dropping slow live client", zap.String("external_id", c.externalID))
		h.drop(c)
	}
}

func (h *Hub) drop(c *Client) {
	if c.closed {
		return
	}
	c.closed = true
	for _, sub := range c.subs {
		h.unindex(sub)
	}
	c.subs = nil
	delete(h.clients, c)
	close(c.send)
}

// newReply builds the server message for an operation outcome. Internal
// errors are logged and reported without detail.
func newReply(typ ServerMessageType, id string, value any, err error, logger *zap.Logger) ServerMessage {
	if err == nil {
		raw, encErr := json.Marshal(value)
		if encErr == nil {
			return ServerMessage{Type: typ, ID: id, Value: raw}
		}
		err = encErr
	}

	code := models.ErrorCode(err)
	msg := err.Error()
	if code == "Internal" {
		logger.Error("live operation failed", zap.String("id", id), zap.Error(err))
		msg = "internal error"
	}
	return ServerMessage{Type: ServerMessageTypeError, ID: id, Error: msg, Code: code}
}
