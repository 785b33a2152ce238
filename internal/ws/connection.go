package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"parley/internal/api"
	"parley/internal/models"

	"go.uber.org/zap"
)

var errDropped = errors.New("connection dropped by hub")

type wsConnection interface {
	Close() error
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
}

type liveHub interface {
	Join(externalID string) *Client
	Leave(c *Client)
	Subscribe(c *Client, id, name string, args json.RawMessage)
	Unsubscribe(c *Client, id string)
}

// Connection serves one websocket: subscriptions go through the hub,
// mutations are invoked directly and answered on the same socket.
type Connection struct {
	ws         wsConnection
	hub        liveHub
	invoker    Invoker
	logger     *zap.Logger
	externalID string
	client     *Client
	fromClient chan ClientMessage
	errorCh    chan error
}

func NewConnection(
	hub liveHub,
	invoker Invoker,
	ws wsConnection,
	externalID string,
	logger *zap.Logger,
) *Connection {
	return &Connection{
		ws:         ws,
		hub:        hub,
		invoker:    invoker,
		logger:     logger,
		externalID: externalID,
		client:     hub.Join(externalID),
		fromClient: make(chan ClientMessage),
		errorCh:    make(chan error, 2),
	}
}

func (c *Connection) Handle(ctx context.Context) error {
	if c.client == nil {
		c.ws.Close()
		return errDropped
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer func() {
		close(c.errorCh)
		c.hub.Leave(c.client)
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpMessages(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (c *Connection) pumpMessages(ctx context.Context) error {
	for {
		var msg ClientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			return err
		}
		select {
		case c.fromClient <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	send := c.client.Send()
	for {
		select {
		case msg := <-c.fromClient:
			if err := c.processClientMessage(ctx, msg); err != nil {
				return err
			}
		case msg, ok := <-send:
			if !ok {
				return errDropped
			}
			if err := c.ws.WriteJSON(msg); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Connection) processClientMessage(ctx context.Context, msg ClientMessage) error {
	switch msg.Type {
	case ClientMessageTypeSubscribe:
		if msg.ID == "" || msg.Name == "" {
			return c.ws.WriteJSON(invalid(msg.ID, "subscribe needs id and name"))
		}
		c.hub.Subscribe(c.client, msg.ID, msg.Name, msg.Args)
	case ClientMessageTypeUnsubscribe:
		c.hub.Unsubscribe(c.client, msg.ID)
	case ClientMessageTypeMutation:
		if msg.Name == "" {
			return c.ws.WriteJSON(invalid(msg.ID, "mutation needs a name"))
		}
		value, err := c.invoker.Invoke(ctx, api.KindMutation, msg.Name, c.externalID, msg.Args)
		return c.ws.WriteJSON(newReply(ServerMessageTypeMutation, msg.ID, value, err, c.logger))
	default:
		return c.ws.WriteJSON(invalid(msg.ID, fmt.Sprintf("unknown message type %q", msg.Type)))
	}

	return nil
}

func invalid(id, reason string) ServerMessage {
	err := fmt.Errorf("%w: %s", models.ErrValidation, reason)
	return ServerMessage{
		Type:  ServerMessageTypeError,
		ID:    id,
		Error: err.Error(),
		Code:  models.ErrorCode(err),
	}
}
