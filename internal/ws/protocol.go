package ws

import "encoding/json"

type ClientMessageType string

const (
	ClientMessageTypeSubscribe   ClientMessageType = "subscribe"
	ClientMessageTypeUnsubscribe ClientMessageType = "unsubscribe"
	ClientMessageTypeMutation    ClientMessageType = "mutation"
)

// ClientMessage is sent by the client. ID names the subscription or
// correlates the mutation reply.
type ClientMessage struct {
	Type ClientMessageType `json:"type"`
	ID   string            `json:"id"`
	Name string            `json:"name,omitempty"`
	Args json.RawMessage   `json:"args,omitempty"`
}

type ServerMessageType string

const (
	ServerMessageTypeResult   ServerMessageType = "result"
	ServerMessageTypeMutation ServerMessageType = "mutation"
	ServerMessageTypeError    ServerMessageType = "error"
)

type ServerMessage struct {
	Type  ServerMessageType `json:"type"`
	ID    string            `json:"id"`
	Value json.RawMessage   `json:"value,omitempty"`
	Error string            `json:"error,omitempty"`
	Code  string            `json:"code,omitempty"`
}
