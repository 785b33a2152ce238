package storage

import (
	"encoding"
	"encoding/binary"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBUser struct {
	ID          string `msgpack:"id"`
	ExternalID  string `msgpack:"externalId"`
	DisplayName string `msgpack:"displayName"`
	Email       string `msgpack:"email"`
	AvatarURL   string `msgpack:"avatarUrl"`
	IsOnline    bool   `msgpack:"isOnline"`
	LastSeenAt  int64  `msgpack:"lastSeenAt"`
}

func (u *DBUser) Key() []byte {
	return []byte(u.ID)
}

func (u *DBUser) MarshalBinary() (data []byte, err error) {
	type alias DBUser
	return msgpack.Marshal((*alias)(u))
}

func (u *DBUser) UnmarshalBinary(data []byte) error {
	type alias DBUser
	return msgpack.Unmarshal(data, (*alias)(u))
}

type DBConversation struct {
	ID            string `msgpack:"id"`
	IsGroup       bool   `msgpack:"isGroup"`
	Name          string `msgpack:"name"`
	CreatedAt     int64  `msgpack:"createdAt"`
	LastMessageAt int64  `msgpack:"lastMessageAt"`
}

func (c *DBConversation) Key() []byte {
	return []byte(c.ID)
}

func (c *DBConversation) MarshalBinary() (data []byte, err error) {
	type alias DBConversation
	return msgpack.Marshal((*alias)(c))
}

func (c *DBConversation) UnmarshalBinary(data []byte) error {
	type alias DBConversation
	return msgpack.Unmarshal(data, (*alias)(c))
}

type DBMembership struct {
	ID                string `msgpack:"id"`
	ConversationID    string `msgpack:"conversationId"`
	UserID            string `msgpack:"userId"`
	LastReadMessageID string `msgpack:"lastReadMessageId"`
	JoinedAt          int64  `msgpack:"joinedAt"`
}

func (m *DBMembership) Key() []byte {
	return []byte(m.ID)
}

func (m *DBMembership) MarshalBinary() (data []byte, err error) {
	type alias DBMembership
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMembership) UnmarshalBinary(data []byte) error {
	type alias DBMembership
	return msgpack.Unmarshal(data, (*alias)(m))
}

// DBMessage is keyed by ID in the messages bucket. Seq is the
// per-conversation sequence assigned on insert; together with CreatedAt it
// forms the position key in the conversation's message index.
type DBMessage struct {
	ID             string `msgpack:"id"`
	Seq            uint64 `msgpack:"seq"`
	ConversationID string `msgpack:"conversationId"`
	SenderID       string `msgpack:"senderId"`
	Body           string `msgpack:"body"`
	CreatedAt      int64  `msgpack:"createdAt"`
	Deleted        bool   `msgpack:"deleted"`
}

func (m *DBMessage) Key() []byte {
	return []byte(m.ID)
}

// PositionKey orders messages by creation time, then by insertion order.
func (m *DBMessage) PositionKey() []byte {
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key, uint64(m.CreatedAt))
	binary.BigEndian.PutUint64(key[8:], m.Seq)
	return key
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

type DBTypingMarker struct {
	ID             string `msgpack:"id"`
	ConversationID string `msgpack:"conversationId"`
	UserID         string `msgpack:"userId"`
	ExpiresAt      int64  `msgpack:"expiresAt"`
}

func (t *DBTypingMarker) Key() []byte {
	return []byte(t.ID)
}

// ExpiryKey orders markers by expiry for the sweep range scan.
func (t *DBTypingMarker) ExpiryKey() []byte {
	key := make([]byte, 8, 8+len(t.ID))
	binary.BigEndian.PutUint64(key, uint64(t.ExpiresAt))
	return append(key, t.ID...)
}

func (t *DBTypingMarker) MarshalBinary() (data []byte, err error) {
	type alias DBTypingMarker
	return msgpack.Marshal((*alias)(t))
}

func (t *DBTypingMarker) UnmarshalBinary(data []byte) error {
	type alias DBTypingMarker
	return msgpack.Unmarshal(data, (*alias)(t))
}

// DBReaction carries the per-message sequence assigned on first insert so
// that the emoji groups keep their first-seen order across overwrites.
type DBReaction struct {
	ID        string `msgpack:"id"`
	Seq       uint64 `msgpack:"seq"`
	MessageID string `msgpack:"messageId"`
	UserID    string `msgpack:"userId"`
	Emoji     string `msgpack:"emoji"`
	CreatedAt int64  `msgpack:"createdAt"`
}

func (r *DBReaction) Key() []byte {
	return []byte(r.ID)
}

func (r *DBReaction) SeqKey() []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, r.Seq)
	return key
}

func (r *DBReaction) MarshalBinary() (data []byte, err error) {
	type alias DBReaction
	return msgpack.Marshal((*alias)(r))
}

func (r *DBReaction) UnmarshalBinary(data []byte) error {
	type alias DBReaction
	return msgpack.Unmarshal(data, (*alias)(r))
}
