package models

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrNotAMember      = errors.New("not a member of this conversation")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrValidation      = errors.New("validation failed")
	ErrUpstreamSync    = errors.New("upstream sync failed")
	ErrUnauthenticated = errors.New("unauthenticated")
)

// ErrorCode returns the taxonomy name of err, or "Internal" for errors
// outside of the taxonomy.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotAMember):
		return "NotAMember"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrUnauthorized):
		return "Unauthorized"
	case errors.Is(err, ErrValidation):
		return "ValidationFailure"
	case errors.Is(err, ErrUpstreamSync):
		return "UpstreamSyncFailure"
	case errors.Is(err, ErrUnauthenticated):
		return "Unauthenticated"
	default:
		return "Internal"
	}
}

// User is a profile synced from the identity provider.
type User struct {
	ID          string `json:"id"`
	ExternalID  string `json:"externalId"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	AvatarURL   string `json:"avatarUrl"`
	IsOnline    bool   `json:"isOnline"`
	LastSeenAt  int64  `json:"lastSeenAt"` // Unix timestamp (milliseconds)
}

// Presence represents the online status of a user.
type Presence struct {
	UserID     string `json:"userId"`
	IsOnline   bool   `json:"isOnline"`
	LastSeenAt int64  `json:"lastSeenAt"`
}

// Conversation is either a DM (two members, no name) or a named group.
type Conversation struct {
	ID            string `json:"id"`
	IsGroup       bool   `json:"isGroup"`
	Name          string `json:"name,omitempty"`
	CreatedAt     int64  `json:"createdAt"`
	LastMessageAt int64  `json:"lastMessageAt,omitempty"` // 0 until the first message
}

// Membership links a user to a conversation and carries the read cursor.
type Membership struct {
	ID                string `json:"id"`
	ConversationID    string `json:"conversationId"`
	UserID            string `json:"userId"`
	LastReadMessageID string `json:"lastReadMessageId,omitempty"`
	JoinedAt          int64  `json:"joinedAt"`
}

// Message represents a chat message. Deleted messages keep their body.
type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	Body           string `json:"body"`
	CreatedAt      int64  `json:"createdAt"`
	Deleted        bool   `json:"deleted"`
}

// MessageWithSender is a message joined with its sender profile.
// Sender is nil when the sender no longer exists.
type MessageWithSender struct {
	Message
	Sender *User `json:"sender"`
}

type TypingMarker struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	ExpiresAt      int64  `json:"expiresAt"`
}

type Reaction struct {
	ID        string `json:"id"`
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
	Emoji     string `json:"emoji"`
	CreatedAt int64  `json:"createdAt"`
}

// ReactionGroup aggregates the reactions on a message sharing one emoji.
type ReactionGroup struct {
	Emoji   string   `json:"emoji"`
	Count   int      `json:"count"`
	UserIDs []string `json:"userIds"`
}

// ConversationDetail is a conversation resolved for one of its members.
type ConversationDetail struct {
	Conversation
	OtherUser *User  `json:"otherUser"` // DMs only
	Members   []User `json:"members"`
}

// ConversationSummary is a sidebar entry of a user's conversation list.
type ConversationSummary struct {
	ConversationDetail
	LastMessage *Message   `json:"lastMessage,omitempty"`
	UnreadCount int        `json:"unreadCount"`
	Membership  Membership `json:"membership"`
}
