package storage

import (
	"context"
	"sync"
)

// Topics name the ranges of the store a transaction reads or writes. A live
// query is re-evaluated when a commit writes one of the topics it read.
const TopicUsers = "users"

func UserTopic(id string) string                 { return "user/" + id }
func ExternalIDTopic(externalID string) string   { return "external/" + externalID }
func ConversationTopic(id string) string         { return "conversation/" + id }
func MembersTopic(conversationID string) string  { return "members/" + conversationID }
func MembershipsTopic(userID string) string      { return "memberships/" + userID }
func MessagesTopic(conversationID string) string { return "messages/" + conversationID }
func MessageTopic(id string) string              { return "message/" + id }
func TypingTopic(conversationID string) string   { return "typing/" + conversationID }
func ReactionsTopic(messageID string) string     { return "reactions/" + messageID }

// ReadSet collects the topics read by every View or Update run with a
// context carrying it.
type ReadSet struct {
	mu     sync.Mutex
	topics map[string]struct{}
}

func NewReadSet() *ReadSet {
	return &ReadSet{topics: make(map[string]struct{})}
}

func (rs *ReadSet) add(topics map[string]struct{}) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	for topic := range topics {
		rs.topics[topic] = struct{}{}
	}
}

// Topics returns the collected topics in sorted order.
func (rs *ReadSet) Topics() []string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return sortedTopics(rs.topics)
}

// Contains reports whether any of topics was read.
func (rs *ReadSet) Contains(topics []string) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	for _, topic := range topics {
		if _, ok := rs.topics[topic]; ok {
			return true
		}
	}
	return false
}

type readSetKey struct{}

// WithReadSet returns a context that makes storage record reads into rs.
func WithReadSet(ctx context.Context, rs *ReadSet) context.Context {
	return context.WithValue(ctx, readSetKey{}, rs)
}

func readSetFrom(ctx context.Context) *ReadSet {
	if ctx == nil {
		return nil
	}
	rs, _ := ctx.Value(readSetKey{}).(*ReadSet)
	return rs
}
