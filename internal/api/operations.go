package api

import (
	"context"

	"parley/internal/conversations"
	"parley/internal/messages"
	"parley/internal/presence"
	"parley/internal/typing"
	"parley/internal/users"
)

// Services are the domain services behind the operations.
type Services struct {
	Users         *users.Directory
	Presence      *presence.Tracker
	Typing        *typing.Registry
	Conversations *conversations.Directory
	Messages      *messages.Store
}

// NewRegistry registers every query and mutation of the chat surface.
func NewRegistry(s Services) *Registry {
	r := newRegistry(s.Users)

	// users
	r.register(query("users.getByExternalId", func(ctx context.Context, _ Caller, args struct {
		ExternalID string `json:"externalId"`
	}) (any, error) {
		if err := required("externalId", args.ExternalID); err != nil {
			return nil, err
		}
		return s.Users.GetByExternalID(ctx, args.ExternalID)
	}))
	r.register(query("users.getById", func(ctx context.Context, _ Caller, args struct {
		UserID string `json:"userId"`
	}) (any, error) {
		if err := required("userId", args.UserID); err != nil {
			return nil, err
		}
		return s.Users.GetByID(ctx, args.UserID)
	}))
	r.register(mutation("users.upsert", func(ctx context.Context, c Caller, args struct {
		ExternalID  string `json:"externalId"`
		Email       string `json:"email"`
		DisplayName string `json:"displayName"`
		AvatarURL   string `json:"avatarUrl"`
	}) (any, error) {
		if args.ExternalID != "" && args.ExternalID != c.ExternalID {
			return nil, errActAs(args.ExternalID)
		}
		return s.Users.Upsert(ctx, users.Profile{
			ExternalID:  c.ExternalID,
			Email:       args.Email,
			DisplayName: args.DisplayName,
			AvatarURL:   args.AvatarURL,
		})
	}))
	r.register(query("users.listExcluding", func(ctx context.Context, c Caller, args struct {
		CurrentUserID string `json:"currentUserId"`
		Search        string `json:"search"`
	}) (any, error) {
		me, err := c.actor(args.CurrentUserID)
		if err != nil {
			return nil, err
		}
		return s.Users.ListExcluding(ctx, me, args.Search)
	}))

	// presence
	r.register(mutation("presence.heartbeat", func(ctx context.Context, c Caller, args userArgs) (any, error) {
		me, err := c.actor(args.UserID)
		if err != nil {
			return nil, err
		}
		return nil, s.Presence.Heartbeat(ctx, me)
	}))
	r.register(mutation("presence.setOffline", func(ctx context.Context, c Caller, args userArgs) (any, error) {
		me, err := c.actor(args.UserID)
		if err != nil {
			return nil, err
		}
		return nil, s.Presence.SetOffline(ctx, me)
	}))
	r.register(query("presence.getPresence", func(ctx context.Context, _ Caller, args userArgs) (any, error) {
		if err := required("userId", args.UserID); err != nil {
			return nil, err
		}
		return s.Presence.GetPresence(ctx, args.UserID)
	}))
	r.register(query("presence.getBatchPresence", func(ctx context.Context, _ Caller, args struct {
		UserIDs []string `json:"userIds"`
	}) (any, error) {
		return s.Presence.GetBatchPresence(ctx, args.UserIDs)
	}))

	// conversations
	r.register(mutation("conversations.getOrCreateDM", func(ctx context.Context, c Caller, args struct {
		CurrentUserID string `json:"currentUserId"`
		OtherUserID   string `json:"otherUserId"`
	}) (any, error) {
		me, err := c.actor(args.CurrentUserID)
		if err != nil {
			return nil, err
		}
		if err := required("otherUserId", args.OtherUserID); err != nil {
			return nil, err
		}
		return s.Conversations.GetOrCreateDM(ctx, me, args.OtherUserID)
	}))
	r.register(mutation("conversations.createGroup", func(ctx context.Context, c Caller, args struct {
		Name      string   `json:"name"`
		MemberIDs []string `json:"memberIds"`
		CreatorID string   `json:"creatorId"`
	}) (any, error) {
		me, err := c.actor(args.CreatorID)
		if err != nil {
			return nil, err
		}
		return s.Conversations.CreateGroup(ctx, args.Name, args.MemberIDs, me)
	}))
	r.register(query("conversations.listForUser", func(ctx context.Context, c Caller, args userArgs) (any, error) {
		me, err := c.actor(args.UserID)
		if err != nil {
			return nil, err
		}
		return s.Conversations.ListForUser(ctx, me)
	}))
	r.register(query("conversations.getConversation", func(ctx context.Context, c Caller, args conversationArgs) (any, error) {
		me, err := c.actor(args.CurrentUserID)
		if err != nil {
			return nil, err
		}
		if err := required("conversationId", args.ConversationID); err != nil {
			return nil, err
		}
		return s.Conversations.GetConversation(ctx, args.ConversationID, me)
	}))
	r.register(mutation("conversations.markAsRead", func(ctx context.Context, c Caller, args struct {
		ConversationID string `json:"conversationId"`
		UserID         string `json:"userId"`
		MessageID      string `json:"messageId"`
	}) (any, error) {
		me, err := c.actor(args.UserID)
		if err != nil {
			return nil, err
		}
		if err := required("messageId", args.MessageID); err != nil {
			return nil, err
		}
		return nil, s.Conversations.MarkAsRead(ctx, args.ConversationID, me, args.MessageID)
	}))

	// messages
	r.register(query("messages.listMessages", func(ctx context.Context, c Caller, args conversationArgs) (any, error) {
		me, err := c.actor(args.CurrentUserID)
		if err != nil {
			return nil, err
		}
		return s.Messages.ListMessages(ctx, args.ConversationID, me)
	}))
	r.register(mutation("messages.sendMessage", func(ctx context.Context, c Caller, args struct {
		ConversationID string `json:"conversationId"`
		SenderID       string `json:"senderId"`
		Body           string `json:"body"`
	}) (any, error) {
		me, err := c.actor(args.SenderID)
		if err != nil {
			return nil, err
		}
		return s.Messages.SendMessage(ctx, args.ConversationID, me, args.Body)
	}))
	r.register(mutation("messages.deleteMessage", func(ctx context.Context, c Caller, args messageArgs) (any, error) {
		me, err := c.actor(args.UserID)
		if err != nil {
			return nil, err
		}
		return nil, s.Messages.DeleteMessage(ctx, args.MessageID, me)
	}))
	r.register(mutation("messages.addReaction", func(ctx context.Context, c Caller, args messageArgs) (any, error) {
		me, err := c.actor(args.UserID)
		if err != nil {
			return nil, err
		}
		return s.Messages.AddReaction(ctx, args.MessageID, me, args.Emoji)
	}))
	r.register(mutation("messages.removeReaction", func(ctx context.Context, c Caller, args messageArgs) (any, error) {
		me, err := c.actor(args.UserID)
		if err != nil {
			return nil, err
		}
		return nil, s.Messages.RemoveReaction(ctx, args.MessageID, me)
	}))
	r.register(query("messages.getReactions", func(ctx context.Context, c Caller, args messageArgs) (any, error) {
		me, err := c.actor(args.UserID)
		if err != nil {
			return nil, err
		}
		return s.Messages.GetReactions(ctx, args.MessageID, me)
	}))

	// typing
	r.register(mutation("typing.setTyping", func(ctx context.Context, c Caller, args conversationArgs) (any, error) {
		me, err := c.actor(args.UserID)
		if err != nil {
			return nil, err
		}
		return nil, s.Typing.SetTyping(ctx, args.ConversationID, me)
	}))
	r.register(query("typing.getTypingUsers", func(ctx context.Context, c Caller, args conversationArgs) (any, error) {
		me, err := c.actor(args.CurrentUserID)
		if err != nil {
			return nil, err
		}
		return s.Typing.GetTypingUsers(ctx, args.ConversationID, me)
	}))
	r.register(mutation("typing.stopTyping", func(ctx context.Context, c Caller, args conversationArgs) (any, error) {
		me, err := c.actor(args.UserID)
		if err != nil {
			return nil, err
		}
		return nil, s.Typing.StopTyping(ctx, args.ConversationID, me)
	}))

	return r
}

type userArgs struct {
	UserID string `json:"userId"`
}

type conversationArgs struct {
	ConversationID string `json:"conversationId"`
	CurrentUserID  string `json:"currentUserId"`
	UserID         string `json:"userId"`
}

type messageArgs struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
	Emoji     string `json:"emoji"`
}
