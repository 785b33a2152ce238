package storage

import (
	"fmt"
	"sort"

	"parley/internal/models"
)

func conversationFromDB(c DBConversation) models.Conversation {
	return models.Conversation{
		ID:            c.ID,
		IsGroup:       c.IsGroup,
		Name:          c.Name,
		CreatedAt:     c.CreatedAt,
		LastMessageAt: c.LastMessageAt,
	}
}

func membershipFromDB(m DBMembership) models.Membership {
	return models.Membership{
		ID:                m.ID,
		ConversationID:    m.ConversationID,
		UserID:            m.UserID,
		LastReadMessageID: m.LastReadMessageID,
		JoinedAt:          m.JoinedAt,
	}
}

func (t *Tx) GetConversation(id string) (models.Conversation, error) {
	t.read(ConversationTopic(id))

	var dbConv DBConversation
	ok, err := getRecord(t.tx.Bucket(bucketConversations), []byte(id), &dbConv)
	if err != nil {
		return models.Conversation{}, err
	}
	if !ok {
		return models.Conversation{}, notFound("conversation", id)
	}
	return conversationFromDB(dbConv), nil
}

// PutConversation inserts the conversation, assigning an ID when empty, or
// replaces the stored record.
func (t *Tx) PutConversation(conv models.Conversation) (models.Conversation, error) {
	if conv.ID == "" {
		conv.ID = newID()
	}
	dbConv := DBConversation{
		ID:            conv.ID,
		IsGroup:       conv.IsGroup,
		Name:          conv.Name,
		CreatedAt:     conv.CreatedAt,
		LastMessageAt: conv.LastMessageAt,
	}
	if err := putRecord(t.tx.Bucket(bucketConversations), &dbConv); err != nil {
		return models.Conversation{}, fmt.Errorf("failed to put conversation: %w", err)
	}

	t.wrote(ConversationTopic(conv.ID))
	return conv, nil
}

// GetMembership returns the membership of userID in conversationID.
func (t *Tx) GetMembership(conversationID, userID string) (models.Membership, error) {
	t.read(MembersTopic(conversationID))

	byConv, err := t.subBucket(bucketMembershipsByConversation, conversationID)
	if err != nil {
		return models.Membership{}, err
	}
	if byConv == nil {
		return models.Membership{}, notFound("membership in conversation", conversationID)
	}
	id := byConv.Get([]byte(userID))
	if id == nil {
		return models.Membership{}, notFound("membership in conversation", conversationID)
	}
	return t.membershipByID(id)
}

func (t *Tx) membershipByID(id []byte) (models.Membership, error) {
	var dbMembership DBMembership
	ok, err := getRecord(t.tx.Bucket(bucketMemberships), id, &dbMembership)
	if err != nil {
		return models.Membership{}, err
	}
	if !ok {
		return models.Membership{}, fmt.Errorf("membership index points at missing membership %s", id)
	}
	return membershipFromDB(dbMembership), nil
}

// MembershipsByUser returns all memberships of a user ordered by join time.
func (t *Tx) MembershipsByUser(userID string) ([]models.Membership, error) {
	t.read(MembershipsTopic(userID))

	byUser, err := t.subBucket(bucketMembershipsByUser, userID)
	if err != nil || byUser == nil {
		return nil, err
	}
	return t.collectMemberships(byUser.ForEach)
}

// MembershipsByConversation returns all memberships of a conversation
// ordered by join time.
func (t *Tx) MembershipsByConversation(conversationID string) ([]models.Membership, error) {
	t.read(MembersTopic(conversationID))

	byConv, err := t.subBucket(bucketMembershipsByConversation, conversationID)
	if err != nil || byConv == nil {
		return nil, err
	}
	return t.collectMemberships(byConv.ForEach)
}

func (t *Tx) collectMemberships(forEach func(func(k, v []byte) error) error) ([]models.Membership, error) {
	var memberships []models.Membership
	err := forEach(func(k, v []byte) error {
		m, err := t.membershipByID(v)
		if err != nil {
			return err
		}
		memberships = append(memberships, m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(memberships, func(i, j int) bool {
		return memberships[i].JoinedAt < memberships[j].JoinedAt
	})
	return memberships, nil
}

// PutMembership inserts the membership, assigning an ID when empty, or
// replaces the stored record. At most one membership may exist per
// (conversation, user) pair.
func (t *Tx) PutMembership(m models.Membership) (models.Membership, error) {
	if m.ConversationID == "" || m.UserID == "" {
		return models.Membership{}, fmt.Errorf("%w: membership missing conversation or user", models.ErrValidation)
	}

	byConv, err := t.subBucket(bucketMembershipsByConversation, m.ConversationID)
	if err != nil {
		return models.Membership{}, err
	}
	byUser, err := t.subBucket(bucketMembershipsByUser, m.UserID)
	if err != nil {
		return models.Membership{}, err
	}

	existing := byConv.Get([]byte(m.UserID))
	switch {
	case existing != nil && m.ID == "":
		return models.Membership{}, fmt.Errorf("%w: user %s is already a member of %s", models.ErrValidation, m.UserID, m.ConversationID)
	case existing != nil && string(existing) != m.ID:
		return models.Membership{}, fmt.Errorf("%w: membership %s conflicts with %s", models.ErrValidation, m.ID, existing)
	}
	if m.ID == "" {
		m.ID = newID()
	}

	dbMembership := DBMembership{
		ID:                m.ID,
		ConversationID:    m.ConversationID,
		UserID:            m.UserID,
		LastReadMessageID: m.LastReadMessageID,
		JoinedAt:          m.JoinedAt,
	}
	if err := putRecord(t.tx.Bucket(bucketMemberships), &dbMembership); err != nil {
		return models.Membership{}, fmt.Errorf("failed to put membership: %w", err)
	}
	if err := byConv.Put([]byte(m.UserID), []byte(m.ID)); err != nil {
		return models.Membership{}, err
	}
	if err := byUser.Put([]byte(m.ConversationID), []byte(m.ID)); err != nil {
		return models.Membership{}, err
	}

	t.wrote(MembersTopic(m.ConversationID), MembershipsTopic(m.UserID))
	return m, nil
}

// DMPairKey is the order-independent key of a pair of users.
func DMPairKey(a, b string) []byte {
	if b < a {
		a, b = b, a
	}
	return []byte(a + "\x00" + b)
}

// DMByPair returns the DM conversation registered for the pair of users.
func (t *Tx) DMByPair(a, b string) (string, error) {
	t.read(MembershipsTopic(a), MembershipsTopic(b))

	id := t.tx.Bucket(bucketDMPairs).Get(DMPairKey(a, b))
	if id == nil {
		return "", notFound("dm between", a+" and "+b)
	}
	return string(id), nil
}

// PutDMPair registers conversationID as the DM of the pair of users.
func (t *Tx) PutDMPair(a, b, conversationID string) error {
	if err := t.tx.Bucket(bucketDMPairs).Put(DMPairKey(a, b), []byte(conversationID)); err != nil {
		return fmt.Errorf("failed to put dm pair: %w", err)
	}
	t.wrote(MembershipsTopic(a), MembershipsTopic(b))
	return nil
}
