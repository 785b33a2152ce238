package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"parley/internal/models"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

var (
	bucketUsers         = []byte("users")
	bucketConversations = []byte("conversations")
	bucketMemberships   = []byte("memberships")
	bucketMessages      = []byte("messages")
	bucketTypingMarkers = []byte("typing_markers")
	bucketReactions     = []byte("reactions")

	bucketUsersByExternalID         = []byte("users_by_external_id")
	bucketMembershipsByUser         = []byte("memberships_by_user")
	bucketMembershipsByConversation = []byte("memberships_by_conversation")
	bucketMessagesByConversation    = []byte("messages_by_conversation")
	bucketTypingByConversation      = []byte("typing_by_conversation")
	bucketTypingByExpiry            = []byte("typing_by_expiry")
	bucketReactionsByMessage        = []byte("reactions_by_message")
	bucketReactionsByMessageAndUser = []byte("reactions_by_message_user")
	bucketDMPairs                   = []byte("dm_pairs")
)

var allBuckets = [][]byte{
	bucketUsers,
	bucketConversations,
	bucketMemberships,
	bucketMessages,
	bucketTypingMarkers,
	bucketReactions,
	bucketUsersByExternalID,
	bucketMembershipsByUser,
	bucketMembershipsByConversation,
	bucketMessagesByConversation,
	bucketTypingByConversation,
	bucketTypingByExpiry,
	bucketReactionsByMessage,
	bucketReactionsByMessageAndUser,
	bucketDMPairs,
}

// BboltStorage is the document store. Each collection is a bucket of
// msgpack records keyed by ID; every secondary index is a bucket of index
// keys pointing back at record IDs.
type BboltStorage struct {
	db *bbolt.DB

	mu        sync.RWMutex
	observers []func(topics []string)
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// OnCommit registers fn to be called with the topics written by every
// committed read-write transaction, in commit order.
func (s *BboltStorage) OnCommit(fn func(topics []string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

func (s *BboltStorage) notify(topics []string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, fn := range s.observers {
		fn(topics)
	}
}

// View runs fn in a read-only transaction. Topics read by fn are added to
// the ReadSet carried by ctx, if any.
func (s *BboltStorage) View(ctx context.Context, fn func(tx *Tx) error) error {
	return s.db.View(func(btx *bbolt.Tx) error {
		tx := newTx(btx)
		err := fn(tx)
		if rs := readSetFrom(ctx); rs != nil {
			rs.add(tx.reads)
		}
		return err
	})
}

// Update runs fn in a single read-write transaction. Either every write of
// fn is committed or none is.
func (s *BboltStorage) Update(ctx context.Context, fn func(tx *Tx) error) error {
	return s.db.Update(func(btx *bbolt.Tx) error {
		tx := newTx(btx)
		if err := fn(tx); err != nil {
			return err
		}
		if rs := readSetFrom(ctx); rs != nil {
			rs.add(tx.reads)
		}
		if len(tx.writes) > 0 {
			topics := sortedTopics(tx.writes)
			btx.OnCommit(func() { s.notify(topics) })
		}
		return nil
	})
}

// Tx wraps a bbolt transaction with typed accessors and records the topics
// it reads and writes.
type Tx struct {
	tx     *bbolt.Tx
	reads  map[string]struct{}
	writes map[string]struct{}
}

func newTx(tx *bbolt.Tx) *Tx {
	return &Tx{
		tx:     tx,
		reads:  make(map[string]struct{}),
		writes: make(map[string]struct{}),
	}
}

func (t *Tx) read(topics ...string) {
	for _, topic := range topics {
		t.reads[topic] = struct{}{}
	}
}

func (t *Tx) wrote(topics ...string) {
	for _, topic := range topics {
		t.writes[topic] = struct{}{}
	}
}

// subBucket returns the nested index bucket name under root.
// It returns nil in read-only mode when the bucket does not exist yet.
func (t *Tx) subBucket(root []byte, name string) (*bbolt.Bucket, error) {
	parent := t.tx.Bucket(root)
	if !t.tx.Writable() {
		return parent.Bucket([]byte(name)), nil
	}
	b, err := parent.CreateBucketIfNotExists([]byte(name))
	if err != nil {
		return nil, fmt.Errorf("failed to create index bucket %s/%s: %w", root, name, err)
	}
	return b, nil
}

func getRecord(b *bbolt.Bucket, key []byte, rec Storeable) (bool, error) {
	if b == nil {
		return false, nil
	}
	data := b.Get(key)
	if data == nil {
		return false, nil
	}
	if err := rec.UnmarshalBinary(data); err != nil {
		return false, fmt.Errorf("failed to unmarshal %T: %w", rec, err)
	}
	return true, nil
}

func putRecord(b *bbolt.Bucket, rec Storeable) error {
	data, err := rec.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal %T: %w", rec, err)
	}
	return b.Put(rec.Key(), data)
}

func newID() string {
	return uuid.NewString()
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, models.ErrNotFound)
}

func sortedTopics(set map[string]struct{}) []string {
	topics := make([]string, 0, len(set))
	for topic := range set {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}
