// Package memory is an in-process implementation of the remote data
// stores. It enforces the same uniqueness rules as the SQL schema and
// publishes a change event for every write, like the Postgres trigger does.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Socheema/Framez-sub000/internal/realtime"
	"github.com/Socheema/Framez-sub000/store/conversation"
	"github.com/Socheema/Framez-sub000/store/follow"
	"github.com/Socheema/Framez-sub000/store/like"
	"github.com/Socheema/Framez-sub000/store/message"
)

// Publisher receives the change events of every write.
type Publisher interface {
	Publish(evt realtime.Event)
}

type pair struct{ a, b string }

// DB holds all tables. The zero value is not usable; call New.
type DB struct {
	mu  sync.RWMutex
	pub Publisher
	now func() time.Time
	seq int64

	follows  map[pair]time.Time
	likes    map[pair]time.Time
	convos   map[string]*conversation.Conversation
	pairs    map[pair]string
	messages map[string][]message.Message
}

// New creates an empty DB. pub may be nil.
func New(pub Publisher) *DB {
	return &DB{
		pub:      pub,
		now:      time.Now,
		follows:  make(map[pair]time.Time),
		likes:    make(map[pair]time.Time),
		convos:   make(map[string]*conversation.Conversation),
		pairs:    make(map[pair]string),
		messages: make(map[string][]message.Message),
	}
}

func (db *DB) Follows() *Follows             { return &Follows{db: db} }
func (db *DB) Likes() *Likes                 { return &Likes{db: db} }
func (db *DB) Conversations() *Conversations { return &Conversations{db: db} }
func (db *DB) Messages() *Messages           { return &Messages{db: db} }

func (db *DB) nextID(prefix string) string {
	db.seq++
	return fmt.Sprintf("%s-%06d", prefix, db.seq)
}

// publish must be called without db.mu held.
func (db *DB) publish(table string, op realtime.Op, row any) {
	if db.pub == nil {
		return
	}
	evt, err := realtime.NewEvent(table, op, row)
	if err != nil {
		return
	}
	db.pub.Publish(evt)
}

// Follows implements follow.Store.
type Follows struct{ db *DB }

var _ follow.Store = (*Follows)(nil)

func (f *Follows) Insert(_ context.Context, followerID, followingID string) error {
	db := f.db
	db.mu.Lock()
	key := pair{followerID, followingID}
	if _, ok := db.follows[key]; ok {
		db.mu.Unlock()
		return follow.ErrAlreadyFollowing
	}
	at := db.now()
	db.follows[key] = at
	db.mu.Unlock()

	db.publish(realtime.TableFollows, realtime.OpInsert, follow.Edge{FollowerID: followerID, FollowingID: followingID, CreatedAt: at})
	return nil
}

func (f *Follows) Delete(_ context.Context, followerID, followingID string) error {
	db := f.db
	db.mu.Lock()
	key := pair{followerID, followingID}
	at, ok := db.follows[key]
	if !ok {
		db.mu.Unlock()
		return follow.ErrNotFollowing
	}
	delete(db.follows, key)
	db.mu.Unlock()

	db.publish(realtime.TableFollows, realtime.OpDelete, follow.Edge{FollowerID: followerID, FollowingID: followingID, CreatedAt: at})
	return nil
}

func (f *Follows) Exists(_ context.Context, followerID, followingID string) (bool, error) {
	f.db.mu.RLock()
	defer f.db.mu.RUnlock()
	_, ok := f.db.follows[pair{followerID, followingID}]
	return ok, nil
}

func (f *Follows) CountFollowers(_ context.Context, userID string) (int, error) {
	f.db.mu.RLock()
	defer f.db.mu.RUnlock()
	n := 0
	for k := range f.db.follows {
		if k.b == userID {
			n++
		}
	}
	return n, nil
}

func (f *Follows) CountFollowing(_ context.Context, userID string) (int, error) {
	f.db.mu.RLock()
	defer f.db.mu.RUnlock()
	n := 0
	for k := range f.db.follows {
		if k.a == userID {
			n++
		}
	}
	return n, nil
}

func (f *Follows) ListFollowing(_ context.Context, followerID string) ([]string, error) {
	f.db.mu.RLock()
	defer f.db.mu.RUnlock()
	var ids []string
	for k := range f.db.follows {
		if k.a == followerID {
			ids = append(ids, k.b)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Likes implements like.Store.
type Likes struct{ db *DB }

var _ like.Store = (*Likes)(nil)

func (l *Likes) Insert(_ context.Context, userID, postID string) error {
	db := l.db
	db.mu.Lock()
	key := pair{userID, postID}
	if _, ok := db.likes[key]; ok {
		db.mu.Unlock()
		return like.ErrAlreadyLiked
	}
	at := db.now()
	db.likes[key] = at
	db.mu.Unlock()

	db.publish(realtime.TableLikes, realtime.OpInsert, like.Like{UserID: userID, PostID: postID, CreatedAt: at})
	return nil
}

func (l *Likes) Delete(_ context.Context, userID, postID string) error {
	db := l.db
	db.mu.Lock()
	key := pair{userID, postID}
	at, ok := db.likes[key]
	if !ok {
		db.mu.Unlock()
		return like.ErrNotLiked
	}
	delete(db.likes, key)
	db.mu.Unlock()

	db.publish(realtime.TableLikes, realtime.OpDelete, like.Like{UserID: userID, PostID: postID, CreatedAt: at})
	return nil
}

func (l *Likes) Exists(_ context.Context, userID, postID string) (bool, error) {
	l.db.mu.RLock()
	defer l.db.mu.RUnlock()
	_, ok := l.db.likes[pair{userID, postID}]
	return ok, nil
}

func (l *Likes) Count(_ context.Context, postID string) (int, error) {
	l.db.mu.RLock()
	defer l.db.mu.RUnlock()
	n := 0
	for k := range l.db.likes {
		if k.b == postID {
			n++
		}
	}
	return n, nil
}

// Conversations implements conversation.Store.
type Conversations struct{ db *DB }

var _ conversation.Store = (*Conversations)(nil)

func (c *Conversations) GetBetween(_ context.Context, participant1, participant2 string) (*conversation.Conversation, error) {
	c.db.mu.RLock()
	defer c.db.mu.RUnlock()
	id, ok := c.db.pairs[pair{participant1, participant2}]
	if !ok {
		return nil, conversation.ErrConversationNotFound
	}
	convo := *c.db.convos[id]
	return &convo, nil
}

func (c *Conversations) Get(_ context.Context, id string) (*conversation.Conversation, error) {
	c.db.mu.RLock()
	defer c.db.mu.RUnlock()
	convo, ok := c.db.convos[id]
	if !ok {
		return nil, conversation.ErrConversationNotFound
	}
	out := *convo
	return &out, nil
}

func (c *Conversations) Create(_ context.Context, convo *conversation.Conversation) error {
	db := c.db
	db.mu.Lock()
	defer db.mu.Unlock()

	if convo.Participant1 >= convo.Participant2 {
		return fmt.Errorf("conversation participants not in canonical order: %q, %q", convo.Participant1, convo.Participant2)
	}
	key := pair{convo.Participant1, convo.Participant2}
	if _, ok := db.pairs[key]; ok {
		return conversation.ErrConversationExists
	}

	if convo.CreatedAt.IsZero() {
		convo.CreatedAt = db.now()
	}
	if convo.UpdatedAt.IsZero() {
		convo.UpdatedAt = convo.CreatedAt
	}
	convo.ID = db.nextID("conv")

	stored := *convo
	db.convos[stored.ID] = &stored
	db.pairs[key] = stored.ID
	return nil
}

func (c *Conversations) ListForUser(_ context.Context, userID string) ([]conversation.Conversation, error) {
	c.db.mu.RLock()
	defer c.db.mu.RUnlock()
	var out []conversation.Conversation
	for _, convo := range c.db.convos {
		if convo.Has(userID) {
			out = append(out, *convo)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (c *Conversations) Touch(_ context.Context, id string, at time.Time) error {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	convo, ok := c.db.convos[id]
	if !ok {
		return conversation.ErrConversationNotFound
	}
	convo.UpdatedAt = at
	return nil
}

// Messages implements message.Store.
type Messages struct{ db *DB }

var _ message.Store = (*Messages)(nil)

func (m *Messages) Insert(_ context.Context, msg *message.Message) error {
	db := m.db
	db.mu.Lock()
	if _, ok := db.convos[msg.ConversationID]; !ok {
		db.mu.Unlock()
		return conversation.ErrConversationNotFound
	}
	msg.ID = db.nextID("msg")
	msg.CreatedAt = db.now()
	msg.Read = false
	db.messages[msg.ConversationID] = append(db.messages[msg.ConversationID], *msg)
	stored := *msg
	db.mu.Unlock()

	db.publish(realtime.TableMessages, realtime.OpInsert, stored)
	return nil
}

func (m *Messages) ListByConversation(_ context.Context, conversationID string) ([]message.Message, error) {
	m.db.mu.RLock()
	defer m.db.mu.RUnlock()
	msgs := m.db.messages[conversationID]
	out := make([]message.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (m *Messages) MarkRead(_ context.Context, conversationID, readerID string) (int64, error) {
	db := m.db
	db.mu.Lock()
	var changed []message.Message
	msgs := db.messages[conversationID]
	for i := range msgs {
		if msgs[i].SenderID != readerID && !msgs[i].Read {
			msgs[i].Read = true
			changed = append(changed, msgs[i])
		}
	}
	db.mu.Unlock()

	for _, msg := range changed {
		db.publish(realtime.TableMessages, realtime.OpUpdate, msg)
	}
	return int64(len(changed)), nil
}

func (m *Messages) CountUnread(_ context.Context, conversationID, readerID string) (int, error) {
	m.db.mu.RLock()
	defer m.db.mu.RUnlock()
	return m.db.countUnread(conversationID, readerID), nil
}

func (m *Messages) CountUnreadByConversation(_ context.Context, conversationIDs []string, readerID string) (map[string]int, error) {
	m.db.mu.RLock()
	defer m.db.mu.RUnlock()
	out := make(map[string]int, len(conversationIDs))
	for _, id := range conversationIDs {
		if n := m.db.countUnread(id, readerID); n > 0 {
			out[id] = n
		}
	}
	return out, nil
}

func (db *DB) countUnread(conversationID, readerID string) int {
	n := 0
	for _, msg := range db.messages[conversationID] {
		if msg.SenderID != readerID && !msg.Read {
			n++
		}
	}
	return n
}
