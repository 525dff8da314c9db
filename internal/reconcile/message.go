package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/Socheema/Framez-sub000/internal/mutation"
	"github.com/Socheema/Framez-sub000/internal/realtime"
	"github.com/Socheema/Framez-sub000/internal/suppress"
	"github.com/Socheema/Framez-sub000/store/conversation"
	"github.com/Socheema/Framez-sub000/store/message"
)

var (
	// ErrSendInProgress rejects a send while another one in the same
	// conversation has not completed.
	ErrSendInProgress     = errors.New("a message is already being sent")
	ErrNoOpenConversation = errors.New("no conversation is open")
)

// tempIDPrefix marks messages shown before the server assigned an id.
const tempIDPrefix = "temp-"

// MessageStore holds the inbox, per-conversation unread counts, and the
// message list of the open conversation.
type MessageStore struct {
	me   string
	svc  *mutation.MessageService
	gate *suppress.Gate
	sub  *realtime.Subscriber
	opts Options
	log  *zap.Logger

	mu            sync.RWMutex
	conversations []conversation.Conversation
	unread        map[string]int
	total         int
	// pendingRead maps a conversation marked read to when it was marked.
	pendingRead   map[string]time.Time
	open          *conversation.Conversation
	messages      []message.Message
	sending       pendingSet
	err           error
}

func NewMessageStore(userID string, svc *mutation.MessageService, gate *suppress.Gate, sub *realtime.Subscriber, opts Options) *MessageStore {
	opts = opts.withDefaults()
	if gate == nil {
		gate = suppress.New(opts.PendingReadTTL)
	}
	s := &MessageStore{
		me:   userID,
		svc:  svc,
		gate: gate,
		sub:  sub,
		opts: opts,
		log:  opts.Log.With(zap.String("store", "message")),
	}
	s.resetLocked()
	return s
}

func (s *MessageStore) resetLocked() {
	s.conversations = nil
	s.unread = make(map[string]int)
	s.total = 0
	s.pendingRead = make(map[string]time.Time)
	s.open = nil
	s.messages = nil
	s.sending = make(pendingSet)
	s.err = nil
}

// Reset tears down both subscriptions and drops the snapshot.
func (s *MessageStore) Reset() {
	if s.sub != nil {
		s.sub.Unsubscribe(ScopeConversation)
		s.sub.Unsubscribe(ScopeUnread)
	}
	s.gate.Clear(unreadGate)
	s.mu.Lock()
	s.resetLocked()
	s.mu.Unlock()
}

// LoadConversations reloads the inbox and every unread count with one
// batched count query. A conversation marked read less than PendingReadTTL
// ago shows zero unread and is left out of the total, whatever the server
// reports for it.
func (s *MessageStore) LoadConversations(ctx context.Context) error {
	convos := s.svc.ListConversations(ctx, s.me)
	if convos.Failed() {
		return s.fail(fmt.Errorf("load conversations: %w", convos.Err))
	}
	ids := make([]string, len(convos.Value))
	for i, c := range convos.Value {
		ids[i] = c.ID
	}
	counts := s.svc.UnreadCounts(ctx, ids, s.me)
	if counts.Failed() {
		return s.fail(fmt.Errorf("load unread counts: %w", counts.Err))
	}

	now := s.opts.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, at := range s.pendingRead {
		if now.Sub(at) >= s.opts.PendingReadTTL {
			delete(s.pendingRead, id)
		}
	}

	unread := make(map[string]int, len(ids))
	total := 0
	for _, id := range ids {
		if _, masked := s.pendingRead[id]; masked {
			unread[id] = 0
			continue
		}
		n := counts.Value[id]
		unread[id] = n
		total += n
	}
	s.conversations = convos.Value
	s.unread = unread
	s.total = total
	return nil
}

// MarkConversationAsRead marks every message received in the conversation
// as read. Unread refreshes driven by change events are suppressed until
// the server confirms the read or the confirmation poll gives up, and the
// conversation shows zero unread for PendingReadTTL either way.
func (s *MessageStore) MarkConversationAsRead(ctx context.Context, conversationID string) error {
	if err := s.loadMessages(ctx, conversationID); err != nil {
		return err
	}

	s.gate.Engage(unreadGate)
	err := func() error {
		defer s.gate.Release(unreadGate)

		res := s.svc.MarkConversationRead(ctx, conversationID, s.me)
		if res.Failed() {
			return s.fail(fmt.Errorf("mark conversation %s read: %w", conversationID, res.Err))
		}
		s.markReadLocally(conversationID)

		if !s.waitForRead(ctx, conversationID) {
			s.log.Warn("read not confirmed by server",
				zap.String("conversation_id", conversationID),
				zap.Duration("timeout", s.opts.PollTimeout))
		}
		return nil
	}()
	if err != nil {
		return err
	}

	// pendingRead expires with its TTL, not here.
	if err := s.LoadConversations(ctx); err != nil {
		s.log.Warn("refresh unread after mark read", zap.Error(err))
	}
	return nil
}

// markReadLocally records the pending-read overlay and zeroes the local
// count of conversationID.
func (s *MessageStore) markReadLocally(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingRead[conversationID] = s.opts.Now()
	s.total -= s.unread[conversationID]
	if s.total < 0 {
		s.total = 0
	}
	s.unread[conversationID] = 0
	if s.open != nil && s.open.ID == conversationID {
		for i := range s.messages {
			if s.messages[i].SenderID != s.me {
				s.messages[i].Read = true
			}
		}
	}
}

// waitForRead polls the server until the conversation has no unread
// messages, PollAttempts polls were made, or PollTimeout elapsed.
func (s *MessageStore) waitForRead(ctx context.Context, conversationID string) bool {
	ctx, cancel := context.WithTimeout(ctx, s.opts.PollTimeout)
	defer cancel()

	for attempt := 1; attempt <= s.opts.PollAttempts; attempt++ {
		res := s.svc.CountUnread(ctx, conversationID, s.me)
		if !res.Failed() && res.Value == 0 {
			return true
		}
		if attempt == s.opts.PollAttempts {
			break
		}
		if err := sleepCtx(ctx, s.opts.PollInterval); err != nil {
			return false
		}
	}
	return false
}

func (s *MessageStore) loadMessages(ctx context.Context, conversationID string) error {
	res := s.svc.ListMessages(ctx, conversationID)
	if res.Failed() {
		return s.fail(fmt.Errorf("load messages of %s: %w", conversationID, res.Err))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open == nil || s.open.ID != conversationID {
		return nil
	}
	msgs := make([]message.Message, 0, len(res.Value))
	msgs = append(msgs, res.Value...)
	// Keep optimistic messages still waiting for the server.
	for _, m := range s.messages {
		if isTemp(m.ID) {
			msgs = append(msgs, m)
		}
	}
	s.messages = msgs
	return nil
}

// OpenConversation makes convo the open conversation: its messages are
// watched and loaded, and it is marked read.
func (s *MessageStore) OpenConversation(ctx context.Context, convo conversation.Conversation) error {
	if !convo.Has(s.me) {
		return fmt.Errorf("open conversation %s: user %s is not a participant", convo.ID, s.me)
	}
	s.mu.Lock()
	c := convo
	s.open = &c
	s.messages = nil
	s.mu.Unlock()

	if s.sub != nil {
		filter := realtime.Filter{Table: realtime.TableMessages, Column: "conversation_id", Value: convo.ID}
		if err := s.sub.Subscribe(ctx, ScopeConversation, filter, s.handleOpenMessage); err != nil {
			s.log.Warn("watch open conversation", zap.String("conversation_id", convo.ID), zap.Error(err))
		}
	}
	return s.MarkConversationAsRead(ctx, convo.ID)
}

// CloseConversation forgets the open conversation and stops watching it.
func (s *MessageStore) CloseConversation() {
	if s.sub != nil {
		s.sub.Unsubscribe(ScopeConversation)
	}
	s.mu.Lock()
	s.open = nil
	s.messages = nil
	s.mu.Unlock()
}

// StartConversation opens the conversation with peerID, creating it first
// if the two users never talked.
func (s *MessageStore) StartConversation(ctx context.Context, peerID string) (*conversation.Conversation, error) {
	res := s.svc.GetOrCreateConversation(ctx, s.me, peerID)
	if res.Failed() {
		return nil, s.fail(fmt.Errorf("start conversation with %s: %w", peerID, res.Err))
	}
	convo := *res.Value

	s.mu.Lock()
	if !s.hasConversationLocked(convo.ID) {
		s.conversations = append([]conversation.Conversation{convo}, s.conversations...)
		s.unread[convo.ID] = 0
	}
	s.mu.Unlock()

	if err := s.OpenConversation(ctx, convo); err != nil {
		return nil, err
	}
	return &convo, nil
}

func (s *MessageStore) hasConversationLocked(id string) bool {
	for _, c := range s.conversations {
		if c.ID == id {
			return true
		}
	}
	return false
}

// SendMessage sends text to the open conversation. The message shows up at
// once under a temporary id and is replaced by the stored message, or
// removed again if sending fails.
func (s *MessageStore) SendMessage(ctx context.Context, text string) error {
	s.mu.Lock()
	if s.open == nil {
		s.mu.Unlock()
		return ErrNoOpenConversation
	}
	convo := *s.open
	ref := conversationRef(convo.ID)
	if !s.sending.acquire(ref) {
		s.mu.Unlock()
		return ErrSendInProgress
	}
	defer func() {
		s.mu.Lock()
		s.sending.release(ref)
		s.mu.Unlock()
	}()
	temp := message.Message{
		ID:             tempIDPrefix + ulid.Make().String(),
		ConversationID: convo.ID,
		SenderID:       s.me,
		Text:           text,
		CreatedAt:      s.opts.Now(),
	}
	s.messages = append(s.messages, temp)
	s.err = nil
	s.mu.Unlock()

	res := s.svc.SendMessage(ctx, &convo, s.me, text)

	s.mu.Lock()
	defer s.mu.Unlock()
	if res.Failed() {
		s.removeMessageLocked(temp.ID)
		s.err = res.Err
		s.log.Warn("message send rolled back",
			zap.String("conversation_id", convo.ID),
			zap.Stringer("kind", res.Kind()),
			zap.Error(res.Err))
		return res.Err
	}

	sent := res.Value
	if s.indexOfLocked(sent.ID) >= 0 {
		s.removeMessageLocked(temp.ID)
	} else if i := s.indexOfLocked(temp.ID); i >= 0 {
		s.messages[i] = sent
	}
	s.bumpConversationLocked(convo.ID, sent.CreatedAt)
	return nil
}

func (s *MessageStore) indexOfLocked(id string) int {
	for i := range s.messages {
		if s.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *MessageStore) removeMessageLocked(id string) {
	if i := s.indexOfLocked(id); i >= 0 {
		s.messages = append(s.messages[:i], s.messages[i+1:]...)
	}
}

// bumpConversationLocked moves a conversation to the top of the inbox.
func (s *MessageStore) bumpConversationLocked(id string, at time.Time) {
	for i := range s.conversations {
		if s.conversations[i].ID == id {
			s.conversations[i].UpdatedAt = at
		}
	}
	sort.SliceStable(s.conversations, func(i, j int) bool {
		return s.conversations[i].UpdatedAt.After(s.conversations[j].UpdatedAt)
	})
}

func isTemp(id string) bool {
	return len(id) > len(tempIDPrefix) && id[:len(tempIDPrefix)] == tempIDPrefix
}

// WatchUnread subscribes to every message change so that the inbox and
// unread counts follow activity from other clients.
func (s *MessageStore) WatchUnread(ctx context.Context) error {
	if s.sub == nil {
		return fmt.Errorf("watch unread: no subscriber")
	}
	return s.sub.Subscribe(ctx, ScopeUnread, realtime.Filter{Table: realtime.TableMessages}, s.handleMessage)
}

// handleMessage reloads the inbox when a message from someone else lands or
// changes outside the open conversation, unless a mark-read is in flight.
func (s *MessageStore) handleMessage(ctx context.Context, evt realtime.Event) {
	var msg message.Message
	if err := evt.Decode(&msg); err != nil {
		s.log.Warn("undecodable message event", zap.Error(err))
		return
	}
	s.svc.InvalidateConversation(msg.ConversationID, s.me)

	s.mu.RLock()
	openID := ""
	if s.open != nil {
		openID = s.open.ID
	}
	known := s.hasConversationLocked(msg.ConversationID)
	s.mu.RUnlock()

	switch evt.Op {
	case realtime.OpInsert:
		if msg.SenderID == s.me || msg.ConversationID == openID {
			return
		}
	case realtime.OpUpdate:
		if !known {
			return
		}
	default:
		return
	}

	if s.gate.Active(unreadGate) {
		s.log.Debug("unread refresh suppressed", zap.String("conversation_id", msg.ConversationID))
		return
	}
	if err := s.LoadConversations(ctx); err != nil {
		s.log.Warn("reload conversations", zap.Error(err))
	}
}

// showsNew reports whether msg belongs to the open conversation and is not
// on screen yet.
func (s *MessageStore) showsNew(msg message.Message) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.open != nil && s.open.ID == msg.ConversationID && s.indexOfLocked(msg.ID) < 0
}

// fetchMessage reads msg back from the server in full.
func (s *MessageStore) fetchMessage(ctx context.Context, msg message.Message) (message.Message, bool) {
	s.svc.InvalidateConversation(msg.ConversationID)
	res := s.svc.ListMessages(ctx, msg.ConversationID)
	if res.Failed() {
		s.log.Warn("fetch message body",
			zap.String("message_id", msg.ID), zap.Error(res.Err))
		return msg, false
	}
	for _, m := range res.Value {
		if m.ID == msg.ID {
			return m, true
		}
	}
	s.log.Debug("message gone before fetch", zap.String("message_id", msg.ID))
	return msg, false
}

// handleOpenMessage patches the open conversation. Messages from the other
// participant are marked read at once since they are on screen.
func (s *MessageStore) handleOpenMessage(ctx context.Context, evt realtime.Event) {
	var msg message.Message
	if err := evt.Decode(&msg); err != nil {
		s.log.Warn("undecodable message event", zap.Error(err))
		return
	}
	if evt.Op == realtime.OpInsert && msg.Text == "" && s.showsNew(msg) {
		// Database notifications carry no message body.
		full, ok := s.fetchMessage(ctx, msg)
		if !ok {
			return
		}
		msg = full
	}

	s.mu.Lock()
	if s.open == nil || s.open.ID != msg.ConversationID {
		s.mu.Unlock()
		return
	}
	switch evt.Op {
	case realtime.OpInsert:
		if s.indexOfLocked(msg.ID) >= 0 {
			s.mu.Unlock()
			return
		}
		if msg.SenderID == s.me && s.sending.has(conversationRef(msg.ConversationID)) {
			// SendMessage swaps its optimistic copy for this one.
			s.mu.Unlock()
			return
		}
		s.messages = append(s.messages, msg)
	case realtime.OpUpdate:
		if i := s.indexOfLocked(msg.ID); i >= 0 {
			s.messages[i].Read = msg.Read
		}
		s.mu.Unlock()
		return
	default:
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if msg.SenderID == s.me {
		return
	}
	res := s.svc.MarkConversationRead(ctx, msg.ConversationID, s.me)
	if res.Failed() {
		s.log.Warn("mark incoming message read",
			zap.String("conversation_id", msg.ConversationID), zap.Error(res.Err))
		return
	}
	s.markReadLocally(msg.ConversationID)
}

func (s *MessageStore) fail(err error) error {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	return err
}

// Conversations returns the inbox, most recently active first.
func (s *MessageStore) Conversations() []conversation.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]conversation.Conversation, len(s.conversations))
	copy(out, s.conversations)
	return out
}

func (s *MessageStore) UnreadCount(conversationID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if at, ok := s.pendingRead[conversationID]; ok && s.opts.Now().Sub(at) < s.opts.PendingReadTTL {
		return 0
	}
	return s.unread[conversationID]
}

func (s *MessageStore) TotalUnread() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}

// Messages returns the message list of the open conversation, oldest first.
func (s *MessageStore) Messages() []message.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]message.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *MessageStore) OpenConversationID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.open == nil {
		return ""
	}
	return s.open.ID
}

// IsSending reports whether a send to the open conversation is in flight.
func (s *MessageStore) IsSending() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.open != nil && s.sending.has(conversationRef(s.open.ID))
}

func (s *MessageStore) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}
