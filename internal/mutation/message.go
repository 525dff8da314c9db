package mutation

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/Socheema/Framez-sub000/internal/netexec"
	"github.com/Socheema/Framez-sub000/store/conversation"
	"github.com/Socheema/Framez-sub000/store/message"
)

// MaxMessageLength is the longest message text accepted, in runes.
const MaxMessageLength = message.MaxTextLength

type MessageService struct {
	x             *netexec.Executor
	conversations conversation.Store
	messages      message.Store
	timeouts      Timeouts
	log           *zap.Logger
}

func NewMessageService(x *netexec.Executor, conversations conversation.Store, messages message.Store, timeouts Timeouts, log *zap.Logger) *MessageService {
	if log == nil {
		log = zap.NewNop()
	}
	return &MessageService{
		x:             x,
		conversations: conversations,
		messages:      messages,
		timeouts:      timeouts.withDefaults(),
		log:           log,
	}
}

// GetOrCreateConversation returns the single conversation between two users,
// creating it when it does not exist yet. When another client wins the race
// to create it, the row it created is looked up and returned.
func (s *MessageService) GetOrCreateConversation(ctx context.Context, userAID, userBID string) Result[*conversation.Conversation] {
	if userAID == "" || userBID == "" {
		return failed[*conversation.Conversation](netexec.Invalid("both participant ids are required"))
	}
	if userAID == userBID {
		return failed[*conversation.Conversation](netexec.Invalid("user %s cannot start a conversation with themselves", userAID))
	}
	p1, p2 := conversation.Canonical(userAID, userBID)

	convo, err := s.lookup(ctx, p1, p2)
	if err == nil {
		return ok(convo)
	}
	if !netexec.IsNotFound(err) {
		return failed[*conversation.Conversation](err)
	}

	created, err := netexec.Execute(ctx, s.x, netexec.Options{Op: "conversation.create", Timeout: s.timeouts.Write},
		func(ctx context.Context) (*conversation.Conversation, error) {
			c := &conversation.Conversation{Participant1: p1, Participant2: p2}
			if err := s.conversations.Create(ctx, c); err != nil {
				return nil, err
			}
			return c, nil
		})
	switch {
	case err == nil:
		s.x.ClearCache(ConversationListKey(p1), ConversationListKey(p2))
		return ok(created)
	case netexec.IsConflict(err):
		s.log.Debug("conversation created concurrently, re-querying",
			zap.String("participant1", p1), zap.String("participant2", p2))
		s.x.ClearCache(ConversationPairKey(p1, p2), ConversationListKey(p1), ConversationListKey(p2))
		convo, err := s.lookup(ctx, p1, p2)
		if err != nil {
			return failed[*conversation.Conversation](fmt.Errorf("re-query after duplicate conversation: %w", err))
		}
		return ok(convo)
	default:
		return failed[*conversation.Conversation](err)
	}
}

// lookup fails with a not-found error when the pair has no conversation;
// errors are never cached so a later create is seen at once.
func (s *MessageService) lookup(ctx context.Context, p1, p2 string) (*conversation.Conversation, error) {
	return cachedRead(ctx, s.x, ConversationPairKey(p1, p2),
		netexec.Options{Op: "conversation.get_between", Timeout: s.timeouts.Read},
		func(ctx context.Context) (*conversation.Conversation, error) {
			return s.conversations.GetBetween(ctx, p1, p2)
		})
}

// SendMessage stores a message from senderID in convo.
func (s *MessageService) SendMessage(ctx context.Context, convo *conversation.Conversation, senderID, text string) Result[message.Message] {
	if convo == nil || convo.ID == "" {
		return failed[message.Message](netexec.Invalid("conversation is required"))
	}
	if senderID == "" {
		return failed[message.Message](netexec.Invalid("sender id is required"))
	}
	if !convo.Has(senderID) {
		return failed[message.Message](netexec.Invalid("user %s is not part of conversation %s", senderID, convo.ID))
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return failed[message.Message](netexec.Invalid("message text is empty"))
	}
	if n := utf8.RuneCountInString(text); n > MaxMessageLength {
		return failed[message.Message](netexec.Invalid("message text is %d characters, limit is %d", n, MaxMessageLength))
	}

	msg, err := netexec.Execute(ctx, s.x, netexec.Options{Op: "message.insert", Timeout: s.timeouts.Write},
		func(ctx context.Context) (message.Message, error) {
			m := message.Message{ConversationID: convo.ID, SenderID: senderID, Text: text}
			err := s.messages.Insert(ctx, &m)
			return m, err
		})
	if err != nil {
		return failed[message.Message](err)
	}
	// The activity timestamp only orders the inbox.
	touchErr := s.x.Do(ctx, netexec.Options{Op: "conversation.touch", Timeout: s.timeouts.Write}, func(ctx context.Context) error {
		return s.conversations.Touch(ctx, convo.ID, msg.CreatedAt)
	})
	if touchErr != nil {
		s.log.Warn("failed to update conversation activity",
			zap.String("conversation_id", convo.ID), zap.Error(touchErr))
	}
	s.InvalidateConversation(convo.ID, convo.Participant1, convo.Participant2)
	return ok(msg)
}

// MarkConversationRead flags every message in the conversation that readerID
// received as read and returns how many changed.
func (s *MessageService) MarkConversationRead(ctx context.Context, conversationID, readerID string) Result[int64] {
	if conversationID == "" || readerID == "" {
		return failed[int64](netexec.Invalid("conversation and reader ids are required"))
	}
	n, err := netexec.Execute(ctx, s.x, netexec.Options{Op: "message.mark_read", Timeout: s.timeouts.Write},
		func(ctx context.Context) (int64, error) {
			return s.messages.MarkRead(ctx, conversationID, readerID)
		})
	if err == nil {
		s.x.ClearCache(MessagesKey(conversationID))
	}
	return resultOf(n, err)
}

func (s *MessageService) ListMessages(ctx context.Context, conversationID string) Result[[]message.Message] {
	if conversationID == "" {
		return failed[[]message.Message](netexec.Invalid("conversation id is required"))
	}
	v, err := cachedRead(ctx, s.x, MessagesKey(conversationID),
		netexec.Options{Op: "message.list", Timeout: s.timeouts.Heavy, Maybe: true},
		func(ctx context.Context) ([]message.Message, error) {
			return s.messages.ListByConversation(ctx, conversationID)
		})
	return resultOf(v, err)
}

func (s *MessageService) ListConversations(ctx context.Context, userID string) Result[[]conversation.Conversation] {
	if userID == "" {
		return failed[[]conversation.Conversation](netexec.Invalid("user id is required"))
	}
	v, err := cachedRead(ctx, s.x, ConversationListKey(userID),
		netexec.Options{Op: "conversation.list", Timeout: s.timeouts.Heavy, Maybe: true},
		func(ctx context.Context) ([]conversation.Conversation, error) {
			return s.conversations.ListForUser(ctx, userID)
		})
	return resultOf(v, err)
}

// UnreadCounts returns the unread count of every listed conversation in a
// single query. Conversations without unread messages map to zero. Counts
// are never cached.
func (s *MessageService) UnreadCounts(ctx context.Context, conversationIDs []string, readerID string) Result[map[string]int] {
	if readerID == "" {
		return failed[map[string]int](netexec.Invalid("reader id is required"))
	}
	out := make(map[string]int, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return ok(out)
	}
	counts, err := netexec.Execute(ctx, s.x, netexec.Options{Op: "message.count_unread_batch", Timeout: s.timeouts.Heavy},
		func(ctx context.Context) (map[string]int, error) {
			return s.messages.CountUnreadByConversation(ctx, conversationIDs, readerID)
		})
	if err != nil {
		return failed[map[string]int](err)
	}
	for _, id := range conversationIDs {
		out[id] = counts[id]
	}
	return ok(out)
}

// CountUnread always asks the server.
func (s *MessageService) CountUnread(ctx context.Context, conversationID, readerID string) Result[int] {
	if conversationID == "" || readerID == "" {
		return failed[int](netexec.Invalid("conversation and reader ids are required"))
	}
	n, err := netexec.Execute(ctx, s.x, netexec.Options{Op: "message.count_unread", Timeout: s.timeouts.Read},
		func(ctx context.Context) (int, error) {
			return s.messages.CountUnread(ctx, conversationID, readerID)
		})
	return resultOf(n, err)
}

// TotalUnread sums the unread counts of every conversation of userID.
func (s *MessageService) TotalUnread(ctx context.Context, userID string) Result[int] {
	convos := s.ListConversations(ctx, userID)
	if convos.Failed() {
		return failed[int](convos.Err)
	}
	ids := make([]string, 0, len(convos.Value))
	for _, c := range convos.Value {
		ids = append(ids, c.ID)
	}
	counts := s.UnreadCounts(ctx, ids, userID)
	if counts.Failed() {
		return failed[int](counts.Err)
	}
	total := 0
	for _, n := range counts.Value {
		total += n
	}
	return ok(total)
}

// InvalidateConversation evicts the message list of a conversation and the
// inbox of each given participant.
func (s *MessageService) InvalidateConversation(conversationID string, participants ...string) {
	s.x.ClearCache(conversationKeys(conversationID, participants...)...)
}
