package storage

import (
	"context"
	"sync"
	"time"

	"github.com/healthbridge/translator/backend/internal/model/conversation"
)

// MemoryStore keeps everything in process memory. Data is lost on restart.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]conversation.Conversation
	messages      map[string][]conversation.Message
	summaries     map[string]conversation.Summary
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]conversation.Conversation),
		messages:      make(map[string][]conversation.Message),
		summaries:     make(map[string]conversation.Summary),
	}
}

func (s *MemoryStore) CreateConversation(_ context.Context, conv conversation.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv.MessageCount = 0
	s.conversations[conv.ID] = conv
	s.messages[conv.ID] = make([]conversation.Message, 0, 16)
	return nil
}

func (s *MemoryStore) ListConversations(_ context.Context) ([]conversation.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]conversation.Conversation, 0, len(s.conversations))
	for id, conv := range s.conversations {
		conv.MessageCount = len(s.messages[id])
		out = append(out, conv)
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *MemoryStore) GetConversation(_ context.Context, id string) (conversation.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return conversation.Conversation{}, ErrConversationNotFound
	}
	conv.MessageCount = len(s.messages[id])
	return conv, nil
}

func (s *MemoryStore) DeleteConversation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[id]; !ok {
		return ErrConversationNotFound
	}
	delete(s.conversations, id)
	delete(s.messages, id)
	delete(s.summaries, id)
	return nil
}

func (s *MemoryStore) AddMessage(_ context.Context, msg conversation.Message) (conversation.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[msg.ConversationID]
	if !ok {
		return conversation.Conversation{}, ErrConversationNotFound
	}

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	s.messages[conv.ID] = append(s.messages[conv.ID], msg)

	if msg.CreatedAt.After(conv.UpdatedAt) {
		conv.UpdatedAt = msg.CreatedAt
	}
	s.conversations[conv.ID] = conv
	conv.MessageCount = len(s.messages[conv.ID])
	return conv, nil
}

func (s *MemoryStore) ListMessages(_ context.Context, conversationID string) ([]conversation.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.conversations[conversationID]; !ok {
		return nil, ErrConversationNotFound
	}
	messages := s.messages[conversationID]
	copied := make([]conversation.Message, len(messages))
	copy(copied, messages)
	return copied, nil
}

func (s *MemoryStore) SearchMessages(_ context.Context, q SearchQuery) ([]conversation.Message, error) {
	q = q.Normalize()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []conversation.Message
	if q.ConversationID != "" {
		all = s.messages[q.ConversationID]
	} else {
		for _, msgs := range s.messages {
			all = append(all, msgs...)
		}
	}
	return filterMessages(all, q), nil
}

func (s *MemoryStore) SaveSummary(_ context.Context, summary conversation.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[summary.ConversationID]; !ok {
		return ErrConversationNotFound
	}
	s.summaries[summary.ConversationID] = summary
	return nil
}

func (s *MemoryStore) GetSummary(_ context.Context, conversationID string) (conversation.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary, ok := s.summaries[conversationID]
	if !ok {
		return conversation.Summary{}, ErrSummaryNotFound
	}
	return summary, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
