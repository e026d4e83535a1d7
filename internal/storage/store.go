package storage

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/healthbridge/translator/backend/internal/model/conversation"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrSummaryNotFound      = errors.New("summary not found")
	ErrUnknownDriver        = errors.New("unknown storage driver")
	// ErrConflict 表示并发写入反复冲突，重试次数已耗尽。
	ErrConflict = errors.New("conversation modified concurrently")
)

const (
	DefaultSearchLimit = 50
	MaxSearchLimit     = 200
)

// SearchQuery filters transcript search.
type SearchQuery struct {
	Text           string
	ConversationID string
	Limit          int
}

// Normalize trims the query text and clamps Limit into [1, MaxSearchLimit].
func (q SearchQuery) Normalize() SearchQuery {
	q.Text = strings.TrimSpace(q.Text)
	q.ConversationID = strings.TrimSpace(q.ConversationID)
	switch {
	case q.Limit <= 0:
		q.Limit = DefaultSearchLimit
	case q.Limit > MaxSearchLimit:
		q.Limit = MaxSearchLimit
	}
	return q
}

// Store persists conversations, their transcripts and summaries.
type Store interface {
	CreateConversation(ctx context.Context, conv conversation.Conversation) error
	ListConversations(ctx context.Context) ([]conversation.Conversation, error)
	GetConversation(ctx context.Context, id string) (conversation.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error

	// AddMessage appends msg to its conversation's transcript, bumps the
	// conversation's UpdatedAt and returns the updated conversation.
	AddMessage(ctx context.Context, msg conversation.Message) (conversation.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]conversation.Message, error)
	SearchMessages(ctx context.Context, q SearchQuery) ([]conversation.Message, error)

	SaveSummary(ctx context.Context, summary conversation.Summary) error
	GetSummary(ctx context.Context, conversationID string) (conversation.Summary, error)

	Ping(ctx context.Context) error
	Close() error
}

func matches(msg conversation.Message, needle string) bool {
	return strings.Contains(strings.ToLower(msg.OriginalText), needle) ||
		strings.Contains(strings.ToLower(msg.TranslatedText), needle)
}

// filterMessages applies q to msgs, newest first.
func filterMessages(msgs []conversation.Message, q SearchQuery) []conversation.Message {
	needle := strings.ToLower(q.Text)
	out := make([]conversation.Message, 0)
	for _, msg := range msgs {
		if q.ConversationID != "" && msg.ConversationID != q.ConversationID {
			continue
		}
		if matches(msg, needle) {
			out = append(out, msg)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func sortNewestFirst(convs []conversation.Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].CreatedAt.After(convs[j].CreatedAt)
	})
}
