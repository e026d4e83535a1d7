package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/healthbridge/translator/backend/internal/model/conversation"
)

// RedisStore persists data in Redis under a key prefix:
//
//	<prefix>:conversations          sorted set of ids scored by creation time
//	<prefix>:conversation:<id>      conversation JSON
//	<prefix>:messages:<id>          list of message JSON, oldest first
//	<prefix>:summary:<id>           latest summary JSON
type RedisStore struct {
	client *redis.Client
	prefix string

	// beforeCommit runs between the watched read and the transaction; tests only.
	beforeCommit func()
}

// maxTxAttempts bounds optimistic retries when a watched conversation changes.
const maxTxAttempts = 8

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "translator"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// NewRedisStoreFromURL parses a redis:// URL and connects lazily.
func NewRedisStoreFromURL(url, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisStore(redis.NewClient(opts), prefix), nil
}

func (s *RedisStore) indexKey() string { return s.prefix + ":conversations" }

func (s *RedisStore) conversationKey(id string) string { return s.prefix + ":conversation:" + id }

func (s *RedisStore) messagesKey(id string) string { return s.prefix + ":messages:" + id }

func (s *RedisStore) summaryKey(id string) string { return s.prefix + ":summary:" + id }

func (s *RedisStore) CreateConversation(ctx context.Context, conv conversation.Conversation) error {
	conv.MessageCount = 0
	payload, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.conversationKey(conv.ID), payload, 0)
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{
			Score:  float64(conv.CreatedAt.UnixNano()),
			Member: conv.ID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

func (s *RedisStore) ListConversations(ctx context.Context) ([]conversation.Conversation, error) {
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list conversation ids: %w", err)
	}
	if len(ids) == 0 {
		return []conversation.Conversation{}, nil
	}

	gets := make([]*redis.StringCmd, len(ids))
	counts := make([]*redis.IntCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			gets[i] = pipe.Get(ctx, s.conversationKey(id))
			counts[i] = pipe.LLen(ctx, s.messagesKey(id))
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("load conversations: %w", err)
	}

	out := make([]conversation.Conversation, 0, len(ids))
	for i := range ids {
		raw, err := gets[i].Bytes()
		if errors.Is(err, redis.Nil) {
			// index entry without a body; skip it
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load conversation %s: %w", ids[i], err)
		}
		var conv conversation.Conversation
		if err := json.Unmarshal(raw, &conv); err != nil {
			return nil, fmt.Errorf("decode conversation %s: %w", ids[i], err)
		}
		conv.MessageCount = int(counts[i].Val())
		out = append(out, conv)
	}
	return out, nil
}

func (s *RedisStore) GetConversation(ctx context.Context, id string) (conversation.Conversation, error) {
	conv, err := s.loadConversation(ctx, id)
	if err != nil {
		return conversation.Conversation{}, err
	}

	count, err := s.client.LLen(ctx, s.messagesKey(id)).Result()
	if err != nil {
		return conversation.Conversation{}, fmt.Errorf("count messages: %w", err)
	}
	conv.MessageCount = int(count)
	return conv, nil
}

func (s *RedisStore) loadConversation(ctx context.Context, id string) (conversation.Conversation, error) {
	return s.decodeConversation(s.client.Get(ctx, s.conversationKey(id)))
}

func (s *RedisStore) decodeConversation(cmd *redis.StringCmd) (conversation.Conversation, error) {
	raw, err := cmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return conversation.Conversation{}, ErrConversationNotFound
	}
	if err != nil {
		return conversation.Conversation{}, fmt.Errorf("get conversation: %w", err)
	}

	var conv conversation.Conversation
	if err := json.Unmarshal(raw, &conv); err != nil {
		return conversation.Conversation{}, fmt.Errorf("decode conversation: %w", err)
	}
	return conv, nil
}

func (s *RedisStore) DeleteConversation(ctx context.Context, id string) error {
	var removed *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.Del(ctx, s.conversationKey(id))
		pipe.Del(ctx, s.messagesKey(id), s.summaryKey(id))
		pipe.ZRem(ctx, s.indexKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if removed.Val() == 0 {
		return ErrConversationNotFound
	}
	return nil
}

func (s *RedisStore) AddMessage(ctx context.Context, msg conversation.Message) (conversation.Conversation, error) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	msgPayload, err := json.Marshal(msg)
	if err != nil {
		return conversation.Conversation{}, fmt.Errorf("encode message: %w", err)
	}

	var updated conversation.Conversation
	err = s.updateConversation(ctx, msg.ConversationID, func(tx *redis.Tx, conv conversation.Conversation) error {
		if msg.CreatedAt.After(conv.UpdatedAt) {
			conv.UpdatedAt = msg.CreatedAt
		}
		convPayload, err := json.Marshal(conv)
		if err != nil {
			return fmt.Errorf("encode conversation: %w", err)
		}

		var length *redis.IntCmd
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			length = pipe.RPush(ctx, s.messagesKey(conv.ID), msgPayload)
			pipe.Set(ctx, s.conversationKey(conv.ID), convPayload, 0)
			return nil
		})
		if err != nil {
			return err
		}
		conv.MessageCount = int(length.Val())
		updated = conv
		return nil
	})
	if err != nil {
		return conversation.Conversation{}, err
	}
	return updated, nil
}

// updateConversation runs fn under WATCH on the conversation key, so a
// concurrent delete or update aborts the transaction and the read is retried.
func (s *RedisStore) updateConversation(ctx context.Context, id string, fn func(tx *redis.Tx, conv conversation.Conversation) error) error {
	key := s.conversationKey(id)
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			conv, err := s.decodeConversation(tx.Get(ctx, key))
			if err != nil {
				return err
			}
			if s.beforeCommit != nil {
				s.beforeCommit()
			}
			return fn(tx, conv)
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, ErrConversationNotFound) {
			return fmt.Errorf("update conversation: %w", err)
		}
		return err
	}
	return fmt.Errorf("update conversation %s: %w", id, ErrConflict)
}

func (s *RedisStore) ListMessages(ctx context.Context, conversationID string) ([]conversation.Message, error) {
	if _, err := s.loadConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	return s.readMessages(ctx, conversationID)
}

func (s *RedisStore) readMessages(ctx context.Context, conversationID string) ([]conversation.Message, error) {
	raws, err := s.client.LRange(ctx, s.messagesKey(conversationID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}
	return decodeMessages(raws)
}

func decodeMessages(raws []string) ([]conversation.Message, error) {
	out := make([]conversation.Message, 0, len(raws))
	for _, raw := range raws {
		var msg conversation.Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		out = append(out, msg)
	}
	return out, nil
}

func (s *RedisStore) SearchMessages(ctx context.Context, q SearchQuery) ([]conversation.Message, error) {
	q = q.Normalize()

	if q.ConversationID != "" {
		msgs, err := s.readMessages(ctx, q.ConversationID)
		if err != nil {
			return nil, err
		}
		return filterMessages(msgs, q), nil
	}

	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list conversation ids: %w", err)
	}

	ranges := make([]*redis.StringSliceCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			ranges[i] = pipe.LRange(ctx, s.messagesKey(id), 0, -1)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}

	var all []conversation.Message
	for _, cmd := range ranges {
		msgs, err := decodeMessages(cmd.Val())
		if err != nil {
			return nil, err
		}
		all = append(all, msgs...)
	}
	return filterMessages(all, q), nil
}

func (s *RedisStore) SaveSummary(ctx context.Context, summary conversation.Summary) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}

	return s.updateConversation(ctx, summary.ConversationID, func(tx *redis.Tx, conv conversation.Conversation) error {
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.summaryKey(conv.ID), payload, 0)
			return nil
		})
		return err
	})
}

func (s *RedisStore) GetSummary(ctx context.Context, conversationID string) (conversation.Summary, error) {
	raw, err := s.client.Get(ctx, s.summaryKey(conversationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return conversation.Summary{}, ErrSummaryNotFound
	}
	if err != nil {
		return conversation.Summary{}, fmt.Errorf("get summary: %w", err)
	}

	var summary conversation.Summary
	if err := json.Unmarshal(raw, &summary); err != nil {
		return conversation.Summary{}, fmt.Errorf("decode summary: %w", err)
	}
	return summary, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
