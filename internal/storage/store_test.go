package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/healthbridge/translator/backend/internal/config"
	"github.com/healthbridge/translator/backend/internal/model/conversation"
)

func newRedisTestStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(client, "test")
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// forEachDriver runs fn against every Store implementation.
func forEachDriver(t *testing.T, fn func(t *testing.T, store Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore()) })
	t.Run("redis", func(t *testing.T) { fn(t, newRedisTestStore(t)) })
}

var base = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func newConversation(id string, offset time.Duration) conversation.Conversation {
	at := base.Add(offset)
	return conversation.Conversation{
		ID:              id,
		DoctorLanguage:  "en",
		PatientLanguage: "es",
		CreatedAt:       at,
		UpdatedAt:       at,
	}
}

func newMessage(convID, id, original, translated string, offset time.Duration) conversation.Message {
	return conversation.Message{
		ID:             id,
		ConversationID: convID,
		Role:           conversation.RoleDoctor,
		OriginalText:   original,
		TranslatedText: translated,
		SourceLanguage: "en",
		TargetLanguage: "es",
		CreatedAt:      base.Add(offset),
	}
}

func TestConversationLifecycle(t *testing.T) {
	forEachDriver(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		require.NoError(t, store.CreateConversation(ctx, newConversation("c1", 0)))
		require.NoError(t, store.CreateConversation(ctx, newConversation("c2", time.Minute)))

		list, err := store.ListConversations(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "c2", list[0].ID, "newest first")
		assert.Equal(t, "c1", list[1].ID)

		got, err := store.GetConversation(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, "es", got.PatientLanguage)
		assert.Equal(t, 0, got.MessageCount)

		require.NoError(t, store.DeleteConversation(ctx, "c1"))
		_, err = store.GetConversation(ctx, "c1")
		assert.ErrorIs(t, err, ErrConversationNotFound)
		assert.ErrorIs(t, store.DeleteConversation(ctx, "c1"), ErrConversationNotFound)
	})
}

func TestAddMessageUpdatesConversation(t *testing.T) {
	forEachDriver(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		require.NoError(t, store.CreateConversation(ctx, newConversation("c1", 0)))

		conv, err := store.AddMessage(ctx, newMessage("c1", "m1", "hello", "hola", time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 1, conv.MessageCount)
		assert.True(t, conv.UpdatedAt.Equal(base.Add(time.Minute)))

		_, err = store.AddMessage(ctx, newMessage("c1", "m2", "fever", "fiebre", 2*time.Minute))
		require.NoError(t, err)

		msgs, err := store.ListMessages(ctx, "c1")
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "m1", msgs[0].ID)
		assert.Equal(t, "m2", msgs[1].ID)

		got, err := store.GetConversation(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, 2, got.MessageCount)
		assert.True(t, got.UpdatedAt.Equal(base.Add(2*time.Minute)))

		list, err := store.ListConversations(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, list[0].MessageCount)
	})
}

func TestAddMessageUnknownConversation(t *testing.T) {
	forEachDriver(t, func(t *testing.T, store Store) {
		_, err := store.AddMessage(context.Background(), newMessage("nope", "m1", "hi", "hola", 0))
		assert.ErrorIs(t, err, ErrConversationNotFound)

		_, err = store.ListMessages(context.Background(), "nope")
		assert.ErrorIs(t, err, ErrConversationNotFound)
	})
}

func TestAddMessageKeepsLatestUpdatedAt(t *testing.T) {
	forEachDriver(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		require.NoError(t, store.CreateConversation(ctx, newConversation("c1", 0)))

		_, err := store.AddMessage(ctx, newMessage("c1", "m2", "later", "después", 2*time.Minute))
		require.NoError(t, err)
		conv, err := store.AddMessage(ctx, newMessage("c1", "m1", "earlier", "antes", time.Minute))
		require.NoError(t, err)
		assert.True(t, conv.UpdatedAt.Equal(base.Add(2*time.Minute)))

		got, err := store.GetConversation(ctx, "c1")
		require.NoError(t, err)
		assert.True(t, got.UpdatedAt.Equal(base.Add(2*time.Minute)))
	})
}

func TestRedisAddMessageRacingDelete(t *testing.T) {
	store := newRedisTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateConversation(ctx, newConversation("c1", 0)))

	var once sync.Once
	store.beforeCommit = func() {
		once.Do(func() { require.NoError(t, store.DeleteConversation(ctx, "c1")) })
	}

	_, err := store.AddMessage(ctx, newMessage("c1", "m1", "hello", "hola", time.Minute))
	assert.ErrorIs(t, err, ErrConversationNotFound)

	for _, key := range []string{store.conversationKey("c1"), store.messagesKey("c1")} {
		n, err := store.client.Exists(ctx, key).Result()
		require.NoError(t, err)
		assert.Zero(t, n, key)
	}
	_, err = store.GetConversation(ctx, "c1")
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestRedisSaveSummaryRacingDelete(t *testing.T) {
	store := newRedisTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateConversation(ctx, newConversation("c1", 0)))

	var once sync.Once
	store.beforeCommit = func() {
		once.Do(func() { require.NoError(t, store.DeleteConversation(ctx, "c1")) })
	}

	err := store.SaveSummary(ctx, conversation.Summary{ConversationID: "c1", Summary: "x"})
	assert.ErrorIs(t, err, ErrConversationNotFound)

	_, err = store.GetSummary(ctx, "c1")
	assert.ErrorIs(t, err, ErrSummaryNotFound)
}

func TestRedisAddMessageRetriesOnConcurrentUpdate(t *testing.T) {
	store := newRedisTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateConversation(ctx, newConversation("c1", 0)))

	// A competing append commits between the read and the transaction.
	var once sync.Once
	store.beforeCommit = func() {
		once.Do(func() {
			other := NewRedisStore(store.client, "test")
			_, err := other.AddMessage(ctx, newMessage("c1", "m2", "later", "después", 3*time.Minute))
			require.NoError(t, err)
		})
	}

	conv, err := store.AddMessage(ctx, newMessage("c1", "m1", "hello", "hola", time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, conv.MessageCount)
	assert.True(t, conv.UpdatedAt.Equal(base.Add(3*time.Minute)))

	msgs, err := store.ListMessages(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m2", msgs[0].ID)
	assert.Equal(t, "m1", msgs[1].ID)
}

func TestSearchMessages(t *testing.T) {
	forEachDriver(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		require.NoError(t, store.CreateConversation(ctx, newConversation("c1", 0)))
		require.NoError(t, store.CreateConversation(ctx, newConversation("c2", time.Second)))

		_, err := store.AddMessage(ctx, newMessage("c1", "m1", "I have a Headache", "Tengo dolor de cabeza", time.Minute))
		require.NoError(t, err)
		_, err = store.AddMessage(ctx, newMessage("c2", "m2", "headache since monday", "dolor desde el lunes", 2*time.Minute))
		require.NoError(t, err)
		_, err = store.AddMessage(ctx, newMessage("c2", "m3", "take water", "beba agua", 3*time.Minute))
		require.NoError(t, err)

		res, err := store.SearchMessages(ctx, SearchQuery{Text: "HEADACHE"})
		require.NoError(t, err)
		require.Len(t, res, 2)
		assert.Equal(t, "m2", res[0].ID, "newest first")
		assert.Equal(t, "m1", res[1].ID)

		res, err = store.SearchMessages(ctx, SearchQuery{Text: "cabeza"})
		require.NoError(t, err)
		require.Len(t, res, 1, "translated text is searched")

		res, err = store.SearchMessages(ctx, SearchQuery{Text: "headache", ConversationID: "c1"})
		require.NoError(t, err)
		require.Len(t, res, 1)
		assert.Equal(t, "m1", res[0].ID)

		res, err = store.SearchMessages(ctx, SearchQuery{Text: "a", Limit: 1})
		require.NoError(t, err)
		assert.Len(t, res, 1)
	})
}

func TestSummaries(t *testing.T) {
	forEachDriver(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		require.NoError(t, store.CreateConversation(ctx, newConversation("c1", 0)))

		_, err := store.GetSummary(ctx, "c1")
		assert.ErrorIs(t, err, ErrSummaryNotFound)

		summary := conversation.Summary{
			ConversationID: "c1",
			Summary:        "Patient reports headache.",
			Symptoms:       []string{"headache"},
			MessageCount:   1,
			Provider:       "heuristic",
			GeneratedAt:    base,
		}
		require.NoError(t, store.SaveSummary(ctx, summary))

		got, err := store.GetSummary(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, summary.Summary, got.Summary)
		assert.Equal(t, []string{"headache"}, got.Symptoms)

		assert.ErrorIs(t, store.SaveSummary(ctx, conversation.Summary{ConversationID: "missing"}), ErrConversationNotFound)

		require.NoError(t, store.DeleteConversation(ctx, "c1"))
		_, err = store.GetSummary(ctx, "c1")
		assert.ErrorIs(t, err, ErrSummaryNotFound)
	})
}

func TestSearchQueryNormalize(t *testing.T) {
	assert.Equal(t, DefaultSearchLimit, SearchQuery{}.Normalize().Limit)
	assert.Equal(t, MaxSearchLimit, SearchQuery{Limit: 1000}.Normalize().Limit)
	assert.Equal(t, "fever", SearchQuery{Text: "  fever "}.Normalize().Text)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	store, err := Open(ctx, config.StorageConfig{Driver: "memory"}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)

	mr := miniredis.RunT(t)
	store, err = Open(ctx, config.StorageConfig{Driver: "redis", RedisURL: "redis://" + mr.Addr() + "/0", KeyPrefix: "t"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &RedisStore{}, store)
	require.NoError(t, store.Close())

	_, err = Open(ctx, config.StorageConfig{Driver: "sqlite"}, nil)
	assert.ErrorIs(t, err, ErrUnknownDriver)
}

func TestOpenUnreachableRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := Open(ctx, config.StorageConfig{Driver: "redis", RedisURL: "redis://" + addr}, nil)
	assert.Error(t, err)
}

func TestRedisKeyLayout(t *testing.T) {
	mr := miniredis.RunT(t)
	store := NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "hb")
	ctx := context.Background()

	require.NoError(t, store.CreateConversation(ctx, newConversation("c1", 0)))
	_, err := store.AddMessage(ctx, newMessage("c1", "m1", "hi", "hola", 0))
	require.NoError(t, err)

	assert.True(t, mr.Exists("hb:conversation:c1"))
	assert.True(t, mr.Exists("hb:messages:c1"))
	members, err := mr.ZMembers("hb:conversations")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, members)
}
