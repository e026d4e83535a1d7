package conversation_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	model "github.com/healthbridge/translator/backend/internal/model/conversation"
	"github.com/healthbridge/translator/backend/internal/model/language"
	conversation "github.com/healthbridge/translator/backend/internal/service/conversation"
	"github.com/healthbridge/translator/backend/internal/service/summary"
	"github.com/healthbridge/translator/backend/internal/service/translation"
	"github.com/healthbridge/translator/backend/internal/storage"
)

type fakeTranslator struct {
	err error
}

func (f fakeTranslator) Translate(_ context.Context, text, source, target string) (translation.Result, error) {
	if f.err != nil {
		return translation.Result{}, f.err
	}
	return translation.Result{Text: "[" + source + "->" + target + "] " + text, Provider: "fake"}, nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	channels []string
	payloads [][]byte
}

func (p *recordingPublisher) Broadcast(id string, payload []byte) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channels = append(p.channels, id)
	p.payloads = append(p.payloads, payload)
	return 1
}

type fixture struct {
	svc       *conversation.Service
	store     *storage.MemoryStore
	publisher *recordingPublisher
}

func newFixture(t *testing.T, tr conversation.Translator) fixture {
	t.Helper()
	summarizer, err := summary.NewService(context.Background(), nil, summary.Config{}, zap.NewNop())
	require.NoError(t, err)

	store := storage.NewMemoryStore()
	pub := &recordingPublisher{}
	svc := conversation.NewService(store, language.NewMemoryStore(language.Seed()), tr, summarizer, pub, zap.NewNop())
	return fixture{svc: svc, store: store, publisher: pub}
}

func TestCreateDefaultsLanguages(t *testing.T) {
	f := newFixture(t, fakeTranslator{})

	conv, err := f.svc.Create(context.Background(), conversation.CreateInput{})
	require.NoError(t, err)
	assert.NotEmpty(t, conv.ID)
	assert.Equal(t, "en", conv.DoctorLanguage)
	assert.Equal(t, "es", conv.PatientLanguage)
}

func TestCreateRejectsUnknownLanguage(t *testing.T) {
	f := newFixture(t, fakeTranslator{})

	_, err := f.svc.Create(context.Background(), conversation.CreateInput{DoctorLanguage: "en", PatientLanguage: "klingon"})
	assert.ErrorIs(t, err, conversation.ErrInvalidInput)
}

func TestSendMessageTranslatesPersistsAndBroadcasts(t *testing.T) {
	f := newFixture(t, fakeTranslator{})
	ctx := context.Background()
	conv, err := f.svc.Create(ctx, conversation.CreateInput{DoctorLanguage: "en", PatientLanguage: "fr"})
	require.NoError(t, err)

	msg, err := f.svc.SendMessage(ctx, conversation.MessageInput{
		ConversationID: conv.ID,
		Role:           model.RoleDoctor,
		OriginalText:   "Where does it hurt?",
		SourceLanguage: "EN",
		TargetLanguage: "fr",
	})
	require.NoError(t, err)
	assert.Equal(t, "[en->fr] Where does it hurt?", msg.TranslatedText)
	assert.Equal(t, "en", msg.SourceLanguage)

	detail, err := f.svc.Get(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, detail.Messages, 1)
	assert.Equal(t, msg.ID, detail.Messages[0].ID)
	assert.Equal(t, 1, detail.MessageCount)

	require.Len(t, f.publisher.payloads, 1)
	assert.Equal(t, conv.ID, f.publisher.channels[0])
	var pushed model.Message
	require.NoError(t, json.Unmarshal(f.publisher.payloads[0], &pushed))
	assert.Equal(t, msg.ID, pushed.ID)
	assert.Equal(t, msg.TranslatedText, pushed.TranslatedText)
}

func TestSendMessageValidation(t *testing.T) {
	f := newFixture(t, fakeTranslator{})
	ctx := context.Background()
	conv, err := f.svc.Create(ctx, conversation.CreateInput{})
	require.NoError(t, err)

	valid := conversation.MessageInput{
		ConversationID: conv.ID,
		Role:           model.RolePatient,
		OriginalText:   "hola",
		SourceLanguage: "es",
		TargetLanguage: "en",
	}

	cases := map[string]func(in *conversation.MessageInput){
		"missing conversation": func(in *conversation.MessageInput) { in.ConversationID = "" },
		"bad role":             func(in *conversation.MessageInput) { in.Role = "nurse" },
		"no content":           func(in *conversation.MessageInput) { in.OriginalText = "  " },
		"bad language":         func(in *conversation.MessageInput) { in.TargetLanguage = "xx" },
		"missing language":     func(in *conversation.MessageInput) { in.SourceLanguage = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := valid
			mutate(&in)
			_, err := f.svc.SendMessage(ctx, in)
			assert.ErrorIs(t, err, conversation.ErrInvalidInput)
		})
	}

	audioOnly := valid
	audioOnly.OriginalText = ""
	audioOnly.AudioPath = "abc.webm"
	_, err = f.svc.SendMessage(ctx, audioOnly)
	assert.NoError(t, err)
}

func TestSendMessageUnknownConversation(t *testing.T) {
	f := newFixture(t, fakeTranslator{})

	_, err := f.svc.SendMessage(context.Background(), conversation.MessageInput{
		ConversationID: "missing",
		Role:           model.RoleDoctor,
		OriginalText:   "hi",
		SourceLanguage: "en",
		TargetLanguage: "es",
	})
	assert.ErrorIs(t, err, conversation.ErrConversationNotFound)
	assert.Empty(t, f.publisher.payloads)
}

func TestSendMessageTranslationFailure(t *testing.T) {
	f := newFixture(t, fakeTranslator{err: errors.Join(translation.ErrTranslationFailed, errors.New("boom"))})
	ctx := context.Background()
	conv, err := f.svc.Create(ctx, conversation.CreateInput{})
	require.NoError(t, err)

	_, err = f.svc.SendMessage(ctx, conversation.MessageInput{
		ConversationID: conv.ID,
		Role:           model.RoleDoctor,
		OriginalText:   "hi",
		SourceLanguage: "en",
		TargetLanguage: "es",
	})
	assert.ErrorIs(t, err, translation.ErrTranslationFailed)

	msgs, err := f.svc.Messages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs, "nothing is stored when translation fails")
	assert.Empty(t, f.publisher.payloads)
}

func TestSearchRequiresQuery(t *testing.T) {
	f := newFixture(t, fakeTranslator{})

	_, err := f.svc.Search(context.Background(), storage.SearchQuery{Text: "  "})
	assert.ErrorIs(t, err, conversation.ErrInvalidInput)
}

func TestSummarizeLifecycle(t *testing.T) {
	f := newFixture(t, fakeTranslator{})
	ctx := context.Background()
	conv, err := f.svc.Create(ctx, conversation.CreateInput{})
	require.NoError(t, err)

	_, err = f.svc.Summarize(ctx, conv.ID)
	assert.ErrorIs(t, err, conversation.ErrNoMessages)

	_, err = f.svc.Summary(ctx, conv.ID)
	assert.ErrorIs(t, err, conversation.ErrSummaryNotFound)

	_, err = f.svc.SendMessage(ctx, conversation.MessageInput{
		ConversationID: conv.ID,
		Role:           model.RolePatient,
		OriginalText:   "Tengo tos",
		SourceLanguage: "es",
		TargetLanguage: "en",
	})
	require.NoError(t, err)

	generated, err := f.svc.Summarize(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, summary.ProviderHeuristic, generated.Provider)
	assert.Equal(t, []string{"cough"}, generated.Symptoms)

	stored, err := f.svc.Summary(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, generated.Summary, stored.Summary)

	_, err = f.svc.Summarize(ctx, "missing")
	assert.ErrorIs(t, err, conversation.ErrConversationNotFound)
}

func TestDeleteConversation(t *testing.T) {
	f := newFixture(t, fakeTranslator{})
	ctx := context.Background()
	conv, err := f.svc.Create(ctx, conversation.CreateInput{})
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, conv.ID))
	assert.ErrorIs(t, f.svc.Delete(ctx, conv.ID), conversation.ErrConversationNotFound)

	list, err := f.svc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}
