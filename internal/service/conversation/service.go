package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/healthbridge/translator/backend/internal/model/conversation"
	"github.com/healthbridge/translator/backend/internal/model/language"
	"github.com/healthbridge/translator/backend/internal/service/translation"
	"github.com/healthbridge/translator/backend/internal/storage"
)

var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrConversationNotFound = storage.ErrConversationNotFound
	ErrSummaryNotFound      = storage.ErrSummaryNotFound
	ErrNoMessages           = errors.New("conversation has no messages")
)

// Default languages for a new conversation.
const (
	DefaultDoctorLanguage  = "en"
	DefaultPatientLanguage = "es"
)

// Translator turns text from one language into another.
type Translator interface {
	Translate(ctx context.Context, text, source, target string) (translation.Result, error)
}

// Summarizer produces a conversation summary from its transcript.
type Summarizer interface {
	Summarize(ctx context.Context, conv conversation.Conversation, messages []conversation.Message) conversation.Summary
}

// Publisher pushes a payload to every live client of a conversation.
type Publisher interface {
	Broadcast(conversationID string, payload []byte) int
}

// CreateInput 是创建会话的参数，空值使用默认语言。
type CreateInput struct {
	DoctorLanguage  string `json:"doctor_language"`
	PatientLanguage string `json:"patient_language"`
}

// MessageInput 是发送一条消息的参数。
type MessageInput struct {
	ConversationID string            `json:"conversation_id"`
	Role           conversation.Role `json:"role"`
	OriginalText   string            `json:"original_text"`
	SourceLanguage string            `json:"source_language"`
	TargetLanguage string            `json:"target_language"`
	AudioPath      string            `json:"audio_path"`
}

// Service 负责会话、消息、检索与摘要的业务流程。
type Service struct {
	store      storage.Store
	languages  language.Store
	translator Translator
	summarizer Summarizer
	publisher  Publisher
	logger     *zap.Logger
	now        func() time.Time
}

// NewService wires the conversation workflow. publisher may be nil.
func NewService(store storage.Store, languages language.Store, translator Translator, summarizer Summarizer, publisher Publisher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:      store,
		languages:  languages,
		translator: translator,
		summarizer: summarizer,
		publisher:  publisher,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Create 新建一个会话。
func (s *Service) Create(ctx context.Context, in CreateInput) (conversation.Conversation, error) {
	doctor := normalizeCode(in.DoctorLanguage, DefaultDoctorLanguage)
	patient := normalizeCode(in.PatientLanguage, DefaultPatientLanguage)
	if err := s.checkLanguages(doctor, patient); err != nil {
		return conversation.Conversation{}, err
	}

	now := s.now()
	conv := conversation.Conversation{
		ID:              uuid.NewString(),
		DoctorLanguage:  doctor,
		PatientLanguage: patient,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return conversation.Conversation{}, err
	}

	s.logger.Info("conversation created",
		zap.String("conversation_id", conv.ID),
		zap.String("doctor_language", doctor),
		zap.String("patient_language", patient),
	)
	return conv, nil
}

// List 返回全部会话，最新的在前。
func (s *Service) List(ctx context.Context) ([]conversation.Conversation, error) {
	return s.store.ListConversations(ctx)
}

// Get 返回会话及其完整记录。
func (s *Service) Get(ctx context.Context, id string) (conversation.Detail, error) {
	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return conversation.Detail{}, err
	}
	messages, err := s.store.ListMessages(ctx, id)
	if err != nil {
		return conversation.Detail{}, err
	}
	return conversation.Detail{Conversation: conv, Messages: messages}, nil
}

// Delete 删除会话及其消息与摘要。
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteConversation(ctx, id); err != nil {
		return err
	}
	s.logger.Info("conversation deleted", zap.String("conversation_id", id))
	return nil
}

// SendMessage 校验、翻译并保存一条消息，然后推送给该会话的在线客户端。
func (s *Service) SendMessage(ctx context.Context, in MessageInput) (conversation.Message, error) {
	in.ConversationID = strings.TrimSpace(in.ConversationID)
	in.SourceLanguage = normalizeCode(in.SourceLanguage, "")
	in.TargetLanguage = normalizeCode(in.TargetLanguage, "")
	in.AudioPath = strings.TrimSpace(in.AudioPath)

	if in.ConversationID == "" {
		return conversation.Message{}, fmt.Errorf("%w: conversation_id is required", ErrInvalidInput)
	}
	if !in.Role.Valid() {
		return conversation.Message{}, fmt.Errorf("%w: role must be doctor or patient", ErrInvalidInput)
	}
	if strings.TrimSpace(in.OriginalText) == "" && in.AudioPath == "" {
		return conversation.Message{}, fmt.Errorf("%w: original_text or audio_path is required", ErrInvalidInput)
	}
	if err := s.checkLanguages(in.SourceLanguage, in.TargetLanguage); err != nil {
		return conversation.Message{}, err
	}

	if _, err := s.store.GetConversation(ctx, in.ConversationID); err != nil {
		return conversation.Message{}, err
	}

	result, err := s.translator.Translate(ctx, in.OriginalText, in.SourceLanguage, in.TargetLanguage)
	if err != nil {
		return conversation.Message{}, err
	}

	msg := conversation.Message{
		ID:             uuid.NewString(),
		ConversationID: in.ConversationID,
		Role:           in.Role,
		OriginalText:   in.OriginalText,
		TranslatedText: result.Text,
		SourceLanguage: in.SourceLanguage,
		TargetLanguage: in.TargetLanguage,
		AudioPath:      in.AudioPath,
		CreatedAt:      s.now(),
	}
	if _, err := s.store.AddMessage(ctx, msg); err != nil {
		return conversation.Message{}, err
	}

	s.publish(msg)
	return msg, nil
}

func (s *Service) publish(msg conversation.Message) {
	if s.publisher == nil {
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("encode message for broadcast", zap.String("message_id", msg.ID), zap.Error(err))
		return
	}
	delivered := s.publisher.Broadcast(msg.ConversationID, payload)
	s.logger.Debug("message broadcast",
		zap.String("conversation_id", msg.ConversationID),
		zap.String("message_id", msg.ID),
		zap.Int("delivered", delivered),
	)
}

// Messages 返回会话的消息，按时间顺序。
func (s *Service) Messages(ctx context.Context, conversationID string) ([]conversation.Message, error) {
	return s.store.ListMessages(ctx, conversationID)
}

// Search 在原文和译文中做不区分大小写的子串匹配。
func (s *Service) Search(ctx context.Context, q storage.SearchQuery) ([]conversation.Message, error) {
	q = q.Normalize()
	if q.Text == "" {
		return nil, fmt.Errorf("%w: q is required", ErrInvalidInput)
	}
	return s.store.SearchMessages(ctx, q)
}

// Summarize 生成并保存最新摘要。
func (s *Service) Summarize(ctx context.Context, conversationID string) (conversation.Summary, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return conversation.Summary{}, err
	}
	messages, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return conversation.Summary{}, err
	}
	if len(messages) == 0 {
		return conversation.Summary{}, ErrNoMessages
	}

	summary := s.summarizer.Summarize(ctx, conv, messages)
	if err := s.store.SaveSummary(ctx, summary); err != nil {
		return conversation.Summary{}, err
	}

	s.logger.Info("summary generated",
		zap.String("conversation_id", conversationID),
		zap.String("provider", summary.Provider),
		zap.Int("message_count", summary.MessageCount),
	)
	return summary, nil
}

// Summary 返回最近一次生成的摘要。
func (s *Service) Summary(ctx context.Context, conversationID string) (conversation.Summary, error) {
	if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
		return conversation.Summary{}, err
	}
	return s.store.GetSummary(ctx, conversationID)
}

func (s *Service) checkLanguages(codes ...string) error {
	for _, code := range codes {
		if code == "" {
			return fmt.Errorf("%w: language is required", ErrInvalidInput)
		}
		if _, ok := s.languages.FindByCode(code); !ok {
			return fmt.Errorf("%w: unsupported language %q", ErrInvalidInput, code)
		}
	}
	return nil
}

func normalizeCode(code, fallback string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return fallback
	}
	return code
}
