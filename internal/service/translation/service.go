package translation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/healthbridge/translator/backend/internal/model/language"
)

// ErrTranslationFailed wraps any failure of the underlying model.
var ErrTranslationFailed = errors.New("translation failed")

// Provider names reported with each result.
const (
	ProviderIdentity    = "identity"
	ProviderPassthrough = "passthrough"
	ProviderLLM         = "llm"
)

// Result is a translated text and the provider that produced it.
type Result struct {
	Text     string
	Provider string
}

// Service translates utterances between catalog languages.
type Service struct {
	languages language.Store
	chain     compose.Runnable[map[string]any, *schema.Message]
	logger    *zap.Logger
}

// NewService builds the translator. When chatModel is nil the service
// returns text unchanged.
func NewService(ctx context.Context, chatModel model.BaseChatModel, languages language.Store, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	svc := &Service{languages: languages, logger: logger}
	if chatModel == nil {
		return svc, nil
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(translationSystemPrompt),
		schema.UserMessage(translationUserPrompt),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile translation chain: %w", err)
	}
	svc.chain = runnable
	return svc, nil
}

// Enabled reports whether a language model is wired in.
func (s *Service) Enabled() bool {
	return s != nil && s.chain != nil
}

// Translate converts text from source to target.
func (s *Service) Translate(ctx context.Context, text, source, target string) (Result, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || strings.EqualFold(source, target) {
		return Result{Text: text, Provider: ProviderIdentity}, nil
	}
	if !s.Enabled() {
		return Result{Text: text, Provider: ProviderPassthrough}, nil
	}

	input := map[string]any{
		"source": s.languageName(source),
		"target": s.languageName(target),
		"text":   trimmed,
	}

	msg, err := s.chain.Invoke(ctx, input)
	if err != nil {
		s.logger.Warn("translation model call failed",
			zap.String("source", source),
			zap.String("target", target),
			zap.Error(err),
		)
		return Result{}, fmt.Errorf("%w: %v", ErrTranslationFailed, err)
	}

	out := cleanOutput(msg)
	if out == "" {
		return Result{}, fmt.Errorf("%w: empty model output", ErrTranslationFailed)
	}

	s.logger.Debug("translated message",
		zap.String("source", source),
		zap.String("target", target),
		zap.Int("length", len(out)),
	)
	return Result{Text: out, Provider: ProviderLLM}, nil
}

func (s *Service) languageName(code string) string {
	if s.languages != nil {
		if lang, ok := s.languages.FindByCode(code); ok {
			return fmt.Sprintf("%s (%s)", lang.Name, lang.Code)
		}
	}
	return code
}

// cleanOutput strips whitespace and wrapping quotes models sometimes add.
func cleanOutput(msg *schema.Message) string {
	if msg == nil {
		return ""
	}
	out := strings.TrimSpace(msg.Content)
	if len(out) >= 2 {
		if (out[0] == '"' && out[len(out)-1] == '"') || (out[0] == '`' && out[len(out)-1] == '`') {
			out = strings.TrimSpace(out[1 : len(out)-1])
		}
	}
	return out
}

const translationSystemPrompt = "You are a professional medical interpreter working between a doctor and a patient. " +
	"Translate the user's message faithfully, keeping medical terms, dosages, numbers and units exact. " +
	"Use plain wording a patient can understand. Output only the translation, with no notes, quotes or explanations."

const translationUserPrompt = "Translate from {source} to {target}:\n\n{text}"
