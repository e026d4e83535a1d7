package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/healthbridge/translator/backend/internal/analysis/clinical"
	"github.com/healthbridge/translator/backend/internal/model/conversation"
)

// Provider names recorded on generated summaries.
const (
	ProviderLLM       = "llm"
	ProviderHeuristic = "heuristic"
)

// Config 控制摘要服务的行为。
type Config struct {
	Enabled      bool
	HistoryLimit int
}

// Service 使用大模型生成问诊摘要，失败时回退到关键词分析。
type Service struct {
	enabled      bool
	chain        compose.Runnable[map[string]any, *schema.Message]
	historyLimit int
	logger       *zap.Logger
	now          func() time.Time
}

// NewService 创建摘要服务。chatModel 为 nil 时只使用启发式规则。
func NewService(ctx context.Context, chatModel model.BaseChatModel, cfg Config, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = 80
	}

	svc := &Service{
		enabled:      cfg.Enabled && chatModel != nil,
		historyLimit: historyLimit,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
	if !svc.enabled {
		return svc, nil
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(summarySystemPrompt),
		schema.UserMessage(summaryUserPrompt),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile summary chain: %w", err)
	}
	svc.chain = runnable
	return svc, nil
}

// Enabled 返回是否启用大模型摘要。
func (s *Service) Enabled() bool {
	return s != nil && s.enabled && s.chain != nil
}

// Summarize 为一段对话生成摘要。调用方保证 messages 非空。
func (s *Service) Summarize(ctx context.Context, conv conversation.Conversation, messages []conversation.Message) conversation.Summary {
	if !s.Enabled() {
		return s.heuristic(conv, messages)
	}

	input := map[string]any{
		"doctor_language":  conv.DoctorLanguage,
		"patient_language": conv.PatientLanguage,
		"transcript":       formatTranscript(messages, s.historyLimit),
	}

	msg, err := s.chain.Invoke(ctx, input)
	if err != nil {
		s.logger.Warn("summary model call failed, using heuristic", zap.String("conversation_id", conv.ID), zap.Error(err))
		return s.heuristic(conv, messages)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return s.heuristic(conv, messages)
	}

	payload, err := parseSummaryOutput(msg.Content)
	if err != nil || strings.TrimSpace(payload.Summary) == "" {
		s.logger.Warn("summary model output unusable, using heuristic", zap.String("conversation_id", conv.ID), zap.Error(err))
		return s.heuristic(conv, messages)
	}

	return conversation.Summary{
		ConversationID: conv.ID,
		Summary:        strings.TrimSpace(payload.Summary),
		Symptoms:       cleanList(payload.Symptoms),
		Medications:    cleanList(payload.Medications),
		FollowUp:       cleanList(payload.FollowUp),
		MessageCount:   len(messages),
		Provider:       ProviderLLM,
		GeneratedAt:    s.now(),
	}
}

func (s *Service) heuristic(conv conversation.Conversation, messages []conversation.Message) conversation.Summary {
	texts := make([]string, 0, len(messages)*2)
	doctor, patient := 0, 0
	for _, msg := range messages {
		texts = append(texts, msg.OriginalText, msg.TranslatedText)
		switch msg.Role {
		case conversation.RoleDoctor:
			doctor++
		case conversation.RolePatient:
			patient++
		}
	}
	findings := clinical.Analyze(texts...)

	var b strings.Builder
	fmt.Fprintf(&b, "Consultation with %d messages (%d from the doctor, %d from the patient).", len(messages), doctor, patient)
	if len(findings.Symptoms) > 0 {
		fmt.Fprintf(&b, " Reported symptoms: %s.", strings.Join(findings.Symptoms, ", "))
	}
	if len(findings.Medications) > 0 {
		fmt.Fprintf(&b, " Medications mentioned: %s.", strings.Join(findings.Medications, ", "))
	}
	if len(findings.FollowUp) > 0 {
		fmt.Fprintf(&b, " Follow-up: %s.", strings.Join(findings.FollowUp, ", "))
	}
	if findings.Empty() {
		b.WriteString(" No specific clinical findings were detected.")
	}

	return conversation.Summary{
		ConversationID: conv.ID,
		Summary:        b.String(),
		Symptoms:       findings.Symptoms,
		Medications:    findings.Medications,
		FollowUp:       findings.FollowUp,
		MessageCount:   len(messages),
		Provider:       ProviderHeuristic,
		GeneratedAt:    s.now(),
	}
}

type summaryPayload struct {
	Summary     string   `json:"summary"`
	Symptoms    []string `json:"symptoms"`
	Medications []string `json:"medications"`
	FollowUp    []string `json:"follow_up"`
}

// parseSummaryOutput 解析大模型返回的 JSON，容忍前后多余文本。
func parseSummaryOutput(content string) (*summaryPayload, error) {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("missing json object")
	}

	payload := &summaryPayload{}
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		key := strings.ToLower(item)
		if item == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
	}
	return out
}

func formatTranscript(messages []conversation.Message, limit int) string {
	start := len(messages) - limit
	if start < 0 {
		start = 0
	}

	var b strings.Builder
	for _, msg := range messages[start:] {
		text := strings.TrimSpace(msg.OriginalText)
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "%s (%s): %s", strings.ToUpper(string(msg.Role)), msg.SourceLanguage, text)
		if translated := strings.TrimSpace(msg.TranslatedText); translated != "" && translated != text {
			fmt.Fprintf(&b, " | translated (%s): %s", msg.TargetLanguage, translated)
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

const summarySystemPrompt = "You summarize doctor-patient consultations for the clinical record. " +
	"Read the transcript and respond with only a JSON object with these fields: " +
	"summary (two to four sentences in English), symptoms (array of strings), medications (array of strings), " +
	"follow_up (array of strings with tests, visits or instructions). Use empty arrays when nothing applies. " +
	"Do not invent findings that are not in the transcript."

const summaryUserPrompt = "Doctor language: {doctor_language}\nPatient language: {patient_language}\n\nTranscript:\n{transcript}"
