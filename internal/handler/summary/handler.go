package summary

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	conversationService "github.com/healthbridge/translator/backend/internal/service/conversation"
	"github.com/healthbridge/translator/backend/pkg/utils"
)

// Handler 会话摘要的HTTP处理器
type Handler struct {
	svc    *conversationService.Service
	logger *zap.Logger
}

// New 创建摘要处理器
func New(svc *conversationService.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes 注册 /summary 路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/summary", func(r chi.Router) {
		r.Post("/{conversationID}", h.handleGenerate)
		r.Get("/{conversationID}", h.handleGet)
	})
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.Summarize(r.Context(), chi.URLParam(r, "conversationID"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, summary)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.Summary(r.Context(), chi.URLParam(r, "conversationID"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, summary)
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, conversationService.ErrConversationNotFound):
		utils.RespondError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, conversationService.ErrSummaryNotFound):
		utils.RespondError(w, http.StatusNotFound, "summary not found")
	case errors.Is(err, conversationService.ErrNoMessages):
		utils.RespondError(w, http.StatusConflict, "conversation has no messages to summarize")
	default:
		h.logger.Error("summary request failed", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}
