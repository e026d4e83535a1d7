package message

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	conversationService "github.com/healthbridge/translator/backend/internal/service/conversation"
	"github.com/healthbridge/translator/backend/internal/service/translation"
	"github.com/healthbridge/translator/backend/pkg/utils"
)

// Handler 消息的HTTP处理器
type Handler struct {
	svc    *conversationService.Service
	logger *zap.Logger
}

// New 创建消息处理器
func New(svc *conversationService.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes 注册 /messages 路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/messages", func(r chi.Router) {
		r.Post("/", h.handleSend)
		r.Get("/{conversationID}", h.handleList)
	})
}

// handleSend 翻译并保存消息，随后推送给该会话的 WebSocket 客户端
func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	var payload conversationService.MessageInput
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := h.svc.SendMessage(r.Context(), payload)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, msg)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.svc.Messages(r.Context(), chi.URLParam(r, "conversationID"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, msgs)
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, conversationService.ErrInvalidInput):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, conversationService.ErrConversationNotFound):
		utils.RespondError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, translation.ErrTranslationFailed):
		h.logger.Warn("translation failed", zap.Error(err))
		utils.RespondError(w, http.StatusBadGateway, "translation failed")
	default:
		h.logger.Error("message request failed", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}
