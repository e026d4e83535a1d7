package search

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/healthbridge/translator/backend/internal/model/conversation"
	conversationService "github.com/healthbridge/translator/backend/internal/service/conversation"
	"github.com/healthbridge/translator/backend/internal/storage"
	"github.com/healthbridge/translator/backend/pkg/utils"
)

// Handler 消息检索的HTTP处理器
type Handler struct {
	svc    *conversationService.Service
	logger *zap.Logger
}

// New 创建检索处理器
func New(svc *conversationService.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes 注册 /search 路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/search", h.handleSearch)
}

type response struct {
	Query   string                 `json:"query"`
	Count   int                    `json:"count"`
	Results []conversation.Message `json:"results"`
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit := 0
	if raw := query.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			utils.RespondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = v
	}

	q := storage.SearchQuery{
		Text:           query.Get("q"),
		ConversationID: query.Get("conversation_id"),
		Limit:          limit,
	}.Normalize()

	results, err := h.svc.Search(r.Context(), q)
	if err != nil {
		if errors.Is(err, conversationService.ErrInvalidInput) {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("search failed", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	utils.RespondJSON(w, http.StatusOK, response{Query: q.Text, Count: len(results), Results: results})
}
