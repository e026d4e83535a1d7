package root

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/healthbridge/translator/backend/internal/model/language"
	"github.com/healthbridge/translator/backend/pkg/utils"
)

// Version is reported by GET /.
const Version = "1.0.0"

// Handler 提供服务状态与语言目录。
type Handler struct {
	languages language.Store
}

// New 创建根处理器
func New(languages language.Store) *Handler {
	return &Handler{languages: languages}
}

// RegisterRoutes 注册根路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.handleStatus)
	r.Get("/languages", h.handleListLanguages)
}

func (h *Handler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"message": "Healthcare Translation API",
		"version": Version,
		"status":  "running",
	})
}

func (h *Handler) handleListLanguages(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.languages.List())
}
