package audio

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	audioService "github.com/healthbridge/translator/backend/internal/service/audio"
	"github.com/healthbridge/translator/backend/pkg/utils"
)

// multipart 头部与其他字段的额外余量
const formOverhead = 1 << 20

// Handler 录音上传与下载的HTTP处理器
type Handler struct {
	svc    *audioService.Service
	logger *zap.Logger
}

// New 创建录音处理器
func New(svc *audioService.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes 注册 /audio 路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/audio", func(r chi.Router) {
		r.Post("/upload", h.handleUpload)
		r.Get("/{filename}", h.handleDownload)
	})
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	if max := h.svc.MaxBytes(); max > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, max+formOverhead)
	}

	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			utils.RespondError(w, http.StatusRequestEntityTooLarge, "audio file too large")
			return
		}
		utils.RespondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	saved, err := h.svc.Save(r.Context(), header.Filename, file)
	switch {
	case errors.Is(err, audioService.ErrUnsupportedFormat):
		utils.RespondError(w, http.StatusUnsupportedMediaType, err.Error())
		return
	case errors.Is(err, audioService.ErrTooLarge):
		utils.RespondError(w, http.StatusRequestEntityTooLarge, "audio file too large")
		return
	case err != nil:
		h.logger.Error("audio upload failed", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "failed to store audio")
		return
	}

	utils.RespondJSON(w, http.StatusCreated, saved)
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	f, info, err := h.svc.Open(chi.URLParam(r, "filename"))
	switch {
	case errors.Is(err, audioService.ErrInvalidName):
		utils.RespondError(w, http.StatusBadRequest, "invalid filename")
		return
	case errors.Is(err, audioService.ErrNotFound):
		utils.RespondError(w, http.StatusNotFound, "audio file not found")
		return
	case err != nil:
		h.logger.Error("audio download failed", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "failed to read audio")
		return
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to read audio")
		return
	}

	w.Header().Set("Content-Type", info.ContentType)
	http.ServeContent(w, r, info.Filename, stat.ModTime(), f)
}
