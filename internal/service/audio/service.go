package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrTooLarge          = errors.New("audio file too large")
	ErrNotFound          = errors.New("audio file not found")
	ErrInvalidName       = errors.New("invalid audio file name")
)

var contentTypes = map[string]string{
	".webm": "audio/webm",
	".wav":  "audio/wav",
	".mp3":  "audio/mpeg",
	".ogg":  "audio/ogg",
	".m4a":  "audio/mp4",
}

// File 描述一个已保存的录音。
type File struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// Config 控制录音存储。
type Config struct {
	Dir       string
	MaxBytes  int64
	Retention time.Duration
}

// Service 把上传的录音保存在本地目录，并定期清理过期文件。
type Service struct {
	dir       string
	maxBytes  int64
	retention time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewService 创建录音服务，必要时创建存储目录。
func NewService(cfg Config, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dir := cfg.Dir
	if dir == "" {
		dir = "uploads"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}

	return &Service{
		dir:       dir,
		maxBytes:  cfg.MaxBytes,
		retention: cfg.Retention,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// MaxBytes 返回单个文件的大小上限，0 表示不限制。
func (s *Service) MaxBytes() int64 {
	return s.maxBytes
}

// ContentType 根据扩展名返回 MIME 类型。
func ContentType(name string) (string, bool) {
	ct, ok := contentTypes[strings.ToLower(filepath.Ext(name))]
	return ct, ok
}

// Save 以随机文件名保存录音，扩展名沿用原始文件名。
func (s *Service) Save(_ context.Context, originalName string, r io.Reader) (File, error) {
	ext := strings.ToLower(filepath.Ext(originalName))
	contentType, ok := contentTypes[ext]
	if !ok {
		return File{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	name := uuid.NewString() + ext
	path := filepath.Join(s.dir, name)

	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return File{}, fmt.Errorf("create audio file: %w", err)
	}

	src := r
	if s.maxBytes > 0 {
		src = io.LimitReader(r, s.maxBytes+1)
	}
	written, copyErr := io.Copy(out, src)
	closeErr := out.Close()

	switch {
	case copyErr != nil:
		_ = os.Remove(path)
		return File{}, fmt.Errorf("write audio file: %w", copyErr)
	case closeErr != nil:
		_ = os.Remove(path)
		return File{}, fmt.Errorf("close audio file: %w", closeErr)
	case s.maxBytes > 0 && written > s.maxBytes:
		_ = os.Remove(path)
		return File{}, ErrTooLarge
	}

	s.logger.Info("audio saved", zap.String("filename", name), zap.Int64("size", written))
	return File{Filename: name, ContentType: contentType, Size: written}, nil
}

// Open 打开一个已保存的录音。调用方负责关闭返回的文件。
func (s *Service) Open(name string) (*os.File, File, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) {
		return nil, File{}, ErrInvalidName
	}
	contentType, ok := ContentType(name)
	if !ok {
		return nil, File{}, ErrInvalidName
	}

	f, err := os.Open(filepath.Join(s.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, File{}, ErrNotFound
	}
	if err != nil {
		return nil, File{}, fmt.Errorf("open audio file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, File{}, fmt.Errorf("stat audio file: %w", err)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, File{}, ErrNotFound
	}
	return f, File{Filename: name, ContentType: contentType, Size: info.Size()}, nil
}

// Purge 删除修改时间早于保留期的录音，返回删除数量。保留期为 0 时不做任何事。
func (s *Service) Purge() (int, error) {
	if s.retention <= 0 {
		return 0, nil
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read upload dir: %w", err)
	}

	cutoff := s.now().Add(-s.retention)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := ContentType(entry.Name()); !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("failed to purge audio file", zap.String("filename", entry.Name()), zap.Error(err))
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info("purged expired audio", zap.Int("count", removed), zap.Duration("retention", s.retention))
	}
	return removed, nil
}
