package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// DefaultAllowedOrigins 为本地开发前端的默认来源。
var DefaultAllowedOrigins = []string{"http://localhost:3000", "http://localhost:3001"}

// Config 聚合整个服务的配置项。
type Config struct {
	Server    ServerConfig
	Log       LogConfig
	AI        AIConfig
	Storage   StorageConfig
	Audio     AudioConfig
	Relay     RelayConfig
	Languages LanguagesConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	storage, err := loadStorageConfig()
	if err != nil {
		return nil, err
	}

	audio, err := loadAudioConfig()
	if err != nil {
		return nil, err
	}

	relay, err := loadRelayConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:  server,
		Log:     loadLogConfig(),
		AI:      ai,
		Storage: storage,
		Audio:   audio,
		Relay:   relay,
		Languages: LanguagesConfig{
			File: strings.TrimSpace(os.Getenv("LANGUAGES_FILE")),
		},
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

// loadServerConfig 解析服务器监听地址与 CORS 来源。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8000"
	}

	origins := parseListEnv("ALLOWED_ORIGINS")
	if len(origins) == 0 {
		origins = append([]string(nil), DefaultAllowedOrigins...)
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8000" 或 "127.0.0.1:8000"。
		return ServerConfig{Addr: port, AllowedOrigins: origins}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, AllowedOrigins: origins}, nil
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level  string
	Format string
}

func loadLogConfig() LogConfig {
	return LogConfig{
		Level:  getEnvOrDefault("LOG_LEVEL", "info"),
		Format: getEnvOrDefault("LOG_FORMAT", "json"),
	}
}

// AIConfig 描述大模型相关配置，翻译与摘要共用同一个模型。
type AIConfig struct {
	APIKey             string
	AccessKey          string
	SecretKey          string
	Model              string
	BaseURL            string
	Region             string
	Temperature        *float64
	MaxTokens          *int
	TranslationEnabled bool
	SummaryEnabled     bool
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.BaseChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials or model missing: provide ARK_API_KEY + ARK_MODEL or an AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	translation, err := parseBoolEnv("AI_TRANSLATION_ENABLED", true)
	if err != nil {
		return AIConfig{}, err
	}

	summary, err := parseBoolEnv("AI_SUMMARY_ENABLED", true)
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:             strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:          strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:          strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:              strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:            getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:             getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:        temperature,
		MaxTokens:          maxTokens,
		TranslationEnabled: translation,
		SummaryEnabled:     summary,
	}, nil
}

// StorageConfig 描述持久化后端。
type StorageConfig struct {
	Driver    string
	RedisURL  string
	KeyPrefix string
}

func loadStorageConfig() (StorageConfig, error) {
	driver := strings.ToLower(getEnvOrDefault("STORAGE_DRIVER", "memory"))
	switch driver {
	case "memory", "redis":
	default:
		return StorageConfig{}, fmt.Errorf("invalid STORAGE_DRIVER value %q: expected memory or redis", driver)
	}

	cfg := StorageConfig{
		Driver:    driver,
		RedisURL:  getEnvOrDefault("REDIS_URL", "redis://localhost:6379/0"),
		KeyPrefix: getEnvOrDefault("REDIS_KEY_PREFIX", "translator"),
	}
	return cfg, nil
}

// AudioConfig 描述音频上传与清理。
type AudioConfig struct {
	UploadDir       string
	MaxUploadBytes  int64
	Retention       time.Duration
	CleanupSchedule string
}

func loadAudioConfig() (AudioConfig, error) {
	maxMB, err := parseOptionalIntEnv("AUDIO_MAX_UPLOAD_MB")
	if err != nil {
		return AudioConfig{}, err
	}
	maxUploadMB := 25 // 默认25MB
	if maxMB != nil {
		if *maxMB < 1 {
			return AudioConfig{}, fmt.Errorf("invalid AUDIO_MAX_UPLOAD_MB value %d: must be positive", *maxMB)
		}
		maxUploadMB = *maxMB
	}

	retentionHours, err := parseOptionalIntEnv("AUDIO_RETENTION_HOURS")
	if err != nil {
		return AudioConfig{}, err
	}
	retention := 72 * time.Hour
	if retentionHours != nil {
		// 0 表示永久保留
		if *retentionHours < 0 {
			return AudioConfig{}, fmt.Errorf("invalid AUDIO_RETENTION_HOURS value %d: must not be negative", *retentionHours)
		}
		retention = time.Duration(*retentionHours) * time.Hour
	}

	return AudioConfig{
		UploadDir:       getEnvOrDefault("AUDIO_UPLOAD_DIR", "uploads"),
		MaxUploadBytes:  int64(maxUploadMB) << 20,
		Retention:       retention,
		CleanupSchedule: getEnvOrDefault("AUDIO_CLEANUP_SCHEDULE", "@every 1h"),
	}, nil
}

// RelayConfig 描述 WebSocket 中继的连接参数。
type RelayConfig struct {
	PongWait     time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
	ReadLimit    int64
	FrameRate    float64
	FrameBurst   int
}

func loadRelayConfig() (RelayConfig, error) {
	pongWait, err := parseDurationEnv("WS_PONG_WAIT", 60*time.Second)
	if err != nil {
		return RelayConfig{}, err
	}

	writeTimeout, err := parseDurationEnv("WS_WRITE_TIMEOUT", 10*time.Second)
	if err != nil {
		return RelayConfig{}, err
	}

	sendBuffer := 32
	if v, err := parseOptionalIntEnv("WS_SEND_BUFFER"); err != nil {
		return RelayConfig{}, err
	} else if v != nil {
		if *v < 1 {
			sendBuffer = 1
		} else {
			sendBuffer = *v
		}
	}

	readLimit := int64(64 << 10)
	if v, err := parseOptionalIntEnv("WS_READ_LIMIT"); err != nil {
		return RelayConfig{}, err
	} else if v != nil && *v > 0 {
		readLimit = int64(*v)
	}

	frameRate := 20.0
	if v, err := parseOptionalFloatEnv("WS_FRAME_RATE"); err != nil {
		return RelayConfig{}, err
	} else if v != nil {
		frameRate = *v
	}

	frameBurst := 40
	if v, err := parseOptionalIntEnv("WS_FRAME_BURST"); err != nil {
		return RelayConfig{}, err
	} else if v != nil && *v > 0 {
		frameBurst = *v
	}

	return RelayConfig{
		PongWait:     pongWait,
		WriteTimeout: writeTimeout,
		SendBuffer:   sendBuffer,
		ReadLimit:    readLimit,
		FrameRate:    frameRate,
		FrameBurst:   frameBurst,
	}, nil
}

// LanguagesConfig 指向可选的语言目录文件。
type LanguagesConfig struct {
	File string
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseListEnv(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}

	var out []string
	for _, part := range strings.Split(raw, ",") {
		if item := strings.TrimSpace(part); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val <= 0 {
		return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
