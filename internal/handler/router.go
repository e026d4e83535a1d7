package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	audioHandler "github.com/healthbridge/translator/backend/internal/handler/audio"
	conversationHandler "github.com/healthbridge/translator/backend/internal/handler/conversation"
	messageHandler "github.com/healthbridge/translator/backend/internal/handler/message"
	relayHandler "github.com/healthbridge/translator/backend/internal/handler/relay"
	"github.com/healthbridge/translator/backend/internal/handler/root"
	searchHandler "github.com/healthbridge/translator/backend/internal/handler/search"
	summaryHandler "github.com/healthbridge/translator/backend/internal/handler/summary"
	middlewarePkg "github.com/healthbridge/translator/backend/internal/middleware"
	"github.com/healthbridge/translator/backend/internal/model/language"
	"github.com/healthbridge/translator/backend/internal/relay"
	audioService "github.com/healthbridge/translator/backend/internal/service/audio"
	conversationService "github.com/healthbridge/translator/backend/internal/service/conversation"
)

// Dependencies 是路由需要的全部服务。
type Dependencies struct {
	Languages      language.Store
	Conversations  *conversationService.Service
	Audio          *audioService.Service
	Registry       *relay.Registry
	RelayMetrics   *relay.Metrics
	SocketOptions  relay.SocketOptions
	AllowedOrigins []string
	Gatherer       prometheus.Gatherer
	Logger         *zap.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(logger.Named("http")))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(deps.AllowedOrigins))

	root.New(deps.Languages).RegisterRoutes(r)
	conversationHandler.New(deps.Conversations, logger).RegisterRoutes(r)
	messageHandler.New(deps.Conversations, logger).RegisterRoutes(r)
	searchHandler.New(deps.Conversations, logger).RegisterRoutes(r)
	summaryHandler.New(deps.Conversations, logger).RegisterRoutes(r)

	if deps.Audio != nil {
		audioHandler.New(deps.Audio, logger).RegisterRoutes(r)
	}

	relayHandler.New(deps.Registry, deps.RelayMetrics, deps.SocketOptions, logger.Named("relay")).RegisterRoutes(r)

	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	return r
}
