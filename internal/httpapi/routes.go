package httpapi

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RouterDeps carries everything the router needs.
type RouterDeps struct {
	Chat      *ChatHandlers
	Tasks     *TaskHandlers
	Redis     *redis.Client
	RateLimit RateLimitConfig
	Logger    *zap.Logger
	Health    http.HandlerFunc
}

// NewRouter assembles the API routes. Everything under /api/ requires an
// authenticated user and passes the per-user limiter; /health and /metrics
// are open.
func NewRouter(deps RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	api := http.NewServeMux()
	api.HandleFunc("POST /api/{userID}/chat", deps.Chat.Chat)
	api.HandleFunc("POST /api/{userID}/conversations", deps.Chat.CreateConversation)
	api.HandleFunc("GET /api/{userID}/conversations", deps.Chat.ListConversations)
	api.HandleFunc("DELETE /api/{userID}/conversations/{conversationID}", deps.Chat.DeleteConversation)

	api.HandleFunc("POST /api/{userID}/tasks", deps.Tasks.Create)
	api.HandleFunc("GET /api/{userID}/tasks", deps.Tasks.List)
	api.HandleFunc("GET /api/{userID}/tasks/{taskID}", deps.Tasks.Get)
	api.HandleFunc("PATCH /api/{userID}/tasks/{taskID}", deps.Tasks.Update)
	api.HandleFunc("POST /api/{userID}/tasks/{taskID}/complete", deps.Tasks.Complete)
	api.HandleFunc("DELETE /api/{userID}/tasks/{taskID}", deps.Tasks.Delete)

	protected := Chain(api,
		RequestLogger(logger),
		Identity(logger),
		RateLimit(deps.Redis, deps.RateLimit, logger),
	)

	root := http.NewServeMux()
	root.Handle("/api/", protected)
	root.Handle("GET /metrics", promhttp.Handler())
	if deps.Health != nil {
		root.HandleFunc("GET /health", deps.Health)
	}
	return root
}
