// Package api serves console sessions over HTTP and websocket.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/invopop/jsonschema"
	"github.com/rs/cors"

	"github.com/eternisai/salesintel/internal/chat"
	"github.com/eternisai/salesintel/internal/logger"
	"github.com/eternisai/salesintel/internal/metrics"
	"github.com/eternisai/salesintel/internal/notify"
	"github.com/eternisai/salesintel/internal/session"
)

// RemoteStopper reaches research runs owned by other instances.
type RemoteStopper interface {
	RequestStop(ctx context.Context, sessionID, researchSessionID string) (*notify.StopResponse, error)
}

type Options struct {
	Hub            *session.Hub
	Tokens         *TokenIssuer
	Metrics        *metrics.Metrics
	Remote         RemoteStopper
	AllowedOrigins []string
	Logger         *logger.Logger
}

type Server struct {
	hub            *session.Hub
	tokens         *TokenIssuer
	metrics        *metrics.Metrics
	remote         RemoteStopper
	allowedOrigins []string
	log            *logger.Logger
	upgrader       websocket.Upgrader
	messageSchema  *jsonschema.Schema
}

func NewServer(opts Options) *Server {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	s := &Server{
		hub:            opts.Hub,
		tokens:         opts.Tokens,
		metrics:        opts.Metrics,
		remote:         opts.Remote,
		allowedOrigins: origins,
		log:            opts.Logger.WithComponent("api"),
		messageSchema:  jsonschema.Reflect(&chat.Message{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestID(), AccessLog(s.log))

	router.GET("/health", s.health)
	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	v1 := router.Group("/api/v1")
	v1.GET("/schema/message", s.schema)
	v1.POST("/sessions", s.createSession)

	owned := v1.Group("/sessions/:id", RequireSession(s.tokens))
	owned.POST("/research/:researchId/stop", s.stopResearch)

	local := owned.Group("", s.loadSession)
	local.GET("/messages", s.getMessages)
	local.POST("/messages", s.sendMessage)
	local.POST("/options", s.clickOption)
	local.POST("/company", s.selectCompany)
	local.POST("/reset", s.reset)
	local.PUT("/profile", s.updateProfile)
	local.GET("/progress", s.getProgress)
	local.PUT("/consent", s.setConsent)
	local.POST("/feedback", s.rateMessage)
	local.DELETE("/data", s.eraseData)
	local.DELETE("", s.closeSession)
	local.GET("/ws", s.streamTimeline)

	return router
}

// Handler is the router wrapped with CORS handling.
func (s *Server) Handler() http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: s.allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         600,
	}).Handler(s.Router())
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
