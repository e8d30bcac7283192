package gateway

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// MaxTextChars is the input-size ceiling for chat text; longer text is
// rejected with -32602.
const MaxTextChars = 10000

// MaxFrameBytes is the wire-frame size ceiling; larger frames are rejected
// by closing the connection.
const MaxFrameBytes = 1 << 20

// DefaultMaxConnections is the concurrent-connection ceiling; beyond it new
// connections are closed with WebSocket status 1013 (try again later).
const DefaultMaxConnections = 1000

// Config controls gateway-wide auth and limits.
type Config struct {
	ListenAddr     string
	AuthToken      string // bearer token; empty disables bearer auth
	JWTSecret      string // additive: if set, a valid JWT is also accepted
	MaxConnections int
	MaxTextChars   int
	MaxFrameBytes  int64
	RateLimitRPS   float64
	RateLimitBurst int
	WriteTimeout   time.Duration
	Version        string // reported by the health method; defaults to "dev"
}

// DefaultConfig returns the process-wide defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:     ":8080",
		MaxConnections: DefaultMaxConnections,
		MaxTextChars:   MaxTextChars,
		MaxFrameBytes:  MaxFrameBytes,
		RateLimitRPS:   20,
		RateLimitBurst: 40,
		WriteTimeout:   10 * time.Second,
		Version:        "dev",
	}
}

// Handlers is the set of method implementations the gateway dispatches to.
// Concrete wiring (session store, supervisor, queue) lives in cmd/gateway.
type Handlers interface {
	ChatSend(ctx context.Context, p ChatSendParams) (ChatSendResult, error)
	ChatSendStream(ctx context.Context, p ChatSendParams, emit func(Frame)) (ChatSendResult, error)
	ChatHistory(ctx context.Context, p ChatHistoryParams) (ChatHistoryResult, error)
	SessionsList(ctx context.Context, p SessionsListParams) (SessionsListResult, error)
	SessionsDelete(ctx context.Context, p SessionsDeleteParams) (SessionsDeleteResult, error)
}

// Server is the WebSocket JSON-RPC gateway.
type Server struct {
	cfg      Config
	handlers Handlers
	logger   *zap.Logger

	mu          sync.Mutex
	connections map[*connection]struct{}
	limiters    map[string]*rate.Limiter
}

// New creates a Server bound to handlers.
func New(cfg Config, handlers Handlers, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = DefaultMaxConnections
	}
	if cfg.MaxTextChars <= 0 {
		cfg.MaxTextChars = MaxTextChars
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = MaxFrameBytes
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	return &Server{
		cfg:         cfg,
		handlers:    handlers,
		logger:      logger.With(zap.String("component", "gateway")),
		connections: make(map[*connection]struct{}),
		limiters:    make(map[string]*rate.Limiter),
	}
}

// ServeHTTP upgrades the request to a WebSocket connection and serves it
// until the client disconnects or the connection is evicted.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	full := len(s.connections) >= s.cfg.MaxConnections
	s.mu.Unlock()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}

	if full {
		conn.Close(websocket.StatusCode(1013), "too many connections")
		return
	}
	conn.SetReadLimit(s.cfg.MaxFrameBytes)

	c := &connection{
		conn:      conn,
		server:    s,
		token:     bearerFromHeader(r),
		limiter:   s.limiterFor(clientKey(r)),
		outbox:    make(chan Frame, 32),
		closeOnce: sync.Once{},
	}

	s.mu.Lock()
	s.connections[c] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.connections, c)
		s.mu.Unlock()
	}()

	c.run(r.Context())
}

func (s *Server) limiterFor(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Limit(s.cfg.RateLimitRPS), s.cfg.RateLimitBurst)
		s.limiters[key] = l
	}
	return l
}

func clientKey(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return ip
	}
	return r.RemoteAddr
}

func bearerFromHeader(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}

// authenticate checks a request's bearer token (from the handshake header or
// a params.token fallback) in constant time, and additively accepts a valid
// JWT when JWTSecret is configured.
func (s *Server) authenticate(headerToken, paramsToken string) bool {
	if s.cfg.AuthToken == "" && s.cfg.JWTSecret == "" {
		return true
	}
	token := headerToken
	if token == "" {
		token = paramsToken
	}
	if token == "" {
		return false
	}

	if s.cfg.AuthToken != "" && subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) == 1 {
		return true
	}
	if s.cfg.JWTSecret != "" {
		parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(s.cfg.JWTSecret), nil
		})
		if err == nil && parsed.Valid {
			return true
		}
	}
	return false
}

// Shutdown closes every active connection.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	conns := make([]*connection, 0, len(s.connections))
	for c := range s.connections {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.close(websocket.StatusNormalClosure, "server shutting down")
	}
	return nil
}

// ActiveConnections reports the current connection count, for metrics.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.connections)
}
