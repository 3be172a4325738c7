package chat

import (
	"net/http"
	"net/url"
	"strings"

	"chat-fanout/internal/middleware"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type SessionOptions struct {
	SendBuffer     int
	ReadLimit      int64
	RateLimitRPS   float64
	RateLimitBurst int
	AllowedOrigins []string
}

// Server upgrades HTTP requests into sessions on hub.
type Server struct {
	hub      *Hub
	opts     SessionOptions
	upgrader websocket.Upgrader
	log      *zap.Logger
}

func NewServer(hub *Hub, opts SessionOptions, log *zap.Logger) *Server {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 16 << 10
	}
	s := &Server{
		hub:  hub,
		opts: opts,
		log:  log.Named("session"),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return s
}

// ServeChats handles the chat channel: frames go through Classify.
func (s *Server) ServeChats(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, Classify, "chats")
}

// ServeCalls handles the call channel: every object frame is relayed as is.
func (s *Server) ServeCalls(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, ClassifyCall, "calls")
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request, classify func([]byte) Event, channel string) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed", zap.String("channel", channel), zap.Error(err))
		return
	}

	var userID int64
	if user, ok := middleware.UserFromContext(r.Context()); ok {
		userID = user.ID
	}

	client := newClient(conn, s.hub, classify, s.opts, userID, s.log.With(zap.String("channel", channel)))
	client.open()
}

// originChecker allows every origin when allowed is empty or contains "*".
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.TrimRight(strings.ToLower(o), "/")] = struct{}{}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}
