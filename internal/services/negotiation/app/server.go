package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/websocket"

	"github.com/uday68/VyaparMitra-sub002/internal/platform/timeouts"
)

const (
	maxFramePayloadBytes   = 16 * 1024
	maxFramesPerSecond     = 40
	maxDecodeErrorsPerConn = 3

	maxMessageContentRunes  = 2000
	maxClientMessageIDRunes = 128

	defaultMaxConcurrentTranslations = 8
)

// Config defines the inputs for the negotiation realtime boundary.
//
// The settings couple the websocket layer to the translation service and
// auth token validation without owning either.
type Config struct {
	HTTPAddr                  string
	TranslatorBaseURL         string
	AuthSigningSecret         string
	MaxConcurrentTranslations int64
	ReadHeaderTimeout         time.Duration
	ShutdownTimeout           time.Duration
}

// Server hosts the negotiation HTTP/WebSocket process.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
	transport       *wsTransport
}

type wsUserIDContextKey struct{}

// NewHandler creates negotiation routes for tests and offline paths. The
// caller identity comes from the X-User-ID header; websocket auth is
// intentionally disabled in this constructor.
func NewHandler(translator Translator) http.Handler {
	return newHandler(nil, false, newWSTransport(translator, defaultMaxConcurrentTranslations))
}

// NewHandlerWithAuthorizer creates negotiation routes with enforced
// websocket identity checks.
func NewHandlerWithAuthorizer(authorizer Authorizer, translator Translator) http.Handler {
	return newHandler(authorizer, true, newWSTransport(translator, defaultMaxConcurrentTranslations))
}

func newHandler(authorizer Authorizer, requireAuth bool, transport *wsTransport) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	wsHandler := websocket.Handler(transport.handleConn)

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		if requireAuth {
			if authorizer == nil {
				http.Error(w, "websocket auth is not configured", http.StatusServiceUnavailable)
				return
			}

			accessToken := accessTokenFromRequest(r)
			if accessToken == "" {
				log.Printf("negotiation: websocket unauthorized: missing bearer token for host=%q remote=%s path=%q", r.Host, r.RemoteAddr, r.URL.Path)
				http.Error(w, "authentication required", http.StatusUnauthorized)
				return
			}

			userID, err := authorizer.Authenticate(r.Context(), accessToken)
			if err != nil || strings.TrimSpace(userID) == "" {
				if err != nil {
					log.Printf("negotiation: websocket unauthorized: token validation failed for host=%q remote=%s path=%q err=%v", r.Host, r.RemoteAddr, r.URL.Path, err)
				} else {
					log.Printf("negotiation: websocket unauthorized: empty user id after auth for host=%q remote=%s path=%q", r.Host, r.RemoteAddr, r.URL.Path)
				}
				http.Error(w, "authentication required", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), wsUserIDContextKey{}, strings.TrimSpace(userID))
			r = r.WithContext(ctx)
		}

		wsHandler.ServeHTTP(w, r)
	})

	return mux
}

// NewServer builds a configured negotiation server.
func NewServer(config Config) (*Server, error) {
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}
	if config.MaxConcurrentTranslations <= 0 {
		config.MaxConcurrentTranslations = defaultMaxConcurrentTranslations
	}

	var translator Translator
	if t := NewHTTPTranslator(config.TranslatorBaseURL); t != nil {
		translator = t
	} else {
		log.Printf("translator base URL not configured, messages will not be translated")
	}

	authorizer := NewJWTAuthorizer(config.AuthSigningSecret)
	transport := newWSTransport(translator, config.MaxConcurrentTranslations)
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           newHandler(authorizer, authorizer != nil, transport),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	return &Server{
		httpAddr:        httpAddr,
		shutdownTimeout: config.ShutdownTimeout,
		httpServer:      httpServer,
		transport:       transport,
	}, nil
}

// Run creates and serves a negotiation server until the context ends.
func Run(ctx context.Context, config Config) error {
	server, err := NewServer(config)
	if err != nil {
		return fmt.Errorf("init negotiation server: %w", err)
	}

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve negotiation: %w", err)
	}
	return nil
}

// ListenAndServe runs the HTTP server until the context ends. Connected
// peers receive a server_shutdown notice before the listener stops so
// clients mark the session non-retryable instead of reconnecting.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("negotiation server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	log.Printf("negotiation server listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.transport.broadcastShutdown("server is shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}
