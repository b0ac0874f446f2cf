package httpserver

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/chat-orchestrator/internal/config"
	"github.com/fairyhunter13/chat-orchestrator/internal/domain"
	"github.com/fairyhunter13/chat-orchestrator/internal/observability"
	"github.com/fairyhunter13/chat-orchestrator/internal/usecase"
)

var validate = validator.New()

// GatewayService is the slice of the gateway usecase the HTTP layer invokes.
type GatewayService interface {
	SendMessage(ctx domain.Context, userID, clientIP string, in usecase.SendInput) (usecase.SendResult, error)
	Poll(ctx domain.Context, correlationID string) (domain.ProgressRecord, error)
	UploadFile(ctx domain.Context, userID, conversationID, fileName string, data []byte) (usecase.UploadResult, error)
	UploadKBDocument(ctx domain.Context, fileName string, data []byte) (usecase.UploadResult, error)
	DeleteKBDocument(ctx domain.Context, fileID string) (usecase.SendResult, error)
	Conversations(ctx domain.Context, userID string, limit int) ([]domain.ConversationSummary, error)
	Conversation(ctx domain.Context, id, userID string) (domain.Conversation, error)
	DeleteConversation(ctx domain.Context, id, userID string) error
}

// DLQAdmin is the operator surface over dead-lettered jobs.
type DLQAdmin interface {
	Stats(ctx domain.Context) (domain.DLQStats, error)
	List(ctx domain.Context, status string, limit, offset int) ([]domain.DLQRecord, error)
	Get(ctx domain.Context, id string) (domain.DLQRecord, error)
	Retry(ctx domain.Context, id string) (domain.DLQRecord, error)
	RetryAll(ctx domain.Context) (usecase.RetryAllResult, error)
	Resolve(ctx domain.Context, id string) error
	Delete(ctx domain.Context, id string) error
}

// Server wires handlers, middleware and auth into one chi router.
type Server struct {
	gateway   GatewayService
	dlq       DLQAdmin
	extractor domain.TextExtractor
	auth      *TokenAuth
	lockout   *Lockout
	limiter   domain.RateLimiter
	cfg       config.Config
}

// NewServer constructs the gateway HTTP server.
func NewServer(gateway GatewayService, dlq DLQAdmin, extractor domain.TextExtractor,
	auth *TokenAuth, lockout *Lockout, limiter domain.RateLimiter, cfg config.Config) *Server {
	return &Server{
		gateway:   gateway,
		dlq:       dlq,
		extractor: extractor,
		auth:      auth,
		lockout:   lockout,
		limiter:   limiter,
		cfg:       cfg,
	}
}

// Router assembles the full route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	r.Use(AccessLog)
	r.Use(observability.HTTPMetricsMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   strings.Split(s.cfg.CORSAllowOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	// Coarse in-process guard in front of the Redis sliding window.
	r.Use(httprate.LimitByIP(s.cfg.RateLimitDefault*4, time.Minute))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		api.With(RateLimit(s.limiter, "auth", s.cfg.RateLimitAuth)).
			Post("/auth/login", s.handleLogin)
		api.Post("/auth/logout", s.handleLogout)
		api.With(s.auth.Middleware).Get("/auth/me", s.handleMe)

		api.Group(func(priv chi.Router) {
			priv.Use(s.auth.Middleware)

			priv.With(RateLimit(s.limiter, "chat", s.cfg.RateLimitChat)).
				Post("/chat/send", s.handleSend)
			priv.With(RateLimit(s.limiter, "default", s.cfg.RateLimitDefault)).
				Get("/stream", s.handleStream)

			priv.With(RateLimit(s.limiter, "default", s.cfg.RateLimitDefault)).
				Get("/conversations", s.handleConversations)
			priv.Get("/conversations/{id}", s.handleConversation)
			priv.Delete("/conversations/{id}", s.handleDeleteConversation)

			priv.With(RateLimit(s.limiter, "file", s.cfg.RateLimitFile)).
				Post("/files/upload", s.handleUpload)
			priv.With(RateLimit(s.limiter, "file", s.cfg.RateLimitFile)).
				Post("/files/extract", s.handleExtract)
		})

		if s.cfg.AdminEnabled() {
			api.Group(func(admin chi.Router) {
				admin.Use(s.auth.Middleware)
				admin.Use(s.requireAdmin)
				admin.Use(RateLimit(s.limiter, "admin", s.cfg.RateLimitAdmin))

				admin.Post("/kb/upload", s.handleKBUpload)
				admin.Delete("/kb/{fileID}", s.handleKBDelete)
				s.mountDLQ(admin)
			})
		}
	})
	return r
}

// requireAdmin gates the admin surface on the configured admin identity.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if UserFromContext(r.Context()) != s.cfg.AdminUsername {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "access denied")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ip := ClientIP(r)
	if locked, err := s.lockout.Locked(r.Context(), ip); err == nil && locked {
		writeError(w, http.StatusTooManyRequests, "RATE_LIMITED",
			"Too many failed attempts. Try again later.")
		return
	}

	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "username and password are required")
		return
	}

	if req.Username != s.cfg.AdminUsername || !VerifyPassword(s.cfg.AdminPasswordHash, req.Password) {
		_ = s.lockout.Fail(r.Context(), ip)
		jitterSleep()
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid credentials")
		return
	}

	_ = s.lockout.Reset(r.Context(), ip)
	token := s.auth.Mint(req.Username)
	s.setAuthCookie(w, token)
	writeJSON(w, http.StatusOK, map[string]string{
		"token": token,
		"user":  req.Username,
	})
}

func (s *Server) setAuthCookie(w http.ResponseWriter, token string) {
	sameSite := http.SameSiteLaxMode
	if s.cfg.CookieSecure {
		sameSite = http.SameSiteStrictMode
	}
	http.SetCookie(w, &http.Cookie{
		Name:     authCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.cfg.AuthTokenTTL.Seconds()),
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: sameSite,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     authCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
	})
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"user": UserFromContext(r.Context())})
}

type sendRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message" validate:"required"`
	DisplayContent string `json:"display_content"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "message is required")
		return
	}
	out, err := s.gateway.SendMessage(r.Context(), UserFromContext(r.Context()), ClientIP(r), usecase.SendInput{
		ConversationID: req.ConversationID,
		Message:        req.Message,
		DisplayContent: req.DisplayContent,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"correlation_id":  out.CorrelationID,
		"conversation_id": out.ConversationID,
	})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	requestID := r.URL.Query().Get("request_id")
	if requestID == "" {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "request_id is required")
		return
	}
	rec, err := s.gateway.Poll(r.Context(), requestID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	list, err := s.gateway.Conversations(r.Context(), UserFromContext(r.Context()), queryInt(r, "limit", 50))
	if err != nil {
		respondError(w, r, err)
		return
	}
	if list == nil {
		list = []domain.ConversationSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": list})
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.gateway.Conversation(r.Context(), chi.URLParam(r, "id"), UserFromContext(r.Context()))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := s.gateway.DeleteConversation(r.Context(), chi.URLParam(r, "id"), UserFromContext(r.Context())); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "deleted"})
}

// readUpload pulls the multipart "file" part, bounded by the configured size.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (string, []byte, error) {
	maxBytes := s.cfg.MaxUploadMB << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+4096)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		return "", nil, fmt.Errorf("%w: upload too large or malformed", domain.ErrInvalidArgument)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return "", nil, fmt.Errorf("%w: file field is required", domain.ErrInvalidArgument)
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return "", nil, fmt.Errorf("%w: read upload", domain.ErrInternal)
	}
	if int64(len(data)) > maxBytes {
		return "", nil, fmt.Errorf("%w: file exceeds %dMB", domain.ErrInvalidArgument, s.cfg.MaxUploadMB)
	}
	return header.Filename, data, nil
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	name, data, err := s.readUpload(w, r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	out, err := s.gateway.UploadFile(r.Context(), UserFromContext(r.Context()),
		r.FormValue("conversation_id"), name, data)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"correlation_id": out.CorrelationID,
		"file_id":        out.FileID,
		"file_type":      out.FileType,
		"preview":        out.Preview,
		"truncated":      out.Truncated,
	})
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	name, data, err := s.readUpload(w, r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	out, err := s.extractor.Extract(r.Context(), name, data)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"text":      out.Text,
		"preview":   out.Preview,
		"file_type": out.FileType,
		"truncated": out.Truncated,
	})
}

func (s *Server) handleKBUpload(w http.ResponseWriter, r *http.Request) {
	name, data, err := s.readUpload(w, r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	out, err := s.gateway.UploadKBDocument(r.Context(), name, data)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"correlation_id": out.CorrelationID,
		"file_id":        out.FileID,
	})
}

func (s *Server) handleKBDelete(w http.ResponseWriter, r *http.Request) {
	out, err := s.gateway.DeleteKBDocument(r.Context(), chi.URLParam(r, "fileID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"correlation_id": out.CorrelationID})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil || n <= 0 {
		return def
	}
	return n
}
