// internal/server/server.go
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"fitpro/config"
	"fitpro/internal/apperr"
	"fitpro/internal/auth"
	"fitpro/internal/chat"
	"fitpro/internal/formula"
	"fitpro/internal/metrics"
	"fitpro/internal/models"
	"fitpro/internal/notify"
	"fitpro/internal/payment"
	"fitpro/internal/speech"
	"fitpro/internal/subscription"
	"fitpro/internal/vision"
	"fitpro/pkg/logger"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type WebhookParser interface {
	ParseEvent(payload []byte, sig string) (*payment.CompletedSession, bool, error)
}

type EventLister interface {
	Recent(ctx context.Context, typ models.EventType, limit int) ([]models.UserEvent, error)
	ByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.UserEvent, error)
	Count(ctx context.Context, userID uuid.UUID, typ models.EventType) (int64, error)
}

// Deps are the services behind the HTTP API. Stripe, Hub and Ping may be nil.
type Deps struct {
	Auth          *auth.Service
	Formulas      *formula.Service
	Chat          *chat.Service
	Vision        *vision.Service
	Speech        *speech.Service
	Subscriptions *subscription.Service
	Events        EventLister
	Stripe        WebhookParser
	Hub           *notify.Hub
	Metrics       *metrics.Metrics
	Ping          func(ctx context.Context) error
}

type Server struct {
	echo   *echo.Echo
	server *http.Server
	deps   Deps
	logger *logger.Logger
}

func New(cfg config.ServerConfig, deps Deps, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:   e,
		deps:   deps,
		logger: log.Named("http"),
		server: &http.Server{
			Addr:         ":" + cfg.Port,
			Handler:      e,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
	}

	e.HTTPErrorHandler = s.errorHandler
	e.Use(middleware.RequestID())
	e.Use(s.requestLogger())
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			s.logger.Errorw("panic recovered", "path", c.Path(), "error", err, "stack", string(stack))
			return err
		},
	}))
	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization, "Stripe-Signature"},
	}))
	if cfg.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.BodyLimit))
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	e := s.echo

	// Add health check endpoint
	e.GET("/health", s.health)
	if s.deps.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.deps.Metrics.Handler()))
	}

	// Register Stripe webhook handler
	e.POST("/webhook/stripe", s.stripeWebhook)

	api := e.Group("/api")
	api.POST("/auth/register", s.register)
	api.POST("/auth/login", s.login)

	user := api.Group("", s.deps.Auth.RequireAuth())
	user.GET("/me", s.me)
	user.PATCH("/me", s.updateProfile)
	user.GET("/me/events", s.myEvents)

	user.POST("/ai/generate-formula", s.generateFormula)
	user.POST("/ai/chat", s.chat)
	user.POST("/ai/tts", s.tts)
	user.POST("/ai/analyze-image", s.analyzeImage, auth.RequireRole(models.RolePremium, models.RoleAdmin))

	user.GET("/formulas", s.listFormulas)
	user.GET("/formulas/:id", s.getFormula)
	user.PATCH("/formulas/:id/stacks/:stackId", s.updateStack)

	user.POST("/subscription/submit", s.submitPayment)
	user.GET("/subscription/mine", s.myPayments)
	user.POST("/subscription/checkout", s.checkout)

	user.GET("/ws", s.stream)

	admin := user.Group("", auth.RequireRole(models.RoleAdmin))
	admin.GET("/subscription/pending", s.pendingPayments)
	admin.PATCH("/subscription/:id/approve", s.approvePayment)
	admin.PATCH("/subscription/:id/reject", s.rejectPayment)
	admin.GET("/admin/users", s.listUsers)
	admin.PATCH("/admin/users/:id/status", s.setUserStatus)
	admin.GET("/admin/events", s.recentEvents)
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) Start() error {
	s.logger.Infow("Starting HTTP server", "addr", s.server.Addr)
	return s.echo.StartServer(s.server)
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.echo.Shutdown(ctx)
}

func (s *Server) health(c echo.Context) error {
	if s.deps.Ping != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Ping(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "db": err.Error()})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type errorBody struct {
	Error   string            `json:"error"`
	Kind    apperr.Kind       `json:"kind"`
	Details map[string]string `json:"details,omitempty"`
}

func (s *Server) errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	body := errorBody{Error: "internal server error", Kind: apperr.KindInternal}

	var ae *apperr.Error
	var he *echo.HTTPError
	switch {
	case errors.As(err, &ae):
		code = apperr.HTTPStatus(ae.Kind)
		body = errorBody{Error: ae.Msg, Kind: ae.Kind, Details: ae.Details}
	case errors.As(err, &he):
		code = he.Code
		body = errorBody{Error: fmt.Sprint(he.Message), Kind: kindForStatus(code)}
	}

	req := c.Request()
	fields := []interface{}{
		"status", code,
		"method", req.Method,
		"path", req.URL.Path,
		"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
		"error", err,
	}
	if code >= http.StatusInternalServerError {
		s.logger.Errorw("request failed", fields...)
	} else {
		s.logger.Infow("request rejected", fields...)
	}

	if c.Response().Committed {
		return
	}
	if req.Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, body)
}

func kindForStatus(code int) apperr.Kind {
	switch code {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnsupportedMediaType:
		return apperr.KindValidation
	case http.StatusUnauthorized:
		return apperr.KindAuth
	case http.StatusForbidden:
		return apperr.KindForbidden
	case http.StatusNotFound, http.StatusMethodNotAllowed:
		return apperr.KindNotFound
	case http.StatusConflict:
		return apperr.KindStateConflict
	}
	return apperr.KindInternal
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			status := c.Response().Status
			latency := time.Since(start)
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			if s.deps.Metrics != nil {
				s.deps.Metrics.ObserveHTTP(c.Request().Method, route, status, latency)
			}
			s.logger.Debugw("request",
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"status", strconv.Itoa(status),
				"latency", latency,
				"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
			)
			return nil
		}
	}
}

func currentUser(c echo.Context) (*models.User, error) {
	u, ok := auth.UserFrom(c.Request().Context())
	if !ok {
		return nil, apperr.Auth("unauthorized")
	}
	return u, nil
}

func uuidParam(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid id", map[string]string{name: "must be a UUID"})
	}
	return id, nil
}

func bind(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		return apperr.Validation("invalid request body", map[string]string{"body": err.Error()})
	}
	return nil
}
