package ops

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/bcrypt"

	"github.com/skeldware/dropship/internal/config"
	"github.com/skeldware/dropship/internal/server"
)

// Server is the ops HTTP server. Read routes are open; mutating routes
// require the bearer token whose bcrypt hash sits in the config.
type Server struct {
	cfg    config.OpsConfig
	worker *server.Worker
	echo   *echo.Echo
}

// New wires the routes. metrics may be nil, which drops the /metrics
// route.
func New(cfg config.OpsConfig, w *server.Worker, metrics *Metrics) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			slog.Debug("ops request", "method", v.Method, "uri", v.URI, "status", v.Status)
			return nil
		},
	}))

	s := &Server{cfg: cfg, worker: w, echo: e}

	e.GET("/healthz", s.handleHealth)
	e.GET("/api/v1/rooms", s.handleRooms)
	e.GET("/api/v1/rooms/:code", s.handleRoom)
	e.DELETE("/api/v1/rooms/:code", s.handleDestroyRoom, s.requireToken)
	if metrics != nil {
		e.GET("/metrics", echo.WrapHandler(
			promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})))
	}
	return s
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		if err := s.echo.Start(s.cfg.Address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()
	slog.Info("ops server listening", "address", s.cfg.Address)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.echo.Shutdown(shutCtx)
}

// Handler exposes the route tree; tests drive it with httptest.
func (s *Server) Handler() http.Handler { return s.echo }

type healthResponse struct {
	Status string `json:"status"`
}

// RoomResponse is one element of GET /api/v1/rooms.
type RoomResponse struct {
	Code       string `json:"code"`
	HostName   string `json:"host_name,omitempty"`
	Players    int    `json:"players"`
	MaxPlayers int    `json:"max_players"`
	State      string `json:"state"`
	Public     bool   `json:"public"`
	Map        string `json:"map"`
	Impostors  int    `json:"impostors"`
	AgeSeconds int64  `json:"age_seconds"`
}

func roomResponse(s server.Summary) RoomResponse {
	return RoomResponse{
		Code:       s.Code,
		HostName:   s.HostName,
		Players:    s.Players,
		MaxPlayers: s.MaxPlayers,
		State:      s.State,
		Public:     s.Public,
		Map:        s.Map,
		Impostors:  s.Impostors,
		AgeSeconds: int64(time.Since(s.CreatedAt).Seconds()),
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{Status: "ok"})
}

func (s *Server) handleRooms(c echo.Context) error {
	summaries := s.worker.Rooms()
	out := make([]RoomResponse, 0, len(summaries))
	for _, sum := range summaries {
		out = append(out, roomResponse(sum))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleRoom(c echo.Context) error {
	r, ok := s.worker.RoomByCode(c.Param("code"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no such room")
	}
	return c.JSON(http.StatusOK, roomResponse(r.Summary()))
}

func (s *Server) handleDestroyRoom(c echo.Context) error {
	if !s.worker.DestroyRoom(c.Param("code")) {
		return echo.NewHTTPError(http.StatusNotFound, "no such room")
	}
	return c.NoContent(http.StatusNoContent)
}

// requireToken guards mutating routes with the configured bearer token.
// No hash configured means the routes are switched off.
func (s *Server) requireToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.cfg.TokenHash == "" {
			return echo.NewHTTPError(http.StatusForbidden, "mutating routes disabled")
		}
		token, ok := strings.CutPrefix(c.Request().Header.Get(echo.HeaderAuthorization), "Bearer ")
		if !ok || token == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "bearer token required")
		}
		if bcrypt.CompareHashAndPassword([]byte(s.cfg.TokenHash), []byte(token)) != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "bad token")
		}
		return next(c)
	}
}
