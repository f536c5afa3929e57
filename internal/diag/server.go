package diag

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"tapmic/internal/domain"
)

// Recorder exposes the current interaction state.
type Recorder interface {
	State() domain.RecorderState
	ViewModel() domain.ViewModel
}

// StatusSource reports the capture session status.
type StatusSource interface {
	Status() domain.Status
}

// Inputs accepts injected key events, normally a keyboard.Gate.
type Inputs interface {
	KeyDown() bool
	KeyUp()
	Cancel()
}

// StateResponse is the body of GET /state.
type StateResponse struct {
	State     domain.RecorderState `json:"state"`
	ViewModel domain.ViewModel     `json:"viewModel"`
	Session   domain.Status        `json:"session"`
}

// EventResponse is the body of POST /events/:name.
type EventResponse struct {
	Event     string `json:"event"`
	Forwarded bool   `json:"forwarded"`
}

// The default CheckOrigin rejects cross-origin browser connections.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// Server is the local diagnostics endpoint.
type Server struct {
	echo     *echo.Echo
	hub      *Hub
	recorder Recorder
	status   StatusSource
	inputs   Inputs
	log      *slog.Logger
}

func New(recorder Recorder, status StatusSource, inputs Inputs, hub *Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if hub == nil {
		hub = NewHub(logger)
	}
	s := &Server{
		echo:     echo.New(),
		hub:      hub,
		recorder: recorder,
		status:   status,
		inputs:   inputs,
		log:      logger.With("component", "diag"),
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency}
			if v.Error != nil {
				s.log.Warn("request failed", append(attrs, "error", v.Error)...)
				return nil
			}
			s.log.Debug("request", attrs...)
			return nil
		},
	}))
	s.echo.Use(middleware.Recover())
	s.echo.Use(sameOrigin)
	s.routes()
	return s
}

func (s *Server) routes() {
	s.echo.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	s.echo.GET("/state", s.state)
	s.echo.POST("/events/:name", s.event)
	s.echo.GET("/ws", s.stream)
}

// sameOrigin refuses requests that a browser sent on behalf of another site.
// Clients that send no Origin header, such as curl, are allowed.
func sameOrigin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		origin := c.Request().Header.Get(echo.HeaderOrigin)
		if origin == "" {
			return next(c)
		}
		u, err := url.Parse(origin)
		if err != nil || !strings.EqualFold(u.Host, c.Request().Host) {
			return echo.NewHTTPError(http.StatusForbidden, "cross-origin request refused")
		}
		return next(c)
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) state(c echo.Context) error {
	resp := StateResponse{
		State:     s.recorder.State(),
		ViewModel: s.recorder.ViewModel(),
	}
	if s.status != nil {
		resp.Session = s.status.Status()
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) event(c echo.Context) error {
	name := c.Param("name")
	resp := EventResponse{Event: name, Forwarded: true}
	switch name {
	case "keydown":
		resp.Forwarded = s.inputs.KeyDown()
	case "keyup":
		s.inputs.KeyUp()
	case "cancel":
		s.inputs.Cancel()
	default:
		return echo.NewHTTPError(http.StatusNotFound, "unknown event "+name)
	}
	return c.JSON(http.StatusAccepted, resp)
}

func (s *Server) stream(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", "error", err)
		return nil
	}
	s.hub.serve(conn, updateMessage(s.recorder.ViewModel()))
	return nil
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("diagnostics listening", "addr", addr)
		errCh <- s.echo.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}
