package httpserver

import (
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/rappleit/protege/internal/bridge"
	"github.com/rappleit/protege/internal/media"
	"github.com/rappleit/protege/internal/persona"
	"github.com/rappleit/protege/internal/session"
	"github.com/rappleit/protege/internal/tts"
	"github.com/rappleit/protege/internal/wstoken"
)

// Deps bundles the collaborators the HTTP layer exposes. Voice, Transcriber
// and Archiver may be nil; the corresponding features degrade gracefully.
type Deps struct {
	Sessions    *session.Registry
	Personas    *persona.Store
	Tokens      *wstoken.Issuer
	Reports     ReportSource
	Transcriber bridge.Transcriber
	Memory      bridge.MemorySink
	Archiver    bridge.Archiver
	Voice       tts.Synthesizer

	// AllowedOrigins restricts WebSocket upgrades; empty allows any origin.
	AllowedOrigins []string
}

// ReportSource renders a lesson report for a session.
type ReportSource interface {
	Report(sessionID string) (string, error)
}

// Server bundles the router and its dependencies.
type Server struct {
	Router   *echo.Echo
	deps     Deps
	upgrader websocket.Upgrader
}

// New constructs the HTTP server with all routes registered.
func New(deps Deps) *Server {
	s := &Server{
		Router: NewRouter(),
		deps:   deps,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}

	e := s.Router
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	api := e.Group("/api/v1")
	api.POST("/start-session", s.startSession)
	api.POST("/end-session/:id", s.endSession)
	api.GET("/get-lesson-report/:id", s.lessonReport)
	api.GET("/ws-token", s.wsToken)
	api.GET("/personas", s.listPersonas)
	api.POST("/personas/:id/preview-voice", s.previewVoice)
	api.GET("/ws/:id", s.serveWS)

	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.deps.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range s.deps.AllowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}

type startSessionRequest struct {
	Topic       string `json:"topic"`
	PersonaType string `json:"persona_type"`
}

func (s *Server) startSession(c echo.Context) error {
	var req startSessionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	sess, err := s.deps.Sessions.Start(c.Request().Context(), req.Topic, req.PersonaType)
	if err != nil {
		log.Printf("start session failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, sess)
}

func (s *Server) endSession(c echo.Context) error {
	id := c.Param("id")
	if err := s.deps.Sessions.End(c.Request().Context(), id); err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "session " + id + " ended"})
}

func (s *Server) lessonReport(c echo.Context) error {
	report, err := s.deps.Reports.Report(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, echo.Map{"report": report})
}

func (s *Server) wsToken(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"token": s.deps.Tokens.Issue()})
}

func (s *Server) listPersonas(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"personas": s.deps.Personas.List()})
}

type previewVoiceRequest struct {
	Text string `json:"text"`
}

func (s *Server) previewVoice(c echo.Context) error {
	if s.deps.Voice == nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "voice previews are not configured"})
	}
	p, err := s.deps.Personas.Get(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error()})
	}

	var req previewVoiceRequest
	_ = c.Bind(&req)
	text := strings.TrimSpace(req.Text)
	if text == "" {
		text = "Hello! I am " + p.Name + ". Teach me something new today!"
	}

	audio, mimeType, err := s.deps.Voice.PreviewVoice(c.Request().Context(), p.ID, p.VoiceStyle, text)
	if err != nil {
		log.Printf("voice preview for %s failed: %v", p.ID, err)
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "voice synthesis failed"})
	}
	return c.Blob(http.StatusOK, mimeType, audio)
}

// serveWS validates the short-lived token, upgrades the connection and runs
// the bridge against the session's model handle until either side closes.
// Session problems surface after the upgrade as an error frame on the socket,
// so the browser client always gets a readable reason.
func (s *Server) serveWS(c echo.Context) error {
	if err := s.deps.Tokens.Verify(c.QueryParam("token")); err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": err.Error()})
	}

	id := c.Param("id")
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("[%s] websocket upgrade failed: %v", id, err)
		return nil
	}

	model, err := s.deps.Sessions.Model(id)
	if err != nil {
		log.Printf("[%s] websocket rejected: %v", id, err)
		_ = conn.WriteJSON(media.ErrorFrame{Error: err.Error()})
		_ = conn.Close()
		return nil
	}

	b := bridge.New(bridge.Config{
		SessionID:   id,
		SubjectID:   id,
		Client:      conn,
		Model:       model,
		Transcriber: s.deps.Transcriber,
		Memory:      s.deps.Memory,
		Archiver:    s.deps.Archiver,
	})
	b.Run(c.Request().Context())
	return nil
}
