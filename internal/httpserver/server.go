package httpserver

import (
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/chadiek/checkin-demo/internal/dialog"
	"github.com/chadiek/checkin-demo/internal/rtc"
	"github.com/chadiek/checkin-demo/internal/wizard"
)

// Server exposes the check-in wizard over HTTP.
type Server struct {
	Echo     *echo.Echo
	registry *wizard.Registry
	voice    *rtc.Handler
	password string
}

// NewServer wires the routes onto a configured Echo instance.
func NewServer(registry *wizard.Registry, password string) *Server {
	s := &Server{
		Echo:     New(),
		registry: registry,
		voice:    rtc.NewHandler(),
		password: password,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	e := s.Echo
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/api/programs", func(c echo.Context) error { return c.JSON(http.StatusOK, wizard.Programs()) })

	api := e.Group("/api/checkin", s.authGuard)
	api.POST("", s.createSession)
	api.GET("/:id", s.getState)
	api.DELETE("/:id", s.removeSession)
	api.POST("/:id/message", s.postMessage)
	api.POST("/:id/document", s.postDocument)
	api.POST("/:id/programs", s.postPrograms)
	api.POST("/:id/complete", s.postComplete)
	api.GET("/:id/pass", s.getPass)
	api.POST("/:id/voice", s.postVoiceOffer)
}

// authGuard accepts a static token via query, X-Auth-Token or bearer header.
// An empty configured password disables the guard.
func (s *Server) authGuard(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !authOK(c.Request(), s.password) {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
		}
		return next(c)
	}
}

func authOK(r *http.Request, expected string) bool {
	if expected == "" {
		return true
	}
	if r == nil {
		return false
	}
	if q := r.URL.Query().Get("password"); q != "" {
		return q == expected
	}
	if tok := r.Header.Get("X-Auth-Token"); tok != "" {
		return tok == expected
	}
	ah := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(ah), "bearer ") {
		return strings.TrimSpace(ah[len("bearer "):]) == expected
	}
	return false
}

type createRequest struct {
	Name      string `json:"name"`
	Birthdate string `json:"birthdate"`
	Reason    string `json:"reason"`
}

func (s *Server) createSession(c echo.Context) error {
	var req createRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
		}
	}
	var seed *dialog.Seed
	if req.Name != "" || req.Birthdate != "" || req.Reason != "" {
		seed = &dialog.Seed{Name: req.Name, Birthdate: req.Birthdate, Reason: req.Reason}
	}
	sess := s.registry.Create(seed)
	return c.JSON(http.StatusCreated, sess.Snapshot())
}

func (s *Server) session(c echo.Context) (*wizard.Session, error) {
	sess, ok := s.registry.Get(c.Param("id"))
	if !ok {
		return nil, c.JSON(http.StatusNotFound, echo.Map{"error": "unknown session"})
	}
	return sess, nil
}

func (s *Server) getState(c echo.Context) error {
	sess, err := s.session(c)
	if sess == nil {
		return err
	}
	return c.JSON(http.StatusOK, sess.Snapshot())
}

func (s *Server) removeSession(c echo.Context) error {
	s.registry.Remove(c.Param("id"))
	return c.NoContent(http.StatusNoContent)
}

type messageRequest struct {
	Text string `json:"text"`
}

func (s *Server) postMessage(c echo.Context) error {
	sess, err := s.session(c)
	if sess == nil {
		return err
	}
	var req messageRequest
	if berr := c.Bind(&req); berr != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if strings.TrimSpace(req.Text) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "empty message"})
	}
	sess.Controller.Submit(req.Text)
	return c.JSON(http.StatusAccepted, sess.Snapshot())
}

func (s *Server) postDocument(c echo.Context) error {
	sess, err := s.session(c)
	if sess == nil {
		return err
	}
	fh, ferr := c.FormFile("file")
	if ferr != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "missing file"})
	}
	f, oerr := fh.Open()
	if oerr != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unreadable file"})
	}
	defer f.Close()
	data, rerr := io.ReadAll(f)
	if rerr != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unreadable file"})
	}
	contentType := fh.Header.Get("Content-Type")
	if serr := sess.Pipeline.Submit(c.Request().Context(), fh.Filename, contentType, data); serr != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": serr.Error()})
	}
	return c.JSON(http.StatusAccepted, sess.Snapshot())
}

type programsRequest struct {
	Programs []string `json:"programs"`
}

func (s *Server) postPrograms(c echo.Context) error {
	sess, err := s.session(c)
	if sess == nil {
		return err
	}
	var req programsRequest
	if berr := c.Bind(&req); berr != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if sess.Flow.Step() != wizard.StepPrograms {
		return c.JSON(http.StatusConflict, echo.Map{"error": "program selection not open"})
	}
	if serr := sess.Flow.SelectPrograms(req.Programs); serr != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": serr.Error()})
	}
	sess.Flow.Advance()
	return c.JSON(http.StatusOK, sess.Snapshot())
}

func (s *Server) postComplete(c echo.Context) error {
	sess, err := s.session(c)
	if sess == nil {
		return err
	}
	sess.CompleteDialog()
	return c.JSON(http.StatusOK, sess.Snapshot())
}

func (s *Server) getPass(c echo.Context) error {
	sess, err := s.session(c)
	if sess == nil {
		return err
	}
	pass, perr := sess.IssuePass()
	if perr != nil {
		return c.JSON(http.StatusConflict, echo.Map{"error": perr.Error()})
	}
	return c.JSON(http.StatusOK, pass)
}

func (s *Server) postVoiceOffer(c echo.Context) error {
	sess, err := s.session(c)
	if sess == nil {
		return err
	}
	var offer rtc.SessionDescription
	if berr := c.Bind(&offer); berr != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid offer"})
	}
	answer, herr := s.voice.HandleOffer(c.Request().Context(), offer, rtc.Ports{
		Input:  sess.Input,
		Output: sess.Output,
		Audio:  sess.Audio,
	})
	if herr != nil {
		log.Printf("voice offer for %s failed: %v", sess.ID, herr)
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "offer rejected"})
	}
	return c.JSON(http.StatusOK, answer)
}
