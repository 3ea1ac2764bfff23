// Package rojotest runs an in-process stand-in for a Rojo server.
package rojotest

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/slighter12/rojo-bridge-go/rojo"
)

type pollReply struct {
	cursor *int64
	status int
}

// Server answers the Rojo API from in-memory state. Subscribe polls park
// until a reply is queued with PushCursor, PushEmpty or PushFailure.
type Server struct {
	*httptest.Server

	mu              sync.Mutex
	info            rojo.Info
	instances       map[string]map[string]any
	down            bool
	probeDelay      time.Duration
	omitInstances   bool
	requests        int
	probes          int
	subscribeCursor []int64
	writes          []map[string]any
	opens           map[string]int

	replies   chan pollReply
	stop      chan struct{}
	closeOnce sync.Once
}

// New starts a server whose root instance is a DataModel named "Game".
func New() *Server {
	s := &Server{
		info: rojo.Info{
			SessionID:       "session-1",
			ServerVersion:   "0.5.4",
			ProtocolVersion: 2,
			RootInstanceID:  "root",
		},
		instances: map[string]map[string]any{},
		opens:     map[string]int{},
		replies:   make(chan pollReply, 64),
		stop:      make(chan struct{}),
	}
	s.AddInstance("root", "", "Game", "DataModel", nil)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	api := e.Group("/api", s.middleware)
	api.GET("/rojo", s.handleInfo)
	api.GET("/read/:id", s.handleRead)
	api.POST("/write", s.handleWrite)
	api.POST("/open/:id", s.handleOpen)
	api.GET("/subscribe/:cursor", s.handleSubscribe)

	s.Server = httptest.NewServer(e)
	return s
}

// Close releases parked polls and shuts the server down.
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.stop) })
	s.Server.Close()
}

// HostPort returns the address clients should connect to.
func (s *Server) HostPort() (string, int) {
	u, _ := url.Parse(s.URL)
	port, _ := strconv.Atoi(u.Port())
	return u.Hostname(), port
}

// Info returns the handshake payload served by /api/rojo.
func (s *Server) Info() rojo.Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// AddInstance stores an instance and links it under parent when parent is
// already known.
func (s *Server) AddInstance(id, parent, name, className string, props map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if props == nil {
		props = map[string]any{}
	}
	inst := map[string]any{
		"Id":         id,
		"Name":       name,
		"ClassName":  className,
		"Properties": props,
		"Children":   []string{},
		"Metadata":   map[string]any{"ignoreUnknownInstances": false},
	}
	if parent != "" {
		inst["Parent"] = parent
		if p, ok := s.instances[parent]; ok {
			p["Children"] = append(p["Children"].([]string), id)
		}
	}
	s.instances[id] = inst
}

// SetDown makes every endpoint answer 503 until called with false.
func (s *Server) SetDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

// SetProbeDelay holds every /api/rojo answer back by d.
func (s *Server) SetProbeDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probeDelay = d
}

// OmitInstances makes reads answer without an instance map.
func (s *Server) OmitInstances(omit bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.omitInstances = omit
}

func (s *Server) PushCursor(cursor int64) { s.replies <- pollReply{cursor: &cursor, status: http.StatusOK} }
func (s *Server) PushEmpty()              { s.replies <- pollReply{status: http.StatusOK} }
func (s *Server) PushFailure()            { s.replies <- pollReply{status: http.StatusInternalServerError} }

// Requests counts every request received, probes included.
func (s *Server) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

func (s *Server) Probes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.probes
}

// SubscribeCursors lists the cursor of every subscribe poll, in arrival order.
func (s *Server) SubscribeCursors() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.subscribeCursor...)
}

func (s *Server) Writes() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.writes...)
}

func (s *Server) Opens(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens[id]
}

func (s *Server) middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		s.mu.Lock()
		s.requests++
		down := s.down
		s.mu.Unlock()
		if down {
			return c.NoContent(http.StatusServiceUnavailable)
		}
		return next(c)
	}
}

func (s *Server) handleInfo(c echo.Context) error {
	s.mu.Lock()
	s.probes++
	info, delay := s.info, s.probeDelay
	s.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-s.stop:
			return c.NoContent(http.StatusServiceUnavailable)
		case <-c.Request().Context().Done():
			return nil
		}
	}
	return c.JSON(http.StatusOK, info)
}

func (s *Server) handleRead(c echo.Context) error {
	id := c.Param("id")
	s.mu.Lock()
	defer s.mu.Unlock()
	body := map[string]any{"sessionId": s.info.SessionID, "messageCursor": 0}
	if !s.omitInstances {
		instances := map[string]any{}
		if inst, ok := s.instances[id]; ok {
			instances[id] = inst
		}
		body["instances"] = instances
	}
	return c.JSON(http.StatusOK, body)
}

func (s *Server) handleWrite(c echo.Context) error {
	var changes map[string]any
	if err := c.Bind(&changes); err != nil {
		return c.NoContent(http.StatusBadRequest)
	}
	s.mu.Lock()
	s.writes = append(s.writes, changes)
	sessionID := s.info.SessionID
	s.mu.Unlock()
	return c.JSON(http.StatusOK, map[string]any{"sessionId": sessionID})
}

func (s *Server) handleOpen(c echo.Context) error {
	s.mu.Lock()
	s.opens[c.Param("id")]++
	sessionID := s.info.SessionID
	s.mu.Unlock()
	return c.JSON(http.StatusOK, map[string]any{"sessionId": sessionID})
}

func (s *Server) handleSubscribe(c echo.Context) error {
	cursor, err := strconv.ParseInt(c.Param("cursor"), 10, 64)
	if err != nil {
		return c.NoContent(http.StatusBadRequest)
	}
	s.mu.Lock()
	s.subscribeCursor = append(s.subscribeCursor, cursor)
	sessionID := s.info.SessionID
	s.mu.Unlock()

	select {
	case reply := <-s.replies:
		if reply.status != http.StatusOK {
			return c.NoContent(reply.status)
		}
		body := map[string]any{"sessionId": sessionID}
		if reply.cursor != nil {
			body["messageCursor"] = *reply.cursor
		}
		return c.JSON(http.StatusOK, body)
	case <-s.stop:
		return c.NoContent(http.StatusServiceUnavailable)
	case <-c.Request().Context().Done():
		return nil
	}
}
