package http

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/samber/lo"

	"github.com/slighter12/rojo-bridge-go/bridge"
	"github.com/slighter12/rojo-bridge-go/logger"
	"github.com/slighter12/rojo-bridge-go/properties"
	"github.com/slighter12/rojo-bridge-go/rojo"
	"github.com/slighter12/rojo-bridge-go/session"
	"github.com/slighter12/rojo-bridge-go/tree"
)

const maxJSONBodyBytes = 1 << 20

// editActions are explorer commands the sync API cannot carry out.
var editActions = map[string]struct{}{
	"cut":            {},
	"copy":           {},
	"paste":          {},
	"duplicate":      {},
	"delete":         {},
	"group":          {},
	"ungroup":        {},
	"selectChildren": {},
	"insertInstance": {},
	"insertFile":     {},
}

func RegisterRoutes(e *echo.Echo, s *Server) {
	e.GET("/", s.handleInfo)

	sessions := e.Group("/sessions")
	sessions.GET("", s.handleListSessions)
	sessions.POST("", s.handleConnect)
	sessions.DELETE("/:name", s.handleDisconnect)
	sessions.PATCH("/:name", s.handleRename)
	sessions.GET("/:name/root", s.handleRoot)
	sessions.POST("/:name/write", s.handleWrite)
	sessions.GET("/:name/instances/:id", s.handleInstance)
	sessions.GET("/:name/instances/:id/properties", s.handleProperties)
	sessions.POST("/:name/instances/:id/open", s.handleOpen)
	sessions.POST("/:name/instances/:id/actions/:action", s.handleAction)

	e.GET("/selection", s.handleSelection)
	e.GET("/events", s.handleEvents)
	e.GET("/events/ws", s.handleEventsWebSocket)
}

type sessionView struct {
	Name            string `json:"name"`
	Host            string `json:"host"`
	Port            int    `json:"port"`
	Connected       bool   `json:"connected"`
	Cursor          int64  `json:"cursor"`
	SessionID       string `json:"session_id"`
	ServerVersion   string `json:"server_version"`
	ProtocolVersion int    `json:"protocol_version"`
	RootInstanceID  string `json:"root_instance_id"`
}

func newSessionView(s session.Session) sessionView {
	info := s.Info()
	return sessionView{
		Name:            s.Name,
		Host:            s.Host,
		Port:            s.Port,
		Connected:       s.Client.Connected(),
		Cursor:          s.Client.Cursor(),
		SessionID:       info.SessionID,
		ServerVersion:   info.ServerVersion,
		ProtocolVersion: info.ProtocolVersion,
		RootInstanceID:  info.RootInstanceID,
	}
}

type nodeView struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	ClassName       string `json:"class_name"`
	Label           string `json:"label"`
	Detail          string `json:"detail,omitempty"`
	Root            bool   `json:"root,omitempty"`
	HasChildren     bool   `json:"has_children"`
	SourceContainer bool   `json:"source_container,omitempty"`
}

func newNodeView(n tree.Node) nodeView {
	return nodeView{
		ID:              n.Instance.ID,
		Name:            n.Instance.Name,
		ClassName:       n.Instance.ClassName,
		Label:           n.Label,
		Detail:          n.Detail,
		Root:            n.Root,
		HasChildren:     n.HasChildren(),
		SourceContainer: n.SourceContainer(),
	}
}

type nodeResponse struct {
	Node     nodeView   `json:"node"`
	Children []nodeView `json:"children"`
}

type propertiesResponse struct {
	Session     string                `json:"session"`
	ID          string                `json:"id"`
	Name        string                `json:"name"`
	ClassName   string                `json:"class_name"`
	Categories  []properties.Category `json:"categories"`
	Unsupported []string              `json:"unsupported,omitempty"`
}

func (s *Server) handleInfo(c echo.Context) error {
	idx := s.classes.Index()
	return c.JSON(http.StatusOK, map[string]any{
		"name":               "rojo-bridge",
		"version":            Version,
		"sessions":           len(s.registry.Sessions()),
		"reflection_version": string(idx.Version()),
		"reflection_classes": idx.Len(),
		"events_endpoint":    "/events",
		"websocket_endpoint": "/events/ws",
	})
}

func (s *Server) handleListSessions(c echo.Context) error {
	return c.JSON(http.StatusOK, lo.Map(s.registry.Sessions(), func(sess session.Session, _ int) sessionView {
		return newSessionView(sess)
	}))
}

type connectRequest struct {
	Name string `json:"name"`
	Host string `json:"host"`
	Port *int   `json:"port"`
}

func (s *Server) handleConnect(c echo.Context) error {
	var req connectRequest
	if err := bindJSON(c, &req); err != nil {
		return fail(c, http.StatusBadRequest, codeBadRequest, err.Error())
	}
	host := lo.CoalesceOrEmpty(strings.TrimSpace(req.Host), s.config.Rojo.Host)
	port := s.config.Rojo.Port
	if req.Port != nil {
		port = *req.Port
	}

	sess, err := s.registry.Connect(c.Request().Context(), req.Name, host, port)
	if err != nil {
		return failWith(c, err)
	}
	return c.JSON(http.StatusCreated, newSessionView(sess))
}

func (s *Server) handleDisconnect(c echo.Context) error {
	if err := s.registry.Disconnect(c.Param("name")); err != nil {
		return failWith(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type renameRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleRename(c echo.Context) error {
	var req renameRequest
	if err := bindJSON(c, &req); err != nil {
		return fail(c, http.StatusBadRequest, codeBadRequest, err.Error())
	}
	sess, err := s.registry.Rename(c.Param("name"), req.Name)
	if err != nil {
		return failWith(c, err)
	}
	return c.JSON(http.StatusOK, newSessionView(sess))
}

func (s *Server) session(c echo.Context) (session.Session, error) {
	name := c.Param("name")
	sess, ok := s.registry.Get(name)
	if !ok {
		return session.Session{}, fmt.Errorf("%w: %s", session.ErrSessionNotFound, name)
	}
	return sess, nil
}

func (s *Server) handleRoot(c echo.Context) error {
	sess, err := s.session(c)
	if err != nil {
		return failWith(c, err)
	}
	node, err := s.tree.Root(c.Request().Context(), sess)
	if err != nil {
		return failWith(c, err)
	}
	return s.respondNode(c, node)
}

func (s *Server) handleInstance(c echo.Context) error {
	node, _, err := s.node(c)
	if err != nil {
		return failWith(c, err)
	}
	return s.respondNode(c, node)
}

func (s *Server) node(c echo.Context) (tree.Node, session.Session, error) {
	sess, err := s.session(c)
	if err != nil {
		return tree.Node{}, sess, err
	}
	node, err := s.tree.Node(c.Request().Context(), sess.Name, sess.Client, c.Param("id"))
	if err != nil {
		return tree.Node{}, sess, err
	}
	node.Root = node.Instance.ID == sess.Info().RootInstanceID
	return node, sess, nil
}

func (s *Server) respondNode(c echo.Context, node tree.Node) error {
	children, err := s.tree.Children(c.Request().Context(), node)
	if err != nil {
		return failWith(c, err)
	}
	return c.JSON(http.StatusOK, nodeResponse{
		Node:     newNodeView(node),
		Children: lo.Map(children, func(n tree.Node, _ int) nodeView { return newNodeView(n) }),
	})
}

func (s *Server) resolve(sessionName string, inst rojo.Instance) propertiesResponse {
	return propertiesResponse{
		Session:     sessionName,
		ID:          inst.ID,
		Name:        inst.Name,
		ClassName:   inst.ClassName,
		Categories:  properties.Resolve(s.classes.Index(), inst),
		Unsupported: inst.Unsupported,
	}
}

func (s *Server) handleProperties(c echo.Context) error {
	node, sess, err := s.node(c)
	if err != nil {
		return failWith(c, err)
	}
	return c.JSON(http.StatusOK, s.resolve(sess.Name, node.Instance))
}

// handleOpen selects the instance. Source containers are also opened on the
// Rojo side; failures there are only logged.
func (s *Server) handleOpen(c echo.Context) error {
	node, sess, err := s.node(c)
	if err != nil {
		return failWith(c, err)
	}
	if node.SourceContainer() {
		if _, err := sess.Client.Open(c.Request().Context(), node.Instance.ID, nil); err != nil {
			logger.Debug("Open request failed", "session", sess.Name, "instance", node.Instance.ID, "error", err)
		}
	}
	selected := s.selection.Set(sess.Name, node.Instance.ID, time.Now())
	return c.JSON(http.StatusOK, selectionResponse{
		Selection:  &selected,
		Properties: lo.ToPtr(s.resolve(sess.Name, node.Instance)),
	})
}

// handleWrite forwards the body to Rojo in the background and answers 202
// straight away.
func (s *Server) handleWrite(c echo.Context) error {
	sess, err := s.session(c)
	if err != nil {
		return failWith(c, err)
	}
	var changes map[string]any
	if err := bindJSON(c, &changes); err != nil {
		return fail(c, http.StatusBadRequest, codeBadRequest, err.Error())
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request().Context()), writeTimeout)
	go func() {
		defer cancel()
		if _, err := sess.Client.Write(ctx, changes); err != nil {
			logger.Debug("Write request failed", "session", sess.Name, "error", err)
		}
	}()
	return c.NoContent(http.StatusAccepted)
}

// handleAction answers explorer edit commands. Renaming the root renames the
// session; everything else is refused.
func (s *Server) handleAction(c echo.Context) error {
	action := c.Param("action")
	if action == "rename" {
		node, sess, err := s.node(c)
		if err != nil {
			return failWith(c, err)
		}
		if !node.Root {
			return fail(c, http.StatusNotImplemented, codeNotSupported, notSupportedMessage)
		}
		var req renameRequest
		if err := bindJSON(c, &req); err != nil {
			return fail(c, http.StatusBadRequest, codeBadRequest, err.Error())
		}
		renamed, err := s.registry.Rename(sess.Name, req.Name)
		if err != nil {
			return failWith(c, err)
		}
		return c.JSON(http.StatusOK, newSessionView(renamed))
	}
	if _, ok := editActions[action]; ok {
		return fail(c, http.StatusNotImplemented, codeNotSupported, notSupportedMessage)
	}
	return fail(c, http.StatusNotFound, codeUnknownAction, "unknown action "+action)
}

type selectionResponse struct {
	Selection  *bridge.Selected    `json:"selection"`
	Properties *propertiesResponse `json:"properties,omitempty"`
}

// handleSelection re-reads the selected instance so the view is current.
func (s *Server) handleSelection(c echo.Context) error {
	selected, ok := s.selection.Current()
	if !ok {
		return fail(c, http.StatusNotFound, codeNothingSelected, "No instance is selected.")
	}
	sess, ok := s.registry.Get(selected.Session)
	if !ok {
		return failWith(c, fmt.Errorf("%w: %s", session.ErrSessionNotFound, selected.Session))
	}
	inst, err := sess.Client.GetInstance(c.Request().Context(), selected.InstanceID)
	if err != nil {
		return failWith(c, err)
	}
	return c.JSON(http.StatusOK, selectionResponse{
		Selection:  &selected,
		Properties: lo.ToPtr(s.resolve(sess.Name, inst)),
	})
}

func bindJSON(c echo.Context, dst any) error {
	req := c.Request()
	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxJSONBodyBytes)
	return (&echo.DefaultBinder{}).BindBody(c, dst)
}
