// Package session keeps the set of connected Rojo servers and evicts the ones
// that stop answering.
package session

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/samber/lo"

	"github.com/slighter12/rojo-bridge-go/logger"
	"github.com/slighter12/rojo-bridge-go/rojo"
)

const (
	DefaultLivenessInterval = time.Second
	DefaultProbeTimeout     = 100 * time.Millisecond
	DefaultHost             = "localhost"
)

type EventKind string

const (
	EventConnected    EventKind = "connected"
	EventDisconnected EventKind = "disconnected"
	EventRenamed      EventKind = "renamed"
	EventUpdated      EventKind = "updated"
)

// Event reports a change to the session list or a subscribe result.
type Event struct {
	Kind         EventKind
	Session      string
	PreviousName string
	Port         int
	Cursor       int64
	Err          error
	// Message is set when the user should be told, e.g. after an eviction.
	Message string
}

// Session is a snapshot of one registered connection.
type Session struct {
	Name   string
	Host   string
	Port   int
	Client *rojo.Client
}

func (s Session) Info() rojo.Info { return s.Client.Info() }

type observer struct {
	id int
	fn func(Event)
}

type Option func(*Registry)

// WithClock replaces the clock that drives the liveness ticker.
func WithClock(c clock.Clock) Option {
	return func(r *Registry) { r.clock = c }
}

func WithInterval(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithProbeTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.probeTimeout = d
		}
	}
}

// WithHTTPClient sets the client used for probes and handed to every
// session client.
func WithHTTPClient(hc *http.Client) Option {
	return func(r *Registry) {
		if hc != nil {
			r.http = hc
		}
	}
}

// Registry owns the active sessions. Names and ports are unique among them.
type Registry struct {
	mu        sync.Mutex
	sessions  []*Session
	observers []observer
	nextObs   int

	clock        clock.Clock
	interval     time.Duration
	probeTimeout time.Duration
	http         *http.Client

	sweepMu sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		clock:        clock.New(),
		interval:     DefaultLivenessInterval,
		probeTimeout: DefaultProbeTimeout,
		http:         http.DefaultClient,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subscribe registers fn for every registry event. fn runs on the goroutine
// that caused the event and must not call Disconnect or Close.
func (r *Registry) Subscribe(fn func(Event)) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextObs++
	id := r.nextObs
	r.observers = append(r.observers, observer{id: id, fn: fn})
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.observers = slices.DeleteFunc(r.observers, func(o observer) bool { return o.id == id })
	}
}

func (r *Registry) emit(ev Event) {
	r.mu.Lock()
	obs := slices.Clone(r.observers)
	r.mu.Unlock()
	for _, o := range obs {
		o.fn(ev)
	}
}

// validateLocked checks port range and uniqueness of name and port. self is
// skipped when renaming.
func (r *Registry) validateLocked(name string, port int, self *Session) error {
	if port < 1 || port > 65535 {
		return invalid(CodeInvalidPort, "Invalid port specified.")
	}
	if other, ok := lo.Find(r.sessions, func(s *Session) bool { return s != self && s.Port == port }); ok {
		return invalid(CodePortInUse, "%s is already using that port.", other.Name)
	}
	return r.validateNameLocked(name, self)
}

func (r *Registry) validateNameLocked(name string, self *Session) error {
	if name == "" {
		return invalid(CodeNameRequired, "A name must be specified.")
	}
	if lo.ContainsBy(r.sessions, func(s *Session) bool { return s != self && s.Name == name }) {
		return invalid(CodeNameInUse, "Another project is already using that name.")
	}
	return nil
}

func (r *Registry) probe(ctx context.Context, host string, port int) (rojo.Info, error) {
	ctx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()
	return rojo.Probe(ctx, r.http, host, port)
}

// Connect validates name and port, confirms a Rojo server answers at
// host:port, and registers a new session for it.
func (r *Registry) Connect(ctx context.Context, name, host string, port int) (Session, error) {
	name = strings.TrimSpace(name)
	host = strings.TrimSpace(host)
	if host == "" {
		host = DefaultHost
	}

	r.mu.Lock()
	err := r.validateLocked(name, port, nil)
	r.mu.Unlock()
	if err != nil {
		return Session{}, err
	}

	info, err := r.probe(ctx, host, port)
	if err != nil {
		logger.Warn("Couldn't connect to Rojo", "session", name, "host", host, "port", port, "error", err)
		return Session{}, fmt.Errorf("%w: %w", ErrProbeFailed, err)
	}

	r.mu.Lock()
	// Another connect may have claimed the name or port while probing.
	if err := r.validateLocked(name, port, nil); err != nil {
		r.mu.Unlock()
		return Session{}, err
	}
	s := &Session{Name: name, Host: host, Port: port}
	s.Client = rojo.NewClient(host, port, info,
		rojo.WithHTTPClient(r.http),
		rojo.WithListener(func(u rojo.Update) { r.clientUpdated(s, u) }),
	)
	r.sessions = append(r.sessions, s)
	snapshot := *s
	r.mu.Unlock()

	logger.Info("Connected to Rojo", "session", name, "host", host, "port", port,
		"server_version", info.ServerVersion, "protocol_version", info.ProtocolVersion)
	r.emit(Event{Kind: EventConnected, Session: name, Port: port})
	return snapshot, nil
}

func (r *Registry) clientUpdated(s *Session, u rojo.Update) {
	r.mu.Lock()
	if !slices.Contains(r.sessions, s) {
		r.mu.Unlock()
		return
	}
	name, port := s.Name, s.Port
	r.mu.Unlock()
	r.emit(Event{Kind: EventUpdated, Session: name, Port: port, Cursor: u.Cursor, Err: u.Err})
}

// remove drops s from the list. It reports false if s was already gone.
func (r *Registry) remove(s *Session) (name string, port int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := slices.Index(r.sessions, s)
	if i < 0 {
		return "", 0, false
	}
	r.sessions = slices.Delete(r.sessions, i, i+1)
	return s.Name, s.Port, true
}

// Disconnect removes the named session and stops its subscribe loop.
func (r *Registry) Disconnect(name string) error {
	r.mu.Lock()
	s, ok := lo.Find(r.sessions, func(s *Session) bool { return s.Name == name })
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, name)
	}
	name, port, removed := r.remove(s)
	if !removed {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, name)
	}
	s.Client.Close()
	logger.Info("Disconnected from Rojo", "session", name, "port", port)
	r.emit(Event{Kind: EventDisconnected, Session: name, Port: port})
	return nil
}

func (r *Registry) evict(s *Session, cause error) {
	name, port, ok := r.remove(s)
	if !ok {
		return
	}
	s.Client.Close()
	msg := fmt.Sprintf("Disconnected from project %s on port %d", name, port)
	logger.Warn(msg, "session", name, "port", port, "error", cause)
	r.emit(Event{Kind: EventDisconnected, Session: name, Port: port, Err: cause, Message: msg})
}

// Rename gives the session a new unique name.
func (r *Registry) Rename(oldName, newName string) (Session, error) {
	newName = strings.TrimSpace(newName)

	r.mu.Lock()
	s, ok := lo.Find(r.sessions, func(s *Session) bool { return s.Name == oldName })
	if !ok {
		r.mu.Unlock()
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, oldName)
	}
	if err := r.validateNameLocked(newName, s); err != nil {
		r.mu.Unlock()
		return Session{}, err
	}
	s.Name = newName
	snapshot := *s
	r.mu.Unlock()

	if oldName != newName {
		r.emit(Event{Kind: EventRenamed, Session: newName, PreviousName: oldName, Port: snapshot.Port})
	}
	return snapshot, nil
}

func (r *Registry) Get(name string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := lo.Find(r.sessions, func(s *Session) bool { return s.Name == name })
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Sessions returns the active sessions in connect order.
func (r *Registry) Sessions() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo.Map(r.sessions, func(s *Session, _ int) Session { return *s })
}

// Sweep probes every session once, concurrently, and evicts the ones that
// fail. A cancelled ctx evicts nothing.
func (r *Registry) Sweep(ctx context.Context) {
	r.mu.Lock()
	sessions := slices.Clone(r.sessions)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Go(func() {
			if _, err := r.probe(ctx, s.Host, s.Port); err != nil {
				if ctx.Err() != nil {
					return
				}
				r.evict(s, err)
			}
		})
	}
	wg.Wait()
}

// Start runs Sweep on every tick of the liveness interval until Stop is
// called or ctx ends. Calling Start twice has no effect.
func (r *Registry) Start(ctx context.Context) {
	r.sweepMu.Lock()
	defer r.sweepMu.Unlock()
	if r.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	ticker := r.clock.Ticker(r.interval)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Sweep(ctx)
			}
		}
	}()
	logger.Debug("Liveness sweep started", "interval", r.interval, "probe_timeout", r.probeTimeout)
}

// Stop ends the liveness sweep and waits for it.
func (r *Registry) Stop() {
	r.sweepMu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.sweepMu.Unlock()
	if cancel != nil {
		cancel()
		r.wg.Wait()
	}
}

// Close stops the sweep and disconnects every session.
func (r *Registry) Close() {
	r.Stop()
	for _, s := range r.Sessions() {
		_ = r.Disconnect(s.Name)
	}
}
