package rojo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/slighter12/rojo-bridge-go/logger"
)

// BaseURL returns the API root of a Rojo server.
func BaseURL(host string, port int) string {
	return "http://" + host + ":" + strconv.Itoa(port) + "/api"
}

// Probe asks the server at host:port to describe itself. It is used both as
// the connect handshake and as the liveness check; callers bound it with ctx.
func Probe(ctx context.Context, hc *http.Client, host string, port int) (Info, error) {
	if hc == nil {
		hc = http.DefaultClient
	}
	return doJSON[Info](ctx, hc, "probe", http.MethodGet, BaseURL(host, port)+"/rojo", nil)
}

func doJSON[T any](ctx context.Context, hc *http.Client, op, method, target string, body any) (T, error) {
	var out T

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return out, &RequestError{Op: op, URL: target, Err: fmt.Errorf("encode request: %w", err)}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return out, &RequestError{Op: op, URL: target, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return out, &RequestError{Op: op, URL: target, Err: fmt.Errorf("%w: %w", ErrUnreachable, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return out, &RequestError{Op: op, URL: target, Status: resp.StatusCode, Err: ErrBadStatus}
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, &RequestError{Op: op, URL: target, Status: resp.StatusCode, Err: fmt.Errorf("%w: %w", ErrMalformedResponse, err)}
	}
	return out, nil
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the client used for every request. It must not carry a
// Timeout, since subscribe polls are held open by the server.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithListener registers fn before the subscribe loop starts, so no update
// can be missed. See OnUpdate.
func WithListener(fn func(Update)) Option {
	return func(c *Client) {
		c.nextID++
		c.listeners = append(c.listeners, listener{id: c.nextID, fn: fn})
	}
}

type listener struct {
	id int
	fn func(Update)
}

// Client owns one connection to a Rojo server. Requests are safe for
// concurrent use. The subscribe loop runs in its own goroutine and issues one
// poll at a time.
type Client struct {
	host string
	port int
	base string
	info Info
	http *http.Client

	mu        sync.Mutex
	connected bool
	cursor    int64
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	listeners []listener
	nextID    int
}

// NewClient builds a client for a server that already answered the
// handshake, and starts listening from cursor 0.
func NewClient(host string, port int, info Info, opts ...Option) *Client {
	c := &Client{
		host: host,
		port: port,
		base: BaseURL(host, port),
		info: info,
		http: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.Listen(0)
	return c
}

func (c *Client) Host() string { return c.host }
func (c *Client) Port() int    { return c.port }
func (c *Client) Info() Info   { return c.info }

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Cursor returns the last cursor the server handed out.
func (c *Client) Cursor() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursor
}

// OnUpdate registers fn for every subscribe result. fn runs on the poll
// goroutine, in poll order, and must not block for long or call Close or
// Listen.
func (c *Client) OnUpdate(fn func(Update)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.listeners = append(c.listeners, listener{id: id, fn: fn})
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, l := range c.listeners {
			if l.id == id {
				c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}

func (c *Client) emit(u Update) {
	c.mu.Lock()
	ls := make([]listener, len(c.listeners))
	copy(ls, c.listeners)
	c.mu.Unlock()
	for _, l := range ls {
		l.fn(u)
	}
}

// markDisconnected clears the flag and releases a poll parked on the server.
func (c *Client) markDisconnected() {
	c.mu.Lock()
	c.connected = false
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Listen marks the client connected and starts the subscribe loop at cursor.
// It returns false if a connected loop is already running. A loop left over
// from a disconnect is waited out first, so Listen must not be called from
// an OnUpdate callback.
func (c *Client) Listen(cursor int64) bool {
	c.mu.Lock()
	for c.running {
		if c.connected {
			c.mu.Unlock()
			return false
		}
		done := c.done
		c.mu.Unlock()
		<-done
		c.mu.Lock()
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.connected = true
	c.running = true
	c.cursor = cursor
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go c.listen(ctx, cursor, done)
	return true
}

func (c *Client) listen(ctx context.Context, cursor int64, done chan struct{}) {
	defer func() {
		c.mu.Lock()
		c.running = false
		c.cancel()
		c.mu.Unlock()
		close(done)
	}()

	for c.Connected() {
		resp, err := c.Subscribe(ctx, cursor)
		// Close or a failed read may have flipped the flag while the poll
		// was parked on the server.
		if !c.Connected() {
			return
		}
		if err != nil {
			c.markDisconnected()
			logger.Debug("Subscribe poll failed", "host", c.host, "port", c.port, "cursor", cursor, "error", err)
			c.emit(Update{Cursor: cursor, Err: err})
			return
		}
		if resp.MessageCursor != nil {
			cursor = *resp.MessageCursor
			c.mu.Lock()
			c.cursor = cursor
			c.mu.Unlock()
		}
		c.emit(Update{Cursor: cursor})
	}
}

// Close stops the subscribe loop and waits for it to exit.
func (c *Client) Close() {
	c.mu.Lock()
	c.connected = false
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Subscribe issues one long-poll. It has no deadline of its own.
func (c *Client) Subscribe(ctx context.Context, cursor int64) (*Response, error) {
	resp, err := doJSON[Response](ctx, c.http, "subscribe", http.MethodGet, c.base+"/subscribe/"+strconv.FormatInt(cursor, 10), nil)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Read fetches instanceID and whatever else the server includes. A failed
// read marks the client disconnected, unless ctx itself ended.
func (c *Client) Read(ctx context.Context, instanceID string) (*Response, error) {
	resp, err := doJSON[Response](ctx, c.http, "read", http.MethodGet, c.base+"/read/"+url.PathEscape(instanceID), nil)
	if err != nil {
		if ctx.Err() == nil {
			c.markDisconnected()
		}
		return nil, err
	}
	return &resp, nil
}

// Write sends property changes. Nothing is cached locally either way.
func (c *Client) Write(ctx context.Context, changes map[string]any) (*Response, error) {
	if changes == nil {
		changes = map[string]any{}
	}
	resp, err := doJSON[Response](ctx, c.http, "write", http.MethodPost, c.base+"/write", changes)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Open asks the server to open instanceID in the user's editor.
func (c *Client) Open(ctx context.Context, instanceID string, options map[string]any) (*Response, error) {
	if options == nil {
		options = map[string]any{}
	}
	resp, err := doJSON[Response](ctx, c.http, "open", http.MethodPost, c.base+"/open/"+url.PathEscape(instanceID), options)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetInstance reads instanceID and picks it out of the instance map.
func (c *Client) GetInstance(ctx context.Context, instanceID string) (Instance, error) {
	resp, err := c.Read(ctx, instanceID)
	if err != nil {
		return Instance{}, err
	}
	target := c.base + "/read/" + url.PathEscape(instanceID)
	if resp.Instances == nil {
		return Instance{}, &RequestError{Op: "read", URL: target, Err: ErrNoInstanceList}
	}
	inst, ok := resp.Instances[instanceID]
	if !ok {
		return Instance{}, &RequestError{Op: "read", URL: target, Err: fmt.Errorf("%w: %s", ErrInstanceNotFound, instanceID)}
	}
	return inst, nil
}
