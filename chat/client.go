package chat

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"time"
)

var (
	// ErrNotLoggedIn is returned by operations that need an authenticated
	// session before Login has succeeded.
	ErrNotLoggedIn = errors.New("chat: not logged in")

	// ErrLoggedIn is returned by Login on an already-authenticated client.
	ErrLoggedIn = errors.New("chat: already logged in")
)

// EventHandler receives room events from a watcher.
type EventHandler func(ev *Event, c *Client)

// Option configures a Client.
type Option func(*Client)

// WithAggressiveSend merges a newly requested send into the previous
// still-queued send for the same room when the fragments can be safely
// joined, cutting down on throttle pressure.
func WithAggressiveSend() Option {
	return func(c *Client) { c.aggressive = true }
}

// WithMinInterval overrides the minimum spacing between action attempts.
func WithMinInterval(d time.Duration) Option {
	return func(c *Client) { c.minInterval = d }
}

// WithMaxAttempts overrides the per-action retry budget.
func WithMaxAttempts(n int) Option {
	return func(c *Client) { c.maxAttempts = n }
}

// Client is a high-level interface to a chat host. It owns the entity cache:
// asking for the same message, room or user id twice returns the same
// instance, whoever is asking.
type Client struct {
	br   Browser
	disp *dispatcher

	minInterval time.Duration
	maxAttempts int
	aggressive  bool

	mu         sync.Mutex
	loggedIn   bool
	exec       *Executor
	messages   map[int]*Message
	rooms      map[int]*Room
	users      map[int]*User
	watermarks map[int]int64
	watchers   map[int][]Watcher
	lastSend   map[int]*Handle

	recentObjects *recencyRing
	recentEvents  *recencyRing

	onMessageSent  func(messageID, roomID int)
	socketRecovery func(roomID int)
}

// NewClient wraps a Browser. The client is not usable for writes or watching
// until Login succeeds.
func NewClient(br Browser, opts ...Option) *Client {
	c := &Client{
		br:            br,
		minInterval:   DefaultMinInterval,
		maxAttempts:   DefaultMaxAttempts,
		messages:      make(map[int]*Message),
		rooms:         make(map[int]*Room),
		users:         make(map[int]*User),
		watermarks:    make(map[int]int64),
		watchers:      make(map[int][]Watcher),
		lastSend:      make(map[int]*Handle),
		recentObjects: newRecencyRing(maxRecentObjects),
		recentEvents:  newRecencyRing(maxRecentEvents),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.disp = &dispatcher{br: br, onMessageSent: c.messageSent}

	// a client dropped while logged in silently abandons queued actions
	runtime.SetFinalizer(c, func(c *Client) {
		if c.isLoggedIn() {
			slog.Error("[CLIENT] Client garbage collected while logged in; you forgot to log out")
		}
	})
	return c
}

func (c *Client) isLoggedIn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedIn
}

// Login authenticates the session. Authentication failures surface
// immediately as *LoginError and are never retried.
func (c *Client) Login(email, password string) error {
	c.mu.Lock()
	if c.loggedIn {
		c.mu.Unlock()
		return ErrLoggedIn
	}
	c.mu.Unlock()

	slog.Info("[CLIENT] Logging in")
	if err := c.br.Login(context.Background(), email, password); err != nil {
		return err
	}

	c.mu.Lock()
	c.loggedIn = true
	c.exec = NewExecutor(c.minInterval, c.maxAttempts, c.disp.perform)
	c.mu.Unlock()
	slog.Info("[CLIENT] Logged in")
	return nil
}

// Logout kills every watcher, drains the action queue and ends the session.
// The client cannot be reused afterwards.
func (c *Client) Logout() error {
	c.mu.Lock()
	if !c.loggedIn {
		c.mu.Unlock()
		return ErrNotLoggedIn
	}
	c.loggedIn = false
	var watchers []Watcher
	for _, ws := range c.watchers {
		watchers = append(watchers, ws...)
	}
	c.watchers = make(map[int][]Watcher)
	exec := c.exec
	c.mu.Unlock()

	for _, w := range watchers {
		w.Kill()
	}
	exec.Shutdown(true)
	slog.Info("[CLIENT] Logged out")
	return nil
}

// SetOnMessageSent registers a callback invoked with the new message id and
// room id after every successful send.
func (c *Client) SetOnMessageSent(fn func(messageID, roomID int)) {
	c.mu.Lock()
	c.onMessageSent = fn
	c.mu.Unlock()
}

// SetSocketRecovery replaces the default push-channel recovery policy
// (leave, rejoin, re-watch) with a caller-supplied one.
func (c *Client) SetSocketRecovery(fn func(roomID int)) {
	c.mu.Lock()
	c.socketRecovery = fn
	c.mu.Unlock()
}

// messageSent updates the cache for a freshly posted message, then forwards
// to the registered callback.
func (c *Client) messageSent(messageID, roomID int) {
	c.GetMessage(messageID, MessageRoomID(roomID))

	c.mu.Lock()
	fn := c.onMessageSent
	c.mu.Unlock()
	if fn != nil {
		fn(messageID, roomID)
	}
}

// GetMessage returns the Message instance with the given id, creating it on
// first reference. Any known fields are applied immediately.
func (c *Client) GetMessage(messageID int, known ...MessageField) *Message {
	c.mu.Lock()
	m, ok := c.messages[messageID]
	if !ok {
		m = newMessage(messageID, c)
		c.messages[messageID] = m
	}
	c.mu.Unlock()
	if len(known) > 0 {
		m.mu.Lock()
		for _, f := range known {
			f(m)
		}
		m.mu.Unlock()
	}
	c.recentObjects.add(m)
	return m
}

// GetRoom returns the Room instance with the given id, creating it on first
// reference. Any known fields are applied immediately.
func (c *Client) GetRoom(roomID int, known ...RoomField) *Room {
	c.mu.Lock()
	r, ok := c.rooms[roomID]
	if !ok {
		r = newRoom(roomID, c)
		c.rooms[roomID] = r
	}
	c.mu.Unlock()
	if len(known) > 0 {
		r.mu.Lock()
		for _, f := range known {
			f(r)
		}
		r.mu.Unlock()
	}
	c.recentObjects.add(r)
	return r
}

// GetUser returns the User instance with the given id, creating it on first
// reference. Any known fields are applied immediately.
func (c *Client) GetUser(userID int, known ...UserField) *User {
	c.mu.Lock()
	u, ok := c.users[userID]
	if !ok {
		u = newUser(userID, c)
		c.users[userID] = u
	}
	c.mu.Unlock()
	if len(known) > 0 {
		u.mu.Lock()
		for _, f := range known {
			f(u)
		}
		u.mu.Unlock()
	}
	c.recentObjects.add(u)
	return u
}

// Me returns the logged-in user.
func (c *Client) Me() (*User, error) {
	if !c.isLoggedIn() {
		return nil, ErrNotLoggedIn
	}
	if name := c.br.UserName(); name != "" {
		return c.GetUser(c.br.UserID(), UserName(name)), nil
	}
	return c.GetUser(c.br.UserID()), nil
}

// executor snapshots the current executor; nil before Login.
func (c *Client) executor() *Executor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exec
}

func (c *Client) queueAction(a *action) (*Handle, error) {
	c.mu.Lock()
	exec := c.exec
	loggedIn := c.loggedIn
	c.mu.Unlock()
	if !loggedIn || exec == nil {
		return nil, ErrNotLoggedIn
	}
	return exec.submit(a)
}

func (c *Client) pendingSend(roomID int) *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSend[roomID]
}

func (c *Client) setPendingSend(roomID int, h *Handle) {
	c.mu.Lock()
	c.lastSend[roomID] = h
	c.mu.Unlock()
}

func (c *Client) joinRoom(roomID int) error {
	if !c.isLoggedIn() {
		return ErrNotLoggedIn
	}
	watermark, err := c.br.JoinRoom(context.Background(), roomID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.watermarks[roomID] = watermark
	c.mu.Unlock()
	slog.Info("[CLIENT] Joined room", "room", roomID, "watermark", watermark)
	return nil
}

// rejoinRoom refreshes the room session and watermark while leaving the
// room's other watchers running.
func (c *Client) rejoinRoom(roomID int) error {
	if err := c.br.LeaveRoom(context.Background(), roomID); err != nil {
		slog.Warn("[CLIENT] Leave during rejoin failed", "room", roomID, "error", err)
	}
	watermark, err := c.br.JoinRoom(context.Background(), roomID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.watermarks[roomID] = watermark
	c.mu.Unlock()
	slog.Info("[CLIENT] Rejoined room", "room", roomID, "watermark", watermark)
	return nil
}

func (c *Client) leaveRoom(roomID int) error {
	c.mu.Lock()
	watchers := c.watchers[roomID]
	delete(c.watchers, roomID)
	delete(c.watermarks, roomID)
	c.mu.Unlock()

	for _, w := range watchers {
		w.Kill()
	}
	if err := c.br.LeaveRoom(context.Background(), roomID); err != nil {
		return err
	}
	slog.Info("[CLIENT] Left room", "room", roomID)
	return nil
}

func (c *Client) watermark(roomID int) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.watermarks[roomID]
	return w, ok
}

func (c *Client) advanceWatermark(roomID int, t int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.watermarks[roomID]; ok {
		c.watermarks[roomID] = t
	}
}

func (c *Client) trackWatcher(roomID int, w Watcher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	live := c.watchers[roomID][:0]
	for _, old := range c.watchers[roomID] {
		select {
		case <-old.Done():
			// exited watchers fall out of the registry here
		default:
			live = append(live, old)
		}
	}
	c.watchers[roomID] = append(live, w)
}

// applyTranscript folds every message on a transcript page into the cache.
func (c *Client) applyTranscript(data *TranscriptData) {
	c.GetRoom(data.RoomID, RoomName(data.RoomName))
	for i := range data.Messages {
		tm := &data.Messages[i]
		m := c.GetMessage(tm.ID)
		m.applyTranscriptMessage(data.RoomID, data.RoomName, tm)
	}
}
