package chat

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Watcher is a running event loop for one room. Kill is cooperative: the
// loop exits at its next iteration boundary, and an in-flight network call
// is never interrupted.
type Watcher interface {
	Kill()
	// Done is closed once the loop has exited.
	Done() <-chan struct{}
}

// pollingWatcher requests activity since the room watermark at a fixed
// interval and advances the watermark with each server-reported cursor.
type pollingWatcher struct {
	client   *Client
	roomID   int
	handler  EventHandler
	interval time.Duration

	killed atomic.Bool
	kill   chan struct{}
	done   chan struct{}
}

func (c *Client) watchPolling(roomID int, handler EventHandler, interval time.Duration) (Watcher, error) {
	if _, ok := c.watermark(roomID); !ok {
		return nil, ErrNotJoined
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	w := &pollingWatcher{
		client:   c,
		roomID:   roomID,
		handler:  handler,
		interval: interval,
		kill:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	c.trackWatcher(roomID, w)
	go w.run()
	slog.Info("[WATCH] Polling watcher started", "room", roomID, "interval", interval)
	return w, nil
}

func (w *pollingWatcher) Kill() {
	if w.killed.CompareAndSwap(false, true) {
		close(w.kill)
	}
}

func (w *pollingWatcher) Done() <-chan struct{} { return w.done }

func (w *pollingWatcher) run() {
	defer close(w.done)
	for !w.killed.Load() {
		w.poll()
		select {
		case <-w.kill:
			slog.Debug("[WATCH] Polling watcher killed", "room", w.roomID)
			return
		case <-time.After(w.interval):
		}
	}
}

func (w *pollingWatcher) poll() {
	c := w.client
	since, ok := c.watermark(w.roomID)
	if !ok {
		// room left under us; the kill flag follows shortly
		return
	}

	payload, err := c.br.RoomEvents(context.Background(), w.roomID, since)
	if err != nil {
		slog.Warn("[WATCH] Poll failed", "room", w.roomID, "error", err)
		return
	}

	events, t := c.eventsFromActivity(w.roomID, payload)
	if t != 0 {
		c.advanceWatermark(w.roomID, t)
	}
	for _, ev := range events {
		w.handler(ev, c)
	}
}

// socketWatcher reads activity frames from the push channel. On connection
// loss it hands off to the recovery policy; the default one leaves the room,
// rejoins and re-establishes the socket watch.
type socketWatcher struct {
	client  *Client
	roomID  int
	handler EventHandler
	sock    EventSocket

	killed atomic.Bool
	done   chan struct{}
}

func (c *Client) watchSocket(roomID int, handler EventHandler) (Watcher, error) {
	since, ok := c.watermark(roomID)
	if !ok {
		return nil, ErrNotJoined
	}
	sock, err := c.br.OpenEventSocket(context.Background(), roomID, since)
	if err != nil {
		return nil, err
	}
	w := &socketWatcher{
		client:  c,
		roomID:  roomID,
		handler: handler,
		sock:    sock,
		done:    make(chan struct{}),
	}
	c.trackWatcher(roomID, w)
	go w.run()
	slog.Info("[SOCKET] Socket watcher started", "room", roomID, "watermark", since)
	return w, nil
}

func (w *socketWatcher) Kill() {
	if w.killed.CompareAndSwap(false, true) {
		w.sock.Close()
	}
}

func (w *socketWatcher) Done() <-chan struct{} { return w.done }

func (w *socketWatcher) run() {
	defer close(w.done)
	c := w.client
	for !w.killed.Load() {
		frame, err := w.sock.Receive()
		if err != nil {
			if w.killed.Load() {
				slog.Debug("[SOCKET] Socket watcher killed", "room", w.roomID)
				return
			}
			slog.Warn("[SOCKET] Connection lost", "room", w.roomID, "error", err)
			w.killed.Store(true)
			w.recover()
			return
		}
		if len(frame) == 0 {
			continue
		}
		// the socket channel does not advance the shared watermark; polling
		// may re-deliver, and consumers dedupe by event id
		events, _ := c.eventsFromActivity(w.roomID, frame)
		for _, ev := range events {
			w.handler(ev, c)
		}
	}
}

func (w *socketWatcher) recover() {
	c := w.client
	c.mu.Lock()
	custom := c.socketRecovery
	c.mu.Unlock()
	if custom != nil {
		custom(w.roomID)
		return
	}

	slog.Info("[SOCKET] Recovering by rejoin", "room", w.roomID)
	if err := c.rejoinRoom(w.roomID); err != nil {
		slog.Error("[SOCKET] Rejoin failed, watch abandoned", "room", w.roomID, "error", err)
		return
	}
	if _, err := c.watchSocket(w.roomID, w.handler); err != nil {
		slog.Error("[SOCKET] Re-watch failed, watch abandoned", "room", w.roomID, "error", err)
	}
}
