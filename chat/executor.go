package chat

import (
	"container/heap"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultMinInterval is the minimum spacing between consecutive action
	// attempts against the server.
	DefaultMinInterval = 3 * time.Second

	// DefaultMaxAttempts bounds how often a recoverably-failing action is
	// retried before its handle is failed for good.
	DefaultMaxAttempts = 5
)

var (
	// ErrShutdown is returned by Submit after Shutdown has been called.
	ErrShutdown = errors.New("chat: executor already shut down")

	// ErrCancelled is the terminal result of an action whose handle was
	// cancelled before an attempt started.
	ErrCancelled = errors.New("chat: action cancelled")

	// ErrResultTimeout is returned by ResultTimeout when the action has not
	// reached a terminal state within the given duration.
	ErrResultTimeout = errors.New("chat: timed out waiting for action result")
)

type actionKind int

const (
	actionSend actionKind = iota + 1
	actionEdit
	actionDelete
)

func (k actionKind) String() string {
	switch k {
	case actionSend:
		return "send"
	case actionEdit:
		return "edit"
	case actionDelete:
		return "delete"
	}
	return "unknown"
}

// action is a queued write intent. Scheduling fields (at, seq, attempts,
// running) are guarded by the executor mutex; text is only touched by the
// worker once running is set.
type action struct {
	kind      actionKind
	roomID    int
	messageID int
	text      string

	at       time.Time
	seq      uint64
	attempts int
	running  bool

	cancelled atomic.Bool

	once   sync.Once
	done   chan struct{}
	result int
	err    error
}

func newAction(kind actionKind, roomID, messageID int, text string) *action {
	return &action{
		kind:      kind,
		roomID:    roomID,
		messageID: messageID,
		text:      text,
		done:      make(chan struct{}),
	}
}

func (a *action) fulfill(result int, err error) {
	a.once.Do(func() {
		a.result = result
		a.err = err
		close(a.done)
	})
}

func (a *action) finished() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}

// Handle is the caller's view of a submitted action. Its result is fulfilled
// exactly once, with either the new message id (for sends) or an error.
type Handle struct {
	a *action
}

// Result blocks until the action reaches a terminal state.
func (h *Handle) Result() (int, error) {
	<-h.a.done
	return h.a.result, h.a.err
}

// ResultTimeout blocks like Result but gives up after d, returning
// ErrResultTimeout. The action itself keeps running.
func (h *Handle) ResultTimeout(d time.Duration) (int, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-h.a.done:
		return h.a.result, h.a.err
	case <-timer.C:
		return 0, ErrResultTimeout
	}
}

// Cancel suppresses future attempts of the action. An attempt already in
// flight cannot be aborted; cancellation only takes effect at the next
// scheduling point.
func (h *Handle) Cancel() {
	h.a.cancelled.Store(true)
}

// actionHeap orders actions by earliest next attempt time, ties broken by
// submission order.
type actionHeap []*action

func (q actionHeap) Len() int { return len(q) }

func (q actionHeap) Less(i, j int) bool {
	if q[i].at.Equal(q[j].at) {
		return q[i].seq < q[j].seq
	}
	return q[i].at.Before(q[j].at)
}

func (q actionHeap) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *actionHeap) Push(x any) { *q = append(*q, x.(*action)) }

func (q *actionHeap) Pop() any {
	old := *q
	n := len(old)
	a := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return a
}

// performFunc runs one attempt of an action. A returned *AttemptError marks
// the attempt as recoverable; any other error is terminal.
type performFunc func(ctx context.Context, a *action) (int, error)

// Executor runs submitted actions one at a time, spacing attempts at least
// minInterval apart and rescheduling recoverable failures until the attempt
// budget is spent.
type Executor struct {
	minInterval time.Duration
	maxAttempts int
	perform     performFunc

	mu          sync.Mutex
	queue       actionHeap
	pending     []*action
	seq         uint64
	nextAllowed time.Time
	shutdown    bool

	wake chan struct{}
	done chan struct{}
}

// NewExecutor starts the worker goroutine. perform is invoked for every
// attempt, never concurrently with itself.
func NewExecutor(minInterval time.Duration, maxAttempts int, perform performFunc) *Executor {
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	e := &Executor{
		minInterval: minInterval,
		maxAttempts: maxAttempts,
		perform:     perform,
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	go e.work()
	return e
}

// submit enqueues an action and returns its handle without blocking.
func (e *Executor) submit(a *action) (*Handle, error) {
	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		return nil, ErrShutdown
	}
	e.seq++
	a.seq = e.seq
	if a.at.IsZero() {
		a.at = time.Now()
	}
	e.pending = append(e.pending, a)
	queued := len(e.pending) + e.queue.Len()
	e.mu.Unlock()

	slog.Info("[EXECUTOR] Action queued", "kind", a.kind.String(), "seq", a.seq, "queued", queued)
	e.poke()
	return &Handle{a: a}, nil
}

// amend rewrites the payload of a still-queued action in place. It fails if
// the action has started, finished, or already burned an attempt.
func (e *Executor) amend(h *Handle, rewrite func(old string) (string, bool)) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	a := h.a
	if a.running || a.attempts > 0 || a.finished() {
		return false
	}
	text, ok := rewrite(a.text)
	if !ok {
		return false
	}
	a.text = text
	return true
}

// Shutdown stops accepting new submissions. If wait is true it blocks until
// every accepted action has reached a terminal state.
func (e *Executor) Shutdown(wait bool) {
	e.mu.Lock()
	already := e.shutdown
	e.shutdown = true
	e.mu.Unlock()
	if !already {
		slog.Info("[EXECUTOR] Shutting down")
	}
	e.poke()
	if wait {
		<-e.done
	}
}

func (e *Executor) poke() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Executor) work() {
	defer close(e.done)
	slog.Debug("[EXECUTOR] Worker starting")

	for {
		e.mu.Lock()
		for _, a := range e.pending {
			heap.Push(&e.queue, a)
		}
		e.pending = e.pending[:0]

		now := time.Now()
		var next *action
		var wait time.Duration
		idle := false

		if d := e.nextAllowed.Sub(now); d > 0 {
			// global interval; even a ready action may not run yet
			wait = d
		} else if e.queue.Len() > 0 {
			head := e.queue[0]
			if d := head.at.Sub(now); d > 0 {
				wait = d
			} else {
				next = heap.Pop(&e.queue).(*action)
				next.running = true
			}
		} else {
			idle = true
		}
		quit := idle && e.shutdown && next == nil
		e.mu.Unlock()

		if next != nil {
			e.attempt(next)
			continue
		}
		if quit {
			slog.Debug("[EXECUTOR] Worker done")
			return
		}
		if idle {
			<-e.wake
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-e.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (e *Executor) attempt(a *action) {
	if a.cancelled.Load() {
		slog.Info("[EXECUTOR] Skipping cancelled action", "kind", a.kind.String(), "seq", a.seq)
		a.fulfill(0, ErrCancelled)
		return
	}

	e.mu.Lock()
	a.attempts++
	attempt := a.attempts
	e.mu.Unlock()

	slog.Debug("[EXECUTOR] Attempt start", "kind", a.kind.String(), "seq", a.seq, "attempt", attempt)
	result, err := e.perform(context.Background(), a)

	e.mu.Lock()
	e.nextAllowed = time.Now().Add(e.minInterval)
	e.mu.Unlock()

	if err == nil {
		slog.Debug("[EXECUTOR] Attempt succeeded", "kind", a.kind.String(), "seq", a.seq, "attempt", attempt)
		a.fulfill(result, nil)
		return
	}

	var denied *AttemptError
	if !errors.As(err, &denied) {
		slog.Error("[EXECUTOR] Attempt failed", "kind", a.kind.String(), "seq", a.seq, "error", err)
		a.fulfill(0, err)
		return
	}

	if attempt >= e.maxAttempts {
		slog.Warn("[EXECUTOR] Attempt budget exhausted", "kind", a.kind.String(), "seq", a.seq, "attempts", attempt)
		a.fulfill(0, &ActionError{Attempts: attempt, Reason: denied.Reason, Cause: denied})
		return
	}

	slog.Debug("[EXECUTOR] Attempt denied, rescheduling",
		"kind", a.kind.String(), "seq", a.seq, "attempt", attempt, "wait", denied.MinInterval)

	e.mu.Lock()
	a.running = false
	a.at = time.Now().Add(denied.MinInterval)
	heap.Push(&e.queue, a)
	e.mu.Unlock()
}
