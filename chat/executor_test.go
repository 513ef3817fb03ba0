package chat

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutorRunsActionsOneAtATime(t *testing.T) {
	var inFlight, maxInFlight int32
	var order []uint64
	var mu sync.Mutex

	perform := func(_ context.Context, a *action) (int, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			seen := atomic.LoadInt32(&maxInFlight)
			if n <= seen || atomic.CompareAndSwapInt32(&maxInFlight, seen, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		mu.Lock()
		order = append(order, a.seq)
		mu.Unlock()
		atomic.AddInt32(&inFlight, -1)
		return 0, nil
	}

	e := NewExecutor(time.Millisecond, 5, perform)
	var handles []*Handle
	for i := 0; i < 8; i++ {
		h, err := e.submit(newAction(actionSend, 1, 0, "x"))
		require.NoError(t, err)
		handles = append(handles, h)
	}
	for _, h := range handles {
		_, err := h.Result()
		require.NoError(t, err)
	}
	e.Shutdown(true)

	assert.EqualValues(t, 1, atomic.LoadInt32(&maxInFlight), "attempts must never overlap")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 8)
	for i := 1; i < len(order); i++ {
		assert.Greater(t, order[i], order[i-1], "same-time actions must run in submission order")
	}
}

func TestExecutorSpacesAttempts(t *testing.T) {
	const interval = 25 * time.Millisecond

	var mu sync.Mutex
	var starts []time.Time
	perform := func(_ context.Context, _ *action) (int, error) {
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		return 0, nil
	}

	e := NewExecutor(interval, 5, perform)
	var handles []*Handle
	for i := 0; i < 3; i++ {
		h, err := e.submit(newAction(actionSend, 1, 0, "x"))
		require.NoError(t, err)
		handles = append(handles, h)
	}
	for _, h := range handles {
		_, err := h.Result()
		require.NoError(t, err)
	}
	e.Shutdown(true)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, starts, 3)
	for i := 1; i < len(starts); i++ {
		assert.GreaterOrEqual(t, starts[i].Sub(starts[i-1]), interval)
	}
}

func TestExecutorRetriesRecoverableFailures(t *testing.T) {
	var attempts int32
	perform := func(_ context.Context, _ *action) (int, error) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return 0, &AttemptError{MinInterval: time.Millisecond, Reason: "throttled"}
		}
		return 42, nil
	}

	e := NewExecutor(time.Millisecond, 5, perform)
	h, err := e.submit(newAction(actionSend, 1, 0, "x"))
	require.NoError(t, err)

	id, err := h.Result()
	require.NoError(t, err)
	assert.Equal(t, 42, id)
	assert.EqualValues(t, 3, atomic.LoadInt32(&attempts))
	e.Shutdown(true)
}

func TestExecutorExhaustsAttemptBudget(t *testing.T) {
	var attempts int32
	perform := func(_ context.Context, _ *action) (int, error) {
		atomic.AddInt32(&attempts, 1)
		return 0, &AttemptError{MinInterval: time.Millisecond, Reason: "throttled"}
	}

	e := NewExecutor(time.Millisecond, 3, perform)
	h, err := e.submit(newAction(actionSend, 1, 0, "x"))
	require.NoError(t, err)

	_, err = h.Result()
	var actionErr *ActionError
	require.ErrorAs(t, err, &actionErr)
	assert.Equal(t, 3, actionErr.Attempts)
	assert.EqualValues(t, 3, atomic.LoadInt32(&attempts))

	var denied *AttemptError
	assert.ErrorAs(t, err, &denied, "the last denial should be wrapped as the cause")
	e.Shutdown(true)
}

func TestExecutorTerminalErrorStopsRetrying(t *testing.T) {
	boom := errors.New("transport exploded")
	var attempts int32
	perform := func(_ context.Context, _ *action) (int, error) {
		atomic.AddInt32(&attempts, 1)
		return 0, boom
	}

	e := NewExecutor(time.Millisecond, 5, perform)
	h, err := e.submit(newAction(actionSend, 1, 0, "x"))
	require.NoError(t, err)

	_, err = h.Result()
	assert.ErrorIs(t, err, boom)
	assert.EqualValues(t, 1, atomic.LoadInt32(&attempts))
	e.Shutdown(true)
}

func TestExecutorCancel(t *testing.T) {
	release := make(chan struct{})
	perform := func(_ context.Context, a *action) (int, error) {
		if a.roomID == 99 {
			<-release
		}
		return 0, nil
	}

	e := NewExecutor(time.Millisecond, 5, perform)
	blocker, err := e.submit(newAction(actionSend, 99, 0, "x"))
	require.NoError(t, err)
	h, err := e.submit(newAction(actionSend, 1, 0, "x"))
	require.NoError(t, err)

	h.Cancel()
	close(release)

	_, err = blocker.Result()
	require.NoError(t, err)
	_, err = h.Result()
	assert.ErrorIs(t, err, ErrCancelled)
	e.Shutdown(true)
}

func TestExecutorShutdownDrains(t *testing.T) {
	var done int32
	perform := func(_ context.Context, _ *action) (int, error) {
		atomic.AddInt32(&done, 1)
		return 0, nil
	}

	e := NewExecutor(time.Millisecond, 5, perform)
	for i := 0; i < 4; i++ {
		_, err := e.submit(newAction(actionSend, 1, 0, "x"))
		require.NoError(t, err)
	}
	e.Shutdown(true)

	assert.EqualValues(t, 4, atomic.LoadInt32(&done), "accepted actions must complete before Shutdown returns")

	_, err := e.submit(newAction(actionSend, 1, 0, "x"))
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestExecutorAmend(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var texts []string
	perform := func(_ context.Context, a *action) (int, error) {
		if a.roomID == 99 {
			<-release
			return 0, nil
		}
		mu.Lock()
		texts = append(texts, a.text)
		mu.Unlock()
		return 0, nil
	}

	e := NewExecutor(time.Millisecond, 5, perform)
	blocker, err := e.submit(newAction(actionSend, 99, 0, "block"))
	require.NoError(t, err)
	h, err := e.submit(newAction(actionSend, 1, 0, "one"))
	require.NoError(t, err)

	ok := e.amend(h, func(old string) (string, bool) { return old + "\ntwo", true })
	assert.True(t, ok, "a still-queued action should accept an amendment")

	close(release)
	_, err = blocker.Result()
	require.NoError(t, err)
	_, err = h.Result()
	require.NoError(t, err)

	mu.Lock()
	require.Len(t, texts, 1)
	assert.Equal(t, "one\ntwo", texts[0])
	mu.Unlock()

	ok = e.amend(h, func(old string) (string, bool) { return old, true })
	assert.False(t, ok, "a finished action must reject amendments")

	ok = e.amend(blocker, func(string) (string, bool) { return "", false })
	assert.False(t, ok, "a declining rewrite must leave the action unmerged")
	e.Shutdown(true)
}

func TestHandleResultTimeout(t *testing.T) {
	release := make(chan struct{})
	perform := func(_ context.Context, _ *action) (int, error) {
		<-release
		return 7, nil
	}

	e := NewExecutor(time.Millisecond, 5, perform)
	h, err := e.submit(newAction(actionSend, 1, 0, "x"))
	require.NoError(t, err)

	_, err = h.ResultTimeout(10 * time.Millisecond)
	assert.ErrorIs(t, err, ErrResultTimeout)

	close(release)
	id, err := h.Result()
	require.NoError(t, err)
	assert.Equal(t, 7, id, "the action keeps running after a result timeout")
	e.Shutdown(true)
}
