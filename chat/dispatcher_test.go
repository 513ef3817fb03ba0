package chat

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sendAttempt builds a first-attempt send action the way the executor hands
// them to the dispatcher.
func sendAttempt(roomID int, text string) *action {
	a := newAction(actionSend, roomID, 0, text)
	a.attempts = 1
	return a
}

func TestDispatcherSendSuccess(t *testing.T) {
	br := &fakeBrowser{}
	var gotID, gotRoom int
	d := &dispatcher{br: br, onMessageSent: func(messageID, roomID int) {
		gotID, gotRoom = messageID, roomID
	}}

	text := "hello " + uuid.NewString()
	id, err := d.perform(context.Background(), sendAttempt(11, text))
	require.NoError(t, err)
	assert.Equal(t, 1, id)
	assert.Equal(t, 1, gotID)
	assert.Equal(t, 11, gotRoom)
	assert.Equal(t, []string{text}, br.sentTexts())
	assert.Equal(t, text, d.previous)
}

func TestDispatcherPrefixesRepeatOfPreviousText(t *testing.T) {
	br := &fakeBrowser{}
	d := &dispatcher{br: br}

	_, err := d.perform(context.Background(), sendAttempt(11, "hello"))
	require.NoError(t, err)
	_, err = d.perform(context.Background(), sendAttempt(11, "hello"))
	require.NoError(t, err)
	_, err = d.perform(context.Background(), sendAttempt(11, "hello"))
	require.NoError(t, err)

	assert.Equal(t, []string{"hello", " hello", "hello"}, br.sentTexts(),
		"a repeat of the previous text gains a leading space; alternating repeats stay distinguishable")
}

func TestDispatcherRepeatPrefixSkippedOnRetry(t *testing.T) {
	br := &fakeBrowser{}
	d := &dispatcher{br: br}
	d.previous = "hello"

	a := newAction(actionSend, 11, 0, "hello")
	a.attempts = 2 // retry of an attempt that already ran
	_, err := d.perform(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, []string{"hello"}, br.sentTexts())
}

func TestDispatcherDuplicateDetection(t *testing.T) {
	br := &fakeBrowser{}
	br.sendFn = func(_ int, text string) (*WriteResponse, error) {
		return &WriteResponse{StatusCode: 200, Body: `{"id": null, "time": 1700000000}`}, nil
	}
	d := &dispatcher{br: br}

	a := sendAttempt(11, "same old")
	_, err := d.perform(context.Background(), a)

	var denied *AttemptError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, "duplicate message", denied.Reason)
	assert.Equal(t, backoffAdder, denied.MinInterval)
	assert.Equal(t, "same old ", a.text, "the retry carries a trailing space so the server no longer sees a duplicate")
}

func TestDispatcherThrottleDenial(t *testing.T) {
	br := &fakeBrowser{}
	br.sendFn = func(_ int, _ string) (*WriteResponse, error) {
		return &WriteResponse{StatusCode: 409, Body: "You can perform this action again in 13 seconds"}, nil
	}
	d := &dispatcher{br: br}

	a := sendAttempt(11, "hello")
	_, err := d.perform(context.Background(), a)

	var denied *AttemptError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, "throttled", denied.Reason)
	assert.Equal(t, 14*time.Second, denied.MinInterval, "wait one second longer than announced")
	assert.Equal(t, "hello", a.text, "a throttle denial must not mutate the payload")
}

func TestDispatcherBenignAcknowledgments(t *testing.T) {
	for _, body := range []string{
		"ok",
		"It is too late to delete this message",
		"It is too late to edit this message",
		"The message has been deleted and cannot be edited",
		"This message has already been deleted.",
	} {
		t.Run(body, func(t *testing.T) {
			br := &fakeBrowser{}
			br.deleteFn = func(int) (*WriteResponse, error) {
				return &WriteResponse{StatusCode: 200, Body: body}, nil
			}
			d := &dispatcher{br: br}

			a := newAction(actionDelete, 0, 1234, "")
			a.attempts = 1
			id, err := d.perform(context.Background(), a)
			require.NoError(t, err)
			assert.Zero(t, id)
		})
	}
}

func TestDispatcherUnknownResponse(t *testing.T) {
	br := &fakeBrowser{}
	br.sendFn = func(_ int, _ string) (*WriteResponse, error) {
		return &WriteResponse{StatusCode: 200, Body: "the server says something new"}, nil
	}
	d := &dispatcher{br: br}

	_, err := d.perform(context.Background(), sendAttempt(11, "hello"))

	var denied *AttemptError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, backoffAdder, denied.MinInterval)
	assert.Contains(t, denied.Reason, "unexpected response")
}

func TestDispatcherServerErrorIsTerminal(t *testing.T) {
	br := &fakeBrowser{}
	br.sendFn = func(_ int, _ string) (*WriteResponse, error) {
		return &WriteResponse{StatusCode: 500, Body: "oops"}, nil
	}
	d := &dispatcher{br: br}

	_, err := d.perform(context.Background(), sendAttempt(11, "hello"))

	var actionErr *ActionError
	require.ErrorAs(t, err, &actionErr)
	assert.Contains(t, actionErr.Reason, "500")
}

func TestDispatcherEditUpdatesPreviousText(t *testing.T) {
	br := &fakeBrowser{}
	d := &dispatcher{br: br}

	a := newAction(actionEdit, 0, 77, "revised")
	a.attempts = 1
	_, err := d.perform(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, "revised", d.previous, "edits participate in duplicate suppression like sends")
}

func TestClientSendsRepeatTextEndToEnd(t *testing.T) {
	br := &fakeBrowser{}
	c := loggedInClient(br)
	defer c.Logout()

	room := c.GetRoom(11)
	h1, err := room.SendMessage("hello")
	require.NoError(t, err)
	h2, err := room.SendMessage("hello")
	require.NoError(t, err)

	id1, err := h1.Result()
	require.NoError(t, err)
	id2, err := h2.Result()
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)
	assert.Equal(t, []string{"hello", " hello"}, br.sentTexts(),
		fmt.Sprintf("second send of identical text must reach the wire space-prefixed (ids %d, %d)", id1, id2))
}
