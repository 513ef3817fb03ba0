package chat

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/goccy/go-json"
)

// tooFastRe matches the server's throttle denial and captures the announced
// wait in seconds.
var tooFastRe = regexp.MustCompile(`^You can perform this action again in (\d+) seconds`)

// backoffAdder is the fixed wait applied to denials that carry no announced
// interval of their own.
const backoffAdder = 5 * time.Second

// benignResponses are plain-text bodies the server uses to acknowledge an
// action that needs no retry.
var benignResponses = map[string]struct{}{
	"ok": {},
	"It is too late to delete this message":             {},
	"It is too late to edit this message":               {},
	"The message has been deleted and cannot be edited": {},
	"This message has already been deleted.":            {},
}

// dispatcher turns queued actions into browser calls and decides what each
// response means. The previous-text state lives here, scoped to one client
// session, and is only touched from the executor worker.
type dispatcher struct {
	br       Browser
	previous string

	// onMessageSent, if set, is invoked with the new message id and room id
	// after every successful send.
	onMessageSent func(messageID, roomID int)
}

type writeResult struct {
	ID   *int  `json:"id"`
	Time int64 `json:"time"`
}

func (d *dispatcher) perform(ctx context.Context, a *action) (int, error) {
	if a.attempts == 1 && (a.kind == actionSend || a.kind == actionEdit) && a.text != "" && a.text == d.previous {
		// the server silently swallows a repeat of the previous message
		a.text = " " + a.text
		slog.Debug("[DISPATCH] Duplicate of previous text, prefixing space", "kind", a.kind.String())
	}

	var resp *WriteResponse
	var err error
	switch a.kind {
	case actionSend:
		resp, err = d.br.SendMessage(ctx, a.roomID, a.text)
	case actionEdit:
		resp, err = d.br.EditMessage(ctx, a.messageID, a.text)
	case actionDelete:
		resp, err = d.br.DeleteMessage(ctx, a.messageID)
	default:
		return 0, fmt.Errorf("chat: unknown action kind %d", a.kind)
	}
	if err != nil {
		return 0, err
	}

	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusConflict {
		return 0, &ActionError{
			Attempts: a.attempts,
			Reason:   fmt.Sprintf("server returned status %d", resp.StatusCode),
		}
	}
	// a 409 body may still be a throttle denial we know how to handle

	var result writeResult
	if jsonErr := json.Unmarshal([]byte(resp.Body), &result); jsonErr != nil {
		return d.interpretText(a, resp.Body)
	}

	if result.ID == nil {
		// server deduplicated the message; mutate the text so the retry differs
		a.text += " "
		slog.Debug("[DISPATCH] Denied: duplicate message", "kind", a.kind.String(), "attempt", a.attempts)
		return 0, &AttemptError{MinInterval: backoffAdder, Reason: "duplicate message"}
	}

	d.succeeded(a)
	if a.kind == actionSend && d.onMessageSent != nil {
		d.onMessageSent(*result.ID, a.roomID)
	}
	return *result.ID, nil
}

func (d *dispatcher) interpretText(a *action, body string) (int, error) {
	if _, ok := benignResponses[body]; ok {
		d.succeeded(a)
		return 0, nil
	}

	if m := tooFastRe.FindStringSubmatch(body); m != nil {
		seconds := 0
		fmt.Sscanf(m[1], "%d", &seconds)
		// wait a little longer than announced to avoid re-tripping the limit
		wait := time.Duration(seconds)*time.Second + time.Second
		slog.Debug("[DISPATCH] Denied: throttled", "kind", a.kind.String(), "attempt", a.attempts, "wait", wait)
		return 0, &AttemptError{MinInterval: wait, Reason: "throttled"}
	}

	slog.Error("[DISPATCH] Denied: unknown response", "kind", a.kind.String(), "attempt", a.attempts, "body", body)
	return 0, &AttemptError{MinInterval: backoffAdder, Reason: fmt.Sprintf("unexpected response %q", body)}
}

func (d *dispatcher) succeeded(a *action) {
	if a.kind == actionSend || a.kind == actionEdit {
		d.previous = a.text
	}
}
