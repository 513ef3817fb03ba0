// Package browser implements the transport and scrape collaborator for the
// chat client: an authenticated cookie session, the anti-forgery token
// handling, the mechanical HTML field extraction and the push-channel
// dialing. All interpretation of responses happens in the chat package.
package browser

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"

	"sechat/chat"
)

const (
	userAgent      = "sechat/0.1 (+https://github.com/sechat/sechat)"
	requestTimeout = 30 * time.Second

	// transient network failures are retried this many times before the
	// error is surfaced
	maxHTTPRetries = 5
)

var validHosts = map[string]struct{}{
	"stackexchange.com":      {},
	"meta.stackexchange.com": {},
	"stackoverflow.com":      {},
}

// Browser holds one authenticated chat session.
type Browser struct {
	host string
	hc   *http.Client

	mu       sync.Mutex
	fkey     string
	userID   int
	userName string
}

// New creates a browser for one of the supported chat hosts.
func New(host string) (*Browser, error) {
	if _, ok := validHosts[host]; !ok {
		return nil, fmt.Errorf("browser: invalid host %q", host)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, errors.Wrap(err, "browser: cookie jar")
	}
	return &Browser{
		host: host,
		hc: &http.Client{
			Jar:     jar,
			Timeout: requestTimeout,
		},
	}, nil
}

func (b *Browser) chatRoot() string {
	return "https://chat." + b.host
}

// request performs one HTTP call, retrying transient network failures with a
// short pause. Status handling is left to the caller.
func (b *Browser) request(ctx context.Context, method, rawURL string, form url.Values) (*http.Response, error) {
	var lastErr error
	for attempt := 1; attempt <= maxHTTPRetries; attempt++ {
		var body io.Reader
		if form != nil {
			body = strings.NewReader(form.Encode())
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
		if err != nil {
			return nil, errors.Wrap(err, "browser: build request")
		}
		req.Header.Set("User-Agent", userAgent)
		if form != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}

		resp, err := b.hc.Do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var netErr net.Error
		pause := 100 * time.Millisecond
		if errors.As(err, &netErr) && netErr.Timeout() {
			// assume the server is overloaded and give it a moment
			pause = time.Second
		}
		slog.Warn("[BROWSER] Request failed, retrying", "url", rawURL, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pause):
		}
	}
	return nil, errors.Wrapf(lastErr, "browser: %s %s after %d attempts", method, rawURL, maxHTTPRetries)
}

// getPage fetches a URL and returns its body, failing on HTTP errors.
func (b *Browser) getPage(ctx context.Context, rawURL string) (string, error) {
	resp, err := b.request(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(err, "browser: read body")
	}
	if resp.StatusCode >= 400 {
		return "", errors.Errorf("browser: GET %s: status %d", rawURL, resp.StatusCode)
	}
	return string(data), nil
}

func (b *Browser) getChat(ctx context.Context, path string) (string, error) {
	return b.getPage(ctx, b.chatRoot()+"/"+strings.TrimPrefix(path, "/"))
}

// postFkeyed posts a form to the chat host with the session fkey attached,
// returning the raw status and body.
func (b *Browser) postFkeyed(ctx context.Context, path string, form url.Values) (*chat.WriteResponse, error) {
	if form == nil {
		form = url.Values{}
	}
	b.mu.Lock()
	form.Set("fkey", b.fkey)
	b.mu.Unlock()

	resp, err := b.request(ctx, http.MethodPost, b.chatRoot()+"/"+strings.TrimPrefix(path, "/"), form)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "browser: read body")
	}
	return &chat.WriteResponse{StatusCode: resp.StatusCode, Body: string(data)}, nil
}

// postFkeyedOK is postFkeyed for endpoints where any non-2xx status is a
// plain failure.
func (b *Browser) postFkeyedOK(ctx context.Context, path string, form url.Values) (string, error) {
	resp, err := b.postFkeyed(ctx, path, form)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 400 {
		return "", errors.Errorf("browser: POST %s: status %d: %s", path, resp.StatusCode, snippet(resp.Body))
	}
	return resp.Body, nil
}

// Login authenticates against the site login form, then primes the chat fkey
// and user identity.
func (b *Browser) Login(ctx context.Context, email, password string) error {
	loginURL := "https://" + b.host + "/users/login"

	page, err := b.getPage(ctx, loginURL)
	if err != nil {
		return err
	}
	fkey := findInputValue(page, "fkey")
	if fkey == "" {
		return &chat.LoginError{Reason: "fkey input not found on login page"}
	}

	form := url.Values{}
	form.Set("email", email)
	form.Set("password", password)
	form.Set("fkey", fkey)
	resp, err := b.request(ctx, http.MethodPost, loginURL, form)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if !b.hasAuthCookie() {
		return &chat.LoginError{Reason: "no account cookie after login, check credentials"}
	}
	return b.updateFkeyAndUser(ctx)
}

func (b *Browser) hasAuthCookie() bool {
	u, _ := url.Parse("https://" + b.host)
	for _, c := range b.hc.Jar.Cookies(u) {
		if c.Name == "acct" || c.Name == "usr" || c.Name == "prov" {
			return true
		}
	}
	return false
}

// updateFkeyAndUser scrapes the chat fkey plus the logged-in user's id and
// name from the favorites page.
func (b *Browser) updateFkeyAndUser(ctx context.Context) error {
	page, err := b.getChat(ctx, "chats/join/favorite")
	if err != nil {
		return err
	}
	fkey := findInputValue(page, "fkey")
	if fkey == "" {
		return &chat.LoginError{Reason: "chat fkey missing"}
	}
	userID, userName, ok := findTopbarUser(page)
	if !ok {
		return &chat.LoginError{Reason: "logged-in user not found in topbar"}
	}

	b.mu.Lock()
	b.fkey = fkey
	b.userID = userID
	b.userName = userName
	b.mu.Unlock()
	slog.Debug("[BROWSER] Session primed", "user", userID, "name", userName)
	return nil
}

func (b *Browser) UserID() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.userID
}

func (b *Browser) UserName() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.userName
}

// JoinRoom enters a room and returns the server's current event watermark.
func (b *Browser) JoinRoom(ctx context.Context, roomID int) (int64, error) {
	form := url.Values{}
	form.Set("since", "0")
	form.Set("mode", "Messages")
	form.Set("msgCount", "100")
	body, err := b.postFkeyedOK(ctx, fmt.Sprintf("chats/%d/events", roomID), form)
	if err != nil {
		return 0, err
	}
	var result struct {
		Time int64 `json:"time"`
	}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		return 0, errors.Wrap(err, "browser: join response")
	}
	return result.Time, nil
}

func (b *Browser) LeaveRoom(ctx context.Context, roomID int) error {
	_, err := b.postFkeyedOK(ctx, fmt.Sprintf("chats/leave/%d", roomID), nil)
	return err
}

func (b *Browser) SendMessage(ctx context.Context, roomID int, text string) (*chat.WriteResponse, error) {
	form := url.Values{}
	form.Set("text", text)
	return b.postFkeyed(ctx, fmt.Sprintf("chats/%d/messages/new", roomID), form)
}

func (b *Browser) EditMessage(ctx context.Context, messageID int, text string) (*chat.WriteResponse, error) {
	form := url.Values{}
	form.Set("text", text)
	return b.postFkeyed(ctx, fmt.Sprintf("messages/%d", messageID), form)
}

func (b *Browser) DeleteMessage(ctx context.Context, messageID int) (*chat.WriteResponse, error) {
	return b.postFkeyed(ctx, fmt.Sprintf("messages/%d/delete", messageID), nil)
}

func (b *Browser) ToggleStarring(ctx context.Context, messageID int) error {
	_, err := b.postFkeyedOK(ctx, fmt.Sprintf("messages/%d/star", messageID), nil)
	return err
}

func (b *Browser) CancelStars(ctx context.Context, messageID int) error {
	_, err := b.postFkeyedOK(ctx, fmt.Sprintf("messages/%d/unstar", messageID), nil)
	return err
}

func (b *Browser) TogglePinning(ctx context.Context, messageID int) error {
	_, err := b.postFkeyedOK(ctx, fmt.Sprintf("messages/%d/owner-star", messageID), nil)
	return err
}

// RoomEvents polls for raw activity in a room since the given watermark.
func (b *Browser) RoomEvents(ctx context.Context, roomID int, since int64) ([]byte, error) {
	form := url.Values{}
	form.Set(fmt.Sprintf("r%d", roomID), fmt.Sprintf("%d", since))
	body, err := b.postFkeyedOK(ctx, "events", form)
	if err != nil {
		return nil, err
	}
	return []byte(body), nil
}

// PingableUsers lists ids and names of users pingable in a room.
func (b *Browser) PingableUsers(ctx context.Context, roomID int) ([]int, []string, error) {
	body, err := b.getChat(ctx, fmt.Sprintf("rooms/pingable/%d", roomID))
	if err != nil {
		return nil, nil, err
	}
	var rows [][]json.RawMessage
	if err := json.Unmarshal([]byte(body), &rows); err != nil {
		return nil, nil, errors.Wrap(err, "browser: pingable response")
	}
	ids := make([]int, 0, len(rows))
	names := make([]string, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		var id int
		var name string
		if err := json.Unmarshal(row[0], &id); err != nil {
			continue
		}
		if err := json.Unmarshal(row[1], &name); err != nil {
			continue
		}
		ids = append(ids, id)
		names = append(names, name)
	}
	return ids, names, nil
}

func snippet(s string) string {
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}
