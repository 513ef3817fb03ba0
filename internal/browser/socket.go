package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"sechat/chat"
)

// eventSocket wraps one push-channel connection.
type eventSocket struct {
	conn *websocket.Conn
}

func (s *eventSocket) Receive() ([]byte, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *eventSocket) Close() error {
	return s.conn.Close()
}

// OpenEventSocket authorizes a push channel for the room and dials it,
// parameterized by the event watermark.
func (b *Browser) OpenEventSocket(ctx context.Context, roomID int, since int64) (chat.EventSocket, error) {
	form := url.Values{}
	form.Set("roomid", fmt.Sprintf("%d", roomID))
	body, err := b.postFkeyedOK(ctx, "ws-auth", form)
	if err != nil {
		return nil, err
	}

	var auth struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal([]byte(body), &auth); err != nil {
		return nil, errors.Wrap(err, "browser: ws-auth response")
	}
	if auth.URL == "" {
		return nil, errors.New("browser: ws-auth returned no url")
	}

	wsURL := fmt.Sprintf("%s?l=%d", auth.URL, since)
	header := http.Header{}
	header.Set("Origin", b.chatRoot())
	header.Set("User-Agent", userAgent)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "browser: dial %s: status %d", wsURL, resp.StatusCode)
		}
		return nil, errors.Wrapf(err, "browser: dial %s", wsURL)
	}
	return &eventSocket{conn: conn}, nil
}
