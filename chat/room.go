package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// MaxMessageLength is the longest single-line message the server accepts.
const MaxMessageLength = 500

// DefaultPollInterval is the polling cadence used by Watch and WatchPolling
// when the caller does not choose one.
const DefaultPollInterval = 3 * time.Second

var (
	// ErrEmptyMessage is returned when an empty text is submitted.
	ErrEmptyMessage = errors.New("chat: message is empty")

	// ErrMessageTooLong is returned when a single-line message exceeds
	// MaxMessageLength and the length check was not disabled.
	ErrMessageTooLong = errors.New("chat: message exceeds 500 characters")

	// ErrNotJoined is returned when watching a room that was never joined.
	ErrNotJoined = errors.New("chat: room not joined")
)

// Room is a chat room, deduplicated by id. Its info fields form one lazy
// group populated from the room info page.
type Room struct {
	ID     int
	client *Client

	mu             sync.Mutex
	name           *string
	description    *string
	messageCount   *int
	userCount      *int
	parentSiteName *string
	owners         []*User
	tags           []string
}

func newRoom(id int, client *Client) *Room {
	return &Room{ID: id, client: client}
}

// RoomField seeds a known field value when a room is looked up, overwriting
// whatever was cached. Applied under the room lock.
type RoomField func(*Room)

// RoomName records the room's name.
func RoomName(name string) RoomField {
	return func(r *Room) { r.name = strp(name) }
}

func (r *Room) ensure(known func() bool, field string) error {
	r.mu.Lock()
	ok := known()
	r.mu.Unlock()
	if ok {
		return nil
	}
	if err := r.scrapeInfo(); err != nil {
		return err
	}
	r.mu.Lock()
	ok = known()
	r.mu.Unlock()
	if !ok {
		panic("chat: fetch did not populate Room." + field)
	}
	return nil
}

// Name returns the room's name.
func (r *Room) Name() (string, error) {
	if err := r.ensure(func() bool { return r.name != nil }, "name"); err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.name, nil
}

// Description returns the room's description HTML.
func (r *Room) Description() (string, error) {
	if err := r.ensure(func() bool { return r.description != nil }, "description"); err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.description, nil
}

// MessageCount returns the room's total message count.
func (r *Room) MessageCount() (int, error) {
	if err := r.ensure(func() bool { return r.messageCount != nil }, "messageCount"); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.messageCount, nil
}

// UserCount returns the room's current user count.
func (r *Room) UserCount() (int, error) {
	if err := r.ensure(func() bool { return r.userCount != nil }, "userCount"); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.userCount, nil
}

// ParentSiteName returns the name of the site the room belongs to.
func (r *Room) ParentSiteName() (string, error) {
	if err := r.ensure(func() bool { return r.parentSiteName != nil }, "parentSiteName"); err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.parentSiteName, nil
}

// Owners returns the room's owners.
func (r *Room) Owners() ([]*User, error) {
	if err := r.ensure(func() bool { return r.owners != nil }, "owners"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*User(nil), r.owners...), nil
}

// Tags returns the room's tags.
func (r *Room) Tags() ([]string, error) {
	if err := r.ensure(func() bool { return r.tags != nil }, "tags"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.tags...), nil
}

func (r *Room) scrapeInfo() error {
	data, err := r.client.br.GetRoomInfo(context.Background(), r.ID)
	if err != nil {
		return err
	}

	owners := make([]*User, 0, len(data.OwnerUserIDs))
	for i, id := range data.OwnerUserIDs {
		if i < len(data.OwnerUserNames) {
			owners = append(owners, r.client.GetUser(id, UserName(data.OwnerUserNames[i])))
		} else {
			owners = append(owners, r.client.GetUser(id))
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.name = strp(data.Name)
	r.description = strp(data.Description)
	r.messageCount = intp(data.MessageCount)
	r.userCount = intp(data.UserCount)
	r.parentSiteName = strp(data.ParentSiteName)
	r.owners = owners
	if data.Tags == nil {
		r.tags = []string{}
	} else {
		r.tags = data.Tags
	}
	return nil
}

// Join enters the room and records its initial event watermark.
func (r *Room) Join() error {
	return r.client.joinRoom(r.ID)
}

// Leave terminates the room's watchers, discards its watermark and leaves.
func (r *Room) Leave() error {
	return r.client.leaveRoom(r.ID)
}

// SendMessage queues text for sending to the room. Empty text is rejected,
// as is single-line text over MaxMessageLength.
func (r *Room) SendMessage(text string) (*Handle, error) {
	return r.send(text, true)
}

// SendMessageNoCheck queues text for sending without the local length check.
func (r *Room) SendMessageNoCheck(text string) (*Handle, error) {
	return r.send(text, false)
}

func (r *Room) send(text string, lengthCheck bool) (*Handle, error) {
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if lengthCheck && len(text) > MaxMessageLength && !strings.Contains(text, "\n") {
		return nil, ErrMessageTooLong
	}

	c := r.client
	if c.aggressive {
		if h, exec := c.pendingSend(r.ID), c.executor(); h != nil && exec != nil {
			merged := exec.amend(h, func(old string) (string, bool) {
				joined := old + "\n" + text
				if len(joined) > MaxMessageLength {
					return "", false
				}
				if !balancedMarkdown(old) || !balancedMarkdown(text) {
					return "", false
				}
				return joined, true
			})
			if merged {
				return h, nil
			}
		}
	}

	h, err := c.queueAction(newAction(actionSend, r.ID, 0, text))
	if err != nil {
		return nil, err
	}
	c.setPendingSend(r.ID, h)
	return h, nil
}

// Watch delivers room events over the push channel, falling back to polling
// when the socket cannot be opened.
func (r *Room) Watch(handler EventHandler) (Watcher, error) {
	w, err := r.WatchSocket(handler)
	if err == nil {
		return w, nil
	}
	if errors.Is(err, ErrNotJoined) {
		return nil, err
	}
	return r.WatchPolling(handler, DefaultPollInterval)
}

// WatchPolling delivers room events by polling at the given interval.
func (r *Room) WatchPolling(handler EventHandler, interval time.Duration) (Watcher, error) {
	return r.client.watchPolling(r.ID, handler, interval)
}

// WatchSocket delivers room events over the push channel.
func (r *Room) WatchSocket(handler EventHandler) (Watcher, error) {
	return r.client.watchSocket(r.ID, handler)
}

// PingableUserIDs returns the ids of users pingable in this room.
func (r *Room) PingableUserIDs() ([]int, error) {
	ids, _, err := r.client.br.PingableUsers(context.Background(), r.ID)
	return ids, err
}

// PingableUserNames returns the names of users pingable in this room.
func (r *Room) PingableUserNames() ([]string, error) {
	_, names, err := r.client.br.PingableUsers(context.Background(), r.ID)
	return names, err
}

// CurrentUserIDs returns the ids of users currently in the room.
func (r *Room) CurrentUserIDs() ([]int, error) {
	return r.client.br.CurrentUserIDs(context.Background(), r.ID)
}

// balancedMarkdown reports whether text can be safely joined with another
// fragment without breaking a code span or a markdown link across the seam.
func balancedMarkdown(text string) bool {
	backticks := strings.Count(text, "`")
	if backticks%2 != 0 {
		return false
	}
	square, round := 0, 0
	for _, ch := range text {
		switch ch {
		case '[':
			square++
		case ']':
			square--
		case '(':
			round++
		case ')':
			round--
		}
		if square < 0 || round < 0 {
			return false
		}
	}
	return square == 0 && round == 0
}
