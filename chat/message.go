package chat

import (
	"context"
	"fmt"
	"sync"
)

// Message is a single chat message, deduplicated by id. Fields arrive in two
// lazy groups: the transcript page populates room, content, owner, parent and
// star state; the history page populates edit and pin details. Reading an
// unknown field fetches its group synchronously.
type Message struct {
	ID     int
	client *Client

	mu sync.Mutex

	// transcript group
	roomID        *int
	roomName      *string
	content       *string
	deleted       *bool
	ownerUserID   *int
	ownerUserName *string
	parentID      *int // 0 when the message is not a reply
	stars         *int
	starredByYou  *bool
	pinned        *bool

	// history group
	contentSource  *string
	edited         *bool
	edits          *int
	editorUserID   *int
	editorUserName *string
	pins           *int
	pinnerUserIDs  []int
	pinnerNames    []string

	timestamp *int64
}

func newMessage(id int, client *Client) *Message {
	return &Message{ID: id, client: client}
}

// MessageField seeds a known field value when a message is looked up,
// overwriting whatever was cached. Applied under the message lock.
type MessageField func(*Message)

// MessageRoomID records which room the message is in.
func MessageRoomID(roomID int) MessageField {
	return func(m *Message) { m.roomID = intp(roomID) }
}

// MessageContent records the message's rendered content.
func MessageContent(content string) MessageField {
	return func(m *Message) {
		m.content = strp(content)
		m.deleted = boolp(false)
	}
}

// ensure checks known under the lock, fetches if needed, and re-checks. A
// fetch that completes without populating the field is a library defect.
func (m *Message) ensure(known func() bool, fetch func() error, field string) error {
	m.mu.Lock()
	ok := known()
	m.mu.Unlock()
	if ok {
		return nil
	}
	if err := fetch(); err != nil {
		return err
	}
	m.mu.Lock()
	ok = known()
	m.mu.Unlock()
	if !ok {
		panic(fmt.Sprintf("chat: fetch did not populate Message.%s", field))
	}
	return nil
}

// RoomID returns the id of the room the message is in.
func (m *Message) RoomID() (int, error) {
	if err := m.ensure(func() bool { return m.roomID != nil }, m.scrapeTranscript, "roomID"); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.roomID, nil
}

// Room returns the cached Room entity the message is in.
func (m *Message) Room() (*Room, error) {
	id, err := m.RoomID()
	if err != nil {
		return nil, err
	}
	return m.client.GetRoom(id), nil
}

// Content returns the message's rendered HTML content. Deleted messages have
// empty content; check Deleted to tell the two apart.
func (m *Message) Content() (string, error) {
	known := func() bool { return m.content != nil || (m.deleted != nil && *m.deleted) }
	if err := m.ensure(known, m.scrapeTranscript, "content"); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.content == nil {
		return "", nil
	}
	return *m.content, nil
}

// Deleted reports whether the message has been deleted.
func (m *Message) Deleted() (bool, error) {
	known := func() bool { return m.deleted != nil || m.content != nil }
	if err := m.ensure(known, m.scrapeTranscript, "deleted"); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleted == nil {
		return false, nil
	}
	return *m.deleted, nil
}

// Owner returns the cached User entity that posted the message.
func (m *Message) Owner() (*User, error) {
	if err := m.ensure(func() bool { return m.ownerUserID != nil }, m.scrapeTranscript, "owner"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	id := *m.ownerUserID
	name := m.ownerUserName
	m.mu.Unlock()
	if name != nil {
		return m.client.GetUser(id, UserName(*name)), nil
	}
	return m.client.GetUser(id), nil
}

// Parent returns the message this one replies to, or nil when it is not a
// reply.
func (m *Message) Parent() (*Message, error) {
	if err := m.ensure(func() bool { return m.parentID != nil }, m.scrapeTranscript, "parent"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	id := *m.parentID
	m.mu.Unlock()
	if id == 0 {
		return nil, nil
	}
	return m.client.GetMessage(id), nil
}

// Stars returns the message's star count.
func (m *Message) Stars() (int, error) {
	if err := m.ensure(func() bool { return m.stars != nil }, m.scrapeTranscript, "stars"); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.stars, nil
}

// StarredByYou reports whether the logged-in user has starred the message.
func (m *Message) StarredByYou() (bool, error) {
	if err := m.ensure(func() bool { return m.starredByYou != nil }, m.scrapeTranscript, "starredByYou"); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.starredByYou, nil
}

// Pinned reports whether the message is pinned (owner-starred).
func (m *Message) Pinned() (bool, error) {
	if err := m.ensure(func() bool { return m.pinned != nil }, m.scrapeTranscript, "pinned"); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.pinned, nil
}

// ContentSource returns the original markdown source of the message.
func (m *Message) ContentSource() (string, error) {
	if err := m.ensure(func() bool { return m.contentSource != nil }, m.scrapeHistory, "contentSource"); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.contentSource, nil
}

// Edited reports whether the message has been edited.
func (m *Message) Edited() (bool, error) {
	if err := m.ensure(func() bool { return m.edited != nil }, m.scrapeHistory, "edited"); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.edited, nil
}

// Edits returns how many times the message has been edited.
func (m *Message) Edits() (int, error) {
	if err := m.ensure(func() bool { return m.edits != nil }, m.scrapeHistory, "edits"); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.edits, nil
}

// Editor returns the user who most recently edited the message, or nil when
// it was never edited.
func (m *Message) Editor() (*User, error) {
	known := func() bool { return m.edited != nil && (!*m.edited || m.editorUserID != nil) }
	if err := m.ensure(known, m.scrapeHistory, "editor"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	if !*m.edited {
		m.mu.Unlock()
		return nil, nil
	}
	id := *m.editorUserID
	name := m.editorUserName
	m.mu.Unlock()
	if name != nil {
		return m.client.GetUser(id, UserName(*name)), nil
	}
	return m.client.GetUser(id), nil
}

// Pins returns the message's pin count.
func (m *Message) Pins() (int, error) {
	if err := m.ensure(func() bool { return m.pins != nil }, m.scrapeHistory, "pins"); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.pins, nil
}

// PinnerUserIDs returns the users who pinned the message.
func (m *Message) PinnerUserIDs() ([]int, error) {
	known := func() bool { return m.pinnerUserIDs != nil || (m.pinned != nil && !*m.pinned) }
	if err := m.ensure(known, m.scrapeHistory, "pinnerUserIDs"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.pinnerUserIDs...), nil
}

// Reply queues a reply to this message in its room.
func (m *Message) Reply(text string) (*Handle, error) {
	room, err := m.Room()
	if err != nil {
		return nil, err
	}
	return room.SendMessage(fmt.Sprintf(":%d %s", m.ID, text))
}

// Edit queues an edit of this message.
func (m *Message) Edit(text string) (*Handle, error) {
	return m.client.queueAction(newAction(actionEdit, 0, m.ID, text))
}

// Delete queues deletion of this message.
func (m *Message) Delete() (*Handle, error) {
	return m.client.queueAction(newAction(actionDelete, 0, m.ID, ""))
}

// Star stars or unstars the message for the logged-in user. It is a no-op
// when the star state already matches.
func (m *Message) Star(value bool) error {
	current, err := m.StarredByYou()
	if err != nil {
		return err
	}
	if current == value {
		return nil
	}
	if err := m.client.br.ToggleStarring(context.Background(), m.ID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starredByYou = boolp(value)
	if m.stars != nil {
		if value {
			*m.stars++
		} else if *m.stars > 0 {
			*m.stars--
		}
	}
	return nil
}

// CancelStars removes every star from the message, a moderator-level action.
func (m *Message) CancelStars() error {
	if err := m.client.br.CancelStars(context.Background(), m.ID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stars = intp(0)
	m.starredByYou = boolp(false)
	return nil
}

// Pin pins or unpins the message. It is a no-op when the pin state already
// matches.
func (m *Message) Pin(value bool) error {
	current, err := m.Pinned()
	if err != nil {
		return err
	}
	if current == value {
		return nil
	}
	if err := m.client.br.TogglePinning(context.Background(), m.ID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pinned = boolp(value)
	if !value {
		m.pins = intp(0)
		m.pinnerUserIDs = []int{}
		m.pinnerNames = []string{}
	} else {
		// pinner details are unknown until the history page is read
		m.pins = nil
		m.pinnerUserIDs = nil
		m.pinnerNames = nil
	}
	return nil
}

func (m *Message) scrapeTranscript() error {
	data, err := m.client.br.GetTranscript(context.Background(), m.ID)
	if err != nil {
		return err
	}
	m.client.applyTranscript(data)
	return nil
}

func (m *Message) scrapeHistory() error {
	data, err := m.client.br.GetHistory(context.Background(), m.ID)
	if err != nil {
		return err
	}
	m.applyHistory(data)
	return nil
}

func (m *Message) applyHistory(data *HistoryData) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roomID = intp(data.RoomID)
	m.content = strp(data.Content)
	m.deleted = boolp(false)
	m.contentSource = strp(data.ContentSource)
	m.ownerUserID = intp(data.OwnerUserID)
	m.ownerUserName = strp(data.OwnerUserName)
	m.edited = boolp(data.Edited)
	m.edits = intp(data.Edits)
	if data.Edited {
		m.editorUserID = intp(data.EditorUserID)
		m.editorUserName = strp(data.EditorUserName)
	} else {
		m.editorUserID = intp(0)
		m.editorUserName = strp("")
	}
	m.stars = intp(data.Stars)
	m.pinned = boolp(data.Pinned)
	m.pins = intp(data.Pins)
	m.pinnerUserIDs = append([]int{}, data.PinnerUserIDs...)
	m.pinnerNames = append([]string{}, data.PinnerNames...)
}

func (m *Message) applyTranscriptMessage(roomID int, roomName string, tm *TranscriptMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roomID = intp(roomID)
	m.roomName = strp(roomName)
	m.content = strp(tm.Content)
	m.deleted = boolp(false)
	m.ownerUserID = intp(tm.OwnerUserID)
	m.ownerUserName = strp(tm.OwnerUserName)
	m.parentID = intp(tm.ParentMessageID)
	m.stars = intp(tm.Stars)
	m.starredByYou = boolp(tm.StarredByYou)
	m.applyPinFlag(tm.Pinned)
	m.applyEditedFlag(tm.Edited)
}

// applyEvent folds a message event into the cached fields, assuming the event
// carries newer information than whatever is cached.
func (m *Message) applyEvent(ev *Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ev.Content != nil {
		m.content = strp(*ev.Content)
		m.deleted = boolp(false)
	} else {
		m.content = nil
		m.deleted = boolp(true)
	}

	m.applyEditedFlag(ev.MessageEdits > 0)
	m.edits = intp(ev.MessageEdits)

	m.stars = intp(ev.MessageStars)

	m.applyPinFlag(ev.MessageOwnerStars > 0)
	m.pins = intp(ev.MessageOwnerStars)

	m.parentID = intp(ev.ParentMessageID)

	if ev.Type != EventMessageMovedOut {
		m.roomID = intp(ev.RoomID)
		m.roomName = strp(ev.RoomName)
	}

	if ev.Type == EventMessagePosted {
		m.ownerUserID = intp(ev.UserID)
		m.ownerUserName = strp(ev.UserName)
		m.timestamp = int64p(ev.Timestamp)
	}
}

// applyPinFlag updates the pinned flag, clearing pin details that are only
// valid in the new state. Details cached for the state we are already in are
// preserved. Callers must hold the lock.
func (m *Message) applyPinFlag(pinned bool) {
	was := m.pinned
	m.pinned = boolp(pinned)
	if was != nil && *was == pinned {
		return
	}
	if pinned {
		// cached details, if any, described the unpinned state
		if was != nil {
			m.pins = nil
			m.pinnerUserIDs = nil
			m.pinnerNames = nil
		}
	} else {
		m.pins = intp(0)
		m.pinnerUserIDs = []int{}
		m.pinnerNames = []string{}
	}
}

// applyEditedFlag is the edit-state counterpart of applyPinFlag. Callers must
// hold the lock.
func (m *Message) applyEditedFlag(edited bool) {
	was := m.edited
	m.edited = boolp(edited)
	if was != nil && *was == edited {
		return
	}
	if edited {
		if was != nil {
			m.editorUserID = nil
			m.editorUserName = nil
			m.edits = nil
		}
	} else {
		m.editorUserID = intp(0)
		m.editorUserName = strp("")
		m.edits = intp(0)
	}
}

func intp(v int) *int       { return &v }
func strp(v string) *string { return &v }
func boolp(v bool) *bool    { return &v }
func int64p(v int64) *int64 { return &v }
