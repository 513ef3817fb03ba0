package chat

import (
	"fmt"
	"log/slog"

	"github.com/goccy/go-json"
)

// EventType identifies the kind of a room event, using the server's numeric
// event_type values.
type EventType int

const (
	EventMessagePosted       EventType = 1
	EventMessageEdited       EventType = 2
	EventUserEntered         EventType = 3
	EventUserLeft            EventType = 4
	EventRoomNameChanged     EventType = 5
	EventMessageStarred      EventType = 6
	EventUserMentioned       EventType = 8
	EventMessageFlagged      EventType = 9
	EventMessageDeleted      EventType = 10
	EventFileAdded           EventType = 11
	EventModeratorFlag       EventType = 12
	EventUserSettingsChanged EventType = 13
	EventGlobalNotification  EventType = 14
	EventAccountLevelChanged EventType = 15
	EventUserNotification    EventType = 16
	EventInvitation          EventType = 17
	EventMessageReply        EventType = 18
	EventMessageMovedOut     EventType = 19
	EventMessageMovedIn      EventType = 20
	EventTimeBreak           EventType = 21
	EventFeedTicker          EventType = 22
	EventUserSuspended       EventType = 29
	EventUserMerged          EventType = 30
)

// Event is one room activity item as reported by either channel. The same
// event may arrive over both the push channel and the polling channel;
// consumers that care must deduplicate by ID.
type Event struct {
	Type      EventType `json:"event_type"`
	ID        int64     `json:"id"`
	RoomID    int       `json:"room_id"`
	RoomName  string    `json:"room_name"`
	Timestamp int64     `json:"time_stamp"`

	UserID       int     `json:"user_id"`
	UserName     string  `json:"user_name"`
	TargetUserID int     `json:"target_user_id"`
	Content      *string `json:"content"`
	MessageID    int     `json:"message_id"`
	MessageEdits int     `json:"message_edits"`
	MessageStars int     `json:"message_stars"`
	// MessageOwnerStars is the pin count; any value above zero means pinned.
	MessageOwnerStars int  `json:"message_owner_stars"`
	ParentMessageID   int  `json:"parent_id"`
	ShowParent        bool `json:"show_parent"`

	// Room is the cached Room entity the event belongs to.
	Room *Room `json:"-"`
	// Message is the cached Message entity, set for message events only.
	Message *Message `json:"-"`
}

// IsMessageEvent reports whether the event describes a message and carries a
// Message reference.
func (e *Event) IsMessageEvent() bool {
	switch e.Type {
	case EventMessagePosted, EventMessageEdited, EventMessageStarred,
		EventUserMentioned, EventMessageDeleted, EventMessageReply,
		EventMessageMovedOut, EventMessageMovedIn:
		return true
	}
	return false
}

type roomActivity struct {
	Events []json.RawMessage `json:"e"`
	Time   int64             `json:"t"`
}

// eventsFromActivity extracts this room's events from an activity payload and
// applies each one to the entity cache. The returned watermark is zero when
// the server reported no new cursor.
func (c *Client) eventsFromActivity(roomID int, payload []byte) ([]*Event, int64) {
	var activity map[string]roomActivity
	if err := json.Unmarshal(payload, &activity); err != nil {
		slog.Warn("[WATCH] Malformed activity payload", "room", roomID, "error", err)
		return nil, 0
	}

	room, ok := activity[fmt.Sprintf("r%d", roomID)]
	if !ok {
		return nil, 0
	}

	events := make([]*Event, 0, len(room.Events))
	for _, raw := range room.Events {
		if len(raw) == 0 || string(raw) == "null" {
			continue
		}
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			// tolerate isolated malformed events rather than killing the watch
			slog.Warn("[WATCH] Skipping malformed event", "room", roomID, "error", err)
			continue
		}
		c.applyEvent(&ev)
		events = append(events, &ev)
	}
	return events, room.Time
}

// applyEvent resolves the event's entity references and folds its payload
// into the cache. Applying the same event twice is idempotent.
func (c *Client) applyEvent(ev *Event) {
	if ev.RoomName != "" {
		ev.Room = c.GetRoom(ev.RoomID, RoomName(ev.RoomName))
	} else {
		ev.Room = c.GetRoom(ev.RoomID)
	}
	if ev.IsMessageEvent() {
		ev.Message = c.GetMessage(ev.MessageID)
		ev.Message.applyEvent(ev)
	}
	c.recentEvents.add(ev)
}
