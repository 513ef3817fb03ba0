package chat

import "context"

// WriteResponse is the raw outcome of a mutating request. The dispatcher, not
// the browser, decides what it means: a throttle denial, a duplicate
// detection, a benign acknowledgment, or a success carrying a message id.
type WriteResponse struct {
	StatusCode int
	Body       string
}

// ProfileData holds the parsed fields of a user profile page.
type ProfileData struct {
	Name         string
	IsModerator  bool
	MessageCount int
	RoomCount    int
	Reputation   int
	LastSeen     int64
}

// RoomInfoData holds the parsed fields of a room info page.
type RoomInfoData struct {
	Name           string
	Description    string
	MessageCount   int
	UserCount      int
	ParentSiteName string
	OwnerUserIDs   []int
	OwnerUserNames []string
	Tags           []string
}

// TranscriptMessage holds the parsed fields of one message on a transcript
// page.
type TranscriptMessage struct {
	ID              int
	Content         string
	OwnerUserID     int
	OwnerUserName   string
	Edited          bool
	ParentMessageID int // 0 when the message is not a reply
	Stars           int
	StarredByYou    bool
	Pinned          bool
}

// TranscriptData holds the parsed fields of a transcript page.
type TranscriptData struct {
	RoomID   int
	RoomName string
	Messages []TranscriptMessage
}

// HistoryData holds the parsed fields of a message history page.
type HistoryData struct {
	RoomID         int
	Content        string
	ContentSource  string
	OwnerUserID    int
	OwnerUserName  string
	Edited         bool
	Edits          int
	EditorUserID   int
	EditorUserName string
	Stars          int
	Pinned         bool
	Pins           int
	PinnerUserIDs  []int
	PinnerNames    []string
}

// EventSocket is an open push-channel connection for one room. Receive blocks
// until the next activity frame arrives or the connection dies.
type EventSocket interface {
	Receive() ([]byte, error)
	Close() error
}

// Browser is the transport and scrape collaborator: authenticated HTTP, the
// anti-forgery token handling, websocket dialing, and the mechanical HTML
// field extraction. The chat package only interprets what it returns.
type Browser interface {
	// Login authenticates the session. Implementations must return a
	// *LoginError when credentials are rejected.
	Login(ctx context.Context, email, password string) error
	UserID() int
	UserName() string

	// JoinRoom enters a room and returns the initial event watermark.
	JoinRoom(ctx context.Context, roomID int) (int64, error)
	LeaveRoom(ctx context.Context, roomID int) error

	// Write actions. A throttled or otherwise denied request is still a nil
	// error here; denial is encoded in the response body and status.
	SendMessage(ctx context.Context, roomID int, text string) (*WriteResponse, error)
	EditMessage(ctx context.Context, messageID int, text string) (*WriteResponse, error)
	DeleteMessage(ctx context.Context, messageID int) (*WriteResponse, error)
	ToggleStarring(ctx context.Context, messageID int) error
	CancelStars(ctx context.Context, messageID int) error
	TogglePinning(ctx context.Context, messageID int) error

	// RoomEvents polls for raw activity since the given watermark. The
	// payload is the server's activity JSON, keyed "r<room_id>".
	RoomEvents(ctx context.Context, roomID int, since int64) ([]byte, error)
	// OpenEventSocket opens the push channel for a room, parameterized by
	// the watermark.
	OpenEventSocket(ctx context.Context, roomID int, since int64) (EventSocket, error)

	// Scrape operations, returning already-parsed field sets.
	GetProfile(ctx context.Context, userID int) (*ProfileData, error)
	GetRoomInfo(ctx context.Context, roomID int) (*RoomInfoData, error)
	GetTranscript(ctx context.Context, messageID int) (*TranscriptData, error)
	GetHistory(ctx context.Context, messageID int) (*HistoryData, error)
	PingableUsers(ctx context.Context, roomID int) (ids []int, names []string, err error)
	CurrentUserIDs(ctx context.Context, roomID int) ([]int, error)
}
