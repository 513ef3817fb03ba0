package chat

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// fakeBrowser is an in-memory Browser for tests. Behavior is overridable per
// test through the function hooks; everything it is asked to do is recorded.
type fakeBrowser struct {
	mu sync.Mutex

	loginErr error
	userID   int
	userName string

	joinWatermark int64
	joinErr       error
	joins         []int
	leaves        []int

	sendFn   func(roomID int, text string) (*WriteResponse, error)
	editFn   func(messageID int, text string) (*WriteResponse, error)
	deleteFn func(messageID int) (*WriteResponse, error)
	eventsFn func(roomID int, since int64) ([]byte, error)
	socketFn func(roomID int, since int64) (EventSocket, error)

	profile    *ProfileData
	roomInfo   *RoomInfoData
	transcript *TranscriptData
	history    *HistoryData

	transcriptCalls int
	historyCalls    int

	sends          []string
	edits          []string
	deletes        []int
	starred        []int
	starsCancelled []int
	pins           []int

	nextID int
}

func (b *fakeBrowser) Login(_ context.Context, _, _ string) error { return b.loginErr }
func (b *fakeBrowser) UserID() int                                { return b.userID }
func (b *fakeBrowser) UserName() string                           { return b.userName }

func (b *fakeBrowser) JoinRoom(_ context.Context, roomID int) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.joinErr != nil {
		return 0, b.joinErr
	}
	b.joins = append(b.joins, roomID)
	return b.joinWatermark, nil
}

func (b *fakeBrowser) LeaveRoom(_ context.Context, roomID int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.leaves = append(b.leaves, roomID)
	return nil
}

// okWrite builds the success body a write endpoint answers with, minting a
// fresh message id.
func (b *fakeBrowser) okWrite() *WriteResponse {
	b.nextID++
	return &WriteResponse{
		StatusCode: 200,
		Body:       fmt.Sprintf(`{"id": %d, "time": 1700000000}`, b.nextID),
	}
}

func (b *fakeBrowser) SendMessage(_ context.Context, roomID int, text string) (*WriteResponse, error) {
	if b.sendFn != nil {
		return b.sendFn(roomID, text)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sends = append(b.sends, text)
	return b.okWrite(), nil
}

func (b *fakeBrowser) EditMessage(_ context.Context, messageID int, text string) (*WriteResponse, error) {
	if b.editFn != nil {
		return b.editFn(messageID, text)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.edits = append(b.edits, text)
	return b.okWrite(), nil
}

func (b *fakeBrowser) DeleteMessage(_ context.Context, messageID int) (*WriteResponse, error) {
	if b.deleteFn != nil {
		return b.deleteFn(messageID)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deletes = append(b.deletes, messageID)
	return &WriteResponse{StatusCode: 200, Body: "ok"}, nil
}

func (b *fakeBrowser) ToggleStarring(_ context.Context, messageID int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.starred = append(b.starred, messageID)
	return nil
}

func (b *fakeBrowser) CancelStars(_ context.Context, messageID int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.starsCancelled = append(b.starsCancelled, messageID)
	return nil
}

func (b *fakeBrowser) TogglePinning(_ context.Context, messageID int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pins = append(b.pins, messageID)
	return nil
}

func (b *fakeBrowser) RoomEvents(_ context.Context, roomID int, since int64) ([]byte, error) {
	if b.eventsFn != nil {
		return b.eventsFn(roomID, since)
	}
	return []byte(`{}`), nil
}

func (b *fakeBrowser) OpenEventSocket(_ context.Context, roomID int, since int64) (EventSocket, error) {
	if b.socketFn != nil {
		return b.socketFn(roomID, since)
	}
	return nil, fmt.Errorf("fake: no socket configured")
}

func (b *fakeBrowser) GetProfile(_ context.Context, _ int) (*ProfileData, error) {
	if b.profile == nil {
		return nil, fmt.Errorf("fake: no profile configured")
	}
	return b.profile, nil
}

func (b *fakeBrowser) GetRoomInfo(_ context.Context, _ int) (*RoomInfoData, error) {
	if b.roomInfo == nil {
		return nil, fmt.Errorf("fake: no room info configured")
	}
	return b.roomInfo, nil
}

func (b *fakeBrowser) GetTranscript(_ context.Context, _ int) (*TranscriptData, error) {
	b.mu.Lock()
	b.transcriptCalls++
	b.mu.Unlock()
	if b.transcript == nil {
		return nil, fmt.Errorf("fake: no transcript configured")
	}
	return b.transcript, nil
}

func (b *fakeBrowser) GetHistory(_ context.Context, _ int) (*HistoryData, error) {
	b.mu.Lock()
	b.historyCalls++
	b.mu.Unlock()
	if b.history == nil {
		return nil, fmt.Errorf("fake: no history configured")
	}
	return b.history, nil
}

func (b *fakeBrowser) PingableUsers(_ context.Context, _ int) ([]int, []string, error) {
	return []int{1, 2}, []string{"alice", "bob"}, nil
}

func (b *fakeBrowser) CurrentUserIDs(_ context.Context, _ int) ([]int, error) {
	return []int{1}, nil
}

func (b *fakeBrowser) sentTexts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.sends...)
}

// loggedInClient builds a client over br with fast intervals and a completed
// login.
func loggedInClient(br *fakeBrowser, opts ...Option) *Client {
	opts = append([]Option{WithMinInterval(time.Millisecond), WithMaxAttempts(5)}, opts...)
	c := NewClient(br, opts...)
	if err := c.Login("user@example.com", "hunter2"); err != nil {
		panic(err)
	}
	return c
}
