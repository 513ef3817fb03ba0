package chat

import (
	"context"
	"sync"
)

// User is a chat user, deduplicated by id. Profile fields form one lazy
// group populated from the profile page.
type User struct {
	ID     int
	client *Client

	mu           sync.Mutex
	name         *string
	isModerator  *bool
	messageCount *int
	roomCount    *int
	reputation   *int
	lastSeen     *int64
}

func newUser(id int, client *Client) *User {
	return &User{ID: id, client: client}
}

// UserField seeds a known field value when a user is looked up, overwriting
// whatever was cached. Applied under the user lock.
type UserField func(*User)

// UserName records the user's display name.
func UserName(name string) UserField {
	return func(u *User) { u.name = strp(name) }
}

func (u *User) ensure(known func() bool, field string) error {
	u.mu.Lock()
	ok := known()
	u.mu.Unlock()
	if ok {
		return nil
	}
	if err := u.scrapeProfile(); err != nil {
		return err
	}
	u.mu.Lock()
	ok = known()
	u.mu.Unlock()
	if !ok {
		panic("chat: fetch did not populate User." + field)
	}
	return nil
}

// Name returns the user's display name.
func (u *User) Name() (string, error) {
	if err := u.ensure(func() bool { return u.name != nil }, "name"); err != nil {
		return "", err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return *u.name, nil
}

// IsModerator reports whether the user is a moderator.
func (u *User) IsModerator() (bool, error) {
	if err := u.ensure(func() bool { return u.isModerator != nil }, "isModerator"); err != nil {
		return false, err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return *u.isModerator, nil
}

// MessageCount returns how many chat messages the user has posted.
func (u *User) MessageCount() (int, error) {
	if err := u.ensure(func() bool { return u.messageCount != nil }, "messageCount"); err != nil {
		return 0, err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return *u.messageCount, nil
}

// RoomCount returns how many rooms the user has been in.
func (u *User) RoomCount() (int, error) {
	if err := u.ensure(func() bool { return u.roomCount != nil }, "roomCount"); err != nil {
		return 0, err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return *u.roomCount, nil
}

// Reputation returns the user's reputation, or -1 when not shown.
func (u *User) Reputation() (int, error) {
	if err := u.ensure(func() bool { return u.reputation != nil }, "reputation"); err != nil {
		return 0, err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return *u.reputation, nil
}

// LastSeen returns seconds since the user was last seen, or -1 when unknown.
func (u *User) LastSeen() (int64, error) {
	if err := u.ensure(func() bool { return u.lastSeen != nil }, "lastSeen"); err != nil {
		return 0, err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return *u.lastSeen, nil
}

func (u *User) scrapeProfile() error {
	data, err := u.client.br.GetProfile(context.Background(), u.ID)
	if err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.name = strp(data.Name)
	u.isModerator = boolp(data.IsModerator)
	u.messageCount = intp(data.MessageCount)
	u.roomCount = intp(data.RoomCount)
	u.reputation = intp(data.Reputation)
	u.lastSeen = int64p(data.LastSeen)
	return nil
}
