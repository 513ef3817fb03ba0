package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserProfileGroup(t *testing.T) {
	br := &fakeBrowser{profile: &ProfileData{
		Name:         "alice",
		IsModerator:  true,
		MessageCount: 1234,
		RoomCount:    5,
		Reputation:   10012,
		LastSeen:     3600,
	}}
	c := NewClient(br)
	u := c.GetUser(7)

	name, err := u.Name()
	require.NoError(t, err)
	assert.Equal(t, "alice", name)

	mod, err := u.IsModerator()
	require.NoError(t, err)
	assert.True(t, mod)

	messages, err := u.MessageCount()
	require.NoError(t, err)
	assert.Equal(t, 1234, messages)

	rooms, err := u.RoomCount()
	require.NoError(t, err)
	assert.Equal(t, 5, rooms)

	rep, err := u.Reputation()
	require.NoError(t, err)
	assert.Equal(t, 10012, rep)

	seen, err := u.LastSeen()
	require.NoError(t, err)
	assert.EqualValues(t, 3600, seen)
}

func TestUserKnownFieldsSkipScrape(t *testing.T) {
	br := &fakeBrowser{} // any scrape would fail
	c := NewClient(br)
	u := c.GetUser(7, UserName("alice"))

	name, err := u.Name()
	require.NoError(t, err)
	assert.Equal(t, "alice", name)

	// a later lookup overwrites the cached value
	assert.Same(t, u, c.GetUser(7, UserName("alice the elder")))
	name, err = u.Name()
	require.NoError(t, err)
	assert.Equal(t, "alice the elder", name)
}

func TestUserProfileFetchFailure(t *testing.T) {
	c := NewClient(&fakeBrowser{})

	_, err := c.GetUser(7).Reputation()
	assert.Error(t, err)
}
