package browser

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"sechat/chat"
)

// The extraction below is deliberately mechanical: pull named fields out of
// known page shapes and hand them to the chat package as plain data.

var (
	inputValueRe  = regexp.MustCompile(`<input[^>]*name="%s"[^>]*value="([^"]*)"`)
	topbarRe      = regexp.MustCompile(`(?s)class="topbar-menu-links".*?<a href="/users/(\d+)/[^"]*"[^>]*>([^<]+)</a>`)
	userLinkRe    = regexp.MustCompile(`<a href="/users/(\d+)/[^"]*"[^>]*>([^<]+)</a>`)
	h1Re          = regexp.MustCompile(`(?s)<h1[^>]*>\s*(.*?)\s*</h1>`)
	monologueRe   = regexp.MustCompile(`<div class="monologue`)
	messageDivRe  = regexp.MustCompile(`<div class="message[ "][^>]*id="message-(\d+)"`)
	messageIDRe   = regexp.MustCompile(`id="message-(\d+)"`)
	contentRe     = regexp.MustCompile(`(?s)<div class="content">\s*(.*?)\s*</div>`)
	starTimesRe   = regexp.MustCompile(`<span class="times">(\d*)</span>`)
	replyInfoRe   = regexp.MustCompile(`<a[^>]*class="reply-info"[^>]*href="[^"]*#(\d+)"`)
	roomNameRe    = regexp.MustCompile(`<span class="room-name">\s*<a href="/rooms/(\d+)[^"]*"[^>]*>([^<]+)</a>`)
	editedMarkRe  = regexp.MustCompile(`<b>edited:</b>`)
	presentUserRe = regexp.MustCompile(`id:\s*(\d+),`)
	sourceRe      = regexp.MustCompile(`(?s)<b>said:</b>\s*(.*?)\s*<`)
	countValueRe  = regexp.MustCompile(`>\s*([\d,]+)\s*<`)
	lastSeenRe    = regexp.MustCompile(`(just now|\d+\s*(?:sec|min|hour|day)s?\s*ago|yesterday)`)
)

// findInputValue returns the value of the named form input, or "".
func findInputValue(page, name string) string {
	re := regexp.MustCompile(strings.Replace(inputValueRe.String(), "%s", regexp.QuoteMeta(name), 1))
	if m := re.FindStringSubmatch(page); m != nil {
		return m[1]
	}
	// value-before-name ordering also appears in the wild
	re = regexp.MustCompile(`<input[^>]*value="([^"]*)"[^>]*name="` + regexp.QuoteMeta(name) + `"`)
	if m := re.FindStringSubmatch(page); m != nil {
		return m[1]
	}
	return ""
}

func findTopbarUser(page string) (int, string, bool) {
	m := topbarRe.FindStringSubmatch(page)
	if m == nil {
		return 0, "", false
	}
	id, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, "", false
	}
	return id, strings.TrimSpace(m[2]), true
}

// classValue extracts the first integer inside an element carrying the given
// class, tolerating thousands separators. Returns -1 when absent.
func classValue(page, class string) int {
	re := regexp.MustCompile(`class="` + regexp.QuoteMeta(class) + `[^"]*"[^>]*` + countValueRe.String())
	m := re.FindStringSubmatch(page)
	if m == nil {
		return -1
	}
	n, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
	if err != nil {
		return -1
	}
	return n
}

func classAttr(page, class, attr string) string {
	re := regexp.MustCompile(`class="` + regexp.QuoteMeta(class) + `[^"]*"[^>]*` + attr + `="([^"]*)"`)
	if m := re.FindStringSubmatch(page); m != nil {
		return m[1]
	}
	re = regexp.MustCompile(attr + `="([^"]*)"[^>]*class="` + regexp.QuoteMeta(class) + `[^"]*"`)
	if m := re.FindStringSubmatch(page); m != nil {
		return m[1]
	}
	return ""
}

func parseLastSeen(text string) int64 {
	m := lastSeenRe.FindStringSubmatch(text)
	if m == nil {
		return -1
	}
	s := m[1]
	if s == "just now" {
		return 0
	}
	if s == "yesterday" {
		return 86400
	}
	var n int64
	fmt.Sscanf(s, "%d", &n)
	switch {
	case strings.Contains(s, "sec"):
		return n
	case strings.Contains(s, "min"):
		return n * 60
	case strings.Contains(s, "hour"):
		return n * 3600
	case strings.Contains(s, "day"):
		return n * 86400
	}
	return -1
}

// GetProfile scrapes a user profile page.
func (b *Browser) GetProfile(ctx context.Context, userID int) (*chat.ProfileData, error) {
	page, err := b.getChat(ctx, fmt.Sprintf("users/%d", userID))
	if err != nil {
		return nil, err
	}

	data := &chat.ProfileData{Reputation: -1, LastSeen: -1}
	if m := h1Re.FindStringSubmatch(page); m != nil {
		data.Name = strings.TrimSpace(m[1])
	} else {
		return nil, errors.Errorf("browser: no name on profile page for user %d", userID)
	}
	data.IsModerator = strings.Contains(page, "♦")
	data.MessageCount = classValue(page, "user-message-count-xxl")
	data.RoomCount = classValue(page, "user-room-count-xxl")
	if title := classAttr(page, "reputation-score", "title"); title != "" {
		if n, err := strconv.Atoi(strings.ReplaceAll(title, ",", "")); err == nil {
			data.Reputation = n
		}
	}
	data.LastSeen = parseLastSeen(page)
	return data, nil
}

// GetRoomInfo scrapes a room info page.
func (b *Browser) GetRoomInfo(ctx context.Context, roomID int) (*chat.RoomInfoData, error) {
	page, err := b.getChat(ctx, fmt.Sprintf("rooms/info/%d", roomID))
	if err != nil {
		return nil, err
	}

	data := &chat.RoomInfoData{}
	if m := h1Re.FindStringSubmatch(page); m != nil {
		data.Name = strings.TrimSpace(m[1])
	} else {
		return nil, errors.Errorf("browser: no name on info page for room %d", roomID)
	}

	if m := regexp.MustCompile(`(?s)class="roomcard-xxl".*?<p[^>]*>\s*(.*?)\s*</p>`).FindStringSubmatch(page); m != nil {
		data.Description = m[1]
	}
	data.MessageCount = classValue(page, "room-message-count-xxl")
	data.UserCount = classValue(page, "room-user-count-xxl")
	data.ParentSiteName = classAttr(page, "site-icon", "title")

	if m := regexp.MustCompile(`(?s)id="room-ownercards".*?</div>\s*</div>\s*</div>`).FindString(page); m != "" {
		for _, link := range userLinkRe.FindAllStringSubmatch(m, -1) {
			id, err := strconv.Atoi(link[1])
			if err != nil {
				continue
			}
			data.OwnerUserIDs = append(data.OwnerUserIDs, id)
			data.OwnerUserNames = append(data.OwnerUserNames, strings.TrimSpace(link[2]))
		}
	}

	for _, tag := range regexp.MustCompile(`class="tag"[^>]*>([^<]+)<`).FindAllStringSubmatch(page, -1) {
		data.Tags = append(data.Tags, tag[1])
	}
	return data, nil
}

// GetTranscript scrapes the transcript page that contains a message.
func (b *Browser) GetTranscript(ctx context.Context, messageID int) (*chat.TranscriptData, error) {
	page, err := b.getChat(ctx, fmt.Sprintf("transcript/message/%d", messageID))
	if err != nil {
		return nil, err
	}

	data := &chat.TranscriptData{}
	roomLinks := roomNameRe.FindAllStringSubmatch(page, -1)
	if len(roomLinks) == 0 {
		return nil, errors.Errorf("browser: no room on transcript page for message %d", messageID)
	}
	last := roomLinks[len(roomLinks)-1]
	data.RoomID, _ = strconv.Atoi(last[1])
	data.RoomName = strings.TrimSpace(last[2])

	for _, block := range splitBlocks(page, monologueRe) {
		userID, userName := 0, ""
		if m := userLinkRe.FindStringSubmatch(block); m != nil {
			userID, _ = strconv.Atoi(m[1])
			userName = strings.TrimSpace(m[2])
		}
		for _, msgBlock := range splitBlocks(block, messageDivRe) {
			idMatch := messageIDRe.FindStringSubmatch(msgBlock)
			if idMatch == nil {
				continue
			}
			tm := chat.TranscriptMessage{OwnerUserID: userID, OwnerUserName: userName}
			tm.ID, _ = strconv.Atoi(idMatch[1])
			if m := contentRe.FindStringSubmatch(msgBlock); m != nil {
				tm.Content = m[1]
			}
			tm.Edited = strings.Contains(msgBlock, `class="edits"`)
			if m := replyInfoRe.FindStringSubmatch(msgBlock); m != nil {
				tm.ParentMessageID, _ = strconv.Atoi(m[1])
			}
			tm.Stars, tm.StarredByYou, tm.Pinned = starData(msgBlock)
			data.Messages = append(data.Messages, tm)
		}
	}
	return data, nil
}

// GetHistory scrapes a message history page.
func (b *Browser) GetHistory(ctx context.Context, messageID int) (*chat.HistoryData, error) {
	page, err := b.getChat(ctx, fmt.Sprintf("messages/%d/history", messageID))
	if err != nil {
		return nil, err
	}

	blocks := splitBlocks(page, monologueRe)
	if len(blocks) == 0 {
		return nil, errors.Errorf("browser: empty history page for message %d", messageID)
	}
	latest, history := blocks[0], blocks[1:]

	data := &chat.HistoryData{}
	if m := regexp.MustCompile(`<a[^>]*name="(\d+)"`).FindStringSubmatch(latest); m != nil {
		if id, _ := strconv.Atoi(m[1]); id != messageID {
			return nil, errors.Errorf("browser: history page is for message %d, wanted %d", id, messageID)
		}
	}
	if m := regexp.MustCompile(`href="/transcript/(\d+)\?`).FindStringSubmatch(latest); m != nil {
		data.RoomID, _ = strconv.Atoi(m[1])
	}
	if m := contentRe.FindStringSubmatch(latest); m != nil {
		data.Content = m[1]
	}
	if m := userLinkRe.FindStringSubmatch(latest); m != nil {
		data.OwnerUserID, _ = strconv.Atoi(m[1])
		data.OwnerUserName = strings.TrimSpace(m[2])
	}
	if len(history) > 0 {
		if m := sourceRe.FindStringSubmatch(history[0]); m != nil {
			data.ContentSource = m[1]
		}
	}

	for _, block := range history {
		if !editedMarkRe.MatchString(block) {
			continue
		}
		data.Edits++
		if data.EditorUserID == 0 {
			if m := userLinkRe.FindStringSubmatch(block); m != nil {
				data.EditorUserID, _ = strconv.Atoi(m[1])
				data.EditorUserName = strings.TrimSpace(m[2])
			}
		}
	}
	data.Edited = data.Edits > 0

	var starredByYou bool
	data.Stars, starredByYou, data.Pinned = starData(latest)
	_ = starredByYou // the history page never shows the user-star marker

	if data.Pinned {
		for _, p := range regexp.MustCompile(`(?s)<p>.*?class="stars owner-star".*?</p>`).FindAllString(page, -1) {
			if m := userLinkRe.FindStringSubmatch(p); m != nil {
				id, _ := strconv.Atoi(m[1])
				data.Pins++
				data.PinnerUserIDs = append(data.PinnerUserIDs, id)
				data.PinnerNames = append(data.PinnerNames, strings.TrimSpace(m[2]))
			}
		}
	}
	return data, nil
}

// CurrentUserIDs extracts the ids of users currently present in a room from
// the room page's bootstrap script.
func (b *Browser) CurrentUserIDs(ctx context.Context, roomID int) ([]int, error) {
	page, err := b.getChat(ctx, fmt.Sprintf("rooms/%d", roomID))
	if err != nil {
		return nil, err
	}
	block := regexp.MustCompile(`(?s)CHAT\.RoomUsers\.initPresent\(\[(.*?)\]\);`).FindStringSubmatch(page)
	if block == nil {
		return nil, errors.Errorf("browser: no present-users script on room page %d", roomID)
	}
	var ids []int
	for _, m := range presentUserRe.FindAllStringSubmatch(block[1], -1) {
		id, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// starData reads the star markers to the right of a message: total stars,
// whether you starred it, and whether it is pinned.
func starData(block string) (stars int, starredByYou, pinned bool) {
	if !strings.Contains(block, `class="stars`) {
		return 0, false, false
	}
	stars = 1
	if m := starTimesRe.FindStringSubmatch(block); m != nil && m[1] != "" {
		stars, _ = strconv.Atoi(m[1])
	}
	starredByYou = strings.Contains(block, `class="stars user-star"`)
	pinned = strings.Contains(block, `class="stars owner-star"`)
	return stars, starredByYou, pinned
}

// splitBlocks cuts page into segments starting at each match of re, dropping
// the prefix before the first match.
func splitBlocks(page string, re *regexp.Regexp) []string {
	locs := re.FindAllStringIndex(page, -1)
	if locs == nil {
		return nil
	}
	blocks := make([]string, 0, len(locs))
	for i, loc := range locs {
		end := len(page)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		blocks = append(blocks, page[loc[0]:end])
	}
	return blocks
}
