// Package racetime contains a minimal client for the race-coordination
// service: opening race rooms, inviting entrants, posting room messages, and
// polling live room status. Only the status values "cancelled" and "finished"
// are meaningful to the orchestrator; everything else counts as in progress.
package racetime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Room statuses consumed by the orchestrator.
const (
	StatusCancelled = "cancelled"
	StatusFinished  = "finished"
)

// StartRacePolicy is the fixed room configuration used for tournament races.
type StartRacePolicy struct {
	Goal                string
	Info                string
	Invitational        bool
	Unlisted            bool
	StartDelay          int // seconds
	TimeLimit           int // hours
	StreamingRequired   bool
	AutoStart           bool
	AllowComments       bool
	HideComments        bool
	AllowPreraceChat    bool
	AllowMidraceChat    bool
	AllowNonEntrantChat bool
	ChatMessageDelay    int // seconds
}

// Entrant is one racer inside a room, with placement once finished.
type Entrant struct {
	User struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"user"`
	Place      int    `json:"place"`
	FinishTime string `json:"finish_time"` // ISO 8601 duration, empty until finished
}

// RoomData is the live snapshot of a race room.
type RoomData struct {
	Name   string `json:"name"`
	Status struct {
		Value string `json:"value"`
	} `json:"status"`
	Entrants  []Entrant `json:"entrants"`
	StartedAt string    `json:"started_at"`
	EndedAt   string    `json:"ended_at"`
	URL       string    `json:"url"`
}

// Client talks to one category on the race-coordination service.
type Client struct {
	BaseURL    string
	Category   string
	Token      string
	HTTPClient *http.Client
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func boolField(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+c.Token)
	return c.http().Do(req)
}

// StartRace opens a new race room and returns its name (e.g. "alttpr/lucky-room-1234").
func (c *Client) StartRace(ctx context.Context, policy StartRacePolicy) (string, error) {
	form := url.Values{}
	form.Set("goal", policy.Goal)
	form.Set("info", policy.Info)
	form.Set("invitational", boolField(policy.Invitational))
	form.Set("unlisted", boolField(policy.Unlisted))
	form.Set("start_delay", strconv.Itoa(policy.StartDelay))
	form.Set("time_limit", strconv.Itoa(policy.TimeLimit))
	form.Set("streaming_required", boolField(policy.StreamingRequired))
	form.Set("auto_start", boolField(policy.AutoStart))
	form.Set("allow_comments", boolField(policy.AllowComments))
	form.Set("hide_comments", boolField(policy.HideComments))
	form.Set("allow_prerace_chat", boolField(policy.AllowPreraceChat))
	form.Set("allow_midrace_chat", boolField(policy.AllowMidraceChat))
	form.Set("allow_non_entrant_chat", boolField(policy.AllowNonEntrantChat))
	form.Set("chat_message_delay", strconv.Itoa(policy.ChatMessageDelay))

	resp, err := c.postForm(ctx, fmt.Sprintf("/o/%s/startrace", c.Category), form)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("startrace status %d", resp.StatusCode)
	}
	loc := resp.Header.Get("Location")
	if loc == "" {
		var body struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Name != "" {
			return body.Name, nil
		}
		return "", fmt.Errorf("startrace: no room location returned")
	}
	return strings.TrimPrefix(strings.TrimSuffix(loc, "/"), "/"), nil
}

// RoomStatus polls the live data endpoint for a room.
func (c *Client) RoomStatus(ctx context.Context, roomID string) (*RoomData, error) {
	if roomID == "" {
		return nil, fmt.Errorf("room id empty")
	}
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%s/data", c.BaseURL, roomID), nil)
	resp, err := c.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("room data status %d", resp.StatusCode)
	}
	var data RoomData
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// Invite asks the service to invite a user into an invitational room.
func (c *Client) Invite(ctx context.Context, roomID, userID string) error {
	form := url.Values{}
	form.Set("user", userID)
	resp, err := c.postForm(ctx, fmt.Sprintf("/o/%s/invite", roomID), form)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("invite status %d", resp.StatusCode)
	}
	return nil
}

// SetInfo replaces (or appends to) the public race info line shown in the room.
func (c *Client) SetInfo(ctx context.Context, roomID, info string, overwrite bool) error {
	form := url.Values{}
	form.Set("info", info)
	form.Set("overwrite", boolField(overwrite))
	resp, err := c.postForm(ctx, fmt.Sprintf("/o/%s/setinfo", roomID), form)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("setinfo status %d", resp.StatusCode)
	}
	return nil
}

// SendMessage posts a chat message into the room as the bot.
func (c *Client) SendMessage(ctx context.Context, roomID, text string) error {
	form := url.Values{}
	form.Set("message", text)
	resp, err := c.postForm(ctx, fmt.Sprintf("/o/%s/message", roomID), form)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("send message status %d", resp.StatusCode)
	}
	return nil
}

// RoomURL builds the human-facing URL for a room id.
func (c *Client) RoomURL(roomID string) string {
	return c.BaseURL + "/" + roomID
}

// ParseFinishTime converts the service's ISO 8601 finish duration
// (e.g. "PT1H23M45.600000S") into a time.Duration. Returns 0 for empty input.
func ParseFinishTime(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	orig := s
	if !strings.HasPrefix(s, "PT") {
		return 0, fmt.Errorf("bad finish time %q", orig)
	}
	s = strings.TrimPrefix(s, "PT")
	var total time.Duration
	for _, unit := range []struct {
		suffix string
		d      time.Duration
	}{{"H", time.Hour}, {"M", time.Minute}, {"S", time.Second}} {
		idx := strings.Index(s, unit.suffix)
		if idx < 0 {
			continue
		}
		val, err := strconv.ParseFloat(s[:idx], 64)
		if err != nil {
			return 0, fmt.Errorf("bad finish time %q: %w", orig, err)
		}
		total += time.Duration(val * float64(unit.d))
		s = s[idx+1:]
	}
	if s != "" {
		return 0, fmt.Errorf("bad finish time %q", orig)
	}
	return total, nil
}
