// Package discordapi contains minimal helpers to interact with the Discord
// REST API for guild member lookup, role inspection, and message delivery.
// Direct messages can fail for reachable-looking users (privacy settings), so
// callers must treat DM delivery as best-effort.
package discordapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// User is the platform identity behind a member.
type User struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name"`
}

// Member is a guild member with its role ids.
type Member struct {
	User  User     `json:"user"`
	Nick  string   `json:"nick"`
	Roles []string `json:"roles"`
}

// Role is a guild role.
type Role struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Client talks to the Discord REST API with a bot token.
type Client struct {
	BaseURL    string
	BotToken   string
	HTTPClient *http.Client
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bot "+c.BotToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.http().Do(req)
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		slog.Warn("failed to close response body", slog.Any("err", err))
	}
}

// GuildMember fetches a member by user id. Returns nil (no error) when the
// user is not in the guild.
func (c *Client) GuildMember(ctx context.Context, guildID, userID string) (*Member, error) {
	if guildID == "" || userID == "" {
		return nil, fmt.Errorf("guild or user id empty")
	}
	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/guilds/%s/members/%s", guildID, userID), nil)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("guild member status %d", resp.StatusCode)
	}
	var m Member
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

// SearchGuildMember looks a member up by handle (username, global name, or
// nick). Returns nil (no error) when nothing matches exactly.
func (c *Client) SearchGuildMember(ctx context.Context, guildID, handle string) (*Member, error) {
	if guildID == "" || handle == "" {
		return nil, fmt.Errorf("guild id or handle empty")
	}
	// Discord tags may carry a legacy discriminator suffix; search on the bare name.
	query := handle
	if i := strings.Index(query, "#"); i > 0 {
		query = query[:i]
	}
	path := fmt.Sprintf("/guilds/%s/members/search?query=%s&limit=10", guildID, url.QueryEscape(query))
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("member search status %d", resp.StatusCode)
	}
	var members []Member
	if err := json.NewDecoder(resp.Body).Decode(&members); err != nil {
		return nil, err
	}
	for i := range members {
		m := &members[i]
		if strings.EqualFold(m.User.Username, query) || strings.EqualFold(m.User.GlobalName, query) || strings.EqualFold(m.Nick, query) {
			return m, nil
		}
	}
	return nil, nil
}

// GuildRoles lists the guild's roles, needed to translate member role ids into names.
func (c *Client) GuildRoles(ctx context.Context, guildID string) ([]Role, error) {
	if guildID == "" {
		return nil, fmt.Errorf("guild id empty")
	}
	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/guilds/%s/roles", guildID), nil)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("guild roles status %d", resp.StatusCode)
	}
	var roles []Role
	if err := json.NewDecoder(resp.Body).Decode(&roles); err != nil {
		return nil, err
	}
	return roles, nil
}

// Post sends a message to a channel. Best-effort surface; callers log failures.
func (c *Client) Post(ctx context.Context, channelID, content string) error {
	if channelID == "" {
		return fmt.Errorf("channel id empty")
	}
	resp, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/channels/%s/messages", channelID), map[string]string{"content": content})
	if err != nil {
		return err
	}
	defer closeBody(resp)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("channel post status %d", resp.StatusCode)
	}
	return nil
}

// DirectMessage opens (or reuses) a DM channel with the user and delivers the
// content. Fails when the user is unreachable (left the guild, DMs closed).
func (c *Client) DirectMessage(ctx context.Context, userID, content string) error {
	if userID == "" {
		return fmt.Errorf("user id empty")
	}
	resp, err := c.do(ctx, http.MethodPost, "/users/@me/channels", map[string]string{"recipient_id": userID})
	if err != nil {
		return err
	}
	var ch struct {
		ID string `json:"id"`
	}
	decodeErr := json.NewDecoder(resp.Body).Decode(&ch)
	closeBody(resp)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("open dm status %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return decodeErr
	}
	if ch.ID == "" {
		return fmt.Errorf("open dm: empty channel id")
	}
	return c.Post(ctx, ch.ID, content)
}
