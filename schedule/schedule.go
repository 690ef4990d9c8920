// Package schedule contains a minimal client for the tournament scheduling
// service, used to look up episodes (scheduled matches) and their rosters.
// Episodes are fetched fresh for every orchestration pass; schedules can change
// between invocations, so nothing here is cached.
package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// PlayerStub is the loosely structured identity the scheduling service keeps
// for a roster member. Either id may be empty.
type PlayerStub struct {
	DisplayName string `json:"displayName"`
	DiscordID   string `json:"discordId"`
	DiscordTag  string `json:"discordTag"`
}

// CrewStub is a commentator, tracker, or broadcaster assignment.
type CrewStub struct {
	DisplayName string `json:"displayName"`
	DiscordID   string `json:"discordId"`
	DiscordTag  string `json:"discordTag"`
	Approved    bool   `json:"approved"`
}

// Channel is a broadcast channel assignment. Names containing whitespace are
// placeholders ("To Be Determined"), not real channels.
type Channel struct {
	Name string `json:"name"`
}

// Event identifies the tournament an episode belongs to.
type Event struct {
	Slug      string `json:"slug"`
	ShortName string `json:"shortName"`
}

// Match carries the title (used as the game-mode label) and the roster.
type Match struct {
	Title   string       `json:"title"`
	Players []PlayerStub `json:"players"`
}

// Episode is an immutable snapshot of one scheduled match.
type Episode struct {
	ID           int64      `json:"id"`
	Event        Event      `json:"event"`
	Match1       Match      `json:"match1"`
	Channels     []Channel  `json:"channels"`
	Commentators []CrewStub `json:"commentators"`
	Trackers     []CrewStub `json:"trackers"`
	Broadcasters []CrewStub `json:"broadcasters"`
}

// Client talks to the scheduling service.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// GetEpisode fetches one episode by id. A missing episode is a hard error; the
// orchestrator cannot build a session without roster data.
func (c *Client) GetEpisode(ctx context.Context, episodeID int64) (*Episode, error) {
	if episodeID <= 0 {
		return nil, fmt.Errorf("episode id empty")
	}
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/episode", nil)
	q := req.URL.Query()
	q.Set("id", fmt.Sprintf("%d", episodeID))
	req.URL.RawQuery = q.Encode()
	resp, err := c.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("episode %d not found", episodeID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("schedule service status %d", resp.StatusCode)
	}
	var ep Episode
	if err := json.NewDecoder(resp.Body).Decode(&ep); err != nil {
		return nil, err
	}
	if ep.ID == 0 {
		return nil, fmt.Errorf("episode %d not found", episodeID)
	}
	return &ep, nil
}

// ApprovedCrew filters a crew list down to approved assignments.
func ApprovedCrew(crew []CrewStub) []CrewStub {
	out := make([]CrewStub, 0, len(crew))
	for _, c := range crew {
		if c.Approved {
			out = append(out, c)
		}
	}
	return out
}
