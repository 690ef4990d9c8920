// Package session aggregates one scheduled match into something the
// orchestrator can act on: a fresh episode snapshot, the event's tournament
// configuration, fully resolved participants, and any pre-submitted bracket
// settings. Sessions are built per orchestration pass and never cached; the
// schedule can change between invocations.
package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/onnwee/race-tender/identity"
	"github.com/onnwee/race-tender/randomizer"
	"github.com/onnwee/race-tender/registry"
	"github.com/onnwee/race-tender/schedule"
)

// ConfigError marks a configuration problem (unrecognized game mode) that must
// surface to the caller rather than being silently defaulted.
type ConfigError struct {
	Mode string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid match title %q, must be Open or Standard; please contact a tournament admin for help", e.Mode)
}

// presetForMode is the pure mapping from a match's game-mode label to the
// randomizer preset rolled for it. Unknown labels are configuration errors.
func presetForMode(mode string) (string, error) {
	switch mode {
	case "Open":
		return "open", nil
	case "Standard":
		return "standard", nil
	default:
		return "", &ConfigError{Mode: mode}
	}
}

// BracketSettings are pre-submitted randomizer settings for a specific match.
type BracketSettings struct {
	EpisodeID  int64
	Event      string
	GameNumber int
	Settings   json.RawMessage
}

// Builder constructs sessions from collaborator clients.
type Builder struct {
	DB         *sql.DB
	Schedule   *schedule.Client
	Registry   *registry.Registry
	Resolver   *identity.Resolver
	Randomizer *randomizer.Client
}

// Session is one scheduled match, resolved and ready to orchestrate.
type Session struct {
	Episode    *schedule.Episode
	Tournament *registry.TournamentConfig
	Players    []*identity.Participant
	Bracket    *BracketSettings // nil when no settings were submitted

	randomizer *randomizer.Client
}

// Build fetches the episode, loads its tournament, and resolves every
// participant. Any unresolvable participant aborts construction; no partial
// sessions exist.
func (b *Builder) Build(ctx context.Context, episodeID int64) (*Session, error) {
	ep, err := b.Schedule.GetEpisode(ctx, episodeID)
	if err != nil {
		return nil, fmt.Errorf("fetch episode %d: %w", episodeID, err)
	}

	cfg, err := b.Registry.Load(ctx, ep.Event.Slug)
	if err != nil {
		return nil, err
	}

	players := make([]*identity.Participant, 0, len(ep.Match1.Players))
	for _, stub := range ep.Match1.Players {
		p, err := b.Resolver.Resolve(ctx, cfg.GuildID, stub)
		if err != nil {
			return nil, err
		}
		players = append(players, p)
	}

	bracket, err := b.loadBracketSettings(ctx, episodeID)
	if err != nil {
		return nil, err
	}

	return &Session{
		Episode:    ep,
		Tournament: cfg,
		Players:    players,
		Bracket:    bracket,
		randomizer: b.Randomizer,
	}, nil
}

func (b *Builder) loadBracketSettings(ctx context.Context, episodeID int64) (*BracketSettings, error) {
	row := b.DB.QueryRowContext(ctx,
		`SELECT episode_id, COALESCE(event,''), COALESCE(game_number,0), COALESCE(settings,'null'::jsonb)
		 FROM bracket_settings WHERE episode_id=$1 AND submitted`, episodeID)
	var bs BracketSettings
	var raw []byte
	err := row.Scan(&bs.EpisodeID, &bs.Event, &bs.GameNumber, &raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load bracket settings: %w", err)
	}
	bs.Settings = json.RawMessage(raw)
	return &bs, nil
}

// EventName is the tournament's presentation name.
func (s *Session) EventName() string { return s.Episode.Event.ShortName }

// EventSlug identifies the tournament.
func (s *Session) EventSlug() string { return s.Episode.Event.Slug }

// FriendlyName is the match title, which doubles as the game-mode label.
func (s *Session) FriendlyName() string { return s.Episode.Match1.Title }

// PlayerNames lists resolved display names in roster order.
func (s *Session) PlayerNames() []string {
	names := make([]string, 0, len(s.Players))
	for _, p := range s.Players {
		names = append(names, p.Name)
	}
	return names
}

// Versus is the presentation line for the matchup.
func (s *Session) Versus() string {
	return strings.Join(s.PlayerNames(), " vs. ")
}

// RaceInfo is the public goal line pushed into the race room.
func (s *Session) RaceInfo() string {
	return fmt.Sprintf("%s - %s - %s", s.EventName(), s.Versus(), s.FriendlyName())
}

// RacetimeIDs lists the race-coordination identities that can be invited.
func (s *Session) RacetimeIDs() []string {
	ids := make([]string, 0, len(s.Players))
	for _, p := range s.Players {
		if p.CanInvite() {
			ids = append(ids, p.RacetimeID)
		}
	}
	return ids
}

// BroadcastChannels filters the episode's channel list down to real broadcast
// channels. Names containing whitespace are placeholders, not channels.
func (s *Session) BroadcastChannels() []string {
	out := make([]string, 0, len(s.Episode.Channels))
	for _, ch := range s.Episode.Channels {
		if ch.Name != "" && !strings.Contains(ch.Name, " ") {
			out = append(out, ch.Name)
		}
	}
	return out
}

// Roll generates the seed for this match. The match title selects the preset;
// anything but the two recognized labels is a configuration error surfaced to
// the caller.
func (s *Session) Roll(ctx context.Context) (*randomizer.SeedDescriptor, error) {
	preset, err := presetForMode(s.FriendlyName())
	if err != nil {
		return nil, err
	}
	seed, err := s.randomizer.GetPreset(ctx, preset, randomizer.PresetOptions{
		NoHints:        true,
		AllowQuickswap: true,
	})
	if err != nil {
		return nil, fmt.Errorf("roll preset %q: %w", preset, err)
	}
	return seed, nil
}
