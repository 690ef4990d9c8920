// Package identity resolves scheduling-service roster entries to tournament
// participants. Roster data is loosely structured and frequently stale, so
// resolution runs an ordered fallback: platform id first, then the stored
// handle. A roster entry that resolves to nobody is a hard error; tournament
// races must never start with an unidentified player.
package identity

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/onnwee/race-tender/discordapi"
	"github.com/onnwee/race-tender/schedule"
)

// Participant is a fully resolved tournament racer. Immutable after resolution.
type Participant struct {
	DiscordID  string
	Name       string
	RacetimeID string // empty when no race-coordination identity is on file
}

// CanInvite reports whether the participant can be invited into a race room.
func (p *Participant) CanInvite() bool { return p.RacetimeID != "" }

// ResolutionError names the roster entry that could not be resolved. Its
// message is user-facing.
type ResolutionError struct {
	DisplayName string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("unable to look up the player %q, please contact a tournament moderator for assistance", e.DisplayName)
}

// Resolver maps roster entries to participants using the racer_identities
// table and the community member directory.
type Resolver struct {
	DB      *sql.DB
	Discord *discordapi.Client
}

// racetimeIDFor returns the stored race-coordination identity for a community
// member, or ("", false) when no mapping row exists.
func (r *Resolver) racetimeIDFor(ctx context.Context, discordUserID string) (string, bool, error) {
	var racetimeID sql.NullString
	err := r.DB.QueryRowContext(ctx,
		`SELECT racetime_id FROM racer_identities WHERE discord_user_id=$1`, discordUserID).Scan(&racetimeID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("racer identity lookup: %w", err)
	}
	return racetimeID.String, true, nil
}

// Resolve produces exactly one Participant for a roster entry or fails with a
// ResolutionError. Ordered fallback, first success wins:
//  1. platform id → identity mapping → community member
//  2. handle → member directory search → identity mapping (optional)
func (r *Resolver) Resolve(ctx context.Context, guildID string, stub schedule.PlayerStub) (*Participant, error) {
	if stub.DiscordID != "" {
		racetimeID, known, err := r.racetimeIDFor(ctx, stub.DiscordID)
		if err != nil {
			return nil, err
		}
		if known {
			member, err := r.Discord.GuildMember(ctx, guildID, stub.DiscordID)
			if err != nil {
				return nil, fmt.Errorf("member lookup for %s: %w", stub.DiscordID, err)
			}
			if member != nil {
				return &Participant{
					DiscordID:  member.User.ID,
					Name:       memberName(member),
					RacetimeID: racetimeID,
				}, nil
			}
		}
	}

	if stub.DiscordTag != "" {
		member, err := r.Discord.SearchGuildMember(ctx, guildID, stub.DiscordTag)
		if err != nil {
			return nil, fmt.Errorf("member search for %q: %w", stub.DiscordTag, err)
		}
		if member != nil {
			// The mapping may be absent here; the participant just can't be
			// auto-invited to the race room.
			racetimeID, _, err := r.racetimeIDFor(ctx, member.User.ID)
			if err != nil {
				return nil, err
			}
			return &Participant{
				DiscordID:  member.User.ID,
				Name:       memberName(member),
				RacetimeID: racetimeID,
			}, nil
		}
	}

	return nil, &ResolutionError{DisplayName: stub.DisplayName}
}

func memberName(m *discordapi.Member) string {
	if m.Nick != "" {
		return m.Nick
	}
	if m.User.GlobalName != "" {
		return m.User.GlobalName
	}
	return m.User.Username
}
