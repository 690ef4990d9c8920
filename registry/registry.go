// Package registry exposes per-event tournament configuration: the messaging
// channels used for audit/commentary/moderation, the community scope, the
// race-coordination category, and role-based gatekeeper permissions.
// Configuration is read-only during orchestration.
package registry

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/onnwee/race-tender/discordapi"
)

// TournamentConfig is one event's static configuration row.
type TournamentConfig struct {
	Slug                     string
	GuildID                  string
	AuditChannelID           string
	CommentaryChannelID      string
	ModChannelID             string
	SchedulingNeedsChannelID string
	HelperRoles              string // comma-delimited role names
	Category                 string // race-coordination category bound to the event
	Active                   bool
}

// HelperRoleNames splits the comma-delimited gatekeeper role list.
func (c *TournamentConfig) HelperRoleNames() []string {
	if c.HelperRoles == "" {
		return nil
	}
	parts := strings.Split(c.HelperRoles, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Registry looks up tournament configuration and answers gatekeeper checks.
type Registry struct {
	DB      *sql.DB
	Discord *discordapi.Client
}

// Load fetches the configuration for an event slug. An unknown slug is a hard
// error; no session can be constructed without its tournament.
func (r *Registry) Load(ctx context.Context, slug string) (*TournamentConfig, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT slug, guild_id, COALESCE(audit_channel_id,''), COALESCE(commentary_channel_id,''),
		        COALESCE(mod_channel_id,''), COALESCE(scheduling_needs_channel_id,''),
		        COALESCE(helper_roles,''), COALESCE(category,''), COALESCE(active,TRUE)
		 FROM tournaments WHERE slug=$1`, slug)
	var cfg TournamentConfig
	err := row.Scan(&cfg.Slug, &cfg.GuildID, &cfg.AuditChannelID, &cfg.CommentaryChannelID,
		&cfg.ModChannelID, &cfg.SchedulingNeedsChannelID, &cfg.HelperRoles, &cfg.Category, &cfg.Active)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("unknown tournament event %q", slug)
	}
	if err != nil {
		return nil, fmt.Errorf("load tournament %q: %w", slug, err)
	}
	return &cfg, nil
}

// CanGatekeep reports whether the race-coordination user may moderate rooms
// for this event. It resolves the external identity back to a community
// member and checks role membership against the configured gatekeeper roles.
// Every missing link degrades to false; permission checks never hard-fail.
func (r *Registry) CanGatekeep(ctx context.Context, cfg *TournamentConfig, racetimeUserID string) bool {
	if racetimeUserID == "" || cfg == nil {
		return false
	}
	var discordUserID string
	err := r.DB.QueryRowContext(ctx,
		`SELECT discord_user_id FROM racer_identities WHERE racetime_id=$1`, racetimeUserID).Scan(&discordUserID)
	if err == sql.ErrNoRows {
		return false
	}
	if err != nil {
		slog.Warn("gatekeeper identity lookup failed", slog.String("racetime_id", racetimeUserID), slog.Any("err", err))
		return false
	}

	member, err := r.Discord.GuildMember(ctx, cfg.GuildID, discordUserID)
	if err != nil {
		slog.Warn("gatekeeper member lookup failed", slog.String("user_id", discordUserID), slog.Any("err", err))
		return false
	}
	if member == nil {
		return false
	}

	helperRoles := cfg.HelperRoleNames()
	if len(helperRoles) == 0 {
		return false
	}

	roles, err := r.Discord.GuildRoles(ctx, cfg.GuildID)
	if err != nil {
		slog.Warn("gatekeeper role lookup failed", slog.String("guild_id", cfg.GuildID), slog.Any("err", err))
		return false
	}
	roleNames := make(map[string]string, len(roles))
	for _, role := range roles {
		roleNames[role.ID] = role.Name
	}
	for _, roleID := range member.Roles {
		name := roleNames[roleID]
		for _, helper := range helperRoles {
			if name == helper {
				return true
			}
		}
	}
	return false
}
