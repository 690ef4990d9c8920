package race

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/onnwee/race-tender/discordapi"
	"github.com/onnwee/race-tender/identity"
	"github.com/onnwee/race-tender/registry"
	"github.com/onnwee/race-tender/telemetry"
)

// DeliveryResult reports one direct-message attempt. Delivery failures never
// abort the race flow; they surface here and in the audit channel.
type DeliveryResult struct {
	Name string
	Err  error
}

// Notifier delivers per-player direct messages and escalates failures to the
// tournament's audit channel so a human can relay the message.
type Notifier struct {
	Discord *discordapi.Client
}

// NotifyAll DMs content to every player. Failures are logged, counted, and
// escalated; the returned slice has one entry per player in order.
func (n *Notifier) NotifyAll(ctx context.Context, cfg *registry.TournamentConfig, players []*identity.Participant, content string) []DeliveryResult {
	results := make([]DeliveryResult, 0, len(players))
	for _, p := range players {
		err := n.Discord.DirectMessage(ctx, p.DiscordID, content)
		if err != nil {
			n.escalate(ctx, cfg, p, err)
		}
		results = append(results, DeliveryResult{Name: p.Name, Err: err})
	}
	return results
}

// NotifySeed is NotifyAll plus an audit-channel copy of the seed, so
// moderators can hand it to a player whose DMs are closed.
func (n *Notifier) NotifySeed(ctx context.Context, cfg *registry.TournamentConfig, players []*identity.Participant, content string) []DeliveryResult {
	if cfg.AuditChannelID != "" {
		if err := n.Discord.Post(ctx, cfg.AuditChannelID, content); err != nil {
			slog.Warn("audit seed post failed", slog.String("component", "race_notifier"), slog.Any("err", err))
		}
	}
	return n.NotifyAll(ctx, cfg, players, content)
}

func (n *Notifier) escalate(ctx context.Context, cfg *registry.TournamentConfig, p *identity.Participant, cause error) {
	telemetry.DMFailures.Inc()
	slog.Warn("direct message failed",
		slog.String("component", "race_notifier"),
		slog.String("player", p.Name),
		slog.Any("err", cause))
	if cfg.AuditChannelID == "" {
		return
	}
	msg := fmt.Sprintf("@here Could not send DM to %s. Their DMs may be closed or they may have blocked the bot.", p.Name)
	if err := n.Discord.Post(ctx, cfg.AuditChannelID, msg); err != nil {
		slog.Warn("audit escalation failed", slog.String("component", "race_notifier"), slog.Any("err", err))
	}
}
