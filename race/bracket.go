package race

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// ErrSettingsSubmitted marks a repeat bracket submission for an episode.
var ErrSettingsSubmitted = errors.New("bracket settings were already submitted")

// SubmitBracketSettings records the settings a player picked for a bracket
// game. Submission is first-write-wins per episode; a second submission for
// the same episode is rejected so players cannot change settings after the
// fact.
func (o *Orchestrator) SubmitBracketSettings(ctx context.Context, episodeID int64, gameNumber int, settings json.RawMessage) error {
	sess, err := o.Sessions.Build(ctx, episodeID)
	if err != nil {
		return err
	}

	res, err := o.Ledger.DB.ExecContext(ctx,
		`INSERT INTO bracket_settings (episode_id, event, game_number, settings, submitted)
		 VALUES ($1, $2, $3, $4, TRUE)
		 ON CONFLICT (episode_id) DO NOTHING`,
		episodeID, sess.EventSlug(), gameNumber, []byte(settings))
	if err != nil {
		return fmt.Errorf("store bracket settings: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("episode %d: %w", episodeID, ErrSettingsSubmitted)
	}

	slog.Info("bracket settings submitted",
		slog.String("component", "race_orchestrator"),
		slog.Int64("episode_id", episodeID),
		slog.Int("game_number", gameNumber))

	if sess.Tournament.AuditChannelID != "" {
		msg := fmt.Sprintf("Bracket settings submitted for %s (game %d): %s",
			sess.Versus(), gameNumber, string(settings))
		if err := o.Notifier.Discord.Post(ctx, sess.Tournament.AuditChannelID, msg); err != nil {
			slog.Warn("audit post failed", slog.String("component", "race_orchestrator"), slog.Any("err", err))
		}
	}
	return nil
}
