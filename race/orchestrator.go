// Package race drives the tournament race lifecycle: create or reconcile the
// race room, roll the seed, notify players, track the start, and record
// results. Every step is idempotent and reconciles against the live room
// status, which can change at any time outside this service's control.
package race

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/race-tender/ledger"
	"github.com/onnwee/race-tender/racetime"
	"github.com/onnwee/race-tender/session"
	"github.com/onnwee/race-tender/telemetry"
)

// ResultSink receives one finished race as a spreadsheet row.
type ResultSink interface {
	AppendResult(ctx context.Context, row []interface{}) error
}

// RestreamAnnouncer posts a message to the chat of each broadcast channel.
type RestreamAnnouncer interface {
	Announce(ctx context.Context, channels []string, message string) error
}

// Orchestrator owns the race lifecycle state machine. Collaborators are
// injected; their lifecycles belong to the process entry point.
type Orchestrator struct {
	Ledger   *ledger.Store
	Sessions *session.Builder
	Racetime *racetime.Client
	Notifier *Notifier
	Results  ResultSink

	// Announcer is optional; nil disables restream announcements.
	Announcer RestreamAnnouncer

	// Serializes triggers per episode. The partial unique index on
	// race_records is the real guard; this only avoids wasted API calls.
	mu          sync.Mutex
	episodeLock map[int64]*sync.Mutex
}

func (o *Orchestrator) lockEpisode(episodeID int64) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.episodeLock == nil {
		o.episodeLock = make(map[int64]*sync.Mutex)
	}
	l, ok := o.episodeLock[episodeID]
	if !ok {
		l = &sync.Mutex{}
		o.episodeLock[episodeID] = l
	}
	return l
}

const (
	roomGreeting = "Welcome. Use !tournamentrace (without any arguments) to roll your seed! " +
		"This should be done about 5 minutes prior to the start of your race. " +
		"If you need help, ping the mods in the tournament Discord."
	rollPendingMessage = "Generating game, please wait. If nothing happens after a minute, contact a tournament moderator."
	rollDoneMessage    = "Seed has been generated, you should have received a DM in Discord. " +
		"Please contact a tournament moderator if you haven't received the DM."
)

// OpenRoom creates a race room for an episode, or returns the existing one.
//
// Reconciliation: if a non-terminal record exists, the live room status
// decides. A cancelled room's record is deleted and a fresh room is created;
// anything else is an idempotent no-op returning the existing room. Session
// construction happens before any room is touched, so a broken roster never
// leaves a partial room behind.
func (o *Orchestrator) OpenRoom(ctx context.Context, episodeID int64) (string, bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "race", "OpenRoom",
		attribute.Int64("episode_id", episodeID))
	defer span.End()

	lock := o.lockEpisode(episodeID)
	lock.Lock()
	defer lock.Unlock()

	logger := slog.Default().With(slog.Int64("episode_id", episodeID), slog.String("component", "race_orchestrator"))

	existing, err := o.Ledger.ActiveByEpisode(ctx, episodeID)
	if err != nil {
		return "", false, err
	}
	if existing != nil {
		data, err := o.Racetime.RoomStatus(ctx, existing.RoomID)
		if err != nil {
			return "", false, fmt.Errorf("poll room %s: %w", existing.RoomID, err)
		}
		if data.Status.Value != racetime.StatusCancelled {
			logger.Info("room already open", slog.String("room_id", existing.RoomID))
			return existing.RoomID, false, nil
		}
		logger.Info("stale cancelled room, recreating", slog.String("room_id", existing.RoomID))
		if err := o.Ledger.Delete(ctx, existing.RoomID); err != nil {
			return "", false, err
		}
	}

	sess, err := o.Sessions.Build(ctx, episodeID)
	if err != nil {
		return "", false, err
	}

	roomID, err := o.Racetime.StartRace(ctx, racetime.StartRacePolicy{
		Goal:                "Beat the game",
		Info:                fmt.Sprintf("%s - %s", sess.EventName(), sess.Versus()),
		Invitational:        true,
		Unlisted:            true,
		StartDelay:          15,
		TimeLimit:           24,
		StreamingRequired:   true,
		AutoStart:           true,
		AllowComments:       true,
		HideComments:        true,
		AllowPreraceChat:    true,
		AllowMidraceChat:    true,
		AllowNonEntrantChat: false,
		ChatMessageDelay:    0,
	})
	if err != nil {
		return "", false, fmt.Errorf("start race room: %w", err)
	}

	if _, err := o.Ledger.Insert(ctx, roomID, episodeID, sess.EventSlug()); err != nil {
		return "", false, err
	}
	telemetry.RoomsOpened.Inc()
	logger.Info("race room opened", slog.String("room_id", roomID), slog.String("event", sess.EventSlug()))

	for _, racetimeID := range sess.RacetimeIDs() {
		if err := o.Racetime.Invite(ctx, roomID, racetimeID); err != nil {
			logger.Warn("room invite failed", slog.String("racetime_id", racetimeID), slog.Any("err", err))
		}
	}

	notice := fmt.Sprintf(
		"Race Room Opened - %s\nGreetings! A race room has been automatically opened for you.\nYou may access it at %s\n\nEnjoy!",
		sess.Versus(), o.Racetime.RoomURL(roomID))
	o.Notifier.NotifyAll(ctx, sess.Tournament, sess.Players, notice)

	if err := o.Racetime.SendMessage(ctx, roomID, roomGreeting); err != nil {
		logger.Warn("room greeting failed", slog.Any("err", err))
	}

	return roomID, true, nil
}

// RollSeed generates the seed for a race and publishes it: public race info in
// the room, DMs to every player (audit escalation on failure), and a redacted
// commentary announcement when the race is being broadcast. The episode id is
// a fallback for rooms that have no record yet.
func (o *Orchestrator) RollSeed(ctx context.Context, roomID string, episodeID int64) error {
	if roomID == "" {
		return fmt.Errorf("room id empty")
	}
	ctx, span := telemetry.StartSpan(ctx, "race", "RollSeed",
		attribute.String("room_id", roomID))
	defer span.End()
	start := time.Now()

	rec, err := o.Ledger.ActiveByRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if rec != nil {
		episodeID = rec.EpisodeID
	}
	if episodeID == 0 {
		return fmt.Errorf("no active race for room %s; provide an episode id", roomID)
	}

	logger := slog.Default().With(slog.String("room_id", roomID), slog.Int64("episode_id", episodeID), slog.String("component", "race_orchestrator"))

	if err := o.Racetime.SendMessage(ctx, roomID, rollPendingMessage); err != nil {
		logger.Warn("room message failed", slog.Any("err", err))
	}

	sess, err := o.Sessions.Build(ctx, episodeID)
	if err != nil {
		return err
	}

	// A ConfigError here propagates before any record mutation.
	seed, err := sess.Roll(ctx)
	if err != nil {
		return err
	}

	goal := fmt.Sprintf("%s - (%s)", sess.RaceInfo(), seed.FileSelectCode())
	broadcasts := sess.BroadcastChannels()
	if len(broadcasts) > 0 {
		goal += " - Restream(s) at " + strings.Join(broadcasts, ", ")
	}
	if err := o.Racetime.SetInfo(ctx, roomID, goal, true); err != nil {
		return fmt.Errorf("set race info: %w", err)
	}

	seedNotice := fmt.Sprintf("%s\n%s\nPermalink: %s\nFile select code: %s",
		sess.RaceInfo(), sess.Versus(), seed.URL, seed.FileSelectCode())
	o.Notifier.NotifySeed(ctx, sess.Tournament, sess.Players, seedNotice)

	// Commentary gets a spoiler-free announcement, and only when the race is
	// actually being broadcast.
	if len(broadcasts) > 0 && sess.Tournament.CommentaryChannelID != "" {
		redacted := fmt.Sprintf("%s\nFile select code: %s\nRestream(s) at %s",
			sess.RaceInfo(), seed.FileSelectCode(), strings.Join(broadcasts, ", "))
		if err := o.Notifier.Discord.Post(ctx, sess.Tournament.CommentaryChannelID, redacted); err != nil {
			logger.Warn("commentary post failed", slog.Any("err", err))
		}
	}

	if o.Announcer != nil && len(broadcasts) > 0 {
		announcement := fmt.Sprintf("Up next: %s (%s). Race room: %s", sess.Versus(), sess.EventName(), o.Racetime.RoomURL(roomID))
		if err := o.Announcer.Announce(ctx, broadcasts, announcement); err != nil {
			logger.Warn("restream announcement failed", slog.Any("err", err))
		}
	}

	if rec == nil {
		if _, err := o.Ledger.Insert(ctx, roomID, episodeID, sess.EventSlug()); err != nil {
			return err
		}
	}
	if err := o.Ledger.SetRolled(ctx, roomID, seed.URL); err != nil {
		return err
	}
	telemetry.SeedsRolled.Inc()
	telemetry.SeedRollDuration.Observe(time.Since(start).Seconds())
	logger.Info("seed rolled", slog.String("permalink", seed.URL))

	if err := o.Racetime.SendMessage(ctx, roomID, rollDoneMessage); err != nil {
		logger.Warn("room message failed", slog.Any("err", err))
	}
	return nil
}

// MarkStarted records that the room's race went live. Unknown rooms are not
// tournament races and are ignored.
func (o *Orchestrator) MarkStarted(ctx context.Context, roomID string) error {
	rec, err := o.Ledger.ActiveByRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}
	if err := o.Ledger.SetStatus(ctx, roomID, ledger.StatusStarted); err != nil {
		return err
	}
	telemetry.RacesStarted.Inc()
	slog.Info("race started", slog.String("room_id", roomID), slog.String("component", "race_orchestrator"))
	return nil
}
