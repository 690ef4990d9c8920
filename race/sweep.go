package race

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/onnwee/race-tender/ledger"
	"github.com/onnwee/race-tender/racetime"
	"github.com/onnwee/race-tender/telemetry"
)

// SweepOnce reconciles every unrecorded race against its live room status.
// Finished races get a result row appended and move to RECORDED; cancelled
// races have their records deleted; everything else is left for the next
// pass. A failure on one record never blocks the rest.
func (o *Orchestrator) SweepOnce(ctx context.Context) error {
	start := time.Now()
	records, err := o.Ledger.ListUnrecorded(ctx)
	if err != nil {
		return fmt.Errorf("list unrecorded races: %w", err)
	}
	telemetry.UnrecordedRaces.Set(float64(len(records)))

	for _, rec := range records {
		if err := o.sweepRecord(ctx, rec); err != nil {
			telemetry.SweepFailures.Inc()
			slog.Error("sweep record failed",
				slog.String("component", "result_sweep"),
				slog.String("room_id", rec.RoomID),
				slog.Int64("episode_id", rec.EpisodeID),
				slog.Any("err", err))
		}
	}
	telemetry.SweepDuration.Observe(time.Since(start).Seconds())
	return nil
}

func (o *Orchestrator) sweepRecord(ctx context.Context, rec *ledger.Record) error {
	data, err := o.Racetime.RoomStatus(ctx, rec.RoomID)
	if err != nil {
		return fmt.Errorf("poll room: %w", err)
	}

	switch data.Status.Value {
	case racetime.StatusCancelled:
		slog.Info("race cancelled, deleting record",
			slog.String("component", "result_sweep"), slog.String("room_id", rec.RoomID))
		return o.Ledger.Delete(ctx, rec.RoomID)
	case racetime.StatusFinished:
		row, err := buildResultRow(rec, data)
		if err != nil {
			return err
		}
		if err := o.Results.AppendResult(ctx, row); err != nil {
			return fmt.Errorf("append result row: %w", err)
		}
		if err := o.Ledger.SetStatus(ctx, rec.RoomID, ledger.StatusRecorded); err != nil {
			return err
		}
		telemetry.RacesRecorded.Inc()
		slog.Info("race recorded",
			slog.String("component", "result_sweep"), slog.String("room_id", rec.RoomID))
		return nil
	default:
		return nil
	}
}

// buildResultRow shapes one finished race into a spreadsheet row: episode,
// event, room, first and second place with finish times, and the start time.
func buildResultRow(rec *ledger.Record, data *racetime.RoomData) ([]interface{}, error) {
	first := entrantAtPlace(data.Entrants, 1)
	if first == nil {
		return nil, fmt.Errorf("room %s finished with no first place entrant", rec.RoomID)
	}
	second := entrantAtPlace(data.Entrants, 2)

	secondName, secondTime := "", ""
	if second != nil {
		secondName = second.User.Name
		secondTime = formatFinishTime(second.FinishTime)
	}
	return []interface{}{
		rec.EpisodeID,
		rec.Event,
		rec.RoomID,
		first.User.Name,
		formatFinishTime(first.FinishTime),
		secondName,
		secondTime,
		data.StartedAt,
	}, nil
}

func entrantAtPlace(entrants []racetime.Entrant, place int) *racetime.Entrant {
	for i := range entrants {
		if entrants[i].Place == place {
			return &entrants[i]
		}
	}
	return nil
}

func formatFinishTime(iso string) string {
	d, err := racetime.ParseFinishTime(iso)
	if err != nil {
		return iso
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	s := (d % time.Minute) / time.Second
	return fmt.Sprintf("%d:%02d:%02d", h, m, s)
}

// StartResultSweepJob runs SweepOnce on an interval until ctx is cancelled.
// The first pass runs immediately. Each pass writes a heartbeat row so
// operators can see the job is alive.
func StartResultSweepJob(ctx context.Context, o *Orchestrator) {
	interval := 60 * time.Second
	if v := os.Getenv("RESULT_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			interval = d
		}
	}
	slog.Info("result sweep job starting", slog.String("component", "result_sweep"), slog.Duration("interval", interval))

	run := func() {
		o.heartbeat(ctx)
		if err := o.SweepOnce(ctx); err != nil {
			slog.Error("result sweep failed", slog.String("component", "result_sweep"), slog.Any("err", err))
		}
	}

	run()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("result sweep job stopping", slog.String("component", "result_sweep"))
			return
		case <-ticker.C:
			run()
		}
	}
}

func (o *Orchestrator) heartbeat(ctx context.Context) {
	_, err := o.Ledger.DB.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES ('result_sweep_heartbeat', $1, NOW())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		slog.Warn("heartbeat write failed", slog.String("component", "result_sweep"), slog.Any("err", err))
	}
}
