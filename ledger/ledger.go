// Package ledger persists the lifecycle of tournament races. Each race room
// opened for an episode gets one row in race_records, advanced through its
// statuses by the orchestrator and finally either recorded to the results
// sheet or deleted when the room is cancelled.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Race lifecycle statuses. CANCELLED is not stored: a cancelled room's record
// is deleted outright so the episode can be re-opened.
const (
	StatusCreated  = "CREATED"
	StatusRolled   = "ROLLED"
	StatusStarted  = "STARTED"
	StatusFinished = "FINISHED"
	StatusRecorded = "RECORDED"
)

// ErrDuplicateActiveRace indicates a second non-terminal record was attempted
// for an episode that already has one. The partial unique index on
// race_records(episode_id) is the real guard; in-memory checks are advisory.
var ErrDuplicateActiveRace = errors.New("an active race already exists for this episode")

// Record is one persisted race lifecycle row.
type Record struct {
	ID        int64
	RoomID    string
	EpisodeID int64
	Event     string
	Permalink sql.NullString
	Spoiler   sql.NullString
	Status    string
	CreatedAt time.Time
	UpdatedAt sql.NullTime
}

// Store provides access to race_records.
type Store struct {
	DB *sql.DB
}

const recordColumns = `id, room_id, episode_id, event, permalink, spoiler, status, created_at, updated_at`

func scanRecord(row interface{ Scan(...any) error }) (*Record, error) {
	var rec Record
	if err := row.Scan(&rec.ID, &rec.RoomID, &rec.EpisodeID, &rec.Event, &rec.Permalink, &rec.Spoiler, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Insert creates a new race record in CREATED status. The partial unique index
// rejects a second non-terminal row for the same episode; that collision is
// surfaced as ErrDuplicateActiveRace.
func (s *Store) Insert(ctx context.Context, roomID string, episodeID int64, event string) (*Record, error) {
	row := s.DB.QueryRowContext(ctx,
		`INSERT INTO race_records (room_id, episode_id, event, status, created_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 RETURNING `+recordColumns,
		roomID, episodeID, event, StatusCreated)
	rec, err := scanRecord(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateActiveRace
		}
		return nil, fmt.Errorf("insert race record: %w", err)
	}
	return rec, nil
}

// ActiveByRoom returns the non-terminal record for a race room, or nil if none exists.
func (s *Store) ActiveByRoom(ctx context.Context, roomID string) (*Record, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM race_records WHERE room_id=$1 AND status <> $2`,
		roomID, StatusRecorded)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active race by room: %w", err)
	}
	return rec, nil
}

// ActiveByEpisode returns the non-terminal record for an episode, or nil if none exists.
func (s *Store) ActiveByEpisode(ctx context.Context, episodeID int64) (*Record, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM race_records WHERE episode_id=$1 AND status <> $2`,
		episodeID, StatusRecorded)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active race by episode: %w", err)
	}
	return rec, nil
}

// SetStatus advances a race record to the given status.
func (s *Store) SetStatus(ctx context.Context, roomID, status string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE race_records SET status=$1, updated_at=NOW() WHERE room_id=$2`, status, roomID)
	if err != nil {
		return fmt.Errorf("set race status: %w", err)
	}
	return nil
}

// SetRolled records the generated seed permalink and moves the record to ROLLED.
func (s *Store) SetRolled(ctx context.Context, roomID, permalink string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE race_records SET permalink=$1, status=$2, updated_at=NOW() WHERE room_id=$3`,
		permalink, StatusRolled, roomID)
	if err != nil {
		return fmt.Errorf("set race rolled: %w", err)
	}
	return nil
}

// SetSpoiler stores a spoiler log reference for later publication.
func (s *Store) SetSpoiler(ctx context.Context, roomID, spoiler string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE race_records SET spoiler=$1, updated_at=NOW() WHERE room_id=$2`, spoiler, roomID)
	if err != nil {
		return fmt.Errorf("set race spoiler: %w", err)
	}
	return nil
}

// Delete removes every row for a race room, including duplicate legacy rows.
// Used when the room was cancelled so the episode can be opened again.
func (s *Store) Delete(ctx context.Context, roomID string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM race_records WHERE room_id=$1`, roomID)
	if err != nil {
		return fmt.Errorf("delete race record: %w", err)
	}
	return nil
}

// ListUnrecorded returns all records that have not reached RECORDED, oldest first.
// The result sweep polls each one against the race-coordination service.
func (s *Store) ListUnrecorded(ctx context.Context) ([]*Record, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM race_records WHERE status <> $1 ORDER BY created_at ASC`,
		StatusRecorded)
	if err != nil {
		return nil, fmt.Errorf("list unrecorded races: %w", err)
	}
	defer rows.Close()
	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan race record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// IsActiveRace reports whether a room id belongs to a live tournament race.
func (s *Store) IsActiveRace(ctx context.Context, roomID string) (bool, error) {
	rec, err := s.ActiveByRoom(ctx, roomID)
	if err != nil {
		return false, err
	}
	return rec != nil, nil
}

// isUniqueViolation matches Postgres unique constraint errors without taking a
// driver dependency on pgconn here.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "23505") || strings.Contains(msg, "duplicate key")
}
