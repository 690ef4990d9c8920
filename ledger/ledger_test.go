package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/onnwee/race-tender/testutil"
)

func TestIsUniqueViolation(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("ERROR: duplicate key value violates unique constraint \"idx_race_records_active_episode\" (SQLSTATE 23505)"), true},
		{errors.New("connection refused"), false},
	}
	for _, tc := range cases {
		if got := isUniqueViolation(tc.err); got != tc.want {
			t.Errorf("isUniqueViolation(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func setupStore(t *testing.T) *Store {
	t.Helper()
	db := testutil.SetupTestDB(t)
	t.Cleanup(func() {
		_, _ = db.ExecContext(context.Background(), `DELETE FROM race_records WHERE event='ledger-test'`)
	})
	return &Store{DB: db}
}

func TestInsertAndLookup(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	const episode = 910001

	rec, err := s.Insert(ctx, "alttpr/ledger-room-1", episode, "ledger-test")
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if rec.Status != StatusCreated || rec.EpisodeID != episode {
		t.Errorf("record = %+v", rec)
	}

	byRoom, err := s.ActiveByRoom(ctx, "alttpr/ledger-room-1")
	if err != nil {
		t.Fatalf("ActiveByRoom: %v", err)
	}
	if byRoom == nil || byRoom.ID != rec.ID {
		t.Errorf("ActiveByRoom = %+v", byRoom)
	}

	byEpisode, err := s.ActiveByEpisode(ctx, episode)
	if err != nil {
		t.Fatalf("ActiveByEpisode: %v", err)
	}
	if byEpisode == nil || byEpisode.ID != rec.ID {
		t.Errorf("ActiveByEpisode = %+v", byEpisode)
	}

	ok, err := s.IsActiveRace(ctx, "alttpr/ledger-room-1")
	if err != nil || !ok {
		t.Errorf("IsActiveRace = %v, %v", ok, err)
	}
	ok, err = s.IsActiveRace(ctx, "alttpr/no-such-room")
	if err != nil || ok {
		t.Errorf("IsActiveRace(nonexistent) = %v, %v", ok, err)
	}
}

func TestDuplicateActiveEpisodeRejected(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	const episode = 910002

	if _, err := s.Insert(ctx, "alttpr/ledger-room-2a", episode, "ledger-test"); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	_, err := s.Insert(ctx, "alttpr/ledger-room-2b", episode, "ledger-test")
	if !errors.Is(err, ErrDuplicateActiveRace) {
		t.Fatalf("expected ErrDuplicateActiveRace, got %v", err)
	}

	// Once the first race is recorded the episode can be opened again.
	if err := s.SetStatus(ctx, "alttpr/ledger-room-2a", StatusRecorded); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if _, err := s.Insert(ctx, "alttpr/ledger-room-2c", episode, "ledger-test"); err != nil {
		t.Fatalf("insert after record: %v", err)
	}
}

func TestStatusProgression(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	const room = "alttpr/ledger-room-3"

	if _, err := s.Insert(ctx, room, 910003, "ledger-test"); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.SetRolled(ctx, room, "https://alttpr.com/h/abc"); err != nil {
		t.Fatalf("SetRolled: %v", err)
	}
	rec, err := s.ActiveByRoom(ctx, room)
	if err != nil {
		t.Fatalf("ActiveByRoom: %v", err)
	}
	if rec.Status != StatusRolled || rec.Permalink.String != "https://alttpr.com/h/abc" {
		t.Errorf("after roll: %+v", rec)
	}

	for _, status := range []string{StatusStarted, StatusFinished, StatusRecorded} {
		if err := s.SetStatus(ctx, room, status); err != nil {
			t.Fatalf("SetStatus(%s): %v", status, err)
		}
	}
	// RECORDED is terminal: the room no longer shows up as active.
	rec, err = s.ActiveByRoom(ctx, room)
	if err != nil {
		t.Fatalf("ActiveByRoom: %v", err)
	}
	if rec != nil {
		t.Errorf("recorded race still active: %+v", rec)
	}
}

func TestDeleteClearsEpisode(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	const episode = 910004

	if _, err := s.Insert(ctx, "alttpr/ledger-room-4", episode, "ledger-test"); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Delete(ctx, "alttpr/ledger-room-4"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	rec, err := s.ActiveByEpisode(ctx, episode)
	if err != nil {
		t.Fatalf("ActiveByEpisode: %v", err)
	}
	if rec != nil {
		t.Errorf("deleted race still active: %+v", rec)
	}
	// The episode is free again.
	if _, err := s.Insert(ctx, "alttpr/ledger-room-4b", episode, "ledger-test"); err != nil {
		t.Fatalf("insert after delete: %v", err)
	}
}

func TestListUnrecordedOldestFirst(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		room := fmt.Sprintf("alttpr/ledger-room-5%c", 'a'+i)
		if _, err := s.Insert(ctx, room, int64(910005+i), "ledger-test"); err != nil {
			t.Fatalf("Insert %s: %v", room, err)
		}
	}
	if err := s.SetStatus(ctx, "alttpr/ledger-room-5b", StatusRecorded); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	records, err := s.ListUnrecorded(ctx)
	if err != nil {
		t.Fatalf("ListUnrecorded: %v", err)
	}
	var mine []*Record
	for _, rec := range records {
		if rec.Event == "ledger-test" {
			mine = append(mine, rec)
		}
	}
	if len(mine) != 2 {
		t.Fatalf("unrecorded = %d, want 2", len(mine))
	}
	if !mine[0].CreatedAt.Before(mine[1].CreatedAt) && !mine[0].CreatedAt.Equal(mine[1].CreatedAt) {
		t.Errorf("not oldest first: %v then %v", mine[0].CreatedAt, mine[1].CreatedAt)
	}
}
