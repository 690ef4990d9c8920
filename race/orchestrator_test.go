package race

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/onnwee/race-tender/discordapi"
	"github.com/onnwee/race-tender/identity"
	"github.com/onnwee/race-tender/ledger"
	"github.com/onnwee/race-tender/racetime"
	"github.com/onnwee/race-tender/randomizer"
	"github.com/onnwee/race-tender/registry"
	"github.com/onnwee/race-tender/schedule"
	"github.com/onnwee/race-tender/session"
	"github.com/onnwee/race-tender/telemetry"
	"github.com/onnwee/race-tender/testutil"
)

type fakeSink struct {
	mu   sync.Mutex
	rows [][]interface{}
}

func (f *fakeSink) AppendResult(ctx context.Context, row []interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, row)
	return nil
}

type orchFixture struct {
	orch *Orchestrator
	mock *testutil.MockAPIServer
	db   *sql.DB
	sink *fakeSink
}

func testEpisode(slug string, episodeID int64) *schedule.Episode {
	ep := &schedule.Episode{ID: episodeID}
	ep.Event.Slug = slug
	ep.Event.ShortName = "Orch Cup"
	ep.Match1.Title = "Open"
	ep.Match1.Players = []schedule.PlayerStub{
		{DisplayName: "Alice", DiscordID: "d1"},
		{DisplayName: "Bob", DiscordID: "d2"},
	}
	return ep
}

// setupOrchestrator wires an Orchestrator against one mock server standing in
// for every external API, with the tournament and racer identities seeded.
func setupOrchestrator(t *testing.T, slug string, ep *schedule.Episode) *orchFixture {
	t.Helper()
	telemetry.Init()
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx,
		`INSERT INTO tournaments (slug, guild_id, audit_channel_id, category, active)
		 VALUES ($1, 'g-orch', 'audit-orch', 'alttpr', TRUE)
		 ON CONFLICT (slug) DO UPDATE SET guild_id='g-orch', audit_channel_id='audit-orch', category='alttpr'`, slug)
	if err != nil {
		t.Fatalf("seed tournament: %v", err)
	}
	for _, pair := range [][2]string{{"d1", "rt-d1"}, {"d2", "rt-d2"}} {
		_, err := db.ExecContext(ctx,
			`INSERT INTO racer_identities (discord_user_id, racetime_id) VALUES ($1, $2)
			 ON CONFLICT (discord_user_id) DO UPDATE SET racetime_id=EXCLUDED.racetime_id`, pair[0], pair[1])
		if err != nil {
			t.Fatalf("seed identity: %v", err)
		}
	}
	t.Cleanup(func() {
		_, _ = db.ExecContext(context.Background(), `DELETE FROM race_records WHERE event=$1`, slug)
		_, _ = db.ExecContext(context.Background(), `DELETE FROM tournaments WHERE slug=$1`, slug)
	})

	mock := testutil.NewMockAPIServer(t)
	mock.MockEpisode(ep)
	for _, id := range []string{"d1", "d2"} {
		member := discordapi.Member{}
		member.User.ID = id
		member.User.Username = "user-" + id
		mock.MockJSON("/guilds/g-orch/members/"+id, member)
		mock.Handlers["/channels/dm-"+id+"/messages"] = func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}
	}
	mock.Handlers["/users/@me/channels"] = func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			RecipientID string `json:"recipient_id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "dm-" + body.RecipientID})
	}
	mock.Handlers["/channels/audit-orch/messages"] = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}

	discord := &discordapi.Client{BaseURL: mock.URL, BotToken: "tok"}
	rt := &racetime.Client{BaseURL: mock.URL, Category: "alttpr", Token: "tok"}
	store := &ledger.Store{DB: db}
	sink := &fakeSink{}

	orch := &Orchestrator{
		Ledger: store,
		Sessions: &session.Builder{
			DB:         db,
			Schedule:   &schedule.Client{BaseURL: mock.URL},
			Registry:   &registry.Registry{DB: db, Discord: discord},
			Resolver:   &identity.Resolver{DB: db, Discord: discord},
			Randomizer: &randomizer.Client{BaseURL: mock.URL},
		},
		Racetime: rt,
		Notifier: &Notifier{Discord: discord},
		Results:  sink,
	}
	return &orchFixture{orch: orch, mock: mock, db: db, sink: sink}
}

// mockRoom registers the chat, invite, and setinfo endpoints a live room needs.
func (f *orchFixture) mockRoom(roomID string) {
	ok := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }
	f.mock.Handlers["/o/"+roomID+"/message"] = ok
	f.mock.Handlers["/o/"+roomID+"/invite"] = ok
	f.mock.Handlers["/o/"+roomID+"/setinfo"] = ok
}

func (f *orchFixture) mockStartRace(roomID string) {
	f.mock.Handlers["/o/alttpr/startrace"] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/"+roomID+"/")
		w.WriteHeader(http.StatusCreated)
	}
	f.mockRoom(roomID)
}

func (f *orchFixture) mockRoomStatus(roomID, status string) {
	data := racetime.RoomData{Name: roomID}
	data.Status.Value = status
	f.mock.MockRoomData(roomID, data)
}

func TestOpenRoomCreatesThenIdempotent(t *testing.T) {
	const slug = "orch-open"
	const episodeID = 920001
	f := setupOrchestrator(t, slug, testEpisode(slug, episodeID))
	f.mockStartRace("alttpr/orch-open-1")
	ctx := context.Background()

	roomID, created, err := f.orch.OpenRoom(ctx, episodeID)
	if err != nil {
		t.Fatalf("OpenRoom: %v", err)
	}
	if roomID != "alttpr/orch-open-1" || !created {
		t.Fatalf("OpenRoom = %q, %v", roomID, created)
	}

	rec, err := f.orch.Ledger.ActiveByEpisode(ctx, episodeID)
	if err != nil || rec == nil || rec.RoomID != roomID {
		t.Fatalf("ledger record = %+v, %v", rec, err)
	}

	// A live room makes the second call a no-op returning the same room.
	f.mockRoomStatus("alttpr/orch-open-1", "open")
	roomID2, created2, err := f.orch.OpenRoom(ctx, episodeID)
	if err != nil {
		t.Fatalf("second OpenRoom: %v", err)
	}
	if roomID2 != roomID || created2 {
		t.Errorf("second OpenRoom = %q, %v", roomID2, created2)
	}
}

func TestOpenRoomRecreatesCancelled(t *testing.T) {
	const slug = "orch-stale"
	const episodeID = 920002
	f := setupOrchestrator(t, slug, testEpisode(slug, episodeID))
	ctx := context.Background()

	if _, err := f.orch.Ledger.Insert(ctx, "alttpr/orch-stale-old", episodeID, slug); err != nil {
		t.Fatalf("seed record: %v", err)
	}
	f.mockRoomStatus("alttpr/orch-stale-old", racetime.StatusCancelled)
	f.mockStartRace("alttpr/orch-stale-new")

	roomID, created, err := f.orch.OpenRoom(ctx, episodeID)
	if err != nil {
		t.Fatalf("OpenRoom: %v", err)
	}
	if roomID != "alttpr/orch-stale-new" || !created {
		t.Fatalf("OpenRoom = %q, %v", roomID, created)
	}

	old, err := f.orch.Ledger.ActiveByRoom(ctx, "alttpr/orch-stale-old")
	if err != nil {
		t.Fatalf("ActiveByRoom: %v", err)
	}
	if old != nil {
		t.Errorf("stale record survived: %+v", old)
	}
}

func TestRollSeed(t *testing.T) {
	const slug = "orch-roll"
	const episodeID = 920003
	const roomID = "alttpr/orch-roll-1"
	f := setupOrchestrator(t, slug, testEpisode(slug, episodeID))
	ctx := context.Background()

	if _, err := f.orch.Ledger.Insert(ctx, roomID, episodeID, slug); err != nil {
		t.Fatalf("seed record: %v", err)
	}
	f.mockRoom(roomID)
	var infoSet string
	f.mock.Handlers["/o/"+roomID+"/setinfo"] = func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		infoSet = r.PostForm.Get("info")
		w.WriteHeader(http.StatusOK)
	}
	f.mock.Handlers["/api/preset"] = func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Preset  string `json:"preset"`
			NoHints bool   `json:"nohints"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Preset != "open" || !body.NoHints {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(randomizer.SeedDescriptor{
			URL:  "https://alttpr.test/h/aBcDeF",
			Code: []string{"Bow", "Bombs", "Mushroom"},
		})
	}

	if err := f.orch.RollSeed(ctx, roomID, 0); err != nil {
		t.Fatalf("RollSeed: %v", err)
	}

	rec, err := f.orch.Ledger.ActiveByRoom(ctx, roomID)
	if err != nil || rec == nil {
		t.Fatalf("ActiveByRoom = %+v, %v", rec, err)
	}
	if rec.Status != ledger.StatusRolled || rec.Permalink.String != "https://alttpr.test/h/aBcDeF" {
		t.Errorf("record after roll = %+v", rec)
	}
	if !strings.Contains(infoSet, "(Bow/Bombs/Mushroom)") {
		t.Errorf("race info = %q, want file select code", infoSet)
	}
}

func TestRollSeedUnknownRoomNeedsEpisode(t *testing.T) {
	const slug = "orch-roll-unknown"
	f := setupOrchestrator(t, slug, testEpisode(slug, 920004))
	f.mockRoom("alttpr/orch-unknown")

	err := f.orch.RollSeed(context.Background(), "alttpr/orch-unknown", 0)
	if err == nil || !strings.Contains(err.Error(), "episode id") {
		t.Fatalf("err = %v", err)
	}
}

func TestMarkStarted(t *testing.T) {
	const slug = "orch-start"
	const episodeID = 920005
	const roomID = "alttpr/orch-start-1"
	f := setupOrchestrator(t, slug, testEpisode(slug, episodeID))
	ctx := context.Background()

	// Rooms this service never opened are ignored.
	if err := f.orch.MarkStarted(ctx, "alttpr/someone-elses-race"); err != nil {
		t.Fatalf("MarkStarted unknown room: %v", err)
	}

	if _, err := f.orch.Ledger.Insert(ctx, roomID, episodeID, slug); err != nil {
		t.Fatalf("seed record: %v", err)
	}
	if err := f.orch.MarkStarted(ctx, roomID); err != nil {
		t.Fatalf("MarkStarted: %v", err)
	}
	rec, err := f.orch.Ledger.ActiveByRoom(ctx, roomID)
	if err != nil || rec == nil {
		t.Fatalf("ActiveByRoom = %+v, %v", rec, err)
	}
	if rec.Status != ledger.StatusStarted {
		t.Errorf("status = %s, want %s", rec.Status, ledger.StatusStarted)
	}
}

func TestSweepOnce(t *testing.T) {
	const slug = "orch-sweep"
	f := setupOrchestrator(t, slug, testEpisode(slug, 920010))
	ctx := context.Background()

	// Oldest first: a room whose status poll fails must not block the rest.
	rooms := []struct {
		id      string
		episode int64
	}{
		{"alttpr/sweep-broken", 920011},
		{"alttpr/sweep-done", 920012},
		{"alttpr/sweep-gone", 920013},
		{"alttpr/sweep-live", 920014},
	}
	for _, r := range rooms {
		if _, err := f.orch.Ledger.Insert(ctx, r.id, r.episode, slug); err != nil {
			t.Fatalf("seed %s: %v", r.id, err)
		}
	}

	finished := racetime.RoomData{StartedAt: "2026-03-01T19:00:00Z"}
	finished.Status.Value = racetime.StatusFinished
	finished.Entrants = make([]racetime.Entrant, 2)
	finished.Entrants[0].User.Name = "Alice"
	finished.Entrants[0].Place = 1
	finished.Entrants[0].FinishTime = "PT1H25M0S"
	finished.Entrants[1].User.Name = "Bob"
	finished.Entrants[1].Place = 2
	finished.Entrants[1].FinishTime = "PT1H27M30S"
	f.mock.MockRoomData("alttpr/sweep-done", finished)
	f.mockRoomStatus("alttpr/sweep-gone", racetime.StatusCancelled)
	f.mockRoomStatus("alttpr/sweep-live", "in_progress")
	// sweep-broken has no status handler; the poll 404s.

	if err := f.orch.SweepOnce(ctx); err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}

	if len(f.sink.rows) != 1 {
		t.Fatalf("result rows = %d, want 1", len(f.sink.rows))
	}
	row := f.sink.rows[0]
	if row[2] != "alttpr/sweep-done" || row[3] != "Alice" || row[4] != "1:25:00" {
		t.Errorf("result row = %v", row)
	}

	assertStatus := func(roomID, want string) {
		t.Helper()
		var status string
		err := f.db.QueryRowContext(ctx,
			`SELECT status FROM race_records WHERE room_id=$1`, roomID).Scan(&status)
		if want == "" {
			if err != sql.ErrNoRows {
				t.Errorf("%s: expected deleted record, got status %q err %v", roomID, status, err)
			}
			return
		}
		if err != nil {
			t.Errorf("%s: %v", roomID, err)
			return
		}
		if status != want {
			t.Errorf("%s status = %s, want %s", roomID, status, want)
		}
	}
	assertStatus("alttpr/sweep-done", ledger.StatusRecorded)
	assertStatus("alttpr/sweep-gone", "")
	assertStatus("alttpr/sweep-live", ledger.StatusCreated)
	assertStatus("alttpr/sweep-broken", ledger.StatusCreated)
}

func TestSubmitBracketSettings(t *testing.T) {
	const slug = "orch-bracket"
	const episodeID = 920020
	f := setupOrchestrator(t, slug, testEpisode(slug, episodeID))
	ctx := context.Background()
	t.Cleanup(func() {
		_, _ = f.db.ExecContext(context.Background(), `DELETE FROM bracket_settings WHERE episode_id=$1`, episodeID)
	})

	settings := json.RawMessage(`{"goal":"ganon","crystals":"7"}`)
	if err := f.orch.SubmitBracketSettings(ctx, episodeID, 2, settings); err != nil {
		t.Fatalf("SubmitBracketSettings: %v", err)
	}

	var submitted bool
	var game int
	err := f.db.QueryRowContext(ctx,
		`SELECT submitted, game_number FROM bracket_settings WHERE episode_id=$1`, episodeID).Scan(&submitted, &game)
	if err != nil {
		t.Fatalf("read settings: %v", err)
	}
	if !submitted || game != 2 {
		t.Errorf("submitted=%v game=%d", submitted, game)
	}

	// Second submission is rejected, matching the one-shot submission rule.
	err = f.orch.SubmitBracketSettings(ctx, episodeID, 3, settings)
	if !errors.Is(err, ErrSettingsSubmitted) {
		t.Fatalf("resubmission err = %v", err)
	}
	err = f.db.QueryRowContext(ctx,
		`SELECT game_number FROM bracket_settings WHERE episode_id=$1`, episodeID).Scan(&game)
	if err != nil || game != 2 {
		t.Errorf("resubmission changed row: game=%d err=%v", game, err)
	}
}
