package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/onnwee/race-tender/identity"
	"github.com/onnwee/race-tender/randomizer"
	"github.com/onnwee/race-tender/registry"
	"github.com/onnwee/race-tender/schedule"
)

func TestPresetForMode(t *testing.T) {
	cases := []struct {
		mode    string
		want    string
		wantErr bool
	}{
		{"Open", "open", false},
		{"Standard", "standard", false},
		{"open", "", true}, // labels are case-sensitive
		{"Casual Boots", "", true},
		{"", "", true},
	}
	for _, tc := range cases {
		got, err := presetForMode(tc.mode)
		if tc.wantErr {
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Errorf("presetForMode(%q): expected ConfigError, got %v", tc.mode, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("presetForMode(%q): %v", tc.mode, err)
			continue
		}
		if got != tc.want {
			t.Errorf("presetForMode(%q) = %q, want %q", tc.mode, got, tc.want)
		}
	}
}

func testSession(title string, channels []schedule.Channel) *Session {
	return &Session{
		Episode: &schedule.Episode{
			ID:       1,
			Event:    schedule.Event{Slug: "alttpr2026", ShortName: "ALTTPR Main"},
			Match1:   schedule.Match{Title: title},
			Channels: channels,
		},
		Tournament: &registry.TournamentConfig{Slug: "alttpr2026", GuildID: "g1"},
		Players: []*identity.Participant{
			{DiscordID: "1", Name: "Alice", RacetimeID: "rt-a"},
			{DiscordID: "2", Name: "Bob"},
		},
	}
}

func TestVersusAndRaceInfo(t *testing.T) {
	s := testSession("Open", nil)
	if got := s.Versus(); got != "Alice vs. Bob" {
		t.Errorf("Versus = %q", got)
	}
	if got := s.RaceInfo(); got != "ALTTPR Main - Alice vs. Bob - Open" {
		t.Errorf("RaceInfo = %q", got)
	}
}

func TestRacetimeIDsSkipsUnmapped(t *testing.T) {
	s := testSession("Open", nil)
	ids := s.RacetimeIDs()
	if len(ids) != 1 || ids[0] != "rt-a" {
		t.Errorf("RacetimeIDs = %v", ids)
	}
}

func TestBroadcastChannelsFiltersPlaceholders(t *testing.T) {
	s := testSession("Open", []schedule.Channel{
		{Name: "SpeedGaming"},
		{Name: "To Be Determined"},
		{Name: ""},
		{Name: "SpeedGaming2"},
	})
	got := s.BroadcastChannels()
	if len(got) != 2 || got[0] != "SpeedGaming" || got[1] != "SpeedGaming2" {
		t.Errorf("BroadcastChannels = %v", got)
	}
}

func TestRoll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Preset         string `json:"preset"`
			NoHints        bool   `json:"nohints"`
			AllowQuickswap bool   `json:"allow_quickswap"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Preset != "standard" {
			t.Errorf("preset = %q, want standard", body.Preset)
		}
		if !body.NoHints || !body.AllowQuickswap {
			t.Errorf("tournament options missing: %+v", body)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"url":  "https://alttpr.com/h/xyz",
			"code": []string{"Bow", "Bombs"},
		})
	}))
	defer srv.Close()

	s := testSession("Standard", nil)
	s.randomizer = &randomizer.Client{BaseURL: srv.URL}
	seed, err := s.Roll(context.Background())
	if err != nil {
		t.Fatalf("Roll: %v", err)
	}
	if seed.URL != "https://alttpr.com/h/xyz" {
		t.Errorf("seed url = %q", seed.URL)
	}
}

func TestRollUnknownMode(t *testing.T) {
	s := testSession("Keysanity", nil)
	s.randomizer = &randomizer.Client{BaseURL: "http://unused"}
	_, err := s.Roll(context.Background())
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if cfgErr.Mode != "Keysanity" {
		t.Errorf("Mode = %q", cfgErr.Mode)
	}
}
