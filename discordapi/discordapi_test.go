package discordapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGuildMemberNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, BotToken: "tok"}
	m, err := c.GuildMember(context.Background(), "g1", "u404")
	if err != nil {
		t.Fatalf("GuildMember: %v", err)
	}
	if m != nil {
		t.Errorf("expected nil member, got %+v", m)
	}
}

func TestGuildMember(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/guilds/g1/members/u1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("Authorization") != "Bot tok" {
			t.Errorf("auth header = %q", r.Header.Get("Authorization"))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"user":  map[string]string{"id": "u1", "username": "alice", "global_name": "Alice"},
			"nick":  "Ali",
			"roles": []string{"r1", "r2"},
		})
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, BotToken: "tok"}
	m, err := c.GuildMember(context.Background(), "g1", "u1")
	if err != nil {
		t.Fatalf("GuildMember: %v", err)
	}
	if m.Nick != "Ali" || m.User.Username != "alice" || len(m.Roles) != 2 {
		t.Errorf("member = %+v", m)
	}
}

func TestSearchGuildMemberStripsDiscriminator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("query"); got != "bob" {
			t.Errorf("query = %q, want bob", got)
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"user": map[string]string{"id": "u2", "username": "bobby"}},
			{"user": map[string]string{"id": "u3", "username": "bob"}},
		})
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, BotToken: "tok"}
	m, err := c.SearchGuildMember(context.Background(), "g1", "bob#1234")
	if err != nil {
		t.Fatalf("SearchGuildMember: %v", err)
	}
	if m == nil || m.User.ID != "u3" {
		t.Errorf("member = %+v, want exact match u3", m)
	}
}

func TestSearchGuildMemberNoMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"user": map[string]string{"id": "u2", "username": "bobby"}},
		})
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, BotToken: "tok"}
	m, err := c.SearchGuildMember(context.Background(), "g1", "bob")
	if err != nil {
		t.Fatalf("SearchGuildMember: %v", err)
	}
	if m != nil {
		t.Errorf("expected nil for partial match, got %+v", m)
	}
}

func TestDirectMessage(t *testing.T) {
	var postedTo, content string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/users/@me/channels":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["recipient_id"] != "u1" {
				t.Errorf("recipient = %q", body["recipient_id"])
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "dm1"})
		case "/channels/dm1/messages":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			postedTo, content = "dm1", body["content"]
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, BotToken: "tok"}
	if err := c.DirectMessage(context.Background(), "u1", "hello"); err != nil {
		t.Fatalf("DirectMessage: %v", err)
	}
	if postedTo != "dm1" || content != "hello" {
		t.Errorf("posted %q to %q", content, postedTo)
	}
}

func TestDirectMessageClosedDMs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, BotToken: "tok"}
	if err := c.DirectMessage(context.Background(), "u1", "hello"); err == nil {
		t.Fatal("expected error when DM channel cannot be opened")
	}
}
