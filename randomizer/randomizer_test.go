package randomizer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGetPreset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/preset" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var body struct {
			Preset         string `json:"preset"`
			NoHints        bool   `json:"nohints"`
			AllowQuickswap bool   `json:"allow_quickswap"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Preset != "open" {
			t.Errorf("preset = %q", body.Preset)
		}
		if !body.NoHints || !body.AllowQuickswap {
			t.Errorf("options not forwarded: %+v", body)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"url":  "https://alttpr.com/h/abc123",
			"code": []string{"Bow", "Boomerang", "Hookshot", "Bombs", "Mushroom"},
		})
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL}
	seed, err := c.GetPreset(context.Background(), "open", PresetOptions{NoHints: true, AllowQuickswap: true})
	if err != nil {
		t.Fatalf("GetPreset: %v", err)
	}
	if seed.URL != "https://alttpr.com/h/abc123" {
		t.Errorf("url = %q", seed.URL)
	}
	if got := seed.FileSelectCode(); got != "Bow/Boomerang/Hookshot/Bombs/Mushroom" {
		t.Errorf("FileSelectCode = %q", got)
	}
}

func TestGetPresetEmptyURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"code": []string{"Bow"}})
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL}
	if _, err := c.GetPreset(context.Background(), "open", PresetOptions{}); err == nil {
		t.Fatal("expected error for seed with no url")
	}
}

func TestGetPresetEmptyName(t *testing.T) {
	c := &Client{BaseURL: "http://unused"}
	if _, err := c.GetPreset(context.Background(), "", PresetOptions{}); err == nil {
		t.Fatal("expected error for empty preset name")
	}
}
