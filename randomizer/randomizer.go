// Package randomizer contains a minimal client for the seed-generation
// service. Given a named preset it returns a playable seed descriptor; the
// randomizer's game logic is entirely opaque to this service.
package randomizer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// PresetOptions tweak a preset roll without replacing the preset itself.
type PresetOptions struct {
	NoHints        bool `json:"nohints"`
	AllowQuickswap bool `json:"allow_quickswap"`
	Spoilers       bool `json:"spoilers"`
}

// SeedDescriptor is everything players need to play a generated seed.
type SeedDescriptor struct {
	URL     string   `json:"url"`
	Code    []string `json:"code"`
	Spoiler string   `json:"spoiler"`
}

// FileSelectCode joins the seed's verification glyphs the way players read
// them off the file select screen.
func (s *SeedDescriptor) FileSelectCode() string {
	return strings.Join(s.Code, "/")
}

// Client talks to the seed-generation service.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// GetPreset rolls a seed from a named preset.
func (c *Client) GetPreset(ctx context.Context, name string, opts PresetOptions) (*SeedDescriptor, error) {
	if name == "" {
		return nil, fmt.Errorf("preset name empty")
	}
	payload := struct {
		Preset string `json:"preset"`
		PresetOptions
	}{Preset: name, PresetOptions: opts}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/preset", strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("preset %q status %d", name, resp.StatusCode)
	}
	var seed SeedDescriptor
	if err := json.NewDecoder(resp.Body).Decode(&seed); err != nil {
		return nil, err
	}
	if seed.URL == "" {
		return nil, fmt.Errorf("preset %q: empty seed url", name)
	}
	return &seed, nil
}
