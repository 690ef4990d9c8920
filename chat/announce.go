package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

// Announcer sends one-shot messages to Twitch channels over IRC.
type Announcer struct {
	Username   string
	OAuthToken string
}

// Announce connects, joins every channel, posts message, and disconnects.
// Channel names are matched case-insensitively by Twitch; they are lowered
// here so Join and Say agree.
func (a *Announcer) Announce(ctx context.Context, channels []string, message string) error {
	if a.Username == "" || a.OAuthToken == "" {
		slog.Info("twitch creds not set; skipping restream announcement")
		return nil
	}
	if len(channels) == 0 {
		return nil
	}

	client := twitch.NewClient(a.Username, a.OAuthToken)
	client.OnConnect(func() {
		for _, ch := range channels {
			ch = strings.ToLower(strings.TrimSpace(ch))
			client.Join(ch)
			client.Say(ch, message)
		}
		client.Disconnect()
	})

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			client.Disconnect()
		case <-done:
		}
	}()
	defer close(done)

	if err := client.Connect(); err != nil && !errors.Is(err, twitch.ErrClientDisconnected) {
		return err
	}
	return nil
}
