// Package chat posts restream announcements to Twitch chat.
//
// When a broadcast race rolls its seed, the announcer joins the IRC channel
// of each broadcast channel and drops a short message pointing viewers at the
// restream. The connection is short-lived: connect, say, disconnect.
//
// Credentials: the IRC client requires a bot username and an OAuth token with
// chat:read/chat:edit scopes, supplied via TWITCH_BOT_USERNAME and
// TWITCH_OAUTH_TOKEN.
package chat
