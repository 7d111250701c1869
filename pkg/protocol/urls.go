package protocol

import (
	"fmt"
	"net/url"
)

// Endpoint paths for the three logical channels.
const (
	chatPathFormat    = "/ws/chat/%s/"
	notificationsPath = "/ws/notifications/"
	statusPath        = "/ws/status/"
)

// ChatURL returns the websocket URL for a conversation's chat channel.
// The scheme is derived from the base URL: http becomes ws, https becomes
// wss; ws and wss pass through.
func ChatURL(base, conversationID string) (string, error) {
	return endpointURL(base, fmt.Sprintf(chatPathFormat, url.PathEscape(conversationID)))
}

// NotificationsURL returns the websocket URL for the user's notification
// channel.
func NotificationsURL(base string) (string, error) {
	return endpointURL(base, notificationsPath)
}

// StatusURL returns the websocket URL for the presence channel.
func StatusURL(base string) (string, error) {
	return endpointURL(base, statusPath)
}

func endpointURL(base, path string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("protocol: parse base url: %w", err)
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("protocol: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("protocol: base url %q has no host", base)
	}

	u.Path = path
	u.RawQuery = ""
	return u.String(), nil
}
