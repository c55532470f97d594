package core

import "github.com/talkroom/talkroom-server/internal/auth"

// Client is one connected session as seen by the hub. A client starts
// unauthenticated; the transport binds an identity once a credential
// verifies. The identity is written only from the connection's read loop,
// before any subscribe or send it guards.
type Client struct {
	ID       string
	identity *auth.Identity
	Events   chan *Event
}

// NewClient constructs a client with an initialized event channel.
func NewClient(id string) *Client {
	return &Client{
		ID:     id,
		Events: make(chan *Event, 16),
	}
}

// Bind attaches a verified identity to the session for the rest of its life.
func (c *Client) Bind(identity *auth.Identity) {
	c.identity = identity
}

// Identity returns the bound identity, or nil while unauthenticated.
func (c *Client) Identity() *auth.Identity {
	return c.identity
}
