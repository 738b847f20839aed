// Package analytics defines the link events published by the API and the
// sink the consumer writes them to.
package analytics

import "time"

const (
	TopicLinkCreated  = "link.created"
	TopicLinkResolved = "link.resolved"
)

// LinkCreatedEvent is published when a shorten request mints a new token.
type LinkCreatedEvent struct {
	Token     string    `json:"token"`
	LongURL   string    `json:"longUrl"`
	CreatedAt time.Time `json:"createdAt"`
	RequestID string    `json:"requestId,omitempty"`
	ClientIP  string    `json:"clientIp,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
}

// LinkResolvedEvent is published after every redirect that reached upstream.
type LinkResolvedEvent struct {
	Token      string    `json:"token"`
	LongURL    string    `json:"longUrl"`
	StatusCode int       `json:"statusCode"`
	Attempts   int       `json:"attempts"`
	Retried    bool      `json:"retried"`
	Success    bool      `json:"success"`
	ResolvedAt time.Time `json:"resolvedAt"`
	RequestID  string    `json:"requestId,omitempty"`
	ClientIP   string    `json:"clientIp,omitempty"`
	Referrer   string    `json:"referrer,omitempty"`
}
