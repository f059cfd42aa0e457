// Package relay contains the core domain types for the Telegram-Twitter relay service.
package relay

import "time"

// PostResult describes a tweet that was successfully published.
type PostResult struct {
	PostID    string `json:"post_id"`
	Permalink string `json:"permalink"`
	Text      string `json:"text"`
}

// DirectMessageEvent is one inbound Twitter direct message, normalized from
// either the polling API or an Account Activity webhook payload.
type DirectMessageEvent struct {
	CreatedAt    time.Time `json:"created_at"`
	ID           string    `json:"id"`
	SenderID     string    `json:"sender_id"`
	SenderName   string    `json:"sender_name"`
	SenderHandle string    `json:"sender_handle"`
	Text         string    `json:"text"`
	Attachments  []string  `json:"attachments,omitempty"` // media URLs, provider order
}

// PollState is a point-in-time snapshot of the DM poller.
type PollState struct {
	LastSuccessAt  time.Time     `json:"last_success_at"`
	Interval       time.Duration `json:"interval"`
	ProcessedCount int           `json:"processed_count"`
	Running        bool          `json:"running"`
}
