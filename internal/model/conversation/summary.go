package conversation

import "time"

// Summary is the latest generated overview of a conversation.
type Summary struct {
	ConversationID string    `json:"conversation_id"`
	Summary        string    `json:"summary"`
	Symptoms       []string  `json:"symptoms"`
	Medications    []string  `json:"medications"`
	FollowUp       []string  `json:"follow_up"`
	MessageCount   int       `json:"message_count"`
	Provider       string    `json:"provider"`
	GeneratedAt    time.Time `json:"generated_at"`
}
