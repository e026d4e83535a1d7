package conversation

import "time"

// Role identifies who spoke a message.
type Role string

const (
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
)

// Valid reports whether r is a known speaker role.
func (r Role) Valid() bool {
	return r == RoleDoctor || r == RolePatient
}

// Message is a single translated turn.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	OriginalText   string    `json:"original_text"`
	TranslatedText string    `json:"translated_text"`
	SourceLanguage string    `json:"source_language"`
	TargetLanguage string    `json:"target_language"`
	AudioPath      string    `json:"audio_path,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
