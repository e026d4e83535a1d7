package conversation

import "time"

// Conversation is one doctor-patient session.
type Conversation struct {
	ID              string    `json:"id"`
	DoctorLanguage  string    `json:"doctor_language"`
	PatientLanguage string    `json:"patient_language"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	MessageCount    int       `json:"message_count"`
}

// Detail is a conversation together with its transcript.
type Detail struct {
	Conversation
	Messages []Message `json:"messages"`
}
