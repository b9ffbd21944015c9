package tutor

// SendMessageRequest carries one text message to the tutoring backend
// along with the conversation settings in effect when the user sent it.
type SendMessageRequest struct {
	ConversationID string  `json:"conversation_id"`
	Text           string  `json:"text"`
	Language       string  `json:"language"`
	Difficulty     string  `json:"difficulty"`
	Muted          bool    `json:"muted"`
	Tempo          float64 `json:"tempo"`
}

// SendVoiceRequest carries a voice message; the audio itself has already
// been uploaded and travels as an object URL.
type SendVoiceRequest struct {
	ConversationID string  `json:"conversation_id"`
	AudioURL       string  `json:"audio_url"`
	Language       string  `json:"language"`
	Difficulty     string  `json:"difficulty"`
	Muted          bool    `json:"muted"`
	Tempo          float64 `json:"tempo"`
}

// Reply is the backend's answer: the tutor's conversational reply plus the
// corrected and natural rewrites of what the user said, the pairs the
// highlighter renders.
type Reply struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"reply"`
	Corrected      string `json:"corrected,omitempty"`
	Natural        string `json:"natural,omitempty"`
	Transcript     string `json:"transcript,omitempty"`
	AudioURL       string `json:"audio_url,omitempty"`
}
