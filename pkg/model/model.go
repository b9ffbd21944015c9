package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ActionKind identifies what a queued action replays as
type ActionKind string

const (
	ActionText  ActionKind = "text"
	ActionVoice ActionKind = "voice"
)

// Valid reports whether the kind is one of the known action kinds
func (k ActionKind) Valid() bool {
	return k == ActionText || k == ActionVoice
}

// Payload carries the parameters needed to replay an action. It doubles as
// a JSONB value for the history store.
type Payload map[string]interface{}

// Value implements the driver.Valuer interface
func (p Payload) Value() (driver.Value, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(p)
}

// Scan implements the sql.Scanner interface
func (p *Payload) Scan(value interface{}) error {
	if value == nil {
		*p = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	return json.Unmarshal(bytes, p)
}

// String returns the string value stored under key, or "" when absent.
func (p Payload) String(key string) string {
	v, ok := p[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Float returns the numeric value stored under key, or 0 when absent.
// JSON round-tripping stores all numbers as float64.
func (p Payload) Float(key string) float64 {
	v, ok := p[key]
	if !ok {
		return 0
	}
	f, _ := v.(float64)
	return f
}

// Bool returns the boolean value stored under key, or false when absent.
func (p Payload) Bool(key string) bool {
	v, ok := p[key]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Well-known payload keys shared by the queue, the drainer and the tutor client.
const (
	PayloadConversationID = "conversation_id"
	PayloadText           = "text"
	PayloadAudioPath      = "audio_path"
	PayloadAudioURL       = "audio_url"
	PayloadAudioKey       = "audio_key"
	PayloadLanguage       = "language"
	PayloadDifficulty     = "difficulty"
	PayloadMuted          = "muted"
	PayloadTempo          = "tempo"
)

// QueuedAction is a user action persisted locally because it could not be
// sent immediately. Oldest-first order within the queue is defined by
// CreatedAt, ID breaking ties.
type QueuedAction struct {
	ID        string     `json:"id"`
	Kind      ActionKind `json:"kind"`
	Payload   Payload    `json:"payload"`
	CreatedAt int64      `json:"created_at"` // epoch milliseconds
	Attempts  int        `json:"attempts"`
}

// NewQueuedAction builds a fresh action with a unique ID (creation timestamp
// plus a random suffix) and a zero attempt count. The nanosecond ID prefix
// keeps actions created within the same millisecond sortable in creation
// order.
func NewQueuedAction(kind ActionKind, payload Payload) *QueuedAction {
	now := time.Now()
	return &QueuedAction{
		ID:        fmt.Sprintf("%d-%s", now.UnixNano(), uuid.New().String()[:8]),
		Kind:      kind,
		Payload:   payload,
		CreatedAt: now.UnixMilli(),
		Attempts:  0,
	}
}

// IncrementAttempts increases the replay attempt counter
func (a *QueuedAction) IncrementAttempts() {
	a.Attempts++
}

// ActionPatch is a partial update applied to a queued action. Nil fields
// are left untouched; Payload entries are merged key by key.
type ActionPatch struct {
	Attempts *int    `json:"attempts,omitempty"`
	Payload  Payload `json:"payload,omitempty"`
}

// Apply merges the patch into the action
func (p ActionPatch) Apply(a *QueuedAction) {
	if p.Attempts != nil {
		a.Attempts = *p.Attempts
	}
	if len(p.Payload) > 0 {
		if a.Payload == nil {
			a.Payload = Payload{}
		}
		for k, v := range p.Payload {
			a.Payload[k] = v
		}
	}
}

// Exchange is one sent message together with the tutor's reply, as archived
// by the history store.
type Exchange struct {
	ID             string     `json:"id" db:"id"`
	ConversationID string     `json:"conversation_id" db:"conversation_id"`
	Kind           ActionKind `json:"kind" db:"kind"`
	Sent           string     `json:"sent" db:"sent"`
	Reply          string     `json:"reply" db:"reply"`
	Corrected      string     `json:"corrected,omitempty" db:"corrected"`
	Natural        string     `json:"natural,omitempty" db:"natural"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}
