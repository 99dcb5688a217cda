package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Metadata is an opaque key/value document attached to a conversation.
// Stored as a JSON text column.
type Metadata map[string]any

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *Metadata) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("unsupported metadata column type %T", src)
	}
}

type Conversation struct {
	ID          string    `db:"id" json:"id"` // UUID
	Query       string    `db:"query" json:"query"`
	Response    string    `db:"response" json:"response"`
	Fingerprint string    `db:"fingerprint" json:"fingerprint"`
	UserID      *string   `db:"user_id" json:"user_id,omitempty"`
	SessionID   *string   `db:"session_id" json:"session_id,omitempty"`
	Metadata    Metadata  `db:"metadata" json:"metadata,omitempty"`
	UsageCount  int64     `db:"usage_count" json:"usage_count"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// WeightedKeyword is one stemmed token of a query together with its
// position-derived ranking weight.
type WeightedKeyword struct {
	Keyword string  `db:"keyword"`
	Weight  float64 `db:"weight"`
}

// ScoredConversation is a keyword-overlap candidate with its similarity
// against the query that produced it.
type ScoredConversation struct {
	Conversation
	Similarity float64 `db:"similarity"`
}

type UsageRecord struct {
	ID             int64     `db:"id" json:"id"`
	ConversationID string    `db:"conversation_id" json:"conversation_id"`
	AccessedAt     time.Time `db:"accessed_at" json:"accessed_at"`
	UserID         *string   `db:"user_id" json:"user_id,omitempty"`
	SessionID      *string   `db:"session_id" json:"session_id,omitempty"`
}

type Stats struct {
	Conversations int64   `db:"conversations" json:"conversations"`
	Keywords      int64   `db:"keywords" json:"keywords"`
	UsageRecords  int64   `db:"usage_records" json:"usage_records"`
	AvgUsageCount float64 `db:"avg_usage_count" json:"avg_usage_count"`
	MaxUsageCount int64   `db:"max_usage_count" json:"max_usage_count"`
}
