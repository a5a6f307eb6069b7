package kafka

import (
	"encoding/json"
	"fmt"
	"time"
)

// LeadMessage is the payload the marketing site publishes for each
// captured or updated lead
type LeadMessage struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Email         string     `json:"email"`
	Phone         string     `json:"phone"`
	Location      string     `json:"location"`
	Region        *string    `json:"region,omitempty"`
	SourceChannel string     `json:"source_channel"`
	LeadScore     int        `json:"lead_score"`
	LastContactAt *time.Time `json:"last_contact_at,omitempty"`
	CapturedAt    *time.Time `json:"captured_at,omitempty"`
}

// IncomingMessage wraps a raw Kafka message plus its parsed lead payload
type IncomingMessage struct {
	Key       string
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
	Timestamp time.Time
	Topic     string

	Lead *LeadMessage
}

// ParseLead decodes the message value into a LeadMessage. The marketing
// site keys messages by lead id, so a missing body id falls back to the key.
func (m *IncomingMessage) ParseLead() error {
	var lead LeadMessage
	if err := json.Unmarshal(m.Value, &lead); err != nil {
		return fmt.Errorf("failed to parse lead message: %w", err)
	}
	if lead.ID == "" {
		lead.ID = m.Key
	}
	if lead.ID == "" {
		return fmt.Errorf("lead message has no id")
	}
	m.Lead = &lead
	return nil
}

// IsTombstone reports a nil-value message, which marks a deleted lead
// upstream and carries nothing to ingest
func (m *IncomingMessage) IsTombstone() bool {
	return len(m.Value) == 0
}
