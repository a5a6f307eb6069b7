package models

import (
	"time"
)

// Field identifies a comparable lead field
type Field string

const (
	FieldName     Field = "name"
	FieldEmail    Field = "email"
	FieldPhone    Field = "phone"
	FieldLocation Field = "location"
)

// ComparableFields lists the fields the dedup engine scores, in display order
var ComparableFields = []Field{FieldName, FieldEmail, FieldPhone, FieldLocation}

// LeadRecord represents a lead ingested from a marketing channel.
// IDs are never reused; once a record is absorbed via merge it becomes a
// tombstone pointing at its canonical record and is never mutated again.
type LeadRecord struct {
	ID            string     `json:"id" db:"id"`
	Name          string     `json:"name" db:"name"`
	Email         string     `json:"email" db:"email"`
	Phone         string     `json:"phone" db:"phone"`
	Location      string     `json:"location" db:"location"`
	Region        *string    `json:"region,omitempty" db:"region"`
	SourceChannel string     `json:"source_channel" db:"source_channel"`
	LeadScore     int        `json:"lead_score" db:"lead_score"`
	MergedFromIDs StringList `json:"merged_from_ids" db:"merged_from_ids"`
	Fingerprint   string     `json:"fingerprint" db:"fingerprint"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	LastContactAt *time.Time `json:"last_contact_at,omitempty" db:"last_contact_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
	TombstonedAt  *time.Time `json:"tombstoned_at,omitempty" db:"tombstoned_at"`
	CanonicalID   *string    `json:"canonical_id,omitempty" db:"canonical_id"`
}

// IsTombstoned reports whether this record has been absorbed into another
func (l *LeadRecord) IsTombstoned() bool {
	return l.TombstonedAt != nil
}

// FieldValue returns the raw value for a comparable field
func (l *LeadRecord) FieldValue(field Field) string {
	switch field {
	case FieldName:
		return l.Name
	case FieldEmail:
		return l.Email
	case FieldPhone:
		return l.Phone
	case FieldLocation:
		return l.Location
	default:
		return ""
	}
}

// SetFieldValue assigns a raw value to a comparable scalar field
func (l *LeadRecord) SetFieldValue(field Field, value string) {
	switch field {
	case FieldName:
		l.Name = value
	case FieldEmail:
		l.Email = value
	case FieldPhone:
		l.Phone = value
	case FieldLocation:
		l.Location = value
	}
}

// IngestLeadRequest is the payload for creating/updating a lead from ingestion
type IngestLeadRequest struct {
	ID            string     `json:"id"`
	Name          string     `json:"name" validate:"required"`
	Email         string     `json:"email"`
	Phone         string     `json:"phone"`
	Location      string     `json:"location"`
	Region        *string    `json:"region,omitempty"`
	SourceChannel string     `json:"source_channel" validate:"required"`
	LeadScore     int        `json:"lead_score" validate:"gte=0,lte=100"`
	CreatedAt     *time.Time `json:"created_at,omitempty"`
	LastContactAt *time.Time `json:"last_contact_at,omitempty"`
}

// LeadListResponse is the response for listing leads
type LeadListResponse struct {
	Items      []LeadRecord `json:"items"`
	TotalCount int          `json:"total_count"`
}
