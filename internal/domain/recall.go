package domain

import "time"

// Candidate is a record as returned by a fetcher, before it has been
// attached to a source and persisted.
type Candidate struct {
	NaturalKey string     `json:"natural_key" validate:"required,url"`
	LinkText   string     `json:"link_text"`
	Product    string     `json:"product" validate:"required"`
	Category   string     `json:"category"`
	Reason     string     `json:"reason"`
	Company    string     `json:"company"`
	Date       *time.Time `json:"date,omitempty"`
}

// Recall is a persisted, deduplicated record. NaturalKey is globally unique.
type Recall struct {
	RecallID   string     `json:"id" dynamodbav:"recall_id"`
	SourceID   string     `json:"source_id" dynamodbav:"source_id"`
	NaturalKey string     `json:"natural_key" dynamodbav:"natural_key"`
	LinkText   string     `json:"link_text" dynamodbav:"link_text"`
	Product    string     `json:"product" dynamodbav:"product"`
	Category   string     `json:"category" dynamodbav:"category"`
	Reason     string     `json:"reason" dynamodbav:"reason"`
	Company    string     `json:"company" dynamodbav:"company"`
	Date       *time.Time `json:"date,omitempty" dynamodbav:"event_date,omitempty"`
	CreatedAt  time.Time  `json:"created" dynamodbav:"created_at"`
	UpdatedAt  time.Time  `json:"updated" dynamodbav:"updated_at"`
}

// RecallQuery filters the read-side recall listing.
type RecallQuery struct {
	Limit  int
	Cursor string
	Search string
}
