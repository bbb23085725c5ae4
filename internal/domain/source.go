package domain

import "time"

// Source is an upstream data provider, e.g. "US-FDA".
type Source struct {
	SourceID  string    `json:"id" dynamodbav:"source_id"`
	Key       string    `json:"key" dynamodbav:"source_key"`
	Name      string    `json:"name" dynamodbav:"name"`
	CreatedAt time.Time `json:"created" dynamodbav:"created_at"`
	UpdatedAt time.Time `json:"updated" dynamodbav:"updated_at"`
}
