package domain

import "time"

// Post is the persisted receipt of one outbound notification. URI is the
// natural key and is never empty once stored. RecallID is emptied when the
// recall is deleted; the post is kept for audit.
type Post struct {
	PostID    string    `json:"id" dynamodbav:"post_id"`
	RecallID  string    `json:"recall_id" dynamodbav:"recall_id,omitempty"`
	Title     string    `json:"title" dynamodbav:"title"`
	Content   string    `json:"content" dynamodbav:"content"`
	URI       string    `json:"uri" dynamodbav:"uri"`
	CID       string    `json:"cid" dynamodbav:"cid"`
	Raw       string    `json:"raw,omitempty" dynamodbav:"raw"`
	Embed     string    `json:"embed,omitempty" dynamodbav:"embed"`
	CreatedAt time.Time `json:"created" dynamodbav:"created_at"`
	UpdatedAt time.Time `json:"updated" dynamodbav:"updated_at"`
}

// Draft is the rendered, not yet published form of a notification.
type Draft struct {
	RecallID        string
	Title           string
	Text            string
	LinkURI         string
	LinkTitle       string
	LinkDescription string
	Langs           []string
}

// Receipt is what a broadcaster returns for a delivered draft. URI and CID
// are empty in dry-run mode.
type Receipt struct {
	URI   string
	CID   string
	Raw   string
	Embed string
}
