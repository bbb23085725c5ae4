package domain

import "time"

type IntentStatus string

const (
	IntentPending   IntentStatus = "pending"
	IntentPublished IntentStatus = "published"
	IntentFailed    IntentStatus = "failed"
)

// Intent is the write-ahead record of a publication, keyed by recall. It is
// written before the broadcaster is called and carries the receipt once the
// call succeeds, so a crash between publishing and persisting the Post can
// be repaired without publishing again.
type Intent struct {
	RecallID  string       `json:"recall_id" dynamodbav:"recall_id"`
	RunID     string       `json:"run_id" dynamodbav:"run_id"`
	Status    IntentStatus `json:"status" dynamodbav:"status"`
	Title     string       `json:"title,omitempty" dynamodbav:"title"`
	Content   string       `json:"content,omitempty" dynamodbav:"content"`
	URI       string       `json:"uri,omitempty" dynamodbav:"uri"`
	CID       string       `json:"cid,omitempty" dynamodbav:"cid"`
	Raw       string       `json:"-" dynamodbav:"raw"`
	Embed     string       `json:"-" dynamodbav:"embed"`
	Error     string       `json:"error,omitempty" dynamodbav:"error"`
	Attempts  int          `json:"attempts" dynamodbav:"attempts"`
	CreatedAt time.Time    `json:"created" dynamodbav:"created_at"`
	UpdatedAt time.Time    `json:"updated" dynamodbav:"updated_at"`
}
