package dynamo

// DynamoDB attribute and index names used in key and update expressions.
// Using constants prevents silent runtime bugs caused by key typos.
const (
	fieldSourceKey  = "source_key"
	fieldNaturalKey = "natural_key"
	fieldRecallID   = "recall_id"
	fieldURI        = "uri"
	fieldRunID      = "run_id"
	fieldStatus     = "status"
	fieldAttempts   = "attempts"
	fieldCreatedAt  = "created_at"
	fieldUpdatedAt  = "updated_at"

	indexRecallID  = "recall_id-index"
	indexSourceKey = "source_key-run_id-index"
)
