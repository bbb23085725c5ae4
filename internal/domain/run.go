package domain

import "time"

// Stage names a pipeline step. A run records the last stage it completed.
type Stage string

const (
	StageNone              Stage = ""
	StageFetch             Stage = "fetch"
	StageResolveSource     Stage = "resolve_source"
	StageDedupeInsert      Stage = "dedupe_insert"
	StageSelectUnpublished Stage = "select_unpublished"
	StagePublish           Stage = "publish"
	StagePersist           Stage = "persist"
)

var stageOrder = map[Stage]int{
	StageNone:              0,
	StageFetch:             1,
	StageResolveSource:     2,
	StageDedupeInsert:      3,
	StageSelectUnpublished: 4,
	StagePublish:           5,
	StagePersist:           6,
}

// Done reports whether a run whose last completed stage is s has already
// passed other.
func (s Stage) Done(other Stage) bool {
	return stageOrder[s] >= stageOrder[other]
}

type RunStatus string

const (
	RunRunning  RunStatus = "running"
	RunPending  RunStatus = "pending" // halted after select_unpublished, waiting for publish
	RunComplete RunStatus = "complete"
	RunNoop     RunStatus = "noop"
	RunFailed   RunStatus = "failed"
)

// Run is the durable step log of one pipeline invocation.
type Run struct {
	RunID       string     `json:"id" dynamodbav:"run_id"`
	SourceKey   string     `json:"source" dynamodbav:"source_key,omitempty"`
	Trigger     string     `json:"trigger" dynamodbav:"trigger"`
	Status      RunStatus  `json:"status" dynamodbav:"status"`
	Stage       Stage      `json:"stage" dynamodbav:"stage"`
	FailedStage Stage      `json:"failed_stage,omitempty" dynamodbav:"failed_stage"`
	Error       string     `json:"error,omitempty" dynamodbav:"error"`
	RecallIDs   []string   `json:"recall_ids" dynamodbav:"recall_ids"`
	Inserted    int        `json:"inserted" dynamodbav:"inserted"`
	Published   int        `json:"published" dynamodbav:"published"`
	Attempts    int        `json:"attempts" dynamodbav:"attempts"`
	StartedAt   time.Time  `json:"started" dynamodbav:"started_at"`
	UpdatedAt   time.Time  `json:"updated" dynamodbav:"updated_at"`
	FinishedAt  *time.Time `json:"finished,omitempty" dynamodbav:"finished_at,omitempty"`
}
