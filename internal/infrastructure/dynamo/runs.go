package dynamo

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/recallbot/internal/domain"
)

// RunRepo provides typed DynamoDB operations for the runs table. Runs of
// the publish-by-id path carry no source key and stay out of the GSI.
type RunRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewRunRepo(client *dynamodb.Client, tableName string) *RunRepo {
	return &RunRepo{client: client, tableName: tableName}
}

func (r *RunRepo) CreateRun(ctx context.Context, run *domain.Run) error {
	ok, err := putNew(ctx, r.client, r.tableName, fieldRunID, run)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("run %s: %w", run.RunID, domain.ErrConflict)
	}
	return nil
}

// UpdateRun replaces the stored run. The run must already exist.
func (r *RunRepo) UpdateRun(ctx context.Context, run *domain.Run) error {
	item, err := attributevalue.MarshalMap(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(r.tableName),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_exists(#k)"),
		ExpressionAttributeNames: map[string]string{"#k": fieldRunID},
	})
	if _, ok := isConditionFailed(err); ok {
		return fmt.Errorf("run %s: %w", run.RunID, domain.ErrNotFound)
	}
	return err
}

func (r *RunRepo) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            strKey(fieldRunID, runID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("run %s: %w", runID, domain.ErrNotFound)
	}
	var run domain.Run
	if err := attributevalue.UnmarshalMap(out.Item, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns returns the runs of a source in any of statuses, oldest first.
// An empty sourceKey lists the runs started for explicit recall ids.
func (r *RunRepo) ListRuns(ctx context.Context, sourceKey string, statuses ...domain.RunStatus) ([]domain.Run, error) {
	var (
		runs []domain.Run
		err  error
	)
	if sourceKey == "" {
		runs, err = scanAll[domain.Run](ctx, r.client, &dynamodb.ScanInput{
			TableName:                aws.String(r.tableName),
			FilterExpression:         aws.String("attribute_not_exists(#k)"),
			ExpressionAttributeNames: map[string]string{"#k": fieldSourceKey},
		})
	} else {
		runs, err = queryAll[domain.Run](ctx, r.client, eqQuery(r.tableName, indexSourceKey, fieldSourceKey, sourceKey))
	}
	if err != nil {
		return nil, err
	}
	out := filterRuns(runs, statuses)
	sort.Slice(out, func(i, j int) bool { return out[i].RunID < out[j].RunID })
	return out, nil
}

func filterRuns(runs []domain.Run, statuses []domain.RunStatus) []domain.Run {
	if len(statuses) == 0 {
		return runs
	}
	want := make(map[domain.RunStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	out := runs[:0]
	for _, run := range runs {
		if want[run.Status] {
			out = append(out, run)
		}
	}
	return out
}
