package dynamo

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/recallbot/internal/domain"
)

// batchGetLimit is the DynamoDB maximum number of keys per BatchGetItem.
const batchGetLimit = 100

// IntentRepo provides typed DynamoDB operations for the intents table. All
// state transitions are conditional writes on the current status.
type IntentRepo struct {
	client    *dynamodb.Client
	tableName string
	now       func() time.Time
}

func NewIntentRepo(client *dynamodb.Client, tableName string) *IntentRepo {
	return &IntentRepo{client: client, tableName: tableName, now: func() time.Time { return time.Now().UTC() }}
}

// BeginIntent writes a pending intent, or takes over a failed one. When a
// pending or published intent exists, the condition fails and the stored
// item is returned with domain.ErrConflict.
func (r *IntentRepo) BeginIntent(ctx context.Context, in *domain.Intent) (*domain.Intent, error) {
	now, err := attributevalue.Marshal(in.UpdatedAt)
	if err != nil {
		return nil, err
	}
	created, err := attributevalue.Marshal(in.CreatedAt)
	if err != nil {
		return nil, err
	}
	out, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey(fieldRecallID, in.RecallID),
		UpdateExpression: aws.String("SET #run = :run, #st = :pending, #title = :title, #content = :content, " +
			"#err = :empty, #uri = :empty, #cid = :empty, #raw = :empty, #embed = :empty, " +
			"#created = if_not_exists(#created, :created), #updated = :now ADD #attempts :one"),
		ConditionExpression: aws.String("attribute_not_exists(#id) OR #st = :failed"),
		ExpressionAttributeNames: map[string]string{
			"#id":       fieldRecallID,
			"#run":      fieldRunID,
			"#st":       fieldStatus,
			"#title":    "title",
			"#content":  "content",
			"#err":      "error",
			"#uri":      fieldURI,
			"#cid":      "cid",
			"#raw":      "raw",
			"#embed":    "embed",
			"#created":  fieldCreatedAt,
			"#updated":  fieldUpdatedAt,
			"#attempts": fieldAttempts,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":run":     str(in.RunID),
			":pending": str(string(domain.IntentPending)),
			":failed":  str(string(domain.IntentFailed)),
			":title":   str(in.Title),
			":content": str(in.Content),
			":empty":   str(""),
			":created": created,
			":now":     now,
			":one":     &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues:                        types.ReturnValueAllNew,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if ccf, ok := isConditionFailed(err); ok {
		var cur domain.Intent
		if uerr := attributevalue.UnmarshalMap(ccf.Item, &cur); uerr != nil {
			return nil, uerr
		}
		return &cur, fmt.Errorf("intent for recall %s is %s: %w", in.RecallID, cur.Status, domain.ErrConflict)
	}
	if err != nil {
		return nil, err
	}
	var cur domain.Intent
	if err := attributevalue.UnmarshalMap(out.Attributes, &cur); err != nil {
		return nil, err
	}
	return &cur, nil
}

func (r *IntentRepo) CompleteIntent(ctx context.Context, recallID string, rc domain.Receipt) error {
	return r.transition(ctx, recallID, map[string]interface{}{
		fieldStatus:    string(domain.IntentPublished),
		fieldURI:       rc.URI,
		"cid":          rc.CID,
		"raw":          rc.Raw,
		"embed":        rc.Embed,
		fieldUpdatedAt: r.now(),
	})
}

func (r *IntentRepo) FailIntent(ctx context.Context, recallID, reason string) error {
	return r.transition(ctx, recallID, map[string]interface{}{
		fieldStatus:    string(domain.IntentFailed),
		"error":        reason,
		fieldUpdatedAt: r.now(),
	})
}

// transition applies updates to a pending intent only.
func (r *IntentRepo) transition(ctx context.Context, recallID string, updates map[string]interface{}) error {
	ue, err := buildUpdateExpr(updates)
	if err != nil {
		return err
	}
	ue = ue.with(
		map[string]string{"#cst": fieldStatus},
		map[string]types.AttributeValue{":cpending": str(string(domain.IntentPending))},
	)
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey(fieldRecallID, recallID),
		UpdateExpression:          aws.String(ue.Expr),
		ConditionExpression:       aws.String("#cst = :cpending"),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	})
	if _, ok := isConditionFailed(err); ok {
		return fmt.Errorf("no pending intent for recall %s: %w", recallID, domain.ErrConflict)
	}
	return err
}

func (r *IntentRepo) ReleaseIntent(ctx context.Context, recallID string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                aws.String(r.tableName),
		Key:                      strKey(fieldRecallID, recallID),
		ConditionExpression:      aws.String("attribute_exists(#id) AND #st <> :published"),
		ExpressionAttributeNames: map[string]string{"#id": fieldRecallID, "#st": fieldStatus},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":published": str(string(domain.IntentPublished)),
		},
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if ccf, ok := isConditionFailed(err); ok {
		if len(ccf.Item) == 0 {
			return fmt.Errorf("intent for recall %s: %w", recallID, domain.ErrNotFound)
		}
		return fmt.Errorf("intent for recall %s is published: %w", recallID, domain.ErrConflict)
	}
	return err
}

func (r *IntentRepo) ListIntents(ctx context.Context, status domain.IntentStatus, recallIDs []string) ([]domain.Intent, error) {
	var (
		all []domain.Intent
		err error
	)
	if recallIDs == nil {
		all, err = scanAll[domain.Intent](ctx, r.client, &dynamodb.ScanInput{
			TableName:                 aws.String(r.tableName),
			FilterExpression:          aws.String("#st = :s"),
			ExpressionAttributeNames:  map[string]string{"#st": fieldStatus},
			ExpressionAttributeValues: map[string]types.AttributeValue{":s": str(string(status))},
		})
	} else {
		all, err = r.batchGet(ctx, recallIDs)
	}
	if err != nil {
		return nil, err
	}
	out := []domain.Intent{}
	for _, in := range all {
		if in.Status == status {
			out = append(out, in)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecallID < out[j].RecallID })
	return out, nil
}

func (r *IntentRepo) batchGet(ctx context.Context, recallIDs []string) ([]domain.Intent, error) {
	out := []domain.Intent{}
	seen := make(map[string]bool, len(recallIDs))
	for start := 0; start < len(recallIDs); start += batchGetLimit {
		end := min(start+batchGetLimit, len(recallIDs))
		var keys []map[string]types.AttributeValue
		for _, id := range recallIDs[start:end] {
			if seen[id] {
				continue
			}
			seen[id] = true
			keys = append(keys, strKey(fieldRecallID, id))
		}
		for len(keys) > 0 {
			res, err := r.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{
				RequestItems: map[string]types.KeysAndAttributes{
					r.tableName: {Keys: keys, ConsistentRead: aws.Bool(true)},
				},
			})
			if err != nil {
				return nil, err
			}
			var items []domain.Intent
			if err := attributevalue.UnmarshalListOfMaps(res.Responses[r.tableName], &items); err != nil {
				return nil, err
			}
			out = append(out, items...)
			keys = res.UnprocessedKeys[r.tableName].Keys
		}
	}
	return out, nil
}

func (r *IntentRepo) getIntent(ctx context.Context, recallID string) (*domain.Intent, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            strKey(fieldRecallID, recallID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("intent for recall %s: %w", recallID, domain.ErrNotFound)
	}
	var in domain.Intent
	if err := attributevalue.UnmarshalMap(out.Item, &in); err != nil {
		return nil, err
	}
	return &in, nil
}

func (r *IntentRepo) deleteIntent(ctx context.Context, recallID string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey(fieldRecallID, recallID),
	})
	return err
}
