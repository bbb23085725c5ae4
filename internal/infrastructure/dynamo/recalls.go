package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/recallbot/internal/domain"
)

// RecallRepo provides typed DynamoDB operations for the recalls table. The
// natural key is the primary key. A second table maps each recall id to its
// natural key so lookups by id are strongly consistent reads.
type RecallRepo struct {
	client    *dynamodb.Client
	tableName string
	idsTable  string
	posts     *PostRepo
	intents   *IntentRepo
}

// recallRef is the item of the recall id table.
type recallRef struct {
	RecallID   string `dynamodbav:"recall_id"`
	NaturalKey string `dynamodbav:"natural_key"`
}

func NewRecallRepo(client *dynamodb.Client, tableName, idsTable string, posts *PostRepo, intents *IntentRepo) *RecallRepo {
	return &RecallRepo{client: client, tableName: tableName, idsTable: idsTable, posts: posts, intents: intents}
}

// InsertRecallsSkipDuplicates writes each recall together with its id
// mapping in one transaction. DynamoDB has no transaction large enough for a
// full feed, so a failure part way returns the rows written so far with the
// error.
func (r *RecallRepo) InsertRecallsSkipDuplicates(ctx context.Context, recalls []domain.Recall) ([]domain.Recall, error) {
	out := []domain.Recall{}
	for _, rc := range recalls {
		ok, err := r.putRecall(ctx, rc)
		if err != nil {
			return out, fmt.Errorf("insert recall %s: %w", rc.NaturalKey, err)
		}
		if ok {
			out = append(out, rc)
		}
	}
	return out, nil
}

// putRecall reports false when the natural key is already taken.
func (r *RecallRepo) putRecall(ctx context.Context, rc domain.Recall) (bool, error) {
	item, err := attributevalue.MarshalMap(rc)
	if err != nil {
		return false, fmt.Errorf("marshal recall: %w", err)
	}
	ref, err := attributevalue.MarshalMap(recallRef{RecallID: rc.RecallID, NaturalKey: rc.NaturalKey})
	if err != nil {
		return false, fmt.Errorf("marshal recall ref: %w", err)
	}
	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:                aws.String(r.tableName),
				Item:                     item,
				ConditionExpression:      aws.String("attribute_not_exists(#k)"),
				ExpressionAttributeNames: map[string]string{"#k": fieldNaturalKey},
			}},
			{Put: &types.Put{
				TableName:                aws.String(r.idsTable),
				Item:                     ref,
				ConditionExpression:      aws.String("attribute_not_exists(#k)"),
				ExpressionAttributeNames: map[string]string{"#k": fieldRecallID},
			}},
		},
	})
	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) && len(tce.CancellationReasons) > 0 &&
		aws.ToString(tce.CancellationReasons[0].Code) == "ConditionalCheckFailed" {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SelectRecallsWithoutPost only uses strongly consistent reads, so a recall
// inserted by the same run is always seen. Recalls with a pending or
// published intent are excluded by the intent read even while the posts
// index lags.
func (r *RecallRepo) SelectRecallsWithoutPost(ctx context.Context, ids []string) ([]domain.Recall, error) {
	var (
		candidates []domain.Recall
		err        error
	)
	if ids == nil {
		candidates, err = scanAll[domain.Recall](ctx, r.client, &dynamodb.ScanInput{
			TableName:      aws.String(r.tableName),
			ConsistentRead: aws.Bool(true),
		})
		if err != nil {
			return nil, err
		}
	} else {
		for _, id := range ids {
			rc, err := r.GetRecall(ctx, id)
			if err != nil {
				// Reads are consistent, so missing means deleted.
				if isNotFound(err) {
					continue
				}
				return nil, err
			}
			candidates = append(candidates, *rc)
		}
	}

	out := []domain.Recall{}
	for _, rc := range candidates {
		posted, err := r.posts.hasPost(ctx, rc.RecallID)
		if err != nil {
			return nil, err
		}
		if posted {
			continue
		}
		in, err := r.intents.getIntent(ctx, rc.RecallID)
		if err != nil && !isNotFound(err) {
			return nil, err
		}
		if in != nil && in.Status != domain.IntentFailed {
			continue
		}
		out = append(out, rc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecallID < out[j].RecallID })
	return out, nil
}

func (r *RecallRepo) GetRecall(ctx context.Context, recallID string) (*domain.Recall, error) {
	refOut, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.idsTable),
		Key:            strKey(fieldRecallID, recallID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if refOut.Item == nil {
		return nil, fmt.Errorf("recall %s: %w", recallID, domain.ErrNotFound)
	}
	var ref recallRef
	if err := attributevalue.UnmarshalMap(refOut.Item, &ref); err != nil {
		return nil, err
	}
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            strKey(fieldNaturalKey, ref.NaturalKey),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("recall %s: %w", recallID, domain.ErrNotFound)
	}
	var rc domain.Recall
	if err := attributevalue.UnmarshalMap(out.Item, &rc); err != nil {
		return nil, err
	}
	return &rc, nil
}

// ListRecalls pages newest first. The search term matches product, company
// or reason case-insensitively.
func (r *RecallRepo) ListRecalls(ctx context.Context, q domain.RecallQuery) ([]domain.Recall, string, error) {
	all, err := scanAll[domain.Recall](ctx, r.client, &dynamodb.ScanInput{TableName: aws.String(r.tableName)})
	if err != nil {
		return nil, "", err
	}
	if q.Search != "" {
		all = filterRecalls(all, q.Search)
	}
	return pageDesc(all, func(rc domain.Recall) string { return rc.RecallID }, q.Limit, q.Cursor)
}

// DeleteRecall removes a recall and its intent. Its posts are kept without
// a recall reference.
func (r *RecallRepo) DeleteRecall(ctx context.Context, recallID string) error {
	rc, err := r.GetRecall(ctx, recallID)
	if err != nil {
		return err
	}
	if err := r.posts.detachPosts(ctx, recallID); err != nil {
		return err
	}
	if err := r.intents.deleteIntent(ctx, recallID); err != nil {
		return err
	}
	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Delete: &types.Delete{TableName: aws.String(r.tableName), Key: strKey(fieldNaturalKey, rc.NaturalKey)}},
			{Delete: &types.Delete{TableName: aws.String(r.idsTable), Key: strKey(fieldRecallID, recallID)}},
		},
	})
	return err
}

func filterRecalls(all []domain.Recall, search string) []domain.Recall {
	term := strings.ToLower(search)
	out := all[:0]
	for _, rc := range all {
		if strings.Contains(strings.ToLower(rc.Product), term) ||
			strings.Contains(strings.ToLower(rc.Company), term) ||
			strings.Contains(strings.ToLower(rc.Reason), term) {
			out = append(out, rc)
		}
	}
	return out
}
