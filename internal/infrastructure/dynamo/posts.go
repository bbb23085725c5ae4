package dynamo

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/recallbot/internal/domain"
)

// PostRepo provides typed DynamoDB operations for the posts table. The uri
// is the primary key, so a second post for the same uri is never written.
type PostRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewPostRepo(client *dynamodb.Client, tableName string) *PostRepo {
	return &PostRepo{client: client, tableName: tableName}
}

func (r *PostRepo) InsertPostsSkipDuplicates(ctx context.Context, posts []domain.Post) ([]domain.Post, error) {
	out := []domain.Post{}
	for _, p := range posts {
		if p.URI == "" {
			return out, fmt.Errorf("post for recall %s has no uri: %w", p.RecallID, domain.ErrBadRequest)
		}
		ok, err := putNew(ctx, r.client, r.tableName, fieldURI, p)
		if err != nil {
			return out, fmt.Errorf("insert post %s: %w", p.URI, err)
		}
		if ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// ListPosts pages newest first.
func (r *PostRepo) ListPosts(ctx context.Context, limit int, cursor string) ([]domain.Post, string, error) {
	all, err := scanAll[domain.Post](ctx, r.client, &dynamodb.ScanInput{TableName: aws.String(r.tableName)})
	if err != nil {
		return nil, "", err
	}
	return pageDesc(all, func(p domain.Post) string { return p.PostID }, limit, cursor)
}

func (r *PostRepo) postsForRecall(ctx context.Context, recallID string) ([]domain.Post, error) {
	return queryAll[domain.Post](ctx, r.client, eqQuery(r.tableName, indexRecallID, fieldRecallID, recallID))
}

func (r *PostRepo) hasPost(ctx context.Context, recallID string) (bool, error) {
	in := eqQuery(r.tableName, indexRecallID, fieldRecallID, recallID)
	in.Select = types.SelectCount
	in.Limit = aws.Int32(1)
	out, err := r.client.Query(ctx, in)
	if err != nil {
		return false, err
	}
	return out.Count > 0, nil
}

// detachPosts removes the recall reference from every post of a deleted
// recall. The posts themselves are kept.
func (r *PostRepo) detachPosts(ctx context.Context, recallID string) error {
	posts, err := r.postsForRecall(ctx, recallID)
	if err != nil {
		return err
	}
	for _, p := range posts {
		_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                aws.String(r.tableName),
			Key:                      strKey(fieldURI, p.URI),
			UpdateExpression:         aws.String("REMOVE #r"),
			ExpressionAttributeNames: map[string]string{"#r": fieldRecallID},
		})
		if err != nil {
			return fmt.Errorf("detach post %s: %w", p.URI, err)
		}
	}
	return nil
}
