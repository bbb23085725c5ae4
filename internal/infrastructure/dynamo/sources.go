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

// SourceRepo provides typed DynamoDB operations for the sources table.
type SourceRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewSourceRepo(client *dynamodb.Client, tableName string) *SourceRepo {
	return &SourceRepo{client: client, tableName: tableName}
}

func (r *SourceRepo) GetSourceByKey(ctx context.Context, key string) (*domain.Source, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey(fieldSourceKey, key),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("source %s: %w", key, domain.ErrNotFound)
	}
	var s domain.Source
	if err := attributevalue.UnmarshalMap(out.Item, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SourceRepo) CreateSource(ctx context.Context, s *domain.Source) error {
	ok, err := putNew(ctx, r.client, r.tableName, fieldSourceKey, s)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("source %s: %w", s.Key, domain.ErrConflict)
	}
	return nil
}

func (r *SourceRepo) ListSources(ctx context.Context) ([]domain.Source, error) {
	out, err := scanAll[domain.Source](ctx, r.client, &dynamodb.ScanInput{TableName: aws.String(r.tableName)})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
