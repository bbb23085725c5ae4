package dynamo

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/recallbot/internal/config"
)

// Store bundles the per-table repos into the persistence contract used by
// the pipeline and the read API.
type Store struct {
	*SourceRepo
	*RecallRepo
	*PostRepo
	*RunRepo
	*IntentRepo

	client    *dynamodb.Client
	pingTable string
}

func NewStore(client *dynamodb.Client, tables config.DynamoTables) *Store {
	posts := NewPostRepo(client, tables.Posts)
	intents := NewIntentRepo(client, tables.Intents)
	return &Store{
		SourceRepo: NewSourceRepo(client, tables.Sources),
		RecallRepo: NewRecallRepo(client, tables.Recalls, tables.RecallIDs, posts, intents),
		PostRepo:   posts,
		RunRepo:    NewRunRepo(client, tables.Runs),
		IntentRepo: intents,
		client:     client,
		pingTable:  tables.Sources,
	}
}

// Ping checks that the sources table is reachable.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.pingTable)})
	return err
}

func (s *Store) Close() error { return nil }
