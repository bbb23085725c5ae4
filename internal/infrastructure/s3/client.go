package s3infra

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/recallbot/internal/domain"
)

// API is the subset of the S3 client used here.
type API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Store archives post payloads to S3.
type Store struct {
	client API
	bucket string
	prefix string
}

// NewClient creates an S3 client. When endpointURL is set (LocalStack),
// it overrides the endpoint and enables path-style addressing.
func NewClient(awsCfg aws.Config, endpointURL string) *s3.Client {
	clientOpts := []func(*s3.Options){}
	if endpointURL != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpointURL)
			o.UsePathStyle = true
		})
	}
	return s3.NewFromConfig(awsCfg, clientOpts...)
}

// NewStore creates a Store with the given S3 client and bucket name.
func NewStore(client API, bucket string) *Store {
	return &Store{client: client, bucket: bucket, prefix: "posts"}
}

// Upload streams a blob to S3 under key and returns the object URL.
func (s *Store) Upload(ctx context.Context, key string, r io.Reader, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        r,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("s3 put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// Archive writes the raw and embed payloads of p under posts/<post_id>/.
// Empty payloads are skipped.
func (s *Store) Archive(ctx context.Context, p domain.Post) error {
	blobs := []struct{ name, body string }{
		{"raw", p.Raw},
		{"embed", p.Embed},
	}
	for _, b := range blobs {
		if b.body == "" {
			continue
		}
		key := s.key(p.PostID, b.name)
		if _, err := s.Upload(ctx, key, strings.NewReader(b.body), detectContentType(b.body)); err != nil {
			return fmt.Errorf("archive post %s %s: %w", p.PostID, b.name, err)
		}
	}
	return nil
}

func (s *Store) key(postID, name string) string {
	return path.Join(s.prefix, postID, name+".json")
}

// detectContentType tells JSON payloads from plain message text.
func detectContentType(body string) string {
	trimmed := strings.TrimSpace(body)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		return "application/json"
	}
	return "text/plain; charset=utf-8"
}
