package sns

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/recallbot/internal/domain"
	"github.com/rs/zerolog"
)

const serviceName = "sns"

// API is the subset of the SNS client used here.
type API interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Broadcaster publishes drafts to an SNS topic. The receipt uri is
// "<topicArn>/<messageId>".
type Broadcaster struct {
	client   API
	topicArn string
	dryRun   bool
	log      zerolog.Logger
}

// NewClient creates an SNS client. When endpointURL is set (LocalStack),
// it overrides the endpoint.
func NewClient(awsCfg aws.Config, endpointURL string) *sns.Client {
	clientOpts := []func(*sns.Options){}
	if endpointURL != "" {
		clientOpts = append(clientOpts, func(o *sns.Options) {
			o.BaseEndpoint = aws.String(endpointURL)
		})
	}
	return sns.NewFromConfig(awsCfg, clientOpts...)
}

func NewBroadcaster(client API, topicArn string, dryRun bool, log zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		client:   client,
		topicArn: topicArn,
		dryRun:   dryRun,
		log:      log.With().Str("component", "sns").Logger(),
	}
}

func (b *Broadcaster) Name() string { return serviceName }

func (b *Broadcaster) Publish(ctx context.Context, d domain.Draft) (domain.Receipt, error) {
	if strings.TrimSpace(d.Text) == "" {
		return domain.Receipt{}, fmt.Errorf("empty message: %w", domain.ErrBadRequest)
	}
	msg := message(d)
	rc := domain.Receipt{Raw: msg}
	if b.dryRun {
		b.log.Info().Str("recall_id", d.RecallID).Msg("dry run, message not sent")
		return rc, nil
	}
	if b.topicArn == "" {
		return domain.Receipt{}, errors.New("sns topic is not configured")
	}
	out, err := b.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(b.topicArn),
		Subject:  aws.String(d.Title),
		Message:  aws.String(msg),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"recall_id": {DataType: aws.String("String"), StringValue: aws.String(d.RecallID)},
		},
	})
	if err != nil {
		return domain.Receipt{}, err
	}
	id := aws.ToString(out.MessageId)
	if id == "" {
		return domain.Receipt{}, errors.New("sns returned no message id")
	}
	rc.URI = b.topicArn + "/" + id
	rc.CID = id
	return rc, nil
}

// message appends the link to the text, since SNS has no link cards.
func message(d domain.Draft) string {
	if d.LinkURI == "" {
		return d.Text
	}
	return d.Text + "\n\n" + d.LinkURI
}
