package pub

import (
	"context"

	"stockcontrol/internal/types"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snsTypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/goccy/go-json"
)

type snsPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSPusher publishes display updates to one topic. Subscribers filter on the "actor" and "shop"
// message attributes.
type SNSPusher struct {
	cli   snsPublisher
	topic string
}

func NewSNS(c *sns.Client, topicArn string) *SNSPusher {
	return &SNSPusher{cli: c, topic: topicArn}
}

func (s *SNSPusher) PushDisplay(ctx context.Context, update types.DisplayUpdate) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return err
	}
	_, err = s.cli.Publish(ctx, &sns.PublishInput{
		TopicArn: &s.topic,
		Message:  aws.String(string(payload)),
		MessageAttributes: map[string]snsTypes.MessageAttributeValue{
			"content-type": {DataType: aws.String("String"), StringValue: aws.String("application/json")},
			"actor":        {DataType: aws.String("String"), StringValue: aws.String(update.Actor)},
			"shop":         {DataType: aws.String("String"), StringValue: aws.String(update.Shop)},
		},
	})
	return err
}
