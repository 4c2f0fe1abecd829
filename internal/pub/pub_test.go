package pub

import (
	"context"
	"os"
	"testing"
	"time"

	"stockcontrol/internal/types"

	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSNS struct {
	inputs []*sns.PublishInput
}

func (f *fakeSNS) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.inputs = append(f.inputs, in)
	return &sns.PublishOutput{}, nil
}

func update() types.DisplayUpdate {
	return types.DisplayUpdate{
		Actor: "alice",
		Shop:  "market",
		Offers: []types.OfferDisplay{
			{Slot: 0, Trade: "bread", DisplayPair: types.DisplayPair{Used: 3, Max: 10}},
		},
	}
}

func TestSNSPusher(t *testing.T) {
	fake := &fakeSNS{}
	p := &SNSPusher{cli: fake, topic: "arn:aws:sns:us-east-1:000000000000:display"}
	require.NoError(t, p.PushDisplay(context.Background(), update()))

	require.Len(t, fake.inputs, 1)
	in := fake.inputs[0]
	assert.Equal(t, "arn:aws:sns:us-east-1:000000000000:display", *in.TopicArn)
	assert.Equal(t, "alice", *in.MessageAttributes["actor"].StringValue)
	assert.Equal(t, "market", *in.MessageAttributes["shop"].StringValue)

	var got types.DisplayUpdate
	require.NoError(t, json.Unmarshal([]byte(*in.Message), &got))
	assert.Equal(t, update(), got)
}

func TestLogPusher(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()
	level := log.GetLevel()
	log.SetLevel(log.DebugLevel)
	defer log.SetLevel(level)

	require.NoError(t, LogPusher{}.PushDisplay(context.Background(), update()))
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "display update", hook.LastEntry().Message)
	assert.Equal(t, "alice", hook.LastEntry().Data["actor"])
}

func TestRedisPusher(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	cli := redis.NewClient(&redis.Options{Addr: addr})
	defer cli.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sub := cli.Subscribe(ctx, DisplayChannel("alice"))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, NewRedis(cli).PushDisplay(ctx, update()))
	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var got types.DisplayUpdate
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, update(), got)
}
