package pub

import (
	"context"
	"fmt"

	"stockcontrol/internal/types"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

const displayChannelTemplate = "stockcontrol:display:%s"

// DisplayChannel is the pub/sub channel the host subscribes to for one actor's updates.
func DisplayChannel(actor string) string {
	return fmt.Sprintf(displayChannelTemplate, actor)
}

type RedisPusher struct {
	cli *redis.Client
}

func NewRedis(cli *redis.Client) *RedisPusher {
	return &RedisPusher{cli: cli}
}

func (p *RedisPusher) PushDisplay(ctx context.Context, update types.DisplayUpdate) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return err
	}
	return p.cli.Publish(ctx, DisplayChannel(update.Actor), payload).Err()
}
