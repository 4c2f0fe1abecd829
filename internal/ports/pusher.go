package ports

import (
	"context"
	"stockcontrol/internal/types"
)

// DisplayPusher delivers refreshed offer numbers to one connected actor.
// It is fire-and-forget: an actor that is no longer reachable is simply skipped.
type DisplayPusher interface {
	PushDisplay(ctx context.Context, update types.DisplayUpdate) error
}
