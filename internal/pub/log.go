package pub

import (
	"context"

	"stockcontrol/internal/types"

	log "github.com/sirupsen/logrus"
)

// LogPusher only logs updates. It is used when no push transport is configured.
type LogPusher struct{}

func (LogPusher) PushDisplay(_ context.Context, update types.DisplayUpdate) error {
	log.WithFields(log.Fields{
		"actor":  update.Actor,
		"shop":   update.Shop,
		"offers": len(update.Offers),
	}).Debug("display update")
	return nil
}
