package flow

import (
	"sync"
	"time"

	"stockcontrol/internal/types"
)

// Presence remembers when each actor last interacted with a shop. It feeds the inactivity purge.
type Presence struct {
	seen sync.Map // actor -> time.Time
}

func NewPresence() *Presence {
	return &Presence{}
}

func (p *Presence) Seen(actor string) {
	p.seen.Store(actor, types.Now())
}

// SeenAt records a last-seen time reported by the host, keeping the most recent one.
func (p *Presence) SeenAt(actor string, at time.Time) {
	for {
		prev, loaded := p.seen.LoadOrStore(actor, at)
		if !loaded || !prev.(time.Time).Before(at) {
			return
		}
		if p.seen.CompareAndSwap(actor, prev, at) {
			return
		}
	}
}

func (p *Presence) LastSeen(actor string) (time.Time, bool) {
	v, ok := p.seen.Load(actor)
	if !ok {
		return time.Time{}, false
	}
	return v.(time.Time), true
}
