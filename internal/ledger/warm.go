package ledger

import (
	"context"
	"sync"
	"time"

	"stockcontrol/internal/types"

	log "github.com/sirupsen/logrus"
)

// warmRetryBackoff is how long a failed fill is remembered before a decision may start another one.
// Opening the shop again retries at once.
const warmRetryBackoff = 30 * time.Second

type warmKey struct {
	actor string // empty for the pool records of a shop
	shop  string
}

// warmup is one cache fill. err and at are set before done is closed.
type warmup struct {
	done chan struct{}
	err  error
	at   time.Time
}

// stale reports whether a finished fill failed and may be replaced.
func (wu *warmup) stale(retry bool, now time.Time) bool {
	select {
	case <-wu.done:
	default:
		return false
	}
	if wu.err == nil {
		return false
	}
	return retry || now.Sub(wu.at) >= warmRetryBackoff
}

// warmer runs at most one cache fill per key. Later callers share the first caller's fill, and a
// failed fill keeps answering until it is retried.
type warmer struct {
	calls sync.Map // warmKey -> *warmup
	wg    sync.WaitGroup
}

func (w *warmer) start(k warmKey, retry bool, load func() error) *warmup {
	wu := &warmup{done: make(chan struct{})}
	for {
		v, loaded := w.calls.LoadOrStore(k, wu)
		if !loaded {
			break
		}
		prev := v.(*warmup)
		if !prev.stale(retry, types.Now()) {
			return prev
		}
		if w.calls.CompareAndSwap(k, prev, wu) {
			break
		}
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		wu.err = load()
		wu.at = types.Now()
		close(wu.done)
	}()
	return wu
}

func (w *warmer) forget(match func(warmKey) bool) {
	w.calls.Range(func(key, _ any) bool {
		if match(key.(warmKey)) {
			w.calls.Delete(key)
		}
		return true
	})
}

// Prewarm loads the actor's records for a shop, and the shop's pool records when it is pooled, in the
// background. Records already cached are kept. A fill that failed earlier is retried.
func (s *Stock) Prewarm(actor, shopID string) {
	s.prewarm(actor, shopID, true)
}

func (s *Stock) prewarm(actor, shopID string, retry bool) []*warmup {
	shop := s.catalog.Load().Shop(shopID)
	if shop == nil || !shop.Enabled {
		return nil
	}
	out := []*warmup{s.warm.start(warmKey{actor: actor, shop: shopID}, retry, func() error {
		return s.fillActorShop(actor, shopID)
	})}
	if shop.Pooled() {
		out = append(out, s.warm.start(warmKey{shop: shopID}, retry, func() error {
			return s.fillPoolShop(shopID)
		}))
	}
	return out
}

// WaitWarm blocks until the records of the actor in the shop are cached, starting the load if the
// shop was never opened. It gives up after the configured warm wait; on store failure the cache
// serves what it has. A failed fill is not retried from here until warmRetryBackoff has passed.
func (s *Stock) WaitWarm(ctx context.Context, actor, shopID string) error {
	pending := s.prewarm(actor, shopID, false)
	if s.warmWait <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.warmWait)
	defer cancel()
	for _, wu := range pending {
		select {
		case <-wu.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *Stock) fillActorShop(actor, shopID string) error {
	s.storeMu.RLock()
	defer s.storeMu.RUnlock()
	states, err := s.store.LoadActorShop(s.ctx, actor, shopID)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{"actor": actor, "shop": shopID}).
			Error("failed to pre-warm trade state, serving from cache")
		return err
	}
	for _, st := range states {
		s.actors.recs.fill(st.ID(), st.Counter)
	}
	log.WithFields(log.Fields{"actor": actor, "shop": shopID, "records": len(states)}).Debug("pre-warmed trade state")
	return nil
}

func (s *Stock) fillPoolShop(shopID string) error {
	s.storeMu.RLock()
	defer s.storeMu.RUnlock()
	states, err := s.store.LoadPoolShop(s.ctx, shopID)
	if err != nil {
		log.WithError(err).WithField("shop", shopID).Error("failed to pre-warm pool state, serving from cache")
		return err
	}
	for _, st := range states {
		s.pools.recs.fill(st.ID(), st.Counter)
	}
	return nil
}

func (s *Stock) forgetActor(actor string) {
	s.warm.forget(func(k warmKey) bool { return k.actor == actor })
}
