package maintenance

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"stockcontrol/internal/ledger"
	"stockcontrol/internal/ports"
	"stockcontrol/internal/types"

	log "github.com/sirupsen/logrus"
)

const finalFlushTimeout = 30 * time.Second

// Stock is the part of the ledgers the scheduler maintains.
type Stock interface {
	Flush(ctx context.Context) error
	SweepExpired() ledger.SweepResult
	PurgeInactive(ctx context.Context, presence ports.Presence, threshold time.Duration) (int, error)
}

// Stats reports what the scheduler has done since start.
type Stats struct {
	Sweeps       int64     `json:"sweeps"`
	LastEvicted  int       `json:"last_evicted"`
	TotalEvicted int64     `json:"total_evicted"`
	LastSweepAt  time.Time `json:"last_sweep_at"`
	Flushes      int64     `json:"flushes"`
	Purges       int64     `json:"purges"`
	TotalPurged  int64     `json:"total_purged"`
}

// Scheduler runs the write-back flush, the cooldown sweep and the optional inactivity purge on
// independent timers.
type Scheduler struct {
	stock    Stock
	presence ports.Presence
	settings types.Settings

	mu      sync.Mutex
	stats   Stats
	flushes atomic.Int64

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(stock Stock, presence ports.Presence, settings types.Settings) *Scheduler {
	return &Scheduler{
		stock:    stock,
		presence: presence,
		settings: settings,
		stopChan: make(chan struct{}),
	}
}

// Start launches the timers. The purge timer only runs when an inactivity threshold is set.
func (s *Scheduler) Start() {
	s.every(s.settings.FlushInterval, 0, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.settings.FlushInterval)
		defer cancel()
		// Failures are logged and alarmed by the ledger; the records stay dirty.
		_ = s.stock.Flush(ctx)
		s.flushes.Add(1)
	})
	s.every(s.settings.SweepInterval, 0, func() {
		s.SweepNow()
	})
	if s.settings.PurgeInactive > 0 && s.presence != nil {
		s.every(s.settings.PurgeEvery, s.settings.PurgeStartWait, s.purge)
	}
	log.WithFields(log.Fields{
		"flush": s.settings.FlushInterval,
		"sweep": s.settings.SweepInterval,
		"purge": s.settings.PurgeInactive,
	}).Info("maintenance scheduler started")
}

// every runs fn after first (or interval when first is 0) and then every interval until Stop.
func (s *Scheduler) every(interval, first time.Duration, fn func()) {
	if interval <= 0 {
		return
	}
	if first <= 0 {
		first = interval
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		timer := time.NewTimer(first)
		defer timer.Stop()
		for {
			select {
			case <-timer.C:
				fn()
				timer.Reset(interval)
			case <-s.stopChan:
				return
			}
		}
	}()
}

// SweepNow evicts expired cooldowns immediately.
func (s *Scheduler) SweepNow() ledger.SweepResult {
	res := s.stock.SweepExpired()
	s.mu.Lock()
	s.stats.Sweeps++
	s.stats.LastEvicted = res.Total()
	s.stats.TotalEvicted += int64(res.Total())
	s.stats.LastSweepAt = types.Now()
	s.mu.Unlock()
	return res
}

func (s *Scheduler) purge() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
	defer cancel()
	n, err := s.stock.PurgeInactive(ctx, s.presence, s.settings.PurgeInactive)
	if err != nil {
		log.WithError(err).Error("inactive actor purge failed")
	}
	s.mu.Lock()
	s.stats.Purges++
	s.stats.TotalPurged += int64(n)
	s.mu.Unlock()
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Flushes = s.flushes.Load()
	return st
}

// Stop halts the timers and runs the final flush of every dirty record.
func (s *Scheduler) Stop() error {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
	ctx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
	defer cancel()
	if err := s.stock.Flush(ctx); err != nil {
		log.WithError(err).Error("final flush failed; unsaved trade state is lost")
		return err
	}
	log.Info("final flush complete")
	return nil
}
