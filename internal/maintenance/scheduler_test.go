package maintenance

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"stockcontrol/internal/ledger"
	"stockcontrol/internal/ports"
	"stockcontrol/internal/types"

	"github.com/stretchr/testify/suite"
	"go.uber.org/goleak"
)

type fakeStock struct {
	flushes  atomic.Int64
	sweeps   atomic.Int64
	purges   atomic.Int64
	flushErr error

	mu        sync.Mutex
	threshold time.Duration
}

func (f *fakeStock) Flush(context.Context) error {
	f.flushes.Add(1)
	return f.flushErr
}

func (f *fakeStock) SweepExpired() ledger.SweepResult {
	f.sweeps.Add(1)
	return ledger.SweepResult{Actors: 2, Pools: 1}
}

func (f *fakeStock) PurgeInactive(_ context.Context, _ ports.Presence, threshold time.Duration) (int, error) {
	f.purges.Add(1)
	f.mu.Lock()
	f.threshold = threshold
	f.mu.Unlock()
	return 4, nil
}

type noPresence struct{}

func (noPresence) LastSeen(string) (time.Time, bool) { return time.Time{}, false }

type SchedulerTestSuite struct {
	suite.Suite
}

func TestSchedulerTestSuite(t *testing.T) {
	defer goleak.VerifyNone(t)
	suite.Run(t, new(SchedulerTestSuite))
}

func (s *SchedulerTestSuite) settings() types.Settings {
	st := types.DefaultSettings()
	st.FlushInterval = 10 * time.Millisecond
	st.SweepInterval = 15 * time.Millisecond
	st.PurgeStartWait = 5 * time.Millisecond
	st.PurgeEvery = time.Hour
	return st
}

func (s *SchedulerTestSuite) TestTimersRunAndStopFlushes() {
	stock := &fakeStock{}
	st := s.settings()
	st.PurgeInactive = 30 * 24 * time.Hour
	sched := New(stock, noPresence{}, st)
	sched.Start()

	s.Eventually(func() bool {
		return stock.flushes.Load() >= 2 && stock.sweeps.Load() >= 2 && stock.purges.Load() == 1
	}, 2*time.Second, 5*time.Millisecond)

	s.Require().NoError(sched.Stop())
	flushed := stock.flushes.Load()
	s.Equal(sched.Stats().Flushes+1, flushed)

	time.Sleep(30 * time.Millisecond)
	s.Equal(flushed, stock.flushes.Load())
	s.Equal(int64(1), stock.purges.Load())
	s.Equal(30*24*time.Hour, stock.threshold)

	stats := sched.Stats()
	s.GreaterOrEqual(stats.Sweeps, int64(2))
	s.Equal(3, stats.LastEvicted)
	s.Equal(int64(4), stats.TotalPurged)
}

func (s *SchedulerTestSuite) TestPurgeDisabledByDefault() {
	stock := &fakeStock{}
	sched := New(stock, noPresence{}, s.settings())
	sched.Start()
	time.Sleep(40 * time.Millisecond)
	s.Require().NoError(sched.Stop())
	s.Equal(int64(0), stock.purges.Load())
}

func (s *SchedulerTestSuite) TestSweepNow() {
	stock := &fakeStock{}
	sched := New(stock, nil, s.settings())
	res := sched.SweepNow()
	s.Equal(3, res.Total())
	s.Equal(int64(1), sched.Stats().Sweeps)
	s.Equal(int64(3), sched.Stats().TotalEvicted)
	s.Require().NoError(sched.Stop())
}

func (s *SchedulerTestSuite) TestStopReportsFinalFlushFailure() {
	stock := &fakeStock{flushErr: errors.New("disk full")}
	sched := New(stock, nil, s.settings())
	s.Error(sched.Stop())
	s.Equal(int64(1), stock.flushes.Load())
	s.Error(sched.Stop())
}
