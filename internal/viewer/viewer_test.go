package viewer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"stockcontrol/internal/catalog"
	"stockcontrol/internal/types"

	"github.com/stretchr/testify/suite"
	"go.uber.org/goleak"
)

const viewerCatalog = `
shops:
  market:
    stock-mode: shared
    max-per-player: 2
    trades:
      bread: {slot: 0, max-trades: 10}
      apple: {slot: 1, max-trades: 3, max-per-player: 0}
  smith:
    trades:
      sword: {slot: 0, max-trades: 3}
  closed:
    enabled: false
    trades:
      x: {slot: 0}
`

type fakeStock struct {
	cat    *types.Catalog
	mu     sync.Mutex
	used   map[string]int
	warmed []string
}

func (f *fakeStock) Catalog() *types.Catalog { return f.cat }

func (f *fakeStock) Display(actor string, shop *types.ShopDefinition, def *types.TradeDefinition) types.DisplayPair {
	f.mu.Lock()
	defer f.mu.Unlock()
	return types.DisplayPair{Used: f.used[actor+"/"+def.Key], Max: shop.DisplayMax(def)}
}

func (f *fakeStock) Prewarm(actor, shop string) {
	f.mu.Lock()
	f.warmed = append(f.warmed, actor+"/"+shop)
	f.mu.Unlock()
}

type fakePusher struct {
	mu      sync.Mutex
	updates []types.DisplayUpdate
	fail    map[string]bool
}

func (p *fakePusher) PushDisplay(_ context.Context, u types.DisplayUpdate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail[u.Actor] {
		return errors.New("gone")
	}
	p.updates = append(p.updates, u)
	return nil
}

func (p *fakePusher) pushed() []types.DisplayUpdate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.DisplayUpdate(nil), p.updates...)
}

type ViewerTestSuite struct {
	suite.Suite

	now    time.Time
	stock  *fakeStock
	pusher *fakePusher
	coord  *Coordinator
	drains []func()
}

func TestViewerTestSuite(t *testing.T) {
	defer goleak.VerifyNone(t)
	suite.Run(t, new(ViewerTestSuite))
}

func (s *ViewerTestSuite) SetupTest() {
	s.now = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	types.SetTimeNowFn(func() time.Time { return s.now })
	cat, err := catalog.Parse([]byte(viewerCatalog))
	s.Require().NoError(err)
	s.stock = &fakeStock{cat: cat, used: map[string]int{}}
	s.pusher = &fakePusher{fail: map[string]bool{}}
	settings := types.DefaultSettings()
	s.coord = NewCoordinator(s.stock, s.pusher, settings)
	s.drains = nil
	s.coord.SetScheduleFn(func(drain func()) { s.drains = append(s.drains, drain) })
}

func (s *ViewerTestSuite) TearDownTest() {
	for _, d := range s.drains {
		d()
	}
	s.drains = nil
	s.coord.Close()
	types.RestoreTimeNow()
}

func (s *ViewerTestSuite) runDrains() {
	drains := s.drains
	s.drains = nil
	for _, d := range drains {
		d()
	}
}

func (s *ViewerTestSuite) TestRegisterPrewarms() {
	s.coord.RegisterViewer("a", "market")
	ctx, ok := s.coord.Lookup("a")
	s.True(ok)
	s.Equal("market", ctx.Shop)
	s.Equal([]string{"a/market"}, s.stock.warmed)
}

func (s *ViewerTestSuite) TestDebounceCollapsesIntoOnePass() {
	s.coord.RegisterViewer("a", "market")
	s.coord.RegisterViewer("b", "market")
	s.coord.RegisterViewer("c", "smith")

	for i := 0; i < 50; i++ {
		s.coord.ScheduleSharedPush("market")
	}
	s.Len(s.drains, 1)
	s.runDrains()

	st := s.coord.Stats()
	s.Equal(int64(1), st.Passes)
	s.Equal(int64(2), st.Pushes)
	got := map[string]bool{}
	for _, u := range s.pusher.pushed() {
		s.Equal("market", u.Shop)
		s.Len(u.Offers, 2)
		got[u.Actor] = true
	}
	s.Equal(map[string]bool{"a": true, "b": true}, got)

	s.coord.ScheduleSharedPush("market")
	s.Len(s.drains, 1)
	s.runDrains()
	s.Equal(int64(2), s.coord.Stats().Passes)
}

func (s *ViewerTestSuite) TestOneDrainServesEveryPendingShop() {
	s.coord.RegisterViewer("a", "market")
	s.coord.RegisterViewer("c", "smith")
	s.coord.ScheduleSharedPush("market")
	s.coord.ScheduleSharedPush("smith")
	s.Len(s.drains, 1)
	s.runDrains()
	s.Equal(int64(2), s.coord.Stats().Passes)
	s.Len(s.pusher.pushed(), 2)
}

func (s *ViewerTestSuite) TestPushCarriesCurrentNumbers() {
	s.coord.RegisterViewer("a", "market")
	s.stock.used["a/bread"] = 1
	s.coord.ScheduleSharedPush("market")
	s.runDrains()
	s.Require().Len(s.pusher.pushed(), 1)
	u := s.pusher.pushed()[0]
	s.Equal([]types.OfferDisplay{
		{Slot: 0, Trade: "bread", DisplayPair: types.DisplayPair{Used: 1, Max: 2}},
		{Slot: 1, Trade: "apple", DisplayPair: types.DisplayPair{Used: 0, Max: 3}},
	}, u.Offers)
}

func (s *ViewerTestSuite) TestExpiredViewersAreSkippedAndEvicted() {
	s.coord.RegisterViewer("a", "market")
	s.now = s.now.Add(5 * time.Second)
	s.coord.RegisterViewer("b", "market")
	s.now = s.now.Add(6 * time.Second)

	s.coord.ScheduleSharedPush("market")
	s.runDrains()
	s.Require().Len(s.pusher.pushed(), 1)
	s.Equal("b", s.pusher.pushed()[0].Actor)
	_, ok := s.coord.Lookup("a")
	s.False(ok)
	s.Equal(1, s.coord.Stats().Viewers)
}

func (s *ViewerTestSuite) TestLookupRefreshesTTL() {
	s.coord.RegisterViewer("a", "market")
	for i := 0; i < 5; i++ {
		s.now = s.now.Add(8 * time.Second)
		_, ok := s.coord.Lookup("a")
		s.True(ok)
	}
	s.now = s.now.Add(11 * time.Second)
	_, ok := s.coord.Lookup("a")
	s.False(ok)
}

func (s *ViewerTestSuite) TestClosedViewerExpiresWithoutPushes() {
	s.coord.RegisterViewer("a", "market")
	s.coord.CloseViewer("a")
	ctx, ok := s.coord.Lookup("a")
	s.True(ok)
	s.True(ctx.Closed)

	s.coord.ScheduleSharedPush("market")
	s.runDrains()
	s.Empty(s.pusher.pushed())

	s.now = s.now.Add(8 * time.Second)
	s.coord.Lookup("a")
	s.now = s.now.Add(3 * time.Second)
	_, ok = s.coord.Lookup("a")
	s.False(ok)
}

func (s *ViewerTestSuite) TestRemoveAndFailedPush() {
	s.coord.RegisterViewer("a", "market")
	s.coord.RegisterViewer("b", "market")
	s.coord.Remove("a")
	s.pusher.fail["b"] = true
	s.coord.ScheduleSharedPush("market")
	s.runDrains()
	s.Empty(s.pusher.pushed())
	s.Equal(int64(1), s.coord.Stats().Failed)
}

func (s *ViewerTestSuite) TestComputeDisplay() {
	s.stock.used["a/sword"] = 2
	pair, ok := s.coord.ComputeDisplay("a", "smith", "sword")
	s.True(ok)
	s.Equal(types.DisplayPair{Used: 2, Max: 3}, pair)

	_, ok = s.coord.ComputeDisplay("a", "smith", "nope")
	s.False(ok)
	_, ok = s.coord.ComputeDisplay("a", "closed", "x")
	s.False(ok)
	_, ok = s.coord.DisplayFor("a", "closed")
	s.False(ok)
}

func TestCoordinatorTimerDrain(t *testing.T) {
	defer goleak.VerifyNone(t)
	cat, err := catalog.Parse([]byte(viewerCatalog))
	if err != nil {
		t.Fatal(err)
	}
	pusher := &fakePusher{fail: map[string]bool{}}
	settings := types.DefaultSettings()
	settings.PushTick = 10 * time.Millisecond
	coord := NewCoordinator(&fakeStock{cat: cat, used: map[string]int{}}, pusher, settings)
	coord.RegisterViewer("a", "market")
	for i := 0; i < 20; i++ {
		coord.ScheduleSharedPush("market")
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(pusher.pushed()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	coord.Close()
	if got := coord.Stats().Passes; got != 1 {
		t.Fatalf("expected one fan-out pass, got %d", got)
	}
	if len(pusher.pushed()) != 1 {
		t.Fatalf("expected one push, got %d", len(pusher.pushed()))
	}
}

func TestCloseWhileSchedulingLeavesNoDrainBehind(t *testing.T) {
	defer goleak.VerifyNone(t)
	cat, err := catalog.Parse([]byte(viewerCatalog))
	if err != nil {
		t.Fatal(err)
	}
	coord := NewCoordinator(&fakeStock{cat: cat, used: map[string]int{}}, &fakePusher{fail: map[string]bool{}}, types.DefaultSettings())
	var scheduled atomic.Int64
	coord.SetScheduleFn(func(drain func()) {
		scheduled.Add(1)
		go drain()
	})

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < 500; j++ {
				coord.ScheduleSharedPush("market")
			}
		}()
	}
	close(start)
	coord.Close()
	afterClose := scheduled.Load()
	wg.Wait()

	if got := scheduled.Load(); got != afterClose {
		t.Fatalf("drains scheduled after Close: %d then %d", afterClose, got)
	}
	coord.ScheduleSharedPush("market")
	if got := scheduled.Load(); got != afterClose {
		t.Fatalf("drain scheduled on a closed coordinator")
	}
}
