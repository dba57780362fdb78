package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

type AccessTestSuite struct {
	suite.Suite
	log *zap.Logger
}

func TestAccessTestSuite(t *testing.T) {
	suite.Run(t, new(AccessTestSuite))
}

func (s *AccessTestSuite) SetupSuite() {
	s.log = zap.NewNop()
}

func (s *AccessTestSuite) newAccess(limits map[string]Limit) *Access {
	return New(Config{Endpoints: limits}, s.log)
}

func (s *AccessTestSuite) TestThirdCallWaitsForWindow() {
	a := s.newAccess(map[string]Limit{"ep": {MaxRequests: 2, Window: time.Second}})
	ctx := context.Background()

	start := time.Now()
	var admitted []time.Duration
	for i := 0; i < 3; i++ {
		v, err := a.Acquire(ctx, "ep", "")
		s.Require().NoError(err)
		s.True(v.IsNone())
		admitted = append(admitted, time.Since(start))
	}

	s.Less(admitted[0], 200*time.Millisecond)
	s.Less(admitted[1], 200*time.Millisecond)
	s.GreaterOrEqual(admitted[2], 950*time.Millisecond)
}

func (s *AccessTestSuite) TestWindowNeverExceeded() {
	const (
		max    = 3
		window = 150 * time.Millisecond
	)
	a := s.newAccess(map[string]Limit{"ep": {MaxRequests: max, Window: window}})

	var (
		mu    sync.Mutex
		times []time.Time
	)
	a.onAdmit = func(_ string, at time.Time) {
		mu.Lock()
		times = append(times, at)
		mu.Unlock()
	}

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 3; i++ {
				_, err := a.Acquire(context.Background(), "ep", "")
				s.NoError(err)
			}
		}()
	}
	wg.Wait()

	s.Require().Len(times, 12)
	for i := range times {
		in := 0
		for j := range times {
			d := times[j].Sub(times[i])
			if d >= 0 && d < window {
				in++
			}
		}
		s.LessOrEqual(in, max, "window starting at call %d", i)
	}
}

func (s *AccessTestSuite) TestFIFOAdmissionWhenSaturated() {
	a := s.newAccess(map[string]Limit{"ep": {MaxRequests: 1, Window: 80 * time.Millisecond}})
	ctx := context.Background()

	_, err := a.Acquire(ctx, "ep", "")
	s.Require().NoError(err)

	order := make(chan int, 3)
	for i := 0; i < 3; i++ {
		go func(i int) {
			_, err := a.Acquire(ctx, "ep", "")
			s.NoError(err)
			order <- i
		}(i)
		// каждый следующий встаёт в очередь строго после предыдущего
		time.Sleep(15 * time.Millisecond)
	}

	for want := 0; want < 3; want++ {
		select {
		case got := <-order:
			s.Equal(want, got)
		case <-time.After(2 * time.Second):
			s.FailNow("admission timed out")
		}
	}
}

func (s *AccessTestSuite) TestEndpointsAreIndependent() {
	a := s.newAccess(map[string]Limit{
		"slow": {MaxRequests: 1, Window: time.Hour},
		"fast": {MaxRequests: 5, Window: time.Second},
	})
	ctx := context.Background()

	_, err := a.Acquire(ctx, "slow", "")
	s.Require().NoError(err)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := a.Acquire(ctx, "fast", "")
		s.Require().NoError(err)
	}
	s.Less(time.Since(start), 100*time.Millisecond)
}

func (s *AccessTestSuite) TestAcquireCancelled() {
	a := s.newAccess(map[string]Limit{"ep": {MaxRequests: 1, Window: time.Hour}})
	_, err := a.Acquire(context.Background(), "ep", "")
	s.Require().NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = a.Acquire(ctx, "ep", "")
	s.ErrorIs(err, context.DeadlineExceeded)
}

func (s *AccessTestSuite) TestCachedValueSkipsWindow() {
	a := s.newAccess(map[string]Limit{"ep": {MaxRequests: 1, Window: time.Hour}})
	a.Store("k", 42)

	v, err := a.Acquire(context.Background(), "ep", "k")
	s.Require().NoError(err)
	s.Require().True(v.IsSome())
	s.Equal(42, v.Unwrap())

	// окно не тронуто: первый реальный вызов проходит сразу
	v, err = a.Acquire(context.Background(), "ep", "")
	s.Require().NoError(err)
	s.True(v.IsNone())
}

func (s *AccessTestSuite) TestPruneIdleBuckets() {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := New(Config{IdleTTL: time.Minute, CacheTTL: time.Second}, s.log, WithClock(func() time.Time { return now }))

	_, err := a.Acquire(context.Background(), EndpointPing, "")
	s.Require().NoError(err)
	a.Store("stale", 1)

	now = now.Add(2 * time.Minute)
	b, e := a.Prune()
	s.Equal(1, b)
	s.Equal(1, e)

	a.mu.RLock()
	s.Empty(a.buckets)
	a.mu.RUnlock()
}

func (s *AccessTestSuite) TestExchangeScopedEndpointUsesTable() {
	cfg := Config{Endpoints: map[string]Limit{
		EndpointPlaceOrder:               {MaxRequests: 1, Window: time.Hour},
		"binance/" + EndpointPlaceOrder: {MaxRequests: 3, Window: time.Hour},
	}}.withDefaults()

	s.Equal(Limit{MaxRequests: 1, Window: time.Hour}, cfg.limitFor("okx/"+EndpointPlaceOrder))
	s.Equal(Limit{MaxRequests: 3, Window: time.Hour}, cfg.limitFor("binance/"+EndpointPlaceOrder))
	s.Equal(cfg.Default, cfg.limitFor("okx/unknown"))
}
