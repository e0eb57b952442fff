package limits_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/amirasaad/coopcredit/pkg/limits"
	"github.com/amirasaad/coopcredit/pkg/money"
	"github.com/amirasaad/coopcredit/pkg/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type MemoryAggregatorTestSuite struct {
	suite.Suite
	agg *limits.MemoryAggregator
	key limits.Key
	lim limits.Limits
	ctx context.Context
}

func (s *MemoryAggregatorTestSuite) SetupTest() {
	s.agg = limits.NewMemoryAggregator(nil, limits.WithLockTimeout(500*time.Millisecond))
	s.key = limits.Key{MemberID: "M-001", Currency: money.FC, Day: "2025-03-10"}
	s.lim = limits.Limits{MaxCount: 5, MaxAmount: money.Must(2_000_000, money.FC)}
	s.ctx = context.Background()
}

func TestMemoryAggregatorTestSuite(t *testing.T) {
	suite.Run(t, new(MemoryAggregatorTestSuite))
}

func (s *MemoryAggregatorTestSuite) usage(key limits.Key) limits.Usage {
	u, err := s.agg.Usage(s.ctx, key)
	s.Require().NoError(err)
	return u
}

func (s *MemoryAggregatorTestSuite) TestReserve_CountLimit() {
	for i := 0; i < 5; i++ {
		_, err := s.agg.Reserve(s.ctx, s.key, money.Must(1000, money.FC), s.lim)
		s.Require().NoError(err)
	}
	_, err := s.agg.Reserve(s.ctx, s.key, money.Must(1000, money.FC), s.lim)
	s.ErrorIs(err, limits.ErrDailyCountLimitExceeded)
	s.Equal(5, s.usage(s.key).Count)
}

func (s *MemoryAggregatorTestSuite) TestReserve_AmountLimit() {
	_, err := s.agg.Reserve(s.ctx, s.key, money.Must(1_500_000, money.FC), s.lim)
	s.Require().NoError(err)

	_, err = s.agg.Reserve(s.ctx, s.key, money.Must(500_001, money.FC), s.lim)
	s.ErrorIs(err, limits.ErrDailyAmountLimitExceeded)

	_, err = s.agg.Reserve(s.ctx, s.key, money.Must(500_000, money.FC), s.lim)
	s.NoError(err, "reaching the limit exactly is allowed")

	u := s.usage(s.key)
	s.Equal(2, u.Count)
	s.Equal(int64(2_000_000), u.Total.Amount())
}

func (s *MemoryAggregatorTestSuite) TestRelease_RestoresAndRejectsDoubleRelease() {
	first, err := s.agg.Reserve(s.ctx, s.key, money.Must(30_000, money.FC), s.lim)
	s.Require().NoError(err)
	before := s.usage(s.key)

	r, err := s.agg.Reserve(s.ctx, s.key, money.Must(45_000, money.FC), s.lim)
	s.Require().NoError(err)
	s.Require().NoError(s.agg.Release(s.ctx, r))

	after := s.usage(s.key)
	s.Equal(before.Count, after.Count)
	s.True(before.Total.Equals(after.Total))

	err = s.agg.Release(s.ctx, r)
	s.ErrorIs(err, limits.ErrConcurrencyConflict)
	s.Equal(before.Count, s.usage(s.key).Count, "double release leaves the aggregate untouched")

	s.Require().NoError(s.agg.Commit(s.ctx, first))
	s.ErrorIs(s.agg.Release(s.ctx, first), limits.ErrConcurrencyConflict, "committed reservation cannot be released")
	s.ErrorIs(s.agg.Commit(s.ctx, first), limits.ErrConcurrencyConflict)
}

func (s *MemoryAggregatorTestSuite) TestAdjacentDaysAreIndependent() {
	for i := 0; i < 5; i++ {
		_, err := s.agg.Reserve(s.ctx, s.key, money.Must(1000, money.FC), s.lim)
		s.Require().NoError(err)
	}
	for _, day := range []limits.Day{s.key.Day.AddDays(-1), s.key.Day.AddDays(1)} {
		k := s.key
		k.Day = day
		_, err := s.agg.Reserve(s.ctx, k, money.Must(1000, money.FC), s.lim)
		s.Require().NoError(err, day)
		s.Equal(1, s.usage(k).Count)
	}
	s.Equal(5, s.usage(s.key).Count)

	usd := s.key
	usd.Currency = money.USD
	_, err := s.agg.Reserve(s.ctx, usd, money.Must(100, money.USD), limits.Limits{MaxCount: 5, MaxAmount: money.Must(100_000, money.USD)})
	s.NoError(err, "currencies have separate aggregates")
}

func (s *MemoryAggregatorTestSuite) TestConcurrentReservesNeverExceedCount() {
	const attempts = 50
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		rejected  atomic.Int32
	)
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := s.agg.Reserve(s.ctx, s.key, money.Must(1000, money.FC), s.lim)
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, limits.ErrDailyCountLimitExceeded):
				rejected.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	s.Equal(int32(5), succeeded.Load())
	s.Equal(int32(attempts-5), rejected.Load())
	s.Equal(5, s.usage(s.key).Count)
}

func (s *MemoryAggregatorTestSuite) TestConcurrentReservesNeverExceedAmount() {
	lim := limits.Limits{MaxCount: 100, MaxAmount: money.Must(100_000, money.FC)}
	var wg sync.WaitGroup
	var succeeded atomic.Int32
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.agg.Reserve(s.ctx, s.key, money.Must(30_000, money.FC), lim); err == nil {
				succeeded.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(3), succeeded.Load())
	s.Equal(int64(90_000), s.usage(s.key).Total.Amount())
}

func (s *MemoryAggregatorTestSuite) TestPurge() {
	old := s.key
	old.Day = "2025-03-01"
	r, err := s.agg.Reserve(s.ctx, old, money.Must(1000, money.FC), s.lim)
	s.Require().NoError(err)
	_, err = s.agg.Reserve(s.ctx, s.key, money.Must(1000, money.FC), s.lim)
	s.Require().NoError(err)

	s.Equal(0, s.agg.Purge("2025-03-05"), "pending reservation keeps the aggregate")

	s.Require().NoError(s.agg.Commit(s.ctx, r))
	s.Equal(1, s.agg.Purge("2025-03-05"))
	s.Equal(0, s.usage(old).Count)
	s.Equal(1, s.usage(s.key).Count)
}

func (s *MemoryAggregatorTestSuite) TestReserve_RejectsMismatchedCurrency() {
	_, err := s.agg.Reserve(s.ctx, s.key, money.Must(100, money.USD), s.lim)
	s.ErrorIs(err, money.ErrMismatchedCurrencies)
}

func TestDayOf(t *testing.T) {
	loc := time.FixedZone("WAT", 3600)
	late := time.Date(2025, 3, 10, 23, 30, 0, 0, time.UTC) // 00:30 on the 11th in Kinshasa
	assert.Equal(t, limits.Day("2025-03-11"), limits.DayOf(late, loc))
	assert.Equal(t, limits.Day("2025-03-10"), limits.DayOf(late, time.UTC))

	d, err := limits.ParseDay("2025-02-28")
	require.NoError(t, err)
	assert.Equal(t, limits.Day("2025-03-01"), d.AddDays(1))
	_, err = limits.ParseDay("28/02/2025")
	assert.ErrorIs(t, err, limits.ErrInvalidDay)
}

func TestLimitsFor(t *testing.T) {
	snap, err := policy.NewSnapshot(policy.DefaultDocument(), time.UTC)
	require.NoError(t, err)
	lim, err := limits.LimitsFor(snap, money.USD)
	require.NoError(t, err)
	assert.Equal(t, 5, lim.MaxCount)
	assert.Equal(t, int64(100_000), lim.MaxAmount.Amount())

	used := limits.Usage{Count: 2, Total: money.Must(40_000, money.USD)}
	count, amount := used.Remaining(lim)
	assert.Equal(t, 3, count)
	assert.Equal(t, int64(60_000), amount.Amount())
}
