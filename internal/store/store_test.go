package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deltabot/internal/types"
)

type recorder struct {
	Nop
	mu     sync.Mutex
	orders []OrderRecord
	block  chan struct{}
	peak   decimal.Decimal
	err    error
}

func (r *recorder) SaveOrder(_ context.Context, rec OrderRecord) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders = append(r.orders, rec)
	return r.err
}

func (r *recorder) PeakEquity(context.Context) (decimal.Decimal, bool, error) {
	return r.peak, r.peak.IsPositive(), nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

func TestAsync_NeverBlocksAndCountsDrops(t *testing.T) {
	rec := &recorder{block: make(chan struct{})}
	a := NewAsync(rec, 2)
	var drops int
	a.OnDrop(func() { drops++ })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = a.Run(ctx); close(done) }()

	start := time.Now()
	for i := 0; i < 10; i++ {
		_ = a.SaveOrder(context.Background(), OrderRecord{Token: "t"})
	}
	assert.Less(t, time.Since(start), time.Second)
	assert.GreaterOrEqual(t, a.Dropped(), uint64(7))
	assert.EqualValues(t, a.Dropped(), drops)

	close(rec.block)
	cancel()
	<-done
	assert.EqualValues(t, 10, uint64(rec.count())+a.Dropped(), "every record is either written or counted")
	assert.Error(t, a.SaveOrder(context.Background(), OrderRecord{}), "closed sink refuses")
}

func TestAsync_FailuresAreCounted(t *testing.T) {
	rec := &recorder{err: errors.New("disk full")}
	a := NewAsync(rec, 4)
	require.NoError(t, a.SaveOrder(context.Background(), OrderRecord{Token: "a"}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, a.Run(ctx))
	assert.EqualValues(t, 1, a.Failed())
}

func TestMulti_FansOutAndJoinsErrors(t *testing.T) {
	a, b := &recorder{}, &recorder{err: errors.New("b down"), peak: decimal.NewFromInt(12000)}
	m := Multi{a, b, Nop{}}

	err := m.SaveOrder(context.Background(), OrderRecord{Token: "x"})
	assert.ErrorContains(t, err, "b down")
	assert.Equal(t, 1, a.count())
	assert.Equal(t, 1, b.count())
	assert.NoError(t, m.SavePositions(context.Background(), time.Now(), []types.PositionSnapshot{{ID: "p"}}))

	peak, ok, err := m.PeakEquity(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, peak.Equal(decimal.NewFromInt(12000)))
}
