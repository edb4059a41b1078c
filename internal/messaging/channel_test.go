package messaging

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/undercover/internal/state"
)

func TestTryReceiveEmptyReturnsImmediately(t *testing.T) {
	c := New(0)
	m, ok, err := c.TryReceive(ReportsFor())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, m)
}

func TestSameKindDeliveredInSendOrder(t *testing.T) {
	c := New(0)
	for i := 0; i < 5; i++ {
		require.NoError(t, c.Send(InformantReport{InformantID: i}))
	}
	for i := 0; i < 5; i++ {
		m, ok, err := c.TryReceive(ReportsFor())
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, i, m.(InformantReport).InformantID)
	}
	_, ok, _ := c.TryReceive(ReportsFor())
	assert.False(t, ok)
}

func TestOrdersAreAddressedPerGang(t *testing.T) {
	c := New(0)
	require.NoError(t, c.Send(ArrestOrder{GangID: 1, Duration: time.Second}))
	require.NoError(t, c.Send(ArrestOrder{GangID: 2, Duration: 2 * time.Second}))

	_, ok, _ := c.TryReceive(OrdersFor(0))
	assert.False(t, ok)

	m, ok, err := c.TryReceive(OrdersFor(2))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ArrestOrder{GangID: 2, Duration: 2 * time.Second}, m)

	assert.Equal(t, 1, c.Pending(OrdersFor(1)))
	assert.Equal(t, 0, c.Pending(OrdersFor(2)))
}

func TestNoDuplicateDeliveryAcrossConsumers(t *testing.T) {
	c := New(1000)
	const n = 500
	for i := 0; i < n; i++ {
		require.NoError(t, c.Send(InformantReport{InformantID: i}))
	}

	var mu sync.Mutex
	seen := make(map[int]int)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				m, ok, err := c.TryReceive(ReportsFor())
				if err != nil || !ok {
					return
				}
				mu.Lock()
				seen[m.(InformantReport).InformantID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
	for id, count := range seen {
		assert.Equal(t, 1, count, "report %d delivered more than once", id)
	}
}

func TestQueueCapacityDrops(t *testing.T) {
	c := New(2)
	require.NoError(t, c.Send(StatusUpdate{Status: state.StatusRunning}))
	require.NoError(t, c.Send(StatusUpdate{Status: state.StatusRunning}))
	assert.ErrorIs(t, c.Send(StatusUpdate{Status: state.StatusShutdown}), ErrFull)

	st := c.Stats()[KindStatusUpdate]
	assert.Equal(t, uint64(2), st.Sent)
	assert.Equal(t, uint64(1), st.Dropped)
}

func TestReceiveBlocksUntilSend(t *testing.T) {
	c := New(0)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = c.Send(StatusUpdate{Status: state.StatusShutdown})
	}()

	m, err := c.Receive(ctx, StatusUpdates())
	require.NoError(t, err)
	assert.Equal(t, StatusUpdate{Status: state.StatusShutdown}, m)
}

func TestReceiveHonoursContext(t *testing.T) {
	c := New(0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := c.Receive(ctx, ReportsFor())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDrainDropsAndRefusesSends(t *testing.T) {
	c := New(0)
	require.NoError(t, c.Send(InformantReport{}))
	require.NoError(t, c.Send(ArrestOrder{GangID: 0}))

	assert.Equal(t, 2, c.Drain())
	assert.ErrorIs(t, c.Send(InformantReport{}), ErrDraining)

	_, ok, err := c.TryReceive(ReportsFor())
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.Receive(context.Background(), ReportsFor())
	assert.ErrorIs(t, err, ErrDraining)
}

func TestCloseIsIdempotent(t *testing.T) {
	c := New(0)
	assert.True(t, c.Close())
	assert.False(t, c.Close())

	assert.ErrorIs(t, c.Send(InformantReport{}), ErrClosed)
	_, _, err := c.TryReceive(ReportsFor())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCloseWakesBlockedReceivers(t *testing.T) {
	c := New(0)
	done := make(chan error, 1)
	go func() {
		_, err := c.Receive(context.Background(), OrdersFor(3))
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	c.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("receiver not woken by close")
	}
}
