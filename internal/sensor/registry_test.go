package sensor

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/canfd.gateway/internal/testutil"
)

func TestRegistry_AttachDetach(t *testing.T) {
	testutil.QuietLogs(t)
	r := NewRegistry(10)

	ch, err := r.Attach("12", 3)
	require.NoError(t, err)
	require.NotNil(t, ch)
	assert.Equal(t, 1, r.Len())

	sub, ok := r.Lookup("12")
	require.True(t, ok)
	assert.Equal(t, uint64(12), sub.UID)
	assert.Equal(t, uint32(3), sub.ReceiverID)

	require.NoError(t, r.Detach("12"))
	assert.Equal(t, 0, r.Len())
	_, open := <-ch
	assert.False(t, open, "queue should be closed after detach")
}

func TestRegistry_DetachRemovesOnlyNamedSensor(t *testing.T) {
	testutil.QuietLogs(t)
	r := NewRegistry(10)
	_, err := r.Attach("1", 3)
	require.NoError(t, err)
	_, err = r.Attach("2", 3)
	require.NoError(t, err)

	require.NoError(t, r.Detach("1"))

	snap := r.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "2", snap[0].ID)
}

func TestRegistry_DetachUnknown(t *testing.T) {
	testutil.QuietLogs(t)
	r := NewRegistry(10)
	assert.ErrorIs(t, r.Detach("99"), ErrSubscriberNotFound)
}

func TestRegistry_RejectsDuplicate(t *testing.T) {
	testutil.QuietLogs(t)
	r := NewRegistry(10)
	first, err := r.Attach("7", 1)
	require.NoError(t, err)

	_, err = r.Attach("7", 2)
	assert.ErrorIs(t, err, ErrSubscriberExists)

	sub, ok := r.Lookup("7")
	require.True(t, ok)
	assert.Equal(t, uint32(1), sub.ReceiverID, "existing subscription must be kept")
	assert.Equal(t, first, sub.Frames())
}

func TestRegistry_InvalidID(t *testing.T) {
	testutil.QuietLogs(t)
	r := NewRegistry(10)
	for _, id := range []string{"", "abc", "-1", "1.5", " 3"} {
		_, err := r.Attach(id, 0)
		assert.ErrorIs(t, err, ErrInvalidSubscriberID, "id %q", id)
	}
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_ClearAndClose(t *testing.T) {
	testutil.QuietLogs(t)
	r := NewRegistry(10)
	a, err := r.Attach("1", 1)
	require.NoError(t, err)
	b, err := r.Attach("2", 2)
	require.NoError(t, err)

	r.Clear()
	assert.Equal(t, 0, r.Len())
	_, ok := <-a
	assert.False(t, ok)
	_, ok = <-b
	assert.False(t, ok)

	// Clear keeps the registry usable, Close does not.
	_, err = r.Attach("3", 3)
	require.NoError(t, err)
	r.Close()
	_, err = r.Attach("4", 4)
	assert.ErrorIs(t, err, ErrRegistryClosed)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_SnapshotIsPointInTime(t *testing.T) {
	testutil.QuietLogs(t)
	r := NewRegistry(10)
	_, err := r.Attach("10", 1)
	require.NoError(t, err)
	_, err = r.Attach("2", 1)
	require.NoError(t, err)

	before := r.Snapshot()
	require.Len(t, before, 2)
	assert.Equal(t, "2", before[0].ID, "snapshot is ordered by numeric id")
	assert.Equal(t, "10", before[1].ID)

	_, err = r.Attach("5", 1)
	require.NoError(t, err)
	require.NoError(t, r.Detach("2"))

	assert.Len(t, before, 2, "earlier snapshot must not change")
	after := r.Snapshot()
	require.Len(t, after, 2)
	assert.Equal(t, "5", after[0].ID)
}

func TestSubscription_DeliverCounts(t *testing.T) {
	testutil.QuietLogs(t)
	r := NewRegistry(2)
	_, err := r.Attach("1", 7)
	require.NoError(t, err)
	sub, _ := r.Lookup("1")

	f := frameWithID(0x0107)
	assert.True(t, sub.Matches(f))
	assert.False(t, sub.Matches(frameWithID(0x0103)))

	for i := 0; i < 3; i++ {
		_, err := sub.Deliver(f)
		require.NoError(t, err)
	}
	assert.Equal(t, Stats{Delivered: 3, Evicted: 1, Queued: 2}, sub.Stats())

	require.NoError(t, r.Detach("1"))
	_, err = sub.Deliver(f)
	assert.ErrorIs(t, err, ErrQueueClosed)
}

// TestRegistry_ConcurrentUse attaches, detaches and delivers from many
// goroutines at once; run with -race.
func TestRegistry_ConcurrentUse(t *testing.T) {
	testutil.QuietLogs(t)
	r := NewRegistry(16)
	f := frameWithID(0x0101)

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			for _, sub := range r.Snapshot() {
				if sub.Matches(f) {
					_, _ = sub.Deliver(f)
				}
			}
		}
	}()

	var writers sync.WaitGroup
	for w := 0; w < 8; w++ {
		writers.Add(1)
		go func(w int) {
			defer writers.Done()
			for i := 0; i < 200; i++ {
				id := fmt.Sprintf("%d", w*1000+i)
				ch, err := r.Attach(id, 1)
				if err != nil {
					t.Errorf("attach %s: %v", id, err)
					return
				}
				if err := r.Detach(id); err != nil {
					t.Errorf("detach %s: %v", id, err)
					return
				}
				for range ch {
				}
			}
		}(w)
	}
	writers.Wait()
	close(stop)
	wg.Wait()

	assert.Equal(t, 0, r.Len())
}
