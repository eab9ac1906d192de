package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ctxpkg "github.com/stupiduntilnot/tgrelay/internal/context"
	"github.com/stupiduntilnot/tgrelay/internal/model"
	"github.com/stupiduntilnot/tgrelay/internal/stats"
)

func newTestStore(t *testing.T) (*Store, *stats.Counters) {
	t.Helper()
	counters := stats.New(time.Now())
	return NewStore(model.DefaultRegistry(), counters), counters
}

func TestGetOrCreate_Defaults(t *testing.T) {
	store, counters := newTestStore(t)

	sess := store.GetOrCreate(7)
	assert.EqualValues(t, 7, sess.UserID)
	assert.Empty(t, sess.History)
	assert.Equal(t, model.LabelBalanced, sess.Model)
	assert.Equal(t, 1, counters.Snapshot().KnownUsers)

	store.GetOrCreate(7)
	assert.Equal(t, 1, counters.Snapshot().KnownUsers)
}

func TestOpen_ReportsFirstSighting(t *testing.T) {
	store, counters := newTestStore(t)

	_, isNew := store.Open(3)
	assert.True(t, isNew)
	_, isNew = store.Open(3)
	assert.False(t, isNew)

	// Users first seen through the counters are not new to the store either.
	counters.AddUser(4)
	_, isNew = store.Open(4)
	assert.False(t, isNew)

	bare := NewStore(model.DefaultRegistry(), nil)
	_, isNew = bare.Open(3)
	assert.True(t, isNew)
	_, isNew = bare.Open(3)
	assert.False(t, isNew)
}

func TestGetOrCreate_NilCounters(t *testing.T) {
	store := NewStore(model.DefaultRegistry(), nil)
	assert.Equal(t, model.LabelBalanced, store.GetOrCreate(1).Model)
}

func TestAppendTurn_BoundedMostRecent(t *testing.T) {
	store, _ := newTestStore(t)

	for n := 1; n <= 25; n++ {
		store.AppendTurn(1, fmt.Sprintf("q%d", n), fmt.Sprintf("a%d", n))

		history := store.GetOrCreate(1).History
		require.LessOrEqual(t, len(history), MaxHistory)

		// The retained entries are exactly the most recent ones, in order.
		total := 2 * n
		first := total - len(history)
		for i, msg := range history {
			idx := first + i
			turn := idx/2 + 1
			if idx%2 == 0 {
				assert.Equal(t, ctxpkg.UserMessage(fmt.Sprintf("q%d", turn)), msg)
			} else {
				assert.Equal(t, ctxpkg.AssistantMessage(fmt.Sprintf("a%d", turn)), msg)
			}
		}
	}

	history := store.GetOrCreate(1).History
	require.Len(t, history, MaxHistory)
	assert.Equal(t, "q16", history[0].Content)
	assert.Equal(t, "a25", history[MaxHistory-1].Content)
}

func TestGetOrCreate_ReturnsCopy(t *testing.T) {
	store, _ := newTestStore(t)
	store.AppendTurn(1, "hello", "hi there")

	sess := store.GetOrCreate(1)
	sess.History[0].Content = "tampered"

	assert.Equal(t, "hello", store.GetOrCreate(1).History[0].Content)
}

func TestReset_KeepsModel(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.SetModel(1, model.LabelFast)
	require.NoError(t, err)
	store.AppendTurn(1, "a", "b")
	store.AppendTurn(1, "c", "d")

	assert.Equal(t, 4, store.Reset(1))

	sess := store.GetOrCreate(1)
	assert.Empty(t, sess.History)
	assert.Equal(t, model.LabelFast, sess.Model)

	assert.Equal(t, 0, store.Reset(1))
}

func TestSetModel(t *testing.T) {
	store, _ := newTestStore(t)

	entry, err := store.SetModel(1, "powerful")
	require.NoError(t, err)
	assert.Equal(t, "Meta-Llama-3.1-405B-Instruct", entry.ProviderID)

	_, err = store.SetModel(1, "bogus")
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrInvalidModelLabel))
	assert.Equal(t, model.LabelPowerful, store.GetOrCreate(1).Model)
}

func TestSnapshot(t *testing.T) {
	store, _ := newTestStore(t)
	store.GetOrCreate(1)
	store.AppendTurn(2, "x", "y")

	assert.Equal(t, Stats{Sessions: 2, ActiveConversations: 1}, store.Snapshot())
}

func TestStore_ConcurrentUsers(t *testing.T) {
	store, counters := newTestStore(t)

	var wg sync.WaitGroup
	for u := int64(1); u <= 8; u++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			for i := 0; i < 30; i++ {
				store.GetOrCreate(userID)
				store.AppendTurn(userID, "q", "a")
			}
		}(u)
	}
	wg.Wait()

	assert.Equal(t, 8, counters.Snapshot().KnownUsers)
	for u := int64(1); u <= 8; u++ {
		assert.Len(t, store.GetOrCreate(u).History, MaxHistory)
	}
}
