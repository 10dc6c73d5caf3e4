package eventlogger_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flagkit/flagkit-go-client/eventlogger"
	"github.com/flagkit/flagkit-go-client/storage"
)

func batchOf(id string, n int) eventlogger.FailedBatch {
	events := make([]eventlogger.Event, n)
	for i := range events {
		events[i] = eventlogger.CustomEvent(testUnit, fmt.Sprintf("%s-%d", id, i), nil, nil)
	}
	return eventlogger.FailedBatch{ID: id, Events: events}
}

func TestFailedLogStoreEvictsOldestByCount(t *testing.T) {
	// Given
	ctx := context.Background()
	s := eventlogger.NewFailedLogStore(storage.NewMemoryProvider(), sdkKey, 5, 0, nil)

	// When
	_, err := s.Add(ctx, batchOf("first", 3))
	require.NoError(t, err)
	evicted, err := s.Add(ctx, batchOf("second", 3))
	require.NoError(t, err)

	// Then
	assert.Equal(t, 3, evicted)
	batches, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, "second", batches[0].ID)
}

func TestFailedLogStoreEvictsOldestByBytes(t *testing.T) {
	ctx := context.Background()
	s := eventlogger.NewFailedLogStore(storage.NewMemoryProvider(), sdkKey, 0, 150, nil)

	_, err := s.Add(ctx, batchOf("first", 1))
	require.NoError(t, err)
	_, err = s.Add(ctx, batchOf("second", 1))
	require.NoError(t, err)

	batches, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, "second", batches[0].ID)
}

func TestFailedLogStoreRemove(t *testing.T) {
	ctx := context.Background()
	provider := storage.NewMemoryProvider()
	s := eventlogger.NewFailedLogStore(provider, sdkKey, 0, 0, nil)
	_, err := s.Add(ctx, batchOf("a", 1))
	require.NoError(t, err)

	require.NoError(t, s.Remove(ctx, "a"))

	assert.Equal(t, 0, s.Count(ctx))
	_, err = provider.GetItem(ctx, storage.FailedLogsKey(storage.Fingerprint(sdkKey)))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestFailedLogStoreIgnoresCorruptData(t *testing.T) {
	ctx := context.Background()
	provider := storage.NewMemoryProvider()
	require.NoError(t, provider.SetItem(ctx, storage.FailedLogsKey(storage.Fingerprint(sdkKey)), "{not json"))
	s := eventlogger.NewFailedLogStore(provider, sdkKey, 0, 0, nil)

	batches, err := s.Load(ctx)

	require.NoError(t, err)
	assert.Empty(t, batches)
}
