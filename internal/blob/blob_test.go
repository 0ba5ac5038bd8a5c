package blob

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestCheckInClaimRoundTrip(t *testing.T) {
	store := New(NewMemoryProvider())
	ctx := context.Background()

	id, err := store.CheckIn(ctx, []byte("hello"))
	require.NoError(t, err)

	data, err := store.Claim(ctx, id)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), data)
}

func TestGarbageCollectionSkipsPinned(t *testing.T) {
	store := New(NewMemoryProvider()).WithTTL(time.Millisecond)
	ctx := context.Background()

	pinnedID, err := store.CheckInWithMetadata(ctx, []byte("keep"), map[string]string{PinnedKey: "true"})
	require.NoError(t, err)

	plainID, err := store.CheckIn(ctx, []byte("reclaim"))
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	n, err := store.RunGarbageCollection(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = store.Claim(ctx, pinnedID)
	require.NoError(t, err)

	_, err = store.Claim(ctx, plainID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPinAfterCheckIn(t *testing.T) {
	store := New(NewMemoryProvider()).WithTTL(time.Millisecond)
	ctx := context.Background()

	id, err := store.CheckIn(ctx, []byte("data"))
	require.NoError(t, err)

	require.NoError(t, store.Pin(ctx, id))

	time.Sleep(5 * time.Millisecond)

	n, err := store.RunGarbageCollection(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestClaimMissing(t *testing.T) {
	store := New(NewMemoryProvider())
	_, err := store.Claim(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
}
