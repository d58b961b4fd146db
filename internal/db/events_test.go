package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordChangeEvent(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		store := openTestStore(t)
		require.NoError(t, store.RecordChangeEvent(ctx, "change.proposed", "chg_ev1", "FILE_EDIT /tmp/x proposed", ""))
		require.NoError(t, store.RecordChangeEvent(ctx, "change.results", "chg_ev1", "", `[{"command":"x","exit_code":0}]`))

		events, err := store.ListEventsByChange(ctx, "chg_ev1", 10)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "change.proposed", events[0].Kind)
		assert.Equal(t, "FILE_EDIT /tmp/x proposed", events[0].Message)
		assert.Equal(t, "change.results", events[1].Kind)
		assert.Equal(t, `[{"command":"x","exit_code":0}]`, events[1].JSON)
		require.NotNil(t, events[1].ChangeID)
		assert.Equal(t, "chg_ev1", *events[1].ChangeID)
		assert.False(t, events[0].Timestamp.IsZero())
	})

	t.Run("missing kind", func(t *testing.T) {
		store := openTestStore(t)
		err := store.RecordChangeEvent(ctx, "", "chg_ev2", "msg", "")
		assert.EqualError(t, err, "event kind is required")
	})

	t.Run("nil store", func(t *testing.T) {
		err := (*Store)(nil).RecordChangeEvent(ctx, "change.proposed", "chg_ev3", "", "")
		assert.EqualError(t, err, "db store is nil")
	})
}

func TestListEventsByChange(t *testing.T) {
	ctx := context.Background()

	t.Run("scoped to change", func(t *testing.T) {
		store := openTestStore(t)
		require.NoError(t, store.RecordChangeEvent(ctx, "change.proposed", "chg_one", "", ""))
		require.NoError(t, store.RecordChangeEvent(ctx, "change.proposed", "chg_two", "", ""))
		require.NoError(t, store.RecordChangeEvent(ctx, "change.applied", "chg_one", "", ""))

		events, err := store.ListEventsByChange(ctx, "chg_one", 10)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "change.proposed", events[0].Kind)
		assert.Equal(t, "change.applied", events[1].Kind)
	})

	t.Run("limit", func(t *testing.T) {
		store := openTestStore(t)
		for i := 0; i < 5; i++ {
			require.NoError(t, store.RecordChangeEvent(ctx, "change.proposed", "chg_lim", "", ""))
		}
		events, err := store.ListEventsByChange(ctx, "chg_lim", 3)
		require.NoError(t, err)
		assert.Len(t, events, 3)
	})

	t.Run("missing id", func(t *testing.T) {
		store := openTestStore(t)
		_, err := store.ListEventsByChange(ctx, "", 10)
		assert.EqualError(t, err, "change id is required")
	})

	t.Run("bad limit", func(t *testing.T) {
		store := openTestStore(t)
		_, err := store.ListEventsByChange(ctx, "chg_x", 0)
		assert.EqualError(t, err, "limit must be positive")
	})
}
